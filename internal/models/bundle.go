package models

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// ProductKind classifies a loaded product. It is computed once per load.
type ProductKind int

const (
	KindNormal ProductKind = iota
	KindSimple
	KindComposite
)

func (k ProductKind) String() string {
	switch k {
	case KindSimple:
		return "simple"
	case KindComposite:
		return "composite"
	default:
		return "normal"
	}
}

// Component is one (product, quantity) entry of a bundle definition
type Component struct {
	ProductID string          `json:"productId"`
	Quantity  decimal.Decimal `json:"quantity"`
}

// BundleDefinition is the ordered component list declared on a bundle product
type BundleDefinition struct {
	Components []Component `json:"components"`
}

// IsEmpty reports whether the definition declares no components
func (d BundleDefinition) IsEmpty() bool {
	return len(d.Components) == 0
}

// ComponentIDs returns the component product ids in declaration order
func (d BundleDefinition) ComponentIDs() []string {
	ids := make([]string, len(d.Components))
	for i, c := range d.Components {
		ids[i] = c.ProductID
	}
	return ids
}

// Quantities returns the component quantities in declaration order
func (d BundleDefinition) Quantities() []decimal.Decimal {
	qs := make([]decimal.Decimal, len(d.Components))
	for i, c := range d.Components {
		qs[i] = c.Quantity
	}
	return qs
}

// Classify computes the kind of p given its decoded definition
func Classify(p *Product, def BundleDefinition) ProductKind {
	switch {
	case !def.IsEmpty():
		return KindComposite
	case IsSimpleProduct(p):
		return KindSimple
	default:
		return KindNormal
	}
}

// LoadedProduct is a product together with its definition and kind
type LoadedProduct struct {
	Product    *Product
	Kind       ProductKind
	Definition BundleDefinition
}

// IsBundle reports whether the product declares components
func (lp *LoadedProduct) IsBundle() bool {
	return lp != nil && lp.Kind == KindComposite
}

// IsSimple reports whether the product has the simple default shape, bundle or not
func (lp *LoadedProduct) IsSimple() bool {
	return lp != nil && IsSimpleProduct(lp.Product)
}

// Inventory is an available quantity, or Unbounded when nothing constrains it
type Inventory struct {
	Quantity int
	Bounded  bool
}

// Unbounded is the inventory of a bundle with no inventory-managed component
var Unbounded = Inventory{}

// BoundedInventory returns an inventory of q units, never negative
func BoundedInventory(q int) Inventory {
	if q < 0 {
		q = 0
	}
	return Inventory{Quantity: q, Bounded: true}
}

// Min returns the tighter of two inventories
func (i Inventory) Min(other Inventory) Inventory {
	switch {
	case !i.Bounded:
		return other
	case !other.Bounded:
		return i
	case other.Quantity < i.Quantity:
		return other
	default:
		return i
	}
}

func (i Inventory) String() string {
	if !i.Bounded {
		return "unbounded"
	}
	return fmt.Sprintf("%d", i.Quantity)
}

// UnitsFor returns how many whole units of a consumer requiring quantity each can be built from available
func UnitsFor(available int, quantity decimal.Decimal) int {
	if available <= 0 || !quantity.IsPositive() {
		return 0
	}
	units := decimal.NewFromInt(int64(available)).Div(quantity).Floor()
	if units.GreaterThan(decimal.NewFromInt(math.MaxInt32)) {
		return math.MaxInt32
	}
	return int(units.IntPart())
}
