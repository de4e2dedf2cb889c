package models

import (
	"github.com/shopspring/decimal"
)

// Default option shape the storefront gives products without real options
const (
	DefaultOptionName  = "Title"
	DefaultOptionValue = "Default Title"
)

// Product is a catalog product with its options and variants
type Product struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	ProductType string    `json:"productType"`
	Options     []Option  `json:"options"`
	Variants    []Variant `json:"variants"`
}

// Option is a purchasable dimension of a product
type Option struct {
	Name     string   `json:"name"`
	Position int      `json:"position"`
	Values   []string `json:"values"`
}

// Variant is a concrete selectable combination of option values.
// Unused selectors are empty strings.
type Variant struct {
	ID               string          `json:"id"`
	InventoryItemID  string          `json:"inventoryItemId,omitempty"`
	Option1          string          `json:"option1"`
	Option2          string          `json:"option2,omitempty"`
	Option3          string          `json:"option3,omitempty"`
	Price            decimal.Decimal `json:"price"`
	InventoryManaged bool            `json:"inventoryManaged"`
	Available        int             `json:"available"`
}

// Selectors returns the variant's option values in position order, stopping at the first unused slot
func (v Variant) Selectors() []string {
	selectors := make([]string, 0, 3)
	for _, s := range []string{v.Option1, v.Option2, v.Option3} {
		if s == "" {
			break
		}
		selectors = append(selectors, s)
	}
	return selectors
}

// SetSelectors assigns option1..option3 from values, clearing unused slots
func (v *Variant) SetSelectors(values []string) {
	slots := [3]string{}
	copy(slots[:], values)
	v.Option1, v.Option2, v.Option3 = slots[0], slots[1], slots[2]
}

// IsSimpleProduct reports whether p has exactly one variant and only the default Title option
func IsSimpleProduct(p *Product) bool {
	if p == nil || len(p.Variants) != 1 {
		return false
	}
	if len(p.Options) == 0 {
		return true
	}
	if len(p.Options) != 1 {
		return false
	}
	opt := p.Options[0]
	return opt.Name == DefaultOptionName && len(opt.Values) == 1 && opt.Values[0] == DefaultOptionValue
}

// VariantByID finds a variant of p by id
func (p *Product) VariantByID(id string) (*Variant, bool) {
	for i := range p.Variants {
		if p.Variants[i].ID == id {
			return &p.Variants[i], true
		}
	}
	return nil, false
}

// VariantBySelectors finds the variant whose selectors equal values
func (p *Product) VariantBySelectors(values []string) (*Variant, bool) {
	for i := range p.Variants {
		if equalStrings(p.Variants[i].Selectors(), values) {
			return &p.Variants[i], true
		}
	}
	return nil, false
}

// CustomField is a product metafield
type CustomField struct {
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Value     string `json:"value"`
	Type      string `json:"type,omitempty"`
}

// LineItem is one purchased (product, variant, quantity) triple of an order
type LineItem struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId"`
	Quantity  int    `json:"quantity"`
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
