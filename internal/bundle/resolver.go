package bundle

import (
	"fmt"
	"strings"

	"bundle-sync-service/internal/models"
	"github.com/shopspring/decimal"
)

// VariantState is the computed price and inventory of one bundle variant
type VariantState struct {
	Selectors []string
	Price     decimal.Decimal
	Inventory models.Inventory
	Gaps      []int // dimensions no component variant could be resolved for
}

// State is the computed target of a bundle. An invalid state carries the reason in Err.
type State struct {
	Valid    bool
	Err      error
	Simple   bool
	Options  []models.Option
	Variants []VariantState
}

// DefaultState is the downgrade shape published for an invalid bundle: the Title option with a zero price
func DefaultState() State {
	return State{
		Valid:  true,
		Simple: true,
		Options: []models.Option{{
			Name:     models.DefaultOptionName,
			Position: 1,
			Values:   []string{models.DefaultOptionValue},
		}},
		Variants: []VariantState{{
			Selectors: []string{models.DefaultOptionValue},
			Price:     decimal.Zero,
			Inventory: models.Unbounded,
		}},
	}
}

// ComputeState builds the matrix for components and resolves every combination.
// Limit violations and an empty component list produce an invalid state, not an error.
func ComputeState(components []ResolvedComponent) State {
	m, err := BuildMatrix(components)
	if err != nil {
		return State{Err: err}
	}
	return Resolve(m)
}

// Resolve computes price and inventory for every combination of m
func Resolve(m *Matrix) State {
	simplePrice, simpleInventory := simpleContribution(m.Components, m.Simple)

	state := State{
		Valid:    true,
		Simple:   m.Simple,
		Options:  m.ModelOptions(),
		Variants: make([]VariantState, 0, len(m.Combinations)),
	}

	for _, combo := range m.Combinations {
		vs := VariantState{
			Selectors: combo,
			Price:     simplePrice,
			Inventory: simpleInventory,
		}

		if !m.Simple {
			ownership := m.ResolveOwnership(combo)
			price, inventory := resolvedContribution(ownership.Resolved)
			vs.Price = vs.Price.Add(price)
			vs.Inventory = vs.Inventory.Min(inventory)
			vs.Gaps = ownership.Unresolved
		}

		state.Variants = append(state.Variants, vs)
	}
	return state
}

// simpleContribution sums price x quantity over the simple components and takes the
// tightest floor(available / quantity) over the inventory-managed ones.
// When every component is simple the whole bundle reduces to this.
func simpleContribution(components []ResolvedComponent, all bool) (decimal.Decimal, models.Inventory) {
	price := decimal.Zero
	inventory := models.Unbounded
	for _, c := range components {
		if !all && !c.IsSimple() {
			continue
		}
		if len(c.Product.Variants) == 0 {
			continue
		}
		v := c.Product.Variants[0]
		price = price.Add(v.Price.Mul(c.Quantity))
		if v.InventoryManaged {
			inventory = inventory.Min(models.BoundedInventory(models.UnitsFor(v.Available, c.Quantity)))
		}
	}
	return price, inventory
}

// resolvedContribution sums the prices of the resolved variants. A variant consumed by
// several copies supports floor(available / demand) bundles.
func resolvedContribution(resolved []Resolution) (decimal.Decimal, models.Inventory) {
	price := decimal.Zero
	demand := make(map[string]int)
	variants := make(map[string]models.Variant)
	var order []string

	for _, r := range resolved {
		price = price.Add(r.Variant.Price)
		key := variantKey(r)
		if _, seen := demand[key]; !seen {
			order = append(order, key)
			variants[key] = r.Variant
		}
		demand[key]++
	}

	inventory := models.Unbounded
	for _, key := range order {
		v := variants[key]
		if !v.InventoryManaged {
			continue
		}
		units := models.UnitsFor(v.Available, decimal.NewFromInt(int64(demand[key])))
		inventory = inventory.Min(models.BoundedInventory(units))
	}
	return price, inventory
}

func variantKey(r Resolution) string {
	if r.Variant.ID != "" {
		return r.Variant.ID
	}
	return fmt.Sprintf("%d/%s", r.ComponentIndex, strings.Join(r.Variant.Selectors(), "/"))
}
