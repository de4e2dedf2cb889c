package bundle

import (
	"errors"
	"fmt"

	"bundle-sync-service/internal/models"
	"github.com/shopspring/decimal"
)

// Platform ceilings for a single product
const (
	MaxOptions  = 3
	MaxVariants = 100
)

var (
	ErrTooManyOptions   = errors.New("bundle exceeds the option limit")
	ErrTooManyVariants  = errors.New("bundle exceeds the variant limit")
	ErrNoLiveComponents = errors.New("bundle references no live component")
)

// ResolvedComponent is a loaded component product with its quantity in the bundle
type ResolvedComponent struct {
	Product  *models.Product
	Quantity decimal.Decimal
}

// IsSimple reports whether the component only contributes to price and inventory
func (c ResolvedComponent) IsSimple() bool {
	return models.IsSimpleProduct(c.Product)
}

// MatrixOption is a bundle option annotated with the component copy it came from
type MatrixOption struct {
	Name     string
	Position int
	Values   []string

	ComponentIndex int    // index into Matrix.Components
	ComponentTitle string // title of the owning component
	Copy           int    // replica of the component, 0-based
	SourceIndex    int    // option index within the component, 0-based
}

// Matrix is the expanded option/variant space of a bundle
type Matrix struct {
	Components   []ResolvedComponent
	Options      []MatrixOption
	Combinations [][]string
	Simple       bool
}

// ReplicaCount is how many times a non-simple component's options are repeated
func ReplicaCount(quantity decimal.Decimal) int {
	n := int(quantity.Floor().IntPart())
	if n < 1 {
		return 1
	}
	return n
}

// BuildMatrix expands the components of a bundle into its options and variant combinations.
// Limit violations return ErrTooManyOptions or ErrTooManyVariants as soon as they are detected.
func BuildMatrix(components []ResolvedComponent) (*Matrix, error) {
	if len(components) == 0 {
		return nil, ErrNoLiveComponents
	}

	m := &Matrix{Components: components, Simple: true}
	for _, c := range components {
		if !c.IsSimple() {
			m.Simple = false
			break
		}
	}
	if m.Simple {
		m.Options = []MatrixOption{{
			Name:     models.DefaultOptionName,
			Position: 1,
			Values:   []string{models.DefaultOptionValue},
		}}
		m.Combinations = [][]string{{models.DefaultOptionValue}}
		return m, nil
	}

	variantCount := 1
	combinationCount := 1
	for ci, c := range components {
		if c.IsSimple() || len(c.Product.Options) == 0 {
			continue
		}
		for copyIdx := 0; copyIdx < ReplicaCount(c.Quantity); copyIdx++ {
			if len(m.Options)+len(c.Product.Options) > MaxOptions {
				return nil, fmt.Errorf("%w: component %s adds %d options to %d",
					ErrTooManyOptions, c.Product.ID, len(c.Product.Options), len(m.Options))
			}
			variantCount *= len(c.Product.Variants)
			if variantCount > MaxVariants {
				return nil, fmt.Errorf("%w: %d combinations after component %s", ErrTooManyVariants, variantCount, c.Product.ID)
			}
			for si, opt := range c.Product.Options {
				combinationCount *= len(opt.Values)
				if combinationCount > MaxVariants {
					return nil, fmt.Errorf("%w: %d combinations after option %q", ErrTooManyVariants, combinationCount, opt.Name)
				}
				m.Options = append(m.Options, MatrixOption{
					Name:           opt.Name,
					Values:         append([]string(nil), opt.Values...),
					ComponentIndex: ci,
					ComponentTitle: c.Product.Title,
					Copy:           copyIdx,
					SourceIndex:    si,
				})
			}
		}
	}

	if len(m.Options) == 0 {
		return nil, fmt.Errorf("%w: no component exposes options", ErrNoLiveComponents)
	}

	disambiguate(m.Options)
	m.Combinations = cartesian(m.Options)
	return m, nil
}

// ModelOptions returns the matrix options in catalog form
func (m *Matrix) ModelOptions() []models.Option {
	out := make([]models.Option, len(m.Options))
	for i, o := range m.Options {
		out[i] = models.Option{Name: o.Name, Position: o.Position, Values: append([]string(nil), o.Values...)}
	}
	return out
}

// disambiguate renames colliding option names with an incrementing suffix and assigns 1-based positions
func disambiguate(options []MatrixOption) {
	taken := make(map[string]bool, len(options))
	counts := make(map[string]int, len(options))
	for i := range options {
		base := options[i].Name
		name := base
		for taken[name] {
			counts[base]++
			name = fmt.Sprintf("%s %d", base, counts[base]+1)
		}
		taken[name] = true
		options[i].Name = name
		options[i].Position = i + 1
	}
}

func cartesian(options []MatrixOption) [][]string {
	combos := [][]string{{}}
	for _, opt := range options {
		next := make([][]string, 0, len(combos)*len(opt.Values))
		for _, prefix := range combos {
			for _, v := range opt.Values {
				combo := make([]string, len(prefix)+1)
				copy(combo, prefix)
				combo[len(prefix)] = v
				next = append(next, combo)
			}
		}
		combos = next
	}
	return combos
}
