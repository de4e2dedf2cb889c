package bundle

import (
	"sort"

	"bundle-sync-service/internal/models"
)

// Ownership stages, in order of precedence
const (
	StageFullMatch    = "full_match"
	StageSubsetMatch  = "subset_match"
	StagePerDimension = "per_dimension"
)

// Resolution binds some dimensions of a combination to one variant of one component
type Resolution struct {
	ComponentIndex int
	Variant        models.Variant
	Dimensions     []int // 0-based positions in the combination
	Stage          string
}

// Ownership is the outcome of resolving a combination to component variants
type Ownership struct {
	Resolved   []Resolution
	Unresolved []int
}

// ResolveOwnership determines which component variants a combination of option values consumes.
// Precedence: a component whose variant matches the whole combination; then, per component
// copy, a variant matching exactly the dimensions that copy owns; then, per dimension, the
// single-option variant of the owning component. Dimensions nothing matches are Unresolved.
func (m *Matrix) ResolveOwnership(combination []string) Ownership {
	if m.Simple {
		return Ownership{}
	}
	if len(combination) != len(m.Options) {
		return Ownership{Unresolved: allDimensions(len(m.Options))}
	}

	if res, ok := m.fullMatch(combination); ok {
		return Ownership{Resolved: []Resolution{res}}
	}

	var out Ownership
	for _, group := range m.copyGroups() {
		comp := m.Components[group.componentIndex]
		subset := make([]string, len(group.dims))
		for i, d := range group.dims {
			subset[i] = combination[d]
		}

		if v, ok := comp.Product.VariantBySelectors(subset); ok {
			out.Resolved = append(out.Resolved, Resolution{
				ComponentIndex: group.componentIndex,
				Variant:        *v,
				Dimensions:     group.dims,
				Stage:          StageSubsetMatch,
			})
			continue
		}

		for _, d := range group.dims {
			if v, ok := comp.Product.VariantBySelectors([]string{combination[d]}); ok {
				out.Resolved = append(out.Resolved, Resolution{
					ComponentIndex: group.componentIndex,
					Variant:        *v,
					Dimensions:     []int{d},
					Stage:          StagePerDimension,
				})
				continue
			}
			out.Unresolved = append(out.Unresolved, d)
		}
	}
	return out
}

func (m *Matrix) fullMatch(combination []string) (Resolution, bool) {
	owners := make(map[int]bool)
	for _, o := range m.Options {
		owners[o.ComponentIndex] = true
	}
	for ci, comp := range m.Components {
		if !owners[ci] {
			continue
		}
		if v, ok := comp.Product.VariantBySelectors(combination); ok {
			return Resolution{ComponentIndex: ci, Variant: *v, Dimensions: allDimensions(len(combination)), Stage: StageFullMatch}, true
		}
	}
	return Resolution{}, false
}

type copyGroup struct {
	componentIndex int
	copy           int
	dims           []int // ordered by the option's index inside the component
}

func (m *Matrix) copyGroups() []copyGroup {
	type key struct{ component, copy int }
	index := make(map[key]int)
	var groups []copyGroup
	for d, o := range m.Options {
		k := key{o.ComponentIndex, o.Copy}
		gi, ok := index[k]
		if !ok {
			gi = len(groups)
			index[k] = gi
			groups = append(groups, copyGroup{componentIndex: o.ComponentIndex, copy: o.Copy})
		}
		groups[gi].dims = append(groups[gi].dims, d)
	}
	for _, g := range groups {
		dims := g.dims
		sort.SliceStable(dims, func(i, j int) bool {
			return m.Options[dims[i]].SourceIndex < m.Options[dims[j]].SourceIndex
		})
	}
	return groups
}

func allDimensions(n int) []int {
	dims := make([]int, n)
	for i := range dims {
		dims[i] = i
	}
	return dims
}
