package bundle

import (
	"fmt"
	"testing"

	"bundle-sync-service/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMatrix_AllSimple(t *testing.T) {
	m, err := BuildMatrix([]ResolvedComponent{
		{Product: simpleProduct("1", "3.00", 10, false), Quantity: qty("2")},
		{Product: simpleProduct("2", "5.00", 4, true), Quantity: qty("1")},
	})
	require.NoError(t, err)

	assert.True(t, m.Simple)
	require.Len(t, m.Options, 1)
	assert.Equal(t, models.DefaultOptionName, m.Options[0].Name)
	assert.Equal(t, [][]string{{models.DefaultOptionValue}}, m.Combinations)
}

func TestBuildMatrix_TwoComponentsSameOptionName(t *testing.T) {
	colors := []string{"Red", "Blue"}
	m, err := BuildMatrix([]ResolvedComponent{
		{Product: optionProduct("1", "Color", colors, "2.00", 5), Quantity: qty("1")},
		{Product: optionProduct("2", "Color", colors, "3.00", 5), Quantity: qty("1")},
	})
	require.NoError(t, err)

	require.Len(t, m.Options, 2, "two components never collapse into one option")
	assert.Equal(t, "Color", m.Options[0].Name)
	assert.Equal(t, "Color 2", m.Options[1].Name)
	assert.Equal(t, 1, m.Options[0].Position)
	assert.Equal(t, 2, m.Options[1].Position)
	assert.Equal(t, [][]string{
		{"Red", "Red"}, {"Red", "Blue"}, {"Blue", "Red"}, {"Blue", "Blue"},
	}, m.Combinations)
}

func TestBuildMatrix_ReplicatesByQuantity(t *testing.T) {
	m, err := BuildMatrix([]ResolvedComponent{
		{Product: optionProduct("1", "Numero", []string{"0", "1", "2"}, "4.00", 9), Quantity: qty("2")},
		{Product: simpleProduct("2", "1.00", 0, false), Quantity: qty("3")},
	})
	require.NoError(t, err)

	require.Len(t, m.Options, 2)
	assert.Equal(t, "Numero", m.Options[0].Name)
	assert.Equal(t, "Numero 2", m.Options[1].Name)
	assert.Equal(t, 0, m.Options[0].Copy)
	assert.Equal(t, 1, m.Options[1].Copy)
	assert.Len(t, m.Combinations, 9)
}

func TestBuildMatrix_TooManyOptions(t *testing.T) {
	colors := []string{"Red", "Blue"}
	_, err := BuildMatrix([]ResolvedComponent{
		{Product: optionProduct("1", "Color", colors, "1.00", 1), Quantity: qty("2")},
		{Product: optionProduct("2", "Size", []string{"S", "M"}, "1.00", 1), Quantity: qty("2")},
	})
	assert.ErrorIs(t, err, ErrTooManyOptions)
}

func TestBuildMatrix_TooManyVariants(t *testing.T) {
	values := make([]string, 11)
	for i := range values {
		values[i] = fmt.Sprintf("v%d", i)
	}
	_, err := BuildMatrix([]ResolvedComponent{
		{Product: optionProduct("1", "A", values, "1.00", 1), Quantity: qty("1")},
		{Product: optionProduct("2", "B", values, "1.00", 1), Quantity: qty("1")},
	})
	assert.ErrorIs(t, err, ErrTooManyVariants, "11 x 11 exceeds the ceiling")

	ten := values[:10]
	m, err := BuildMatrix([]ResolvedComponent{
		{Product: optionProduct("1", "A", ten, "1.00", 1), Quantity: qty("1")},
		{Product: optionProduct("2", "B", ten, "1.00", 1), Quantity: qty("1")},
	})
	require.NoError(t, err)
	assert.Len(t, m.Combinations, 100, "exactly at the ceiling is allowed")
}

func TestBuildMatrix_NoComponents(t *testing.T) {
	_, err := BuildMatrix(nil)
	assert.ErrorIs(t, err, ErrNoLiveComponents)
}

func TestBuildMatrix_GridComponent(t *testing.T) {
	grid := gridProduct("1",
		models.Option{Name: "Color", Position: 1, Values: []string{"Red", "Blue"}},
		models.Option{Name: "Size", Position: 2, Values: []string{"S", "L"}},
		"10.00", 3)
	m, err := BuildMatrix([]ResolvedComponent{{Product: grid, Quantity: qty("1")}})
	require.NoError(t, err)

	require.Len(t, m.Options, 2)
	assert.Equal(t, 1, m.Options[1].SourceIndex)
	assert.Len(t, m.Combinations, 4)
}

func TestReplicaCount(t *testing.T) {
	assert.Equal(t, 1, ReplicaCount(qty("1")))
	assert.Equal(t, 2, ReplicaCount(qty("2")))
	assert.Equal(t, 2, ReplicaCount(qty("2.5")))
	assert.Equal(t, 1, ReplicaCount(qty("0.5")))
}
