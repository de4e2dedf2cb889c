package bundle

import (
	"fmt"

	"bundle-sync-service/internal/models"
	"github.com/shopspring/decimal"
)

func simpleProduct(id, price string, available int, managed bool) *models.Product {
	return &models.Product{
		ID:      id,
		Title:   "Simple " + id,
		Options: []models.Option{{Name: models.DefaultOptionName, Position: 1, Values: []string{models.DefaultOptionValue}}},
		Variants: []models.Variant{{
			ID:               id + "-v",
			Option1:          models.DefaultOptionValue,
			Price:            decimal.RequireFromString(price),
			InventoryManaged: managed,
			Available:        available,
		}},
	}
}

// optionProduct builds a single-option product with one managed variant per value
func optionProduct(id, option string, values []string, price string, available int) *models.Product {
	p := &models.Product{
		ID:      id,
		Title:   "Product " + id,
		Options: []models.Option{{Name: option, Position: 1, Values: values}},
	}
	for i, v := range values {
		p.Variants = append(p.Variants, models.Variant{
			ID:               fmt.Sprintf("%s-%d", id, i),
			Option1:          v,
			Price:            decimal.RequireFromString(price),
			InventoryManaged: true,
			Available:        available,
		})
	}
	return p
}

// gridProduct builds a two-option product with every combination present
func gridProduct(id string, first, second models.Option, price string, available int) *models.Product {
	p := &models.Product{ID: id, Title: "Grid " + id, Options: []models.Option{first, second}}
	n := 0
	for _, a := range first.Values {
		for _, b := range second.Values {
			p.Variants = append(p.Variants, models.Variant{
				ID:               fmt.Sprintf("%s-%d", id, n),
				Option1:          a,
				Option2:          b,
				Price:            decimal.RequireFromString(price),
				InventoryManaged: true,
				Available:        available,
			})
			n++
		}
	}
	return p
}

func qty(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
