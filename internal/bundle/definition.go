// Package bundle holds the pure bundle algorithms: reading a definition out of
// custom fields, expanding components into an option/variant matrix, and
// resolving price and inventory for every combination. Nothing here performs IO.
package bundle

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"bundle-sync-service/internal/models"
	"github.com/shopspring/decimal"
)

// DefinitionKeys names the custom fields holding a bundle definition
type DefinitionKeys struct {
	Namespace  string // empty matches any namespace
	Components string
	Quantities string
}

// DefaultDefinitionKeys returns the field names used by the storefront
func DefaultDefinitionKeys() DefinitionKeys {
	return DefinitionKeys{
		Namespace:  "custom",
		Components: "productos",
		Quantities: "cantidades",
	}
}

// ReadDefinition decodes the bundle definition stored in fields.
// A missing component field yields an empty definition and no error. A component
// field that cannot be decoded yields an empty definition together with the decode
// error, so callers can log it and carry on treating the product as normal.
// Quantities that are absent, undecodable, non-positive or of the wrong length
// default to 1 for every component.
func ReadDefinition(fields []models.CustomField, keys DefinitionKeys) (models.BundleDefinition, error) {
	componentsRaw, ok := lookupField(fields, keys.Namespace, keys.Components)
	if !ok || strings.TrimSpace(componentsRaw) == "" {
		return models.BundleDefinition{}, nil
	}

	ids, err := decodeComponentRefs(componentsRaw)
	if err != nil {
		return models.BundleDefinition{}, fmt.Errorf("field %s: %w", keys.Components, err)
	}
	if len(ids) == 0 {
		return models.BundleDefinition{}, nil
	}

	quantities := defaultQuantities(len(ids))
	if quantitiesRaw, ok := lookupField(fields, keys.Namespace, keys.Quantities); ok {
		if qs, ok := decodeQuantities(quantitiesRaw, len(ids)); ok {
			quantities = qs
		}
	}

	def := models.BundleDefinition{Components: make([]models.Component, len(ids))}
	for i, id := range ids {
		def.Components[i] = models.Component{ProductID: id, Quantity: quantities[i]}
	}
	return def, nil
}

// ExtractID strips every non-digit from a component reference,
// turning "gid://shopify/Product/123" into "123"
func ExtractID(ref string) string {
	var b strings.Builder
	for _, r := range ref {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func lookupField(fields []models.CustomField, namespace, key string) (string, bool) {
	for _, f := range fields {
		if f.Key == key && (namespace == "" || f.Namespace == namespace) {
			return f.Value, true
		}
	}
	return "", false
}

func decodeComponentRefs(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)

	// A single product reference is stored unwrapped
	if !strings.HasPrefix(raw, "[") {
		id := ExtractID(raw)
		if id == "" {
			return nil, fmt.Errorf("component reference %q has no id", raw)
		}
		return []string{id}, nil
	}

	var refs []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &refs); err != nil {
		return nil, fmt.Errorf("decode component list: %w", err)
	}

	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		var text string
		if err := json.Unmarshal(ref, &text); err != nil {
			var num json.Number
			if err := json.Unmarshal(ref, &num); err != nil {
				return nil, fmt.Errorf("component reference %s is neither string nor number", string(ref))
			}
			text = num.String()
		}
		id := ExtractID(text)
		if id == "" {
			return nil, fmt.Errorf("component reference %q has no id", text)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func decodeQuantities(raw string, n int) ([]decimal.Decimal, bool) {
	var qs []decimal.Decimal
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &qs); err != nil {
		return nil, false
	}
	if len(qs) != n {
		return nil, false
	}
	for _, q := range qs {
		if !q.IsPositive() {
			return nil, false
		}
	}
	return qs, true
}

func defaultQuantities(n int) []decimal.Decimal {
	qs := make([]decimal.Decimal, n)
	for i := range qs {
		qs[i] = decimal.NewFromInt(1)
	}
	return qs
}
