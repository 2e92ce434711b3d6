package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultCountryCode is used when a destination omits its country.
const DefaultCountryCode = "PL"

// ShippingDestination is the recipient block captured at guest checkout and
// copied onto shipments.
type ShippingDestination struct {
	FullName   string `json:"full_name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country,omitempty"`
	Company    string `json:"company,omitempty"`
	NIP        string `json:"nip,omitempty"`
}

// Missing lists the required fields that are blank.
func (d ShippingDestination) Missing() []string {
	required := []struct {
		name  string
		value string
	}{
		{"full_name", d.FullName},
		{"email", d.Email},
		{"phone", d.Phone},
		{"street", d.Street},
		{"city", d.City},
		{"postal_code", d.PostalCode},
	}
	var missing []string
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			missing = append(missing, field.name)
		}
	}
	return missing
}

// CountryCode returns the ISO country, defaulting to PL.
func (d ShippingDestination) CountryCode() string {
	if c := strings.TrimSpace(d.Country); c != "" {
		return strings.ToUpper(c)
	}
	return DefaultCountryCode
}

// SplitName separates the recipient into first name and surname. Single-word
// names get a placeholder surname, which carriers require.
func (d ShippingDestination) SplitName() (string, string) {
	parts := strings.Fields(d.FullName)
	switch len(parts) {
	case 0:
		return "", "---"
	case 1:
		return parts[0], "---"
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}

// Value serializes the destination to JSON.
func (d *ShippingDestination) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// Scan decodes a JSON column into the destination.
func (d *ShippingDestination) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*d = ShippingDestination{}
		return nil
	case string:
		return json.Unmarshal([]byte(v), d)
	case []byte:
		return json.Unmarshal(v, d)
	}
	return fmt.Errorf("shipping destination: unsupported scan type %T", value)
}
