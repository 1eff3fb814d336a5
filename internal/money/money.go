// Package money holds the typed optional decimal used for market fields that
// providers may omit, send as strings, or send as numbers.
//
// The zero-default policy lives here and only here: an absent value is None,
// and callers that need a number call OrZero explicitly.
package money

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Optional is a decimal that may be absent.
type Optional struct {
	value decimal.Decimal
	valid bool
}

// Some wraps a present value.
func Some(d decimal.Decimal) Optional {
	return Optional{value: d, valid: true}
}

// None returns an absent value.
func None() Optional {
	return Optional{}
}

// FromNull converts a nullable database decimal.
func FromNull(n decimal.NullDecimal) Optional {
	if !n.Valid {
		return None()
	}
	return Some(n.Decimal)
}

// Parse reads a numeric string. An empty string is None.
func Parse(s string) (Optional, error) {
	if s == "" {
		return None(), nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return None(), fmt.Errorf("money: invalid decimal %q: %w", s, err)
	}
	return Some(d), nil
}

// Valid reports whether a value is present.
func (o Optional) Valid() bool { return o.valid }

// Get returns the value and whether it is present.
func (o Optional) Get() (decimal.Decimal, bool) { return o.value, o.valid }

// OrZero returns the value, or zero when absent.
func (o Optional) OrZero() decimal.Decimal {
	if !o.valid {
		return decimal.Zero
	}
	return o.value
}

// Or returns the value, or def when absent.
func (o Optional) Or(def Optional) Optional {
	if o.valid {
		return o
	}
	return def
}

// Null converts to a nullable database decimal.
func (o Optional) Null() decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: o.value, Valid: o.valid}
}

// Equal compares presence and numeric value.
func (o Optional) Equal(other Optional) bool {
	if o.valid != other.valid {
		return false
	}
	return !o.valid || o.value.Equal(other.value)
}

func (o Optional) String() string {
	if !o.valid {
		return "n/a"
	}
	return o.value.String()
}

// MarshalJSON writes a JSON number, or null when absent.
func (o Optional) MarshalJSON() ([]byte, error) {
	if !o.valid {
		return []byte("null"), nil
	}
	return []byte(o.value.String()), nil
}

// UnmarshalJSON accepts null, a JSON number, or a numeric string.
func (o *Optional) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*o = None()
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("money: %w", err)
		}
		parsed, err := Parse(s)
		if err != nil {
			return err
		}
		*o = parsed
		return nil
	}

	d, err := decimal.NewFromString(string(data))
	if err != nil {
		return fmt.Errorf("money: invalid number %s: %w", data, err)
	}
	*o = Some(d)
	return nil
}
