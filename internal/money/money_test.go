package money

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestOptionalUnmarshalCoercion(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantValid bool
		want      string
		wantErr   bool
	}{
		{name: "number", input: `123.45`, wantValid: true, want: "123.45"},
		{name: "numeric string", input: `"987654321.5"`, wantValid: true, want: "987654321.5"},
		{name: "exponent number", input: `1.5e3`, wantValid: true, want: "1500"},
		{name: "null", input: `null`, wantValid: false},
		{name: "empty string", input: `""`, wantValid: false},
		{name: "garbage string", input: `"abc"`, wantErr: true},
		{name: "boolean", input: `true`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var o Optional
			err := json.Unmarshal([]byte(tt.input), &o)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Expected error for %s", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if o.Valid() != tt.wantValid {
				t.Fatalf("Expected valid=%v, got %v", tt.wantValid, o.Valid())
			}
			if tt.wantValid && !o.OrZero().Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("Expected %s, got %s", tt.want, o.OrZero())
			}
		})
	}
}

func TestOptionalMarshal(t *testing.T) {
	payload := struct {
		MarketCap Optional `json:"market_cap"`
		Volume    Optional `json:"volume_24h"`
	}{
		MarketCap: Some(decimal.RequireFromString("1200000000.25")),
		Volume:    None(),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if got := string(data); got != `{"market_cap":1200000000.25,"volume_24h":null}` {
		t.Errorf("Unexpected JSON %s", got)
	}
}

func TestOptionalZeroDefaultPolicy(t *testing.T) {
	var absent Optional
	if absent.Valid() {
		t.Fatal("Zero value must be absent")
	}
	if !absent.OrZero().IsZero() {
		t.Errorf("Expected OrZero of absent to be 0, got %s", absent.OrZero())
	}

	fallback := Some(decimal.NewFromInt(7))
	if got := absent.Or(fallback); !got.Equal(fallback) {
		t.Errorf("Expected fallback, got %s", got)
	}
	if got := Some(decimal.Zero).Or(fallback); !got.Valid() || !got.OrZero().IsZero() {
		t.Errorf("Present zero must not be replaced by fallback, got %s", got)
	}
}

func TestOptionalNullRoundTrip(t *testing.T) {
	n := Some(decimal.NewFromFloat(0.5)).Null()
	if !n.Valid || !FromNull(n).OrZero().Equal(decimal.NewFromFloat(0.5)) {
		t.Errorf("Expected present value to survive NullDecimal conversion")
	}
	if FromNull(decimal.NullDecimal{}).Valid() {
		t.Errorf("Expected invalid NullDecimal to become None")
	}
}
