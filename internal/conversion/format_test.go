package conversion

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestFormatPrecisionRules(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		ticker   string
		isCrypto bool
		want     string
	}{
		{name: "fiat two decimals", value: "1.23456", ticker: "EUR", isCrypto: false, want: "1.23"},
		{name: "stablecoin two decimals", value: "1.0", ticker: "USDT", isCrypto: true, want: "1.00"},
		{name: "stablecoin rounds", value: "0.99985", ticker: "USDC", isCrypto: true, want: "1.00"},
		{name: "crypto eight decimals", value: "61234.5", ticker: "BTC", isCrypto: true, want: "61234.50000000"},
		{name: "crypto small but above threshold", value: "0.00002", ticker: "SHIB", isCrypto: true, want: "0.00002000"},
		{name: "zero crypto", value: "0", ticker: "BTC", isCrypto: true, want: "0.00"},
		{name: "zero fiat", value: "0", ticker: "USD", isCrypto: false, want: "0.00"},
		{name: "scientific quirk", value: "0.0000034", ticker: "PEPE", isCrypto: true, want: "0.0000003400"},
		{name: "scientific four significant digits", value: "0.000000123456", ticker: "XYZ", isCrypto: true, want: "0.00000001235"},
		{name: "scientific applies to fiat denominated values", value: "0.000009", ticker: "USD", isCrypto: false, want: "0.0000009000"},
		{name: "scientific rounding carries into exponent", value: "0.0000099999", ticker: "XYZ", isCrypto: true, want: "0.000001000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Format(decimal.RequireFromString(tt.value), tt.ticker, tt.isCrypto)
			if got != tt.want {
				t.Errorf("Format(%s, %s) = %q, want %q", tt.value, tt.ticker, got, tt.want)
			}
		})
	}
}

func TestPrecisionForScientific(t *testing.T) {
	p := PrecisionFor(decimal.RequireFromString("0.0000034"), "PEPE", true)
	if !p.Scientific {
		t.Fatal("Expected scientific precision below 1e-5")
	}
	// exponent -6 → abs(-6) - 1
	if p.Decimals != 5 {
		t.Errorf("Expected zero count 5, got %d", p.Decimals)
	}

	if p := PrecisionFor(decimal.RequireFromString("0.00001"), "PEPE", true); p.Scientific {
		t.Errorf("Expected 1e-5 itself to use fixed precision, got %+v", p)
	}
}

func TestFormatUSD(t *testing.T) {
	tests := []struct {
		value string
		want  string
	}{
		{"0", "$0.00"},
		{"1.0", "$1.00"},
		{"-2.5", "-$2.50"},
	}

	for _, tt := range tests {
		if got := FormatUSD(decimal.RequireFromString(tt.value), "USDT", true); got != tt.want {
			t.Errorf("FormatUSD(%s) = %q, want %q", tt.value, got, tt.want)
		}
	}
}
