package conversion

import (
	"strings"

	"github.com/shopspring/decimal"
)

const (
	fiatDecimals   = 2
	cryptoDecimals = 8

	significantDigits = 4
)

// scientificThreshold is the magnitude below which values use the compact zero-run form
var scientificThreshold = decimal.New(1, -5)

// Precision is the display rule chosen for a value.
// When Scientific is set, Decimals holds the exponent-derived zero count.
type Precision struct {
	Decimals   int  `json:"decimals"`
	Scientific bool `json:"scientific"`
}

// PrecisionFor picks the display rule for value in units of ticker
func PrecisionFor(value decimal.Decimal, ticker string, isCrypto bool) Precision {
	switch {
	case value.IsZero():
		return Precision{Decimals: fiatDecimals}
	case value.Abs().LessThan(scientificThreshold):
		exp, _ := normalize(value.Abs())
		return Precision{Decimals: zeroRun(exp), Scientific: true}
	case !isCrypto || IsStablecoin(ticker):
		return Precision{Decimals: fiatDecimals}
	default:
		return Precision{Decimals: cryptoDecimals}
	}
}

// Format renders value according to p. Zero is always "0.00".
func (p Precision) Format(value decimal.Decimal) string {
	if value.IsZero() {
		return "0.00"
	}
	if !p.Scientific {
		return value.StringFixed(int32(p.Decimals))
	}

	sign := ""
	if value.IsNegative() {
		sign = "-"
	}
	exp, digits := normalize(value.Abs())

	// Display contract: "0.0", then abs(exponent)-1 zeros, then the leading
	// significant digits. Existing pages show values in this form.
	return sign + "0.0" + strings.Repeat("0", zeroRun(exp)) + digits
}

// Format renders value in units of ticker
func Format(value decimal.Decimal, ticker string, isCrypto bool) string {
	return PrecisionFor(value, ticker, isCrypto).Format(value)
}

// FormatUSD renders a USD price with a dollar sign, e.g. "$0.00" for zero
func FormatUSD(value decimal.Decimal, ticker string, isCrypto bool) string {
	s := Format(value, ticker, isCrypto)
	if strings.HasPrefix(s, "-") {
		return "-$" + s[1:]
	}
	return "$" + s
}

func zeroRun(exponent int) int {
	n := exponent
	if n < 0 {
		n = -n
	}
	return max(n-1, 0)
}

// normalize returns the base-10 exponent of a positive v in normalized
// scientific form and its first significantDigits digits, rounded.
func normalize(v decimal.Decimal) (int, string) {
	coefficient := v.Coefficient().String()
	exp := int(v.Exponent()) + len(coefficient) - 1

	mantissa := v.Shift(int32(-exp)).Round(significantDigits - 1)
	if mantissa.GreaterThanOrEqual(decimal.NewFromInt(10)) {
		exp++
		mantissa = v.Shift(int32(-exp)).Round(significantDigits - 1)
	}

	digits := strings.Replace(mantissa.StringFixed(significantDigits-1), ".", "", 1)
	return exp, digits
}
