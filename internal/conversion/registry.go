package conversion

import (
	"fmt"
	"strings"

	"github.com/DroomDroom-Org/DroomdroomConverter/internal/asset"
)

// stablecoins are dollar-pegged tokens displayed with fiat precision
var stablecoins = map[string]bool{
	"USDT": true,
	"USDC": true,
	"DAI":  true,
	"BUSD": true,
	"TUSD": true,
	"USDP": true,
}

// IsStablecoin reports whether ticker is on the stablecoin allow-list
func IsStablecoin(ticker string) bool {
	return stablecoins[asset.NormalizeTicker(ticker)]
}

// ParsePair splits a pair such as "BTC-EUR" or "eth/usdt" into normalized tickers.
func ParsePair(pair string) (from, to string, err error) {
	parts := strings.FieldsFunc(pair, func(r rune) bool {
		return r == '-' || r == '/' || r == '_'
	})
	if len(parts) != 2 {
		return "", "", fmt.Errorf("%w: invalid pair format %q (expected FROM-TO like BTC-USD)", asset.ErrInvalidInput, pair)
	}

	from, to = asset.NormalizeTicker(parts[0]), asset.NormalizeTicker(parts[1])
	if from == "" || to == "" {
		return "", "", fmt.Errorf("%w: invalid pair format %q", asset.ErrInvalidInput, pair)
	}
	if from == to {
		return "", "", fmt.Errorf("%w: from and to must differ: %s", asset.ErrInvalidInput, pair)
	}
	return from, to, nil
}
