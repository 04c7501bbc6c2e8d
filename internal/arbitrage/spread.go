package arbitrage

import (
	"fmt"
	"math"
	"strings"

	"github.com/alanyoungcy/deepsentinel/internal/domain"
)

// profitPerSpreadPoint converts a spread percentage into the estimated
// profit in the venue's profit token.
const profitPerSpreadPoint = 10.0

// Spread returns |b-a|/a*100 with a as the reference price.
func Spread(a, b float64) (float64, error) {
	if !validPrice(a) || !validPrice(b) {
		if a == 0 {
			return 0, domain.ErrZeroPrice
		}
		return 0, fmt.Errorf("%w: %v / %v", domain.ErrInvalidPrice, a, b)
	}
	return math.Abs(b-a) / a * 100, nil
}

// EstimateProfit derives the estimated profit for a spread.
func EstimateProfit(spreadPct float64) float64 {
	return spreadPct * profitPerSpreadPoint
}

func validPrice(p float64) bool {
	return p > 0 && !math.IsInf(p, 0) && !math.IsNaN(p)
}

// FamilyFunc extracts the tradable family of an instrument. Two quotes are
// only compared when their families are equal and non-empty.
type FamilyFunc func(name string) string

// BaseAsset treats the part of "BASE/QUOTE" before the slash as the family.
// Names without a slash are their own family.
func BaseAsset(name string) string {
	base, _, _ := strings.Cut(strings.TrimSpace(name), "/")
	return strings.ToUpper(strings.TrimSpace(base))
}
