package pricing

import "github.com/shopspring/decimal"

// Threshold defines what counts as a negligible price change.
type Threshold struct {
	MinEUR     decimal.Decimal
	MinPercent decimal.Decimal
}

// Drop is a member whose price fell by more than the threshold.
type Drop struct {
	PartRequestID    uint
	PreviousPriceEUR decimal.Decimal
	NewPriceEUR      decimal.Decimal
	DropEUR          decimal.Decimal
	DropPercent      decimal.Decimal
}

// Drops compares previous prices with a recalculation. A member missing from
// previous is compared against its standalone price.
func Drops(previous map[uint]decimal.Decimal, rec Recalculation, th Threshold) []Drop {
	var out []Drop
	for _, res := range rec.Results {
		before, ok := previous[res.PartRequestID]
		if !ok {
			before = res.StandalonePriceEUR
		}
		eur, pct := Reduction(before, res.CombinedPriceEUR)
		if !eur.GreaterThan(th.MinEUR) || !pct.GreaterThan(th.MinPercent) {
			continue
		}
		out = append(out, Drop{
			PartRequestID:    res.PartRequestID,
			PreviousPriceEUR: before,
			NewPriceEUR:      res.CombinedPriceEUR,
			DropEUR:          eur,
			DropPercent:      pct,
		})
	}
	return out
}
