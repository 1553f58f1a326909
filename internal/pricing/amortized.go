package pricing

import "github.com/shopspring/decimal"

// Rate is the run-level overhead of one machine/material group that every
// standalone estimate already contains in full.
type Rate struct {
	// PlatformSetupEUR covers platform preparation, powder handling and the
	// shared post-processing of the build plate.
	PlatformSetupEUR decimal.Decimal
	// SharedTimeH is the machine time spent once per build regardless of
	// how many parts are on the platform.
	SharedTimeH decimal.Decimal
}

// RateTable maps designation keys to rates. Default applies to unknown keys.
type RateTable struct {
	Rates   map[string]Rate
	Default Rate
}

// Lookup returns the rate for key.
func (t RateTable) Lookup(key string) Rate {
	if r, ok := t.Rates[key]; ok {
		return r
	}
	return t.Default
}

// AmortizedCalculator spreads the run overhead over the members by area
// share. Alone on a platform a part pays its full standalone price; with
// others it keeps its intrinsic cost and pays only its share of the setup.
type AmortizedCalculator struct {
	Table RateTable
}

// NewAmortizedCalculator creates a calculator over the given rate table.
func NewAmortizedCalculator(table RateTable) *AmortizedCalculator {
	return &AmortizedCalculator{Table: table}
}

// Combine implements Calculator.
func (a *AmortizedCalculator) Combine(key string, members []Member) ([]Combined, error) {
	rate := a.Table.Lookup(key)

	totalArea := decimal.Zero
	for _, m := range members {
		totalArea = totalArea.Add(m.AreaCM2)
	}
	n := decimal.NewFromInt(int64(len(members)))

	out := make([]Combined, 0, len(members))
	for _, m := range members {
		share := decimal.NewFromInt(1).Div(n)
		if totalArea.IsPositive() {
			share = m.AreaCM2.Div(totalArea)
		}

		overhead := decimal.Min(rate.PlatformSetupEUR, m.StandalonePriceEUR)
		price := m.StandalonePriceEUR.Sub(overhead).Add(overhead.Mul(share))

		shareable := decimal.Max(decimal.Zero, m.StandaloneBuildTimeH.Sub(m.IntrinsicTimeH))
		sharedTime := decimal.Min(rate.SharedTimeH, shareable)
		buildTime := m.StandaloneBuildTimeH.Sub(sharedTime).Add(sharedTime.Mul(share))

		out = append(out, Combined{
			PartRequestID: m.PartRequestID,
			PriceEUR:      price,
			BuildTimeH:    buildTime,
		})
	}
	return out, nil
}
