// Package pricing recomputes combined prices and build times for the members
// of a production run. The cost formula is injected through Calculator; this
// package enforces the contract every formula must honour and derives the
// reduction figures itself.
package pricing

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

var hundred = decimal.NewFromInt(100)

// Member is the pricing view of one part on a run.
type Member struct {
	PartRequestID        uint
	Quantity             int
	AreaCM2              decimal.Decimal
	StandalonePriceEUR   decimal.Decimal
	StandaloneBuildTimeH decimal.Decimal
	IntrinsicTimeH       decimal.Decimal
}

// Combined is what a Calculator produces for one member.
type Combined struct {
	PartRequestID uint
	PriceEUR      decimal.Decimal
	BuildTimeH    decimal.Decimal
}

// Calculator computes per-member combined price and build time for the full
// membership of a run. key is the machine/material-group key of the run.
type Calculator interface {
	Combine(key string, members []Member) ([]Combined, error)
}

// Result carries the recalculated figures of one member.
type Result struct {
	PartRequestID         uint
	StandalonePriceEUR    decimal.Decimal
	CombinedPriceEUR      decimal.Decimal
	CombinedBuildTimeH    decimal.Decimal
	PriceReductionEUR     decimal.Decimal
	PriceReductionPercent decimal.Decimal
}

// Totals are the run-level aggregates.
type Totals struct {
	PriceEUR   decimal.Decimal
	BuildTimeH decimal.Decimal
}

// Recalculation is the outcome for a whole run.
type Recalculation struct {
	Results []Result
	Totals  Totals
}

// ByPart indexes the results by part-request ID.
func (r Recalculation) ByPart() map[uint]Result {
	out := make(map[uint]Result, len(r.Results))
	for _, res := range r.Results {
		out[res.PartRequestID] = res
	}
	return out
}

// Recalculate runs calc over the membership and returns figures that satisfy
// combined <= standalone for every member. Members are processed in
// part-request ID order so repeated calls on the same membership agree.
func Recalculate(calc Calculator, key string, members []Member) (Recalculation, error) {
	if len(members) == 0 {
		return Recalculation{Totals: Totals{PriceEUR: decimal.Zero, BuildTimeH: decimal.Zero}}, nil
	}

	sorted := make([]Member, len(members))
	copy(sorted, members)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PartRequestID < sorted[j].PartRequestID })

	for _, m := range sorted {
		if m.Quantity < 1 {
			return Recalculation{}, fmt.Errorf("part %d: quantity %d", m.PartRequestID, m.Quantity)
		}
		if m.StandalonePriceEUR.IsNegative() || m.StandaloneBuildTimeH.IsNegative() {
			return Recalculation{}, fmt.Errorf("part %d: negative standalone estimate", m.PartRequestID)
		}
	}

	combined, err := calc.Combine(key, sorted)
	if err != nil {
		return Recalculation{}, fmt.Errorf("combine %s: %w", key, err)
	}
	byPart := make(map[uint]Combined, len(combined))
	for _, c := range combined {
		byPart[c.PartRequestID] = c
	}

	out := Recalculation{Results: make([]Result, 0, len(sorted))}
	price := decimal.Zero
	buildTime := decimal.Zero
	for _, m := range sorted {
		c, ok := byPart[m.PartRequestID]
		if !ok {
			return Recalculation{}, fmt.Errorf("combine %s: no result for part %d", key, m.PartRequestID)
		}

		p := c.PriceEUR.Round(2)
		if p.GreaterThan(m.StandalonePriceEUR) {
			log.WithFields(log.Fields{"part_request_id": m.PartRequestID, "combined": p, "standalone": m.StandalonePriceEUR}).
				Warn("combined price above standalone price; clamping")
			p = m.StandalonePriceEUR
		}
		if p.IsNegative() {
			p = decimal.Zero
		}
		bt := c.BuildTimeH.Round(2)
		if bt.GreaterThan(m.StandaloneBuildTimeH) {
			bt = m.StandaloneBuildTimeH
		}

		eur, pct := Reduction(m.StandalonePriceEUR, p)
		out.Results = append(out.Results, Result{
			PartRequestID:         m.PartRequestID,
			StandalonePriceEUR:    m.StandalonePriceEUR,
			CombinedPriceEUR:      p,
			CombinedBuildTimeH:    bt,
			PriceReductionEUR:     eur,
			PriceReductionPercent: pct,
		})

		price = price.Add(p.Mul(decimal.NewFromInt(int64(m.Quantity))))
		// Parts on one platform are built in the same job.
		buildTime = decimal.Max(buildTime, m.StandaloneBuildTimeH)
	}
	out.Totals = Totals{PriceEUR: price.Round(2), BuildTimeH: buildTime.Round(2)}
	return out, nil
}

// Reduction returns standalone-combined and its share of standalone in percent.
func Reduction(standalone, combined decimal.Decimal) (eur, percent decimal.Decimal) {
	eur = standalone.Sub(combined).Round(2)
	if standalone.IsZero() {
		return eur, decimal.Zero
	}
	return eur, eur.Mul(hundred).Div(standalone).Round(2)
}
