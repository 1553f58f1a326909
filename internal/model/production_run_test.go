package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestProductionRun_ReserveRelease(t *testing.T) {
	run := ProductionRun{ID: 1, UsableAreaCM2: dec("1000"), AvailableAreaCM2: dec("1000")}

	require.NoError(t, run.Reserve(dec("400")))
	assert.True(t, run.ConsumedAreaCM2.Equal(dec("400")))
	assert.True(t, run.AvailableAreaCM2.Equal(dec("600")))

	err := run.Reserve(dec("600.0001"))
	assert.Error(t, err)
	assert.True(t, run.ConsumedAreaCM2.Equal(dec("400")), "failed reserve must not change counters")

	require.NoError(t, run.Reserve(dec("600")))
	assert.True(t, run.AvailableAreaCM2.IsZero())

	require.NoError(t, run.Release(dec("400")))
	assert.True(t, run.ConsumedAreaCM2.Equal(dec("600")))
	assert.True(t, run.AvailableAreaCM2.Equal(dec("400")))

	assert.Error(t, run.Release(dec("601")))
	assert.Error(t, run.Reserve(dec("-1")))
}

func TestProductionRun_FillPercent(t *testing.T) {
	run := ProductionRun{UsableAreaCM2: dec("300"), ConsumedAreaCM2: dec("100")}
	assert.Equal(t, "33.3", run.FillPercent().String())

	empty := ProductionRun{}
	assert.True(t, empty.FillPercent().IsZero())
}

func TestPartRequest_Areas(t *testing.T) {
	p := PartRequest{
		Quantity:         3,
		ProjectedAreaCM2: dec("12.5"),
		PrepTimeH:        decimal.NewNullDecimal(dec("1.5")),
		QCTimeH:          decimal.NewNullDecimal(dec("0.25")),
	}
	assert.Equal(t, "37.5", p.RequiredAreaCM2().String())
	assert.Equal(t, "1.75", p.IntrinsicTimeH().String())
	assert.False(t, p.HasEstimate())

	p.EstimatedPriceEUR = decimal.NewNullDecimal(dec("100"))
	p.EstimatedBuildTimeH = decimal.NewNullDecimal(dec("4"))
	assert.True(t, p.HasEstimate())
}
