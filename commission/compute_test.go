package commission_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estatecrm/commission-engine/commission"
)

func threeLevelChain() commission.Chain {
	return commission.Chain{
		{ID: "seller", Name: "Seller", Level: 0},
		{ID: "u1", Name: "Upline One", Level: 1},
		{ID: "u2", Name: "Upline Two", Level: 2},
	}
}

func TestCompute_SoldPercentages(t *testing.T) {
	computer := commission.NewComputer(commission.NewRatePolicy(commission.DefaultRateSchedule()))

	d := computer.Compute(commission.SaleContext{
		PlotID:     "plot-101",
		SaleType:   commission.SaleSold,
		SaleAmount: decimal.NewFromInt(1000000),
	}, threeLevelChain())

	require.Len(t, d.Entries, 3)
	assert.Equal(t, commission.ProfileID("seller"), d.SellerID)
	assert.Equal(t, "Seller", d.SellerName)
	assert.Equal(t, commission.RatePercentage, d.Mode)
	assertDecimal(t, "60000", d.Entries[0].Amount)
	assertDecimal(t, "20000", d.Entries[1].Amount)
	assertDecimal(t, "5000", d.Entries[2].Amount)
	assertDecimal(t, "85000", d.Total())
}

func TestCompute_BookedPerArea(t *testing.T) {
	computer := commission.NewComputer(commission.NewRatePolicy(commission.DefaultRateSchedule()))

	d := computer.Compute(commission.SaleContext{
		SaleType:   commission.SaleBooked,
		SaleAmount: decimal.NewFromInt(1500000),
		Area:       decimal.NewFromInt(300),
	}, threeLevelChain())

	require.Len(t, d.Entries, 3)
	assertDecimal(t, "300000", d.Entries[0].Amount)
	assertDecimal(t, "60000", d.Entries[1].Amount)
	assertDecimal(t, "15000", d.Entries[2].Amount)
}

func TestCompute_BookedWithoutAreaPaysNothing(t *testing.T) {
	computer := commission.NewComputer(commission.NewRatePolicy(commission.DefaultRateSchedule()))

	d := computer.Compute(commission.SaleContext{
		SaleType:   commission.SaleBooked,
		SaleAmount: decimal.NewFromInt(1500000),
	}, threeLevelChain())

	require.Len(t, d.Entries, 3)
	for _, e := range d.Entries {
		assert.True(t, e.Amount.IsZero())
	}
}

func TestCompute_LevelsWithoutRateAreSkipped(t *testing.T) {
	computer := commission.NewComputer(commission.NewRatePolicy(commission.DefaultRateSchedule()))
	chain := append(threeLevelChain(), commission.ChainLink{ID: "u3", Level: 3})

	d := computer.Compute(commission.SaleContext{
		SaleType:   commission.SaleSold,
		SaleAmount: decimal.NewFromInt(1000000),
	}, chain)

	assert.Len(t, d.Entries, 3)
	for _, e := range d.Entries {
		assert.NotEqual(t, commission.ProfileID("u3"), e.ReceiverID)
	}
}

func TestCompute_IsDeterministic(t *testing.T) {
	computer := commission.NewComputer(commission.NewRatePolicy(commission.DefaultRateSchedule()))
	sale := commission.SaleContext{SaleType: commission.SaleSold, SaleAmount: decimal.RequireFromString("1234567.89")}

	first := computer.Compute(sale, threeLevelChain())
	second := computer.Compute(sale, threeLevelChain())

	require.Len(t, second.Entries, len(first.Entries))
	for i := range first.Entries {
		assert.Equal(t, first.Entries[i].Key(), second.Entries[i].Key())
		assert.True(t, first.Entries[i].Amount.Equal(second.Entries[i].Amount))
	}
}

func TestCompute_EmptyChain(t *testing.T) {
	computer := commission.NewComputer(commission.NewRatePolicy(commission.DefaultRateSchedule()))

	d := computer.Compute(commission.SaleContext{SaleType: commission.SaleSold, SaleAmount: decimal.NewFromInt(100)}, nil)

	assert.Empty(t, d.Entries)
	assert.Empty(t, d.SellerID)
	assert.True(t, d.Total().IsZero())
}
