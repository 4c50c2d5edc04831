/*
policy.go - Rate policy: sale context -> ordered rate table

PURPOSE:
  Maps a sale to the rates owed at each level of the chain. The schedule is
  plain configuration injected at construction time, so tests and
  deployments can swap rate sets without global state.

MODES:
  sold   -> percentage of the sale amount (6% / 2% / 0.5%)
  booked -> fixed amount per unit of area (1000 / 200 / 50), used only for
            the projected wallet of plots still below the threshold

LEVELS:
  0 = direct seller, 1..N = uplines. Levels without a configured rate earn
  nothing, and MaxDepth caps the chain walk.

SEE ALSO:
  - factory/rates.go: JSON rate schedules
  - compute.go: applies a RateTable to a chain
*/
package commission

import (
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RATE SCHEDULE - Configuration
// =============================================================================

type SaleType string

const (
	SaleSold   SaleType = "sold"
	SaleBooked SaleType = "booked"
)

type RateMode string

const (
	RatePercentage RateMode = "percentage"
	RatePerArea    RateMode = "per_area"
)

type RecipientRole string

const (
	RoleDirectSeller RecipientRole = "direct_seller"
	RoleUpline       RecipientRole = "upline"
)

type LevelRate struct {
	Level int
	Role  RecipientRole
	Rate  decimal.Decimal
}

// RateSchedule is the full rate configuration.
type RateSchedule struct {
	Percentage []LevelRate
	PerArea    []LevelRate

	// Threshold is the paid percentage at which a booked plot becomes
	// eligible for distribution. Inclusive.
	Threshold decimal.Decimal
}

// DefaultRateSchedule returns the production rate set.
func DefaultRateSchedule() RateSchedule {
	return RateSchedule{
		Percentage: []LevelRate{
			{Level: 0, Role: RoleDirectSeller, Rate: decimal.NewFromInt(6)},
			{Level: 1, Role: RoleUpline, Rate: decimal.NewFromInt(2)},
			{Level: 2, Role: RoleUpline, Rate: decimal.RequireFromString("0.5")},
		},
		PerArea: []LevelRate{
			{Level: 0, Role: RoleDirectSeller, Rate: decimal.NewFromInt(1000)},
			{Level: 1, Role: RoleUpline, Rate: decimal.NewFromInt(200)},
			{Level: 2, Role: RoleUpline, Rate: decimal.NewFromInt(50)},
		},
		Threshold: decimal.NewFromInt(75),
	}
}

// =============================================================================
// RATE POLICY
// =============================================================================

type SaleContext struct {
	PlotID     PlotID
	SaleType   SaleType
	SaleAmount decimal.Decimal
	Area       decimal.Decimal
}

// RateTable is the ordered (by level) list of rates for one sale.
type RateTable struct {
	Mode  RateMode
	Rates []LevelRate
}

// RateFor returns the rate configured for level, if any.
func (t RateTable) RateFor(level int) (LevelRate, bool) {
	for _, r := range t.Rates {
		if r.Level == level {
			return r, true
		}
	}
	return LevelRate{}, false
}

type RatePolicy struct {
	schedule RateSchedule
}

// NewRatePolicy copies and level-sorts the schedule.
func NewRatePolicy(schedule RateSchedule) *RatePolicy {
	s := RateSchedule{
		Percentage: sortedRates(schedule.Percentage),
		PerArea:    sortedRates(schedule.PerArea),
		Threshold:  schedule.Threshold,
	}
	return &RatePolicy{schedule: s}
}

func sortedRates(in []LevelRate) []LevelRate {
	out := append([]LevelRate(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out
}

// Rates returns the rate table for a sale. Pure.
func (p *RatePolicy) Rates(sale SaleContext) RateTable {
	if sale.SaleType == SaleBooked {
		return RateTable{Mode: RatePerArea, Rates: append([]LevelRate(nil), p.schedule.PerArea...)}
	}
	return RateTable{Mode: RatePercentage, Rates: append([]LevelRate(nil), p.schedule.Percentage...)}
}

// MaxDepth is the highest level any mode pays.
func (p *RatePolicy) MaxDepth() int {
	depth := 0
	for _, rates := range [][]LevelRate{p.schedule.Percentage, p.schedule.PerArea} {
		if n := len(rates); n > 0 && rates[n-1].Level > depth {
			depth = rates[n-1].Level
		}
	}
	return depth
}

func (p *RatePolicy) Threshold() decimal.Decimal { return p.schedule.Threshold }

// Schedule returns a copy of the configured schedule.
func (p *RatePolicy) Schedule() RateSchedule {
	return RateSchedule{
		Percentage: append([]LevelRate(nil), p.schedule.Percentage...),
		PerArea:    append([]LevelRate(nil), p.schedule.PerArea...),
		Threshold:  p.schedule.Threshold,
	}
}
