/*
Package factory provides JSON to Go rate schedule conversion.

PURPOSE:
  Converts JSON rate definitions into commission.RateSchedule so a
  deployment can change commission rates without code changes.

JSON SCHEMA:
  {
    "threshold": "75",
    "percentage": [
      {"level": 0, "role": "direct_seller", "rate": "6"},
      {"level": 1, "role": "upline", "rate": "2"},
      {"level": 2, "role": "upline", "rate": "0.5"}
    ],
    "per_area": [
      {"level": 0, "role": "direct_seller", "rate": "1000"},
      {"level": 1, "role": "upline", "rate": "200"},
      {"level": 2, "role": "upline", "rate": "50"}
    ]
  }

  Rates are decimal strings (numbers are accepted too). An omitted table
  or threshold falls back to the default schedule.

VALIDATION:
  - levels are >= 0 and unique within a table
  - rates are >= 0, percentages <= 100
  - threshold is within 0..100
  - role defaults to direct_seller for level 0, upline otherwise

USAGE:
  schedule, err := factory.LoadRateSchedule("rates.json")
  distributor := commission.NewDistributor(store, schedule)

SEE ALSO:
  - commission/policy.go: RateSchedule and DefaultRateSchedule
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"github.com/estatecrm/commission-engine/commission"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ScheduleJSON is the JSON representation of a rate schedule.
type ScheduleJSON struct {
	Threshold  *decimal.Decimal `json:"threshold,omitempty"`
	Percentage []LevelRateJSON  `json:"percentage,omitempty"`
	PerArea    []LevelRateJSON  `json:"per_area,omitempty"`
}

// LevelRateJSON is one level of a rate table.
type LevelRateJSON struct {
	Level int             `json:"level"`
	Role  string          `json:"role,omitempty"`
	Rate  decimal.Decimal `json:"rate"`
}

// =============================================================================
// PARSING
// =============================================================================

// LoadRateSchedule reads a schedule from a JSON file. An empty path returns
// the default schedule.
func LoadRateSchedule(path string) (commission.RateSchedule, error) {
	if path == "" {
		return commission.DefaultRateSchedule(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return commission.RateSchedule{}, fmt.Errorf("failed to read rate schedule: %w", err)
	}
	return ParseRateSchedule(data)
}

// ParseRateSchedule parses and validates a JSON schedule.
func ParseRateSchedule(data []byte) (commission.RateSchedule, error) {
	var sj ScheduleJSON
	if err := json.Unmarshal(data, &sj); err != nil {
		return commission.RateSchedule{}, fmt.Errorf("failed to parse rate schedule JSON: %w", err)
	}
	return FromJSON(sj)
}

// FromJSON converts ScheduleJSON, filling omitted parts from the default.
func FromJSON(sj ScheduleJSON) (commission.RateSchedule, error) {
	schedule := commission.DefaultRateSchedule()

	if sj.Threshold != nil {
		if sj.Threshold.IsNegative() || sj.Threshold.GreaterThan(decimal.NewFromInt(100)) {
			return commission.RateSchedule{}, fmt.Errorf("threshold %s must be within 0..100", sj.Threshold)
		}
		schedule.Threshold = *sj.Threshold
	}

	if len(sj.Percentage) > 0 {
		rates, err := parseTable("percentage", sj.Percentage, decimal.NewFromInt(100))
		if err != nil {
			return commission.RateSchedule{}, err
		}
		schedule.Percentage = rates
	}
	if len(sj.PerArea) > 0 {
		rates, err := parseTable("per_area", sj.PerArea, decimal.Decimal{})
		if err != nil {
			return commission.RateSchedule{}, err
		}
		schedule.PerArea = rates
	}
	return schedule, nil
}

// parseTable validates one rate table. A zero max means unbounded.
func parseTable(name string, in []LevelRateJSON, max decimal.Decimal) ([]commission.LevelRate, error) {
	seen := make(map[int]bool, len(in))
	out := make([]commission.LevelRate, 0, len(in))
	for _, lr := range in {
		if lr.Level < 0 {
			return nil, fmt.Errorf("%s: level %d must be >= 0", name, lr.Level)
		}
		if seen[lr.Level] {
			return nil, fmt.Errorf("%s: level %d defined twice", name, lr.Level)
		}
		seen[lr.Level] = true

		if lr.Rate.IsNegative() {
			return nil, fmt.Errorf("%s: level %d rate %s must be >= 0", name, lr.Level, lr.Rate)
		}
		if !max.IsZero() && lr.Rate.GreaterThan(max) {
			return nil, fmt.Errorf("%s: level %d rate %s exceeds %s", name, lr.Level, lr.Rate, max)
		}

		role, err := parseRole(lr.Role, lr.Level)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out = append(out, commission.LevelRate{Level: lr.Level, Role: role, Rate: lr.Rate})
	}
	return out, nil
}

func parseRole(s string, level int) (commission.RecipientRole, error) {
	switch commission.RecipientRole(s) {
	case "":
		if level == 0 {
			return commission.RoleDirectSeller, nil
		}
		return commission.RoleUpline, nil
	case commission.RoleDirectSeller, commission.RoleUpline:
		return commission.RecipientRole(s), nil
	default:
		return "", fmt.Errorf("unknown role %q at level %d", s, level)
	}
}

// ToJSON converts a schedule back to its JSON form.
func ToJSON(s commission.RateSchedule) ScheduleJSON {
	threshold := s.Threshold
	sj := ScheduleJSON{Threshold: &threshold}
	for _, r := range s.Percentage {
		sj.Percentage = append(sj.Percentage, LevelRateJSON{Level: r.Level, Role: string(r.Role), Rate: r.Rate})
	}
	for _, r := range s.PerArea {
		sj.PerArea = append(sj.PerArea, LevelRateJSON{Level: r.Level, Role: string(r.Role), Rate: r.Rate})
	}
	return sj
}
