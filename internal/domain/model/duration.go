package model

import (
	"strconv"
	"strings"
	"time"
)

type DurationUnit string

const (
	UnitDay   DurationUnit = "day"
	UnitWeek  DurationUnit = "week"
	UnitMonth DurationUnit = "month"
	UnitYear  DurationUnit = "year"
)

// DefaultPlanDays is used when a plan duration string cannot be parsed.
const DefaultPlanDays = 30

// PlanDuration is the parsed form of a free-text plan duration.
type PlanDuration struct {
	Unit  DurationUnit
	Count int
}

func (d PlanDuration) Days() int {
	switch d.Unit {
	case UnitYear:
		return d.Count * 365
	case UnitMonth:
		return d.Count * 30
	case UnitWeek:
		return d.Count * 7
	default:
		return d.Count
	}
}

func (d PlanDuration) AsTime() time.Duration {
	return time.Duration(d.Days()) * 24 * time.Hour
}

// ParsePlanDuration turns strings like "30", "1 month", "2 years" or
// "1 week" into a PlanDuration. Unparseable input falls back to 30 days.
func ParsePlanDuration(s string) PlanDuration {
	raw := strings.ToLower(strings.TrimSpace(s))
	if raw == "" {
		return PlanDuration{Unit: UnitDay, Count: DefaultPlanDays}
	}

	unit := UnitDay
	switch {
	case strings.Contains(raw, "year"):
		unit = UnitYear
	case strings.Contains(raw, "month"):
		unit = UnitMonth
	case strings.Contains(raw, "week"):
		unit = UnitWeek
	}

	count := 0
	for _, f := range strings.Fields(raw) {
		if n, err := strconv.Atoi(f); err == nil && n > 0 {
			count = n
			break
		}
	}
	if count == 0 {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			// bare integer number of days
			return PlanDuration{Unit: UnitDay, Count: n}
		}
		if unit == UnitDay {
			return PlanDuration{Unit: UnitDay, Count: DefaultPlanDays}
		}
		// "month" with no number means one of that unit
		count = 1
	}
	return PlanDuration{Unit: unit, Count: count}
}
