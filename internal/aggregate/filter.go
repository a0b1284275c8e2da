package aggregate

import (
	"slices"
	"strings"

	"github.com/rewired-gh/survivorship/internal/models"
)

// Filter selects events before aggregation. Filters never edit computed snapshots.
type Filter func(e *models.Event) bool

// MacroPeriod is a named span of calendar years, both ends inclusive.
type MacroPeriod struct {
	Name string `mapstructure:"name" json:"name"`
	From int    `mapstructure:"from" json:"from"`
	To   int    `mapstructure:"to" json:"to"`
}

// DefaultMacroPeriods splits the 2004–2025 registry history into market regimes.
var DefaultMacroPeriods = []MacroPeriod{
	{Name: "pre_crisis", From: 2004, To: 2008},
	{Name: "financial_crisis", From: 2009, To: 2015},
	{Name: "recovery", From: 2016, To: 2019},
	{Name: "pandemic", From: 2020, To: 2021},
	{Name: "rate_hikes", From: 2022, To: 2025},
}

// FindPeriod looks a macro period up by name, case-insensitively.
func FindPeriod(periods []MacroPeriod, name string) (MacroPeriod, bool) {
	for _, p := range periods {
		if strings.EqualFold(p.Name, strings.TrimSpace(name)) {
			return p, true
		}
	}
	return MacroPeriod{}, false
}

// YearRange keeps events in [from, to]. A zero bound is open.
func YearRange(from, to int) Filter {
	return func(e *models.Event) bool {
		if from != 0 && e.Year < from {
			return false
		}
		if to != 0 && e.Year > to {
			return false
		}
		return true
	}
}

// Months keeps events in the given calendar months. No months keeps everything.
func Months(months ...int) Filter {
	return func(e *models.Event) bool {
		return len(months) == 0 || slices.Contains(months, e.Month)
	}
}

// Types keeps events of the given types.
func Types(types ...models.EventType) Filter {
	return func(e *models.Event) bool {
		return len(types) == 0 || slices.Contains(types, e.Type)
	}
}

// InPeriod keeps events inside a macro period.
func InPeriod(p MacroPeriod) Filter {
	return YearRange(p.From, p.To)
}

// All is the conjunction of filters; nil entries are ignored.
func All(filters ...Filter) Filter {
	return func(e *models.Event) bool {
		for _, f := range filters {
			if f != nil && !f(e) {
				return false
			}
		}
		return true
	}
}

// Apply returns the events accepted by every filter, as a new slice.
func Apply(events []models.Event, filters ...Filter) []models.Event {
	keep := All(filters...)
	out := make([]models.Event, 0, len(events))
	for i := range events {
		if keep(&events[i]) {
			out = append(out, events[i])
		}
	}
	return out
}
