package models

import (
	"fmt"
	"strings"
	"time"
)

// Granularity selects how events are bucketed.
type Granularity string

const (
	Yearly    Granularity = "year"
	Quarterly Granularity = "quarter"
	Monthly   Granularity = "month"
	Weekly    Granularity = "week"
)

// ParseGranularity accepts the canonical names plus a few plural/adjective forms.
func ParseGranularity(s string) (Granularity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "year", "years", "yearly", "annual":
		return Yearly, nil
	case "quarter", "quarters", "quarterly":
		return Quarterly, nil
	case "month", "months", "monthly":
		return Monthly, nil
	case "week", "weeks", "weekly":
		return Weekly, nil
	}
	return "", fmt.Errorf("unknown granularity %q", s)
}

// PeriodKey identifies a bucket. Sub is the quarter, month or ISO week number and
// is zero for yearly buckets. For weekly buckets Year is the ISO year.
type PeriodKey struct {
	Granularity Granularity `json:"granularity"`
	Year        int         `json:"year"`
	Sub         int         `json:"sub,omitempty"`
}

// KeyFor assigns a date to its bucket.
func KeyFor(g Granularity, date time.Time) PeriodKey {
	switch g {
	case Quarterly:
		return PeriodKey{Granularity: g, Year: date.Year(), Sub: (int(date.Month())-1)/3 + 1}
	case Monthly:
		return PeriodKey{Granularity: g, Year: date.Year(), Sub: int(date.Month())}
	case Weekly:
		y, w := date.ISOWeek()
		return PeriodKey{Granularity: g, Year: y, Sub: w}
	default:
		return PeriodKey{Granularity: Yearly, Year: date.Year()}
	}
}

// Start returns the first day of the bucket in UTC.
func (k PeriodKey) Start() time.Time {
	switch k.Granularity {
	case Quarterly:
		return time.Date(k.Year, time.Month((k.Sub-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
	case Monthly:
		return time.Date(k.Year, time.Month(k.Sub), 1, 0, 0, 0, 0, time.UTC)
	case Weekly:
		// ISO week 1 is the week containing January 4th.
		jan4 := time.Date(k.Year, time.January, 4, 0, 0, 0, 0, time.UTC)
		offset := (int(jan4.Weekday()) + 6) % 7
		monday := jan4.AddDate(0, 0, -offset)
		return monday.AddDate(0, 0, (k.Sub-1)*7)
	default:
		return time.Date(k.Year, time.January, 1, 0, 0, 0, 0, time.UTC)
	}
}

// Before orders keys by period start.
func (k PeriodKey) Before(o PeriodKey) bool {
	return k.Start().Before(o.Start())
}

func (k PeriodKey) String() string {
	switch k.Granularity {
	case Quarterly:
		return fmt.Sprintf("%04d-Q%d", k.Year, k.Sub)
	case Monthly:
		return fmt.Sprintf("%04d-%02d", k.Year, k.Sub)
	case Weekly:
		return fmt.Sprintf("%04d-W%02d", k.Year, k.Sub)
	default:
		return fmt.Sprintf("%04d", k.Year)
	}
}

// MarshalText renders the key in its String form.
func (k PeriodKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}
