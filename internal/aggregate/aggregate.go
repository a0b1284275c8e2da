// Package aggregate buckets registry events by period and derives net change,
// mortality rates and running totals.
package aggregate

import (
	"sort"

	"github.com/rewired-gh/survivorship/internal/models"
)

// Options selects the genuine variations between registry extracts.
type Options struct {
	// TrackMergers counts mergers separately. When false they are counted as
	// plain deregistrations, matching extracts without a merger type.
	TrackMergers bool
}

func DefaultOptions() Options {
	return Options{TrackMergers: true}
}

// Aggregate counts events per bucket of the given granularity. Only buckets that
// contain events are returned, ascending by period start, with CumulativeNet set.
func Aggregate(events []models.Event, g models.Granularity, opts Options) []models.Snapshot {
	buckets := make(map[models.PeriodKey]*models.Snapshot)
	for i := range events {
		k := models.KeyFor(g, events[i].Date)
		s, ok := buckets[k]
		if !ok {
			s = &models.Snapshot{Period: k}
			buckets[k] = s
		}
		count(s, events[i].Type, opts)
	}

	out := make([]models.Snapshot, 0, len(buckets))
	for _, s := range buckets {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period.Before(out[j].Period) })
	for i := range out {
		finalize(&out[i])
	}
	return Cumulative(out)
}

// MonthlyDetail returns all twelve months of a year, zero-filled where no events
// fall, with a running total that starts at the year's first month.
func MonthlyDetail(events []models.Event, year int, opts Options) []models.Snapshot {
	out := make([]models.Snapshot, 12)
	for m := range out {
		out[m].Period = models.PeriodKey{Granularity: models.Monthly, Year: year, Sub: m + 1}
	}
	for i := range events {
		d := events[i].Date
		if d.Year() != year {
			continue
		}
		count(&out[d.Month()-1], events[i].Type, opts)
	}
	for i := range out {
		finalize(&out[i])
	}
	return Cumulative(out)
}

// Cumulative returns a copy of snapshots with CumulativeNet set to the prefix sum
// of NetChange. Any previous CumulativeNet values are ignored.
func Cumulative(snapshots []models.Snapshot) []models.Snapshot {
	out := make([]models.Snapshot, len(snapshots))
	running := 0
	for i, s := range snapshots {
		running += s.NetChange
		s.CumulativeNet = running
		out[i] = s
	}
	return out
}

// Summarize totals the whole event range.
func Summarize(events []models.Event, opts Options) models.Totals {
	var s models.Snapshot
	for i := range events {
		count(&s, events[i].Type, opts)
	}
	finalize(&s)
	return models.Totals{
		Registrations:   s.Registrations,
		Deregistrations: s.Deregistrations,
		Mergers:         s.Mergers,
		NetChange:       s.NetChange,
		MortalityRate:   s.MortalityRate,
		ExitRate:        models.Rate(s.Deregistrations+s.Mergers, s.Registrations),
	}
}

func count(s *models.Snapshot, t models.EventType, opts Options) {
	switch t {
	case models.Registration:
		s.Registrations++
	case models.Deregistration:
		s.Deregistrations++
	case models.Merger:
		if opts.TrackMergers {
			s.Mergers++
		} else {
			s.Deregistrations++
		}
	}
}

func finalize(s *models.Snapshot) {
	s.NetChange = s.Registrations - s.Deregistrations - s.Mergers
	s.MortalityRate = models.MortalityRate(s.Registrations, s.Deregistrations)
}
