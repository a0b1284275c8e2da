// Package lifecycle derives one lifecycle per registry number from registration and
// deregistration events, gates them on data quality and builds cohort statistics.
package lifecycle

import (
	"sort"
	"strings"
	"time"

	"github.com/rewired-gh/survivorship/internal/models"
)

// DefaultMaxTenureYears bounds plausible tenures. Longer spans are treated as
// date-entry errors.
const DefaultMaxTenureYears = 50.0

type Options struct {
	// MaxTenureYears flags longer tenures as EXCESSIVE_TENURE. Zero disables the check.
	MaxTenureYears float64
	// AsOf, when set, gives active funds an ElapsedYears value. It is never read
	// from the clock.
	AsOf time.Time
	// MergerEndsLifecycle treats a merger like a deregistration.
	MergerEndsLifecycle bool
}

func DefaultOptions() Options {
	return Options{MaxTenureYears: DefaultMaxTenureYears}
}

// Result holds the surviving lifecycles and the records removed by the quality gate.
type Result struct {
	Records []models.Lifecycle     `json:"records"`
	Flagged []models.FlaggedRecord `json:"flagged"`
	// SkippedNoID counts events without a registry number.
	SkippedNoID int `json:"skipped_no_id"`
	// Orphans counts registry numbers that were deregistered but never registered.
	Orphans int `json:"orphans"`
}

type registration struct {
	first models.Event
	count int
}

// Build groups events by registry number. The earliest registration opens the
// lifecycle and the earliest deregistration closes it; later re-registrations are
// only counted. Output is sorted by registry number and independent of input order.
func Build(events []models.Event, opts Options) Result {
	regs := make(map[string]*registration)
	ends := make(map[string]time.Time)
	var res Result

	for i := range events {
		e := &events[i]
		id := strings.TrimSpace(e.EntityID)
		if id == "" {
			res.SkippedNoID++
			continue
		}
		switch {
		case e.Type == models.Registration:
			r, ok := regs[id]
			if !ok {
				regs[id] = &registration{first: *e, count: 1}
				continue
			}
			r.count++
			if earlier(e, &r.first) {
				r.first = *e
			}
		case e.Type == models.Deregistration,
			e.Type == models.Merger && opts.MergerEndsLifecycle:
			if d, ok := ends[id]; !ok || e.Date.Before(d) {
				ends[id] = e.Date
			}
		}
	}

	ids := make([]string, 0, len(regs))
	for id := range regs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for id := range ends {
		if _, ok := regs[id]; !ok {
			res.Orphans++
		}
	}

	for _, id := range ids {
		r := regs[id]
		lc := models.Lifecycle{
			EntityID:          id,
			Name:              r.first.Name,
			FirstRegistration: r.first.Date,
			Status:            models.Active,
			Manager:           r.first.Manager,
			Depositary:        r.first.Depositary,
			RegistrationCount: r.count,
		}

		end, closed := ends[id]
		if !closed {
			if !opts.AsOf.IsZero() && !opts.AsOf.Before(lc.FirstRegistration) {
				elapsed := Years(lc.FirstRegistration, opts.AsOf)
				lc.ElapsedYears = &elapsed
			}
			res.Records = append(res.Records, lc)
			continue
		}

		tenure := Years(lc.FirstRegistration, end)
		if reason, bad := gate(tenure, opts.MaxTenureYears); bad {
			res.Flagged = append(res.Flagged, models.FlaggedRecord{
				EntityID:            id,
				Name:                lc.Name,
				Reason:              reason,
				TenureYears:         tenure,
				FirstRegistration:   lc.FirstRegistration,
				FirstDeregistration: end,
			})
			continue
		}
		lc.FirstDeregistration = &end
		lc.TenureYears = &tenure
		lc.Status = models.Liquidated
		res.Records = append(res.Records, lc)
	}
	return res
}

// Years is the span between two calendar days in years of 365.25 days.
// Unix seconds keep centuries-apart typos exact where time.Duration would saturate.
func Years(from, to time.Time) float64 {
	days := float64(to.Unix()-from.Unix()) / 86400
	return days / models.DaysPerYear
}

func gate(tenure, max float64) (models.FlagReason, bool) {
	if tenure < 0 {
		return models.NegativeTenure, true
	}
	if max > 0 && tenure > max {
		return models.ExcessiveTenure, true
	}
	return "", false
}

// earlier orders registrations by date, then by the descriptive fields so ties do
// not depend on input order.
func earlier(a, b *models.Event) bool {
	if !a.Date.Equal(b.Date) {
		return a.Date.Before(b.Date)
	}
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	if a.Manager != b.Manager {
		return a.Manager < b.Manager
	}
	return a.Depositary < b.Depositary
}
