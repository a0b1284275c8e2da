// Package report assembles aggregate, lifecycle and survival outputs of one dataset
// into a single structure and renders it as JSON or text.
package report

import (
	"fmt"
	"time"

	"github.com/rewired-gh/survivorship/internal/aggregate"
	"github.com/rewired-gh/survivorship/internal/lifecycle"
	"github.com/rewired-gh/survivorship/internal/models"
)

// Options selects what goes into a report.
type Options struct {
	Granularity models.Granularity
	// Filters restrict the events that are aggregated. Lifecycles always see the
	// whole dataset so a filtered-out registration cannot orphan a deregistration.
	Filters   []aggregate.Filter
	Aggregate aggregate.Options
	Lifecycle lifecycle.Options
	// MonthlyYear adds a 12-month detail for that year when non-zero.
	MonthlyYear int
	// Cohorts lists registration years to trace survival curves for.
	Cohorts []int
	// SurvivalThrough ends the curves; zero means the last year with events.
	SurvivalThrough int
}

// DefaultOptions reports yearly buckets with default policies.
func DefaultOptions() Options {
	return Options{
		Granularity: models.Yearly,
		Aggregate:   aggregate.DefaultOptions(),
		Lifecycle:   lifecycle.DefaultOptions(),
	}
}

// Report is the complete analysis of one dataset.
type Report struct {
	RunID       string                 `json:"run_id,omitempty"`
	LoadedAt    time.Time              `json:"loaded_at"`
	Load        models.LoadReport      `json:"load"`
	Granularity models.Granularity     `json:"granularity"`
	Totals      models.Totals          `json:"totals"`
	Snapshots   []models.Snapshot      `json:"snapshots"`
	Monthly     []models.Snapshot      `json:"monthly,omitempty"`
	Lifecycles  []models.Lifecycle     `json:"lifecycles"`
	Flagged     []models.FlaggedRecord `json:"flagged"`
	SkippedNoID int                    `json:"skipped_no_id"`
	Orphans     int                    `json:"orphans"`
	Cohorts     []models.CohortSummary `json:"cohorts"`
	Survival    []models.SurvivalCurve `json:"survival,omitempty"`
}

// Build computes every section of the report. It does not modify ds.
func Build(ds *models.Dataset, opts Options) (*Report, error) {
	if ds == nil {
		return nil, fmt.Errorf("no dataset to report on")
	}
	g := models.Yearly
	if opts.Granularity != "" {
		var err error
		if g, err = models.ParseGranularity(string(opts.Granularity)); err != nil {
			return nil, err
		}
	}

	events := aggregate.Apply(ds.Events, opts.Filters...)
	r := &Report{
		RunID:       ds.RunID,
		LoadedAt:    ds.LoadedAt,
		Load:        ds.Report,
		Granularity: g,
		Totals:      aggregate.Summarize(events, opts.Aggregate),
		Snapshots:   aggregate.Aggregate(events, g, opts.Aggregate),
	}
	if opts.MonthlyYear != 0 {
		r.Monthly = aggregate.MonthlyDetail(events, opts.MonthlyYear, opts.Aggregate)
	}

	lc := lifecycle.Build(ds.Events, opts.Lifecycle)
	r.Lifecycles = lc.Records
	r.Flagged = lc.Flagged
	r.SkippedNoID = lc.SkippedNoID
	r.Orphans = lc.Orphans
	r.Cohorts = lifecycle.Cohorts(lc.Records)

	if len(opts.Cohorts) > 0 {
		through := opts.SurvivalThrough
		if through == 0 {
			through = lastYear(ds.Events)
		}
		for _, cohort := range opts.Cohorts {
			curve, err := lifecycle.Survival(lc.Records, cohort, through)
			if err != nil {
				return nil, fmt.Errorf("survival of cohort %d: %w", cohort, err)
			}
			r.Survival = append(r.Survival, curve)
		}
	}
	return r, nil
}

func lastYear(events []models.Event) int {
	last := 0
	for i := range events {
		if y := events[i].Date.Year(); y > last {
			last = y
		}
	}
	return last
}
