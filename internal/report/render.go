package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/rewired-gh/survivorship/internal/models"
)

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// WriteText renders the summary sections for a terminal. Individual lifecycles are
// left to JSON output.
func (r *Report) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)

	p := func(format string, args ...interface{}) {
		fmt.Fprintf(tw, format, args...)
	}

	p("Source\t%s\t\n", r.Load.Source)
	if r.RunID != "" {
		p("Run\t%s\t\n", r.RunID)
	}
	p("Rows read\t%s\t\n", humanize.Comma(int64(r.Load.RowsRead)))
	p("Events loaded\t%s\t\n", humanize.Comma(int64(r.Load.Loaded)))
	if n := r.Load.DroppedTotal(); n > 0 {
		p("Rows dropped\t%s\t%s\n", humanize.Comma(int64(n)), dropSummary(r.Load.Dropped))
	}
	if r.Load.MissingEntityID > 0 {
		p("Without registry number\t%s\t\n", humanize.Comma(int64(r.Load.MissingEntityID)))
	}
	p("\t\t\n")

	t := r.Totals
	p("Registrations\t%s\t\n", humanize.Comma(int64(t.Registrations)))
	p("Deregistrations\t%s\t\n", humanize.Comma(int64(t.Deregistrations)))
	p("Mergers\t%s\t\n", humanize.Comma(int64(t.Mergers)))
	p("Net change\t%s\t\n", humanize.Comma(int64(t.NetChange)))
	p("Mortality rate\t%s%%\t\n", humanize.FormatFloat("#,###.#", t.MortalityRate))
	p("Exit rate\t%s%%\t\n", humanize.FormatFloat("#,###.#", t.ExitRate))
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nBy %s\n", r.Granularity)
	if err := WriteSnapshots(w, r.Snapshots); err != nil {
		return err
	}
	if len(r.Monthly) > 0 {
		fmt.Fprintf(w, "\nMonthly detail %d\n", r.Monthly[0].Period.Year)
		if err := WriteSnapshots(w, r.Monthly); err != nil {
			return err
		}
	}

	active, liquidated := 0, 0
	for i := range r.Lifecycles {
		if r.Lifecycles[i].Status == models.Active {
			active++
		} else {
			liquidated++
		}
	}
	fmt.Fprintf(w, "\nLifecycles: %s active, %s liquidated, %s flagged\n",
		humanize.Comma(int64(active)), humanize.Comma(int64(liquidated)), humanize.Comma(int64(len(r.Flagged))))

	if len(r.Cohorts) > 0 {
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintln(tw, "Cohort\tSize\tActive\tLiquidated\tMortality %\tMean tenure\tStd dev\t")
		for _, c := range r.Cohorts {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%.1f\t%.2f\t%.2f\t\n", c.Cohort,
				humanize.Comma(int64(c.Size)), humanize.Comma(int64(c.Active)),
				humanize.Comma(int64(c.Liquidated)), c.MortalityRate, c.MeanTenureYears, c.TenureStdDevYears)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	for _, curve := range r.Survival {
		fmt.Fprintf(w, "\nSurvival of cohort %d (%s funds)\n", curve.Cohort, humanize.Comma(int64(curve.Size)))
		if err := WriteSurvival(w, curve); err != nil {
			return err
		}
	}
	return nil
}

// WriteSurvival renders one survival curve as a table.
func WriteSurvival(w io.Writer, curve models.SurvivalCurve) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Year\tOffset\tSurvivors\tFraction\t")
	for _, pt := range curve.Points {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%.3f\t\n", pt.Year, pt.Offset, humanize.Comma(int64(pt.Survivors)), pt.Fraction)
	}
	return tw.Flush()
}

// WriteSnapshots renders period snapshots as a table.
func WriteSnapshots(w io.Writer, snaps []models.Snapshot) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Period\tRegistrations\tDeregistrations\tMergers\tNet\tMortality %\tCumulative\t")
	for _, s := range snaps {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%.1f\t%s\t\n", s.Period,
			humanize.Comma(int64(s.Registrations)), humanize.Comma(int64(s.Deregistrations)),
			humanize.Comma(int64(s.Mergers)), humanize.Comma(int64(s.NetChange)),
			s.MortalityRate, humanize.Comma(int64(s.CumulativeNet)))
	}
	return tw.Flush()
}

func dropSummary(dropped map[models.DropReason]int) string {
	reasons := make([]string, 0, len(dropped))
	for r := range dropped {
		reasons = append(reasons, string(r))
	}
	sort.Strings(reasons)
	out := ""
	for i, r := range reasons {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s: %d", r, dropped[models.DropReason(r)])
	}
	return out
}
