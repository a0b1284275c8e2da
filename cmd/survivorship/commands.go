package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/rewired-gh/survivorship/internal/aggregate"
	"github.com/rewired-gh/survivorship/internal/lifecycle"
	"github.com/rewired-gh/survivorship/internal/models"
	"github.com/rewired-gh/survivorship/internal/report"
)

var (
	outputFormat string

	granularity string
	yearFrom    int
	yearTo      int
	months      []int
	macroPeriod string
	monthlyYear int

	cohorts      []int
	throughYear  int
	statusFilter string

	eventYear  int
	eventTypes []string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Full report: totals, snapshots, lifecycles, cohorts and survival",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := buildReport(cmd)
		if err != nil {
			return err
		}
		return write(cmd.OutOrStdout(), r, r.WriteText)
	},
}

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "Registrations, deregistrations and mergers per period",
	Example: `  survivorship snapshots -s fondos.xlsx --granularity quarter --period financial_crisis
  survivorship snapshots -s fondos.csv --from 2010 --to 2015 --months 1,2,3`,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := buildReport(cmd)
		if err != nil {
			return err
		}
		out := struct {
			Granularity models.Granularity `json:"granularity"`
			Totals      models.Totals      `json:"totals"`
			Snapshots   []models.Snapshot  `json:"snapshots"`
			Monthly     []models.Snapshot  `json:"monthly,omitempty"`
		}{r.Granularity, r.Totals, r.Snapshots, r.Monthly}
		return write(cmd.OutOrStdout(), out, func(w io.Writer) error {
			t := r.Totals
			fmt.Fprintf(w, "%s registrations, %s deregistrations, %s mergers, net %s, exit rate %.1f%%\n\n",
				humanize.Comma(int64(t.Registrations)), humanize.Comma(int64(t.Deregistrations)),
				humanize.Comma(int64(t.Mergers)), humanize.Comma(int64(t.NetChange)), t.ExitRate)
			if err := report.WriteSnapshots(w, r.Snapshots); err != nil {
				return err
			}
			if len(r.Monthly) > 0 {
				fmt.Fprintln(w)
				return report.WriteSnapshots(w, r.Monthly)
			}
			return nil
		})
	},
}

var lifecyclesCmd = &cobra.Command{
	Use:   "lifecycles",
	Short: "One lifecycle per registry number",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := buildLifecycles(cmd)
		if err != nil {
			return err
		}
		records, err := filterStatus(res.Records, statusFilter)
		if err != nil {
			return err
		}
		return write(cmd.OutOrStdout(), records, func(w io.Writer) error {
			return writeLifecycles(w, records)
		})
	},
}

var flaggedCmd = &cobra.Command{
	Use:   "flagged",
	Short: "Lifecycles excluded by the tenure quality gate",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := buildLifecycles(cmd)
		if err != nil {
			return err
		}
		return write(cmd.OutOrStdout(), res.Flagged, func(w io.Writer) error {
			return writeFlagged(w, res.Flagged)
		})
	},
}

var survivalCmd = &cobra.Command{
	Use:   "survival",
	Short: "Survival curve of one or more registration cohorts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(cohorts) == 0 && len(cfg.Survival.Cohorts) == 0 {
			return fmt.Errorf("--cohort is required")
		}
		r, err := buildReport(cmd)
		if err != nil {
			return err
		}
		return write(cmd.OutOrStdout(), r.Survival, func(w io.Writer) error {
			for _, curve := range r.Survival {
				fmt.Fprintf(w, "Cohort %d (%s funds)\n", curve.Cohort, humanize.Comma(int64(curve.Size)))
				if err := report.WriteSurvival(w, curve); err != nil {
					return err
				}
				fmt.Fprintln(w)
			}
			return nil
		})
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Funds registered, deregistered or merged in a period",
	Example: `  survivorship events -s fondos.xlsx --year 2008
  survivorship events -s fondos.xlsx --year 2020 --months 3,4 --type deregistration`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := applyFlags(cmd); err != nil {
			return err
		}
		filters, err := eventFilters(eventYear, cfg.Aggregate.Months, eventTypes)
		if err != nil {
			return err
		}
		ds, err := loadDataset(cmd.Context())
		if err != nil {
			return err
		}
		groups := groupEvents(aggregate.Apply(ds.Events, filters...))
		return write(cmd.OutOrStdout(), groups, func(w io.Writer) error {
			return writeEventGroups(w, groups)
		})
	},
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the SQLite load cache",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached datasets, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		infos, err := s.Datasets()
		if err != nil {
			return err
		}
		return write(cmd.OutOrStdout(), infos, func(w io.Writer) error {
			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tSOURCE\tEVENTS\tLOADED")
			for _, info := range infos {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", info.RunID, info.Source,
					humanize.Comma(int64(info.Events)), humanize.Time(info.LoadedAt))
			}
			return tw.Flush()
		})
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached dataset",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		return s.Clear()
	},
}

func init() {
	for _, c := range []*cobra.Command{reportCmd, snapshotsCmd, lifecyclesCmd, flaggedCmd, survivalCmd, eventsCmd, cacheListCmd} {
		addFormatFlag(c)
	}
	for _, c := range []*cobra.Command{reportCmd, snapshotsCmd} {
		addAggregateFlags(c)
	}
	for _, c := range []*cobra.Command{reportCmd, survivalCmd} {
		addSurvivalFlags(c)
	}

	lifecyclesCmd.Flags().StringVar(&statusFilter, "status", "", "Only active or liquidated lifecycles")

	eventsCmd.Flags().IntVar(&eventYear, "year", 0, "Only events of this year (default: aggregate.year_from..year_to)")
	eventsCmd.Flags().IntSliceVar(&months, "months", nil, "Only events in these calendar months")
	eventsCmd.Flags().StringSliceVar(&eventTypes, "type", nil, "Only these event types: registration, deregistration, merger")

	cacheCmd.AddCommand(cacheListCmd, cacheClearCmd)
}

func addFormatFlag(c *cobra.Command) {
	c.Flags().StringVarP(&outputFormat, "format", "f", "text", "Output format: text or json")
}

func addAggregateFlags(c *cobra.Command) {
	c.Flags().StringVarP(&granularity, "granularity", "g", "", "Bucket size: year, quarter, month or week")
	c.Flags().IntVar(&yearFrom, "from", 0, "First year to aggregate")
	c.Flags().IntVar(&yearTo, "to", 0, "Last year to aggregate")
	c.Flags().IntSliceVar(&months, "months", nil, "Only aggregate these calendar months")
	c.Flags().StringVar(&macroPeriod, "period", "", "Only aggregate a named macro period ("+periodNames()+")")
	c.Flags().IntVar(&monthlyYear, "monthly-year", 0, "Add a 12-month detail for this year")
}

func addSurvivalFlags(c *cobra.Command) {
	c.Flags().IntSliceVar(&cohorts, "cohort", nil, "Registration year to trace (repeatable)")
	c.Flags().IntVar(&throughYear, "through", 0, "Last year of the survival curves")
}

// applyFlags lets command-line flags override the loaded configuration.
func applyFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	if flags.Changed("granularity") {
		cfg.Aggregate.Granularity = granularity
	}
	if flags.Changed("from") {
		cfg.Aggregate.YearFrom = yearFrom
	}
	if flags.Changed("to") {
		cfg.Aggregate.YearTo = yearTo
	}
	if flags.Changed("months") {
		cfg.Aggregate.Months = months
	}
	if flags.Changed("period") {
		cfg.Aggregate.MacroPeriod = macroPeriod
	}
	if flags.Changed("monthly-year") {
		cfg.Aggregate.MonthlyYear = monthlyYear
	}
	if flags.Changed("cohort") {
		cfg.Survival.Cohorts = cohorts
	}
	if flags.Changed("through") {
		cfg.Survival.ThroughYear = throughYear
	}
	if outputFormat != "text" && outputFormat != "json" {
		return fmt.Errorf("--format must be text or json")
	}
	return cfg.Validate()
}

func buildReport(cmd *cobra.Command) (*report.Report, error) {
	if err := applyFlags(cmd); err != nil {
		return nil, err
	}
	ds, err := loadDataset(cmd.Context())
	if err != nil {
		return nil, err
	}
	g, err := models.ParseGranularity(cfg.Aggregate.Granularity)
	if err != nil {
		return nil, err
	}
	return report.Build(ds, report.Options{
		Granularity:     g,
		Filters:         cfg.Filters(),
		Aggregate:       cfg.AggregateOptions(),
		Lifecycle:       cfg.LifecycleOptions(),
		MonthlyYear:     cfg.Aggregate.MonthlyYear,
		Cohorts:         cfg.Survival.Cohorts,
		SurvivalThrough: cfg.Survival.ThroughYear,
	})
}

func buildLifecycles(cmd *cobra.Command) (lifecycle.Result, error) {
	if err := applyFlags(cmd); err != nil {
		return lifecycle.Result{}, err
	}
	ds, err := loadDataset(cmd.Context())
	if err != nil {
		return lifecycle.Result{}, err
	}
	return lifecycle.Build(ds.Events, cfg.LifecycleOptions()), nil
}

// write emits v as JSON or calls text.
func write(w io.Writer, v interface{}, text func(io.Writer) error) error {
	if outputFormat == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return text(w)
}

// filterStatus keeps the lifecycles with the given status; empty keeps all.
func filterStatus(records []models.Lifecycle, status string) ([]models.Lifecycle, error) {
	if status == "" {
		return records, nil
	}
	want := models.Status(strings.ToUpper(strings.TrimSpace(status)))
	if want != models.Active && want != models.Liquidated {
		return nil, fmt.Errorf("--status must be active or liquidated")
	}
	kept := records[:0:0]
	for _, r := range records {
		if r.Status == want {
			kept = append(kept, r)
		}
	}
	return kept, nil
}

// eventFilters builds the events command filters. A zero year falls back to
// the configured year range.
func eventFilters(year int, months []int, types []string) ([]aggregate.Filter, error) {
	from, to := cfg.Aggregate.YearFrom, cfg.Aggregate.YearTo
	if year != 0 {
		from, to = year, year
	}
	parsed := make([]models.EventType, 0, len(types))
	for _, t := range types {
		typ, err := models.ParseEventType(t)
		if err != nil {
			return nil, fmt.Errorf("--type: %w", err)
		}
		parsed = append(parsed, typ)
	}
	return []aggregate.Filter{
		aggregate.YearRange(from, to),
		aggregate.Months(months...),
		aggregate.Types(parsed...),
	}, nil
}

type eventGroups struct {
	Registrations   []models.Event `json:"registrations"`
	Deregistrations []models.Event `json:"deregistrations"`
	Mergers         []models.Event `json:"mergers"`
}

// groupEvents splits events by type, each group ordered by date then registry number.
func groupEvents(events []models.Event) eventGroups {
	sorted := slices.Clone(events)
	slices.SortStableFunc(sorted, func(a, b models.Event) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return strings.Compare(a.EntityID, b.EntityID)
	})
	g := eventGroups{
		Registrations:   []models.Event{},
		Deregistrations: []models.Event{},
		Mergers:         []models.Event{},
	}
	for _, e := range sorted {
		switch e.Type {
		case models.Registration:
			g.Registrations = append(g.Registrations, e)
		case models.Deregistration:
			g.Deregistrations = append(g.Deregistrations, e)
		case models.Merger:
			g.Mergers = append(g.Mergers, e)
		}
	}
	return g
}

func writeEventGroups(w io.Writer, g eventGroups) error {
	sections := []struct {
		title  string
		events []models.Event
	}{
		{"Registrations", g.Registrations},
		{"Deregistrations", g.Deregistrations},
		{"Mergers", g.Mergers},
	}
	for i, sec := range sections {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s (%s)\n", sec.title, humanize.Comma(int64(len(sec.events))))
		if len(sec.events) == 0 {
			fmt.Fprintln(w, "  none")
			continue
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "REGISTRO\tNAME\tDATE")
		for _, e := range sec.events {
			id := e.EntityID
			if id == "" {
				id = "-"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", id, e.Name, e.Date.Format("2006-01-02"))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func writeLifecycles(w io.Writer, records []models.Lifecycle) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "REGISTRO\tNAME\tREGISTERED\tDEREGISTERED\tTENURE\tSTATUS")
	for _, r := range records {
		dereg, tenure := "-", "-"
		if r.FirstDeregistration != nil {
			dereg = r.FirstDeregistration.Format("2006-01-02")
		}
		if r.TenureYears != nil {
			tenure = fmt.Sprintf("%.2f", *r.TenureYears)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.EntityID, r.Name,
			r.FirstRegistration.Format("2006-01-02"), dereg, tenure, r.Status)
	}
	return tw.Flush()
}

func writeFlagged(w io.Writer, flagged []models.FlaggedRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "REGISTRO\tNAME\tREASON\tTENURE\tREGISTERED\tDEREGISTERED")
	for _, f := range flagged {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%s\t%s\n", f.EntityID, f.Name, f.Reason, f.TenureYears,
			f.FirstRegistration.Format("2006-01-02"), f.FirstDeregistration.Format("2006-01-02"))
	}
	return tw.Flush()
}

func periodNames() string {
	names := make([]string, len(aggregate.DefaultMacroPeriods))
	for i, p := range aggregate.DefaultMacroPeriods {
		names[i] = p.Name
	}
	return strings.Join(names, ", ")
}
