package aggregate

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/survivorship/internal/models"
)

func ev(id string, typ models.EventType, y int, m time.Month, d int) models.Event {
	return models.NewEvent(id, "Fondo "+id, typ, time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
}

// randomEvents builds a reproducible event set spanning 2004–2025.
func randomEvents(n int, seed int64) []models.Event {
	rng := rand.New(rand.NewSource(seed))
	events := make([]models.Event, n)
	for i := range events {
		typ := models.EventTypes[rng.Intn(len(models.EventTypes))]
		d := time.Date(2004+rng.Intn(22), time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, rng.Intn(365))
		events[i] = models.NewEvent("", "", typ, d)
	}
	return events
}

func TestAggregate_YearlyExample(t *testing.T) {
	events := []models.Event{
		ev("A", models.Registration, 2004, time.June, 30),
		ev("B", models.Registration, 2005, time.March, 31),
		ev("B", models.Registration, 2005, time.December, 31),
		ev("B", models.Deregistration, 2010, time.September, 30),
		ev("A", models.Deregistration, 2030, time.January, 31),
	}

	snaps := Aggregate(events, models.Yearly, DefaultOptions())
	require.Len(t, snaps, 4)

	years := []int{2004, 2005, 2010, 2030}
	for i, y := range years {
		assert.Equal(t, y, snaps[i].Period.Year)
	}
	// Buckets count registry rows, so B's re-registration counts twice in 2005
	// even though B is the only fund registering that year.
	assert.Equal(t, 2, snaps[1].Registrations)
	assert.Equal(t, 0, snaps[1].Deregistrations)
	assert.Equal(t, 2, snaps[1].NetChange)
	entities := map[string]bool{}
	for _, e := range Apply(events, YearRange(2005, 2005), Types(models.Registration)) {
		entities[e.EntityID] = true
	}
	assert.Equal(t, map[string]bool{"B": true}, entities)
	assert.Equal(t, []int{1, 3, 2, 1}, cumulative(snaps))
}

func TestAggregate_Conservation(t *testing.T) {
	events := randomEvents(5000, 42)
	for _, g := range []models.Granularity{models.Yearly, models.Quarterly, models.Monthly, models.Weekly} {
		t.Run(string(g), func(t *testing.T) {
			snaps := Aggregate(events, g, DefaultOptions())
			total := 0
			for i, s := range snaps {
				assert.Equal(t, s.Registrations-s.Deregistrations-s.Mergers, s.NetChange, s.Period.String())
				total += s.Registrations + s.Deregistrations + s.Mergers
				if i > 0 {
					assert.True(t, snaps[i-1].Period.Before(s.Period), "buckets out of order at %s", s.Period)
				}
				assert.False(t, math.IsNaN(s.MortalityRate) || math.IsInf(s.MortalityRate, 0))
			}
			assert.Equal(t, len(events), total, "every event lands in exactly one bucket")
		})
	}
}

func TestCumulative_PrefixSum(t *testing.T) {
	snaps := Aggregate(randomEvents(800, 7), models.Monthly, DefaultOptions())
	require.NotEmpty(t, snaps)

	assert.Equal(t, snaps[0].NetChange, snaps[0].CumulativeNet)
	for i := 1; i < len(snaps); i++ {
		assert.Equal(t, snaps[i-1].CumulativeNet+snaps[i].NetChange, snaps[i].CumulativeNet)
	}

	again := Cumulative(Cumulative(snaps))
	if diff := cmp.Diff(snaps, again); diff != "" {
		t.Errorf("Cumulative is not idempotent (-first +again):\n%s", diff)
	}
}

func TestCumulative_DoesNotMutateInput(t *testing.T) {
	in := []models.Snapshot{{NetChange: 3}, {NetChange: -5}}
	out := Cumulative(in)
	assert.Equal(t, 0, in[1].CumulativeNet)
	assert.Equal(t, -2, out[1].CumulativeNet)
}

func TestAggregate_ZeroRegistrations(t *testing.T) {
	events := []models.Event{
		ev("1", models.Deregistration, 2012, time.May, 31),
		ev("2", models.Deregistration, 2012, time.June, 30),
		ev("3", models.Merger, 2012, time.June, 30),
	}

	snaps := Aggregate(events, models.Yearly, DefaultOptions())
	require.Len(t, snaps, 1)
	assert.Equal(t, 0.0, snaps[0].MortalityRate)
	assert.Equal(t, -3, snaps[0].NetChange)
}

func TestAggregate_MortalityRate(t *testing.T) {
	events := []models.Event{
		ev("1", models.Registration, 2009, time.January, 31),
		ev("2", models.Registration, 2009, time.February, 28),
		ev("3", models.Deregistration, 2009, time.March, 31),
		ev("4", models.Deregistration, 2009, time.March, 31),
		ev("5", models.Deregistration, 2009, time.April, 30),
		ev("6", models.Merger, 2009, time.April, 30),
	}

	snaps := Aggregate(events, models.Yearly, DefaultOptions())
	require.Len(t, snaps, 1)
	assert.InDelta(t, 150.0, snaps[0].MortalityRate, 1e-9, "mergers do not count as deaths")
	assert.Equal(t, -2, snaps[0].NetChange)

	folded := Aggregate(events, models.Yearly, Options{TrackMergers: false})
	assert.Equal(t, 0, folded[0].Mergers)
	assert.Equal(t, 4, folded[0].Deregistrations)
	assert.Equal(t, -2, folded[0].NetChange, "net change is the same either way")
}

func TestAggregate_QuarterAndWeekKeys(t *testing.T) {
	events := []models.Event{
		ev("1", models.Registration, 2010, time.January, 1),
		ev("2", models.Registration, 2010, time.March, 31),
		ev("3", models.Registration, 2010, time.April, 5),
	}

	q := Aggregate(events, models.Quarterly, DefaultOptions())
	require.Len(t, q, 2)
	assert.Equal(t, "2010-Q1", q[0].Period.String())
	assert.Equal(t, 2, q[0].Registrations)

	w := Aggregate(events, models.Weekly, DefaultOptions())
	require.Len(t, w, 3)
	assert.Equal(t, "2009-W53", w[0].Period.String())
}

func TestMonthlyDetail_BackFills(t *testing.T) {
	events := []models.Event{
		ev("1", models.Registration, 2015, time.February, 28),
		ev("2", models.Deregistration, 2015, time.November, 30),
		ev("3", models.Registration, 2016, time.February, 29),
	}

	months := MonthlyDetail(events, 2015, DefaultOptions())
	require.Len(t, months, 12)
	for i, s := range months {
		assert.Equal(t, i+1, s.Period.Sub)
	}
	assert.Equal(t, 1, months[1].Registrations)
	assert.Equal(t, 1, months[10].Deregistrations)
	assert.Equal(t, 0, months[5].Registrations+months[5].Deregistrations)
	assert.Equal(t, 0, months[11].CumulativeNet)
}

func TestFilters(t *testing.T) {
	events := []models.Event{
		ev("1", models.Registration, 2008, time.December, 31),
		ev("2", models.Registration, 2009, time.January, 31),
		ev("3", models.Deregistration, 2012, time.June, 30),
		ev("4", models.Merger, 2015, time.December, 31),
		ev("5", models.Deregistration, 2016, time.January, 31),
	}

	crisis, ok := FindPeriod(DefaultMacroPeriods, "Financial_Crisis")
	require.True(t, ok)
	assert.Len(t, Apply(events, InPeriod(crisis)), 3)

	assert.Len(t, Apply(events, YearRange(2012, 0)), 3)
	assert.Len(t, Apply(events, YearRange(0, 2009)), 2)
	assert.Len(t, Apply(events, Months(1, 6)), 3)
	assert.Len(t, Apply(events, Months()), 5)
	assert.Len(t, Apply(events, Types(models.Deregistration)), 2)
	assert.Len(t, Apply(events, YearRange(2009, 2016), Months(1), nil), 2)

	_, ok = FindPeriod(DefaultMacroPeriods, "dotcom")
	assert.False(t, ok)
}

func TestFilters_PreFilterMatchesSubset(t *testing.T) {
	events := randomEvents(2000, 99)
	filtered := Apply(events, YearRange(2010, 2012))
	snaps := Aggregate(filtered, models.Yearly, DefaultOptions())
	require.Len(t, snaps, 3)

	all := Aggregate(events, models.Yearly, DefaultOptions())
	for _, s := range all {
		if s.Period.Year == 2010 {
			assert.Equal(t, s.Registrations, snaps[0].Registrations)
			assert.Equal(t, s.NetChange, snaps[0].NetChange)
			assert.Equal(t, s.NetChange, snaps[0].CumulativeNet, "running total restarts inside the filtered range")
		}
	}
}

func TestSummarize(t *testing.T) {
	events := []models.Event{
		ev("1", models.Registration, 2004, time.May, 31),
		ev("2", models.Registration, 2005, time.May, 31),
		ev("3", models.Registration, 2006, time.May, 31),
		ev("4", models.Registration, 2007, time.May, 31),
		ev("1", models.Deregistration, 2010, time.May, 31),
		ev("2", models.Merger, 2011, time.May, 31),
	}

	tot := Summarize(events, DefaultOptions())
	assert.Equal(t, 4, tot.Registrations)
	assert.Equal(t, 2, tot.NetChange)
	assert.InDelta(t, 25.0, tot.MortalityRate, 1e-9)
	assert.InDelta(t, 50.0, tot.ExitRate, 1e-9)

	empty := Summarize(nil, DefaultOptions())
	assert.Equal(t, 0.0, empty.ExitRate)
}

func cumulative(snaps []models.Snapshot) []int {
	out := make([]int, len(snaps))
	for i, s := range snaps {
		out[i] = s.CumulativeNet
	}
	return out
}
