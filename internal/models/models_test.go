package models

import (
	"math"
	"testing"
	"time"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestEventValidate(t *testing.T) {
	tests := []struct {
		name    string
		event   Event
		wantErr bool
	}{
		{
			name:    "valid registration",
			event:   NewEvent("1234", "Fondo A", Registration, day(2005, time.March, 3)),
			wantErr: false,
		},
		{
			name:    "missing entity id is allowed",
			event:   NewEvent("", "Fondo B", Deregistration, day(2010, time.June, 1)),
			wantErr: false,
		},
		{
			name:    "unknown type",
			event:   NewEvent("1", "Fondo C", EventType("transfer"), day(2010, time.June, 1)),
			wantErr: true,
		},
		{
			name:    "zero date",
			event:   Event{EntityID: "1", Type: Merger},
			wantErr: true,
		},
		{
			name: "stale calendar fields",
			event: Event{
				EntityID: "1",
				Type:     Merger,
				Date:     day(2011, time.May, 2),
				Year:     2010,
				Month:    5,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Event.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewEventDecompose(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	e := NewEvent("7", "Fondo", Registration, time.Date(2008, time.February, 29, 23, 30, 0, 0, loc))
	if e.Year != 2008 || e.Month != 2 || e.YearMonth != "2008-02" {
		t.Errorf("unexpected decomposition: %d %d %s", e.Year, e.Month, e.YearMonth)
	}
	if !e.Date.Equal(day(2008, time.February, 29)) {
		t.Errorf("date not truncated to UTC day: %v", e.Date)
	}
}

func TestParseEventType(t *testing.T) {
	if got, err := ParseEventType(" Merger "); err != nil || got != Merger {
		t.Errorf("ParseEventType(Merger) = %q, %v", got, err)
	}
	if _, err := ParseEventType("alta"); err == nil {
		t.Error("expected error for non-canonical type")
	}
}

func TestPeriodKeys(t *testing.T) {
	tests := []struct {
		g         Granularity
		date      time.Time
		wantKey   string
		wantStart time.Time
	}{
		{Yearly, day(2005, time.July, 9), "2005", day(2005, time.January, 1)},
		{Quarterly, day(2005, time.July, 9), "2005-Q3", day(2005, time.July, 1)},
		{Monthly, day(2005, time.July, 9), "2005-07", day(2005, time.July, 1)},
		{Weekly, day(2005, time.July, 9), "2005-W27", day(2005, time.July, 4)},
		// January 1st 2010 belongs to ISO week 53 of 2009.
		{Weekly, day(2010, time.January, 1), "2009-W53", day(2009, time.December, 28)},
		{Weekly, day(2008, time.December, 30), "2009-W01", day(2008, time.December, 29)},
	}

	for _, tt := range tests {
		t.Run(tt.wantKey, func(t *testing.T) {
			k := KeyFor(tt.g, tt.date)
			if k.String() != tt.wantKey {
				t.Errorf("key = %s, want %s", k, tt.wantKey)
			}
			if !k.Start().Equal(tt.wantStart) {
				t.Errorf("start = %v, want %v", k.Start(), tt.wantStart)
			}
			if tt.date.Before(k.Start()) {
				t.Errorf("date %v precedes bucket start %v", tt.date, k.Start())
			}
		})
	}
}

func TestParseGranularity(t *testing.T) {
	for in, want := range map[string]Granularity{
		"year": Yearly, "Quarterly": Quarterly, "months": Monthly, "week": Weekly,
	} {
		got, err := ParseGranularity(in)
		if err != nil || got != want {
			t.Errorf("ParseGranularity(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseGranularity("decade"); err == nil {
		t.Error("expected error for unknown granularity")
	}
}

func TestRateZeroDenominator(t *testing.T) {
	if r := MortalityRate(0, 12); r != 0 {
		t.Errorf("MortalityRate(0, 12) = %v, want 0", r)
	}
	if r := MortalityRate(4, 5); math.Abs(r-125) > 1e-9 {
		t.Errorf("MortalityRate(4, 5) = %v, want 125", r)
	}
}

func TestDatasetClone(t *testing.T) {
	ds := &Dataset{
		Events: []Event{NewEvent("1", "A", Registration, day(2004, time.May, 1))},
		Report: LoadReport{Dropped: map[DropReason]int{DropInvalidDate: 2}},
	}
	c := ds.Clone()
	c.Events[0].Name = "changed"
	c.Report.Dropped[DropInvalidDate] = 9

	if ds.Events[0].Name != "A" {
		t.Error("clone shares events with original")
	}
	if ds.Report.Dropped[DropInvalidDate] != 2 {
		t.Error("clone shares dropped counts with original")
	}
	if c.Report.DroppedTotal() != 9 {
		t.Errorf("DroppedTotal = %d, want 9", c.Report.DroppedTotal())
	}
}
