package models

import "time"

// DropReason explains why a source row produced no event.
type DropReason string

const (
	DropUnmatchedFilename DropReason = "unmatched_filename"
	DropInvalidDate       DropReason = "invalid_date"
	DropUnclassified      DropReason = "unclassified"
)

// RowIssue records one dropped row for auditing.
type RowIssue struct {
	Sheet  string     `json:"sheet,omitempty"`
	Row    int        `json:"row"`
	Reason DropReason `json:"reason"`
	Value  string     `json:"value"`
}

// LoadReport describes what the loader did with a source.
type LoadReport struct {
	Source          string             `json:"source"`
	ContentHash     string             `json:"content_hash,omitempty"`
	RowsRead        int                `json:"rows_read"`
	Loaded          int                `json:"loaded"`
	Filtered        int                `json:"filtered"`
	MissingEntityID int                `json:"missing_entity_id"`
	Dropped         map[DropReason]int `json:"dropped"`
	Samples         []RowIssue         `json:"samples,omitempty"`
}

// DroppedTotal sums dropped rows over all reasons.
func (r *LoadReport) DroppedTotal() int {
	n := 0
	for _, c := range r.Dropped {
		n += c
	}
	return n
}

// Dataset is the normalized event set of one source.
type Dataset struct {
	RunID    string     `json:"run_id,omitempty"`
	LoadedAt time.Time  `json:"loaded_at"`
	Events   []Event    `json:"events"`
	Report   LoadReport `json:"report"`
}

// Clone returns a deep copy so cached datasets are never shared mutably.
func (d *Dataset) Clone() *Dataset {
	if d == nil {
		return nil
	}
	c := *d
	c.Events = append([]Event(nil), d.Events...)
	c.Report.Dropped = make(map[DropReason]int, len(d.Report.Dropped))
	for k, v := range d.Report.Dropped {
		c.Report.Dropped[k] = v
	}
	c.Report.Samples = append([]RowIssue(nil), d.Report.Samples...)
	return &c
}
