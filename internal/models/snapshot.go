package models

// Snapshot holds the counts of one period bucket.
type Snapshot struct {
	Period          PeriodKey `json:"period"`
	Registrations   int       `json:"registrations"`
	Deregistrations int       `json:"deregistrations"`
	Mergers         int       `json:"mergers"`
	NetChange       int       `json:"net_change"`
	MortalityRate   float64   `json:"mortality_rate"`
	CumulativeNet   int       `json:"cumulative_net"`
}

// Totals summarizes a whole event range.
type Totals struct {
	Registrations   int     `json:"registrations"`
	Deregistrations int     `json:"deregistrations"`
	Mergers         int     `json:"mergers"`
	NetChange       int     `json:"net_change"`
	MortalityRate   float64 `json:"mortality_rate"`
	ExitRate        float64 `json:"exit_rate"`
}

// Rate returns part/whole*100. A zero denominator yields 0 rather than NaN or Inf
// so reported rates never carry special values.
func Rate(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}

// MortalityRate is deregistrations per hundred registrations, 0 when nothing registered.
func MortalityRate(registrations, deregistrations int) float64 {
	return Rate(deregistrations, registrations)
}
