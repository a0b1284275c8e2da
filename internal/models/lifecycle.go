package models

import "time"

// Status of a fund lifecycle.
type Status string

const (
	Active     Status = "ACTIVE"
	Liquidated Status = "LIQUIDATED"
)

// FlagReason explains why a lifecycle was excluded from statistics.
type FlagReason string

const (
	NegativeTenure  FlagReason = "NEGATIVE_TENURE"
	ExcessiveTenure FlagReason = "EXCESSIVE_TENURE"
)

// DaysPerYear converts day spans into tenure years.
const DaysPerYear = 365.25

// Lifecycle is the derived history of one registry number.
type Lifecycle struct {
	EntityID            string     `json:"entity_id"`
	Name                string     `json:"name"`
	FirstRegistration   time.Time  `json:"first_registration_date"`
	FirstDeregistration *time.Time `json:"first_deregistration_date,omitempty"`
	TenureYears         *float64   `json:"tenure_years,omitempty"`
	ElapsedYears        *float64   `json:"elapsed_years,omitempty"`
	Status              Status     `json:"status"`
	Manager             string     `json:"manager,omitempty"`
	Depositary          string     `json:"depositary,omitempty"`
	RegistrationCount   int        `json:"registration_count"`
}

// CohortYear is the calendar year of the first registration.
func (l *Lifecycle) CohortYear() int {
	return l.FirstRegistration.Year()
}

// FlaggedRecord is a lifecycle that failed the quality gate.
type FlaggedRecord struct {
	EntityID            string     `json:"entity_id"`
	Name                string     `json:"name"`
	Reason              FlagReason `json:"reason"`
	TenureYears         float64    `json:"tenure_years"`
	FirstRegistration   time.Time  `json:"first_registration_date"`
	FirstDeregistration time.Time  `json:"first_deregistration_date"`
}

// SurvivalPoint is one step of a cohort survival curve.
type SurvivalPoint struct {
	Offset    int     `json:"offset"`
	Year      int     `json:"year"`
	Survivors int     `json:"survivors"`
	Fraction  float64 `json:"fraction"`
}

// SurvivalCurve is the survival of one registration cohort.
type SurvivalCurve struct {
	Cohort int             `json:"cohort"`
	Size   int             `json:"size"`
	Points []SurvivalPoint `json:"points"`
}

// CohortSummary counts outcomes of the funds first registered in a year.
type CohortSummary struct {
	Cohort            int     `json:"cohort"`
	Size              int     `json:"size"`
	Active            int     `json:"active"`
	Liquidated        int     `json:"liquidated"`
	MortalityRate     float64 `json:"mortality_rate"`
	MeanTenureYears   float64 `json:"mean_tenure_years"`
	TenureStdDevYears float64 `json:"tenure_stddev_years"`
}
