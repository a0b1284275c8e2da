package lifecycle

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rewired-gh/survivorship/internal/models"
)

var (
	ErrEmptyCohort  = errors.New("cohort has no funds")
	ErrInvalidRange = errors.New("survival horizon precedes cohort year")
)

// Survival follows the funds first registered in cohort year through year `through`.
// A fund deregistered during year Y is counted dead from offset Y-cohort onwards,
// so the surviving fraction never increases.
func Survival(records []models.Lifecycle, cohort, through int) (models.SurvivalCurve, error) {
	if through < cohort {
		return models.SurvivalCurve{}, fmt.Errorf("cohort %d through %d: %w", cohort, through, ErrInvalidRange)
	}

	// deaths[k] is the number of members that died at offset k; offsets past the
	// horizon are never counted.
	horizon := through - cohort
	deaths := make([]int, horizon+1)
	size := 0
	for i := range records {
		r := &records[i]
		if r.CohortYear() != cohort {
			continue
		}
		size++
		if r.FirstDeregistration == nil {
			continue
		}
		k := r.FirstDeregistration.Year() - cohort
		if k < 0 {
			k = 0
		}
		if k <= horizon {
			deaths[k]++
		}
	}
	if size == 0 {
		return models.SurvivalCurve{}, fmt.Errorf("cohort %d: %w", cohort, ErrEmptyCohort)
	}

	curve := models.SurvivalCurve{Cohort: cohort, Size: size, Points: make([]models.SurvivalPoint, horizon+1)}
	alive := size
	for k := 0; k <= horizon; k++ {
		alive -= deaths[k]
		curve.Points[k] = models.SurvivalPoint{
			Offset:    k,
			Year:      cohort + k,
			Survivors: alive,
			Fraction:  float64(alive) / float64(size),
		}
	}
	return curve, nil
}

// Cohorts summarizes outcomes per registration year, ascending.
func Cohorts(records []models.Lifecycle) []models.CohortSummary {
	type acc struct {
		models.CohortSummary
		tenure welford
	}
	byYear := make(map[int]*acc)
	for i := range records {
		r := &records[i]
		y := r.CohortYear()
		a, ok := byYear[y]
		if !ok {
			a = &acc{CohortSummary: models.CohortSummary{Cohort: y}}
			byYear[y] = a
		}
		a.Size++
		if r.Status == models.Liquidated {
			a.Liquidated++
			if r.TenureYears != nil {
				a.tenure.add(*r.TenureYears)
			}
		} else {
			a.Active++
		}
	}

	out := make([]models.CohortSummary, 0, len(byYear))
	for _, a := range byYear {
		s := a.CohortSummary
		s.MortalityRate = models.Rate(s.Liquidated, s.Size)
		s.MeanTenureYears = a.tenure.mean
		s.TenureStdDevYears = a.tenure.stddev()
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cohort < out[j].Cohort })
	return out
}
