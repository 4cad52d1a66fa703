package model

import (
	"github.com/PennBBL/GAMM-Tutorial/domain/formula"

	"github.com/montanaflynn/stats"
)

// NullSummary describes the simulated reference distribution.
type NullSummary struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	P95    float64 `json:"p95"`
}

// Summarize computes a NullSummary for a reference distribution.
func Summarize(reference []float64) (NullSummary, error) {
	data := stats.Float64Data(reference)
	var s NullSummary
	var err error
	if s.Mean, err = data.Mean(); err != nil {
		return NullSummary{}, err
	}
	if s.StdDev, err = data.StandardDeviationSample(); err != nil {
		s.StdDev = 0
	}
	if s.Min, err = data.Min(); err != nil {
		return NullSummary{}, err
	}
	if s.Max, err = data.Max(); err != nil {
		return NullSummary{}, err
	}
	if s.P95, err = data.Percentile(95); err != nil {
		return NullSummary{}, err
	}
	return s, nil
}

// BootstrapResult is the outcome of a parametric bootstrap likelihood
// ratio test between a full spec and the spec without its last term.
type BootstrapResult struct {
	FullSpec    formula.ModelSpec `json:"-"`
	ReducedSpec formula.ModelSpec `json:"-"`
	BestSpec    formula.ModelSpec `json:"-"`

	Observed  float64     `json:"observed"`
	Reference []float64   `json:"reference"`
	PValue    float64     `json:"p_value"`
	SimCount  int         `json:"sim_count"`
	Seed      uint64      `json:"seed"`
	Alpha     float64     `json:"alpha"`
	Null      NullSummary `json:"null"`

	// Failed counts replicates whose refit did not converge. They are
	// excluded from Reference.
	Failed int `json:"failed"`
}

// FullSelected reports whether the verdict kept the full model.
func (r *BootstrapResult) FullSelected() bool {
	return r.PValue < r.Alpha
}

// PValueFrom computes (#{ref >= observed} + 1) / (len(ref) + 1), which is
// never zero.
func PValueFrom(reference []float64, observed float64) float64 {
	count := 0
	for _, v := range reference {
		if v >= observed {
			count++
		}
	}
	return float64(count+1) / float64(len(reference)+1)
}
