// Package model holds the immutable results produced by fitting, comparing
// and differentiating additive mixed models.
package model

import (
	"fmt"
	"strings"

	"github.com/PennBBL/GAMM-Tutorial/domain/core"
	"github.com/PennBBL/GAMM-Tutorial/domain/dataset"
	"github.com/PennBBL/GAMM-Tutorial/domain/formula"

	"gonum.org/v1/gonum/mat"
)

// Method records how smoothing parameters were chosen.
type Method string

const (
	MethodREML  Method = "REML"
	MethodML    Method = "ML"
	MethodFixed Method = "fixed" // nothing to estimate
)

// CoefficientRow is one line of the parametric coefficient table.
type CoefficientRow struct {
	Term      string  `json:"term"`
	Estimate  float64 `json:"estimate"`
	StdError  float64 `json:"std_error"`
	DF        float64 `json:"df"`
	Statistic float64 `json:"statistic"`
	PValue    float64 `json:"p_value"`
}

// SmoothRow is one line of the approximate significance table for smooth
// terms. Source is the label of the formula term the row came from; a
// factor-by smooth yields one row per level.
type SmoothRow struct {
	Term   string  `json:"term"`
	Source string  `json:"source"`
	EDF    float64 `json:"edf"`
	RefDF  float64 `json:"ref_df"`
	F      float64 `json:"f"`
	PValue float64 `json:"p_value"`
}

// RandomEffects summarises the random intercept structure.
type RandomEffects struct {
	GroupVar          dataset.GroupKey `json:"group_var"`
	Groups            int              `json:"groups"`
	InterceptVariance float64          `json:"intercept_variance"`
	ResidualVariance  float64          `json:"residual_variance"`
}

// Stats are fit quality measures.
type Stats struct {
	N           int     `json:"n"`
	EDF         float64 `json:"edf"`
	LogLik      float64 `json:"log_lik"`
	AIC         float64 `json:"aic"`
	BIC         float64 `json:"bic"`
	REML        float64 `json:"reml"`
	Scale       float64 `json:"scale"`
	RSquaredAdj float64 `json:"r_squared_adj"`
}

// TermBlock locates the design columns belonging to one table row.
type TermBlock struct {
	Label     string
	Source    string
	Start     int
	End       int
	Smooth    bool
	Penalized bool
}

// Width returns the number of columns in the block
func (b TermBlock) Width() int { return b.End - b.Start }

// Basis rebuilds the fixed-effects design for new data using the knots,
// constraints and factor levels fixed at fit time.
type Basis interface {
	Expand(data *dataset.Dataset) (*mat.Dense, error)
}

// FittedModel is the canonical result of one fit. It is never mutated
// after the fitter returns it.
type FittedModel struct {
	ID            core.ID
	Spec          formula.ModelSpec
	Method        Method
	Coefficients  []CoefficientRow
	Smooths       []SmoothRow
	RandomEffects RandomEffects
	Stats         Stats

	// Design is the fixed-effects design matrix (intercept, parametric
	// columns and constrained smooth bases) for the fitted rows.
	Design     *mat.Dense
	Blocks     []TermBlock
	Beta       []float64
	Covariance *mat.SymDense
	Lambda     []float64
	Fitted     []float64
	Data       *dataset.Dataset
	Basis      Basis
}

// PredictMatrix maps new data onto the fixed-effects columns.
func (m *FittedModel) PredictMatrix(data *dataset.Dataset) (*mat.Dense, error) {
	if m.Basis == nil {
		return nil, fmt.Errorf("model %s has no basis", m.Spec)
	}
	return m.Basis.Expand(data)
}

// Coef returns a copy of the fixed-effects coefficients
func (m *FittedModel) Coef() []float64 {
	return append([]float64(nil), m.Beta...)
}

// Cov returns the Bayesian posterior covariance of the fixed effects.
func (m *FittedModel) Cov() *mat.SymDense {
	return m.Covariance
}

// TrainingData returns the rows the model was fitted on.
func (m *FittedModel) TrainingData() *dataset.Dataset {
	return m.Data
}

// Coefficient finds a parametric row by name.
func (m *FittedModel) Coefficient(term string) (CoefficientRow, bool) {
	for _, r := range m.Coefficients {
		if r.Term == term {
			return r, true
		}
	}
	return CoefficientRow{}, false
}

// Smooth finds a smooth row by its table label.
func (m *FittedModel) Smooth(term string) (SmoothRow, bool) {
	for _, r := range m.Smooths {
		if r.Term == term {
			return r, true
		}
	}
	return SmoothRow{}, false
}

// SmoothsFor returns the rows generated by the given formula term.
func (m *FittedModel) SmoothsFor(t formula.Term) []SmoothRow {
	var out []SmoothRow
	label := t.Label()
	for _, r := range m.Smooths {
		if r.Source == label {
			out = append(out, r)
		}
	}
	return out
}

// CoefficientsFor returns the parametric rows whose name starts with the
// variable, covering factor dummies such as sexmale.
func (m *FittedModel) CoefficientsFor(v string) []CoefficientRow {
	var out []CoefficientRow
	for _, r := range m.Coefficients {
		if r.Term == v || strings.HasPrefix(r.Term, v) {
			out = append(out, r)
		}
	}
	return out
}

// BIC is the fit quality metric used when reporting a selected model.
func (m *FittedModel) BIC() float64 { return m.Stats.BIC }

// N is the number of observations used
func (m *FittedModel) N() int { return m.Stats.N }
