package ports

import (
	"context"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// Estimation selects the likelihood maximised by a mixed model fit.
type Estimation int

const (
	ML Estimation = iota
	REML
)

func (e Estimation) String() string {
	if e == REML {
		return "REML"
	}
	return "ML"
}

// MixedModel is a fitted random-intercept linear mixed model.
type MixedModel interface {
	// Deviance is -2 times the maximised (restricted) log-likelihood.
	Deviance() float64
	// Simulate draws a new response vector from the fitted model.
	Simulate(src rand.Source) []float64
}

// MixedModelFitter fits y = Xb + u[group] + e with u ~ N(0, s_u^2).
type MixedModelFitter interface {
	FitMixed(ctx context.Context, x *mat.Dense, y []float64, groups []int, method Estimation) (MixedModel, error)
}
