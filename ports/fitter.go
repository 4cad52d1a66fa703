package ports

import (
	"context"

	"github.com/PennBBL/GAMM-Tutorial/domain/dataset"
	"github.com/PennBBL/GAMM-Tutorial/domain/formula"
	"github.com/PennBBL/GAMM-Tutorial/domain/model"

	"gonum.org/v1/gonum/mat"
)

// ModelFitter fits additive mixed models. Implementations must not mutate
// the dataset and must return a new FittedModel on every call.
type ModelFitter interface {
	// Fit estimates spec on data with a random intercept per unit of group.
	// An empty group fits without random effects.
	Fit(ctx context.Context, spec formula.ModelSpec, data *dataset.Dataset, group dataset.GroupKey) (*model.FittedModel, error)

	// Predict returns population-level estimates and standard errors.
	Predict(ctx context.Context, fm *model.FittedModel, newData *dataset.Dataset) ([]Prediction, error)

	// DesignMatrix expands spec into its fixed-effects basis for data.
	DesignMatrix(ctx context.Context, spec formula.ModelSpec, data *dataset.Dataset) (*mat.Dense, error)

	// Concurvity measures overlap between the smooth terms of fm.
	Concurvity(ctx context.Context, fm *model.FittedModel) (*model.Concurvity, error)
}

// Prediction is one predicted row
type Prediction struct {
	Estimate float64
	StdError float64
}

// Predictor is the linear view of a fitted model needed to propagate
// uncertainty through derived quantities.
type Predictor interface {
	PredictMatrix(data *dataset.Dataset) (*mat.Dense, error)
	Coef() []float64
	Cov() *mat.SymDense
	TrainingData() *dataset.Dataset
}

var _ Predictor = (*model.FittedModel)(nil)
