package model

import (
	"time"

	"github.com/PennBBL/GAMM-Tutorial/domain/core"
	"github.com/PennBBL/GAMM-Tutorial/domain/formula"
)

// InteractionTest is the non-bootstrap check of a smooth interaction
// against a Bonferroni-adjusted threshold.
type InteractionTest struct {
	Term        string  `json:"term"`
	PValue      float64 `json:"p_value"`
	Threshold   float64 `json:"threshold"`
	Significant bool    `json:"significant"`
}

// TaskResult packages everything produced by one orchestrated task.
type TaskResult struct {
	TaskID       core.TaskID       `json:"task_id"`
	Label        string            `json:"label"`
	FullSpec     formula.ModelSpec `json:"-"`
	SelectedSpec formula.ModelSpec `json:"-"`

	Full        *FittedModel     `json:"-"`
	Inference   *FittedModel     `json:"-"`
	Plotting    *FittedModel     `json:"-"`
	Bootstrap   *BootstrapResult `json:"bootstrap,omitempty"`
	Interaction *InteractionTest `json:"interaction,omitempty"`
	Derivatives *DerivativeCurve `json:"derivatives,omitempty"`
	Intervals   []Interval       `json:"intervals,omitempty"`
	Concurvity  *Concurvity      `json:"concurvity,omitempty"`

	BIC      float64        `json:"bic"`
	N        int            `json:"n"`
	Warnings []core.Warning `json:"warnings,omitempty"`
	States   []string       `json:"states"`
	Duration time.Duration  `json:"duration"`
}

// FullSelected reports whether the full spec survived selection.
func (r *TaskResult) FullSelected() bool {
	return r.SelectedSpec.Equal(r.FullSpec)
}
