package formula

import (
	"fmt"

	"github.com/PennBBL/GAMM-Tutorial/domain/core"
)

// DropLastTerm returns the spec without its final term, keeping the
// response and the order of the remaining terms.
func DropLastTerm(spec ModelSpec) (ModelSpec, error) {
	if len(spec.Terms) == 0 {
		return ModelSpec{}, core.NewInvalidSpecError("cannot drop a term from a model with no terms")
	}
	return New(spec.Response, spec.Terms[:len(spec.Terms)-1]...), nil
}

// ToUnpenalized fixes the degrees of freedom of every smooth term, the form
// used when smooth p-values are needed.
func ToUnpenalized(spec ModelSpec) ModelSpec {
	out := spec.Clone()
	for i := range out.Terms {
		if out.Terms[i].Kind.IsSmooth() {
			out.Terms[i].FX = true
		}
	}
	return out
}

// ToPenalizedForPlotting clears fixed degrees of freedom on smooth terms and
// turns pure-interaction tensor terms into full tensor terms, the form fitted
// to draw curves.
func ToPenalizedForPlotting(spec ModelSpec) ModelSpec {
	out := spec.Clone()
	for i := range out.Terms {
		t := &out.Terms[i]
		if !t.Kind.IsSmooth() {
			continue
		}
		t.FX = false
		if t.Kind == Tensor {
			t.InteractionOnly = false
		}
	}
	return out
}

// IsNestedReduction reports whether reduced is exactly full minus its last term.
func IsNestedReduction(full, reduced ModelSpec) bool {
	want, err := DropLastTerm(full)
	if err != nil {
		return false
	}
	return want.Equal(reduced)
}

// CheckTermUnderTest verifies that the interaction variable appears in the
// spec and only in its last term.
func CheckTermUnderTest(spec ModelSpec, interactionVar string) error {
	last, ok := spec.LastTerm()
	if !ok {
		return core.NewInvalidSpecError("model has no terms to test")
	}
	if !spec.HasVariable(interactionVar) {
		return core.NewInvalidSpecError(fmt.Sprintf("interaction variable %s is not in %s", interactionVar, spec))
	}
	if !last.Mentions(interactionVar) {
		return core.NewInvalidSpecError(fmt.Sprintf("term involving %s must be last in %s", interactionVar, spec))
	}
	if !last.Kind.IsSmooth() {
		return core.NewInvalidSpecError(fmt.Sprintf("term under test %s is not a smooth interaction", last.Label()))
	}
	return nil
}

// WithoutTermsMentioning removes every term that uses v, as a main effect
// or as a by-variable.
func WithoutTermsMentioning(spec ModelSpec, v string) ModelSpec {
	out := ModelSpec{Response: spec.Response}
	for _, t := range spec.Terms {
		if !t.Mentions(v) {
			out.Terms = append(out.Terms, t.clone())
		}
	}
	return out
}
