// Package formula holds the structural model specification and the algebra
// used to derive reduced, unpenalized and plotting variants of a model.
package formula

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PennBBL/GAMM-Tutorial/domain/core"
)

// TermKind tags the role of a term in the linear predictor.
type TermKind int

const (
	Parametric TermKind = iota
	Smooth
	SmoothBy
	Tensor
)

func (k TermKind) String() string {
	switch k {
	case Parametric:
		return "parametric"
	case Smooth:
		return "smooth"
	case SmoothBy:
		return "smooth_by"
	case Tensor:
		return "tensor"
	default:
		return "unknown"
	}
}

// IsSmooth reports whether the term carries a spline basis.
func (k TermKind) IsSmooth() bool {
	return k == Smooth || k == SmoothBy || k == Tensor
}

// Term is one additive component of a model.
//
// K is the basis dimension (per margin for tensor terms); zero selects the
// engine default. FX fixes the degrees of freedom (no wiggliness penalty).
// InteractionOnly selects the pure-interaction tensor basis (ti) instead of
// the full tensor basis (te).
type Term struct {
	Kind            TermKind
	Vars            []string
	By              string
	K               int
	FX              bool
	InteractionOnly bool
}

// Label is the short name used in coefficient tables, e.g. s(age) or ti(age,x).
func (t Term) Label() string {
	switch t.Kind {
	case Parametric:
		return strings.Join(t.Vars, ":")
	case Smooth:
		return "s(" + t.Vars[0] + ")"
	case SmoothBy:
		return "s(" + t.Vars[0] + "):" + t.By
	case Tensor:
		name := "te"
		if t.InteractionOnly {
			name = "ti"
		}
		return name + "(" + strings.Join(t.Vars, ",") + ")"
	}
	return "?"
}

// String renders the term as it appears in a formula.
func (t Term) String() string {
	if t.Kind == Parametric {
		return strings.Join(t.Vars, ":")
	}
	args := append([]string(nil), t.Vars...)
	if t.Kind == SmoothBy {
		args = append(args, "by = "+t.By)
	}
	if t.K > 0 {
		args = append(args, "k = "+strconv.Itoa(t.K))
	}
	if t.FX {
		args = append(args, "fx = TRUE")
	}
	name := "s"
	if t.Kind == Tensor {
		name = "te"
		if t.InteractionOnly {
			name = "ti"
		}
	}
	return name + "(" + strings.Join(args, ", ") + ")"
}

// Mentions reports whether the term uses variable v, including as a by-variable.
func (t Term) Mentions(v string) bool {
	if t.By == v {
		return true
	}
	for _, x := range t.Vars {
		if x == v {
			return true
		}
	}
	return false
}

func (t Term) clone() Term {
	t.Vars = append([]string(nil), t.Vars...)
	return t
}

func (t Term) equal(o Term) bool {
	if t.Kind != o.Kind || t.By != o.By || t.K != o.K || t.FX != o.FX || t.InteractionOnly != o.InteractionOnly {
		return false
	}
	if len(t.Vars) != len(o.Vars) {
		return false
	}
	for i := range t.Vars {
		if t.Vars[i] != o.Vars[i] {
			return false
		}
	}
	return true
}

// ModelSpec is a symbolic model formula. Term order matters: the term under
// test is always the last one.
type ModelSpec struct {
	Response string
	Terms    []Term
}

// New builds a spec, copying the terms.
func New(response string, terms ...Term) ModelSpec {
	out := ModelSpec{Response: response, Terms: make([]Term, len(terms))}
	for i, t := range terms {
		out.Terms[i] = t.clone()
	}
	return out
}

// Param is a parametric (linear or factor) term.
func Param(v string) Term { return Term{Kind: Parametric, Vars: []string{v}} }

// S is a univariate smooth s(v, k).
func S(v string, k int, fx bool) Term { return Term{Kind: Smooth, Vars: []string{v}, K: k, FX: fx} }

// SBy is a smooth of v varying with by.
func SBy(v, by string, k int, fx bool) Term {
	return Term{Kind: SmoothBy, Vars: []string{v}, By: by, K: k, FX: fx}
}

// TI is a pure-interaction tensor product smooth.
func TI(k int, fx bool, vars ...string) Term {
	return Term{Kind: Tensor, Vars: vars, K: k, FX: fx, InteractionOnly: true}
}

// TE is a full tensor product smooth.
func TE(k int, fx bool, vars ...string) Term {
	return Term{Kind: Tensor, Vars: vars, K: k, FX: fx}
}

// Clone returns a deep copy
func (m ModelSpec) Clone() ModelSpec {
	return New(m.Response, m.Terms...)
}

// String renders the formula deterministically, e.g. "y ~ sex + s(age, k = 4)".
func (m ModelSpec) String() string {
	if len(m.Terms) == 0 {
		return m.Response + " ~ 1"
	}
	parts := make([]string, len(m.Terms))
	for i, t := range m.Terms {
		parts[i] = t.String()
	}
	return m.Response + " ~ " + strings.Join(parts, " + ")
}

// Fingerprint hashes the rendered formula.
func (m ModelSpec) Fingerprint() core.Hash {
	return core.NewHash([]byte(m.String()))
}

// Equal compares response and terms in order.
func (m ModelSpec) Equal(o ModelSpec) bool {
	if m.Response != o.Response || len(m.Terms) != len(o.Terms) {
		return false
	}
	for i := range m.Terms {
		if !m.Terms[i].equal(o.Terms[i]) {
			return false
		}
	}
	return true
}

// Variables returns every covariate named by the terms, in first-use order.
func (m ModelSpec) Variables() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(v string) {
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for _, t := range m.Terms {
		for _, v := range t.Vars {
			add(v)
		}
		add(t.By)
	}
	return out
}

// HasVariable reports whether any term mentions v.
func (m ModelSpec) HasVariable(v string) bool {
	for _, t := range m.Terms {
		if t.Mentions(v) {
			return true
		}
	}
	return false
}

// LastTerm returns the final term, the one subject to significance tests.
func (m ModelSpec) LastTerm() (Term, bool) {
	if len(m.Terms) == 0 {
		return Term{}, false
	}
	return m.Terms[len(m.Terms)-1], true
}

// Validate checks the structural invariants of each term.
func (m ModelSpec) Validate() error {
	if strings.TrimSpace(m.Response) == "" {
		return core.NewInvalidSpecError("response variable is empty")
	}
	seen := make(map[string]bool)
	for i, t := range m.Terms {
		if len(t.Vars) == 0 {
			return core.NewInvalidSpecError(fmt.Sprintf("term %d has no variables", i+1))
		}
		for _, v := range t.Vars {
			if v == m.Response {
				return core.NewInvalidSpecError(fmt.Sprintf("term %s uses the response %s", t.Label(), v))
			}
		}
		switch t.Kind {
		case Parametric:
			if len(t.Vars) != 1 {
				return core.NewInvalidSpecError(fmt.Sprintf("parametric term %s must name one variable", t.Label()))
			}
		case Smooth:
			if len(t.Vars) != 1 {
				return core.NewInvalidSpecError(fmt.Sprintf("smooth %s must name one variable", t.Label()))
			}
		case SmoothBy:
			if len(t.Vars) != 1 || t.By == "" {
				return core.NewInvalidSpecError(fmt.Sprintf("by-smooth %s needs one variable and a by variable", t.Label()))
			}
		case Tensor:
			if len(t.Vars) < 2 {
				return core.NewInvalidSpecError(fmt.Sprintf("tensor term %s needs at least two variables", t.Label()))
			}
		default:
			return core.NewInvalidSpecError(fmt.Sprintf("term %d has unknown kind", i+1))
		}
		if t.Kind.IsSmooth() && t.K != 0 && t.K < 3 {
			return core.NewInvalidSpecError(fmt.Sprintf("%s: basis dimension k=%d is below 3", t.Label(), t.K))
		}
		key := t.Label()
		if seen[key] {
			return core.NewInvalidSpecError(fmt.Sprintf("duplicate term %s", key))
		}
		seen[key] = true
	}
	return nil
}

// LastTermMentions reports whether the final term uses v.
func (m ModelSpec) LastTermMentions(v string) bool {
	last, ok := m.LastTerm()
	return ok && last.Mentions(v)
}

// Labels returns the term labels in order.
func (m ModelSpec) Labels() []string {
	out := make([]string, len(m.Terms))
	for i, t := range m.Terms {
		out[i] = t.Label()
	}
	return out
}
