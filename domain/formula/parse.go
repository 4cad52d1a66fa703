package formula

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PennBBL/GAMM-Tutorial/domain/core"
)

// Parse reads an R-style formula such as
//
//	y ~ sex + s(age, k = 4, fx = TRUE) + s(age, by = oSex, k = 4) + ti(age, x)
//
// into a ModelSpec. Only the constructs ModelSpec can represent are accepted.
func Parse(src string) (ModelSpec, error) {
	lhs, rhs, ok := strings.Cut(src, "~")
	if !ok {
		return ModelSpec{}, core.NewInvalidSpecError(fmt.Sprintf("formula %q has no ~", src))
	}
	spec := ModelSpec{Response: strings.TrimSpace(lhs)}
	if !isIdent(spec.Response) {
		return ModelSpec{}, core.NewInvalidSpecError(fmt.Sprintf("bad response %q", spec.Response))
	}

	parts, err := splitTopLevel(rhs, '+')
	if err != nil {
		return ModelSpec{}, err
	}
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "1" {
			continue
		}
		if p == "" {
			return ModelSpec{}, core.NewInvalidSpecError(fmt.Sprintf("empty term in %q", src))
		}
		term, err := parseTerm(p)
		if err != nil {
			return ModelSpec{}, err
		}
		spec.Terms = append(spec.Terms, term)
	}
	if err := spec.Validate(); err != nil {
		return ModelSpec{}, err
	}
	return spec, nil
}

// MustParse is Parse for literals in tests and examples.
func MustParse(src string) ModelSpec {
	spec, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return spec
}

func parseTerm(p string) (Term, error) {
	open := strings.IndexByte(p, '(')
	if open < 0 {
		if !isIdent(p) {
			return Term{}, core.NewInvalidSpecError(fmt.Sprintf("bad term %q", p))
		}
		return Param(p), nil
	}
	if !strings.HasSuffix(p, ")") {
		return Term{}, core.NewInvalidSpecError(fmt.Sprintf("unbalanced parentheses in %q", p))
	}
	name := strings.TrimSpace(p[:open])
	args, err := splitTopLevel(p[open+1:len(p)-1], ',')
	if err != nil {
		return Term{}, err
	}

	var t Term
	switch name {
	case "s":
		t.Kind = Smooth
	case "ti":
		t.Kind = Tensor
		t.InteractionOnly = true
	case "te":
		t.Kind = Tensor
	default:
		return Term{}, core.NewInvalidSpecError(fmt.Sprintf("unsupported smooth constructor %q", name))
	}

	for _, a := range args {
		a = strings.TrimSpace(a)
		key, value, named := strings.Cut(a, "=")
		if !named {
			if !isIdent(a) {
				return Term{}, core.NewInvalidSpecError(fmt.Sprintf("bad variable %q in %s", a, p))
			}
			t.Vars = append(t.Vars, a)
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		switch key {
		case "k":
			k, err := strconv.Atoi(value)
			if err != nil {
				return Term{}, core.NewInvalidSpecError(fmt.Sprintf("bad k %q in %s", value, p))
			}
			t.K = k
		case "fx":
			switch value {
			case "TRUE", "T", "true":
				t.FX = true
			case "FALSE", "F", "false":
				t.FX = false
			default:
				return Term{}, core.NewInvalidSpecError(fmt.Sprintf("bad fx %q in %s", value, p))
			}
		case "by":
			if t.Kind != Smooth || !isIdent(value) {
				return Term{}, core.NewInvalidSpecError(fmt.Sprintf("by is only valid in s(): %s", p))
			}
			t.By = value
		case "bs":
			// basis type is fixed by the engine; accepted for compatibility
		default:
			return Term{}, core.NewInvalidSpecError(fmt.Sprintf("unknown argument %q in %s", key, p))
		}
	}
	if t.By != "" {
		t.Kind = SmoothBy
	}
	return t, nil
}

func splitTopLevel(s string, sep byte) ([]string, error) {
	var parts []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, core.NewInvalidSpecError(fmt.Sprintf("unbalanced parentheses in %q", s))
			}
		case sep:
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, core.NewInvalidSpecError(fmt.Sprintf("unbalanced parentheses in %q", s))
	}
	return append(parts, s[start:]), nil
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '.':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
