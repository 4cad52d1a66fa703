package gam

import (
	"fmt"
	"math"

	"github.com/PennBBL/GAMM-Tutorial/domain/core"
	"github.com/PennBBL/GAMM-Tutorial/domain/dataset"
	"github.com/PennBBL/GAMM-Tutorial/domain/formula"
	"github.com/PennBBL/GAMM-Tutorial/domain/model"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const interceptLabel = "(Intercept)"

// sideTolerance is the relative residual norm below which a column is
// treated as a linear combination of the columns before it.
const sideTolerance = 1e-8

// component is the block of design columns produced by one table row: a
// parametric term, a smooth, or one level of a factor-by smooth.
type component struct {
	label     string
	source    string
	names     []string
	smooth    bool
	expand    func(ds *dataset.Dataset) (*mat.Dense, error)
	penalties []*mat.Dense
}

// penalty is a smoothing penalty embedded at columns [start, start+dim).
type penalty struct {
	start int
	s     *mat.SymDense
	block int
}

// designBasis is the compiled form of a ModelSpec. Knots, constraints and
// factor levels are fixed from the training data so new data maps onto
// the same columns.
type designBasis struct {
	spec       formula.ModelSpec
	components []component
	keep       [][]int
}

var _ model.Basis = (*designBasis)(nil)

// compile builds the basis for spec from the training rows in data.
func compile(spec formula.ModelSpec, data *dataset.Dataset) (*designBasis, error) {
	b := &designBasis{spec: spec}
	for _, t := range spec.Terms {
		comps, err := compileTerm(t, data)
		if err != nil {
			return nil, err
		}
		b.components = append(b.components, comps...)
	}
	raw, err := b.raw(data)
	if err != nil {
		return nil, err
	}
	b.keep = sideConstraints(data.Rows(), raw)
	return b, nil
}

func compileTerm(t formula.Term, data *dataset.Dataset) ([]component, error) {
	switch t.Kind {
	case formula.Parametric:
		return compileParametric(t, data)
	case formula.Smooth:
		k := orDefault(t.K, defaultK)
		m, err := newMarginal(t.Vars[0], data, k, nil, true)
		if err != nil {
			return nil, termError(t, err)
		}
		return []component{smoothComponent(t.Label(), t.Label(), t.FX, m, nil)}, nil
	case formula.SmoothBy:
		return compileBy(t, data)
	case formula.Tensor:
		return compileTensor(t, data)
	}
	return nil, core.NewInvalidSpecError(fmt.Sprintf("unsupported term %s", t))
}

func termError(t formula.Term, err error) error {
	return core.NewInvalidSpecError(fmt.Sprintf("%s: %v", t.Label(), err))
}

func orDefault(k, def int) int {
	if k == 0 {
		return def
	}
	return k
}

func compileParametric(t formula.Term, data *dataset.Dataset) ([]component, error) {
	name := t.Vars[0]
	col, ok := data.Column(name)
	if !ok {
		return nil, core.NewUnknownVariableError(name)
	}
	if !col.Kind.IsFactor() {
		return []component{{
			label:  name,
			source: t.Label(),
			names:  []string{name},
			expand: func(ds *dataset.Dataset) (*mat.Dense, error) {
				x, err := continuousValues(ds, name)
				if err != nil {
					return nil, err
				}
				return mat.NewDense(len(x), 1, x), nil
			},
		}}, nil
	}

	// treatment contrasts against the first level
	levels := append([]string(nil), col.Levels...)
	if len(levels) < 2 {
		return nil, core.NewInvalidSpecError(fmt.Sprintf("factor %s has fewer than two levels", name))
	}
	names := make([]string, len(levels)-1)
	for i, l := range levels[1:] {
		names[i] = name + l
	}
	return []component{{
		label:  name,
		source: t.Label(),
		names:  names,
		expand: func(ds *dataset.Dataset) (*mat.Dense, error) {
			codes, err := levelCodes(ds, name, levels)
			if err != nil {
				return nil, err
			}
			out := mat.NewDense(len(codes), len(levels)-1, nil)
			for i, c := range codes {
				if c > 0 {
					out.Set(i, c-1, 1)
				}
			}
			return out, nil
		},
	}}, nil
}

func compileBy(t formula.Term, data *dataset.Dataset) ([]component, error) {
	k := orDefault(t.K, defaultK)
	byCol, ok := data.Column(t.By)
	if !ok {
		return nil, core.NewUnknownVariableError(t.By)
	}
	x, err := continuousValues(data, t.Vars[0])
	if err != nil {
		return nil, termError(t, err)
	}

	if !byCol.Kind.IsFactor() {
		m, err := newMarginal(t.Vars[0], data, k, nil, false)
		if err != nil {
			return nil, termError(t, err)
		}
		by := t.By
		weight := func(ds *dataset.Dataset) ([]float64, error) { return continuousValues(ds, by) }
		return []component{smoothComponent(t.Label(), t.Label(), t.FX, m, weight)}, nil
	}

	levels := append([]string(nil), byCol.Levels...)
	start := 0
	if byCol.Kind == dataset.OrderedCategorical {
		// ordered factors get difference smooths against the reference level
		start = 1
	}
	var comps []component
	for li := start; li < len(levels); li++ {
		level := li
		weight := func(ds *dataset.Dataset) ([]float64, error) {
			codes, err := levelCodes(ds, t.By, levels)
			if err != nil {
				return nil, err
			}
			w := make([]float64, len(codes))
			for i, c := range codes {
				if c == level {
					w[i] = 1
				}
			}
			return w, nil
		}
		w, err := weight(data)
		if err != nil {
			return nil, err
		}
		if floats.Sum(w) == 0 {
			continue
		}
		m, err := newMarginal(t.Vars[0], data, k, w, true)
		if err != nil {
			return nil, termError(t, err)
		}
		label := fmt.Sprintf("s(%s):%s%s", t.Vars[0], t.By, levels[li])
		comps = append(comps, smoothComponent(label, t.Label(), t.FX, m, weight))
	}
	if len(comps) == 0 {
		return nil, core.NewInvalidSpecError(fmt.Sprintf("%s has no levels to smooth over %d rows", t.Label(), len(x)))
	}
	return comps, nil
}

func compileTensor(t formula.Term, data *dataset.Dataset) ([]component, error) {
	k := orDefault(t.K, defaultTensorK)
	margins := make([]marginal, len(t.Vars))
	for i, v := range t.Vars {
		m, err := newMarginal(v, data, k, nil, t.InteractionOnly)
		if err != nil {
			return nil, termError(t, err)
		}
		margins[i] = m
	}
	vars := append([]string(nil), t.Vars...)
	product := func(ds *dataset.Dataset) (*mat.Dense, error) {
		var acc *mat.Dense
		for i, m := range margins {
			x, err := continuousValues(ds, vars[i])
			if err != nil {
				return nil, err
			}
			e := m.eval(x)
			if acc == nil {
				acc = e
			} else {
				acc = rowKronecker(acc, e)
			}
		}
		return acc, nil
	}

	var pens []*mat.Dense
	if !t.FX {
		pens = tensorPenalties(margins)
	}
	expand := product
	if !t.InteractionOnly {
		full, err := product(data)
		if err != nil {
			return nil, err
		}
		z := sumToZero(full)
		for i := range pens {
			pens[i] = constrainPenalty(pens[i], z)
		}
		expand = func(ds *dataset.Dataset) (*mat.Dense, error) {
			raw, err := product(ds)
			if err != nil {
				return nil, err
			}
			var out mat.Dense
			out.Mul(raw, z)
			return &out, nil
		}
	}
	return []component{{
		label:     t.Label(),
		source:    t.Label(),
		smooth:    true,
		expand:    expand,
		penalties: pens,
	}}, nil
}

// newMarginal builds a B-spline basis over the training range of variable.
// When constrained, the sum-to-zero constraint is taken over rows weighted
// by w (all rows when w is nil).
func newMarginal(variable string, data *dataset.Dataset, k int, w []float64, constrained bool) (marginal, error) {
	x, err := continuousValues(data, variable)
	if err != nil {
		return marginal{}, err
	}
	lo, hi := floats.Min(x), floats.Max(x)
	bs, err := newBSpline(lo, hi, k)
	if err != nil {
		return marginal{}, err
	}
	m := marginal{variable: variable, bs: bs}
	if constrained {
		raw := bs.eval(x)
		if w != nil {
			scaleRows(raw, w)
		}
		m.z = sumToZero(raw)
	}
	return m, nil
}

func smoothComponent(label, source string, fx bool, m marginal, weight func(*dataset.Dataset) ([]float64, error)) component {
	c := component{
		label:  label,
		source: source,
		smooth: true,
		expand: func(ds *dataset.Dataset) (*mat.Dense, error) {
			x, err := continuousValues(ds, m.variable)
			if err != nil {
				return nil, err
			}
			out := m.eval(x)
			if weight != nil {
				w, err := weight(ds)
				if err != nil {
					return nil, err
				}
				scaleRows(out, w)
			}
			return out, nil
		},
	}
	if !fx {
		c.penalties = []*mat.Dense{m.penalty()}
	}
	return c
}

func scaleRows(m *mat.Dense, w []float64) {
	for i, v := range w {
		floats.Scale(v, m.RawRowView(i))
	}
}

func continuousValues(ds *dataset.Dataset, name string) ([]float64, error) {
	col, ok := ds.Column(name)
	if !ok {
		return nil, core.NewUnknownVariableError(name)
	}
	if col.Kind.IsFactor() {
		return nil, fmt.Errorf("variable %s is %s, a smooth needs a continuous covariate", name, col.Kind)
	}
	return col.Values, nil
}

// levelCodes maps the labels of a factor column in ds onto training levels.
func levelCodes(ds *dataset.Dataset, name string, levels []string) ([]int, error) {
	col, ok := ds.Column(name)
	if !ok {
		return nil, core.NewUnknownVariableError(name)
	}
	index := make(map[string]int, len(levels))
	for i, l := range levels {
		index[l] = i
	}
	codes := make([]int, ds.Rows())
	for i := range codes {
		label := col.Level(i)
		c, ok := index[label]
		if !ok {
			return nil, fmt.Errorf("variable %s: level %q was not present when fitting", name, label)
		}
		codes[i] = c
	}
	return codes, nil
}

// raw expands every component on ds, before side constraints.
func (b *designBasis) raw(ds *dataset.Dataset) ([]*mat.Dense, error) {
	out := make([]*mat.Dense, len(b.components))
	for i, c := range b.components {
		m, err := c.expand(ds)
		if err != nil {
			return nil, err
		}
		out[i] = m
	}
	return out, nil
}

// Expand returns the fixed-effects design for ds: intercept followed by the
// columns of each component that survived the side constraints.
func (b *designBasis) Expand(ds *dataset.Dataset) (*mat.Dense, error) {
	raw, err := b.raw(ds)
	if err != nil {
		return nil, err
	}
	n := ds.Rows()
	out := mat.NewDense(n, b.width(), nil)
	for i := 0; i < n; i++ {
		out.Set(i, 0, 1)
	}
	col := 1
	for ci, m := range raw {
		for _, j := range b.keep[ci] {
			for i := 0; i < n; i++ {
				out.Set(i, col, m.At(i, j))
			}
			col++
		}
	}
	return out, nil
}

func (b *designBasis) width() int {
	w := 1
	for _, k := range b.keep {
		w += len(k)
	}
	return w
}

// blocks describes where each surviving component sits in Expand's output.
func (b *designBasis) blocks() []model.TermBlock {
	out := []model.TermBlock{{Label: interceptLabel, Source: interceptLabel, Start: 0, End: 1}}
	col := 1
	for ci, c := range b.components {
		if len(b.keep[ci]) == 0 {
			continue
		}
		end := col + len(b.keep[ci])
		out = append(out, model.TermBlock{
			Label:     c.label,
			Source:    c.source,
			Start:     col,
			End:       end,
			Smooth:    c.smooth,
			Penalized: len(c.penalties) > 0,
		})
		col = end
	}
	return out
}

// columnNames labels each column of Expand's output; parametric columns
// use their contrast names, smooth columns label.index.
func (b *designBasis) columnNames() []string {
	names := []string{interceptLabel}
	for ci, c := range b.components {
		for _, j := range b.keep[ci] {
			if !c.smooth && j < len(c.names) {
				names = append(names, c.names[j])
				continue
			}
			names = append(names, fmt.Sprintf("%s.%d", c.label, j+1))
		}
	}
	return names
}

// penalties returns every smoothing penalty restricted to the kept columns.
func (b *designBasis) penalties() []penalty {
	var out []penalty
	col := 1
	block := 0
	for ci, c := range b.components {
		kept := b.keep[ci]
		if len(kept) == 0 {
			continue
		}
		block++
		for _, s := range c.penalties {
			sym := mat.NewSymDense(len(kept), nil)
			for a, ia := range kept {
				for bb := a; bb < len(kept); bb++ {
					sym.SetSym(a, bb, 0.5*(s.At(ia, kept[bb])+s.At(kept[bb], ia)))
				}
			}
			out = append(out, penalty{start: col, s: sym, block: block})
		}
		col += len(kept)
	}
	return out
}

// sideConstraints walks the columns in order (intercept first) and keeps
// those not spanned by the columns already kept. It returns the kept column
// indices of every component.
func sideConstraints(n int, comps []*mat.Dense) [][]int {
	basis := [][]float64{normalized(ones(n))}
	keep := make([][]int, len(comps))
	for ci, m := range comps {
		_, w := m.Dims()
		keep[ci] = []int{}
		for j := 0; j < w; j++ {
			v := mat.Col(nil, j, m)
			norm := floats.Norm(v, 2)
			if norm == 0 {
				continue
			}
			r := residual(basis, v)
			if floats.Norm(r, 2) <= sideTolerance*norm {
				continue
			}
			basis = append(basis, normalized(r))
			keep[ci] = append(keep[ci], j)
		}
	}
	return keep
}

// residual projects v off the orthonormal basis, twice for stability.
func residual(basis [][]float64, v []float64) []float64 {
	r := append([]float64(nil), v...)
	for pass := 0; pass < 2; pass++ {
		for _, q := range basis {
			floats.AddScaled(r, -floats.Dot(q, r), q)
		}
	}
	return r
}

// orthonormalize returns an orthonormal basis for the span of the columns
// of m, skipping dependent columns.
func orthonormalize(m *mat.Dense) [][]float64 {
	_, w := m.Dims()
	var basis [][]float64
	for j := 0; j < w; j++ {
		v := mat.Col(nil, j, m)
		norm := floats.Norm(v, 2)
		if norm == 0 {
			continue
		}
		r := residual(basis, v)
		if floats.Norm(r, 2) <= sideTolerance*norm {
			continue
		}
		basis = append(basis, normalized(r))
	}
	return basis
}

func normalized(v []float64) []float64 {
	n := floats.Norm(v, 2)
	if n == 0 || math.IsNaN(n) {
		return v
	}
	floats.Scale(1/n, v)
	return v
}

func ones(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = 1
	}
	return v
}
