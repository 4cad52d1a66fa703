package gam

import (
	"context"
	"fmt"

	"github.com/PennBBL/GAMM-Tutorial/domain/core"
	"github.com/PennBBL/GAMM-Tutorial/domain/model"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Concurvity compares the basis spaces of every pair of smooth terms.
//
// Worst[i][j] is the largest squared canonical correlation between the
// centered bases of terms i and j. Observed[i][j] is the share of the
// fitted contribution of term j that lies in the space of term i.
// Bases are taken before side constraints so terms dropped for being
// unidentifiable still report their overlap. Parametric terms other than
// the intercept are pooled into one "para" row, so a single smooth is
// compared against the parametric part.
func (f *Fitter) Concurvity(ctx context.Context, fm *model.FittedModel) (*model.Concurvity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	basis, err := f.basisOf(fm)
	if err != nil {
		return nil, err
	}
	raw, err := basis.raw(fm.Data)
	if err != nil {
		return nil, err
	}

	var (
		labels  []string
		spaces  [][][]float64
		contrib [][]float64

		para       *mat.Dense
		paraEffect []float64
	)
	col := 1
	for ci, c := range basis.components {
		kept := basis.keep[ci]
		m := mat.DenseCopyOf(raw[ci])
		center(m)
		effect := contribution(m, kept, fm.Beta[col:col+len(kept)])
		col += len(kept)
		if !c.smooth {
			if para == nil {
				para, paraEffect = m, effect
				continue
			}
			var joined mat.Dense
			joined.Augment(para, m)
			para = &joined
			floats.Add(paraEffect, effect)
			continue
		}
		labels = append(labels, c.label)
		spaces = append(spaces, orthonormalize(m))
		contrib = append(contrib, effect)
	}
	if para != nil {
		labels = append([]string{paraLabel}, labels...)
		spaces = append([][][]float64{orthonormalize(para)}, spaces...)
		contrib = append([][]float64{paraEffect}, contrib...)
	}
	if len(labels) < 2 {
		return nil, core.NewInvalidSpecError(fmt.Sprintf("concurvity needs at least two terms, %s has %d", fm.Spec, len(labels)))
	}

	k := len(labels)
	out := &model.Concurvity{Terms: labels, Worst: square(k), Observed: square(k)}
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			if i == j {
				out.Worst[i][j], out.Observed[i][j] = 1, 1
				continue
			}
			out.Worst[i][j] = canonical(spaces[i], spaces[j])
			out.Observed[i][j] = explained(spaces[i], contrib[j])
		}
	}
	f.logger.Debug("concurvity of %s: max %.3f", fm.Spec, out.MaxOffDiagonal())
	return out, nil
}

const paraLabel = "para"

func center(m *mat.Dense) {
	r, c := m.Dims()
	for j := 0; j < c; j++ {
		col := mat.Col(nil, j, m)
		mean := floats.Sum(col) / float64(r)
		for i := 0; i < r; i++ {
			m.Set(i, j, col[i]-mean)
		}
	}
}

// contribution is the centered fitted term X_kept·β.
func contribution(m *mat.Dense, kept []int, beta []float64) []float64 {
	r, _ := m.Dims()
	out := make([]float64, r)
	for k, j := range kept {
		floats.AddScaled(out, beta[k], mat.Col(nil, j, m))
	}
	return out
}

// canonical returns the largest squared singular value of Qa'Qb.
func canonical(a, b [][]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	cross := mat.NewDense(len(a), len(b), nil)
	for i, qa := range a {
		for j, qb := range b {
			cross.Set(i, j, floats.Dot(qa, qb))
		}
	}
	var svd mat.SVD
	if ok := svd.Factorize(cross, mat.SVDNone); !ok {
		return 0
	}
	vals := svd.Values(nil)
	top := floats.Max(vals)
	return clamp01(top * top)
}

func explained(space [][]float64, v []float64) float64 {
	total := floats.Dot(v, v)
	if total == 0 {
		return 0
	}
	proj := 0.0
	for _, q := range space {
		d := floats.Dot(q, v)
		proj += d * d
	}
	return clamp01(proj / total)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func square(k int) [][]float64 {
	out := make([][]float64, k)
	for i := range out {
		out[i] = make([]float64, k)
	}
	return out
}
