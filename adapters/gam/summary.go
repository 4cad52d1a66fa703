package gam

import (
	"math"

	"github.com/PennBBL/GAMM-Tutorial/domain/model"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// tables fills the coefficient and smooth tables of fm from the fixed
// effects part of the solution.
func tables(fm *model.FittedModel, basis *designBasis, edf []float64, residDF float64) {
	names := basis.columnNames()
	for _, b := range fm.Blocks {
		if !b.Smooth {
			for j := b.Start; j < b.End; j++ {
				fm.Coefficients = append(fm.Coefficients, coefficientRow(names[j], fm.Beta[j], fm.Covariance.At(j, j), residDF))
			}
			continue
		}
		width := b.Width()
		beta := fm.Beta[b.Start:b.End]
		v := mat.NewSymDense(width, nil)
		v.SubsetSym(fm.Covariance, seq(b.Start, b.End))
		blockEDF := 0.0
		for j := b.Start; j < b.End; j++ {
			blockEDF += edf[j]
		}
		fStat, refDF, p := smoothTest(beta, v, blockEDF, residDF)
		fm.Smooths = append(fm.Smooths, model.SmoothRow{
			Term:   b.Label,
			Source: b.Source,
			EDF:    blockEDF,
			RefDF:  refDF,
			F:      fStat,
			PValue: p,
		})
	}
}

func coefficientRow(name string, estimate, variance, residDF float64) model.CoefficientRow {
	row := model.CoefficientRow{Term: name, Estimate: estimate, DF: residDF}
	row.StdError = math.Sqrt(math.Max(variance, 0))
	if row.StdError == 0 {
		row.PValue = math.NaN()
		return row
	}
	row.Statistic = estimate / row.StdError
	t := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: math.Max(residDF, 1)}
	row.PValue = 2 * t.Survival(math.Abs(row.Statistic))
	return row
}

// smoothTest is a Wald test of β = 0 for one smooth, using a pseudo-inverse
// of its covariance truncated to rank round(edf).
func smoothTest(beta []float64, v *mat.SymDense, edf, residDF float64) (fStat, refDF, p float64) {
	width := len(beta)
	r := int(math.Round(edf))
	if r < 1 {
		r = 1
	}
	if r > width {
		r = width
	}
	var eig mat.EigenSym
	if ok := eig.Factorize(v, true); !ok {
		return math.NaN(), float64(r), math.NaN()
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	b := mat.NewVecDense(width, beta)

	tr := 0.0
	used := 0
	// eigenvalues ascend; the leading r are at the end
	for i := width - 1; i >= 0 && used < r; i-- {
		if vals[i] <= 0 {
			break
		}
		proj := mat.Dot(vecs.ColView(i), b)
		tr += proj * proj / vals[i]
		used++
	}
	if used == 0 {
		return math.NaN(), float64(r), math.NaN()
	}
	fStat = tr / float64(used)
	dist := distuv.F{D1: float64(used), D2: math.Max(residDF, 1)}
	return fStat, float64(used), dist.Survival(fStat)
}

// fitStats computes the summary statistics of a Gaussian fit.
func fitStats(y []float64, s *solution, totalEDF float64) model.Stats {
	n := float64(len(y))
	st := model.Stats{N: len(y), EDF: totalEDF, Scale: s.scale, REML: s.reml / 2}
	sigma2 := s.rss / n
	if sigma2 <= 0 {
		sigma2 = math.SmallestNonzeroFloat64
	}
	st.LogLik = -0.5 * n * (math.Log(2*math.Pi*sigma2) + 1)
	// scale is one more estimated parameter
	k := totalEDF + 1
	st.AIC = -2*st.LogLik + 2*k
	st.BIC = -2*st.LogLik + math.Log(n)*k

	_, variance := stat.MeanVariance(y, nil)
	residDF := n - totalEDF
	if variance > 0 && residDF > 0 {
		st.RSquaredAdj = 1 - (s.rss/residDF)/variance
	}
	return st
}

func seq(start, end int) []int {
	out := make([]int, end-start)
	for i := range out {
		out[i] = start + i
	}
	return out
}
