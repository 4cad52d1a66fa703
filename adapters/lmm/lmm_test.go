package lmm

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/PennBBL/GAMM-Tutorial/domain/core"
	"github.com/PennBBL/GAMM-Tutorial/internal"
	"github.com/PennBBL/GAMM-Tutorial/internal/testkit"
	"github.com/PennBBL/GAMM-Tutorial/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// simulated returns a design [1, x] with 200 groups of 5 rows drawn from
// β = (1, 2), θ = 1, σ = 1.
func simulated(seed uint64) (*mat.Dense, []float64, []int) {
	r := rand.New(rand.NewPCG(seed, 7))
	groups, per := 200, 5
	n := groups * per
	x := mat.NewDense(n, 2, nil)
	y := make([]float64, n)
	g := make([]int, n)
	for j := 0; j < groups; j++ {
		u := r.NormFloat64()
		for k := 0; k < per; k++ {
			i := j*per + k
			xi := r.Float64() * 4
			x.Set(i, 0, 1)
			x.Set(i, 1, xi)
			y[i] = 1 + 2*xi + u + r.NormFloat64()
			g[i] = j
		}
	}
	return x, y, g
}

func TestFitRecoversParameters(t *testing.T) {
	x, y, g := simulated(1)
	for _, method := range []ports.Estimation{ports.ML, ports.REML} {
		fit, err := NewEngine(nil).Fit(context.Background(), x, y, g, method)
		require.NoError(t, err, method.String())
		assert.InDelta(t, 1, fit.Beta[0], 0.3)
		assert.InDelta(t, 2, fit.Beta[1], 0.1)
		assert.InDelta(t, 1, fit.Theta, 0.3)
		assert.InDelta(t, 1, fit.Sigma2, 0.2)
		assert.InDelta(t, 1, fit.InterceptVariance(), 0.4)
		assert.InDelta(t, -fit.Deviance()/2, fit.LogLik(), 1e-12)
	}
}

func TestFitLogsUnderComponentTag(t *testing.T) {
	x, y, g := simulated(3)
	out := testkit.CaptureLog(t)
	_, err := NewEngine(internal.NewLogger(internal.LogLevelTrace)).Fit(context.Background(), x, y, g, ports.ML)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "[TRACE] [LMMEngine] ML fit")
}

func TestMLDevianceAtZeroThetaIsOLS(t *testing.T) {
	x, y, g := simulated(2)
	ss, err := newSufficient(x, y, g)
	require.NoError(t, err)
	d, beta, rss, err := ss.profile(0, ports.ML)
	require.NoError(t, err)

	var qr mat.QR
	qr.Factorize(x)
	var ols mat.Dense
	require.NoError(t, qr.SolveTo(&ols, false, mat.NewDense(len(y), 1, y)))
	assert.InDelta(t, ols.At(0, 0), beta[0], 1e-8)
	assert.InDelta(t, ols.At(1, 0), beta[1], 1e-8)

	n := float64(len(y))
	assert.InDelta(t, n*(1+math.Log(2*math.Pi*rss/n)), d, 1e-8)
}

func TestNestedDevianceOrdering(t *testing.T) {
	x, y, g := simulated(3)
	e := NewEngine(nil)
	full, err := e.Fit(context.Background(), x, y, g, ports.ML)
	require.NoError(t, err)
	reduced, err := e.Fit(context.Background(), mat.DenseCopyOf(x.Slice(0, len(y), 0, 1)), y, g, ports.ML)
	require.NoError(t, err)
	assert.Greater(t, reduced.Deviance()-full.Deviance(), 0.0)
}

func TestSimulateDeterministic(t *testing.T) {
	x, y, g := simulated(4)
	fit, err := NewEngine(nil).Fit(context.Background(), x, y, g, ports.ML)
	require.NoError(t, err)
	a := fit.Simulate(rand.NewPCG(9, 9))
	b := fit.Simulate(rand.NewPCG(9, 9))
	c := fit.Simulate(rand.NewPCG(9, 10))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, len(y))
}

func TestFitErrors(t *testing.T) {
	x, y, g := simulated(5)
	e := NewEngine(nil)
	ctx := context.Background()

	_, err := e.Fit(ctx, x, y[:10], g, ports.ML)
	assert.Error(t, err)

	n, _ := x.Dims()
	dup := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		dup.Set(i, 0, 1)
		dup.Set(i, 1, 1)
	}
	_, err = e.Fit(ctx, dup, y, g, ports.ML)
	assert.True(t, core.IsFitConvergenceError(err))
}
