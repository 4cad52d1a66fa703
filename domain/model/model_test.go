package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func curveFrom(xs []float64, flags []bool) *DerivativeCurve {
	c := &DerivativeCurve{Var: "age", Multiplier: 2}
	for i, x := range xs {
		est := 0.0
		if flags[i] {
			est = 1
		}
		c.Points = append(c.Points, DerivativePoint{X: x, Estimate: est, Significant: flags[i]})
	}
	return c
}

func TestSignificantIntervals(t *testing.T) {
	tests := []struct {
		name  string
		flags []bool
		want  []Interval
	}{
		{"two runs", []bool{false, false, true, true, true, false, true}, []Interval{{2, 4}, {6, 6}}},
		{"none", []bool{false, false, false, false, false, false, false}, []Interval{}},
		{"whole domain", []bool{true, true, true, true, true, true, true}, []Interval{{0, 6}}},
		{"alternating", []bool{true, false, true, false, true, false, true}, []Interval{{0, 0}, {2, 2}, {4, 4}, {6, 6}}},
	}
	xs := []float64{0, 1, 2, 3, 4, 5, 6}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := curveFrom(xs, tt.flags).SignificantIntervals()
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMasked(t *testing.T) {
	c := curveFrom([]float64{0, 1, 2}, []bool{true, false, true})
	c.Points[1].Estimate = 5
	assert.Equal(t, []float64{1, 0, 1}, c.Masked())
	assert.True(t, c.AnySignificant())
}

func TestPValueFrom(t *testing.T) {
	ref := []float64{0.1, 0.5, 1.0, 2.0}
	tests := []struct {
		name      string
		reference []float64
		observed  float64
		want      float64
	}{
		{"tie counts as at least as extreme", ref, 0.5, 4.0 / 5.0},
		{"tie at the maximum", ref, 2.0, 2.0 / 5.0},
		{"between draws", ref, 0.7, 3.0 / 5.0},
		{"above every draw", ref, 10, 1.0 / 5.0},
		{"below every draw", ref, -1, 1.0},
		{"no draws", nil, 3, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, PValueFrom(tt.reference, tt.observed), 1e-12)
		})
	}
}

func TestSummarize(t *testing.T) {
	s, err := Summarize([]float64{1, 2, 3, 4, 5})
	require.NoError(t, err)
	assert.InDelta(t, 3, s.Mean, 1e-12)
	assert.InDelta(t, 1, s.Min, 1e-12)
	assert.InDelta(t, 5, s.Max, 1e-12)

	_, err = Summarize(nil)
	assert.Error(t, err)
}

func TestConcurvityPair(t *testing.T) {
	c := &Concurvity{
		Terms: []string{"s(a)", "s(b)"},
		Worst: [][]float64{{1, 0.3}, {0.2, 1}},
	}
	v, ok := c.Pair("s(a)", "s(b)")
	require.True(t, ok)
	assert.Equal(t, 0.3, v)
	assert.Equal(t, 0.3, c.MaxOffDiagonal())
	_, ok = c.Pair("s(a)", "s(z)")
	assert.False(t, ok)
}
