package testkit

import (
	"testing"

	"github.com/PennBBL/GAMM-Tutorial/domain/dataset"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLongitudinalShape(t *testing.T) {
	cfg := DefaultLongitudinalConfig()
	cfg.ExcludeEvery = 10
	ds, err := Longitudinal(cfg)
	require.NoError(t, err)
	assert.Equal(t, 300, ds.Rows())

	_, labels, err := ds.GroupIndex(dataset.GroupKey(Subject))
	require.NoError(t, err)
	assert.Len(t, labels, 100)

	lo, hi, err := ds.Range(Age)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, lo, 8.0)
	assert.LessOrEqual(t, hi, 22.0)

	assert.Equal(t, 270, ds.Without(dataset.ExcludeWhere(Exclude)).Rows())
	assert.Equal(t, dataset.OrderedCategorical, ds.MustColumn(OSex).Kind)
}

func TestLongitudinalDeterministic(t *testing.T) {
	cfg := DefaultLongitudinalConfig()
	cfg.Mean = Quadratic
	a, err := Longitudinal(cfg)
	require.NoError(t, err)
	b, err := Longitudinal(cfg)
	require.NoError(t, err)
	assert.Equal(t, a.MustColumn(Y).Values, b.MustColumn(Y).Values)
}

func TestTwinsShareEverythingButSex(t *testing.T) {
	cfg := DefaultLongitudinalConfig()
	cfg.Twins = true
	ds, err := Longitudinal(cfg)
	require.NoError(t, err)
	y := ds.MustColumn(Y).Values
	sex := ds.MustColumn(Sex)
	for i := 0; i < cfg.Visits; i++ {
		assert.Equal(t, y[i], y[cfg.Visits+i])
		assert.NotEqual(t, sex.Level(i), sex.Level(cfg.Visits+i))
	}
}

func TestLongitudinalRejectsTinyConfig(t *testing.T) {
	_, err := Longitudinal(LongitudinalConfig{Subjects: 1, Visits: 3})
	assert.Error(t, err)
}
