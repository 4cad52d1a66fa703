package dataset

import (
	"math"
	"testing"

	"github.com/PennBBL/GAMM-Tutorial/domain/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDataset(t *testing.T) *Dataset {
	t.Helper()
	ds := New()
	require.NoError(t, ds.AddContinuous("age", []float64{10, 12, 14, 11, 13, 15}))
	require.NoError(t, ds.AddFactor("sex", Categorical, []string{"M", "M", "M", "F", "F", "F"}, nil))
	require.NoError(t, ds.AddFactor("bblid", Categorical, []string{"a", "a", "a", "b", "b", "b"}, nil))
	require.NoError(t, ds.AddBool("excluded", []bool{false, true, false, false, false, false}))
	return ds
}

func TestAddColumnsValidatesLength(t *testing.T) {
	ds := sampleDataset(t)
	assert.Equal(t, 6, ds.Rows())
	assert.Error(t, ds.AddContinuous("short", []float64{1, 2}))
	assert.Error(t, ds.AddContinuous("age", make([]float64, 6)))
	assert.Equal(t, []string{"age", "sex", "bblid", "excluded"}, ds.Names())
}

func TestAddFactorLevelOrder(t *testing.T) {
	ds := New()
	require.NoError(t, ds.AddFactor("grade", OrderedCategorical, []string{"mid", "low", "high", ""}, []string{"low", "mid", "high"}))
	c := ds.MustColumn("grade")
	assert.Equal(t, []int{1, 0, 2, -1}, c.Codes)
	assert.True(t, c.Missing(3))
	assert.Equal(t, "high", c.Level(2))

	err := New().AddFactor("grade", OrderedCategorical, []string{"bogus"}, []string{"low"})
	assert.Error(t, err)
}

func TestWithoutDropsExcludedRowsAndUnusedLevels(t *testing.T) {
	ds := sampleDataset(t)
	sub := ds.Without(ExcludeWhere("excluded"))
	assert.Equal(t, 5, sub.Rows())
	assert.Equal(t, []float64{10, 14, 11, 13, 15}, sub.MustColumn("age").Values)

	onlyF := ds.Without(func(d *Dataset, row int) bool { return d.MustColumn("sex").Level(row) == "M" })
	assert.Equal(t, []string{"F"}, onlyF.MustColumn("sex").Levels)
	assert.Equal(t, []int{0, 0, 0}, onlyF.MustColumn("sex").Codes)

	// the original is untouched
	assert.Equal(t, 6, ds.Rows())
}

func TestExcludeMissingAndAnyOf(t *testing.T) {
	ds := New()
	require.NoError(t, ds.AddContinuous("y", []float64{1, math.NaN(), 3}))
	require.NoError(t, ds.AddBool("flag", []bool{false, false, true}))
	sub := ds.Without(AnyOf(ExcludeMissing("y"), ExcludeWhere("flag")))
	assert.Equal(t, 1, sub.Rows())
}

func TestRangeAndRepresentative(t *testing.T) {
	ds := sampleDataset(t)
	lo, hi, err := ds.Range("age")
	require.NoError(t, err)
	assert.Equal(t, 10.0, lo)
	assert.Equal(t, 15.0, hi)

	med, _, err := ds.Representative("age")
	require.NoError(t, err)
	assert.Equal(t, 12.5, med)

	_, level, err := ds.Representative("sex")
	require.NoError(t, err)
	assert.Equal(t, "M", level)

	_, _, err = ds.Representative("nope")
	assert.ErrorIs(t, err, core.ErrUnknownVariable)

	_, _, err = ds.Range("sex")
	assert.Error(t, err)
}

func TestGroupIndex(t *testing.T) {
	ds := sampleDataset(t)
	units, labels, err := ds.GroupIndex("bblid")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 0, 1, 1, 1}, units)
	assert.Equal(t, []string{"a", "b"}, labels)

	bad := New()
	require.NoError(t, bad.AddFactor("id", Categorical, []string{"a", ""}, nil))
	_, _, err = bad.GroupIndex("id")
	assert.Error(t, err)
}

func TestReferenceFrame(t *testing.T) {
	ds := sampleDataset(t)
	frame, err := ds.ReferenceFrame(3)
	require.NoError(t, err)
	require.NoError(t, frame.SetContinuous("age", []float64{1, 2, 3}))
	assert.Equal(t, []float64{1, 2, 3}, frame.MustColumn("age").Values)
	assert.Equal(t, "M", frame.MustColumn("sex").Level(2))
	require.NoError(t, frame.SetLevel("sex", "F"))
	assert.Equal(t, "F", frame.MustColumn("sex").Level(0))
	assert.Error(t, frame.SetLevel("sex", "X"))
}

func TestParseCovariateKind(t *testing.T) {
	for in, want := range map[string]CovariateKind{
		"numeric": Continuous, "factor": Categorical, "ordered": OrderedCategorical,
	} {
		got, err := ParseCovariateKind(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.NotEqual(t, "unknown", got.String())
	}
	_, err := ParseCovariateKind("date")
	assert.Error(t, err)
}
