package report

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/PennBBL/GAMM-Tutorial/domain/core"
	"github.com/PennBBL/GAMM-Tutorial/domain/formula"
	"github.com/PennBBL/GAMM-Tutorial/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sampleResult(t *testing.T) *model.TaskResult {
	t.Helper()
	full, err := formula.Parse("y ~ oSex + s(age, k=4, fx=TRUE) + s(age, by=oSex, k=4, fx=TRUE)")
	require.NoError(t, err)
	selected, err := formula.DropLastTerm(full)
	require.NoError(t, err)
	fm := &model.FittedModel{
		Spec: selected,
		Coefficients: []model.CoefficientRow{
			{Term: "(Intercept)", Estimate: 1.5, StdError: 0.1, Statistic: 15, PValue: 1e-20},
			{Term: "oSexmale", Estimate: 0.25, StdError: 0.12, Statistic: 2.08, PValue: 0.04},
		},
		Smooths: []model.SmoothRow{
			{Term: "s(age)", Source: "s(age)", EDF: 3, RefDF: 3, F: 12.3, PValue: 3e-6},
		},
		RandomEffects: model.RandomEffects{GroupVar: "bblid", Groups: 100, InterceptVariance: 0.4, ResidualVariance: 0.2},
		Stats:         model.Stats{N: 300, BIC: 812.4},
	}
	return &model.TaskResult{
		Label:        "thickness/sex",
		FullSpec:     full,
		SelectedSpec: selected,
		Inference:    fm,
		Bootstrap: &model.BootstrapResult{
			Observed:  0.8,
			Reference: []float64{0.1, 0.5, 1.2, 2.0},
			PValue:    0.6,
			Seed:      1,
			Null:      model.NullSummary{Mean: 0.95, P95: 1.9},
		},
		Derivatives: &model.DerivativeCurve{Var: "age"},
		Intervals:   []model.Interval{{Start: 8, End: 14.5}},
		BIC:         812.4,
		N:           300,
	}
}

func TestFormatting(t *testing.T) {
	tests := []struct {
		name string
		fn   func(float64) string
		in   float64
		want string
	}{
		{"num nan", num, math.NaN(), "NA"},
		{"num", num, 1.23456, "1.235"},
		{"tiny p", pvalue, 1e-20, "<2e-16"},
		{"small p", pvalue, 3e-6, "3.00e-06"},
		{"p", pvalue, 0.04, "0.0400"},
		{"nan p", pvalue, math.NaN(), "NA"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.fn(tt.in))
		})
	}
}

func TestRegressionTable(t *testing.T) {
	res := sampleResult(t)
	out := RegressionTable(res.Inference)

	assert.Contains(t, out, "oSexmale")
	assert.Contains(t, out, "s(age)")
	assert.Contains(t, out, "<2e-16")
	assert.Contains(t, out, "edf")

	res.Inference.Smooths = nil
	assert.NotContains(t, RegressionTable(res.Inference), "edf")
}

func TestConcurvityTable(t *testing.T) {
	c := &model.Concurvity{
		Terms:    []string{"para", "s(age)"},
		Worst:    [][]float64{{1, 0.25}, {0.25, 1}},
		Observed: [][]float64{{1, 0.125}, {0.125, 1}},
	}
	assert.Contains(t, ConcurvityTable(c, false), "0.250")
	assert.Contains(t, ConcurvityTable(c, true), "0.125")
}

func TestMarkdown(t *testing.T) {
	res := sampleResult(t)
	md := string(Markdown(res, "thickness.png"))

	assert.Contains(t, md, "## thickness/sex")
	assert.Contains(t, md, "Selected model: `"+res.SelectedSpec.String()+"` ("+res.SelectedSpec.Fingerprint().Short()+")")
	assert.Contains(t, md, "Parametric bootstrap")
	assert.Contains(t, md, "p = 0.6000")
	assert.Contains(t, md, "8.00 to 14.50")
	assert.Contains(t, md, "![thickness/sex](thickness.png)")
	assert.NotContains(t, md, "Interaction test")
}

func TestMarkdownEmptyRegion(t *testing.T) {
	res := sampleResult(t)
	res.Bootstrap = nil
	res.Intervals = nil
	res.Interaction = &model.InteractionTest{Term: "s(age):oSex", PValue: 0.02, Threshold: 0.0125}
	res.Warnings = []core.Warning{core.NewEmptySignificantRegionWarning("age")}

	md := string(Markdown(res, ""))
	assert.Contains(t, md, "not significant")
	assert.Contains(t, md, "No region where the derivative of age")
	assert.Contains(t, md, core.WarningEmptySignificantRegion)
	assert.NotContains(t, md, "![")
}

func TestHTML(t *testing.T) {
	res := sampleResult(t)
	page := string(HTML(Document("GAMM report", Markdown(res, "")), "GAMM report"))

	assert.Contains(t, page, "<title>GAMM report</title>")
	assert.Contains(t, page, "<table>")
	assert.Contains(t, page, "oSexmale")
}

func TestWorkbook(t *testing.T) {
	wb, err := NewWorkbook()
	require.NoError(t, err)
	defer wb.Close()

	res := sampleResult(t)
	first, err := wb.Add(res)
	require.NoError(t, err)
	assert.Equal(t, "thickness_sex", first)

	res.Label = strings.Repeat("x", 40)
	long, err := wb.Add(res)
	require.NoError(t, err)
	assert.Len(t, long, maxSheetName)

	dup, err := wb.Add(res)
	require.NoError(t, err)
	assert.Len(t, dup, maxSheetName)
	assert.True(t, strings.HasSuffix(dup, " (2)"))
	assert.Equal(t, []string{first, long, dup}, wb.Sheets())

	var buf bytes.Buffer
	require.NoError(t, wb.Write(&buf))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(first)
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Equal(t, []string{"model", res.SelectedSpec.String()}, rows[0])

	var terms []string
	for _, r := range rows {
		if len(r) > 0 {
			terms = append(terms, r[0])
		}
	}
	assert.Contains(t, terms, "oSexmale")
	assert.Contains(t, terms, "s(age)")
	assert.Contains(t, terms, "significant from")
}

func sampleConcurvity() *model.Concurvity {
	return &model.Concurvity{
		Terms:    []string{"para", "s(age)", "s(ses)"},
		Worst:    [][]float64{{1, 0.25, 0.5}, {0.25, 1, 0.75}, {0.5, 0.75, 1}},
		Observed: [][]float64{{1, 0.125, 0.375}, {0.125, 1, 0.625}, {0.375, 0.625, 1}},
	}
}

func TestMarkdownConcurvity(t *testing.T) {
	tests := []struct {
		name string
		conc *model.Concurvity
		want bool
	}{
		{"two smooths", sampleConcurvity(), true},
		{"not computed", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := sampleResult(t)
			res.Concurvity = tt.conc
			md := string(Markdown(res, ""))
			if !tt.want {
				assert.NotContains(t, md, "### Concurvity")
				return
			}
			assert.Contains(t, md, "### Concurvity")
			assert.Contains(t, md, "s(ses)")
			assert.Contains(t, md, "0.750")
			assert.Contains(t, md, "0.625")
		})
	}
}

func TestWorkbookConcurvity(t *testing.T) {
	wb, err := NewWorkbook()
	require.NoError(t, err)
	defer wb.Close()

	res := sampleResult(t)
	res.Concurvity = sampleConcurvity()
	name, err := wb.Add(res)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, wb.Write(&buf))
	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(name)
	require.NoError(t, err)

	at := -1
	for i, r := range rows {
		if len(r) > 0 && r[0] == "concurvity (worst)" {
			at = i
		}
	}
	require.GreaterOrEqual(t, at, 0)
	require.Greater(t, len(rows), at+3)
	assert.Equal(t, []string{"concurvity (worst)", "para", "s(age)", "s(ses)"}, rows[at])
	assert.Equal(t, []string{"s(ses)", "0.5", "0.75", "1"}, rows[at+3])
}
