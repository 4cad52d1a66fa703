// Package report formats task results as text tables, Markdown, HTML and
// Excel workbooks.
package report

import (
	"math"
	"strconv"

	"github.com/PennBBL/GAMM-Tutorial/domain/model"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	parametricHeaders = []string{"term", "estimate", "std. error", "t", "p-value"}
	smoothHeaders     = []string{"term", "edf", "ref. df", "F", "p-value"}
)

// newTable returns a Markdown-compatible table so the same text serves the
// terminal and the HTML report.
func newTable(headers ...string) *table.Table {
	cell := lipgloss.NewStyle().Padding(0, 1)
	return table.New().
		Border(lipgloss.MarkdownBorder()).
		BorderTop(false).
		BorderBottom(false).
		StyleFunc(func(_, _ int) lipgloss.Style { return cell }).
		Headers(headers...)
}

// ParametricRows formats the parametric coefficient table.
func ParametricRows(fm *model.FittedModel) [][]string {
	rows := make([][]string, 0, len(fm.Coefficients))
	for _, c := range fm.Coefficients {
		rows = append(rows, []string{c.Term, num(c.Estimate), num(c.StdError), num(c.Statistic), pvalue(c.PValue)})
	}
	return rows
}

// SmoothRows formats the smooth term table.
func SmoothRows(fm *model.FittedModel) [][]string {
	rows := make([][]string, 0, len(fm.Smooths))
	for _, s := range fm.Smooths {
		rows = append(rows, []string{s.Term, num(s.EDF), num(s.RefDF), num(s.F), pvalue(s.PValue)})
	}
	return rows
}

// RegressionTable renders the parametric and smooth tables of fm.
func RegressionTable(fm *model.FittedModel) string {
	out := newTable(parametricHeaders...).Rows(ParametricRows(fm)...).Render()
	if len(fm.Smooths) > 0 {
		out += "\n\n" + newTable(smoothHeaders...).Rows(SmoothRows(fm)...).Render()
	}
	return out + "\n"
}

// ConcurvityTable renders one concurvity matrix, worst or observed.
func ConcurvityTable(c *model.Concurvity, observed bool) string {
	m := c.Worst
	if observed {
		m = c.Observed
	}
	headers := append([]string{""}, c.Terms...)
	t := newTable(headers...)
	for i, term := range c.Terms {
		row := []string{term}
		for j := range c.Terms {
			row = append(row, strconv.FormatFloat(m[i][j], 'f', 3, 64))
		}
		t.Row(row...)
	}
	return t.Render() + "\n"
}

func num(v float64) string {
	if math.IsNaN(v) {
		return "NA"
	}
	return strconv.FormatFloat(v, 'g', 4, 64)
}

func pvalue(p float64) string {
	switch {
	case math.IsNaN(p):
		return "NA"
	case p < 2e-16:
		return "<2e-16"
	case p < 1e-4:
		return strconv.FormatFloat(p, 'e', 2, 64)
	default:
		return strconv.FormatFloat(p, 'f', 4, 64)
	}
}
