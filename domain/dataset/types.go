package dataset

import (
	"fmt"
	"math"
	"strconv"
)

// CovariateKind tags how a column enters a model.
type CovariateKind int

const (
	Continuous CovariateKind = iota
	Categorical
	OrderedCategorical
)

func (k CovariateKind) String() string {
	switch k {
	case Continuous:
		return "continuous"
	case Categorical:
		return "categorical"
	case OrderedCategorical:
		return "ordered_categorical"
	default:
		return "unknown"
	}
}

// IsFactor reports whether the column holds level codes rather than numbers.
func (k CovariateKind) IsFactor() bool {
	return k == Categorical || k == OrderedCategorical
}

// ParseCovariateKind accepts the names produced by String plus a few aliases.
func ParseCovariateKind(s string) (CovariateKind, error) {
	switch s {
	case "continuous", "numeric", "":
		return Continuous, nil
	case "categorical", "factor":
		return Categorical, nil
	case "ordered_categorical", "ordered":
		return OrderedCategorical, nil
	default:
		return Continuous, fmt.Errorf("unknown covariate kind %q", s)
	}
}

// GroupKey names the column that identifies the grouping unit (subject).
type GroupKey string

// Column is a single named variable. Continuous columns use Values; factor
// columns use Codes indexing into Levels, with -1 marking a missing value.
type Column struct {
	Name   string
	Kind   CovariateKind
	Values []float64
	Codes  []int
	Levels []string
}

// Len returns the number of rows in the column
func (c *Column) Len() int {
	if c.Kind.IsFactor() {
		return len(c.Codes)
	}
	return len(c.Values)
}

// Missing reports whether the value at row is absent.
func (c *Column) Missing(row int) bool {
	if c.Kind.IsFactor() {
		return c.Codes[row] < 0
	}
	return math.IsNaN(c.Values[row])
}

// Level returns the factor label at row, or the formatted number for
// continuous columns.
func (c *Column) Level(row int) string {
	if c.Kind.IsFactor() {
		code := c.Codes[row]
		if code < 0 {
			return ""
		}
		return c.Levels[code]
	}
	return strconv.FormatFloat(c.Values[row], 'g', -1, 64)
}

// LevelIndex returns the code of label, or -1.
func (c *Column) LevelIndex(label string) int {
	for i, l := range c.Levels {
		if l == label {
			return i
		}
	}
	return -1
}

func (c *Column) clone() *Column {
	out := &Column{Name: c.Name, Kind: c.Kind}
	if c.Values != nil {
		out.Values = append([]float64(nil), c.Values...)
	}
	if c.Codes != nil {
		out.Codes = append([]int(nil), c.Codes...)
	}
	if c.Levels != nil {
		out.Levels = append([]string(nil), c.Levels...)
	}
	return out
}
