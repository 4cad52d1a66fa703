package dataset

import (
	"fmt"
	"math"

	"github.com/PennBBL/GAMM-Tutorial/domain/core"

	"github.com/montanaflynn/stats"
)

// Dataset is an in-memory table of named columns with equal length.
// Column order is preserved for reporting.
type Dataset struct {
	order []string
	cols  map[string]*Column
	rows  int
}

// RowPredicate reports whether a row should be excluded from a fit.
type RowPredicate func(ds *Dataset, row int) bool

// New creates an empty dataset
func New() *Dataset {
	return &Dataset{cols: make(map[string]*Column)}
}

// Rows returns the row count
func (d *Dataset) Rows() int {
	return d.rows
}

// Names returns column names in insertion order
func (d *Dataset) Names() []string {
	return append([]string(nil), d.order...)
}

// Column looks up a column by name
func (d *Dataset) Column(name string) (*Column, bool) {
	c, ok := d.cols[name]
	return c, ok
}

// MustColumn is Column for callers that already validated the name.
func (d *Dataset) MustColumn(name string) *Column {
	c, ok := d.cols[name]
	if !ok {
		panic(fmt.Sprintf("dataset: no column %q", name))
	}
	return c
}

// Has reports whether a column exists
func (d *Dataset) Has(name string) bool {
	_, ok := d.cols[name]
	return ok
}

func (d *Dataset) add(c *Column) error {
	if c.Name == "" {
		return fmt.Errorf("column name cannot be empty")
	}
	if _, exists := d.cols[c.Name]; exists {
		return fmt.Errorf("duplicate column %q", c.Name)
	}
	if len(d.order) > 0 && c.Len() != d.rows {
		return fmt.Errorf("column %q has %d rows, dataset has %d", c.Name, c.Len(), d.rows)
	}
	d.rows = c.Len()
	d.order = append(d.order, c.Name)
	d.cols[c.Name] = c
	return nil
}

// AddContinuous adds a numeric column. NaN marks missing values.
func (d *Dataset) AddContinuous(name string, values []float64) error {
	return d.add(&Column{Name: name, Kind: Continuous, Values: append([]float64(nil), values...)})
}

// AddBool adds a 0/1 indicator column, e.g. an exclusion flag.
func (d *Dataset) AddBool(name string, values []bool) error {
	v := make([]float64, len(values))
	for i, b := range values {
		if b {
			v[i] = 1
		}
	}
	return d.add(&Column{Name: name, Kind: Continuous, Values: v})
}

// AddFactor adds a factor column from labels. If levels is empty the level
// order is the order of first appearance; empty labels are missing.
func (d *Dataset) AddFactor(name string, kind CovariateKind, labels []string, levels []string) error {
	if !kind.IsFactor() {
		return fmt.Errorf("column %q: %s is not a factor kind", name, kind)
	}
	col := &Column{Name: name, Kind: kind, Codes: make([]int, len(labels))}
	index := make(map[string]int)
	for i, l := range levels {
		index[l] = i
	}
	col.Levels = append([]string(nil), levels...)
	for i, label := range labels {
		if label == "" {
			col.Codes[i] = -1
			continue
		}
		code, ok := index[label]
		if !ok {
			if len(levels) > 0 {
				return fmt.Errorf("column %q: label %q not among declared levels", name, label)
			}
			code = len(col.Levels)
			index[label] = code
			col.Levels = append(col.Levels, label)
		}
		col.Codes[i] = code
	}
	return d.add(col)
}

// WithContinuous returns a copy of d whose column name holds values. Other
// columns are shared, so the copy must be treated as read-only.
func (d *Dataset) WithContinuous(name string, values []float64) (*Dataset, error) {
	if len(values) != d.rows {
		return nil, fmt.Errorf("column %q has %d rows, dataset has %d", name, len(values), d.rows)
	}
	out := &Dataset{order: append([]string(nil), d.order...), cols: make(map[string]*Column, len(d.cols)), rows: d.rows}
	for k, v := range d.cols {
		out.cols[k] = v
	}
	if _, ok := d.cols[name]; !ok {
		out.order = append(out.order, name)
	}
	out.cols[name] = &Column{Name: name, Kind: Continuous, Values: append([]float64(nil), values...)}
	return out, nil
}

// Without returns a new dataset holding the rows for which exclude is false.
// Factor levels that no longer occur are dropped, keeping level order.
func (d *Dataset) Without(exclude RowPredicate) *Dataset {
	keep := make([]int, 0, d.rows)
	for i := 0; i < d.rows; i++ {
		if exclude == nil || !exclude(d, i) {
			keep = append(keep, i)
		}
	}
	return d.Subset(keep)
}

// Subset returns a new dataset restricted to the given row indices.
func (d *Dataset) Subset(rows []int) *Dataset {
	out := &Dataset{order: append([]string(nil), d.order...), cols: make(map[string]*Column, len(d.cols)), rows: len(rows)}
	for _, name := range d.order {
		src := d.cols[name]
		dst := &Column{Name: name, Kind: src.Kind}
		if src.Kind.IsFactor() {
			used := make([]bool, len(src.Levels))
			for _, r := range rows {
				if c := src.Codes[r]; c >= 0 {
					used[c] = true
				}
			}
			remap := make([]int, len(src.Levels))
			for i, u := range used {
				remap[i] = -1
				if u {
					remap[i] = len(dst.Levels)
					dst.Levels = append(dst.Levels, src.Levels[i])
				}
			}
			dst.Codes = make([]int, len(rows))
			for j, r := range rows {
				c := src.Codes[r]
				if c < 0 {
					dst.Codes[j] = -1
				} else {
					dst.Codes[j] = remap[c]
				}
			}
		} else {
			dst.Values = make([]float64, len(rows))
			for j, r := range rows {
				dst.Values[j] = src.Values[r]
			}
		}
		out.cols[name] = dst
	}
	return out
}

// ExcludeWhere builds a predicate that excludes rows whose indicator column
// is non-zero (or, for factors, whose label is TRUE/true/1).
func ExcludeWhere(column string) RowPredicate {
	return func(ds *Dataset, row int) bool {
		c, ok := ds.Column(column)
		if !ok {
			return false
		}
		if c.Kind.IsFactor() {
			switch c.Level(row) {
			case "TRUE", "true", "True", "1", "T":
				return true
			}
			return false
		}
		v := c.Values[row]
		return !math.IsNaN(v) && v != 0
	}
}

// ExcludeMissing excludes rows where any of the named columns is missing.
func ExcludeMissing(columns ...string) RowPredicate {
	return func(ds *Dataset, row int) bool {
		for _, name := range columns {
			if c, ok := ds.Column(name); ok && c.Missing(row) {
				return true
			}
		}
		return false
	}
}

// AnyOf combines predicates; a row is excluded if any predicate excludes it.
func AnyOf(preds ...RowPredicate) RowPredicate {
	return func(ds *Dataset, row int) bool {
		for _, p := range preds {
			if p != nil && p(ds, row) {
				return true
			}
		}
		return false
	}
}

// Range returns the observed minimum and maximum of a continuous column.
func (d *Dataset) Range(name string) (float64, float64, error) {
	values, err := d.observed(name)
	if err != nil {
		return 0, 0, err
	}
	lo, err := stats.Min(values)
	if err != nil {
		return 0, 0, err
	}
	hi, err := stats.Max(values)
	if err != nil {
		return 0, 0, err
	}
	return lo, hi, nil
}

// Representative returns the value used to hold a covariate fixed: the
// median for continuous columns, the first level for factors.
func (d *Dataset) Representative(name string) (float64, string, error) {
	c, ok := d.cols[name]
	if !ok {
		return 0, "", core.NewUnknownVariableError(name)
	}
	if c.Kind.IsFactor() {
		if len(c.Levels) == 0 {
			return 0, "", fmt.Errorf("factor %q has no levels", name)
		}
		return 0, c.Levels[0], nil
	}
	values, err := d.observed(name)
	if err != nil {
		return 0, "", err
	}
	median, err := stats.Median(values)
	if err != nil {
		return 0, "", err
	}
	return median, "", nil
}

// Percentiles returns the requested percentiles (0-100) of a continuous column.
func (d *Dataset) Percentiles(name string, ps ...float64) ([]float64, error) {
	values, err := d.observed(name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(ps))
	for i, p := range ps {
		v, err := stats.Percentile(values, p)
		if err != nil {
			return nil, fmt.Errorf("percentile %.0f of %s: %w", p, name, err)
		}
		out[i] = v
	}
	return out, nil
}

func (d *Dataset) observed(name string) ([]float64, error) {
	c, ok := d.cols[name]
	if !ok {
		return nil, core.NewUnknownVariableError(name)
	}
	if c.Kind.IsFactor() {
		return nil, fmt.Errorf("column %q is %s, need continuous", name, c.Kind)
	}
	values := make([]float64, 0, len(c.Values))
	for _, v := range c.Values {
		if !math.IsNaN(v) {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("column %q has no observed values", name)
	}
	return values, nil
}

// GroupIndex resolves every row to exactly one grouping unit. It returns
// the per-row unit index and the unit labels.
func (d *Dataset) GroupIndex(key GroupKey) ([]int, []string, error) {
	c, ok := d.cols[string(key)]
	if !ok {
		return nil, nil, core.NewUnknownVariableError(string(key))
	}
	index := make(map[string]int)
	var labels []string
	units := make([]int, d.rows)
	for i := 0; i < d.rows; i++ {
		if c.Missing(i) {
			return nil, nil, fmt.Errorf("row %d has no value for grouping variable %q", i, key)
		}
		label := c.Level(i)
		u, ok := index[label]
		if !ok {
			u = len(labels)
			index[label] = u
			labels = append(labels, label)
		}
		units[i] = u
	}
	return units, labels, nil
}

// ReferenceFrame returns n rows in which every column holds its
// representative value. Callers overwrite the columns they want to vary.
func (d *Dataset) ReferenceFrame(n int) (*Dataset, error) {
	out := &Dataset{order: append([]string(nil), d.order...), cols: make(map[string]*Column, len(d.cols)), rows: n}
	for _, name := range d.order {
		src := d.cols[name]
		dst := &Column{Name: name, Kind: src.Kind}
		if src.Kind.IsFactor() {
			dst.Levels = append([]string(nil), src.Levels...)
			dst.Codes = make([]int, n)
		} else {
			dst.Values = make([]float64, n)
			if v, _, err := d.Representative(name); err == nil {
				for i := range dst.Values {
					dst.Values[i] = v
				}
			}
		}
		out.cols[name] = dst
	}
	return out, nil
}

// SetContinuous overwrites a continuous column in place. It is meant for
// frames built by ReferenceFrame.
func (d *Dataset) SetContinuous(name string, values []float64) error {
	c, ok := d.cols[name]
	if !ok {
		return core.NewUnknownVariableError(name)
	}
	if c.Kind.IsFactor() {
		return fmt.Errorf("column %q is %s", name, c.Kind)
	}
	if len(values) != d.rows {
		return fmt.Errorf("column %q: got %d values for %d rows", name, len(values), d.rows)
	}
	copy(c.Values, values)
	return nil
}

// SetLevel sets every row of a factor column to label.
func (d *Dataset) SetLevel(name, label string) error {
	c, ok := d.cols[name]
	if !ok {
		return core.NewUnknownVariableError(name)
	}
	code := c.LevelIndex(label)
	if code < 0 {
		return fmt.Errorf("column %q has no level %q", name, label)
	}
	for i := range c.Codes {
		c.Codes[i] = code
	}
	return nil
}

// Clone returns a deep copy
func (d *Dataset) Clone() *Dataset {
	out := &Dataset{order: append([]string(nil), d.order...), cols: make(map[string]*Column, len(d.cols)), rows: d.rows}
	for k, v := range d.cols {
		out.cols[k] = v.clone()
	}
	return out
}
