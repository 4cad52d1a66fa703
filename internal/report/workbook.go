package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/PennBBL/GAMM-Tutorial/domain/model"

	"github.com/xuri/excelize/v2"
)

const maxSheetName = 31

// Workbook builds an .xlsx file with one sheet per task.
type Workbook struct {
	file  *excelize.File
	names map[string]bool
	bold  int
}

// NewWorkbook creates an empty workbook.
func NewWorkbook() (*Workbook, error) {
	f := excelize.NewFile()
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Workbook{file: f, names: make(map[string]bool), bold: bold}, nil
}

// Add writes the inference tables of res to a new sheet and returns the
// sheet name.
func (w *Workbook) Add(res *model.TaskResult) (string, error) {
	name := w.sheetName(res.Label)
	if len(w.names) == 0 {
		if err := w.file.SetSheetName("Sheet1", name); err != nil {
			return "", err
		}
	} else if _, err := w.file.NewSheet(name); err != nil {
		return "", err
	}
	w.names[name] = true

	row := 1
	put := func(values ...interface{}) error {
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return err
		}
		row++
		return w.file.SetSheetRow(name, cell, &values)
	}
	heading := func(values ...interface{}) error {
		r := row
		if err := put(values...); err != nil {
			return err
		}
		return w.file.SetRowStyle(name, r, r, w.bold)
	}

	if err := heading("model", res.SelectedSpec.String()); err != nil {
		return "", err
	}
	if err := put("observations", res.N); err != nil {
		return "", err
	}
	if err := put("BIC", res.BIC); err != nil {
		return "", err
	}
	if res.Bootstrap != nil {
		if err := put("bootstrap p", res.Bootstrap.PValue); err != nil {
			return "", err
		}
	}
	if res.Interaction != nil {
		if err := put("interaction p", res.Interaction.PValue, "threshold", res.Interaction.Threshold); err != nil {
			return "", err
		}
	}
	row++

	if fm := res.Inference; fm != nil {
		if err := heading("term", "estimate", "std. error", "t", "p-value"); err != nil {
			return "", err
		}
		for _, c := range fm.Coefficients {
			if err := put(c.Term, c.Estimate, c.StdError, c.Statistic, c.PValue); err != nil {
				return "", err
			}
		}
		row++
		if len(fm.Smooths) > 0 {
			if err := heading("term", "edf", "ref. df", "F", "p-value"); err != nil {
				return "", err
			}
			for _, s := range fm.Smooths {
				if err := put(s.Term, s.EDF, s.RefDF, s.F, s.PValue); err != nil {
					return "", err
				}
			}
			row++
		}
	}
	if c := res.Concurvity; c != nil {
		if err := heading(append([]interface{}{"concurvity (worst)"}, stringsToCells(c.Terms)...)...); err != nil {
			return "", err
		}
		for i, term := range c.Terms {
			if err := put(append([]interface{}{term}, floatsToCells(c.Worst[i])...)...); err != nil {
				return "", err
			}
		}
		row++
	}
	if len(res.Intervals) > 0 {
		if err := heading("significant from", "to"); err != nil {
			return "", err
		}
		for _, iv := range res.Intervals {
			if err := put(iv.Start, iv.End); err != nil {
				return "", err
			}
		}
	}
	if err := w.file.SetColWidth(name, "A", "A", 28); err != nil {
		return "", err
	}
	return name, nil
}

func stringsToCells(vs []string) []interface{} {
	out := make([]interface{}, len(vs))
	for i, v := range vs {
		out[i] = v
	}
	return out
}

func floatsToCells(vs []float64) []interface{} {
	out := make([]interface{}, len(vs))
	for i, v := range vs {
		out[i] = v
	}
	return out
}

// Sheets lists the sheet names in order.
func (w *Workbook) Sheets() []string { return w.file.GetSheetList() }

// Write encodes the workbook.
func (w *Workbook) Write(out io.Writer) error { return w.file.Write(out) }

// Save writes the workbook to path.
func (w *Workbook) Save(path string) error { return w.file.SaveAs(path) }

// Close releases the workbook.
func (w *Workbook) Close() error { return w.file.Close() }

// sheetName strips characters Excel rejects, truncates to 31 characters and
// makes the name unique.
func (w *Workbook) sheetName(label string) string {
	clean := strings.Map(func(r rune) rune {
		if strings.ContainsRune(`[]:*?/\`, r) {
			return '_'
		}
		return r
	}, strings.TrimSpace(label))
	if clean == "" {
		clean = "task"
	}
	clean = truncate(clean, maxSheetName)
	name := clean
	for i := 2; w.names[name]; i++ {
		suffix := fmt.Sprintf(" (%d)", i)
		name = truncate(clean, maxSheetName-len(suffix)) + suffix
	}
	return name
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		r = r[:n]
	}
	return string(r)
}
