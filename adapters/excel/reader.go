package excel

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/PennBBL/GAMM-Tutorial/domain/core"
	"github.com/PennBBL/GAMM-Tutorial/domain/dataset"
	"github.com/PennBBL/GAMM-Tutorial/internal"
	"github.com/PennBBL/GAMM-Tutorial/internal/errors"
	"github.com/PennBBL/GAMM-Tutorial/ports"

	"github.com/xuri/excelize/v2"
)

// DataReader reads Excel and CSV files into datasets
type DataReader struct {
	logger *internal.Logger
}

var _ ports.DatasetReader = (*DataReader)(nil)

// NewDataReader creates a reader for .xlsx and .csv files
func NewDataReader(logger *internal.Logger) *DataReader {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &DataReader{logger: logger.With("DataReader")}
}

// Read loads the columns named in schema from path. The file type follows
// the extension: .csv is read as CSV, anything else as a workbook.
func (r *DataReader) Read(ctx context.Context, path string, schema ports.Schema) (*dataset.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, errors.NotFound(fmt.Sprintf("data file %s", path))
	}

	start := time.Now()
	var (
		raw *RawTable
		err error
	)
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		raw, err = readCSV(path)
	} else {
		raw, err = readWorkbook(path, schema.Sheet)
	}
	if err != nil {
		return nil, err
	}
	r.logger.Debug("%s read in %.2fms (%d columns, %d rows)", path,
		float64(time.Since(start).Nanoseconds())/1e6, len(raw.Headers), len(raw.Rows))

	ds, err := Convert(raw, schema)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load %s", path)
	}
	r.logger.Info("loaded %s: %d rows, %d columns", filepath.Base(path), ds.Rows(), len(ds.Names()))
	return ds, nil
}

func readWorkbook(path, sheet string) (*RawTable, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, errors.InvalidInput("workbook has no sheets")
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}
	return newRawTable(rows)
}

func readCSV(path string) (*RawTable, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV file: %w", err)
	}
	return newRawTable(rows)
}

// Convert types the raw cells according to schema.
func Convert(raw *RawTable, schema ports.Schema) (*dataset.Dataset, error) {
	if len(schema.Columns) == 0 {
		return nil, errors.InvalidInput("schema lists no columns")
	}
	ds := dataset.New()
	for _, spec := range schema.Columns {
		cells, ok := raw.Column(spec.Name)
		if !ok {
			return nil, core.NewUnknownVariableError(spec.Name)
		}
		var err error
		switch {
		case spec.Bool:
			var values []bool
			if values, err = parseBools(spec.Name, cells); err == nil {
				err = ds.AddBool(spec.Name, values)
			}
		case spec.Kind.IsFactor():
			labels := make([]string, len(cells))
			for i, c := range cells {
				if !isMissing(c) {
					labels[i] = c
				}
			}
			err = ds.AddFactor(spec.Name, spec.Kind, labels, spec.Levels)
		default:
			var values []float64
			if values, err = parseFloats(spec.Name, cells); err == nil {
				err = ds.AddContinuous(spec.Name, values)
			}
		}
		if err != nil {
			return nil, err
		}
	}
	return ds, nil
}

func isMissing(cell string) bool {
	switch cell {
	case "", "NA", "NaN", "nan", "N/A":
		return true
	}
	return false
}

func parseFloats(name string, cells []string) ([]float64, error) {
	out := make([]float64, len(cells))
	for i, c := range cells {
		if isMissing(c) {
			out[i] = math.NaN()
			continue
		}
		v, err := strconv.ParseFloat(c, 64)
		if err != nil {
			return nil, errors.InvalidInput(fmt.Sprintf("column %s row %d: %q is not a number", name, i+2, c))
		}
		out[i] = v
	}
	return out, nil
}

func parseBools(name string, cells []string) ([]bool, error) {
	out := make([]bool, len(cells))
	for i, c := range cells {
		switch strings.ToUpper(c) {
		case "TRUE", "T", "1", "YES":
			out[i] = true
		case "FALSE", "F", "0", "NO", "", "NA":
		default:
			return nil, errors.InvalidInput(fmt.Sprintf("column %s row %d: %q is not a boolean", name, i+2, c))
		}
	}
	return out, nil
}
