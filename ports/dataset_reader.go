package ports

import (
	"context"

	"github.com/PennBBL/GAMM-Tutorial/domain/dataset"
)

// ColumnSpec declares how one input column is typed.
type ColumnSpec struct {
	Name   string
	Kind   dataset.CovariateKind
	Levels []string
	Bool   bool
}

// Schema lists the columns to load. Columns not listed are skipped.
type Schema struct {
	Sheet   string
	Columns []ColumnSpec
}

// DatasetReader loads tabular data into a Dataset.
type DatasetReader interface {
	Read(ctx context.Context, path string, schema Schema) (*dataset.Dataset, error)
}
