package warehouse

import (
	"context"
)

// LoadRequest describes one bulk load of a CSV object into a table.
type LoadRequest struct {
	SourceURI        string // gs://bucket/path/file.csv
	Dataset          string
	Table            string
	WriteDisposition string // WRITE_APPEND, WRITE_TRUNCATE or WRITE_EMPTY
	JobIDPrefix      string
}

// LoadResult reports a finished load job.
type LoadResult struct {
	JobID      string
	OutputRows int64
	InputBytes int64
}

// Loader bulk-loads CSV objects into the warehouse.
// This interface enables mocking and testing of the load step.
type Loader interface {
	// LoadCSV runs a load job with schema autodetection and waits for it.
	LoadCSV(ctx context.Context, req LoadRequest) (*LoadResult, error)
}

// Previewer reads rows back from a warehouse table.
type Previewer interface {
	Preview(ctx context.Context, dataset, table string, limit int) ([]map[string]any, error)
}

// Admin manages datasets and inspects loaded tables.
type Admin interface {
	EnsureDataset(ctx context.Context, dataset string) (bool, error)
	CountRows(ctx context.Context, dataset, table string) (int64, error)
}
