package warehouse

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

var (
	jobIDInvalid = regexp.MustCompile(`[^A-Za-z0-9_-]`)
	identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// BigQueryLoader is the concrete implementation of Loader and Previewer
// that interacts with BigQuery through a shared client.
type BigQueryLoader struct {
	client   *bigquery.Client
	location string
}

// NewBigQueryLoader creates a BigQuery client for projectID. location may be empty.
func NewBigQueryLoader(ctx context.Context, projectID, location string, opts ...option.ClientOption) (*BigQueryLoader, error) {
	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewBigQueryLoader: creating client: %w", err)
	}
	if location != "" {
		client.Location = location
	}
	return &BigQueryLoader{client: client, location: location}, nil
}

// Close closes the BigQuery client connection.
func (l *BigQueryLoader) Close() error {
	if l.client != nil {
		return l.client.Close()
	}
	return nil
}

// LoadCSV loads req.SourceURI into req.Dataset.req.Table, the same as
// `bq load --source_format=CSV --autodetect dataset.table gs://...`.
func (l *BigQueryLoader) LoadCSV(ctx context.Context, req LoadRequest) (*LoadResult, error) {
	disposition, err := writeDisposition(req.WriteDisposition)
	if err != nil {
		return nil, err
	}

	ref := bigquery.NewGCSReference(req.SourceURI)
	ref.SourceFormat = bigquery.CSV
	ref.AutoDetect = true

	loader := l.client.Dataset(req.Dataset).Table(req.Table).LoaderFrom(ref)
	loader.WriteDisposition = disposition
	loader.CreateDisposition = bigquery.CreateIfNeeded
	if req.JobIDPrefix != "" {
		loader.JobID = SanitizeJobID(req.JobIDPrefix)
		loader.AddJobIDSuffix = true
	}

	job, err := loader.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("LoadCSV: starting load job: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("LoadCSV: waiting for job %s: %w", job.ID(), err)
	}
	if err := status.Err(); err != nil {
		return nil, fmt.Errorf("LoadCSV: job %s error: %w", job.ID(), err)
	}

	result := &LoadResult{JobID: job.ID()}
	if status.Statistics != nil {
		if stats, ok := status.Statistics.Details.(*bigquery.LoadStatistics); ok {
			result.OutputRows = stats.OutputRows
			result.InputBytes = stats.InputFileBytes
		}
	}
	return result, nil
}

// Preview returns up to limit rows of dataset.table as column-name maps.
func (l *BigQueryLoader) Preview(ctx context.Context, dataset, table string, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = 10
	}

	it := l.client.Dataset(dataset).Table(table).Read(ctx)

	var rows []map[string]any
	for len(rows) < limit {
		var values []bigquery.Value
		err := it.Next(&values)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("Preview: iter next: %w", err)
		}

		row := make(map[string]any, len(values))
		for i, field := range it.Schema {
			if i < len(values) {
				row[field.Name] = values[i]
			}
		}
		rows = append(rows, row)
	}

	return rows, nil
}

// EnsureDataset creates dataset in the client's project when it does not exist.
// It reports whether the dataset was created.
func (l *BigQueryLoader) EnsureDataset(ctx context.Context, dataset string) (bool, error) {
	ds := l.client.Dataset(dataset)
	_, err := ds.Metadata(ctx)
	if err == nil {
		return false, nil
	}
	if !isStatus(err, http.StatusNotFound) {
		return false, fmt.Errorf("EnsureDataset: reading %s metadata: %w", dataset, err)
	}

	if err := ds.Create(ctx, &bigquery.DatasetMetadata{Location: l.location}); err != nil {
		// lost a race with another creator
		if isStatus(err, http.StatusConflict) {
			return false, nil
		}
		return false, fmt.Errorf("EnsureDataset: creating %s: %w", dataset, err)
	}
	return true, nil
}

// CountRows returns SELECT COUNT(*) of dataset.table.
func (l *BigQueryLoader) CountRows(ctx context.Context, dataset, table string) (int64, error) {
	ref, err := qualifiedTable(l.client.Project(), dataset, table)
	if err != nil {
		return 0, fmt.Errorf("CountRows: %w", err)
	}

	q := l.client.Query("SELECT COUNT(*) AS n FROM " + ref)
	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("CountRows: running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("CountRows: waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("CountRows: job error: %w", err)
	}

	it, err := job.Read(ctx)
	if err != nil {
		return 0, fmt.Errorf("CountRows: reading results: %w", err)
	}
	var row struct {
		N int64 `bigquery:"n"`
	}
	if err := it.Next(&row); err != nil {
		return 0, fmt.Errorf("CountRows: iter next: %w", err)
	}
	return row.N, nil
}

// qualifiedTable renders `project.dataset.table` for use in standard SQL.
func qualifiedTable(project, dataset, table string) (string, error) {
	for _, id := range []string{dataset, table} {
		if !identPattern.MatchString(id) {
			return "", fmt.Errorf("invalid identifier %q", id)
		}
	}
	return fmt.Sprintf("`%s.%s.%s`", project, dataset, table), nil
}

func isStatus(err error, code int) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == code
}

func writeDisposition(s string) (bigquery.TableWriteDisposition, error) {
	switch s {
	case "", "WRITE_APPEND":
		return bigquery.WriteAppend, nil
	case "WRITE_TRUNCATE":
		return bigquery.WriteTruncate, nil
	case "WRITE_EMPTY":
		return bigquery.WriteEmpty, nil
	default:
		return "", fmt.Errorf("unsupported write disposition %q", s)
	}
}

// SanitizeJobID replaces characters BigQuery does not accept in job IDs.
func SanitizeJobID(s string) string {
	return jobIDInvalid.ReplaceAllString(s, "_")
}

var (
	_ Loader    = (*BigQueryLoader)(nil)
	_ Previewer = (*BigQueryLoader)(nil)
	_ Admin     = (*BigQueryLoader)(nil)
)
