package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/dvloznov/audible-etl/internal/config"
	"github.com/dvloznov/audible-etl/internal/dag"
	"github.com/dvloznov/audible-etl/internal/sqlsource"
	"github.com/dvloznov/audible-etl/internal/table"
	"github.com/dvloznov/audible-etl/internal/warehouse"
)

// fakeFetcher returns a fixed rate document.
type fakeFetcher struct {
	body []byte
	err  error
}

func (f *fakeFetcher) Fetch(ctx context.Context) ([]byte, error) {
	return f.body, f.err
}

// fakeLoader records load requests.
type fakeLoader struct {
	mu       sync.Mutex
	requests []warehouse.LoadRequest
	err      error
}

func (l *fakeLoader) LoadCSV(ctx context.Context, req warehouse.LoadRequest) (*warehouse.LoadResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests = append(l.requests, req)
	if l.err != nil {
		return nil, l.err
	}
	return &warehouse.LoadResult{JobID: req.JobIDPrefix + "_abc", OutputRows: 2, InputBytes: 128}, nil
}

// fakeStorage keeps uploaded objects in memory.
type fakeStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string][]byte)}
}

func (s *fakeStorage) UploadFile(ctx context.Context, bucketName, objectName, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects["gs://"+bucketName+"/"+objectName] = data
	return nil
}

func (s *fakeStorage) FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[gcsURI]
	if !ok {
		return nil, errors.New("object not found: " + gcsURI)
	}
	return data, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Source: config.Source{
			Driver:            "sqlite",
			DSN:               "file:" + filepath.Join(dir, "source.db"),
			TransactionsTable: config.DefaultTransactionsTable,
			CatalogTable:      config.DefaultCatalogTable,
			TransactionKey:    config.DefaultTransactionKey,
			CatalogKey:        config.DefaultCatalogKey,
		},
		Paths: config.Paths{
			Transactions:    filepath.Join(dir, "data", "audible_data_merged.csv"),
			ConversionRates: filepath.Join(dir, "data", "conversion_rate.csv"),
			Output:          filepath.Join(dir, "data", "output.csv"),
		},
		Transform: config.Transform{
			TimestampColumn: config.DefaultTimestampColumn,
			PriceColumn:     config.DefaultPriceColumn,
			RateColumn:      config.DefaultRateColumn,
			ConvertedColumn: config.DefaultConvertedColumn,
			CurrencySymbol:  config.DefaultCurrencySymbol,
		},
		Storage: config.Storage{Bucket: "workshop-bucket", Prefix: "data"},
		Warehouse: config.Warehouse{
			Project:          "test-project",
			Dataset:          config.DefaultDataset,
			Table:            config.DefaultTable,
			SourceURI:        "gs://workshop-bucket/data/output.csv",
			WriteDisposition: config.DefaultWriteDisposition,
		},
		DAG: config.DAG{ID: config.DefaultDAGID, Tags: []string{"workshop"}, Schedule: "@once", MaxParallel: 2},
	}
}

func seedSource(t *testing.T, cfg *config.Config, stmts ...string) {
	t.Helper()
	db, err := sqlsource.Open(context.Background(), cfg.Source.Driver, cfg.Source.DSN)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	base := []string{
		`CREATE TABLE audible_data (Book_ID INTEGER, Title TEXT)`,
		`CREATE TABLE audible_transaction (book_id INTEGER, timestamp TEXT, Price TEXT)`,
	}
	for _, s := range append(base, stmts...) {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("exec %q: %v", s, err)
		}
	}
}

func openerFor(cfg *config.Config) DBOpener {
	return func(ctx context.Context) (*sql.DB, error) {
		return sqlsource.Open(ctx, cfg.Source.Driver, cfg.Source.DSN)
	}
}

func readOutput(t *testing.T, path string) *table.Table {
	t.Helper()
	out, err := table.ReadCSVFile(path)
	if err != nil {
		t.Fatalf("ReadCSVFile(%s): %v", path, err)
	}
	return out
}

func cell(t *testing.T, tbl *table.Table, row int, col string) table.Value {
	t.Helper()
	v, err := tbl.Get(row, col)
	if err != nil {
		t.Fatalf("Get(%d, %s): %v", row, col, err)
	}
	return v
}

func TestExtractTransactions_PreservesEveryTransaction(t *testing.T) {
	cfg := testConfig(t)
	seedSource(t, cfg,
		`INSERT INTO audible_data VALUES (1, 'X'), (2, 'Y')`,
		`INSERT INTO audible_transaction VALUES
			(1, '2021-01-01 00:00:00', '$5.00'),
			(1, '2021-01-02 00:00:00', '$5.00'),
			(3, '2021-01-03 00:00:00', '$9.99')`,
	)

	db, err := openerFor(cfg)(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if err := ExtractTransactions(context.Background(), cfg, db, nil); err != nil {
		t.Fatalf("ExtractTransactions: %v", err)
	}

	out := readOutput(t, cfg.Paths.Transactions)
	if out.Len() != 3 {
		t.Fatalf("expected one row per transaction (3), got %d", out.Len())
	}
	wantCols := []string{"book_id", "timestamp", "Price", "Book_ID", "Title"}
	if !reflect.DeepEqual(out.Columns, wantCols) {
		t.Errorf("columns = %v, want %v", out.Columns, wantCols)
	}
	if title := cell(t, out, 2, "Title"); title.Valid {
		t.Errorf("unmatched book should have null Title, got %q", title.Str)
	}
}

func TestFetchConversionRates(t *testing.T) {
	cfg := testConfig(t)
	fetcher := &fakeFetcher{body: []byte(`{"conversion_rate": {"2021-01-02": 31, "2021-01-01": 30}}`)}

	if err := FetchConversionRates(context.Background(), cfg, fetcher, nil); err != nil {
		t.Fatalf("FetchConversionRates: %v", err)
	}

	out := readOutput(t, cfg.Paths.ConversionRates)
	if !reflect.DeepEqual(out.Columns, []string{"date", "conversion_rate"}) {
		t.Errorf("columns = %v", out.Columns)
	}
	if out.Len() != 2 || cell(t, out, 0, "date").Str != "2021-01-01" {
		t.Errorf("unexpected rows %v", out.Rows)
	}
}

func TestFetchConversionRates_Errors(t *testing.T) {
	cfg := testConfig(t)

	if err := FetchConversionRates(context.Background(), cfg, &fakeFetcher{err: errors.New("timeout")}, nil); err == nil {
		t.Error("expected fetch error to propagate")
	}
	if err := FetchConversionRates(context.Background(), cfg, &fakeFetcher{body: []byte("not json")}, nil); err == nil {
		t.Error("expected JSON error to propagate")
	}
	if _, err := os.Stat(cfg.Paths.ConversionRates); !os.IsNotExist(err) {
		t.Errorf("no file should be written on failure, stat err = %v", err)
	}
}

func writeCSV(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestMergeData(t *testing.T) {
	cfg := testConfig(t)
	writeCSV(t, cfg.Paths.Transactions, strings.Join([]string{
		"book_id,timestamp,Price,Book_ID,Title",
		"1,2021-06-15 10:23:00,$10.00,1,X",
		"2,2021-06-16 08:00:00,$12.34,2,Y",
		"3,2021-06-17 09:00:00,$1.00,,",
	}, "\n"))
	writeCSV(t, cfg.Paths.ConversionRates, strings.Join([]string{
		"date,conversion_rate",
		"2021-06-15,33.5",
		"2021-06-16,31.194",
	}, "\n"))

	if err := MergeData(context.Background(), cfg, nil); err != nil {
		t.Fatalf("MergeData: %v", err)
	}

	out := readOutput(t, cfg.Paths.Output)
	wantCols := []string{"timestamp", "Price", "Book_ID", "Title", "conversion_rate", "THBPrice"}
	if !reflect.DeepEqual(out.Columns, wantCols) {
		t.Fatalf("columns = %v, want %v", out.Columns, wantCols)
	}
	if out.Len() != 3 {
		t.Fatalf("expected 3 rows, got %d", out.Len())
	}

	tests := []struct {
		row       int
		price     string
		converted table.Value
	}{
		{0, "10.0", table.String("335.0")},
		{1, "12.34", table.String("384.93396")},
		{2, "1.0", table.Null()},
	}
	for _, tt := range tests {
		if got := cell(t, out, tt.row, "Price"); got.Str != tt.price {
			t.Errorf("row %d Price = %q, want %q", tt.row, got.Str, tt.price)
		}
		if got := cell(t, out, tt.row, "THBPrice"); got != tt.converted {
			t.Errorf("row %d THBPrice = %+v, want %+v", tt.row, got, tt.converted)
		}
	}
}

func TestMergeData_BadPriceAbortsWholeRun(t *testing.T) {
	cfg := testConfig(t)
	writeCSV(t, cfg.Paths.Transactions, strings.Join([]string{
		"book_id,timestamp,Price",
		"1,2021-06-15 10:23:00,$10.00",
		"2,2021-06-15 10:23:00,ten dollars",
	}, "\n"))
	writeCSV(t, cfg.Paths.ConversionRates, "date,conversion_rate\n2021-06-15,33.5\n")

	err := MergeData(context.Background(), cfg, nil)
	if err == nil {
		t.Fatal("expected error for unparseable price")
	}
	if !strings.Contains(err.Error(), "row 1") {
		t.Errorf("error should name the bad row: %v", err)
	}
	if _, err := os.Stat(cfg.Paths.Output); !os.IsNotExist(err) {
		t.Errorf("no output should be written, stat err = %v", err)
	}
}

func TestMergeData_MissingColumns(t *testing.T) {
	cfg := testConfig(t)
	writeCSV(t, cfg.Paths.Transactions, "book_id,Price\n1,$1\n")
	writeCSV(t, cfg.Paths.ConversionRates, "date,conversion_rate\n2021-06-15,33.5\n")

	if err := MergeData(context.Background(), cfg, nil); err == nil || !strings.Contains(err.Error(), "timestamp") {
		t.Errorf("expected missing timestamp column error, got %v", err)
	}
}

func TestArtifactStore_MirrorsAndReadsFromGCS(t *testing.T) {
	cfg := testConfig(t)
	storage := newFakeStorage()
	store := NewArtifactStore(storage, "workshop-bucket", "data")

	tbl := table.New("a")
	if err := tbl.Append(table.String("1")); err != nil {
		t.Fatal(err)
	}
	if err := store.Write(context.Background(), tbl, cfg.Paths.Output); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := store.Read(context.Background(), "gs://workshop-bucket/data/output.csv")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Len() != 1 || got.Columns[0] != "a" {
		t.Errorf("unexpected table %+v", got)
	}

	var nilStore *ArtifactStore
	if _, err := nilStore.Read(context.Background(), "gs://b/o.csv"); err == nil {
		t.Error("expected error reading gs:// without storage")
	}
	if uri, err := nilStore.Publish(context.Background(), cfg.Paths.Output); err != nil || uri != "" {
		t.Errorf("nil store Publish = (%q, %v)", uri, err)
	}
}

func TestLoadToWarehouse(t *testing.T) {
	cfg := testConfig(t)
	loader := &fakeLoader{}

	res, err := LoadToWarehouse(context.Background(), cfg, loader)
	if err != nil {
		t.Fatalf("LoadToWarehouse: %v", err)
	}
	if res.OutputRows != 2 || res.InputBytes != 128 {
		t.Errorf("unexpected result %+v", res)
	}
	req := loader.requests[0]
	if req.SourceURI != "gs://workshop-bucket/data/output.csv" || req.Dataset != "workshop" || req.Table != "audible_data" {
		t.Errorf("unexpected request %+v", req)
	}

	loader.err = errors.New("bq load: exit status 1")
	if _, err := LoadToWarehouse(context.Background(), cfg, loader); err == nil {
		t.Error("expected load failure to propagate")
	}
}

func TestDAG_EndToEnd(t *testing.T) {
	cfg := testConfig(t)
	seedSource(t, cfg,
		`INSERT INTO audible_data VALUES (1, 'X')`,
		`INSERT INTO audible_transaction VALUES
			(1, '2021-01-01 00:00:00', '$5.00'),
			(2, '2021-01-02 00:00:00', '$3.00')`,
	)

	storage := newFakeStorage()
	loader := &fakeLoader{}
	deps := Deps{
		OpenDB:    openerFor(cfg),
		Rates:     &fakeFetcher{body: []byte(`{"2021-01-01": {"conversion_rate": 30}}`)},
		Loader:    loader,
		Artifacts: NewArtifactStore(storage, cfg.Storage.Bucket, cfg.Storage.Prefix),
	}

	res, err := dag.NewRunner(nil, cfg.DAG.MaxParallel).Run(context.Background(), NewDAG(cfg, deps))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Succeeded() {
		t.Fatalf("expected success, got %+v", res.Tasks)
	}

	out := readOutput(t, cfg.Paths.Output)
	for _, col := range []string{"date", "book_id"} {
		if out.Has(col) {
			t.Errorf("output must not contain %q: %v", col, out.Columns)
		}
	}
	if got := cell(t, out, 0, "Title"); got.Str != "X" {
		t.Errorf("Title = %+v", got)
	}
	if got := cell(t, out, 0, "THBPrice"); got.Str != "150.0" {
		t.Errorf("THBPrice = %+v, want 150.0", got)
	}
	if got := cell(t, out, 1, "THBPrice"); got.Valid {
		t.Errorf("missing rate should give null THBPrice, got %q", got.Str)
	}

	if _, ok := storage.objects["gs://workshop-bucket/data/output.csv"]; !ok {
		t.Errorf("final output not mirrored, objects: %v", len(storage.objects))
	}
	if len(loader.requests) != 1 {
		t.Fatalf("expected one load, got %d", len(loader.requests))
	}
	if !strings.Contains(loader.requests[0].JobIDPrefix, res.RunID) {
		t.Errorf("job ID prefix %q should carry run ID %s", loader.requests[0].JobIDPrefix, res.RunID)
	}
}

func TestDAG_ExtractFailureStopsLoad(t *testing.T) {
	cfg := testConfig(t)
	loader := &fakeLoader{}
	deps := Deps{
		OpenDB: func(ctx context.Context) (*sql.DB, error) {
			return nil, errors.New("dial tcp: connection refused")
		},
		Rates:  &fakeFetcher{body: []byte(`{"2021-01-01": 30}`)},
		Loader: loader,
	}

	res, err := dag.NewRunner(nil, 2).Run(context.Background(), NewDAG(cfg, deps))
	if err == nil {
		t.Fatal("expected DAG failure")
	}
	if res.Tasks[TaskLoadToBQ].State != dag.TaskStateUpstreamFailed {
		t.Errorf("load state = %s", res.Tasks[TaskLoadToBQ].State)
	}
	if res.Tasks[TaskFetchRates].State != dag.TaskStateSuccess {
		t.Errorf("rates state = %s", res.Tasks[TaskFetchRates].State)
	}
	if len(loader.requests) != 0 {
		t.Error("loader must not run")
	}
}
