package pipeline

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dvloznov/audible-etl/internal/config"
	"github.com/dvloznov/audible-etl/internal/dag"
	"github.com/dvloznov/audible-etl/internal/gcs"
	"github.com/dvloznov/audible-etl/internal/logger"
	"github.com/dvloznov/audible-etl/internal/rates"
	"github.com/dvloznov/audible-etl/internal/sqlsource"
	"github.com/dvloznov/audible-etl/internal/table"
	"github.com/dvloznov/audible-etl/internal/warehouse"
	"github.com/shopspring/decimal"
)

// dateColumn is the helper join key between transactions and rates.
const dateColumn = "date"

// ExtractTransactions reads the transactions and catalog tables, left-joins
// transactions to the catalog on the book ID and writes cfg.Paths.Transactions.
func ExtractTransactions(ctx context.Context, cfg *config.Config, db *sql.DB, artifacts *ArtifactStore) error {
	src := cfg.Source

	catalog, err := sqlsource.QueryTable(ctx, db, src.CatalogTable)
	if err != nil {
		return fmt.Errorf("ExtractTransactions: %w", err)
	}
	transactions, err := sqlsource.QueryTable(ctx, db, src.TransactionsTable)
	if err != nil {
		return fmt.Errorf("ExtractTransactions: %w", err)
	}

	log := logger.FromContext(ctx)
	log.Debug().
		Int("transactions", transactions.Len()).
		Int("catalog", catalog.Len()).
		Msg("Queried source tables")

	merged, err := table.LeftJoin(transactions, catalog, src.TransactionKey, src.CatalogKey)
	if err != nil {
		return fmt.Errorf("ExtractTransactions: %w", err)
	}

	if err := artifacts.Write(ctx, merged, cfg.Paths.Transactions); err != nil {
		return fmt.Errorf("ExtractTransactions: %w", err)
	}
	return nil
}

// FetchConversionRates downloads the conversion rates and writes them, one row
// per date, to cfg.Paths.ConversionRates.
func FetchConversionRates(ctx context.Context, cfg *config.Config, fetcher rates.Fetcher, artifacts *ArtifactStore) error {
	body, err := fetcher.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("FetchConversionRates: %w", err)
	}

	t, err := rates.ToTable(body)
	if err != nil {
		return fmt.Errorf("FetchConversionRates: %w", err)
	}

	if err := artifacts.Write(ctx, t, cfg.Paths.ConversionRates); err != nil {
		return fmt.Errorf("FetchConversionRates: %w", err)
	}
	return nil
}

// MergeData joins the transactions to the conversion rates by calendar day,
// cleans the price column, adds the converted price and writes cfg.Paths.Output.
//
// Price cleaning is applied row by row and the first unparseable price aborts
// the whole merge; no partial output is written.
func MergeData(ctx context.Context, cfg *config.Config, artifacts *ArtifactStore) error {
	final, err := mergeTables(ctx, cfg, artifacts)
	if err != nil {
		return fmt.Errorf("MergeData: %w", err)
	}

	if err := artifacts.Write(ctx, final, cfg.Paths.Output); err != nil {
		return fmt.Errorf("MergeData: %w", err)
	}
	log := logger.FromContext(ctx)
	log.Info().Msg("== End of Merge_data ==")
	return nil
}

func mergeTables(ctx context.Context, cfg *config.Config, artifacts *ArtifactStore) (*table.Table, error) {
	tf := cfg.Transform

	transactions, err := artifacts.Read(ctx, cfg.Paths.Transactions)
	if err != nil {
		return nil, err
	}
	conversion, err := artifacts.Read(ctx, cfg.Paths.ConversionRates)
	if err != nil {
		return nil, err
	}

	if err := requireColumns(transactions, cfg.Paths.Transactions, tf.TimestampColumn, tf.PriceColumn, cfg.Source.TransactionKey); err != nil {
		return nil, err
	}
	if err := requireColumns(conversion, cfg.Paths.ConversionRates, dateColumn, tf.RateColumn); err != nil {
		return nil, err
	}

	if err := transactions.MapColumn(dateColumn, truncateColumn(tf.TimestampColumn)); err != nil {
		return nil, err
	}
	if err := conversion.MapColumn(dateColumn, truncateColumn(dateColumn)); err != nil {
		return nil, err
	}

	final, err := table.LeftJoin(transactions, conversion, dateColumn, dateColumn)
	if err != nil {
		return nil, err
	}

	prices := make([]decimal.Decimal, final.Len())
	err = final.MapColumn(tf.PriceColumn, func(row int, get func(string) table.Value) (table.Value, error) {
		v := get(tf.PriceColumn)
		if !v.Valid {
			return table.Value{}, fmt.Errorf("price is null")
		}
		d, err := parsePriceDecimal(v.Str, tf.CurrencySymbol)
		if err != nil {
			return table.Value{}, err
		}
		prices[row] = d
		return table.String(formatDecimal(d)), nil
	})
	if err != nil {
		return nil, err
	}

	err = final.MapColumn(tf.ConvertedColumn, func(row int, get func(string) table.Value) (table.Value, error) {
		r := get(tf.RateColumn)
		if !r.Valid {
			return table.Null(), nil
		}
		rate, err := decimal.NewFromString(r.Str)
		if err != nil {
			return table.Value{}, fmt.Errorf("invalid %s %q: %w", tf.RateColumn, r.Str, err)
		}
		return table.String(formatDecimal(prices[row].Mul(rate))), nil
	})
	if err != nil {
		return nil, err
	}

	if err := final.Drop(dateColumn, cfg.Source.TransactionKey); err != nil {
		return nil, err
	}

	missing := 0
	if idx := final.Index(tf.ConvertedColumn); idx >= 0 {
		for _, row := range final.Rows {
			if !row[idx].Valid {
				missing++
			}
		}
	}
	if missing > 0 {
		log := logger.FromContext(ctx)
		log.Warn().Int("rows", missing).Msg("No conversion rate for some transaction dates")
	}

	return final, nil
}

// truncateColumn maps a timestamp column to its calendar day; nulls stay null.
func truncateColumn(col string) func(int, func(string) table.Value) (table.Value, error) {
	return func(_ int, get func(string) table.Value) (table.Value, error) {
		v := get(col)
		if !v.Valid {
			return table.Null(), nil
		}
		d, err := TruncateToDate(v.Str)
		if err != nil {
			return table.Value{}, err
		}
		return table.String(d.String()), nil
	}
}

func requireColumns(t *table.Table, name string, cols ...string) error {
	for _, c := range cols {
		if !t.Has(c) {
			return fmt.Errorf("%s: missing column %q", name, c)
		}
	}
	return nil
}

// LoadToWarehouse bulk-loads cfg.Warehouse.SourceURI into the destination table.
func LoadToWarehouse(ctx context.Context, cfg *config.Config, loader warehouse.Loader) (*warehouse.LoadResult, error) {
	wh := cfg.Warehouse
	if wh.SourceURI == "" {
		return nil, fmt.Errorf("LoadToWarehouse: warehouse source URI is not configured")
	}

	prefix := cfg.DAG.ID + "_" + TaskLoadToBQ
	if runID := dag.RunIDFromContext(ctx); runID != "" {
		prefix += "_" + runID
	}

	log := logger.WithFields(logger.FromContext(ctx), map[string]interface{}{
		"file":        gcs.ExtractFilenameFromGCSURI(wh.SourceURI),
		"destination": wh.DestinationTable(),
	})
	log.Info().Str("source_uri", wh.SourceURI).Msg("Starting load job")

	res, err := loader.LoadCSV(ctx, warehouse.LoadRequest{
		SourceURI:        wh.SourceURI,
		Dataset:          wh.Dataset,
		Table:            wh.Table,
		WriteDisposition: wh.WriteDisposition,
		JobIDPrefix:      prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("LoadToWarehouse: %w", err)
	}

	log.Info().
		Str("job_id", res.JobID).
		Int64("output_rows", res.OutputRows).
		Int64("input_bytes", res.InputBytes).
		Msgf("Loaded %s into %s", wh.SourceURI, wh.DestinationTable())
	return res, nil
}
