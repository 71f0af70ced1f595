package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dvloznov/audible-etl/internal/config"
	"github.com/dvloznov/audible-etl/internal/dag"
	"github.com/dvloznov/audible-etl/internal/gcs"
	"github.com/dvloznov/audible-etl/internal/logger"
	"github.com/dvloznov/audible-etl/internal/pipeline"
	"github.com/dvloznov/audible-etl/internal/warehouse"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// setup loads configuration and returns a cancellable context carrying the logger.
func setup(cmd *cobra.Command) (context.Context, context.CancelFunc, *config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, nil, zerolog.Nop(), err
	}
	log := commandLogger(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	ctx = logger.WithContext(ctx, log)
	return ctx, cancel, cfg, log, nil
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the whole DAG once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			c := &clients{}
			defer c.Close()
			deps, err := c.buildDeps(ctx, cfg)
			if err != nil {
				return err
			}

			d := pipeline.NewDAG(cfg, deps)
			log.Info().Str("dag_id", d.ID).Str("schedule", d.Schedule).Strs("tags", d.Tags).Msg(d.Doc)

			store := dag.NewMemoryStore()
			res, runErr := dag.NewRunner(store, cfg.DAG.MaxParallel).Run(ctx, d)
			if res != nil {
				if err := printRunSummary(ctx, cmd.OutOrStdout(), store, res); err != nil {
					log.Warn().Err(err).Msg("Failed to read task states")
				}
			}
			return runErr
		},
	}
}

// printRunSummary writes one line per task of the run, in execution order,
// from the states recorded in store.
func printRunSummary(ctx context.Context, w io.Writer, store dag.RunStore, res *dag.RunResult) error {
	runs, err := store.ListTaskRuns(ctx, dag.RunFilter{RunID: res.RunID})
	if err != nil {
		return err
	}
	byTask := make(map[string]*dag.TaskRun, len(runs))
	for _, tr := range runs {
		byTask[tr.TaskID] = tr
	}

	fmt.Fprintf(w, "run %s\n", res.RunID)
	for _, id := range res.Order {
		tr, ok := byTask[id]
		if !ok {
			return fmt.Errorf("no recorded state for task %s", id)
		}
		line := fmt.Sprintf("  %-22s %-16s %s", id, tr.State, tr.Duration().Round(time.Millisecond))
		if tr.Error != "" {
			line += "  " + tr.Error
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

func newExtractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract",
		Short: "Extract and join transactions with the book catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, cfg, _, err := setup(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			c := &clients{}
			defer c.Close()
			artifacts, err := c.artifacts(ctx, cfg)
			if err != nil {
				return err
			}

			db, err := dbOpener(cfg)(ctx)
			if err != nil {
				return err
			}
			defer db.Close()
			return pipeline.ExtractTransactions(ctx, cfg, db, artifacts)
		},
	}
}

func newRatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rates",
		Short: "Fetch conversion rates",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, cfg, _, err := setup(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			c := &clients{}
			defer c.Close()
			artifacts, err := c.artifacts(ctx, cfg)
			if err != nil {
				return err
			}
			return pipeline.FetchConversionRates(ctx, cfg, rateFetcher(cfg), artifacts)
		},
	}
}

func newMergeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "merge",
		Short: "Merge transactions with conversion rates and convert prices",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, cfg, _, err := setup(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			c := &clients{}
			defer c.Close()
			artifacts, err := c.artifacts(ctx, cfg)
			if err != nil {
				return err
			}
			return pipeline.MergeData(ctx, cfg, artifacts)
		},
	}
}

func newLoadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load",
		Short: "Bulk-load the merged CSV from GCS into BigQuery",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, cfg, _, err := setup(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			c := &clients{}
			defer c.Close()
			loader, err := c.warehouse(ctx, cfg)
			if err != nil {
				return err
			}
			res, err := pipeline.LoadToWarehouse(ctx, cfg, loader)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d rows (%d bytes) into %s (job %s)\n",
				res.OutputRows, res.InputBytes, cfg.Warehouse.DestinationTable(), res.JobID)
			return nil
		},
	}
}

func newUploadCmd() *cobra.Command {
	var (
		bucketName string
		objectName string
		filePath   string
	)
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload a local file to GCS",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, cfg, log, err := setup(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			if bucketName == "" {
				bucketName = cfg.Storage.Bucket
			}
			if filePath == "" {
				filePath = cfg.Paths.Output
			}
			if bucketName == "" {
				return fmt.Errorf("--bucket is required when storage.bucket is not configured")
			}
			if objectName == "" {
				objectName = gcs.ObjectName(cfg.Storage.Prefix, filepath.Base(filePath))
			}

			log.Info().
				Str("bucket", bucketName).
				Str("object", objectName).
				Str("file", filePath).
				Msg("Uploading file to GCS")

			storage, err := gcs.NewGCSStorageService(ctx, clientOptions(cfg)...)
			if err != nil {
				return err
			}
			defer storage.Close()

			if err := storage.UploadFile(ctx, bucketName, objectName, filePath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s to %s\n", filePath, gcs.URI(bucketName, objectName))
			return nil
		},
	}
	cmd.Flags().StringVar(&bucketName, "bucket", "", "GCS bucket name (defaults to storage.bucket)")
	cmd.Flags().StringVar(&objectName, "object", "", "GCS object name (defaults to prefix/<file name>)")
	cmd.Flags().StringVar(&filePath, "file", "", "local file (defaults to paths.output)")
	return cmd
}

func newInspectCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Preview rows of the destination table",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, cfg, _, err := setup(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			c := &clients{}
			defer c.Close()
			loader, err := c.warehouse(ctx, cfg)
			if err != nil {
				return err
			}
			return inspectTable(ctx, cmd.OutOrStdout(), loader, loader, cfg.Warehouse, limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of rows to show")
	return cmd
}

func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Create the destination dataset if it does not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, cfg, _, err := setup(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			c := &clients{}
			defer c.Close()
			loader, err := c.warehouse(ctx, cfg)
			if err != nil {
				return err
			}

			return ensureDataset(ctx, loader, cfg.Warehouse.Dataset)
		},
	}
}

// inspectTable prints the row count of the destination table followed by up
// to limit rows, one JSON object per line.
func inspectTable(ctx context.Context, w io.Writer, preview warehouse.Previewer, admin warehouse.Admin, wh config.Warehouse, limit int) error {
	rows, err := preview.Preview(ctx, wh.Dataset, wh.Table, limit)
	if err != nil {
		return err
	}
	total, err := admin.CountRows(ctx, wh.Dataset, wh.Table)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "=== %s (%d rows, showing %d) ===\n", wh.DestinationTable(), total, len(rows))
	enc := json.NewEncoder(w)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return err
		}
	}
	return nil
}

func ensureDataset(ctx context.Context, admin warehouse.Admin, dataset string) error {
	created, err := admin.EnsureDataset(ctx, dataset)
	if err != nil {
		return err
	}
	log := logger.FromContext(ctx)
	if created {
		log.Info().Str("dataset", dataset).Msg("Created dataset")
	} else {
		log.Info().Str("dataset", dataset).Msg("Dataset already exists")
	}
	return nil
}

func newGraphCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "graph",
		Short: "Print the task graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			d := pipeline.NewDAG(cfg, pipeline.Deps{})
			if err := d.Validate(); err != nil {
				return err
			}
			order, err := d.Order()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprint(out, d.Describe())
			for i, id := range order {
				fmt.Fprintf(out, "%d. %s\n", i+1, id)
			}
			return nil
		},
	}
}
