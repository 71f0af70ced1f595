package pipeline

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dvloznov/audible-etl/internal/config"
	"github.com/dvloznov/audible-etl/internal/dag"
	"github.com/dvloznov/audible-etl/internal/rates"
	"github.com/dvloznov/audible-etl/internal/warehouse"
)

// DBOpener opens the source database. The extract task closes what it opens.
type DBOpener func(ctx context.Context) (*sql.DB, error)

// Deps are the external collaborators of the ETL tasks.
type Deps struct {
	OpenDB    DBOpener
	Rates     rates.Fetcher
	Loader    warehouse.Loader
	Artifacts *ArtifactStore
}

// NewDAG builds
//
//	[get_data_from_mysql, get_conversion_rate] >> merge_data >> load_to_bq
func NewDAG(cfg *config.Config, deps Deps) *dag.DAG {
	return &dag.DAG{
		ID:       cfg.DAG.ID,
		Tags:     cfg.DAG.Tags,
		Schedule: cfg.DAG.Schedule,
		Doc:      DAGDoc,
		Tasks: []*dag.Task{
			{
				ID:  TaskExtractTransactions,
				Run: extractTask(cfg, deps),
			},
			{
				ID:  TaskFetchRates,
				Run: ratesTask(cfg, deps),
			},
			{
				ID:       TaskMergeData,
				Upstream: []string{TaskExtractTransactions, TaskFetchRates},
				Run: func(ctx context.Context) error {
					return MergeData(ctx, cfg, deps.Artifacts)
				},
			},
			{
				ID:       TaskLoadToBQ,
				Upstream: []string{TaskMergeData},
				Run:      loadTask(cfg, deps),
			},
		},
	}
}

func extractTask(cfg *config.Config, deps Deps) dag.TaskFunc {
	return func(ctx context.Context) error {
		if deps.OpenDB == nil {
			return fmt.Errorf("%s: no database configured", TaskExtractTransactions)
		}
		db, err := deps.OpenDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()
		return ExtractTransactions(ctx, cfg, db, deps.Artifacts)
	}
}

func ratesTask(cfg *config.Config, deps Deps) dag.TaskFunc {
	return func(ctx context.Context) error {
		if deps.Rates == nil {
			return fmt.Errorf("%s: no rate fetcher configured", TaskFetchRates)
		}
		return FetchConversionRates(ctx, cfg, deps.Rates, deps.Artifacts)
	}
}

func loadTask(cfg *config.Config, deps Deps) dag.TaskFunc {
	return func(ctx context.Context) error {
		if deps.Loader == nil {
			return fmt.Errorf("%s: no warehouse loader configured", TaskLoadToBQ)
		}
		_, err := LoadToWarehouse(ctx, cfg, deps.Loader)
		return err
	}
}
