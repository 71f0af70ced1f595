package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dvloznov/audible-etl/internal/config"
	"github.com/dvloznov/audible-etl/internal/gcs"
	"github.com/dvloznov/audible-etl/internal/pipeline"
	"github.com/dvloznov/audible-etl/internal/rates"
	"github.com/dvloznov/audible-etl/internal/sqlsource"
	"github.com/dvloznov/audible-etl/internal/warehouse"
	"google.golang.org/api/option"
)

// clients owns the cloud clients created for one command.
type clients struct {
	storage *gcs.GCSStorageService
	loader  *warehouse.BigQueryLoader
}

func (c *clients) Close() {
	if c.storage != nil {
		c.storage.Close()
	}
	if c.loader != nil {
		c.loader.Close()
	}
}

func clientOptions(cfg *config.Config) []option.ClientOption {
	if cfg.CredentialsFile == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(cfg.CredentialsFile)}
}

// artifacts returns a store mirroring to GCS when a bucket is configured.
func (c *clients) artifacts(ctx context.Context, cfg *config.Config) (*pipeline.ArtifactStore, error) {
	if cfg.Storage.Bucket == "" {
		return nil, nil
	}
	if c.storage == nil {
		s, err := gcs.NewGCSStorageService(ctx, clientOptions(cfg)...)
		if err != nil {
			return nil, err
		}
		c.storage = s
	}
	return pipeline.NewArtifactStore(c.storage, cfg.Storage.Bucket, cfg.Storage.Prefix), nil
}

func (c *clients) warehouse(ctx context.Context, cfg *config.Config) (*warehouse.BigQueryLoader, error) {
	if c.loader == nil {
		if cfg.Warehouse.Project == "" {
			return nil, fmt.Errorf("warehouse.project is required")
		}
		l, err := warehouse.NewBigQueryLoader(ctx, cfg.Warehouse.Project, cfg.Warehouse.Location, clientOptions(cfg)...)
		if err != nil {
			return nil, err
		}
		c.loader = l
	}
	return c.loader, nil
}

func dbOpener(cfg *config.Config) pipeline.DBOpener {
	return func(ctx context.Context) (*sql.DB, error) {
		return sqlsource.Open(ctx, cfg.Source.Driver, cfg.Source.DSN)
	}
}

func rateFetcher(cfg *config.Config) rates.Fetcher {
	return rates.NewClient(cfg.Rates.URL, cfg.Rates.Timeout)
}

// buildDeps wires every collaborator the full DAG needs.
func (c *clients) buildDeps(ctx context.Context, cfg *config.Config) (pipeline.Deps, error) {
	artifacts, err := c.artifacts(ctx, cfg)
	if err != nil {
		return pipeline.Deps{}, err
	}
	loader, err := c.warehouse(ctx, cfg)
	if err != nil {
		return pipeline.Deps{}, err
	}
	return pipeline.Deps{
		OpenDB:    dbOpener(cfg),
		Rates:     rateFetcher(cfg),
		Loader:    loader,
		Artifacts: artifacts,
	}, nil
}
