package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/audible-etl/internal/gcs"
	"github.com/dvloznov/audible-etl/internal/logger"
	"github.com/dvloznov/audible-etl/internal/table"
)

// ArtifactStore reads and writes the CSV files exchanged between tasks.
// Local writes are mirrored to gs://bucket/prefix/<file name> when a bucket is
// configured. Paths starting with gs:// are read from object storage.
// A nil *ArtifactStore works on the local filesystem only.
type ArtifactStore struct {
	storage gcs.StorageService
	bucket  string
	prefix  string
}

// NewArtifactStore creates a store mirroring to bucket/prefix through storage.
func NewArtifactStore(storage gcs.StorageService, bucket, prefix string) *ArtifactStore {
	return &ArtifactStore{storage: storage, bucket: bucket, prefix: prefix}
}

// Read loads a CSV artifact from a local path or a gs:// URI.
func (a *ArtifactStore) Read(ctx context.Context, path string) (*table.Table, error) {
	if !strings.HasPrefix(path, "gs://") {
		return table.ReadCSVFile(path)
	}
	if a == nil || a.storage == nil {
		return nil, fmt.Errorf("read %s: no object storage configured", path)
	}
	data, err := a.storage.FetchFromGCS(ctx, path)
	if err != nil {
		return nil, err
	}
	t, err := table.ReadCSV(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Write stores t as CSV at the local path, then mirrors it.
func (a *ArtifactStore) Write(ctx context.Context, t *table.Table, path string) error {
	if err := t.WriteCSVFile(path); err != nil {
		return err
	}
	log := logger.FromContext(ctx)
	log.Info().Int("rows", t.Len()).Msgf("Output to %s", path)

	uri, err := a.Publish(ctx, path)
	if err != nil {
		return err
	}
	if uri != "" {
		log.Info().Str("gcs_uri", uri).Msg("Mirrored artifact to GCS")
	}
	return nil
}

// Publish uploads a local file and returns its gs:// URI, or "" when mirroring is off.
func (a *ArtifactStore) Publish(ctx context.Context, path string) (string, error) {
	if a == nil || a.storage == nil || a.bucket == "" {
		return "", nil
	}
	object := gcs.ObjectName(a.prefix, path)
	if err := a.storage.UploadFile(ctx, a.bucket, object, path); err != nil {
		return "", fmt.Errorf("Publish %s: %w", path, err)
	}
	return gcs.URI(a.bucket, object), nil
}
