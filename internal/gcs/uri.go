package gcs

import (
	"fmt"
	"path"
	"strings"
)

// ParseURI splits "gs://bucket/path/to/object" into bucket and object name.
func ParseURI(gcsURI string) (bucket, object string, err error) {
	if !strings.HasPrefix(gcsURI, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", gcsURI)
	}

	trimmed := strings.TrimPrefix(gcsURI, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", gcsURI)
	}

	return parts[0], parts[1], nil
}

// URI builds "gs://bucket/object".
func URI(bucket, object string) string {
	return "gs://" + bucket + "/" + strings.TrimPrefix(object, "/")
}

// ObjectName joins prefix and the base name of a local file path.
// e.g., ("data", "/tmp/out/output.csv") → "data/output.csv"
func ObjectName(prefix, filePath string) string {
	base := path.Base(strings.ReplaceAll(filePath, "\\", "/"))
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return base
	}
	return prefix + "/" + base
}

// ExtractFilenameFromGCSURI extracts the filename from a GCS URI.
// e.g., "gs://bucket/folder/file.csv" → "file.csv"
func ExtractFilenameFromGCSURI(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")

	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}

	return path.Base(parts[1])
}
