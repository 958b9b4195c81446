// Package blob abstracts where survey inputs are read from and outputs are
// written to: a local directory or an S3 (or S3-compatible) prefix.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"
)

// ErrNotFound is returned by Open for a missing key. It matches fs.ErrNotExist.
var ErrNotFound = fmt.Errorf("blob: %w", fs.ErrNotExist)

// Store is a flat key space with "/"-separated keys relative to the store
// root.
type Store interface {
	// List returns the keys under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Put creates or replaces key.
	Put(ctx context.Context, key string, r io.Reader) error
	// Location renders the store root for logs.
	Location() string
}

// Environment variables read for s3:// locations.
const (
	EnvS3Region    = "SURVEYAGG_S3_REGION"
	EnvS3Endpoint  = "SURVEYAGG_S3_ENDPOINT"
	EnvS3PathStyle = "SURVEYAGG_S3_PATH_STYLE"
)

// Open returns the store for location: "s3://bucket/prefix" or a directory.
func Open(ctx context.Context, location string) (Store, error) {
	if rest, ok := strings.CutPrefix(location, "s3://"); ok {
		bucket, prefix, _ := strings.Cut(rest, "/")
		return NewS3(ctx, S3Config{
			Bucket:    bucket,
			Prefix:    prefix,
			Region:    os.Getenv(EnvS3Region),
			Endpoint:  os.Getenv(EnvS3Endpoint),
			PathStyle: strings.EqualFold(os.Getenv(EnvS3PathStyle), "true"),
		})
	}
	if location == "" {
		return nil, errors.New("blob: empty location")
	}
	return NewFilesystem(location)
}

// cleanKey normalizes a key and rejects ones escaping the root.
func cleanKey(key string) (string, error) {
	k := path.Clean("/" + strings.ReplaceAll(key, "\\", "/"))
	k = strings.TrimPrefix(k, "/")
	if k == "" || k == "." {
		return "", fmt.Errorf("blob: invalid key %q", key)
	}
	return k, nil
}
