// Package storage keeps temporary files and publishes finished archives,
// either to a local directory or to S3.
package storage

import (
	"context"
	"io"
)

// Storage holds temp files and publishes finished artifacts.
type Storage interface {
	// SaveTemp saves data to a temporary file and returns the file path.
	// name is a hint for the filename; its extension is kept.
	SaveTemp(ctx context.Context, name string, data io.Reader) (path string, err error)

	// LoadTemp opens a temporary file. The caller closes it.
	LoadTemp(ctx context.Context, path string) (io.ReadCloser, error)

	// CleanupTemp removes the specified temporary files.
	// It continues cleanup even if some files fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error

	// Publish stores a finished artifact under name and returns where it
	// can be downloaded from.
	Publish(ctx context.Context, name string, data io.Reader) (url string, err error)
}
