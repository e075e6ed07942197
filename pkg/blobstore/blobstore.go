// Package blobstore stores snapshot objects on local disk or in Google Cloud Storage.
package blobstore

import (
	"context"
	"errors"
	"io"
)

var ErrObjectNotFound = errors.New("blob object not found")

type Store interface {
	// NewWriter returns a writer whose Close commits the object.
	NewWriter(ctx context.Context, key string) (io.WriteCloser, error)
	NewReader(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}
