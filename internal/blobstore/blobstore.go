// Package blobstore reads and writes photo bytes in object storage.
package blobstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/aukanara2010-dot/facepass-sub001/internal/config"
)

// ErrNotFound is returned by Get when no object exists under the key.
var ErrNotFound = errors.New("blob not found")

// Store is the object storage used by ingestion and session sync.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Put stores data under key and returns a locator for the stored object.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// List returns every key under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// New returns the store selected by cfg.Driver.
func New(cfg *config.BlobConfig) (Store, error) {
	switch cfg.Driver {
	case "s3":
		return NewS3Store(cfg)
	case "fs":
		return NewFSStore(cfg.Dir)
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}
