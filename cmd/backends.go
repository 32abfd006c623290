package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aukanara2010-dot/facepass-sub001/internal/blobstore"
	"github.com/aukanara2010-dot/facepass-sub001/internal/config"
	"github.com/aukanara2010-dot/facepass-sub001/internal/database"
	"github.com/aukanara2010-dot/facepass-sub001/internal/database/mock"
	"github.com/aukanara2010-dot/facepass-sub001/internal/database/postgres"
	"github.com/aukanara2010-dot/facepass-sub001/internal/database/sqlite"
	"github.com/aukanara2010-dot/facepass-sub001/internal/metadata"
)

// vectorBackend is a vector store that can report its health.
type vectorBackend interface {
	database.VectorStore
	Ping(ctx context.Context) error
}

// backends holds the storage connections shared by every command.
type backends struct {
	vectors  vectorBackend
	pool     *postgres.Pool // job queue pool, nil without DATABASE_URL
	sessions *metadata.Validator
	blobs    blobstore.Store // nil until openBlobs
	closers  []func()
}

// openBackends connects the vector store, the queue database and the
// metadata store.
func openBackends(ctx context.Context, cfg *config.Config) (_ *backends, err error) {
	b := &backends{}
	defer func() {
		if err != nil {
			b.Close()
		}
	}()

	switch cfg.Database.Driver {
	case "postgres":
		pool, err := postgres.Open(ctx, &cfg.Database, cfg.Embedding.Dim)
		if err != nil {
			return nil, err
		}
		b.pool = pool
		b.closers = append(b.closers, pool.Close)
		b.vectors = postgres.NewVectorRepository(pool)
		slog.Info("using PostgreSQL vector store")
	case "sqlite":
		store, err := sqlite.Open(ctx, cfg.Database.SQLitePath)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = store.Close() })
		b.vectors = store
		slog.Info("using SQLite vector store", "path", cfg.Database.SQLitePath)
	case "memory":
		b.vectors = mock.NewVectorStore()
		slog.Warn("using in-memory vector store, embeddings are lost on exit")
	default:
		return nil, fmt.Errorf("unknown vector store driver %q", cfg.Database.Driver)
	}

	// The queue always lives in PostgreSQL, even when vectors do not.
	if b.pool == nil && cfg.Database.URL != "" {
		pool, err := postgres.NewQueuePool(ctx, &cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect job queue database: %w", err)
		}
		b.pool = pool
		b.closers = append(b.closers, pool.Close)
	}

	var reader metadata.Reader = metadata.AllowAll{}
	if cfg.Metadata.URL != "" {
		store, err := metadata.Open(ctx, cfg.Metadata.URL)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = store.Close() })
		reader = metadata.NewCachedReader(store, cfg.Metadata.CacheSize, cfg.Metadata.CacheTTL)
	} else {
		slog.Warn("METADATA_DATABASE_URL not set, every session is treated as enabled")
	}
	b.sessions = metadata.NewValidator(reader, cfg.Metadata.CheckPhotos)

	return b, nil
}

// openBlobs connects the blob store. Only ingestion needs it.
func (b *backends) openBlobs(cfg *config.Config) error {
	blobs, err := blobstore.New(&cfg.Blob)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}
	b.blobs = blobs
	return nil
}

// requireQueue fails when ingestion is requested without a queue database.
func (b *backends) requireQueue() error {
	if b.pool == nil {
		return errors.New("DATABASE_URL is required for the ingestion queue")
	}
	return nil
}

// Close releases connections in reverse order of opening.
func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}
