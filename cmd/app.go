package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/aukanara2010-dot/facepass-sub001/internal/config"
	"github.com/aukanara2010-dot/facepass-sub001/internal/extractor"
	"github.com/aukanara2010-dot/facepass-sub001/internal/ingest"
	"github.com/aukanara2010-dot/facepass-sub001/internal/observability"
	"github.com/aukanara2010-dot/facepass-sub001/internal/search"
	"github.com/aukanara2010-dot/facepass-sub001/internal/web"
	"github.com/aukanara2010-dot/facepass-sub001/internal/web/handlers"
)

// appOptions selects which parts of the service a process runs.
type appOptions struct {
	http    bool
	workers bool
}

// App is a running FacePass process: the HTTP API, the ingestion workers or both.
type App struct {
	cfg           *config.Config
	backends      *backends
	server        *web.Server
	river         *river.Client[pgx.Tx]
	runWorkers    bool
	meterProvider *sdkmetric.MeterProvider
	metrics       *observability.FacepassMetrics
}

// NewApp builds and wires all components. It does not start the HTTP server
// or the workers; call Run to start and block until shutdown or failure.
func NewApp(ctx context.Context, cfg *config.Config, opts appOptions) (_ *App, err error) {
	a := &App{cfg: cfg, runWorkers: opts.workers}
	defer func() {
		if err != nil {
			a.release(context.Background())
		}
	}()

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		a.meterProvider, metricsHandler, a.metrics, err = observability.NewMeterProvider(ctx, "facepass")
		if err != nil {
			return nil, fmt.Errorf("create meter provider: %w", err)
		}
		otel.SetMeterProvider(a.meterProvider)
	} else {
		slog.Warn("metrics not enabled (METRICS_ENABLED=false)")
	}

	a.backends, err = openBackends(ctx, cfg)
	if err != nil {
		return nil, err
	}
	b := a.backends

	ext := extractor.NewHTTPClient(&cfg.Extractor).WithObserver(a.metrics)

	if opts.workers {
		if err := b.requireQueue(); err != nil {
			return nil, err
		}
	}
	if b.pool != nil {
		if err := b.openBlobs(cfg); err != nil {
			return nil, err
		}

		var worker *ingest.IngestWorker
		if opts.workers {
			pipeline := ingest.NewPipeline(ext, b.vectors, cfg)
			worker = ingest.NewIngestWorker(pipeline, b.blobs, b.sessions, &cfg.Ingest, a.metrics)
		}
		a.river, err = ingest.NewClient(b.pool.Pgx(), &cfg.Ingest, worker)
		if err != nil {
			return nil, err
		}
	}

	if !opts.http {
		return a, nil
	}

	engine, err := search.NewEngine(b.vectors, b.sessions, ext, cfg, a.metrics)
	if err != nil {
		return nil, fmt.Errorf("create search engine: %w", err)
	}

	h := web.Handlers{
		Search:   handlers.NewSearchHandler(engine),
		Sessions: handlers.NewSessionsHandler(b.sessions, b.vectors),
		Health:   handlers.NewHealthHandler(Version, b.vectors, b.sessions),
		Metrics:  metricsHandler,
	}
	if a.river != nil {
		submitter := ingest.NewSubmitter(a.river, b.sessions, b.blobs, &cfg.Ingest, a.metrics)
		syncer := ingest.NewSessionSync(b.blobs, b.vectors, submitter, b.sessions, cfg.Ingest.SyncMaxPhotos)
		h.Index = handlers.NewIndexHandler(submitter, syncer, b.vectors, engine, b.sessions)
	} else {
		slog.Warn("DATABASE_URL not set, ingestion endpoints are disabled")
	}

	var mp metric.MeterProvider
	if a.meterProvider != nil {
		mp = a.meterProvider
	}
	a.server = web.NewServer(cfg, h, mp)

	return a, nil
}

// Run starts the HTTP server and the workers, then blocks until ctx is
// cancelled or a component fails. Caller should then call Shutdown.
func (a *App) Run(ctx context.Context) error {
	runErr := make(chan error, 1)

	riverCtx, cancelRiver := context.WithCancel(ctx)
	defer cancelRiver()

	if a.runWorkers {
		if a.metrics != nil {
			go ingest.RunQueueDepthPoller(riverCtx, a.backends.pool.Pgx(), a.cfg.Ingest.Queue, a.metrics)
		}

		go func() {
			slog.Info("starting ingestion workers", "queue", a.cfg.Ingest.Queue, "workers", a.cfg.Ingest.Workers)
			if err := a.river.Start(riverCtx); err != nil && !errors.Is(err, context.Canceled) {
				select {
				case runErr <- fmt.Errorf("river: %w", err):
				default:
				}
			}
		}()
	}

	if a.server != nil {
		go func() {
			if err := a.server.Start(); err != nil {
				select {
				case runErr <- fmt.Errorf("server: %w", err):
				default:
				}
			}
		}()
	}

	select {
	case err := <-runErr:
		cancelRiver()
		return err
	case <-ctx.Done():
		cancelRiver()
		return nil
	}
}

// Shutdown stops the server, then the workers, then releases observability
// and storage. Call after Run returns.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if a.runWorkers && a.river != nil {
		if err := a.river.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("river stop: %w", err))
		}
	}

	if err := a.release(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// release shuts down the meter provider and closes storage.
func (a *App) release(ctx context.Context) error {
	err := observability.ShutdownMeterProvider(ctx, a.meterProvider)
	a.meterProvider = nil
	if a.backends != nil {
		a.backends.Close()
	}
	return err
}
