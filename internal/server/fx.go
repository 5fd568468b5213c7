// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/content-progress-bridge/internal/api"
	"github.com/JakeFAU/content-progress-bridge/internal/clock/system"
	"github.com/JakeFAU/content-progress-bridge/internal/config"
	"github.com/JakeFAU/content-progress-bridge/internal/envelope"
	"github.com/JakeFAU/content-progress-bridge/internal/host"
	"github.com/JakeFAU/content-progress-bridge/internal/id/uuid"
	"github.com/JakeFAU/content-progress-bridge/internal/logging"
	"github.com/JakeFAU/content-progress-bridge/internal/metrics"
	"github.com/JakeFAU/content-progress-bridge/internal/policy/ratelimit"
	"github.com/JakeFAU/content-progress-bridge/internal/publisher"
	gcppublisher "github.com/JakeFAU/content-progress-bridge/internal/publisher/pubsub"
	"github.com/JakeFAU/content-progress-bridge/internal/relay"
	"github.com/JakeFAU/content-progress-bridge/internal/relay/sinks"
	gcsstorage "github.com/JakeFAU/content-progress-bridge/internal/storage/gcs"
	localstorage "github.com/JakeFAU/content-progress-bridge/internal/storage/local"
	memorystorage "github.com/JakeFAU/content-progress-bridge/internal/storage/memory"
	pgstore "github.com/JakeFAU/content-progress-bridge/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/content-progress-bridge/internal/storage/sqlite"
	"github.com/JakeFAU/content-progress-bridge/internal/store"
	"github.com/JakeFAU/content-progress-bridge/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg             *config.Config
	logger          *zap.Logger
	apiServer       *api.Server
	hostService     *host.Service
	relayHub        *relay.Hub
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	storage         *storage.Client
	progressRepo    store.ProgressRepository
	ready           api.Pinger
	tracerShutdown  func(context.Context) error
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	// Only non-sensitive fields are logged.
	type SanitizedConfig struct {
		ServerPort     int    `json:"server_port"`
		StoreBackend   string `json:"store_backend"`
		ArchiveBackend string `json:"archive_backend"`
	}
	safeCfg := SanitizedConfig{
		ServerPort:     cfg.Server.Port,
		StoreBackend:   cfg.Store.Backend,
		ArchiveBackend: cfg.Archive.Backend,
	}
	logger.Info("Creating application", zap.Any("config", safeCfg))
	return &App{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Handler returns the HTTP handler serving the host API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		// Hijacked WebSocket connections are not tracked by Shutdown; tying
		// request contexts to ctx ends them on signal.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	grace := a.cfg.ShutdownTimeout()
	if grace <= 0 {
		grace = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

//nolint:gocognit // Shutdown logic is linear but extensive, ignoring complexity check
func (a *App) closeInfrastructure(ctx context.Context) {
	if a.relayHub != nil {
		if err := a.relayHub.Close(ctx); err != nil {
			a.logger.Warn("relay hub close failed", zap.Error(err))
		}
		stats := a.relayHub.Stats()
		a.logger.Info("relay hub closed",
			zap.Int64("dropped", stats.Dropped),
			zap.Int64("coalesced", stats.Coalesced),
		)
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	switch repo := a.progressRepo.(type) {
	case *pgstore.ProgressStore:
		repo.Close()
	case *sqlitestore.ProgressStore:
		if err := repo.Close(); err != nil {
			a.logger.Warn("sqlite store close failed", zap.Error(err))
		}
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	// Sync fails on non-file sinks such as a terminal; nothing to act on.
	_ = a.logger.Sync()
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.Build(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown
	metrics.Init()

	app.logger.Info("building application dependencies")

	if err = setupStore(ctx, app); err != nil {
		return nil, err
	}

	archive, err := setupArchive(ctx, app)
	if err != nil {
		return nil, err
	}

	pub, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	if err = setupRelay(ctx, app, pub); err != nil {
		return nil, err
	}

	if err = setupHost(app, archive); err != nil {
		return nil, err
	}

	app.apiServer = api.NewServer(app.hostService, app.ready, *cfg, logger)
	return app, nil
}

func setupStore(ctx context.Context, app *App) error {
	switch app.cfg.Store.Backend {
	case config.BackendPostgres:
		repo, err := pgstore.NewProgressStore(ctx, pgstore.Config{
			DSN:             app.cfg.Store.DSN,
			CheckpointTable: app.cfg.Store.CheckpointTable,
			CompletionTable: app.cfg.Store.CompletionTable,
			MaxConns:        app.cfg.Store.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		app.progressRepo, app.ready = repo, repo
		app.logger.Info("using postgres checkpoint store",
			zap.String("checkpoint_table", app.cfg.Store.CheckpointTable),
			zap.String("completion_table", app.cfg.Store.CompletionTable),
		)
	case config.BackendSQLite:
		repo, err := sqlitestore.Open(app.cfg.Store.SQLitePath, sqlitestore.Options{})
		if err != nil {
			return fmt.Errorf("sqlite store init failed: %w", err)
		}
		app.progressRepo, app.ready = repo, repo
		app.logger.Info("using sqlite checkpoint store", zap.String("path", app.cfg.Store.SQLitePath))
	default:
		app.logger.Warn("using in-memory checkpoint store; progress is lost on restart")
		app.progressRepo = memorystorage.NewProgressStore()
	}
	return nil
}

func setupArchive(ctx context.Context, app *App) (store.BlobStore, error) {
	var (
		blobStore store.BlobStore
		err       error
	)
	switch app.cfg.Archive.Backend {
	case config.BackendGCS:
		app.logger.Info("using GCS suspend archive")
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobStore, err = gcsstorage.New(app.storage, gcsstorage.Config{
			Bucket: app.cfg.Archive.Bucket,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Debug("GCS suspend archive", zap.String("bucket", app.cfg.Archive.Bucket))
	case config.BackendLocal:
		app.logger.Info("using local suspend archive")
		blobStore, err = localstorage.New(localstorage.Config{BaseDir: app.cfg.Archive.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Debug("local suspend archive", zap.String("path", app.cfg.Archive.Local.BaseDir))
	case config.BackendMemory:
		app.logger.Info("using in-memory suspend archive")
		blobStore = memorystorage.NewBlobStore()
	default:
		app.logger.Info("suspend archive disabled")
	}
	return blobStore, nil
}

func setupPublisher(ctx context.Context, app *App) (publisher.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("No Pub/Sub topic configured, relayed envelopes are not published")
		return nil, nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubPublisher = app.pubsubClient.Publisher(app.cfg.PubSub.TopicName)
	app.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return gcppublisher.New(app.pubsubPublisher), nil
}

func setupRelay(ctx context.Context, app *App, pub publisher.Publisher) error {
	rc := app.cfg.Relay
	var sinkList []relay.Sink
	if rc.LogEnabled {
		sinkList = append(sinkList, sinks.NewLogSink(app.logger.Named("relay_log")))
		app.logger.Debug("Added relay log sink")
	}
	if rc.PrometheusEnabled {
		promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
		if err != nil {
			return fmt.Errorf("prometheus sink init failed: %w", err)
		}
		sinkList = append(sinkList, promSink)
		app.logger.Debug("Added relay prometheus sink")
	}
	if pub != nil {
		types := make([]envelope.Type, 0, len(rc.PublishTypes))
		for _, t := range rc.PublishTypes {
			types = append(types, envelope.Type(t))
		}
		pubSink, err := sinks.NewPublisherSink(pub, sinks.PublisherSinkConfig{
			Topic:  app.cfg.PubSub.TopicName,
			Types:  types,
			Logger: app.logger.Named("relay_publisher"),
		})
		if err != nil {
			return fmt.Errorf("publisher sink init failed: %w", err)
		}
		sinkList = append(sinkList, pubSink)
		app.logger.Debug("Added relay publisher sink", zap.Strings("types", rc.PublishTypes))
	}
	if len(sinkList) == 0 {
		app.logger.Info("envelope relay disabled, no sinks configured")
		return nil
	}
	hubCfg := relay.Config{
		BufferSize:      rc.BufferSize,
		MaxBatchRecords: rc.Batch.MaxEvents,
		MaxBatchWait:    config.Millis(rc.Batch.MaxWaitMs),
		SinkTimeout:     config.Millis(rc.SinkTimeoutMs),
		BaseContext:     ctx,
		Logger:          app.logger.Named("relay_hub"),
	}
	app.relayHub = relay.NewHub(hubCfg, sinkList...)
	app.logger.Info("relay hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_records", hubCfg.MaxBatchRecords),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
		zap.Int("sinks", len(sinkList)),
	)
	return nil
}

func setupHost(app *App, archive store.BlobStore) error {
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   app.cfg.Host.EventRPS,
		DefaultBurst: app.cfg.Host.EventBurst,
	})
	app.logger.Info("event limiter configured",
		zap.Float64("event_rps", app.cfg.Host.EventRPS),
		zap.Int("event_burst", app.cfg.Host.EventBurst),
	)

	hostCfg := host.Config{
		Repository:    app.progressRepo,
		Archive:       archive,
		ArchivePrefix: app.cfg.Archive.Prefix,
		Limiter:       limiter,
		IDs:           uuid.New(),
		Clock:         system.New(),
		Observer:      metrics.HostObserver{},
		SendTimeout:   config.Millis(app.cfg.Host.SendTimeoutMs),
		Logger:        app.logger,
	}
	if app.relayHub != nil {
		hostCfg.Relay = app.relayHub
	}
	svc, err := host.NewService(hostCfg)
	if err != nil {
		return fmt.Errorf("host service init failed: %w", err)
	}
	app.hostService = svc
	return nil
}
