// Package app builds linkkeeper's long-lived services from configuration.
// Commands call Build once, use the jobs or serve the API, and Close on exit.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkkeeper/internal/api"
	"github.com/JakeFAU/linkkeeper/internal/clock/system"
	"github.com/JakeFAU/linkkeeper/internal/config"
	collyfetcher "github.com/JakeFAU/linkkeeper/internal/fetcher/colly"
	"github.com/JakeFAU/linkkeeper/internal/httpclient"
	"github.com/JakeFAU/linkkeeper/internal/id/uuid"
	"github.com/JakeFAU/linkkeeper/internal/jobs"
	"github.com/JakeFAU/linkkeeper/internal/link"
	"github.com/JakeFAU/linkkeeper/internal/policy/ratelimit"
	"github.com/JakeFAU/linkkeeper/internal/probe"
	memorypublisher "github.com/JakeFAU/linkkeeper/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/linkkeeper/internal/publisher/pubsub"
	"github.com/JakeFAU/linkkeeper/internal/scheduler"
	gcsstorage "github.com/JakeFAU/linkkeeper/internal/storage/gcs"
	localstorage "github.com/JakeFAU/linkkeeper/internal/storage/local"
	"github.com/JakeFAU/linkkeeper/internal/storage/memory"
	pgstore "github.com/JakeFAU/linkkeeper/internal/storage/postgres"
	"github.com/JakeFAU/linkkeeper/internal/telemetry"
	"github.com/JakeFAU/linkkeeper/internal/wayback"
	"github.com/JakeFAU/linkkeeper/internal/wiki"
)

// Store is everything the jobs and the API need from the link store.
type Store interface {
	jobs.QueueStore
	jobs.Enqueuer
	jobs.HealthStore
	jobs.ArchiveStore
	jobs.SnapshotStore
	jobs.RemediationStore
	api.StatusReader
	api.Pinger
	Close()
}

// Jobs holds one instance of every pipeline job.
type Jobs struct {
	Drain     *jobs.Drainer
	Health    *jobs.HealthChecker
	Archive   *jobs.Archiver
	Snapshot  *jobs.Snapshotter
	Remediate *jobs.Remediator
	Sync      *jobs.Syncer
	Intake    *jobs.Intake
}

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	caps      link.Capabilities
	store     Store
	blobs     link.BlobStore
	publisher link.Publisher
	jobs      Jobs
	apiServer *api.Server

	gcsClient      *storage.Client
	pubsub         *gcppublisher.Publisher
	tracerShutdown func(context.Context) error
}

// Build creates the application's dependencies. Optional tiers whose
// credentials are missing are logged and left disabled.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, version string) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, caps: cfg.Capabilities()}

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		Version:     version,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracerShutdown = tp.Shutdown

	if err := a.setupStore(ctx); err != nil {
		a.cleanup(ctx)
		return nil, err
	}
	if err := a.setupBlobStore(ctx); err != nil {
		a.cleanup(ctx)
		return nil, err
	}
	if err := a.setupPublisher(ctx); err != nil {
		a.cleanup(ctx)
		return nil, err
	}
	if err := a.setupJobs(); err != nil {
		a.cleanup(ctx)
		return nil, err
	}
	a.apiServer = api.NewServer(a.store, a.store, a.jobs.Intake, a.caps, cfg.Server, logger.Named("api"))

	a.logCapabilities()
	return a, nil
}

// NewWithStore builds an App around an existing store, without external
// clients. Commands use it when the store is injected.
func NewWithStore(cfg config.Config, store Store, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, caps: cfg.Capabilities(), store: store, publisher: memorypublisher.New()}
	if cfg.Storage.Backend == "local" {
		if err := a.setupBlobStore(context.Background()); err != nil {
			return nil, err
		}
	}
	if err := a.setupJobs(); err != nil {
		return nil, err
	}
	a.apiServer = api.NewServer(a.store, a.store, a.jobs.Intake, a.caps, cfg.Server, logger.Named("api"))
	return a, nil
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Capabilities reports the enabled optional tiers.
func (a *App) Capabilities() link.Capabilities { return a.caps }

// Store returns the link store.
func (a *App) Store() Store { return a.store }

// Jobs returns the pipeline jobs.
func (a *App) Jobs() Jobs { return a.jobs }

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Migrate applies the embedded schema when the store supports it.
func (a *App) Migrate(ctx context.Context) error {
	m, ok := a.store.(interface{ EnsureSchema(context.Context) error })
	if !ok {
		a.logger.Info("store has no schema to migrate", zap.String("driver", a.cfg.Database.Driver))
		return nil
	}
	if err := m.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	a.logger.Info("schema applied")
	return nil
}

// Scheduler registers every job on its configured cadence.
func (a *App) Scheduler() (*scheduler.Scheduler, error) {
	s := scheduler.New(a.logger)
	sched := a.cfg.Schedule
	entries := []scheduler.Entry{
		{Name: "process-queue", Spec: sched.Queue, Job: a.jobs.Drain},
		{Name: "check-links", Spec: sched.Check, Job: a.jobs.Health},
		{Name: "submit-archive", Spec: sched.Archive, Job: a.jobs.Archive},
		{Name: "snapshot-critical", Spec: sched.Snapshot, Job: a.jobs.Snapshot},
		{Name: "remediate-dead", Spec: sched.Remediate, Job: a.jobs.Remediate},
		{Name: "sync-externallinks", Spec: sched.Sync, Job: a.jobs.Sync},
	}
	for _, e := range entries {
		if err := s.Add(e); err != nil {
			return nil, fmt.Errorf("schedule jobs: %w", err)
		}
	}
	return s, nil
}

// Serve runs the HTTP API and, when withSchedule is set, the job scheduler
// until ctx is canceled.
func (a *App) Serve(ctx context.Context, withSchedule bool) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	var sched *scheduler.Scheduler
	if withSchedule {
		var err error
		if sched, err = a.Scheduler(); err != nil {
			return err
		}
		sched.Start()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			a.logger.Warn("scheduler stop failed", zap.Error(err))
		}
	}

	select {
	case err := <-serveErr:
		return fmt.Errorf("serve: %w", err)
	default:
		return nil
	}
}

// Close releases clients and flushes telemetry.
func (a *App) Close(ctx context.Context) {
	a.cleanup(ctx)
	a.logger.Info("shutdown complete")
}

func (a *App) cleanup(ctx context.Context) {
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		a.store.Close()
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
}

func (a *App) setupStore(ctx context.Context) error {
	switch a.cfg.Database.Driver {
	case "memory":
		a.logger.Warn("using in-memory link store; records are lost on exit")
		a.store = memory.NewLinkStore()
	default:
		store, err := pgstore.New(ctx, pgstore.Config{
			DSN:             a.cfg.Database.DSN,
			MaxConns:        a.cfg.Database.MaxConns,
			MinConns:        a.cfg.Database.MinConns,
			MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("link store init failed: %w", err)
		}
		a.store = store
		a.logger.Info("postgres link store initialized", zap.Int32("max_conns", a.cfg.Database.MaxConns))
	}
	return nil
}

func (a *App) setupBlobStore(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case "gcs":
		gcsCfg := gcsstorage.Config{
			Bucket:          a.cfg.Storage.GCSBucket,
			Prefix:          a.cfg.Storage.Prefix,
			CredentialsFile: a.cfg.Storage.CredentialsFile,
		}
		client, err := gcsstorage.NewClient(ctx, gcsCfg)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		blobs, err := gcsstorage.New(client, gcsCfg)
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		if err := blobs.CheckBucket(ctx); err != nil {
			a.logger.Warn("snapshot bucket check failed", zap.String("bucket", gcsCfg.Bucket), zap.Error(err))
		}
		a.blobs = blobs
		a.logger.Info("using GCS storage backend", zap.String("bucket", gcsCfg.Bucket))
	case "local":
		blobs, err := localstorage.New(localstorage.Config{
			BaseDir:   a.cfg.Storage.LocalDir,
			Checksums: a.cfg.Storage.LocalChecksums,
		})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.blobs = blobs
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.LocalDir))
	default:
		a.logger.Debug("no snapshot storage configured")
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.ProjectID == "" {
		a.logger.Debug("no Pub/Sub project configured, using in-memory publisher")
		a.publisher = memorypublisher.New()
		return nil
	}
	client, err := gcppublisher.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsub = gcppublisher.New(client)
	a.publisher = a.pubsub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("dead_topic", a.cfg.PubSub.DeadTopic),
		zap.String("remediated_topic", a.cfg.PubSub.RemediatedTopic),
	)
	return nil
}

func (a *App) setupJobs() error {
	cfg := a.cfg
	clock := system.New()
	userAgent := cfg.HTTP.UserAgent

	docs, err := wiki.New(wiki.Config{
		APIURL:   cfg.Wiki.APIURL,
		Username: cfg.Wiki.Username,
		Password: cfg.Wiki.Password,
	}, httpclient.New(config.Timeout(cfg.HTTP.TimeoutSeconds), userAgent))
	if err != nil {
		return fmt.Errorf("wiki client init failed: %w", err)
	}

	prober := probe.New(probe.Config{
		Timeout:      config.Timeout(cfg.HTTP.TimeoutSeconds),
		HeadDenyList: cfg.Health.HeadDenyList,
		Soft404Bytes: cfg.Health.Soft404Bytes,
	}, httpclient.New(config.Timeout(cfg.HTTP.TimeoutSeconds), userAgent),
		ratelimit.NewPacer(cfg.Health.DomainInterval(), clock, clock))

	index := wayback.New(wayback.Config{
		CDXEndpoint:          cfg.Archive.CDXEndpoint,
		AvailabilityEndpoint: cfg.Archive.AvailabilityEndpoint,
		SaveEndpoint:         cfg.Archive.SaveEndpoint,
	}, httpclient.New(config.Timeout(cfg.HTTP.ArchiveTimeoutSeconds), userAgent))

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:   userAgent,
		Timeout:     config.Timeout(cfg.HTTP.CaptureTimeoutSeconds),
		MaxBodySize: cfg.Snapshot.MaxBodyMB << 20,
	}, clock)

	a.jobs = Jobs{
		Drain: jobs.NewDrainer(a.store, clock, cfg.Queue.BatchSize, a.logger),
		Health: jobs.NewHealthChecker(a.store, prober, a.publisher, clock, jobs.HealthConfig{
			BatchSize:     cfg.Health.BatchSize,
			DeadThreshold: cfg.Health.DeadThreshold,
			DeadTopic:     cfg.PubSub.DeadTopic,
		}, a.logger),
		Archive: jobs.NewArchiver(a.store, index,
			ratelimit.NewPacer(cfg.Archive.SubmitInterval(), clock, clock),
			clock, a.caps, jobs.ArchiveConfig{
				BatchSize: cfg.Archive.BatchSize,
				Freshness: cfg.Archive.Freshness(),
				Credentials: wayback.Credentials{
					AccessKey: cfg.Archive.AccessKey,
					SecretKey: cfg.Archive.SecretKey,
				},
			}, a.logger),
		Snapshot: jobs.NewSnapshotter(a.store, fetcher, a.blobs, uuid.New(), clock, a.caps, jobs.SnapshotConfig{
			Domains: cfg.Snapshot.PriorityDomains,
			TempDir: cfg.Snapshot.TempDir,
		}, a.logger),
		Remediate: jobs.NewRemediator(a.store, docs, a.publisher, clock, a.caps, jobs.RemediateConfig{
			MinFailures:     cfg.Remediate.MinFailures,
			MinDeadAge:      cfg.Remediate.MinDeadAge(),
			ReviewPage:      cfg.Remediate.ReviewPage,
			RemediatedTopic: cfg.PubSub.RemediatedTopic,
		}, a.logger),
		Sync:   jobs.NewSyncer(docs, a.store, clock, cfg.Wiki.InternalHost, a.logger),
		Intake: jobs.NewIntake(a.store, clock, cfg.Wiki.InternalHost, a.logger),
	}
	return nil
}

func (a *App) logCapabilities() {
	hints := a.cfg.CapabilityHints()
	for _, c := range link.AllCapabilities {
		if a.caps.Has(c) {
			a.logger.Info("capability enabled", zap.String("capability", string(c)))
			continue
		}
		a.logger.Warn("capability unavailable",
			zap.String("capability", string(c)), zap.String("hint", hints[c]))
	}
}
