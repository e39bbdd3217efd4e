// Package app assembles the long-lived monitor services from configuration
// and owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/rockmelodies/MonitorTask/internal/api"
	"github.com/rockmelodies/MonitorTask/internal/clock/system"
	"github.com/rockmelodies/MonitorTask/internal/config"
	"github.com/rockmelodies/MonitorTask/internal/dispatcher"
	collyfetcher "github.com/rockmelodies/MonitorTask/internal/fetcher/colly"
	"github.com/rockmelodies/MonitorTask/internal/fingerprint"
	"github.com/rockmelodies/MonitorTask/internal/id/uuid"
	"github.com/rockmelodies/MonitorTask/internal/monitor"
	"github.com/rockmelodies/MonitorTask/internal/notifier"
	"github.com/rockmelodies/MonitorTask/internal/policy/ratelimit"
	memorypublisher "github.com/rockmelodies/MonitorTask/internal/publisher/memory"
	pubsubpublisher "github.com/rockmelodies/MonitorTask/internal/publisher/pubsub"
	queuememory "github.com/rockmelodies/MonitorTask/internal/queue/memory"
	"github.com/rockmelodies/MonitorTask/internal/scheduler"
	gcsstore "github.com/rockmelodies/MonitorTask/internal/storage/gcs"
	localstore "github.com/rockmelodies/MonitorTask/internal/storage/local"
	memorystore "github.com/rockmelodies/MonitorTask/internal/storage/memory"
	"github.com/rockmelodies/MonitorTask/internal/storage/postgres"
	"github.com/rockmelodies/MonitorTask/internal/telemetry"
	"github.com/rockmelodies/MonitorTask/internal/worker"
)

// Version is reported as the service version in traces.
var Version = "dev"

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Store is the persistence surface shared by the pipeline and the API.
type Store interface {
	monitor.Store
	monitor.Reader
}

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// App holds every long-lived service. Build it with New, drive it with Run
// and release it with Close.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	store      Store
	queue      *queuememory.Queue
	dispatcher *dispatcher.Dispatcher
	scheduler  *scheduler.Scheduler
	server     *api.Server
	closers    []closer
}

// New wires the service graph described by cfg. Resources opened before a
// failure are released before New returns.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			if cerr := a.Close(context.Background()); cerr != nil {
				logger.Warn("cleanup after failed init", zap.Error(cerr))
			}
		}
	}()

	tp, err := telemetry.InitTracing(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     Version,
		ProjectID:   cfg.Telemetry.ProjectID,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.addCloser("tracing", tracingShutdown(tp))

	store, ready, err := a.buildStore(ctx)
	if err != nil {
		return nil, err
	}
	a.store = store

	blobs, err := a.buildBlobStore(ctx)
	if err != nil {
		return nil, err
	}
	publisher, topic, err := a.buildPublisher(ctx)
	if err != nil {
		return nil, err
	}

	clock := system.New()
	limiter := ratelimit.New(ratelimit.Config{PerHostRPS: cfg.Fetch.PerHostRPS, Burst: cfg.Fetch.Burst})
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.Fetch.UserAgent,
		Timeout:      cfg.FetchTimeout(),
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
	}, limiter, logger.Named("fetcher"))

	checker := worker.NewChecker(
		store,
		fetcher,
		fingerprint.New(),
		blobs,
		publisher,
		NotifierFactory(notifier.Options{
			Timeout:        cfg.NotifyTimeout(),
			DingTalkSecret: cfg.Notify.DingTalkSecret,
		}),
		clock,
		worker.Config{SnapshotPrefix: cfg.Snapshot.Prefix, Topic: topic},
		logger,
	)

	guard := scheduler.NewGuard()
	a.queue = queuememory.NewQueue(cfg.Scheduler.QueueDepth)
	workers := make([]*worker.Worker, 0, cfg.Scheduler.MaxConcurrentTasks)
	for i := 0; i < cfg.Scheduler.MaxConcurrentTasks; i++ {
		workers = append(workers, worker.New(a.queue, checker, guard, logger.Named("worker").With(zap.Int("index", i))))
	}
	a.dispatcher = dispatcher.New(a.queue, workers)

	a.scheduler = scheduler.New(
		store,
		a.dispatcher,
		checker,
		guard,
		uuid.New(),
		clock,
		scheduler.Config{ScanInterval: cfg.ScanInterval()},
		logger,
	)

	opts := api.Options{Ready: ready}
	if cfg.Auth.Enabled {
		opts.APIKey = cfg.Auth.APIKey
	}
	a.server = api.NewServer(store, a.scheduler, clock, opts, logger)

	logger.Info("application services initialized",
		zap.String("store", cfg.Store.Driver),
		zap.String("snapshot", cfg.Snapshot.Driver),
		zap.String("publish", cfg.Publish.Driver),
		zap.Int("workers", a.dispatcher.Size()),
	)
	return a, nil
}

// Store returns the configured task store.
func (a *App) Store() Store {
	return a.store
}

// Scheduler returns the scheduler for manual checks.
func (a *App) Scheduler() *scheduler.Scheduler {
	return a.scheduler
}

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Run listens on the configured port and serves until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the worker pool, the periodic scan and the HTTP API on ln. It
// returns after ctx is canceled and in-flight checks finish or the shutdown
// deadline passes, or when the HTTP server fails.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	// Canceling workCtx only stops dequeuing; running checks are detached.
	workCtx, stopWork := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWork()

	srv := &http.Server{
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.logger.Info("dispatcher started", zap.Int("workers", a.dispatcher.Size()))
		a.dispatcher.Run(workCtx)
	}()
	a.scheduler.Start(ctx)

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}
	a.logger.Info("shutdown initiated")

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	<-a.scheduler.Stop().Done()
	cancel()
	stopWork()

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		a.logger.Warn("in-flight checks still running at shutdown deadline",
			zap.Int64s("task_ids", a.scheduler.Running()))
	}
	a.queue.Close()
	a.logger.Info("shutdown complete")
	return runErr
}

// Close releases every resource in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) addCloser(name string, fn func(ctx context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) buildStore(ctx context.Context) (Store, api.ReadyFunc, error) {
	tasks := a.cfg.MonitorTasks()
	switch a.cfg.Store.Driver {
	case "", "memory":
		a.logger.Info("using in-memory task store", zap.Int("tasks", len(tasks)))
		return memorystore.NewStore(tasks...), nil, nil
	case "postgres":
		store, err := postgres.NewStore(ctx, postgres.Config{
			DSN:             a.cfg.DB.DSN,
			MaxConns:        a.cfg.DB.MaxConns,
			MinConns:        a.cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(a.cfg.DB.MaxConnLifetime) * time.Second,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init postgres store: %w", err)
		}
		a.addCloser("postgres", func(context.Context) error {
			store.Close()
			return nil
		})
		if a.cfg.DB.Migrate {
			if err := store.Migrate(ctx); err != nil {
				return nil, nil, err
			}
		}
		for _, task := range tasks {
			id, err := store.UpsertTask(ctx, task)
			if err != nil {
				return nil, nil, fmt.Errorf("seed task %q: %w", task.Name, err)
			}
			a.logger.Debug("task seeded", zap.Int64("task_id", id), zap.String("name", task.Name))
		}
		a.logger.Info("using postgres task store", zap.Int("seeded", len(tasks)))
		return store, store.Ping, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver: %s", a.cfg.Store.Driver)
	}
}

func (a *App) buildBlobStore(ctx context.Context) (monitor.BlobStore, error) {
	switch a.cfg.Snapshot.Driver {
	case "", "none":
		a.logger.Info("snapshot archiving disabled")
		return nil, nil
	case "memory":
		return memorystore.NewBlobStore(), nil
	case "local":
		blobs, err := localstore.New(localstore.Config{BaseDir: a.cfg.Snapshot.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init local snapshot store: %w", err)
		}
		a.logger.Info("archiving snapshots locally", zap.String("dir", a.cfg.Snapshot.LocalDir))
		return blobs, nil
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.addCloser("gcs", func(context.Context) error { return client.Close() })
		blobs, err := gcsstore.New(client, gcsstore.Config{Bucket: a.cfg.Snapshot.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs snapshot store: %w", err)
		}
		a.logger.Info("archiving snapshots to gcs", zap.String("bucket", a.cfg.Snapshot.GCSBucket))
		return blobs, nil
	default:
		return nil, fmt.Errorf("unknown snapshot driver: %s", a.cfg.Snapshot.Driver)
	}
}

func (a *App) buildPublisher(ctx context.Context) (monitor.Publisher, string, error) {
	switch a.cfg.Publish.Driver {
	case "", "none":
		return nil, "", nil
	case "memory":
		return memorypublisher.New(), a.cfg.Publish.Topic, nil
	case "pubsub":
		pub, err := pubsubpublisher.New(ctx, a.cfg.Publish.ProjectID)
		if err != nil {
			return nil, "", fmt.Errorf("init pubsub publisher: %w", err)
		}
		a.addCloser("pubsub", func(context.Context) error { return pub.Close() })
		a.logger.Info("publishing changes to pubsub", zap.String("topic", a.cfg.Publish.Topic))
		return pub, a.cfg.Publish.Topic, nil
	default:
		return nil, "", fmt.Errorf("unknown publish driver: %s", a.cfg.Publish.Driver)
	}
}

// NotifierFactory builds webhook notifiers sharing opts.
func NotifierFactory(opts notifier.Options) worker.NotifierFactory {
	return func(channel monitor.Channel, url string) (notifier.Notifier, error) {
		return notifier.New(channel, url, opts)
	}
}

func tracingShutdown(tp *sdktrace.TracerProvider) func(context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		return tp.Shutdown(ctx)
	}
}

// RunNow performs one check of taskID inline, outside the worker pool.
func (a *App) RunNow(ctx context.Context, taskID int64) (monitor.CheckOutcome, error) {
	return a.scheduler.RunNow(ctx, taskID)
}
