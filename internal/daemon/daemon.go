package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"danmu/internal/acquire"
	"danmu/internal/artifact"
	"danmu/internal/config"
	"danmu/internal/events"
	"danmu/internal/guard"
	"danmu/internal/library"
	"danmu/internal/logging"
	"danmu/internal/matching"
	"danmu/internal/notifications"
	"danmu/internal/provider"
	"danmu/internal/refresh"
	"danmu/internal/search"
	"danmu/internal/services"
)

// Dependencies are the externally built collaborators of a daemon.
type Dependencies struct {
	Store     library.Store
	Providers *provider.Registry
	// Notifier defaults to notifications.NewService(cfg).
	Notifier notifications.Service
	Logger   *slog.Logger
}

// Daemon owns the acquisition pipeline and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    library.Store
	notifier notifications.Service

	chain        *matching.Chain
	artifacts    *artifact.Writer
	correlator   *events.Correlator
	guard        *guard.Guard
	queue        *events.Queue
	dispatcher   *events.Dispatcher
	orchestrator *acquire.Orchestrator
	refresh      *refresh.Service
	search       *search.Service
	api          *apiServer

	lockPath string
	lock     *flock.Flock

	mu        sync.Mutex
	running   atomic.Bool
	cancel    context.CancelFunc
	startedAt time.Time
	lastBatch atomic.Int64
	batches   atomic.Int64
}

// Status represents daemon runtime information.
type Status struct {
	Running        bool
	PID            int
	StartedAt      time.Time
	LockFilePath   string
	LibraryBackend string
	PendingEvents  int
	PendingAdds    int
	HeldDownloads  int
	LastBatchAt    time.Time
	Batches        int64
	Stats          acquire.Stats
	Providers      []provider.Provider
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, deps Dependencies) (*Daemon, error) {
	if cfg == nil || deps.Store == nil || deps.Providers == nil {
		return nil, errors.New("daemon requires config, library store, and provider registry")
	}
	if len(deps.Providers.All()) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "daemon", "init", "no providers enabled", nil)
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}

	matcher := matching.NewMatcher(
		matching.WithThreshold(cfg.Matching.SimilarityThreshold),
		matching.WithLogger(logger),
	)
	d := &Daemon{
		cfg:        cfg,
		logger:     logger,
		store:      deps.Store,
		notifier:   notifier,
		chain:      matching.NewChain(deps.Providers, matcher, logger),
		artifacts:  artifact.NewWriter(cfg.Download, logger),
		correlator: events.NewCorrelator(cfg.PendingAddTTL()),
		guard:      guard.New(cfg.DownloadCooldown()),
		lockPath:   cfg.Paths.LockPath,
		lock:       flock.New(cfg.Paths.LockPath),
	}
	d.queue = events.NewQueue(cfg.DebounceDelay(), d.processBatch, logger)

	orchestrator, err := acquire.New(acquire.Dependencies{
		Store:     deps.Store,
		Chain:     d.chain,
		Guard:     d.guard,
		Artifacts: d.artifacts,
		Notifier:  notifier,
		Queue:     d.queue,
		Logger:    logger,
	}, acquire.Options{
		MinPayloadBytes:  cfg.Download.MinPayloadBytes,
		EpisodeCountSame: cfg.Matching.EnableEpisodeCountSame,
	})
	if err != nil {
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}
	d.orchestrator = orchestrator
	d.dispatcher = events.NewDispatcher(events.NewClassifier(deps.Store, d.correlator, logger), orchestrator, logger)
	d.refresh = refresh.NewService(deps.Store, d.chain, d.queue, logger)
	d.search = search.NewService(d.chain, logger)

	srv, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = srv
	return d, nil
}

// Start acquires the daemon lock and launches the queue, caches and API.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another danmu daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.queue.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start queue: %w", err)
	}
	d.correlator.Start()
	d.guard.Start()
	if err := d.api.start(runCtx); err != nil {
		cancel()
		d.queue.Stop()
		d.correlator.Stop()
		d.guard.Stop()
		_ = d.lock.Unlock()
		return err
	}

	d.cancel = cancel
	d.startedAt = time.Now()
	d.running.Store(true)
	d.logger.Info("danmu daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("library_backend", d.cfg.Library.Backend),
		logging.Int("providers", len(d.chain.Providers())),
	)
	return nil
}

// Stop stops background processing and releases the daemon lock. Buffered
// events that have not reached a batch are discarded.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	d.api.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.queue.Stop()
	d.correlator.Stop()
	d.guard.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("danmu daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if closer, ok := d.store.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// APIAddress returns the bound API address, or "" when the API is disabled
// or not yet started.
func (d *Daemon) APIAddress() string {
	return d.api.address()
}

// Status returns the current daemon status.
func (d *Daemon) Status(context.Context) Status {
	d.mu.Lock()
	startedAt := d.startedAt
	d.mu.Unlock()

	status := Status{
		Running:        d.running.Load(),
		PID:            os.Getpid(),
		StartedAt:      startedAt,
		LockFilePath:   d.lockPath,
		LibraryBackend: d.cfg.Library.Backend,
		PendingEvents:  d.queue.Pending(),
		PendingAdds:    d.correlator.Len(),
		HeldDownloads:  d.guard.Len(),
		Batches:        d.batches.Load(),
		Stats:          d.orchestrator.Stats(),
		Providers:      d.chain.Providers(),
	}
	if last := d.lastBatch.Load(); last > 0 {
		status.LastBatchAt = time.Unix(0, last)
	}
	return status
}

// Refresh queues a manual refresh.
func (d *Daemon) Refresh(ctx context.Context, req refresh.Request) (events.Event, error) {
	return d.refresh.Refresh(ctx, req)
}

// RefreshToken queues a manual refresh carried by a base64 token.
func (d *Daemon) RefreshToken(ctx context.Context, token string) (events.Event, error) {
	return d.refresh.RefreshToken(ctx, token)
}

// Search queries providers without touching the library.
func (d *Daemon) Search(ctx context.Context, q search.Query) (*search.Response, error) {
	return d.search.Search(ctx, q)
}

// Danmu returns the stored comment document for itemID. providerRef is a
// provider name or key; empty selects the first stored document.
func (d *Daemon) Danmu(ctx context.Context, itemID, providerRef string) ([]byte, string, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" {
		return nil, "", services.Wrap(services.ErrValidation, "daemon", "read danmu", "item id is required", nil)
	}
	var key string
	if strings.TrimSpace(providerRef) != "" {
		p, err := d.chain.Resolve(providerRef)
		if err != nil {
			return nil, "", err
		}
		key = p.Key()
	}
	item, err := d.store.GetItem(services.WithItemID(ctx, itemID), itemID)
	if err != nil {
		if errors.Is(err, library.ErrNotFound) {
			return nil, "", services.Wrap(services.ErrNotFound, "daemon", "read danmu", fmt.Sprintf("item %q not found", itemID), err)
		}
		return nil, "", services.Wrap(services.ErrExternalTool, "daemon", "read danmu", "library store failed", err)
	}
	return d.artifacts.Read(item, key)
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// processBatch runs one debounced batch and reports its outcome.
func (d *Daemon) processBatch(ctx context.Context, batch []events.Event) {
	before := d.orchestrator.Stats()
	start := time.Now()
	d.dispatcher.Dispatch(ctx, batch)
	after := d.orchestrator.Stats()
	d.batches.Add(1)
	d.lastBatch.Store(time.Now().UnixNano())

	downloads := int(after.Downloads - before.Downloads)
	failures := int(after.Failures - before.Failures)
	logging.WithContext(ctx, d.logger).Info("batch outcome",
		logging.String(logging.FieldEventType, "batch_completed"),
		logging.Int("events", len(batch)),
		logging.Int("downloads", downloads),
		logging.Int("failures", failures),
		logging.Int("throttled", int(after.Throttled-before.Throttled)),
		logging.Duration("duration", time.Since(start)),
	)
	if err := d.notifier.NotifyBatchCompleted(context.WithoutCancel(ctx), downloads, failures, time.Since(start)); err != nil {
		d.logger.Debug("batch notification failed", logging.Error(err))
	}
}
