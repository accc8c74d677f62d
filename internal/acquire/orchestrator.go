package acquire

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"

	"danmu/internal/danmaku"
	"danmu/internal/events"
	"danmu/internal/guard"
	"danmu/internal/library"
	"danmu/internal/logging"
	"danmu/internal/matching"
	"danmu/internal/provider"
	"danmu/internal/services"
)

// DefaultMinPayloadBytes is the smallest serialized comment document kept.
const DefaultMinPayloadBytes = 1024

// ArtifactWriter persists downloaded comment documents.
type ArtifactWriter interface {
	Exists(item *library.Item, providerKey string) bool
	Write(ctx context.Context, item *library.Item, providerKey string, payload *danmaku.Payload, data []byte) error
}

// Notifier receives download and throttling events.
type Notifier interface {
	NotifyDownloaded(ctx context.Context, itemName, provider string, comments int) error
	NotifyThrottled(ctx context.Context, provider, itemName string) error
}

// Enqueuer accepts follow-up events.
type Enqueuer interface {
	Enqueue(ev events.Event)
}

// Dependencies wires an Orchestrator. Notifier and Queue are optional.
type Dependencies struct {
	Store     library.Store
	Chain     *matching.Chain
	Guard     *guard.Guard
	Artifacts ArtifactWriter
	Notifier  Notifier
	Queue     Enqueuer
	Logger    *slog.Logger
}

// Options tunes acquisition.
type Options struct {
	// MinPayloadBytes discards serialized documents below this size.
	// Non-positive uses DefaultMinPayloadBytes.
	MinPayloadBytes int
	// EpisodeCountSame rejects a season match when the provider episode count
	// differs from the local one.
	EpisodeCountSame bool
}

// Stats counts outcomes since the orchestrator was created.
type Stats struct {
	Downloads int64
	Skipped   int64
	Failures  int64
	Throttled int64
}

// Orchestrator runs the acquisition pipelines for classified buckets.
type Orchestrator struct {
	store     library.Store
	chain     *matching.Chain
	guard     *guard.Guard
	artifacts ArtifactWriter
	notifier  Notifier
	queue     Enqueuer
	opts      Options
	logger    *slog.Logger

	downloads atomic.Int64
	skipped   atomic.Int64
	failures  atomic.Int64
	throttled atomic.Int64
}

var _ events.Handler = (*Orchestrator)(nil)

// New validates deps and constructs an orchestrator.
func New(deps Dependencies, opts Options) (*Orchestrator, error) {
	switch {
	case deps.Store == nil:
		return nil, services.Wrap(services.ErrConfiguration, "acquire", "init", "library store is required", nil)
	case deps.Chain == nil:
		return nil, services.Wrap(services.ErrConfiguration, "acquire", "init", "matching chain is required", nil)
	case deps.Guard == nil:
		return nil, services.Wrap(services.ErrConfiguration, "acquire", "init", "download guard is required", nil)
	case deps.Artifacts == nil:
		return nil, services.Wrap(services.ErrConfiguration, "acquire", "init", "artifact writer is required", nil)
	}
	if opts.MinPayloadBytes <= 0 {
		opts.MinPayloadBytes = DefaultMinPayloadBytes
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Orchestrator{
		store:     deps.Store,
		chain:     deps.Chain,
		guard:     deps.Guard,
		artifacts: deps.Artifacts,
		notifier:  notifier,
		queue:     deps.Queue,
		opts:      opts,
		logger:    logging.NewComponentLogger(deps.Logger, "acquire"),
	}, nil
}

// Stats returns a snapshot of the outcome counters.
func (o *Orchestrator) Stats() Stats {
	return Stats{
		Downloads: o.downloads.Load(),
		Skipped:   o.skipped.Load(),
		Failures:  o.failures.Load(),
		Throttled: o.throttled.Load(),
	}
}

// HandleBucket processes every event of one bucket sequentially and flushes
// the identifiers it discovered. Item failures are logged and never abort the
// bucket.
func (o *Orchestrator) HandleBucket(ctx context.Context, bucket events.Bucket, evs []events.Event) error {
	batcher := NewBatcher(o.store, o.logger)
	logger := logging.WithContext(ctx, o.logger)
	logger.Debug("bucket started", logging.String("bucket", bucket.String()), logging.Int("events", len(evs)))

	for _, ev := range evs {
		if ctx.Err() != nil {
			break
		}
		if ev.Item == nil || strings.TrimSpace(ev.Item.Name) == "" {
			logger.Debug("skipping event without item name", logging.String(logging.FieldItemID, ev.ItemID()))
			continue
		}
		o.runItem(ctx, bucket, ev, batcher)
	}

	// Identifiers already resolved are worth persisting even during shutdown.
	batcher.Flush(context.WithoutCancel(ctx))
	return ctx.Err()
}

func (o *Orchestrator) runItem(ctx context.Context, bucket events.Bucket, ev events.Event, b *Batcher) {
	itemCtx := services.WithItemID(ctx, ev.Item.ID)
	logger := logging.WithContext(itemCtx, o.logger).With(
		logging.String("item_name", ev.Item.Name),
		logging.String("event", ev.Type.String()),
	)
	defer func() {
		if r := recover(); r != nil {
			o.failures.Add(1)
			logging.ErrorWithContext(logger, "item processing panicked", "item_panic",
				logging.Any("panic", r),
				logging.String(logging.FieldErrorHint, "report this item; later items continue"),
			)
		}
	}()

	var err error
	switch bucket {
	case events.BucketMovieAdd, events.BucketMovieUpdate, events.BucketMovieForce:
		err = o.processMovie(itemCtx, logger, ev, b)
	case events.BucketShowAdd, events.BucketShowUpdate:
		err = o.processShow(itemCtx, logger, ev)
	case events.BucketSeasonAdd, events.BucketSeasonUpdate:
		err = o.processSeason(itemCtx, logger, ev, b)
	case events.BucketEpisodeAdd, events.BucketEpisodeUpdate, events.BucketEpisodeForce:
		err = o.processEpisode(itemCtx, logger, ev, b)
	default:
		logger.Warn("unknown bucket", logging.String("bucket", bucket.String()))
		return
	}
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	o.reportFailure(itemCtx, logger, ev.Item, err)
}

func (o *Orchestrator) reportFailure(ctx context.Context, logger *slog.Logger, item *library.Item, err error) {
	if !provider.IsRateLimited(err) {
		o.failures.Add(1)
		logging.ErrorWithContext(logger, "item processing failed", "item_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the next notification or a manual refresh retries this item"),
		)
		return
	}

	o.throttled.Add(1)
	name := "unknown"
	attrs := []logging.Attr{logging.Error(err)}
	var rl *provider.RateLimitError
	if errors.As(err, &rl) {
		name = rl.Provider
		if rl.RetryAfter > 0 {
			attrs = append(attrs, logging.Duration("retry_after", rl.RetryAfter))
		}
	}
	attrs = append(attrs,
		logging.String(logging.FieldProvider, name),
		logging.String(logging.FieldImpact, "remaining providers skipped for this item"),
		logging.String(logging.FieldErrorHint, "wait before refreshing; the next batch retries"),
	)
	logging.WarnWithContext(logger, "provider throttled", "provider_throttled", attrs...)
	if nerr := o.notifier.NotifyThrottled(ctx, name, item.Name); nerr != nil {
		logger.Debug("throttle notification failed", logging.Error(nerr))
	}
}

// explicitProvider resolves the provider named by a manual refresh.
func (o *Orchestrator) explicitProvider(ev events.Event) (provider.Provider, error) {
	if strings.TrimSpace(ev.ProviderID) == "" {
		return nil, nil
	}
	return o.chain.Resolve(ev.ProviderID)
}

// artifactCurrent reports whether a non-refresh event can keep the stored
// document for item.
func (o *Orchestrator) artifactCurrent(logger *slog.Logger, ev events.Event, item *library.Item, p provider.Provider) bool {
	if ev.Refresh || !o.artifacts.Exists(item, p.Key()) {
		return false
	}
	o.skipped.Add(1)
	logger.Info("comment document already stored",
		logging.Args(append(logging.DecisionAttrs("download", "skipped", "artifact exists and refresh not requested"),
			logging.String(logging.FieldItemID, item.ID),
			logging.String(logging.FieldProvider, p.Name()))...)...)
	return true
}

// regularEpisodes drops specials and extras (no positive season number).
func regularEpisodes(items []*library.Item) []*library.Item {
	out := make([]*library.Item, 0, len(items))
	for _, item := range items {
		if item.ParentIndexNumber > 0 {
			out = append(out, item)
		}
	}
	return out
}

type nopNotifier struct{}

func (nopNotifier) NotifyDownloaded(context.Context, string, string, int) error { return nil }
func (nopNotifier) NotifyThrottled(context.Context, string, string) error       { return nil }
