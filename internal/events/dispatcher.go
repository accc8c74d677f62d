package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"danmu/internal/logging"
	"danmu/internal/services"
)

// Handler processes one bucket of a batch.
type Handler interface {
	HandleBucket(ctx context.Context, bucket Bucket, events []Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, bucket Bucket, events []Event) error

func (f HandlerFunc) HandleBucket(ctx context.Context, bucket Bucket, events []Event) error {
	return f(ctx, bucket, events)
}

// Dispatcher classifies a batch and runs its buckets strictly in Order.
type Dispatcher struct {
	classifier *Classifier
	handler    Handler
	logger     *slog.Logger
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(classifier *Classifier, handler Handler, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		classifier: classifier,
		handler:    handler,
		logger:     logging.NewComponentLogger(logger, "dispatcher"),
	}
}

// Dispatch is a BatchFunc. A failing or panicking bucket is logged and the
// remaining buckets still run.
func (d *Dispatcher) Dispatch(ctx context.Context, batch []Event) {
	buckets := d.classifier.Classify(ctx, batch)
	logger := logging.WithContext(ctx, d.logger)
	logger.Debug("batch classified",
		logging.Int("events", len(batch)),
		logging.Int("jobs", buckets.Len()),
	)
	for _, bucket := range Order {
		evs := buckets[bucket]
		if len(evs) == 0 {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		d.runBucket(services.WithStage(ctx, bucket.String()), logger, bucket, evs)
	}
}

func (d *Dispatcher) runBucket(ctx context.Context, logger *slog.Logger, bucket Bucket, evs []Event) {
	start := time.Now()
	logger = logger.With(logging.String(logging.FieldStage, bucket.String()))
	defer func() {
		if r := recover(); r != nil {
			logging.ErrorWithContext(logger, "bucket panicked", "bucket_failed",
				logging.String("panic", fmt.Sprint(r)),
				logging.String(logging.FieldErrorHint, "report this failure with the surrounding logs"),
			)
		}
	}()
	if err := d.handler.HandleBucket(ctx, bucket, evs); err != nil {
		logging.ErrorWithContext(logger, "bucket failed", "bucket_failed",
			logging.Error(err),
			logging.Int("events", len(evs)),
		)
		return
	}
	logger.Debug("bucket complete", logging.Int("events", len(evs)), logging.Duration("duration", time.Since(start)))
}
