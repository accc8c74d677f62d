package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"danmu/internal/logging"
	"danmu/internal/services"
)

// DefaultDebounce is the trailing quiet period before a batch is drained.
const DefaultDebounce = 10 * time.Second

// BatchFunc processes one drained batch.
type BatchFunc func(ctx context.Context, batch []Event)

// Queue coalesces events behind a trailing debounce. Every Enqueue restarts
// the timer; when it fires the buffer is swapped out and processed on the
// queue goroutine, one batch at a time.
type Queue struct {
	delay   time.Duration
	process BatchFunc
	logger  *slog.Logger

	mu      sync.Mutex
	buffer  []Event
	running bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	signal chan struct{}
}

// NewQueue constructs a queue. Non-positive delay uses DefaultDebounce.
func NewQueue(delay time.Duration, process BatchFunc, logger *slog.Logger) *Queue {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Queue{
		delay:   delay,
		process: process,
		logger:  logging.NewComponentLogger(logger, "queue"),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue appends an event and restarts the debounce window. Events without
// an item, and events arriving after Stop, are dropped.
func (q *Queue) Enqueue(ev Event) {
	if ev.Item == nil {
		return
	}
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		logging.WarnWithContext(q.logger, "queue stopped; dropping event", "event_dropped",
			logging.String(logging.FieldItemID, ev.Item.ID),
			logging.String("type", ev.Type.String()),
			logging.String(logging.FieldImpact, "event will not be processed"),
			logging.String(logging.FieldErrorHint, "restart the daemon and refresh the item"),
		)
		return
	}
	q.buffer = append(q.buffer, ev)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Pending reports the number of buffered events.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buffer)
}

// Start launches the queue goroutine.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return errors.New("queue already running")
	}
	if q.stopped {
		q.mu.Unlock()
		return errors.New("queue stopped")
	}
	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.running = true
	q.wg.Add(1)
	q.mu.Unlock()

	go q.run(runCtx)
	return nil
}

// Stop terminates the goroutine and waits for an in-flight batch to return.
// Buffered events are discarded.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	if !q.running {
		q.mu.Unlock()
		return
	}
	cancel := q.cancel
	q.running = false
	q.cancel = nil
	q.mu.Unlock()

	cancel()
	q.wg.Wait()
}

func (q *Queue) run(ctx context.Context) {
	defer q.wg.Done()

	timer := time.NewTimer(q.delay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.signal:
			timer.Reset(q.delay)
		case <-timer.C:
			batch := q.drain()
			if len(batch) == 0 {
				continue
			}
			q.runBatch(ctx, batch)
		}
	}
}

func (q *Queue) drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	batch := q.buffer
	q.buffer = nil
	return batch
}

func (q *Queue) runBatch(ctx context.Context, batch []Event) {
	batchID := uuid.NewString()
	ctx = services.WithRequestID(ctx, batchID)
	logger := logging.WithContext(ctx, q.logger)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logging.ErrorWithContext(logger, "batch processing panicked", "batch_failed",
				logging.String("panic", fmt.Sprint(r)),
				logging.Int("events", len(batch)),
				logging.String(logging.FieldErrorHint, "report this failure with the surrounding logs"),
			)
		}
	}()

	logger.Info("processing batch", logging.Int("events", len(batch)))
	q.process(ctx, batch)
	logger.Info("batch complete", logging.Int("events", len(batch)), logging.Duration("duration", time.Since(start)))
}
