package acquire

import (
	"context"
	"log/slog"

	"danmu/internal/library"
	"danmu/internal/logging"
	"danmu/internal/services"
)

// Batcher collects provider identifier mutations and commits each touched
// item once.
type Batcher struct {
	store   library.Store
	logger  *slog.Logger
	order   []string
	pending map[string]map[string]string
}

// NewBatcher constructs an empty batcher.
func NewBatcher(store library.Store, logger *slog.Logger) *Batcher {
	return &Batcher{
		store:   store,
		logger:  logging.NewComponentLogger(logger, "batcher"),
		pending: make(map[string]map[string]string),
	}
}

// Queue records key=value for item and applies it to item in place. Empty
// values, and values the item already carries, are ignored.
func (b *Batcher) Queue(item *library.Item, key, value string) {
	if item == nil || item.ID == "" || key == "" || value == "" {
		return
	}
	if item.ProviderID(key) == value {
		return
	}
	item.SetProviderID(key, value)
	fields, ok := b.pending[item.ID]
	if !ok {
		fields = make(map[string]string)
		b.pending[item.ID] = fields
		b.order = append(b.order, item.ID)
	}
	fields[key] = value
}

// Overlay applies pending mutations to a freshly read item.
func (b *Batcher) Overlay(item *library.Item) {
	if item == nil {
		return
	}
	for key, value := range b.pending[item.ID] {
		item.SetProviderID(key, value)
	}
}

// Len reports the number of touched items.
func (b *Batcher) Len() int { return len(b.order) }

// Flush re-reads every touched item in first-touch order, merges the pending
// identifiers and commits it. Failures are logged and the flush continues.
// The batcher is empty afterwards. It returns the number of items committed.
func (b *Batcher) Flush(ctx context.Context) int {
	order, pending := b.order, b.pending
	b.order = nil
	b.pending = make(map[string]map[string]string)

	committed := 0
	for _, id := range order {
		itemCtx := services.WithItemID(ctx, id)
		logger := logging.WithContext(itemCtx, b.logger)

		item, err := b.store.GetItem(itemCtx, id)
		if err != nil {
			logging.WarnWithContext(logger, "reload before commit failed", "commit_reload_failed",
				logging.String(logging.FieldItemID, id),
				logging.Error(err),
				logging.String(logging.FieldImpact, "provider ids not persisted"),
				logging.String(logging.FieldErrorHint, "the next notification for this item will retry"),
			)
			continue
		}
		for key, value := range pending[id] {
			item.SetProviderID(key, value)
		}
		if err := b.store.Commit(itemCtx, item); err != nil {
			logging.ErrorWithContext(logger, "metadata commit failed", "commit_failed",
				logging.String(logging.FieldItemID, id),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check library store connectivity"),
			)
			continue
		}
		committed++
		logger.Debug("provider ids committed",
			logging.String(logging.FieldItemID, id),
			logging.Int("fields", len(pending[id])),
		)
	}
	if committed > 0 {
		b.logger.Info("metadata commit complete", logging.Int("items", committed))
	}
	return committed
}
