package daemon

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"danmu/internal/api"
	"danmu/internal/events"
	"danmu/internal/library"
	"danmu/internal/logging"
	"danmu/internal/services"
)

const (
	notificationItemAdded   = "ItemAdded"
	notificationItemUpdated = "ItemUpdated"
)

// HandleNotification converts a library notification into a queued event.
// Notification types other than item added/updated are acknowledged and
// ignored.
func (d *Daemon) HandleNotification(ctx context.Context, n api.Notification) (api.NotificationResponse, error) {
	itemID := strings.TrimSpace(n.ItemID)
	resp := api.NotificationResponse{ItemID: itemID}
	if itemID == "" {
		return resp, services.Wrap(services.ErrValidation, "daemon", "parse notification", "ItemId is required", nil)
	}
	ctx = services.WithItemID(ctx, itemID)
	logger := logging.WithContext(ctx, d.logger)

	var typ events.Type
	switch {
	case strings.EqualFold(n.NotificationType, notificationItemAdded):
		typ = events.TypeAdd
	case strings.EqualFold(n.NotificationType, notificationItemUpdated):
		typ = events.TypeUpdate
	default:
		resp.Reason = "notification type ignored"
		logger.Debug("ignoring notification", logging.String("notification_type", n.NotificationType))
		return resp, nil
	}
	resp.Type = typ.String()

	item, err := d.loadNotifiedItem(ctx, itemID, n)
	if err != nil {
		return resp, err
	}
	if item.Kind == library.KindUnknown {
		resp.Reason = "unsupported item type"
		logger.Debug("ignoring notification",
			logging.Args(logging.DecisionAttrs("notification_filter", "dropped", resp.Reason)...)...)
		return resp, nil
	}
	if item.Virtual && item.Kind != library.KindSeason {
		resp.Reason = "virtual item"
		logger.Debug("ignoring notification",
			logging.Args(append(logging.DecisionAttrs("notification_filter", "dropped", resp.Reason),
				logging.String("kind", item.Kind.String()))...)...)
		return resp, nil
	}

	ev := events.Event{Item: item, Type: typ}
	if typ == events.TypeAdd {
		ev = events.New(item, typ)
	}
	d.queue.Enqueue(ev)
	resp.Queued = true
	logger.Debug("notification queued",
		logging.String("kind", item.Kind.String()),
		logging.String("type", typ.String()),
	)
	return resp, nil
}

// loadNotifiedItem reads the item from the store. Stores that accept upserts
// learn the item from a notification carrying its fields first.
func (d *Daemon) loadNotifiedItem(ctx context.Context, itemID string, n api.Notification) (*library.Item, error) {
	if upserter, ok := d.store.(library.Upserter); ok && strings.TrimSpace(n.Name) != "" {
		if kind := library.ParseKind(n.ItemType); kind != library.KindUnknown {
			if err := upserter.Upsert(ctx, itemFromNotification(itemID, kind, n)); err != nil {
				return nil, services.Wrap(services.ErrExternalTool, "daemon", "upsert item", "library store failed", err)
			}
		}
	}
	item, err := d.store.GetItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, library.ErrNotFound) {
			return nil, services.Wrap(services.ErrNotFound, "daemon", "load item", fmt.Sprintf("item %q not found", itemID), err)
		}
		return nil, services.Wrap(services.ErrExternalTool, "daemon", "load item", "library store failed", err)
	}
	return item, nil
}

func itemFromNotification(itemID string, kind library.Kind, n api.Notification) *library.Item {
	item := &library.Item{
		ID:                itemID,
		Kind:              kind,
		Name:              strings.TrimSpace(n.Name),
		Year:              n.Year,
		IndexNumber:       n.IndexNumber,
		ParentIndexNumber: n.ParentIndexNumber,
		SeriesID:          n.SeriesID,
		SeasonID:          n.SeasonID,
		SeriesName:        n.SeriesName,
		Path:              n.Path,
		LibraryName:       n.LibraryName,
		Virtual:           n.IsVirtual,
	}
	for key, value := range n.ProviderIDs {
		item.SetProviderID(key, value)
	}
	return item
}
