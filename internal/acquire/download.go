package acquire

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"danmu/internal/library"
	"danmu/internal/logging"
	"danmu/internal/provider"
)

// download fetches, validates and stores one comment set for item. ok reports
// that item now has a current document from p, either written here or by a
// download still inside the dedup window. Every path that does not store a
// document releases the dedup key.
func (o *Orchestrator) download(ctx context.Context, logger *slog.Logger, p provider.Provider, item *library.Item, commentID string) (ok bool, err error) {
	commentID = strings.TrimSpace(commentID)
	logger = logger.With(logging.String(logging.FieldProvider, p.Name()), logging.String("comment_id", commentID))
	if commentID == "" {
		logger.Info("no comment set to download",
			logging.Args(logging.DecisionAttrs("download", "skipped", "provider returned no comment id")...)...)
		return false, nil
	}

	key, claimed := o.guard.Claim(item.ID, commentID)
	if !claimed {
		o.skipped.Add(1)
		logger.Info("comment set downloaded recently",
			logging.Args(logging.DecisionAttrs("download_dedup", "skipped", "inside cooldown window")...)...)
		return true, nil
	}
	defer func() {
		if !ok {
			o.guard.Release(key)
		}
	}()

	payload, err := p.GetComments(ctx, commentID)
	if err != nil {
		return false, err
	}
	if payload.Len() == 0 {
		logger.Info("provider returned no comments",
			logging.Args(logging.DecisionAttrs("download", "skipped", "empty comment set")...)...)
		return false, nil
	}

	data, err := payload.MarshalXML()
	if err != nil {
		return false, fmt.Errorf("serialize comments: %w", err)
	}
	if len(data) < o.opts.MinPayloadBytes {
		logger.Info("comment document below size floor",
			logging.Args(append(logging.DecisionAttrs("payload_floor", "discarded", "document smaller than min_payload_bytes"),
				logging.Int("bytes", len(data)),
				logging.Int("min_bytes", o.opts.MinPayloadBytes))...)...)
		return false, nil
	}

	if err := o.artifacts.Write(ctx, item, p.Key(), payload, data); err != nil {
		return false, err
	}
	o.downloads.Add(1)
	logger.Info("comments downloaded",
		logging.String(logging.FieldEventType, "download_completed"),
		logging.Int("comments", payload.Len()),
		logging.Int("bytes", len(data)),
	)
	if nerr := o.notifier.NotifyDownloaded(ctx, item.Name, p.Name(), payload.Len()); nerr != nil {
		logger.Debug("download notification failed", logging.Error(nerr))
	}
	return true, nil
}
