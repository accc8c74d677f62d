package acquire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"danmu/internal/events"
	"danmu/internal/library"
	"danmu/internal/logging"
	"danmu/internal/matching"
	"danmu/internal/provider"
)

func (o *Orchestrator) processMovie(ctx context.Context, logger *slog.Logger, ev events.Event, b *Batcher) error {
	item := ev.Item.Clone()
	if ev.Type == events.TypeAdd {
		fresh, err := o.store.GetItem(ctx, item.ID)
		if err != nil {
			if errors.Is(err, library.ErrNotFound) {
				logger.Info("movie no longer in library",
					logging.Args(logging.DecisionAttrs("movie_reload", "skipped", "item not found")...)...)
				return nil
			}
			return fmt.Errorf("reload movie: %w", err)
		}
		item = fresh
	}
	b.Overlay(item)

	only, err := o.explicitProvider(ev)
	if err != nil {
		return err
	}
	req := matching.Request{
		Item:        item,
		ProviderID:  ev.ProviderID,
		ID:          ev.ID,
		Force:       ev.Force,
		AllowSearch: true,
		Only:        only,
	}
	result, err := o.chain.Run(ctx, req, func(ctx context.Context, p provider.Provider, id string, step matching.Step) (bool, error) {
		if o.artifactCurrent(logger, ev, item, p) {
			b.Queue(item, p.Key(), id)
			return true, nil
		}

		// A movie is its own single episode. A searched id names the media, so
		// link its episode id where there is one; stored ids go to GetEpisode.
		var commentID, linkID string
		if step == matching.StepSearch {
			media, err := p.GetMedia(ctx, item, id)
			if err != nil {
				return false, err
			}
			if media == nil {
				logger.Info("search match has no media", logging.String(logging.FieldProvider, p.Name()), logging.String("provider_item_id", id))
				return false, nil
			}
			commentID, linkID = media.CommentID, media.ID
			if len(media.Episodes) > 0 && media.Episodes[0].ID != "" {
				linkID = media.Episodes[0].ID
			}
		} else {
			episode, err := p.GetEpisode(ctx, item, id)
			if err != nil {
				return false, err
			}
			if episode == nil {
				logger.Info("provider id resolved to nothing", logging.String(logging.FieldProvider, p.Name()), logging.String("provider_item_id", id))
				return false, nil
			}
			commentID, linkID = episode.CommentID, id
		}
		if linkID == "" {
			linkID = id
		}

		ok, err := o.download(ctx, logger, p, item, commentID)
		if ok {
			b.Queue(item, p.Key(), linkID)
		}
		return ok, err
	})
	if err != nil {
		return err
	}
	if result == nil {
		logger.Info("no provider matched movie",
			logging.Args(logging.DecisionAttrs("movie_match", "no_match", "every provider exhausted")...)...)
		return nil
	}
	logger.Info("movie matched",
		logging.String(logging.FieldProvider, result.Provider.Name()),
		logging.String("provider_item_id", result.ID),
		logging.String("step", result.Step.String()),
	)
	return nil
}
