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
	"danmu/internal/services"
)

func (o *Orchestrator) processShow(ctx context.Context, logger *slog.Logger, ev events.Event) error {
	if ev.Type != events.TypeUpdate {
		logger.Info("series added",
			logging.Args(logging.DecisionAttrs("show_add", "logged", "series adds carry no work")...)...)
		return nil
	}
	seasons, err := o.store.Children(ctx, ev.Item.ID, library.KindSeason)
	if err != nil {
		return fmt.Errorf("list seasons: %w", err)
	}
	if o.queue == nil {
		return nil
	}
	// Season saves raise no notification of their own; these updates release
	// any pending season add in the next batch.
	for _, season := range seasons {
		o.queue.Enqueue(events.Event{Item: season, Type: events.TypeUpdate})
	}
	logger.Info("series update fanned out to seasons", logging.Int("seasons", len(seasons)))
	return nil
}

func (o *Orchestrator) processSeason(ctx context.Context, logger *slog.Logger, ev events.Event, b *Batcher) error {
	season := ev.Item
	fresh, err := o.store.GetItem(ctx, season.ID)
	switch {
	case err == nil:
		season = fresh
	case errors.Is(err, library.ErrNotFound):
		logger.Info("season no longer in library",
			logging.Args(logging.DecisionAttrs("season_reload", "skipped", "item not found")...)...)
		return nil
	}
	b.Overlay(season)

	children, err := o.store.Children(ctx, season.ID, library.KindEpisode)
	if err != nil {
		return fmt.Errorf("list episodes: %w", err)
	}
	episodes := regularEpisodes(children)
	if specials := len(children) - len(episodes); specials > 0 {
		logger.Info("excluding specials and extras", logging.Int("excluded", specials))
	}
	for _, ep := range episodes {
		b.Overlay(ep)
	}

	only, err := o.explicitProvider(ev)
	if err != nil {
		return err
	}
	req := matching.Request{
		Item:        season,
		ProviderID:  ev.ProviderID,
		ID:          ev.ID,
		Force:       ev.Force,
		AllowSearch: ev.Force || ev.Type == events.TypeAdd,
		Only:        only,
	}
	if req.AllowSearch {
		req.SearchItem = o.seasonSearchItem(ctx, season)
	}

	result, err := o.chain.Run(ctx, req, func(ctx context.Context, p provider.Provider, id string, step matching.Step) (bool, error) {
		media, err := p.GetMedia(ctx, season, id)
		if err != nil {
			return false, err
		}
		if media == nil {
			logger.Info("season id resolved to nothing", logging.String(logging.FieldProvider, p.Name()), logging.String("provider_item_id", id))
			return false, nil
		}
		if !o.episodeCountMatches(logger, p, media, len(episodes)) {
			return false, nil
		}
		if season.ProviderID(p.Key()) == "" {
			b.Queue(season, p.Key(), id)
		}
		return true, o.applySeason(ctx, logger, ev, p, media, episodes, b)
	})
	if err != nil {
		return err
	}
	if result == nil {
		logger.Info("no provider matched season",
			logging.Args(append(logging.DecisionAttrs("season_match", "no_match", "every provider exhausted"),
				logging.Bool("search_allowed", req.AllowSearch))...)...)
		return nil
	}
	logger.Info("season matched",
		logging.String(logging.FieldProvider, result.Provider.Name()),
		logging.String("provider_item_id", result.ID),
		logging.String("step", result.Step.String()),
		logging.Int("episodes", len(episodes)),
	)
	return nil
}

// applySeason aligns every regular episode against media. Add events only
// link identifiers. A rate-limit error stops the season; other download
// failures are logged per episode.
func (o *Orchestrator) applySeason(ctx context.Context, logger *slog.Logger, ev events.Event, p provider.Provider, media *provider.Media, episodes []*library.Item, b *Batcher) error {
	key := p.Key()
	for _, ep := range episodes {
		epLogger := logger.With(logging.String("episode_id", ep.ID), logging.Int("index", ep.IndexNumber))
		match, ok := matching.AlignEpisode(media, ep.IndexNumber)
		if !ok {
			epLogger.Info("episode not aligned",
				logging.Args(append(logging.DecisionAttrs("episode_align", "no_match", "index outside provider episode list"),
					logging.Int("provider_episodes", len(media.Episodes)))...)...)
			continue
		}
		if ev.Type == events.TypeAdd {
			b.Queue(ep, key, match.ID)
			continue
		}
		if o.artifactCurrent(epLogger, ev, ep, p) {
			b.Queue(ep, key, match.ID)
			continue
		}

		done, err := o.download(services.WithItemID(ctx, ep.ID), epLogger, p, ep, match.CommentID)
		if err != nil {
			if provider.IsRateLimited(err) {
				return err
			}
			o.failures.Add(1)
			logging.WarnWithContext(epLogger, "episode download failed", "episode_download_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "episode left without comments"),
				logging.String(logging.FieldErrorHint, "refresh the episode once the provider recovers"),
			)
			continue
		}
		if done {
			b.Queue(ep, key, match.ID)
		}
	}
	return nil
}

func (o *Orchestrator) episodeCountMatches(logger *slog.Logger, p provider.Provider, media *provider.Media, local int) bool {
	if !o.opts.EpisodeCountSame || len(media.Episodes) == local {
		return true
	}
	logger.Info("episode counts differ",
		logging.Args(append(logging.DecisionAttrs("episode_count", "rejected", "provider and local episode counts differ"),
			logging.String(logging.FieldProvider, p.Name()),
			logging.Int("provider_episodes", len(media.Episodes)),
			logging.Int("local_episodes", local))...)...)
	return false
}

// seasonSearchItem builds the query used to search a freshly read season:
// the series name with the season's own year.
func (o *Orchestrator) seasonSearchItem(ctx context.Context, season *library.Item) *library.Item {
	query := season.Clone()
	name := query.SeriesName
	if name == "" && query.SeriesID != "" {
		if series, err := o.store.GetItem(ctx, query.SeriesID); err == nil {
			name = series.Name
		}
	}
	if name != "" {
		query.Name = name
	}
	return query
}
