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

func (o *Orchestrator) processEpisode(ctx context.Context, logger *slog.Logger, ev events.Event, b *Batcher) error {
	// The event snapshot may predate ids committed by earlier buckets and may
	// lack the season back-reference.
	item := ev.Item
	fresh, err := o.store.GetItem(ctx, item.ID)
	switch {
	case err == nil:
		item = fresh
		ev.Item = fresh
	case errors.Is(err, library.ErrNotFound):
		logger.Info("episode no longer in library",
			logging.Args(logging.DecisionAttrs("episode_reload", "skipped", "item not found")...)...)
		return nil
	}
	if item.SeasonID == "" {
		logger.Info("episode has no season",
			logging.Args(logging.DecisionAttrs("episode_season", "skipped", "season back-reference missing")...)...)
		return nil
	}
	season, err := o.store.GetItem(ctx, item.SeasonID)
	if err != nil {
		if errors.Is(err, library.ErrNotFound) {
			logger.Info("episode season not in library",
				logging.Args(append(logging.DecisionAttrs("episode_season", "skipped", "season not found"),
					logging.String("season_id", item.SeasonID))...)...)
			return nil
		}
		return fmt.Errorf("load season: %w", err)
	}
	b.Overlay(item)
	b.Overlay(season)

	if ev.All {
		seasonEv := events.Event{
			Item:       season,
			Type:       ev.Type,
			ProviderID: ev.ProviderID,
			ID:         ev.ID,
			Refresh:    ev.Refresh,
			Force:      ev.Force,
			All:        ev.All,
		}
		return o.processSeason(ctx, logger.With(logging.String("season_id", season.ID)), seasonEv, b)
	}

	only, err := o.explicitProvider(ev)
	if err != nil {
		return err
	}
	run := &episodeRun{
		o:      o,
		ev:     ev,
		item:   item,
		season: season,
		batch:  b,
		logger: logger,
		tried:  make(map[string]bool),
	}

	if !ev.Force && !ev.Explicit() {
		done, err := run.storedPath(ctx, only)
		if err != nil || done {
			return err
		}
	}

	req := matching.Request{
		Item:        item,
		ProviderID:  ev.ProviderID,
		ID:          ev.ID,
		Force:       ev.Force,
		AllowSearch: true,
		SearchItem:  o.seasonSearchItem(ctx, season),
		Only:        only,
	}
	result, err := o.chain.Run(ctx, req, run.attempt)
	if err != nil {
		return err
	}
	if result == nil {
		logger.Info("no provider matched episode",
			logging.Args(logging.DecisionAttrs("episode_match", "no_match", "every provider exhausted")...)...)
		return nil
	}
	logger.Info("episode matched",
		logging.String(logging.FieldProvider, result.Provider.Name()),
		logging.String("provider_item_id", result.ID),
		logging.String("step", result.Step.String()),
	)
	return nil
}

// episodeRun carries one episode through its fallbacks. tried keeps the
// stored-id pass and the chain from repeating the same provider call.
type episodeRun struct {
	o      *Orchestrator
	ev     events.Event
	item   *library.Item
	season *library.Item
	batch  *Batcher
	logger *slog.Logger
	tried  map[string]bool

	localCount *int
}

// storedPath tries the episode's own stored id, then the parent season's
// stored id, each on the first provider that has one.
func (r *episodeRun) storedPath(ctx context.Context, only provider.Provider) (bool, error) {
	if p, id := r.pick(only, r.item); p != nil {
		ok, err := r.viaEpisode(ctx, p, id)
		if err != nil || ok {
			return ok, r.settle(p, err)
		}
	}
	if p, id := r.pick(only, r.season); p != nil {
		ok, err := r.viaSeason(ctx, p, id, false)
		if err != nil || ok {
			return ok, r.settle(p, err)
		}
	}
	return false, nil
}

// settle keeps rate limits fatal for the item and logs everything else.
func (r *episodeRun) settle(p provider.Provider, err error) error {
	if err == nil || provider.IsRateLimited(err) {
		return err
	}
	logging.WarnWithContext(r.logger, "stored id attempt failed", "provider_attempt_failed",
		logging.String(logging.FieldProvider, p.Name()),
		logging.Error(err),
		logging.String(logging.FieldImpact, "falling back to provider chain"),
	)
	return nil
}

func (r *episodeRun) pick(only provider.Provider, item *library.Item) (provider.Provider, string) {
	if only != nil {
		if id := item.ProviderID(only.Key()); id != "" {
			return only, id
		}
		return nil, ""
	}
	for _, p := range r.o.chain.Providers() {
		if id := item.ProviderID(p.Key()); id != "" {
			return p, id
		}
	}
	return nil, ""
}

func (r *episodeRun) attempt(ctx context.Context, p provider.Provider, id string, step matching.Step) (bool, error) {
	if step == matching.StepSearch {
		return r.viaSeason(ctx, p, id, true)
	}
	ok, err := r.viaEpisode(ctx, p, id)
	if err != nil || ok {
		return ok, err
	}
	return r.viaSeason(ctx, p, r.season.ProviderID(p.Key()), false)
}

// viaEpisode resolves an episode id directly.
func (r *episodeRun) viaEpisode(ctx context.Context, p provider.Provider, id string) (bool, error) {
	if id == "" || r.seen("episode", p, id) {
		return false, nil
	}
	if r.o.artifactCurrent(r.logger, r.ev, r.item, p) {
		r.batch.Queue(r.item, p.Key(), id)
		return true, nil
	}
	episode, err := p.GetEpisode(ctx, r.item, id)
	if err != nil {
		return false, err
	}
	if episode == nil {
		r.logger.Info("episode id resolved to nothing", logging.String(logging.FieldProvider, p.Name()), logging.String("provider_item_id", id))
		return false, nil
	}
	ok, err := r.o.download(ctx, r.logger, p, r.item, episode.CommentID)
	if ok {
		r.batch.Queue(r.item, p.Key(), id)
	}
	return ok, err
}

// viaSeason resolves the season media and aligns the episode by index.
// searched marks a media id found by a season search rather than stored.
func (r *episodeRun) viaSeason(ctx context.Context, p provider.Provider, mediaID string, searched bool) (bool, error) {
	if mediaID == "" || r.seen("season", p, mediaID) {
		return false, nil
	}
	media, err := p.GetMedia(ctx, r.season, mediaID)
	if err != nil {
		return false, err
	}
	if media == nil {
		r.logger.Info("season id resolved to nothing", logging.String(logging.FieldProvider, p.Name()), logging.String("provider_item_id", mediaID))
		return false, nil
	}
	if r.o.opts.EpisodeCountSame {
		local, err := r.regularCount(ctx)
		if err != nil {
			return false, err
		}
		if !r.o.episodeCountMatches(r.logger, p, media, local) {
			return false, nil
		}
	}
	match, ok := matching.AlignEpisode(media, r.item.IndexNumber)
	if !ok {
		r.logger.Info("episode not aligned",
			logging.Args(append(logging.DecisionAttrs("episode_align", "no_match", "index outside provider episode list"),
				logging.Int("index", r.item.IndexNumber),
				logging.Int("provider_episodes", len(media.Episodes)))...)...)
		return false, nil
	}

	done := r.o.artifactCurrent(r.logger, r.ev, r.item, p)
	if !done {
		done, err = r.o.download(ctx, r.logger, p, r.item, match.CommentID)
		if err != nil || !done {
			return false, err
		}
	}
	r.batch.Queue(r.item, p.Key(), match.ID)
	if r.season.ProviderID(p.Key()) == "" {
		r.batch.Queue(r.season, p.Key(), mediaID)
		if searched {
			r.logger.Info("season linked from episode search", logging.String(logging.FieldProvider, p.Name()), logging.String("season_id", r.season.ID))
		}
	}
	return true, nil
}

func (r *episodeRun) seen(kind string, p provider.Provider, id string) bool {
	key := kind + "|" + p.Key() + "|" + id
	if r.tried[key] {
		return true
	}
	r.tried[key] = true
	return false
}

func (r *episodeRun) regularCount(ctx context.Context) (int, error) {
	if r.localCount != nil {
		return *r.localCount, nil
	}
	children, err := r.o.store.Children(ctx, r.season.ID, library.KindEpisode)
	if err != nil {
		return 0, fmt.Errorf("list season episodes: %w", err)
	}
	n := len(regularEpisodes(children))
	r.localCount = &n
	return n, nil
}
