package events

import (
	"context"
	"log/slog"

	"danmu/internal/library"
	"danmu/internal/logging"
	"danmu/internal/services"
)

// Bucket groups events that share one processing routine.
type Bucket int

const (
	BucketMovieAdd Bucket = iota
	BucketMovieUpdate
	BucketShowAdd
	BucketSeasonAdd
	BucketEpisodeAdd
	BucketShowUpdate
	BucketSeasonUpdate
	BucketEpisodeUpdate
	BucketMovieForce
	BucketEpisodeForce
)

// Order is the fixed processing order of buckets within one batch.
var Order = []Bucket{
	BucketMovieAdd,
	BucketMovieUpdate,
	BucketShowAdd,
	BucketSeasonAdd,
	BucketEpisodeAdd,
	BucketShowUpdate,
	BucketSeasonUpdate,
	BucketEpisodeUpdate,
	BucketMovieForce,
	BucketEpisodeForce,
}

func (b Bucket) String() string {
	switch b {
	case BucketMovieAdd:
		return "movie_add"
	case BucketMovieUpdate:
		return "movie_update"
	case BucketShowAdd:
		return "show_add"
	case BucketSeasonAdd:
		return "season_add"
	case BucketEpisodeAdd:
		return "episode_add"
	case BucketShowUpdate:
		return "show_update"
	case BucketSeasonUpdate:
		return "season_update"
	case BucketEpisodeUpdate:
		return "episode_update"
	case BucketMovieForce:
		return "movie_force"
	case BucketEpisodeForce:
		return "episode_force"
	default:
		return "unknown"
	}
}

// Buckets is a classified batch.
type Buckets map[Bucket][]Event

// Len returns the total number of events across buckets.
func (b Buckets) Len() int {
	total := 0
	for _, evs := range b {
		total += len(evs)
	}
	return total
}

// Classifier routes events to buckets, dropping items whose library has
// acquisition disabled and pairing Adds with Updates via the correlator.
type Classifier struct {
	store      library.Store
	correlator *Correlator
	logger     *slog.Logger
}

// NewClassifier constructs a classifier.
func NewClassifier(store library.Store, correlator *Correlator, logger *slog.Logger) *Classifier {
	return &Classifier{
		store:      store,
		correlator: correlator,
		logger:     logging.NewComponentLogger(logger, "classifier"),
	}
}

// Classify partitions events. Add events for movies, seasons and episodes are
// held and produce no work until released by an Update.
func (c *Classifier) Classify(ctx context.Context, batch []Event) Buckets {
	out := make(Buckets)
	disabled := make(map[string]bool)
	logger := logging.WithContext(ctx, c.logger)

	for _, ev := range batch {
		if ev.Item == nil {
			continue
		}
		if c.libraryDisabled(ctx, logger, ev.Item, disabled) {
			logger.Debug("library disabled; dropping event",
				logging.Args(append(logging.DecisionAttrs("library_filter", "dropped", "library disabled"),
					logging.String(logging.FieldItemID, ev.Item.ID))...)...)
			continue
		}
		r, ok := c.route(ev)
		if !ok {
			continue
		}
		out[r.b] = append(out[r.b], r.ev)
	}
	return out
}

type routed struct {
	b  Bucket
	ev Event
}

func (c *Classifier) route(ev Event) (routed, bool) {
	kind := ev.Item.Kind
	switch kind {
	case library.KindSeries:
		switch ev.Type {
		case TypeAdd:
			return routed{BucketShowAdd, ev}, true
		case TypeUpdate:
			return routed{BucketShowUpdate, ev}, true
		}
		return routed{}, false
	case library.KindMovie, library.KindSeason, library.KindEpisode:
	default:
		return routed{}, false
	}

	switch ev.Type {
	case TypeAdd:
		c.correlator.Hold(ev)
		return routed{}, false
	case TypeUpdate:
		pending, ok := c.correlator.Release(ev.Item.ID)
		if !ok {
			return routed{}, false
		}
		// The released Add keeps its own flags; the fresher item wins.
		pending.Item = ev.Item
		return routed{addBucket(kind), pending}, true
	case TypeForce:
		switch kind {
		case library.KindMovie:
			return routed{BucketMovieForce, ev}, true
		case library.KindSeason:
			return routed{BucketSeasonUpdate, ev}, true
		case library.KindEpisode:
			return routed{BucketEpisodeForce, ev}, true
		}
	}
	return routed{}, false
}

func addBucket(kind library.Kind) Bucket {
	switch kind {
	case library.KindMovie:
		return BucketMovieAdd
	case library.KindSeason:
		return BucketSeasonAdd
	default:
		return BucketEpisodeAdd
	}
}

func (c *Classifier) libraryDisabled(ctx context.Context, logger *slog.Logger, item *library.Item, cache map[string]bool) bool {
	if c.store == nil {
		return false
	}
	if disabled, ok := cache[item.ID]; ok {
		return disabled
	}
	opts, err := c.store.LibraryOptions(services.WithItemID(ctx, item.ID), item)
	if err != nil {
		logging.WarnWithContext(logger, "library options lookup failed; keeping item", "library_options_failed",
			logging.String(logging.FieldItemID, item.ID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "item processed without library filter"),
			logging.String(logging.FieldErrorHint, "check library store connectivity"),
		)
		return false
	}
	cache[item.ID] = opts.Disabled
	return opts.Disabled
}
