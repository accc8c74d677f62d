package library

import (
	"context"
	"errors"
	"maps"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when the store has no item with the requested id.
var ErrNotFound = errors.New("library item not found")

// Kind tags the entity an Item represents.
type Kind int

const (
	KindUnknown Kind = iota
	KindMovie
	KindSeries
	KindSeason
	KindEpisode
)

func (k Kind) String() string {
	switch k {
	case KindMovie:
		return "Movie"
	case KindSeries:
		return "Series"
	case KindSeason:
		return "Season"
	case KindEpisode:
		return "Episode"
	default:
		return "Unknown"
	}
}

// ParseKind maps Jellyfin item type names (case-insensitive) to a Kind.
func ParseKind(value string) Kind {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "movie":
		return KindMovie
	case "series", "show":
		return KindSeries
	case "season":
		return KindSeason
	case "episode":
		return KindEpisode
	default:
		return KindUnknown
	}
}

// Item is a media library entry. Year, IndexNumber and ParentIndexNumber use 0
// for unknown. Provider identifiers are keyed by provider key (e.g. "TencentID").
type Item struct {
	ID                string
	Kind              Kind
	Name              string
	Year              int
	IndexNumber       int
	ParentIndexNumber int
	SeriesID          string
	SeasonID          string
	SeriesName        string
	Path              string
	LibraryName       string
	Virtual           bool
	ProviderIDs       map[string]string
}

// ProviderID returns the stored external identifier for key, or "".
func (i *Item) ProviderID(key string) string {
	if i == nil || i.ProviderIDs == nil {
		return ""
	}
	return i.ProviderIDs[key]
}

// SetProviderID records an external identifier. Empty values are ignored.
func (i *Item) SetProviderID(key, value string) {
	if i == nil || key == "" || value == "" {
		return
	}
	if i.ProviderIDs == nil {
		i.ProviderIDs = make(map[string]string)
	}
	i.ProviderIDs[key] = value
}

// Clone returns a deep copy so callers can mutate without touching the store's instance.
func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	clone := *i
	clone.ProviderIDs = maps.Clone(i.ProviderIDs)
	return &clone
}

// ArtifactBase returns the directory and file stem artifacts are written under.
// Items without a media path (seasons, series) have no artifact location.
func (i *Item) ArtifactBase() (dir, stem string, ok bool) {
	if i == nil || strings.TrimSpace(i.Path) == "" {
		return "", "", false
	}
	dir = filepath.Dir(i.Path)
	base := filepath.Base(i.Path)
	stem = strings.TrimSuffix(base, filepath.Ext(base))
	return dir, stem, stem != ""
}

// Options is the per-library configuration relevant to comment acquisition.
type Options struct {
	Name     string
	Disabled bool
}

// Store is the owning media library. The pipeline treats it as the source of
// truth and re-reads items before every mutation.
type Store interface {
	GetItem(ctx context.Context, id string) (*Item, error)
	LibraryOptions(ctx context.Context, item *Item) (Options, error)
	// Children lists the direct children of parentID with the given kind,
	// ordered by index number.
	Children(ctx context.Context, parentID string, kind Kind) ([]*Item, error)
	// Commit persists metadata (provider ids) only.
	Commit(ctx context.Context, item *Item) error
}

// Upserter is implemented by stores that accept items pushed by the
// notification source.
type Upserter interface {
	Upsert(ctx context.Context, item *Item) error
}
