// Package provider defines the video-site integration contract, the ordered
// registry the acquisition core iterates, and the throttling signal every
// integration reports.
//
// Integrations keep site-specific behavior (endpoints, caching, pacing)
// behind Provider. The core only relies on the types in this package.
package provider

import (
	"context"

	"danmu/internal/danmaku"
	"danmu/internal/library"
)

// Provider is one video-site comment source.
type Provider interface {
	// Name is the short lowercase identifier used in configuration.
	Name() string
	// Key is the provider-id key stored on library items, e.g. "TencentID".
	Key() string
	Search(ctx context.Context, item *library.Item) ([]Candidate, error)
	GetMedia(ctx context.Context, item *library.Item, id string) (*Media, error)
	GetEpisode(ctx context.Context, item *library.Item, id string) (*Episode, error)
	GetComments(ctx context.Context, commentID string) (*danmaku.Payload, error)
}

// Candidate is a search result.
type Candidate struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Category     string `json:"category,omitempty"`
	Year         int    `json:"year,omitempty"`
	EpisodeCount int    `json:"episode_count,omitempty"`
}

// Episode is one playable unit on the provider side.
type Episode struct {
	ID        string `json:"id"`
	CommentID string `json:"comment_id"`
	Title     string `json:"title,omitempty"`
}

// Media is a movie or a season on the provider side. Episodes are ordered so
// that position i corresponds to local episode index i+1.
type Media struct {
	ID        string    `json:"id"`
	CommentID string    `json:"comment_id,omitempty"`
	Episodes  []Episode `json:"episodes,omitempty"`
}
