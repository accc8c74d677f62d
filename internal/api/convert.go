package api

import (
	"time"

	"danmu/internal/acquire"
	"danmu/internal/events"
	"danmu/internal/provider"
	"danmu/internal/search"
)

// FromProviders converts providers in their given order.
func FromProviders(providers []provider.Provider) []ProviderInfo {
	out := make([]ProviderInfo, 0, len(providers))
	for _, p := range providers {
		out = append(out, ProviderInfo{Name: p.Name(), Key: p.Key()})
	}
	return out
}

// FromStats converts orchestrator counters.
func FromStats(stats acquire.Stats, batches int64) AcquireStats {
	return AcquireStats{
		Downloads: stats.Downloads,
		Skipped:   stats.Skipped,
		Failures:  stats.Failures,
		Throttled: stats.Throttled,
		Batches:   batches,
	}
}

// FromRefreshEvent converts a queued force event.
func FromRefreshEvent(ev events.Event) RefreshResponse {
	resp := RefreshResponse{
		ItemID:     ev.ItemID(),
		ProviderID: ev.ProviderID,
		ID:         ev.ID,
		All:        ev.All,
	}
	if ev.Item != nil {
		resp.Kind = ev.Item.Kind.String()
	}
	return resp
}

// FromSearchResponse converts a search outcome. A nil response yields an
// empty result list.
func FromSearchResponse(resp *search.Response) SearchResponse {
	out := SearchResponse{Results: []SearchResult{}}
	if resp == nil {
		return out
	}
	out.Keyword = resp.Keyword
	for _, r := range resp.Results {
		out.Results = append(out.Results, SearchResult{
			Provider:     r.Provider,
			Key:          r.Key,
			ID:           r.ID,
			Name:         r.Name,
			Category:     r.Category,
			Year:         r.Year,
			EpisodeCount: r.EpisodeCount,
			Score:        r.Score,
			Distance:     r.Distance,
			Accepted:     r.Accepted,
			Reason:       r.Reason,
		})
	}
	for _, f := range resp.Failures {
		out.Failures = append(out.Failures, SearchFailure{Provider: f.Provider, Error: f.Error, Throttled: f.Throttled})
	}
	return out
}

// FormatTime converts a time to RFC3339 or returns empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
