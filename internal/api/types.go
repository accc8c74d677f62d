package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// ProviderInfo names one registered provider.
type ProviderInfo struct {
	Name string `json:"name"`
	Key  string `json:"key"`
}

// AcquireStats mirrors the orchestrator counters.
type AcquireStats struct {
	Downloads int64 `json:"downloads"`
	Skipped   int64 `json:"skipped"`
	Failures  int64 `json:"failures"`
	Throttled int64 `json:"throttled"`
	Batches   int64 `json:"batches"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running        bool           `json:"running"`
	PID            int            `json:"pid"`
	StartedAt      string         `json:"startedAt,omitempty"`
	LockFilePath   string         `json:"lockFilePath"`
	LibraryBackend string         `json:"libraryBackend"`
	PendingEvents  int            `json:"pendingEvents"`
	PendingAdds    int            `json:"pendingAdds"`
	HeldDownloads  int            `json:"heldDownloads"`
	LastBatchAt    string         `json:"lastBatchAt,omitempty"`
	Stats          AcquireStats   `json:"stats"`
	Providers      []ProviderInfo `json:"providers"`
}

// ProvidersResponse lists providers in priority order.
type ProvidersResponse struct {
	Providers []ProviderInfo `json:"providers"`
}

// Notification is a library change notification in the Jellyfin webhook
// plugin's shape. Only NotificationType and ItemId are required; the
// remaining fields let a store that accepts upserts learn the item.
type Notification struct {
	NotificationType  string            `json:"NotificationType"`
	ItemID            string            `json:"ItemId"`
	ItemType          string            `json:"ItemType"`
	Name              string            `json:"Name,omitempty"`
	Year              int               `json:"Year,omitempty"`
	SeriesID          string            `json:"SeriesId,omitempty"`
	SeriesName        string            `json:"SeriesName,omitempty"`
	SeasonID          string            `json:"SeasonId,omitempty"`
	IndexNumber       int               `json:"IndexNumber,omitempty"`
	ParentIndexNumber int               `json:"ParentIndexNumber,omitempty"`
	Path              string            `json:"Path,omitempty"`
	LibraryName       string            `json:"LibraryName,omitempty"`
	IsVirtual         bool              `json:"IsVirtual,omitempty"`
	ProviderIDs       map[string]string `json:"ProviderIds,omitempty"`
}

// NotificationResponse reports what the daemon did with a notification.
type NotificationResponse struct {
	Queued bool   `json:"queued"`
	ItemID string `json:"itemId"`
	Type   string `json:"type,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// RefreshRequest asks for a forced re-acquisition. Token, when set, carries
// the other fields as base64 JSON and takes precedence.
type RefreshRequest struct {
	ItemID     string `json:"itemId,omitempty"`
	ProviderID string `json:"providerId,omitempty"`
	ID         string `json:"id,omitempty"`
	All        bool   `json:"all,omitempty"`
	Token      string `json:"token,omitempty"`
}

// RefreshResponse describes the queued force event.
type RefreshResponse struct {
	ItemID     string `json:"itemId"`
	Kind       string `json:"kind"`
	ProviderID string `json:"providerId,omitempty"`
	ID         string `json:"id,omitempty"`
	All        bool   `json:"all"`
}

// SearchResult is one ranked provider candidate.
type SearchResult struct {
	Provider     string  `json:"provider"`
	Key          string  `json:"key"`
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Category     string  `json:"category,omitempty"`
	Year         int     `json:"year,omitempty"`
	EpisodeCount int     `json:"episodeCount,omitempty"`
	Score        float64 `json:"score"`
	Distance     int     `json:"distance"`
	Accepted     bool    `json:"accepted"`
	Reason       string  `json:"reason,omitempty"`
}

// SearchFailure names a provider the search could not reach.
type SearchFailure struct {
	Provider  string `json:"provider"`
	Error     string `json:"error"`
	Throttled bool   `json:"throttled,omitempty"`
}

// SearchResponse is the merged result of a search.
type SearchResponse struct {
	Keyword  string          `json:"keyword"`
	Results  []SearchResult  `json:"results"`
	Failures []SearchFailure `json:"failures,omitempty"`
}

// TestNotificationResponse reports a test notification attempt.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
