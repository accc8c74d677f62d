// Package api defines the wire-format types shared by the daemon HTTP server
// and the CLI client, plus the converters and the client itself.
//
// # Key Types
//
// DaemonStatus: running state, queue depth, pending adds, held download keys,
// acquisition counters and the provider order.
//
// Notification: the Jellyfin-webhook-shaped body accepted by /api/events.
// Field names follow the webhook plugin (PascalCase).
//
// RefreshRequest/RefreshResponse, SearchResponse, ProvidersResponse: the
// manual refresh, search and provider listing payloads.
//
// # Design Notes
//
// DTOs other than Notification use camelCase JSON tags. Timestamps use
// RFC3339 with milliseconds. Errors are returned as {"error": "..."} with the
// HTTP status mapped from services markers.
package api
