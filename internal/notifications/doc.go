// Package notifications pushes acquisition events to ntfy.
//
// NewService returns a no-op implementation when no topic is configured, so
// callers never need to check whether notifications are enabled. Individual
// event families can be muted through the notifications config section.
package notifications
