package events

import (
	"fmt"

	"danmu/internal/library"
)

// Type is the notification kind.
type Type int

const (
	TypeAdd Type = iota
	TypeUpdate
	TypeForce
)

func (t Type) String() string {
	switch t {
	case TypeAdd:
		return "add"
	case TypeUpdate:
		return "update"
	case TypeForce:
		return "force"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// Event is one library change. Item is never nil for queued events.
type Event struct {
	Item *library.Item
	Type Type
	// ProviderID and ID carry an explicit match from a manual refresh.
	// ProviderID may be a provider name or key.
	ProviderID string
	ID         string
	// Refresh re-downloads even when an artifact exists.
	Refresh bool
	// Force skips stored ids and re-matches.
	Force bool
	// All widens an episode refresh to its whole season.
	All bool
}

// New returns an event with Refresh set.
func New(item *library.Item, typ Type) Event {
	return Event{Item: item, Type: typ, Refresh: true}
}

// ItemID returns the item id or "".
func (e Event) ItemID() string {
	if e.Item == nil {
		return ""
	}
	return e.Item.ID
}

// Explicit reports whether the event names a provider and id.
func (e Event) Explicit() bool {
	return e.ProviderID != "" && e.ID != ""
}
