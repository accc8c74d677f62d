package events

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// DefaultPendingAddTTL is how long an Add waits for its Update.
const DefaultPendingAddTTL = 30 * time.Minute

// Correlator pairs Add notifications with the Update that follows once the
// library has finished identifying the item. Unmatched Adds expire.
type Correlator struct {
	pending *ttlcache.Cache[string, Event]

	mu      sync.Mutex
	started bool
}

// NewCorrelator constructs a correlator. Non-positive ttl uses the default.
func NewCorrelator(ttl time.Duration) *Correlator {
	if ttl <= 0 {
		ttl = DefaultPendingAddTTL
	}
	return &Correlator{
		pending: ttlcache.New[string, Event](
			ttlcache.WithTTL[string, Event](ttl),
			ttlcache.WithDisableTouchOnHit[string, Event](),
		),
	}
}

// Hold records an Add keyed by item id, replacing any earlier one.
func (c *Correlator) Hold(ev Event) {
	if ev.Item == nil {
		return
	}
	c.pending.Set(ev.Item.ID, ev, ttlcache.DefaultTTL)
}

// Release removes and returns the pending Add for itemID.
func (c *Correlator) Release(itemID string) (Event, bool) {
	item, found := c.pending.GetAndDelete(itemID)
	if !found || item == nil || item.IsExpired() {
		return Event{}, false
	}
	return item.Value(), true
}

// Len reports the number of pending Adds.
func (c *Correlator) Len() int {
	c.pending.DeleteExpired()
	return c.pending.Len()
}

// Start runs expiry cleanup until Stop is called.
func (c *Correlator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	go c.pending.Start()
}

// Stop ends expiry cleanup. It is a no-op when cleanup was never started.
func (c *Correlator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}
	c.started = false
	c.pending.Stop()
}
