// Package guard suppresses duplicate comment downloads.
//
// A download claims the key itemID_commentID before any network call. A
// second claim inside the cooldown window is refused. Failed downloads
// release their key so a retry is not blocked until expiry.
package guard

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// DefaultCooldown is the dedup window.
const DefaultCooldown = 5 * time.Minute

// Guard is an in-memory TTL set of in-flight or recently completed downloads.
type Guard struct {
	cache *ttlcache.Cache[string, bool]

	mu      sync.Mutex
	started bool
}

// New constructs a guard with the given cooldown. Non-positive values use
// DefaultCooldown.
func New(cooldown time.Duration) *Guard {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Guard{
		cache: ttlcache.New[string, bool](
			ttlcache.WithTTL[string, bool](cooldown),
			ttlcache.WithDisableTouchOnHit[string, bool](),
		),
	}
}

// Key builds the dedup key for one item and comment set.
func Key(itemID, commentID string) string {
	return itemID + "_" + commentID
}

// Claim atomically marks the key. It returns false when the key is already
// held.
func (g *Guard) Claim(itemID, commentID string) (string, bool) {
	key := Key(itemID, commentID)
	_, found := g.cache.GetOrSet(key, true)
	return key, !found
}

// Release rolls back a claim.
func (g *Guard) Release(key string) {
	g.cache.Delete(key)
}

// Held reports whether key is currently claimed.
func (g *Guard) Held(key string) bool {
	return g.cache.Get(key) != nil
}

// Len reports the number of live keys.
func (g *Guard) Len() int {
	g.cache.DeleteExpired()
	return g.cache.Len()
}

// Start runs expiry cleanup until Stop is called.
func (g *Guard) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return
	}
	g.started = true
	go g.cache.Start()
}

// Stop ends expiry cleanup. It is a no-op when cleanup was never started.
func (g *Guard) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.started {
		return
	}
	g.started = false
	g.cache.Stop()
}
