// Package signaling relays WebRTC call signaling between peers and caches
// in-flight offers for callees that reconnect after missing the live relay.
package signaling

import (
	"encoding/json"
	"sync"
	"time"

	"chatcall_realtime/internal/clock"
)

// DefaultOfferTTL bounds how long a cached offer may be replayed.
const DefaultOfferTTL = 60 * time.Second

// OfferKey is the ordered (chat, caller, callee) triple of one call attempt.
type OfferKey struct {
	ChatID   int64
	CallerID int64
	CalleeID int64
}

// Reverse swaps caller and callee.
func (k OfferKey) Reverse() OfferKey {
	return OfferKey{ChatID: k.ChatID, CallerID: k.CalleeID, CalleeID: k.CallerID}
}

type PendingOffer struct {
	Key           OfferKey
	Offer         json.RawMessage
	CallerName    string
	CallType      string
	CallUUID      string
	CorrelationID string
	CreatedAt     time.Time
}

// OfferCache holds at most one live offer per key. Expired entries are never
// served and are evicted lazily on the next touch, or by Sweep.
type OfferCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   clock.Clock
	entries map[OfferKey]PendingOffer
}

func NewOfferCache(ttl time.Duration, clk clock.Clock) *OfferCache {
	if ttl <= 0 {
		ttl = DefaultOfferTTL
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &OfferCache{
		ttl:     ttl,
		clock:   clk,
		entries: make(map[OfferKey]PendingOffer),
	}
}

// Put stores the offer, replacing any previous entry for the same key.
// CreatedAt is stamped here.
func (c *OfferCache) Put(o PendingOffer) PendingOffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	o.CreatedAt = c.clock.Now()
	c.entries[o.Key] = o
	return o
}

// Get returns the live offer for key.
func (c *OfferCache) Get(key OfferKey) (PendingOffer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.entries[key]
	if !ok {
		return PendingOffer{}, false
	}
	if c.expired(o) {
		delete(c.entries, key)
		return PendingOffer{}, false
	}
	return o, true
}

// Delete clears key and reports whether a live entry was removed.
func (c *OfferCache) Delete(key OfferKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.entries[key]
	if !ok {
		return false
	}
	delete(c.entries, key)
	return !c.expired(o)
}

// DeletePair clears the offers between a and b in both directions.
func (c *OfferCache) DeletePair(chatID, a, b int64) int {
	k := OfferKey{ChatID: chatID, CallerID: a, CalleeID: b}
	n := 0
	if c.Delete(k) {
		n++
	}
	if c.Delete(k.Reverse()) {
		n++
	}
	return n
}

// Sweep evicts every expired entry and returns how many were dropped.
func (c *OfferCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, o := range c.entries {
		if c.expired(o) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Len counts stored entries, expired ones included.
func (c *OfferCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *OfferCache) expired(o PendingOffer) bool {
	return c.clock.Now().Sub(o.CreatedAt) > c.ttl
}
