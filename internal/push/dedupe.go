package push

import (
	"sync"
	"time"

	"chatcall_realtime/internal/clock"
)

// DefaultDedupeWindow suppresses repeated call-end pushes.
const DefaultDedupeWindow = 5 * time.Second

// Deduper remembers keys for a window. Entries older than twice the window are
// evicted opportunistically on every Allow.
type Deduper struct {
	mu      sync.Mutex
	window  time.Duration
	clock   clock.Clock
	entries map[string]time.Time
}

func NewDeduper(window time.Duration, clk clock.Clock) *Deduper {
	if window <= 0 {
		window = DefaultDedupeWindow
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Deduper{window: window, clock: clk, entries: make(map[string]time.Time)}
}

// Allow reports whether key has not been seen within the window, and records it.
func (d *Deduper) Allow(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	d.evictLocked(now)

	if ts, ok := d.entries[key]; ok && now.Sub(ts) < d.window {
		return false
	}
	d.entries[key] = now
	return true
}

// Sweep runs eviction without recording anything.
func (d *Deduper) Sweep() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.evictLocked(d.clock.Now())
}

func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

func (d *Deduper) evictLocked(now time.Time) int {
	n := 0
	for k, ts := range d.entries {
		if now.Sub(ts) > 2*d.window {
			delete(d.entries, k)
			n++
		}
	}
	return n
}
