package service

import (
	"sync"
	"time"
)

// Dedup rejects a repeated request key seen within ttl. It is safe for
// concurrent use.
type Dedup struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

// NewDedup creates a Dedup. A non-positive ttl disables it.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{seen: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

// Claim records key and reports true, or reports false if key was claimed
// within ttl.
func (d *Dedup) Claim(key string) bool {
	if d == nil || d.ttl <= 0 {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if last, ok := d.seen[key]; ok && now.Sub(last) < d.ttl {
		return false
	}
	d.seen[key] = now
	return true
}

// Release forgets key, so a failed attempt can be retried at once.
func (d *Dedup) Release(key string) {
	if d == nil {
		return
	}
	d.mu.Lock()
	delete(d.seen, key)
	d.mu.Unlock()
}

// Cleanup drops expired keys.
func (d *Dedup) Cleanup() {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	for k, t := range d.seen {
		if now.Sub(t) >= d.ttl {
			delete(d.seen, k)
		}
	}
}
