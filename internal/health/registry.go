package health

import (
	"sync"
	"time"
)

// Registry tracks the last-message wall-clock timestamp per named stream.
// Every inbound message touches its stream's entry; the watchdog sweep reads
// the table. Entries are reset only by process restart.
type Registry struct {
	mu       sync.RWMutex
	lastSeen map[string]time.Time
	now      func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
}

func (r *Registry) Touch(stream string) {
	r.mu.Lock()
	r.lastSeen[stream] = r.now()
	r.mu.Unlock()
}

func (r *Registry) LastSeen(stream string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.lastSeen[stream]
	return t, ok
}

// Stale returns the streams whose last message is older than threshold,
// with how long each has been silent.
func (r *Registry) Stale(threshold time.Duration) map[string]time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	stale := make(map[string]time.Duration)
	for stream, seen := range r.lastSeen {
		if silence := now.Sub(seen); silence > threshold {
			stale[stream] = silence
		}
	}
	return stale
}
