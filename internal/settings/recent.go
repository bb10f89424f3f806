package settings

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"listenmode/internal/coordinator"
	"listenmode/internal/decision"
)

// RecentChannel is a channel seen on a watched page.
type RecentChannel struct {
	Name     string    `json:"name"`
	LastSeen time.Time `json:"last_seen"`
	Action   string    `json:"action"`
	Reason   string    `json:"reason"`
	Hits     int       `json:"hits"`
}

// Recent remembers the most recently resolved channels so a user can add
// one to a list without typing it.
type Recent struct {
	mu        sync.Mutex
	cache     *lru.Cache[string, RecentChannel]
	evictions uint64
}

// NewRecent returns a cache holding up to size channels. size <= 0 means 50.
func NewRecent(size int) (*Recent, error) {
	if size <= 0 {
		size = 50
	}
	r := &Recent{}
	cache, err := lru.NewWithEvict(size, func(string, RecentChannel) {
		atomic.AddUint64(&r.evictions, 1)
	})
	if err != nil {
		return nil, err
	}
	r.cache = cache
	return r, nil
}

// Observe records resolved channels from coordinator outcomes.
func (r *Recent) Observe(_ context.Context, o coordinator.Outcome) {
	if o.Channel == "" {
		return
	}
	key := decision.Normalize(o.Channel)
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, _ := r.cache.Get(key)
	entry.Name = o.Channel
	entry.LastSeen = o.At
	entry.Action = o.Action
	entry.Reason = o.Reason
	entry.Hits++
	r.cache.Add(key, entry)
}

// List returns channels newest first.
func (r *Recent) List() []RecentChannel {
	keys := r.cache.Keys()
	out := make([]RecentChannel, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		if v, ok := r.cache.Peek(keys[i]); ok {
			out = append(out, v)
		}
	}
	return out
}

func (r *Recent) Len() int          { return r.cache.Len() }
func (r *Recent) Evictions() uint64 { return atomic.LoadUint64(&r.evictions) }
