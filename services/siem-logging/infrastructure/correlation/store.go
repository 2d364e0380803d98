package correlation

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/isectech/security-logging/services/siem-logging/domain/entity"
	"github.com/isectech/security-logging/services/siem-logging/domain/repository"
)

const shardCount = 32

// Key identifies one correlation list
type Key struct {
	Subject  string
	Category entity.Category
	Action   string
}

// KeyFor returns the key an event is stored under
func KeyFor(ev *entity.SecurityEvent) Key {
	return Key{Subject: ev.Subject(), Category: ev.Category, Action: ev.Action}
}

func (k Key) shard() int {
	h := fnv.New32a()
	h.Write([]byte(k.Subject))
	h.Write([]byte{0})
	h.Write([]byte(k.Category))
	h.Write([]byte{0})
	h.Write([]byte(k.Action))
	return int(h.Sum32() % shardCount)
}

type shard struct {
	mu      sync.RWMutex
	entries map[Key][]*entity.SecurityEvent
}

// Store is a sharded in-memory index of recent events. It is a detection
// aid only; losing it on restart leaves a gap in correlation, nothing more.
type Store struct {
	shards [shardCount]*shard
	maxAge time.Duration
	now    func() time.Time
}

// NewStore creates a store that keeps events for maxAge, which should be
// the longest window of any rule
func NewStore(maxAge time.Duration, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	s := &Store{maxAge: maxAge, now: now}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[Key][]*entity.SecurityEvent)}
	}
	return s
}

var _ repository.CorrelationStore = (*Store)(nil)

// Append adds ev under its composite key
func (s *Store) Append(ev *entity.SecurityEvent) {
	if ev == nil {
		return
	}
	key := KeyFor(ev)
	sh := s.shards[key.shard()]

	sh.mu.Lock()
	sh.entries[key] = append(sh.entries[key], ev)
	sh.mu.Unlock()
}

// Query returns events matching q with a timestamp inside the window, in
// append order. Expired entries of the visited keys are trimmed.
func (s *Store) Query(q repository.CorrelationQuery) []*entity.SecurityEvent {
	now := q.Now
	if now.IsZero() {
		now = s.now()
	}
	since := now.Add(-q.Window)
	horizon := now.Add(-s.maxAge)

	if q.Subject != "" && q.Action != "" {
		key := Key{Subject: q.Subject, Category: q.Category, Action: q.Action}
		sh := s.shards[key.shard()]
		sh.mu.Lock()
		defer sh.mu.Unlock()
		return collect(sh.trim(key, horizon), since)
	}

	var out []*entity.SecurityEvent
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key := range sh.entries {
			if !matches(key, q) {
				continue
			}
			out = append(out, collect(sh.trim(key, horizon), since)...)
		}
		sh.mu.Unlock()
	}
	return out
}

// KeyCount returns the number of keys currently held
func (s *Store) KeyCount() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}

// Prune drops every entry older than the store horizon and returns the
// number of keys removed
func (s *Store) Prune(now time.Time) int {
	horizon := now.Add(-s.maxAge)
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key := range sh.entries {
			if len(sh.trim(key, horizon)) == 0 {
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Run prunes on every tick until ctx is done
func (s *Store) Run(ctx context.Context, interval time.Duration, onPrune func(keys int)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Prune(s.now())
			if onPrune != nil {
				onPrune(s.KeyCount())
			}
		}
	}
}

// trim removes entries older than horizon; the caller holds sh.mu
func (sh *shard) trim(key Key, horizon time.Time) []*entity.SecurityEvent {
	events, ok := sh.entries[key]
	if !ok {
		return nil
	}

	kept := events[:0]
	for _, ev := range events {
		if !ev.Timestamp.Before(horizon) {
			kept = append(kept, ev)
		}
	}
	for i := len(kept); i < len(events); i++ {
		events[i] = nil
	}

	if len(kept) == 0 {
		delete(sh.entries, key)
		return nil
	}
	sh.entries[key] = kept
	return kept
}

func matches(key Key, q repository.CorrelationQuery) bool {
	if key.Category != q.Category {
		return false
	}
	if q.Action != "" && key.Action != q.Action {
		return false
	}
	if q.Subject != "" && key.Subject != q.Subject {
		return false
	}
	return true
}

func collect(events []*entity.SecurityEvent, since time.Time) []*entity.SecurityEvent {
	var out []*entity.SecurityEvent
	for _, ev := range events {
		if !ev.Timestamp.Before(since) {
			out = append(out, ev)
		}
	}
	return out
}
