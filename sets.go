// Concurrent key sets for the tag, view, and full-text maps.
//
// Each secondary map is a sharded concurrent map from a name (tag, view
// name, or token) to a keySet. All set mutations run inside the outer
// map's Upsert/RemoveCb callbacks, under the shard lock, so an add can
// never land in a set that a concurrent remove has already unlinked.
// The set's own RWMutex only orders readers against those mutations.
package quire

import (
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"
)

type keySet[K comparable] struct {
	mu sync.RWMutex
	m  map[K]struct{}
}

func newKeySet[K comparable]() *keySet[K] {
	return &keySet[K]{m: make(map[K]struct{})}
}

func (s *keySet[K]) add(key K) {
	s.mu.Lock()
	s.m[key] = struct{}{}
	s.mu.Unlock()
}

func (s *keySet[K]) remove(key K) {
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
}

func (s *keySet[K]) size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

// keys snapshots the membership. Callers re-check the primary map for
// each returned key, so a slightly stale snapshot is harmless.
func (s *keySet[K]) keys() []K {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]K, 0, len(s.m))
	for k := range s.m {
		out = append(out, k)
	}
	return out
}

// setAdd inserts key into the named set, creating the set if absent.
func setAdd[K comparable](m cmap.ConcurrentMap[string, *keySet[K]], name string, key K) {
	m.Upsert(name, nil, func(exist bool, cur, _ *keySet[K]) *keySet[K] {
		if !exist {
			cur = newKeySet[K]()
		}
		cur.add(key)
		return cur
	})
}

// setRemove deletes key from the named set, unlinking the set once empty.
func setRemove[K comparable](m cmap.ConcurrentMap[string, *keySet[K]], name string, key K) {
	m.RemoveCb(name, func(_ string, s *keySet[K], ok bool) bool {
		if !ok {
			return false
		}
		s.remove(key)
		return s.size() == 0
	})
}
