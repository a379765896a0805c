package main

import (
	"sort"
	"sync"
	"time"
)

// recentStore remembers just-published items per author so that reads during
// the relay indexing window still reflect them. Entries expire after a short
// TTL; by then the relay is expected to serve the event itself.
type recentStore struct {
	mu         sync.Mutex
	ttl        time.Duration
	now        func() time.Time
	structured map[string]map[string]recentStructured // author -> name -> entry
	posts      map[string][]recentPost                // author -> entries
}

type recentStructured struct {
	item     StructuredItem
	storedAt time.Time
}

type recentPost struct {
	item     PostItem
	storedAt time.Time
}

func newRecentStore(ttl time.Duration) *recentStore {
	return &recentStore{
		ttl:        ttl,
		now:        time.Now,
		structured: make(map[string]map[string]recentStructured),
		posts:      make(map[string][]recentPost),
	}
}

// RecordStructured stores a just-published structured item, replacing any
// pending entry with the same name.
func (s *recentStore) RecordStructured(author string, item StructuredItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byName := s.structured[author]
	if byName == nil {
		byName = make(map[string]recentStructured)
		s.structured[author] = byName
	}
	byName[item.Name] = recentStructured{item: item, storedAt: s.now()}
}

// LiveStructured returns unexpired structured entries for an author.
func (s *recentStore) LiveStructured(author string) []StructuredItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-s.ttl)

	var items []StructuredItem
	for name, entry := range s.structured[author] {
		if entry.storedAt.Before(cutoff) {
			delete(s.structured[author], name)
			continue
		}
		items = append(items, entry.item)
	}
	if len(s.structured[author]) == 0 {
		delete(s.structured, author)
	}
	// Map iteration order is random; keep responses deterministic.
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items
}

// RecordPost stores a just-published freeform post.
func (s *recentStore) RecordPost(author string, item PostItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts[author] = append(s.posts[author], recentPost{item: item, storedAt: s.now()})
}

// LivePosts returns unexpired post entries for an author.
func (s *recentStore) LivePosts(author string) []PostItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-s.ttl)

	var kept []recentPost
	var items []PostItem
	for _, entry := range s.posts[author] {
		if entry.storedAt.Before(cutoff) {
			continue
		}
		kept = append(kept, entry)
		items = append(items, entry.item)
	}
	if len(kept) == 0 {
		delete(s.posts, author)
	} else {
		s.posts[author] = kept
	}
	return items
}
