package intake

import (
	"container/list"
	"time"
)

type seenEntry struct {
	key       string
	expiresAt time.Time
}

// seenSet is a bounded TTL+LRU set of idempotency keys. Oldest entries are
// evicted when capacity is reached; expired entries are dropped on access.
// Not safe for concurrent use — the intake lock covers it.
type seenSet struct {
	ttl      time.Duration
	capacity int
	order    *list.List // front = oldest
	index    map[string]*list.Element
}

func newSeenSet(ttl time.Duration, capacity int) *seenSet {
	return &seenSet{
		ttl:      ttl,
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element, capacity),
	}
}

// Seen marks key as seen and reports whether it was already present and
// unexpired. A re-observation refreshes the entry's TTL and recency.
func (s *seenSet) Seen(key string, now time.Time) bool {
	s.expire(now)

	if el, ok := s.index[key]; ok {
		el.Value.(*seenEntry).expiresAt = now.Add(s.ttl)
		s.order.MoveToBack(el)
		return true
	}

	for len(s.index) >= s.capacity {
		oldest := s.order.Front()
		if oldest == nil {
			break
		}
		delete(s.index, oldest.Value.(*seenEntry).key)
		s.order.Remove(oldest)
	}

	s.index[key] = s.order.PushBack(&seenEntry{key: key, expiresAt: now.Add(s.ttl)})
	return false
}

func (s *seenSet) expire(now time.Time) {
	for {
		front := s.order.Front()
		if front == nil {
			return
		}
		entry := front.Value.(*seenEntry)
		if entry.expiresAt.After(now) {
			return
		}
		delete(s.index, entry.key)
		s.order.Remove(front)
	}
}

func (s *seenSet) Len() int {
	return len(s.index)
}
