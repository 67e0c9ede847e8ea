package buffer

import (
	"sort"
	"sync"

	v1 "togglr/pkg/api/v1"
)

// EventBuffer is a fixed-size ring of recent change events, ordered by etcd
// revision. Reconnecting stream clients replay the gap since their last seen
// revision from here instead of refetching the whole snapshot.
type EventBuffer struct {
	mu     sync.RWMutex
	events []v1.ChangeEvent
	size   int
	head   int
	isFull bool
}

func NewEventBuffer(size int) *EventBuffer {
	if size <= 0 {
		size = 1000
	}
	return &EventBuffer{
		events: make([]v1.ChangeEvent, size),
		size:   size,
		head:   0,
		isFull: false,
	}
}

func (b *EventBuffer) Add(ev v1.ChangeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[b.head] = ev
	b.head = (b.head + 1) % b.size
	if b.head == 0 {
		b.isFull = true
	}
}

// GetSince returns every buffered event with a revision greater than lastRev.
// The second return value is false when lastRev has already been evicted; the
// caller must fall back to a full snapshot in that case.
func (b *EventBuffer) GetSince(lastRev int64) ([]v1.ChangeEvent, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := b.head
	start := 0
	if b.isFull {
		count = b.size
		start = b.head
	}

	if count == 0 {
		return nil, true
	}

	oldestRev := b.events[start].Revision
	if lastRev < oldestRev {
		return nil, false
	}

	// Revisions are appended in increasing order, so the logical window
	// [0, count) is sorted and binary-searchable.
	searchFunc := func(i int) bool {
		physIdx := (start + i) % b.size
		return b.events[physIdx].Revision > lastRev
	}

	idx := sort.Search(count, searchFunc)
	if idx == count {
		return nil, true
	}

	result := make([]v1.ChangeEvent, 0, count-idx)
	for i := idx; i < count; i++ {
		physIdx := (start + i) % b.size
		result = append(result, b.events[physIdx])
	}
	return result, true
}
