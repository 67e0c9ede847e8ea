package service

import (
	"sync"

	v1 "togglr/pkg/api/v1"
)

// EventCache mirrors the latest change event per flag as seen through the
// etcd watch, plus the high-water revision. Snapshot requests are served
// from here without touching etcd.
type EventCache struct {
	mu       sync.RWMutex
	data     map[string]v1.ChangeEvent
	revision int64
}

func NewEventCache() *EventCache {
	return &EventCache{
		data: make(map[string]v1.ChangeEvent),
	}
}

func (c *EventCache) Update(ev v1.ChangeEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[ev.FeatureKey] = ev
	if ev.Revision > c.revision {
		c.revision = ev.Revision
	}
}

func (c *EventCache) Delete(featureKey string, rev int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, featureKey)
	if rev > c.revision {
		c.revision = rev
	}
}

func (c *EventCache) GetSnapshot() ([]v1.ChangeEvent, int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res := make([]v1.ChangeEvent, 0, len(c.data))
	for _, ev := range c.data {
		res = append(res, ev)
	}
	return res, c.revision
}
