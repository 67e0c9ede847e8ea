package service

import (
	"time"

	v1 "togglr/pkg/api/v1"
	"togglr/pkg/logger"
)

// StreamObserver receives hub lifecycle and delivery metrics.
type StreamObserver interface {
	IncOnline()
	DecOnline()
	RecordPush()
	ObservePushLatency(duration float64)
	UpdateEventLag(lag int)
}

// Client is one connected SSE subscriber. An empty Features set subscribes
// to every flag.
type Client struct {
	Send     chan v1.ChangeEvent
	Features map[string]bool
}

// Hub fans change events out to connected clients. All registry mutations
// happen on the Run goroutine, so no locking is needed.
type Hub struct {
	clients    map[*Client]bool
	Broadcast  chan v1.ChangeEvent
	Register   chan *Client
	Unregister chan *Client

	observer  StreamObserver
	heartbeat time.Duration
}

func NewHub(observer StreamObserver, heartbeat time.Duration, bufferSize int) *Hub {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	if bufferSize <= 0 {
		bufferSize = 512
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		Broadcast:  make(chan v1.ChangeEvent, bufferSize),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		observer:   observer,
		heartbeat:  heartbeat,
	}
}

func (h *Hub) Run() {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case client := <-h.Register:
			h.clients[client] = true
			h.observer.IncOnline()
		case client := <-h.Unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
				h.observer.DecOnline()
			}
		case ev := <-h.Broadcast:
			for client := range h.clients {
				if len(client.Features) > 0 && !client.Features[ev.FeatureKey] {
					continue
				}
				start := time.Now()
				select {
				case client.Send <- ev:
					h.observer.RecordPush()
					h.observer.ObservePushLatency(time.Since(start).Seconds())
				default:
					// Slow consumer, drop it rather than stall the fan-out.
					logger.Warn("dropping slow stream client")
					delete(h.clients, client)
					close(client.Send)
					h.observer.DecOnline()
				}
			}
		case <-ticker.C:
			h.observer.UpdateEventLag(len(h.Broadcast))
		}
	}
}
