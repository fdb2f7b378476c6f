package events

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/speedrun-hq/speedrun-batcher/pkg/metrics"
	"github.com/speedrun-hq/speedrun-batcher/pkg/models"
)

// DefaultSubscriberBuffer is the per-subscriber channel capacity
const DefaultSubscriberBuffer = 256

// Hub broadcasts events to in-process subscribers such as websocket connections.
// Slow subscribers lose events instead of blocking the publisher.
type Hub struct {
	subscribers *xsync.Map[uint64, chan models.Event]
	// held for writing while a channel is closed so Publish never sends on it
	mu        sync.RWMutex
	nextID    atomic.Uint64
	buffer    int
	closeOnce sync.Once
	closed    atomic.Bool
}

var _ Sink = (*Hub)(nil)

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Hub{
		subscribers: xsync.NewMap[uint64, chan models.Event](),
		buffer:      buffer,
	}
}

// Subscribe registers a new subscriber. The returned channel is closed on Unsubscribe or Close.
func (h *Hub) Subscribe() (uint64, <-chan models.Event) {
	id := h.nextID.Add(1)
	ch := make(chan models.Event, h.buffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed.Load() {
		close(ch)
		return id, ch
	}
	h.subscribers.Store(id, ch)
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel
func (h *Hub) Unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers.LoadAndDelete(id); ok {
		close(ch)
	}
}

// Subscribers returns the number of active subscribers
func (h *Hub) Subscribers() int {
	return h.subscribers.Size()
}

func (h *Hub) Publish(_ context.Context, event models.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed.Load() {
		return ErrSinkClosed
	}
	h.subscribers.Range(func(_ uint64, ch chan models.Event) bool {
		select {
		case ch <- event:
		default:
			metrics.EventsDropped.WithLabelValues("hub").Inc()
		}
		return true
	})
	return nil
}

func (h *Hub) Close() error {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.closed.Store(true)
		h.subscribers.Range(func(id uint64, ch chan models.Event) bool {
			h.subscribers.Delete(id)
			close(ch)
			return true
		})
	})
	return nil
}
