// Package notify fans execution reports out to in-process subscribers
// and to account webhooks.
package notify

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/efreitasn/brokerx/internal/domain"
)

// Hub distributes execution reports to subscribers. Publish never
// blocks the processing core: a subscriber whose buffer is full misses
// the report and the drop is counted.
type Hub struct {
	mu      sync.RWMutex
	subs    map[uint64]chan domain.ExecutionReport
	nextID  uint64
	log     *slog.Logger
	dropped atomic.Int64
}

// Subscription is one consumer of a Hub.
type Subscription struct {
	C    <-chan domain.ExecutionReport
	id   uint64
	hub  *Hub
	once sync.Once
}

// NewHub creates a Hub with no subscribers.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subs: make(map[uint64]chan domain.ExecutionReport),
		log:  logger,
	}
}

// Subscribe registers a consumer with room for buffer pending reports.
func (h *Hub) Subscribe(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan domain.ExecutionReport, buffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	h.subs[h.nextID] = ch
	return &Subscription{C: ch, id: h.nextID, hub: h}
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		defer s.hub.mu.Unlock()
		if ch, ok := s.hub.subs[s.id]; ok {
			delete(s.hub.subs, s.id)
			close(ch)
		}
	})
}

// Publish implements engine.ReportSink.
func (h *Hub) Publish(r domain.ExecutionReport) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subs {
		select {
		case ch <- r:
		default:
			h.dropped.Add(1)
			h.log.Warn("execution report dropped",
				"subscriber", id,
				"order_id", r.OrderID,
				"status", r.Status,
			)
		}
	}
}

// Dropped returns how many reports slow subscribers missed.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
