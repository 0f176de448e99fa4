package broadcast

import (
	"fmt"
	"sync"
	"time"

	"arena/internal/logger"
)

// Publisher is the write side of the hub.
type Publisher interface {
	Publish(topic string, payload any)
}

// Event is one broadcast message.
type Event struct {
	Topic     string `json:"topic"`
	Payload   any    `json:"payload"`
	Timestamp int64  `json:"ts"`
}

// Hub fans events out to subscribers. Slow subscribers drop events
// rather than block publishers.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

var _ Publisher = (*Hub)(nil)

// AccountTopic names the per-account state channel.
func AccountTopic(modelID string) string {
	return fmt.Sprintf("model:%s:update", modelID)
}

// TradeTopic names the per-account trade channel.
func TradeTopic(modelID string) string {
	return fmt.Sprintf("model:%s:trade", modelID)
}

func (h *Hub) Publish(topic string, payload any) {
	ev := Event{Topic: topic, Payload: payload, Timestamp: time.Now().UnixMilli()}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			logger.Debugf("broadcast: dropping event on topic %s, subscriber is slow", topic)
		}
	}
}

// Subscribe registers a new subscriber. Call cancel to release it;
// cancel is idempotent and closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}
