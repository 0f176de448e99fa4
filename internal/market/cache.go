package market

import (
	"strings"
	"sync"

	"arena/internal/logger"
)

// Cache is the shared single-writer price cache. Feeds write into it; every
// other component reads snapshots or subscribes to change events.
type Cache struct {
	mu    sync.RWMutex
	order []string
	ticks map[string]PriceTick
	subs  map[chan PriceTick]struct{}
}

func NewCache(symbols []string) *Cache {
	order := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		s := strings.ToUpper(strings.TrimSpace(sym))
		if s != "" {
			order = append(order, s)
		}
	}
	return &Cache{
		order: order,
		ticks: make(map[string]PriceTick, len(order)),
		subs:  make(map[chan PriceTick]struct{}),
	}
}

func (c *Cache) Symbols() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

func (c *Cache) Snapshot(symbol string) (PriceTick, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tick, ok := c.ticks[strings.ToUpper(symbol)]
	return tick, ok
}

func (c *Cache) AllSnapshots() []PriceTick {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]PriceTick, 0, len(c.order))
	for _, sym := range c.order {
		if tick, ok := c.ticks[sym]; ok {
			out = append(out, tick)
		}
	}
	return out
}

func (c *Cache) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan PriceTick, buffer)
	c.mu.Lock()
	c.subs[ch] = struct{}{}
	c.mu.Unlock()
	return &Subscription{
		C: ch,
		cancel: func() {
			c.mu.Lock()
			if _, ok := c.subs[ch]; ok {
				delete(c.subs, ch)
				close(ch)
			}
			c.mu.Unlock()
		},
	}
}

// SetTick stores the tick and emits a change event when the price moved.
// Last value wins; a repeated identical price refreshes the cache silently.
func (c *Cache) SetTick(tick PriceTick) {
	tick.Symbol = strings.ToUpper(strings.TrimSpace(tick.Symbol))
	if tick.Symbol == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, had := c.ticks[tick.Symbol]
	c.ticks[tick.Symbol] = tick
	if had && prev.Price == tick.Price {
		return
	}
	// Sends stay under the lock so a concurrent Cancel cannot close a
	// channel between the map read and the send. They never block: a full
	// subscriber just loses the tick.
	for ch := range c.subs {
		select {
		case ch <- tick:
		default:
			logger.Debugf("[market] subscriber slow, dropped %s tick", tick.Symbol)
		}
	}
}
