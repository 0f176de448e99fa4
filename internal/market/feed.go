package market

import (
	"context"
	"errors"
)

// ErrNoMarketData is returned when a symbol has no cached tick yet. Any
// action keyed on that symbol must treat this as a hard stop.
var ErrNoMarketData = errors.New("no market data")

// PriceTick is the last observed state of one symbol. Cache-only; last value
// wins per symbol.
type PriceTick struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Change24h float64 `json:"change24h"`
	Volume24h float64 `json:"volume24h"`
	Timestamp int64   `json:"timestamp"`
}

// Feed is the single contract both price strategies satisfy.
type Feed interface {
	// Snapshot returns the cached tick for symbol, ok=false when absent.
	Snapshot(symbol string) (PriceTick, bool)
	// AllSnapshots returns cached ticks in the configured symbol order.
	AllSnapshots() []PriceTick
	// Subscribe registers for change events (emitted only when a symbol's
	// price differs from its cached value). Cancel the handle to release it.
	Subscribe(buffer int) *Subscription

	Start(ctx context.Context) error
	Close() error
}

// Subscription is a cancellable handle on the price-change stream.
type Subscription struct {
	C      <-chan PriceTick
	cancel func()
}

func (s *Subscription) Cancel() {
	if s != nil && s.cancel != nil {
		s.cancel()
	}
}
