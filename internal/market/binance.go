package market

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"arena/internal/logger"

	"github.com/adshao/go-binance/v2"
)

// StreamFeedConfig tunes the streaming strategy.
type StreamFeedConfig struct {
	Symbols              []string
	QuoteAsset           string
	ReconnectBackoff     time.Duration
	MaxReconnectAttempts int
	FallbackPollInterval time.Duration
	StatsPollInterval    time.Duration
	FetchTimeout         time.Duration
}

func (c StreamFeedConfig) withDefaults() StreamFeedConfig {
	if c.QuoteAsset == "" {
		c.QuoteAsset = "USDT"
	}
	if c.ReconnectBackoff <= 0 {
		c.ReconnectBackoff = 5 * time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.FallbackPollInterval <= 0 {
		c.FallbackPollInterval = 5 * time.Second
	}
	if c.StatsPollInterval <= 0 {
		c.StatsPollInterval = time.Minute
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 8 * time.Second
	}
	return c
}

// StreamFeed keeps the cache updated from a multiplexed Binance ticker
// stream. After MaxReconnectAttempts consecutive failures it switches, once
// and permanently, to REST polling. A slow 24h-stats poll runs alongside the
// stream the whole time and never participates in the failover logic.
type StreamFeed struct {
	*Cache

	cfg    StreamFeedConfig
	client *binance.Client

	stateMu sync.Mutex
	state   FailoverState

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewStreamFeed(cfg StreamFeedConfig) *StreamFeed {
	final := cfg.withDefaults()
	return &StreamFeed{
		Cache:  NewCache(final.Symbols),
		cfg:    final,
		client: binance.NewClient("", ""),
	}
}

var _ Feed = (*StreamFeed)(nil)

func (f *StreamFeed) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel

	// Prime the cache before the stream delivers its first events.
	f.pollStats(runCtx)

	f.wg.Add(2)
	go func() {
		defer f.wg.Done()
		f.runStatsLoop(runCtx)
	}()
	go func() {
		defer f.wg.Done()
		f.runStreamLoop(runCtx)
	}()
	return nil
}

func (f *StreamFeed) Close() error {
	if f.cancel != nil {
		f.cancel()
	}
	f.wg.Wait()
	return nil
}

// State reports the current failover state (exposed for the HTTP API).
func (f *StreamFeed) State() FailoverState {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	return f.state
}

func (f *StreamFeed) transition(apply func(FailoverState) FailoverState) FailoverState {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	f.state = apply(f.state)
	return f.state
}

func (f *StreamFeed) runStreamLoop(ctx context.Context) {
	pairs := f.pairs()
	for {
		if ctx.Err() != nil {
			return
		}
		if f.State().State == StateFallbackPolling {
			logger.Warnf("[market] stream abandoned after %d reconnect attempts, polling REST every %s",
				f.cfg.MaxReconnectAttempts, f.cfg.FallbackPollInterval)
			f.runFallbackLoop(ctx)
			return
		}

		doneC, stopC, err := binance.WsCombinedMarketStatServe(pairs, f.handleTicker, func(err error) {
			logger.Warnf("[market] stream error: %v", err)
		})
		if err != nil {
			state := f.transition(func(s FailoverState) FailoverState {
				return s.OnDisconnected(f.cfg.MaxReconnectAttempts)
			})
			logger.Warnf("[market] stream connect failed (attempt %d/%d): %v",
				state.Attempt, f.cfg.MaxReconnectAttempts, err)
			if !sleepWithContext(ctx, f.cfg.ReconnectBackoff) {
				return
			}
			continue
		}

		f.transition(FailoverState.OnConnected)
		logger.Infof("[market] stream connected symbols=%d", len(pairs))

		select {
		case <-ctx.Done():
			close(stopC)
			<-doneC
			return
		case <-doneC:
		}

		state := f.transition(func(s FailoverState) FailoverState {
			return s.OnDisconnected(f.cfg.MaxReconnectAttempts)
		})
		logger.Warnf("[market] stream disconnected (attempt %d/%d)", state.Attempt, f.cfg.MaxReconnectAttempts)
		if !sleepWithContext(ctx, f.cfg.ReconnectBackoff) {
			return
		}
	}
}

func (f *StreamFeed) runFallbackLoop(ctx context.Context) {
	f.pollStats(ctx)
	for {
		if !sleepWithContext(ctx, f.cfg.FallbackPollInterval) {
			return
		}
		f.pollStats(ctx)
	}
}

// runStatsLoop refreshes 24h aggregate stats regardless of stream health.
func (f *StreamFeed) runStatsLoop(ctx context.Context) {
	for {
		if !sleepWithContext(ctx, f.cfg.StatsPollInterval) {
			return
		}
		f.pollStats(ctx)
	}
}

func (f *StreamFeed) pollStats(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, f.cfg.FetchTimeout)
	defer cancel()
	stats, err := f.client.NewListPriceChangeStatsService().Do(fetchCtx)
	if err != nil {
		logger.Warnf("[market] 24h stats fetch failed: %v", err)
		return
	}
	wanted := make(map[string]string, len(f.Symbols()))
	for _, sym := range f.Symbols() {
		wanted[f.pairFor(sym)] = sym
	}
	for _, st := range stats {
		if st == nil {
			continue
		}
		sym, ok := wanted[st.Symbol]
		if !ok {
			continue
		}
		f.SetTick(PriceTick{
			Symbol:    sym,
			Price:     parseFloat(st.LastPrice),
			Change24h: parseFloat(st.PriceChangePercent),
			Volume24h: parseFloat(st.QuoteVolume),
			Timestamp: time.Now().UnixMilli(),
		})
	}
}

func (f *StreamFeed) handleTicker(event *binance.WsMarketStatEvent) {
	if event == nil {
		return
	}
	sym, ok := f.displayFor(event.Symbol)
	if !ok {
		return
	}
	f.SetTick(PriceTick{
		Symbol:    sym,
		Price:     parseFloat(event.LastPrice),
		Change24h: parseFloat(event.PriceChangePercent),
		Volume24h: parseFloat(event.QuoteVolume),
		Timestamp: time.Now().UnixMilli(),
	})
}

func (f *StreamFeed) pairs() []string {
	syms := f.Symbols()
	out := make([]string, 0, len(syms))
	for _, sym := range syms {
		out = append(out, f.pairFor(sym))
	}
	return out
}

func (f *StreamFeed) pairFor(symbol string) string {
	return strings.ToUpper(symbol) + strings.ToUpper(f.cfg.QuoteAsset)
}

func (f *StreamFeed) displayFor(pair string) (string, bool) {
	suffix := strings.ToUpper(f.cfg.QuoteAsset)
	pair = strings.ToUpper(pair)
	if !strings.HasSuffix(pair, suffix) {
		return "", false
	}
	return strings.TrimSuffix(pair, suffix), true
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
