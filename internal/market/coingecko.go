package market

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"arena/internal/logger"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

// coinIDs maps display symbols to CoinGecko coin ids.
var coinIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"SOL":  "solana",
	"BNB":  "binancecoin",
	"DOGE": "dogecoin",
	"XRP":  "ripple",
}

// PollFeedConfig tunes the pure-polling strategy.
type PollFeedConfig struct {
	Symbols      []string
	BaseURL      string
	PollInterval time.Duration
	FetchTimeout time.Duration
}

func (c PollFeedConfig) withDefaults() PollFeedConfig {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.coingecko.com/api/v3"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Minute
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 8 * time.Second
	}
	return c
}

// PollFeed refreshes the cache from CoinGecko's batch simple-price endpoint.
// A 429 from upstream is a warning, not a fault: the cache keeps last values
// and the next tick is the retry.
type PollFeed struct {
	*Cache

	cfg    PollFeedConfig
	client *resty.Client

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPollFeed(cfg PollFeedConfig) *PollFeed {
	final := cfg.withDefaults()
	client := resty.New().
		SetBaseURL(strings.TrimRight(final.BaseURL, "/")).
		SetTimeout(final.FetchTimeout)
	return &PollFeed{
		Cache:  NewCache(final.Symbols),
		cfg:    final,
		client: client,
	}
}

var _ Feed = (*PollFeed)(nil)

func (f *PollFeed) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.fetchPrices(runCtx)
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for {
			if !sleepWithContext(runCtx, f.cfg.PollInterval) {
				return
			}
			f.fetchPrices(runCtx)
		}
	}()
	logger.Infof("[market] REST polling started interval=%s symbols=%d", f.cfg.PollInterval, len(f.Symbols()))
	return nil
}

func (f *PollFeed) Close() error {
	if f.cancel != nil {
		f.cancel()
	}
	f.wg.Wait()
	return nil
}

func (f *PollFeed) fetchPrices(ctx context.Context) {
	ids := make([]string, 0, len(f.Symbols()))
	for _, sym := range f.Symbols() {
		if id, ok := coinIDs[sym]; ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return
	}
	resp, err := f.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"ids":                 strings.Join(ids, ","),
			"vs_currencies":       "usd",
			"include_24hr_change": "true",
			"include_24hr_vol":    "true",
		}).
		Get("/simple/price")
	if err != nil {
		logger.Errorf("[market] price fetch failed: %v", err)
		return
	}
	if resp.StatusCode() == http.StatusTooManyRequests {
		logger.Warnf("[market] rate limited by upstream (429), keeping cached prices")
		return
	}
	if resp.IsError() {
		logger.Errorf("[market] price fetch returned %s", resp.Status())
		return
	}
	f.ingest(resp.Body())
}

func (f *PollFeed) ingest(body []byte) {
	data := gjson.ParseBytes(body)
	now := time.Now().UnixMilli()
	for _, sym := range f.Symbols() {
		id, ok := coinIDs[sym]
		if !ok {
			continue
		}
		entry := data.Get(id)
		if !entry.Exists() {
			continue
		}
		f.SetTick(PriceTick{
			Symbol:    sym,
			Price:     entry.Get("usd").Float(),
			Change24h: entry.Get("usd_24h_change").Float(),
			Volume24h: entry.Get("usd_24h_vol").Float(),
			Timestamp: now,
		})
	}
}
