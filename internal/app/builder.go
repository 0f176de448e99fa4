package app

import (
	"context"
	"fmt"

	"arena/internal/broadcast"
	"arena/internal/config"
	"arena/internal/decider"
	"arena/internal/engine"
	"arena/internal/market"
	"arena/internal/prompt"
	"arena/internal/store"
	"arena/internal/store/gormstore"
	arenahttp "arena/internal/transport/http"
)

// AppBuilder assembles the application graph. The *Fn fields are
// swappable so tests can substitute pieces without a real database or
// network.
type AppBuilder struct {
	cfg *config.Config

	storeFn func(*config.Config) (store.Store, error)
	feedFn  func(*config.Config) (market.Feed, error)
	httpFn  func(*config.Config, store.Store, market.Feed, *broadcast.Hub) (*arenahttp.Server, error)

	deciderOverride engine.Decider
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:     cfg,
		storeFn: buildStore,
		feedFn:  buildFeed,
		httpFn:  buildHTTPServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := b.cfg
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}

	st, err := b.storeFn(cfg)
	if err != nil {
		return nil, fmt.Errorf("build store: %w", err)
	}

	roster, err := LoadRoster(cfg.Accounts.Path)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load roster: %w", err)
	}
	if err := SeedAccounts(ctx, st, roster); err != nil {
		st.Close()
		return nil, fmt.Errorf("seed accounts: %w", err)
	}

	feed, err := b.feedFn(cfg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("build feed: %w", err)
	}

	hub := broadcast.NewHub()

	dec := b.deciderOverride
	if dec == nil {
		dec = decider.NewClient(decider.ClientConfig{
			BaseURL:     cfg.Decider.BaseURL,
			APIKey:      cfg.Decider.ResolveAPIKey(),
			Referer:     cfg.Decider.Referer,
			Title:       cfg.Decider.Title,
			Timeout:     cfg.Decider.Timeout(),
			Temperature: cfg.Decider.Temperature,
			MaxTokens:   cfg.Decider.MaxTokens,
		})
	}

	eng := engine.NewEngine(engine.Params{
		Store:               st,
		Feed:                feed,
		Decider:             dec,
		Broadcaster:         hub,
		Prompts:             prompt.NewBuilder(cfg.Market.Symbols, cfg.Market.HighPrecisionSymbols),
		MaxLeverage:         cfg.Engine.MaxLeverage,
		MaxRiskFraction:     cfg.Engine.MaxRiskFraction,
		MaintenanceFraction: cfg.Engine.MaintenanceFraction,
	})

	srv, err := b.httpFn(cfg, st, feed, hub)
	if err != nil {
		feed.Close()
		st.Close()
		return nil, fmt.Errorf("build http server: %w", err)
	}

	return &App{
		cfg:    cfg,
		store:  st,
		feed:   feed,
		hub:    hub,
		engine: eng,
		http:   srv,
	}, nil
}

func buildStore(cfg *config.Config) (store.Store, error) {
	return gormstore.NewGormStore(cfg.Store.Path)
}

func buildFeed(cfg *config.Config) (market.Feed, error) {
	switch cfg.Market.Strategy {
	case "poll":
		return market.NewPollFeed(market.PollFeedConfig{
			Symbols:      cfg.Market.Symbols,
			BaseURL:      cfg.Market.CoinGeckoBaseURL,
			PollInterval: cfg.Market.PollInterval(),
			FetchTimeout: cfg.Market.FetchTimeout(),
		}), nil
	case "", "stream":
		return market.NewStreamFeed(market.StreamFeedConfig{
			Symbols:              cfg.Market.Symbols,
			QuoteAsset:           cfg.Market.QuoteAsset,
			ReconnectBackoff:     cfg.Market.ReconnectBackoff(),
			MaxReconnectAttempts: cfg.Market.MaxReconnectAttempts,
			FallbackPollInterval: cfg.Market.FallbackPollInterval(),
			StatsPollInterval:    cfg.Market.StatsPollInterval(),
			FetchTimeout:         cfg.Market.FetchTimeout(),
		}), nil
	default:
		return nil, fmt.Errorf("unknown market strategy %q", cfg.Market.Strategy)
	}
}

func buildHTTPServer(cfg *config.Config, st store.Store, feed market.Feed, hub *broadcast.Hub) (*arenahttp.Server, error) {
	var feedState func() market.FailoverState
	if sf, ok := feed.(*market.StreamFeed); ok {
		feedState = sf.State
	}
	return arenahttp.NewServer(arenahttp.ServerConfig{
		Addr:      cfg.App.HTTPAddr,
		Store:     st,
		Feed:      feed,
		Hub:       hub,
		FeedState: feedState,
	})
}
