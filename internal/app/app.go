package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"arena/internal/broadcast"
	"arena/internal/config"
	"arena/internal/engine"
	"arena/internal/logger"
	"arena/internal/market"
	"arena/internal/scheduler"
	"arena/internal/store"
	arenahttp "arena/internal/transport/http"
)

// App owns the application lifecycle: build the dependency graph, run the
// feed, schedulers and HTTP server, and tear everything down on shutdown.
type App struct {
	cfg    *config.Config
	store  store.Store
	feed   market.Feed
	hub    *broadcast.Hub
	engine *engine.Engine
	http   *arenahttp.Server
}

// NewApp builds the application from configuration (does not start it).
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run starts everything and blocks until ctx is canceled or a component fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.store.Close()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		defer a.feed.Close()
		if err := a.feed.Start(ctx); err != nil {
			return fmt.Errorf("price feed error: %w", err)
		}
		<-ctx.Done()
		return nil
	})

	group.Go(func() error {
		if err := a.http.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	if a.cfg.Engine.Enabled {
		group.Go(func() error {
			sched := scheduler.NewIntervalScheduler(ctx, "decision-cycle", a.cfg.Engine.CycleInterval())
			sched.RunImmediately = a.cfg.Engine.RunImmediately
			sched.Start(func() {
				if err := a.engine.RunCycle(ctx); err != nil {
					logger.Errorf("App: decision cycle failed: %v", err)
				}
			})
			return nil
		})
		group.Go(func() error {
			sched := scheduler.NewIntervalScheduler(ctx, "position-sweep", a.cfg.Engine.SweepInterval())
			sched.Start(func() {
				if err := a.engine.SweepPositions(ctx); err != nil {
					logger.Errorf("App: sweep failed: %v", err)
				}
			})
			return nil
		})
	} else {
		logger.Warnf("App: engine disabled, running feed and API only")
	}

	if a.cfg.Accounts.Path != "" {
		group.Go(func() error {
			WatchRoster(ctx, a.cfg.Accounts.Path, a.store)
			return nil
		})
	}

	logger.Infof("App: started http=%s strategy=%s symbols=%d engine=%v",
		a.http.Addr(), a.cfg.Market.Strategy, len(a.cfg.Market.Symbols), a.cfg.Engine.Enabled)
	return group.Wait()
}

// Engine exposes the trading engine (for harnesses and tests).
func (a *App) Engine() *engine.Engine {
	if a == nil {
		return nil
	}
	return a.engine
}
