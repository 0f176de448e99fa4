package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arena/internal/decider"
	"arena/internal/market"
	"arena/internal/prompt"
	"arena/internal/store"
	"arena/internal/store/model"
)

// memStore is an in-memory store.Store for engine tests.
type memStore struct {
	mu        sync.Mutex
	accounts  map[string]*model.Account
	positions map[uint]*model.Position
	trades    map[uint]*model.Trade
	logs      map[uint]*model.DecisionLog
	nextID    uint
}

func newMemStore() *memStore {
	return &memStore{
		accounts:  make(map[string]*model.Account),
		positions: make(map[uint]*model.Position),
		trades:    make(map[uint]*model.Trade),
		logs:      make(map[uint]*model.DecisionLog),
	}
}

func (m *memStore) Accounts() store.AccountRepository         { return (*memAccounts)(m) }
func (m *memStore) Positions() store.PositionRepository       { return (*memPositions)(m) }
func (m *memStore) Trades() store.TradeRepository             { return (*memTrades)(m) }
func (m *memStore) DecisionLogs() store.DecisionLogRepository { return (*memLogs)(m) }
func (m *memStore) Close() error                              { return nil }

func (m *memStore) id() uint {
	m.nextID++
	return m.nextID
}

type memAccounts memStore

func (m *memAccounts) Create(_ context.Context, a *model.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.accounts[a.ID] = &cp
	return nil
}

func (m *memAccounts) GetByID(_ context.Context, id string) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (m *memAccounts) GetByModelID(_ context.Context, modelID string) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.ModelID == modelID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memAccounts) List(_ context.Context) ([]model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Account
	for _, a := range m.accounts {
		out = append(out, *a)
	}
	return out, nil
}

func (m *memAccounts) ListByStatus(_ context.Context, status model.AccountStatus) ([]model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Account
	for _, a := range m.accounts {
		if a.Status == status {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memAccounts) UpdateBalance(_ context.Context, id string, balance float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[id]; ok {
		a.CurrentBalance = balance
	}
	return nil
}

func (m *memAccounts) UpdateStatus(_ context.Context, id string, status model.AccountStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[id]; ok {
		a.Status = status
	}
	return nil
}

func (m *memAccounts) Save(_ context.Context, a *model.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.accounts[a.ID] = &cp
	return nil
}

type memPositions memStore

func (m *memPositions) Create(_ context.Context, p *model.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = (*memStore)(m).id()
	cp := *p
	m.positions[p.ID] = &cp
	return nil
}

func (m *memPositions) ListByAccount(_ context.Context, accountID string) ([]model.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Position
	for _, p := range m.positions {
		if p.AccountID == accountID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memPositions) ListAll(_ context.Context) ([]model.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Position
	for _, p := range m.positions {
		out = append(out, *p)
	}
	return out, nil
}

func (m *memPositions) FindOpen(_ context.Context, accountID, symbol string) (*model.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.positions {
		if p.AccountID == accountID && p.Symbol == symbol {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memPositions) Update(_ context.Context, p *model.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.positions[p.ID] = &cp
	return nil
}

func (m *memPositions) Delete(_ context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, id)
	return nil
}

type memTrades memStore

func (m *memTrades) Create(_ context.Context, t *model.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = (*memStore)(m).id()
	cp := *t
	m.trades[t.ID] = &cp
	return nil
}

func (m *memTrades) FindLatestOpen(_ context.Context, accountID, symbol string) (*model.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *model.Trade
	for _, t := range m.trades {
		if t.AccountID == accountID && t.Symbol == symbol && t.Status == model.TradeOpen {
			if latest == nil || t.OpenedAt.After(latest.OpenedAt) {
				latest = t
			}
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (m *memTrades) Update(_ context.Context, t *model.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.trades[t.ID] = &cp
	return nil
}

func (m *memTrades) ListByAccount(_ context.Context, accountID string, _ int) ([]model.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Trade
	for _, t := range m.trades {
		if t.AccountID == accountID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memTrades) ListRecent(_ context.Context, _ int) ([]model.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Trade
	for _, t := range m.trades {
		out = append(out, *t)
	}
	return out, nil
}

type memLogs memStore

func (m *memLogs) Create(_ context.Context, l *model.DecisionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.ID = (*memStore)(m).id()
	cp := *l
	m.logs[l.ID] = &cp
	return nil
}

func (m *memLogs) Update(_ context.Context, l *model.DecisionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *l
	m.logs[l.ID] = &cp
	return nil
}

func (m *memLogs) ListByAccount(_ context.Context, accountID string, _ int) ([]model.DecisionLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.DecisionLog
	for _, l := range m.logs {
		if l.AccountID == accountID {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (m *memLogs) ListRecent(_ context.Context, _ int) ([]model.DecisionLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.DecisionLog
	for _, l := range m.logs {
		out = append(out, *l)
	}
	return out, nil
}

// stubFeed serves a fixed snapshot.
type stubFeed struct {
	ticks []market.PriceTick
}

func (f *stubFeed) Snapshot(symbol string) (market.PriceTick, bool) {
	for _, t := range f.ticks {
		if t.Symbol == symbol {
			return t, true
		}
	}
	return market.PriceTick{}, false
}

func (f *stubFeed) AllSnapshots() []market.PriceTick          { return f.ticks }
func (f *stubFeed) Subscribe(buffer int) *market.Subscription { return nil }
func (f *stubFeed) Start(context.Context) error               { return nil }
func (f *stubFeed) Close() error                              { return nil }

// stubDecider replays canned results, one per call.
type stubDecider struct {
	results []*decider.Result
	calls   int
}

func (d *stubDecider) Decide(_ context.Context, _, _, _ string) *decider.Result {
	d.calls++
	if len(d.results) == 0 {
		return nil
	}
	r := d.results[0]
	d.results = d.results[1:]
	return r
}

func newTestEngine(st store.Store, feed market.Feed, dec Decider) *Engine {
	return NewEngine(Params{
		Store:               st,
		Feed:                feed,
		Decider:             dec,
		Prompts:             prompt.NewBuilder([]string{"BTC", "ETH"}, nil),
		MaxLeverage:         20,
		MaxRiskFraction:     0.03,
		MaintenanceFraction: 0.9,
	})
}

func seedAccount(t *testing.T, st *memStore, balance float64) *model.Account {
	t.Helper()
	acct := &model.Account{
		ID:             "acct-1",
		ModelID:        "test-model",
		Name:           "Test Model",
		InitialBalance: balance,
		CurrentBalance: balance,
		Status:         model.AccountActive,
	}
	require.NoError(t, st.Accounts().Create(context.Background(), acct))
	return acct
}

func buyResult(coin string, qty float64, lev int, pt, sl float64) *decider.Result {
	return &decider.Result{
		Decision: decider.Decision{
			Signal:       decider.SignalBuyToEnter,
			Coin:         coin,
			Quantity:     qty,
			Leverage:     lev,
			ProfitTarget: pt,
			StopLoss:     sl,
		},
		RawJSON:   `{"signal":"buy_to_enter"}`,
		RawOutput: `{"signal":"buy_to_enter"}`,
	}
}

func holdResult(justification string) *decider.Result {
	return &decider.Result{
		Decision:  decider.Decision{Signal: decider.SignalHold, Justification: justification},
		RawJSON:   `{"signal":"hold"}`,
		RawOutput: `{"signal":"hold"}`,
	}
}

func btcFeed(price float64) *stubFeed {
	return &stubFeed{ticks: []market.PriceTick{{Symbol: "BTC", Price: price, Timestamp: time.Now().UnixMilli()}}}
}

func TestOpenPositionMarginAndLiquidation(t *testing.T) {
	st := newMemStore()
	acct := seedAccount(t, st, 100000)
	eng := newTestEngine(st, btcFeed(50000), &stubDecider{})

	out := eng.openPosition(context.Background(), acct, &decider.Decision{
		Signal: decider.SignalBuyToEnter, Coin: "BTC", Quantity: 0.1, Leverage: 10,
		ProfitTarget: 60000, StopLoss: 48000,
	}, model.SideLong, map[string]market.PriceTick{"BTC": {Symbol: "BTC", Price: 50000}})
	require.Equal(t, model.DecisionExecuted, out.status, out.detail)

	pos, err := st.Positions().FindOpen(context.Background(), acct.ID, "BTC")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.InDelta(t, 500.0, pos.Margin, 1e-9)
	assert.InDelta(t, 45500.0, pos.LiquidationPrice, 1e-9)
	assert.Less(t, pos.LiquidationPrice, pos.EntryPrice)

	trade, err := st.Trades().FindLatestOpen(context.Background(), acct.ID, "BTC")
	require.NoError(t, err)
	require.NotNil(t, trade)
	assert.Equal(t, model.TradeOpen, trade.Status)
}

func TestShortLiquidationAboveEntry(t *testing.T) {
	eng := newTestEngine(newMemStore(), btcFeed(50000), &stubDecider{})
	liq := eng.liquidationPrice(model.SideShort, 50000, 10)
	assert.InDelta(t, 54500.0, liq, 1e-9)
	assert.Greater(t, liq, 50000.0)
}

func TestRiskClampMutatesDecisionOnly(t *testing.T) {
	eng := newTestEngine(newMemStore(), btcFeed(50000), &stubDecider{})
	acct := &model.Account{ModelID: "m", InitialBalance: 10000, CurrentBalance: 10000}

	dec := &decider.Decision{Signal: decider.SignalBuyToEnter, Coin: "BTC", RiskUSD: 1000}
	eng.clampRisk(acct, dec)
	assert.InDelta(t, 300.0, dec.RiskUSD, 1e-9)

	// idempotent: clamping again changes nothing
	eng.clampRisk(acct, dec)
	assert.InDelta(t, 300.0, dec.RiskUSD, 1e-9)

	// already under the cap stays untouched
	dec = &decider.Decision{Signal: decider.SignalBuyToEnter, Coin: "BTC", RiskUSD: 200}
	eng.clampRisk(acct, dec)
	assert.InDelta(t, 200.0, dec.RiskUSD, 1e-9)
}

func TestRiskClampLeavesSizingAlone(t *testing.T) {
	st := newMemStore()
	acct := seedAccount(t, st, 10000)
	eng := newTestEngine(st, btcFeed(50000), &stubDecider{})

	// risk_usd well over the 3% cap, but quantity and leverage drive sizing
	out := eng.openPosition(context.Background(), acct, &decider.Decision{
		Signal: decider.SignalBuyToEnter, Coin: "BTC", Quantity: 0.1, Leverage: 10, RiskUSD: 1000,
	}, model.SideLong, map[string]market.PriceTick{"BTC": {Symbol: "BTC", Price: 50000}})
	require.Equal(t, model.DecisionExecuted, out.status, out.detail)

	pos, err := st.Positions().FindOpen(context.Background(), acct.ID, "BTC")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.InDelta(t, 0.1, pos.Quantity, 1e-9)
	assert.InDelta(t, 500.0, pos.Margin, 1e-9)
	assert.InDelta(t, 45500.0, pos.LiquidationPrice, 1e-9)
}

func TestRejectSecondPositionSameSymbol(t *testing.T) {
	st := newMemStore()
	acct := seedAccount(t, st, 100000)
	eng := newTestEngine(st, btcFeed(50000), &stubDecider{})
	prices := map[string]market.PriceTick{"BTC": {Symbol: "BTC", Price: 50000}}
	dec := &decider.Decision{Signal: decider.SignalBuyToEnter, Coin: "BTC", Quantity: 0.01, Leverage: 5}

	require.Equal(t, model.DecisionExecuted, eng.openPosition(context.Background(), acct, dec, model.SideLong, prices).status)
	out := eng.openPosition(context.Background(), acct, dec, model.SideLong, prices)
	assert.Equal(t, model.DecisionSkipped, out.status)
	assert.Contains(t, out.detail, "already open")

	all, _ := st.Positions().ListAll(context.Background())
	assert.Len(t, all, 1)
}

func TestCloseWithoutPositionIsNoop(t *testing.T) {
	st := newMemStore()
	acct := seedAccount(t, st, 10000)
	eng := newTestEngine(st, btcFeed(50000), &stubDecider{})

	out := eng.applyDecision(context.Background(), acct, &decider.Decision{
		Signal: decider.SignalClose, Coin: "BTC",
	}, map[string]market.PriceTick{"BTC": {Symbol: "BTC", Price: 50000}})
	assert.Equal(t, model.DecisionSkipped, out.status)
	assert.InDelta(t, 10000.0, acct.CurrentBalance, 1e-9)
	trades, _ := st.Trades().ListRecent(context.Background(), 0)
	assert.Empty(t, trades)
}

func TestOpenCloseRoundTrip(t *testing.T) {
	st := newMemStore()
	acct := seedAccount(t, st, 10000)
	eng := newTestEngine(st, btcFeed(50000), &stubDecider{})
	prices := map[string]market.PriceTick{"BTC": {Symbol: "BTC", Price: 50000}}

	require.Equal(t, model.DecisionExecuted, eng.applyDecision(context.Background(), acct, &decider.Decision{
		Signal: decider.SignalBuyToEnter, Coin: "BTC", Quantity: 0.005, Leverage: 10,
	}, prices).status)
	require.Equal(t, model.DecisionExecuted, eng.applyDecision(context.Background(), acct, &decider.Decision{
		Signal: decider.SignalClose, Coin: "BTC",
	}, prices).status)

	assert.InDelta(t, 10000.0, acct.CurrentBalance, 1e-9)
	pos, _ := st.Positions().FindOpen(context.Background(), acct.ID, "BTC")
	assert.Nil(t, pos)
	trades, _ := st.Trades().ListRecent(context.Background(), 0)
	require.Len(t, trades, 1)
	assert.Equal(t, model.TradeClosed, trades[0].Status)
	require.NotNil(t, trades[0].RealizedPnl)
	assert.InDelta(t, 0.0, *trades[0].RealizedPnl, 1e-9)
	require.NotNil(t, trades[0].RealizedPnlPct)
	assert.InDelta(t, 0.0, *trades[0].RealizedPnlPct, 1e-9)
}

func TestUnrealizedPnlSigns(t *testing.T) {
	long := &model.Position{Side: model.SideLong, Quantity: 0.1, EntryPrice: 50000}
	assert.InDelta(t, 500.0, unrealizedPnl(long, 55000), 1e-9)
	assert.InDelta(t, -500.0, unrealizedPnl(long, 45000), 1e-9)

	short := &model.Position{Side: model.SideShort, Quantity: 0.1, EntryPrice: 50000}
	assert.InDelta(t, -500.0, unrealizedPnl(short, 55000), 1e-9)
	assert.InDelta(t, 500.0, unrealizedPnl(short, 45000), 1e-9)
}

func TestRunCycleSingleFlight(t *testing.T) {
	st := newMemStore()
	seedAccount(t, st, 10000)
	dec := &stubDecider{}
	eng := newTestEngine(st, btcFeed(50000), dec)

	eng.running.Store(true)
	require.NoError(t, eng.RunCycle(context.Background()))
	assert.Zero(t, dec.calls)
	logs, _ := st.DecisionLogs().ListRecent(context.Background(), 0)
	assert.Empty(t, logs)
}

func TestRunCycleWritesDecisionLog(t *testing.T) {
	st := newMemStore()
	acct := seedAccount(t, st, 10000)
	dec := &stubDecider{results: []*decider.Result{buyResult("BTC", 0.005, 10, 60000, 48000)}}
	eng := newTestEngine(st, btcFeed(50000), dec)

	require.NoError(t, eng.RunCycle(context.Background()))

	logs, err := st.DecisionLogs().ListByAccount(context.Background(), acct.ID, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.DecisionExecuted, logs[0].Status)
	assert.Equal(t, decider.SignalBuyToEnter, logs[0].Signal)
	assert.NotEmpty(t, logs[0].MarketContext)

	pos, _ := st.Positions().FindOpen(context.Background(), acct.ID, "BTC")
	assert.NotNil(t, pos)
}

func TestRunCycleNoDecisionNoLog(t *testing.T) {
	st := newMemStore()
	seedAccount(t, st, 10000)
	eng := newTestEngine(st, btcFeed(50000), &stubDecider{})

	require.NoError(t, eng.RunCycle(context.Background()))
	logs, _ := st.DecisionLogs().ListRecent(context.Background(), 0)
	assert.Empty(t, logs)
}

func TestExitReasonPriority(t *testing.T) {
	// both profit target and stop loss are satisfied, profit target wins
	long := &model.Position{Side: model.SideLong, ProfitTarget: 52000, StopLoss: 60000, LiquidationPrice: 45500}
	reason, hit := exitReason(long, 55000)
	require.True(t, hit)
	assert.Equal(t, ReasonTakeProfit, reason)

	reason, hit = exitReason(&model.Position{Side: model.SideLong, ProfitTarget: 60000, StopLoss: 48000, LiquidationPrice: 45500}, 47000)
	require.True(t, hit)
	assert.Equal(t, ReasonStopLoss, reason)

	reason, hit = exitReason(&model.Position{Side: model.SideLong, ProfitTarget: 60000, LiquidationPrice: 45500}, 45000)
	require.True(t, hit)
	assert.Equal(t, ReasonLiquidation, reason)

	_, hit = exitReason(&model.Position{Side: model.SideLong, ProfitTarget: 60000, StopLoss: 48000}, 50000)
	assert.False(t, hit)
}

func TestExitReasonShortMirrored(t *testing.T) {
	short := &model.Position{Side: model.SideShort, ProfitTarget: 45000, StopLoss: 55000, LiquidationPrice: 59000}
	reason, hit := exitReason(short, 44000)
	require.True(t, hit)
	assert.Equal(t, ReasonTakeProfit, reason)

	reason, hit = exitReason(short, 56000)
	require.True(t, hit)
	assert.Equal(t, ReasonStopLoss, reason)

	_, hit = exitReason(short, 50000)
	assert.False(t, hit)
}

func TestSweepClosesTriggeredPositions(t *testing.T) {
	st := newMemStore()
	acct := seedAccount(t, st, 10000)
	eng := newTestEngine(st, btcFeed(60000), &stubDecider{})

	require.NoError(t, st.Positions().Create(context.Background(), &model.Position{
		AccountID: acct.ID, Symbol: "BTC", Side: model.SideLong,
		Quantity: 0.005, EntryPrice: 50000, Leverage: 10, Margin: 25,
		ProfitTarget: 55000, StopLoss: 48000, LiquidationPrice: 45500,
		OpenedAt: time.Now(),
	}))
	require.NoError(t, st.Trades().Create(context.Background(), &model.Trade{
		AccountID: acct.ID, Symbol: "BTC", Side: model.SideLong,
		Quantity: 0.005, EntryPrice: 50000, Leverage: 10, Margin: 25,
		Status: model.TradeOpen, OpenedAt: time.Now(),
	}))

	require.NoError(t, eng.SweepPositions(context.Background()))

	pos, _ := st.Positions().FindOpen(context.Background(), acct.ID, "BTC")
	assert.Nil(t, pos)
	trades, _ := st.Trades().ListRecent(context.Background(), 0)
	require.Len(t, trades, 1)
	assert.Equal(t, model.TradeClosed, trades[0].Status)
	assert.Equal(t, ReasonTakeProfit, trades[0].CloseReason)
	require.NotNil(t, trades[0].RealizedPnl)
	assert.InDelta(t, 50.0, *trades[0].RealizedPnl, 1e-9)
	require.NotNil(t, trades[0].RealizedPnlPct)
	assert.InDelta(t, 20.0, *trades[0].RealizedPnlPct, 1e-9)

	// with the position gone the derived balance falls back to initial
	updated, _ := st.Accounts().GetByID(context.Background(), acct.ID)
	assert.InDelta(t, 10000.0, updated.CurrentBalance, 1e-9)
}

func TestSweepLiquidationCapsLossAtMargin(t *testing.T) {
	st := newMemStore()
	acct := seedAccount(t, st, 10000)
	// price gapped far past the liquidation level
	eng := newTestEngine(st, btcFeed(30000), &stubDecider{})

	require.NoError(t, st.Positions().Create(context.Background(), &model.Position{
		AccountID: acct.ID, Symbol: "BTC", Side: model.SideLong,
		Quantity: 0.01, EntryPrice: 50000, Leverage: 10, Margin: 50,
		LiquidationPrice: 45500, OpenedAt: time.Now(),
	}))
	require.NoError(t, st.Trades().Create(context.Background(), &model.Trade{
		AccountID: acct.ID, Symbol: "BTC", Side: model.SideLong,
		Quantity: 0.01, EntryPrice: 50000, Leverage: 10, Margin: 50,
		Status: model.TradeOpen, OpenedAt: time.Now(),
	}))

	require.NoError(t, eng.SweepPositions(context.Background()))

	trades, _ := st.Trades().ListRecent(context.Background(), 0)
	require.Len(t, trades, 1)
	assert.Equal(t, model.TradeLiquidated, trades[0].Status)
	assert.Equal(t, ReasonLiquidation, trades[0].CloseReason)
	require.NotNil(t, trades[0].RealizedPnl)
	assert.InDelta(t, -50.0, *trades[0].RealizedPnl, 1e-9)
	require.NotNil(t, trades[0].RealizedPnlPct)
	assert.InDelta(t, -10.0, *trades[0].RealizedPnlPct, 1e-9)

	updated, _ := st.Accounts().GetByID(context.Background(), acct.ID)
	assert.InDelta(t, 10000.0, updated.CurrentBalance, 1e-9)
}

func TestDerivedBalanceTracksUnrealizedPnl(t *testing.T) {
	st := newMemStore()
	acct := seedAccount(t, st, 10000)
	feed := btcFeed(50000)
	dec := &stubDecider{results: []*decider.Result{
		buyResult("BTC", 0.1, 10, 0, 0),
		holdResult(""),
	}}
	eng := newTestEngine(st, feed, dec)

	require.NoError(t, eng.RunCycle(context.Background()))

	// price moves up, a hold cycle must still mark positions and rewrite
	// the balance as initial plus unrealized P&L
	feed.ticks = []market.PriceTick{{Symbol: "BTC", Price: 55000, Timestamp: time.Now().UnixMilli()}}
	require.NoError(t, eng.RunCycle(context.Background()))

	pos, err := st.Positions().FindOpen(context.Background(), acct.ID, "BTC")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.InDelta(t, 55000.0, pos.CurrentPrice, 1e-9)
	assert.InDelta(t, 500.0, pos.UnrealizedPnl, 1e-9)
	assert.InDelta(t, 10.0, pos.UnrealizedPnlPct, 1e-9)

	updated, _ := st.Accounts().GetByID(context.Background(), acct.ID)
	assert.InDelta(t, 10500.0, updated.CurrentBalance, 1e-9)
}

func TestRefreshFallsBackToLastMarkedPrice(t *testing.T) {
	st := newMemStore()
	acct := seedAccount(t, st, 10000)
	eng := newTestEngine(st, &stubFeed{}, &stubDecider{})

	require.NoError(t, st.Positions().Create(context.Background(), &model.Position{
		AccountID: acct.ID, Symbol: "BTC", Side: model.SideLong,
		Quantity: 0.1, EntryPrice: 50000, Leverage: 10, Margin: 500,
		CurrentPrice: 52000, OpenedAt: time.Now(),
	}))

	// no tick for BTC: the last marked price keeps driving the P&L
	positions, err := eng.refreshPositions(context.Background(), acct.ID, map[string]market.PriceTick{})
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.InDelta(t, 52000.0, positions[0].CurrentPrice, 1e-9)
	assert.InDelta(t, 200.0, positions[0].UnrealizedPnl, 1e-9)
	assert.InDelta(t, 4.0, positions[0].UnrealizedPnlPct, 1e-9)
}

func TestCycleWithoutMarketDataStillProcessesAccounts(t *testing.T) {
	st := newMemStore()
	acct := seedAccount(t, st, 10000)
	dec := &stubDecider{results: []*decider.Result{holdResult("holding until data is back")}}
	eng := newTestEngine(st, &stubFeed{}, dec)

	require.NoError(t, eng.RunCycle(context.Background()))

	logs, _ := st.DecisionLogs().ListByAccount(context.Background(), acct.ID, 0)
	require.Len(t, logs, 1)
	assert.Equal(t, model.DecisionExecuted, logs[0].Status)
}

func TestOpenWithoutMarketDataAbortsAction(t *testing.T) {
	st := newMemStore()
	acct := seedAccount(t, st, 10000)
	dec := &stubDecider{results: []*decider.Result{buyResult("BTC", 0.1, 10, 0, 0)}}
	eng := newTestEngine(st, &stubFeed{}, dec)

	require.NoError(t, eng.RunCycle(context.Background()))

	logs, _ := st.DecisionLogs().ListByAccount(context.Background(), acct.ID, 0)
	require.Len(t, logs, 1)
	assert.Equal(t, model.DecisionFailed, logs[0].Status)
	assert.Contains(t, logs[0].Error, "no market data")

	pos, _ := st.Positions().FindOpen(context.Background(), acct.ID, "BTC")
	assert.Nil(t, pos)
}

func TestDecisionLogTypeAndReasoning(t *testing.T) {
	st := newMemStore()
	acct := seedAccount(t, st, 10000)
	buy := buyResult("BTC", 0.01, 5, 0, 0)
	buy.Decision.Justification = "breakout above resistance"
	dec := &stubDecider{results: []*decider.Result{buy, holdResult("")}}
	eng := newTestEngine(st, btcFeed(50000), dec)

	require.NoError(t, eng.RunCycle(context.Background()))
	require.NoError(t, eng.RunCycle(context.Background()))

	logs, _ := st.DecisionLogs().ListByAccount(context.Background(), acct.ID, 0)
	require.Len(t, logs, 2)
	byType := map[string]model.DecisionLog{}
	for _, l := range logs {
		byType[l.DecisionType] = l
	}
	require.Contains(t, byType, "LONG")
	assert.Equal(t, "breakout above resistance", byType["LONG"].Reasoning)
	require.Contains(t, byType, "HOLD")
	assert.Equal(t, "No reasoning provided", byType["HOLD"].Reasoning)
}

func TestDecisionTypeMapping(t *testing.T) {
	assert.Equal(t, "LONG", decisionType(decider.SignalBuyToEnter))
	assert.Equal(t, "SHORT", decisionType(decider.SignalSellToEnter))
	assert.Equal(t, "CLOSE", decisionType(decider.SignalClose))
	assert.Equal(t, "HOLD", decisionType(decider.SignalHold))
	assert.Equal(t, "HOLD", decisionType("double_down"))
}
