package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"arena/internal/broadcast"
	"arena/internal/decider"
	"arena/internal/logger"
	"arena/internal/market"
	"arena/internal/prompt"
	"arena/internal/store"
	"arena/internal/store/model"
)

// Decider produces one trading decision per call. A nil result means the
// upstream call or parsing failed and the account sits this cycle out.
type Decider interface {
	Decide(ctx context.Context, modelID, systemPrompt, userPrompt string) *decider.Result
}

type Params struct {
	Store       store.Store
	Feed        market.Feed
	Decider     Decider
	Broadcaster broadcast.Publisher
	Prompts     *prompt.Builder

	MaxLeverage         int
	MaxRiskFraction     float64
	MaintenanceFraction float64

	// NowFn is swappable for tests. Defaults to time.Now.
	NowFn func() time.Time
}

// Engine runs the decision cycles and exit sweeps for every active account.
type Engine struct {
	store       store.Store
	feed        market.Feed
	decider     Decider
	broadcaster broadcast.Publisher
	prompts     *prompt.Builder

	maxLeverage         int
	maxRiskFraction     float64
	maintenanceFraction float64
	nowFn               func() time.Time

	startedAt time.Time
	running   atomic.Bool

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewEngine(p Params) *Engine {
	nowFn := p.NowFn
	if nowFn == nil {
		nowFn = time.Now
	}
	maxLev := p.MaxLeverage
	if maxLev <= 0 {
		maxLev = 20
	}
	riskFrac := p.MaxRiskFraction
	if riskFrac <= 0 {
		riskFrac = 0.03
	}
	maintFrac := p.MaintenanceFraction
	if maintFrac <= 0 {
		maintFrac = 0.9
	}
	return &Engine{
		store:               p.Store,
		feed:                p.Feed,
		decider:             p.Decider,
		broadcaster:         p.Broadcaster,
		prompts:             p.Prompts,
		maxLeverage:         maxLev,
		maxRiskFraction:     riskFrac,
		maintenanceFraction: maintFrac,
		nowFn:               nowFn,
		startedAt:           nowFn(),
		locks:               make(map[string]*sync.Mutex),
	}
}

// accountLock serializes decision cycles and sweeps touching the same account.
func (e *Engine) accountLock(accountID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[accountID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[accountID] = lock
	}
	return lock
}

// RunCycle executes one decision cycle across all active accounts. Overlapping
// invocations are rejected: if a cycle is already in flight the call is a no-op.
func (e *Engine) RunCycle(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		logger.Warnf("Engine: previous cycle still running, skipping")
		return nil
	}
	defer e.running.Store(false)

	cycleID := uuid.NewString()
	accounts, err := e.store.Accounts().ListByStatus(ctx, model.AccountActive)
	if err != nil {
		return fmt.Errorf("engine: list active accounts: %w", err)
	}
	if len(accounts) == 0 {
		logger.Debugf("Engine: no active accounts, cycle %s is a no-op", cycleID)
		return nil
	}

	// An empty snapshot is not a reason to sit the cycle out: holds and
	// position bookkeeping still work, only actions needing a price abort.
	prices := e.priceSnapshot()
	if len(prices) == 0 {
		logger.Warnf("Engine: no market data yet for cycle %s", cycleID)
	}

	logger.Infof("Engine: cycle %s starting accounts=%d", cycleID, len(accounts))
	for i := range accounts {
		acct := &accounts[i]
		if err := e.processAccount(ctx, cycleID, acct, prices); err != nil {
			logger.Errorf("Engine: cycle %s account=%s error: %v", cycleID, acct.ModelID, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func (e *Engine) processAccount(ctx context.Context, cycleID string, acct *model.Account, prices map[string]market.PriceTick) error {
	lock := e.accountLock(acct.ID)
	lock.Lock()
	defer lock.Unlock()

	// Once an account's turn starts it runs to completion: a shutdown must
	// not abandon a paid model call or leave a pending log unfinalized. The
	// cycle loop stops taking new accounts instead.
	ctx = context.WithoutCancel(ctx)

	positions, err := e.refreshPositions(ctx, acct.ID, prices)
	if err != nil {
		return fmt.Errorf("refresh positions: %w", err)
	}

	metrics := e.accountMetrics(acct, positions)
	acct.CurrentBalance = metrics.CurrentBalance
	userPrompt := e.prompts.BuildUserPrompt(e.promptAccount(metrics, positions), prices)
	systemPrompt := acct.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = prompt.DefaultSystemPrompt()
	}

	result := e.decider.Decide(ctx, acct.ModelID, systemPrompt, userPrompt)
	if result == nil {
		logger.Warnf("Engine: account=%s returned no usable decision, skipping", acct.ModelID)
		return nil
	}

	reasoning := result.Decision.Justification
	if reasoning == "" {
		reasoning = "No reasoning provided"
	}
	dlog := &model.DecisionLog{
		AccountID:    acct.ID,
		CycleID:      cycleID,
		Signal:       result.Decision.Signal,
		DecisionType: decisionType(result.Decision.Signal),
		Coin:         result.Decision.Coin,
		Reasoning:    reasoning,
		Status:       model.DecisionPending,
		RawOutput:    result.RawOutput,
		LatencyMS:    result.Latency.Milliseconds(),
	}
	dlog.Decision = datatypes.JSON(result.RawJSON)
	if b, err := json.Marshal(marketContext(prices)); err == nil {
		dlog.MarketContext = datatypes.JSON(b)
	}
	if b, err := json.Marshal(metrics); err == nil {
		dlog.AccountContext = datatypes.JSON(b)
	}
	if err := e.store.DecisionLogs().Create(ctx, dlog); err != nil {
		return fmt.Errorf("create decision log: %w", err)
	}

	outcome := e.applyDecision(ctx, acct, &result.Decision, prices)
	dlog.Status = outcome.status
	dlog.Error = outcome.detail
	if err := e.store.DecisionLogs().Update(ctx, dlog); err != nil {
		logger.Errorf("Engine: finalize decision log id=%d: %v", dlog.ID, err)
	}
	if outcome.err != nil {
		return outcome.err
	}

	if err := e.store.Accounts().UpdateBalance(ctx, acct.ID, acct.CurrentBalance); err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	e.broadcastAccount(ctx, acct, prices)
	return nil
}

// refreshPositions marks every position of the account to the latest price.
func (e *Engine) refreshPositions(ctx context.Context, accountID string, prices map[string]market.PriceTick) ([]model.Position, error) {
	positions, err := e.store.Positions().ListByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	for i := range positions {
		pos := &positions[i]
		// fall back to the last marked price when the feed has no tick
		price := pos.CurrentPrice
		if tick, ok := prices[pos.Symbol]; ok && tick.Price > 0 {
			price = tick.Price
		}
		if price <= 0 {
			continue
		}
		pnl := unrealizedPnl(pos, price)
		if price == pos.CurrentPrice && pnl == pos.UnrealizedPnl {
			continue
		}
		pos.CurrentPrice = price
		pos.UnrealizedPnl = pnl
		pos.UnrealizedPnlPct = unrealizedPnlPct(pos, price)
		if err := e.store.Positions().Update(ctx, pos); err != nil {
			logger.Errorf("Engine: update position id=%d: %v", pos.ID, err)
		}
	}
	return positions, nil
}

type accountMetricsData struct {
	CurrentBalance float64 `json:"current_balance"`
	InitialBalance float64 `json:"initial_balance"`
	TotalReturnPct float64 `json:"total_return_pct"`
	UsedMargin     float64 `json:"used_margin"`
	AvailableCash  float64 `json:"available_cash"`
	UnrealizedPnl  float64 `json:"unrealized_pnl"`
	OpenPositions  int     `json:"open_positions"`
}

func (e *Engine) accountMetrics(acct *model.Account, positions []model.Position) accountMetricsData {
	var usedMargin, unrealized float64
	for i := range positions {
		usedMargin += positions[i].Margin
		unrealized += positions[i].UnrealizedPnl
	}
	// The balance is recomputed from scratch every cycle, it is a view over
	// the open positions rather than a running cash ledger.
	balance := derivedBalance(acct, positions)
	available := balance - usedMargin
	if available < 0 {
		available = 0
	}
	returnPct := 0.0
	if acct.InitialBalance > 0 {
		returnPct = (balance - acct.InitialBalance) / acct.InitialBalance * 100
	}
	return accountMetricsData{
		CurrentBalance: balance,
		InitialBalance: acct.InitialBalance,
		TotalReturnPct: returnPct,
		UsedMargin:     usedMargin,
		AvailableCash:  available,
		UnrealizedPnl:  unrealized,
		OpenPositions:  len(positions),
	}
}

// derivedBalance is initial balance plus the unrealized P&L of every open
// position.
func derivedBalance(acct *model.Account, positions []model.Position) float64 {
	var unrealized float64
	for i := range positions {
		unrealized += positions[i].UnrealizedPnl
	}
	return round2(acct.InitialBalance + unrealized)
}

func (e *Engine) promptAccount(metrics accountMetricsData, positions []model.Position) prompt.AccountData {
	data := prompt.AccountData{
		CurrentBalance: metrics.CurrentBalance,
		InitialBalance: metrics.InitialBalance,
		TotalReturnPct: metrics.TotalReturnPct,
		AvailableCash:  metrics.AvailableCash,
		TradingMinutes: int64(e.nowFn().Sub(e.startedAt).Minutes()),
	}
	for i := range positions {
		pos := &positions[i]
		current := pos.CurrentPrice
		if current <= 0 {
			current = pos.EntryPrice
		}
		data.Positions = append(data.Positions, prompt.PositionData{
			Symbol:                pos.Symbol,
			Side:                  string(pos.Side),
			Quantity:              pos.Quantity,
			EntryPrice:            pos.EntryPrice,
			CurrentPrice:          current,
			Leverage:              pos.Leverage,
			UnrealizedPnl:         pos.UnrealizedPnl,
			LiquidationPrice:      pos.LiquidationPrice,
			ProfitTarget:          pos.ProfitTarget,
			StopLoss:              pos.StopLoss,
			InvalidationCondition: pos.InvalidationCondition,
			Confidence:            pos.Confidence,
		})
	}
	return data
}

func (e *Engine) priceSnapshot() map[string]market.PriceTick {
	ticks := e.feed.AllSnapshots()
	prices := make(map[string]market.PriceTick, len(ticks))
	for _, t := range ticks {
		prices[t.Symbol] = t
	}
	return prices
}

func marketContext(prices map[string]market.PriceTick) []market.PriceTick {
	ticks := make([]market.PriceTick, 0, len(prices))
	for _, t := range prices {
		ticks = append(ticks, t)
	}
	return ticks
}

func (e *Engine) broadcastAccount(ctx context.Context, acct *model.Account, prices map[string]market.PriceTick) {
	if e.broadcaster == nil {
		return
	}
	positions, err := e.store.Positions().ListByAccount(ctx, acct.ID)
	if err != nil {
		logger.Errorf("Engine: broadcast list positions: %v", err)
		return
	}
	metrics := e.accountMetrics(acct, positions)
	e.broadcaster.Publish(broadcast.AccountTopic(acct.ModelID), map[string]any{
		"account_id": acct.ID,
		"model_id":   acct.ModelID,
		"metrics":    metrics,
		"positions":  positions,
	})
}

func unrealizedPnl(pos *model.Position, price float64) float64 {
	diff := price - pos.EntryPrice
	if pos.Side == model.SideShort {
		diff = -diff
	}
	return diff * pos.Quantity
}

// unrealizedPnlPct is the per-unit move relative to the entry price, signed
// by side.
func unrealizedPnlPct(pos *model.Position, price float64) float64 {
	if pos.EntryPrice <= 0 {
		return 0
	}
	diff := price - pos.EntryPrice
	if pos.Side == model.SideShort {
		diff = -diff
	}
	return diff / pos.EntryPrice * 100
}

// decisionType is the direction label stored on the audit log for a signal.
func decisionType(signal string) string {
	switch signal {
	case decider.SignalBuyToEnter:
		return "LONG"
	case decider.SignalSellToEnter:
		return "SHORT"
	case decider.SignalClose:
		return "CLOSE"
	default:
		return "HOLD"
	}
}
