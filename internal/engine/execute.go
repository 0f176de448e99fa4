package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"arena/internal/broadcast"
	"arena/internal/decider"
	"arena/internal/logger"
	"arena/internal/market"
	"arena/internal/store/model"
)

type outcome struct {
	status model.DecisionStatus
	detail string
	err    error
}

func executed() outcome { return outcome{status: model.DecisionExecuted} }

func skipped(reason string) outcome {
	return outcome{status: model.DecisionSkipped, detail: reason}
}

func failed(err error) outcome {
	return outcome{status: model.DecisionFailed, detail: err.Error(), err: err}
}

// aborted marks the action failed without failing the rest of the account's
// cycle. Used for missing market data: only the action keyed on that symbol
// stops, the balance write-back still happens.
func aborted(err error) outcome {
	logger.Errorf("Engine: %v, aborting action", err)
	return outcome{status: model.DecisionFailed, detail: err.Error()}
}

// applyDecision validates and executes one decision against the account.
// The caller holds the account lock.
func (e *Engine) applyDecision(ctx context.Context, acct *model.Account, dec *decider.Decision, prices map[string]market.PriceTick) outcome {
	switch dec.Signal {
	case decider.SignalHold:
		return executed()
	case decider.SignalBuyToEnter:
		return e.openPosition(ctx, acct, dec, model.SideLong, prices)
	case decider.SignalSellToEnter:
		return e.openPosition(ctx, acct, dec, model.SideShort, prices)
	case decider.SignalClose:
		return e.closeBySignal(ctx, acct, dec, prices)
	default:
		return skipped(fmt.Sprintf("unknown signal %q", dec.Signal))
	}
}

func (e *Engine) openPosition(ctx context.Context, acct *model.Account, dec *decider.Decision, side model.PositionSide, prices map[string]market.PriceTick) outcome {
	tick, ok := prices[dec.Coin]
	if !ok || tick.Price <= 0 {
		return aborted(fmt.Errorf("%s: %w", dec.Coin, market.ErrNoMarketData))
	}
	entry := tick.Price
	if dec.Quantity <= 0 {
		return skipped("quantity must be positive")
	}

	existing, err := e.store.Positions().FindOpen(ctx, acct.ID, dec.Coin)
	if err != nil {
		return failed(fmt.Errorf("lookup open position: %w", err))
	}
	if existing != nil {
		return skipped(fmt.Sprintf("position already open for %s", dec.Coin))
	}

	leverage := dec.Leverage
	if leverage < 1 {
		leverage = 1
	}
	if leverage > e.maxLeverage {
		logger.Warnf("Engine: account=%s leverage %d clamped to %d", acct.ModelID, leverage, e.maxLeverage)
		leverage = e.maxLeverage
	}

	e.clampRisk(acct, dec)

	quantity := dec.Quantity
	margin := quantity * entry / float64(leverage)

	now := e.nowFn()
	pos := &model.Position{
		AccountID:             acct.ID,
		Symbol:                dec.Coin,
		Side:                  side,
		Quantity:              quantity,
		EntryPrice:            entry,
		Leverage:              leverage,
		Margin:                margin,
		LiquidationPrice:      e.liquidationPrice(side, entry, leverage),
		ProfitTarget:          dec.ProfitTarget,
		StopLoss:              dec.StopLoss,
		InvalidationCondition: dec.InvalidationCondition,
		Confidence:            dec.Confidence,
		CurrentPrice:          entry,
		OpenedAt:              now,
	}
	if err := e.store.Positions().Create(ctx, pos); err != nil {
		return failed(fmt.Errorf("create position: %w", err))
	}
	trade := &model.Trade{
		AccountID:  acct.ID,
		Symbol:     dec.Coin,
		Side:       side,
		Quantity:   quantity,
		EntryPrice: entry,
		Leverage:   leverage,
		Margin:     margin,
		Status:     model.TradeOpen,
		OpenedAt:   now,
	}
	if err := e.store.Trades().Create(ctx, trade); err != nil {
		return failed(fmt.Errorf("create trade: %w", err))
	}

	logger.Infof("Engine: account=%s opened %s %s qty=%.6f entry=%.2f lev=%dx margin=%.2f liq=%.2f",
		acct.ModelID, side, dec.Coin, quantity, entry, leverage, margin, pos.LiquidationPrice)
	e.publishTrade(acct, trade, "opened")
	return executed()
}

// clampRisk caps the decision's risk_usd at the risk fraction of the current
// balance, mutating the in-memory decision only. Position sizing stays on the
// requested quantity and leverage and is not re-validated against the cap.
func (e *Engine) clampRisk(acct *model.Account, dec *decider.Decision) {
	maxRisk := e.maxRiskFraction * acct.CurrentBalance
	if dec.RiskUSD > maxRisk {
		logger.Warnf("Engine: account=%s risk %.2f exceeds max %.2f, adjusting", acct.ModelID, dec.RiskUSD, maxRisk)
		dec.RiskUSD = maxRisk
	}
}

func (e *Engine) closeBySignal(ctx context.Context, acct *model.Account, dec *decider.Decision, prices map[string]market.PriceTick) outcome {
	pos, err := e.store.Positions().FindOpen(ctx, acct.ID, dec.Coin)
	if err != nil {
		return failed(fmt.Errorf("lookup open position: %w", err))
	}
	if pos == nil {
		return skipped(fmt.Sprintf("no open position for %s", dec.Coin))
	}
	tick, ok := prices[pos.Symbol]
	if !ok || tick.Price <= 0 {
		return aborted(fmt.Errorf("%s: %w", pos.Symbol, market.ErrNoMarketData))
	}
	if err := e.closePosition(ctx, acct, pos, tick.Price, "Model close signal", false); err != nil {
		return failed(err)
	}
	return executed()
}

// closePosition realizes the P&L, removes the position row, and finalizes
// the matching open trade. The caller holds the account lock.
func (e *Engine) closePosition(ctx context.Context, acct *model.Account, pos *model.Position, exitPrice float64, reason string, liquidated bool) error {
	pnl := unrealizedPnl(pos, exitPrice)
	if liquidated && pnl < -pos.Margin {
		// the loss is capped at the posted margin even if price gapped
		// past the liquidation level
		pnl = -pos.Margin
	}
	pnl = round2(pnl)
	var pnlPct float64
	if notional := pos.Quantity * pos.EntryPrice; notional > 0 {
		pnlPct = pnl / notional * 100
	}

	trade, err := e.store.Trades().FindLatestOpen(ctx, acct.ID, pos.Symbol)
	if err != nil {
		return fmt.Errorf("find open trade: %w", err)
	}
	now := e.nowFn()
	if trade != nil {
		trade.ExitPrice = &exitPrice
		trade.RealizedPnl = &pnl
		trade.RealizedPnlPct = &pnlPct
		trade.Status = model.TradeClosed
		if liquidated {
			trade.Status = model.TradeLiquidated
		}
		trade.CloseReason = reason
		trade.ClosedAt = &now
		if err := e.store.Trades().Update(ctx, trade); err != nil {
			return fmt.Errorf("finalize trade: %w", err)
		}
	} else {
		logger.Warnf("Engine: no open trade found for account=%s symbol=%s, closing position anyway", acct.ID, pos.Symbol)
	}

	if err := e.store.Positions().Delete(ctx, pos.ID); err != nil {
		return fmt.Errorf("delete position: %w", err)
	}

	// The balance is derived, not a cash ledger: with the position gone it
	// falls back to initial plus whatever the remaining positions carry.
	remaining, err := e.store.Positions().ListByAccount(ctx, acct.ID)
	if err != nil {
		return fmt.Errorf("list positions: %w", err)
	}
	acct.CurrentBalance = derivedBalance(acct, remaining)
	logger.Infof("Engine: account=%s closed %s %s exit=%.2f pnl=%.2f reason=%q",
		acct.ModelID, pos.Side, pos.Symbol, exitPrice, pnl, reason)
	if trade != nil {
		e.publishTrade(acct, trade, "closed")
	}
	return nil
}

// liquidationPrice places the liquidation level at the point where the loss
// eats the maintenance fraction of the margin.
func (e *Engine) liquidationPrice(side model.PositionSide, entry float64, leverage int) float64 {
	offset := entry * e.maintenanceFraction / float64(leverage)
	if side == model.SideShort {
		return entry + offset
	}
	return entry - offset
}

func (e *Engine) publishTrade(acct *model.Account, trade *model.Trade, event string) {
	if e.broadcaster == nil {
		return
	}
	e.broadcaster.Publish(broadcast.TradeTopic(acct.ModelID), map[string]any{
		"event": event,
		"trade": trade,
	})
}

func round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}
