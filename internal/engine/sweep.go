package engine

import (
	"context"

	"arena/internal/logger"
	"arena/internal/store/model"
)

// Close reasons reported on swept trades.
const (
	ReasonTakeProfit  = "Take profit hit"
	ReasonStopLoss    = "Stop loss hit"
	ReasonLiquidation = "Liquidation"
)

// SweepPositions checks every open position against its exit levels and
// closes the ones that triggered. A failure on one position never blocks
// the rest of the sweep.
func (e *Engine) SweepPositions(ctx context.Context) error {
	positions, err := e.store.Positions().ListAll(ctx)
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		return nil
	}
	prices := e.priceSnapshot()

	for i := range positions {
		pos := &positions[i]
		tick, ok := prices[pos.Symbol]
		if !ok || tick.Price <= 0 {
			continue
		}
		reason, hit := exitReason(pos, tick.Price)
		if !hit {
			continue
		}
		if err := e.sweepClose(ctx, pos, tick.Price, reason); err != nil {
			logger.Errorf("Engine: sweep close account=%s symbol=%s: %v", pos.AccountID, pos.Symbol, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func (e *Engine) sweepClose(ctx context.Context, pos *model.Position, price float64, reason string) error {
	lock := e.accountLock(pos.AccountID)
	lock.Lock()
	defer lock.Unlock()

	// re-read under the lock, a decision cycle may have closed it already
	current, err := e.store.Positions().FindOpen(ctx, pos.AccountID, pos.Symbol)
	if err != nil {
		return err
	}
	if current == nil || current.ID != pos.ID {
		return nil
	}

	acct, err := e.store.Accounts().GetByID(ctx, pos.AccountID)
	if err != nil {
		return err
	}
	if acct == nil {
		logger.Warnf("Engine: sweep found position for unknown account %s", pos.AccountID)
		return nil
	}

	if err := e.closePosition(ctx, acct, current, price, reason, reason == ReasonLiquidation); err != nil {
		return err
	}
	return e.store.Accounts().UpdateBalance(ctx, acct.ID, acct.CurrentBalance)
}

// exitReason checks the exit levels in priority order. Profit target wins
// over stop loss, stop loss wins over liquidation.
func exitReason(pos *model.Position, price float64) (string, bool) {
	if pos.Side == model.SideShort {
		switch {
		case pos.ProfitTarget > 0 && price <= pos.ProfitTarget:
			return ReasonTakeProfit, true
		case pos.StopLoss > 0 && price >= pos.StopLoss:
			return ReasonStopLoss, true
		case pos.LiquidationPrice > 0 && price >= pos.LiquidationPrice:
			return ReasonLiquidation, true
		}
		return "", false
	}
	switch {
	case pos.ProfitTarget > 0 && price >= pos.ProfitTarget:
		return ReasonTakeProfit, true
	case pos.StopLoss > 0 && price <= pos.StopLoss:
		return ReasonStopLoss, true
	case pos.LiquidationPrice > 0 && price <= pos.LiquidationPrice:
		return ReasonLiquidation, true
	}
	return "", false
}
