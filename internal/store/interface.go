package store

import (
	"context"

	"arena/internal/store/model"
)

// AccountRepository manages the model accounts competing in the arena.
type AccountRepository interface {
	Create(ctx context.Context, account *model.Account) error
	GetByID(ctx context.Context, id string) (*model.Account, error)
	GetByModelID(ctx context.Context, modelID string) (*model.Account, error)
	List(ctx context.Context) ([]model.Account, error)
	ListByStatus(ctx context.Context, status model.AccountStatus) ([]model.Account, error)
	UpdateBalance(ctx context.Context, id string, balance float64) error
	UpdateStatus(ctx context.Context, id string, status model.AccountStatus) error
	Save(ctx context.Context, account *model.Account) error
}

// PositionRepository manages open positions. At most one open position
// exists per (account, symbol) pair.
type PositionRepository interface {
	Create(ctx context.Context, position *model.Position) error
	ListByAccount(ctx context.Context, accountID string) ([]model.Position, error)
	ListAll(ctx context.Context) ([]model.Position, error)
	FindOpen(ctx context.Context, accountID, symbol string) (*model.Position, error)
	Update(ctx context.Context, position *model.Position) error
	Delete(ctx context.Context, id uint) error
}

// TradeRepository records the trade history, open and closed.
type TradeRepository interface {
	Create(ctx context.Context, trade *model.Trade) error
	FindLatestOpen(ctx context.Context, accountID, symbol string) (*model.Trade, error)
	Update(ctx context.Context, trade *model.Trade) error
	ListByAccount(ctx context.Context, accountID string, limit int) ([]model.Trade, error)
	ListRecent(ctx context.Context, limit int) ([]model.Trade, error)
}

// DecisionLogRepository records every model decision with its full context.
type DecisionLogRepository interface {
	Create(ctx context.Context, log *model.DecisionLog) error
	Update(ctx context.Context, log *model.DecisionLog) error
	ListByAccount(ctx context.Context, accountID string, limit int) ([]model.DecisionLog, error)
	ListRecent(ctx context.Context, limit int) ([]model.DecisionLog, error)
}

// Store bundles the repositories behind a single handle.
type Store interface {
	Accounts() AccountRepository
	Positions() PositionRepository
	Trades() TradeRepository
	DecisionLogs() DecisionLogRepository
	Close() error
}
