package model

import (
	"time"

	"gorm.io/datatypes"
)

type AccountStatus string

const (
	AccountActive  AccountStatus = "active"
	AccountPaused  AccountStatus = "paused"
	AccountStopped AccountStatus = "stopped"
)

type TradeStatus string

const (
	TradeOpen       TradeStatus = "open"
	TradeClosed     TradeStatus = "closed"
	TradeLiquidated TradeStatus = "liquidated"
)

type DecisionStatus string

const (
	DecisionPending  DecisionStatus = "pending"
	DecisionExecuted DecisionStatus = "executed"
	DecisionFailed   DecisionStatus = "failed"
	DecisionSkipped  DecisionStatus = "skipped"
)

type PositionSide string

const (
	SideLong  PositionSide = "LONG"
	SideShort PositionSide = "SHORT"
)

// Account is one competing model with its own isolated balance.
type Account struct {
	ID             string        `gorm:"primaryKey;size:36" json:"id"`
	ModelID        string        `gorm:"uniqueIndex;size:128;not null" json:"model_id"`
	Name           string        `gorm:"size:128" json:"name"`
	InitialBalance float64       `gorm:"not null" json:"initial_balance"`
	CurrentBalance float64       `gorm:"not null" json:"current_balance"`
	Status         AccountStatus `gorm:"size:16;default:active;index" json:"status"`
	SystemPrompt   string        `gorm:"type:text" json:"-"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

func (Account) TableName() string { return "accounts" }

// Position is an open leveraged position. Closing deletes the row; the
// matching Trade keeps the history.
type Position struct {
	ID                    uint         `gorm:"primaryKey" json:"id"`
	AccountID             string       `gorm:"size:36;not null;index:idx_positions_account_symbol" json:"account_id"`
	Symbol                string       `gorm:"size:16;not null;index:idx_positions_account_symbol" json:"symbol"`
	Side                  PositionSide `gorm:"size:8;not null" json:"side"`
	Quantity              float64      `gorm:"not null" json:"quantity"`
	EntryPrice            float64      `gorm:"not null" json:"entry_price"`
	Leverage              int          `gorm:"not null" json:"leverage"`
	Margin                float64      `gorm:"not null" json:"margin"`
	LiquidationPrice      float64      `json:"liquidation_price"`
	ProfitTarget          float64      `json:"profit_target"`
	StopLoss              float64      `json:"stop_loss"`
	InvalidationCondition string       `gorm:"type:text" json:"invalidation_condition"`
	Confidence            float64      `json:"confidence"`
	CurrentPrice          float64      `json:"current_price"`
	UnrealizedPnl         float64      `json:"unrealized_pnl"`
	UnrealizedPnlPct      float64      `json:"unrealized_pnl_pct"`
	OpenedAt              time.Time    `json:"opened_at"`
	UpdatedAt             time.Time    `json:"updated_at"`
}

func (Position) TableName() string { return "positions" }

// Trade is the durable record of a position's lifecycle.
type Trade struct {
	ID             uint         `gorm:"primaryKey" json:"id"`
	AccountID      string       `gorm:"size:36;not null;index" json:"account_id"`
	Symbol         string       `gorm:"size:16;not null;index" json:"symbol"`
	Side           PositionSide `gorm:"size:8;not null" json:"side"`
	Quantity       float64      `gorm:"not null" json:"quantity"`
	EntryPrice     float64      `gorm:"not null" json:"entry_price"`
	ExitPrice      *float64     `json:"exit_price,omitempty"`
	Leverage       int          `gorm:"not null" json:"leverage"`
	Margin         float64      `gorm:"not null" json:"margin"`
	RealizedPnl    *float64     `json:"realized_pnl,omitempty"`
	RealizedPnlPct *float64     `json:"realized_pnl_pct,omitempty"`
	Status         TradeStatus  `gorm:"size:16;default:open;index" json:"status"`
	CloseReason    string       `gorm:"size:64" json:"close_reason,omitempty"`
	OpenedAt       time.Time    `json:"opened_at"`
	ClosedAt       *time.Time   `json:"closed_at,omitempty"`
}

func (Trade) TableName() string { return "trades" }

// DecisionLog captures one model call: the context it saw, what it
// answered, and how execution went.
type DecisionLog struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	AccountID      string         `gorm:"size:36;not null;index" json:"account_id"`
	CycleID        string         `gorm:"size:36;index" json:"cycle_id"`
	Signal         string         `gorm:"size:32" json:"signal"`
	DecisionType   string         `gorm:"size:8" json:"decision_type"`
	Coin           string         `gorm:"size:16" json:"coin"`
	Reasoning      string         `gorm:"type:text" json:"reasoning,omitempty"`
	Status         DecisionStatus `gorm:"size:16;default:pending;index" json:"status"`
	Decision       datatypes.JSON `json:"decision,omitempty"`
	MarketContext  datatypes.JSON `json:"market_context,omitempty"`
	AccountContext datatypes.JSON `json:"account_context,omitempty"`
	RawOutput      string         `gorm:"type:text" json:"raw_output,omitempty"`
	Error          string         `gorm:"type:text" json:"error,omitempty"`
	LatencyMS      int64          `json:"latency_ms"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func (DecisionLog) TableName() string { return "decision_logs" }
