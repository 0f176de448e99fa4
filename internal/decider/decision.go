package decider

import "time"

// Signal values a model may return. Anything else reaches the engine and is
// logged there as an unrecognized signal.
const (
	SignalBuyToEnter  = "buy_to_enter"
	SignalSellToEnter = "sell_to_enter"
	SignalHold        = "hold"
	SignalClose       = "close"
)

// Decision is the structured trading decision extracted from a model reply.
type Decision struct {
	Signal                string  `json:"signal"`
	Coin                  string  `json:"coin,omitempty"`
	Quantity              float64 `json:"quantity,omitempty"`
	Leverage              int     `json:"leverage,omitempty"`
	ProfitTarget          float64 `json:"profit_target,omitempty"`
	StopLoss              float64 `json:"stop_loss,omitempty"`
	InvalidationCondition string  `json:"invalidation_condition,omitempty"`
	Justification         string  `json:"justification,omitempty"`
	Confidence            float64 `json:"confidence,omitempty"`
	RiskUSD               float64 `json:"risk_usd,omitempty"`
}

// Result carries one parsed decision plus the raw material for audit logs.
type Result struct {
	Decision  Decision
	RawJSON   string // extracted JSON object text
	RawOutput string // full model output
	Latency   time.Duration
}
