package prompt

import (
	"fmt"
	"strings"

	"arena/internal/market"
)

// PositionData is one open position as shown to the model.
type PositionData struct {
	Symbol                string
	Side                  string
	Quantity              float64
	EntryPrice            float64
	CurrentPrice          float64
	Leverage              int
	UnrealizedPnl         float64
	LiquidationPrice      float64
	ProfitTarget          float64
	StopLoss              float64
	InvalidationCondition string
	Confidence            float64
}

// AccountData is the account block rendered into the user prompt.
type AccountData struct {
	CurrentBalance float64
	InitialBalance float64
	TotalReturnPct float64
	AvailableCash  float64
	TradingMinutes int64
	SharpeRatio    *float64
	Positions      []PositionData
}

// Builder renders the exact prompt text sent upstream. The layout is a
// contract with the models; change it only in lockstep with their prompts.
type Builder struct {
	symbols       []string
	highPrecision map[string]bool
}

func NewBuilder(symbols, highPrecisionSymbols []string) *Builder {
	hp := make(map[string]bool, len(highPrecisionSymbols))
	for _, s := range highPrecisionSymbols {
		hp[strings.ToUpper(strings.TrimSpace(s))] = true
	}
	ordered := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if t := strings.ToUpper(strings.TrimSpace(s)); t != "" {
			ordered = append(ordered, t)
		}
	}
	return &Builder{symbols: ordered, highPrecision: hp}
}

// BuildUserPrompt is pure given the price snapshots and account state.
func (b *Builder) BuildUserPrompt(account AccountData, prices map[string]market.PriceTick) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "It has been %d minutes since you started trading.\n\n", account.TradingMinutes)
	sb.WriteString("Below, we are providing you with market data, price data, and signals so you can make informed trading decisions.\n\n")
	sb.WriteString("**ALL PRICE AND SIGNAL DATA IS ORDERED: OLDEST → NEWEST**\n\n")
	sb.WriteString("---\n\n")

	sb.WriteString("### CURRENT MARKET STATE FOR ALL COINS\n\n")
	for _, sym := range b.symbols {
		tick := prices[sym]
		fmt.Fprintf(&sb, "**%s**: ", sym)
		fmt.Fprintf(&sb, "Price = $%s, ", b.formatPrice(sym, tick.Price))
		fmt.Fprintf(&sb, "24h Change = %+.2f%%, ", tick.Change24h)
		fmt.Fprintf(&sb, "24h Volume = $%s\n", formatLargeNumber(tick.Volume24h))
	}

	sb.WriteString("\n---\n\n")

	sb.WriteString("### YOUR ACCOUNT INFORMATION & PERFORMANCE\n\n")
	fmt.Fprintf(&sb, "Current Total Return: %.2f%%\n\n", account.TotalReturnPct)
	fmt.Fprintf(&sb, "Available Cash: $%.2f\n\n", account.AvailableCash)
	fmt.Fprintf(&sb, "**Current Account Value:** $%.2f\n\n", account.CurrentBalance)

	if len(account.Positions) > 0 {
		sb.WriteString("Current live positions & performance:\n")
		for _, pos := range account.Positions {
			b.writePosition(&sb, pos)
		}
	} else {
		sb.WriteString("No current positions.\n\n")
	}

	if account.SharpeRatio != nil {
		fmt.Fprintf(&sb, "Sharpe Ratio: %.3f\n", *account.SharpeRatio)
	}

	sb.WriteString("\n---\n\n")
	sb.WriteString(b.tradingInstructions())

	return sb.String()
}

func (b *Builder) writePosition(sb *strings.Builder, pos PositionData) {
	notional := pos.Quantity * pos.CurrentPrice
	sb.WriteString("{\n")
	fmt.Fprintf(sb, "  'symbol': '%s',\n", pos.Symbol)
	fmt.Fprintf(sb, "  'side': '%s',\n", pos.Side)
	fmt.Fprintf(sb, "  'quantity': %v,\n", pos.Quantity)
	fmt.Fprintf(sb, "  'entry_price': %v,\n", pos.EntryPrice)
	fmt.Fprintf(sb, "  'current_price': %v,\n", pos.CurrentPrice)
	fmt.Fprintf(sb, "  'liquidation_price': %v,\n", pos.LiquidationPrice)
	fmt.Fprintf(sb, "  'unrealized_pnl': %.2f,\n", pos.UnrealizedPnl)
	fmt.Fprintf(sb, "  'leverage': %d,\n", pos.Leverage)
	if pos.ProfitTarget > 0 {
		sb.WriteString("  'exit_plan': {\n")
		fmt.Fprintf(sb, "    'profit_target': %v,\n", pos.ProfitTarget)
		fmt.Fprintf(sb, "    'stop_loss': %v,\n", pos.StopLoss)
		cond := pos.InvalidationCondition
		if cond == "" {
			cond = "None"
		}
		fmt.Fprintf(sb, "    'invalidation_condition': '%s'\n", cond)
		sb.WriteString("  },\n")
	}
	if pos.Confidence > 0 {
		fmt.Fprintf(sb, "  'confidence': %v,\n", pos.Confidence)
	}
	fmt.Fprintf(sb, "  'notional_usd': %.2f\n", notional)
	sb.WriteString("}\n\n")
}

func (b *Builder) formatPrice(symbol string, price float64) string {
	if b.highPrecision[symbol] {
		return fmt.Sprintf("%.4f", price)
	}
	return fmt.Sprintf("%.2f", price)
}

func formatLargeNumber(num float64) string {
	switch {
	case num >= 1e9:
		return fmt.Sprintf("%.2fB", num/1e9)
	case num >= 1e6:
		return fmt.Sprintf("%.2fM", num/1e6)
	case num >= 1e3:
		return fmt.Sprintf("%.2fK", num/1e3)
	default:
		return fmt.Sprintf("%.2f", num)
	}
}

func (b *Builder) tradingInstructions() string {
	assets := strings.Join(b.symbols, ", ")
	quoted := make([]string, 0, len(b.symbols))
	for _, s := range b.symbols {
		quoted = append(quoted, fmt.Sprintf("%q", s))
	}
	coinEnum := strings.Join(quoted, " | ")

	return `### TRADING INSTRUCTIONS

**Your Goal:** Maximize profit and loss (PnL) through systematic cryptocurrency trading.

**Action Space:**
- buy_to_enter: Open a LONG position (bet on price rising)
- sell_to_enter: Open a SHORT position (bet on price falling)
- hold: Do nothing, maintain current positions
- close: Close an existing position

**Tradable Assets:** ` + assets + `

**Position Requirements:**
You must return a JSON object with your decision. For buy_to_enter or sell_to_enter:

{
  "signal": "buy_to_enter" | "sell_to_enter" | "hold" | "close",
  "coin": ` + coinEnum + `,
  "quantity": <number>,
  "leverage": <1-20>,
  "profit_target": <price>,
  "stop_loss": <price>,
  "invalidation_condition": "<specific condition that voids this trade>",
  "justification": "<2-3 sentence explanation>",
  "confidence": <0.0-1.0>,
  "risk_usd": <USD amount at risk>
}

**Risk Management:**
- Maximum leverage: 20x
- Maximum position risk: 3% of account value per trade
- Always set profit targets and stop losses
- Consider liquidation prices carefully
- Account for trading fees (~0.05% per trade)

**Position Sizing:**
- Calculate position size based on available cash and leverage
- Risk amount should be: (entry_price - stop_loss) * quantity
- Ensure total exposure doesn't exceed account balance * max_leverage

**Important Notes:**
- You are trading perpetual futures (derivatives with leverage)
- Leverage amplifies both gains and losses
- Set clear invalidation conditions (e.g., "BTC breaks below $105,000")
- Always provide justification for your decisions
- Consider market conditions and your existing positions
- Don't over-trade - quality over quantity
- Use your Sharpe ratio to normalize for risk

**Response Format:**
Respond ONLY with a valid JSON object. Do not include any other text or markdown formatting.
`
}

// DefaultSystemPrompt is used when an account does not carry its own.
func DefaultSystemPrompt() string {
	return `You are an expert cryptocurrency trader managing a portfolio with the goal of maximizing risk-adjusted returns.

You will receive:
1. Current market data (prices, volume, changes)
2. Your account balance and performance metrics
3. Current open positions (if any)

You must:
1. Analyze the market data carefully
2. Consider your existing positions
3. Make ONE trading decision per call
4. Follow strict risk management rules
5. Provide clear justification for your decisions

Trading Philosophy:
- Use systematic, data-driven decision making
- Manage risk carefully with position sizing and stop losses
- Consider both technical signals and market context
- Don't over-leverage or take excessive risk
- Quality setups over frequent trading
- Always have clear entry, exit, and invalidation criteria

Risk Management Rules:
- Never risk more than 3% of account value on a single trade
- Always set stop losses and profit targets
- Consider liquidation prices when using leverage
- Account for fees in your calculations
- Diversify across assets when appropriate

Output Format:
You must respond with a valid JSON object containing your trading decision.
For "hold" or "close" signals, still provide the full object structure but the action fields can be minimal.

Remember: You are trading with real capital. Be disciplined, patient, and systematic.`
}
