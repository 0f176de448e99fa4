package config

import (
	"fmt"
	"strings"
)

func validate(c *Config) error {
	switch strings.ToLower(c.Market.Strategy) {
	case "stream", "poll":
	default:
		return fmt.Errorf("market.strategy must be \"stream\" or \"poll\", got %q", c.Market.Strategy)
	}
	for _, sym := range c.Market.Symbols {
		if strings.TrimSpace(sym) == "" {
			return fmt.Errorf("market.symbols contains an empty entry")
		}
	}
	if c.Engine.MaxRiskFraction <= 0 || c.Engine.MaxRiskFraction >= 1 {
		return fmt.Errorf("engine.max_risk_fraction must be in (0,1), got %v", c.Engine.MaxRiskFraction)
	}
	if c.Engine.MaintenanceFraction <= 0 || c.Engine.MaintenanceFraction >= 1 {
		return fmt.Errorf("engine.maintenance_fraction must be in (0,1), got %v", c.Engine.MaintenanceFraction)
	}
	if c.Engine.MaxLeverage < 1 {
		return fmt.Errorf("engine.max_leverage must be >= 1, got %d", c.Engine.MaxLeverage)
	}
	if c.Engine.SweepIntervalSeconds >= c.Engine.CycleIntervalSeconds {
		// Sweep is the fast loop; a slower sweep defeats stop-loss monitoring.
		return fmt.Errorf("engine.sweep_interval_seconds (%d) must be shorter than cycle_interval_seconds (%d)",
			c.Engine.SweepIntervalSeconds, c.Engine.CycleIntervalSeconds)
	}
	return nil
}
