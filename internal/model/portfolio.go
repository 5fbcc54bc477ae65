package model

import (
	"fmt"
	"math"
	"time"
)

// Holding is one position in the user's brokerage account.
type Holding struct {
	ID        string    `json:"id"`
	Name      string    `json:"stock_name"`
	Shares    int       `json:"shares"`
	CostPrice float64   `json:"cost_price"`
	AddedAt   time.Time `json:"added_at"`

	// Optional values captured by a screenshot import.
	CurrentPrice *float64 `json:"current_price,omitempty"`
	MarketValue  *float64 `json:"market_value,omitempty"`
}

// TotalCost is shares times cost price.
func (h Holding) TotalCost() float64 {
	return float64(h.Shares) * h.CostPrice
}

// DisplayMarketValue prefers the imported market value and falls back to cost.
func (h Holding) DisplayMarketValue() float64 {
	if h.MarketValue != nil {
		return *h.MarketValue
	}
	return h.TotalCost()
}

// Category tells which sub-account a holding belongs to.
type Category string

const (
	CategoryStrategy Category = "strategy"
	CategoryFreePlay Category = "freePlay"
	CategoryMixed    Category = "mixed"
)

// Action is the advice attached to a holding.
type Action string

const (
	ActionHold   Action = "hold"
	ActionBuy    Action = "buy"
	ActionSell   Action = "sell"
	ActionAdd    Action = "add"
	ActionReduce Action = "reduce"
	ActionMatch  Action = "match"
	ActionAdjust Action = "adjust"
)

// ClassifiedHolding splits a holding between the strategy and discretionary sub-accounts.
// StrategyShares + FreePlayShares always equals Holding.Shares.
type ClassifiedHolding struct {
	Holding               Holding
	Category              Category
	StrategyShares        int
	FreePlayShares        int
	Action                Action // empty when no action applies
	SuggestedReduceShares int    // set only with ActionAdjust
}

// Advice is one compact recommendation line.
type Advice struct {
	InstrumentName string  `json:"instrument_name"`
	Action         Action  `json:"action"`
	CurrentShares  int     `json:"current_shares"`
	TargetShares   int     `json:"target_shares"`
	CurrentValue   float64 `json:"current_value"`
	TargetValue    float64 `json:"target_value"`
	Reason         string  `json:"reason"`
}

// StrategyConfig splits total capital across the three sub-accounts.
type StrategyConfig struct {
	StrategyPercent float64 `json:"strategy_percent" yaml:"strategy_percent"`
	FreePlayPercent float64 `json:"free_play_percent" yaml:"free_play_percent"`
	CashPercent     float64 `json:"cash_percent" yaml:"cash_percent"`
}

// DefaultStrategyConfig allocates 80% to the strategy and keeps 20% cash.
func DefaultStrategyConfig() StrategyConfig {
	return StrategyConfig{StrategyPercent: 0.8, FreePlayPercent: 0, CashPercent: 0.2}
}

// Validate requires non-negative percentages summing to 1.
func (c StrategyConfig) Validate() error {
	if c.StrategyPercent < 0 || c.FreePlayPercent < 0 || c.CashPercent < 0 {
		return fmt.Errorf("%w: allocation percentages must be non-negative", ErrInvalidConfiguration)
	}
	sum := c.StrategyPercent + c.FreePlayPercent + c.CashPercent
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("%w: allocation percentages sum to %.4f, want 1.0", ErrInvalidConfiguration, sum)
	}
	return nil
}

// HoldingSnapshot is one position inside a daily snapshot.
type HoldingSnapshot struct {
	Name       string   `json:"stock_name"`
	Shares     int      `json:"shares"`
	CostPrice  float64  `json:"cost_price"`
	ClosePrice *float64 `json:"close_price,omitempty"` // nil before the close is known
}

// MarketValue uses the close when known, cost otherwise.
func (h HoldingSnapshot) MarketValue() float64 {
	if h.ClosePrice != nil {
		return float64(h.Shares) * *h.ClosePrice
	}
	return float64(h.Shares) * h.CostPrice
}

// DailySnapshot records the portfolio at the end of a day.
type DailySnapshot struct {
	Date         string            `json:"date"` // 2006-01-02
	Holdings     []HoldingSnapshot `json:"holdings"`
	TotalCapital float64           `json:"total_capital"`
	CashBalance  float64           `json:"cash_balance"`
}

// TotalAssets is market value plus cash.
func (s DailySnapshot) TotalAssets() float64 {
	total := s.CashBalance
	for _, h := range s.Holdings {
		total += h.MarketValue()
	}
	return total
}

// Portfolio is the persisted user state.
type Portfolio struct {
	Holdings       []Holding       `json:"holdings"`
	TotalCapital   float64         `json:"total_capital"`
	CashBalance    float64         `json:"cash_balance"`
	Snapshots      []DailySnapshot `json:"snapshots"`
	StrategyConfig StrategyConfig  `json:"strategy_config"`
	LastUpdated    *time.Time      `json:"last_updated,omitempty"`
}

// StrategyBudget is the capital allocated to the rotation strategy.
func (p Portfolio) StrategyBudget() float64 {
	return p.TotalCapital * p.StrategyConfig.StrategyPercent
}

// FreePlayBudget is the capital the user manages on their own.
func (p Portfolio) FreePlayBudget() float64 {
	return p.TotalCapital * p.StrategyConfig.FreePlayPercent
}

// CashBudget is the capital kept in cash.
func (p Portfolio) CashBudget() float64 {
	return p.TotalCapital * p.StrategyConfig.CashPercent
}

// ImportRow is one holding recognized by an external import step.
type ImportRow struct {
	Name         string   `json:"name"`
	Shares       int      `json:"shares"`
	CostPrice    float64  `json:"cost_price"`
	CurrentPrice *float64 `json:"current_price,omitempty"`
	MarketValue  *float64 `json:"market_value,omitempty"`
}

// ImportSummary carries optional account totals from an import.
type ImportSummary struct {
	TotalAssets *float64 `json:"total_assets,omitempty"`
	CashBalance *float64 `json:"cash_balance,omitempty"`
}
