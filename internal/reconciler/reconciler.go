// Package reconciler compares the user's holdings with a Signal and turns the
// gap into per-holding classifications and advice. Everything here is pure.
package reconciler

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"RotationSentinel/internal/model"
)

const (
	// LotSize is the minimum tradable share increment.
	LotSize = 100
	// RatioTolerance is how far a strategy holding's share of capital may
	// drift from the target percentage before a trade is suggested.
	RatioTolerance = 0.03
	// FreePlayOverflow is the tolerated overshoot of the discretionary budget.
	FreePlayOverflow = 1.05
	// MinAffordableFraction: below this fraction of the shortfall in cash, an
	// add is not suggested.
	MinAffordableFraction = 0.1
)

var lot = decimal.NewFromInt(LotSize)

// floorToLot rounds value/price down to whole lots.
func floorToLot(value, price float64) int {
	if value <= 0 || price <= 0 {
		return 0
	}
	shares := decimal.NewFromFloat(value).Div(decimal.NewFromFloat(price))
	return int(shares.Div(lot).Floor().Mul(lot).IntPart())
}

// TargetShares is the whole-lot position the strategy budget buys at price.
func TargetShares(p model.Portfolio, price float64) int {
	return floorToLot(p.StrategyBudget(), price)
}

// decision is the outcome of comparing one strategy holding with its target.
type decision struct {
	action       model.Action
	currentValue float64
	currentRatio float64
	targetRatio  float64
}

func decide(p model.Portfolio, h model.Holding, targetPrice float64) decision {
	price := targetPrice
	if h.CurrentPrice != nil && *h.CurrentPrice > 0 {
		price = *h.CurrentPrice
	}
	d := decision{
		currentValue: float64(h.Shares) * price,
		targetRatio:  p.StrategyConfig.StrategyPercent,
	}
	if p.TotalCapital <= 0 {
		// Without capital there is no meaningful ratio; keep the position.
		d.action = model.ActionMatch
		d.currentRatio = d.targetRatio
		return d
	}
	d.currentRatio = d.currentValue / p.TotalCapital
	targetValue := p.StrategyBudget()

	switch {
	case math.Abs(d.currentRatio-d.targetRatio) < RatioTolerance:
		d.action = model.ActionMatch
	case d.currentValue < targetValue:
		if p.CashBalance < (targetValue-d.currentValue)*MinAffordableFraction {
			d.action = model.ActionMatch
		} else {
			d.action = model.ActionAdd
		}
	default:
		d.action = model.ActionReduce
	}
	return d
}

func targetsByName(sig *model.Signal) map[string]model.TargetHolding {
	out := make(map[string]model.TargetHolding, len(sig.TargetHoldings))
	for _, t := range sig.TargetHoldings {
		out[t.Name] = t
	}
	return out
}

func freePlay(h model.Holding) model.ClassifiedHolding {
	return model.ClassifiedHolding{Holding: h, Category: model.CategoryFreePlay, FreePlayShares: h.Shares}
}

// Classify splits every holding between the strategy and discretionary
// sub-accounts and attaches an action. A nil signal classifies everything
// as discretionary. The discretionary budget check runs as a second pass.
func Classify(p model.Portfolio, sig *model.Signal) []model.ClassifiedHolding {
	out := make([]model.ClassifiedHolding, 0, len(p.Holdings))
	if sig == nil {
		for _, h := range p.Holdings {
			out = append(out, freePlay(h))
		}
		return out
	}

	targets := targetsByName(sig)
	for _, h := range p.Holdings {
		target, ok := targets[h.Name]
		switch {
		case ok:
			if target.CurrentPrice == nil || *target.CurrentPrice <= 0 {
				out = append(out, freePlay(h))
				continue
			}
			targetShares := TargetShares(p, *target.CurrentPrice)
			c := model.ClassifiedHolding{
				Holding:        h,
				Category:       model.CategoryStrategy,
				StrategyShares: min(h.Shares, targetShares),
				FreePlayShares: max(0, h.Shares-targetShares),
				Action:         decide(p, h, *target.CurrentPrice).action,
			}
			if c.FreePlayShares > 0 {
				c.Category = model.CategoryMixed
			}
			out = append(out, c)
		case sig.DefensiveInstrument != "" && h.Name == sig.DefensiveInstrument:
			out = append(out, model.ClassifiedHolding{
				Holding:        h,
				Category:       model.CategoryStrategy,
				StrategyShares: h.Shares,
				Action:         model.ActionHold,
			})
		default:
			out = append(out, freePlay(h))
		}
	}
	return Rebalance(p, out)
}

// Rebalance suggests trimming discretionary holdings when together they
// exceed the discretionary budget by more than the tolerated overflow. The
// excess is spread in proportion to each holding's market value.
func Rebalance(p model.Portfolio, classified []model.ClassifiedHolding) []model.ClassifiedHolding {
	budget := p.FreePlayBudget()
	var actual float64
	for _, c := range classified {
		if c.Category == model.CategoryFreePlay {
			actual += c.Holding.DisplayMarketValue()
		}
	}
	if actual <= 0 || actual <= budget*FreePlayOverflow {
		return classified
	}

	excess := actual - budget
	for i := range classified {
		c := &classified[i]
		if c.Category != model.CategoryFreePlay {
			continue
		}
		price := c.Holding.CostPrice
		if c.Holding.CurrentPrice != nil && *c.Holding.CurrentPrice > 0 {
			price = *c.Holding.CurrentPrice
		}
		share := c.Holding.DisplayMarketValue() / actual
		if reduce := floorToLot(excess*share, price); reduce > 0 {
			c.Action = model.ActionAdjust
			c.SuggestedReduceShares = reduce
		}
	}
	return classified
}

// Breakdown sums strategy and discretionary value at cost.
func Breakdown(classified []model.ClassifiedHolding) (strategyValue, freePlayValue float64) {
	for _, c := range classified {
		strategyValue += float64(c.StrategyShares) * c.Holding.CostPrice
		freePlayValue += float64(c.FreePlayShares) * c.Holding.CostPrice
	}
	return strategyValue, freePlayValue
}

// Advise lists what to buy, adjust or sell to follow sig. Targets without a
// price are skipped. Holdings outside the signal follow their Classify
// result: with no discretionary sub-account they are sold, and inside one
// they are left alone unless the budget check asked for a trim. The
// defensive instrument is never sold.
func Advise(p model.Portfolio, sig *model.Signal) []model.Advice {
	if sig == nil {
		return nil
	}

	current := make(map[string]model.Holding, len(p.Holdings))
	for _, h := range p.Holdings {
		current[h.Name] = h
	}

	var advice []model.Advice
	for _, t := range sig.TargetHoldings {
		if t.CurrentPrice == nil || *t.CurrentPrice <= 0 {
			delete(current, t.Name)
			continue
		}
		price := *t.CurrentPrice
		targetShares := TargetShares(p, price)
		targetValue := float64(targetShares) * price

		h, held := current[t.Name]
		if !held {
			advice = append(advice, model.Advice{
				InstrumentName: t.Name,
				Action:         model.ActionBuy,
				TargetShares:   targetShares,
				TargetValue:    targetValue,
				Reason:         "策略推荐买入",
			})
			continue
		}
		delete(current, t.Name)

		d := decide(p, h, price)
		a := model.Advice{
			InstrumentName: t.Name,
			Action:         d.action,
			CurrentShares:  h.Shares,
			TargetShares:   targetShares,
			CurrentValue:   h.TotalCost(),
			TargetValue:    targetValue,
		}
		switch d.action {
		case model.ActionAdd:
			a.Reason = fmt.Sprintf("需加仓 %d 股", targetShares-h.Shares)
		case model.ActionReduce:
			a.Reason = fmt.Sprintf("需减仓 %d 股", h.Shares-targetShares)
		default:
			if math.Abs(d.currentRatio-d.targetRatio) < RatioTolerance {
				a.Reason = fmt.Sprintf("持仓比例符合目标（%.1f%% vs %.1f%%）", d.currentRatio*100, d.targetRatio*100)
			} else {
				a.Reason = "现金不足，保持当前持仓"
			}
		}
		advice = append(advice, a)
	}

	classified := make(map[string]model.ClassifiedHolding, len(p.Holdings))
	for _, c := range Classify(p, sig) {
		classified[c.Holding.Name] = c
	}
	// Walk holdings in order so the output is stable.
	for _, h := range p.Holdings {
		if _, ok := current[h.Name]; !ok || h.Name == sig.DefensiveInstrument {
			continue
		}
		delete(current, h.Name)
		c := classified[h.Name]
		if c.Category != model.CategoryFreePlay {
			continue
		}
		switch {
		case p.StrategyConfig.FreePlayPercent <= 0:
			advice = append(advice, model.Advice{
				InstrumentName: h.Name,
				Action:         model.ActionSell,
				CurrentShares:  h.Shares,
				CurrentValue:   h.TotalCost(),
				Reason:         "不在策略推荐中，建议卖出",
			})
		case c.Action == model.ActionAdjust:
			advice = append(advice, model.Advice{
				InstrumentName: h.Name,
				Action:         model.ActionAdjust,
				CurrentShares:  h.Shares,
				TargetShares:   h.Shares - c.SuggestedReduceShares,
				CurrentValue:   h.TotalCost(),
				Reason:         fmt.Sprintf("自由仓超出预算，建议减仓 %d 股", c.SuggestedReduceShares),
			})
		}
	}
	return advice
}
