package notifier

import (
	"fmt"
	"html"
	"strings"

	"github.com/dustin/go-humanize"

	"RotationSentinel/internal/model"
	"RotationSentinel/internal/reconciler"
)

var providerLabels = map[string]string{
	"remote": "云端信号",
	"stored": "上次信号",
	"local":  "本地计算",
}

var actionLabels = map[model.Action]string{
	model.ActionHold:   "持有",
	model.ActionBuy:    "买入",
	model.ActionSell:   "卖出",
	model.ActionAdd:    "加仓",
	model.ActionReduce: "减仓",
	model.ActionMatch:  "符合",
	model.ActionAdjust: "调仓",
}

var categoryLabels = map[model.Category]string{
	model.CategoryStrategy: "策略仓",
	model.CategoryFreePlay: "自选仓",
	model.CategoryMixed:    "混合",
}

func yuan(v float64) string {
	return "¥" + humanize.CommafWithDigits(v, 2)
}

func shares(n int) string {
	return humanize.Comma(int64(n)) + " 股"
}

// FormatSignal formats the daily rotation signal into a Telegram message.
func FormatSignal(sig *model.Signal, provider string) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("📊 <b>轮动信号</b> | %s", sig.Date))
	if label, ok := providerLabels[provider]; ok {
		b.WriteString(fmt.Sprintf(" (%s)", label))
	}
	b.WriteString("\n\n")

	if sig.Status == model.StatusDefensive {
		b.WriteString(fmt.Sprintf("🛡 <b>防御模式</b>: 持有 %s\n", html.EscapeString(sig.DefensiveInstrument)))
	} else {
		b.WriteString("🎯 <b>目标持仓:</b>\n")
		for i, t := range sig.TargetHoldings {
			b.WriteString(fmt.Sprintf("  %d. %s", i+1, html.EscapeString(t.Name)))
			if t.Code != "" {
				b.WriteString(fmt.Sprintf(" (%s)", t.Code))
			}
			if t.Score != nil {
				b.WriteString(fmt.Sprintf(" 评分 %.2f", *t.Score))
			}
			if t.CurrentPrice != nil {
				b.WriteString(fmt.Sprintf(" 现价 %.3f", *t.CurrentPrice))
			}
			b.WriteString("\n")
		}
	}
	if sig.Message != "" {
		b.WriteString(fmt.Sprintf("\n%s\n", html.EscapeString(sig.Message)))
	}
	return b.String()
}

// FormatEvaluations explains how each candidate fared in the filter chain.
func FormatEvaluations(evals []model.Evaluation) string {
	if len(evals) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("🔎 <b>候选评估:</b>\n")
	for _, ev := range evals {
		name := html.EscapeString(ev.Instrument.Name)
		switch {
		case ev.Accepted():
			b.WriteString(fmt.Sprintf("  ✅ %s 评分 %.2f (年化 %+.1f%%, R² %.2f)\n",
				name, ev.Score.Score, ev.Score.AnnualizedReturn*100, ev.Score.RSquared))
		case ev.Score != nil:
			b.WriteString(fmt.Sprintf("  ❌ %s 被 %s 过滤 (评分 %.2f)\n", name, ev.RejectedBy, ev.Score.Score))
		default:
			b.WriteString(fmt.Sprintf("  ❌ %s 被 %s 过滤\n", name, ev.RejectedBy))
		}
	}
	return b.String()
}

// FormatAdvice formats the compact recommendation list.
func FormatAdvice(advice []model.Advice) string {
	var b strings.Builder
	b.WriteString("💰 <b>操作建议:</b>\n")
	if len(advice) == 0 {
		b.WriteString("  无需操作\n")
		return b.String()
	}
	for _, a := range advice {
		b.WriteString(fmt.Sprintf("  [%s] %s: %s → %s",
			actionLabels[a.Action], html.EscapeString(a.InstrumentName), shares(a.CurrentShares), shares(a.TargetShares)))
		if a.TargetValue > 0 {
			b.WriteString(fmt.Sprintf(" (目标 %s)", yuan(a.TargetValue)))
		}
		if a.Reason != "" {
			b.WriteString(fmt.Sprintf("\n      %s", html.EscapeString(a.Reason)))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// FormatClassified lists holdings by sub-account with the suggested action.
func FormatClassified(classified []model.ClassifiedHolding) string {
	var b strings.Builder
	b.WriteString("📋 <b>持仓分类:</b>\n")
	for _, c := range classified {
		b.WriteString(fmt.Sprintf("  %s [%s] %s", html.EscapeString(c.Holding.Name), categoryLabels[c.Category], shares(c.Holding.Shares)))
		if c.Category == model.CategoryMixed {
			b.WriteString(fmt.Sprintf(" (策略 %s / 自选 %s)", shares(c.StrategyShares), shares(c.FreePlayShares)))
		}
		if c.Action != "" {
			b.WriteString(" → " + actionLabels[c.Action])
		}
		if c.Action == model.ActionAdjust {
			b.WriteString(fmt.Sprintf(" 建议减持 %s", shares(c.SuggestedReduceShares)))
		}
		b.WriteString("\n")
	}
	sv, fv := reconciler.Breakdown(classified)
	b.WriteString(fmt.Sprintf("  策略仓成本: %s | 自选仓成本: %s\n", yuan(sv), yuan(fv)))
	return b.String()
}

// FormatPortfolio summarizes capital, allocation and holdings.
func FormatPortfolio(p model.Portfolio) string {
	var b strings.Builder
	b.WriteString("📦 <b>账户状态</b>\n\n")
	b.WriteString(fmt.Sprintf("总资产: %s\n", yuan(p.TotalCapital)))
	b.WriteString(fmt.Sprintf("现金: %s\n", yuan(p.CashBalance)))
	c := p.StrategyConfig
	b.WriteString(fmt.Sprintf("配置: 策略 %.0f%% (%s) | 自选 %.0f%% (%s) | 现金 %.0f%%\n",
		c.StrategyPercent*100, yuan(p.StrategyBudget()), c.FreePlayPercent*100, yuan(p.FreePlayBudget()), c.CashPercent*100))
	if len(p.Holdings) > 0 {
		b.WriteString("\n持仓:\n")
		for _, h := range p.Holdings {
			b.WriteString(fmt.Sprintf("  %s %s @ %.3f 市值 %s\n",
				html.EscapeString(h.Name), shares(h.Shares), h.CostPrice, yuan(h.DisplayMarketValue())))
		}
	}
	if p.LastUpdated != nil {
		b.WriteString(fmt.Sprintf("\n更新时间: %s (%s)\n", p.LastUpdated.Format("2006-01-02 15:04"), humanize.Time(*p.LastUpdated)))
	}
	return b.String()
}
