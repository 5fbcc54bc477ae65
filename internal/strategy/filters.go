package strategy

import (
	"RotationSentinel/internal/calculator"
	"RotationSentinel/internal/config"
	"RotationSentinel/internal/model"
)

// Step names, in pipeline order.
const (
	StepVolumeSpike    = "volume_spike"
	StepRSIOverbought  = "rsi_overbought"
	StepShortMomentum  = "short_momentum"
	StepScore          = "score"
	StepStopLoss       = "stop_loss"
	StepScoreRange     = "score_range"
	insufficientSample = "insufficient_history"
)

// scoringContext is shared by every step evaluating one candidate.
type scoringContext struct {
	params       config.Strategy
	bars         []model.DailyBar
	closes       []float64
	currentPrice float64

	scored     bool
	regression calculator.Regression
	annualized float64
	score      float64
}

func (c *scoringContext) result(inst model.Instrument) *model.Score {
	return &model.Score{
		Instrument:       inst,
		Score:            c.score,
		AnnualizedReturn: c.annualized,
		RSquared:         c.regression.RSquared,
		CurrentPrice:     c.currentPrice,
	}
}

// Step is one named stage of the candidate pipeline. Check returns false to reject.
type Step struct {
	Name    string
	Enabled func(p config.Strategy) bool
	Check   func(c *scoringContext) bool
}

func always(config.Strategy) bool { return true }

// Pipeline returns the ordered filter chain. The first rejection stops evaluation.
func Pipeline() []Step {
	return []Step{
		{Name: StepVolumeSpike, Enabled: func(p config.Strategy) bool { return p.EnableVolumeCheck }, Check: checkVolumeSpike},
		{Name: StepRSIOverbought, Enabled: func(p config.Strategy) bool { return p.UseRSIFilter }, Check: checkRSIOverbought},
		{Name: StepShortMomentum, Enabled: func(p config.Strategy) bool { return p.UseShortMomentumFilter }, Check: checkShortMomentum},
		{Name: StepScore, Enabled: always, Check: computeScore},
		{Name: StepStopLoss, Enabled: always, Check: checkStopLoss},
		{Name: StepScoreRange, Enabled: always, Check: checkScoreRange},
	}
}

// checkVolumeSpike rejects a turnover spike that comes with an already steep
// trend: the move is likely exhausted.
func checkVolumeSpike(c *scoringContext) bool {
	p := c.params
	amounts := calculator.Amounts(c.bars)
	if len(amounts) <= p.VolumeLookback+1 {
		return true
	}
	today := amounts[len(amounts)-1]
	history := amounts[len(amounts)-1-p.VolumeLookback : len(amounts)-1]
	if calculator.VolumeRatio(today, history) <= p.VolumeThreshold {
		return true
	}
	return calculator.AnnualizedReturn(c.closes, p.LookbackDays) <= p.VolumeReturnLimit
}

// checkRSIOverbought rejects a candidate that was overbought recently and now
// trades below its 5-day average.
func checkRSIOverbought(c *scoringContext) bool {
	p := c.params
	rsi := calculator.CalculateRSI(c.closes, p.RSIPeriod)
	if len(rsi) < p.RSILookbackDays {
		return true
	}
	above := false
	for _, v := range rsi[len(rsi)-p.RSILookbackDays:] {
		if v > p.RSIThreshold {
			above = true
			break
		}
	}
	ma5, err := calculator.CalculateSMA(c.closes, 5)
	if err != nil {
		ma5 = c.currentPrice
	}
	return !(above && c.currentPrice < ma5)
}

func checkShortMomentum(c *scoringContext) bool {
	p := c.params
	n := len(c.closes)
	if n < p.ShortLookbackDays+1 {
		return true
	}
	base := c.closes[n-p.ShortLookbackDays-1]
	if base <= 0 {
		return false
	}
	shortReturn := c.currentPrice/base - 1
	return calculator.AnnualizeReturn(shortReturn, p.ShortLookbackDays) >= p.ShortMomentumThreshold
}

// computeScore weights the annualized log-price trend by its fit quality.
func computeScore(c *scoringContext) bool {
	c.regression = calculator.LogPriceRegression(c.closes, c.params.LookbackDays)
	c.annualized = calculator.AnnualizeSlope(c.regression.Slope)
	c.score = c.annualized * c.regression.RSquared
	c.scored = true
	return true
}

func checkStopLoss(c *scoringContext) bool {
	return !calculator.HasRecentDrop(c.closes, c.params.StopLossDays, c.params.StopLossRatio)
}

func checkScoreRange(c *scoringContext) bool {
	return c.score > c.params.MinScoreThreshold && c.score < c.params.MaxScoreThreshold
}

// Evaluate runs one candidate through the pipeline and explains the outcome.
func Evaluate(params config.Strategy, inst model.Instrument, bars []model.DailyBar) model.Evaluation {
	return evaluateWith(Pipeline(), params, inst, bars)
}

func evaluateWith(steps []Step, params config.Strategy, inst model.Instrument, bars []model.DailyBar) model.Evaluation {
	ev := model.Evaluation{Instrument: inst}
	if len(bars) < params.LookbackDays+1 {
		ev.RejectedBy = insufficientSample
		return ev
	}

	closes := calculator.Closes(bars)
	c := &scoringContext{
		params:       params,
		bars:         bars,
		closes:       closes,
		currentPrice: closes[len(closes)-1],
	}
	for _, step := range steps {
		if !step.Enabled(params) {
			continue
		}
		ev.Steps = append(ev.Steps, step.Name)
		if !step.Check(c) {
			ev.RejectedBy = step.Name
			if c.scored {
				ev.Score = c.result(inst)
			}
			return ev
		}
	}
	ev.Score = c.result(inst)
	return ev
}
