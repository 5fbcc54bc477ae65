package calculator

import "math"

// TradingDaysPerYear is used to annualize daily log slopes.
const TradingDaysPerYear = 250

// Regression is the result of a weighted least-squares fit against 0..n-1.
type Regression struct {
	Slope     float64
	Intercept float64
	RSquared  float64
}

// WeightedLinearRegression fits values against their index with the given weights.
// Nil weights mean equal weighting. RSquared is 0 when n < 2 or the weighted
// total sum of squares is 0.
func WeightedLinearRegression(values, weights []float64) Regression {
	n := len(values)
	if n < 2 {
		return Regression{}
	}
	if weights == nil {
		weights = make([]float64, n)
		for i := range weights {
			weights[i] = 1
		}
	}
	if len(weights) != n {
		return Regression{}
	}

	var sumW, sumWX, sumWY, sumWXX, sumWXY float64
	for i, y := range values {
		x := float64(i)
		w := weights[i]
		sumW += w
		sumWX += w * x
		sumWY += w * y
		sumWXX += w * x * x
		sumWXY += w * x * y
	}

	denom := sumW*sumWXX - sumWX*sumWX
	if denom == 0 {
		return Regression{}
	}
	slope := (sumW*sumWXY - sumWX*sumWY) / denom
	intercept := (sumWY - slope*sumWX) / sumW

	meanY := sumWY / sumW
	var ssRes, ssTot float64
	for i, y := range values {
		fit := slope*float64(i) + intercept
		ssRes += weights[i] * (y - fit) * (y - fit)
		ssTot += weights[i] * (y - meanY) * (y - meanY)
	}
	r2 := 0.0
	if ssTot > 0 {
		r2 = 1 - ssRes/ssTot
	}
	return Regression{Slope: slope, Intercept: intercept, RSquared: r2}
}

// LogPriceRegression regresses log closes over the trailing lookbackDays+1
// points, weighting the newest point double the oldest.
func LogPriceRegression(closes []float64, lookbackDays int) Regression {
	start := len(closes) - (lookbackDays + 1)
	if start < 0 {
		start = 0
	}
	recent := closes[start:]
	n := len(recent)
	if n < 2 {
		return Regression{}
	}
	logs := make([]float64, n)
	weights := make([]float64, n)
	for i, c := range recent {
		if c <= 0 {
			return Regression{}
		}
		logs[i] = math.Log(c)
		weights[i] = 1 + float64(i)/float64(n-1)
	}
	return WeightedLinearRegression(logs, weights)
}

// AnnualizedReturn converts the weighted log-price slope into a yearly return.
func AnnualizedReturn(closes []float64, lookbackDays int) float64 {
	reg := LogPriceRegression(closes, lookbackDays)
	return AnnualizeSlope(reg.Slope)
}

// AnnualizeSlope turns a daily log slope into a compounded yearly return.
func AnnualizeSlope(slope float64) float64 {
	return math.Exp(slope*TradingDaysPerYear) - 1
}

// AnnualizeReturn compounds a return earned over `days` trading days to a year.
func AnnualizeReturn(totalReturn float64, days int) float64 {
	if days <= 0 {
		return 0
	}
	return math.Pow(1+totalReturn, float64(TradingDaysPerYear)/float64(days)) - 1
}
