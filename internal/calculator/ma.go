package calculator

import (
	"errors"

	"RotationSentinel/internal/model"
)

// CalculateSMA computes the simple moving average of the last `period` prices.
// An error means the average is not available.
func CalculateSMA(prices []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, errors.New("period must be positive")
	}
	if len(prices) < period {
		return 0, errors.New("not enough data for SMA calculation")
	}
	sum := 0.0
	for i := len(prices) - period; i < len(prices); i++ {
		sum += prices[i]
	}
	return sum / float64(period), nil
}

// Closes extracts closing prices in bar order.
func Closes(bars []model.DailyBar) []float64 {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	return closes
}

// Amounts extracts traded amounts in bar order.
func Amounts(bars []model.DailyBar) []float64 {
	amounts := make([]float64, len(bars))
	for i, b := range bars {
		amounts[i] = b.Amount
	}
	return amounts
}
