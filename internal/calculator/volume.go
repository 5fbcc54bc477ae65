package calculator

// VolumeRatio is today's value over the mean of history. Zero when history is
// empty or its mean is not positive.
func VolumeRatio(todayValue float64, history []float64) float64 {
	if len(history) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range history {
		sum += v
	}
	avg := sum / float64(len(history))
	if avg <= 0 {
		return 0
	}
	return todayValue / avg
}

// HasRecentDrop reports whether any single-day close ratio inside the trailing
// `days` window falls below threshold (0.97 means a drop of more than 3%).
func HasRecentDrop(closes []float64, days int, threshold float64) bool {
	if days <= 0 || len(closes) < days+1 {
		return false
	}
	tail := closes[len(closes)-days-1:]
	for i := 1; i < len(tail); i++ {
		if tail[i-1] > 0 && tail[i]/tail[i-1] < threshold {
			return true
		}
	}
	return false
}
