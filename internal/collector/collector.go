package collector

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"RotationSentinel/internal/model"
)

// MockFetcher returns controllable data for development and testing.
// Instruments with entries in Bars are served from them; instruments in
// Errors fail; anything else gets a deterministic synthetic series.
type MockFetcher struct {
	Bars     map[string][]model.DailyBar
	Errors   map[string]error
	Location *time.Location

	mu    sync.Mutex
	calls []string
}

func (m *MockFetcher) Name() string { return "mock" }

func (m *MockFetcher) FetchDailyBars(ctx context.Context, code string, start, end time.Time) ([]model.DailyBar, error) {
	m.mu.Lock()
	m.calls = append(m.calls, code)
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := m.Errors[code]; ok {
		return nil, err
	}
	if bars, ok := m.Bars[code]; ok {
		var out []model.DailyBar
		for _, b := range bars {
			if !b.Date.Before(dayStart(start)) && !b.Date.After(end) {
				out = append(out, b)
			}
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("%w: %s %s..%s", model.ErrNoData, code, start.Format("20060102"), end.Format("20060102"))
		}
		return out, nil
	}
	return generateMockBars(code, start, end, m.location()), nil
}

// Calls returns the instrument codes requested so far, in order.
func (m *MockFetcher) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockFetcher) location() *time.Location {
	if m.Location != nil {
		return m.Location
	}
	return time.UTC
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// generateMockBars emits one weekday bar per day with a gentle, code-specific drift.
func generateMockBars(code string, start, end time.Time, loc *time.Location) []model.DailyBar {
	h := fnv.New32a()
	h.Write([]byte(code))
	seed := h.Sum32()
	base := 1 + float64(seed%500)/100
	drift := (float64(seed%7) - 3) * 0.001

	var bars []model.DailyBar
	d := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
	epoch := time.Date(2020, 1, 1, 0, 0, 0, 0, loc)
	for !d.After(end) {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			n := float64(d.Sub(epoch).Hours() / 24)
			p := base * math.Exp(drift*n/10)
			bars = append(bars, model.DailyBar{
				Date:   d,
				Open:   p * 0.999,
				High:   p * 1.005,
				Low:    p * 0.995,
				Close:  p,
				Volume: 1000000,
				Amount: p * 1000000,
			})
		}
		d = d.AddDate(0, 0, 1)
	}
	return bars
}
