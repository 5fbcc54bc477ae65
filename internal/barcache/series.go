// Package barcache keeps a bounded, deduplicated window of daily bars per instrument.
package barcache

import (
	"sort"
	"time"

	"RotationSentinel/internal/model"
)

// Series is one instrument's bars, strictly increasing by date.
type Series []model.DailyBar

// Last returns the most recent bar.
func (s Series) Last() (model.DailyBar, bool) {
	if len(s) == 0 {
		return model.DailyBar{}, false
	}
	return s[len(s)-1], true
}

// Merge drops incoming bars whose date is already cached, appends the rest,
// sorts by date and keeps only the newest windowSize bars. The receiver is not modified.
func (s Series) Merge(newBars []model.DailyBar, windowSize int) Series {
	seen := make(map[string]bool, len(s)+len(newBars))
	out := make(Series, 0, len(s)+len(newBars))
	for _, b := range s {
		seen[b.DayKey()] = true
		out = append(out, b)
	}
	for _, b := range newBars {
		key := b.DayKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	if windowSize > 0 && len(out) > windowSize {
		out = append(Series(nil), out[len(out)-windowSize:]...)
	}
	return out
}

// Without returns the series minus the bar dated on day.
func (s Series) Without(day time.Time) Series {
	key := day.Format("20060102")
	out := make(Series, 0, len(s))
	for _, b := range s {
		if b.DayKey() != key {
			out = append(out, b)
		}
	}
	return out
}

// Snapshot maps instrument code to its cached series.
type Snapshot map[string]Series

// Clone returns a deep copy.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for code, series := range s {
		out[code] = append(Series(nil), series...)
	}
	return out
}

// CalendarDay returns midnight of t's calendar day in loc.
func CalendarDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// RefreshStart decides where an incremental fetch begins. An empty series
// requests the full window. Otherwise the fetch restarts at the last cached
// day, which is then replaced so a revised or intraday value wins.
func RefreshStart(s Series, today time.Time, windowSize int) (start time.Time, replace bool) {
	last, ok := s.Last()
	if !ok {
		return today.AddDate(0, 0, -windowSize), false
	}
	day := CalendarDay(last.Date, today.Location())
	if !day.Before(today) {
		return today, true
	}
	return day, true
}

// Apply merges fetched bars into s. When replace is set and the fetch
// returned a bar for start, the cached bar for that day is dropped first.
func Apply(s Series, fetched []model.DailyBar, start time.Time, replace bool, windowSize int) Series {
	if replace {
		key := start.Format("20060102")
		for _, b := range fetched {
			if b.DayKey() == key {
				s = s.Without(start)
				break
			}
		}
	}
	return s.Merge(fetched, windowSize)
}
