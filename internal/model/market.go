package model

import "time"

// Instrument identifies a tradable fund by exchange code and display name.
type Instrument struct {
	Code string `json:"code" yaml:"code"`
	Name string `json:"name" yaml:"name"`
}

// DailyBar represents a single trading day. Date is midnight of the market calendar day.
type DailyBar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
	Amount float64   `json:"amount"`
}

// DayKey returns the bar's calendar day in compact form, e.g. "20260219".
func (b DailyBar) DayKey() string {
	return b.Date.Format("20060102")
}
