package model

import (
	"encoding/json"
	"fmt"
)

// SignalStatus tells whether the strategy rotates into ranked funds or parks in the defensive one.
type SignalStatus string

const (
	StatusRotation  SignalStatus = "rotation"
	StatusDefensive SignalStatus = "defensive"
)

// UnmarshalText accepts "signal" as a legacy spelling of rotation.
func (s *SignalStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case "rotation", "signal":
		*s = StatusRotation
	case "defensive":
		*s = StatusDefensive
	default:
		return fmt.Errorf("unknown signal status %q", string(text))
	}
	return nil
}

// Score is the momentum result for one candidate. Recomputed every run.
type Score struct {
	Instrument       Instrument
	Score            float64
	AnnualizedReturn float64
	RSquared         float64
	CurrentPrice     float64
}

// TargetHolding is one fund the signal wants held. Price and score are optional on the wire.
type TargetHolding struct {
	Code         string   `json:"etf,omitempty"`
	Name         string   `json:"etf_name"`
	Score        *float64 `json:"score,omitempty"`
	CurrentPrice *float64 `json:"current_price,omitempty"`
}

// Instrument returns the identity of the target.
func (t TargetHolding) Instrument() Instrument {
	return Instrument{Code: t.Code, Name: t.Name}
}

// Signal is the daily rotation recommendation.
type Signal struct {
	Date                string          `json:"date"`
	Status              SignalStatus    `json:"status"`
	TargetHoldings      []TargetHolding `json:"target_holdings"`
	DefensiveInstrument string          `json:"defensive_etf,omitempty"`
	GeneratedAt         string          `json:"generated_at,omitempty"`
	Message             string          `json:"message,omitempty"`
}

// Validate checks that target holdings are empty exactly when the signal is defensive.
func (s *Signal) Validate() error {
	switch s.Status {
	case StatusDefensive:
		if len(s.TargetHoldings) != 0 {
			return fmt.Errorf("%w: defensive signal carries %d targets", ErrDecodeFailure, len(s.TargetHoldings))
		}
	case StatusRotation:
		if len(s.TargetHoldings) == 0 {
			return fmt.Errorf("%w: rotation signal without targets", ErrDecodeFailure)
		}
	default:
		return fmt.Errorf("%w: missing signal status", ErrDecodeFailure)
	}
	return nil
}

// DecodeSignal parses and validates a serialized signal.
func DecodeSignal(data []byte) (*Signal, error) {
	var sig Signal
	if err := json.Unmarshal(data, &sig); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	if err := sig.Validate(); err != nil {
		return nil, err
	}
	return &sig, nil
}

// Evaluation explains how one candidate went through the filter chain.
type Evaluation struct {
	Instrument Instrument
	Steps      []string // names of the steps evaluated, in order
	RejectedBy string   // empty when the candidate survived
	Score      *Score
}

// Accepted reports whether the candidate survived every step.
func (e Evaluation) Accepted() bool {
	return e.RejectedBy == "" && e.Score != nil
}
