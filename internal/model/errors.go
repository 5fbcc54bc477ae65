package model

import "errors"

var (
	// Data source failures.
	ErrNetworkFailure = errors.New("network failure")
	ErrRateLimited    = errors.New("rate limited")
	ErrNoData         = errors.New("no data")
	ErrDecodeFailure  = errors.New("decode failure")

	// Engine outcomes.
	ErrDataUnavailable     = errors.New("data unavailable")
	ErrAllSourcesFailed    = errors.New("all sources failed")
	ErrInsufficientHistory = errors.New("insufficient history")

	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrAllTiersFailed is returned when every signal provider failed.
	ErrAllTiersFailed = errors.New("all signal providers failed")
)

// ErrorKind maps an error onto a short taxonomy label for logs and metrics.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrNoData):
		return "no_data"
	case errors.Is(err, ErrDecodeFailure):
		return "decode_failure"
	case errors.Is(err, ErrNetworkFailure):
		return "network_failure"
	case errors.Is(err, ErrDataUnavailable):
		return "data_unavailable"
	case errors.Is(err, ErrAllSourcesFailed):
		return "all_sources_failed"
	default:
		return "other"
	}
}
