package collector

import (
	"context"
	"fmt"
	"time"

	"RotationSentinel/internal/model"
)

// Fetcher supplies daily bars for one instrument over an inclusive date range.
// Failures wrap model.ErrNetworkFailure, model.ErrRateLimited, model.ErrNoData
// or model.ErrDecodeFailure.
type Fetcher interface {
	FetchDailyBars(ctx context.Context, code string, start, end time.Time) ([]model.DailyBar, error)
	Name() string
}

// New builds the fetcher named by provider: tushare, yahoo or mock.
func New(provider, baseURL, token, proxyURL string, loc *time.Location) (Fetcher, error) {
	switch provider {
	case "tushare":
		return NewTushareFetcher(baseURL, token, proxyURL, loc), nil
	case "yahoo":
		return NewYahooFetcher(proxyURL, loc), nil
	case "mock":
		return &MockFetcher{Location: loc}, nil
	default:
		return nil, fmt.Errorf("%w: unknown data provider %q", model.ErrInvalidConfiguration, provider)
	}
}
