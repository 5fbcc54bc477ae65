package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"RotationSentinel/internal/model"
)

// YahooFetcher implements Fetcher using the Yahoo Finance chart API.
type YahooFetcher struct {
	BaseURL  string
	Client   *http.Client
	Location *time.Location
}

// NewYahooFetcher creates a new Yahoo Finance fetcher.
func NewYahooFetcher(proxyURL string, loc *time.Location) *YahooFetcher {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if loc == nil {
		loc = time.FixedZone("CST", 8*3600)
	}
	return &YahooFetcher{
		BaseURL:  "https://query1.finance.yahoo.com",
		Location: loc,
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}
}

func (f *YahooFetcher) Name() string { return "yahoo" }

// yahooSymbol maps exchange codes to Yahoo tickers: Shanghai is ".SS" there.
func yahooSymbol(code string) string {
	if strings.HasSuffix(code, ".SH") {
		return strings.TrimSuffix(code, ".SH") + ".SS"
	}
	return code
}

// yahooChart is the response structure from Yahoo Finance chart API.
type yahooChart struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []interface{} `json:"open"`
					High   []interface{} `json:"high"`
					Low    []interface{} `json:"low"`
					Close  []interface{} `json:"close"`
					Volume []interface{} `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func toFloat(values []interface{}, i int) float64 {
	if i >= len(values) || values[i] == nil {
		return 0
	}
	switch n := values[i].(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}

// FetchDailyBars requests the inclusive [start, end] range. Amount is
// approximated as close*volume because the chart API has no turnover field.
func (f *YahooFetcher) FetchDailyBars(ctx context.Context, code string, start, end time.Time) ([]model.DailyBar, error) {
	u := fmt.Sprintf("%s/v8/finance/chart/%s?interval=1d&period1=%d&period2=%d",
		f.BaseURL, url.PathEscape(yahooSymbol(code)), start.Unix(), end.AddDate(0, 0, 1).Unix())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := f.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: yahoo fetch: %v", model.ErrNetworkFailure, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: yahoo read body: %v", model.ErrNetworkFailure, err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: yahoo %s", model.ErrRateLimited, code)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: yahoo %s not found", model.ErrNoData, code)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: yahoo: status %d, body: %s", model.ErrNetworkFailure, resp.StatusCode, string(body))
	}

	var chart yahooChart
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, fmt.Errorf("%w: yahoo decode: %v", model.ErrDecodeFailure, err)
	}
	if chart.Chart.Error != nil {
		return nil, fmt.Errorf("%w: yahoo api error: %s", model.ErrNoData, chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Timestamp) == 0 {
		return nil, fmt.Errorf("%w: yahoo: no data returned for %s", model.ErrNoData, code)
	}

	result := chart.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("%w: yahoo: quote block missing", model.ErrDecodeFailure)
	}
	quote := result.Indicators.Quote[0]
	bars := make([]model.DailyBar, 0, len(result.Timestamp))

	for i, ts := range result.Timestamp {
		o := toFloat(quote.Open, i)
		h := toFloat(quote.High, i)
		l := toFloat(quote.Low, i)
		c := toFloat(quote.Close, i)
		if o == 0 && h == 0 && l == 0 && c == 0 {
			continue // skip null bars (holidays etc.)
		}
		t := time.Unix(ts, 0).In(f.Location)
		v := toFloat(quote.Volume, i)
		bars = append(bars, model.DailyBar{
			Date:   time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, f.Location),
			Open:   o,
			High:   h,
			Low:    l,
			Close:  c,
			Volume: v,
			Amount: c * v,
		})
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: yahoo: only null bars for %s", model.ErrNoData, code)
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}
