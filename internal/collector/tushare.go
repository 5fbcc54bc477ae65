package collector

import (
	"bytes"
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

// tushareRateLimitCode is returned when the per-minute call quota is exhausted.
const tushareRateLimitCode = 40203

// TushareFetcher implements Fetcher using the Tushare Pro fund_daily API.
type TushareFetcher struct {
	BaseURL  string
	Token    string
	Client   *http.Client
	Location *time.Location
}

// NewTushareFetcher creates a new fetcher with optional proxy support.
func NewTushareFetcher(baseURL, token, proxyURL string, loc *time.Location) *TushareFetcher {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if loc == nil {
		loc = time.FixedZone("CST", 8*3600)
	}
	return &TushareFetcher{
		BaseURL:  strings.TrimSuffix(baseURL, "/"),
		Token:    token,
		Location: loc,
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}
}

func (f *TushareFetcher) Name() string { return "tushare" }

type tushareRequest struct {
	APIName string            `json:"api_name"`
	Token   string            `json:"token"`
	Params  map[string]string `json:"params"`
	Fields  string            `json:"fields"`
}

type tushareResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data *struct {
		Fields []string `json:"fields"`
		Items  [][]any  `json:"items"`
	} `json:"data"`
}

func (f *TushareFetcher) FetchDailyBars(ctx context.Context, code string, start, end time.Time) ([]model.DailyBar, error) {
	payload := tushareRequest{
		APIName: "fund_daily",
		Token:   f.Token,
		Params: map[string]string{
			"ts_code":    code,
			"start_date": start.In(f.Location).Format("20060102"),
			"end_date":   end.In(f.Location).Format("20060102"),
		},
		Fields: "trade_date,open,high,low,close,vol,amount",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: tushare %s: %v", model.ErrNetworkFailure, code, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: tushare read body: %v", model.ErrNetworkFailure, err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: tushare %s: status %d", model.ErrRateLimited, code, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: tushare %s: status %d, body: %s", model.ErrNetworkFailure, code, resp.StatusCode, string(raw))
	}

	var result tushareResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("%w: tushare %s: %v", model.ErrDecodeFailure, code, err)
	}
	if result.Code == tushareRateLimitCode {
		return nil, fmt.Errorf("%w: tushare %s: %s", model.ErrRateLimited, code, result.Msg)
	}
	if result.Code != 0 {
		return nil, fmt.Errorf("%w: tushare %s: code %d: %s", model.ErrNetworkFailure, code, result.Code, result.Msg)
	}
	if result.Data == nil || len(result.Data.Items) == 0 {
		return nil, fmt.Errorf("%w: tushare %s %s..%s", model.ErrNoData, code, payload.Params["start_date"], payload.Params["end_date"])
	}

	bars, err := f.decodeItems(result.Data.Fields, result.Data.Items)
	if err != nil {
		return nil, fmt.Errorf("%w: tushare %s: %v", model.ErrDecodeFailure, code, err)
	}
	// Tushare returns newest first
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}

func (f *TushareFetcher) decodeItems(fields []string, items [][]any) ([]model.DailyBar, error) {
	idx := make(map[string]int, len(fields))
	for i, name := range fields {
		idx[name] = i
	}
	for _, name := range []string{"trade_date", "open", "high", "low", "close", "vol", "amount"} {
		if _, ok := idx[name]; !ok {
			return nil, fmt.Errorf("missing field %q", name)
		}
	}

	bars := make([]model.DailyBar, 0, len(items))
	for _, row := range items {
		if len(row) != len(fields) {
			return nil, fmt.Errorf("row has %d values, want %d", len(row), len(fields))
		}
		ds, ok := row[idx["trade_date"]].(string)
		if !ok {
			return nil, fmt.Errorf("trade_date is %T", row[idx["trade_date"]])
		}
		date, err := time.ParseInLocation("20060102", ds, f.Location)
		if err != nil {
			return nil, fmt.Errorf("parse trade_date: %w", err)
		}
		num := func(name string) (float64, error) {
			switch v := row[idx[name]].(type) {
			case float64:
				return v, nil
			case nil:
				return 0, nil
			default:
				return 0, fmt.Errorf("%s is %T", name, v)
			}
		}
		var b model.DailyBar
		b.Date = date
		for _, fv := range []struct {
			name string
			dst  *float64
		}{
			{"open", &b.Open}, {"high", &b.High}, {"low", &b.Low},
			{"close", &b.Close}, {"vol", &b.Volume}, {"amount", &b.Amount},
		} {
			v, err := num(fv.name)
			if err != nil {
				return nil, err
			}
			*fv.dst = v
		}
		bars = append(bars, b)
	}
	return bars, nil
}
