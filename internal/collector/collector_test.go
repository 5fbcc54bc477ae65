package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RotationSentinel/internal/model"
)

var cst = time.FixedZone("CST", 8*3600)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, cst)
}

func tushareServer(t *testing.T, handler func(req tushareRequest) (int, string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req tushareRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		status, body := handler(req)
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTushareFetcher_DecodesAndSorts(t *testing.T) {
	srv := tushareServer(t, func(req tushareRequest) (int, string) {
		assert.Equal(t, "fund_daily", req.APIName)
		assert.Equal(t, "tok", req.Token)
		assert.Equal(t, "518880.SH", req.Params["ts_code"])
		assert.Equal(t, "20260216", req.Params["start_date"])
		assert.Equal(t, "20260218", req.Params["end_date"])
		return http.StatusOK, `{"code":0,"msg":"","data":{"fields":["trade_date","open","high","low","close","vol","amount"],
			"items":[["20260218",5.2,5.3,5.1,5.25,1000,525.0],["20260217",5.0,5.2,4.9,5.1,900,459.0]]}}`
	})

	f := NewTushareFetcher(srv.URL, "tok", "", cst)
	bars, err := f.FetchDailyBars(context.Background(), "518880.SH", date(2026, 2, 16), date(2026, 2, 18))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.True(t, bars[0].Date.Equal(date(2026, 2, 17)))
	assert.Equal(t, 5.1, bars[0].Close)
	assert.Equal(t, 525.0, bars[1].Amount)
	assert.Equal(t, 1000.0, bars[1].Volume)
}

func TestTushareFetcher_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"quota code", http.StatusOK, `{"code":40203,"msg":"每分钟最多访问该接口","data":null}`, model.ErrRateLimited},
		{"http 429", http.StatusTooManyRequests, ``, model.ErrRateLimited},
		{"empty table", http.StatusOK, `{"code":0,"data":{"fields":["trade_date"],"items":[]}}`, model.ErrNoData},
		{"malformed json", http.StatusOK, `{"code":0,"data":`, model.ErrDecodeFailure},
		{"missing field", http.StatusOK, `{"code":0,"data":{"fields":["trade_date","close"],"items":[["20260218",5.0]]}}`, model.ErrDecodeFailure},
		{"server error", http.StatusBadGateway, `oops`, model.ErrNetworkFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := tushareServer(t, func(tushareRequest) (int, string) { return tt.status, tt.body })
			f := NewTushareFetcher(srv.URL, "tok", "", cst)
			_, err := f.FetchDailyBars(context.Background(), "518880.SH", date(2026, 2, 1), date(2026, 2, 18))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestTushareFetcher_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	f := NewTushareFetcher(url, "tok", "", cst)
	_, err := f.FetchDailyBars(context.Background(), "518880.SH", date(2026, 2, 1), date(2026, 2, 18))
	assert.ErrorIs(t, err, model.ErrNetworkFailure)
}

func TestYahooFetcher_SkipsNullBars(t *testing.T) {
	ts1 := date(2026, 2, 17).Add(9*time.Hour + 30*time.Minute).Unix()
	ts2 := date(2026, 2, 18).Add(9*time.Hour + 30*time.Minute).Unix()
	ts3 := date(2026, 2, 19).Add(9*time.Hour + 30*time.Minute).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v8/finance/chart/518880.SS", r.URL.Path)
		fmt.Fprintf(w, `{"chart":{"result":[{"timestamp":[%d,%d,%d],"indicators":{"quote":[{
			"open":[5.0,null,5.2],"high":[5.1,null,5.3],"low":[4.9,null,5.1],"close":[5.05,null,5.25],"volume":[100,null,200]}]}}],"error":null}}`,
			ts1, ts2, ts3)
	}))
	defer srv.Close()

	f := NewYahooFetcher("", cst)
	f.BaseURL = srv.URL
	bars, err := f.FetchDailyBars(context.Background(), "518880.SH", date(2026, 2, 17), date(2026, 2, 19))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.True(t, bars[1].Date.Equal(date(2026, 2, 19)))
	assert.InDelta(t, 5.25*200, bars[1].Amount, 1e-9)
}

func TestYahooFetcher_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	f := NewYahooFetcher("", cst)
	f.BaseURL = srv.URL
	_, err := f.FetchDailyBars(context.Background(), "X", date(2026, 2, 17), date(2026, 2, 19))
	assert.ErrorIs(t, err, model.ErrNoData)
}

func TestMockFetcher(t *testing.T) {
	fixed := []model.DailyBar{{Date: date(2026, 2, 2), Close: 1}, {Date: date(2026, 2, 3), Close: 2}}
	m := &MockFetcher{
		Bars:     map[string][]model.DailyBar{"A": fixed},
		Errors:   map[string]error{"B": model.ErrRateLimited},
		Location: cst,
	}
	ctx := context.Background()

	got, err := m.FetchDailyBars(ctx, "A", date(2026, 2, 3), date(2026, 2, 10))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2.0, got[0].Close)

	_, err = m.FetchDailyBars(ctx, "A", date(2026, 3, 1), date(2026, 3, 2))
	assert.ErrorIs(t, err, model.ErrNoData)

	_, err = m.FetchDailyBars(ctx, "B", date(2026, 2, 1), date(2026, 2, 2))
	assert.ErrorIs(t, err, model.ErrRateLimited)

	// Monday through Sunday yields five weekday bars, identical across calls.
	first, err := m.FetchDailyBars(ctx, "C", date(2026, 2, 16), date(2026, 2, 22))
	require.NoError(t, err)
	second, err := m.FetchDailyBars(ctx, "C", date(2026, 2, 16), date(2026, 2, 22))
	require.NoError(t, err)
	assert.Len(t, first, 5)
	assert.Equal(t, first, second)

	assert.Equal(t, []string{"A", "A", "B", "C", "C"}, m.Calls())
}

func TestNew(t *testing.T) {
	for _, name := range []string{"tushare", "yahoo", "mock"} {
		f, err := New(name, "http://localhost", "token", "", time.UTC)
		require.NoError(t, err)
		assert.Equal(t, name, f.Name())
	}
	_, err := New("bloomberg", "", "", "", time.UTC)
	assert.ErrorIs(t, err, model.ErrInvalidConfiguration)
}
