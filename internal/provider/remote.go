package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"RotationSentinel/internal/model"
)

// RemoteProvider reads the precomputed signal from the signal service.
type RemoteProvider struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
	// Capital, when set, is sent so the service can size positions.
	Capital func() float64
}

// NewRemoteProvider creates a client with optional proxy support.
func NewRemoteProvider(baseURL, apiKey string, timeout time.Duration, proxyURL string) *RemoteProvider {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &RemoteProvider{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: timeout, Transport: transport},
	}
}

func (r *RemoteProvider) Name() string { return "remote" }

// Signal fetches the latest signal.
func (r *RemoteProvider) Signal(ctx context.Context) (*model.Signal, error) {
	q := url.Values{}
	if r.Capital != nil {
		if c := r.Capital(); c > 0 {
			q.Set("capital", strconv.FormatFloat(c, 'f', 0, 64))
		}
	}
	return r.get(ctx, "/signal/latest", q)
}

// SignalFor fetches the signal published for date (2006-01-02).
func (r *RemoteProvider) SignalFor(ctx context.Context, date string) (*model.Signal, error) {
	return r.get(ctx, "/signal/"+url.PathEscape(date), nil)
}

func (r *RemoteProvider) get(ctx context.Context, path string, q url.Values) (*model.Signal, error) {
	if r.BaseURL == "" {
		return nil, fmt.Errorf("%w: remote signal base url not configured", model.ErrInvalidConfiguration)
	}
	u := r.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if r.APIKey != "" {
		req.Header.Set("X-API-Key", r.APIKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrNetworkFailure, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", model.ErrNetworkFailure, err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: signal service", model.ErrRateLimited)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: no signal at %s", model.ErrNoData, path)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: signal service status %d: %s", model.ErrNetworkFailure, resp.StatusCode, truncate(string(body), 200))
	}
	return model.DecodeSignal(body)
}

// Health reports whether the signal service answers its health check.
func (r *RemoteProvider) Health(ctx context.Context) bool {
	if r.BaseURL == "" {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.BaseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
