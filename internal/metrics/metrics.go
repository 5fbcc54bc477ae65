// Package metrics exposes Prometheus collectors for the signal pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SignalRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "rotation_signal_runs_total", Help: "Local signal computations by outcome"},
		[]string{"outcome"},
	)
	FetchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "rotation_fetch_failures_total", Help: "Daily bar fetch failures"},
		[]string{"instrument", "kind"},
	)
	CandidateRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "rotation_candidate_rejections_total", Help: "Candidates rejected per filter step"},
		[]string{"filter"},
	)
	InstrumentScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "rotation_instrument_score", Help: "Last momentum score per accepted instrument"},
		[]string{"instrument"},
	)
	ProviderResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "rotation_signal_provider_total", Help: "Signal provider attempts by tier and result"},
		[]string{"provider", "result"},
	)
	CacheSaveFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "rotation_cache_save_failures_total", Help: "Failed bar cache writes"},
	)
)

func init() {
	prometheus.MustRegister(SignalRuns, FetchFailures, CandidateRejections, InstrumentScore, ProviderResults, CacheSaveFailures)
}

// Serve exposes /metrics on addr in the background.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
