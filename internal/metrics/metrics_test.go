package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeRegistersMetrics(t *testing.T) {
	srv := Serve("127.0.0.1:0")
	defer srv.Close()

	CandidateRejections.WithLabelValues("stop_loss").Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(CandidateRejections.WithLabelValues("stop_loss")))

	mfs, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "rotation_candidate_rejections_total" {
			found = true
			break
		}
	}
	assert.True(t, found, "rotation_candidate_rejections_total not registered")
}
