package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTP(http.MethodPost, "/predict", 200, 120*time.Millisecond)
	c.RecordHTTP(http.MethodPost, "/predict", 200, 80*time.Millisecond)
	c.RecordHTTP(http.MethodGet, "", 404, time.Millisecond)
	c.RecordPrediction("mri", "ok", time.Second)
	c.RecordPrediction("mri", "http", time.Second)
	c.RecordPersisted(true)
	c.RecordPersisted(false)
	c.RecordRateLimited()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.httpRequests.WithLabelValues("POST", "/predict", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequests.WithLabelValues("GET", "unmatched", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.predictions.WithLabelValues("mri", "http")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.persisted.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.rateLimited))
}

func TestHandlerServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordRateLimited()

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "medscan_rate_limited_total 1")
}
