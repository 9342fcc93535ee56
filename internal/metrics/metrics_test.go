package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppMetrics(t *testing.T) {
	reg := NewRegistry()
	m := NewAppMetrics(reg)

	m.FramesDecoded.WithLabelValues("codec8").Inc()
	m.RecordsDecoded.WithLabelValues("codec8").Add(2)
	m.DecodeErrors.WithLabelValues("checksum_mismatch").Inc()
	m.OnlineGauge.Set(3)

	rr := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	body := rr.Body.String()
	assert.Contains(t, body, `avl_frames_decoded_total{codec="codec8"} 1`)
	assert.Contains(t, body, `avl_records_decoded_total{codec="codec8"} 2`)
	assert.Contains(t, body, `avl_decode_errors_total{kind="checksum_mismatch"} 1`)
	assert.Contains(t, body, "session_online_count 3")
	assert.Contains(t, body, "go_goroutines")
}

func TestNewAppMetrics_DoubleRegisterPanics(t *testing.T) {
	reg := NewRegistry()
	NewAppMetrics(reg)
	assert.Panics(t, func() { NewAppMetrics(reg) })
}
