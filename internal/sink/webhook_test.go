package sink

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/avl-server/internal/protocol/teltonika"
)

// mockReceiver 校验签名并记录收到的批次
type mockReceiver struct {
	*httptest.Server
	secret string

	mu       sync.Mutex
	received []Batch
	calls    atomic.Int32
	status   func(call int32) int
}

func newMockReceiver(t *testing.T, secret string, status func(call int32) int) *mockReceiver {
	t.Helper()
	m := &mockReceiver{secret: secret, status: status}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := m.calls.Add(1)
		body, err := io.ReadAll(r.Body)
		if err != nil || !VerifySignature(m.secret, r, body) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if code := m.status(call); code != http.StatusOK {
			w.WriteHeader(code)
			_, _ = w.Write([]byte("try later"))
			return
		}
		var b Batch
		if err := json.Unmarshal(body, &b); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		m.mu.Lock()
		m.received = append(m.received, b)
		m.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(m.Close)
	return m
}

func ok(int32) int { return http.StatusOK }

func testWebhookBatch() *Batch {
	return NewBatch("356307042441013", "tcp", teltonika.Codec8, []teltonika.Record{{
		Timestamp: time.UnixMilli(1560161086000).UTC(),
		Latitude:  54.6872,
		Longitude: 25.2797,
		Events:    []teltonika.Event{{ID: 21, Value: teltonika.U8(3)}},
	}})
}

func TestWebhookPublish(t *testing.T) {
	m := newMockReceiver(t, "secret", ok)
	w := NewWebhook(nil, m.URL+"/avl/hook", "key", "secret")

	b := testWebhookBatch()
	require.NoError(t, w.Publish(context.Background(), b))

	m.mu.Lock()
	defer m.mu.Unlock()
	require.Len(t, m.received, 1)
	assert.Equal(t, b.ID, m.received[0].ID)
	assert.Equal(t, "356307042441013", m.received[0].IMEI)
	require.Len(t, m.received[0].Records, 1)
	assert.InDelta(t, 54.6872, m.received[0].Records[0].Latitude, 1e-9)
}

func TestWebhookRetry(t *testing.T) {
	t.Run("5xx后重试成功", func(t *testing.T) {
		m := newMockReceiver(t, "secret", func(call int32) int {
			if call < 3 {
				return http.StatusServiceUnavailable
			}
			return http.StatusOK
		})
		w := NewWebhook(nil, m.URL, "key", "secret")
		w.Backoff = []time.Duration{time.Millisecond}

		require.NoError(t, w.Publish(context.Background(), testWebhookBatch()))
		assert.EqualValues(t, 3, m.calls.Load())
	})

	t.Run("4xx不重试", func(t *testing.T) {
		m := newMockReceiver(t, "other-secret", ok)
		w := NewWebhook(nil, m.URL, "key", "secret")
		w.Backoff = []time.Duration{time.Millisecond}

		err := w.Publish(context.Background(), testWebhookBatch())
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusUnauthorized, se.Code)
		assert.EqualValues(t, 1, m.calls.Load())
	})

	t.Run("重试耗尽", func(t *testing.T) {
		m := newMockReceiver(t, "secret", func(int32) int { return http.StatusBadGateway })
		w := NewWebhook(nil, m.URL, "key", "secret")
		w.Retries = 2
		w.Backoff = []time.Duration{time.Millisecond}

		err := w.Publish(context.Background(), testWebhookBatch())
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusBadGateway, se.Code)
		assert.EqualValues(t, 3, m.calls.Load())
	})
}

func TestWebhookContextCanceled(t *testing.T) {
	m := newMockReceiver(t, "secret", func(int32) int { return http.StatusInternalServerError })
	w := NewWebhook(nil, m.URL, "key", "secret")
	w.Backoff = []time.Duration{time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	err := w.Publish(ctx, testWebhookBatch())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSign(t *testing.T) {
	got := Sign("secret", "POST\n/path\n1700000000\nnonce\nbodyhash")
	assert.Len(t, got, 64)
	assert.Equal(t, got, Sign("secret", "POST\n/path\n1700000000\nnonce\nbodyhash"))
	assert.NotEqual(t, got, Sign("other", "POST\n/path\n1700000000\nnonce\nbodyhash"))
}
