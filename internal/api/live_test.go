package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/avl-server/internal/protocol/teltonika"
	"github.com/taoyao-code/avl-server/internal/sink"
)

func TestLive(t *testing.T) {
	hub := sink.NewHub(8)
	h := newHarness(t, func(d *Deps) {
		d.Live = hub
		d.LivePing = 50 * time.Millisecond
	})
	srv := httptest.NewServer(h.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/live?imei=" + testIMEI
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	rec := teltonika.Record{
		Timestamp: time.UnixMilli(1560160256560).UTC(),
		Latitude:  54.6872,
		Longitude: 25.2578516,
		Events:    []teltonika.Event{{ID: 239, Value: teltonika.U8(1)}},
	}
	ctx := context.Background()
	// 其他设备的批次被过滤
	require.NoError(t, hub.Publish(ctx, sink.NewBatch("352093081452251", "tcp", teltonika.Codec8, nil)))
	want := sink.NewBatch(testIMEI, "udp", teltonika.Codec8Ext, []teltonika.Record{rec})
	require.NoError(t, hub.Publish(ctx, want))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got map[string]any
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, want.ID, got["id"])
	assert.Equal(t, testIMEI, got["imei"])
	assert.Len(t, got["records"].([]any), 1)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestLiveUnavailable(t *testing.T) {
	h := newHarness(t, nil)
	assert.Equal(t, http.StatusServiceUnavailable, h.do(http.MethodGet, "/api/v1/live", nil).Code)
}

func TestLiveRequiresUpgrade(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.Live = sink.NewHub(1) })
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/api/v1/live", nil).Code)
}
