package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taoyao-code/avl-server/internal/command"
	cfgpkg "github.com/taoyao-code/avl-server/internal/config"
	"github.com/taoyao-code/avl-server/internal/session"
	"github.com/taoyao-code/avl-server/internal/sink"
	"github.com/taoyao-code/avl-server/internal/storage"
	"github.com/taoyao-code/avl-server/internal/storage/models"
	pgstorage "github.com/taoyao-code/avl-server/internal/storage/pg"
)

func init() { gin.SetMode(gin.TestMode) }

const testIMEI = "356307042441013"

// fakeDevices 内存设备登记簿
type fakeDevices struct {
	mu      sync.Mutex
	devices map[string]*models.Device
	err     error
}

func newFakeDevices(imeis ...string) *fakeDevices {
	f := &fakeDevices{devices: make(map[string]*models.Device)}
	for i, imei := range imeis {
		f.devices[imei] = &models.Device{ID: int64(i + 1), IMEI: imei, LastTransport: "tcp", LastCodec: "codec8", RecordCount: 2}
	}
	return f
}

func (f *fakeDevices) EnsureDevice(_ context.Context, imei, transport, remoteAddr string) (*models.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[imei]
	if !ok {
		d = &models.Device{IMEI: imei}
		f.devices[imei] = d
	}
	d.LastTransport, d.LastRemoteAddr = transport, remoteAddr
	return d, nil
}

func (f *fakeDevices) TouchDevice(_ context.Context, imei, codec string, records int, at time.Time) error {
	return nil
}

func (f *fakeDevices) GetDevice(_ context.Context, imei string) (*models.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	d, ok := f.devices[imei]
	if !ok {
		return nil, storage.ErrDeviceNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeDevices) ListDevices(_ context.Context, limit, offset int) ([]models.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Device
	for _, d := range f.devices {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IMEI < out[j].IMEI })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeDevices) SetBlocked(_ context.Context, imei string, blocked bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[imei]
	if !ok {
		return storage.ErrDeviceNotFound
	}
	d.Blocked = blocked
	return nil
}

func (f *fakeDevices) IsBlocked(ctx context.Context, imei string) (bool, error) {
	d, err := f.GetDevice(ctx, imei)
	if errors.Is(err, storage.ErrDeviceNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return d.Blocked, nil
}

type fakeRecords struct {
	limit int
}

func (f *fakeRecords) RecentRecords(_ context.Context, imei string, limit int) ([]pgstorage.StoredRecord, error) {
	f.limit = limit
	return []pgstorage.StoredRecord{{IMEI: imei, Codec: "codec8", Priority: "high", Events: json.RawMessage(`[]`)}}, nil
}

type fakeStream struct{ after string }

func (f *fakeStream) Read(_ context.Context, start string, count int64) ([]*sink.Batch, string, error) {
	f.after = start
	return []*sink.Batch{{ID: "b1", IMEI: testIMEI}}, "1-0", nil
}

type fakeConn struct {
	closed bool
}

func (c *fakeConn) ID() uint64           { return 7 }
func (c *fakeConn) RemoteAddr() net.Addr { return &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 40000} }
func (c *fakeConn) Close() error         { c.closed = true; return nil }

type harness struct {
	engine   *gin.Engine
	sessions *session.Manager
	queue    *command.MemoryQueue
	devices  *fakeDevices
}

func newHarness(t *testing.T, mutate func(*Deps)) *harness {
	t.Helper()
	h := &harness{
		sessions: session.New(time.Minute),
		queue:    command.NewMemoryQueue(),
		devices:  newFakeDevices(testIMEI, "356307042441014"),
	}
	deps := Deps{
		Sessions: h.sessions,
		Commands: h.queue,
		Devices:  h.devices,
		MaxRetry: 3,
		Logger:   zap.NewNop(),
	}
	if mutate != nil {
		mutate(&deps)
	}
	h.engine = gin.New()
	RegisterRoutes(h.engine, cfgpkg.HTTPConfig{Swagger: true}, deps)
	return h
}

func (h *harness) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.engine.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func TestListDevices(t *testing.T) {
	h := newHarness(t, nil)
	h.sessions.Bind(session.Info{IMEI: testIMEI, Transport: "tcp"}, &fakeConn{})

	rr := h.do(http.MethodGet, "/api/v1/devices?limit=10", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	devices := body["devices"].([]any)
	require.Len(t, devices, 2)
	first := devices[0].(map[string]any)
	assert.Equal(t, testIMEI, first["imei"])
	assert.Equal(t, true, first["online"])
	assert.Equal(t, false, devices[1].(map[string]any)["online"])

	t.Run("分页", func(t *testing.T) {
		body := decode(t, h.do(http.MethodGet, "/api/v1/devices?limit=1&offset=1", nil))
		assert.Len(t, body["devices"].([]any), 1)
	})
	t.Run("存储错误", func(t *testing.T) {
		h.devices.err = errors.New("db down")
		defer func() { h.devices.err = nil }()
		assert.Equal(t, http.StatusInternalServerError, h.do(http.MethodGet, "/api/v1/devices", nil).Code)
	})
}

func TestGetDevice(t *testing.T) {
	h := newHarness(t, nil)

	t.Run("登记设备", func(t *testing.T) {
		rr := h.do(http.MethodGet, "/api/v1/devices/"+testIMEI, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		body := decode(t, rr)
		assert.Equal(t, "codec8", body["last_codec"])
		assert.Nil(t, body["session"])
	})
	t.Run("仅有会话", func(t *testing.T) {
		h.sessions.Touch(session.Activity{IMEI: "352093081429150", Transport: "udp", Records: 1})
		rr := h.do(http.MethodGet, "/api/v1/devices/352093081429150", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		body := decode(t, rr)
		assert.Equal(t, true, body["online"])
		assert.Equal(t, "udp", body["session"].(map[string]any)["transport"])
	})
	t.Run("未知设备", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/v1/devices/000000000000000", nil).Code)
	})
}

func TestUnavailableDependencies(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.Devices = nil })

	assert.Equal(t, http.StatusServiceUnavailable, h.do(http.MethodGet, "/api/v1/devices", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, h.do(http.MethodGet, "/api/v1/devices/"+testIMEI+"/records", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, h.do(http.MethodGet, "/api/v1/stream", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable,
		h.do(http.MethodPut, "/api/v1/devices/"+testIMEI+"/block", gin.H{"blocked": true}).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/v1/devices/"+testIMEI, nil).Code)
}

func TestListRecords(t *testing.T) {
	records := &fakeRecords{}
	h := newHarness(t, func(d *Deps) { d.Records = records })

	rr := h.do(http.MethodGet, "/api/v1/devices/"+testIMEI+"/records?limit=5", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 5, records.limit)
	body := decode(t, rr)
	list := body["records"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "high", list[0].(map[string]any)["priority"])
}

func TestSetBlocked(t *testing.T) {
	h := newHarness(t, nil)
	conn := &fakeConn{}
	h.sessions.Bind(session.Info{IMEI: testIMEI, Transport: "tcp"}, conn)

	rr := h.do(http.MethodPut, "/api/v1/devices/"+testIMEI+"/block", gin.H{"blocked": true})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, decode(t, rr)["disconnected"])
	assert.True(t, conn.closed)
	blocked, err := h.devices.IsBlocked(context.Background(), testIMEI)
	require.NoError(t, err)
	assert.True(t, blocked)

	t.Run("解除", func(t *testing.T) {
		rr := h.do(http.MethodPut, "/api/v1/devices/"+testIMEI+"/block", gin.H{"blocked": false})
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, false, decode(t, rr)["disconnected"])
	})
	t.Run("缺少字段", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPut, "/api/v1/devices/"+testIMEI+"/block", gin.H{}).Code)
	})
	t.Run("未知设备", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound,
			h.do(http.MethodPut, "/api/v1/devices/000000000000000/block", gin.H{"blocked": true}).Code)
	})
}

func TestEnqueueAndGetCommand(t *testing.T) {
	h := newHarness(t, nil)

	rr := h.do(http.MethodPost, "/api/v1/devices/"+testIMEI+"/commands", gin.H{"text": "getinfo"})
	require.Equal(t, http.StatusAccepted, rr.Code)
	body := decode(t, rr)
	cmd := body["command"].(map[string]any)
	assert.Equal(t, "pending", cmd["status"])
	assert.Equal(t, float64(3), cmd["max_retry"])
	assert.Equal(t, float64(1), body["pending"])

	id := cmd["id"].(string)
	got := h.do(http.MethodGet, "/api/v1/commands/"+id, nil)
	require.Equal(t, http.StatusOK, got.Code)
	assert.Equal(t, "getinfo", decode(t, got)["command"].(map[string]any)["text"])

	t.Run("自定义重试", func(t *testing.T) {
		rr := h.do(http.MethodPost, "/api/v1/devices/"+testIMEI+"/commands", gin.H{"text": "getver", "max_retry": 0})
		require.Equal(t, http.StatusAccepted, rr.Code)
		assert.Equal(t, float64(0), decode(t, rr)["command"].(map[string]any)["max_retry"])
	})
	t.Run("空指令", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/api/v1/devices/"+testIMEI+"/commands", gin.H{"text": ""}).Code)
	})
	t.Run("指令过长", func(t *testing.T) {
		long := string(bytes.Repeat([]byte("a"), command.MaxTextLength+1))
		assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/api/v1/devices/"+testIMEI+"/commands", gin.H{"text": long}).Code)
	})
	t.Run("未知指令", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/v1/commands/nope", nil).Code)
	})
}

func TestListSessions(t *testing.T) {
	h := newHarness(t, nil)
	h.sessions.Bind(session.Info{IMEI: testIMEI, Transport: "tcp"}, &fakeConn{})

	rr := h.do(http.MethodGet, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.Len(t, body["sessions"].([]any), 1)
	assert.Equal(t, float64(1), body["online"])

	t.Run("内存会话不支持集群范围", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/api/v1/sessions?scope=cluster", nil).Code)
	})
}

func TestReadStream(t *testing.T) {
	stream := &fakeStream{}
	h := newHarness(t, func(d *Deps) { d.Stream = stream })

	rr := h.do(http.MethodGet, "/api/v1/stream?after=0-1&count=10", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "0-1", stream.after)
	body := decode(t, rr)
	assert.Equal(t, "1-0", body["last_id"])
	assert.Len(t, body["batches"].([]any), 1)
}

func TestOpenAPIDocument(t *testing.T) {
	h := newHarness(t, nil)
	rr := h.do(http.MethodGet, "/openapi.json", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	paths := body["paths"].(map[string]any)
	for _, p := range []string{"/api/v1/devices", "/api/v1/devices/{imei}/commands", "/api/v1/commands/{id}", "/api/v1/sessions"} {
		assert.Contains(t, paths, p)
	}
}

func TestRoutesWithAuth(t *testing.T) {
	engine := gin.New()
	RegisterRoutes(engine, cfgpkg.HTTPConfig{Auth: cfgpkg.AuthConfig{Enabled: true, APIKeys: []string{"sk_test_key_0001"}}}, Deps{
		Sessions: session.New(time.Minute),
		Commands: command.NewMemoryQueue(),
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	rr := httptest.NewRecorder()
	engine.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.Header.Set("X-API-Key", "sk_test_key_0001")
	rr = httptest.NewRecorder()
	engine.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	// 文档页不需要认证
	req = httptest.NewRequest(http.MethodGet, "/openapi.json", nil)
	rr = httptest.NewRecorder()
	engine.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}
