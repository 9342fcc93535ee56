package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taoyao-code/avl-server/internal/command"
	cfgpkg "github.com/taoyao-code/avl-server/internal/config"
	"github.com/taoyao-code/avl-server/internal/health"
	"github.com/taoyao-code/avl-server/internal/metrics"
	"github.com/taoyao-code/avl-server/internal/protocol/teltonika"
	"github.com/taoyao-code/avl-server/internal/session"
	"github.com/taoyao-code/avl-server/internal/sink"
)

func TestGenerateServerID(t *testing.T) {
	t.Run("环境变量优先", func(t *testing.T) {
		t.Setenv("AVL_SERVER_ID", "gw-01")
		assert.Equal(t, "gw-01", GenerateServerID("avl-server"))
	})
	t.Run("自动生成", func(t *testing.T) {
		t.Setenv("AVL_SERVER_ID", "")
		id := GenerateServerID("fleet-gw")
		assert.True(t, strings.HasPrefix(id, "fleet-gw-"))
		assert.NotEqual(t, id, GenerateServerID("fleet-gw"))
		assert.True(t, strings.HasPrefix(GenerateServerID(""), "avl-server-"))
	})
}

func TestNewMetricsBuildInfo(t *testing.T) {
	reg, appm := NewMetrics("v1.2.3", "gw-01")
	require.NotNil(t, appm)
	families, err := reg.Gather()
	require.NoError(t, err)

	var found bool
	for _, mf := range families {
		if mf.GetName() != "avl_build_info" {
			continue
		}
		found = true
		require.Len(t, mf.GetMetric(), 1)
		labels := map[string]string{}
		for _, lp := range mf.GetMetric()[0].GetLabel() {
			labels[lp.GetName()] = lp.GetValue()
		}
		assert.Equal(t, map[string]string{"version": "v1.2.3", "server_id": "gw-01"}, labels)
		assert.Equal(t, 1.0, mf.GetMetric()[0].GetGauge().GetValue())
	}
	assert.True(t, found)
}

func TestNewFanout(t *testing.T) {
	appm := metrics.NewAppMetrics(metrics.NewRegistry())
	cfg := cfgpkg.GatewayConfig{SinkBreaker: cfgpkg.BreakerConfig{MaxFailures: 1, ResetTimeout: time.Minute}}
	mem := &sink.Memory{}
	failing := &sink.Memory{Err: errors.New("boom")}

	f := NewFanout(cfg, appm, zap.NewNop(),
		NamedPublisher{Name: "memory", Publisher: mem},
		NamedPublisher{Name: "skipped"},
		NamedPublisher{Name: "failing", Publisher: failing},
	)
	require.Equal(t, 3, f.Len())

	b := sink.NewBatch("356307042441013", "tcp", teltonika.Codec8, []teltonika.Record{{Priority: teltonika.PriorityLow}})
	err := f.Publish(context.Background(), b)
	require.Error(t, err)
	assert.Len(t, mem.Batches(), 1)

	breakers := f.Breakers()
	assert.Equal(t, sink.BreakerOpen.String(), breakers["failing"].State)
	assert.Equal(t, sink.BreakerClosed.String(), breakers["log"].State)
}

func TestNewSessionsAndQueueWithoutRedis(t *testing.T) {
	reg := NewSessions(cfgpkg.GatewayConfig{IdleTimeout: 2 * time.Minute}, nil, "test", zap.NewNop())
	mgr, ok := reg.(*session.Manager)
	require.True(t, ok)
	assert.Equal(t, 2*time.Minute, mgr.Timeout())

	q, dead := NewCommandQueue(nil, zap.NewNop())
	_, ok = q.(*command.MemoryQueue)
	assert.True(t, ok)
	n, err := dead(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNewWebhook(t *testing.T) {
	assert.Nil(t, NewWebhook(cfgpkg.WebhookConfig{URL: "http://x"}))

	wh := NewWebhook(cfgpkg.WebhookConfig{Enable: true, URL: "http://x/hook", Secret: "s", Timeout: time.Second, Retries: 1})
	require.NotNil(t, wh)
	assert.Equal(t, "http://x/hook", wh.Endpoint)
	assert.Equal(t, 1, wh.Retries)
	assert.Equal(t, time.Second, wh.Client.Timeout)
}

func TestNewLiveHub(t *testing.T) {
	assert.Nil(t, NewLiveHub(cfgpkg.LiveConfig{}))
	require.NotNil(t, NewLiveHub(cfgpkg.LiveConfig{Enable: true, Buffer: 4}))
}

func TestNewRecordStream(t *testing.T) {
	s, err := NewRecordStream(nil, cfgpkg.RedisConfig{Compression: "zstd"}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestAddCommandQueueChecker(t *testing.T) {
	cases := []struct {
		name string
		dead func(context.Context) (int64, error)
		want health.Status
	}{
		{"无死信", func(context.Context) (int64, error) { return 0, nil }, health.StatusHealthy},
		{"死信超限", func(context.Context) (int64, error) { return DeadLetterWarnThreshold + 1, nil }, health.StatusDegraded},
		{"查询失败", func(context.Context) (int64, error) { return 0, errors.New("redis down") }, health.StatusDegraded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			agg := health.NewAggregator()
			AddCommandQueueChecker(agg, tc.dead)
			results := agg.CheckAll(context.Background())
			require.Contains(t, results, "command_queue")
			assert.Equal(t, tc.want, results["command_queue"].Status)
		})
	}

	agg := health.NewAggregator()
	AddCommandQueueChecker(agg, nil)
	assert.Empty(t, agg.CheckAll(context.Background()))
}
