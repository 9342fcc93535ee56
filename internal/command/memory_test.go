package command

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueue_FIFO(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	a, err := q.Enqueue(ctx, "356307042441013", "getinfo", 3)
	require.NoError(t, err)
	b, err := q.Enqueue(ctx, "356307042441013", "getver", 3)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, StatusPending, a.Status)

	n, _ := q.Pending(ctx, "356307042441013")
	assert.Equal(t, int64(2), n)

	got, err := q.Dequeue(ctx, "356307042441013")
	require.NoError(t, err)
	assert.Equal(t, "getinfo", got.Text)
	assert.Equal(t, StatusSent, got.Status)

	require.NoError(t, q.Complete(ctx, got, StatusResponded, "RTC:2019/6/10"))
	stored, err := q.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusResponded, stored.Status)
	assert.Equal(t, "RTC:2019/6/10", stored.Response)
	assert.True(t, stored.Status.Terminal())

	got, _ = q.Dequeue(ctx, "356307042441013")
	assert.Equal(t, "getver", got.Text)
	got, err = q.Dequeue(ctx, "356307042441013")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryQueue_RetryThenDead(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	cmd, err := q.Enqueue(ctx, "A", "cpureset", 2)
	require.NoError(t, err)
	_, _ = q.Enqueue(ctx, "A", "getinfo", 2)

	first, _ := q.Dequeue(ctx, "A")
	require.NoError(t, q.Fail(ctx, first, "response timeout"))
	assert.Equal(t, StatusPending, first.Status)

	// 重试的指令回到队首
	again, _ := q.Dequeue(ctx, "A")
	assert.Equal(t, cmd.ID, again.ID)
	require.NoError(t, q.Fail(ctx, again, "response timeout"))
	assert.Equal(t, StatusFailed, again.Status)
	assert.Equal(t, 2, again.Retries)
	assert.Equal(t, 1, q.DeadCount())

	next, _ := q.Dequeue(ctx, "A")
	assert.Equal(t, "getinfo", next.Text)
}

func TestMemoryQueue_Validation(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	_, err := q.Enqueue(ctx, "A", "", 1)
	assert.ErrorIs(t, err, ErrEmptyText)
	_, err = q.Enqueue(ctx, "A", strings.Repeat("x", MaxTextLength+1), 1)
	assert.ErrorIs(t, err, ErrTextTooLong)

	_, err = q.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, q.Complete(ctx, &Command{ID: "missing"}, StatusResponded, ""), ErrNotFound)
}
