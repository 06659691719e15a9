package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agor-sh/agor/internal/common/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stderr"})
	require.NoError(t, err)
	return log
}

func TestMemoryEventBus_PublishSubscribe(t *testing.T) {
	b := NewMemoryEventBus(testLogger(t))
	defer b.Close()

	received := make(chan *Event, 1)
	sub, err := b.Subscribe("sessions.created", func(ctx context.Context, e *Event) error {
		received <- e
		return nil
	})
	require.NoError(t, err)
	require.True(t, sub.IsValid())

	event := NewEvent("session.created", "test", map[string]any{"session_id": "s-1"})
	require.NoError(t, b.Publish(context.Background(), "sessions.created", event))

	select {
	case got := <-received:
		assert.Equal(t, event.ID, got.ID)
		assert.Equal(t, "session.created", got.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestMemoryEventBus_WildcardSingleToken(t *testing.T) {
	b := NewMemoryEventBus(testLogger(t))
	defer b.Close()

	var count atomic.Int32
	_, err := b.Subscribe("tasks.*", func(ctx context.Context, e *Event) error {
		count.Add(1)
		return nil
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, "tasks.created", NewEvent("task.created", "test", nil)))
	require.NoError(t, b.Publish(ctx, "tasks.completed", NewEvent("task.completed", "test", nil)))
	// Two tokens past the prefix must not match a single-token wildcard.
	require.NoError(t, b.Publish(ctx, "tasks.t-1.cancel", NewEvent("task.cancel", "test", nil)))

	assert.Eventually(t, func() bool {
		return count.Load() == 2
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryEventBus_WildcardMultiToken(t *testing.T) {
	b := NewMemoryEventBus(testLogger(t))
	defer b.Close()

	var count atomic.Int32
	_, err := b.Subscribe("boards.>", func(ctx context.Context, e *Event) error {
		count.Add(1)
		return nil
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, "boards.updated.b-1", NewEvent("board.updated", "test", nil)))
	require.NoError(t, b.Publish(ctx, "boards.object_added.b-1", NewEvent("board.object_added", "test", nil)))
	require.NoError(t, b.Publish(ctx, "sessions.created", NewEvent("session.created", "test", nil)))

	assert.Eventually(t, func() bool {
		return count.Load() == 2
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryEventBus_QueueSubscribe(t *testing.T) {
	b := NewMemoryEventBus(testLogger(t))
	defer b.Close()

	var mu sync.Mutex
	deliveries := make(map[string]int)
	handler := func(name string) EventHandler {
		return func(ctx context.Context, e *Event) error {
			mu.Lock()
			deliveries[name]++
			mu.Unlock()
			return nil
		}
	}

	_, err := b.QueueSubscribe("tasks.created", "workers", handler("a"))
	require.NoError(t, err)
	_, err = b.QueueSubscribe("tasks.created", "workers", handler("b"))
	require.NoError(t, err)

	ctx := context.Background()
	const total = 10
	for i := 0; i < total; i++ {
		require.NoError(t, b.Publish(ctx, "tasks.created", NewEvent("task.created", "test", nil)))
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return deliveries["a"]+deliveries["b"] == total
	}, time.Second, 10*time.Millisecond)

	// Round-robin splits evenly between the two queue members.
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, total/2, deliveries["a"])
	assert.Equal(t, total/2, deliveries["b"])
}

func TestMemoryEventBus_Unsubscribe(t *testing.T) {
	b := NewMemoryEventBus(testLogger(t))
	defer b.Close()

	received := make(chan *Event, 1)
	sub, err := b.Subscribe("sessions.removed", func(ctx context.Context, e *Event) error {
		received <- e
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, sub.Unsubscribe())
	assert.False(t, sub.IsValid())

	require.NoError(t, b.Publish(context.Background(), "sessions.removed", NewEvent("session.removed", "test", nil)))

	select {
	case <-received:
		t.Fatal("received event after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemoryEventBus_Request(t *testing.T) {
	b := NewMemoryEventBus(testLogger(t))
	defer b.Close()

	_, err := b.Subscribe("permission.decide", func(ctx context.Context, e *Event) error {
		data, ok := e.Data.(map[string]any)
		require.True(t, ok)
		reply, ok := data["_reply"].(string)
		require.True(t, ok)
		return b.Publish(ctx, reply, NewEvent("permission.decision", "test", map[string]any{"behavior": "allow"}))
	})
	require.NoError(t, err)

	resp, err := b.Request(context.Background(), "permission.decide", NewEvent("permission.request", "test", nil), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "permission.decision", resp.Type)
}

func TestMemoryEventBus_RequestTimeout(t *testing.T) {
	b := NewMemoryEventBus(testLogger(t))
	defer b.Close()

	_, err := b.Request(context.Background(), "nobody.home", NewEvent("ping", "test", nil), 50*time.Millisecond)
	assert.Error(t, err)
}

func TestMemoryEventBus_Close(t *testing.T) {
	b := NewMemoryEventBus(testLogger(t))

	sub, err := b.Subscribe("sessions.created", func(ctx context.Context, e *Event) error { return nil })
	require.NoError(t, err)

	b.Close()

	assert.False(t, b.IsConnected())
	assert.False(t, sub.IsValid())
	assert.Error(t, b.Publish(context.Background(), "sessions.created", NewEvent("session.created", "test", nil)))
	_, err = b.Subscribe("sessions.created", func(ctx context.Context, e *Event) error { return nil })
	assert.Error(t, err)
}

func TestCompilePattern(t *testing.T) {
	tests := []struct {
		pattern string
		subject string
		match   bool
	}{
		{"sessions.*", "sessions.created", true},
		{"sessions.*", "sessions.created.extra", false},
		{"sessions.>", "sessions.created.extra", true},
		{"tasks.*.cancel", "tasks.t-1.cancel", true},
		{"tasks.*.cancel", "tasks.t-1.retry", false},
		{">", "anything.at.all", true},
	}

	for _, tt := range tests {
		regex := compilePattern(tt.pattern)
		require.NotNil(t, regex, tt.pattern)
		assert.Equal(t, tt.match, regex.MatchString(tt.subject), "%s vs %s", tt.pattern, tt.subject)
	}
}
