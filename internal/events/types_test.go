package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agor-sh/agor/internal/common/logger"
	"github.com/agor-sh/agor/internal/events/bus"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stderr"})
	require.NoError(t, err)
	return log
}

// The gateway subscribes to the family wildcards and only forwards what
// they match. Every per-entity subject builder must stay inside its
// family, or its events silently never reach websocket clients.
func TestScopedSubjectsMatchFamilyWildcards(t *testing.T) {
	tests := []struct {
		name    string
		family  string
		subject string
	}{
		{"task cancel", SubjectAllTasks, SubjectTaskCancel("t-1")},
		{"board updated", SubjectAllBoards, SubjectBoardUpdated("b-1")},
		{"board object added", SubjectAllBoards, SubjectBoardObjectAdded("b-1")},
		{"board object removed", SubjectAllBoards, SubjectBoardObjectRemoved("b-1")},
		{"terminal data", SubjectAllTerminals, SubjectTerminalData("tty-1")},
		{"terminal exit", SubjectAllTerminals, SubjectTerminalExit("tty-1")},
	}

	b := bus.NewMemoryEventBus(testLogger(t))
	defer b.Close()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			received := make(chan *bus.Event, 1)
			sub, err := b.Subscribe(tt.family, func(ctx context.Context, e *bus.Event) error {
				received <- e
				return nil
			})
			require.NoError(t, err)
			defer func() { _ = sub.Unsubscribe() }()

			event := bus.NewEvent("test", "test", nil)
			require.NoError(t, b.Publish(context.Background(), tt.subject, event))

			select {
			case got := <-received:
				assert.Equal(t, tt.subject, got.Subject)
			case <-time.After(time.Second):
				t.Fatalf("publication on %q not delivered to %q subscription", tt.subject, tt.family)
			}
		})
	}
}
