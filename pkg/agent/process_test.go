package agent

import (
	"context"
	"encoding/json"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// jsonLineParser decodes each stdout line straight into an Event.
type jsonLineParser struct{}

func (jsonLineParser) ParseEvent(line []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(line, &e)
	return e, err
}

func (jsonLineParser) ExtractSessionRef(event Event, _ []byte) string {
	return event.SessionID
}

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
}

func TestSpawnStreamsAllOutputBeforeExit(t *testing.T) {
	requireShell(t)

	// A fast-exiting process must still deliver every line it wrote: the
	// harness drains the pipes to EOF before reaping the process.
	script := `for i in 1 2 3 4 5; do echo "{\"type\":\"assistant\",\"session_id\":\"sess-9\"}"; done`
	proc, err := Spawn(context.Background(), Options{
		Path:   "/bin/sh",
		Args:   []string{"-c", script},
		Parser: jsonLineParser{},
		Name:   "fake",
	})
	require.NoError(t, err)

	var events []Event
	for e := range proc.Events() {
		events = append(events, e)
	}
	for err := range proc.Errors() {
		require.NoError(t, err)
	}
	proc.Wait()

	require.Len(t, events, 5)
	assert.Equal(t, EventAssistant, events[0].Type)
	assert.Equal(t, "sess-9", proc.SessionRef())
}

func TestSpawnFailureCarriesStderrTail(t *testing.T) {
	requireShell(t)

	proc, err := Spawn(context.Background(), Options{
		Path:   "/bin/sh",
		Args:   []string{"-c", `echo "auth expired" >&2; exit 7`},
		Parser: jsonLineParser{},
		Name:   "fake",
	})
	require.NoError(t, err)

	for range proc.Events() {
	}
	var got error
	for err := range proc.Errors() {
		got = err
	}
	proc.Wait()

	require.Error(t, got)
	assert.Contains(t, got.Error(), "auth expired")
}

func TestSpawnCancelIsNotAFailure(t *testing.T) {
	requireShell(t)

	proc, err := Spawn(context.Background(), Options{
		Path:   "/bin/sh",
		Args:   []string{"-c", "sleep 30"},
		Parser: jsonLineParser{},
		Name:   "fake",
	})
	require.NoError(t, err)

	proc.Cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range proc.Events() {
		}
		for err := range proc.Errors() {
			assert.NoError(t, err)
		}
		proc.Wait()
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled process did not wind down")
	}
}
