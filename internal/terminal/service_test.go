package terminal

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agor-sh/agor/internal/common/config"
	"github.com/agor-sh/agor/internal/common/logger"
	"github.com/agor-sh/agor/internal/events/bus"
	"github.com/agor-sh/agor/internal/service"
	"github.com/agor-sh/agor/internal/store"
	"github.com/agor-sh/agor/internal/store/repository"
)

func newTestService(t *testing.T) (*Service, repository.Repository) {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stderr"})
	require.NoError(t, err)

	repo, err := store.Open(config.DatabaseConfig{
		Dialect: "sqlite",
		Path:    filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	svc := NewService(repo, bus.NewMemoryEventBus(log), log)
	t.Cleanup(svc.Shutdown)
	return svc, repo
}

func TestCreateInputSnapshot(t *testing.T) {
	svc, _ := newTestService(t)
	p := service.Principal{UserID: "u1", Role: "member"}

	term, err := svc.Create(context.Background(), p, CreateRequest{Command: "/bin/sh", Cols: 80, Rows: 24})
	require.NoError(t, err)

	require.NoError(t, svc.Input(context.Background(), p, term.ID, []byte("echo agor-test-marker\n")))

	assert.Eventually(t, func() bool {
		for _, line := range term.Snapshot() {
			if strings.Contains(line, "agor-test-marker") {
				return true
			}
		}
		return false
	}, 5*time.Second, 50*time.Millisecond)
}

func TestResizeUpdatesDimensions(t *testing.T) {
	svc, _ := newTestService(t)
	p := service.Principal{UserID: "u1", Role: "member"}

	term, err := svc.Create(context.Background(), p, CreateRequest{Command: "/bin/sh"})
	require.NoError(t, err)

	require.NoError(t, svc.Resize(context.Background(), p, term.ID, 120, 40))
	assert.Equal(t, 120, term.Cols)
	assert.Equal(t, 40, term.Rows)
	assert.Len(t, term.Snapshot(), 40)

	err = svc.Resize(context.Background(), p, term.ID, 0, 40)
	assert.Equal(t, service.KindValidation, service.KindOf(err))
}

func TestOwnershipEnforced(t *testing.T) {
	svc, _ := newTestService(t)
	owner := service.Principal{UserID: "u1", Role: "member"}
	other := service.Principal{UserID: "u2", Role: "member"}
	admin := service.Principal{UserID: "root", Role: "admin"}

	term, err := svc.Create(context.Background(), owner, CreateRequest{Command: "/bin/sh"})
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), other, term.ID)
	assert.Equal(t, service.KindForbidden, service.KindOf(err))

	_, err = svc.Get(context.Background(), admin, term.ID)
	assert.NoError(t, err)

	assert.Len(t, svc.List(context.Background(), owner), 1)
	assert.Empty(t, svc.List(context.Background(), other))
}

func TestRemoveClosesTerminal(t *testing.T) {
	svc, _ := newTestService(t)
	p := service.Principal{UserID: "u1", Role: "member"}

	term, err := svc.Create(context.Background(), p, CreateRequest{Command: "/bin/sh"})
	require.NoError(t, err)

	require.NoError(t, svc.Remove(context.Background(), p, term.ID))

	_, err = svc.Get(context.Background(), p, term.ID)
	assert.Equal(t, service.KindNotFound, service.KindOf(err))
	assert.Error(t, term.Write([]byte("x")))
}
