package service

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agor-sh/agor/internal/common/config"
	"github.com/agor-sh/agor/internal/common/logger"
	"github.com/agor-sh/agor/internal/db"
	"github.com/agor-sh/agor/internal/events/bus"
	"github.com/agor-sh/agor/internal/store/models"
	"github.com/agor-sh/agor/internal/store/repository"
	sqlrepo "github.com/agor-sh/agor/internal/store/repository/sql"
)

func newBoardService(t *testing.T) (*BoardService, repository.Repository) {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stderr"})
	require.NoError(t, err)

	pool, err := db.Open(config.DatabaseConfig{
		Dialect: "sqlite",
		Path:    filepath.Join(t.TempDir(), "agor.db"),
	})
	require.NoError(t, err)
	repo, err := sqlrepo.New(pool)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	return NewBoardService(repo, bus.NewMemoryEventBus(log), log), repo
}

func roadmapBoard() *models.Board {
	return &models.Board{
		Name:  "Roadmap",
		Slug:  "roadmap",
		Icon:  "map",
		Color: "#3b82f6",
		Objects: map[string]models.CanvasObject{
			"note-1": {Type: models.BoardObjectText, X: 10, Y: 20, Text: "ship it"},
			"zone-1": {
				Type: models.BoardObjectZone, X: 100, Y: 100, Width: 300, Height: 200,
				Label:   "review",
				Trigger: &models.ZoneTrigger{Prompt: "review the diff", Tool: "claude-code"},
			},
		},
	}
}

func TestBoardYAMLRoundTrip(t *testing.T) {
	svc, _ := newBoardService(t)
	ctx := context.Background()

	board, err := svc.Create(ctx, member(), roadmapBoard())
	require.NoError(t, err)

	data, err := svc.ToYAML(ctx, member(), board.ID)
	require.NoError(t, err)

	// Same slug resolves to the same board, so a re-import is an update.
	imported, err := svc.FromYAML(ctx, member(), data)
	require.NoError(t, err)
	assert.Equal(t, board.ID, imported.ID)
	assert.Equal(t, board.Name, imported.Name)
	require.Contains(t, imported.Objects, "zone-1")
	zone := imported.Objects["zone-1"]
	require.NotNil(t, zone.Trigger)
	assert.Equal(t, "review the diff", zone.Trigger.Prompt)
}

func TestBoardYAMLImportCreatesWhenSlugUnknown(t *testing.T) {
	svc, _ := newBoardService(t)
	ctx := context.Background()

	imported, err := svc.FromYAML(ctx, member(), []byte("name: Scratch\nslug: scratch\nobjects: {}\n"))
	require.NoError(t, err)
	assert.NotEmpty(t, imported.ID)
	assert.Equal(t, "Scratch", imported.Name)
	assert.Equal(t, member().UserID, imported.CreatedBy)
}

func TestBoardImportRejectsMissingName(t *testing.T) {
	svc, _ := newBoardService(t)

	_, err := svc.FromYAML(context.Background(), member(), []byte("slug: nameless\n"))
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestBoardBlobRoundTrip(t *testing.T) {
	svc, _ := newBoardService(t)
	ctx := context.Background()

	board, err := svc.Create(ctx, member(), roadmapBoard())
	require.NoError(t, err)

	blob, err := svc.ToBlob(ctx, member(), board.ID)
	require.NoError(t, err)

	imported, err := svc.FromBlob(ctx, member(), blob)
	require.NoError(t, err)
	assert.Equal(t, board.ID, imported.ID)
	assert.Len(t, imported.Objects, 2)
}

func TestBoardCloneCopiesObjectsNotPlacements(t *testing.T) {
	svc, repo := newBoardService(t)
	ctx := context.Background()

	board, err := svc.Create(ctx, member(), roadmapBoard())
	require.NoError(t, err)

	wt := &models.Worktree{ID: "wt-b", RepoID: "/repo", Path: "/repo/wt-b", Ref: "main", CreatedBy: "u-1"}
	require.NoError(t, repo.CreateWorktree(ctx, wt))
	_, err = svc.PlaceWorktree(ctx, member(), board.ID, wt.ID, 5, 5)
	require.NoError(t, err)

	clone, err := svc.Clone(ctx, member(), board.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "Roadmap (copy)", clone.Name)
	assert.NotEqual(t, board.ID, clone.ID)
	assert.Len(t, clone.Objects, 2)

	placements, err := repo.ListBoardObjects(ctx, clone.ID)
	require.NoError(t, err)
	assert.Empty(t, placements, "worktree placements stay on the source board")
}

func TestUpsertObjectRejectsUnknownType(t *testing.T) {
	svc, _ := newBoardService(t)
	ctx := context.Background()

	board, err := svc.Create(ctx, member(), &models.Board{Name: "b"})
	require.NoError(t, err)

	err = svc.UpsertObject(ctx, member(), board.ID, "obj-1", models.CanvasObject{Type: "sticker"})
	assert.Equal(t, KindValidation, KindOf(err))
}
