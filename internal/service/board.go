package service

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/agor-sh/agor/internal/common/logger"
	"github.com/agor-sh/agor/internal/events"
	"github.com/agor-sh/agor/internal/events/bus"
	"github.com/agor-sh/agor/internal/store/models"
	"github.com/agor-sh/agor/internal/store/repository"
)

// BoardService owns boards, their canvas objects, worktree placements,
// and board import/export.
type BoardService struct {
	repo   repository.Repository
	pub    *publisher
	logger *logger.Logger
}

// NewBoardService creates a board service.
func NewBoardService(repo repository.Repository, eventBus bus.EventBus, log *logger.Logger) *BoardService {
	return &BoardService{
		repo:   repo,
		pub:    &publisher{bus: eventBus, logger: log},
		logger: log.WithFields(zap.String("component", "board-service")),
	}
}

// Create makes a new board.
func (s *BoardService) Create(ctx context.Context, p Principal, board *models.Board) (*models.Board, error) {
	if board.ID == "" {
		board.ID = uuid.New().String()
	}
	board.CreatedBy = p.UserID
	if board.Objects == nil {
		board.Objects = make(map[string]models.CanvasObject)
	}
	if err := s.repo.CreateBoard(ctx, board); err != nil {
		return nil, FromRepository(err)
	}
	s.pub.publish(ctx, events.SubjectBoardUpdated(board.ID), events.TypeBoardUpdated, "boards", "created", board)
	return board, nil
}

// Get loads a board.
func (s *BoardService) Get(ctx context.Context, p Principal, id string) (*models.Board, error) {
	board, err := s.repo.GetBoard(ctx, id)
	if err != nil {
		return nil, FromRepository(err)
	}
	return board, nil
}

// List returns all boards.
func (s *BoardService) List(ctx context.Context, p Principal) ([]*models.Board, error) {
	boards, err := s.repo.ListBoards(ctx)
	if err != nil {
		return nil, FromRepository(err)
	}
	return boards, nil
}

// Remove deletes a board; worktree placements are released.
func (s *BoardService) Remove(ctx context.Context, p Principal, id string) error {
	board, err := s.repo.GetBoard(ctx, id)
	if err != nil {
		return FromRepository(err)
	}
	if !p.IsAdmin() && board.CreatedBy != p.UserID {
		return NewError(KindForbidden, "board belongs to another user")
	}
	if err := s.repo.DeleteBoard(ctx, id); err != nil {
		return FromRepository(err)
	}
	s.pub.publish(ctx, events.SubjectBoardUpdated(id), events.TypeBoardUpdated, "boards", "removed", board)
	return nil
}

// UpsertObject sets one canvas object in a single store transaction.
func (s *BoardService) UpsertObject(ctx context.Context, p Principal, boardID, objectID string, obj models.CanvasObject) error {
	switch obj.Type {
	case models.BoardObjectText, models.BoardObjectZone:
	default:
		return NewError(KindValidation, "unknown board object type %q", obj.Type)
	}
	if err := s.repo.UpsertBoardCanvasObject(ctx, boardID, objectID, obj); err != nil {
		return FromRepository(err)
	}
	s.pub.publish(ctx, events.SubjectBoardObjectAdded(boardID), events.TypeBoardObjectAdded, "boards", "patched",
		map[string]any{"board_id": boardID, "object_id": objectID, "object": obj})
	return nil
}

// RemoveObject deletes one canvas object.
func (s *BoardService) RemoveObject(ctx context.Context, p Principal, boardID, objectID string) error {
	if err := s.repo.RemoveBoardCanvasObject(ctx, boardID, objectID); err != nil {
		return FromRepository(err)
	}
	s.pub.publish(ctx, events.SubjectBoardObjectRemoved(boardID), events.TypeBoardObjectRemoved, "boards", "patched",
		map[string]any{"board_id": boardID, "object_id": objectID})
	return nil
}

// PlaceWorktree puts a worktree on the board at (x, y).
func (s *BoardService) PlaceWorktree(ctx context.Context, p Principal, boardID, worktreeID string, x, y float64) (*models.BoardObject, error) {
	obj := &models.BoardObject{
		ID:         uuid.New().String(),
		BoardID:    boardID,
		WorktreeID: worktreeID,
		X:          x,
		Y:          y,
	}
	if err := s.repo.CreateBoardObject(ctx, obj); err != nil {
		return nil, FromRepository(err)
	}
	s.pub.publish(ctx, events.SubjectBoardObjectAdded(boardID), events.TypeBoardObjectAdded, "boards", "patched", obj)
	return obj, nil
}

// MoveObject updates a placement position; last write wins.
func (s *BoardService) MoveObject(ctx context.Context, p Principal, boardID, objectID string, x, y float64) error {
	if err := s.repo.UpdateBoardObjectPosition(ctx, objectID, x, y); err != nil {
		return FromRepository(err)
	}
	s.pub.publish(ctx, events.SubjectBoardUpdated(boardID), events.TypeBoardUpdated, "boards", "patched",
		map[string]any{"board_id": boardID, "object_id": objectID, "x": x, "y": y})
	return nil
}

// boardExport is the canonical serialized form of a board.
type boardExport struct {
	Name    string                         `yaml:"name" json:"name"`
	Slug    string                         `yaml:"slug,omitempty" json:"slug,omitempty"`
	Icon    string                         `yaml:"icon,omitempty" json:"icon,omitempty"`
	Color   string                         `yaml:"color,omitempty" json:"color,omitempty"`
	Objects map[string]models.CanvasObject `yaml:"objects" json:"objects"`
}

// ToYAML serializes a board for export.
func (s *BoardService) ToYAML(ctx context.Context, p Principal, id string) ([]byte, error) {
	board, err := s.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}
	data, err := yaml.Marshal(exportOf(board))
	if err != nil {
		return nil, WrapError(KindInternal, err, "failed to serialize board")
	}
	return data, nil
}

// FromYAML imports a board from its YAML export. Importing the same
// document twice updates the same board keyed by slug, so the operation
// is idempotent for identical input.
func (s *BoardService) FromYAML(ctx context.Context, p Principal, data []byte) (*models.Board, error) {
	var exp boardExport
	if err := yaml.Unmarshal(data, &exp); err != nil {
		return nil, WrapError(KindValidation, err, "invalid board YAML")
	}
	return s.importBoard(ctx, p, exp)
}

// ToBlob serializes a board as compact JSON.
func (s *BoardService) ToBlob(ctx context.Context, p Principal, id string) ([]byte, error) {
	board, err := s.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(exportOf(board))
	if err != nil {
		return nil, WrapError(KindInternal, err, "failed to serialize board")
	}
	return data, nil
}

// FromBlob imports a board from its JSON export.
func (s *BoardService) FromBlob(ctx context.Context, p Principal, data []byte) (*models.Board, error) {
	var exp boardExport
	if err := json.Unmarshal(data, &exp); err != nil {
		return nil, WrapError(KindValidation, err, "invalid board blob")
	}
	return s.importBoard(ctx, p, exp)
}

// Clone duplicates a board's metadata and canvas objects under a new id.
// Worktree placements are not cloned: a worktree lives on one board.
func (s *BoardService) Clone(ctx context.Context, p Principal, id, name string) (*models.Board, error) {
	board, err := s.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = board.Name + " (copy)"
	}
	objects := make(map[string]models.CanvasObject, len(board.Objects))
	for k, v := range board.Objects {
		objects[k] = v
	}
	return s.Create(ctx, p, &models.Board{
		Name:    name,
		Icon:    board.Icon,
		Color:   board.Color,
		Objects: objects,
	})
}

func exportOf(board *models.Board) boardExport {
	return boardExport{
		Name:    board.Name,
		Slug:    board.Slug,
		Icon:    board.Icon,
		Color:   board.Color,
		Objects: board.Objects,
	}
}

func (s *BoardService) importBoard(ctx context.Context, p Principal, exp boardExport) (*models.Board, error) {
	if exp.Name == "" {
		return nil, NewError(KindValidation, "board name required")
	}
	if exp.Objects == nil {
		exp.Objects = make(map[string]models.CanvasObject)
	}

	if exp.Slug != "" {
		boards, err := s.repo.ListBoards(ctx)
		if err != nil {
			return nil, FromRepository(err)
		}
		for _, existing := range boards {
			if existing.Slug == exp.Slug {
				existing.Name = exp.Name
				existing.Icon = exp.Icon
				existing.Color = exp.Color
				existing.Objects = exp.Objects
				if err := s.repo.UpdateBoard(ctx, existing); err != nil {
					return nil, FromRepository(err)
				}
				s.pub.publish(ctx, events.SubjectBoardUpdated(existing.ID), events.TypeBoardUpdated, "boards", "patched", existing)
				return existing, nil
			}
		}
	}

	return s.Create(ctx, p, &models.Board{
		Name:    exp.Name,
		Slug:    exp.Slug,
		Icon:    exp.Icon,
		Color:   exp.Color,
		Objects: exp.Objects,
	})
}
