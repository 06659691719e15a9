// Package store wires the entity repositories to the configured backend.
package store

import (
	"fmt"

	"github.com/agor-sh/agor/internal/common/config"
	"github.com/agor-sh/agor/internal/db"
	"github.com/agor-sh/agor/internal/store/repository"
	sqlrepo "github.com/agor-sh/agor/internal/store/repository/sql"
)

// Open opens the configured database and returns a ready repository.
func Open(cfg config.DatabaseConfig) (repository.Repository, error) {
	pool, err := db.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	repo, err := sqlrepo.New(pool)
	if err != nil {
		_ = pool.Close()
		return nil, err
	}
	return repo, nil
}
