package storage

import (
	"context"

	"github.com/iudanet/taskgraph/internal/models"
)

// ProjectStorage defines interface for project graph persistence.
// Projects carry a monotonically increasing version used as the
// optimistic concurrency token: every successful write bumps it by
// exactly one, and a compare-and-set write with a stale expected
// version affects zero rows.
type ProjectStorage interface {
	// GetProject retrieves a project with its tasks and connections.
	// Returns ErrProjectNotFound if the project row doesn't exist.
	GetProject(ctx context.Context, userID, projectID string) (*models.Project, error)

	// ListProjects retrieves all projects of a user (rows only, without
	// tasks and connections)
	ListProjects(ctx context.Context, userID string) ([]*models.Project, error)

	// SaveProject writes the whole project with predicate
	// version = expectedVersion. expectedVersion 0 inserts a new row with
	// version 1. Returns the number of affected project rows (0 = the
	// compare-and-set predicate failed) and the resulting version.
	SaveProject(ctx context.Context, userID string, project *models.Project, expectedVersion int64) (rows, newVersion int64, err error)

	// WriteEntities upserts individual tasks and connections, bumping the
	// project version by one. Returns ErrProjectNotFound if the project
	// row doesn't exist.
	WriteEntities(ctx context.Context, userID, projectID string, tasks []models.Task, connections []models.Connection) (newVersion int64, err error)

	// DeleteEntities soft-deletes entities by setting their tombstone,
	// bumping the project version by one
	DeleteEntities(ctx context.Context, userID, projectID string, ids []string) (newVersion int64, err error)
}
