package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/taskgraph/internal/models"
	"github.com/iudanet/taskgraph/internal/server/storage"
)

// GetProject retrieves a project with its tasks and connections
func (s *Storage) GetProject(ctx context.Context, userID, projectID string) (*models.Project, error) {
	query := `
		SELECT id, name, version, updated_at
		FROM projects
		WHERE id = ? AND user_id = ?
	`

	project := &models.Project{}
	err := s.db.QueryRowContext(ctx, query, projectID, userID).Scan(
		&project.ID,
		&project.Name,
		&project.Version,
		&project.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	if project.Tasks, err = s.projectTasks(ctx, projectID); err != nil {
		return nil, err
	}
	if project.Connections, err = s.projectConnections(ctx, projectID); err != nil {
		return nil, err
	}

	return project, nil
}

// ListProjects retrieves all projects of a user without their entities
func (s *Storage) ListProjects(ctx context.Context, userID string) ([]*models.Project, error) {
	query := `
		SELECT id, name, version, updated_at
		FROM projects
		WHERE user_id = ?
		ORDER BY updated_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	projects := make([]*models.Project, 0)
	for rows.Next() {
		project := &models.Project{}
		if err := rows.Scan(&project.ID, &project.Name, &project.Version, &project.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, project)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate projects: %w", err)
	}

	return projects, nil
}

// SaveProject writes the whole project graph with the compare-and-set
// predicate version = expectedVersion. The project row, its tasks and
// connections are replaced in a single transaction: a failed predicate
// leaves nothing half-written.
func (s *Storage) SaveProject(ctx context.Context, userID string, project *models.Project, expectedVersion int64) (int64, int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	var newVersion int64

	if expectedVersion == 0 {
		newVersion = 1
		_, err = tx.ExecContext(ctx, `
			INSERT INTO projects (id, user_id, name, version, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING
		`, project.ID, userID, project.Name, newVersion, now)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to insert project: %w", err)
		}

		// ON CONFLICT DO NOTHING не сообщает rows affected надежно на
		// всех драйверах - перечитываем версию строки
		var currentVersion int64
		err = tx.QueryRowContext(ctx,
			`SELECT version FROM projects WHERE id = ? AND user_id = ?`,
			project.ID, userID).Scan(&currentVersion)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to read back project version: %w", err)
		}
		if currentVersion != 1 {
			// Строку успел вставить другой писатель
			return 0, currentVersion, nil
		}
	} else {
		newVersion = expectedVersion + 1
		result, err := tx.ExecContext(ctx, `
			UPDATE projects
			SET name = ?, version = ?, updated_at = ?
			WHERE id = ? AND user_id = ? AND version = ?
		`, project.Name, newVersion, now, project.ID, userID, expectedVersion)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to update project: %w", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return 0, 0, fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return 0, 0, nil
		}
	}

	if err := s.replaceEntities(ctx, tx, project); err != nil {
		return 0, 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return 1, newVersion, nil
}

// WriteEntities upserts individual tasks and connections, bumping the
// project version by one
func (s *Storage) WriteEntities(ctx context.Context, userID, projectID string, tasks []models.Task, connections []models.Connection) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	newVersion, err := s.bumpVersion(ctx, tx, userID, projectID)
	if err != nil {
		return 0, err
	}

	for i := range tasks {
		if err := upsertTask(ctx, tx, projectID, &tasks[i]); err != nil {
			return 0, err
		}
	}
	for i := range connections {
		if err := upsertConnection(ctx, tx, projectID, &connections[i]); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return newVersion, nil
}

// DeleteEntities soft-deletes entities by setting their tombstone
func (s *Storage) DeleteEntities(ctx context.Context, userID, projectID string, ids []string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	newVersion, err := s.bumpVersion(ctx, tx, userID, projectID)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	for _, id := range ids {
		// Tombstone ставится в той таблице, где сущность нашлась
		result, err := tx.ExecContext(ctx,
			`UPDATE tasks SET deleted_at = ?, updated_at = ? WHERE id = ? AND project_id = ?`,
			now, now, id, projectID)
		if err != nil {
			return 0, fmt.Errorf("failed to delete task: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows > 0 {
			continue
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE connections SET deleted_at = ?, updated_at = ? WHERE id = ? AND project_id = ?`,
			now, now, id, projectID); err != nil {
			return 0, fmt.Errorf("failed to delete connection: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return newVersion, nil
}

// bumpVersion увеличивает версию проекта на единицу внутри транзакции
func (s *Storage) bumpVersion(ctx context.Context, tx *sql.Tx, userID, projectID string) (int64, error) {
	var version int64
	err := tx.QueryRowContext(ctx,
		`SELECT version FROM projects WHERE id = ? AND user_id = ?`,
		projectID, userID).Scan(&version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, storage.ErrProjectNotFound
		}
		return 0, fmt.Errorf("failed to read project version: %w", err)
	}

	newVersion := version + 1
	if _, err := tx.ExecContext(ctx,
		`UPDATE projects SET version = ?, updated_at = ? WHERE id = ?`,
		newVersion, time.Now().UTC(), projectID); err != nil {
		return 0, fmt.Errorf("failed to bump project version: %w", err)
	}

	return newVersion, nil
}

// replaceEntities замещает все строки задач и связей проекта
func (s *Storage) replaceEntities(ctx context.Context, tx *sql.Tx, project *models.Project) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE project_id = ?`, project.ID); err != nil {
		return fmt.Errorf("failed to clear tasks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM connections WHERE project_id = ?`, project.ID); err != nil {
		return fmt.Errorf("failed to clear connections: %w", err)
	}

	for i := range project.Tasks {
		if err := upsertTask(ctx, tx, project.ID, &project.Tasks[i]); err != nil {
			return err
		}
	}
	for i := range project.Connections {
		if err := upsertConnection(ctx, tx, project.ID, &project.Connections[i]); err != nil {
			return err
		}
	}

	return nil
}

func upsertTask(ctx context.Context, tx *sql.Tx, projectID string, task *models.Task) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (id, project_id, title, description, status, parent_id,
			pos_x, pos_y, created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			status = excluded.status,
			parent_id = excluded.parent_id,
			pos_x = excluded.pos_x,
			pos_y = excluded.pos_y,
			updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at
	`, task.ID, projectID, task.Title, task.Description, task.Status, task.ParentID,
		task.Position.X, task.Position.Y, task.CreatedAt, task.UpdatedAt, task.DeletedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert task: %w", err)
	}
	return nil
}

func upsertConnection(ctx context.Context, tx *sql.Tx, projectID string, conn *models.Connection) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO connections (id, project_id, source_id, target_id, kind,
			created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			source_id = excluded.source_id,
			target_id = excluded.target_id,
			kind = excluded.kind,
			updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at
	`, conn.ID, projectID, conn.SourceID, conn.TargetID, conn.Kind,
		conn.CreatedAt, conn.UpdatedAt, conn.DeletedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert connection: %w", err)
	}
	return nil
}

// projectTasks читает все задачи проекта
func (s *Storage) projectTasks(ctx context.Context, projectID string) ([]models.Task, error) {
	query := `
		SELECT id, title, description, status, parent_id, pos_x, pos_y,
			created_at, updated_at, deleted_at
		FROM tasks
		WHERE project_id = ?
		ORDER BY created_at
	`

	rows, err := s.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]models.Task, 0)
	for rows.Next() {
		task := models.Task{ProjectID: projectID}
		var deletedAt sql.NullTime

		err := rows.Scan(
			&task.ID,
			&task.Title,
			&task.Description,
			&task.Status,
			&task.ParentID,
			&task.Position.X,
			&task.Position.Y,
			&task.CreatedAt,
			&task.UpdatedAt,
			&deletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		if deletedAt.Valid {
			task.DeletedAt = &deletedAt.Time
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}

	return tasks, nil
}

// projectConnections читает все связи проекта
func (s *Storage) projectConnections(ctx context.Context, projectID string) ([]models.Connection, error) {
	query := `
		SELECT id, source_id, target_id, kind, created_at, updated_at, deleted_at
		FROM connections
		WHERE project_id = ?
		ORDER BY created_at
	`

	rows, err := s.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query connections: %w", err)
	}
	defer rows.Close()

	connections := make([]models.Connection, 0)
	for rows.Next() {
		conn := models.Connection{ProjectID: projectID}
		var deletedAt sql.NullTime

		err := rows.Scan(
			&conn.ID,
			&conn.SourceID,
			&conn.TargetID,
			&conn.Kind,
			&conn.CreatedAt,
			&conn.UpdatedAt,
			&deletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		if deletedAt.Valid {
			conn.DeletedAt = &deletedAt.Time
		}
		connections = append(connections, conn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate connections: %w", err)
	}

	return connections, nil
}
