package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/taskgraph/internal/models"
	"github.com/iudanet/taskgraph/internal/server/storage"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return s
}

func createTestUser(t *testing.T, s *Storage) string {
	t.Helper()
	userID := uuid.NewString()
	require.NoError(t, s.CreateUser(context.Background(), &models.User{
		ID:           userID,
		Username:     "user_" + userID[:8],
		PasswordHash: "$2a$10$fakehash",
		CreatedAt:    time.Now().UTC(),
	}))
	return userID
}

func sampleProject() *models.Project {
	taskID := uuid.NewString()
	childID := uuid.NewString()
	return &models.Project{
		ID:      uuid.NewString(),
		Name:    "Roadmap",
		Version: 0,
		Tasks: []models.Task{
			{
				ID: taskID, Title: "Root", Status: models.StatusTodo,
				Position:  models.Position{X: 10, Y: 20},
				CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
			},
			{
				ID: childID, Title: "Child", Status: models.StatusInProgress, ParentID: taskID,
				CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
			},
		},
		Connections: []models.Connection{
			{
				ID: uuid.NewString(), SourceID: taskID, TargetID: childID,
				Kind:      models.ConnectionDependency,
				CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
			},
		},
	}
}

func TestSaveProject_InsertWithVersionOne(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	userID := createTestUser(t, s)
	project := sampleProject()

	rows, newVersion, err := s.SaveProject(ctx, userID, project, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)
	assert.Equal(t, int64(1), newVersion)

	loaded, err := s.GetProject(ctx, userID, project.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), loaded.Version)
	assert.Len(t, loaded.Tasks, 2)
	assert.Len(t, loaded.Connections, 1)
	assert.Equal(t, float64(10), loaded.Tasks[0].Position.X)
}

func TestSaveProject_CompareAndSetIncrementsVersion(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	userID := createTestUser(t, s)
	project := sampleProject()

	_, _, err := s.SaveProject(ctx, userID, project, 0)
	require.NoError(t, err)

	project.Name = "Renamed"
	rows, newVersion, err := s.SaveProject(ctx, userID, project, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)
	assert.Equal(t, int64(2), newVersion)

	loaded, err := s.GetProject(ctx, userID, project.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", loaded.Name)
	assert.Equal(t, int64(2), loaded.Version)
}

func TestSaveProject_StaleVersionAffectsNoRows(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	userID := createTestUser(t, s)
	project := sampleProject()

	_, _, err := s.SaveProject(ctx, userID, project, 0)
	require.NoError(t, err)

	// Предикат против устаревшей версии не трогает строку
	rows, _, err := s.SaveProject(ctx, userID, project, 5)
	require.NoError(t, err)
	assert.Zero(t, rows)

	loaded, err := s.GetProject(ctx, userID, project.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), loaded.Version)
}

func TestSaveProject_DuplicateInsertAffectsNoRows(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	userID := createTestUser(t, s)
	project := sampleProject()

	_, _, err := s.SaveProject(ctx, userID, project, 0)
	require.NoError(t, err)

	// Повторная вставка с expectedVersion = 0 проигрывает гонку
	rows, currentVersion, err := s.SaveProject(ctx, userID, project, 0)
	require.NoError(t, err)
	assert.Zero(t, rows)
	assert.Equal(t, int64(1), currentVersion)
}

func TestSaveProject_ReplacesEntities(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	userID := createTestUser(t, s)
	project := sampleProject()

	_, _, err := s.SaveProject(ctx, userID, project, 0)
	require.NoError(t, err)

	// Второе сохранение с одной задачей замещает весь набор сущностей
	project.Tasks = project.Tasks[:1]
	project.Connections = nil
	_, _, err = s.SaveProject(ctx, userID, project, 1)
	require.NoError(t, err)

	loaded, err := s.GetProject(ctx, userID, project.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Tasks, 1)
	assert.Empty(t, loaded.Connections)
}

func TestGetProject_NotFound(t *testing.T) {
	s := newTestStorage(t)
	userID := createTestUser(t, s)

	_, err := s.GetProject(context.Background(), userID, uuid.NewString())
	assert.ErrorIs(t, err, storage.ErrProjectNotFound)
}

func TestGetProject_OtherUsersProjectIsInvisible(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	owner := createTestUser(t, s)
	stranger := createTestUser(t, s)
	project := sampleProject()

	_, _, err := s.SaveProject(ctx, owner, project, 0)
	require.NoError(t, err)

	_, err = s.GetProject(ctx, stranger, project.ID)
	assert.ErrorIs(t, err, storage.ErrProjectNotFound)
}

func TestListProjects(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	userID := createTestUser(t, s)

	first := sampleProject()
	second := sampleProject()
	_, _, err := s.SaveProject(ctx, userID, first, 0)
	require.NoError(t, err)
	_, _, err = s.SaveProject(ctx, userID, second, 0)
	require.NoError(t, err)

	projects, err := s.ListProjects(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, projects, 2)
	// Список без сущностей - только строки проектов
	assert.Empty(t, projects[0].Tasks)
}

func TestWriteEntities_UpsertsAndBumpsVersion(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	userID := createTestUser(t, s)
	project := sampleProject()

	_, _, err := s.SaveProject(ctx, userID, project, 0)
	require.NoError(t, err)

	task := project.Tasks[0]
	task.Title = "Edited"
	newVersion, err := s.WriteEntities(ctx, userID, project.ID, []models.Task{task}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), newVersion)

	loaded, err := s.GetProject(ctx, userID, project.ID)
	require.NoError(t, err)
	assert.Equal(t, "Edited", loaded.FindTask(task.ID).Title)
	assert.Equal(t, int64(2), loaded.Version)
}

func TestWriteEntities_UnknownProject(t *testing.T) {
	s := newTestStorage(t)
	userID := createTestUser(t, s)

	_, err := s.WriteEntities(context.Background(), userID, uuid.NewString(), nil, nil)
	assert.ErrorIs(t, err, storage.ErrProjectNotFound)
}

func TestDeleteEntities_SetsTombstones(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	userID := createTestUser(t, s)
	project := sampleProject()

	_, _, err := s.SaveProject(ctx, userID, project, 0)
	require.NoError(t, err)

	taskID := project.Tasks[1].ID
	connID := project.Connections[0].ID
	newVersion, err := s.DeleteEntities(ctx, userID, project.ID, []string{taskID, connID})
	require.NoError(t, err)
	assert.Equal(t, int64(2), newVersion)

	loaded, err := s.GetProject(ctx, userID, project.ID)
	require.NoError(t, err)
	// Мягкое удаление: строки остаются с tombstone
	require.NotNil(t, loaded.FindTask(taskID))
	assert.True(t, loaded.FindTask(taskID).IsDeleted())
	require.NotNil(t, loaded.FindConnection(connID))
	assert.True(t, loaded.FindConnection(connID).IsDeleted())
	// Нетронутая задача жива
	assert.False(t, loaded.FindTask(project.Tasks[0].ID).IsDeleted())
}
