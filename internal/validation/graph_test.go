package validation

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/iudanet/taskgraph/internal/models"
)

func TestValidateEntityID(t *testing.T) {
	assert.NoError(t, ValidateEntityID(uuid.NewString()))
	assert.Error(t, ValidateEntityID(""))
	assert.Error(t, ValidateEntityID("not-a-uuid"))
}

func TestValidateTask(t *testing.T) {
	valid := func() *models.Task {
		return &models.Task{
			ID:     uuid.NewString(),
			Title:  "Write report",
			Status: models.StatusTodo,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*models.Task)
		wantErr bool
	}{
		{name: "valid task", mutate: func(t *models.Task) {}, wantErr: false},
		{name: "in progress", mutate: func(t *models.Task) { t.Status = models.StatusInProgress }, wantErr: false},
		{name: "empty title", mutate: func(t *models.Task) { t.Title = "" }, wantErr: true},
		{name: "title too long", mutate: func(t *models.Task) { t.Title = strings.Repeat("x", MaxTitleLen+1) }, wantErr: true},
		{name: "title at limit", mutate: func(t *models.Task) { t.Title = strings.Repeat("x", MaxTitleLen) }, wantErr: false},
		{name: "description too long", mutate: func(t *models.Task) { t.Description = strings.Repeat("x", MaxDescriptionLen+1) }, wantErr: true},
		{name: "unknown status", mutate: func(t *models.Task) { t.Status = "blocked" }, wantErr: true},
		{name: "invalid id", mutate: func(t *models.Task) { t.ID = "123" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := valid()
			tt.mutate(task)
			err := ValidateTask(task)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateConnection(t *testing.T) {
	sourceID := uuid.NewString()
	targetID := uuid.NewString()
	project := &models.Project{
		ID: uuid.NewString(),
		Tasks: []models.Task{
			{ID: sourceID, Title: "Source", Status: models.StatusTodo},
			{ID: targetID, Title: "Target", Status: models.StatusTodo},
		},
	}

	valid := func() *models.Connection {
		return &models.Connection{
			ID:       uuid.NewString(),
			SourceID: sourceID,
			TargetID: targetID,
			Kind:     models.ConnectionDependency,
		}
	}

	t.Run("valid connection", func(t *testing.T) {
		assert.NoError(t, ValidateConnection(valid(), project))
	})

	t.Run("self loop", func(t *testing.T) {
		conn := valid()
		conn.TargetID = conn.SourceID
		assert.Error(t, ValidateConnection(conn, project))
	})

	t.Run("unknown kind", func(t *testing.T) {
		conn := valid()
		conn.Kind = "follows"
		assert.Error(t, ValidateConnection(conn, project))
	})

	t.Run("missing endpoint", func(t *testing.T) {
		conn := valid()
		conn.TargetID = uuid.NewString()
		assert.Error(t, ValidateConnection(conn, project))
	})

	t.Run("nil project skips endpoint check", func(t *testing.T) {
		conn := valid()
		conn.TargetID = uuid.NewString()
		assert.NoError(t, ValidateConnection(conn, nil))
	})
}
