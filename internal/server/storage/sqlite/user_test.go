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

func TestUserStorage_CreateAndGet(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	user := &models.User{
		ID:           uuid.NewString(),
		Username:     "alice",
		PasswordHash: "$2a$10$somehash",
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, s.CreateUser(ctx, user))

	byName, err := s.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byName.ID)
	assert.Equal(t, user.PasswordHash, byName.PasswordHash)

	byID, err := s.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", byID.Username)
}

func TestUserStorage_DuplicateUsername(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	user := &models.User{
		ID:           uuid.NewString(),
		Username:     "alice",
		PasswordHash: "hash",
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, s.CreateUser(ctx, user))

	dup := &models.User{
		ID:           uuid.NewString(),
		Username:     "alice",
		PasswordHash: "other",
		CreatedAt:    time.Now().UTC(),
	}
	err := s.CreateUser(ctx, dup)
	assert.ErrorIs(t, err, storage.ErrUserAlreadyExists)
}

func TestUserStorage_NotFound(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	_, err := s.GetUserByUsername(ctx, "ghost")
	assert.ErrorIs(t, err, storage.ErrUserNotFound)

	_, err = s.GetUserByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
}

func TestUserStorage_UpdateLastLogin(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	user := &models.User{
		ID:           uuid.NewString(),
		Username:     "alice",
		PasswordHash: "hash",
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, s.CreateUser(ctx, user))

	loginAt := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.UpdateLastLogin(ctx, user.ID, loginAt))

	loaded, err := s.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, loginAt, loaded.LastLoginAt.UTC().Truncate(time.Second))

	err = s.UpdateLastLogin(ctx, uuid.NewString(), loginAt)
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
}
