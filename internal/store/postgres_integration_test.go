package store_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heartpsalm/backend/internal/db"
	"heartpsalm/backend/internal/store"
)

func requireIntegration(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL is not set")
	}
	require.NoError(t, db.Migrate(dsn))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := db.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func createTestUser(t *testing.T, repo *store.PostgresRepository) store.User {
	t.Helper()
	id := uuid.NewString()
	user := store.User{
		ID:           id,
		Username:     "u" + id[:8],
		Email:        id[:8] + "@example.com",
		PasswordHash: "$2a$10$placeholder",
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, repo.CreateUser(context.Background(), user))
	return user
}

func TestPostgresMessageLifecycleIntegration(t *testing.T) {
	pool := requireIntegration(t)
	repo := store.NewPostgresRepository(pool)
	ctx := context.Background()
	user := createTestUser(t, repo)
	session := uuid.NewString()

	base := time.Now().UTC().Truncate(time.Microsecond)
	first := store.Message{UserID: user.ID, SessionID: session, Role: store.RoleUser, Content: "I feel lonely", CreatedAt: base}
	second := store.Message{UserID: user.ID, SessionID: session, Role: store.RoleAssistant, Content: "Psalm 23", CreatedAt: base.Add(time.Microsecond)}
	require.NoError(t, repo.InsertMessage(ctx, &first))
	require.NoError(t, repo.InsertMessage(ctx, &second))
	assert.Greater(t, second.ID, first.ID)

	msgs, err := repo.ListMessages(ctx, user.ID, session)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, store.RoleUser, msgs[0].Role)
	assert.True(t, msgs[0].CreatedAt.Equal(base))

	head, err := repo.FirstMessage(ctx, user.ID, session)
	require.NoError(t, err)
	assert.Equal(t, first.ID, head.ID)

	sessions, err := repo.ListSessions(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	require.NoError(t, repo.DeleteMessage(ctx, second.ID))
	deleted, err := repo.DeleteSession(ctx, user.ID, session)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = repo.FirstMessage(ctx, user.ID, session)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPostgresDuplicateUserIntegration(t *testing.T) {
	pool := requireIntegration(t)
	repo := store.NewPostgresRepository(pool)
	user := createTestUser(t, repo)

	dup := user
	dup.ID = uuid.NewString()
	dup.Email = "other-" + user.Email
	err := repo.CreateUser(context.Background(), dup)
	var dupErr *store.DuplicateUserError
	require.True(t, errors.As(err, &dupErr))
	assert.Equal(t, "username", dupErr.Field)

	dup.Username = "x" + user.Username[1:]
	dup.Email = user.Email
	err = repo.CreateUser(context.Background(), dup)
	require.True(t, errors.As(err, &dupErr))
	assert.Equal(t, "email", dupErr.Field)
}

func TestPostgresStoresMaxLengthEmailIntegration(t *testing.T) {
	pool := requireIntegration(t)
	repo := store.NewPostgresRepository(pool)
	id := uuid.NewString()

	email := id[:8] + strings.Repeat("e", 100) + "@example.com"
	require.Len(t, email, 120)
	user := store.User{
		ID:           id,
		Username:     "u" + id[:8],
		Email:        email,
		PasswordHash: "$2a$10$placeholder",
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, repo.CreateUser(context.Background(), user))

	got, err := repo.GetUserByEmail(context.Background(), email)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
}

func TestPostgresSeedInstructionsIsIdempotentIntegration(t *testing.T) {
	pool := requireIntegration(t)
	repo := store.NewPostgresRepository(pool)
	ctx := context.Background()

	require.NoError(t, repo.SeedInstructions(ctx, store.DefaultInstructions))
	require.NoError(t, repo.SeedInstructions(ctx, store.Instructions{User: "changed", Assistant: "changed"}))

	got, err := repo.GetInstructions(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, "changed", got.User)
	assert.NotEqual(t, "changed", got.Assistant)
}
