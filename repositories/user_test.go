package repositories_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"helpdesk/domain"
	herrors "helpdesk/errors"
	"helpdesk/repositories"
)

func TestUserRepository_CreateAndGet(t *testing.T) {
	// Given a fresh store
	req := require.New(t)
	repo := repositories.NewUserRepository(openDB(t))
	user := domain.User{
		ID:          "agent-1",
		DisplayName: "Alice",
		Role:        domain.RoleAgent,
		Active:      true,
		CreatedAt:   time.Now().UTC(),
	}

	// When the account is created
	req.NoError(repo.Create(user))

	// Then it reads back intact and duplicates are refused
	got, err := repo.Get("agent-1")
	req.NoError(err)
	req.Equal("Alice", got.DisplayName)
	req.Equal(domain.RoleAgent, got.Role)
	req.True(got.Active)
	req.False(got.Blocked)

	req.Error(repo.Create(user))
}

func TestUserRepository_GetUnknown(t *testing.T) {
	req := require.New(t)
	repo := repositories.NewUserRepository(openDB(t))

	_, err := repo.Get("missing")
	req.ErrorIs(err, herrors.ErrUserNotFound)
}
