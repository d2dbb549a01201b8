package repository

import (
	"context"
	"testing"

	"github.com/hiennguyen9874/api-base-project/internal/db/dbtest"
	"github.com/hiennguyen9874/api-base-project/internal/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBunPrincipalRepository_CRUD(t *testing.T) {
	db := dbtest.NewSQLite(t)
	repo := NewBunPrincipalRepository(db)
	ctx := context.Background()

	p := &models.Principal{Email: "a@x.com", PasswordHash: "hash", FullName: "A", IsActive: true}

	t.Run("create and get", func(t *testing.T) {
		require.NoError(t, repo.Create(ctx, p))
		assert.NotEmpty(t, p.ID)
		assert.Equal(t, models.AccountStatusActive, p.AccountStatus)

		byEmail, err := repo.GetByEmail(ctx, "a@x.com")
		require.NoError(t, err)
		assert.Equal(t, p.ID, byEmail.ID)
		assert.True(t, byEmail.IsActive)

		byID, err := repo.GetByID(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, "a@x.com", byID.Email)
	})

	t.Run("inactive principal keeps its flag", func(t *testing.T) {
		inactive := &models.Principal{Email: "off@x.com", PasswordHash: "hash", IsActive: false}
		require.NoError(t, repo.Create(ctx, inactive))

		got, err := repo.GetByEmail(ctx, "off@x.com")
		require.NoError(t, err)
		assert.False(t, got.IsActive)
	})

	t.Run("duplicate email rejected", func(t *testing.T) {
		err := repo.Create(ctx, &models.Principal{Email: "a@x.com", PasswordHash: "other"})
		assert.Error(t, err)
	})

	t.Run("update and last login", func(t *testing.T) {
		p.AccountStatus = models.AccountStatusSuspended
		require.NoError(t, repo.Update(ctx, p))
		require.NoError(t, repo.UpdateLastLogin(ctx, p.ID))

		got, err := repo.GetByID(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, models.AccountStatusSuspended, got.AccountStatus)
		assert.NotNil(t, got.LastLoginAt)
	})

	t.Run("list", func(t *testing.T) {
		page, total, err := repo.List(ctx, 0, 1)
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		require.Len(t, page, 1)
		assert.Equal(t, "a@x.com", page[0].Email)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := repo.GetByEmail(ctx, "nobody@x.com")
		assert.ErrorIs(t, err, ErrNotFound)

		err = repo.Update(ctx, &models.Principal{ID: "00000000-0000-0000-0000-000000000000", Email: "ghost@x.com"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, p.ID))
		_, err := repo.GetByID(ctx, p.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, repo.Delete(ctx, p.ID), ErrNotFound)
	})
}
