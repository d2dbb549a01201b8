package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hiennguyen9874/api-base-project/internal/db/bunx"
	"github.com/hiennguyen9874/api-base-project/internal/db/models"
	"github.com/uptrace/bun"
)

// BunPrincipalRepository implements PrincipalRepository using Bun ORM
type BunPrincipalRepository struct {
	db bun.IDB
}

// NewBunPrincipalRepository creates a new Bun-based principal repository
func NewBunPrincipalRepository(db bun.IDB) *BunPrincipalRepository {
	return &BunPrincipalRepository{db: db}
}

// Create inserts a new principal. An empty ID gets a UUIDv7.
func (r *BunPrincipalRepository) Create(ctx context.Context, principal *models.Principal) error {
	if principal.ID == "" {
		principal.ID = bunx.NewUUIDv7()
	}
	if principal.AccountStatus == "" {
		principal.AccountStatus = models.AccountStatusActive
	}
	now := time.Now().UTC()
	principal.CreatedAt = now
	principal.UpdatedAt = now

	_, err := r.db.NewInsert().
		Model(principal).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create principal: %w", err)
	}
	return nil
}

// GetByID retrieves a principal by ID
func (r *BunPrincipalRepository) GetByID(ctx context.Context, id string) (*models.Principal, error) {
	principal := new(models.Principal)
	err := r.db.NewSelect().
		Model(principal).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("principal %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get principal by ID: %w", err)
	}
	return principal, nil
}

// GetByEmail retrieves a principal by email
func (r *BunPrincipalRepository) GetByEmail(ctx context.Context, email string) (*models.Principal, error) {
	principal := new(models.Principal)
	err := r.db.NewSelect().
		Model(principal).
		Where("email = ?", email).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("principal with email %s: %w", email, ErrNotFound)
		}
		return nil, fmt.Errorf("get principal by email: %w", err)
	}
	return principal, nil
}

// Update writes every column of an existing principal
func (r *BunPrincipalRepository) Update(ctx context.Context, principal *models.Principal) error {
	principal.UpdatedAt = time.Now().UTC()
	result, err := r.db.NewUpdate().
		Model(principal).
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update principal: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("principal %s: %w", principal.ID, ErrNotFound)
	}

	return nil
}

// UpdateLastLogin updates the last_login_at timestamp
func (r *BunPrincipalRepository) UpdateLastLogin(ctx context.Context, id string) error {
	now := time.Now().UTC()
	_, err := r.db.NewUpdate().
		Model((*models.Principal)(nil)).
		Set("last_login_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

// Delete removes a principal row
func (r *BunPrincipalRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.NewDelete().
		Model((*models.Principal)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete principal: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("principal %s: %w", id, ErrNotFound)
	}
	return nil
}

// List returns one page ordered by email along with the total count
func (r *BunPrincipalRepository) List(ctx context.Context, offset, limit int) ([]models.Principal, int, error) {
	var principals []models.Principal
	total, err := r.db.NewSelect().
		Model(&principals).
		Order("email ASC").
		Offset(offset).
		Limit(limit).
		ScanAndCount(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list principals: %w", err)
	}
	return principals, total, nil
}
