package repository

import (
	"context"
	"errors"

	"github.com/hiennguyen9874/api-base-project/internal/db/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// PrincipalRepository exposes persistence operations for principals.
type PrincipalRepository interface {
	Create(ctx context.Context, principal *models.Principal) error
	GetByID(ctx context.Context, id string) (*models.Principal, error)
	GetByEmail(ctx context.Context, email string) (*models.Principal, error)
	Update(ctx context.Context, principal *models.Principal) error
	UpdateLastLogin(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, offset, limit int) ([]models.Principal, int, error)
}

// RuleFilter constrains a filtered rule load. Each non-empty slice is an
// IN predicate on its column; empty slices leave the column unconstrained.
type RuleFilter struct {
	Ptype  []string
	Values [models.MaxRuleFields][]string
}

// PolicyRuleRepository exposes persistence operations for policy rules.
// Tuple matching treats NULL as equal to NULL.
type PolicyRuleRepository interface {
	All(ctx context.Context) ([]models.PolicyRule, error)
	Filtered(ctx context.Context, filter RuleFilter) ([]models.PolicyRule, error)
	List(ctx context.Context, offset, limit int) ([]models.PolicyRule, int, error)

	// ReplaceAll deletes every row and inserts rules in one transaction.
	ReplaceAll(ctx context.Context, rules []*models.PolicyRule) error
	// Add inserts rules that are not already present and returns how many were new.
	Add(ctx context.Context, rules ...*models.PolicyRule) (int64, error)
	// Remove deletes rows matching the full tuples and returns how many went.
	Remove(ctx context.Context, rules ...*models.PolicyRule) (int64, error)
	// RemoveFiltered deletes rows of ptype whose fields starting at fieldIndex
	// equal values; an empty value matches anything.
	RemoveFiltered(ctx context.Context, ptype string, fieldIndex int, values ...string) (int64, error)
	// Update rewrites each old tuple to the new one at the same index.
	Update(ctx context.Context, oldRules, newRules []*models.PolicyRule) (int64, error)
	// UpdateFiltered replaces rows matched like RemoveFiltered with newRules and returns the removed rows.
	UpdateFiltered(ctx context.Context, ptype string, fieldIndex int, values []string, newRules []*models.PolicyRule) ([]models.PolicyRule, error)
}
