package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/hiennguyen9874/api-base-project/internal/db/models"
	"github.com/uptrace/bun"
)

// BunPolicyRuleRepository implements PolicyRuleRepository using Bun ORM
type BunPolicyRuleRepository struct {
	db *bun.DB
}

// NewBunPolicyRuleRepository creates a new Bun-based policy rule repository
func NewBunPolicyRuleRepository(db *bun.DB) *BunPolicyRuleRepository {
	return &BunPolicyRuleRepository{db: db}
}

func column(i int) bun.Ident {
	return bun.Ident(fmt.Sprintf("v%d", i))
}

// ValidFieldRange reports whether a positional filter of n values starting at
// fieldIndex fits in v0..v5.
func ValidFieldRange(fieldIndex, n int) bool {
	end := fieldIndex + n
	return fieldIndex >= 0 && fieldIndex < models.MaxRuleFields && end >= 1 && end <= models.MaxRuleFields
}

// whereTuple matches the full (ptype, v0..v5) tuple, NULL matching NULL.
func whereTuple(q bun.QueryBuilder, rule *models.PolicyRule) bun.QueryBuilder {
	q = q.Where("ptype = ?", rule.Ptype)
	for i, f := range rule.Fields() {
		if *f == nil {
			q = q.Where("? IS NULL", column(i))
		} else {
			q = q.Where("? = ?", column(i), **f)
		}
	}
	return q
}

func whereFiltered(q bun.QueryBuilder, ptype string, fieldIndex int, values []string) bun.QueryBuilder {
	q = q.Where("ptype = ?", ptype)
	for i, v := range values {
		if v == "" {
			continue
		}
		q = q.Where("? = ?", column(fieldIndex+i), v)
	}
	return q
}

// All returns every rule ordered by id
func (r *BunPolicyRuleRepository) All(ctx context.Context) ([]models.PolicyRule, error) {
	var rules []models.PolicyRule
	if err := r.db.NewSelect().Model(&rules).Order("id ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("load policy rules: %w", err)
	}
	return rules, nil
}

// Filtered returns rules whose columns are members of the filter lists
func (r *BunPolicyRuleRepository) Filtered(ctx context.Context, filter RuleFilter) ([]models.PolicyRule, error) {
	var rules []models.PolicyRule
	q := r.db.NewSelect().Model(&rules).Order("id ASC")
	if len(filter.Ptype) > 0 {
		q = q.Where("ptype IN (?)", bun.In(filter.Ptype))
	}
	for i, vals := range filter.Values {
		if len(vals) > 0 {
			q = q.Where("? IN (?)", column(i), bun.In(vals))
		}
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("load filtered policy rules: %w", err)
	}
	return rules, nil
}

// List returns one page of rules with the total count
func (r *BunPolicyRuleRepository) List(ctx context.Context, offset, limit int) ([]models.PolicyRule, int, error) {
	var rules []models.PolicyRule
	total, err := r.db.NewSelect().
		Model(&rules).
		Order("id ASC").
		Offset(offset).
		Limit(limit).
		ScanAndCount(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list policy rules: %w", err)
	}
	return rules, total, nil
}

// ReplaceAll truncates the table and bulk inserts rules
func (r *BunPolicyRuleRepository) ReplaceAll(ctx context.Context, rules []*models.PolicyRule) error {
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewTruncateTable().Model((*models.PolicyRule)(nil)).Exec(ctx); err != nil {
			return err
		}
		_, err := insertRules(ctx, tx, rules)
		return err
	})
	if err != nil {
		return fmt.Errorf("replace policy rules: %w", err)
	}
	return nil
}

// Add inserts rules, skipping tuples that already exist
func (r *BunPolicyRuleRepository) Add(ctx context.Context, rules ...*models.PolicyRule) (int64, error) {
	if len(rules) == 0 {
		return 0, nil
	}
	var inserted int64
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		n, err := insertRules(ctx, tx, rules)
		inserted = n
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("add policy rules: %w", err)
	}
	return inserted, nil
}

func insertRules(ctx context.Context, tx bun.Tx, rules []*models.PolicyRule) (int64, error) {
	var inserted int64
	now := time.Now().UTC()
	for _, rule := range rules {
		rule.ID = 0
		rule.CreatedAt = now
		rule.UpdatedAt = now
		res, err := tx.NewInsert().Model(rule).On("CONFLICT DO NOTHING").Exec(ctx)
		if err != nil {
			return inserted, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, err
		}
		inserted += n
	}
	return inserted, nil
}

// Remove deletes rows matching the given tuples
func (r *BunPolicyRuleRepository) Remove(ctx context.Context, rules ...*models.PolicyRule) (int64, error) {
	if len(rules) == 0 {
		return 0, nil
	}
	var removed int64
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, rule := range rules {
			q := tx.NewDelete().Model((*models.PolicyRule)(nil))
			whereTuple(q.QueryBuilder(), rule)
			res, err := q.Exec(ctx)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			removed += n
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("remove policy rules: %w", err)
	}
	return removed, nil
}

// RemoveFiltered deletes by positional match starting at fieldIndex
func (r *BunPolicyRuleRepository) RemoveFiltered(ctx context.Context, ptype string, fieldIndex int, values ...string) (int64, error) {
	if !ValidFieldRange(fieldIndex, len(values)) {
		return 0, fmt.Errorf("remove filtered policy rules: field range [%d, %d) out of bounds", fieldIndex, fieldIndex+len(values))
	}

	q := r.db.NewDelete().Model((*models.PolicyRule)(nil))
	whereFiltered(q.QueryBuilder(), ptype, fieldIndex, values)
	res, err := q.Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("remove filtered policy rules: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return n, nil
}

// Update rewrites oldRules[i] into newRules[i]; trailing fields missing from the new rule become NULL
func (r *BunPolicyRuleRepository) Update(ctx context.Context, oldRules, newRules []*models.PolicyRule) (int64, error) {
	if len(oldRules) != len(newRules) {
		return 0, fmt.Errorf("update policy rules: %d old rules but %d new rules", len(oldRules), len(newRules))
	}

	var updated int64
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		now := time.Now().UTC()
		for i, oldRule := range oldRules {
			newRule := newRules[i]
			q := tx.NewUpdate().
				Model((*models.PolicyRule)(nil)).
				Set("ptype = ?", newRule.Ptype).
				Set("updated_at = ?", now)
			for j, f := range newRule.Fields() {
				q = q.Set("? = ?", column(j), *f)
			}
			whereTuple(q.QueryBuilder(), oldRule)
			res, err := q.Exec(ctx)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			updated += n
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("update policy rules: %w", err)
	}
	return updated, nil
}

// UpdateFiltered deletes the rows matched by the positional filter and inserts newRules in their place
func (r *BunPolicyRuleRepository) UpdateFiltered(ctx context.Context, ptype string, fieldIndex int, values []string, newRules []*models.PolicyRule) ([]models.PolicyRule, error) {
	if !ValidFieldRange(fieldIndex, len(values)) {
		return nil, fmt.Errorf("update filtered policy rules: field range [%d, %d) out of bounds", fieldIndex, fieldIndex+len(values))
	}

	var removed []models.PolicyRule
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		sel := tx.NewSelect().Model(&removed).Order("id ASC")
		whereFiltered(sel.QueryBuilder(), ptype, fieldIndex, values)
		if err := sel.Scan(ctx); err != nil {
			return err
		}

		del := tx.NewDelete().Model((*models.PolicyRule)(nil))
		whereFiltered(del.QueryBuilder(), ptype, fieldIndex, values)
		if _, err := del.Exec(ctx); err != nil {
			return err
		}

		_, err := insertRules(ctx, tx, newRules)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("update filtered policy rules: %w", err)
	}
	return removed, nil
}
