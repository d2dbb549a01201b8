// Package policy stores authorization rules and enforces them.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/hiennguyen9874/api-base-project/internal/cache"
	"github.com/hiennguyen9874/api-base-project/internal/db/models"
	"github.com/hiennguyen9874/api-base-project/internal/repository"
	"github.com/hiennguyen9874/api-base-project/internal/telemetry"
)

const tracerName = "apibase/services/policy"

// Store is the rule table with a read-through snapshot under Cache:Rules:all.
// Every write that changes rows deletes the snapshot after the transaction
// commits, so the next LoadAll rebuilds it from the database.
type Store struct {
	repo   repository.PolicyRuleRepository
	cache  *cache.Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewStore wires a store. ttl bounds the lifetime of the cached snapshot.
func NewStore(repo repository.PolicyRuleRepository, c *cache.Cache, ttl time.Duration, logger *slog.Logger) *Store {
	return &Store{
		repo:   repo,
		cache:  c,
		ttl:    ttl,
		logger: telemetry.OrDefault(logger).With("component", "policy_store"),
	}
}

// LoadAll returns every rule. A cache outage falls back to the database.
// Empty results are never cached.
func (s *Store) LoadAll(ctx context.Context) ([]models.PolicyRule, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "policy.LoadAll")
	defer span.End()

	var rules []models.PolicyRule
	hit, err := s.cache.GetJSON(ctx, cache.RulesAllKey, 0, &rules)
	if err != nil {
		s.logger.Warn("rules cache read failed, using database", "error", err)
	}
	if hit {
		span.SetAttributes(attribute.Bool(telemetry.AttrPolicyCacheHit, true))
		return rules, nil
	}

	rules, err = s.repo.All(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Bool(telemetry.AttrPolicyCacheHit, false),
		attribute.Int(telemetry.AttrPolicyCount, len(rules)),
	)
	if len(rules) == 0 {
		return rules, nil
	}
	if err := s.cache.SetJSON(ctx, cache.RulesAllKey, rules, s.ttl); err != nil {
		s.logger.Warn("rules cache write failed", "error", err)
	}
	return rules, nil
}

// LoadFiltered queries the database directly.
func (s *Store) LoadFiltered(ctx context.Context, filter repository.RuleFilter) ([]models.PolicyRule, error) {
	return s.repo.Filtered(ctx, filter)
}

// List pages through the rule table ordered by id.
func (s *Store) List(ctx context.Context, offset, limit int) ([]models.PolicyRule, int, error) {
	return s.repo.List(ctx, offset, limit)
}

// SaveAll replaces the whole table.
func (s *Store) SaveAll(ctx context.Context, rules []*models.PolicyRule) error {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "policy.SaveAll",
		attribute.Int(telemetry.AttrPolicyCount, len(rules)))
	defer span.End()

	if err := s.repo.ReplaceAll(ctx, rules); err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	s.logger.Info("policy saved", "rules", len(rules))
	return s.invalidate(ctx)
}

// Add inserts the rules that are not present yet and reports whether any was.
func (s *Store) Add(ctx context.Context, rules ...*models.PolicyRule) (bool, error) {
	n, err := s.repo.Add(ctx, rules...)
	return s.afterWrite(ctx, n, err)
}

// Remove deletes by full-tuple match and reports whether anything was removed.
func (s *Store) Remove(ctx context.Context, rules ...*models.PolicyRule) (bool, error) {
	n, err := s.repo.Remove(ctx, rules...)
	return s.afterWrite(ctx, n, err)
}

// RemoveFiltered deletes rules of ptype whose fields from fieldIndex on equal
// values ("" matches anything). An out of range filter is a no-op returning false.
func (s *Store) RemoveFiltered(ctx context.Context, ptype string, fieldIndex int, values ...string) (bool, error) {
	if !repository.ValidFieldRange(fieldIndex, len(values)) {
		return false, nil
	}
	n, err := s.repo.RemoveFiltered(ctx, ptype, fieldIndex, values...)
	return s.afterWrite(ctx, n, err)
}

// Update rewrites oldRules[i] into newRules[i]. Trailing fields the new rule
// does not set become NULL.
func (s *Store) Update(ctx context.Context, oldRules, newRules []*models.PolicyRule) (bool, error) {
	n, err := s.repo.Update(ctx, oldRules, newRules)
	return s.afterWrite(ctx, n, err)
}

// UpdateFiltered replaces filter matches with newRules and returns what it replaced.
func (s *Store) UpdateFiltered(ctx context.Context, ptype string, fieldIndex int, values []string, newRules []*models.PolicyRule) ([]models.PolicyRule, error) {
	removed, err := s.repo.UpdateFiltered(ctx, ptype, fieldIndex, values, newRules)
	if err != nil {
		return nil, err
	}
	if err := s.invalidate(ctx); err != nil {
		return nil, err
	}
	return removed, nil
}

// Invalidate drops the cached snapshot.
func (s *Store) Invalidate(ctx context.Context) error {
	return s.invalidate(ctx)
}

func (s *Store) afterWrite(ctx context.Context, changed int64, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	if changed == 0 {
		return false, nil
	}
	if err := s.invalidate(ctx); err != nil {
		return true, err
	}
	return true, nil
}

func (s *Store) invalidate(ctx context.Context) error {
	if err := s.cache.Delete(ctx, cache.RulesAllKey); err != nil {
		return fmt.Errorf("invalidate rules cache: %w", err)
	}
	return nil
}
