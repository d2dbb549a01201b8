// Package casbinadapter persists casbin policy through a RuleStore.
//
// casbin's adapter interface carries no context, so every call runs under a
// fresh background context bounded by the adapter timeout.
package casbinadapter

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/casbin/casbin/v2/model"
	"github.com/casbin/casbin/v2/persist"

	"github.com/hiennguyen9874/api-base-project/internal/db/models"
	"github.com/hiennguyen9874/api-base-project/internal/repository"
)

// RuleStore is the durable, cache-fronted rule storage the adapter writes through.
type RuleStore interface {
	LoadAll(ctx context.Context) ([]models.PolicyRule, error)
	LoadFiltered(ctx context.Context, filter repository.RuleFilter) ([]models.PolicyRule, error)
	SaveAll(ctx context.Context, rules []*models.PolicyRule) error
	Add(ctx context.Context, rules ...*models.PolicyRule) (bool, error)
	Remove(ctx context.Context, rules ...*models.PolicyRule) (bool, error)
	RemoveFiltered(ctx context.Context, ptype string, fieldIndex int, values ...string) (bool, error)
	Update(ctx context.Context, oldRules, newRules []*models.PolicyRule) (bool, error)
	UpdateFiltered(ctx context.Context, ptype string, fieldIndex int, values []string, newRules []*models.PolicyRule) ([]models.PolicyRule, error)
}

// Filter selects rules for LoadFilteredPolicy. Each non-empty list is an IN
// predicate on its column; empty lists match anything.
type Filter struct {
	Ptype []string
	V0    []string
	V1    []string
	V2    []string
	V3    []string
	V4    []string
	V5    []string
}

func (f *Filter) toRuleFilter() repository.RuleFilter {
	return repository.RuleFilter{
		Ptype:  f.Ptype,
		Values: [models.MaxRuleFields][]string{f.V0, f.V1, f.V2, f.V3, f.V4, f.V5},
	}
}

var (
	_ persist.Adapter          = (*Adapter)(nil)
	_ persist.BatchAdapter     = (*Adapter)(nil)
	_ persist.FilteredAdapter  = (*Adapter)(nil)
	_ persist.UpdatableAdapter = (*Adapter)(nil)
)

// DefaultTimeout bounds a single adapter call.
const DefaultTimeout = 30 * time.Second

// Adapter is a casbin persist adapter over a RuleStore.
type Adapter struct {
	store    RuleStore
	timeout  time.Duration
	filtered atomic.Bool
}

// New returns an adapter over store. A non-positive timeout uses DefaultTimeout.
func New(store RuleStore, timeout time.Duration) *Adapter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Adapter{store: store, timeout: timeout}
}

func (a *Adapter) callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), a.timeout)
}

// LoadPolicy loads every rule, through the rules cache.
func (a *Adapter) LoadPolicy(m model.Model) error {
	ctx, cancel := a.callContext()
	defer cancel()

	rules, err := a.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}
	if err := loadRules(rules, m); err != nil {
		return err
	}
	a.filtered.Store(false)
	return nil
}

// LoadFilteredPolicy loads only the rules matching filter, bypassing the cache.
// filter must be a *Filter or Filter.
func (a *Adapter) LoadFilteredPolicy(m model.Model, filter any) error {
	var f *Filter
	switch v := filter.(type) {
	case *Filter:
		f = v
	case Filter:
		f = &v
	default:
		return fmt.Errorf("invalid filter type: %T", filter)
	}

	ctx, cancel := a.callContext()
	defer cancel()

	rules, err := a.store.LoadFiltered(ctx, f.toRuleFilter())
	if err != nil {
		return fmt.Errorf("load filtered policy: %w", err)
	}
	if err := loadRules(rules, m); err != nil {
		return err
	}
	a.filtered.Store(true)
	return nil
}

// IsFiltered reports whether the last load was a filtered one.
func (a *Adapter) IsFiltered() bool {
	return a.filtered.Load()
}

func loadRules(rules []models.PolicyRule, m model.Model) error {
	for i := range rules {
		values := rules[i].Values()
		if len(values) == 0 {
			continue
		}
		if err := persist.LoadPolicyArray(append([]string{rules[i].Ptype}, values...), m); err != nil {
			return fmt.Errorf("load rule %q: %w", rules[i].Line(), err)
		}
	}
	return nil
}

// SavePolicy replaces the stored rule set with the model's. Callers that
// may race another process should hold the save-policy lock.
func (a *Adapter) SavePolicy(m model.Model) error {
	var rules []*models.PolicyRule
	for _, sec := range []string{"p", "g"} {
		for ptype, assertion := range m[sec] {
			for _, rule := range assertion.Policy {
				rules = append(rules, models.NewPolicyRule(ptype, rule))
			}
		}
	}

	ctx, cancel := a.callContext()
	defer cancel()
	if err := a.store.SaveAll(ctx, rules); err != nil {
		return fmt.Errorf("save policy: %w", err)
	}
	return nil
}

// AddPolicy stores one rule. Adding an existing rule is a no-op.
func (a *Adapter) AddPolicy(_ string, ptype string, rule []string) error {
	return a.AddPolicies("", ptype, [][]string{rule})
}

// AddPolicies stores rules in one transaction.
func (a *Adapter) AddPolicies(_ string, ptype string, rules [][]string) error {
	ctx, cancel := a.callContext()
	defer cancel()
	if _, err := a.store.Add(ctx, toRules(ptype, rules)...); err != nil {
		return fmt.Errorf("add policy rules: %w", err)
	}
	return nil
}

// RemovePolicy deletes one rule by full-tuple match.
func (a *Adapter) RemovePolicy(_ string, ptype string, rule []string) error {
	return a.RemovePolicies("", ptype, [][]string{rule})
}

// RemovePolicies deletes rules by full-tuple match.
func (a *Adapter) RemovePolicies(_ string, ptype string, rules [][]string) error {
	if len(rules) == 0 {
		return nil
	}
	ctx, cancel := a.callContext()
	defer cancel()
	if _, err := a.store.Remove(ctx, toRules(ptype, rules)...); err != nil {
		return fmt.Errorf("remove policy rules: %w", err)
	}
	return nil
}

// RemoveFilteredPolicy deletes rules matching fieldValues from fieldIndex on.
// An out of range filter removes nothing.
func (a *Adapter) RemoveFilteredPolicy(_ string, ptype string, fieldIndex int, fieldValues ...string) error {
	ctx, cancel := a.callContext()
	defer cancel()
	if _, err := a.store.RemoveFiltered(ctx, ptype, fieldIndex, fieldValues...); err != nil {
		return fmt.Errorf("remove filtered policy: %w", err)
	}
	return nil
}

// UpdatePolicy rewrites oldRule into newRule.
func (a *Adapter) UpdatePolicy(sec string, ptype string, oldRule, newRule []string) error {
	return a.UpdatePolicies(sec, ptype, [][]string{oldRule}, [][]string{newRule})
}

// UpdatePolicies rewrites oldRules[i] into newRules[i].
func (a *Adapter) UpdatePolicies(_ string, ptype string, oldRules, newRules [][]string) error {
	if len(oldRules) != len(newRules) {
		return fmt.Errorf("update policy rules: %d old rules but %d new rules", len(oldRules), len(newRules))
	}
	ctx, cancel := a.callContext()
	defer cancel()
	if _, err := a.store.Update(ctx, toRules(ptype, oldRules), toRules(ptype, newRules)); err != nil {
		return fmt.Errorf("update policy rules: %w", err)
	}
	return nil
}

// UpdateFilteredPolicies replaces the rules matched by the filter with
// newRules and returns the replaced rules' values.
func (a *Adapter) UpdateFilteredPolicies(_ string, ptype string, newRules [][]string, fieldIndex int, fieldValues ...string) ([][]string, error) {
	ctx, cancel := a.callContext()
	defer cancel()

	removed, err := a.store.UpdateFiltered(ctx, ptype, fieldIndex, fieldValues, toRules(ptype, newRules))
	if err != nil {
		return nil, fmt.Errorf("update filtered policy rules: %w", err)
	}
	old := make([][]string, 0, len(removed))
	for i := range removed {
		old = append(old, removed[i].Values())
	}
	return old, nil
}

func toRules(ptype string, rules [][]string) []*models.PolicyRule {
	out := make([]*models.PolicyRule, 0, len(rules))
	for _, rule := range rules {
		out = append(out, models.NewPolicyRule(ptype, rule))
	}
	return out
}
