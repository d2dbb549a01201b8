package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/casbin/casbin/v2"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hiennguyen9874/api-base-project/internal/auth"
	"github.com/hiennguyen9874/api-base-project/internal/auth/casbinadapter"
	"github.com/hiennguyen9874/api-base-project/internal/lock"
	"github.com/hiennguyen9874/api-base-project/internal/telemetry"
)

// SavePolicyLockName guards full policy rewrites across processes.
const SavePolicyLockName = "api-casbin-save-policy"

// ErrRuleNotFound is returned when an update names a rule that does not exist.
var ErrRuleNotFound = errors.New("policy rule not found")

// Policy is a permission rule: Sub may call Method on Path.
type Policy struct {
	Sub    string `json:"sub"`
	Path   string `json:"path"`
	Method string `json:"method"`
}

func (p Policy) values() []string { return []string{p.Sub, p.Path, p.Method} }

// Group makes Member inherit every permission of Role.
type Group struct {
	Member string `json:"member"`
	Role   string `json:"role"`
}

// EngineConfig configures NewEngine.
type EngineConfig struct {
	// ModelPath overrides the embedded casbin model when set.
	ModelPath string
	// APIPrefix is stripped from request paths before matching.
	APIPrefix         string
	SavePolicyHold    time.Duration
	SavePolicyAcquire time.Duration
	AdapterTimeout    time.Duration
}

// Engine is the casbin enforcer over the Store. Every operation reloads
// policy first so a process observes writes made by others.
type Engine struct {
	store    *Store
	locks    *lock.Manager
	enforcer *casbin.SyncedEnforcer
	cfg      EngineConfig
	logger   *slog.Logger
}

// NewEngine builds the enforcer and loads policy once.
func NewEngine(store *Store, locks *lock.Manager, cfg EngineConfig, logger *slog.Logger) (*Engine, error) {
	enforcer, err := auth.NewEnforcer(cfg.ModelPath, casbinadapter.New(store, cfg.AdapterTimeout))
	if err != nil {
		return nil, err
	}
	return &Engine{
		store:    store,
		locks:    locks,
		enforcer: enforcer,
		cfg:      cfg,
		logger:   telemetry.OrDefault(logger).With("component", "policy_engine"),
	}, nil
}

// Enforcer exposes the underlying enforcer.
func (e *Engine) Enforcer() *casbin.SyncedEnforcer { return e.enforcer }

// Reload reloads policy through the cache-backed store.
func (e *Engine) Reload(_ context.Context) error {
	if err := e.enforcer.LoadPolicy(); err != nil {
		return fmt.Errorf("reload policy: %w", err)
	}
	return nil
}

// Authorize reports whether subject may call method on path. A negative
// decision is auth.ErrForbidden.
func (e *Engine) Authorize(ctx context.Context, subject, method, path string) error {
	obj := auth.NormalizePath(path, e.cfg.APIPrefix)
	ctx, span := telemetry.StartSpan(ctx, tracerName, "policy.Authorize",
		attribute.String(telemetry.AttrPrincipal, subject),
		attribute.String(telemetry.AttrPolicyMethod, method),
		attribute.String(telemetry.AttrPolicyPath, obj),
	)
	defer span.End()

	if err := e.Reload(ctx); err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	allowed, err := e.enforcer.Enforce(subject, obj, method)
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("enforce: %w", err)
	}
	span.SetAttributes(attribute.Bool(telemetry.AttrPolicyAllowed, allowed))
	if !allowed {
		return fmt.Errorf("%s %s for %s: %w", method, obj, subject, auth.ErrForbidden)
	}
	return nil
}

// Policies returns every permission rule.
func (e *Engine) Policies(ctx context.Context) ([]Policy, error) {
	if err := e.Reload(ctx); err != nil {
		return nil, err
	}
	rules, err := e.enforcer.GetPolicy()
	if err != nil {
		return nil, err
	}
	return toPolicies(rules), nil
}

// PoliciesForRole returns the permission rules whose subject is role. It
// loads a filtered view straight from the database into a scratch enforcer.
func (e *Engine) PoliciesForRole(_ context.Context, role string) ([]Policy, error) {
	m, err := auth.LoadModel(e.cfg.ModelPath)
	if err != nil {
		return nil, err
	}
	scratch, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create scratch enforcer: %w", err)
	}
	scratch.SetAdapter(casbinadapter.New(e.store, e.cfg.AdapterTimeout))
	if err := scratch.LoadFilteredPolicy(&casbinadapter.Filter{Ptype: []string{"p"}, V0: []string{role}}); err != nil {
		return nil, fmt.Errorf("load policies for %s: %w", role, err)
	}
	rules, err := scratch.GetPolicy()
	if err != nil {
		return nil, err
	}
	return toPolicies(rules), nil
}

// AddPolicies adds rules and reports whether any was new.
func (e *Engine) AddPolicies(ctx context.Context, ps ...Policy) (bool, error) {
	if err := e.Reload(ctx); err != nil {
		return false, err
	}
	var rules [][]string
	for _, p := range ps {
		has, err := e.enforcer.HasPolicy(p.Sub, p.Path, p.Method)
		if err != nil {
			return false, err
		}
		if !has {
			rules = append(rules, p.values())
		}
	}
	if len(rules) == 0 {
		return false, nil
	}
	ok, err := e.enforcer.AddPolicies(rules)
	if err != nil {
		return false, fmt.Errorf("add policies: %w", err)
	}
	e.logger.Info("policies added", "rules", len(rules))
	return ok, nil
}

// UpdatePolicy rewrites old into updated. ErrRuleNotFound if old is absent.
func (e *Engine) UpdatePolicy(ctx context.Context, old, updated Policy) error {
	if err := e.Reload(ctx); err != nil {
		return err
	}
	has, err := e.enforcer.HasPolicy(old.Sub, old.Path, old.Method)
	if err != nil {
		return err
	}
	if !has {
		return fmt.Errorf("%s %s %s: %w", old.Sub, old.Path, old.Method, ErrRuleNotFound)
	}
	if _, err := e.enforcer.UpdatePolicy(old.values(), updated.values()); err != nil {
		return fmt.Errorf("update policy: %w", err)
	}
	return nil
}

// RemovePolicies removes rules and reports whether any existed.
func (e *Engine) RemovePolicies(ctx context.Context, ps ...Policy) (bool, error) {
	if err := e.Reload(ctx); err != nil {
		return false, err
	}
	removed := false
	for _, p := range ps {
		ok, err := e.enforcer.RemovePolicy(p.Sub, p.Path, p.Method)
		if err != nil {
			return removed, fmt.Errorf("remove policy: %w", err)
		}
		removed = removed || ok
	}
	return removed, nil
}

// RemoveSubject drops every permission rule of sub.
func (e *Engine) RemoveSubject(ctx context.Context, sub string) (bool, error) {
	if err := e.Reload(ctx); err != nil {
		return false, err
	}
	ok, err := e.enforcer.RemoveFilteredPolicy(0, sub)
	if err != nil {
		return false, fmt.Errorf("remove policies of %s: %w", sub, err)
	}
	return ok, nil
}

// Groups returns every role grouping.
func (e *Engine) Groups(ctx context.Context) ([]Group, error) {
	if err := e.Reload(ctx); err != nil {
		return nil, err
	}
	rules, err := e.enforcer.GetGroupingPolicy()
	if err != nil {
		return nil, err
	}
	out := make([]Group, 0, len(rules))
	for _, r := range rules {
		if len(r) < 2 {
			continue
		}
		out = append(out, Group{Member: r[0], Role: r[1]})
	}
	return out, nil
}

// AssignRole makes principal a member of role. Assigning twice is a no-op.
func (e *Engine) AssignRole(ctx context.Context, principal, role string) error {
	if err := e.Reload(ctx); err != nil {
		return err
	}
	has, err := e.enforcer.HasGroupingPolicy(principal, role)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	if _, err := e.enforcer.AddRoleForUser(principal, role); err != nil {
		return fmt.Errorf("assign %s to %s: %w", role, principal, err)
	}
	e.logger.Info("role assigned", "principal", principal, "role", role)
	return nil
}

// RevokeRole removes principal from role.
func (e *Engine) RevokeRole(ctx context.Context, principal, role string) (bool, error) {
	if err := e.Reload(ctx); err != nil {
		return false, err
	}
	ok, err := e.enforcer.DeleteRoleForUser(principal, role)
	if err != nil {
		return false, fmt.Errorf("revoke %s from %s: %w", role, principal, err)
	}
	return ok, nil
}

// RolesFor returns every role principal holds, directly or through other roles.
func (e *Engine) RolesFor(ctx context.Context, principal string) ([]string, error) {
	if err := e.Reload(ctx); err != nil {
		return nil, err
	}
	roles, err := e.enforcer.GetImplicitRolesForUser(principal)
	if err != nil {
		return nil, fmt.Errorf("roles for %s: %w", principal, err)
	}
	return roles, nil
}

// SavePolicyLocked writes the enforcer's in-memory policy back to storage
// while holding SavePolicyLockName. Lock store outages are retried with
// exponential backoff; a denied lock is returned as lock.ErrDenied.
func (e *Engine) SavePolicyLocked(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = e.cfg.SavePolicyAcquire

	return e.locks.WithLock(ctx, SavePolicyLockName, lock.Options{
		Hold:     e.cfg.SavePolicyHold,
		Acquire:  e.cfg.SavePolicyAcquire,
		OnDenied: lock.FailOnDenied,
		Retry:    backoff.WithContext(bo, ctx),
	}, func(context.Context) error {
		if err := e.enforcer.SavePolicy(); err != nil {
			return fmt.Errorf("save policy: %w", err)
		}
		return nil
	})
}

// BootstrapResult counts what Bootstrap added.
type BootstrapResult struct {
	Policies int
	Groups   int
}

// Bootstrap reconciles the baseline policy file into storage: rules and
// groupings missing from the durable policy are added, then the policy is
// saved under the save-policy lock. Running it again adds nothing.
func (e *Engine) Bootstrap(ctx context.Context, baselinePath string) (BootstrapResult, error) {
	var res BootstrapResult

	m, err := auth.LoadModel(e.cfg.ModelPath)
	if err != nil {
		return res, err
	}
	baseline, err := casbin.NewEnforcer(m, fileadapter.NewAdapter(baselinePath))
	if err != nil {
		return res, fmt.Errorf("load baseline %s: %w", baselinePath, err)
	}

	if err := e.Reload(ctx); err != nil {
		return res, err
	}

	policies, err := baseline.GetPolicy()
	if err != nil {
		return res, err
	}
	for _, p := range policies {
		has, err := e.enforcer.HasPolicy(p)
		if err != nil {
			return res, err
		}
		if has {
			continue
		}
		if _, err := e.enforcer.AddPolicy(p); err != nil {
			return res, fmt.Errorf("add baseline policy %v: %w", p, err)
		}
		res.Policies++
	}

	groups, err := baseline.GetGroupingPolicy()
	if err != nil {
		return res, err
	}
	for _, g := range groups {
		has, err := e.enforcer.HasGroupingPolicy(g)
		if err != nil {
			return res, err
		}
		if has {
			continue
		}
		if _, err := e.enforcer.AddGroupingPolicy(g); err != nil {
			return res, fmt.Errorf("add baseline grouping %v: %w", g, err)
		}
		res.Groups++
	}

	if err := e.SavePolicyLocked(ctx); err != nil {
		return res, err
	}
	e.logger.Info("policy bootstrapped", "baseline", baselinePath, "policies_added", res.Policies, "groups_added", res.Groups)
	return res, nil
}

func toPolicies(rules [][]string) []Policy {
	out := make([]Policy, 0, len(rules))
	for _, r := range rules {
		if len(r) < 3 {
			continue
		}
		out = append(out, Policy{Sub: r[0], Path: r[1], Method: r[2]})
	}
	return out
}
