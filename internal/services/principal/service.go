// Package principal manages principal accounts with a read-through Redis
// cache in front of the relational store.
package principal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hiennguyen9874/api-base-project/internal/auth"
	"github.com/hiennguyen9874/api-base-project/internal/cache"
	"github.com/hiennguyen9874/api-base-project/internal/db/models"
	"github.com/hiennguyen9874/api-base-project/internal/repository"
	"github.com/hiennguyen9874/api-base-project/internal/telemetry"
)

// ErrAlreadyExists is returned by Create for a taken email.
var ErrAlreadyExists = errors.New("principal already exists")

// RoleAssigner grants roles in the policy store.
type RoleAssigner interface {
	AssignRole(ctx context.Context, principal, role string) error
}

// Service reads and mutates principals. Every mutation deletes the cached
// entry after the write has committed.
type Service struct {
	repo        repository.PrincipalRepository
	cache       *cache.Cache
	ttl         time.Duration
	roles       RoleAssigner
	defaultRole string
	logger      *slog.Logger
}

// Config for NewService.
type Config struct {
	CacheTTL    time.Duration
	DefaultRole string
}

// NewService wires the service. roles may be nil, in which case Create grants nothing.
func NewService(repo repository.PrincipalRepository, c *cache.Cache, roles RoleAssigner, cfg Config, logger *slog.Logger) *Service {
	return &Service{
		repo:        repo,
		cache:       c,
		ttl:         cfg.CacheTTL,
		roles:       roles,
		defaultRole: cfg.DefaultRole,
		logger:      telemetry.OrDefault(logger).With("component", "principal"),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// GetByEmail returns the principal, serving from Cache:Principal:<email> when
// possible. A cache outage degrades to a database read. Unknown principals
// are auth.ErrNotFound.
func (s *Service) GetByEmail(ctx context.Context, email string) (*models.Principal, error) {
	email = normalizeEmail(email)
	key := cache.PrincipalKey(email)

	var cached models.Principal
	ok, err := s.cache.GetJSON(ctx, key, s.ttl, &cached)
	if err != nil {
		s.logger.Warn("principal cache read failed", "principal", email, "error", err)
	}
	if ok {
		return &cached, nil
	}

	p, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("principal %s: %w", email, auth.ErrNotFound)
		}
		return nil, err
	}

	if err := s.cache.SetJSON(ctx, key, p, s.ttl); err != nil {
		s.logger.Warn("principal cache fill failed", "principal", email, "error", err)
	}
	return p, nil
}

// GetByID reads straight from the store.
func (s *Service) GetByID(ctx context.Context, id string) (*models.Principal, error) {
	p, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("principal %s: %w", id, auth.ErrNotFound)
	}
	return p, err
}

// List pages through principals ordered by email.
func (s *Service) List(ctx context.Context, offset, limit int) ([]models.Principal, int, error) {
	return s.repo.List(ctx, offset, limit)
}

// CreateInput describes a new principal. An empty Role means the configured default role.
type CreateInput struct {
	Email    string
	Password string
	FullName string
	Inactive bool
	Role     string
}

// Create stores a new principal with a bcrypt password hash and grants it a role.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Principal, error) {
	email := normalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return nil, fmt.Errorf("create principal: email and password are required")
	}

	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return nil, fmt.Errorf("principal %s: %w", email, ErrAlreadyExists)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	p := &models.Principal{
		Email:         email,
		PasswordHash:  hash,
		FullName:      in.FullName,
		IsActive:      !in.Inactive,
		AccountStatus: models.AccountStatusActive,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	if err := s.invalidate(ctx, email); err != nil {
		return nil, err
	}

	role := in.Role
	if role == "" {
		role = s.defaultRole
	}
	if s.roles != nil && role != "" {
		if err := s.roles.AssignRole(ctx, email, role); err != nil {
			return nil, fmt.Errorf("grant role %s to %s: %w", role, email, err)
		}
	}

	s.logger.Info("principal created", "principal", email, "role", role)
	return p, nil
}

// SetPassword replaces the password hash.
func (s *Service) SetPassword(ctx context.Context, email, password string) error {
	if password == "" {
		return fmt.Errorf("set password: password is required")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	return s.mutate(ctx, email, func(p *models.Principal) { p.PasswordHash = hash })
}

// SetActive flips the active flag.
func (s *Service) SetActive(ctx context.Context, email string, active bool) error {
	return s.mutate(ctx, email, func(p *models.Principal) { p.IsActive = active })
}

// SetStatus changes the account status.
func (s *Service) SetStatus(ctx context.Context, email string, status models.AccountStatus) error {
	if !status.Valid() {
		return fmt.Errorf("set status: unknown account status %q", status)
	}
	return s.mutate(ctx, email, func(p *models.Principal) { p.AccountStatus = status })
}

// TouchLastLogin records a successful login.
func (s *Service) TouchLastLogin(ctx context.Context, p *models.Principal) error {
	if err := s.repo.UpdateLastLogin(ctx, p.ID); err != nil {
		return err
	}
	return s.invalidate(ctx, p.Email)
}

// Delete removes the principal.
func (s *Service) Delete(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	p, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("principal %s: %w", email, auth.ErrNotFound)
		}
		return err
	}
	if err := s.repo.Delete(ctx, p.ID); err != nil {
		return err
	}
	return s.invalidate(ctx, email)
}

func (s *Service) mutate(ctx context.Context, email string, apply func(*models.Principal)) error {
	email = normalizeEmail(email)
	p, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("principal %s: %w", email, auth.ErrNotFound)
		}
		return err
	}
	apply(p)
	if err := s.repo.Update(ctx, p); err != nil {
		return err
	}
	return s.invalidate(ctx, email)
}

func (s *Service) invalidate(ctx context.Context, email string) error {
	if err := s.cache.Delete(ctx, cache.PrincipalKey(email)); err != nil {
		return fmt.Errorf("invalidate principal cache for %s: %w", email, err)
	}
	return nil
}
