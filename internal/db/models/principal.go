package models

import (
	"time"

	"github.com/uptrace/bun"
)

// AccountStatus is the lifecycle state of a principal account.
type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "ACTIVE"
	AccountStatusSuspended AccountStatus = "SUSPENDED"
	AccountStatusDeleted   AccountStatus = "DELETED"
)

// Valid reports whether s is a known status.
func (s AccountStatus) Valid() bool {
	switch s {
	case AccountStatusActive, AccountStatusSuspended, AccountStatusDeleted:
		return true
	}
	return false
}

// Principal is an authenticated identity keyed by email.
// The JSON form is what gets cached under Cache:Principal:<email>, so it keeps the password hash;
// HTTP handlers render their own view.
type Principal struct {
	bun.BaseModel `bun:"table:principals,alias:pr"`

	ID            string        `bun:"id,pk,type:uuid" json:"id"`
	Email         string        `bun:"email,notnull,unique" json:"email"`
	PasswordHash  string        `bun:"password_hash,notnull" json:"password_hash"`
	FullName      string        `bun:"full_name" json:"full_name"`
	IsActive      bool          `bun:"is_active,notnull" json:"is_active"`
	AccountStatus AccountStatus `bun:"account_status,type:varchar(16),notnull,default:'ACTIVE'" json:"account_status"`
	LastLoginAt   *time.Time    `bun:"last_login_at" json:"last_login_at,omitempty"`
	CreatedAt     time.Time     `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt     time.Time     `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}

// CanAuthenticate is true only for active accounts in ACTIVE status.
func (p *Principal) CanAuthenticate() bool {
	return p.IsActive && p.AccountStatus == AccountStatusActive
}
