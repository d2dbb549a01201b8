package models

import (
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// MaxRuleFields is the number of positional value columns (v0..v5).
const MaxRuleFields = 6

// PolicyRule is one casbin rule row. Unused trailing fields are NULL.
// The full (ptype, v0..v5) tuple is unique.
type PolicyRule struct {
	bun.BaseModel `bun:"table:policy_rules,alias:cr"`

	ID        int64     `bun:"id,pk,autoincrement" json:"id"`
	Ptype     string    `bun:"ptype,type:varchar(255),notnull" json:"ptype"`
	V0        *string   `bun:"v0,type:varchar(255)" json:"v0"`
	V1        *string   `bun:"v1,type:varchar(255)" json:"v1"`
	V2        *string   `bun:"v2,type:varchar(255)" json:"v2"`
	V3        *string   `bun:"v3,type:varchar(255)" json:"v3"`
	V4        *string   `bun:"v4,type:varchar(255)" json:"v4"`
	V5        *string   `bun:"v5,type:varchar(255)" json:"v5"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}

// NewPolicyRule builds a row from positional values. Values past MaxRuleFields are dropped.
func NewPolicyRule(ptype string, values []string) *PolicyRule {
	r := &PolicyRule{Ptype: ptype}
	r.SetValues(values)
	return r
}

// Fields returns pointers to v0..v5 in order.
func (r *PolicyRule) Fields() [MaxRuleFields]**string {
	return [MaxRuleFields]**string{&r.V0, &r.V1, &r.V2, &r.V3, &r.V4, &r.V5}
}

// SetValues overwrites v0..v5; fields beyond len(values) become NULL.
func (r *PolicyRule) SetValues(values []string) {
	for i, f := range r.Fields() {
		if i < len(values) {
			v := values[i]
			*f = &v
		} else {
			*f = nil
		}
	}
}

// Values returns the fields up to the last non-NULL one.
func (r *PolicyRule) Values() []string {
	fields := r.Fields()
	last := -1
	for i, f := range fields {
		if *f != nil {
			last = i
		}
	}
	out := make([]string, 0, last+1)
	for i := 0; i <= last; i++ {
		if *fields[i] == nil {
			out = append(out, "")
			continue
		}
		out = append(out, **fields[i])
	}
	return out
}

// Line renders the rule as a casbin CSV line ("p, alice, /data/, GET").
func (r *PolicyRule) Line() string {
	return strings.Join(append([]string{r.Ptype}, r.Values()...), ", ")
}
