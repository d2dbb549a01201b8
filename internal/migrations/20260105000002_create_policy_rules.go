package migrations

import (
	"context"
	"fmt"

	"github.com/hiennguyen9874/api-base-project/internal/db/models"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(up_20260105000002, down_20260105000002)
}

// up_20260105000002 creates the policy_rules table with a unique full tuple.
// NULL fields compare equal for uniqueness on both dialects.
func up_20260105000002(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [up] creating policy_rules table...")

	_, err := db.NewCreateTable().
		Model((*models.PolicyRule)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create policy_rules table: %w", err)
	}

	var uniqueIdx string
	if IsPostgreSQL(db) {
		// requires PostgreSQL 15+
		uniqueIdx = `CREATE UNIQUE INDEX IF NOT EXISTS uq_policy_rules_tuple
			ON policy_rules (ptype, v0, v1, v2, v3, v4, v5) NULLS NOT DISTINCT`
	} else {
		uniqueIdx = `CREATE UNIQUE INDEX IF NOT EXISTS uq_policy_rules_tuple
			ON policy_rules (ptype, IFNULL(v0, char(0)), IFNULL(v1, char(0)), IFNULL(v2, char(0)),
				IFNULL(v3, char(0)), IFNULL(v4, char(0)), IFNULL(v5, char(0)))`
	}
	if _, err := db.ExecContext(ctx, uniqueIdx); err != nil {
		return fmt.Errorf("failed to create policy_rules unique index: %w", err)
	}

	if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_policy_rules_ptype ON policy_rules(ptype)`); err != nil {
		return fmt.Errorf("failed to create policy_rules ptype index: %w", err)
	}
	fmt.Println(" OK")

	return nil
}

// down_20260105000002 drops the policy_rules table
func down_20260105000002(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [down] dropping policy_rules table...")

	_, err := db.NewDropTable().
		Model((*models.PolicyRule)(nil)).
		IfExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to drop policy_rules table: %w", err)
	}
	fmt.Println(" OK")

	return nil
}
