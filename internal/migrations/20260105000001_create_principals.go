package migrations

import (
	"context"
	"fmt"

	"github.com/hiennguyen9874/api-base-project/internal/db/models"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(up_20260105000001, down_20260105000001)
}

// up_20260105000001 creates the principals table
func up_20260105000001(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [up] creating principals table...")

	_, err := db.NewCreateTable().
		Model((*models.Principal)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create principals table: %w", err)
	}

	if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_principals_account_status ON principals(account_status)`); err != nil {
		return fmt.Errorf("failed to create principals status index: %w", err)
	}
	fmt.Println(" OK")

	return nil
}

// down_20260105000001 drops the principals table
func down_20260105000001(ctx context.Context, db *bun.DB) error {
	fmt.Print(" [down] dropping principals table...")

	_, err := db.NewDropTable().
		Model((*models.Principal)(nil)).
		IfExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to drop principals table: %w", err)
	}
	fmt.Println(" OK")

	return nil
}
