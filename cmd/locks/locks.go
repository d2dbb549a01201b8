package locks

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hiennguyen9874/api-base-project/cmd/cmdutil"
)

// NewCommand returns the parent command for distributed lock maintenance.
func NewCommand(env *cmdutil.Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locks",
		Short: "Manage distributed locks",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "release-all",
		Short: "Release every distributed lock",
		Long: `Deletes every lock key from the lock store. Run it once during a cold start,
before any server process is up; running it while servers hold locks breaks
their mutual exclusion.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := env.ReleaseLocks(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Released %d lock(s)\n", n)
			return nil
		},
	})

	return cmd
}
