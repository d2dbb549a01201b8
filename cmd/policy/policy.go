package policy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hiennguyen9874/api-base-project/cmd/cmdutil"
	"github.com/hiennguyen9874/api-base-project/internal/app"
	"github.com/hiennguyen9874/api-base-project/internal/auth"
	"github.com/hiennguyen9874/api-base-project/internal/services/principal"
)

// NewCommand returns the parent command for authorization policy maintenance.
func NewCommand(env *cmdutil.Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Manage the authorization policy",
	}
	cmd.AddCommand(newBootstrapCommand(env), newListCommand(env), newSaveCommand(env))
	return cmd
}

type bootstrapOptions struct {
	baseline string
	email    string
	password string
	role     string
	stdin    bool
}

func newBootstrapCommand(env *cmdutil.Env) *cobra.Command {
	var opts bootstrapOptions
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Create the superuser and load the baseline policy",
		Long: `Ensures the superuser exists and holds its role, then adds every rule of the
baseline policy file that the database does not have yet, and saves the policy
under the save-policy lock. Running it again changes nothing.

Example:
  apibase policy bootstrap --superuser-email admin@example.com --stdin
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			boot := env.Config.Bootstrap
			if opts.email == "" {
				opts.email = boot.SuperuserEmail
			}
			if opts.role == "" {
				opts.role = boot.SuperuserRole
			}
			if opts.baseline == "" {
				opts.baseline = env.Config.Casbin.PolicyPath
			}
			password, err := cmdutil.ReadPassword(os.Stdin, cmd.ErrOrStderr(), opts.password, opts.stdin)
			if err != nil {
				return err
			}
			if password == "" {
				password = boot.SuperuserPassword
			}
			opts.password = password

			a, err := env.OpenApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			return runBootstrap(cmd.Context(), a, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.baseline, "baseline", "", "Baseline policy CSV (default: casbin.policy_path)")
	cmd.Flags().StringVar(&opts.email, "superuser-email", "", "Superuser email (default: bootstrap.superuser_email)")
	cmd.Flags().StringVar(&opts.password, "superuser-password", "", "Superuser password (default: bootstrap.superuser_password)")
	cmd.Flags().StringVar(&opts.role, "superuser-role", "", "Role granted to the superuser (default: bootstrap.superuser_role)")
	cmd.Flags().BoolVar(&opts.stdin, "stdin", false, "Read the superuser password from stdin")
	return cmd
}

func runBootstrap(ctx context.Context, a *app.App, opts bootstrapOptions, out io.Writer) error {
	created, err := ensureSuperuser(ctx, a, opts)
	if err != nil {
		return err
	}

	res, err := a.Policy.Bootstrap(ctx, opts.baseline)
	if err != nil {
		return fmt.Errorf("bootstrap policy: %w", err)
	}

	if created {
		fmt.Fprintf(out, "Created superuser %s with role %s\n", opts.email, opts.role)
	} else {
		fmt.Fprintf(out, "Superuser %s already exists, ensured role %s\n", opts.email, opts.role)
	}
	fmt.Fprintf(out, "Baseline %s: %d policies and %d groupings added\n", opts.baseline, res.Policies, res.Groups)
	return nil
}

func ensureSuperuser(ctx context.Context, a *app.App, opts bootstrapOptions) (bool, error) {
	if opts.email == "" || opts.role == "" {
		return false, fmt.Errorf("superuser email and role are required")
	}

	_, err := a.Principals.GetByEmail(ctx, opts.email)
	switch {
	case err == nil:
		if err := a.Policy.AssignRole(ctx, opts.email, opts.role); err != nil {
			return false, err
		}
		return false, nil
	case !errors.Is(err, auth.ErrNotFound):
		return false, fmt.Errorf("look up superuser: %w", err)
	}

	if opts.password == "" {
		return false, fmt.Errorf("superuser %s does not exist and no password was given", opts.email)
	}
	_, err = a.Principals.Create(ctx, principal.CreateInput{
		Email:    opts.email,
		Password: opts.password,
		FullName: "Superuser",
		Role:     opts.role,
	})
	if err != nil {
		return false, fmt.Errorf("create superuser: %w", err)
	}
	return true, nil
}

func newListCommand(env *cmdutil.Env) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print every policy rule and role grouping",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := env.OpenApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			return printPolicy(cmd.Context(), a, cmd.OutOrStdout())
		},
	}
}

// printPolicy writes the policy in the CSV shape of the baseline file.
func printPolicy(ctx context.Context, a *app.App, out io.Writer) error {
	ps, err := a.Policy.Policies(ctx)
	if err != nil {
		return err
	}
	gs, err := a.Policy.Groups(ctx)
	if err != nil {
		return err
	}
	for _, p := range ps {
		fmt.Fprintf(out, "p, %s, %s, %s\n", p.Sub, p.Path, p.Method)
	}
	for _, g := range gs {
		fmt.Fprintf(out, "g, %s, %s\n", g.Member, g.Role)
	}
	return nil
}

func newSaveCommand(env *cmdutil.Env) *cobra.Command {
	return &cobra.Command{
		Use:   "save",
		Short: "Rewrite the stored policy under the save-policy lock",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := env.OpenApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			return savePolicy(cmd.Context(), a, cmd.OutOrStdout())
		},
	}
}

func savePolicy(ctx context.Context, a *app.App, out io.Writer) error {
	if err := a.Policy.Reload(ctx); err != nil {
		return err
	}
	if err := a.Policy.SavePolicyLocked(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, "Policy saved")
	return nil
}
