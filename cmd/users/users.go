package users

import (
	"context"
	"fmt"
	"io"
	"net/mail"
	"os"

	"github.com/spf13/cobra"

	"github.com/hiennguyen9874/api-base-project/cmd/cmdutil"
	"github.com/hiennguyen9874/api-base-project/internal/app"
	"github.com/hiennguyen9874/api-base-project/internal/services/principal"
)

// NewCommand returns the parent command for principal management.
func NewCommand(env *cmdutil.Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage principals",
		Long:  `Commands for managing principals directly against the database.`,
	}
	cmd.AddCommand(newCreateCommand(env))
	return cmd
}

type createOptions struct {
	email    string
	fullName string
	password string
	role     string
	inactive bool
	stdin    bool
}

func newCreateCommand(env *cmdutil.Env) *cobra.Command {
	var opts createOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a principal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.email == "" {
				return fmt.Errorf("--email flag is required")
			}
			if _, err := mail.ParseAddress(opts.email); err != nil {
				return fmt.Errorf("invalid email format: %w", err)
			}

			password, err := cmdutil.ReadPassword(os.Stdin, cmd.ErrOrStderr(), opts.password, opts.stdin)
			if err != nil {
				return err
			}
			if password == "" {
				return fmt.Errorf("password is required (use --password or --stdin)")
			}
			opts.password = password

			a, err := env.OpenApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			return runCreate(cmd.Context(), a, opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.email, "email", "", "Email address of the principal")
	cmd.Flags().StringVar(&opts.fullName, "full-name", "", "Display name")
	cmd.Flags().StringVar(&opts.password, "password", "", "Password (use --stdin to avoid shell history)")
	cmd.Flags().StringVar(&opts.role, "role", "", "Role to grant (default: casbin.default_role)")
	cmd.Flags().BoolVar(&opts.inactive, "inactive", false, "Create the principal disabled")
	cmd.Flags().BoolVar(&opts.stdin, "stdin", false, "Read password from stdin instead of --password flag")
	return cmd
}

func runCreate(ctx context.Context, a *app.App, opts createOptions, out io.Writer) error {
	p, err := a.Principals.Create(ctx, principal.CreateInput{
		Email:    opts.email,
		Password: opts.password,
		FullName: opts.fullName,
		Inactive: opts.inactive,
		Role:     opts.role,
	})
	if err != nil {
		return fmt.Errorf("failed to create principal: %w", err)
	}
	roles, err := a.Policy.RolesFor(ctx, p.Email)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "Principal created successfully!")
	fmt.Fprintln(out, "----------------------------------------")
	fmt.Fprintf(out, "ID: %s\n", p.ID)
	fmt.Fprintf(out, "Email: %s\n", p.Email)
	if p.FullName != "" {
		fmt.Fprintf(out, "Name: %s\n", p.FullName)
	}
	fmt.Fprintf(out, "Active: %t\n", p.IsActive)
	fmt.Fprintf(out, "Roles: %v\n", roles)
	fmt.Fprintln(out, "----------------------------------------")
	return nil
}
