package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hiennguyen9874/api-base-project/cmd/cmdutil"
	"github.com/hiennguyen9874/api-base-project/cmd/locks"
	"github.com/hiennguyen9874/api-base-project/cmd/policy"
	"github.com/hiennguyen9874/api-base-project/cmd/users"
	"github.com/hiennguyen9874/api-base-project/internal/config"
	"github.com/hiennguyen9874/api-base-project/internal/telemetry"
)

var (
	cfgFile string
	env     = &cmdutil.Env{}
)

var rootCmd = &cobra.Command{
	Use:   "apibase",
	Short: "API base server with token sessions and policy-gated routes",
	Long: `apibase serves an authenticated HTTP API. Sessions use rotating refresh
tokens tracked in Redis, and every route is gated by a casbin policy stored in
the database and cached in Redis.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := readConfigFile(); err != nil {
			return err
		}
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		env.Config = cfg
		env.Logger = telemetry.NewLogger(cfg.Debug)
		return nil
	},
}

// readConfigFile reads --config, or apibase.yaml from the working directory
// or /etc/apibase. A missing default file is not an error.
func readConfigFile() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("apibase")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/apibase")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && cfgFile == "" {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	return nil
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./apibase.yaml or /etc/apibase/apibase.yaml)")
	rootCmd.PersistentFlags().String("db-url", "", "Database connection URL (env: APIBASE_DATABASE_URL)")
	rootCmd.PersistentFlags().String("server-addr", "", "Server bind address (env: APIBASE_SERVER_ADDR)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging (env: APIBASE_DEBUG)")

	_ = viper.BindPFlag("database_url", rootCmd.PersistentFlags().Lookup("db-url"))
	_ = viper.BindPFlag("server_addr", rootCmd.PersistentFlags().Lookup("server-addr"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	rootCmd.AddCommand(locks.NewCommand(env))
	rootCmd.AddCommand(policy.NewCommand(env))
	rootCmd.AddCommand(users.NewCommand(env))
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
