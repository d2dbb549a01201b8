package cmdutil

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/hiennguyen9874/api-base-project/internal/app"
	"github.com/hiennguyen9874/api-base-project/internal/config"
	"github.com/hiennguyen9874/api-base-project/internal/lock"
	"github.com/hiennguyen9874/api-base-project/internal/telemetry"
)

// Env is filled by the root command before any subcommand runs. Subcommands
// receive the pointer at construction time and read it in RunE.
type Env struct {
	Config *config.Config
	Logger *slog.Logger
}

// OpenApp builds the full application context. Callers must Close it.
func (e *Env) OpenApp(ctx context.Context) (*app.App, error) {
	a, err := app.New(ctx, e.Config, e.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application: %w", err)
	}
	return a, nil
}

// ReleaseLocks drops every distributed lock. It only needs the lock store,
// so it runs before the rest of the application is built.
func (e *Env) ReleaseLocks(ctx context.Context) (int, error) {
	opts, err := redis.ParseURL(e.Config.Redis.Lock.URL)
	if err != nil {
		return 0, fmt.Errorf("redis.lock.url: %w", err)
	}
	client := redis.NewClient(opts)
	defer client.Close()

	n, err := lock.NewManager(client, e.Logger, nil).ReleaseAll(ctx)
	if err != nil {
		return n, err
	}
	telemetry.OrDefault(e.Logger).Info("released distributed locks", "count", n)
	return n, nil
}
