package bunx

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hiennguyen9874/api-base-project/internal/telemetry"
	"github.com/uptrace/bun"
)

// MetricsHook records every query into DatabaseMetrics.
type MetricsHook struct {
	metrics *telemetry.DatabaseMetrics
}

var _ bun.QueryHook = (*MetricsHook)(nil)

// NewMetricsHook returns a hook for db.AddQueryHook.
func NewMetricsHook(metrics *telemetry.DatabaseMetrics) *MetricsHook {
	return &MetricsHook{metrics: metrics}
}

func (h *MetricsHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *MetricsHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	if h.metrics == nil {
		return
	}
	err := event.Err
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
	}
	h.metrics.RecordQuery(ctx, event.Operation(), float64(time.Since(event.StartTime).Microseconds())/1000, err)
}
