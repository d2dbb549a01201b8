package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hiennguyen9874/api-base-project/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), config.ObservabilityConfig{}, nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestNewLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, false)
	logger.Debug("hidden")
	logger.Info("shown", "principal", "a@x.com")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "a@x.com", entry["principal"])

	buf.Reset()
	newLogger(&buf, true).Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestMetrics_RecordOnNoopMeter(t *testing.T) {
	ctx := context.Background()

	auth, err := NewAuthMetrics()
	require.NoError(t, err)
	auth.RecordAuth(ctx, "login", false, 3.2)

	locks, err := NewLockMetrics()
	require.NoError(t, err)
	locks.RecordAcquire(ctx, "pre-start", "denied", 10)

	db, err := NewDatabaseMetrics()
	require.NoError(t, err)
	db.RecordQuery(ctx, "SELECT", 1, errors.New("boom"))

	var nilAuth *AuthMetrics
	var nilLocks *LockMetrics
	assert.NotPanics(t, func() {
		nilAuth.RecordAuth(ctx, "refresh", true, 1)
		nilLocks.RecordAcquire(ctx, "x", "acquired", 1)
	})
}

func TestStartSpan_RecordError(t *testing.T) {
	_, span := StartSpan(context.Background(), "apibase/test", "test.span")
	defer span.End()
	assert.NotPanics(t, func() { RecordError(span, errors.New("boom")) })
}
