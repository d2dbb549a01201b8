package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan creates a new span for a service operation.
//
//	ctx, span := telemetry.StartSpan(ctx, "apibase/services/session", "session.Refresh",
//	    attribute.String(telemetry.AttrPrincipal, email),
//	)
//	defer span.End()
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordError records an error on the span and sets the span status to error.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// AddEvent adds a named event to the span.
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Span attribute keys
const (
	AttrPrincipal = "principal.email"

	AttrPolicyPtype    = "policy.ptype"
	AttrPolicyCount    = "policy.count"
	AttrPolicyMethod   = "policy.method"
	AttrPolicyPath     = "policy.path"
	AttrPolicyAllowed  = "policy.allowed"
	AttrPolicyCacheHit = "policy.cache_hit"

	AttrLockName = "lock.name"
)
