package context

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Origin names what started a traced unit of work.
type Origin string

const (
	OriginAdmin Origin = "admin"
	OriginBatch Origin = "batch"
)

// TraceContext correlates the log lines of one admin request or one pipeline batch.
type TraceContext struct {
	TraceID string
	Origin  Origin
	// RequestID is set for admin requests.
	RequestID string
	// Position is the log tick or broker offset range of a batch.
	Position string
}

type traceContextKey struct{}

// WithTrace adds TraceContext to context.
func WithTrace(ctx context.Context, trace *TraceContext) context.Context {
	return context.WithValue(ctx, traceContextKey{}, trace)
}

// GetTrace returns TraceContext from context.
func GetTrace(ctx context.Context) *TraceContext {
	if v, ok := ctx.Value(traceContextKey{}).(*TraceContext); ok {
		return v
	}
	return nil
}

// NewRequestTrace describes an admin API request.
func NewRequestTrace(traceID, requestID string) *TraceContext {
	return &TraceContext{TraceID: traceID, Origin: OriginAdmin, RequestID: requestID}
}

// NewBatchTrace describes a pipeline batch. The trace ID follows the span in
// ctx when a tracer provider is installed.
func NewBatchTrace(ctx context.Context, position string) *TraceContext {
	traceID := uuid.New().String()
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	return &TraceContext{TraceID: traceID, Origin: OriginBatch, Position: position}
}

// Fields returns the logger key-value pairs of t.
func (t *TraceContext) Fields() []any {
	fields := []any{"trace_id", t.TraceID, "origin", string(t.Origin)}
	if t.RequestID != "" {
		fields = append(fields, "request_id", t.RequestID)
	}
	if t.Position != "" {
		fields = append(fields, "position", t.Position)
	}
	return fields
}
