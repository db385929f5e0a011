package context

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace"
)

func TestJobContext(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, GetJob(ctx))
	assert.Equal(t, "", GetTaskName(ctx))

	ctx = WithJob(ctx, &JobContext{Task: "orders", Entity: "orders", RunID: "r1"})
	assert.Equal(t, "orders", GetTaskName(ctx))
	assert.Equal(t, "r1", GetJob(ctx).RunID)
}

func TestRequestTrace(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, GetTrace(ctx))

	ctx = WithTrace(ctx, NewRequestTrace("t1", "r1"))
	tc := GetTrace(ctx)
	assert.Equal(t, OriginAdmin, tc.Origin)
	assert.Equal(t, []any{"trace_id", "t1", "origin", "admin", "request_id", "r1"}, tc.Fields())
}

func TestBatchTraceFollowsSpan(t *testing.T) {
	tc := NewBatchTrace(context.Background(), "12-40")
	assert.NotEmpty(t, tc.TraceID)
	assert.Equal(t, []any{"trace_id", tc.TraceID, "origin", "batch", "position", "12-40"}, tc.Fields())

	traceID := trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: trace.SpanID{1}})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	assert.Equal(t, traceID.String(), NewBatchTrace(ctx, "7").TraceID)
}
