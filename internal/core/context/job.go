// Package context provides values carried through pipeline and request contexts.
package context

import (
	"context"
)

// JobContext identifies the supervised unit of work a context belongs to.
type JobContext struct {
	Task   string // supervised task name, e.g. "producer" or an entity name
	Entity string // watched entity, empty for the producer
	RunID  string // changes on every (re)start of the task's worker
}

type jobContextKey struct{}

// WithJob adds JobContext to context.
func WithJob(ctx context.Context, job *JobContext) context.Context {
	return context.WithValue(ctx, jobContextKey{}, job)
}

// GetJob returns JobContext from context.
func GetJob(ctx context.Context) *JobContext {
	if v, ok := ctx.Value(jobContextKey{}).(*JobContext); ok {
		return v
	}
	return nil
}

// GetTaskName returns the task name from context or empty string.
func GetTaskName(ctx context.Context) string {
	if j := GetJob(ctx); j != nil {
		return j.Task
	}
	return ""
}
