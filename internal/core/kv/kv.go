// Package kv defines the durable key-value state shared by the services:
// log positions, resume ticks and task statuses.
package kv

import (
	"context"
)

// GlobalTickKey stores the producer's committed log position.
const GlobalTickKey = "last-tick"

// Store is a string key-value store.
type Store interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Delete removes keys; missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
	// Keys lists keys starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// TickKey is the resume tick of an entity's consumer.
func TickKey(entity string) string {
	return entity + ":last-tick"
}

// StatusKey holds the mirrored status of a supervised task.
func StatusKey(task string) string {
	return task + ":status"
}
