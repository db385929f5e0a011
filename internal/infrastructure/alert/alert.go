// Package alert reports task failures to operators.
package alert

import (
	"context"
	"os"
	"time"

	"replica/internal/domain/task"
	"replica/pkg/logger"
)

// Notifier delivers operator alerts. Implementations must not block for long;
// they run on the supervisor's goroutine.
type Notifier interface {
	Failure(ctx context.Context, name string, err error, stack string)
	Terminated(ctx context.Context, name string, info task.Info)
}

// LogNotifier writes alerts to a logger. Mail or chat delivery can tail it.
type LogNotifier struct {
	log  *logger.Logger
	host string
}

// NewLogNotifier creates a notifier tagged with the local host name.
func NewLogNotifier(log *logger.Logger) *LogNotifier {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return &LogNotifier{log: log.WithComponent("alert"), host: host}
}

// Failure reports one worker failure.
func (n *LogNotifier) Failure(ctx context.Context, name string, err error, stack string) {
	n.log.WithContext(ctx).Errorw("task failed",
		"task", name,
		"host", n.host,
		"error", err,
		"stack", stack,
	)
}

// Terminated reports that the circuit breaker stopped restarting a task.
func (n *LogNotifier) Terminated(ctx context.Context, name string, info task.Info) {
	n.log.WithContext(ctx).Errorw("task terminated",
		"task", name,
		"host", n.host,
		"status", info.Status,
		"restarts", info.NumberOfRestarts,
		"max_restarts", info.MaxRestarts,
	)
}

// Hooks adapts a Notifier to task callbacks.
func Hooks(n Notifier) (task.FailureFunc, task.TerminateFunc) {
	onFailure := func(t *task.Task, err error, stack string) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		n.Failure(ctx, t.Name(), err, stack)
	}
	onTerminate := func(t *task.Task) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		n.Terminated(ctx, t.Name(), t.Info())
	}
	return onFailure, onTerminate
}
