// Package task supervises long-running workers: it restarts failed runs under a
// restart policy with a circuit breaker, mirrors status to the key-value store
// and answers lifecycle commands received over the control bus.
package task

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/goccy/go-json"

	appctx "replica/internal/core/context"
	"replica/internal/core/id"
	"replica/internal/core/kv"
	"replica/internal/core/pubsub"
	"replica/pkg/logger"
)

// Worker is the supervised unit of work. It must return when ctx is cancelled.
type Worker func(ctx context.Context) error

// Policy bounds automatic restarts.
type Policy struct {
	// MaxRestarts is the number of restarts allowed within one failure streak.
	MaxRestarts int
	// MinUpTime separates failure streaks: a failure later than MinUpTime
	// after the previous one starts a new streak.
	MinUpTime time.Duration
	// RestartDelay is the pause before an automatic restart.
	RestartDelay time.Duration
}

// DefaultPolicy returns production defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxRestarts:  3,
		MinUpTime:    60 * time.Second,
		RestartDelay: 10 * time.Second,
	}
}

// FailureFunc is called for every worker failure. stack carries a goroutine
// trace for panics and the formatted error otherwise.
type FailureFunc func(t *Task, err error, stack string)

// TerminateFunc is called once when the circuit breaker gives up on a task.
type TerminateFunc func(t *Task)

// Options configures a Task. Bus and Statuses are optional.
type Options struct {
	Name        string
	Worker      Worker
	Policy      Policy
	OnFailure   FailureFunc
	OnTerminate TerminateFunc
	Bus         pubsub.Bus
	Statuses    kv.Store
	Logger      *logger.Logger
}

// Info is the status report answered to CommandInfo.
type Info struct {
	Status                  string  `json:"status"`
	LastFailed              string  `json:"last_failed"`
	NumberOfRestarts        int     `json:"number_of_restarts"`
	CurrentNumberOfRestarts int     `json:"current_number_of_restarts"`
	MaxRestarts             int     `json:"max_restarts"`
	MinUpTime               float64 `json:"min_up_time"`
	RestartDelay            float64 `json:"restart_delay"`
}

const lastFailedLayout = "2006-01-02 15:04:05"

// statusWriteTimeout bounds a single status mirror write.
const statusWriteTimeout = 5 * time.Second

type run struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

// Task is a supervised worker. All methods are safe for concurrent use.
type Task struct {
	name        string
	worker      Worker
	policy      Policy
	onFailure   FailureFunc
	onTerminate TerminateFunc
	bus         pubsub.Bus
	statuses    kv.Store
	log         *logger.Logger
	now         func() time.Time

	mu         sync.Mutex
	status     Status
	run        *run
	restarts   int
	streak     int
	failedAt   time.Time
	lastFailed time.Time
	lastErr    error
	terminated bool
	finished   bool
	sub        pubsub.Subscription

	done      chan struct{}
	interrupt chan struct{}
}

// New creates a task in NOT_STARTED state.
func New(opts Options) *Task {
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}
	return &Task{
		name:        opts.Name,
		worker:      opts.Worker,
		policy:      opts.Policy,
		onFailure:   opts.OnFailure,
		onTerminate: opts.OnTerminate,
		bus:         opts.Bus,
		statuses:    opts.Statuses,
		log:         log.WithComponent("task").With("task", opts.Name),
		now:         time.Now,
		status:      StatusNotStarted,
		done:        make(chan struct{}),
		interrupt:   make(chan struct{}),
	}
}

// Name returns the task name.
func (t *Task) Name() string { return t.name }

// Status returns the current status.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Running reports whether a worker run is in progress.
func (t *Task) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.run != nil
}

// LastError returns the error of the last failed run.
func (t *Task) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// Done is closed when the task is finished: completed, given up by the
// circuit breaker, or terminated.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the task is finished or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches the worker. Starting a running task is a no-op.
func (t *Task) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startLocked()
}

func (t *Task) startLocked() error {
	if t.terminated {
		return ErrTerminated
	}
	if t.finished {
		return ErrFinished
	}
	if t.run != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{id: id.NewRunID(), cancel: cancel, done: make(chan struct{})}
	ctx = appctx.WithJob(ctx, &appctx.JobContext{Task: t.name, RunID: r.id})
	ctx = logger.WithLogger(ctx, t.log)
	t.run = r
	t.setStatusLocked(StatusActive)

	go t.execute(ctx, r)
	t.log.Infow("task started", "run_id", r.id)
	return nil
}

func (t *Task) execute(ctx context.Context, r *run) {
	err, stack := t.invoke(ctx)
	stopped := ctx.Err() != nil
	r.cancel()

	t.mu.Lock()
	if t.run == r {
		t.run = nil
	}
	close(r.done)

	if stopped {
		t.mu.Unlock()
		t.log.Debugw("task run stopped", "run_id", r.id)
		return
	}
	if err == nil {
		sub := t.finishLocked(StatusComplete)
		t.mu.Unlock()
		closeSubscription(sub)
		t.log.Infow("task completed", "run_id", r.id)
		return
	}
	t.lastErr = err
	t.mu.Unlock()

	t.handleFailure(err, stack)
}

func (t *Task) invoke(ctx context.Context) (err error, stack string) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("worker panic: %v", p)
			stack = string(debug.Stack())
		}
	}()
	if err = t.worker(ctx); err != nil {
		stack = fmt.Sprintf("%+v", err)
	}
	return err, stack
}

// handleFailure applies the restart policy to a failed run.
func (t *Task) handleFailure(err error, stack string) {
	t.mu.Lock()
	if t.terminated || t.finished {
		t.mu.Unlock()
		return
	}
	t.setStatusLocked(StatusError)

	now := t.now()
	t.restarts++
	t.lastFailed = now
	if t.failedAt.IsZero() || now.Sub(t.failedAt) >= t.policy.MinUpTime {
		t.streak = 0
	}
	t.failedAt = now

	restart := t.streak < t.policy.MaxRestarts
	if restart {
		t.streak++
		t.setStatusLocked(StatusRestarting)
	}
	streak := t.streak
	t.mu.Unlock()

	t.log.Errorw("task failed", "error", err, "streak", streak, "restart", restart)
	if t.onFailure != nil {
		t.onFailure(t, err, stack)
	}

	if !restart {
		t.mu.Lock()
		sub := t.finishLocked(StatusInactive)
		t.mu.Unlock()
		closeSubscription(sub)

		t.log.Errorw("task exceeded restart limit", "max_restarts", t.policy.MaxRestarts)
		if t.onTerminate != nil {
			t.onTerminate(t)
		}
		return
	}

	timer := time.NewTimer(t.policy.RestartDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-t.interrupt:
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	// A stop or manual restart during the delay takes precedence.
	if t.status != StatusRestarting || t.run != nil {
		return
	}
	if err := t.startLocked(); err != nil {
		t.log.Warnw("automatic restart skipped", "error", err)
	}
}

// Stop cancels the current run and waits for it to exit.
func (t *Task) Stop() {
	t.mu.Lock()
	r := t.run
	if r != nil {
		r.cancel()
	}
	t.mu.Unlock()

	if r != nil {
		<-r.done
	}

	t.mu.Lock()
	if !t.terminated && !t.finished {
		t.setStatusLocked(StatusInactive)
	}
	t.mu.Unlock()
	t.log.Infow("task stopped")
}

// Restart stops the current run, clears the failure streak and starts again.
func (t *Task) Restart() error {
	t.Stop()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.terminated {
		return ErrTerminated
	}
	if t.finished {
		return ErrFinished
	}
	t.setStatusLocked(StatusRestarting)
	t.streak = 0
	t.failedAt = time.Time{}
	return t.startLocked()
}

// Finish stops the current run and marks the task COMPLETE.
func (t *Task) Finish() {
	t.mu.Lock()
	r := t.run
	if r != nil {
		r.cancel()
	}
	t.mu.Unlock()
	if r != nil {
		<-r.done
	}

	t.mu.Lock()
	var sub pubsub.Subscription
	if !t.terminated {
		sub = t.finishLocked(StatusComplete)
	}
	t.mu.Unlock()
	closeSubscription(sub)
}

// Fail reports a failure of the current run from outside the worker. The run is
// stopped and the restart policy applies as if the worker had returned err.
func (t *Task) Fail(err error) {
	if err == nil {
		err = errReported
	}
	t.mu.Lock()
	r := t.run
	if r != nil {
		r.cancel()
	}
	t.mu.Unlock()
	if r != nil {
		<-r.done
	}

	t.mu.Lock()
	t.lastErr = err
	t.mu.Unlock()
	t.handleFailure(err, fmt.Sprintf("%+v", err))
}

// Terminate stops the task permanently and waits for the worker to exit.
func (t *Task) Terminate() {
	t.mu.Lock()
	if t.terminated {
		t.mu.Unlock()
		return
	}
	t.terminated = true
	close(t.interrupt)
	r := t.run
	if r != nil {
		r.cancel()
	}
	sub := t.finishLocked(StatusTerminate)
	t.mu.Unlock()

	closeSubscription(sub)
	if r != nil {
		<-r.done
	}
	t.log.Infow("task terminated")
}

// Info reports the task state.
func (t *Task) Info() Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	info := Info{
		Status:                  t.status.String(),
		NumberOfRestarts:        t.restarts,
		CurrentNumberOfRestarts: t.streak,
		MaxRestarts:             t.policy.MaxRestarts,
		MinUpTime:               t.policy.MinUpTime.Seconds(),
		RestartDelay:            t.policy.RestartDelay.Seconds(),
	}
	if !t.lastFailed.IsZero() {
		info.LastFailed = t.lastFailed.Format(lastFailedLayout)
	}
	return info
}

// finishLocked marks the task finished once and returns the control
// subscription for the caller to close after unlocking.
func (t *Task) finishLocked(status Status) pubsub.Subscription {
	t.setStatusLocked(status)
	if t.finished {
		return nil
	}
	t.finished = true
	close(t.done)
	sub := t.sub
	t.sub = nil
	return sub
}

func (t *Task) setStatusLocked(status Status) {
	t.status = status
	if t.statuses == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), statusWriteTimeout)
	defer cancel()
	if err := t.statuses.Set(ctx, kv.StatusKey(t.name), status.String()); err != nil {
		t.log.Warnw("failed to mirror task status", "status", status.String(), "error", err)
	}
}

// Listen subscribes to the task's control channel and handles commands until
// ctx is done or the task finishes.
func (t *Task) Listen(ctx context.Context) error {
	if t.bus == nil {
		return nil
	}
	sub, err := t.bus.Subscribe(ctx, pubsub.ManagerChannel(t.name))
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", pubsub.ManagerChannel(t.name), err)
	}

	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		return sub.Close()
	}
	t.sub = sub
	t.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				closeSubscription(sub)
				return
			case msg, ok := <-sub.Messages():
				if !ok {
					return
				}
				t.HandleMessage(ctx, msg)
			}
		}
	}()
	return nil
}

// HandleMessage executes one control command and publishes its reply.
func (t *Task) HandleMessage(ctx context.Context, msg string) {
	t.log.Debugw("control message", "message", msg)

	switch msg {
	case StatusActive.String():
		if err := t.Start(); err != nil {
			t.log.Warnw("start rejected", "error", err)
		}
		t.reply(ctx, pubsub.ReplyStart, t.Status().String())
	case StatusInactive.String():
		t.Stop()
		t.reply(ctx, pubsub.ReplyStop, t.Status().String())
	case StatusRestarting.String():
		if err := t.Restart(); err != nil {
			t.log.Warnw("restart rejected", "error", err)
		}
		t.reply(ctx, pubsub.ReplyRestart, t.Status().String())
	case StatusComplete.String():
		t.Finish()
		t.reply(ctx, pubsub.ReplyFinish, t.Status().String())
	case StatusError.String():
		err := t.LastError()
		t.reply(ctx, pubsub.ReplyError, StatusError.String())
		// Failure handling waits out the restart delay.
		go t.Fail(err)
	case CommandPing:
		t.reply(ctx, pubsub.ReplyPing, PingReply)
	case CommandInfo:
		payload, err := json.Marshal(t.Info())
		if err != nil {
			t.log.Errorw("failed to encode info", "error", err)
			return
		}
		t.reply(ctx, pubsub.ReplyInfo, string(payload))
	default:
		t.log.Warnw("unknown control message", "message", msg)
	}
}

func (t *Task) reply(ctx context.Context, op, payload string) {
	if t.bus == nil {
		return
	}
	if err := t.bus.Publish(ctx, pubsub.ReplyChannel(t.name, op), payload); err != nil && !errors.Is(err, context.Canceled) {
		t.log.Warnw("failed to publish reply", "op", op, "error", err)
	}
}

func closeSubscription(sub pubsub.Subscription) {
	if sub != nil {
		_ = sub.Close()
	}
}
