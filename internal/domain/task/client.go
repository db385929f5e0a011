package task

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"replica/internal/core/kv"
	"replica/internal/core/pubsub"
)

// Timeouts bounds how long Client waits for each reply.
type Timeouts struct {
	Ping    time.Duration
	Info    time.Duration
	Start   time.Duration
	Stop    time.Duration
	Restart time.Duration
	Finish  time.Duration
}

// DefaultTimeouts returns the timeouts used by the CLI and the admin API.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Ping:    2 * time.Second,
		Info:    3 * time.Second,
		Start:   10 * time.Second,
		Stop:    60 * time.Second,
		Restart: 60 * time.Second,
		Finish:  60 * time.Second,
	}
}

// Client controls tasks running in other processes through the control bus.
type Client struct {
	bus      pubsub.Bus
	statuses kv.Store
	timeouts Timeouts
}

// NewClient creates a client. statuses may be nil when Status is not used.
func NewClient(bus pubsub.Bus, statuses kv.Store, timeouts Timeouts) *Client {
	return &Client{bus: bus, statuses: statuses, timeouts: timeouts}
}

// call publishes command to the task and waits for the reply on op. The reply
// subscription is in place before the command goes out.
func (c *Client) call(ctx context.Context, name, command, op string, timeout time.Duration) (string, error) {
	sub, err := c.bus.Subscribe(ctx, pubsub.ReplyChannel(name, op))
	if err != nil {
		return "", fmt.Errorf("subscribe reply: %w", err)
	}
	defer sub.Close()

	if err := c.bus.Publish(ctx, pubsub.ManagerChannel(name), command); err != nil {
		return "", fmt.Errorf("publish %s: %w", command, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg, ok := <-sub.Messages():
		if !ok {
			return "", ErrNoResponse
		}
		return msg, nil
	case <-timer.C:
		return "", ErrNoResponse
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Ping reports whether the task answered.
func (c *Client) Ping(ctx context.Context, name string) (bool, error) {
	msg, err := c.call(ctx, name, CommandPing, pubsub.ReplyPing, c.timeouts.Ping)
	if err == ErrNoResponse {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return msg == PingReply, nil
}

// Info fetches the task's status report. It returns ErrNoResponse when the
// task did not answer in time.
func (c *Client) Info(ctx context.Context, name string) (*Info, error) {
	msg, err := c.call(ctx, name, CommandInfo, pubsub.ReplyInfo, c.timeouts.Info)
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal([]byte(msg), &info); err != nil {
		return nil, fmt.Errorf("decode info: %w", err)
	}
	return &info, nil
}

// Start asks the task to start and returns its reported status.
func (c *Client) Start(ctx context.Context, name string) (string, error) {
	return c.call(ctx, name, StatusActive.String(), pubsub.ReplyStart, c.timeouts.Start)
}

// Stop asks the task to stop and returns its reported status.
func (c *Client) Stop(ctx context.Context, name string) (string, error) {
	return c.call(ctx, name, StatusInactive.String(), pubsub.ReplyStop, c.timeouts.Stop)
}

// Restart asks the task to restart and returns its reported status.
func (c *Client) Restart(ctx context.Context, name string) (string, error) {
	return c.call(ctx, name, StatusRestarting.String(), pubsub.ReplyRestart, c.timeouts.Restart)
}

// Finish asks the task to finish and returns its reported status.
func (c *Client) Finish(ctx context.Context, name string) (string, error) {
	return c.call(ctx, name, StatusComplete.String(), pubsub.ReplyFinish, c.timeouts.Finish)
}

// Status reads the mirrored status from the key-value store.
func (c *Client) Status(ctx context.Context, name string) (string, bool, error) {
	if c.statuses == nil {
		return "", false, fmt.Errorf("status store not configured")
	}
	return c.statuses.Get(ctx, kv.StatusKey(name))
}
