// Package pubsub defines the control-plane message bus.
package pubsub

import (
	"context"
)

// Bus publishes string payloads to named channels.
type Bus interface {
	Publish(ctx context.Context, channel, payload string) error
	// Subscribe starts delivering messages of channel. The subscription is
	// active when Subscribe returns.
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Subscription is a live channel subscription.
type Subscription interface {
	// Messages is closed when the subscription ends.
	Messages() <-chan string
	Close() error
}

// Reply operations acknowledged by a task.
const (
	ReplyStart   = "start"
	ReplyStop    = "stop"
	ReplyRestart = "restart"
	ReplyFinish  = "finish"
	ReplyError   = "error"
	ReplyPing    = "ping"
	ReplyInfo    = "info"
)

// ManagerChannel is the inbound control channel of a task.
func ManagerChannel(task string) string {
	return task + ":manager"
}

// ReplyChannel is the outbound acknowledgment channel for op.
func ReplyChannel(task, op string) string {
	return task + ":task:" + op
}
