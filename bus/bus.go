// Package bus defines the message transport connecting the orchestration
// state machines, the timer service, and worker agents.
//
// Delivery is at-least-once: handlers must tolerate duplicate and stale
// messages. The in-memory implementation is suitable for single-process
// deployments and tests; distributed deployments supply their own Bus over
// a broker.
package bus

import (
	"context"
	"errors"
)

// ErrClosed is returned by Publish after the bus has been stopped.
var ErrClosed = errors.New("bus: closed")

// Publisher is the write side of the bus. State machines hold a Publisher
// so they can emit follow-up messages without seeing the full bus.
type Publisher interface {
	Publish(ctx context.Context, msg any) error
}

// Handler processes one message. Returning an error requests redelivery,
// bounded by the bus's delivery attempt limit.
type Handler func(ctx context.Context, msg any) error

// ConcurrencySetter is implemented by buses whose dispatch concurrency can
// be adjusted before Start. The engine uses it to apply the coordinator's
// ConcurrentMessageLimit to the bus it runs.
type ConcurrencySetter interface {
	SetConcurrency(n int)
}

// Bus is a publish/subscribe message transport with lifecycle control.
type Bus interface {
	Publisher

	// Subscribe registers a handler for every published message. The
	// returned function removes the subscription.
	Subscribe(h Handler) (unsubscribe func())

	// Start begins dispatching buffered and future messages.
	Start(ctx context.Context) error

	// Stop drains in-flight dispatches and closes the bus.
	Stop(ctx context.Context) error
}
