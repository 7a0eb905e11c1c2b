// Package timer provides the scheduled-message service used by the
// orchestration machines. A machine never blocks a goroutine to wait:
// it arms a timer carrying a message and persists the returned token.
// Canceling the token before expiry suppresses delivery; because
// cancellation can race expiry, machines additionally guard expiry
// handlers by state.
package timer

import (
	"context"
	"time"

	"github.com/quorumhq/steward/id"
)

// Token identifies one armed timer. It is persisted on the entity that
// armed it so the timer can be canceled when the wait becomes moot.
type Token = id.TimerID

// Scheduler arms and cancels message timers.
type Scheduler interface {
	// Schedule delivers msg to the bus after delay and returns a token
	// that cancels the delivery.
	Schedule(ctx context.Context, delay time.Duration, msg any) (Token, error)

	// Cancel suppresses a pending delivery. Canceling an expired or
	// unknown token is a no-op.
	Cancel(ctx context.Context, token Token) error
}
