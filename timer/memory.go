package timer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/quorumhq/steward/bus"
	"github.com/quorumhq/steward/id"
)

// Memory is a process-local Scheduler built on time.AfterFunc. Timers do
// not survive a restart; durable deployments back the Scheduler with their
// broker's delayed-delivery support.
type Memory struct {
	pub    bus.Publisher
	logger *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewMemory creates an in-process scheduler publishing to pub.
func NewMemory(pub bus.Publisher, logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{
		pub:    pub,
		logger: logger,
		timers: make(map[string]*time.Timer),
	}
}

// Schedule arms a timer that publishes msg after delay.
func (m *Memory) Schedule(_ context.Context, delay time.Duration, msg any) (Token, error) {
	token := id.NewTimerID()
	key := token.String()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.timers[key] = time.AfterFunc(delay, func() {
		m.mu.Lock()
		_, armed := m.timers[key]
		delete(m.timers, key)
		m.mu.Unlock()

		// A cancel that won the race removed the entry already.
		if !armed {
			return
		}

		if err := m.pub.Publish(context.Background(), msg); err != nil {
			m.logger.Error("timer delivery failed",
				slog.String("token", key),
				slog.Any("error", err),
			)
		}
	})

	return token, nil
}

// Cancel stops a pending timer. Unknown or already-fired tokens are no-ops.
func (m *Memory) Cancel(_ context.Context, token Token) error {
	if token.IsNil() {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := token.String()
	if t, ok := m.timers[key]; ok {
		t.Stop()
		delete(m.timers, key)
	}
	return nil
}

// Close cancels every pending timer.
func (m *Memory) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, t := range m.timers {
		t.Stop()
		delete(m.timers, key)
	}
}
