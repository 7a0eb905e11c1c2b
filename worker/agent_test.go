package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/quorumhq/steward/bus"
	"github.com/quorumhq/steward/contract"
	"github.com/quorumhq/steward/id"
	"github.com/quorumhq/steward/worker"
)

type capture struct {
	mu   sync.Mutex
	msgs []any
}

func (c *capture) handle(_ context.Context, msg any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *capture) all() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.msgs...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func findMsg[T any](msgs []any, match func(T) bool) (T, bool) {
	var zero T
	for _, m := range msgs {
		if v, ok := m.(T); ok && match(v) {
			return v, true
		}
	}
	return zero, false
}

type fixture struct {
	b     *bus.InMemory
	agent *worker.Agent
	sink  *capture
}

func newFixture(t *testing.T, register func(*worker.Registry)) *fixture {
	t.Helper()
	b := bus.NewInMemory(bus.WithLogger(slog.New(slog.DiscardHandler)))
	reg := worker.NewRegistry()
	if register != nil {
		register(reg)
	}
	agent := worker.NewAgent("10.0.0.9:9000", reg, b,
		worker.WithHeartbeatInterval(20*time.Millisecond),
		worker.WithLogger(slog.New(slog.DiscardHandler)))

	sink := &capture{}
	b.Subscribe(sink.handle)

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("bus start: %v", err)
	}
	if err := agent.Start(context.Background()); err != nil {
		t.Fatalf("agent start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = agent.Stop(ctx)
		_ = b.Stop(ctx)
	})
	return &fixture{b: b, agent: agent, sink: sink}
}

func runMsg(jobType string) contract.RunJob {
	return contract.RunJob{
		AttemptID:      id.NewAttemptID(),
		JobID:          id.NewJobID(),
		JobType:        jobType,
		ServiceAddress: "10.0.0.9:9000",
		Arguments:      map[string]any{"n": 1},
		JobTimeout:     time.Minute,
	}
}

func TestAgentRun(t *testing.T) {
	t.Run("executes and reports completion", func(t *testing.T) {
		var got map[string]any
		var mu sync.Mutex
		f := newFixture(t, func(r *worker.Registry) {
			r.Register("resize-image", func(_ context.Context, args map[string]any) error {
				mu.Lock()
				got = args
				mu.Unlock()
				return nil
			})
		})

		m := runMsg("resize-image")
		if err := f.b.Publish(context.Background(), m); err != nil {
			t.Fatalf("publish: %v", err)
		}

		waitFor(t, func() bool {
			_, ok := findMsg(f.sink.all(), func(v contract.JobAttemptCompleted) bool {
				return v.AttemptID == m.AttemptID
			})
			return ok
		})

		if _, ok := findMsg(f.sink.all(), func(v contract.JobAttemptStarted) bool {
			return v.AttemptID == m.AttemptID
		}); !ok {
			t.Fatal("expected a start acknowledgement before completion")
		}
		mu.Lock()
		defer mu.Unlock()
		if got["n"] != 1 {
			t.Fatalf("handler args = %v", got)
		}
	})

	t.Run("reports a handler error as a fault", func(t *testing.T) {
		f := newFixture(t, func(r *worker.Registry) {
			r.Register("resize-image", func(context.Context, map[string]any) error {
				return errors.New("corrupt input")
			})
		})

		m := runMsg("resize-image")
		if err := f.b.Publish(context.Background(), m); err != nil {
			t.Fatalf("publish: %v", err)
		}

		waitFor(t, func() bool {
			fault, ok := findMsg(f.sink.all(), func(v contract.JobAttemptFaulted) bool {
				return v.AttemptID == m.AttemptID
			})
			return ok && fault.Reason == "corrupt input"
		})
	})

	t.Run("converts a handler panic into a fault", func(t *testing.T) {
		f := newFixture(t, func(r *worker.Registry) {
			r.Register("resize-image", func(context.Context, map[string]any) error {
				panic("nil deref")
			})
		})

		m := runMsg("resize-image")
		if err := f.b.Publish(context.Background(), m); err != nil {
			t.Fatalf("publish: %v", err)
		}

		waitFor(t, func() bool {
			fault, ok := findMsg(f.sink.all(), func(v contract.JobAttemptFaulted) bool {
				return v.AttemptID == m.AttemptID
			})
			return ok && fault.Reason == "handler panic: nil deref"
		})
	})

	t.Run("faults an unregistered job type", func(t *testing.T) {
		f := newFixture(t, nil)

		m := runMsg("unknown-type")
		if err := f.b.Publish(context.Background(), m); err != nil {
			t.Fatalf("publish: %v", err)
		}

		waitFor(t, func() bool {
			_, ok := findMsg(f.sink.all(), func(v contract.JobAttemptFaulted) bool {
				return v.AttemptID == m.AttemptID
			})
			return ok
		})
	})

	t.Run("ignores dispatches for another address", func(t *testing.T) {
		ran := make(chan struct{}, 1)
		f := newFixture(t, func(r *worker.Registry) {
			r.Register("resize-image", func(context.Context, map[string]any) error {
				ran <- struct{}{}
				return nil
			})
		})

		m := runMsg("resize-image")
		m.ServiceAddress = "10.9.9.9:9000"
		if err := f.b.Publish(context.Background(), m); err != nil {
			t.Fatalf("publish: %v", err)
		}

		select {
		case <-ran:
			t.Fatal("handler ran for a dispatch addressed elsewhere")
		case <-time.After(100 * time.Millisecond):
		}
	})
}

func TestAgentStop(t *testing.T) {
	t.Run("stop request cancels the running attempt", func(t *testing.T) {
		f := newFixture(t, func(r *worker.Registry) {
			r.Register("long-job", func(ctx context.Context, _ map[string]any) error {
				<-ctx.Done()
				return ctx.Err()
			})
		})

		m := runMsg("long-job")
		if err := f.b.Publish(context.Background(), m); err != nil {
			t.Fatalf("publish: %v", err)
		}
		waitFor(t, func() bool {
			_, ok := findMsg(f.sink.all(), func(v contract.JobAttemptStarted) bool {
				return v.AttemptID == m.AttemptID
			})
			return ok
		})

		err := f.b.Publish(context.Background(), contract.StopJobAttempt{
			AttemptID:      m.AttemptID,
			ServiceAddress: "10.0.0.9:9000",
			Reason:         "job canceled",
		})
		if err != nil {
			t.Fatalf("publish stop: %v", err)
		}

		waitFor(t, func() bool {
			_, ok := findMsg(f.sink.all(), func(v contract.JobAttemptFaulted) bool {
				return v.AttemptID == m.AttemptID
			})
			return ok
		})
	})
}

func TestAgentStatus(t *testing.T) {
	t.Run("answers running for an active attempt", func(t *testing.T) {
		release := make(chan struct{})
		f := newFixture(t, func(r *worker.Registry) {
			r.Register("long-job", func(ctx context.Context, _ map[string]any) error {
				select {
				case <-release:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
		})
		defer close(release)

		m := runMsg("long-job")
		if err := f.b.Publish(context.Background(), m); err != nil {
			t.Fatalf("publish: %v", err)
		}
		waitFor(t, func() bool {
			_, ok := findMsg(f.sink.all(), func(v contract.JobAttemptStarted) bool {
				return v.AttemptID == m.AttemptID
			})
			return ok
		})

		err := f.b.Publish(context.Background(), contract.CheckJobStatus{
			AttemptID:      m.AttemptID,
			ServiceAddress: "10.0.0.9:9000",
		})
		if err != nil {
			t.Fatalf("publish check: %v", err)
		}

		waitFor(t, func() bool {
			resp, ok := findMsg(f.sink.all(), func(v contract.JobStatusResponse) bool {
				return v.AttemptID == m.AttemptID
			})
			return ok && resp.Status == contract.StatusRunning
		})
	})

	t.Run("answers completed for a finished attempt", func(t *testing.T) {
		f := newFixture(t, func(r *worker.Registry) {
			r.Register("resize-image", func(context.Context, map[string]any) error { return nil })
		})

		m := runMsg("resize-image")
		if err := f.b.Publish(context.Background(), m); err != nil {
			t.Fatalf("publish: %v", err)
		}
		waitFor(t, func() bool {
			_, ok := findMsg(f.sink.all(), func(v contract.JobAttemptCompleted) bool {
				return v.AttemptID == m.AttemptID
			})
			return ok
		})

		err := f.b.Publish(context.Background(), contract.CheckJobStatus{
			AttemptID:      m.AttemptID,
			ServiceAddress: "10.0.0.9:9000",
		})
		if err != nil {
			t.Fatalf("publish check: %v", err)
		}

		waitFor(t, func() bool {
			resp, ok := findMsg(f.sink.all(), func(v contract.JobStatusResponse) bool {
				return v.AttemptID == m.AttemptID
			})
			return ok && resp.Status == contract.StatusCompleted
		})
	})

	t.Run("answers faulted for an unknown attempt", func(t *testing.T) {
		f := newFixture(t, nil)

		unknown := id.NewAttemptID()
		err := f.b.Publish(context.Background(), contract.CheckJobStatus{
			AttemptID:      unknown,
			ServiceAddress: "10.0.0.9:9000",
		})
		if err != nil {
			t.Fatalf("publish check: %v", err)
		}

		waitFor(t, func() bool {
			resp, ok := findMsg(f.sink.all(), func(v contract.JobStatusResponse) bool {
				return v.AttemptID == unknown
			})
			return ok && resp.Status == contract.StatusFaulted && resp.Reason == "attempt unknown to worker"
		})
	})
}

func TestAgentHeartbeats(t *testing.T) {
	t.Run("announces its job types", func(t *testing.T) {
		f := newFixture(t, func(r *worker.Registry) {
			r.Register("resize-image", func(context.Context, map[string]any) error { return nil })
			r.Register("encode-video", func(context.Context, map[string]any) error { return nil })
		})

		waitFor(t, func() bool {
			_, a := findMsg(f.sink.all(), func(v contract.WorkerInstanceHeartbeat) bool {
				return v.JobType == "resize-image" && v.ServiceAddress == "10.0.0.9:9000"
			})
			_, b := findMsg(f.sink.all(), func(v contract.WorkerInstanceHeartbeat) bool {
				return v.JobType == "encode-video"
			})
			return a && b
		})
	})

	t.Run("heartbeats a running attempt", func(t *testing.T) {
		release := make(chan struct{})
		f := newFixture(t, func(r *worker.Registry) {
			r.Register("long-job", func(ctx context.Context, _ map[string]any) error {
				select {
				case <-release:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
		})
		defer close(release)

		m := runMsg("long-job")
		if err := f.b.Publish(context.Background(), m); err != nil {
			t.Fatalf("publish: %v", err)
		}

		waitFor(t, func() bool {
			_, ok := findMsg(f.sink.all(), func(v contract.JobAttemptHeartbeat) bool {
				return v.AttemptID == m.AttemptID
			})
			return ok
		})
	})
}
