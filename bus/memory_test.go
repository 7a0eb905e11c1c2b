package bus_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quorumhq/steward/bus"
)

func TestInMemory_PublishSubscribe(t *testing.T) {
	b := bus.NewInMemory(bus.WithConcurrency(2))
	ctx := context.Background()

	var mu sync.Mutex
	var got []string
	b.Subscribe(func(_ context.Context, msg any) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, msg.(string))
		return nil
	})

	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Stop(ctx)

	if err := b.Publish(ctx, "hello"); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0] == "hello"
	})
}

func TestInMemory_FanOut(t *testing.T) {
	b := bus.NewInMemory()
	ctx := context.Background()

	var a, c atomic.Int64
	b.Subscribe(func(context.Context, any) error { a.Add(1); return nil })
	b.Subscribe(func(context.Context, any) error { c.Add(1); return nil })

	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Stop(ctx)

	if err := b.Publish(ctx, 42); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitFor(t, func() bool { return a.Load() == 1 && c.Load() == 1 })
}

func TestInMemory_BufferedBeforeStart(t *testing.T) {
	b := bus.NewInMemory()
	ctx := context.Background()

	var n atomic.Int64
	b.Subscribe(func(context.Context, any) error { n.Add(1); return nil })

	// Publish before Start: the message buffers.
	if err := b.Publish(ctx, "early"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if n.Load() != 0 {
		t.Fatal("message dispatched before Start")
	}

	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Stop(ctx)

	waitFor(t, func() bool { return n.Load() == 1 })
}

func TestInMemory_RetryBounded(t *testing.T) {
	b := bus.NewInMemory(bus.WithMaxDeliveryAttempts(3))
	ctx := context.Background()

	var calls atomic.Int64
	b.Subscribe(func(context.Context, any) error {
		calls.Add(1)
		return errors.New("boom")
	})

	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Stop(ctx)

	if err := b.Publish(ctx, "x"); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitFor(t, func() bool { return calls.Load() == 3 })

	// No further attempts after exhaustion.
	time.Sleep(50 * time.Millisecond)
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestInMemory_Unsubscribe(t *testing.T) {
	b := bus.NewInMemory()
	ctx := context.Background()

	var n atomic.Int64
	unsub := b.Subscribe(func(context.Context, any) error { n.Add(1); return nil })

	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Stop(ctx)

	if err := b.Publish(ctx, 1); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	waitFor(t, func() bool { return n.Load() == 1 })

	unsub()
	if err := b.Publish(ctx, 2); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if n.Load() != 1 {
		t.Errorf("handler called after unsubscribe: %d", n.Load())
	}
}

func TestInMemory_PublishAfterStop(t *testing.T) {
	b := bus.NewInMemory()
	ctx := context.Background()

	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := b.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if err := b.Publish(ctx, "late"); !errors.Is(err, bus.ErrClosed) {
		t.Errorf("Publish after Stop = %v, want ErrClosed", err)
	}
}

func TestInMemory_StopDrainsBuffered(t *testing.T) {
	b := bus.NewInMemory(bus.WithConcurrency(1))
	ctx := context.Background()

	var n atomic.Int64
	b.Subscribe(func(context.Context, any) error { n.Add(1); return nil })

	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := range 10 {
		if err := b.Publish(ctx, i); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	if err := b.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if n.Load() != 10 {
		t.Errorf("dispatched = %d, want 10", n.Load())
	}
}

func TestInMemory_SetConcurrency(t *testing.T) {
	b := bus.NewInMemory(bus.WithConcurrency(2))

	b.SetConcurrency(8)
	if got := b.Concurrency(); got != 8 {
		t.Fatalf("Concurrency = %d, want 8", got)
	}
	b.SetConcurrency(0)
	if got := b.Concurrency(); got != 8 {
		t.Fatalf("Concurrency after SetConcurrency(0) = %d, want 8", got)
	}

	ctx := context.Background()
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Stop(ctx)

	// The pool is fixed once running.
	b.SetConcurrency(32)
	if got := b.Concurrency(); got != 8 {
		t.Errorf("Concurrency after Start = %d, want 8", got)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
