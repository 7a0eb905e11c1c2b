package steward

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

// slowBus blocks its Stop until the context expires, recording whether a
// deadline was imposed on it.
type slowBus struct {
	sawDeadline bool
}

func (b *slowBus) Start(context.Context) error { return nil }

func (b *slowBus) Stop(ctx context.Context) error {
	_, b.sawDeadline = ctx.Deadline()
	<-ctx.Done()
	return ctx.Err()
}

func TestCoordinatorStopHonorsShutdownTimeout(t *testing.T) {
	c, err := New(
		WithLogger(slog.New(slog.DiscardHandler)),
		WithShutdownTimeout(50*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b := &slowBus{}
	c.SetBus(b)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	begin := time.Now()
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !b.sawDeadline {
		t.Fatal("Stop should bound the bus shutdown with a deadline")
	}
	if elapsed := time.Since(begin); elapsed > time.Second {
		t.Fatalf("Stop took %v, want roughly the shutdown timeout", elapsed)
	}
}

func TestCoordinatorStopWithoutTimeoutKeepsCallerContext(t *testing.T) {
	c, err := New(
		WithLogger(slog.New(slog.DiscardHandler)),
		WithShutdownTimeout(0),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b := &slowBus{}
	c.SetBus(b)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !b.sawDeadline {
		t.Fatal("the caller's deadline should reach the bus")
	}
}
