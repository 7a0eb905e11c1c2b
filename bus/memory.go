package bus

import (
	"context"
	"log/slog"
	"sync"
)

// InMemory is a process-local Bus. Messages are buffered on a channel and
// dispatched by a fixed pool of goroutines, so the number of protocol
// events applied concurrently is bounded by the configured concurrency.
type InMemory struct {
	logger      *slog.Logger
	concurrency int
	bufferSize  int
	maxAttempts int

	ch     chan envelope
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
	closed  bool

	subMu  sync.RWMutex
	subs   map[int]Handler
	nextID int
}

type envelope struct {
	msg any
}

// MemoryOption configures an InMemory bus.
type MemoryOption func(*InMemory)

// WithConcurrency sets the number of dispatch goroutines.
func WithConcurrency(n int) MemoryOption {
	return func(b *InMemory) { b.concurrency = n }
}

// WithBufferSize sets the publish buffer capacity.
func WithBufferSize(n int) MemoryOption {
	return func(b *InMemory) { b.bufferSize = n }
}

// WithMaxDeliveryAttempts sets how many times a failing handler is retried
// per message before the delivery is abandoned.
func WithMaxDeliveryAttempts(n int) MemoryOption {
	return func(b *InMemory) { b.maxAttempts = n }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) MemoryOption {
	return func(b *InMemory) { b.logger = l }
}

// NewInMemory creates an in-memory bus.
func NewInMemory(opts ...MemoryOption) *InMemory {
	b := &InMemory{
		logger:      slog.Default(),
		concurrency: 16,
		bufferSize:  1024,
		maxAttempts: 3,
		stopCh:      make(chan struct{}),
		subs:        make(map[int]Handler),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.ch = make(chan envelope, b.bufferSize)
	return b
}

// SetConcurrency resizes the dispatch pool. It has no effect once the bus
// has started.
func (b *InMemory) SetConcurrency(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running || n <= 0 {
		return
	}
	b.concurrency = n
}

// Concurrency reports the dispatch pool size.
func (b *InMemory) Concurrency() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.concurrency
}

// Publish enqueues a message for dispatch. Messages published before Start
// are buffered and dispatched once the bus starts.
func (b *InMemory) Publish(ctx context.Context, msg any) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.mu.Unlock()

	select {
	case b.ch <- envelope{msg: msg}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers a handler for every message. The returned function
// removes the subscription.
func (b *InMemory) Subscribe(h Handler) func() {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	id := b.nextID
	b.nextID++
	b.subs[id] = h

	return func() {
		b.subMu.Lock()
		defer b.subMu.Unlock()
		delete(b.subs, id)
	}
}

// Start launches the dispatch goroutines. It returns immediately.
func (b *InMemory) Start(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running || b.closed {
		return nil
	}
	b.running = true

	b.logger.Debug("bus starting", slog.Int("concurrency", b.concurrency))

	for range b.concurrency {
		b.wg.Add(1)
		go b.dispatchLoop()
	}
	return nil
}

// Stop closes the bus and waits for in-flight dispatches to finish, or
// until ctx expires.
func (b *InMemory) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	close(b.stopCh)

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *InMemory) dispatchLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.stopCh:
			// Drain anything already buffered before exiting.
			for {
				select {
				case env := <-b.ch:
					b.dispatch(env.msg)
				default:
					return
				}
			}
		case env := <-b.ch:
			b.dispatch(env.msg)
		}
	}
}

// dispatch fans the message out to every subscriber. A failing handler is
// retried in place up to the delivery attempt limit; exhaustion is logged
// and the delivery abandoned so one bad handler cannot wedge the bus.
func (b *InMemory) dispatch(msg any) {
	b.subMu.RLock()
	handlers := make([]Handler, 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.subMu.RUnlock()

	ctx := context.Background()
	for _, h := range handlers {
		var err error
		for attempt := 1; attempt <= b.maxAttempts; attempt++ {
			if err = h(ctx, msg); err == nil {
				break
			}
		}
		if err != nil {
			b.logger.Error("message delivery abandoned",
				slog.String("message", msgKind(msg)),
				slog.Int("attempts", b.maxAttempts),
				slog.Any("error", err),
			)
		}
	}
}
