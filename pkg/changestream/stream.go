package changestream

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Options tune a stream's observation loop and delivery queue.
type Options struct {
	// PollInterval is the polling adapter's tick period. Default 1s.
	PollInterval time.Duration
	// NextTimeout bounds how long Next waits for an event before
	// returning empty-handed. Default 1s.
	NextTimeout time.Duration
	// QueueSize bounds the internal event queue. Default 64.
	QueueSize int
	// Logger receives handler failures and per-tick errors. Defaults to
	// a no-op.
	Logger *zap.SugaredLogger
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.NextTimeout <= 0 {
		o.NextTimeout = time.Second
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
	return o
}

// core holds the machinery shared by both adapters: the bounded event
// queue, the handler list, and the background-task lifecycle.
type core struct {
	opts   Options
	queue  chan *Event
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	handlers     []Handler
	dispatchOnce sync.Once
	closed       bool
}

func newCore(opts Options) *core {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &core{
		opts:   opts,
		queue:  make(chan *Event, opts.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Watch registers a handler. The first registration starts the dispatch
// task; handlers run in registration order for every event.
func (c *core) Watch(h Handler) {
	c.mu.Lock()
	c.handlers = append(c.handlers, h)
	c.mu.Unlock()

	c.dispatchOnce.Do(func() {
		c.wg.Add(1)
		go c.dispatchLoop()
	})
}

func (c *core) dispatchLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.queue:
			c.dispatch(ev)
		}
	}
}

func (c *core) dispatch(ev *Event) {
	c.mu.Lock()
	handlers := make([]Handler, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	for _, h := range handlers {
		c.invoke(h, ev)
	}
}

// invoke runs one handler, isolating errors and panics so the stream
// keeps going.
func (c *core) invoke(h Handler, ev *Event) {
	defer func() {
		if r := recover(); r != nil {
			c.opts.Logger.Errorw("change stream handler panicked",
				"operation", ev.Operation, "key", ev.DocumentKey, "panic", r)
		}
	}()
	if err := h(c.ctx, ev); err != nil {
		c.opts.Logger.Errorw("change stream handler failed",
			"operation", ev.Operation, "key", ev.DocumentKey, "error", err)
	}
}

// Next returns the next queued event, or (nil, nil) when none arrives
// within the bounded wait. It never blocks indefinitely, so a concurrent
// Close is observed promptly.
func (c *core) Next(ctx context.Context) (*Event, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, nil
	}
	c.mu.Unlock()

	timer := time.NewTimer(c.opts.NextTimeout)
	defer timer.Stop()
	select {
	case ev := <-c.queue:
		return ev, nil
	case <-timer.C:
		return nil, nil
	case <-c.ctx.Done():
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// publish enqueues an event, giving up when the stream is cancelled.
func (c *core) publish(ev *Event) bool {
	select {
	case c.queue <- ev:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// close cancels the background tasks and waits for them to finish. It is
// idempotent.
func (c *core) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}
