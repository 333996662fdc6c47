package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Func is one polling invocation.
type Func func(ctx context.Context) error

// Handle repeatedly invokes a Func on a fixed interval. Invocations run on a
// single goroutine and never overlap; ticks that fire while one is running
// are dropped.
type Handle struct {
	fn     Func
	log    *zap.Logger
	onTick func(error)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option customizes a Handle.
type Option func(*Handle)

// WithTickHook is called after every invocation with its result.
func WithTickHook(hook func(error)) Option {
	return func(h *Handle) { h.onTick = hook }
}

// New returns a stopped handle for fn.
func New(fn Func, log *zap.Logger, opts ...Option) *Handle {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handle{fn: fn, log: log}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start creates a handle and starts it.
func Start(ctx context.Context, fn Func, interval time.Duration, enabled bool, log *zap.Logger, opts ...Option) *Handle {
	h := New(fn, log, opts...)
	h.Reset(ctx, interval, enabled)
	return h
}

// Reset stops any running loop and, when enabled with a positive interval,
// starts a new one that fires immediately and then every interval until ctx
// ends or Stop is called.
func (h *Handle) Reset(ctx context.Context, interval time.Duration, enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopLocked()
	if !enabled || interval <= 0 {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	h.cancel, h.done = cancel, done
	go h.run(loopCtx, interval, done)
}

// Stop ends the loop. When it returns no invocation is running and none will
// start. It must not be called from inside the polled Func.
func (h *Handle) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopLocked()
}

// Running reports whether a loop is active.
func (h *Handle) Running() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *Handle) stopLocked() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	<-h.done
	h.cancel, h.done = nil, nil
}

func (h *Handle) run(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	h.invoke(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			h.invoke(ctx)
		}
	}
}

func (h *Handle) invoke(ctx context.Context) {
	err := h.call(ctx)
	if err != nil && ctx.Err() == nil {
		h.log.Warn("polling invocation failed", zap.Error(err))
	}
	if h.onTick != nil {
		h.onTick(err)
	}
}

func (h *Handle) call(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("polling invocation panicked: %v", r)
		}
	}()
	return h.fn(ctx)
}
