package ncp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Loop runs posted callbacks one at a time on the goroutine that calls Run.
// Backends post signals, frames and alarms here so application handlers never
// run concurrently with each other.
type Loop struct {
	queue  chan func()
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

// NewLoop creates a loop whose queue holds up to size pending callbacks.
func NewLoop(size int, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		queue:  make(chan func(), size),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Post queues fn. It blocks while the queue is full and returns false if the
// loop has been stopped. Must not be called from inside a callback while the
// queue may be full; use PostAsync there.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.queue <- fn:
		return true
	case <-l.done:
		return false
	}
}

// PostAsync queues fn from a new goroutine.
func (l *Loop) PostAsync(fn func()) {
	go l.Post(fn)
}

// After queues fn once delay has elapsed. The timer cannot be cancelled.
func (l *Loop) After(delay time.Duration, fn func()) {
	time.AfterFunc(delay, func() { l.Post(fn) })
}

// Run executes callbacks until ctx is done or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case fn := <-l.queue:
			l.call(fn)
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		}
	}
}

func (l *Loop) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("stack loop callback panic", "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

// Stop makes Run return and rejects further posts.
func (l *Loop) Stop() {
	l.once.Do(func() { close(l.done) })
}
