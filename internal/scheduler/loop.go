// Package scheduler provides the single-consumer event loop at the heart of
// the device: a small set of event flags for latency-sensitive work plus a
// FIFO queue of closures for everything else.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
)

// Flag is one latency-sensitive event category. Raising a flag that is
// already set coalesces into a single handler invocation.
type Flag uint8

const (
	FlagError Flag = 1 << iota
	FlagSendAudio
	FlagWakeWord
	FlagVADChange

	flagSchedule
)

// Handlers holds the per-flag callbacks. All of them run on the consumer
// goroutine. Nil handlers are skipped.
type Handlers struct {
	OnError     func()
	OnSendAudio func()
	OnWakeWord  func()
	OnVADChange func()
}

// Loop is the event loop. Producers call Schedule and Raise from any
// goroutine; exactly one goroutine runs Run.
type Loop struct {
	handlers Handlers
	log      *slog.Logger

	mu    sync.Mutex
	flags Flag
	tasks []func()
	wake  chan struct{}
}

func New(handlers Handlers, log *slog.Logger) *Loop {
	if log == nil {
		log = slog.Default()
	}
	return &Loop{
		handlers: handlers,
		log:      log,
		wake:     make(chan struct{}, 1),
	}
}

// Schedule queues a closure for the consumer. It never blocks and never
// runs the closure inline, regardless of the calling goroutine.
func (l *Loop) Schedule(task func()) {
	l.mu.Lock()
	l.tasks = append(l.tasks, task)
	l.flags |= flagSchedule
	l.mu.Unlock()
	l.poke()
}

// Raise sets one or more event flags.
func (l *Loop) Raise(flags Flag) {
	l.mu.Lock()
	l.flags |= flags
	l.mu.Unlock()
	l.poke()
}

func (l *Loop) poke() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run consumes events until ctx is cancelled. Each wake-up swaps out the
// pending flags and the whole task batch under one lock, then dispatches:
// error first, then audio send, wake word, voice activity, and finally the
// scheduled closures in FIFO order. Closures scheduled while a batch drains
// run on the next wake-up.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}

		l.mu.Lock()
		flags := l.flags
		l.flags = 0
		var tasks []func()
		if flags&flagSchedule != 0 {
			tasks = l.tasks
			l.tasks = nil
		}
		l.mu.Unlock()

		if flags&FlagError != 0 {
			l.dispatch(l.handlers.OnError)
		}
		if flags&FlagSendAudio != 0 {
			l.dispatch(l.handlers.OnSendAudio)
		}
		if flags&FlagWakeWord != 0 {
			l.dispatch(l.handlers.OnWakeWord)
		}
		if flags&FlagVADChange != 0 {
			l.dispatch(l.handlers.OnVADChange)
		}
		for _, task := range tasks {
			l.dispatch(task)
		}
	}
}

func (l *Loop) dispatch(fn func()) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("event loop task panicked", "panic", r)
		}
	}()
	fn()
}
