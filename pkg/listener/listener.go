// Package listener drains a channel into a handler on its own goroutine.
package listener

import (
	"context"
	"log/slog"
	"sync"
)

// Listener hands every value received on in to handler, one at a time.
// Handler errors are logged and the loop keeps going; it ends when ctx is
// done, Stop is called or in is closed.
type Listener[T any] struct {
	handler     func(input T) error
	stopHandler func()
	log         *slog.Logger

	in     <-chan T
	wg     sync.WaitGroup
	mu     sync.Mutex
	cancel context.CancelFunc
}

func New[T any](
	in <-chan T,
	handler func(T) error,
	stopHandler ...func(),
) *Listener[T] {
	stop := func() {}
	if len(stopHandler) > 0 && stopHandler[0] != nil {
		stop = stopHandler[0]
	}

	return &Listener[T]{
		in:          in,
		handler:     handler,
		stopHandler: stop,
		log:         slog.Default(),
	}
}

// WithLogger sets the logger handler errors go to.
func (l *Listener[T]) WithLogger(log *slog.Logger) *Listener[T] {
	if log != nil {
		l.log = log
	}
	return l
}

func (l *Listener[T]) Start(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return
	}
	ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)

	go func() {
		defer l.wg.Done()
		for l.next(ctx) {
		}
	}()
}

// next handles one value; false means the loop is over.
func (l *Listener[T]) next(ctx context.Context) bool {
	select {
	case inp, ok := <-l.in:
		if !ok {
			return false
		}
		if err := l.handler(inp); err != nil {
			l.log.Warn("listener: failed to handle input", "err", err)
		}
		return true
	case <-ctx.Done():
		return false
	}
}

// Stop cancels the loop, waits for it and runs the stop handler once.
func (l *Listener[T]) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	l.cancel = func() {}
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	l.wg.Wait()
	if l.stopHandler != nil {
		l.stopHandler()
		l.stopHandler = nil
	}
}
