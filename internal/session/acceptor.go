package session

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"
)

// ConnHandler serves one accepted connection. ctx is cancelled when the
// acceptor closes; the connection is closed after the handler returns.
type ConnHandler func(ctx context.Context, conn net.Conn)

// Acceptor runs one goroutine per connection and tracks them so Close can
// tear everything down.
type Acceptor struct {
	ln     net.Listener
	handle ConnHandler
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

func NewAcceptor(ln net.Listener, handle ConnHandler, log *slog.Logger) *Acceptor {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Acceptor{
		ln:     ln,
		handle: handle,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[net.Conn]struct{}),
	}
}

func (a *Acceptor) Addr() net.Addr { return a.ln.Addr() }

// Active is the number of live connections.
func (a *Acceptor) Active() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.conns)
}

// Serve accepts until Close. It returns nil after Close and the accept
// error otherwise.
func (a *Acceptor) Serve() error {
	a.log.Info("accepting connections", "addr", a.ln.Addr().String())

	var backoff time.Duration
	for {
		conn, err := a.ln.Accept()
		if err != nil {
			if a.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = nextBackoff(backoff)
				a.log.Warn("accept failed, retrying", "err", err, "backoff", backoff)
				time.Sleep(backoff)
				continue
			}
			return err
		}
		backoff = 0

		if !a.track(conn) {
			conn.Close()
			return nil
		}
		go a.serveConn(conn)
	}
}

func (a *Acceptor) serveConn(conn net.Conn) {
	defer a.wg.Done()
	defer a.untrack(conn)
	defer conn.Close()

	defer func() {
		if r := recover(); r != nil {
			a.log.Error("connection handler panicked", "remote", conn.RemoteAddr().String(), "panic", r)
		}
	}()

	a.handle(a.ctx, conn)
}

// Close stops accepting, closes every live connection and waits for the
// handlers to return.
func (a *Acceptor) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	err := a.ln.Close()
	for conn := range a.conns {
		conn.Close()
	}
	a.mu.Unlock()

	a.cancel()
	a.wg.Wait()
	return err
}

func (a *Acceptor) track(conn net.Conn) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return false
	}
	a.conns[conn] = struct{}{}
	a.wg.Add(1)
	return true
}

func (a *Acceptor) untrack(conn net.Conn) {
	a.mu.Lock()
	delete(a.conns, conn)
	a.mu.Unlock()
}

func (a *Acceptor) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > time.Second {
		d = time.Second
	}
	return d
}
