// Package session serves client connections on the router: it reads
// command lines, runs them through a Dispatcher and writes the replies.
package session

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"shardfs/pkg/fserrors"
	"shardfs/pkg/metrics"
	"shardfs/pkg/wire"
)

// Dispatcher executes client operations. *cluster.Router implements it.
type Dispatcher interface {
	Store(ctx context.Context, destDir, name string, content []byte) (string, error)
	Fetch(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) (string, error)
	Archive(ctx context.Context, fileType string) ([]byte, error)
	List(ctx context.Context, dir string) ([]string, error)
}

type Options struct {
	Logger     *slog.Logger
	Metrics    metrics.Collector
	MaxContent int64
}

// Server accepts client connections and runs one session per connection.
type Server struct {
	d    Dispatcher
	opts Options
	log  *slog.Logger

	mu       sync.Mutex
	acceptor *Acceptor
	closed   bool
}

func NewServer(d Dispatcher, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	if opts.MaxContent <= 0 {
		opts.MaxContent = wire.DefaultMaxContent
	}
	return &Server{d: d, opts: opts, log: opts.Logger.With("component", "session")}
}

// Serve blocks until Close.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.acceptor = NewAcceptor(ln, s.ServeConn, s.log)
	acc := s.acceptor
	s.mu.Unlock()
	return acc.Serve()
}

// Close stops accepting and ends every open session.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	acc := s.acceptor
	s.mu.Unlock()
	if acc == nil {
		return nil
	}
	return acc.Close()
}

// ServeConn runs one session until the client leaves, sends terminate, or
// the stream can no longer be trusted.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := s.log.With("session", uuid.NewString(), "remote", conn.RemoteAddr().String())
	log.Info("session started")
	s.opts.Metrics.SessionOpened()
	defer func() {
		s.opts.Metrics.SessionClosed()
		log.Info("session ended")
	}()

	br := bufio.NewReader(conn)
	r := wire.NewReader(br)
	r.MaxContent = s.opts.MaxContent
	w := wire.NewWriter(conn)

	for {
		line, err := wire.ReadCommand(br)
		if err != nil {
			if errors.Is(err, fserrors.ErrProtocol) {
				_ = wire.WriteClientFailure(w, fserrors.AsFailure(err))
			} else if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				log.Warn("read command failed", "err", err)
			}
			return
		}

		cmd, err := ParseCommand(line)
		if err != nil {
			log.Info("command rejected", "line", line, "err", err)
			if werr := wire.WriteClientFailure(w, fserrors.AsFailure(err)); werr != nil {
				return
			}
			continue
		}
		switch cmd.Verb {
		case "":
			continue
		case VerbTerminate:
			log.Debug("terminate requested")
			return
		}

		var content []byte
		if cmd.Verb == VerbStore {
			// the upload must arrive whole before anything is stored
			if content, err = r.Content(); err != nil {
				log.Warn("upload failed", "cmd", cmd.String(), "err", err)
				if errors.Is(err, fserrors.ErrProtocol) {
					_ = wire.WriteClientFailure(w, fserrors.AsFailure(err))
				}
				return
			}
		}

		stop := watchClose(conn, br, cancel)
		err = s.exec(ctx, cmd, content, w, log)
		stop()
		if err != nil {
			log.Warn("write reply failed", "cmd", cmd.String(), "err", err)
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// exec runs cmd and writes its reply. Only a failed reply write is
// returned; operation failures go to the client.
func (s *Server) exec(ctx context.Context, cmd Command, content []byte, w *wire.Writer, log *slog.Logger) error {
	start := time.Now()
	var err error
	defer func() {
		s.opts.Metrics.ObserveOp("session", string(cmd.Verb), "all", err, time.Since(start))
		if err != nil {
			log.Info("command failed", "cmd", cmd.String(), "err", err)
		} else {
			log.Debug("command done", "cmd", cmd.String(), "took", time.Since(start))
		}
	}()

	switch cmd.Verb {
	case VerbStore:
		var msg string
		if msg, err = s.d.Store(ctx, cmd.Args[1], cmd.Args[0], content); err == nil {
			return wire.WriteClientMessage(w, msg)
		}
	case VerbFetch:
		var out []byte
		if out, err = s.d.Fetch(ctx, cmd.Args[0]); err == nil {
			return wire.WriteClientContent(w, out)
		}
	case VerbDelete:
		var msg string
		if msg, err = s.d.Delete(ctx, cmd.Args[0]); err == nil {
			return wire.WriteClientMessage(w, msg)
		}
	case VerbArchive:
		var out []byte
		if out, err = s.d.Archive(ctx, cmd.Args[0]); err == nil {
			return wire.WriteClientContent(w, out)
		}
	case VerbList:
		var names []string
		if names, err = s.d.List(ctx, cmd.Args[0]); err == nil {
			return wire.WriteClientList(w, names)
		}
	default:
		err = fserrors.Fail(fserrors.KindUnknownCommand, "Unknown command")
	}
	return wire.WriteClientFailure(w, fserrors.AsFailure(err))
}

// watchClose cancels the session when the connection breaks while a
// command is running. A clean EOF is only a half-close: the client may
// still be waiting for the reply, so the command runs on and a failed
// reply write ends the session. Bytes the client sends meanwhile stay
// buffered in br. The returned func must be called before br is read again.
func watchClose(conn net.Conn, br *bufio.Reader, cancel context.CancelFunc) (stop func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := br.Peek(1)
		var ne net.Error
		switch {
		case err == nil, errors.Is(err, io.EOF):
		case errors.As(err, &ne) && ne.Timeout():
		default:
			cancel()
		}
	}()
	return func() {
		_ = conn.SetReadDeadline(time.Now())
		<-done
		_ = conn.SetReadDeadline(time.Time{})
	}
}
