// Package nodeserver is the storage node side of the router <-> node
// protocol: one request per connection, served from a local store.
package nodeserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"shardfs/internal/session"
	"shardfs/pkg/fserrors"
	"shardfs/pkg/localstore"
	"shardfs/pkg/metrics"
	"shardfs/pkg/vpath"
	"shardfs/pkg/wire"
)

const (
	msgStored  = "File stored successfully"
	msgDeleted = "File deleted successfully"
)

type Options struct {
	Logger  *slog.Logger
	Metrics metrics.Collector
	// IOTimeout bounds reading the request and writing the reply.
	IOTimeout  time.Duration
	MaxContent int64
}

// Server owns exactly one route: its marker and its extension.
type Server struct {
	route vpath.Route
	store localstore.Store
	opts  Options
	log   *slog.Logger

	mu       sync.Mutex
	acceptor *session.Acceptor
	closed   bool
}

func New(route vpath.Route, store localstore.Store, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	if opts.IOTimeout <= 0 {
		opts.IOTimeout = 30 * time.Second
	}
	if opts.MaxContent <= 0 {
		opts.MaxContent = wire.DefaultMaxContent
	}
	return &Server{
		route: route,
		store: store,
		opts:  opts,
		log:   opts.Logger.With("node", route.Node, "ext", route.Ext),
	}
}

func (s *Server) Route() vpath.Route { return s.route }

// Serve blocks until Close.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.acceptor = session.NewAcceptor(ln, s.serveConn, s.log)
	acc := s.acceptor
	s.mu.Unlock()
	return acc.Serve()
}

func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

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

func (s *Server) serveConn(_ context.Context, conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(s.opts.IOTimeout))

	r := wire.NewReader(conn)
	r.MaxContent = s.opts.MaxContent
	w := wire.NewWriter(conn)

	req, err := wire.ReadRequest(r)
	if err != nil {
		s.log.Warn("bad request", "remote", conn.RemoteAddr().String(), "err", err)
		// framing is already lost on a transport error; a protocol error
		// still gets an answer
		if errors.Is(err, fserrors.ErrProtocol) {
			_ = wire.WriteFailure(w, fserrors.AsFailure(err))
		}
		return
	}

	start := time.Now()
	opErr := s.Handle(req, w)
	s.opts.Metrics.ObserveOp("node", req.Op.String(), s.route.Node, opErr, time.Since(start))

	if opErr != nil {
		s.log.Info("request failed", "op", req.Op.String(), "path", req.Path, "type", req.Type, "err", opErr)
		return
	}
	s.log.Debug("request served", "op", req.Op.String(), "path", req.Path, "type", req.Type)
}

// Handle executes one decoded request and writes its reply. The returned
// error is the operation's failure (already sent to the peer) or a write
// error.
func (s *Server) Handle(req wire.Request, w *wire.Writer) error {
	switch req.Op {
	case wire.OpStore:
		rel, err := s.localPath(req.Path)
		if err == nil {
			err = s.store.Write(rel, req.Content)
		}
		if err != nil {
			return s.fail(w, err)
		}
		s.opts.Metrics.AddBytes("in", len(req.Content))
		return wire.WriteMessage(w, msgStored)

	case wire.OpFetch:
		rel, err := s.localPath(req.Path)
		if err != nil {
			return s.fail(w, err)
		}
		content, err := s.store.Read(rel)
		if err != nil {
			return s.fail(w, err)
		}
		s.opts.Metrics.AddBytes("out", len(content))
		return wire.WriteContent(w, content)

	case wire.OpDelete:
		rel, err := s.localPath(req.Path)
		if err == nil {
			err = s.store.Delete(rel)
		}
		if err != nil {
			return s.fail(w, err)
		}
		return wire.WriteMessage(w, msgDeleted)

	case wire.OpArchive:
		if strings.TrimPrefix(req.Type, ".") != s.route.Ext {
			return s.fail(w, fserrors.Fail(fserrors.KindUnsupportedExtension, "Wrong filetype for this server"))
		}
		content, err := s.store.BuildArchive(s.route.Ext)
		if err != nil {
			return s.fail(w, err)
		}
		s.opts.Metrics.AddBytes("out", len(content))
		return wire.WriteContent(w, content)

	case wire.OpList:
		// list failures are reported as an empty listing
		dir, err := vpath.ParseDir(s.route.Marker, req.Path)
		if err != nil {
			s.log.Info("list rejected", "path", req.Path, "err", err)
			return wire.WriteList(w, nil)
		}
		names, err := s.store.List(dir.Rel(), s.route.Ext)
		if err != nil {
			s.log.Warn("list failed", "path", req.Path, "err", err)
			return wire.WriteList(w, nil)
		}
		return wire.WriteList(w, names)

	default:
		return s.fail(w, fserrors.Fail(fserrors.KindProtocol, "unknown operation %s", req.Op))
	}
}

// localPath checks that p is under this node's marker and carries this
// node's extension.
func (s *Server) localPath(p string) (string, error) {
	vp, err := vpath.Parse(s.route.Marker, p)
	if err != nil {
		return "", err
	}
	if vp.Ext() != s.route.Ext {
		return "", fserrors.Fail(fserrors.KindUnsupportedExtension, "Wrong filetype for this server")
	}
	return vp.Rel(), nil
}

func (s *Server) fail(w *wire.Writer, err error) error {
	f := fserrors.AsFailure(err)
	if werr := wire.WriteFailure(w, f); werr != nil {
		return werr
	}
	return f
}
