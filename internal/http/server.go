package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"shardfs/pkg/cluster"
	"shardfs/pkg/vpath"
)

const (
	contentTypeJSON        = "application/json"
	defaultShutdownTimeout = time.Second * 5
)

// iNodeSource - источник списка живых нод (ZooKeeper)
type iNodeSource interface {
	Nodes() []cluster.NodeInfo
}

type iLister interface {
	List(ctx context.Context, dir string) ([]string, error)
}

type Options struct {
	// Routes is the route table shown by /api/routes.
	Routes  []vpath.Route
	Nodes   iNodeSource
	Lister  iLister
	Metrics http.Handler
}

// Server is the admin HTTP endpoint of a router or a storage node.
type Server struct {
	opts       Options
	httpServer *http.Server
	URL        string
	addr       string
}

func NewServer(addr string, opts Options) *Server {
	return &Server{opts: opts, addr: addr}
}

// Start listens synchronously, so a busy port is reported here, and
// serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	s.URL = "http://" + ln.Addr().String()
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("HTTP server started", "addr", s.URL)
	return nil
}

func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

// Handler builds chi router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}
	r.Route("/api", func(r chi.Router) {
		r.Get("/routes", s.handleRoutes)
		r.Get("/nodes", s.handleNodes)
		if s.opts.Lister != nil {
			r.Get("/list", s.handleList)
		}
	})
	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("Error encoding response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, NewOKResponse())
}

type routeView struct {
	Ext    string `json:"ext"`
	Node   string `json:"node"`
	Marker string `json:"marker"`
	Addr   string `json:"addr,omitempty"`
	Local  bool   `json:"local,omitempty"`
}

func (s *Server) handleRoutes(w http.ResponseWriter, _ *http.Request) {
	views := make([]routeView, 0, len(s.opts.Routes))
	for _, r := range s.opts.Routes {
		views = append(views, routeView{Ext: r.Ext, Node: r.Node, Marker: r.Marker, Addr: r.Addr, Local: r.Local})
	}
	s.writeJSON(w, http.StatusOK, NewDataResponse(views))
}

func (s *Server) handleNodes(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Nodes == nil {
		s.writeJSON(w, http.StatusNotFound, NewErrorResponse("membership is not configured"))
		return
	}
	s.writeJSON(w, http.StatusOK, NewDataResponse(s.opts.Nodes.Nodes()))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	dir := r.URL.Query().Get("path")
	if dir == "" {
		s.writeJSON(w, http.StatusBadRequest, NewErrorResponse("Missing path"))
		return
	}

	names, err := s.opts.Lister.List(r.Context(), dir)
	if err != nil {
		status, resp := NewFailureResponse(err)
		s.writeJSON(w, status, resp)
		return
	}
	if names == nil {
		names = []string{}
	}
	s.writeJSON(w, http.StatusOK, NewDataResponse(names))
}
