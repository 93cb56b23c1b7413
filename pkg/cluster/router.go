package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"shardfs/pkg/localstore"
	"shardfs/pkg/metrics"
	"shardfs/pkg/nodelink"
	"shardfs/pkg/vpath"
)

const (
	MsgStored  = "File stored successfully"
	MsgDeleted = "File deleted successfully"
)

// удалённая нода хранения
type NodeLink interface {
	Store(ctx context.Context, path string, content []byte) (string, error)
	Fetch(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) (string, error)
	Archive(ctx context.Context, fileType string) ([]byte, error)
	List(ctx context.Context, dir string) ([]string, error)
}

// фабрика клиентов к нодам
type ClientFactory func(route vpath.Route) (NodeLink, error)

// LinkFactory opens protocol clients with the given options.
func LinkFactory(opts nodelink.Options) ClientFactory {
	return func(route vpath.Route) (NodeLink, error) {
		if route.Addr == "" {
			return nil, fmt.Errorf("route %q has no address", route.Ext)
		}
		return nodelink.New(route.Addr, opts), nil
	}
}

type Options struct {
	Logger   *slog.Logger
	Metrics  metrics.Collector
	Liveness Liveness
}

// Router serves every file operation: paths owned by the local route go to
// the local store, the rest to the owning storage node.
type Router struct {
	resolver  *vpath.Resolver
	local     localstore.Store
	newClient ClientFactory

	log     *slog.Logger
	metrics metrics.Collector
	agg     *Aggregator
}

func NewRouter(resolver *vpath.Resolver, local localstore.Store, newClient ClientFactory, opts Options) *Router {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	r := &Router{
		resolver:  resolver,
		local:     local,
		newClient: newClient,
		log:       opts.Logger.With("component", "router"),
		metrics:   opts.Metrics,
	}
	r.agg = &Aggregator{
		resolver:  resolver,
		local:     local,
		newClient: newClient,
		liveness:  opts.Liveness,
		log:       opts.Logger.With("component", "aggregator"),
		metrics:   opts.Metrics,
	}
	return r
}

func (r *Router) Resolver() *vpath.Resolver { return r.resolver }

func (r *Router) Aggregator() *Aggregator { return r.agg }

// track logs and measures one routed operation.
func (r *Router) track(op string, route vpath.Route, path string, start time.Time, err error) {
	where := "remote"
	if route.Local {
		where = "local"
	}
	r.metrics.ObserveOp("router", op, route.Node, err, time.Since(start))
	if err != nil {
		r.log.Info(op+" failed", "path", path, "node", route.Node, "where", where, "err", err)
		return
	}
	r.log.Debug(op, "path", path, "node", route.Node, "where", where)
}

func (r *Router) client(route vpath.Route) (NodeLink, error) {
	cl, err := r.newClient(route)
	if err != nil {
		return nil, fmt.Errorf("router: create client: %w", err)
	}
	return cl, nil
}

// Store writes content as name under the client directory destDir.
func (r *Router) Store(ctx context.Context, destDir, name string, content []byte) (msg string, err error) {
	dir, err := r.resolver.ResolveDir(destDir)
	if err != nil {
		return "", err
	}
	p, err := dir.Join(name)
	if err != nil {
		return "", err
	}
	route, target, err := r.resolver.ResolvePath(p)
	if err != nil {
		return "", err
	}

	start := time.Now()
	defer func() { r.track("store", route, p.String(), start, err) }()

	if route.Local {
		if err := r.local.Write(target.Rel(), content); err != nil {
			return "", err
		}
		r.metrics.AddBytes("in", len(content))
		return MsgStored, nil
	}

	cl, err := r.client(route)
	if err != nil {
		return "", err
	}
	msg, err = cl.Store(ctx, target.String(), content)
	if err == nil {
		r.metrics.AddBytes("in", len(content))
	}
	return msg, err
}

// Fetch returns the whole content of a file. Nothing is returned unless
// the content arrived complete.
func (r *Router) Fetch(ctx context.Context, path string) (content []byte, err error) {
	route, target, err := r.resolver.Resolve(path)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() { r.track("fetch", route, path, start, err) }()

	if route.Local {
		content, err = r.local.Read(target.Rel())
	} else {
		var cl NodeLink
		if cl, err = r.client(route); err != nil {
			return nil, err
		}
		content, err = cl.Fetch(ctx, target.String())
	}
	if err != nil {
		return nil, err
	}
	r.metrics.AddBytes("out", len(content))
	return content, nil
}

func (r *Router) Delete(ctx context.Context, path string) (msg string, err error) {
	route, target, err := r.resolver.Resolve(path)
	if err != nil {
		return "", err
	}

	start := time.Now()
	defer func() { r.track("delete", route, path, start, err) }()

	if route.Local {
		if err := r.local.Delete(target.Rel()); err != nil {
			return "", err
		}
		return MsgDeleted, nil
	}

	cl, err := r.client(route)
	if err != nil {
		return "", err
	}
	return cl.Delete(ctx, target.String())
}

// Archive builds a tar of every file of one type, locally or on the
// owning node.
func (r *Router) Archive(ctx context.Context, fileType string) (content []byte, err error) {
	route, err := r.resolver.RouteForType(fileType)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() { r.track("archive", route, "."+route.Ext, start, err) }()

	if route.Local {
		content, err = r.local.BuildArchive(route.Ext)
	} else {
		var cl NodeLink
		if cl, err = r.client(route); err != nil {
			return nil, err
		}
		content, err = cl.Archive(ctx, route.Ext)
	}
	if err != nil {
		return nil, err
	}
	r.metrics.AddBytes("out", len(content))
	return content, nil
}

// List returns the bare file names of a directory across every node, in
// canonical order.
func (r *Router) List(ctx context.Context, dir string) ([]string, error) {
	start := time.Now()
	entries, err := r.agg.Aggregate(ctx, dir)
	r.metrics.ObserveOp("router", "list", "all", err, time.Since(start))
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names, nil
}
