package cluster

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zhangyunhao116/skipmap"
	"golang.org/x/sync/errgroup"

	"shardfs/pkg/fserrors"
	"shardfs/pkg/localstore"
	"shardfs/pkg/metrics"
	"shardfs/pkg/vpath"
)

// maxListingSources bounds concurrent List calls of one listing.
const maxListingSources = 16

// Entry is one listed file.
type Entry struct {
	Name string
	Ext  string
}

// Liveness reports whether a storage node is known to be up. Nodes it
// reports as down are skipped by listings.
type Liveness interface {
	Alive(node string) bool
}

// entryKey orders listings by extension rank, then by name.
type entryKey struct {
	rank int
	name string
}

func lessEntry(a, b entryKey) bool {
	if a.rank != b.rank {
		return a.rank < b.rank
	}
	return a.name < b.name
}

// Aggregator merges one directory listing from every route.
type Aggregator struct {
	resolver  *vpath.Resolver
	local     localstore.Store
	newClient ClientFactory
	liveness  Liveness

	log     *slog.Logger
	metrics metrics.Collector
}

// Aggregate lists dir on the local store and on every storage node
// concurrently. A source that fails on its own contributes nothing. When
// ctx ends before every source has answered the listing is incomplete and
// Aggregate fails with TransportFailure instead.
func (a *Aggregator) Aggregate(ctx context.Context, dir string) ([]Entry, error) {
	p, err := a.resolver.ResolveDir(dir)
	if err != nil {
		return nil, err
	}

	table := a.resolver.Table()
	merged := skipmap.NewFunc[entryKey, Entry](lessEntry)

	// ошибку группе отдаёт только отмена вызывающего, она же гасит остальные источники
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxListingSources)
	for _, route := range table.Routes() {
		route := route
		rank := table.Rank(route.Ext)
		g.Go(func() error {
			names, err := a.listSource(gctx, route, p)
			if err != nil {
				if ctx.Err() != nil {
					return fmt.Errorf("%w: list %s: %w", fserrors.ErrTransport, dir, ctx.Err())
				}
				a.log.Warn("listing source failed", "node", route.Node, "dir", dir, "err", err)
				a.metrics.SourceFailed(route.Node)
				return nil
			}
			for _, name := range names {
				merged.Store(entryKey{rank: rank, name: name}, Entry{Name: name, Ext: route.Ext})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: list %s: %w", fserrors.ErrTransport, dir, err)
	}

	entries := make([]Entry, 0, merged.Len())
	merged.Range(func(_ entryKey, e Entry) bool {
		entries = append(entries, e)
		return true
	})
	return entries, nil
}

func (a *Aggregator) listSource(ctx context.Context, route vpath.Route, dir vpath.VirtualPath) ([]string, error) {
	if route.Local {
		return a.local.List(dir.Rel(), route.Ext)
	}
	if a.liveness != nil && !a.liveness.Alive(route.Node) {
		a.log.Debug("skipping dead node", "node", route.Node)
		return nil, nil
	}
	cl, err := a.newClient(route)
	if err != nil {
		return nil, err
	}
	return cl.List(ctx, dir.Rewrite(route.Marker).String())
}
