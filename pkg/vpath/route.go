package vpath

import (
	"errors"
	"fmt"
	"strings"

	"shardfs/pkg/fserrors"
)

// Route binds one file extension to the node that stores it.
type Route struct {
	Ext    string // without the dot: "pdf"
	Node   string // node name used in logs and metrics
	Marker string // node-private root marker: "~S2"
	Addr   string // host:port of the node; empty for the local route
	Local  bool
}

// Table is the immutable extension -> route mapping. Order matters: the
// local route comes first, the others keep their declared order. That order
// is the canonical listing order.
type Table struct {
	routes []Route
	byExt  map[string]int
}

// NewTable validates routes and builds the table.
func NewTable(routes []Route) (*Table, error) {
	if len(routes) == 0 {
		return nil, errors.New("route table is empty")
	}

	t := &Table{byExt: make(map[string]int, len(routes))}
	markers := make(map[string]struct{}, len(routes))
	var local *Route

	for i := range routes {
		r := routes[i]
		r.Ext = strings.TrimPrefix(r.Ext, ".")
		switch {
		case r.Ext == "" || strings.ContainsAny(r.Ext, "./"):
			return nil, fmt.Errorf("route %d: invalid extension %q", i, routes[i].Ext)
		case r.Marker == "" || strings.Contains(r.Marker, separator):
			return nil, fmt.Errorf("route %q: invalid root marker %q", r.Ext, r.Marker)
		case !r.Local && r.Addr == "":
			return nil, fmt.Errorf("route %q: remote route needs an address", r.Ext)
		}
		if _, dup := t.byExt[r.Ext]; dup {
			return nil, fmt.Errorf("route %q: duplicate extension", r.Ext)
		}
		if _, dup := markers[r.Marker]; dup {
			return nil, fmt.Errorf("route %q: duplicate root marker %q", r.Ext, r.Marker)
		}
		if r.Node == "" {
			r.Node = r.Ext
		}
		markers[r.Marker] = struct{}{}
		t.byExt[r.Ext] = -1

		if r.Local {
			if local != nil {
				return nil, fmt.Errorf("route %q: more than one local route", r.Ext)
			}
			local = &r
			continue
		}
		t.routes = append(t.routes, r)
	}
	if local == nil {
		return nil, errors.New("route table has no local route")
	}

	t.routes = append([]Route{*local}, t.routes...)
	for i, r := range t.routes {
		t.byExt[r.Ext] = i
	}
	return t, nil
}

// Lookup finds the route for an extension.
func (t *Table) Lookup(ext string) (Route, bool) {
	i, ok := t.byExt[ext]
	if !ok {
		return Route{}, false
	}
	return t.routes[i], true
}

// Local returns the router's own route.
func (t *Table) Local() Route {
	return t.routes[0]
}

// Routes returns all routes in canonical order.
func (t *Table) Routes() []Route {
	out := make([]Route, len(t.routes))
	copy(out, t.routes)
	return out
}

// Remote returns the non-local routes in declared order.
func (t *Table) Remote() []Route {
	return t.Routes()[1:]
}

// Rank is the position of ext in the canonical order; unknown extensions
// sort last.
func (t *Table) Rank(ext string) int {
	if i, ok := t.byExt[ext]; ok {
		return i
	}
	return len(t.routes)
}

// Resolver turns client paths into (owner, node-local path) pairs.
type Resolver struct {
	root  string
	table *Table
}

func NewResolver(root string, table *Table) *Resolver {
	return &Resolver{root: root, table: table}
}

// Root is the virtual root marker clients use.
func (r *Resolver) Root() string { return r.root }

// Table exposes the route table.
func (r *Resolver) Table() *Table { return r.table }

// Resolve maps a client file path to its owning route and the same path
// rewritten under the owner's root marker.
func (r *Resolver) Resolve(s string) (Route, VirtualPath, error) {
	p, err := Parse(r.root, s)
	if err != nil {
		return Route{}, VirtualPath{}, err
	}
	return r.ResolvePath(p)
}

// ResolvePath is Resolve for an already parsed virtual path.
func (r *Resolver) ResolvePath(p VirtualPath) (Route, VirtualPath, error) {
	route, ok := r.table.Lookup(p.Ext())
	if !ok {
		return Route{}, VirtualPath{}, fmt.Errorf("%w: .%s", fserrors.ErrUnsupportedExtension, p.Ext())
	}
	return route, p.Rewrite(route.Marker), nil
}

// ResolveDir parses a client directory path.
func (r *Resolver) ResolveDir(s string) (VirtualPath, error) {
	return ParseDir(r.root, s)
}

// RouteForType resolves an archive type given as "pdf" or ".pdf".
func (r *Resolver) RouteForType(t string) (Route, error) {
	ext := strings.TrimPrefix(t, ".")
	if ext == "" {
		return Route{}, fmt.Errorf("%w: empty file type", fserrors.ErrMalformedPath)
	}
	route, ok := r.table.Lookup(ext)
	if !ok {
		return Route{}, fmt.Errorf("%w: .%s", fserrors.ErrUnsupportedExtension, ext)
	}
	return route, nil
}
