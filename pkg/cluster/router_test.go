package cluster

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"shardfs/pkg/fserrors"
	"shardfs/pkg/localstore"
	"shardfs/pkg/vpath"
)

// ====== фейки для нод хранения ======

// fakeNode хранит файлы одной ноды по node-local пути
type fakeNode struct {
	marker string
	store  *localstore.MemStore
	fail   bool
	delay  time.Duration
	// hang makes List wait until the caller gives up
	hang bool

	mu    sync.Mutex
	calls int
	paths []string
}

func newFakeNode(marker string) *fakeNode {
	return &fakeNode{marker: marker, store: localstore.NewMem()}
}

func (n *fakeNode) enter(path string) (string, error) {
	n.mu.Lock()
	n.calls++
	n.paths = append(n.paths, path)
	n.mu.Unlock()

	if n.delay > 0 {
		time.Sleep(n.delay)
	}
	if n.fail {
		return "", fmt.Errorf("%w: dial: connection refused", fserrors.ErrTransport)
	}
	p, err := vpath.ParseDir(n.marker, path)
	if err != nil {
		return "", err
	}
	return p.Rel(), nil
}

func (n *fakeNode) Store(_ context.Context, path string, content []byte) (string, error) {
	rel, err := n.enter(path)
	if err != nil {
		return "", err
	}
	if err := n.store.Write(rel, content); err != nil {
		return "", err
	}
	return MsgStored, nil
}

func (n *fakeNode) Fetch(_ context.Context, path string) ([]byte, error) {
	rel, err := n.enter(path)
	if err != nil {
		return nil, err
	}
	return n.store.Read(rel)
}

func (n *fakeNode) Delete(_ context.Context, path string) (string, error) {
	rel, err := n.enter(path)
	if err != nil {
		return "", err
	}
	if err := n.store.Delete(rel); err != nil {
		return "", err
	}
	return MsgDeleted, nil
}

func (n *fakeNode) Archive(_ context.Context, fileType string) ([]byte, error) {
	if _, err := n.enter(n.marker); err != nil {
		return nil, err
	}
	return n.store.BuildArchive(fileType)
}

func (n *fakeNode) List(ctx context.Context, dir string) ([]string, error) {
	if n.hang {
		n.enter(dir)
		<-ctx.Done()
		return nil, fmt.Errorf("%w: read: %w", fserrors.ErrTransport, ctx.Err())
	}
	rel, err := n.enter(dir)
	if err != nil {
		return nil, err
	}
	return n.store.List(rel, n.ext())
}

func (n *fakeNode) ext() string {
	switch n.marker {
	case "~S2":
		return "pdf"
	case "~S3":
		return "txt"
	default:
		return "zip"
	}
}

func (n *fakeNode) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

type testCluster struct {
	router *Router
	local  *localstore.MemStore
	nodes  map[string]*fakeNode
}

type liveSet map[string]bool

func (l liveSet) Alive(node string) bool { return l[node] }

func newTestCluster(t *testing.T, root string, liveness Liveness) *testCluster {
	t.Helper()
	table, err := vpath.NewTable([]vpath.Route{
		{Ext: "c", Node: "s1", Marker: root, Local: true},
		{Ext: "pdf", Node: "s2", Marker: "~S2", Addr: "s2:6055"},
		{Ext: "txt", Node: "s3", Marker: "~S3", Addr: "s3:6056"},
		{Ext: "zip", Node: "s4", Marker: "~S4", Addr: "s4:6057"},
	})
	require.NoError(t, err)

	tc := &testCluster{
		local: localstore.NewMem(),
		nodes: map[string]*fakeNode{
			"s2": newFakeNode("~S2"),
			"s3": newFakeNode("~S3"),
			"s4": newFakeNode("~S4"),
		},
	}
	factory := func(route vpath.Route) (NodeLink, error) {
		if n, ok := tc.nodes[route.Node]; ok {
			return n, nil
		}
		return nil, fmt.Errorf("unexpected node %s", route.Node)
	}
	tc.router = NewRouter(vpath.NewResolver(root, table), tc.local, factory, Options{Liveness: liveness})
	return tc
}

func (tc *testCluster) totalCalls() int {
	total := 0
	for _, n := range tc.nodes {
		total += n.callCount()
	}
	return total
}

func TestRouter_StoreRoutesToOwner(t *testing.T) {
	tc := newTestCluster(t, "root", nil)
	ctx := context.Background()
	content := []byte("%PDF-1.7\x00\x01")

	msg, err := tc.router.Store(ctx, "root/docs/", "report.pdf", content)
	require.NoError(t, err)
	require.Equal(t, MsgStored, msg)

	s2 := tc.nodes["s2"]
	require.Equal(t, []string{"~S2/docs/report.pdf"}, s2.paths)
	stored, err := s2.store.Read("docs/report.pdf")
	require.NoError(t, err)
	require.Equal(t, content, stored)

	got, err := tc.router.Fetch(ctx, "root/docs/report.pdf")
	require.NoError(t, err)
	require.Equal(t, content, got)
	require.Zero(t, tc.local.Len())
}

func TestRouter_LocalRoundTrip(t *testing.T) {
	tc := newTestCluster(t, "~S1", nil)
	ctx := context.Background()

	for _, content := range [][]byte{{}, []byte("int main(void) { return 0; }\x00")} {
		_, err := tc.router.Store(ctx, "~S1/src", "main.c", content)
		require.NoError(t, err)

		got, err := tc.router.Fetch(ctx, "~S1/src/main.c")
		require.NoError(t, err)
		require.Equal(t, len(content), len(got))
	}

	msg, err := tc.router.Delete(ctx, "~S1/src/main.c")
	require.NoError(t, err)
	require.Equal(t, MsgDeleted, msg)

	_, err = tc.router.Delete(ctx, "~S1/src/main.c")
	require.ErrorIs(t, err, fserrors.ErrNotFound)
	require.Zero(t, tc.totalCalls())
}

func TestRouter_RejectsBeforeAnyIO(t *testing.T) {
	tc := newTestCluster(t, "~S1", nil)
	ctx := context.Background()

	_, err := tc.router.Fetch(ctx, "~S1/docs/movie.mp4")
	require.ErrorIs(t, err, fserrors.ErrUnsupportedExtension)

	_, err = tc.router.Fetch(ctx, "~S1/docs/Makefile")
	require.ErrorIs(t, err, fserrors.ErrMalformedPath)

	_, err = tc.router.Delete(ctx, "~S1/../etc/passwd.txt")
	require.ErrorIs(t, err, fserrors.ErrMalformedPath)

	_, err = tc.router.Store(ctx, "~S1/docs", "noext", []byte("x"))
	require.ErrorIs(t, err, fserrors.ErrMalformedPath)

	_, err = tc.router.Archive(ctx, "exe")
	require.ErrorIs(t, err, fserrors.ErrUnsupportedExtension)

	_, err = tc.router.List(ctx, "/elsewhere/")
	require.ErrorIs(t, err, fserrors.ErrMalformedPath)

	require.Zero(t, tc.totalCalls())
	require.Zero(t, tc.local.Len())
}

func TestRouter_FetchMissingIsNotFound(t *testing.T) {
	tc := newTestCluster(t, "root", nil)

	content, err := tc.router.Fetch(context.Background(), "root/missing.txt")
	require.ErrorIs(t, err, fserrors.ErrNotFound)
	require.Nil(t, content)
	require.Equal(t, []string{"~S3/missing.txt"}, tc.nodes["s3"].paths)
}

func TestRouter_TransportFailureSurfaces(t *testing.T) {
	tc := newTestCluster(t, "~S1", nil)
	tc.nodes["s4"].fail = true

	_, err := tc.router.Fetch(context.Background(), "~S1/a.zip")
	require.ErrorIs(t, err, fserrors.ErrTransport)
}

func TestRouter_Archive(t *testing.T) {
	tc := newTestCluster(t, "~S1", nil)
	ctx := context.Background()

	_, err := tc.router.Archive(ctx, "c")
	require.ErrorIs(t, err, fserrors.ErrNotFound)

	require.NoError(t, tc.local.Write("a.c", []byte("A")))
	raw, err := tc.router.Archive(ctx, ".c")
	require.NoError(t, err)
	require.NotEmpty(t, raw)
	require.Zero(t, tc.totalCalls())

	require.NoError(t, tc.nodes["s2"].store.Write("x.pdf", []byte("X")))
	raw, err = tc.router.Archive(ctx, "pdf")
	require.NoError(t, err)
	require.NotEmpty(t, raw)
	require.Equal(t, 1, tc.nodes["s2"].callCount())
}

func TestAggregate_CanonicalOrder(t *testing.T) {
	tc := newTestCluster(t, "root", nil)
	require.NoError(t, tc.local.Write("a.c", nil))
	require.NoError(t, tc.nodes["s2"].store.Write("b.pdf", nil))
	require.NoError(t, tc.nodes["s3"].store.Write("a.txt", nil))

	names, err := tc.router.List(context.Background(), "root/")
	require.NoError(t, err)
	require.Equal(t, []string{"a.c", "b.pdf", "a.txt"}, names)

	// every remote node was asked for the same logical directory
	require.Equal(t, []string{"~S2/"}, tc.nodes["s2"].paths)
	require.Equal(t, []string{"~S3/"}, tc.nodes["s3"].paths)
	require.Equal(t, []string{"~S4/"}, tc.nodes["s4"].paths)
}

func TestAggregate_PartialFailureIsolated(t *testing.T) {
	tc := newTestCluster(t, "~S1", nil)
	require.NoError(t, tc.local.Write("docs/z.c", nil))
	require.NoError(t, tc.local.Write("docs/m.c", nil))
	require.NoError(t, tc.nodes["s2"].store.Write("docs/r.pdf", nil))
	require.NoError(t, tc.nodes["s3"].store.Write("docs/a.txt", nil))
	require.NoError(t, tc.nodes["s4"].store.Write("docs/b.zip", nil))
	tc.nodes["s3"].fail = true

	names, err := tc.router.List(context.Background(), "~S1/docs/")
	require.NoError(t, err)
	require.Equal(t, []string{"m.c", "z.c", "r.pdf", "b.zip"}, names)
}

func TestAggregate_IndependentOfArrivalOrder(t *testing.T) {
	cases := []struct {
		name   string
		delays [3]time.Duration // s2, s3, s4
		failS3 bool
		want   []string
	}{
		{
			name: "simultaneous",
			want: []string{"a.c", "b.c", "a.pdf", "c.pdf", "z.txt", "k.zip"},
		},
		{
			name:   "reverse",
			delays: [3]time.Duration{30 * time.Millisecond, 10 * time.Millisecond, 0},
			want:   []string{"a.c", "b.c", "a.pdf", "c.pdf", "z.txt", "k.zip"},
		},
		{
			name:   "forward",
			delays: [3]time.Duration{0, 10 * time.Millisecond, 30 * time.Millisecond},
			want:   []string{"a.c", "b.c", "a.pdf", "c.pdf", "z.txt", "k.zip"},
		},
		{
			name:   "one source failing late",
			delays: [3]time.Duration{10 * time.Millisecond, 30 * time.Millisecond, 0},
			failS3: true,
			want:   []string{"a.c", "b.c", "a.pdf", "c.pdf", "k.zip"},
		},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			tc := newTestCluster(t, "~S1", nil)
			require.NoError(t, tc.local.Write("b.c", nil))
			require.NoError(t, tc.local.Write("a.c", nil))
			require.NoError(t, tc.nodes["s2"].store.Write("c.pdf", nil))
			require.NoError(t, tc.nodes["s2"].store.Write("a.pdf", nil))
			require.NoError(t, tc.nodes["s3"].store.Write("z.txt", nil))
			require.NoError(t, tc.nodes["s4"].store.Write("k.zip", nil))

			tc.nodes["s2"].delay = tt.delays[0]
			tc.nodes["s3"].delay = tt.delays[1]
			tc.nodes["s4"].delay = tt.delays[2]
			tc.nodes["s3"].fail = tt.failS3

			names, err := tc.router.List(context.Background(), "~S1")
			require.NoError(t, err)
			require.Equal(t, tt.want, names)
		})
	}
}

func TestAggregate_SkipsDeadNodes(t *testing.T) {
	tc := newTestCluster(t, "~S1", liveSet{"s2": true, "s3": true})
	require.NoError(t, tc.nodes["s4"].store.Write("k.zip", nil))
	require.NoError(t, tc.nodes["s2"].store.Write("a.pdf", nil))

	names, err := tc.router.List(context.Background(), "~S1/")
	require.NoError(t, err)
	require.Equal(t, []string{"a.pdf"}, names)
	require.Zero(t, tc.nodes["s4"].callCount())
}

func TestAggregate_EntriesCarryExtension(t *testing.T) {
	tc := newTestCluster(t, "~S1", nil)
	require.NoError(t, tc.nodes["s3"].store.Write("notes.txt", nil))

	entries, err := tc.router.Aggregator().Aggregate(context.Background(), "~S1/")
	require.NoError(t, err)
	require.Equal(t, []Entry{{Name: "notes.txt", Ext: "txt"}}, entries)
}

func TestAggregate_DeadlineFailsInsteadOfPartialListing(t *testing.T) {
	tc := newTestCluster(t, "root", nil)
	require.NoError(t, tc.local.Write("a.c", nil))
	require.NoError(t, tc.nodes["s3"].store.Write("a.txt", nil))
	tc.nodes["s2"].hang = true

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	names, err := tc.router.List(ctx, "root/")
	require.ErrorIs(t, err, fserrors.ErrTransport)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Nil(t, names)
}

func TestAggregate_CancelledCallerIsNotASourceFailure(t *testing.T) {
	tc := newTestCluster(t, "root", nil)
	require.NoError(t, tc.local.Write("a.c", nil))
	for _, n := range tc.nodes {
		n.hang = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := tc.router.Aggregator().Aggregate(ctx, "root/")
		done <- err
	}()
	require.Eventually(t, func() bool { return tc.totalCalls() == 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, fserrors.ErrTransport)
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("aggregate did not return after cancel")
	}
}
