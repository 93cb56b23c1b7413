package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-zookeeper/zk"

	"shardfs/pkg/listener"
)

// NodeInfo is one registered storage node.
type NodeInfo struct {
	Name string `json:"name"`
	Addr string `json:"addr"`
}

// nodeSet is the last membership snapshot seen.
type nodeSet struct {
	mu    sync.RWMutex
	ready bool
	nodes map[string]NodeInfo
}

func (s *nodeSet) apply(nodes []NodeInfo) {
	m := make(map[string]NodeInfo, len(nodes))
	for _, n := range nodes {
		m[n.Name] = n
	}
	s.mu.Lock()
	s.nodes = m
	s.ready = true
	s.mu.Unlock()
}

// Alive is true for registered nodes. Before the first snapshot arrives
// every node counts as alive.
func (s *nodeSet) Alive(node string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.ready {
		return true
	}
	_, ok := s.nodes[node]
	return ok
}

func (s *nodeSet) list() []NodeInfo {
	s.mu.RLock()
	out := make([]NodeInfo, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// zkConn is the part of *zk.Conn membership uses.
type zkConn interface {
	Exists(path string) (bool, *zk.Stat, error)
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	Get(path string) ([]byte, *zk.Stat, error)
	Delete(path string, version int32) error
	ChildrenW(path string) ([]string, *zk.Stat, <-chan zk.Event, error)
	State() zk.State
	SessionID() int64
	Close()
}

// ZKMembership registers storage nodes as ephemeral znodes under
// <root>/nodes and lets the router watch them.
type ZKMembership struct {
	conn     zkConn
	rootPath string
	log      *slog.Logger

	set     nodeSet
	updates chan []NodeInfo
	watcher *listener.Listener[[]NodeInfo]

	// registered is re-created whenever a new session is established
	regMu      sync.Mutex
	registered *NodeInfo

	done      chan struct{}
	closeOnce sync.Once
}

// servers: ["zk1:2181", "zk2:2181"]
func NewZKMembership(servers []string, rootPath string, sessionTimeout time.Duration, log *slog.Logger) (*ZKMembership, error) {
	if log == nil {
		log = slog.Default()
	}
	conn, events, err := zk.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, fmt.Errorf("zk connect: %w", err)
	}
	m := newMembership(conn, rootPath, log)
	go m.watchSession(events)
	return m, nil
}

func newMembership(conn zkConn, rootPath string, log *slog.Logger) *ZKMembership {
	m := &ZKMembership{
		conn:     conn,
		rootPath: strings.TrimSuffix(rootPath, "/"),
		log:      log.With("component", "zk"),
		updates:  make(chan []NodeInfo, 1),
		done:     make(chan struct{}),
	}
	m.watcher = listener.New(m.updates, m.onSnapshot).WithLogger(m.log)
	return m
}

func (m *ZKMembership) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	m.watcher.Stop()
	if m.conn != nil {
		m.conn.Close()
	}
	return nil
}

func (m *ZKMembership) nodesPath() string {
	return m.rootPath + "/nodes"
}

func (m *ZKMembership) ensurePath(p string) error {
	cur := ""
	for _, part := range strings.Split(p, "/") {
		if part == "" {
			continue
		}
		cur = cur + "/" + part
		exists, _, err := m.conn.Exists(cur)
		if err != nil {
			return err
		}
		if !exists {
			_, err = m.conn.Create(cur, nil, 0, zk.WorldACL(zk.PermAll))
			if err != nil && err != zk.ErrNodeExists {
				return err
			}
		}
	}
	return nil
}

// Register создаёт ephemeral-узел для ноды хранения; данные узла - её адрес.
// После истечения сессии узел создаётся заново.
func (m *ZKMembership) Register(node NodeInfo) error {
	// ждём, пока клиент реально подключится к ZK
	if err := m.waitConnected(10 * time.Second); err != nil {
		return err
	}
	m.regMu.Lock()
	defer m.regMu.Unlock()
	if err := m.register(node); err != nil {
		return err
	}
	m.registered = &node
	return nil
}

// register makes the znode of node exist, hold node.Addr and belong to the
// current session. A znode left by another session is replaced.
func (m *ZKMembership) register(node NodeInfo) error {
	if err := m.ensurePath(m.nodesPath()); err != nil {
		return fmt.Errorf("ensure nodes path: %w", err)
	}

	nodePath := path.Join(m.nodesPath(), node.Name)
	data, stat, err := m.conn.Get(nodePath)
	switch {
	case err == nil:
		if stat.EphemeralOwner == m.conn.SessionID() && string(data) == node.Addr {
			return nil
		}
		m.log.Warn("replacing stale registration", "path", nodePath, "owner", stat.EphemeralOwner, "addr", string(data))
		if err := m.conn.Delete(nodePath, stat.Version); err != nil && !errors.Is(err, zk.ErrNoNode) {
			return fmt.Errorf("delete stale node: %w", err)
		}
	case errors.Is(err, zk.ErrNoNode):
	default:
		return fmt.Errorf("read node: %w", err)
	}

	if _, err := m.conn.Create(nodePath, []byte(node.Addr), zk.FlagEphemeral, zk.WorldACL(zk.PermAll)); err != nil {
		return fmt.Errorf("create ephemeral node: %w", err)
	}
	m.log.Info("registered node", "path", nodePath, "addr", node.Addr)
	return nil
}

// watchSession reacts to session events until Close.
func (m *ZKMembership) watchSession(events <-chan zk.Event) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.onSessionEvent(ev)
		case <-m.done:
			return
		}
	}
}

// onSessionEvent restores the registration once a session is (re)established:
// after an expiry the server has dropped the ephemeral znode.
func (m *ZKMembership) onSessionEvent(ev zk.Event) {
	if ev.Type != zk.EventSession || ev.State != zk.StateHasSession {
		return
	}
	m.regMu.Lock()
	defer m.regMu.Unlock()
	if m.registered == nil {
		return
	}
	if err := m.register(*m.registered); err != nil {
		m.log.Warn("re-register failed", "node", m.registered.Name, "err", err)
	}
}

// readNodes читает список живых нод вместе с адресами
func (m *ZKMembership) readNodes(children []string) []NodeInfo {
	nodes := make([]NodeInfo, 0, len(children))
	for _, name := range children {
		data, _, err := m.conn.Get(path.Join(m.nodesPath(), name))
		if err != nil {
			// узел мог исчезнуть между Children и Get
			continue
		}
		nodes = append(nodes, NodeInfo{Name: name, Addr: string(data)})
	}
	return nodes
}

// RunWatch следит за <root>/nodes и обновляет снимок живых нод
func (m *ZKMembership) RunWatch(ctx context.Context) {
	m.watcher.Start(ctx)

	go func() {
		for {
			if err := m.waitConnected(10 * time.Second); err == nil {
				err = m.ensurePath(m.nodesPath())
				if err != nil {
					m.log.Warn("ensure nodes path failed", "err", err)
				}
			}

			children, _, ch, err := m.conn.ChildrenW(m.nodesPath())
			if err != nil {
				m.log.Warn("ChildrenW failed", "err", err)
				select {
				case <-time.After(2 * time.Second):
					continue
				case <-ctx.Done():
					return
				}
			}
			m.publish(ctx, m.readNodes(children))

			select {
			case ev := <-ch:
				m.log.Debug("membership event", "type", ev.Type.String(), "path", ev.Path)
				// просто перечитываем список нод
			case <-ctx.Done():
				m.log.Info("watch stopped")
				return
			}
		}
	}()
}

// publish keeps only the newest snapshot in the channel.
func (m *ZKMembership) publish(ctx context.Context, nodes []NodeInfo) {
	for {
		select {
		case m.updates <- nodes:
			return
		case <-ctx.Done():
			return
		default:
		}
		select {
		case <-m.updates:
		default:
		}
	}
}

func (m *ZKMembership) onSnapshot(nodes []NodeInfo) error {
	m.set.apply(nodes)
	names := make([]string, len(nodes))
	for i, n := range nodes {
		names[i] = n.Name
	}
	m.log.Info("membership updated", "nodes", names)
	return nil
}

// Alive implements Liveness.
func (m *ZKMembership) Alive(node string) bool {
	return m.set.Alive(node)
}

// Nodes returns the registered nodes sorted by name.
func (m *ZKMembership) Nodes() []NodeInfo {
	return m.set.list()
}

func (m *ZKMembership) waitConnected(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		st := m.conn.State()
		if st == zk.StateConnected || st == zk.StateHasSession {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("zk: not connected after %s, state=%v", timeout, st)
		}
		time.Sleep(200 * time.Millisecond)
	}
}
