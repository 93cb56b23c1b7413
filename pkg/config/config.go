package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"shardfs/pkg/vpath"
)

// Config - корневая структура конфигурации (router и storage nodes читают один файл)
type Config struct {
	Logger    LoggerConfig    `yaml:"logger"`
	Router    RouterConfig    `yaml:"router"`
	Routes    []RouteConfig   `yaml:"routes"`
	Link      LinkConfig      `yaml:"link"`
	ZooKeeper ZooKeeperConfig `yaml:"zookeeper"`
}

type LoggerConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// RouterConfig describes the client-facing side.
type RouterConfig struct {
	ListenAddr  string `yaml:"listen_addr"`
	AdminAddr   string `yaml:"admin_addr"`
	VirtualRoot string `yaml:"virtual_root"`
}

// RouteConfig is one extension -> node binding. The local route is served
// by the router itself from DataDir; the others by a storage node
// listening on Addr.
type RouteConfig struct {
	Ext       string `yaml:"ext"`
	Node      string `yaml:"node"`
	Marker    string `yaml:"marker"`
	Addr      string `yaml:"addr"`
	AdminAddr string `yaml:"admin_addr"`
	DataDir   string `yaml:"data_dir"`
	Local     bool   `yaml:"local"`
}

// LinkConfig bounds router -> node calls.
type LinkConfig struct {
	DialTimeout     time.Duration `yaml:"dial_timeout"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxContentBytes int64         `yaml:"max_content_bytes"`
}

type ZooKeeperConfig struct {
	Servers        []string      `yaml:"servers"`
	RootPath       string        `yaml:"root_path"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
	// SkipDeadNodes lets listings skip nodes that have no registration.
	SkipDeadNodes bool `yaml:"skip_dead_nodes"`
}

// Enabled reports whether membership is configured.
func (z ZooKeeperConfig) Enabled() bool { return len(z.Servers) > 0 }

// Default returns the four-node layout: .c on the router, .pdf/.txt/.zip
// on three storage nodes on localhost.
func Default() Config {
	return Config{
		Logger: LoggerConfig{Level: "INFO"},
		Router: RouterConfig{
			ListenAddr:  ":6054",
			AdminAddr:   ":8080",
			VirtualRoot: "~S1",
		},
		Routes: []RouteConfig{
			{Ext: "c", Node: "s1", Marker: "~S1", DataDir: "./data/S1", Local: true},
			{Ext: "pdf", Node: "s2", Marker: "~S2", Addr: "127.0.0.1:6055", AdminAddr: ":8081", DataDir: "./data/S2"},
			{Ext: "txt", Node: "s3", Marker: "~S3", Addr: "127.0.0.1:6056", AdminAddr: ":8082", DataDir: "./data/S3"},
			{Ext: "zip", Node: "s4", Marker: "~S4", Addr: "127.0.0.1:6057", AdminAddr: ":8083", DataDir: "./data/S4"},
		},
		Link: LinkConfig{
			DialTimeout:     3 * time.Second,
			Timeout:         10 * time.Second,
			MaxContentBytes: 1 << 30,
		},
		ZooKeeper: ZooKeeperConfig{
			RootPath:       "/shardfs",
			SessionTimeout: 5 * time.Second,
		},
	}
}

// Load reads a YAML file over Default(). A missing file yields Default().
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Info("config file not found, using default config", "path", path)
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides addresses from SHARDFS_* variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("SHARDFS_LISTEN_ADDR"); v != "" {
		c.Router.ListenAddr = v
	}
	if v := os.Getenv("SHARDFS_ADMIN_ADDR"); v != "" {
		c.Router.AdminAddr = v
	}
	if v := os.Getenv("SHARDFS_ZK_SERVERS"); v != "" {
		var servers []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				servers = append(servers, s)
			}
		}
		c.ZooKeeper.Servers = servers
	}
	// SHARDFS_NODE_S2_ADDR=10.0.0.2:6055
	for i := range c.Routes {
		key := "SHARDFS_NODE_" + strings.ToUpper(c.Routes[i].Node) + "_ADDR"
		if v := os.Getenv(key); v != "" {
			c.Routes[i].Addr = v
		}
	}
}

// Validate checks everything the binaries rely on.
func (c *Config) Validate() error {
	if c.Router.VirtualRoot == "" {
		return errors.New("router.virtual_root is required")
	}
	if c.Link.Timeout <= 0 || c.Link.DialTimeout <= 0 {
		return errors.New("link timeouts must be positive")
	}
	if c.Link.MaxContentBytes <= 0 {
		return errors.New("link.max_content_bytes must be positive")
	}
	_, err := c.RouteTable()
	return err
}

// RouteTable builds the immutable extension table.
func (c *Config) RouteTable() (*vpath.Table, error) {
	routes := make([]vpath.Route, 0, len(c.Routes))
	for _, r := range c.Routes {
		routes = append(routes, vpath.Route{
			Ext:    r.Ext,
			Node:   r.Node,
			Marker: r.Marker,
			Addr:   r.Addr,
			Local:  r.Local,
		})
	}
	return vpath.NewTable(routes)
}

// LocalRoute returns the router's own route entry.
func (c *Config) LocalRoute() (RouteConfig, bool) {
	for _, r := range c.Routes {
		if r.Local {
			return r, true
		}
	}
	return RouteConfig{}, false
}

// NodeRoute finds a storage node's route by node name or extension.
func (c *Config) NodeRoute(name string) (RouteConfig, bool) {
	for _, r := range c.Routes {
		if (r.Node == name || r.Ext == name) && !r.Local {
			return r, true
		}
	}
	return RouteConfig{}, false
}

// ExpandHome resolves a leading "~/" against the user's home directory.
func ExpandHome(p string) string {
	rest, ok := strings.CutPrefix(p, "~/")
	if !ok {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, rest)
}
