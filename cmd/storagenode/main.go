package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"shardfs/internal/http"
	"shardfs/pkg/cluster"
	"shardfs/pkg/config"
	"shardfs/pkg/localstore"
	"shardfs/pkg/metrics"
	"shardfs/pkg/nodeserver"
	"shardfs/pkg/vpath"
)

func main() {
	configPath := flag.String("config", "shardfs.yaml", "path to YAML config")
	name := flag.String("name", "", "node name or extension this node serves (s2, pdf, ...)")
	listen := flag.String("listen", "", "listen address, defaults to the route address")
	inMemory := flag.Bool("mem", false, "keep files in memory instead of data_dir")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := initConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	initLogger(&cfg)

	rc, ok := cfg.NodeRoute(*name)
	if !ok {
		fmt.Fprintf(os.Stderr, "no storage route named %q in config\n", *name)
		os.Exit(1)
	}
	if *listen == "" {
		*listen = rc.Addr
	}

	if err := run(ctx, cfg, rc, *listen, *inMemory); err != nil {
		slog.Error("storage node stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, rc config.RouteConfig, listen string, inMemory bool) error {
	table, err := cfg.RouteTable()
	if err != nil {
		return err
	}
	route, _ := table.Lookup(rc.Ext)

	var store localstore.Store
	if inMemory {
		store = localstore.NewMem()
		slog.Info("using in-memory store")
	} else {
		fsStore, err := localstore.NewFS(config.ExpandHome(rc.DataDir))
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		slog.Info("store ready", "root", fsStore.Root())
		store = fsStore
	}

	collector := metrics.NewPrometheus()
	srv := nodeserver.New(route, store, nodeserver.Options{
		Logger:     slog.Default(),
		Metrics:    collector,
		MaxContent: cfg.Link.MaxContentBytes,
	})

	if rc.AdminAddr != "" {
		admin := http.NewServer(rc.AdminAddr, http.Options{
			Routes:  []vpath.Route{route},
			Metrics: collector.Handler(),
		})
		if err := admin.Start(); err != nil {
			return err
		}
		defer func() {
			if err := admin.Stop(); err != nil {
				slog.Warn("admin server stop failed", "error", err)
			}
		}()
	}

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", listen, err)
	}

	// регистрация в ZooKeeper после того, как порт уже слушается
	if cfg.ZooKeeper.Enabled() {
		membership, err := cluster.NewZKMembership(cfg.ZooKeeper.Servers, cfg.ZooKeeper.RootPath, cfg.ZooKeeper.SessionTimeout, slog.Default())
		if err != nil {
			ln.Close()
			return err
		}
		defer membership.Close()
		addr := advertiseAddr(ln.Addr().String(), route.Addr)
		if err := membership.Register(cluster.NodeInfo{Name: route.Node, Addr: addr}); err != nil {
			ln.Close()
			return err
		}
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down storage node", "node", route.Node)
		if err := srv.Close(); err != nil {
			slog.Warn("close listener failed", "error", err)
		}
	}()

	slog.Info("storage node started", "node", route.Node, "ext", route.Ext, "marker", route.Marker, "addr", ln.Addr().String())
	return srv.Serve(ln)
}

// advertiseAddr is the address registered in ZooKeeper: the one actually
// listened on. A wildcard host ("[::]:7000", "0.0.0.0:7000") is not
// dialable from other hosts, so it takes the host of the configured route
// address and keeps the real port.
func advertiseAddr(listenAddr, routeAddr string) string {
	host, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return routeAddr
	}
	if ip := net.ParseIP(host); host != "" && (ip == nil || !ip.IsUnspecified()) {
		return listenAddr
	}
	routeHost, _, err := net.SplitHostPort(routeAddr)
	if err != nil || routeHost == "" {
		routeHost = "127.0.0.1"
	}
	return net.JoinHostPort(routeHost, port)
}
