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
	"shardfs/internal/session"
	"shardfs/pkg/cluster"
	"shardfs/pkg/config"
	"shardfs/pkg/localstore"
	"shardfs/pkg/metrics"
	"shardfs/pkg/nodelink"
	"shardfs/pkg/vpath"
)

func main() {
	configPath := flag.String("config", "shardfs.yaml", "path to YAML config")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := initConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	initLogger(&cfg)

	if err := run(ctx, cfg); err != nil {
		slog.Error("router stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	table, err := cfg.RouteTable()
	if err != nil {
		return err
	}
	localRoute, _ := cfg.LocalRoute()

	// --- локальное хранилище для своего типа файлов ---
	local, err := localstore.NewFS(config.ExpandHome(localRoute.DataDir))
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	slog.Info("local store ready", "ext", localRoute.Ext, "root", local.Root())

	collector := metrics.NewPrometheus()
	routerOpts := cluster.Options{Logger: slog.Default(), Metrics: collector}
	adminOpts := http.Options{Routes: table.Routes(), Metrics: collector.Handler()}

	// --- ZooKeeper membership (опционально) ---
	if cfg.ZooKeeper.Enabled() {
		membership, err := cluster.NewZKMembership(cfg.ZooKeeper.Servers, cfg.ZooKeeper.RootPath, cfg.ZooKeeper.SessionTimeout, slog.Default())
		if err != nil {
			return err
		}
		defer membership.Close()

		membership.RunWatch(ctx)
		adminOpts.Nodes = membership
		if cfg.ZooKeeper.SkipDeadNodes {
			routerOpts.Liveness = membership
		}
	}

	links := cluster.LinkFactory(nodelink.Options{
		DialTimeout: cfg.Link.DialTimeout,
		Timeout:     cfg.Link.Timeout,
		MaxContent:  cfg.Link.MaxContentBytes,
	})
	router := cluster.NewRouter(vpath.NewResolver(cfg.Router.VirtualRoot, table), local, links, routerOpts)
	adminOpts.Lister = router

	// --- admin HTTP: health, metrics, routes ---
	admin := http.NewServer(cfg.Router.AdminAddr, adminOpts)
	if err := admin.Start(); err != nil {
		return err
	}
	defer func() {
		if err := admin.Stop(); err != nil {
			slog.Warn("admin server stop failed", "error", err)
		}
	}()

	ln, err := net.Listen("tcp", cfg.Router.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Router.ListenAddr, err)
	}

	srv := session.NewServer(router, session.Options{
		Logger:     slog.Default(),
		Metrics:    collector,
		MaxContent: cfg.Link.MaxContentBytes,
	})
	go func() {
		<-ctx.Done()
		slog.Info("shutting down router")
		if err := srv.Close(); err != nil {
			slog.Warn("close listener failed", "error", err)
		}
	}()

	slog.Info("router started", "addr", ln.Addr().String(), "root", cfg.Router.VirtualRoot)
	return srv.Serve(ln)
}
