// Command routingd runs the Player Routing Service alongside the server
// and proxy registries and the slot provisioning service: the core
// matchmaking process described in SPEC_FULL.md §4.2-4.4, §4.8.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/gookit/color"
	"github.com/spf13/cobra"

	"github.com/slotfabric/matchcore/internal/bus"
	"github.com/slotfabric/matchcore/internal/config"
	"github.com/slotfabric/matchcore/internal/db"
	"github.com/slotfabric/matchcore/internal/handoff"
	"github.com/slotfabric/matchcore/internal/observability"
	"github.com/slotfabric/matchcore/internal/provisioning"
	"github.com/slotfabric/matchcore/internal/registry"
	"github.com/slotfabric/matchcore/internal/routing"
	"github.com/slotfabric/matchcore/internal/session"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "routingd",
		Short: "Run the matchcore player routing service",
		RunE:  runRoutingd,
	}
	root.Flags().StringVar(&configPath, "config", "config/routingd.yaml", "path to config file")

	if err := root.Execute(); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func runRoutingd(cmd *cobra.Command, _ []string) error {
	color.Cyan.Println("matchcore routingd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)})))
	slog.Info("matchcore routingd starting", "senderId", cfg.SenderID, "transport", cfg.Transport.Kind)

	messageBus, err := buildBus(cfg)
	if err != nil {
		return fmt.Errorf("building message bus: %w", err)
	}

	servers := registry.NewServerRegistry(cfg.ServerTimeout)
	proxies := registry.NewProxyRegistry(cfg.ProxyTimeout)
	provisioner := provisioning.NewService(messageBus, cfg.SenderID, servers.Server)

	routingCfg := routing.Config{
		RouteTimeout:       cfg.Routing.RouteTimeout,
		ReservationTimeout: cfg.Routing.ReservationTimeout,
		MaxQueueWait:       cfg.Routing.MaxQueueWait,
		MaxRouteRetries:    cfg.Routing.MaxRouteRetries,
	}
	routingService := routing.New(messageBus, cfg.SenderID, servers, proxies, provisioner, routingCfg)
	routingService.SetHandoffWriter(handoff.NewStore(handoff.DefaultTTL))
	routingService.Start(ctx)
	defer routingService.Stop()

	sessionTracker, closeDB, err := buildSessionTracker(ctx, messageBus, cfg)
	if err != nil {
		return fmt.Errorf("wiring session store: %w", err)
	}
	if sessionTracker != nil {
		sessionTracker.Start()
		defer sessionTracker.Stop()
		defer closeDB()
	}

	go sweepLoop(ctx, servers, proxies)

	obs := observability.NewServer(cfg.Observability.SnapshotAddr, cfg.Observability.StreamAddr,
		func() observability.Snapshot {
			return observability.Snapshot{
				GeneratedAt: time.Now(),
				Ready:       routingService.Ready(),
				ServerCount: servers.Count(),
				ProxyCount:  proxies.Count(),
			}
		}, 2*time.Second)

	slog.Info("routingd ready",
		"snapshotAddr", cfg.Observability.SnapshotAddr,
		"streamAddr", cfg.Observability.StreamAddr)
	return obs.ListenAndServe(ctx)
}

func buildBus(cfg config.Config) (bus.Bus, error) {
	switch cfg.Transport.Kind {
	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr: cfg.Transport.RedisAddr,
			DB:   cfg.Transport.RedisDB,
		})
		return bus.NewRedis(client), nil
	case "local", "":
		return bus.NewLocal(), nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
	}
}

// buildSessionTracker connects to PostgreSQL, runs migrations, and wires a
// session.Tracker against the route-ack feed. Returns a nil tracker (and a
// no-op closer) if cfg.Persistence has no host configured, so routingd can
// still run without a database for local/test use.
func buildSessionTracker(ctx context.Context, messageBus bus.Bus, cfg config.Config) (*session.Tracker, func(), error) {
	if cfg.Persistence.Host == "" {
		return nil, func() {}, nil
	}
	if err := db.RunMigrations(ctx, cfg.Persistence.DSN()); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	conn, err := db.New(ctx, cfg.Persistence.DSN())
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}
	repo := session.NewRepository(conn.Pool())
	tracker := session.NewTracker(messageBus, repo)
	return tracker, conn.Close, nil
}

func sweepLoop(ctx context.Context, servers *registry.ServerRegistry, proxies *registry.ProxyRegistry) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			if evicted := servers.SweepStale(now); len(evicted) > 0 {
				slog.Info("evicted stale servers", "count", len(evicted))
			}
			if evicted := proxies.SweepStale(now); len(evicted) > 0 {
				slog.Info("evicted stale proxies", "count", len(evicted))
			}
		case <-ctx.Done():
			return
		}
	}
}

func logLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
