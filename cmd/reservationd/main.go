// Command reservationd runs a single backend's Reservation Service (spec
// §4.5): it answers player.reservation.request messages targeted at this
// server, holding a short-lived token against a slot before the routing
// core dispatches a player to it.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/go-redis/redis/v8"
	"github.com/gookit/color"
	"github.com/spf13/cobra"

	"github.com/slotfabric/matchcore/internal/bus"
	"github.com/slotfabric/matchcore/internal/config"
	"github.com/slotfabric/matchcore/internal/reservation"
	"github.com/slotfabric/matchcore/internal/routing"
)

var (
	configPath string
	serverID   string
)

func main() {
	root := &cobra.Command{
		Use:   "reservationd",
		Short: "Run a backend's reservation service",
		RunE:  runReservationd,
	}
	root.Flags().StringVar(&configPath, "config", "config/reservationd.yaml", "path to config file")
	root.Flags().StringVar(&serverID, "server-id", "", "this backend's registered server ID (required)")

	if err := root.Execute(); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func runReservationd(cmd *cobra.Command, _ []string) error {
	if serverID == "" {
		return fmt.Errorf("--server-id is required")
	}
	color.Cyan.Println("matchcore reservationd")

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
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))
	slog.Info("matchcore reservationd starting", "serverId", serverID, "transport", cfg.Transport.Kind)

	messageBus, err := buildBus(cfg)
	if err != nil {
		return fmt.Errorf("building message bus: %w", err)
	}

	mirror := reservation.NewSlotMirror()
	mirror.Watch(messageBus, routing.ChanSlotStatus, serverID)
	defer mirror.Stop()

	store := reservation.NewStore(reservation.DefaultTTL)
	svc := reservation.New(messageBus, serverID, mirror, store)
	svc.Start()
	defer svc.Stop()

	slog.Info("reservationd ready", "serverId", serverID)
	<-ctx.Done()
	return nil
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
