package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/netwatch-nms/netwatch/pkg/api"
	"github.com/netwatch-nms/netwatch/pkg/audit"
	"github.com/netwatch-nms/netwatch/pkg/auth"
	"github.com/netwatch-nms/netwatch/pkg/discovery"
	"github.com/netwatch-nms/netwatch/pkg/metrics"
	"github.com/netwatch-nms/netwatch/pkg/secret"
	"github.com/netwatch-nms/netwatch/pkg/store"
	"github.com/netwatch-nms/netwatch/pkg/transport"
	"github.com/netwatch-nms/netwatch/pkg/util"
	"github.com/netwatch-nms/netwatch/pkg/version"
)

var autoMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server and discovery workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&autoMigrate, "migrate", false, "Apply pending migrations before serving")
}

func serve(ctx context.Context) error {
	util.WithField("version", version.Version).Info("netwatch starting")

	secrets, err := secret.New(cfg.Encryption.Key)
	if err != nil {
		return fmt.Errorf("initializing secret store: %w", err)
	}

	// Two pools: the request path must never wait behind scan workers
	// holding connections.
	requestStore, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer requestStore.Close()

	discoveryDB := cfg.Database
	discoveryDB.MaxConnections = cfg.Discovery.WorkerCount() + 2
	discoveryStore, err := store.Open(ctx, discoveryDB)
	if err != nil {
		return err
	}
	defer discoveryStore.Close()

	if autoMigrate {
		if err := requestStore.Migrate(ctx); err != nil {
			return err
		}
	}

	m := metrics.New()

	var bus transport.Bus
	switch cfg.Transport.Mode {
	case "redis":
		bus, err = transport.NewRedisBus(cfg.Transport.RedisAddr, cfg.Transport.RequestTimeout)
		if err != nil {
			return err
		}
	default:
		bus = transport.NewLocalBus()
	}
	defer bus.Close()

	engine := discovery.NewEngine(discoveryStore, secrets, cfg.Discovery, m)
	defer engine.Stop()
	if err := discovery.RegisterHandlers(bus, engine); err != nil {
		return fmt.Errorf("registering discovery handlers: %w", err)
	}

	tokens, err := auth.NewTokenManager(cfg.Auth)
	if err != nil {
		return err
	}
	authSvc := auth.NewService(requestStore.Users, tokens)

	var auditor audit.Logger = audit.NopLogger{}
	if cfg.Audit.Enabled {
		auditor, err = audit.NewFileLogger(cfg.Audit.Path, audit.RotationConfig{
			MaxSize:    cfg.Audit.MaxSizeMB * 1024 * 1024,
			MaxBackups: cfg.Audit.MaxBackups,
		})
		if err != nil {
			return fmt.Errorf("initializing audit log: %w", err)
		}
		defer auditor.Close()
	}

	server := api.NewServer(
		cfg.Server,
		discovery.NewProxy(bus),
		requestStore,
		secrets,
		authSvc,
		tokens,
		m,
		auditor,
	)

	err = server.ListenAndServe(ctx)
	util.Info("netwatch stopped")
	return err
}
