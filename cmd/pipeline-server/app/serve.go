package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hirewire/pipeline-server/internal/api"
	"github.com/hirewire/pipeline-server/internal/cache"
	"github.com/hirewire/pipeline-server/internal/config"
	"github.com/hirewire/pipeline-server/internal/db"
	"github.com/hirewire/pipeline-server/internal/logger"
	"github.com/hirewire/pipeline-server/internal/pipeline"
	"github.com/hirewire/pipeline-server/internal/realtime"
	"github.com/hirewire/pipeline-server/internal/store/postgres"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pipeline API server",
	Long: `Start the pipeline API server for one recruiter.

The server requires a configuration file (--config) with the database
connection settings, and the recruiter whose pipeline to synchronize
(--recruiter). Optional sections tune the snapshot directory, the
realtime change feed and the background sync behavior.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second
	serverRequestTimeout   = 10 * time.Second
	serverReadTimeout      = 10 * time.Second
	serverWriteTimeout     = 15 * time.Second // Must be > serverRequestTimeout to let middleware handle timeout
	serverIdleTimeout      = 60 * time.Second
)

func init() {
	serveCmd.Flags().String("address", ":8080", "Address to listen on")
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	serveCmd.Flags().String("recruiter", "", "Recruiter id whose pipeline to serve (UUID, required)")

	if err := viper.BindPFlag("address", serveCmd.Flags().Lookup("address")); err != nil {
		logger.Fatalf("Failed to bind address flag: %v", err)
	}
	if err := viper.BindPFlag("config", serveCmd.Flags().Lookup("config")); err != nil {
		logger.Fatalf("Failed to bind config flag: %v", err)
	}
	if err := viper.BindPFlag("recruiter", serveCmd.Flags().Lookup("recruiter")); err != nil {
		logger.Fatalf("Failed to bind recruiter flag: %v", err)
	}

	if err := serveCmd.MarkFlagRequired("config"); err != nil {
		logger.Fatalf("Failed to mark config flag as required: %v", err)
	}
	if err := serveCmd.MarkFlagRequired("recruiter"); err != nil {
		logger.Fatalf("Failed to mark recruiter flag as required: %v", err)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx := context.Background()
	address := viper.GetString("address")

	recruiterID, err := uuid.Parse(viper.GetString("recruiter"))
	if err != nil {
		return fmt.Errorf("invalid recruiter id: %w", err)
	}

	configPath := viper.GetString("config")
	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Address != "" {
		address = cfg.GetAddress()
	}
	logger.Infof("Loaded configuration from %s", configPath)

	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close()

	stores, err := postgres.New(conn.Pool)
	if err != nil {
		return fmt.Errorf("failed to build stores: %w", err)
	}

	pinger := db.NewPinger(conn.Pool)
	pinger.Start(ctx)
	defer pinger.Stop()

	registry := prometheus.NewRegistry()
	metrics, err := pipeline.NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	opts := []pipeline.Option{
		pipeline.WithStores(stores),
		pipeline.WithConnectivity(pinger),
		pipeline.WithMetrics(metrics),
	}

	feed, err := buildFeed(cfg)
	if err != nil {
		return err
	}
	if feed != nil {
		opts = append(opts, pipeline.WithFeed(feed))
	}

	if cfg.Snapshot != nil && cfg.Snapshot.Dir != "" {
		snapshots, err := cache.NewSnapshotStore(cfg.Snapshot.Dir)
		if err != nil {
			return fmt.Errorf("failed to open snapshot store: %w", err)
		}
		opts = append(opts, pipeline.WithSnapshots(snapshots))
	}

	resync, err := cfg.GetResyncInterval()
	if err != nil {
		return err
	}
	debounce, err := cfg.GetPrefetchDebounce()
	if err != nil {
		return err
	}
	opts = append(opts,
		pipeline.WithResyncInterval(resync),
		pipeline.WithPrefetchDebounce(debounce),
	)
	if cfg.Sync != nil && cfg.Sync.PrefetchDisabled {
		opts = append(opts, pipeline.WithPrefetchDisabled())
	}

	sync, err := pipeline.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to build synchronizer: %w", err)
	}

	logger.Infof("Starting pipeline synchronizer for recruiter %s", recruiterID)
	if err := sync.Start(ctx, recruiterID); err != nil {
		return fmt.Errorf("failed to start synchronizer: %w", err)
	}
	defer sync.Close()

	router := api.NewServer(sync,
		api.WithMiddlewares(
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(serverRequestTimeout),
			api.LoggingMiddleware,
		),
		api.WithMetricsRegistry(registry),
	)

	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	go func() {
		logger.Infof("Server listening on %s", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
		return err
	}

	logger.Info("Server shutdown complete")
	return nil
}

// buildFeed constructs the Postgres LISTEN/NOTIFY change feed, or nil when
// realtime is disabled.
func buildFeed(cfg *config.Config) (realtime.Feed, error) {
	if cfg.Realtime != nil && cfg.Realtime.Disabled {
		logger.Info("Realtime change feed disabled, relying on periodic resync")
		return nil, nil
	}

	connString, err := cfg.Database.GetConnectionString()
	if err != nil {
		return nil, fmt.Errorf("failed to build feed connection string: %w", err)
	}

	var listenerOpts []realtime.ListenerOption
	if cfg.Realtime != nil {
		if cfg.Realtime.Channel != "" {
			listenerOpts = append(listenerOpts, realtime.WithChannel(cfg.Realtime.Channel))
		}
		if cfg.Realtime.Buffer > 0 {
			listenerOpts = append(listenerOpts, realtime.WithBuffer(cfg.Realtime.Buffer))
		}
	}

	feed, err := realtime.NewListener(connString, listenerOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create change feed: %w", err)
	}
	return feed, nil
}
