package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/okian/reciperage/internal/adapters/analytics"
	"github.com/okian/reciperage/internal/adapters/http/api"
	"github.com/okian/reciperage/internal/adapters/http/swagger"
	"github.com/okian/reciperage/internal/adapters/persistence"
	"github.com/okian/reciperage/internal/adapters/transport/ws"
	service "github.com/okian/reciperage/internal/app"
	"github.com/okian/reciperage/internal/config"
	"github.com/okian/reciperage/internal/domain/model"
	"github.com/okian/reciperage/internal/domain/order"
	"github.com/okian/reciperage/internal/domain/recipe"
	"github.com/okian/reciperage/pkg/logger"
	"github.com/okian/reciperage/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	systemMetricsInterval     = 10 * time.Second
	serviceMetricsInterval    = 5 * time.Second
	nanosecondsPerMillisecond = 1e6
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
	Verbose    bool
	Format     string // "text" | "json"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Stderr.WriteString("reciperage: " + err.Error() + "\n")
		os.Exit(1)
	}
}

// NewRootCommand creates the reciperage command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "reciperage",
		Short: "Recipe Rage - competitive kitchen matches",
		Long:  "An authoritative cooking-match server with WebSocket replication, results, progression and a leaderboard.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.ConfigFile != "" {
				return os.Setenv(config.EnvConfigPath, opts.ConfigFile)
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "YAML config file (overrides "+config.EnvConfigPath+")")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	serve := NewServeCommand(opts)
	cmd.AddCommand(serve)
	cmd.AddCommand(NewSimulateCommand(opts))
	cmd.RunE = serve.RunE

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// setup loads configuration and initializes the global logger.
func setup(ctx context.Context, opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(logger.WithFormat(cfg.LogFormat), logger.WithWriter(os.Stderr)); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	level := cfg.LogLevel
	if opts.Verbose {
		level = "debug"
	}
	if err := logger.SetLevelString(level); err != nil {
		logger.Get().Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", level), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	return cfg, nil
}

func loadCatalog(path string) (*recipe.Catalog, error) {
	if path == "" {
		return recipe.Default(), nil
	}
	return recipe.LoadFile(path)
}

func openStore(ctx context.Context, cfg *config.Config) (persistence.Store, error) {
	return persistence.Open(ctx, persistence.Options{
		Backend: cfg.PersistenceBackend,
		DSN:     cfg.PersistenceDSN,
		Bucket:  cfg.S3Bucket,
		Region:  cfg.S3Region,
		Prefix:  cfg.S3Prefix,
	})
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		Long: `Run the match server.

Configuration is layered from defaults, the optional YAML file and
RECIPERAGE_* environment variables.

Example:
  reciperage serve
  RECIPERAGE_AUTO_START=true RECIPERAGE_LEVEL=food-truck reciperage serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			cfg, err := setup(ctx, rootOpts)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	// We collect our own runtime metrics on a private registry.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	log := logger.Get()

	catalog, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.PersistenceBackend, err)
	}

	var sinks []model.Sink
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		producer, err := analytics.NewProducer(brokers)
		if err != nil {
			_ = store.Close()
			return fmt.Errorf("connect analytics: %w", err)
		}
		sink := analytics.New(producer, cfg.KafkaTopic, cfg.AnalyticsBuffer, analytics.WithLogger(log.Named("analytics")))
		sink.Start(ctx)
		defer func() {
			if err := sink.Close(); err != nil {
				log.Error(context.Background(), "analytics close failed", logger.Error(err))
			}
		}()
		sinks = append(sinks, sink)
		log.Info(ctx, "analytics enabled", logger.Any("brokers", brokers), logger.String("topic", cfg.KafkaTopic))
	}

	svc := service.New(catalog,
		service.WithLevel(cfg.Level),
		service.WithTickInterval(cfg.TickInterval()),
		service.WithMaxTickStep(cfg.MaxTickStep()),
		service.WithQueueSize(cfg.QueueSize),
		service.WithDedupeSize(cfg.DedupeSize),
		service.WithStationWorkers(cfg.StationWorkers),
		service.WithValidation(order.Validation(cfg.DeliveryValidation)),
		service.WithBonuses(cfg.TimeBonus, cfg.ComboBonus, cfg.ComboWindow()),
		service.WithStore(store),
		service.WithLeaderboardSnapshotInterval(cfg.LeaderboardSnapshotInterval()),
		service.WithSinks(sinks...),
		service.WithLogger(log.Named("service")),
	)
	if err := svc.Start(ctx); err != nil {
		_ = store.Close()
		return fmt.Errorf("failed to start service: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		if err := svc.Stop(stopCtx); err != nil {
			log.Error(stopCtx, "service stop failed", logger.Error(err))
		}
	}()

	hub := ws.NewHub(svc, ws.WithSendBuffer(cfg.SendBufferSize), ws.WithLogger(log.Named("ws")))
	svc.SetTransport(hub)

	go startSystemMetricsUpdater(ctx)
	go startServiceMetricsUpdater(ctx, svc)

	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(svc, svc, cfg.MaxLeaderboardLimit, api.WithWebSocket(hub)).Register(ctx, mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	if cfg.AutoStart {
		id, err := svc.StartMatch(ctx, cfg.Level)
		if err != nil {
			log.Error(ctx, "auto start failed", logger.Error(err))
		} else {
			log.Info(ctx, "match auto-started", logger.String("match_id", id), logger.String("level", cfg.Level))
		}
	}

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := hub.Close(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "websocket hub close failed", logger.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "server shutdown failed", logger.Error(err))
	}

	log.Info(shutdownCtx, "server stopped")
	return nil
}

func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

func startServiceMetricsUpdater(ctx context.Context, svc *service.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(svc)
		}
	}
}

func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}

func updateServiceMetrics(svc *service.Service) {
	stats := svc.GetStats()

	if n, ok := stats["activeOrders"].(int); ok {
		metrics.UpdateActiveOrders(n)
	}
	if n, ok := stats["rankedPlayers"].(int); ok {
		metrics.UpdateLeaderboardPlayers(n)
	}
}
