// Command comradarrd runs the automation control plane: it loads
// configuration, opens the database, starts the metrics and health
// listeners, and hands control to the Scheduler Orchestrator until it
// receives a shutdown signal.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/zapr"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/engels74/comradarr/internal/config"
	"github.com/engels74/comradarr/internal/database"
	"github.com/engels74/comradarr/internal/httpapi"
	"github.com/engels74/comradarr/pkg/cron"
	"github.com/engels74/comradarr/pkg/metrics"
	"github.com/engels74/comradarr/pkg/mirror"
	"github.com/engels74/comradarr/pkg/notify"
	"github.com/engels74/comradarr/pkg/pending"
	"github.com/engels74/comradarr/pkg/reconnect"
	"github.com/engels74/comradarr/pkg/registry"
	"github.com/engels74/comradarr/pkg/scheduler"
	"github.com/engels74/comradarr/pkg/settings"
	"github.com/engels74/comradarr/pkg/shared/logging"
	"github.com/engels74/comradarr/pkg/store"
	"github.com/engels74/comradarr/pkg/sweep"
	"github.com/engels74/comradarr/pkg/throttle"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the comradarrd YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "comradarrd: %v\n", err)
		os.Exit(1)
	}

	zapLogger, logrusLogger := buildLoggers(cfg.Logging)
	defer zapLogger.Sync()
	logFields := func(f logging.Fields) {
		zapLogger.Info("event", f.ToZap()...)
	}
	logrLogger := zapr.NewLogger(zapLogger)

	dbCfg := database.DefaultConfig()
	dbCfg.Host = cfg.Database.Host
	dbCfg.Port = cfg.Database.Port
	dbCfg.User = cfg.Database.User
	dbCfg.Password = cfg.Database.Password
	dbCfg.Database = cfg.Database.Database
	dbCfg.SSLMode = cfg.Database.SSLMode

	db, err := database.Connect(dbCfg, logrusLogger)
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := store.Migrate(db.DB); err != nil {
		zapLogger.Fatal("failed to run database migrations", zap.Error(err))
	}

	repos := store.New(db)

	metricsServer := metrics.NewServer(cfg.Server.MetricsPort, logrusLogger)
	metricsServer.StartAsync()

	dispatcher := notify.NewDispatcher()
	dispatcher.Log = logFields
	dispatcher.Register(notify.LogListener(logFields))

	clients := newClientRegistry()
	if err := clients.loadEnabled(context.Background(), repos.Connectors); err != nil {
		zapLogger.Fatal("failed to initialize connector clients", zap.Error(err))
	}

	reconnectSupervisor := reconnect.NewSupervisor(repos.Connectors, clients.resolve)
	reconnectSupervisor.Notifier = dispatcher

	healthHandler := httpapi.NewHandler(db, repos.Connectors, repos.Pending, reconnectSupervisor)
	healthHandler.Logger = logrLogger
	healthServer := &http.Server{Addr: ":" + cfg.Server.HealthPort, Handler: healthHandler.Router()}
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Error("health server stopped unexpectedly", zap.Error(err))
		}
	}()

	bridge := settings.NewBridge(settings.NewMemoryBackend())

	mirrorSyncer := mirror.NewSyncer(repos.Content)
	mirrorSyncer.Notifier = dispatcher
	snapshots := mirror.NewSnapshotTracker(repos.Snapshots, repos.Content)

	cooldown := bridge.Cooldown(context.Background(), fallbackCooldown(cfg.Search.Cooldown))
	registryManager := registry.NewManager(repos.Registry, cooldown)

	throttleGovernor := throttle.NewGovernor()
	sweepRunner := sweep.NewRunner(mirrorSyncer, registryManager, repos.Content, repos.Pending, throttleGovernor)

	pendingTracker := pending.NewTracker(repos.Pending, registryManager, clients.resolve)
	pendingTracker.Notifier = dispatcher

	builder := newTargetBuilder(cfg, bridge, clients, throttleGovernor)

	orchestrator := scheduler.NewOrchestrator(
		repos.Schedules,
		repos.Connectors,
		cron.NewEngine(),
		sweepRunner,
		pendingTracker,
		reconnectSupervisor,
		snapshots,
		builder.build,
	)
	orchestrator.Notifier = dispatcher
	orchestrator.Log = logFields

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := orchestrator.Start(ctx); err != nil {
		zapLogger.Fatal("failed to start scheduler orchestrator", zap.Error(err))
	}
	dispatcher.Notify(ctx, string(notify.EventAppStarted), map[string]any{"webhook_port": cfg.Server.WebhookPort})

	<-ctx.Done()
	zapLogger.Info("shutdown signal received, draining in-flight work")

	if err := orchestrator.Stop(); err != nil {
		zapLogger.Error("orchestrator stop returned error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("health server shutdown returned error", zap.Error(err))
	}
	if err := metricsServer.Stop(shutdownCtx); err != nil {
		zapLogger.Error("metrics server shutdown returned error", zap.Error(err))
	}
}

// buildLoggers constructs the process's two logger handles: a zap
// logger for every structured logging.Fields call site, and a logrus
// logger for the two collaborators (internal/database, pkg/metrics)
// that predate the zap migration and still take one directly. main
// wraps the zap logger with zapr for the httpapi request logger.
func buildLoggers(cfg config.LoggingConfig) (*zap.Logger, *logrus.Logger) {
	zapCfg := zap.NewProductionConfig()
	zapCfg.OutputPaths = []string{"stdout"}
	zapCfg.ErrorOutputPaths = []string{"stderr"}
	if cfg.Format == "console" {
		zapCfg.Encoding = "console"
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err == nil {
		zapCfg.Level = zap.NewAtomicLevelAt(level)
	}

	zapLogger, err := zapCfg.Build()
	if err != nil {
		zapLogger = zap.NewNop()
	}

	logrusLogger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logrusLogger.SetLevel(level)
	}
	if cfg.Format == "json" {
		logrusLogger.SetFormatter(&logrus.JSONFormatter{})
	}

	return zapLogger, logrusLogger
}
