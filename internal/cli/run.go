package cli

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tehaksbrid/shop-databaser/internal/api"
	"github.com/tehaksbrid/shop-databaser/internal/config"
	"github.com/tehaksbrid/shop-databaser/internal/core"
	"github.com/tehaksbrid/shop-databaser/internal/registry"
)

var (
	runListen    string
	runLogLevel  string
	runLogFormat string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync daemon",
	Long: `Start one sync loop per registered store and serve the local API.

The daemon reloads config.toml from the data directory whenever it changes.`,
	Args: cobra.NoArgs,
	Run:  runDaemon,
}

func init() {
	runCmd.Flags().StringVar(&runListen, "listen", envOrDefault("SHOPDB_LISTEN", defaultAPIAddr), "Listen address")
	runCmd.Flags().StringVar(&runLogLevel, "log-level", envOrDefault("SHOPDB_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	runCmd.Flags().StringVar(&runLogFormat, "log-format", envOrDefault("SHOPDB_LOG_FORMAT", "text"), "Log format (json, text)")
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func runDaemon(cmd *cobra.Command, args []string) {
	logger := newLogger(runLogLevel, runLogFormat)

	cfg, err := config.Initialize(dataDir)
	if err != nil {
		exitError("%v", err)
	}

	reg, err := registry.Open(cfg.RegistryPath())
	if err != nil {
		exitError("failed to open registry: %v", err)
	}
	defer reg.Close()

	svc, err := core.New(core.Options{
		Config:   cfg,
		Registry: reg,
		Logger:   logger,
		Console:  os.Stderr,
	})
	if err != nil {
		exitError("%v", err)
	}

	hub := api.NewHub(logger)
	svc.SetPublisher(hub)

	h, err := api.Handler(svc, hub, logger)
	if err != nil {
		exitError("%v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		exitError("%v", err)
	}

	go func() {
		if err := config.Watch(ctx, dataDir, logger, svc.ReloadConfig); err != nil {
			logger.Warn("config watcher stopped", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:              runListen,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("starting shopdb", "listen", runListen, "data_dir", dataDir)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			done <- syscall.SIGTERM
		}
	}()

	<-done
	logger.Info("shutting down...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	// Stop the sync loops; each persists its metadata before returning.
	cancel()
	svc.Wait()
	logger.Info("daemon stopped")
}
