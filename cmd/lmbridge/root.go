package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hyperengineering/lmbridge/internal/api"
	"github.com/hyperengineering/lmbridge/internal/config"
	"github.com/hyperengineering/lmbridge/internal/mirror"
	"github.com/hyperengineering/lmbridge/internal/pool"
	"github.com/hyperengineering/lmbridge/internal/releasefilter"
	"github.com/hyperengineering/lmbridge/internal/worker"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var envFile string

var rootCmd = &cobra.Command{
	Use:   "lmbridge",
	Short: "LM-Bridge - metadata mirror bridge with query and response hooks",
	// Configuration problems are reported by RunE; usage is noise there.
	SilenceUsage:      true,
	PersistentPreRunE: loadEnvFile,
	RunE:              run,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env",
		"Dotenv file loaded before configuration; a missing file is ignored")

	rootCmd.AddCommand(cacheInitCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadEnvFile exports variables from the dotenv file without overriding
// anything already set in the environment.
func loadEnvFile(cmd *cobra.Command, args []string) error {
	if envFile == "" {
		return nil
	}
	if _, err := os.Stat(envFile); err != nil {
		return nil
	}
	if err := godotenv.Load(envFile); err != nil {
		return fmt.Errorf("load %s: %w", envFile, err)
	}
	return nil
}

// loadConfig loads configuration and installs the process logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	setupLogger(cfg.Log)
	slog.Info("configuration loaded", "log_level", cfg.Log.Level)
	return cfg, nil
}

func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func run(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration and logger
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	version := cfg.Version.Resolve()

	// 3. Database pools
	pools, err := pool.FromConfig(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := pools.Close(); err != nil {
			slog.Error("pool close error", "error", err)
		}
	}()
	slog.Info("pools initialized", "pools", pools.Keys())

	// 4. Cache store (honours the cache-init marker)
	store, cacheState, err := openCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("cache close error", "error", err)
		}
	}()

	// 5. Hook stages
	registerBuiltinHooks()
	filter := releasefilter.New(cfg.ReleaseFilter)
	queries := buildQueryStage(cfg, pools, filter)
	responses := buildResponseStage(cfg)

	// 6. Mirror lookups
	m, err := mirror.New(queries)
	if err != nil {
		return err
	}
	lookup := mirror.NewCached(m, store, time.Duration(cfg.Cache.AlbumTTL))

	// 7. HTTP router
	handler := api.NewHandler(lookup, filter, version, api.RuntimeInfo{
		Pools:         pools.Keys(),
		QueryHooks:    queries.HookNames(),
		ResponseHooks: responses.HookNames(),
		Cache:         cacheState,
	})
	router := api.NewRouter(handler, responses)
	slog.Info("router initialized")

	// 8. Configure HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// 9. Workers
	var wg sync.WaitGroup
	if interval := time.Duration(cfg.Cache.SweepInterval); interval > 0 && cacheState == cacheEnabled {
		sweeper := worker.NewCacheSweepWorker(store, interval, time.Duration(cfg.Cache.Retention))
		startWorker(ctx, &wg, "cache-sweep", sweeper.Run)
	}

	// 10. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr, "version", version)
		// ErrServerClosed is the expected error when Shutdown() is called gracefully.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	// 11. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	wg.Wait()

	slog.Info("shutdown complete")
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background worker goroutine that respects context cancellation.
// Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
