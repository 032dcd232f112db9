// Service entry point for the memory lifecycle engine.
//
// Usage:
//
//	memflow serve                        # run the engine
//	memflow serve --config memflow.yaml  # with a config file
//	memflow stats --user u1              # per-user memory aggregate
//	memflow purge --user u1              # remove every trace of a user
//	memflow version
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	memflow "github.com/BaSui01/memflow"
	"github.com/BaSui01/memflow/config"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "stats":
		runStats(os.Args[2:])
	case "purge":
		runPurge(os.Args[2:])
	case "version":
		fmt.Printf("memflow %s (built %s, commit %s)\n", Version, BuildTime, GitCommit)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`memflow - memory lifecycle engine

Commands:
  serve     Run the engine with metrics and health endpoints
  stats     Print the memory aggregate for a user
  purge     Delete all memories, index entries and cache for a user
  version   Print version information

Examples:
  memflow serve --config /etc/memflow/memflow.yaml
  memflow stats --user u1
  memflow purge --user u1`)
}

func loadConfig(path string) *config.Config {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	metricsAddr := fs.String("metrics-addr", ":9091", "Metrics/health listen address")
	_ = fs.Parse(args)

	cfg := loadConfig(*configPath)
	logger := cfg.BuildLogger()
	defer func() { _ = logger.Sync() }()

	logger.Info("starting memflow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	engine, err := memflow.New(cfg, memflow.WithLogger(logger))
	if err != nil {
		logger.Fatal("engine start failed", zap.Error(err))
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{
		Addr:         *metricsAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("metrics endpoint up", zap.String("addr", *metricsAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if err := engine.Close(); err != nil {
		logger.Error("engine shutdown error", zap.Error(err))
	}
	logger.Info("memflow stopped")
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	userID := fs.String("user", "", "User ID")
	_ = fs.Parse(args)

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "stats requires --user")
		os.Exit(1)
	}

	engine := mustEngine(loadConfig(*configPath))
	defer func() { _ = engine.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stats, err := engine.Stats(ctx, *userID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Stats failed: %v\n", err)
		os.Exit(1)
	}
	out, _ := json.MarshalIndent(stats, "", "  ")
	fmt.Println(string(out))
}

func runPurge(args []string) {
	fs := flag.NewFlagSet("purge", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	userID := fs.String("user", "", "User ID")
	_ = fs.Parse(args)

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "purge requires --user")
		os.Exit(1)
	}

	engine := mustEngine(loadConfig(*configPath))
	defer func() { _ = engine.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := engine.PurgeUser(ctx, *userID); err != nil {
		fmt.Fprintf(os.Stderr, "Purge failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("purged user %s\n", *userID)
}

func mustEngine(cfg *config.Config) *memflow.Engine {
	engine, err := memflow.New(cfg, memflow.WithLogger(zap.NewNop()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Engine start failed: %v\n", err)
		os.Exit(1)
	}
	return engine
}
