// Dealsense is an AI sales intelligence service.
//
// It accepts analysis jobs over an HTTP API, runs each one through a
// bounded LLM tool-calling loop against the CRM, knowledge base, and
// public web, and persists the structured result for polling.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	dealsense serve          Start the API server and job worker
//	dealsense version        Print version and build information
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dealsense/dealsense/internal/agent"
	"github.com/dealsense/dealsense/internal/atlas"
	"github.com/dealsense/dealsense/internal/buildinfo"
	"github.com/dealsense/dealsense/internal/config"
	"github.com/dealsense/dealsense/internal/events"
	"github.com/dealsense/dealsense/internal/fetch"
	"github.com/dealsense/dealsense/internal/hub"
	"github.com/dealsense/dealsense/internal/job"
	"github.com/dealsense/dealsense/internal/llm"
	"github.com/dealsense/dealsense/internal/profile"
	"github.com/dealsense/dealsense/internal/queue"
	"github.com/dealsense/dealsense/internal/search"
	"github.com/dealsense/dealsense/internal/tools"
	"github.com/dealsense/dealsense/internal/web"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main constructs the OS-level environment and delegates to [run] so
// the full lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run parses arguments and dispatches to the requested command. The
// flag package is avoided because its package-level globals interfere
// with calling run() concurrently from tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var command string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "version":
		return runVersion(stdout)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func runVersion(w io.Writer) error {
	fmt.Fprintln(w, buildinfo.String())
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(buildinfo.Info())
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Dealsense - AI Sales Intelligence Service")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: dealsense [flags] <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server and job worker")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	return nil
}

// runServe is the primary operating mode: load config, open the job
// store, connect the queue, start the worker and the HTTP server, and
// block until a shutdown signal arrives.
//
// Shutdown sequence:
//  1. SIGINT or SIGTERM cancels the context
//  2. The HTTP server drains in-flight requests
//  3. The worker finishes its current job and exits
//  4. Store and queue connections close via defers
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting Dealsense", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	// Reconfigure the logger now that the desired level is known.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}
	logger.Info("config loaded", "path", cfgPath, "port", cfg.Listen.Port, "model", cfg.Anthropic.Model)

	if cfg.Anthropic.APIKey == "" {
		return errors.New("anthropic.api_key is required")
	}
	if cfg.Hub.URL == "" {
		return errors.New("hub.url is required")
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	// --- Job store ---
	dbPath := filepath.Join(cfg.DataDir, "dealsense.db")
	store, err := job.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open job database %s: %w", dbPath, err)
	}
	defer store.Close()
	logger.Info("job database opened", "path", dbPath)

	// --- Event bus ---
	bus := events.New()

	// --- External clients ---
	llmClient := llm.NewAnthropicClient(cfg.Anthropic.APIKey, logger)
	hubClient := hub.NewClient(cfg.Hub.URL, nil, logger)
	atlasClient := atlas.NewClient(cfg.Atlas.URL, cfg.Atlas.APIKey, logger)

	var fetcher *fetch.Fetcher
	if cfg.Fetch.Enabled {
		fetcher = fetch.New(cfg.Fetch.ProbeURL)
	}

	var searcher *search.Manager
	if cfg.Search.Enabled && cfg.Search.APIKey != "" {
		searcher = search.NewManager("brave")
		searcher.Register(search.NewBrave(cfg.Search.APIKey))
		logger.Info("web search enabled", "provider", "brave")
	}

	// --- Analysis profiles ---
	var profiles profile.Provider = profile.Static{}
	if cfg.Profiles.Path != "" {
		profiles = profile.NewFileProvider(cfg.Profiles.Path, 0, logger)
		logger.Info("analysis profiles enabled", "path", cfg.Profiles.Path)
	}

	// --- Job pipeline ---
	builder := &tools.Builder{
		Atlas:           atlasClient,
		Fetcher:         fetcher,
		Search:          searcher,
		Hub:             hubClient,
		ExcludeCRMTools: cfg.Hub.ExcludeTools,
		Logger:          logger,
		Bus:             bus,
	}
	loop := agent.New(llmClient, cfg.Anthropic.Model, bus, logger)
	runner := job.NewRunner(store, loop, hubClient, builder, profiles, bus, logger)
	retrying := job.NewRetryRunner(runner, store, bus, logger)

	// --- Queue and worker ---
	q, err := queue.New(cfg.Queue.RedisURL, cfg.Queue.Key)
	if err != nil {
		return fmt.Errorf("connect queue: %w", err)
	}
	defer q.Close()

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := q.Ping(pingCtx); err != nil {
		pingCancel()
		return fmt.Errorf("queue unreachable at %s: %w", cfg.Queue.RedisURL, err)
	}
	pingCancel()
	logger.Info("queue connected", "key", cfg.Queue.Key)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	worker := queue.NewWorker(q, retrying, bus, logger)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		worker.Run(ctx)
	}()

	// --- HTTP server ---
	server := web.NewServer(store, q, bus, logger)
	addr := fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Router(),
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		stop()
		<-workerDone
		return fmt.Errorf("HTTP server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	<-workerDone
	logger.Info("shutdown complete")
	return nil
}

// newLogger builds the process logger writing text to w.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}
