// Noah is a clinical assistant for nurses.
//
// It answers questions over a curated clinical knowledge base, reads
// patient data logs, and drafts nursing notes and shift handoff reports
// for human review. It exposes an HTTP and WebSocket API and a CLI for
// one-shot questions and knowledge base ingestion. Configuration is
// loaded from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	noah serve               Start the API server
//	noah init [dir]          Initialize a working directory with defaults
//	noah ask <question>      Ask a single question (for testing)
//	noah ingest <path>       Load documents into the knowledge base
//	noah version             Print version and build information
//	noah -o json version     Output version information as JSON
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
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/noah-ai-agent/internal/agent"
	"github.com/nugget/noah-ai-agent/internal/api"
	"github.com/nugget/noah-ai-agent/internal/audit"
	"github.com/nugget/noah-ai-agent/internal/buildinfo"
	"github.com/nugget/noah-ai-agent/internal/config"
	"github.com/nugget/noah-ai-agent/internal/health"
	"github.com/nugget/noah-ai-agent/internal/knowledge"
)

// main constructs the OS-level environment and delegates to [run], which
// keeps os.Exit, os.Stdout and os.Args out of the application logic.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the noah command. Structured logs go
// to stdout; fatal error messages are returned to the caller. Arguments
// are parsed by hand so that run has no package-level state and can be
// called concurrently from tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: noah ask <question>")
		}
		return runAsk(ctx, stdout, stderr, configPath, outputFmt, cmdArgs)
	case "ingest":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: noah ingest <file-or-directory>")
		}
		return runIngest(ctx, stdout, stderr, configPath, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Noah - Clinical Assistant for Nurses")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: noah [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve          Start the API server")
	fmt.Fprintln(w, "  init [dir]     Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  ask            Ask a single question (for testing)")
	fmt.Fprintln(w, "  ingest <path>  Load markdown, HTML or text documents into the knowledge base")
	fmt.Fprintln(w, "  version        Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/noah/config.yaml, /etc/noah/config.yaml")
	return nil
}

// runAsk handles "noah ask <question>". It boots the full turn pipeline
// over an in-memory history store, runs one turn and prints the reply.
func runAsk(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath, outputFmt string, args []string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Logs go to stderr so stdout carries only the answer.
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := newLogger(stderr, max(level, slog.LevelWarn), cfg.LogFormat)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	// Nothing from a one-shot question needs to outlive the process.
	cfg.Store.Backend = "memory"
	rt, err := buildServices(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	res, err := rt.Orchestrator.RunTurn(ctx, agent.TurnRequest{
		SessionID: "cli-" + uuid.New().String(),
		UserID:    "cli",
		Input:     strings.Join(args, " "),
	})
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprintln(stdout, res.FinalText)
	return nil
}

// runIngest handles "noah ingest <path>...". Each path may be a single
// document or a directory walked recursively. Re-ingesting a file
// replaces its previous chunks.
func runIngest(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string, paths []string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	store, err := knowledge.NewStore(cfg.Knowledge.Path)
	if err != nil {
		return fmt.Errorf("open knowledge store: %w", err)
	}
	defer store.Close()

	ingester := knowledge.NewIngester(store, knowledge.IngesterConfig{
		Embedder:     newEmbedder(cfg, logger),
		ChunkSize:    cfg.Knowledge.ChunkSize,
		ChunkOverlap: cfg.Knowledge.ChunkOverlap,
		Logger:       logger,
	})

	var total knowledge.IngestResult
	for _, p := range paths {
		res, err := ingester.IngestPath(ctx, p)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", p, err)
		}
		total.Files += res.Files
		total.Chunks += res.Chunks
		total.Skipped = append(total.Skipped, res.Skipped...)
	}

	for _, s := range total.Skipped {
		fmt.Fprintf(stderr, "skipped unsupported file %s\n", s)
	}
	logger.Info("ingestion complete", "files", total.Files, "chunks", total.Chunks, "skipped", len(total.Skipped))
	fmt.Fprintf(stdout, "Ingested %d chunks from %d files\n", total.Chunks, total.Files)
	return nil
}

// runServe handles "noah serve". It loads config, opens the stores,
// starts the API server and the optional audit publisher, and blocks
// until a shutdown signal arrives. In-flight turns drain before the
// stores are closed.
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Noah", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Everything after the banner uses the configured level and format.
	{
		level, _ := config.ParseLogLevel(cfg.LogLevel)
		logger = newLogger(stdout, level, cfg.LogFormat)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Models.Default,
		"store", cfg.Store.Backend,
	)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Audit events are optional; the publisher is created before the
	// orchestrator so its hook can be wired in.
	var publisher *audit.Publisher
	if cfg.MQTT.Configured() {
		sourceID, err := audit.SourceID(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("audit source id: %w", err)
		}
		publisher = audit.New(cfg.MQTT, sourceID, logger)
	}

	var observer func(context.Context, *agent.TurnResult)
	if publisher != nil {
		observer = publisher.TurnCompleted
	}

	rt, err := buildServices(ctx, cfg, logger, withObserver(observer))
	if err != nil {
		return err
	}
	defer rt.Close()

	if publisher != nil {
		go func() {
			if err := publisher.Start(ctx); err != nil {
				logger.Error("audit publisher failed", "error", err)
			}
		}()
		logger.Info("audit publisher enabled", "broker", cfg.MQTT.Broker)
	}

	monitor := health.NewMonitor(logger)
	for name, check := range rt.Checks {
		monitor.Watch(ctx, name, check, health.DefaultSchedule())
	}
	defer monitor.Stop()

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, rt.Orchestrator, rt.History, logger)
	server.SetPatientStore(rt.Patients)
	server.SetProfileStore(rt.Profiles)
	server.SetRetriever(rt.Retriever, cfg.Knowledge.TopK)
	server.SetHealth(monitor)
	if rt.Usage != nil {
		server.SetUsageSource(rt.Usage)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api shutdown incomplete", "error", err)
	}
	if publisher != nil {
		if err := publisher.Stop(shutdownCtx); err != nil {
			logger.Warn("audit publisher stop failed", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// newLogger creates a structured logger that writes to w at the given
// level. Format is "json" or anything else for text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used (and must exist).
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
