// Greenroom is a sidecar daemon for co-authoring character text fields
// with an LLM.
//
// It exposes a small HTTP/WebSocket API that a chat front-end's
// authoring panel talks to. Greenroom owns the request composition
// pipeline: connection profile resolution, instruct template layering,
// stop-sequence merging, history windowing, and dispatch to either a
// chat-style or text-style completion backend. Per-character
// conversation sessions are persisted to SQLite.
//
// Usage:
//
//	greenroom                  Start the daemon
//	greenroom -config <path>   Start with an explicit config file
//	greenroom -version         Print version and build information
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/greenroom-ai/greenroom/internal/api"
	"github.com/greenroom-ai/greenroom/internal/buildinfo"
	"github.com/greenroom-ai/greenroom/internal/completion"
	"github.com/greenroom-ai/greenroom/internal/config"
	"github.com/greenroom-ai/greenroom/internal/dispatch"
	"github.com/greenroom-ai/greenroom/internal/session"
)

// main is intentionally minimal. It constructs the OS-level environment
// and delegates immediately to [run], keeping os.Exit and os.Args out of
// the application logic so the full lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand: the flag
// package relies on package-level globals, which interferes with calling
// run concurrently from tests, and the argument surface is tiny.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-version" || args[i] == "version":
			fmt.Fprintln(stdout, buildinfo.String())
			return nil
		default:
			return fmt.Errorf("unknown argument %q", args[i])
		}
	}

	path, err := config.FindConfig(configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(stdout, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
	slog.SetDefault(logger)

	logger.Info("starting", "build", buildinfo.String(), "config", path)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	store, err := session.NewSQLiteStore(filepath.Join(cfg.DataDir, "sessions.db"))
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()

	sessions := session.NewManager(store, logger)
	chat := completion.NewChatClient(cfg.Completion.ChatURL, cfg.Completion.APIKey, logger)
	text := completion.NewTextClient(cfg.Completion.TextURL, cfg.Completion.APIKey, logger)
	dispatcher := dispatch.New(chat, text, nil, nil, logger)

	server := api.New(cfg, sessions, dispatcher, logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("api server: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
