package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/nugget/linebot-mcp/internal/api"
	"github.com/nugget/linebot-mcp/internal/buildinfo"
	"github.com/nugget/linebot-mcp/internal/connwatch"
	"github.com/nugget/linebot-mcp/internal/errorsx"
	"github.com/nugget/linebot-mcp/internal/mcp"
	"github.com/nugget/linebot-mcp/internal/opstate"
	"github.com/nugget/linebot-mcp/internal/paths"
	"github.com/nugget/linebot-mcp/internal/web"
	"github.com/nugget/linebot-mcp/internal/webhook"
)

// shutdownTimeout bounds how long serve waits for in-flight requests.
const shutdownTimeout = 10 * time.Second

// runMCP serves the tool registry over MCP on stdin/stdout until stdin
// closes or ctx is cancelled. Logs go to stderr only.
func runMCP(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := cfg.Logger(stderr)
	if err := cfg.RequireLine(); err != nil {
		return err
	}
	logger.Info("starting linebot mcp", "version", buildinfo.Version, "config", cfgPath)

	a, err := newApp(cfg, logger, appOptions{Stderr: stderr})
	if err != nil {
		return err
	}
	defer a.Close()
	a.ledger.SetStatus(true, false, a.gemini.Configured())

	return mcp.NewServer(a.registry, logger).Serve(ctx, stdin, stdout)
}

// runCall invokes a single tool with optional JSON arguments and prints
// the result text. An error result is returned as an error so the exit
// status reflects it.
func runCall(ctx context.Context, stdout, stderr io.Writer, configPath string, args []string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := cfg.Logger(stderr)

	toolArgs := map[string]any{}
	if len(args) > 1 {
		if err := json.Unmarshal([]byte(args[1]), &toolArgs); err != nil {
			return errorsx.Wrap(fmt.Errorf("parse tool arguments: %w", err), errorsx.ReasonInvalidArgs)
		}
	}

	a, err := newApp(cfg, logger, appOptions{Stderr: stderr})
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.registry.Call(ctx, args[0], toolArgs)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, res.Text())
	if res.IsError {
		return fmt.Errorf("tool %s failed", args[0])
	}
	return nil
}

// runServe starts the LINE webhook, object store and admin console on
// one listener and blocks until ctx is cancelled.
//
// The shutdown sequence is:
//  1. SIGINT or SIGTERM cancels the context
//  2. The HTTP server drains in-flight requests
//  3. Health watchers stop
//  4. Stores and the MCP subprocess are closed via defers
func runServe(ctx context.Context, stdout, stderr io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := cfg.Logger(stdout)
	logger.Info("starting linebot", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)
	if err := cfg.RequireLine(); err != nil {
		return err
	}
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"mssql", cfg.MSSQL.Configured(),
		"preferences", cfg.Webhook.Preferences,
	)
	if cfg.Line.SkipSignatureVerify {
		logger.Warn("webhook signature verification is disabled")
	}

	a, err := newApp(cfg, logger, appOptions{LocalObjects: true, Stderr: stderr})
	if err != nil {
		return err
	}
	defer a.Close()

	root := paths.ExpandHome(cfg.Docs.Root)
	watchers := connwatch.NewManager(a.bus, logger)
	defer watchers.Stop()
	if a.db != nil {
		watchers.Watch(ctx, connwatch.Service{Name: "mssql", Probe: a.db.Ping})
	}

	caller := webhook.ToolCaller(a.registry)
	if argv := cfg.Webhook.MCPCommand; len(argv) > 0 {
		client := mcp.NewClient(mcp.NewStdioTransport(mcp.StdioConfig{
			Command: argv[0],
			Args:    argv[1:],
			Dir:     root,
			Logger:  logger,
		}), logger)
		defer client.Close()
		watchers.Watch(ctx, connwatch.Service{Name: "mcp", Probe: client.Ping})
		caller = client
		logger.Info("webhook tools routed through MCP subprocess", "command", argv)
	}
	a.ledger.SetStatus(len(cfg.Webhook.MCPCommand) > 0, false, a.gemini.Configured())

	prefs, closePrefs, err := openPreferences(cfg.Webhook.Preferences, paths.ExpandHome(cfg.DataDir))
	if err != nil {
		return err
	}
	defer closePrefs()

	hook := webhook.New(webhook.Config{
		ChannelSecret:        cfg.Line.ChannelSecret,
		SkipVerify:           cfg.Line.SkipSignatureVerify,
		DestinationUserID:    cfg.Line.DestinationUserID,
		DefaultKnowledgeFile: cfg.Docs.DefaultKnowledgeFile,
		RatePerSecond:        cfg.Webhook.RatePerSecond,
		Burst:                cfg.Webhook.Burst,
	}, caller, prefs, logger)
	hook.SetEvents(a.bus)
	hook.SetMetrics(a.metrics)
	hook.SetLedger(a.ledger)

	admin := web.NewWebServer(web.Config{
		Tools:        a.registry,
		Ledger:       a.ledger,
		Presets:      a.presets,
		Root:         root,
		Bus:          a.bus,
		Metrics:      a.metrics,
		HealthFunc:   watchers.Status,
		Username:     cfg.Admin.Username,
		PasswordHash: cfg.Admin.PasswordHash,
		Logger:       logger,
	})

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, logger)
	server.SetWebhook(hook)
	server.SetObjectStore(a.objects)
	server.SetAdmin(admin)
	server.SetHealthFunc(watchers.Status)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}
	return nil
}

// openPreferences returns the per-user preference store and its closer.
func openPreferences(kind, dataDir string) (webhook.Preferences, func(), error) {
	if kind != "sqlite" {
		return opstate.NewMemory(), func() {}, nil
	}
	store, err := opstate.Open(filepath.Join(dataDir, "preferences.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("open preference store: %w", err)
	}
	return store, func() { store.Close() }, nil
}
