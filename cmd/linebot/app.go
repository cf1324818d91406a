package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nugget/linebot-mcp/internal/command"
	"github.com/nugget/linebot-mcp/internal/config"
	"github.com/nugget/linebot-mcp/internal/events"
	"github.com/nugget/linebot-mcp/internal/knowledge"
	"github.com/nugget/linebot-mcp/internal/line"
	"github.com/nugget/linebot-mcp/internal/llm"
	"github.com/nugget/linebot-mcp/internal/metrics"
	"github.com/nugget/linebot-mcp/internal/mssql"
	"github.com/nugget/linebot-mcp/internal/objstore"
	"github.com/nugget/linebot-mcp/internal/paths"
	"github.com/nugget/linebot-mcp/internal/planner"
	"github.com/nugget/linebot-mcp/internal/quota"
	"github.com/nugget/linebot-mcp/internal/render"
	"github.com/nugget/linebot-mcp/internal/style"
	"github.com/nugget/linebot-mcp/internal/tools"
	"github.com/nugget/linebot-mcp/internal/tracelog"
	"github.com/nugget/linebot-mcp/internal/usage"
)

// app is the set of components shared by the mcp, serve and call
// commands. Build it with newApp and release it with Close.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	bus     *events.Bus
	metrics *metrics.Metrics
	ledger  *usage.Ledger
	line    *line.Client
	gemini  *llm.Gateway
	// db is nil when MSSQL is not configured.
	db       *mssql.DB
	presets  style.Presets
	objects  *objstore.Store
	registry *tools.Registry

	closers []io.Closer
}

// appOptions selects the pieces that differ between commands.
type appOptions struct {
	// LocalObjects stores rendered artifacts in this process. The serve
	// command sets it because it also answers GET /api/object; other
	// commands upload to PUBLIC_BASE_URL instead.
	LocalObjects bool
	// Stderr receives the gemini_command debug trace.
	Stderr io.Writer
}

// newApp wires configuration into clients, stores and the tool registry.
// No network connection is made here; clients connect on first use.
func newApp(cfg *config.Config, logger *slog.Logger, opts appOptions) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		bus:     events.New(),
		metrics: metrics.New(),
		presets: style.Presets{Dir: paths.Under(cfg.Docs.Root, cfg.Docs.PresetsDir)},
	}

	dataDir := paths.ExpandHome(cfg.DataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	usageStore, err := usage.Open(filepath.Join(dataDir, "usage.db"))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, usageStore)
	a.ledger = usage.NewLedger(usageStore, a.bus, a.metrics, logger)

	a.line = line.NewClient(cfg.Line.ChannelAccessToken, cfg.Line.APIBaseURL, logger)
	a.line.SetMetrics(a.metrics)

	a.gemini = llm.NewGateway(llm.Options{
		APIKey:  cfg.Gemini.APIKey,
		BaseURL: cfg.Gemini.BaseURL,
		Strict:  cfg.Gemini.NoFallback,
		Timeout: time.Duration(cfg.Gemini.TimeoutSeconds) * time.Second,
		Retry:   llm.DefaultRetryPolicy(),
		Metrics: a.metrics,
		Logger:  logger,
	})

	var querier mssql.Querier
	if cfg.MSSQL.Configured() {
		a.db = mssql.New(cfg.MSSQL, logger)
		a.closers = append(a.closers, a.db)
		querier = a.db
	} else {
		logger.Info("MSSQL not configured; database tools disabled")
	}

	guard, err := a.quotaGuard()
	if err != nil {
		a.Close()
		return nil, err
	}

	traceOpts := tracelog.FromConfig(cfg.Debug, opts.Stderr)
	traceOpts.File = paths.ExpandHome(traceOpts.File)
	trace, traceCloser, err := tracelog.New(traceOpts)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open gemini_command trace: %w", err)
	}
	a.closers = append(a.closers, traceCloser)

	a.objects = objstore.New(0, nil)
	executor := &planner.Executor{
		LINE:          a.line,
		Quota:         guard,
		Styles:        a.presets,
		Renderer:      render.New(paths.ExpandHome(cfg.Render.ThaiFontPath)),
		Uploader:      a.uploader(opts.LocalObjects),
		PublicBaseURL: cfg.Render.PublicBaseURL,
		DefaultUserID: cfg.Line.DestinationUserID,
		Logger:        logger,
	}

	root := paths.ExpandHome(cfg.Docs.Root)
	runner := &command.Runner{
		Gemini:    a.gemini,
		Knowledge: &knowledge.Loader{Root: root, DB: querier, Logger: logger},
		DB:        querier,
		Presets:   a.presets,
		Executor:  executor,
		Trace:     trace,
	}

	a.registry = tools.NewRegistry(a.metrics, a.ledger, logger)
	tools.Register(a.registry, &tools.Deps{
		LINE:          a.line,
		Gemini:        a.gemini,
		DB:            querier,
		Quota:         guard,
		Command:       runner,
		Presets:       a.presets,
		DefaultUserID: cfg.Line.DestinationUserID,
		Root:          root,
		Logger:        logger,
	})

	a.ledger.SetStatus(false, false, a.gemini.Configured())
	return a, nil
}

// quotaGuard shares snapshots through Redis when a URL is configured,
// falling back to an in-process cache.
func (a *app) quotaGuard() (*quota.Guard, error) {
	ttl := time.Duration(a.cfg.Quota.TTLSeconds) * time.Second
	var cache quota.Cache = quota.NewMemoryCache(ttl, nil)
	if url := strings.TrimSpace(a.cfg.Quota.RedisURL); url != "" {
		rc, err := quota.NewRedisCache(url, ttl, a.logger)
		if err != nil {
			return nil, fmt.Errorf("quota redis cache: %w", err)
		}
		a.closers = append(a.closers, rc)
		cache = rc
		a.logger.Info("quota cache shared via redis")
	}
	return quota.NewGuard(a.line, cache, a.logger), nil
}

// uploader picks where rendered PDFs and images go.
func (a *app) uploader(local bool) objstore.Uploader {
	if local {
		return &objstore.LocalUploader{Store: a.objects, PublicBaseURL: a.cfg.Render.PublicBaseURL}
	}
	return objstore.NewHTTPUploader(a.cfg.Render.PublicBaseURL)
}

// Close releases stores and files in reverse order of creation.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
