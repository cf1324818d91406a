package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/linebot-mcp/internal/command"
	"github.com/nugget/linebot-mcp/internal/errorsx"
	"github.com/nugget/linebot-mcp/internal/llm"
	"github.com/nugget/linebot-mcp/internal/mssql"
	"github.com/nugget/linebot-mcp/internal/planner"
)

// LINE is the Messaging API surface the tools drive.
type LINE interface {
	planner.Messenger
	DeleteRichMenu(ctx context.Context, id string) error
	SetDefaultRichMenu(ctx context.Context, id string) error
	CancelDefaultRichMenu(ctx context.Context) error
}

// GuidelineSource supplies the optional Flex authoring guidelines.
type GuidelineSource interface {
	FlexGuidelines() string
}

// Deps are the collaborators shared by every tool.
type Deps struct {
	LINE   LINE
	Gemini llm.Generator
	// DB is nil when MSSQL is not configured; the query tools then fail
	// with a config error.
	DB      mssql.Querier
	Quota   planner.QuotaChecker
	Command *command.Runner
	Presets GuidelineSource
	// DefaultUserID is DESTINATION_USER_ID.
	DefaultUserID string
	// Root is the directory knowledge exports are written under.
	Root   string
	Now    func() time.Time
	Logger *slog.Logger
}

func (d *Deps) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

func (d *Deps) db() (mssql.Querier, error) {
	if d.DB == nil {
		return nil, mssql.ErrIncompleteConfig
	}
	return d.DB, nil
}

// Register adds all eighteen tools to r.
func Register(r *Registry, d *Deps) {
	registerLINETools(r, d)
	registerGeminiTools(r, d)
	registerMSSQLTools(r, d)
}

// failed prefixes unexpected errors. Errors that already carry a reason
// are complete user-facing messages and pass through unchanged.
func failed(prefix string, err error) error {
	if err == nil || errorsx.Reason(err) != errorsx.ReasonUnknown {
		return err
	}
	return fmt.Errorf("%s%w", prefix, err)
}

func schema(required []string, props map[string]any) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func str(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func integer(desc string, lo, hi, def int) map[string]any {
	return map[string]any{"type": "integer", "description": desc, "minimum": lo, "maximum": hi, "default": def}
}
