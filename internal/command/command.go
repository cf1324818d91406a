// Package command implements gemini_command: load knowledge, then either
// answer a question directly (qa mode) or have Gemini pick one LINE
// action and run it (actions mode).
package command

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nugget/linebot-mcp/internal/errorsx"
	"github.com/nugget/linebot-mcp/internal/knowledge"
	"github.com/nugget/linebot-mcp/internal/line"
	"github.com/nugget/linebot-mcp/internal/llm"
	"github.com/nugget/linebot-mcp/internal/mssql"
	"github.com/nugget/linebot-mcp/internal/planner"
	"github.com/nugget/linebot-mcp/internal/prompts"
	"github.com/nugget/linebot-mcp/internal/style"
)

// DefaultModel is used when a call names no model.
const DefaultModel = "gemini-2.0-flash"

// Modes.
const (
	ModeAuto    = "auto"
	ModeActions = "actions"
	ModeQA      = "qa"
)

// Args are the gemini_command tool arguments.
type Args struct {
	Instruction     string         `mapstructure:"instruction"`
	Model           string         `mapstructure:"model"`
	FilePath        string         `mapstructure:"filePath"`
	KnowledgeSource string         `mapstructure:"knowledgeSource"`
	UserID          string         `mapstructure:"userId"`
	Mode            string         `mapstructure:"mode"`
	DBQuery         string         `mapstructure:"dbQuery"`
	DBParams        map[string]any `mapstructure:"dbParams"`
	DBLimit         int            `mapstructure:"dbLimit"`
}

// Presets supplies the brand voice and reply style.
type Presets interface {
	Style() style.Config
	Brand() string
}

// Runner executes gemini_command invocations.
type Runner struct {
	Gemini    llm.Generator
	Knowledge *knowledge.Loader
	// DB backs the qa fast path; nil disables it.
	DB       mssql.Querier
	Presets  Presets
	Executor *planner.Executor
	// Trace receives the per-invocation debug trace.
	Trace *slog.Logger
}

// QAResult is returned from qa mode.
type QAResult struct {
	Pushed  *line.SentMessages `json:"pushed"`
	Preview string             `json:"preview"`
}

func (r *Runner) trace() *slog.Logger {
	if r.Trace == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.Trace
}

// Run handles one invocation. Errors without a reason code are
// unexpected failures and get a mode-specific prefix.
func (r *Runner) Run(ctx context.Context, args Args) (any, error) {
	args = withDefaults(args)
	r.trace().Info("invoke",
		"mode", args.Mode,
		"knowledge_source", args.KnowledgeSource,
		"user_id", line.FirstRecipient(args.UserID, r.Executor.DefaultUserID),
		"file_path", args.FilePath,
		"has_db_query", args.DBQuery != "",
		"model", args.Model,
	)
	if !r.Gemini.Configured() {
		return nil, llm.ErrNoAPIKey
	}

	chunk := r.Knowledge.Load(ctx, knowledge.Request{
		Source:      knowledge.Source(args.KnowledgeSource),
		FilePath:    args.FilePath,
		Instruction: args.Instruction,
		DBQuery:     args.DBQuery,
		DBParams:    args.DBParams,
		DBLimit:     args.DBLimit,
	})
	r.trace().Info("knowledge", "source", args.KnowledgeSource, "length", len(chunk), "file_path", args.FilePath)

	if args.Mode == ModeQA {
		res, err := r.answer(ctx, args, chunk)
		return res, prefixUnexpected("Failed in qa mode: ", err)
	}
	res, err := r.plan(ctx, args, chunk)
	return res, prefixUnexpected("Failed to run gemini_command: ", err)
}

func withDefaults(a Args) Args {
	if a.Model == "" {
		a.Model = DefaultModel
	}
	if a.KnowledgeSource == "" {
		a.KnowledgeSource = string(knowledge.SourceFile)
	}
	if a.Mode == "" {
		a.Mode = ModeAuto
	}
	if a.DBLimit == 0 {
		a.DBLimit = 100
	}
	return a
}

func prefixUnexpected(prefix string, err error) error {
	if err == nil || errorsx.Reason(err) != errorsx.ReasonUnknown {
		return err
	}
	return fmt.Errorf("%s%w", prefix, err)
}

func (r *Runner) voice(ctx context.Context, to string) prompts.Voice {
	v := prompts.Voice{Style: style.Default()}
	if r.Presets != nil {
		v.Style = r.Presets.Style()
		v.Brand = r.Presets.Brand()
	}
	v.DisplayName = r.Executor.DisplayName(ctx, to)
	return v
}

// plan asks Gemini for one action and executes it.
func (r *Runner) plan(ctx context.Context, args Args, chunk string) (any, error) {
	to := line.FirstRecipient(args.UserID, r.Executor.DefaultUserID)
	prompt := prompts.Planner(prompts.PlannerInput{
		Voice:       r.voice(ctx, to),
		Instruction: args.Instruction,
		Knowledge:   chunk,
	})
	r.trace().Info("plan:call", "model", args.Model)

	res, err := r.Gemini.Generate(ctx, args.Model, prompt)
	if err != nil {
		r.trace().Info("plan:error", "error", err)
		return nil, err
	}
	if res.Text == "" {
		msg := res.Message
		if msg == "" {
			msg = "Empty result from Gemini"
		}
		return nil, errorsx.New(errorsx.ReasonGeneration, msg)
	}
	r.trace().Debug("plan:raw", "model", res.Model, "version", res.APIVersion, "text", clip(res.Text, 800))

	p, err := planner.ExtractPlan(res.Text)
	if err != nil {
		return nil, err
	}
	action, err := planner.DecodeAction(p)
	if err != nil {
		return nil, err
	}
	r.trace().Info("plan:parsed", "action", action.Name())
	return r.Executor.Execute(ctx, action, args.UserID)
}

// answer handles qa mode.
func (r *Runner) answer(ctx context.Context, args Args, chunk string) (any, error) {
	r.trace().Info("qa:start")
	to, err := line.Recipient(args.UserID, r.Executor.DefaultUserID)
	if err != nil {
		return nil, err
	}

	if args.KnowledgeSource == string(knowledge.SourceMSSQL) && r.DB != nil {
		if res, ok := r.sampleTable(ctx, to, args.Instruction); ok {
			return res, nil
		}
	}

	v := r.voice(ctx, to)
	prompt := prompts.QA(prompts.QAInput{Voice: v, Question: args.Instruction, Knowledge: chunk})
	res, err := r.Gemini.GenerateOnce(ctx, args.Model, llm.APIVersionV1, prompt)
	if err != nil {
		r.trace().Info("qa:gemini_error", "error", err)
		if errorsx.Reason(err) != errorsx.ReasonUnknown {
			return nil, err
		}
		return nil, errorsx.Wrap(fmt.Errorf("Gemini API error (qa): %w", err), errorsx.ReasonGeneration)
	}
	if res.Text == "" {
		return nil, errorsx.New(errorsx.ReasonGeneration, "Empty answer from Gemini (qa)")
	}

	text := style.Clamp(res.Text, style.MaxMessageLen)
	text, normalized := style.NormalizeGreeting(text, v.Style, v.DisplayName, style.MaxMessageLen)
	r.trace().Info("qa:normalize_greeting", "normalized", normalized)

	if r.Executor.Quota != nil {
		if err := r.Executor.Quota.Check(ctx); err != nil {
			return nil, err
		}
	}
	sent, err := r.Executor.PushReply(ctx, to, text, v.Style)
	if err != nil {
		return nil, err
	}
	return QAResult{Pushed: sent, Preview: clip(text, 500)}, nil
}

// sampleTable answers "show N rows of T" questions straight from the
// database. ok is false when no table is recognised or anything fails.
func (r *Runner) sampleTable(ctx context.Context, to, instruction string) (QAResult, bool) {
	sel, ok := knowledge.InferSelect(instruction)
	if !ok {
		return QAResult{}, false
	}
	res, err := r.DB.Query(ctx, sel.SQL(), nil)
	if err != nil {
		r.trace().Info("qa:fast_path_failed", "table", sel.Table, "error", err)
		return QAResult{}, false
	}
	text := style.Clamp(SampleText(sel.Table, sel.Limit, res), style.MaxMessageLen)
	sent, err := r.Executor.LINE.Push(ctx, to, line.TextMessage{Text: text})
	if err != nil {
		r.trace().Info("qa:fast_path_push_failed", "error", err)
		return QAResult{}, false
	}
	return QAResult{Pushed: sent, Preview: clip(text, 500)}, true
}

// SampleText renders up to limit rows showing the first three columns.
func SampleText(table string, limit int, res *mssql.Result) string {
	rows := res.Rows
	if len(rows) > limit {
		rows = rows[:limit]
	}
	cols := res.Columns
	if len(cols) > 3 {
		cols = cols[:3]
	}
	lines := []string{fmt.Sprintf("ตาราง %s แถวตัวอย่าง %d แถว", table, len(rows))}
	for i, row := range rows {
		parts := make([]string, len(cols))
		for j, c := range cols {
			parts[j] = c + ": " + knowledge.Cell(row[c])
		}
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, strings.Join(parts, ", ")))
	}
	return strings.Join(lines, "\n")
}

func clip(s string, n int) string {
	return style.Clamp(s, n)
}
