package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/nugget/linebot-mcp/internal/command"
	"github.com/nugget/linebot-mcp/internal/errorsx"
	"github.com/nugget/linebot-mcp/internal/knowledge"
	"github.com/nugget/linebot-mcp/internal/line"
	"github.com/nugget/linebot-mcp/internal/planner"
	"github.com/nugget/linebot-mcp/internal/prompts"
	"github.com/nugget/linebot-mcp/internal/quota"
	"github.com/nugget/linebot-mcp/internal/style"
)

var errGeminiKey = errorsx.New(errorsx.ReasonConfig, "Please set GEMINI_API_KEY (or GOOGLE_API_KEY) in environment variables.")

var trailingComma = regexp.MustCompile(`,\s*([}\]])`)

type geminiPushArgs struct {
	UserID  string `mapstructure:"userId"`
	Prompt  string `mapstructure:"prompt"`
	Model   string `mapstructure:"model"`
	AltText string `mapstructure:"altText"`
}

func (a *geminiPushArgs) defaults(model string) {
	if a.Model == "" {
		a.Model = model
	}
	if a.AltText == "" {
		a.AltText = "Generated card"
	}
}

// ParseFlexContents pulls a Flex contents object out of model output.
// A second parse is attempted with trailing commas removed; the error
// reported is from the first.
func ParseFlexContents(raw string) (any, error) {
	text := planner.ExtractJSONText(raw)
	var contents any
	err := json.Unmarshal([]byte(text), &contents)
	if err == nil {
		return contents, nil
	}
	if json.Unmarshal([]byte(trailingComma.ReplaceAllString(text, "$1")), &contents) == nil {
		return contents, nil
	}
	return nil, errorsx.New(errorsx.ReasonPlanExtraction, "Failed to parse Flex contents JSON from Gemini: "+err.Error())
}

// pushOr429 pushes msg, reporting a 429 from LINE as a skipped push.
// Callers check the quota guard before generating.
func (d *Deps) pushOr429(ctx context.Context, to string, msg line.Message) (*line.SentMessages, error) {
	sent, err := d.LINE.Push(ctx, to, msg)
	if err != nil {
		if line.IsRateLimited(err) {
			return nil, quota.RateLimitedError()
		}
		return nil, err
	}
	return sent, nil
}

func (d *Deps) checkQuota(ctx context.Context) error {
	if d.Quota == nil {
		return nil
	}
	return d.Quota.Check(ctx)
}

func registerGeminiTools(r *Registry, d *Deps) {
	r.Register(&Tool{
		Name:        "push_gemini_text",
		Description: "Generate text with Gemini and push it to a LINE user as a text message.",
		Parameters: schema([]string{"prompt"}, map[string]any{
			"userId": str(userIDDesc),
			"prompt": map[string]any{"type": "string", "minLength": 1, "description": "Prompt to send to Gemini."},
			"model":  map[string]any{"type": "string", "default": "gemini-1.5-flash", "description": "Gemini model name, e.g., gemini-1.5-flash"},
		}),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			var a geminiPushArgs
			if err := decode("push_gemini_text", args, &a); err != nil {
				return nil, err
			}
			if err := required("push_gemini_text", "prompt", a.Prompt); err != nil {
				return nil, err
			}
			a.defaults("gemini-1.5-flash")
			sent, err := d.pushGeminiText(ctx, a)
			return sent, failed("Failed to push Gemini text: ", err)
		},
	})

	r.Register(&Tool{
		Name:        "push_gemini_flex",
		Description: "Generate a LINE Flex message (bubble/carousel) from a natural language prompt using Gemini, then push it to a user.",
		Parameters: schema([]string{"prompt"}, map[string]any{
			"userId":  str(userIDDesc),
			"prompt":  map[string]any{"type": "string", "minLength": 1, "description": "Describe the Flex card you want."},
			"model":   map[string]any{"type": "string", "default": "gemini-2.0-flash", "description": "Gemini model name, e.g., gemini-2.0-flash"},
			"altText": map[string]any{"type": "string", "default": "Generated card", "description": "Alternative text for Flex message."},
		}),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			var a geminiPushArgs
			if err := decode("push_gemini_flex", args, &a); err != nil {
				return nil, err
			}
			if err := required("push_gemini_flex", "prompt", a.Prompt); err != nil {
				return nil, err
			}
			a.defaults(command.DefaultModel)
			sent, err := d.pushGeminiFlex(ctx, a)
			return sent, failed("Failed to push Gemini Flex: ", err)
		},
	})

	r.Register(&Tool{
		Name:        "gemini_command",
		Description: "Use Gemini to plan and execute one LINE action (get profile, get rich menu list, get message quota, push/broadcast text or flex).",
		Parameters: schema([]string{"instruction"}, map[string]any{
			"instruction":     map[string]any{"type": "string", "minLength": 1, "description": "Natural language instruction, e.g. 'send hello to me' or 'what are the opening hours?'."},
			"model":           map[string]any{"type": "string", "default": command.DefaultModel, "description": "Gemini model name."},
			"filePath":        str("Knowledge file under docs/ used in file mode."),
			"knowledgeSource": map[string]any{"type": "string", "enum": []string{"file", "mssql"}, "default": "file"},
			"userId":          str("Optional LINE userId to target. Overrides DESTINATION_USER_ID if provided."),
			"mode":            map[string]any{"type": "string", "enum": []string{"auto", "actions", "qa"}, "default": "auto"},
			"dbQuery":         str("Optional read-only SQL used as knowledge in mssql mode."),
			"dbParams":        map[string]any{"type": "object", "description": "Parameters for @name placeholders in dbQuery."},
			"dbLimit":         integer("Maximum rows of dbQuery to include.", 1, 200, 100),
		}),
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			var a command.Args
			if err := decode("gemini_command", args, &a); err != nil {
				return nil, err
			}
			if err := required("gemini_command", "instruction", a.Instruction); err != nil {
				return nil, err
			}
			if err := intArg("gemini_command", args, "dbLimit", &a.DBLimit, 100, 1, 200); err != nil {
				return nil, err
			}
			if err := oneOf("gemini_command", "knowledgeSource", a.KnowledgeSource,
				string(knowledge.SourceFile), string(knowledge.SourceMSSQL)); err != nil {
				return nil, err
			}
			if err := oneOf("gemini_command", "mode", a.Mode, command.ModeAuto, command.ModeActions, command.ModeQA); err != nil {
				return nil, err
			}
			if d.Command == nil {
				return nil, errorsx.New(errorsx.ReasonConfig, "gemini_command is not configured")
			}
			return d.Command.Run(ctx, a)
		},
	})
}

func (d *Deps) pushGeminiText(ctx context.Context, a geminiPushArgs) (*line.SentMessages, error) {
	to, err := line.Recipient(a.UserID, d.DefaultUserID)
	if err != nil {
		return nil, err
	}
	if !d.Gemini.Configured() {
		return nil, errGeminiKey
	}
	if err := d.checkQuota(ctx); err != nil {
		return nil, err
	}
	res, err := d.Gemini.Generate(ctx, a.Model, a.Prompt)
	if err != nil {
		return nil, err
	}
	if res.Text == "" {
		msg := res.Message
		if msg == "" {
			msg = "Gemini returned empty content."
		}
		return nil, errorsx.New(errorsx.ReasonGeneration, msg)
	}
	text := style.Clamp(res.Text, style.MaxMessageLen)
	d.logger().Debug("push_gemini_text generated", "model", res.Model, "version", res.APIVersion, "length", len(text))
	return d.pushOr429(ctx, to, line.TextMessage{Text: text})
}

func (d *Deps) pushGeminiFlex(ctx context.Context, a geminiPushArgs) (*line.SentMessages, error) {
	to, err := line.Recipient(a.UserID, d.DefaultUserID)
	if err != nil {
		return nil, err
	}
	if !d.Gemini.Configured() {
		return nil, errGeminiKey
	}
	if err := d.checkQuota(ctx); err != nil {
		return nil, err
	}
	guidelines := ""
	if d.Presets != nil {
		guidelines = d.Presets.FlexGuidelines()
	}
	res, err := d.Gemini.Generate(ctx, a.Model, prompts.Flex(a.Prompt, guidelines))
	if err != nil {
		return nil, err
	}
	if res.Text == "" {
		msg := res.Message
		if msg == "" {
			msg = "Empty result from Gemini"
		}
		return nil, errorsx.New(errorsx.ReasonGeneration, msg)
	}
	contents, err := ParseFlexContents(res.Text)
	if err != nil {
		return nil, err
	}
	if issues := line.FlexIssues(a.AltText, contents); issues != nil {
		return nil, errorsx.New(errorsx.ReasonGeneration, "Generated Flex invalid: "+strings.Join(issues, ", "))
	}
	return d.pushOr429(ctx, to, line.FlexMessage{AltText: a.AltText, Contents: contents})
}

func oneOf(tool, field, value string, allowed ...string) error {
	if value == "" {
		return nil
	}
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return &ArgsError{Tool: tool, Field: field, Msg: fmt.Sprintf("Invalid enum value. Expected %s, received '%s'",
		"'"+strings.Join(allowed, "' | '")+"'", value)}
}
