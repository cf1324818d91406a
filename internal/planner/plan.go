// Package planner turns free-form model output into a single typed
// action and executes it against LINE.
package planner

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/nugget/linebot-mcp/internal/errorsx"
)

// Plan is the raw {"action": ..., "args": {...}} object a model emits.
type Plan struct {
	Action string
	Args   map[string]any
}

var (
	fencePattern     = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)```")
	actionKeyPattern = regexp.MustCompile(`(?i)"action"\s*:`)
)

// ExtractPlan finds the first plan object in raw. It looks inside a
// code fence first, then scans the whole text for a balanced object
// carrying an action, and finally tries the span from the first "{" to
// the last "}".
func ExtractPlan(raw string) (Plan, error) {
	if m := fencePattern.FindStringSubmatch(raw); m != nil {
		block := strings.TrimSpace(m[1])
		if p, ok := parsePlan(block); ok {
			return p, nil
		}
		if obj, ok := ScanBalanced(block); ok {
			p, _ := parsePlan(obj)
			return p, nil
		}
	}
	if obj, ok := ScanBalanced(raw); ok {
		p, _ := parsePlan(obj)
		return p, nil
	}
	if s, e := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); s >= 0 && e > s {
		if p, ok := parsePlan(strings.TrimSpace(raw[s : e+1])); ok {
			return p, nil
		}
	}
	return Plan{}, errorsx.New(errorsx.ReasonPlanExtraction, "Failed to extract plan JSON from model output")
}

// ExtractJSONText returns the JSON text a model wrapped in prose: the
// body of the first code fence, else the span from the first "{" to the
// last "}", else raw unchanged.
func ExtractJSONText(raw string) string {
	if m := fencePattern.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	if s, e := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); s >= 0 && e > s {
		return raw[s : e+1]
	}
	return raw
}

// ScanBalanced returns the first top-level {...} in text that mentions
// an "action" key and parses as a plan with a truthy action. Braces
// inside JSON strings are ignored.
func ScanBalanced(text string) (string, bool) {
	var (
		depth    int
		start    = -1
		inString bool
		escaped  bool
	)
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && start >= 0 {
				candidate := strings.TrimSpace(text[start : i+1])
				if actionKeyPattern.MatchString(candidate) {
					if _, ok := parsePlan(candidate); ok {
						return candidate, true
					}
				}
				start = -1
			}
		}
	}
	return "", false
}

// parsePlan decodes s as a JSON object whose action is truthy.
func parsePlan(s string) (Plan, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return Plan{}, false
	}
	action, ok := truthyString(obj["action"])
	if !ok {
		return Plan{}, false
	}
	args, _ := obj["args"].(map[string]any)
	if args == nil {
		args = map[string]any{}
	}
	return Plan{Action: action, Args: args}, true
}

func truthyString(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, x != ""
	case bool:
		return "true", x
	case float64:
		return fmt.Sprint(x), x != 0
	default:
		return fmt.Sprint(x), true
	}
}
