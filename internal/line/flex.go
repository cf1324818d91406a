package line

import (
	"fmt"
	"unicode/utf8"
)

// MaxTextLen is the Messaging API limit for one text message.
const MaxTextLen = 5000

// FlexIssues checks a flex message the way the Messaging API would
// reject it up front: altText must be a string and contents must be an
// object whose type is bubble or carousel. It returns nil when valid.
func FlexIssues(altText any, contents any) []string {
	var issues []string
	switch a := altText.(type) {
	case string:
	case nil:
		issues = append(issues, "altText: Required")
	default:
		issues = append(issues, fmt.Sprintf("altText: Expected string, received %s", jsonKind(a)))
	}

	obj, ok := contents.(map[string]any)
	if !ok {
		if contents == nil {
			return append(issues, "contents: Required")
		}
		return append(issues, fmt.Sprintf("contents: Expected object, received %s", jsonKind(contents)))
	}
	switch t := obj["type"].(type) {
	case string:
		if t != "bubble" && t != "carousel" {
			issues = append(issues, fmt.Sprintf("contents.type: Invalid enum value. Expected 'bubble' | 'carousel', received '%s'", t))
		}
	case nil:
		issues = append(issues, "contents.type: Required")
	default:
		issues = append(issues, fmt.Sprintf("contents.type: Expected 'bubble' | 'carousel', received %s", jsonKind(t)))
	}
	return issues
}

// TextIssues checks a text message body.
func TextIssues(text string) []string {
	if utf8.RuneCountInString(text) > MaxTextLen {
		return []string{fmt.Sprintf("text: String must contain at most %d character(s)", MaxTextLen)}
	}
	return nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64, float32, int, int64, int32:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}
