package usage

import (
	"encoding/json"
	"math"
	"unicode"
	"unicode/utf8"
)

// EstimateTokens is a rough per-language token estimate: scripts
// written without spaces (Thai, CJK) average fewer characters per token.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	divisor := 3.8
	for _, r := range text {
		if unicode.In(r, unicode.Thai, unicode.Han) {
			divisor = 2.8
			break
		}
	}
	n := int(math.Ceil(float64(utf8.RuneCountInString(text)) / divisor))
	return max(1, n)
}

// EstimateJSONTokens estimates the tokens in v's JSON encoding.
func EstimateJSONTokens(v any) int {
	if v == nil {
		return EstimateTokens("{}")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return EstimateTokens(string(raw))
}

// CountResultTokens walks a decoded tool result and sums the estimate
// over every string it contains.
func CountResultTokens(v any) int {
	switch x := v.(type) {
	case string:
		return EstimateTokens(x)
	case []any:
		sum := 0
		for _, e := range x {
			sum += CountResultTokens(e)
		}
		return sum
	case map[string]any:
		sum := 0
		for _, e := range x {
			sum += CountResultTokens(e)
		}
		return sum
	}
	return 0
}
