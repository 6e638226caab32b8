package extract

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseJSON pulls a JSON object of type T out of raw model output. Models
// wrap their answers in markdown fences or chatty framing more often than
// not, so the fence is stripped first and anything outside the outermost
// braces is discarded before unmarshaling.
func ParseJSON[T any](output string) (T, error) {
	var zero T

	s := strings.TrimSpace(output)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end < start {
		return zero, fmt.Errorf("model output contains no JSON object")
	}
	s = s[start : end+1]

	var result T
	if err := json.Unmarshal([]byte(s), &result); err != nil {
		return zero, fmt.Errorf("model output is not valid JSON: %w", err)
	}
	return result, nil
}
