// File: internal/vision/parser.go
package vision

import (
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// fenceRegex matches a markdown code fence with an optional language tag and
// captures the body. Models wrap JSON in fences no matter how firmly the
// prompt says not to.
var fenceRegex = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// parsePayload extracts the JSON object from a model reply. It tolerates
// markdown fences and leading or trailing prose around the object.
func parsePayload(content string) (map[string]any, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil, fmt.Errorf("empty model response")
	}

	candidate := trimmed
	if match := fenceRegex.FindStringSubmatch(trimmed); match != nil {
		candidate = match[1]
	}
	if !strings.HasPrefix(candidate, "{") {
		start := strings.Index(candidate, "{")
		end := strings.LastIndex(candidate, "}")
		if start == -1 || end <= start {
			return nil, fmt.Errorf("no JSON object in model response")
		}
		candidate = candidate[start : end+1]
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(candidate), &payload); err != nil {
		return nil, fmt.Errorf("decode model response: %w", err)
	}
	return payload, nil
}
