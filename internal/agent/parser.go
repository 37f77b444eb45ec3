package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/excelgpt/backend/internal/analysis"
)

// ParseSpec extracts the QuerySpec JSON from a model response. Models wrap
// output in markdown fences or chat around it more often than not, so the
// parser strips fences and falls back to the outermost brace pair.
func ParseSpec(text string) (analysis.QuerySpec, string, error) {
	raw := extractJSON(text)
	if raw == "" {
		return analysis.QuerySpec{}, "", fmt.Errorf("no JSON object found in model response")
	}

	var spec analysis.QuerySpec
	decoder := json.NewDecoder(strings.NewReader(raw))
	if err := decoder.Decode(&spec); err != nil {
		return analysis.QuerySpec{}, raw, fmt.Errorf("decode analysis spec: %w", err)
	}

	return analysis.Normalize(spec), raw, nil
}

func extractJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		lines := strings.Split(text, "\n")
		var kept []string
		inFence := false
		for _, line := range lines {
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, "```") {
				if inFence {
					break
				}
				inFence = true
				continue
			}
			if inFence {
				kept = append(kept, line)
			}
		}
		text = strings.TrimSpace(strings.Join(kept, "\n"))
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}
