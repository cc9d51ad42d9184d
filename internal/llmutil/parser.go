package llmutil

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Backticks cannot appear in Go raw strings, hence \x60.
var fencedJSONRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*({.*})\\s*\x60\x60\x60")

// ParseJSONResponse extracts and unmarshals a JSON object from an LLM
// response. Models wrap JSON in markdown fences or conversational text; both
// forms are handled before unmarshaling. A response with no parseable object
// is an error the caller must treat as "no candidate", never as fatal.
func ParseJSONResponse[T any](response string) (*T, error) {
	response = strings.TrimSpace(response)
	candidate := response

	if strings.HasPrefix(response, "```") {
		if matches := fencedJSONRegex.FindStringSubmatch(response); len(matches) > 1 {
			candidate = matches[1]
		}
	} else if !strings.HasPrefix(response, "{") {
		// Find object boundaries inside surrounding prose.
		first := strings.Index(response, "{")
		last := strings.LastIndex(response, "}")
		if first != -1 && last > first {
			candidate = response[first : last+1]
		}
	}

	var result T
	if err := json.Unmarshal([]byte(candidate), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal LLM JSON response: %w. Extracted JSON (truncated): %s",
			err, truncate(candidate, 500))
	}
	return &result, nil
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
