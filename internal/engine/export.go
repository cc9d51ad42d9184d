package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/pagepilot-ai/pagepilot/api/schemas"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// sensitiveKeyRegex flags map keys whose value must never leave the system
// in a debug export. Matching happens on the lowercased key with separators
// stripped, so api_key and Api-Key are caught alongside apikey.
var sensitiveKeyRegex = regexp.MustCompile(`password|token|secret|apikey|authorization`)

const maskedValue = "***REDACTED***"

// DebugSession is the support-bundle view of one task: the task itself, its
// full ordered step log, and summary stats about the final page snapshot.
type DebugSession struct {
	Task    *schemas.Task         `json:"task"`
	Actions []*schemas.TaskAction `json:"actions"`

	// Snapshot stats for the last recorded step, if any.
	FinalElementCount     int     `json:"final_element_count,omitempty"`
	FinalCompressionRatio float64 `json:"final_compression_ratio,omitempty"`
}

// ExportDebugSession serializes the task and its ordered action log for
// offline debugging. Values under credential-looking keys are masked in the
// task memory, the user resolution payload, and every action's metadata.
func (e *Engine) ExportDebugSession(ctx context.Context, tenantID, taskID string) ([]byte, error) {
	task, err := e.tasks.Get(ctx, tenantID, taskID)
	if err != nil {
		return nil, err
	}
	actions, err := e.actions.ListByTask(ctx, tenantID, taskID)
	if err != nil {
		return nil, err
	}

	task.Memory = maskMap(task.Memory)
	task.UserResolutionData = maskMap(task.UserResolutionData)
	for _, action := range actions {
		action.Action.Metadata = maskMap(action.Action.Metadata)
		if action.Action.Type == schemas.ActionSetValue && isSensitiveKey(action.Action.Selector) {
			action.Action.Value = maskedValue
		}
	}

	session := &DebugSession{Task: task, Actions: actions}
	if len(actions) > 0 {
		last := actions[len(actions)-1]
		if last.DOMSnapshot != "" {
			if skeleton, skelErr := e.dom.Skeletonize(last.DOMSnapshot); skelErr == nil {
				session.FinalElementCount = skeleton.ElementCount
				session.FinalCompressionRatio = skeleton.CompressionRatio
			}
		}
	}

	data, err := jsonAPI.MarshalIndent(session, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize debug session: %w", err)
	}
	return data, nil
}

// isSensitiveKey reports whether a key names credential-like data.
func isSensitiveKey(key string) bool {
	normalized := strings.ToLower(key)
	normalized = strings.NewReplacer("_", "", "-", "", " ", "", ".", "").Replace(normalized)
	return sensitiveKeyRegex.MatchString(normalized)
}

// maskMap returns a copy of m with sensitive values replaced, descending
// into nested maps. Non-sensitive entries are passed through untouched.
func maskMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	masked := make(map[string]any, len(m))
	for key, value := range m {
		if isSensitiveKey(key) {
			masked[key] = maskedValue
			continue
		}
		if nested, ok := value.(map[string]any); ok {
			masked[key] = maskMap(nested)
			continue
		}
		masked[key] = value
	}
	return masked
}
