package memory

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/pagepilot-ai/pagepilot/api/schemas"
)

// WildcardKey requests every entry of a scope on recall.
const WildcardKey = "*"

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// HandleMemoryAction maps the external action names — remember, recall
// (optional scope, "*" key for all), exportToSession — onto the service
// primitives. It returns a human-readable result message for the LLM's
// next-turn context alongside the raw value.
func (s *Service) HandleMemoryAction(ctx context.Context, taskID, sessionID string, action schemas.Action) (string, any, error) {
	switch action.Type {
	case schemas.ActionRemember:
		return s.handleRemember(ctx, taskID, sessionID, action)
	case schemas.ActionRecall:
		return s.handleRecall(ctx, taskID, sessionID, action)
	case schemas.ActionExportToSession:
		if err := s.ExportToSession(ctx, sessionID, taskID, action.Key, action.SessionKey); err != nil {
			return "", nil, err
		}
		target := action.SessionKey
		if target == "" {
			target = action.Key
		}
		return fmt.Sprintf("Exported %q from task memory to session memory as %q.", action.Key, target), nil, nil
	default:
		return "", nil, fmt.Errorf("unknown memory action type: %q", action.Type)
	}
}

func (s *Service) handleRemember(ctx context.Context, taskID, sessionID string, action schemas.Action) (string, any, error) {
	var value any = action.Value
	// Structured values arrive through metadata; the plain Value field is a
	// string convenience for the common case.
	if v, ok := action.Metadata["value"]; ok {
		value = v
	}

	if action.Scope == string(ScopeSession) {
		if err := s.SessionRemember(ctx, sessionID, action.Key, value); err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("Remembered %q in session memory.", action.Key), value, nil
	}
	if err := s.Remember(ctx, taskID, action.Key, value); err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("Remembered %q in task memory.", action.Key), value, nil
}

func (s *Service) handleRecall(ctx context.Context, taskID, sessionID string, action schemas.Action) (string, any, error) {
	scope := ScopeTask
	ownerID := taskID
	if action.Scope == string(ScopeSession) {
		scope = ScopeSession
		ownerID = sessionID
	}

	if action.Key == WildcardKey {
		all, err := s.repo.All(ctx, scope, ownerID)
		if err != nil {
			return "", nil, err
		}
		if len(all) == 0 {
			return fmt.Sprintf("No entries in %s memory.", scope), all, nil
		}
		rendered, err := jsonAPI.MarshalToString(all)
		if err != nil {
			return "", nil, fmt.Errorf("failed to render %s memory: %w", scope, err)
		}
		return fmt.Sprintf("All %s memory: %s", scope, rendered), all, nil
	}

	value, ok, err := s.repo.Get(ctx, scope, ownerID, action.Key)
	if err != nil {
		return "", nil, err
	}
	if !ok {
		// A miss is a result the LLM can act on, not an error.
		return fmt.Sprintf("No value stored under %q in %s memory.", action.Key, scope), nil, nil
	}
	rendered, err := jsonAPI.MarshalToString(value)
	if err != nil {
		return "", nil, fmt.Errorf("failed to render memory value: %w", err)
	}
	return fmt.Sprintf("Recalled %q from %s memory: %s", action.Key, scope, rendered), value, nil
}
