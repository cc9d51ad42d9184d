package memory

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Scope names the two memory tiers. Task memory lives and dies with its
// task; session memory persists across tasks within one browser session.
type Scope string

const (
	ScopeTask    Scope = "task"
	ScopeSession Scope = "session"
)

// Repository is the persistence surface for memory entries, keyed by
// (scope, ownerID, key). Values are arbitrary JSON-representable data.
type Repository interface {
	Get(ctx context.Context, scope Scope, ownerID, key string) (any, bool, error)
	Set(ctx context.Context, scope Scope, ownerID, key string, value any) error
	Delete(ctx context.Context, scope Scope, ownerID, key string) error
	All(ctx context.Context, scope Scope, ownerID string) (map[string]any, error)
}

// KeyNotFoundError is the typed miss for a recall of an absent key. A miss
// is a well-defined result, not a guess and not a generic failure.
type KeyNotFoundError struct {
	Scope Scope
	Key   string
}

func (e *KeyNotFoundError) Error() string {
	return fmt.Sprintf("key %q not found in %s memory", e.Key, e.Scope)
}

// Service is the two-tier key/value store. The only path from task scope to
// session scope is ExportToSession; promotion never happens implicitly.
type Service struct {
	repo   Repository
	logger *zap.Logger
}

// NewService creates a memory service over the given repository.
func NewService(repo Repository, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger.Named("memory"),
	}
}

// -- Task-scoped operations --

// Remember stores a value under the task's memory.
func (s *Service) Remember(ctx context.Context, taskID, key string, value any) error {
	return s.repo.Set(ctx, ScopeTask, taskID, key, value)
}

// Recall reads a key from task memory. A missing key returns
// KeyNotFoundError, never a default guess.
func (s *Service) Recall(ctx context.Context, taskID, key string) (any, error) {
	value, ok, err := s.repo.Get(ctx, ScopeTask, taskID, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &KeyNotFoundError{Scope: ScopeTask, Key: key}
	}
	return value, nil
}

// RecallAll returns the task's whole memory map.
func (s *Service) RecallAll(ctx context.Context, taskID string) (map[string]any, error) {
	return s.repo.All(ctx, ScopeTask, taskID)
}

// Forget removes a key from task memory. Removing an absent key is a no-op.
func (s *Service) Forget(ctx context.Context, taskID, key string) error {
	return s.repo.Delete(ctx, ScopeTask, taskID, key)
}

// -- Session-scoped operations --

// SessionRemember stores a value under the session's memory.
func (s *Service) SessionRemember(ctx context.Context, sessionID, key string, value any) error {
	return s.repo.Set(ctx, ScopeSession, sessionID, key, value)
}

// SessionRecall reads a key from session memory.
func (s *Service) SessionRecall(ctx context.Context, sessionID, key string) (any, error) {
	value, ok, err := s.repo.Get(ctx, ScopeSession, sessionID, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &KeyNotFoundError{Scope: ScopeSession, Key: key}
	}
	return value, nil
}

// SessionRecallAll returns the session's whole memory map.
func (s *Service) SessionRecallAll(ctx context.Context, sessionID string) (map[string]any, error) {
	return s.repo.All(ctx, ScopeSession, sessionID)
}

// SessionForget removes a key from session memory.
func (s *Service) SessionForget(ctx context.Context, sessionID, key string) error {
	return s.repo.Delete(ctx, ScopeSession, sessionID, key)
}

// -- Cross-scope promotion --

// ExportToSession copies a task-memory key into session memory, optionally
// under a different session key. This is the single sanctioned path across
// the scope boundary; it fails with KeyNotFoundError when the task key is
// absent.
func (s *Service) ExportToSession(ctx context.Context, sessionID, taskID, key, sessionKey string) error {
	value, ok, err := s.repo.Get(ctx, ScopeTask, taskID, key)
	if err != nil {
		return err
	}
	if !ok {
		return &KeyNotFoundError{Scope: ScopeTask, Key: key}
	}
	if sessionKey == "" {
		sessionKey = key
	}
	if err := s.repo.Set(ctx, ScopeSession, sessionID, sessionKey, value); err != nil {
		return err
	}
	s.logger.Debug("Exported task memory to session scope",
		zap.String("task_id", taskID),
		zap.String("session_id", sessionID),
		zap.String("key", key),
		zap.String("session_key", sessionKey))
	return nil
}
