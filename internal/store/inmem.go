package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pagepilot-ai/pagepilot/api/schemas"
	"github.com/pagepilot-ai/pagepilot/internal/engine"
	"github.com/pagepilot-ai/pagepilot/internal/memory"
)

// InMemoryStore is the transactional-map twin of the Postgres store. It
// serves tests and single-process evaluation runs with identical semantics,
// including the step-index uniqueness guard.
type InMemoryStore struct {
	log *zap.Logger

	mu      sync.RWMutex
	tasks   map[string]*schemas.Task         // key: tenant/task
	actions map[string][]*schemas.TaskAction // key: tenant/task, sorted by step
	entries map[string]any                   // key: scope/owner/key
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore(logger *zap.Logger) *InMemoryStore {
	return &InMemoryStore{
		log:     logger.Named("store.inmem"),
		tasks:   make(map[string]*schemas.Task),
		actions: make(map[string][]*schemas.TaskAction),
		entries: make(map[string]any),
	}
}

func taskKey(tenantID, taskID string) string { return tenantID + "/" + taskID }

func entryKey(scope memory.Scope, ownerID, key string) string {
	return string(scope) + "/" + ownerID + "/" + key
}

// -- engine.TaskRepository --

func (s *InMemoryStore) Create(ctx context.Context, task *schemas.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := taskKey(task.TenantID, task.TaskID)
	if _, exists := s.tasks[key]; exists {
		return &engine.PersistenceConflictError{TaskID: task.TaskID}
	}
	clone := *task
	s.tasks[key] = &clone
	return nil
}

func (s *InMemoryStore) Get(ctx context.Context, tenantID, taskID string) (*schemas.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[taskKey(tenantID, taskID)]
	if !ok {
		return nil, &engine.NotFoundError{Kind: "task", ID: taskID}
	}
	clone := *task
	return &clone, nil
}

func (s *InMemoryStore) Update(ctx context.Context, task *schemas.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := taskKey(task.TenantID, task.TaskID)
	if _, ok := s.tasks[key]; !ok {
		return &engine.NotFoundError{Kind: "task", ID: task.TaskID}
	}
	task.UpdatedAt = time.Now().UTC()
	clone := *task
	s.tasks[key] = &clone
	return nil
}

func (s *InMemoryStore) ListActive(ctx context.Context, tenantID, userID string) ([]*schemas.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []*schemas.Task
	for _, task := range s.tasks {
		if task.TenantID == tenantID && task.UserID == userID && task.Status.IsActiveFamily() {
			clone := *task
			active = append(active, &clone)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].UpdatedAt.After(active[j].UpdatedAt)
	})
	return active, nil
}

// -- engine.ActionRepository --

func (s *InMemoryStore) Append(ctx context.Context, action *schemas.TaskAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := taskKey(action.TenantID, action.TaskID)
	for _, existing := range s.actions[key] {
		if existing.StepIndex == action.StepIndex {
			return &engine.PersistenceConflictError{TaskID: action.TaskID, StepIndex: action.StepIndex}
		}
	}
	clone := *action
	s.actions[key] = append(s.actions[key], &clone)
	sort.Slice(s.actions[key], func(i, j int) bool {
		return s.actions[key][i].StepIndex < s.actions[key][j].StepIndex
	})
	return nil
}

func (s *InMemoryStore) GetAction(ctx context.Context, tenantID, taskID string, stepIndex int) (*schemas.TaskAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, action := range s.actions[taskKey(tenantID, taskID)] {
		if action.StepIndex == stepIndex {
			clone := *action
			return &clone, nil
		}
	}
	return nil, &engine.NotFoundError{Kind: "task_action", ID: fmt.Sprintf("%s/%d", taskID, stepIndex)}
}

func (s *InMemoryStore) ListByTask(ctx context.Context, tenantID, taskID string) ([]*schemas.TaskAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var actions []*schemas.TaskAction
	for _, action := range s.actions[taskKey(tenantID, taskID)] {
		clone := *action
		actions = append(actions, &clone)
	}
	return actions, nil
}

// -- memory.Repository --

func (s *InMemoryStore) MemGet(ctx context.Context, scope memory.Scope, ownerID, key string) (any, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.entries[entryKey(scope, ownerID, key)]
	return value, ok, nil
}

func (s *InMemoryStore) MemSet(ctx context.Context, scope memory.Scope, ownerID, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[entryKey(scope, ownerID, key)] = value
	return nil
}

func (s *InMemoryStore) MemDelete(ctx context.Context, scope memory.Scope, ownerID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, entryKey(scope, ownerID, key))
	return nil
}

func (s *InMemoryStore) MemAll(ctx context.Context, scope memory.Scope, ownerID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := string(scope) + "/" + ownerID + "/"
	all := make(map[string]any)
	for key, value := range s.entries {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			all[key[len(prefix):]] = value
		}
	}
	return all, nil
}

// TaskActions adapts the store to engine.ActionRepository; the method names
// differ because Get is taken by the task side.
func (s *InMemoryStore) TaskActions() engine.ActionRepository { return &inMemoryActions{s} }

// MemoryEntries adapts the store to memory.Repository.
func (s *InMemoryStore) MemoryEntries() memory.Repository { return &inMemoryEntries{s} }

type inMemoryActions struct{ store *InMemoryStore }

func (a *inMemoryActions) Append(ctx context.Context, action *schemas.TaskAction) error {
	return a.store.Append(ctx, action)
}

func (a *inMemoryActions) Get(ctx context.Context, tenantID, taskID string, stepIndex int) (*schemas.TaskAction, error) {
	return a.store.GetAction(ctx, tenantID, taskID, stepIndex)
}

func (a *inMemoryActions) ListByTask(ctx context.Context, tenantID, taskID string) ([]*schemas.TaskAction, error) {
	return a.store.ListByTask(ctx, tenantID, taskID)
}

type inMemoryEntries struct{ store *InMemoryStore }

func (e *inMemoryEntries) Get(ctx context.Context, scope memory.Scope, ownerID, key string) (any, bool, error) {
	return e.store.MemGet(ctx, scope, ownerID, key)
}

func (e *inMemoryEntries) Set(ctx context.Context, scope memory.Scope, ownerID, key string, value any) error {
	return e.store.MemSet(ctx, scope, ownerID, key, value)
}

func (e *inMemoryEntries) Delete(ctx context.Context, scope memory.Scope, ownerID, key string) error {
	return e.store.MemDelete(ctx, scope, ownerID, key)
}

func (e *inMemoryEntries) All(ctx context.Context, scope memory.Scope, ownerID string) (map[string]any, error) {
	return e.store.MemAll(ctx, scope, ownerID)
}

var (
	_ engine.TaskRepository   = (*InMemoryStore)(nil)
	_ engine.ActionRepository = (*inMemoryActions)(nil)
	_ memory.Repository       = (*inMemoryEntries)(nil)
)
