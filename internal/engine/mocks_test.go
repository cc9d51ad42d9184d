package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/pagepilot-ai/pagepilot/api/schemas"
	"github.com/pagepilot-ai/pagepilot/internal/domproc"
	"github.com/pagepilot-ai/pagepilot/internal/skills"
	"github.com/pagepilot-ai/pagepilot/internal/verifier"
)

// -- Repositories --

type fakeTaskRepo struct {
	mu    sync.Mutex
	tasks map[string]*schemas.Task
}

func newFakeTaskRepo() *fakeTaskRepo {
	return &fakeTaskRepo{tasks: make(map[string]*schemas.Task)}
}

func (r *fakeTaskRepo) Create(ctx context.Context, task *schemas.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := task.TenantID + "/" + task.TaskID
	if _, ok := r.tasks[key]; ok {
		return &PersistenceConflictError{TaskID: task.TaskID}
	}
	clone := *task
	r.tasks[key] = &clone
	return nil
}

func (r *fakeTaskRepo) Get(ctx context.Context, tenantID, taskID string) (*schemas.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[tenantID+"/"+taskID]
	if !ok {
		return nil, &NotFoundError{Kind: "task", ID: taskID}
	}
	clone := *task
	return &clone, nil
}

func (r *fakeTaskRepo) Update(ctx context.Context, task *schemas.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := task.TenantID + "/" + task.TaskID
	if _, ok := r.tasks[key]; !ok {
		return &NotFoundError{Kind: "task", ID: task.TaskID}
	}
	clone := *task
	r.tasks[key] = &clone
	return nil
}

func (r *fakeTaskRepo) ListActive(ctx context.Context, tenantID, userID string) ([]*schemas.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var active []*schemas.Task
	for _, task := range r.tasks {
		if task.TenantID == tenantID && task.UserID == userID && task.Status.IsActiveFamily() {
			clone := *task
			active = append(active, &clone)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].UpdatedAt.After(active[j].UpdatedAt) })
	return active, nil
}

type fakeActionRepo struct {
	mu      sync.Mutex
	records []*schemas.TaskAction
}

func (r *fakeActionRepo) Append(ctx context.Context, action *schemas.TaskAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.records {
		if existing.TenantID == action.TenantID && existing.TaskID == action.TaskID &&
			existing.StepIndex == action.StepIndex {
			return &PersistenceConflictError{TaskID: action.TaskID, StepIndex: action.StepIndex}
		}
	}
	clone := *action
	r.records = append(r.records, &clone)
	return nil
}

func (r *fakeActionRepo) Get(ctx context.Context, tenantID, taskID string, stepIndex int) (*schemas.TaskAction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.records {
		if existing.TenantID == tenantID && existing.TaskID == taskID && existing.StepIndex == stepIndex {
			clone := *existing
			return &clone, nil
		}
	}
	return nil, &NotFoundError{Kind: "task_action", ID: taskID}
}

func (r *fakeActionRepo) ListByTask(ctx context.Context, tenantID, taskID string) ([]*schemas.TaskAction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var actions []*schemas.TaskAction
	for _, existing := range r.records {
		if existing.TenantID == tenantID && existing.TaskID == taskID {
			clone := *existing
			actions = append(actions, &clone)
		}
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i].StepIndex < actions[j].StepIndex })
	return actions, nil
}

// -- Collaborators --

type fakeMemory struct {
	mu       sync.Mutex
	handled  []schemas.Action
	snapshot map[string]any
	err      error
}

func (m *fakeMemory) HandleMemoryAction(ctx context.Context, taskID, sessionID string, action schemas.Action) (string, any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", nil, m.err
	}
	m.handled = append(m.handled, action)
	return "handled " + string(action.Type), action.Value, nil
}

func (m *fakeMemory) RecallAll(ctx context.Context, taskID string) (map[string]any, error) {
	if m.snapshot == nil {
		return map[string]any{}, nil
	}
	return m.snapshot, nil
}

type fakeSkills struct {
	mu        sync.Mutex
	hints     []schemas.SkillHint
	recorded  []schemas.FailedState
	penalized []string
}

func (s *fakeSkills) Lookup(ctx context.Context, tenantID, domain, goal string, opts skills.LookupOptions) ([]schemas.SkillHint, error) {
	return s.hints, nil
}

func (s *fakeSkills) Record(ctx context.Context, tenantID, domain, goal string, failed schemas.FailedState, successful schemas.SuccessfulAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorded = append(s.recorded, failed)
	return nil
}

func (s *fakeSkills) Penalize(ctx context.Context, tenantID, domain, goal, failedAction string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.penalized = append(s.penalized, failedAction)
	return nil
}

// fakeProposer replays a scripted sequence of proposals and errors.
type fakeProposer struct {
	mu       sync.Mutex
	script   []proposalStep
	requests []ProposeRequest
}

type proposalStep struct {
	proposal *Proposal
	err      error
}

func (p *fakeProposer) Propose(ctx context.Context, req ProposeRequest) (*Proposal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if len(p.script) == 0 {
		return nil, ErrNoCandidate
	}
	step := p.script[0]
	p.script = p.script[1:]
	return step.proposal, step.err
}

// fakeActuator replays scripted apply results.
type fakeActuator struct {
	mu      sync.Mutex
	script  []applyStep
	applied []schemas.Action
}

type applyStep struct {
	result *ApplyResult
	err    error
}

func (a *fakeActuator) Apply(ctx context.Context, taskID string, action schemas.Action) (*ApplyResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.applied = append(a.applied, action)
	if len(a.script) == 0 {
		return &ApplyResult{DOMSnapshot: "<html></html>", URL: "https://example.com/"}, nil
	}
	step := a.script[0]
	a.script = a.script[1:]
	return step.result, step.err
}

// fakeVerifier replays scripted verdicts; an empty script passes everything.
type fakeVerifier struct {
	mu      sync.Mutex
	script  []verifier.Result
	verused int
}

func (v *fakeVerifier) Verify(beforeDOM, afterDOM, beforeURL, afterURL string, expected schemas.ExpectedOutcome) verifier.Result {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.verused++
	if len(v.script) == 0 {
		return verifier.Result{Passed: true, Reason: "all declared clauses passed"}
	}
	result := v.script[0]
	v.script = v.script[1:]
	return result
}

// passthroughDOM keeps DOM strings intact so assertions can see them.
type passthroughDOM struct{}

func (passthroughDOM) Normalize(rawDOM string) string { return rawDOM }

func (passthroughDOM) Skeletonize(rawDOM string) (domproc.SkeletonResult, error) {
	return domproc.SkeletonResult{Skeleton: rawDOM, ElementCount: 1, CompressionRatio: 1.0}, nil
}

func (passthroughDOM) Hash(cleanedDOM string, maxBytes int) string { return cleanedDOM }
