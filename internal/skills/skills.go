package skills

import (
	"context"
	"regexp"
	"strings"

	"github.com/pagepilot-ai/pagepilot/api/schemas"
)

// Library is the episodic store of learned corrections. Every operation is
// scoped by tenant; a lookup must never leak another tenant's skills.
type Library interface {
	// Lookup returns prompt-ready hints for the goal, best matches first.
	// Skills below the minimum success rate are filtered out; the result
	// never exceeds the lookup limit.
	Lookup(ctx context.Context, tenantID, domain, goal string, opts LookupOptions) ([]schemas.SkillHint, error)

	// Record upserts the skill identified by (tenant, domain, normalized
	// goal, failed action): a new success on an existing key increments its
	// success count, otherwise a fresh record is created. The success rate
	// is recomputed on every write, atomically with the increment.
	Record(ctx context.Context, tenantID, domain, goal string, failed schemas.FailedState, successful schemas.SuccessfulAction) error

	// Penalize weakens a previously recorded correction that was tried again
	// and failed. Unknown keys are a no-op.
	Penalize(ctx context.Context, tenantID, domain, goal, failedAction string) error

	// Sweep purges records whose last successful use is older than the TTL
	// and returns how many were removed.
	Sweep(ctx context.Context) (int, error)
}

// LookupOptions tunes a single lookup. Zero values fall back to the
// library's configured defaults (0.5 minimum rate, 5 hints).
type LookupOptions struct {
	MinSuccessRate float64
	Limit          int
}

var punctuationRegex = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
var spaceRunRegex = regexp.MustCompile(`\s+`)

// NormalizeGoal produces the fuzzy-match key for a human-level goal:
// lowercased, punctuation stripped, whitespace collapsed.
func NormalizeGoal(goal string) string {
	normalized := strings.ToLower(goal)
	normalized = punctuationRegex.ReplaceAllString(normalized, " ")
	normalized = spaceRunRegex.ReplaceAllString(normalized, " ")
	return strings.TrimSpace(normalized)
}
