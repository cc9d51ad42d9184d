package skills

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pagepilot-ai/pagepilot/api/schemas"
	"github.com/pagepilot-ai/pagepilot/internal/config"
)

// skillKey is the uniqueness key for a skill record.
type skillKey struct {
	tenantID       string
	domain         string
	goalNormalized string
	failedAction   string
}

// memoryLibrary is the in-memory Library implementation. It backs tests and
// single-process evaluation runs; the Postgres implementation carries the
// same semantics for production.
type memoryLibrary struct {
	logger *zap.Logger
	cfg    config.SkillsConfig

	mu    sync.RWMutex
	byKey map[skillKey]*schemas.Skill
	now   func() time.Time
}

// NewMemoryLibrary creates an in-memory skill library.
func NewMemoryLibrary(cfg config.SkillsConfig, logger *zap.Logger) Library {
	if cfg.LookupLimit <= 0 {
		cfg.LookupLimit = 5
	}
	if cfg.MinSuccessRate <= 0 {
		cfg.MinSuccessRate = 0.5
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 90 * 24 * time.Hour
	}
	if cfg.MaxPerTenant <= 0 {
		cfg.MaxPerTenant = 10000
	}
	return &memoryLibrary{
		logger: logger.Named("skills"),
		cfg:    cfg,
		byKey:  make(map[skillKey]*schemas.Skill),
		now:    time.Now,
	}
}

func (l *memoryLibrary) Lookup(ctx context.Context, tenantID, domain, goal string, opts LookupOptions) ([]schemas.SkillHint, error) {
	if opts.MinSuccessRate <= 0 {
		opts.MinSuccessRate = l.cfg.MinSuccessRate
	}
	if opts.Limit <= 0 {
		opts.Limit = l.cfg.LookupLimit
	}
	goalNormalized := NormalizeGoal(goal)

	l.mu.RLock()
	defer l.mu.RUnlock()

	var exact, broad []*schemas.Skill
	for key, skill := range l.byKey {
		if key.tenantID != tenantID || key.domain != domain {
			continue
		}
		if key.goalNormalized == goalNormalized {
			exact = append(exact, skill)
		} else {
			broad = append(broad, skill)
		}
	}

	// Normalized-goal matches first; only when none exist does the broader
	// same-domain scan apply, ordered by success rate descending.
	candidates := exact
	if len(candidates) == 0 {
		candidates = broad
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].SuccessRate > candidates[j].SuccessRate
	})

	var hints []schemas.SkillHint
	for _, skill := range candidates {
		if skill.SuccessRate < opts.MinSuccessRate {
			continue
		}
		hints = append(hints, skill.Hint())
		if len(hints) >= opts.Limit {
			break
		}
	}
	return hints, nil
}

func (l *memoryLibrary) Record(ctx context.Context, tenantID, domain, goal string, failed schemas.FailedState, successful schemas.SuccessfulAction) error {
	key := skillKey{
		tenantID:       tenantID,
		domain:         domain,
		goalNormalized: NormalizeGoal(goal),
		failedAction:   failed.Action,
	}
	now := l.now().UTC()

	l.mu.Lock()
	defer l.mu.Unlock()

	if skill, ok := l.byKey[key]; ok {
		skill.SuccessCount++
		skill.SuccessRate = skill.Rate()
		skill.SuccessfulAction = successful
		skill.LastUsedAt = now
		return nil
	}

	l.evictIfAtCapLocked(tenantID)

	skill := &schemas.Skill{
		ID:               uuid.New().String(),
		TenantID:         tenantID,
		Domain:           domain,
		Goal:             goal,
		GoalNormalized:   key.goalNormalized,
		FailedState:      failed,
		SuccessfulAction: successful,
		SuccessCount:     1,
		FailureCount:     0,
		LastUsedAt:       now,
		CreatedAt:        now,
	}
	skill.SuccessRate = skill.Rate()
	l.byKey[key] = skill

	l.logger.Debug("Learned new skill",
		zap.String("tenant_id", tenantID),
		zap.String("domain", domain),
		zap.String("failed_action", failed.Action),
		zap.String("strategy", string(successful.Strategy)))
	return nil
}

func (l *memoryLibrary) Penalize(ctx context.Context, tenantID, domain, goal, failedAction string) error {
	key := skillKey{
		tenantID:       tenantID,
		domain:         domain,
		goalNormalized: NormalizeGoal(goal),
		failedAction:   failedAction,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if skill, ok := l.byKey[key]; ok {
		skill.FailureCount++
		skill.SuccessRate = skill.Rate()
	}
	return nil
}

func (l *memoryLibrary) Sweep(ctx context.Context) (int, error) {
	cutoff := l.now().UTC().Add(-l.cfg.TTL)

	l.mu.Lock()
	defer l.mu.Unlock()

	purged := 0
	for key, skill := range l.byKey {
		if skill.LastUsedAt.Before(cutoff) {
			delete(l.byKey, key)
			purged++
		}
	}
	if purged > 0 {
		l.logger.Debug("Purged expired skills", zap.Int("count", purged))
	}
	return purged, nil
}

// evictIfAtCapLocked drops the lowest-rate, least-recently-used record for
// the tenant when the per-tenant cap has been reached. Caller holds the lock.
func (l *memoryLibrary) evictIfAtCapLocked(tenantID string) {
	count := 0
	var victimKey skillKey
	var victim *schemas.Skill
	for key, skill := range l.byKey {
		if key.tenantID != tenantID {
			continue
		}
		count++
		if victim == nil ||
			skill.SuccessRate < victim.SuccessRate ||
			(skill.SuccessRate == victim.SuccessRate && skill.LastUsedAt.Before(victim.LastUsedAt)) {
			victim = skill
			victimKey = key
		}
	}
	if count >= l.cfg.MaxPerTenant && victim != nil {
		delete(l.byKey, victimKey)
		l.logger.Debug("Evicted skill at tenant cap",
			zap.String("tenant_id", tenantID),
			zap.Float64("success_rate", victim.SuccessRate))
	}
}

var _ Library = (*memoryLibrary)(nil)
