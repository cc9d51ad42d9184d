package skills

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/pagepilot-ai/pagepilot/api/schemas"
	"github.com/pagepilot-ai/pagepilot/internal/config"
)

// DBPool is the slice of pgxpool.Pool the library needs. Declaring it here
// keeps the package mockable without dragging in the store layer.
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// postgresLibrary is the durable Library implementation. Counter updates run
// inside single statements so concurrent writers never lose an increment.
type postgresLibrary struct {
	pool   DBPool
	logger *zap.Logger
	cfg    config.SkillsConfig
	now    func() time.Time
}

// NewPostgresLibrary creates a skill library backed by the skills table.
func NewPostgresLibrary(pool DBPool, cfg config.SkillsConfig, logger *zap.Logger) Library {
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
	return &postgresLibrary{
		pool:   pool,
		logger: logger.Named("skills.postgres"),
		cfg:    cfg,
		now:    time.Now,
	}
}

const skillHintColumns = `failed_action, failed_element, success_action, success_element, strategy, success_rate`

func (l *postgresLibrary) Lookup(ctx context.Context, tenantID, domain, goal string, opts LookupOptions) ([]schemas.SkillHint, error) {
	if opts.MinSuccessRate <= 0 {
		opts.MinSuccessRate = l.cfg.MinSuccessRate
	}
	if opts.Limit <= 0 {
		opts.Limit = l.cfg.LookupLimit
	}
	goalNormalized := NormalizeGoal(goal)

	// Normalized-goal matches first; the broader same-domain scan applies
	// only when none exist, mirroring the in-memory library.
	exactQuery := `SELECT ` + skillHintColumns + `
		FROM skills
		WHERE tenant_id = $1 AND domain = $2 AND success_rate >= $3 AND goal_normalized = $4
		ORDER BY success_rate DESC, last_used_at DESC
		LIMIT $5`
	hints, err := l.queryHints(ctx, exactQuery, tenantID, domain, opts.MinSuccessRate, goalNormalized, opts.Limit)
	if err != nil {
		return nil, err
	}
	if len(hints) == 0 {
		broadQuery := `SELECT ` + skillHintColumns + `
		FROM skills
		WHERE tenant_id = $1 AND domain = $2 AND success_rate >= $3
		ORDER BY success_rate DESC, last_used_at DESC
		LIMIT $4`
		hints, err = l.queryHints(ctx, broadQuery, tenantID, domain, opts.MinSuccessRate, opts.Limit)
		if err != nil {
			return nil, err
		}
	}

	l.logger.Debug("Skill lookup complete",
		zap.String("tenant_id", tenantID),
		zap.String("domain", domain),
		zap.Int("hints", len(hints)))
	return hints, nil
}

func (l *postgresLibrary) queryHints(ctx context.Context, query string, args ...any) ([]schemas.SkillHint, error) {
	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to look up skills: %w", err)
	}
	defer rows.Close()

	var hints []schemas.SkillHint
	for rows.Next() {
		var h schemas.SkillHint
		var strategy string
		if err := rows.Scan(&h.FailedAction, &h.FailedElement, &h.SuccessfulAction, &h.SuccessfulElement, &strategy, &h.SuccessRate); err != nil {
			return nil, fmt.Errorf("failed to scan skill hint: %w", err)
		}
		h.Strategy = schemas.NormalizeStrategy(strategy)
		hints = append(hints, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read skill hints: %w", err)
	}
	return hints, nil
}

func (l *postgresLibrary) Record(ctx context.Context, tenantID, domain, goal string, failed schemas.FailedState, successful schemas.SuccessfulAction) error {
	now := l.now().UTC()

	if err := l.evictIfAtCap(ctx, tenantID); err != nil {
		return err
	}

	// The conflict arm increments the counter and recomputes the rate in the
	// same statement, so two concurrent successes both land.
	query := `INSERT INTO skills (
			id, tenant_id, domain, goal, goal_normalized,
			failed_action, failed_element, failed_error_class,
			success_action, success_element, strategy,
			success_count, failure_count, success_rate,
			last_used_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 1, 0, 1.0, $12, $12)
		ON CONFLICT (tenant_id, domain, goal_normalized, failed_action) DO UPDATE SET
			success_action  = EXCLUDED.success_action,
			success_element = EXCLUDED.success_element,
			strategy        = EXCLUDED.strategy,
			success_count   = skills.success_count + 1,
			success_rate    = (skills.success_count + 1)::double precision
				/ (skills.success_count + 1 + skills.failure_count),
			last_used_at    = EXCLUDED.last_used_at`

	_, err := l.pool.Exec(ctx, query,
		uuid.New().String(), tenantID, domain, goal, NormalizeGoal(goal),
		failed.Action, failed.Element, failed.ErrorClass,
		successful.Action, successful.Element, string(schemas.NormalizeStrategy(string(successful.Strategy))),
		now)
	if err != nil {
		return fmt.Errorf("failed to record skill: %w", err)
	}

	l.logger.Info("Recorded skill",
		zap.String("tenant_id", tenantID),
		zap.String("domain", domain),
		zap.String("failed_action", failed.Action),
		zap.String("strategy", string(successful.Strategy)))
	return nil
}

func (l *postgresLibrary) Penalize(ctx context.Context, tenantID, domain, goal, failedAction string) error {
	query := `UPDATE skills SET
			failure_count = failure_count + 1,
			success_rate  = success_count::double precision / (success_count + failure_count + 1)
		WHERE tenant_id = $1 AND domain = $2 AND goal_normalized = $3 AND failed_action = $4`

	tag, err := l.pool.Exec(ctx, query, tenantID, domain, NormalizeGoal(goal), failedAction)
	if err != nil {
		return fmt.Errorf("failed to penalize skill: %w", err)
	}
	if tag.RowsAffected() > 0 {
		l.logger.Info("Penalized skill",
			zap.String("tenant_id", tenantID),
			zap.String("domain", domain),
			zap.String("failed_action", failedAction))
	}
	return nil
}

func (l *postgresLibrary) Sweep(ctx context.Context) (int, error) {
	cutoff := l.now().UTC().Add(-l.cfg.TTL)
	tag, err := l.pool.Exec(ctx, `DELETE FROM skills WHERE last_used_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep skills: %w", err)
	}
	removed := int(tag.RowsAffected())
	if removed > 0 {
		l.logger.Info("Swept expired skills", zap.Int("removed", removed))
	}
	return removed, nil
}

// evictIfAtCap keeps a tenant under the record cap by dropping the weakest
// skill, lowest success rate first and least recently used on ties.
func (l *postgresLibrary) evictIfAtCap(ctx context.Context, tenantID string) error {
	var count int
	row := l.pool.QueryRow(ctx, `SELECT COUNT(*) FROM skills WHERE tenant_id = $1`, tenantID)
	if err := row.Scan(&count); err != nil {
		return fmt.Errorf("failed to count tenant skills: %w", err)
	}
	if count < l.cfg.MaxPerTenant {
		return nil
	}

	query := `DELETE FROM skills WHERE id IN (
			SELECT id FROM skills
			WHERE tenant_id = $1
			ORDER BY success_rate ASC, last_used_at ASC
			LIMIT $2)`
	if _, err := l.pool.Exec(ctx, query, tenantID, count-l.cfg.MaxPerTenant+1); err != nil {
		return fmt.Errorf("failed to evict skills at cap: %w", err)
	}
	l.logger.Warn("Evicted skills at tenant cap",
		zap.String("tenant_id", tenantID),
		zap.Int("cap", l.cfg.MaxPerTenant))
	return nil
}

var _ Library = (*postgresLibrary)(nil)
