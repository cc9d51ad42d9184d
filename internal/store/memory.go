package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/pagepilot-ai/pagepilot/internal/memory"
)

// MemoryStore persists memory entries for both scopes in one table keyed by
// (scope, owner_id, key).
type MemoryStore struct {
	pool DBPool
	log  *zap.Logger
}

// Get reads one entry. The boolean reports presence; absence is not an
// error at this layer.
func (m *MemoryStore) Get(ctx context.Context, scope memory.Scope, ownerID, key string) (any, bool, error) {
	var valueJSON []byte
	err := m.pool.QueryRow(ctx, `
        SELECT value FROM memory_entries
        WHERE scope = $1 AND owner_id = $2 AND key = $3;
    `, string(scope), ownerID, key).Scan(&valueJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to fetch memory entry: %w", err)
	}

	var value any
	if len(valueJSON) > 0 {
		if err := json.Unmarshal(valueJSON, &value); err != nil {
			return nil, false, fmt.Errorf("failed to unmarshal memory value: %w", err)
		}
	}
	return value, true, nil
}

// Set upserts one entry.
func (m *MemoryStore) Set(ctx context.Context, scope memory.Scope, ownerID, key string, value any) error {
	valueJSON, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal memory value: %w", err)
	}

	_, err = m.pool.Exec(ctx, `
        INSERT INTO memory_entries (scope, owner_id, key, value, updated_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (scope, owner_id, key) DO UPDATE SET
            value = EXCLUDED.value,
            updated_at = EXCLUDED.updated_at;
    `, string(scope), ownerID, key, valueJSON, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert memory entry: %w", err)
	}
	return nil
}

// Delete removes one entry. Deleting an absent key is a no-op.
func (m *MemoryStore) Delete(ctx context.Context, scope memory.Scope, ownerID, key string) error {
	_, err := m.pool.Exec(ctx, `
        DELETE FROM memory_entries
        WHERE scope = $1 AND owner_id = $2 AND key = $3;
    `, string(scope), ownerID, key)
	if err != nil {
		return fmt.Errorf("failed to delete memory entry: %w", err)
	}
	return nil
}

// All returns the owner's whole map for one scope.
func (m *MemoryStore) All(ctx context.Context, scope memory.Scope, ownerID string) (map[string]any, error) {
	rows, err := m.pool.Query(ctx, `
        SELECT key, value FROM memory_entries
        WHERE scope = $1 AND owner_id = $2;
    `, string(scope), ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query memory entries: %w", err)
	}
	defer rows.Close()

	entries := make(map[string]any)
	for rows.Next() {
		var key string
		var valueJSON []byte
		if err := rows.Scan(&key, &valueJSON); err != nil {
			return nil, fmt.Errorf("failed to scan memory row: %w", err)
		}
		var value any
		if len(valueJSON) > 0 {
			if err := json.Unmarshal(valueJSON, &value); err != nil {
				return nil, fmt.Errorf("failed to unmarshal memory value for key %q: %w", key, err)
			}
		}
		entries[key] = value
	}
	return entries, rows.Err()
}

var _ memory.Repository = (*MemoryStore)(nil)
