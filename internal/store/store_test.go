package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pagepilot-ai/pagepilot/api/schemas"
	"github.com/pagepilot-ai/pagepilot/internal/engine"
	"github.com/pagepilot-ai/pagepilot/internal/memory"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

// ArgumentMatcherFunc is a helper to create inline mock matchers.
type ArgumentMatcherFunc func(interface{}) bool

func (f ArgumentMatcherFunc) Match(v interface{}) bool {
	return f(v)
}

// anyTime accepts any value; used for timestamps stamped inside the store.
var anyTime = ArgumentMatcherFunc(func(v interface{}) bool {
	return true
})

const (
	sqlInsertTask = `
        INSERT INTO tasks (` + taskColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16);
    `
	sqlSelectTask = `
        SELECT ` + taskColumns + `
        FROM tasks
        WHERE tenant_id = $1 AND task_id = $2;
    `
	sqlUpdateTask = `
        UPDATE tasks SET
            status = $3,
            current_step_index = $4,
            memory = $5,
            blocker_context = $6,
            paused_at = $7,
            user_resolution = $8,
            last_failure_reason = $9,
            target_url = $10,
            updated_at = $11
        WHERE tenant_id = $1 AND task_id = $2;
    `
	sqlListActive = `
        SELECT ` + taskColumns + `
        FROM tasks
        WHERE tenant_id = $1 AND user_id = $2
          AND status IN ('active', 'planning', 'executing', 'verifying', 'correcting')
        ORDER BY updated_at DESC;
    `
	sqlInsertAction = `
        INSERT INTO task_actions (` + actionColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
    `
	sqlSelectMemory = `
        SELECT value FROM memory_entries
        WHERE scope = $1 AND owner_id = $2 AND key = $3;
    `
	sqlUpsertMemory = `
        INSERT INTO memory_entries (scope, owner_id, key, value, updated_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (scope, owner_id, key) DO UPDATE SET
            value = EXCLUDED.value,
            updated_at = EXCLUDED.updated_at;
    `
)

var taskColumnNames = []string{
	"tenant_id", "task_id", "user_id", "session_id", "goal", "target_url", "domain", "status",
	"current_step_index", "memory", "blocker_context", "paused_at", "user_resolution",
	"last_failure_reason", "created_at", "updated_at",
}

func sampleTask(now time.Time) *schemas.Task {
	return &schemas.Task{
		TaskID:           "task-1",
		TenantID:         "tenant-a",
		UserID:           "user-1",
		SessionID:        "session-1",
		Goal:             "Buy oat milk",
		TargetURL:        "https://shop.example.com/cart",
		Domain:           "shop.example.com",
		Status:           schemas.StatusExecuting,
		CurrentStepIndex: 3,
		Memory:           map[string]any{"order_id": "A-77"},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func taskRow(task *schemas.Task) *pgxmock.Rows {
	return pgxmock.NewRows(taskColumnNames).AddRow(
		task.TenantID, task.TaskID, task.UserID, task.SessionID,
		task.Goal, task.TargetURL, task.Domain, string(task.Status),
		task.CurrentStepIndex, []byte(`{"order_id":"A-77"}`), []byte(nil), (*time.Time)(nil), []byte(nil),
		task.LastFailureReason, task.CreatedAt, task.UpdatedAt,
	)
}

// -- Test Cases --

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func newTestStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	store, err := New(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)
	return store, mockPool
}

func TestTaskStoreCreate(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	t.Run("should insert a fresh task", func(t *testing.T) {
		store, mockPool := newTestStore(t)
		task := sampleTask(now)

		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertTask)).
			WithArgs(
				task.TenantID, task.TaskID, task.UserID, task.SessionID,
				task.Goal, task.TargetURL, task.Domain, string(task.Status),
				task.CurrentStepIndex, []byte(`{"order_id":"A-77"}`), []byte(nil), task.PausedAt, []byte(nil),
				task.LastFailureReason, now, now,
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, store.Tasks().Create(ctx, task))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should map a unique violation to PersistenceConflictError", func(t *testing.T) {
		store, mockPool := newTestStore(t)
		task := sampleTask(now)

		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertTask)).
			WithArgs(
				task.TenantID, task.TaskID, task.UserID, task.SessionID,
				task.Goal, task.TargetURL, task.Domain, string(task.Status),
				task.CurrentStepIndex, []byte(`{"order_id":"A-77"}`), []byte(nil), task.PausedAt, []byte(nil),
				task.LastFailureReason, now, now,
			).
			WillReturnError(&pgconn.PgError{Code: "23505"})

		err := store.Tasks().Create(ctx, task)
		var conflict *engine.PersistenceConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, task.TaskID, conflict.TaskID)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestTaskStoreGet(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	t.Run("should hydrate a stored task", func(t *testing.T) {
		store, mockPool := newTestStore(t)
		want := sampleTask(now)

		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectTask)).
			WithArgs("tenant-a", "task-1").
			WillReturnRows(taskRow(want))

		got, err := store.Tasks().Get(ctx, "tenant-a", "task-1")
		require.NoError(t, err)
		assert.Equal(t, want.Goal, got.Goal)
		assert.Equal(t, schemas.StatusExecuting, got.Status)
		assert.Equal(t, map[string]any{"order_id": "A-77"}, got.Memory)
		assert.Nil(t, got.BlockerContext)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should map a missing row to NotFoundError", func(t *testing.T) {
		store, mockPool := newTestStore(t)

		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectTask)).
			WithArgs("tenant-a", "missing").
			WillReturnError(pgx.ErrNoRows)

		_, err := store.Tasks().Get(ctx, "tenant-a", "missing")
		var notFound *engine.NotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "task", notFound.Kind)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestTaskStoreUpdate(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	t.Run("should write every mutable column and restamp updated_at", func(t *testing.T) {
		store, mockPool := newTestStore(t)
		task := sampleTask(now)
		task.Status = schemas.StatusCompleted

		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpdateTask)).
			WithArgs(
				task.TenantID, task.TaskID,
				string(schemas.StatusCompleted), task.CurrentStepIndex, []byte(`{"order_id":"A-77"}`),
				[]byte(nil), task.PausedAt, []byte(nil),
				task.LastFailureReason, task.TargetURL, anyTime,
			).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, store.Tasks().Update(ctx, task))
		assert.True(t, task.UpdatedAt.After(now), "Update should restamp UpdatedAt")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should map zero affected rows to NotFoundError", func(t *testing.T) {
		store, mockPool := newTestStore(t)
		task := sampleTask(now)

		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpdateTask)).
			WithArgs(
				task.TenantID, task.TaskID,
				string(task.Status), task.CurrentStepIndex, []byte(`{"order_id":"A-77"}`),
				[]byte(nil), task.PausedAt, []byte(nil),
				task.LastFailureReason, task.TargetURL, anyTime,
			).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := store.Tasks().Update(ctx, task)
		var notFound *engine.NotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestTaskStoreListActive(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	t.Run("should return active tasks in store order", func(t *testing.T) {
		store, mockPool := newTestStore(t)
		newer := sampleTask(now.Add(time.Minute))
		older := sampleTask(now)
		older.TaskID = "task-2"

		rows := pgxmock.NewRows(taskColumnNames)
		for _, task := range []*schemas.Task{newer, older} {
			rows.AddRow(
				task.TenantID, task.TaskID, task.UserID, task.SessionID,
				task.Goal, task.TargetURL, task.Domain, string(task.Status),
				task.CurrentStepIndex, []byte(`{}`), []byte(nil), (*time.Time)(nil), []byte(nil),
				task.LastFailureReason, task.CreatedAt, task.UpdatedAt,
			)
		}

		mockPool.ExpectQuery(flexibleSQLMatcher(sqlListActive)).
			WithArgs("tenant-a", "user-1").
			WillReturnRows(rows)

		tasks, err := store.Tasks().ListActive(ctx, "tenant-a", "user-1")
		require.NoError(t, err)
		require.Len(t, tasks, 2)
		assert.Equal(t, "task-1", tasks[0].TaskID)
		assert.Equal(t, "task-2", tasks[1].TaskID)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestActionStoreAppend(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	action := &schemas.TaskAction{
		TenantID:  "tenant-a",
		TaskID:    "task-1",
		StepIndex: 3,
		Thought:   "The cart button is visible, clicking it.",
		Action:    schemas.Action{Type: schemas.ActionClick, Selector: "#cart"},
		ExpectedOutcome: schemas.ExpectedOutcome{
			ElementShouldExist: []string{".cart-drawer"},
		},
		DOMSnapshot: "<html></html>",
		CreatedAt:   now,
	}

	t.Run("should append a step record", func(t *testing.T) {
		store, mockPool := newTestStore(t)

		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertAction)).
			WithArgs(
				action.TenantID, action.TaskID, action.StepIndex,
				action.Thought, []byte(`{"type":"click","selector":"#cart"}`),
				[]byte(`{"element_should_exist":[".cart-drawer"]}`),
				action.DOMSnapshot, []byte(`{}`), now,
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, store.Actions().Append(ctx, action))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should map a step index collision to PersistenceConflictError", func(t *testing.T) {
		store, mockPool := newTestStore(t)

		mockPool.ExpectExec(flexibleSQLMatcher(sqlInsertAction)).
			WithArgs(
				action.TenantID, action.TaskID, action.StepIndex,
				action.Thought, []byte(`{"type":"click","selector":"#cart"}`),
				[]byte(`{"element_should_exist":[".cart-drawer"]}`),
				action.DOMSnapshot, []byte(`{}`), now,
			).
			WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "task_actions_pkey"})

		err := store.Actions().Append(ctx, action)
		var conflict *engine.PersistenceConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, action.TaskID, conflict.TaskID)
		assert.Equal(t, action.StepIndex, conflict.StepIndex)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("should report a miss without error", func(t *testing.T) {
		store, mockPool := newTestStore(t)

		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectMemory)).
			WithArgs("task", "task-1", "order_id").
			WillReturnError(pgx.ErrNoRows)

		value, found, err := store.Memory().Get(ctx, memory.ScopeTask, "task-1", "order_id")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, value)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should unmarshal a stored value", func(t *testing.T) {
		store, mockPool := newTestStore(t)

		mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectMemory)).
			WithArgs("session", "session-1", "preferred_store").
			WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow([]byte(`"downtown"`)))

		value, found, err := store.Memory().Get(ctx, memory.ScopeSession, "session-1", "preferred_store")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "downtown", value)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should upsert a value", func(t *testing.T) {
		store, mockPool := newTestStore(t)

		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpsertMemory)).
			WithArgs("task", "task-1", "order_id", []byte(`"A-77"`), anyTime).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, store.Memory().Set(ctx, memory.ScopeTask, "task-1", "order_id", "A-77"))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}
