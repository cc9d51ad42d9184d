package engine

import (
	"context"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagepilot-ai/pagepilot/api/schemas"
)

func TestIsSensitiveKey(t *testing.T) {
	sensitive := []string{
		"password", "Password", "user_password",
		"token", "access-token", "API_KEY", "apiKey", "api key",
		"secret", "clientSecret", "Authorization",
	}
	for _, key := range sensitive {
		assert.True(t, isSensitiveKey(key), "key %q should be masked", key)
	}

	benign := []string{"username", "order_id", "url", "count", "keyboard"}
	for _, key := range benign {
		assert.False(t, isSensitiveKey(key), "key %q should survive", key)
	}
}

func TestMaskMapDescendsIntoNestedMaps(t *testing.T) {
	masked := maskMap(map[string]any{
		"visible": "ok",
		"token":   "abc123",
		"nested": map[string]any{
			"password": "hunter2",
			"note":     "fine",
		},
	})

	assert.Equal(t, "ok", masked["visible"])
	assert.Equal(t, maskedValue, masked["token"])
	nested := masked["nested"].(map[string]any)
	assert.Equal(t, maskedValue, nested["password"])
	assert.Equal(t, "fine", nested["note"])
}

func TestExportDebugSessionMasksCredentials(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	task := h.createTask(t)

	h.tasks.mu.Lock()
	entry := h.tasks.tasks[task.TenantID+"/"+task.TaskID]
	entry.Memory = map[string]any{"api_key": "sk-live-1234", "order_id": "A-17"}
	entry.UserResolutionData = map[string]any{"otp_token": "999999"}
	h.tasks.mu.Unlock()

	require.NoError(t, h.actions.Append(ctx, &schemas.TaskAction{
		TenantID:  task.TenantID,
		TaskID:    task.TaskID,
		StepIndex: 0,
		Action: schemas.Action{
			Type:     schemas.ActionSetValue,
			Selector: "#password",
			Value:    "hunter2",
			Metadata: map[string]any{"session_token": "tok", "label": "login form"},
		},
		DOMSnapshot: `<form><input id="password"/></form>`,
	}))

	data, err := h.engine.ExportDebugSession(ctx, task.TenantID, task.TaskID)
	require.NoError(t, err)

	var session DebugSession
	require.NoError(t, jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &session))

	assert.Equal(t, maskedValue, session.Task.Memory["api_key"])
	assert.Equal(t, "A-17", session.Task.Memory["order_id"])
	assert.Equal(t, maskedValue, session.Task.UserResolutionData["otp_token"])

	require.Len(t, session.Actions, 1)
	action := session.Actions[0]
	assert.Equal(t, maskedValue, action.Action.Metadata["session_token"])
	assert.Equal(t, "login form", action.Action.Metadata["label"])
	assert.Equal(t, maskedValue, action.Action.Value, "typed credentials are masked by target selector")

	assert.Equal(t, 1, session.FinalElementCount)
}

func TestExportDebugSessionOrdersActions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	task := h.createTask(t)

	for _, idx := range []int{2, 0, 1} {
		require.NoError(t, h.actions.Append(ctx, &schemas.TaskAction{
			TenantID:  task.TenantID,
			TaskID:    task.TaskID,
			StepIndex: idx,
			Action:    schemas.Action{Type: schemas.ActionClick},
		}))
	}

	data, err := h.engine.ExportDebugSession(ctx, task.TenantID, task.TaskID)
	require.NoError(t, err)

	var session DebugSession
	require.NoError(t, jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &session))
	require.Len(t, session.Actions, 3)
	for want, action := range session.Actions {
		assert.Equal(t, want, action.StepIndex)
	}
}
