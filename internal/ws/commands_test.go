package ws

import (
	"context"
	"encoding/json"
	"testing"

	"formflow/internal/model"
	"formflow/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// command sends op with data through the connection and returns the reply
func command(t *testing.T, c *Conn, id, op string, data interface{}) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	if data != nil {
		b, err := json.Marshal(data)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(b, &payload))
	}
	c.handleMessage(map[string]interface{}{"type": "cmd", "id": id, "op": op, "data": payload})
	reply := recv(t, c)
	assert.Equal(t, id, reply["id"])
	return reply
}

func replyData(t *testing.T, reply map[string]interface{}) map[string]interface{} {
	t.Helper()
	require.Equal(t, "response", reply["type"], "unexpected reply: %v", reply)
	data, ok := reply["data"].(map[string]interface{})
	require.True(t, ok)
	return data
}

func TestCommands_EditorAndRespondent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	scope := service.Scope{WorkspaceID: "ws1", UserID: "u1"}

	form, err := env.forms.CreateForm(ctx, scope, service.CreateFormInput{Name: "Survey"})
	require.NoError(t, err)
	editor := env.connect("u1", "ws1")

	added := replyData(t, command(t, editor, "1", "addQuestion", map[string]interface{}{
		"formId":      form.ID,
		"version":     form.Version,
		"targetIndex": 0,
		"question": map[string]interface{}{
			"type":    "select",
			"title":   "Coffee?",
			"options": []string{"Yes", "No"},
		},
	}))
	assert.Equal(t, float64(2), added["version"])
	qID := added["question"].(map[string]interface{})["id"].(string)

	// A stale version is refused
	conflict := command(t, editor, "2", "deleteQuestion", map[string]interface{}{
		"formId": form.ID, "version": 1, "questionId": qID,
	})
	assert.Equal(t, "version_conflict", conflict["code"])

	edited := replyData(t, command(t, editor, "3", "editQuestion", map[string]interface{}{
		"formId": form.ID, "version": 2, "questionId": qID,
		"patch": map[string]interface{}{"title": "Tea?"},
	}))
	assert.Equal(t, "Tea?", edited["question"].(map[string]interface{})["title"])

	dup := replyData(t, command(t, editor, "4", "duplicateQuestion", map[string]interface{}{
		"formId": form.ID, "questionId": qID,
	}))
	dupID := dup["question"].(map[string]interface{})["id"].(string)

	reordered := replyData(t, command(t, editor, "5", "reorderQuestions", map[string]interface{}{
		"formId": form.ID, "questionIds": []string{dupID, qID},
	}))
	assert.Len(t, reordered["moved"], 2)

	replyData(t, command(t, editor, "6", "deleteQuestion", map[string]interface{}{
		"formId": form.ID, "questionId": dupID,
	}))

	flow := replyData(t, command(t, editor, "7", "getFlow", map[string]interface{}{"formId": form.ID}))
	assert.Len(t, flow["nodes"], 2)

	got := replyData(t, command(t, editor, "8", "getForm", map[string]interface{}{"formId": form.ID}))
	assert.Equal(t, "Survey", got["name"])

	// Preview a draft and answer through to the end
	sess := replyData(t, command(t, editor, "9", "startSession", map[string]interface{}{"formId": form.ID, "preview": true}))
	sessionID := sess["id"].(string)
	assert.Equal(t, qID, sess["currentQuestionId"])

	bad := command(t, editor, "10", "answer", map[string]interface{}{
		"sessionId": sessionID, "questionId": qID, "answer": []string{"Maybe"},
	})
	assert.Equal(t, "invalid_input", bad["code"])

	done := replyData(t, command(t, editor, "11", "answer", map[string]interface{}{
		"sessionId": sessionID, "questionId": qID, "answer": []string{"Yes"},
	}))
	assert.Equal(t, string(model.SessionStatusCompleted), done["session"].(map[string]interface{})["status"])
	assert.Equal(t, float64(100), done["progress"].(map[string]interface{})["percent"])

	env.hub.mu.RLock()
	_, following := env.hub.subs["session:"+sessionID][editor]
	env.hub.mu.RUnlock()
	assert.True(t, following)
}

func TestCommands_Errors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	form, err := env.forms.CreateForm(ctx, service.Scope{WorkspaceID: "ws2"}, service.CreateFormInput{Name: "theirs"})
	require.NoError(t, err)
	c := env.connect("u1", "ws1")

	assert.Equal(t, "unknown_command", command(t, c, "a", "launchRockets", nil)["code"])
	assert.Equal(t, "invalid_input", command(t, c, "b", "getForm", nil)["code"])
	assert.Equal(t, "invalid_input", command(t, c, "c", "editQuestion", map[string]interface{}{"formId": form.ID})["code"])
	assert.Equal(t, "forbidden", command(t, c, "d", "getForm", map[string]interface{}{"formId": form.ID})["code"])
	assert.Equal(t, "not_found", command(t, c, "e", "getForm", map[string]interface{}{"formId": "nope"})["code"])

	// Drafts cannot be answered without preview
	assert.Equal(t, "not_found", command(t, c, "f", "startSession", map[string]interface{}{"formId": form.ID})["code"])
}
