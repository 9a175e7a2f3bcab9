package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"formflow/internal/auth"
	"formflow/internal/memstore"
	"formflow/internal/schema"
	"formflow/internal/service"
	"formflow/internal/storage"
	"formflow/internal/ws"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type nopBus struct{}

func (nopBus) PublishWorkspace(string, map[string]interface{}) error { return nil }
func (nopBus) PublishForm(string, map[string]interface{}) error      { return nil }
func (nopBus) PublishSession(string, map[string]interface{}) error   { return nil }

type testAPI struct {
	srv  *httptest.Server
	auth *auth.JWTConfig
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	log := zap.NewNop()

	store := memstore.New()
	comp := schema.NewCompilerWithCache(16)
	forms := service.NewFormService(store, nopBus{}, comp, log)
	sessions := service.NewSessionService(store, memstore.NewSessions(), store, comp, nopBus{}, log)

	// An empty base URL yields server-relative presigned URLs
	stor, err := storage.NewLocalStorage(t.TempDir(), "", "media-secret")
	require.NoError(t, err)

	hub := ws.NewHub(log)
	hub.SetCommandHandler(ws.NewCommandHandler(forms, sessions, log))
	hub.SetAuthorizer(ws.FormChannelAuthorizer{Forms: forms})

	jwtCfg := auth.NewJWTConfig("test-secret", true)
	r := chi.NewRouter()
	r.Mount("/v1", Routes(Dependencies{
		Forms:      forms,
		Sessions:   sessions,
		Workspaces: service.NewWorkspaceService(store),
		Storage:    stor,
		Policy:     storage.VideoPolicy(1),
		Hub:        hub,
		Auth:       jwtCfg,
		Log:        log,
	}))

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testAPI{srv: srv, auth: jwtCfg}
}

var editorHeaders = map[string]string{"X-Workspace-ID": "ws1", "X-User-ID": "u1"}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}, headers map[string]string) (*http.Response, map[string]interface{}) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 {
		_ = json.Unmarshal(data, &out)
	}
	return resp, out
}

func withVersion(version string) map[string]string {
	h := map[string]string{"If-Match": version}
	for k, v := range editorHeaders {
		h[k] = v
	}
	return h
}

func TestAPI_EditorFlow(t *testing.T) {
	a := newTestAPI(t)

	resp, form := a.do(t, http.MethodPost, "/v1/forms", map[string]interface{}{"name": "Survey"}, editorHeaders)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, `"1"`, resp.Header.Get("ETag"))
	formID := form["id"].(string)
	base := "/v1/forms/" + formID

	resp, added := a.do(t, http.MethodPost, base+"/questions", map[string]interface{}{
		"targetIndex": 0,
		"question":    map[string]interface{}{"type": "select", "title": "Coffee?", "options": []string{"Yes", "No"}},
	}, withVersion(`"1"`))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, `"2"`, resp.Header.Get("ETag"))
	qID := added["question"].(map[string]interface{})["id"].(string)

	// Stale If-Match
	resp, body := a.do(t, http.MethodPost, base+"/questions", map[string]interface{}{
		"targetIndex": 1,
		"question":    map[string]interface{}{"type": "text", "title": "Why?"},
	}, withVersion("1"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "version_conflict", body["code"])

	resp, _ = a.do(t, http.MethodPost, base+"/questions", nil, withVersion("abc"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, edited := a.do(t, http.MethodPatch, base+"/questions/"+qID, map[string]interface{}{"title": "Tea?"}, withVersion(`W/"2"`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Tea?", edited["question"].(map[string]interface{})["title"])

	resp, dup := a.do(t, http.MethodPost, base+"/questions/"+qID+"/duplicate", nil, editorHeaders)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	dupID := dup["question"].(map[string]interface{})["id"].(string)
	assert.NotEqual(t, qID, dupID)

	resp, reordered := a.do(t, http.MethodPut, base+"/order", map[string]interface{}{"questionIds": []string{dupID, qID}}, editorHeaders)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, reordered["moved"], 2)

	resp, flow := a.do(t, http.MethodGet, base+"/flow", nil, editorHeaders)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, flow["nodes"], 3)

	resp, integrity := a.do(t, http.MethodGet, base+"/integrity", nil, editorHeaders)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, integrity["ok"])

	resp, _ = a.do(t, http.MethodDelete, base+"/questions/"+dupID, nil, editorHeaders)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, published := a.do(t, http.MethodPost, base+"/publish", nil, editorHeaders)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "PUBLISHED", published["status"])

	resp, list := a.do(t, http.MethodGet, "/v1/forms?status=PUBLISHED", nil, editorHeaders)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, list["forms"], 1)
	assert.Equal(t, float64(1), list["forms"].([]interface{})[0].(map[string]interface{})["questionCount"])

	resp, _ = a.do(t, http.MethodGet, "/v1/forms?status=ARCHIVED", nil, editorHeaders)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = a.do(t, http.MethodPost, base+"/unpublish", nil, editorHeaders)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Another workspace may not read it; no workspace at all is unauthorized
	resp, body = a.do(t, http.MethodGet, base, nil, map[string]string{"X-Workspace-ID": "ws2"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "forbidden", body["code"])
	resp, _ = a.do(t, http.MethodGet, base, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = a.do(t, http.MethodDelete, base, nil, editorHeaders)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, body = a.do(t, http.MethodGet, base, nil, editorHeaders)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body["code"])
}

func TestAPI_RespondentFlow(t *testing.T) {
	a := newTestAPI(t)

	resp, form := a.do(t, http.MethodPost, "/v1/forms", map[string]interface{}{
		"name": "Coffee",
		"questions": []map[string]interface{}{
			{"type": "select", "title": "Coffee?", "options": []string{"Yes", "No"}},
		},
	}, editorHeaders)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	formID := form["id"].(string)
	qID := form["questions"].([]interface{})[0].(map[string]interface{})["id"].(string)

	// Drafts are invisible to respondents but open to previews
	resp, _ = a.do(t, http.MethodPost, "/v1/forms/"+formID+"/sessions", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, preview := a.do(t, http.MethodPost, "/v1/forms/"+formID+"/sessions", map[string]interface{}{"preview": true}, editorHeaders)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, true, preview["preview"])

	resp, _ = a.do(t, http.MethodPost, "/v1/forms/"+formID+"/publish", nil, editorHeaders)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, sess := a.do(t, http.MethodPost, "/v1/forms/"+formID+"/sessions", nil, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sessionID := sess["id"].(string)
	assert.Equal(t, qID, sess["currentQuestionId"])

	resp, progress := a.do(t, http.MethodGet, "/v1/sessions/"+sessionID+"/progress", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), progress["percent"])

	resp, body := a.do(t, http.MethodPost, "/v1/sessions/"+sessionID+"/answers", map[string]interface{}{
		"questionId": qID, "answer": []string{"Maybe"},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_input", body["code"])

	resp, _ = a.do(t, http.MethodPost, "/v1/sessions/"+sessionID+"/answers", map[string]interface{}{"answer": "x"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, done := a.do(t, http.MethodPost, "/v1/sessions/"+sessionID+"/answers", map[string]interface{}{
		"questionId": qID, "answer": []string{"Yes"},
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "COMPLETED", done["session"].(map[string]interface{})["status"])
	assert.Equal(t, float64(100), done["progress"].(map[string]interface{})["percent"])

	resp, body = a.do(t, http.MethodPost, "/v1/sessions/"+sessionID+"/answers", map[string]interface{}{
		"questionId": qID, "answer": []string{"No"},
	}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "session_closed", body["code"])

	resp, _ = a.do(t, http.MethodPost, "/v1/sessions/"+sessionID+"/abandon", nil, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, got := a.do(t, http.MethodGet, "/v1/sessions/"+sessionID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "COMPLETED", got["status"])

	resp, subs := a.do(t, http.MethodGet, "/v1/forms/"+formID+"/submissions?limit=10", nil, editorHeaders)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, subs["submissions"], 1)
	assert.Equal(t, sessionID, subs["submissions"].([]interface{})[0].(map[string]interface{})["sessionId"])

	resp, _ = a.do(t, http.MethodGet, "/v1/forms/"+formID+"/submissions?limit=many", nil, editorHeaders)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = a.do(t, http.MethodGet, "/v1/sessions/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_Workspaces(t *testing.T) {
	a := newTestAPI(t)

	resp, body := a.do(t, http.MethodPost, "/v1/workspaces", map[string]interface{}{"name": "Acme"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	wsID := body["workspace"].(map[string]interface{})["id"].(string)
	token := body["token"].(string)

	id, err := a.auth.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, wsID, id.WorkspaceID)

	bearer := map[string]string{"Authorization": "Bearer " + token}
	resp, got := a.do(t, http.MethodGet, "/v1/workspaces/"+wsID, nil, bearer)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Acme", got["name"])

	resp, _ = a.do(t, http.MethodGet, "/v1/workspaces/other", nil, bearer)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = a.do(t, http.MethodPost, "/v1/workspaces", map[string]interface{}{"name": "  "}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = a.do(t, http.MethodGet, "/v1/workspaces/"+wsID, nil, map[string]string{"Authorization": "Bearer junk"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPI_Media(t *testing.T) {
	a := newTestAPI(t)

	resp, _ := a.do(t, http.MethodPost, "/v1/media/sign", map[string]interface{}{"name": "notes.txt", "contentType": "text/plain"}, editorHeaders)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, signed := a.do(t, http.MethodPost, "/v1/media/sign", map[string]interface{}{
		"name": "intro.mp4", "contentType": "video/mp4", "size": 1024,
	}, editorHeaders)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(signed["key"].(string), "ws1/"))
	putURL := signed["putUrl"].(string)
	getURL := signed["getUrl"].(string)

	req, err := http.NewRequest(http.MethodPut, a.srv.URL+putURL, strings.NewReader("fake-video"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "video/mp4")
	put, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	put.Body.Close()
	require.Equal(t, http.StatusCreated, put.StatusCode)

	get, err := http.Get(a.srv.URL + getURL)
	require.NoError(t, err)
	data, err := io.ReadAll(get.Body)
	get.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, get.StatusCode)
	assert.Equal(t, "fake-video", string(data))

	// A get URL cannot be used to upload, and a tampered signature is refused
	req, err = http.NewRequest(http.MethodPut, a.srv.URL+getURL, strings.NewReader("x"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "video/mp4")
	wrongOp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	wrongOp.Body.Close()
	assert.Equal(t, http.StatusForbidden, wrongOp.StatusCode)

	tampered, err := http.Get(a.srv.URL + strings.Replace(getURL, "sig=", "sig=00", 1))
	require.NoError(t, err)
	tampered.Body.Close()
	assert.Equal(t, http.StatusForbidden, tampered.StatusCode)
}

func TestAPI_WebSocket(t *testing.T) {
	a := newTestAPI(t)

	resp, form := a.do(t, http.MethodPost, "/v1/forms", map[string]interface{}{"name": "Live"}, editorHeaders)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	header := http.Header{}
	header.Set("X-Workspace-ID", "ws1")
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(a.srv.URL, "http")+"/v1/ws", header)
	require.NoError(t, err)
	defer conn.Close()

	read := func() map[string]interface{} {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg map[string]interface{}
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "subscribe", "channel": "workspace:ws1"}))
	ack := read()
	assert.Equal(t, "subscribed", ack["ack"])

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "subscribe", "channel": "workspace:ws2"}))
	nack := read()
	assert.Equal(t, "forbidden", nack["code"])

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "cmd", "id": "c1", "op": "getForm",
		"data": map[string]interface{}{"formId": form["id"]},
	}))
	reply := read()
	assert.Equal(t, "c1", reply["id"])
	assert.Equal(t, "Live", reply["data"].(map[string]interface{})["name"])
}

func TestExpectedVersion(t *testing.T) {
	cases := map[string]int64{"": 0, "*": 0, "4": 4, `"5"`: 5, `W/"6"`: 6}
	for header, want := range cases {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		if header != "" {
			r.Header.Set("If-Match", header)
		}
		got, err := expectedVersion(r)
		require.NoError(t, err, header)
		assert.Equal(t, want, got, header)
	}

	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set("If-Match", "-1")
	_, err := expectedVersion(r)
	assert.Error(t, err)
}
