package api

import (
	"encoding/json"
	"net/http"
	"time"

	"formflow/internal/auth"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const workspaceTokenTTL = 24 * time.Hour

type CreateWorkspaceRequest struct {
	Name string `json:"name"`
}

// createWorkspace bootstraps a workspace and hands back a token scoped to it
func (d Dependencies) createWorkspace(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkspaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}

	ws, err := d.Workspaces.CreateWorkspace(r.Context(), req.Name)
	if err != nil {
		writeServiceError(w, err, "create_failed", d.Log)
		return
	}

	userID := auth.GetUserID(r.Context())
	if userID == "" {
		userID = "owner"
	}
	token, err := d.Auth.IssueToken(auth.Identity{UserID: userID, WorkspaceID: ws.ID}, workspaceTokenTTL)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "token_failed", "Failed to issue token", d.Log)
		return
	}

	d.Log.Info("Workspace created", zap.String("workspace_id", ws.ID), zap.String("user_id", userID))
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"workspace": ws,
		"token":     token,
	})
}

func (d Dependencies) getWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, err := d.Workspaces.GetWorkspace(r.Context(), scopeFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err, "get_failed", d.Log)
		return
	}
	writeJSON(w, http.StatusOK, ws)
}
