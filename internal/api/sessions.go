package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"formflow/internal/model"
	"formflow/internal/service"

	"github.com/go-chi/chi/v5"
)

type StartSessionRequest struct {
	Preview bool `json:"preview"`
}

type AnswerRequest struct {
	QuestionID string      `json:"questionId"`
	Answer     model.Value `json:"answer"`
}

func (d Dependencies) startSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	// An empty body starts a live session
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}

	sess, err := d.Sessions.Start(r.Context(), service.StartSessionInput{
		FormID:  chi.URLParam(r, "id"),
		Preview: req.Preview,
		Scope:   scopeFrom(r),
	})
	if err != nil {
		writeServiceError(w, err, "start_failed", d.Log)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (d Dependencies) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := d.Sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err, "get_failed", d.Log)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (d Dependencies) answer(w http.ResponseWriter, r *http.Request) {
	var req AnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}
	if req.QuestionID == "" {
		WriteError(w, http.StatusBadRequest, "invalid_input", "questionId required", d.Log)
		return
	}

	sess, err := d.Sessions.Answer(r.Context(), chi.URLParam(r, "id"), req.QuestionID, req.Answer)
	if err != nil {
		writeServiceError(w, err, "answer_failed", d.Log)
		return
	}
	progress, err := d.Sessions.Progress(r.Context(), sess.ID)
	if err != nil {
		writeServiceError(w, err, "progress_failed", d.Log)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session":  sess,
		"progress": progress,
	})
}

func (d Dependencies) getProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := d.Sessions.Progress(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err, "progress_failed", d.Log)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (d Dependencies) abandonSession(w http.ResponseWriter, r *http.Request) {
	sess, err := d.Sessions.Abandon(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err, "abandon_failed", d.Log)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}
