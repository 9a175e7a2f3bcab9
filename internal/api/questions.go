package api

import (
	"encoding/json"
	"net/http"

	"formflow/internal/graph"
	"formflow/internal/model"

	"github.com/go-chi/chi/v5"
)

type AddQuestionRequest struct {
	TargetIndex      int            `json:"targetIndex"`
	TargetQuestionID string         `json:"targetQuestionId,omitempty"`
	Question         model.Question `json:"question"`
	SourceLogic      *model.Logic   `json:"sourceLogic,omitempty"`
}

type ReorderRequest struct {
	QuestionIDs []string `json:"questionIds"`
}

func (d Dependencies) addQuestion(w http.ResponseWriter, r *http.Request) {
	version, err := expectedVersion(r)
	if err != nil {
		writeServiceError(w, err, "add_failed", d.Log)
		return
	}
	var req AddQuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body: "+err.Error(), d.Log)
		return
	}

	form, q, err := d.Forms.AddQuestion(r.Context(), scopeFrom(r), chi.URLParam(r, "id"), version, graph.AddQuestionInput{
		TargetIndex:      req.TargetIndex,
		TargetQuestionID: req.TargetQuestionID,
		Question:         req.Question,
		SourceLogic:      req.SourceLogic,
	})
	if err != nil {
		writeServiceError(w, err, "add_failed", d.Log)
		return
	}
	writeVersioned(w, http.StatusCreated, form.Version, map[string]interface{}{
		"version":  form.Version,
		"question": q,
	})
}

func (d Dependencies) editQuestion(w http.ResponseWriter, r *http.Request) {
	version, err := expectedVersion(r)
	if err != nil {
		writeServiceError(w, err, "edit_failed", d.Log)
		return
	}
	var patch map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}

	form, q, err := d.Forms.EditQuestion(r.Context(), scopeFrom(r), chi.URLParam(r, "id"), version, chi.URLParam(r, "qid"), patch)
	if err != nil {
		writeServiceError(w, err, "edit_failed", d.Log)
		return
	}
	writeVersioned(w, http.StatusOK, form.Version, map[string]interface{}{
		"version":  form.Version,
		"question": q,
	})
}

func (d Dependencies) deleteQuestion(w http.ResponseWriter, r *http.Request) {
	version, err := expectedVersion(r)
	if err != nil {
		writeServiceError(w, err, "delete_failed", d.Log)
		return
	}

	form, err := d.Forms.DeleteQuestion(r.Context(), scopeFrom(r), chi.URLParam(r, "id"), version, chi.URLParam(r, "qid"))
	if err != nil {
		writeServiceError(w, err, "delete_failed", d.Log)
		return
	}
	writeVersioned(w, http.StatusOK, form.Version, form)
}

func (d Dependencies) duplicateQuestion(w http.ResponseWriter, r *http.Request) {
	version, err := expectedVersion(r)
	if err != nil {
		writeServiceError(w, err, "duplicate_failed", d.Log)
		return
	}

	form, q, err := d.Forms.DuplicateQuestion(r.Context(), scopeFrom(r), chi.URLParam(r, "id"), version, chi.URLParam(r, "qid"))
	if err != nil {
		writeServiceError(w, err, "duplicate_failed", d.Log)
		return
	}
	writeVersioned(w, http.StatusCreated, form.Version, map[string]interface{}{
		"version":  form.Version,
		"question": q,
	})
}

func (d Dependencies) reorderQuestions(w http.ResponseWriter, r *http.Request) {
	version, err := expectedVersion(r)
	if err != nil {
		writeServiceError(w, err, "reorder_failed", d.Log)
		return
	}
	var req ReorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}

	form, moved, err := d.Forms.ReorderQuestions(r.Context(), scopeFrom(r), chi.URLParam(r, "id"), version, req.QuestionIDs)
	if err != nil {
		writeServiceError(w, err, "reorder_failed", d.Log)
		return
	}
	if moved == nil {
		moved = []string{}
	}
	writeVersioned(w, http.StatusOK, form.Version, map[string]interface{}{
		"version": form.Version,
		"moved":   moved,
		"form":    form,
	})
}
