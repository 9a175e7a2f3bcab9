package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"formflow/internal/errorz"
	"formflow/internal/model"
	"formflow/internal/service"

	"github.com/go-chi/chi/v5"
)

type formSummary struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Status        model.FormStatus `json:"status"`
	Version       int64            `json:"version"`
	QuestionCount int              `json:"questionCount"`
}

func (d Dependencies) listForms(w http.ResponseWriter, r *http.Request) {
	var status *model.FormStatus
	if s := r.URL.Query().Get("status"); s != "" {
		fs := model.FormStatus(s)
		if fs != model.FormStatusDraft && fs != model.FormStatusPublished {
			WriteError(w, http.StatusBadRequest, "invalid_input", "status must be DRAFT or PUBLISHED", d.Log)
			return
		}
		status = &fs
	}

	forms, err := d.Forms.ListForms(r.Context(), scopeFrom(r), status)
	if err != nil {
		writeServiceError(w, err, "list_failed", d.Log)
		return
	}

	out := make([]formSummary, 0, len(forms))
	for _, f := range forms {
		out = append(out, formSummary{
			ID:            f.ID,
			Name:          f.Name,
			Status:        f.Status,
			Version:       f.Version,
			QuestionCount: len(f.Questions),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"forms": out})
}

func (d Dependencies) createForm(w http.ResponseWriter, r *http.Request) {
	var req service.CreateFormInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}

	form, err := d.Forms.CreateForm(r.Context(), scopeFrom(r), req)
	if err != nil {
		writeServiceError(w, err, "create_failed", d.Log)
		return
	}
	writeVersioned(w, http.StatusCreated, form.Version, form)
}

func (d Dependencies) getForm(w http.ResponseWriter, r *http.Request) {
	form, err := d.Forms.GetForm(r.Context(), scopeFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err, "get_failed", d.Log)
		return
	}
	writeVersioned(w, http.StatusOK, form.Version, form)
}

func (d Dependencies) deleteForm(w http.ResponseWriter, r *http.Request) {
	if err := d.Forms.DeleteForm(r.Context(), scopeFrom(r), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err, "delete_failed", d.Log)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (d Dependencies) publishForm(w http.ResponseWriter, r *http.Request) {
	version, err := expectedVersion(r)
	if err != nil {
		writeServiceError(w, err, "publish_failed", d.Log)
		return
	}
	form, err := d.Forms.Publish(r.Context(), scopeFrom(r), chi.URLParam(r, "id"), version)
	if err != nil {
		writeServiceError(w, err, "publish_failed", d.Log)
		return
	}
	writeVersioned(w, http.StatusOK, form.Version, form)
}

func (d Dependencies) unpublishForm(w http.ResponseWriter, r *http.Request) {
	version, err := expectedVersion(r)
	if err != nil {
		writeServiceError(w, err, "unpublish_failed", d.Log)
		return
	}
	form, err := d.Forms.Unpublish(r.Context(), scopeFrom(r), chi.URLParam(r, "id"), version)
	if err != nil {
		writeServiceError(w, err, "unpublish_failed", d.Log)
		return
	}
	writeVersioned(w, http.StatusOK, form.Version, form)
}

func (d Dependencies) getFlow(w http.ResponseWriter, r *http.Request) {
	flow, err := d.Forms.Flow(r.Context(), scopeFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err, "flow_failed", d.Log)
		return
	}
	writeJSON(w, http.StatusOK, flow)
}

func (d Dependencies) getIntegrity(w http.ResponseWriter, r *http.Request) {
	dangling, err := d.Forms.Integrity(r.Context(), scopeFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err, "integrity_failed", d.Log)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       len(dangling) == 0,
		"dangling": dangling,
	})
}

func (d Dependencies) listSubmissions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeServiceError(w, err, "list_failed", d.Log)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeServiceError(w, err, "list_failed", d.Log)
		return
	}

	subs, err := d.Sessions.ListSubmissions(r.Context(), scopeFrom(r), chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		writeServiceError(w, err, "list_failed", d.Log)
		return
	}
	if subs == nil {
		subs = []*model.Submission{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"submissions": subs})
}

func queryInt(r *http.Request, name string) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", errorz.ErrInvalidInput, name)
	}
	return n, nil
}
