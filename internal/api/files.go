package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"time"

	"formflow/internal/auth"
	"formflow/internal/storage"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	putURLTTL = 15 * time.Minute
	getURLTTL = 24 * time.Hour
)

type SignMediaRequest struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size,omitempty"`
}

// signMedia hands out a presigned upload URL for a question video
func (d Dependencies) signMedia(w http.ResponseWriter, r *http.Request) {
	var req SignMediaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}
	if req.Name == "" {
		WriteError(w, http.StatusBadRequest, "invalid_request", "name required", d.Log)
		return
	}

	if d.Policy != nil {
		if err := d.Policy.ValidateFile(req.Name, req.ContentType, req.Size); err != nil {
			WriteError(w, http.StatusBadRequest, "policy_violation", err.Error(), d.Log)
			return
		}
	}

	key := storage.ObjectKey(auth.GetWorkspaceID(r.Context()), req.Name)
	putURL, err := d.Storage.PresignPut(r.Context(), key, req.ContentType, putURLTTL)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "url_generation_failed", "Failed to generate presigned URL", d.Log)
		return
	}
	getURL, err := d.Storage.PresignGet(r.Context(), key, getURLTTL)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "url_generation_failed", "Failed to generate presigned URL", d.Log)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"key":    key,
		"putUrl": putURL,
		"getUrl": getURL,
	})
}

func (d Dependencies) putMedia(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if err := d.Storage.Verify(storage.OpPut, key, r.URL.Query()); err != nil {
		writeServiceError(w, err, "upload_failed", d.Log)
		return
	}

	contentType := r.Header.Get("Content-Type")
	body := io.Reader(r.Body)
	if d.Policy != nil {
		if err := d.Policy.ValidateFile(key, contentType, r.ContentLength); err != nil {
			WriteError(w, http.StatusBadRequest, "policy_violation", err.Error(), d.Log)
			return
		}
		if d.Policy.MaxFileMB != nil {
			body = http.MaxBytesReader(w, r.Body, int64(*d.Policy.MaxFileMB*1024*1024))
		}
	}

	obj, err := d.Storage.Put(r.Context(), key, contentType, body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			_ = d.Storage.Delete(r.Context(), key)
			WriteError(w, http.StatusRequestEntityTooLarge, "policy_violation", "file exceeds maximum size", d.Log)
			return
		}
		writeServiceError(w, err, "upload_failed", d.Log)
		return
	}
	if obj.URL, err = d.Storage.PresignGet(r.Context(), key, getURLTTL); err != nil {
		d.Log.Warn("Failed to sign media URL", zap.String("key", key), zap.Error(err))
	}

	d.Log.Info("Media uploaded", zap.String("key", key), zap.Int64("size", obj.Size))
	writeJSON(w, http.StatusCreated, obj)
}

func (d Dependencies) getMedia(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if err := d.Storage.Verify(storage.OpGet, key, r.URL.Query()); err != nil {
		writeServiceError(w, err, "download_failed", d.Log)
		return
	}

	rc, err := d.Storage.Get(r.Context(), key)
	if err != nil {
		writeServiceError(w, err, "download_failed", d.Log)
		return
	}
	defer rc.Close()

	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		w.Header().Set("Content-Type", ct)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	if _, err := io.Copy(w, rc); err != nil {
		d.Log.Warn("Media download interrupted", zap.String("key", key), zap.Error(err))
	}
}
