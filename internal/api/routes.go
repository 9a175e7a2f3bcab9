package api

import (
	"net/http"

	"formflow/internal/auth"
	"formflow/internal/service"
	"formflow/internal/storage"
	"formflow/internal/ws"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type Dependencies struct {
	Forms      *service.FormService
	Sessions   *service.SessionService
	Workspaces *service.WorkspaceService
	Storage    *storage.LocalStorage
	Policy     *storage.FilePolicy
	Hub        *ws.Hub
	Auth       *auth.JWTConfig
	Log        *zap.Logger
}

func Routes(d Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestLogger(d.Log))
	// Anonymous callers pass through; respondent endpoints need no identity
	r.Use(d.Auth.Middleware)

	r.Post("/workspaces", d.createWorkspace)

	// Editor endpoints
	r.Group(func(r chi.Router) {
		r.Use(RequireWorkspace(d.Log))

		r.Get("/workspaces/{id}", d.getWorkspace)

		r.Get("/forms", d.listForms)
		r.Post("/forms", d.createForm)
		r.Get("/forms/{id}", d.getForm)
		r.Delete("/forms/{id}", d.deleteForm)
		r.Post("/forms/{id}/publish", d.publishForm)
		r.Post("/forms/{id}/unpublish", d.unpublishForm)
		r.Get("/forms/{id}/flow", d.getFlow)
		r.Get("/forms/{id}/integrity", d.getIntegrity)
		r.Get("/forms/{id}/submissions", d.listSubmissions)

		r.Post("/forms/{id}/questions", d.addQuestion)
		r.Patch("/forms/{id}/questions/{qid}", d.editQuestion)
		r.Delete("/forms/{id}/questions/{qid}", d.deleteQuestion)
		r.Post("/forms/{id}/questions/{qid}/duplicate", d.duplicateQuestion)
		r.Put("/forms/{id}/order", d.reorderQuestions)

		r.Post("/media/sign", d.signMedia)
	})

	// Respondent endpoints
	r.Post("/forms/{id}/sessions", d.startSession)
	r.Get("/sessions/{id}", d.getSession)
	r.Post("/sessions/{id}/answers", d.answer)
	r.Get("/sessions/{id}/progress", d.getProgress)
	r.Post("/sessions/{id}/abandon", d.abandonSession)

	// Presigned media transfers; the signature is the credential
	r.Put("/media/files/*", d.putMedia)
	r.Get("/media/files/*", d.getMedia)

	r.Get("/ws", d.wsHandler)

	return r
}
