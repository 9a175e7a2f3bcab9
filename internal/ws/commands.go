package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"formflow/internal/errorz"
	"formflow/internal/graph"
	"formflow/internal/model"
	"formflow/internal/pubsub"
	"formflow/internal/service"

	"go.uber.org/zap"
)

// CommandHandler handles WebSocket commands
type CommandHandler struct {
	formSvc    *service.FormService
	sessionSvc *service.SessionService
	log        *zap.Logger
}

func NewCommandHandler(formSvc *service.FormService, sessionSvc *service.SessionService, log *zap.Logger) *CommandHandler {
	return &CommandHandler{
		formSvc:    formSvc,
		sessionSvc: sessionSvc,
		log:        log,
	}
}

type formCmd struct {
	FormID     string `json:"formId"`
	Version    int64  `json:"version"`
	QuestionID string `json:"questionId"`
}

// HandleCommand processes a WebSocket command
func (h *CommandHandler) HandleCommand(ctx context.Context, conn *Conn, cmd map[string]interface{}) {
	op, _ := cmd["op"].(string)
	msgID, _ := cmd["id"].(string)
	data, err := json.Marshal(cmd["data"])
	if err != nil {
		h.sendError(conn, msgID, "invalid_input", "data must be an object")
		return
	}

	scope := service.Scope{WorkspaceID: conn.workspaceID, UserID: conn.userID}

	switch op {
	case "getForm":
		h.handleGetForm(ctx, conn, msgID, scope, data)
	case "addQuestion":
		h.handleAddQuestion(ctx, conn, msgID, scope, data)
	case "editQuestion":
		h.handleEditQuestion(ctx, conn, msgID, scope, data)
	case "deleteQuestion":
		h.handleDeleteQuestion(ctx, conn, msgID, scope, data)
	case "duplicateQuestion":
		h.handleDuplicateQuestion(ctx, conn, msgID, scope, data)
	case "reorderQuestions":
		h.handleReorderQuestions(ctx, conn, msgID, scope, data)
	case "getFlow":
		h.handleGetFlow(ctx, conn, msgID, scope, data)
	case "startSession":
		h.handleStartSession(ctx, conn, msgID, scope, data)
	case "answer":
		h.handleAnswer(ctx, conn, msgID, data)
	default:
		h.sendError(conn, msgID, "unknown_command", "Unknown command: "+op)
	}
}

func (h *CommandHandler) handleGetForm(ctx context.Context, conn *Conn, msgID string, scope service.Scope, data []byte) {
	var in formCmd
	if !h.decode(conn, msgID, data, &in) || !h.require(conn, msgID, "formId", in.FormID) {
		return
	}

	form, err := h.formSvc.GetForm(ctx, scope, in.FormID)
	if err != nil {
		h.sendServiceError(conn, msgID, err)
		return
	}
	h.sendResponse(conn, msgID, map[string]interface{}{
		"type": "response",
		"data": form,
	})
}

func (h *CommandHandler) handleAddQuestion(ctx context.Context, conn *Conn, msgID string, scope service.Scope, data []byte) {
	var in struct {
		formCmd
		TargetIndex      int            `json:"targetIndex"`
		TargetQuestionID string         `json:"targetQuestionId"`
		Question         model.Question `json:"question"`
		SourceLogic      *model.Logic   `json:"sourceLogic"`
	}
	if !h.decode(conn, msgID, data, &in) || !h.require(conn, msgID, "formId", in.FormID) {
		return
	}

	form, q, err := h.formSvc.AddQuestion(ctx, scope, in.FormID, in.Version, graph.AddQuestionInput{
		TargetIndex:      in.TargetIndex,
		TargetQuestionID: in.TargetQuestionID,
		Question:         in.Question,
		SourceLogic:      in.SourceLogic,
	})
	if err != nil {
		h.sendServiceError(conn, msgID, err)
		return
	}
	h.sendResponse(conn, msgID, map[string]interface{}{
		"type": "response",
		"data": map[string]interface{}{
			"version":  form.Version,
			"question": q,
		},
	})
}

func (h *CommandHandler) handleEditQuestion(ctx context.Context, conn *Conn, msgID string, scope service.Scope, data []byte) {
	var in struct {
		formCmd
		Patch map[string]json.RawMessage `json:"patch"`
	}
	if !h.decode(conn, msgID, data, &in) ||
		!h.require(conn, msgID, "formId", in.FormID) ||
		!h.require(conn, msgID, "questionId", in.QuestionID) {
		return
	}

	form, q, err := h.formSvc.EditQuestion(ctx, scope, in.FormID, in.Version, in.QuestionID, in.Patch)
	if err != nil {
		h.sendServiceError(conn, msgID, err)
		return
	}
	h.sendResponse(conn, msgID, map[string]interface{}{
		"type": "response",
		"data": map[string]interface{}{
			"version":  form.Version,
			"question": q,
		},
	})
}

func (h *CommandHandler) handleDeleteQuestion(ctx context.Context, conn *Conn, msgID string, scope service.Scope, data []byte) {
	var in formCmd
	if !h.decode(conn, msgID, data, &in) ||
		!h.require(conn, msgID, "formId", in.FormID) ||
		!h.require(conn, msgID, "questionId", in.QuestionID) {
		return
	}

	form, err := h.formSvc.DeleteQuestion(ctx, scope, in.FormID, in.Version, in.QuestionID)
	if err != nil {
		h.sendServiceError(conn, msgID, err)
		return
	}
	h.sendResponse(conn, msgID, map[string]interface{}{
		"type": "response",
		"data": map[string]interface{}{"version": form.Version},
	})
}

func (h *CommandHandler) handleDuplicateQuestion(ctx context.Context, conn *Conn, msgID string, scope service.Scope, data []byte) {
	var in formCmd
	if !h.decode(conn, msgID, data, &in) ||
		!h.require(conn, msgID, "formId", in.FormID) ||
		!h.require(conn, msgID, "questionId", in.QuestionID) {
		return
	}

	form, q, err := h.formSvc.DuplicateQuestion(ctx, scope, in.FormID, in.Version, in.QuestionID)
	if err != nil {
		h.sendServiceError(conn, msgID, err)
		return
	}
	h.sendResponse(conn, msgID, map[string]interface{}{
		"type": "response",
		"data": map[string]interface{}{
			"version":  form.Version,
			"question": q,
		},
	})
}

func (h *CommandHandler) handleReorderQuestions(ctx context.Context, conn *Conn, msgID string, scope service.Scope, data []byte) {
	var in struct {
		formCmd
		QuestionIDs []string `json:"questionIds"`
	}
	if !h.decode(conn, msgID, data, &in) || !h.require(conn, msgID, "formId", in.FormID) {
		return
	}

	form, moved, err := h.formSvc.ReorderQuestions(ctx, scope, in.FormID, in.Version, in.QuestionIDs)
	if err != nil {
		h.sendServiceError(conn, msgID, err)
		return
	}
	h.sendResponse(conn, msgID, map[string]interface{}{
		"type": "response",
		"data": map[string]interface{}{
			"version": form.Version,
			"moved":   moved,
		},
	})
}

func (h *CommandHandler) handleGetFlow(ctx context.Context, conn *Conn, msgID string, scope service.Scope, data []byte) {
	var in formCmd
	if !h.decode(conn, msgID, data, &in) || !h.require(conn, msgID, "formId", in.FormID) {
		return
	}

	flow, err := h.formSvc.Flow(ctx, scope, in.FormID)
	if err != nil {
		h.sendServiceError(conn, msgID, err)
		return
	}
	h.sendResponse(conn, msgID, map[string]interface{}{
		"type": "response",
		"data": flow,
	})
}

func (h *CommandHandler) handleStartSession(ctx context.Context, conn *Conn, msgID string, scope service.Scope, data []byte) {
	var in struct {
		FormID  string `json:"formId"`
		Preview bool   `json:"preview"`
	}
	if !h.decode(conn, msgID, data, &in) || !h.require(conn, msgID, "formId", in.FormID) {
		return
	}

	sess, err := h.sessionSvc.Start(ctx, service.StartSessionInput{FormID: in.FormID, Preview: in.Preview, Scope: scope})
	if err != nil {
		h.sendServiceError(conn, msgID, err)
		return
	}

	// Follow the session so advance events reach this connection
	conn.hub.Subscribe(conn, pubsub.SessionChannel(sess.ID))

	h.sendResponse(conn, msgID, map[string]interface{}{
		"type": "response",
		"data": sess,
	})
}

func (h *CommandHandler) handleAnswer(ctx context.Context, conn *Conn, msgID string, data []byte) {
	var in struct {
		SessionID  string      `json:"sessionId"`
		QuestionID string      `json:"questionId"`
		Answer     model.Value `json:"answer"`
	}
	if !h.decode(conn, msgID, data, &in) ||
		!h.require(conn, msgID, "sessionId", in.SessionID) ||
		!h.require(conn, msgID, "questionId", in.QuestionID) {
		return
	}

	sess, err := h.sessionSvc.Answer(ctx, in.SessionID, in.QuestionID, in.Answer)
	if err != nil {
		h.sendServiceError(conn, msgID, err)
		return
	}
	progress, err := h.sessionSvc.Progress(ctx, sess.ID)
	if err != nil {
		h.sendServiceError(conn, msgID, err)
		return
	}
	h.sendResponse(conn, msgID, map[string]interface{}{
		"type": "response",
		"data": map[string]interface{}{
			"session":  sess,
			"progress": progress,
		},
	})
}

func (h *CommandHandler) decode(conn *Conn, msgID string, data []byte, v interface{}) bool {
	if err := json.Unmarshal(data, v); err != nil {
		h.sendError(conn, msgID, "invalid_input", err.Error())
		return false
	}
	return true
}

func (h *CommandHandler) require(conn *Conn, msgID, field, value string) bool {
	if value == "" {
		h.sendError(conn, msgID, "invalid_input", field+" required")
		return false
	}
	return true
}

func (h *CommandHandler) sendServiceError(conn *Conn, msgID string, err error) {
	code := errorz.Code(err)
	if code == "internal_error" {
		h.log.Error("Command failed", zap.String("id", msgID), zap.Error(err))
	}
	h.sendError(conn, msgID, code, err.Error())
}

func (h *CommandHandler) sendResponse(conn *Conn, msgID string, response map[string]interface{}) {
	if msgID != "" {
		response["id"] = msgID
	}
	msg, err := json.Marshal(response)
	if err != nil {
		h.sendError(conn, msgID, "internal_error", err.Error())
		return
	}
	if !conn.trySend(msg) {
		h.log.Warn("Failed to send response, channel full")
	}
}

func (h *CommandHandler) sendError(conn *Conn, msgID, code, message string) {
	err := map[string]interface{}{
		"type":    "error",
		"code":    code,
		"message": message,
	}
	if msgID != "" {
		err["id"] = msgID
	}
	msg, _ := json.Marshal(err)
	if !conn.trySend(msg) {
		h.log.Warn("Failed to send error, channel full")
	}
}

// FormChannelAuthorizer limits subscriptions to the connection's own
// workspace and the forms it owns. Session channels are keyed by
// unguessable ids and stay open to respondents.
type FormChannelAuthorizer struct {
	Forms *service.FormService
}

func (a FormChannelAuthorizer) AuthorizeChannel(ctx context.Context, workspaceID, channel string) error {
	kind, id, ok := strings.Cut(channel, ":")
	if !ok || id == "" {
		return fmt.Errorf("%w: malformed channel %q", errorz.ErrInvalidInput, channel)
	}
	switch kind {
	case "session":
		return nil
	case "workspace":
		if workspaceID == "" || id != workspaceID {
			return fmt.Errorf("workspace %s: %w", id, errorz.ErrForbidden)
		}
		return nil
	case "form":
		if workspaceID == "" {
			return fmt.Errorf("form %s: %w", id, errorz.ErrForbidden)
		}
		_, err := a.Forms.GetForm(ctx, service.Scope{WorkspaceID: workspaceID}, id)
		return err
	default:
		return fmt.Errorf("%w: unknown channel kind %q", errorz.ErrInvalidInput, kind)
	}
}
