package api

import (
	"net/http"

	"formflow/internal/auth"
	"formflow/internal/ws"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Editors and respondents embed forms on arbitrary sites
		return true
	},
}

func (d Dependencies) wsHandler(w http.ResponseWriter, r *http.Request) {
	// Check Hub before upgrading
	if d.Hub == nil {
		d.Log.Error("WebSocket hub not initialized")
		http.Error(w, "WebSocket hub not initialized", http.StatusInternalServerError)
		return
	}

	// Identity comes from the auth middleware (bearer, ?token= or dev headers)
	id := auth.GetIdentity(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.Log.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	d.Log.Info("WebSocket connected",
		zap.String("remote", r.RemoteAddr),
		zap.String("user_id", id.UserID),
		zap.String("workspace_id", id.WorkspaceID),
	)

	wsConn := ws.NewConn(conn, d.Hub, id.UserID, id.WorkspaceID)
	d.Hub.Register(wsConn)

	go wsConn.WritePump()
	go wsConn.ReadPump()
}
