package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/upb/command-bridge/app"
	"github.com/upb/command-bridge/middleware"
	"github.com/upb/command-bridge/services/gateway"
	"go.uber.org/zap"
)

// BackendSocketHandler handles GET /ws/backend. The upgrade always succeeds
// so that authentication failures can be reported as close codes.
func BackendSocketHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := middleware.ExtractToken(r)
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		t, err := gateway.AcceptWebSocket(w, r, &websocket.AcceptOptions{
			OriginPatterns: deps.Config.Server.AllowedOrigins,
		}, deps.Config.Bridge.MaxMessageBytes)
		if err != nil {
			deps.Logger.Warn("backend websocket upgrade failed",
				zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
			return
		}

		if deps.Draining() {
			_ = t.Close(gateway.CloseGoingAway, "server shutting down")
			return
		}

		tenantID, err := deps.Gate.Admit(r.Context(), token)
		if err != nil {
			deps.Gate.Reject(t, err)
			return
		}

		// The request context stays alive until the handler returns.
		err = deps.Gate.Serve(r.Context(), t, tenantID)
		if err != nil && !isNormalClosure(err) {
			deps.Logger.Debug("backend connection ended", zap.Error(err))
		}
		// No-op when the peer or the gate already closed the socket.
		_ = t.Close(gateway.CloseNormal, "closed")
	}
}

func isNormalClosure(err error) bool {
	status := websocket.CloseStatus(err)
	return status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway ||
		errors.Is(err, context.Canceled) || errors.Is(err, gateway.ErrGateClosed)
}
