package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"
)

// HandleInspector upgrades the request and streams dispatch messages until
// the client goes away. platforms is reported in the greeting. Access control
// is the caller's job (see middleware.RequireToken).
func HandleInspector(hub *Hub, logger *slog.Logger, originPatterns []string, platforms func() []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			logger.Warn("inspector accept", "error", err)
			return
		}
		defer conn.CloseNow()

		var greeting []byte
		if platforms != nil {
			greeting, _ = json.Marshal(HelloMessage(platforms()))
		}

		logger.Info("inspector connected", "remote", r.RemoteAddr)
		NewClient(hub, conn).Run(r.Context(), greeting)
		logger.Info("inspector disconnected", "remote", r.RemoteAddr)
	}
}
