package ws

import (
	"net/http"
	"time"

	"github.com/vedran77/ideahub/internal/auth"
	"github.com/vedran77/ideahub/internal/ratelimit"
	"nhooyr.io/websocket"
)

type Options struct {
	// OriginPatterns lists the browser origins allowed to connect. Requests
	// without an Origin header are always accepted.
	OriginPatterns []string
	EventLimit     int
	EventWindow    time.Duration
}

// ServeWS returns an HTTP handler that upgrades to WebSocket.
// Auth is done via ?token=xxx query param (WebSocket can't send headers).
func ServeWS(hub *Hub, chat Chat, verifier *auth.Verifier, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenStr := r.URL.Query().Get("token")
		if tokenStr == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}

		userID, err := verifier.UserID(tokenStr)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			hub.log.Warn("ws accept error", "err", err)
			return
		}

		client := NewClient(hub, conn, userID, chat, ratelimit.NewWindow(opts.EventLimit, opts.EventWindow))
		if err := hub.Register(client); err != nil {
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		}

		go client.WritePump()
		go client.ReadPump()
	}
}
