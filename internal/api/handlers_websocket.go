package api

import (
	"fmt"
	"net/http"

	ws "github.com/indecryption/chat-node/internal/api/websocket"
)

// handleWebSocket handles WebSocket connection upgrades with JWT
// authentication. Browsers cannot set headers on upgrade requests, so
// the token rides in a query parameter.
func (s *APIServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		s.logger.Warn("WebSocket connection attempt without token", "api")
		http.Error(w, "Missing authentication token", http.StatusUnauthorized)
		return
	}

	claims, err := s.jwtManager.ValidateToken(token)
	if err != nil {
		s.logger.Warn(fmt.Sprintf("WebSocket authentication failed: %v", err), "api")
		http.Error(w, "Invalid authentication token", http.StatusUnauthorized)
		return
	}

	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error(fmt.Sprintf("WebSocket upgrade failed: %v", err), "api")
		return
	}

	client := ws.NewClient(s.ctx, conn, s.registry, s.relay, claims.Username, s.logger)
	client.Start()
}
