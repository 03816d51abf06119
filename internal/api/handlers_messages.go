package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/indecryption/chat-node/internal/api/middleware"
)

// maxHistoryLimit caps how many messages a single history request can
// return, matching the config ceiling for message_history_limit.
const maxHistoryLimit = 1000

// handleMessageHistory serves GET /api/messages/{username}, the recent
// conversation between the caller and that user, oldest-first.
// Payloads come back exactly as stored, still sealed.
func (s *APIServer) handleMessageHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	claims, err := middleware.GetClaims(r)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	peer := strings.TrimPrefix(r.URL.Path, "/api/messages/")
	if peer == "" || strings.Contains(peer, "/") {
		http.NotFound(w, r)
		return
	}

	limit := s.config.GetConfigInt("message_history_limit", 50, 1, 1000)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		if parsed > maxHistoryLimit {
			parsed = maxHistoryLimit
		}
		limit = parsed
	}

	messages, err := s.relay.History(r.Context(), claims.Username, peer, limit)
	if err != nil {
		s.logger.Error(fmt.Sprintf("History query failed: %v", err), "api")
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve messages")
		return
	}

	s.writeJSON(w, http.StatusOK, messages)
}
