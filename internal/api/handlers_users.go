package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/indecryption/chat-node/internal/database"
)

// UserEntry is a directory listing row with live presence
type UserEntry struct {
	*database.User
	IsOnline bool `json:"isOnline"`
}

// PublicKeyResponse carries a single identity key
type PublicKeyResponse struct {
	Username  string `json:"username,omitempty"`
	PublicKey string `json:"publicKey"`
}

// handleUsers lists every registered user with presence attached
func (s *APIServer) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	users, err := s.dbManager.Users.GetAllUsers()
	if err != nil {
		s.logger.Error(fmt.Sprintf("Failed to list users: %v", err), "api")
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve users")
		return
	}

	s.writeJSON(w, http.StatusOK, s.withPresence(users))
}

// handleSearchUsers finds users by username or mobile number fragment
func (s *APIServer) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query().Get("q")
	users, err := s.dbManager.Users.SearchUsers(query)
	if err != nil {
		s.logger.Error(fmt.Sprintf("User search failed: %v", err), "api")
		s.writeError(w, http.StatusInternalServerError, "Search failed")
		return
	}

	s.writeJSON(w, http.StatusOK, s.withPresence(users))
}

// handleUserSubresource routes /api/users/{username}/public-key
func (s *APIServer) handleUserSubresource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/users/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "public-key" || parts[0] == "" {
		http.NotFound(w, r)
		return
	}

	user, err := s.dbManager.Users.GetUserByUsername(parts[0])
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve user")
		return
	}
	if user == nil {
		s.writeError(w, http.StatusNotFound, "User not found")
		return
	}

	s.writeJSON(w, http.StatusOK, PublicKeyResponse{
		Username:  user.Username,
		PublicKey: user.PublicKey,
	})
}

// handleNodePublicKey exposes the relay's own box public key so
// clients can decrypt relay sealed history entries
func (s *APIServer) handleNodePublicKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, PublicKeyResponse{
		PublicKey: s.nodeKeys.PublicKeyBase64(),
	})
}

func (s *APIServer) withPresence(users []*database.User) []UserEntry {
	entries := make([]UserEntry, 0, len(users))
	for _, user := range users {
		entries = append(entries, UserEntry{
			User:     user,
			IsOnline: s.registry.IsOnline(user.Username),
		})
	}
	return entries
}
