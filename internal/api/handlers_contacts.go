package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/indecryption/chat-node/internal/api/middleware"
	"github.com/indecryption/chat-node/internal/database"
)

// AddContactRequest adds another user to the caller's contact list.
// The target may be named by username or by id.
type AddContactRequest struct {
	ContactUsername string `json:"contactUsername,omitempty"`
	ContactUserID   string `json:"contactUserId,omitempty"`
	Nickname        string `json:"nickname,omitempty"`
}

// ContactEntry joins a contact row with the referenced user and their
// live presence
type ContactEntry struct {
	*database.Contact
	User     *database.User `json:"user"`
	IsOnline bool           `json:"isOnline"`
}

// handleContacts serves the caller's contact list
func (s *APIServer) handleContacts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleGetContacts(w, r)
	case http.MethodPost:
		s.handleAddContact(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *APIServer) handleGetContacts(w http.ResponseWriter, r *http.Request) {
	caller, err := s.callerUser(r)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	contacts, err := s.dbManager.Contacts.GetContactsByUser(caller.ID)
	if err != nil {
		s.logger.Error(fmt.Sprintf("Failed to list contacts: %v", err), "api")
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve contacts")
		return
	}

	entries := make([]ContactEntry, 0, len(contacts))
	for _, contact := range contacts {
		user, err := s.dbManager.Users.GetUserByID(contact.ContactUserID)
		if err != nil || user == nil {
			continue
		}
		entries = append(entries, ContactEntry{
			Contact:  contact,
			User:     user,
			IsOnline: s.registry.IsOnline(user.Username),
		})
	}

	s.writeJSON(w, http.StatusOK, entries)
}

func (s *APIServer) handleAddContact(w http.ResponseWriter, r *http.Request) {
	caller, err := s.callerUser(r)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var req AddContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ContactUsername == "" && req.ContactUserID == "" {
		s.writeError(w, http.StatusBadRequest, "Missing contactUsername or contactUserId")
		return
	}

	var target *database.User
	if req.ContactUserID != "" {
		target, err = s.dbManager.Users.GetUserByID(req.ContactUserID)
	} else {
		target, err = s.dbManager.Users.GetUserByUsername(req.ContactUsername)
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve user")
		return
	}
	if target == nil {
		s.writeError(w, http.StatusNotFound, "User not found")
		return
	}

	contact := &database.Contact{
		UserID:        caller.ID,
		ContactUserID: target.ID,
		Nickname:      req.Nickname,
	}
	if err := s.dbManager.Contacts.AddContact(contact); err != nil {
		switch err {
		case database.ErrSelfContact:
			s.writeError(w, http.StatusBadRequest, "Cannot add yourself as a contact")
		case database.ErrDuplicateContact:
			s.writeError(w, http.StatusBadRequest, "Contact already exists")
		default:
			s.logger.Error(fmt.Sprintf("Failed to add contact: %v", err), "api")
			s.writeError(w, http.StatusInternalServerError, "Failed to add contact")
		}
		return
	}

	s.writeJSON(w, http.StatusCreated, ContactEntry{
		Contact:  contact,
		User:     target,
		IsOnline: s.registry.IsOnline(target.Username),
	})
}

// callerUser resolves the authenticated account from the token claims
func (s *APIServer) callerUser(r *http.Request) (*database.User, error) {
	claims, err := middleware.GetClaims(r)
	if err != nil {
		return nil, err
	}
	user, err := s.dbManager.Users.GetUserByUsername(claims.Username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("account no longer exists")
	}
	return user, nil
}
