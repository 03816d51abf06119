package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/indecryption/chat-node/internal/utils"
)

var (
	// ErrSelfContact is returned when a user tries to add themselves
	ErrSelfContact = errors.New("cannot add yourself as a contact")

	// ErrDuplicateContact is returned when the contact edge already exists
	ErrDuplicateContact = errors.New("contact already exists")
)

// Contact is a directed edge from an owner to another user, with an
// optional display nickname
type Contact struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	ContactUserID string    `json:"contactUserId"`
	Nickname      string    `json:"nickname,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// ContactManager handles the contacts table
type ContactManager struct {
	db     *sql.DB
	logger *utils.LogsManager
}

// NewContactManager creates a new contact manager and initializes the table
func NewContactManager(db *sql.DB, logger *utils.LogsManager) (*ContactManager, error) {
	cm := &ContactManager{db: db, logger: logger}
	if err := cm.initTable(); err != nil {
		return nil, err
	}
	return cm, nil
}

func (cm *ContactManager) initTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS contacts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		contact_user_id TEXT NOT NULL,
		nickname TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		UNIQUE(user_id, contact_user_id)
	);
	CREATE INDEX IF NOT EXISTS idx_contacts_user ON contacts(user_id);
	`

	if _, err := cm.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create contacts table: %v", err)
	}

	cm.logger.Debug("contacts table initialized", "database")
	return nil
}

// AddContact inserts a contact edge. Self-adds and duplicates are rejected.
func (cm *ContactManager) AddContact(contact *Contact) error {
	if contact.UserID == contact.ContactUserID {
		return ErrSelfContact
	}

	if contact.ID == "" {
		contact.ID = uuid.New().String()
	}
	if contact.CreatedAt.IsZero() {
		contact.CreatedAt = time.Now()
	}

	query := `
	INSERT INTO contacts (id, user_id, contact_user_id, nickname, created_at)
	VALUES (?, ?, ?, ?, ?)
	`

	_, err := cm.db.Exec(query,
		contact.ID,
		contact.UserID,
		contact.ContactUserID,
		contact.Nickname,
		contact.CreatedAt.Unix(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateContact
		}
		return fmt.Errorf("failed to add contact: %v", err)
	}

	return nil
}

// GetContactsByUser returns all contact edges owned by the given user
func (cm *ContactManager) GetContactsByUser(userID string) ([]*Contact, error) {
	query := `
	SELECT id, user_id, contact_user_id, nickname, created_at
	FROM contacts WHERE user_id = ? ORDER BY created_at ASC
	`

	rows, err := cm.db.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query contacts: %v", err)
	}
	defer rows.Close()

	var contacts []*Contact
	for rows.Next() {
		var contact Contact
		var createdAt int64

		if err := rows.Scan(
			&contact.ID,
			&contact.UserID,
			&contact.ContactUserID,
			&contact.Nickname,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan contact: %v", err)
		}

		contact.CreatedAt = time.Unix(createdAt, 0)
		contacts = append(contacts, &contact)
	}

	return contacts, rows.Err()
}
