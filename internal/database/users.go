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
	// ErrUsernameTaken is returned when the username is already registered
	ErrUsernameTaken = errors.New("username already taken")

	// ErrNumberTaken is returned when the mobile number is already registered
	ErrNumberTaken = errors.New("mobile number already registered")
)

// User represents a registered identity: a verified mobile number bound
// to a username and its box public key. Usernames are immutable.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	MobileNumber string    `json:"mobileNumber"`
	PublicKey    string    `json:"publicKey"` // base64-encoded box public key
	IsVerified   bool      `json:"isVerified"`
	CreatedAt    time.Time `json:"createdAt"`
}

// UserManager handles the users table
type UserManager struct {
	db     *sql.DB
	logger *utils.LogsManager
}

// NewUserManager creates a new user manager and initializes the table
func NewUserManager(db *sql.DB, logger *utils.LogsManager) (*UserManager, error) {
	um := &UserManager{db: db, logger: logger}
	if err := um.initTable(); err != nil {
		return nil, err
	}
	return um, nil
}

func (um *UserManager) initTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		mobile_number TEXT NOT NULL UNIQUE,
		public_key TEXT NOT NULL,
		is_verified INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_users_mobile ON users(mobile_number);
	`

	if _, err := um.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create users table: %v", err)
	}

	um.logger.Debug("users table initialized", "database")
	return nil
}

// CreateUser inserts a new user. Maps uniqueness violations to
// ErrUsernameTaken / ErrNumberTaken.
func (um *UserManager) CreateUser(user *User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}

	query := `
	INSERT INTO users (id, username, mobile_number, public_key, is_verified, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := um.db.Exec(query,
		user.ID,
		user.Username,
		user.MobileNumber,
		user.PublicKey,
		boolToInt(user.IsVerified),
		user.CreatedAt.Unix(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "users.username") {
			return ErrUsernameTaken
		}
		if strings.Contains(err.Error(), "users.mobile_number") {
			return ErrNumberTaken
		}
		return fmt.Errorf("failed to create user: %v", err)
	}

	return nil
}

// GetUserByID returns the user with the given id, or nil if not found
func (um *UserManager) GetUserByID(id string) (*User, error) {
	return um.getUser("id = ?", id)
}

// GetUserByUsername returns the user with the given username, or nil if not found
func (um *UserManager) GetUserByUsername(username string) (*User, error) {
	return um.getUser("username = ?", username)
}

// GetUserByMobileNumber returns the user with the given mobile number, or nil if not found
func (um *UserManager) GetUserByMobileNumber(mobileNumber string) (*User, error) {
	return um.getUser("mobile_number = ?", mobileNumber)
}

func (um *UserManager) getUser(where string, arg interface{}) (*User, error) {
	query := `
	SELECT id, username, mobile_number, public_key, is_verified, created_at
	FROM users WHERE ` + where

	var user User
	var isVerified int
	var createdAt int64

	err := um.db.QueryRow(query, arg).Scan(
		&user.ID,
		&user.Username,
		&user.MobileNumber,
		&user.PublicKey,
		&isVerified,
		&createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %v", err)
	}

	user.IsVerified = isVerified != 0
	user.CreatedAt = time.Unix(createdAt, 0)
	return &user, nil
}

// GetAllUsers returns all registered users ordered by creation time
func (um *UserManager) GetAllUsers() ([]*User, error) {
	query := `
	SELECT id, username, mobile_number, public_key, is_verified, created_at
	FROM users ORDER BY created_at ASC
	`

	rows, err := um.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %v", err)
	}
	defer rows.Close()

	return scanUsers(rows)
}

// SearchUsers performs a case-insensitive substring match over username
// and mobile number
func (um *UserManager) SearchUsers(q string) ([]*User, error) {
	if strings.TrimSpace(q) == "" {
		return []*User{}, nil
	}

	query := `
	SELECT id, username, mobile_number, public_key, is_verified, created_at
	FROM users
	WHERE username LIKE ? COLLATE NOCASE OR mobile_number LIKE ?
	ORDER BY username ASC
	`

	pattern := "%" + q + "%"
	rows, err := um.db.Query(query, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %v", err)
	}
	defer rows.Close()

	return scanUsers(rows)
}

// SetVerified flips the verification flag on a user
func (um *UserManager) SetVerified(id string, verified bool) error {
	query := `UPDATE users SET is_verified = ? WHERE id = ?`

	result, err := um.db.Exec(query, boolToInt(verified), id)
	if err != nil {
		return fmt.Errorf("failed to update verification: %v", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("user %s not found", id)
	}

	return nil
}

func scanUsers(rows *sql.Rows) ([]*User, error) {
	var users []*User

	for rows.Next() {
		var user User
		var isVerified int
		var createdAt int64

		if err := rows.Scan(
			&user.ID,
			&user.Username,
			&user.MobileNumber,
			&user.PublicKey,
			&isVerified,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan user: %v", err)
		}

		user.IsVerified = isVerified != 0
		user.CreatedAt = time.Unix(createdAt, 0)
		users = append(users, &user)
	}

	return users, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
