package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/indecryption/chat-node/internal/utils"
)

// Challenge states. A challenge past its expiry is treated as expired
// regardless of the stored state; the sweeper removes such rows.
const (
	OtpStateIssued   = "issued"
	OtpStateConsumed = "consumed"
)

// OtpChallenge represents a one-time code issued for a mobile number
type OtpChallenge struct {
	ID           string
	MobileNumber string
	Code         string
	State        string
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// OtpManager handles the otp_codes table
type OtpManager struct {
	db     *sql.DB
	logger *utils.LogsManager
}

// NewOtpManager creates a new OTP manager and initializes the table
func NewOtpManager(db *sql.DB, logger *utils.LogsManager) (*OtpManager, error) {
	om := &OtpManager{db: db, logger: logger}
	if err := om.initTable(); err != nil {
		return nil, err
	}
	return om, nil
}

func (om *OtpManager) initTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS otp_codes (
		id TEXT PRIMARY KEY,
		mobile_number TEXT NOT NULL,
		code TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT 'issued' CHECK(state IN ('issued', 'consumed')),
		expires_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_otp_mobile ON otp_codes(mobile_number, state, expires_at);
	`

	if _, err := om.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create otp_codes table: %v", err)
	}

	om.logger.Debug("otp_codes table initialized", "database")
	return nil
}

// CreateChallenge stores a newly issued challenge
func (om *OtpManager) CreateChallenge(ctx context.Context, ch *OtpChallenge) error {
	if ch.ID == "" {
		ch.ID = uuid.New().String()
	}
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now()
	}
	if ch.State == "" {
		ch.State = OtpStateIssued
	}

	query := `
	INSERT INTO otp_codes (id, mobile_number, code, state, expires_at, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := om.db.ExecContext(ctx, query,
		ch.ID,
		ch.MobileNumber,
		ch.Code,
		ch.State,
		ch.ExpiresAt.Unix(),
		ch.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create otp challenge: %v", err)
	}

	return nil
}

// ConsumeChallenge atomically transitions the most recent matching
// issued, unexpired challenge to consumed. Returns false when no such
// challenge exists - wrong code, already consumed and expired are
// indistinguishable from the caller's point of view, which prevents a
// verification oracle and replay via concurrent verifies.
func (om *OtpManager) ConsumeChallenge(ctx context.Context, mobileNumber, code string, now time.Time) (bool, error) {
	query := `
	UPDATE otp_codes SET state = ?
	WHERE id = (
		SELECT id FROM otp_codes
		WHERE mobile_number = ? AND code = ? AND state = ? AND expires_at > ?
		ORDER BY created_at DESC
		LIMIT 1
	)
	`

	result, err := om.db.ExecContext(ctx, query,
		OtpStateConsumed,
		mobileNumber,
		code,
		OtpStateIssued,
		now.Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to consume otp challenge: %v", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected == 1, nil
}

// DeleteChallenge removes a single challenge, used to invalidate a
// challenge whose SMS dispatch failed
func (om *OtpManager) DeleteChallenge(ctx context.Context, id string) error {
	_, err := om.db.ExecContext(ctx, `DELETE FROM otp_codes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete otp challenge: %v", err)
	}
	return nil
}

// DeleteExpired removes all challenges past their expiry regardless of
// state. Returns the number of rows removed.
func (om *OtpManager) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := om.db.ExecContext(ctx, `DELETE FROM otp_codes WHERE expires_at <= ?`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired otp challenges: %v", err)
	}

	return result.RowsAffected()
}
