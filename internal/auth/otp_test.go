package auth

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/indecryption/chat-node/internal/database"
	"github.com/indecryption/chat-node/internal/utils"
	_ "modernc.org/sqlite"
)

type fakeNotifier struct {
	sent []string
	fail bool
}

func (fn *fakeNotifier) SendOtp(ctx context.Context, mobileNumber, code string) error {
	if fn.fail {
		return errors.New("provider unreachable")
	}
	fn.sent = append(fn.sent, code)
	return nil
}

func (fn *fakeNotifier) SendText(ctx context.Context, mobileNumber, body string) error {
	return fn.SendOtp(ctx, mobileNumber, body)
}

func setupAuthenticator(t *testing.T, notifier Notifier) *Authenticator {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cm := utils.NewConfigManager("")
	logger := utils.NewLogsManager(cm)

	otpm, err := database.NewOtpManager(db, logger)
	if err != nil {
		t.Fatalf("Failed to create OtpManager: %v", err)
	}

	return NewAuthenticator(otpm, notifier, cm, logger)
}

func TestIssueAndVerify(t *testing.T) {
	notifier := &fakeNotifier{}
	a := setupAuthenticator(t, notifier)
	ctx := context.Background()

	code, err := a.Issue(ctx, "9000000001")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if !regexp.MustCompile(`^\d{6}$`).MatchString(code) {
		t.Errorf("Expected a 6 digit code, got %q", code)
	}
	if len(notifier.sent) != 1 || notifier.sent[0] != code {
		t.Error("Expected the issued code to be dispatched")
	}

	if err := a.Verify(ctx, "9000000001", code); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	// The code is single use
	if err := a.Verify(ctx, "9000000001", code); err != ErrInvalidOrExpiredCode {
		t.Errorf("Expected ErrInvalidOrExpiredCode on replay, got %v", err)
	}
}

func TestIssueInvalidNumber(t *testing.T) {
	a := setupAuthenticator(t, &fakeNotifier{})
	ctx := context.Background()

	for _, number := range []string{"", "12345", "abcdefghij", "+919000000001"} {
		if _, err := a.Issue(ctx, number); err != ErrInvalidNumber {
			t.Errorf("Expected ErrInvalidNumber for %q, got %v", number, err)
		}
	}
}

func TestVerifyWrongCode(t *testing.T) {
	a := setupAuthenticator(t, &fakeNotifier{})
	ctx := context.Background()

	code, err := a.Issue(ctx, "9000000001")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	if err := a.Verify(ctx, "9000000001", wrong); err != ErrInvalidOrExpiredCode {
		t.Errorf("Expected ErrInvalidOrExpiredCode, got %v", err)
	}
}

func TestIssueDeliveryFailure(t *testing.T) {
	notifier := &fakeNotifier{fail: true}
	a := setupAuthenticator(t, notifier)
	ctx := context.Background()

	code, err := a.Issue(ctx, "9000000001")
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("Expected ErrDeliveryFailed, got %v", err)
	}
	if code != "" {
		t.Error("Expected no code on delivery failure")
	}

	// The failed challenge was removed, so no code for this number
	// can verify
	if err := a.Verify(ctx, "9000000001", "123456"); err != ErrInvalidOrExpiredCode {
		t.Errorf("Expected ErrInvalidOrExpiredCode, got %v", err)
	}
}

func TestIssueRateLimited(t *testing.T) {
	notifier := &fakeNotifier{}
	a := setupAuthenticator(t, notifier)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := a.Issue(ctx, "9000000001"); err != nil {
			t.Fatalf("Issue %d failed: %v", i+1, err)
		}
	}

	_, err := a.Issue(ctx, "9000000001")
	var tooMany *TooManyAttemptsError
	if !errors.As(err, &tooMany) {
		t.Fatalf("Expected TooManyAttemptsError, got %v", err)
	}
	if tooMany.RetryAfter <= 0 {
		t.Error("Expected a positive retry hint")
	}

	// Other numbers keep their own budget
	if _, err := a.Issue(ctx, "9000000002"); err != nil {
		t.Errorf("Expected a different number to be allowed, got %v", err)
	}
}
