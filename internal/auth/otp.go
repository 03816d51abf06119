package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/indecryption/chat-node/internal/database"
	"github.com/indecryption/chat-node/internal/utils"
)

var (
	ErrInvalidNumber        = errors.New("mobile number must be 10 digits")
	ErrDeliveryFailed       = errors.New("failed to send otp")
	ErrInvalidOrExpiredCode = errors.New("invalid or expired otp")
)

// TooManyAttemptsError reports a rate limited request and how long the
// caller should wait before retrying
type TooManyAttemptsError struct {
	RetryAfter time.Duration
}

func (e *TooManyAttemptsError) Error() string {
	return fmt.Sprintf("too many otp requests, retry in %s", e.RetryAfter.Round(time.Second))
}

// Authenticator issues and verifies one time codes backed by the
// otp_codes table
type Authenticator struct {
	otpm     *database.OtpManager
	notifier Notifier
	limiter  *RateLimiter
	ttl      time.Duration
	sweep    time.Duration
	logger   *utils.LogsManager
}

func NewAuthenticator(otpm *database.OtpManager, notifier Notifier, cm *utils.ConfigManager, logger *utils.LogsManager) *Authenticator {
	return &Authenticator{
		otpm:     otpm,
		notifier: notifier,
		limiter: NewRateLimiter(
			cm.GetConfigInt("otp_rate_limit_max", 5, 1, 1000),
			cm.GetConfigDuration("otp_rate_limit_window", 15*time.Minute),
		),
		ttl:    cm.GetConfigDuration("otp_ttl", 5*time.Minute),
		sweep:  cm.GetConfigDuration("otp_sweep_interval", time.Minute),
		logger: logger,
	}
}

// generateCode draws a uniform 6 digit code from crypto/rand
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("failed to generate otp code: %v", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// Issue validates the number, rate limits, stores a fresh challenge
// and dispatches it. A challenge whose dispatch fails is removed
// before the error is returned, so an attacker cannot bank codes by
// triggering delivery failures.
func (a *Authenticator) Issue(ctx context.Context, mobileNumber string) (string, error) {
	number := strings.TrimSpace(mobileNumber)
	if !tenDigits.MatchString(number) {
		return "", ErrInvalidNumber
	}

	now := time.Now()
	if ok, retryAfter := a.limiter.Allow(number, now); !ok {
		a.logger.Warn(fmt.Sprintf("OTP rate limit hit for %s", number), "auth")
		return "", &TooManyAttemptsError{RetryAfter: retryAfter}
	}

	code, err := generateCode()
	if err != nil {
		return "", err
	}

	challenge := &database.OtpChallenge{
		MobileNumber: number,
		Code:         code,
		ExpiresAt:    now.Add(a.ttl),
	}
	if err := a.otpm.CreateChallenge(ctx, challenge); err != nil {
		return "", err
	}

	if err := a.notifier.SendOtp(ctx, number, code); err != nil {
		if delErr := a.otpm.DeleteChallenge(ctx, challenge.ID); delErr != nil {
			a.logger.Error(fmt.Sprintf("Failed to invalidate undelivered challenge %s: %v", challenge.ID, delErr), "auth")
		}
		return "", fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	return code, nil
}

// Verify consumes the most recent live challenge for the number.
// Wrong, expired and replayed codes all produce the same error.
func (a *Authenticator) Verify(ctx context.Context, mobileNumber, code string) error {
	number := strings.TrimSpace(mobileNumber)
	ok, err := a.otpm.ConsumeChallenge(ctx, number, strings.TrimSpace(code), time.Now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidOrExpiredCode
	}
	return nil
}

// StartSweeper deletes expired challenges on an interval until the
// context is cancelled
func (a *Authenticator) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(a.sweep)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				deleted, err := a.otpm.DeleteExpired(ctx, now)
				if err != nil {
					a.logger.Error(fmt.Sprintf("OTP sweep failed: %v", err), "auth")
					continue
				}
				if deleted > 0 {
					a.logger.Debug(fmt.Sprintf("Swept %d expired otp challenges", deleted), "auth")
				}
			}
		}
	}()
}
