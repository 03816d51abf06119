package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/indecryption/chat-node/internal/utils"
)

// Notifier delivers short texts to a mobile number out of band. SendOtp
// wraps the code in the verification template, SendText carries an
// arbitrary body.
type Notifier interface {
	SendOtp(ctx context.Context, mobileNumber, code string) error
	SendText(ctx context.Context, mobileNumber, body string) error
}

var tenDigits = regexp.MustCompile(`^\d{10}$`)

// FormatE164 normalizes a number for SMS dispatch. Bare 10-digit
// numbers get the default country code prefix, numbers already
// carrying a plus sign pass through unchanged.
func FormatE164(mobileNumber, defaultCountryCode string) string {
	number := strings.TrimSpace(mobileNumber)
	if strings.HasPrefix(number, "+") {
		return number
	}
	if tenDigits.MatchString(number) {
		return defaultCountryCode + number
	}
	return "+" + number
}

// ConsoleNotifier prints codes instead of sending them, for
// development without SMS credentials
type ConsoleNotifier struct {
	logger *utils.LogsManager
}

func NewConsoleNotifier(logger *utils.LogsManager) *ConsoleNotifier {
	return &ConsoleNotifier{logger: logger}
}

func (cn *ConsoleNotifier) SendOtp(ctx context.Context, mobileNumber, code string) error {
	fmt.Printf("OTP for %s: %s\n", mobileNumber, code)
	cn.logger.Info(fmt.Sprintf("OTP issued for %s (console delivery)", mobileNumber), "auth")
	return nil
}

func (cn *ConsoleNotifier) SendText(ctx context.Context, mobileNumber, body string) error {
	fmt.Printf("SMS to %s: %s\n", mobileNumber, body)
	return nil
}

// TwilioNotifier sends codes through the Twilio Messages REST API
type TwilioNotifier struct {
	accountSid  string
	authToken   string
	fromNumber  string
	countryCode string
	client      *http.Client
	logger      *utils.LogsManager
}

// NewTwilioNotifier reads credentials from the environment. Returns an
// error when any of TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN or
// TWILIO_PHONE_NUMBER is missing.
func NewTwilioNotifier(cm *utils.ConfigManager, logger *utils.LogsManager) (*TwilioNotifier, error) {
	sid := os.Getenv("TWILIO_ACCOUNT_SID")
	token := os.Getenv("TWILIO_AUTH_TOKEN")
	from := os.Getenv("TWILIO_PHONE_NUMBER")
	if sid == "" || token == "" || from == "" {
		return nil, fmt.Errorf("twilio credentials not configured")
	}

	return &TwilioNotifier{
		accountSid:  sid,
		authToken:   token,
		fromNumber:  from,
		countryCode: cm.GetConfigWithDefault("sms_default_country_code", "+91"),
		client:      &http.Client{Timeout: cm.GetConfigDuration("sms_timeout", 10*time.Second)},
		logger:      logger,
	}, nil
}

func (tn *TwilioNotifier) SendOtp(ctx context.Context, mobileNumber, code string) error {
	body := fmt.Sprintf("Your verification code is %s. It expires in 5 minutes.", code)
	if err := tn.SendText(ctx, mobileNumber, body); err != nil {
		return err
	}
	tn.logger.Info(fmt.Sprintf("OTP dispatched to %s", mobileNumber), "auth")
	return nil
}

func (tn *TwilioNotifier) SendText(ctx context.Context, mobileNumber, body string) error {
	endpoint := fmt.Sprintf("https://api.twilio.com/2010-04-01/Accounts/%s/Messages.json", tn.accountSid)

	form := url.Values{}
	form.Set("To", FormatE164(mobileNumber, tn.countryCode))
	form.Set("From", tn.fromNumber)
	form.Set("Body", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build sms request: %v", err)
	}
	req.SetBasicAuth(tn.accountSid, tn.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := tn.client.Do(req)
	if err != nil {
		tn.logger.Error(fmt.Sprintf("SMS dispatch failed: %v", err), "auth")
		return fmt.Errorf("sms dispatch failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		tn.logger.Error(fmt.Sprintf("SMS dispatch rejected (%d): %s", resp.StatusCode, string(body)), "auth")
		return fmt.Errorf("sms dispatch rejected with status %d", resp.StatusCode)
	}

	return nil
}

// NewNotifier selects a delivery backend from configuration. The
// twilio provider falls back to console delivery when credentials are
// absent so a fresh checkout still works end to end.
func NewNotifier(cm *utils.ConfigManager, logger *utils.LogsManager) Notifier {
	provider := cm.GetConfigWithDefault("sms_provider", "console")
	if provider == "twilio" {
		tn, err := NewTwilioNotifier(cm, logger)
		if err == nil {
			return tn
		}
		logger.Warn(fmt.Sprintf("Twilio unavailable, using console delivery: %v", err), "auth")
	}
	return NewConsoleNotifier(logger)
}
