package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/indecryption/chat-node/internal/auth"
	"github.com/indecryption/chat-node/internal/crypto"
	"github.com/indecryption/chat-node/internal/database"
)

// SendOtpRequest starts a login or signup by mobile number
type SendOtpRequest struct {
	MobileNumber string `json:"mobileNumber"`
}

// SendOtpResponse acknowledges dispatch. Otp is only populated in dev
// mode where no real SMS goes out.
type SendOtpResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Otp     string `json:"otp,omitempty"`
}

// VerifyOtpRequest completes authentication. Username and PublicKey
// are required on first verification, when the account is created.
type VerifyOtpRequest struct {
	MobileNumber string `json:"mobileNumber"`
	Otp          string `json:"otp"`
	Username     string `json:"username,omitempty"`
	PublicKey    string `json:"publicKey,omitempty"`
}

// VerifyOtpResponse carries the session token and the account
type VerifyOtpResponse struct {
	Success bool           `json:"success"`
	Token   string         `json:"token"`
	User    *database.User `json:"user"`
	IsNew   bool           `json:"isNewUser"`
}

// handleSendOtp issues a one time code for a mobile number
func (s *APIServer) handleSendOtp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req SendOtpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	code, err := s.authenticator.Issue(r.Context(), req.MobileNumber)
	if err != nil {
		var tooMany *auth.TooManyAttemptsError
		switch {
		case errors.Is(err, auth.ErrInvalidNumber):
			s.writeError(w, http.StatusBadRequest, "Mobile number must be 10 digits")
		case errors.As(err, &tooMany):
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(tooMany.RetryAfter.Seconds())+1))
			s.writeError(w, http.StatusTooManyRequests, "Too many OTP requests, try again later")
		case errors.Is(err, auth.ErrDeliveryFailed):
			s.writeError(w, http.StatusInternalServerError, "Failed to send OTP")
		default:
			s.logger.Error(fmt.Sprintf("OTP issue failed: %v", err), "api")
			s.writeError(w, http.StatusInternalServerError, "Failed to send OTP")
		}
		return
	}

	resp := SendOtpResponse{Success: true, Message: "OTP sent"}
	if s.devMode {
		resp.Otp = code
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleVerifyOtp checks the code and either logs an existing account
// in or creates a new one
func (s *APIServer) handleVerifyOtp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req VerifyOtpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := s.authenticator.Verify(r.Context(), req.MobileNumber, req.Otp); err != nil {
		if errors.Is(err, auth.ErrInvalidOrExpiredCode) {
			s.writeError(w, http.StatusUnauthorized, "Invalid or expired OTP")
			return
		}
		s.logger.Error(fmt.Sprintf("OTP verify failed: %v", err), "api")
		s.writeError(w, http.StatusInternalServerError, "Verification failed")
		return
	}

	users := s.dbManager.Users
	user, err := users.GetUserByMobileNumber(req.MobileNumber)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to look up account")
		return
	}

	isNew := user == nil
	if isNew {
		if req.Username == "" || req.PublicKey == "" {
			s.writeError(w, http.StatusBadRequest, "Username and public key are required for signup")
			return
		}
		if _, err := crypto.DecodeKey(req.PublicKey); err != nil {
			s.writeError(w, http.StatusBadRequest, "Public key must be 32 bytes, base64 encoded")
			return
		}

		user = &database.User{
			Username:     req.Username,
			MobileNumber: req.MobileNumber,
			PublicKey:    req.PublicKey,
			IsVerified:   true,
		}
		if err := users.CreateUser(user); err != nil {
			switch err {
			case database.ErrUsernameTaken:
				s.writeError(w, http.StatusBadRequest, "Username is already taken")
			case database.ErrNumberTaken:
				s.writeError(w, http.StatusBadRequest, "Mobile number is already registered")
			default:
				s.logger.Error(fmt.Sprintf("Failed to create user: %v", err), "api")
				s.writeError(w, http.StatusInternalServerError, "Failed to create account")
			}
			return
		}
	} else if !user.IsVerified {
		if err := users.SetVerified(user.ID, true); err != nil {
			s.logger.Error(fmt.Sprintf("Failed to mark user verified: %v", err), "api")
		} else {
			user.IsVerified = true
		}
	}

	tokenDuration := s.config.GetConfigDuration("jwt_token_duration", 24*time.Hour)
	token, err := s.jwtManager.GenerateToken(user.Username, user.MobileNumber, tokenDuration)
	if err != nil {
		s.logger.Error(fmt.Sprintf("Failed to generate session token: %v", err), "api")
		s.writeError(w, http.StatusInternalServerError, "Failed to generate session token")
		return
	}

	s.logger.Info(fmt.Sprintf("User %s authenticated (new=%v)", user.Username, isNew), "api")
	s.writeJSON(w, http.StatusOK, VerifyOtpResponse{
		Success: true,
		Token:   token,
		User:    user,
		IsNew:   isNew,
	})
}
