package authapi

import (
	"time"

	"trustcore/cmd/internal/auth/authn"
	"trustcore/cmd/internal/auth/session"
	"trustcore/cmd/internal/biometric"
)

type deviceRequest struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	Platform   string `json:"platform"`
	RememberMe bool   `json:"remember_me"`
}

type registerRequest struct {
	Email       string  `json:"email"`
	Password    string  `json:"password"`
	Phone       *string `json:"phone"`
	DisplayName *string `json:"display_name"`
	deviceRequest
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	MFACode  string `json:"mfa_code"`
	deviceRequest
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type deleteAccountRequest struct {
	Password string `json:"password"`
}

type trustDeviceRequest struct {
	DeviceID string `json:"device_id"`
	Trusted  bool   `json:"trusted"`
}

type codeRequest struct {
	Code string `json:"code"`
}

type otpSendRequest struct {
	Purpose string `json:"purpose"`
}

type otpVerifyRequest struct {
	Purpose string `json:"purpose"`
	Code    string `json:"code"`
}

type biometricRequest struct {
	Modality string `json:"modality"`
	Sample   string `json:"sample"`
}

type accountResponse struct {
	ID               string   `json:"id"`
	Email            string   `json:"email"`
	Phone            *string  `json:"phone"`
	DisplayName      *string  `json:"display_name"`
	Status           string   `json:"status"`
	EmailVerified    bool     `json:"email_verified"`
	PhoneVerified    bool     `json:"phone_verified"`
	MFAEnabled       bool     `json:"mfa_enabled"`
	BiometricEnabled bool     `json:"biometric_enabled"`
	Roles            []string `json:"roles"`
}

type authResponse struct {
	AccessToken      string          `json:"access_token"`
	RefreshToken     string          `json:"refresh_token,omitempty"`
	TokenType        string          `json:"token_type"`
	ExpiresIn        int64           `json:"expires_in"`
	RefreshExpiresAt time.Time       `json:"refresh_expires_at"`
	DeviceID         string          `json:"device_id"`
	CSRFToken        string          `json:"csrf_token,omitempty"`
	Account          accountResponse `json:"account"`
}

type sessionResponse struct {
	ID           int64     `json:"id"`
	DeviceID     string    `json:"device_id"`
	DeviceName   string    `json:"device_name,omitempty"`
	Platform     string    `json:"platform"`
	IP           string    `json:"ip,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	LastActiveAt time.Time `json:"last_active_at"`
	CreatedAt    time.Time `json:"created_at"`
	Trusted      bool      `json:"trusted"`
	Current      bool      `json:"current"`
}

type totpEnrollResponse struct {
	Secret string `json:"secret"`
	URL    string `json:"otpauth_url"`
}

type otpSendResponse struct {
	ExpiresIn int64 `json:"expires_in"`
}

type biometricResponse struct {
	Verified         bool    `json:"verified"`
	Confidence       float64 `json:"confidence"`
	LivenessVerified bool    `json:"liveness_verified"`
	Message          string  `json:"message,omitempty"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type keysResponse struct {
	Algorithm string `json:"alg"`
	PublicKey string `json:"public_key"`
}

func toAccountResponse(a authn.AccountSummary) accountResponse {
	roles := a.Roles
	if roles == nil {
		roles = []string{}
	}
	return accountResponse{
		ID:               a.UUID.String(),
		Email:            a.Email,
		Phone:            a.Phone,
		DisplayName:      a.DisplayName,
		Status:           string(a.Status),
		EmailVerified:    a.EmailVerified,
		PhoneVerified:    a.PhoneVerified,
		MFAEnabled:       a.MFAEnabled,
		BiometricEnabled: a.BiometricEnabled,
		Roles:            roles,
	}
}

func toAuthResponse(res authn.AuthResult) authResponse {
	return authResponse{
		AccessToken:      res.AccessToken,
		RefreshToken:     res.RefreshToken,
		TokenType:        res.TokenType,
		ExpiresIn:        res.ExpiresIn,
		RefreshExpiresAt: res.RefreshExpiresAt,
		DeviceID:         res.DeviceID,
		Account:          toAccountResponse(res.Account),
	}
}

func toSessionResponse(d session.DeviceSession) sessionResponse {
	return sessionResponse{
		ID:           d.ID,
		DeviceID:     d.DeviceID,
		DeviceName:   d.DeviceName,
		Platform:     string(d.Platform),
		IP:           d.IP,
		UserAgent:    d.UserAgent,
		LastActiveAt: d.LastActiveAt,
		CreatedAt:    d.CreatedAt,
		Trusted:      d.Trusted,
		Current:      d.Current,
	}
}

func toBiometricResponse(r biometric.Result) biometricResponse {
	return biometricResponse{
		Verified:         r.Verified,
		Confidence:       r.Confidence,
		LivenessVerified: r.LivenessVerified,
		Message:          r.Message,
	}
}

func (d deviceRequest) input() authn.DeviceInput {
	return authn.DeviceInput{ID: d.DeviceID, Name: d.DeviceName, Platform: d.Platform, RememberMe: d.RememberMe}
}
