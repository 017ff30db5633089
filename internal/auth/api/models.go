package api

import (
	"time"

	"stash/internal/account"
	"stash/internal/auth/session"
)

type loginRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DeviceLabel string `json:"device_label"`
}

type pinRequest struct {
	Pin string `json:"pin"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
	Pin          string `json:"pin"`
}

type logoutAllRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type deviceRenameRequest struct {
	SessionID string `json:"session_id"`
	Label     string `json:"label"`
}

type deviceLogoutRequest struct {
	SessionID string `json:"session_id"`
}

type sessionResponse struct {
	SessionID        string    `json:"session_id"`
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	PinRequired      bool      `json:"pin_required,omitempty"`
}

type loginResponse struct {
	AccountID string          `json:"account_id"`
	Session   sessionResponse `json:"session"`
}

type refreshResponse struct {
	Session sessionResponse `json:"session"`
}

type deviceResponse struct {
	ID         string     `json:"id"`
	Label      string     `json:"label"`
	UserAgent  string     `json:"user_agent,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	HasPin     bool       `json:"has_pin"`
	Current    bool       `json:"current"`
}

type devicesResponse struct {
	Devices []deviceResponse `json:"devices"`
}

type logoutAllResponse struct {
	RevokedSessions int `json:"revoked_sessions"`
}

type accountResponse struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName *string   `json:"display_name,omitempty"`
	Verified    bool      `json:"verified"`
	CreatedAt   time.Time `json:"created_at"`
}

type meResponse struct {
	Account accountResponse `json:"account"`
}

func toSessionResponse(res session.LoginResult) sessionResponse {
	out := toRotatedResponse(res.Issued)
	out.PinRequired = res.PinRequired
	return out
}

func toRotatedResponse(issued session.Issued) sessionResponse {
	return sessionResponse{
		SessionID:        issued.SessionID,
		AccessToken:      issued.AccessToken,
		AccessExpiresAt:  issued.AccessExp,
		RefreshToken:     issued.RefreshToken,
		RefreshExpiresAt: issued.RefreshExp,
	}
}

func toDeviceResponse(d session.Device) deviceResponse {
	return deviceResponse{
		ID:         d.ID,
		Label:      d.Label,
		UserAgent:  d.UserAgent,
		CreatedAt:  d.CreatedAt,
		LastUsedAt: d.LastUsedAt,
		HasPin:     d.HasPin,
		Current:    d.Current,
	}
}

func toAccountResponse(a account.Account) accountResponse {
	return accountResponse{
		ID:          a.ID,
		Email:       a.Email,
		DisplayName: a.DisplayName,
		Verified:    a.VerifiedAt != nil,
		CreatedAt:   a.CreatedAt,
	}
}
