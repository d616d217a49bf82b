package models

import "time"

// Session is an authenticated identity. Offline is true when it was restored
// from local storage without the remote auth service confirming it.
type Session struct {
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	Role         string    `json:"role,omitempty"`
	SavedAt      time.Time `json:"saved_at"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Offline      bool      `json:"-"`
}

// OfflineCredential is the salted hash of the last password that signed in
// online on this device.
type OfflineCredential struct {
	Email   string    `json:"email"`
	Salt    []byte    `json:"salt"`
	Hash    []byte    `json:"hash"`
	SavedAt time.Time `json:"saved_at"`
}
