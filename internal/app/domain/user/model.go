// Package user defines the identity anchor of the platform.
package user

import "time"

// Role controls what a user may do. The first user ever created becomes
// ADMIN; everyone after that starts as READER. Roles change only through
// administrative action, never during login.
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleAuthor Role = "AUTHOR"
	RoleReader Role = "READER"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleAuthor, RoleReader:
		return true
	}
	return false
}

// Subscription is an on-chain subscription record snapshot. Amount is kept
// as a decimal string to avoid precision loss.
type Subscription struct {
	PlanID    int64  `json:"planId"`
	StartTime int64  `json:"startTime"`
	Duration  int64  `json:"duration"`
	Amount    string `json:"amount"`
}

// GoogleTokens holds the Drive OAuth tokens collected by the backup
// callback endpoint. They are storage-only credentials: the User JSON
// projection never carries them.
type GoogleTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiryDate   int64  `json:"expiry_date"`
}

// User is uniquely identified by exactly one of Address or OpenID,
// depending on how it first authenticated.
type User struct {
	ID            string         `json:"id"`
	Address       string         `json:"address,omitempty"`
	OpenID        string         `json:"openid,omitempty"`
	Email         string         `json:"email,omitempty"`
	Name          string         `json:"name,omitempty"`
	Image         string         `json:"image,omitempty"`
	EnsName       string         `json:"ensName,omitempty"`
	Role          Role           `json:"role"`
	Subscriptions []Subscription `json:"subscriptions"`
	Google        *GoogleTokens  `json:"-"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}
