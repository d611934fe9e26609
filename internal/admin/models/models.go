// Package models holds the records and states of admin sign-in.
package models

import (
	"strings"
	"time"
)

// Remote store collections. Names never contain "_".
const (
	CollectionTokens   = "adminOTPs"
	CollectionAdmins   = "admins"
	CollectionActivity = "adminActivity"
)

// Local keys. Volatile keys live in the per-tab store, durable keys in the per-browser store.
const (
	KeyPendingAdmin          = "pendingAdmin"
	KeyTokenSentForPending   = "tokenSentForPending"
	KeyAuthRedirectInitiated = "authRedirectInitiated"
	KeyAdminSession          = "adminSession"
)

const RoleAdmin = "admin"

// AdminIdentity is a confirmed federated identity.
type AdminIdentity struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoURL"`
}

// PendingAdmin is held between identity confirmation and token verification.
type PendingAdmin struct {
	UID      string `json:"uid"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	PhotoURL string `json:"photoURL"`
}

// NewPendingAdmin snapshots id, naming the admin after the email when the
// provider supplies no display name.
func NewPendingAdmin(id AdminIdentity) PendingAdmin {
	name := id.DisplayName
	if name == "" {
		name = id.Email
	}
	return PendingAdmin{UID: id.UID, Email: id.Email, Name: name, PhotoURL: id.PhotoURL}
}

// TokenRecord backs one issued one-time token.
type TokenRecord struct {
	TokenHash  string `json:"otp"`
	Email      string `json:"email"`
	ExpiryTime int64  `json:"expiryTime"`
	Used       bool   `json:"used"`
	Attempts   int    `json:"attempts"`
	CreatedAt  int64  `json:"createdAt"`
	Mode       string `json:"mode,omitempty"`
}

// Expired reports whether now is past the record's expiry.
func (r TokenRecord) Expired(now time.Time) bool {
	return now.UnixMilli() > r.ExpiryTime
}

// Inert reports whether the record can no longer verify any input.
func (r TokenRecord) Inert(now time.Time) bool {
	return r.Used || r.Expired(now)
}

// AdminProfileRecord is merge-upserted on every successful verification.
type AdminProfileRecord struct {
	UID             string   `json:"uid"`
	Email           string   `json:"email"`
	Name            string   `json:"name"`
	PhotoURL        string   `json:"photoURL"`
	Role            string   `json:"role"`
	Verified        bool     `json:"verified"`
	LastLogin       string   `json:"lastLogin"`
	Permissions     []string `json:"permissions"`
	LastLoginDevice string   `json:"lastLoginDevice,omitempty"`
}

// SessionRecord is the durable per-browser session.
type SessionRecord struct {
	UID    string `json:"uid"`
	Expiry int64  `json:"expiry"`
}

func (r SessionRecord) ExpiresAt() time.Time {
	return time.UnixMilli(r.Expiry).UTC()
}

// Valid reports whether the session has not yet expired at now.
func (r SessionRecord) Valid(now time.Time) bool {
	return r.UID != "" && now.UnixMilli() < r.Expiry
}

// ActivityRecord is one entry of the admin activity log.
type ActivityRecord struct {
	AdminID    string         `json:"adminId"`
	AdminEmail string         `json:"adminEmail"`
	Action     string         `json:"action"`
	Details    map[string]any `json:"details,omitempty"`
	Timestamp  string         `json:"timestamp"`
}

// Activity actions.
const (
	ActionLogin           = "login"
	ActionLogout          = "logout"
	ActionSessionExpired  = "session_expired"
	ActionSessionExtended = "session_extended"
)

// State is the admin session state.
type State string

const (
	StateLoading         State = "loading"
	StateSignedOut       State = "signed_out"
	StatePendingIdentity State = "pending_identity"
	StatePendingToken    State = "pending_token"
	StateAuthenticated   State = "authenticated"
)

// Snapshot is the read-only view of a session machine.
type Snapshot struct {
	State         State               `json:"state"`
	Resolving     bool                `json:"resolving"`
	PendingAdmin  *PendingAdmin       `json:"pendingAdmin,omitempty"`
	SessionExpiry *time.Time          `json:"sessionExpiry,omitempty"`
	Admin         *AdminProfileRecord `json:"admin,omitempty"`
}

// NormalizeEmail trims and lower-cases an email for comparison and keying.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
