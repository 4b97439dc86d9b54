// Package org holds the tenant-boundary types: organizations, their users,
// API keys, browser sessions, verified origins, and registered apps.
package org

import "time"

// Org is the tenant boundary. Every other row in the system is owned by
// exactly one Org except globally-scoped tables (BlockedDomain).
type Org struct {
	ID                string
	Name              string
	PlatformFeeBps    int
	PlatformFeeWallet string
	CORSAllowOrigins  []string
	QuotaOpenJobs     int
	QuotaMonthlyCents int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ReadyToPublish enforces the invariant that a non-zero platform fee requires
// a wallet to receive it before any bounty owned by the org can publish.
func (o Org) ReadyToPublish() bool {
	if o.PlatformFeeBps <= 0 {
		return true
	}
	return o.PlatformFeeWallet != ""
}

// OrgUser is a buyer-side human account scoped to a single Org.
type OrgUser struct {
	ID           string
	OrgID        string
	Email        string // always stored lowercased
	ScryptHash   []byte
	ScryptSalt   []byte
	CreatedAt    time.Time
}

// ApiKey authenticates server-to-server buyer calls. Token carries the
// pw_bu_ prefix; only the hash is persisted.
type ApiKey struct {
	ID         string
	OrgID      string
	TokenHash  string
	Label      string
	CreatedAt  time.Time
	RevokedAt  *time.Time
}

func (k ApiKey) Revoked() bool { return k.RevokedAt != nil }

// Session backs browser-based buyer console access: a cookie-carried
// session id plus a CSRF token required on unsafe methods.
type Session struct {
	ID        string
	OrgUserID string
	OrgID     string
	CSRFToken string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

func (s Session) Revoked() bool { return s.RevokedAt != nil }
func (s Session) Expired(now time.Time) bool { return now.After(s.ExpiresAt) }

// Origin verification state machine: pending -> verified|revoked.
const (
	OriginPending  = "pending"
	OriginVerified = "verified"
	OriginRevoked  = "revoked"
)

// Verification methods for an Origin.
const (
	OriginMethodDNSTXT   = "dns_txt"
	OriginMethodHTTPFile = "http_file"
	OriginMethodHeader   = "header"
)

// Origin is a (org, origin_url) pair a bounty's allowed_origins may
// reference once verified.
type Origin struct {
	ID         string
	OrgID      string
	OriginURL  string
	Status     string
	Method     string
	Token      string // pw_verify_ prefixed proof token
	VerifiedAt *time.Time
	CreatedAt  time.Time
}

// App lifecycle.
const (
	AppActive   = "active"
	AppDisabled = "disabled"
)

// App represents a registered task type an org publishes bounties for.
// TaskType is globally unique among non-system apps.
type App struct {
	ID       string
	OrgID    string
	Slug     string
	TaskType string
	Status   string
	System   bool
}

func (a App) Enabled() bool { return a.Status == AppActive }

// BlockedDomain is a global deny-list entry, not owned by any Org.
type BlockedDomain struct {
	Domain    string
	Reason    string
	CreatedAt time.Time
}
