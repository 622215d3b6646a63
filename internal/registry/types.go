package registry

import (
	"strings"
	"time"
)

// Identity is the authenticated identity of a caller or the subject of a
// registration (a deployed contract address, a service identity, ...).
type Identity string

// String returns the identity as text.
func (i Identity) String() string {
	return string(i)
}

// IsZero reports whether the identity is empty.
func (i Identity) IsZero() bool {
	return strings.TrimSpace(string(i)) == ""
}

// Status is the lifecycle label of a registration.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRevoked  Status = "revoked"
	// StatusExpired is never stored. It is the view of an approved
	// registration whose validity window has lapsed.
	StatusExpired Status = "expired"
)

// Registration binds a subject identity to a domain.
type Registration struct {
	Subject     Identity
	Domain      string
	Owner       Identity
	Metadata    string
	Status      Status
	FeePaid     Amount
	SubmittedAt time.Time
	ApprovedAt  time.Time
	ExpiresAt   time.Time
	RevokedAt   time.Time
	UpdatedAt   time.Time
}

// StatusAt returns the status as observed at now. Expiry is derived from
// ExpiresAt and never written back.
func (r *Registration) StatusAt(now time.Time) Status {
	switch r.Status {
	case StatusRevoked:
		return StatusRevoked
	case StatusPending:
		return StatusPending
	}
	if !now.Before(r.ExpiresAt) {
		return StatusExpired
	}
	return StatusApproved
}

// VerifiedAt reports whether the registration certifies domain at now.
func (r *Registration) VerifiedAt(domain string, now time.Time) bool {
	return r.Domain == domain && r.Status == StatusApproved && now.Before(r.ExpiresAt)
}

// Clone returns a copy that can be mutated without touching the original.
func (r *Registration) Clone() *Registration {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// Caller is what the caller authenticator hands the registry for every
// request: who is asking and how much value came with the request.
type Caller struct {
	Identity Identity
	Value    Amount
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time {
	return f()
}

// SystemClock reads the wall clock in UTC.
var SystemClock Clock = ClockFunc(func() time.Time { return time.Now().UTC() })
