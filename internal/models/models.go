package models

import (
	"time"
)

// Registration is the stored form of a certification
type Registration struct {
	Subject     string    `gorm:"primarykey" json:"subject"`              // Certified identity
	Domain      string    `gorm:"index;not null" json:"domain"`           // Certified domain
	Owner       string    `gorm:"index;not null" json:"owner"`            // Submitter, may renew
	Metadata    string    `json:"metadata"`                               // Free-form metadata from submission
	Status      string    `gorm:"index;not null" json:"status"`           // pending/approved/revoked
	FeePaid     int64     `json:"fee_paid"`                               // Total fees paid, fixed point
	SubmittedAt time.Time `json:"submitted_at"`                           // Submission time
	ApprovedAt  time.Time `json:"approved_at"`                            // Last approval or renewal
	ExpiresAt   time.Time `gorm:"index" json:"expires_at"`                // End of validity window
	RevokedAt   time.Time `json:"revoked_at"`                             // Revocation time
	UpdatedAt   time.Time `gorm:"autoUpdateTime:false" json:"updated_at"` // Last transition
}

// Event is a published lifecycle notification
type Event struct {
	ID        uint      `gorm:"primarykey" json:"-"`
	EventID   string    `gorm:"uniqueIndex;not null" json:"id"`
	Kind      string    `gorm:"index;not null" json:"kind"` // SubmittedForValidation/Approved/Renewed/Revoked
	Subject   string    `gorm:"index;not null" json:"subject"`
	Domain    string    `json:"domain"`
	Actor     string    `json:"actor"`
	Value     int64     `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
	At        time.Time `gorm:"index" json:"at"`
}

// Escrow holds the fees collected by the registry; there is a single row
type Escrow struct {
	ID      uint  `gorm:"primarykey" json:"-"`
	Balance int64 `json:"balance"`
}

// Notification represents a notification record
type Notification struct {
	ID      uint      `gorm:"primarykey" json:"id"`
	Subject string    `gorm:"index" json:"subject"` // Registration the notice is about
	Kind    string    `json:"kind"`                 // Event kind or "ExpiryAlert"
	Type    string    `json:"type"`                 // Notifier (email/webhook/telegram/dingding)
	Content string    `json:"content"`              // Notification content
	Status  string    `json:"status"`               // Send status (success/failed)
	SentAt  time.Time `json:"sent_at"`
}

// Setting represents system configuration
type Setting struct {
	Key   string `gorm:"primarykey" json:"key"`
	Value string `json:"value"`
}

// User represents a user account
type User struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	Username  string    `gorm:"uniqueIndex;not null" json:"username"` // Username
	Password  string    `gorm:"not null" json:"-"`                    // Hashed password (excluded from JSON)
	Identity  string    `gorm:"index;not null" json:"identity"`       // Identity the user acts as
	Email     string    `json:"email"`                                // Email
	IsActive  bool      `gorm:"default:true" json:"is_active"`        // Account status
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
