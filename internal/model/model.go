// Package model holds the records mailminder persists.
package model

import "time"

// ProviderGoogle is the only credential provider.
const ProviderGoogle = "google"

// User is a person who signed in with Google.
type User struct {
	ID          string    `db:"id" json:"id"`
	GoogleSub   string    `db:"google_sub" json:"-"`
	Email       string    `db:"email" json:"email"`
	DisplayName string    `db:"display_name" json:"displayName"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// Sender is an address a user tracks. Unique per (OwnerUserID, Email).
type Sender struct {
	ID          string    `db:"id" json:"id"`
	OwnerUserID string    `db:"owner_user_id" json:"-"`
	Email       string    `db:"email" json:"email"`
	DisplayName string    `db:"display_name" json:"displayName"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`

	// EmailCount is derived, never stored.
	EmailCount int `db:"-" json:"emailCount"`
}

// Email is an ingested message. ProviderMessageID is globally unique.
type Email struct {
	ID                string    `db:"id" json:"id"`
	SenderID          string    `db:"sender_id" json:"senderId"`
	UserID            string    `db:"user_id" json:"-"`
	Subject           string    `db:"subject" json:"subject"`
	Body              string    `db:"body" json:"body"`
	ReceivedAt        time.Time `db:"received_at" json:"receivedAt"`
	ProviderMessageID string    `db:"provider_message_id" json:"providerMessageId"`
	CreatedAt         time.Time `db:"created_at" json:"createdAt"`
}

// Credential is a stored provider token, one row per (UserID, Provider).
type Credential struct {
	UserID       string
	Provider     string
	AccessToken  string
	RefreshToken string
	// ExpiresAt is zero when the provider did not report an expiry.
	ExpiresAt time.Time
	UpdatedAt time.Time
}
