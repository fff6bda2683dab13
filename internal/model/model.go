// Package model defines domain entities used by services, repositories and the engine.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Platform tags for connected account types.
const (
	PlatformTelegram  = "telegram"
	PlatformInstagram = "instagram"
)

// AccountState describes the lifecycle of a connected platform account.
type AccountState string

const (
	// StateDisconnected means no live session exists for the account.
	StateDisconnected AccountState = "disconnected"
	// StateOnboarding means a platform auth exchange is in flight.
	StateOnboarding AccountState = "onboarding"
	// StateActive means the account has a live session (and a listener, if the
	// platform supports one).
	StateActive AccountState = "active"
	// StateExpired means the platform rejected the stored session; only
	// re-onboarding returns the account to active.
	StateExpired AccountState = "expired"
	// StateDegraded means the background listener stopped after exhausting
	// reconnect attempts.
	StateDegraded AccountState = "degraded"
)

// User is a hub user owning zero or more platform accounts.
type User struct {
	ID        uuid.UUID
	Email     string // unique
	PwdHash   []byte // argon2id(password, SaltAuth)
	SaltAuth  []byte // per-user auth salt
	CreatedAt time.Time
}

// Tokens carries an issued access token and its expiry.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Account is a connected platform account. SessionEnc is opaque ciphertext
// produced by the vault; plaintext session material never reaches storage.
type Account struct {
	ID                uuid.UUID
	UserID            uuid.UUID // FK -> users.id
	Platform          string    // telegram, instagram, ...
	PlatformAccountID string    // platform-native account identifier
	SessionEnc        []byte
	CreatedAt         time.Time

	// State is runtime-only (maintained by the engine, not persisted).
	State AccountState
}

// Chat is a conversation observed through one account. The platform chat id is
// unique per owning account, not globally.
type Chat struct {
	ID             uuid.UUID
	AccountID      uuid.UUID
	PlatformChatID string
	Title          string
	Platform       string // denormalized from the owning account for listings
	LastMessageAt  time.Time
}

// Attachment is a structured, order-preserving message attachment.
type Attachment struct {
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
	Name string `json:"name,omitempty"`
}

// Delivery status values for messages.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
)

// Message is a canonical message independent of source platform.
// PlatformMessageID is empty for locally generated messages; when present it
// deduplicates re-ingestion of the same platform event.
type Message struct {
	ID                uuid.UUID
	ChatID            uuid.UUID
	Platform          string
	PlatformMessageID string
	SenderID          string
	SenderName        string
	Text              string
	Attachments       []Attachment
	Timestamp         time.Time
	Status            string
}

// NewMessage is a normalized inbound platform event, before the owning chat is
// resolved. Produced by platform adapters, consumed by the engine.
type NewMessage struct {
	PlatformChatID    string
	ChatTitle         string
	PlatformMessageID string
	SenderID          string
	SenderName        string
	Text              string
	Attachments       []Attachment
	Timestamp         time.Time
}

// Event is the record delivered to live client connections, one per frame.
type Event struct {
	Type       string `json:"type"`
	Platform   string `json:"platform"`
	ChatID     string `json:"chatId"`
	SenderName string `json:"senderName"`
	Text       string `json:"text"`
	Timestamp  string `json:"timestamp"`
}

// EventNewMessage is the event type for a freshly stored inbound message.
const EventNewMessage = "message:new"
