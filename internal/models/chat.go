package models

import (
	"time"
)

type ChatStatus string

const (
	ChatStatusActive    ChatStatus = "active"
	ChatStatusCompleted ChatStatus = "completed"
	ChatStatusExpired   ChatStatus = "expired"

	// Legacy statuses from the approval-gated flow. Never written by the
	// current lifecycle, still accepted when reading old documents.
	ChatStatusPending  ChatStatus = "pending"
	ChatStatusRejected ChatStatus = "rejected"
)

// Terminal reports whether the status accepts no further mutations.
func (s ChatStatus) Terminal() bool {
	return s != ChatStatusActive && s != ChatStatusPending
}

// Requester is the reporter side of a chat. The session token is an opaque
// per-browser identifier, not a verified identity.
type Requester struct {
	SessionToken    string `json:"session_token" bson:"session_token" validate:"required"`
	Name            string `json:"name,omitempty" bson:"name,omitempty"`
	MobileNumber    string `json:"mobile_number,omitempty" bson:"mobile_number,omitempty"`
	MobileRequested bool   `json:"mobile_requested" bson:"mobile_requested"`
	MobileApproved  bool   `json:"mobile_approved" bson:"mobile_approved"`
}

// Owner is the vehicle-owner side. All fields stay unset until the first join.
type Owner struct {
	SessionToken string     `json:"session_token,omitempty" bson:"session_token,omitempty"`
	Name         string     `json:"name,omitempty" bson:"name,omitempty"`
	JoinedAt     *time.Time `json:"joined_at,omitempty" bson:"joined_at,omitempty"`
}

// Chat is the aggregate root: one reporter-owner conversation about one
// vehicle, with its message log embedded in commit order.
type Chat struct {
	ChatID        string     `json:"chat_id" bson:"chat_id" validate:"required"`
	VehicleNumber string     `json:"vehicle_number" bson:"vehicle_number" validate:"required"`
	Status        ChatStatus `json:"status" bson:"status"`
	Requester     Requester  `json:"requester" bson:"requester"`
	Owner         Owner      `json:"owner" bson:"owner"`

	// IsOwnerJoined is sticky: once true it never resets, so a joined-then-
	// disconnected owner is distinguishable from one who never joined.
	IsOwnerJoined bool `json:"is_owner_joined" bson:"is_owner_joined"`

	Messages []Message `json:"messages" bson:"messages"`

	CreatedAt    time.Time `json:"created_at" bson:"created_at"`
	LastActivity time.Time `json:"last_activity" bson:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at" bson:"expires_at"`

	// Version increments on every committed mutation; the repository uses it
	// for optimistic replacement so concurrent writers cannot lose messages.
	// Serialized in JSON too: the Redis cache round-trips chats through JSON
	// and must preserve it.
	Version int64 `json:"version" bson:"version"`
}

// IsExpired reports whether the rolling inactivity deadline has passed.
func (c *Chat) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// RemainingTTL is the read-only countdown projection. It is always derived
// from ExpiresAt so it survives reloads without drift.
func (c *Chat) RemainingTTL(now time.Time) time.Duration {
	if c.Status != ChatStatusActive || c.IsExpired(now) {
		return 0
	}
	return c.ExpiresAt.Sub(now)
}

// Touch records activity and pushes the expiry window forward from now.
func (c *Chat) Touch(now time.Time, window time.Duration) {
	c.LastActivity = now
	c.ExpiresAt = now.Add(window)
}
