package domain

import "time"

// GeneralGroupID is the id of the seeded open-membership channel that
// every user implicitly belongs to.
const GeneralGroupID = "general"

// User represents an application user. The username is the primary
// identity key throughout the system; there is no mutable profile.
type User struct {
	ID             int64     `db:"id" json:"id"`
	Username       string    `db:"username" json:"username"`
	HashedPassword string    `db:"hashed_password" json:"-"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Group represents a chat channel. A group with OpenMembership set is
// readable and writable by every user regardless of membership rows;
// the seeded "general" channel is the canonical open group.
type Group struct {
	ID             string `db:"id" json:"id"`
	Name           string `db:"name" json:"name"`
	Description    string `db:"description" json:"description"`
	OpenMembership bool   `db:"open_membership" json:"open_membership"`
}

// Membership ties a user to a group and carries the read watermark.
// LastReadAt is nil until the user first marks the group read; once
// set it only moves forward.
type Membership struct {
	GroupID    string     `db:"group_id" json:"group_id"`
	Username   string     `db:"username" json:"username"`
	LastReadAt *time.Time `db:"last_read_at" json:"last_read_at,omitempty"`
}

// GroupMessage is a message published to a group channel. MessageID is
// assigned by the originating client and is globally unique; it is the
// idempotency key for storage and cache upserts.
type GroupMessage struct {
	MessageID string    `db:"message_id" json:"messageId"`
	GroupID   string    `db:"room_id" json:"groupId"`
	Author    string    `db:"username" json:"username"`
	Content   string    `db:"content" json:"content"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
}

// DirectMessage is a one-to-one message. A conversation is the
// unordered pair {Sender, Receiver}; no conversation row exists.
type DirectMessage struct {
	MessageID string    `db:"message_id" json:"messageId"`
	Sender    string    `db:"sender" json:"sender"`
	Receiver  string    `db:"receiver" json:"receiver"`
	Content   string    `db:"content" json:"content"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
}

// GroupSummary is what a connecting client receives per group in the
// initial snapshot.
type GroupSummary struct {
	Group
	UnreadCount int `json:"unreadCount"`
}
