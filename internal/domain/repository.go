package domain

import (
	"context"
	"time"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByUsername(ctx context.Context, username string) (*User, error)
	List(ctx context.Context) ([]*User, error)
}

// GroupRepository defines persistence for groups and memberships,
// including the per-membership read watermark.
type GroupRepository interface {
	// CreateWithMembers inserts the group row and one membership row per
	// (deduplicated) member in a single transaction.
	CreateWithMembers(ctx context.Context, g *Group, members []string) error
	GetByID(ctx context.Context, id string) (*Group, error)
	List(ctx context.Context) ([]*Group, error)
	// GroupsFor returns every group the user can see: explicit
	// memberships plus all open-membership groups.
	GroupsFor(ctx context.Context, username string) ([]*Group, error)
	// IsMember reports whether the user may publish to the group. Open
	// membership groups admit everyone.
	IsMember(ctx context.Context, groupID, username string) (bool, error)
	// AddMember is idempotent: adding an existing member is a no-op.
	AddMember(ctx context.Context, groupID, username string) error
	// Members returns the declared membership list for the group. Open
	// membership groups may have members beyond this list.
	Members(ctx context.Context, groupID string) ([]string, error)
	// MarkRead advances the membership watermark. The watermark never
	// moves backwards; earlier timestamps are ignored.
	MarkRead(ctx context.Context, groupID, username string, at time.Time) error
	// UnreadCount counts messages in the group newer than the caller's
	// watermark. A missing or null watermark counts everything.
	UnreadCount(ctx context.Context, groupID, username string) (int, error)
	// Delete removes the group, its memberships, and its messages in one
	// transaction. Deleting an open-membership group is refused.
	Delete(ctx context.Context, id string) error
}

// MessageRepository defines persistence for the append-only message
// log, both group-scoped and pair-scoped.
type MessageRepository interface {
	// AppendGroupMessage is an upsert keyed by MessageID: re-appending a
	// stored identity changes nothing and reports success.
	AppendGroupMessage(ctx context.Context, m *GroupMessage) error
	AppendDirectMessage(ctx context.Context, m *DirectMessage) error
	// HistoryForGroup returns messages in ascending timestamp order,
	// ties broken by insertion order.
	HistoryForGroup(ctx context.Context, groupID string) ([]*GroupMessage, error)
	// HistoryBetween merges both directions of the pair and returns the
	// result in ascending timestamp order. Argument order is irrelevant.
	HistoryBetween(ctx context.Context, userA, userB string) ([]*DirectMessage, error)
	// Partners lists distinct users the given user has exchanged direct
	// messages with, in either direction.
	Partners(ctx context.Context, username string) ([]string, error)
	DeletePairConversation(ctx context.Context, userA, userB string) error
}
