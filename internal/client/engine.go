// Package client implements the client side of the sync protocol: a
// reconciliation engine over the offline cache, and a websocket
// transport feeding it. The engine is pure state plumbing with no
// rendering; consumers subscribe to its notification stream.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"securechat/internal/clientcache"
	"securechat/internal/domain"
	"securechat/internal/protocol"
)

// NotificationKind tags what the engine observed.
type NotificationKind string

const (
	NoteSnapshotApplied     NotificationKind = "snapshot_applied"
	NotePresenceChanged     NotificationKind = "presence_changed"
	NoteGroupMessage        NotificationKind = "group_message"
	NoteDirectMessage       NotificationKind = "direct_message"
	NoteGroupHistoryLoaded  NotificationKind = "group_history_loaded"
	NoteDMHistoryLoaded     NotificationKind = "dm_history_loaded"
	NoteSidebarInvalidated  NotificationKind = "sidebar_invalidated"
	NoteConversationDeleted NotificationKind = "conversation_deleted"
)

// Notification is one observable engine event. Only the fields
// relevant to the Kind are populated.
type Notification struct {
	Kind NotificationKind

	Snapshot *protocol.InitialSnapshot
	Users    []string
	Group    *domain.GroupMessage
	Direct   *domain.DirectMessage
	GroupID  string
	WithUser string
	Count    int
}

// Engine reconciles server pushes and history replies into the local
// cache. It never talks to the network; the transport calls Apply.
type Engine struct {
	cache    *clientcache.Cache
	username string

	now func() time.Time
}

func NewEngine(cache *clientcache.Cache, username string) *Engine {
	return &Engine{
		cache:    cache,
		username: username,
		now:      time.Now,
	}
}

func (e *Engine) Username() string { return e.username }

// Apply folds one server event into the cache and reports what
// changed. Events that need no client action return nil.
//
// Every cache write is an upsert by message identity, which is the
// whole reconciliation story: the optimistic local copy, the live
// echo, and a later history replay all land on the same record.
func (e *Engine) Apply(ctx context.Context, ev protocol.Event) (*Notification, error) {
	switch s := ev.(type) {
	case *protocol.InitialSnapshot:
		return &Notification{Kind: NoteSnapshotApplied, Snapshot: s}, nil

	case *protocol.PresenceSnapshot:
		return &Notification{Kind: NotePresenceChanged, Users: s.Users}, nil

	case *protocol.DeliverGroupMessage:
		m := s.GroupMessage
		if err := e.cache.UpsertGroup(ctx, &m); err != nil {
			return nil, err
		}
		return &Notification{Kind: NoteGroupMessage, Group: &m}, nil

	case *protocol.DeliverDM:
		m := s.DirectMessage
		if err := e.cache.UpsertDirect(ctx, &m); err != nil {
			return nil, err
		}
		return &Notification{Kind: NoteDirectMessage, Direct: &m}, nil

	case *protocol.GroupHistory:
		for _, m := range s.Messages {
			if err := e.cache.UpsertGroup(ctx, m); err != nil {
				return nil, err
			}
		}
		return &Notification{Kind: NoteGroupHistoryLoaded, GroupID: s.GroupID, Count: len(s.Messages)}, nil

	case *protocol.DMHistory:
		for _, m := range s.Messages {
			if err := e.cache.UpsertDirect(ctx, m); err != nil {
				return nil, err
			}
		}
		return &Notification{Kind: NoteDMHistoryLoaded, WithUser: s.WithUser, Count: len(s.Messages)}, nil

	case *protocol.SidebarInvalidate:
		return &Notification{Kind: NoteSidebarInvalidated}, nil

	case *protocol.DMConversationDeleted:
		if err := e.cache.ClearPair(ctx, e.username, s.WithUser); err != nil {
			return nil, err
		}
		return &Notification{Kind: NoteConversationDeleted, WithUser: s.WithUser}, nil

	default:
		return nil, fmt.Errorf("unexpected server event %q", ev.Kind())
	}
}

// PrepareGroupMessage assigns the message its identity, stores the
// optimistic local copy, and returns the event to transmit.
func (e *Engine) PrepareGroupMessage(ctx context.Context, groupID, content string) (*protocol.SendGroupMessage, error) {
	m := domain.GroupMessage{
		MessageID: uuid.NewString(),
		GroupID:   groupID,
		Author:    e.username,
		Content:   content,
		Timestamp: e.now().UTC(),
	}
	if err := e.cache.UpsertGroup(ctx, &m); err != nil {
		return nil, err
	}
	return &protocol.SendGroupMessage{GroupMessage: m}, nil
}

func (e *Engine) PrepareDirectMessage(ctx context.Context, receiver, content string) (*protocol.SendDM, error) {
	m := domain.DirectMessage{
		MessageID: uuid.NewString(),
		Sender:    e.username,
		Receiver:  receiver,
		Content:   content,
		Timestamp: e.now().UTC(),
	}
	if err := e.cache.UpsertDirect(ctx, &m); err != nil {
		return nil, err
	}
	return &protocol.SendDM{DirectMessage: m}, nil
}

// GroupMessages serves the UI from the cache, no round trip needed.
func (e *Engine) GroupMessages(ctx context.Context, groupID string) ([]*domain.GroupMessage, error) {
	return e.cache.QueryGroup(ctx, groupID)
}

func (e *Engine) DirectMessages(ctx context.Context, withUser string) ([]*domain.DirectMessage, error) {
	return e.cache.QueryPair(ctx, e.username, withUser)
}

// Reset wipes the cache, called on logout or credential change.
func (e *Engine) Reset(ctx context.Context) error {
	return e.cache.ClearAll(ctx)
}
