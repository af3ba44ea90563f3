// Package protocol defines the event contract spoken over the
// real-time channel. Event kinds form a closed set: decoding dispatches
// over an exhaustive switch, so adding an event is a compile-time
// checked exercise rather than a string-keyed registration.
package protocol

import (
	"encoding/json"
	"fmt"

	"securechat/internal/domain"
)

// Kind identifies an event on the wire.
type Kind string

// Client-to-server kinds.
const (
	KindAnnounce             Kind = "announce"
	KindRequestGroupHistory  Kind = "request_group_history"
	KindSendGroupMessage     Kind = "send_group_message"
	KindRequestDMHistory     Kind = "request_dm_history"
	KindSendDM               Kind = "send_dm"
	KindCreateGroup          Kind = "create_group"
	KindDeleteGroup          Kind = "delete_group"
	KindDeleteDMConversation Kind = "delete_dm_conversation"
	KindMarkGroupRead        Kind = "mark_group_read"
	KindLogout               Kind = "logout"
)

// Server-to-client kinds.
const (
	KindPresenceSnapshot      Kind = "presence_snapshot"
	KindInitialSnapshot       Kind = "initial_snapshot"
	KindGroupHistory          Kind = "group_history"
	KindDeliverGroupMessage   Kind = "deliver_group_message"
	KindDMHistory             Kind = "dm_history"
	KindDeliverDM             Kind = "deliver_dm"
	KindSidebarInvalidate     Kind = "sidebar_invalidate"
	KindDMConversationDeleted Kind = "dm_conversation_deleted"
)

// Event is implemented by every payload type in this package.
type Event interface {
	Kind() Kind
}

// Announce declares the connection's identity. It must match the
// authenticated username or the server drops the connection's events.
type Announce struct {
	Username string `json:"username"`
}

// PresenceSnapshot carries the full set of distinct online usernames.
// It is re-sent in full on every presence change.
type PresenceSnapshot struct {
	Users []string `json:"users"`
}

// InitialSnapshot is the one-shot reply to an announce: everything the
// client needs to render its sidebar and start reconciling.
type InitialSnapshot struct {
	Groups                []*domain.GroupSummary `json:"groups"`
	Users                 []string               `json:"users"`
	DirectMessagePartners []string               `json:"directMessagePartners"`
}

type RequestGroupHistory struct {
	GroupID string `json:"groupId"`
}

type GroupHistory struct {
	GroupID  string                 `json:"groupId"`
	Messages []*domain.GroupMessage `json:"messages"`
}

type SendGroupMessage struct {
	domain.GroupMessage
}

// DeliverGroupMessage echoes a stored group message to recipients.
// OriginConnID lets a multi-connection author recognize its own echo.
type DeliverGroupMessage struct {
	domain.GroupMessage
	OriginConnID string `json:"originConnectionId"`
}

type RequestDMHistory struct {
	TargetUser string `json:"targetUser"`
}

type DMHistory struct {
	WithUser string                  `json:"withUser"`
	Messages []*domain.DirectMessage `json:"messages"`
}

type SendDM struct {
	domain.DirectMessage
}

type DeliverDM struct {
	domain.DirectMessage
}

type CreateGroup struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Members     []string `json:"members"`
}

// SidebarInvalidate tells recipients their group list is stale; it
// carries no payload, clients re-fetch.
type SidebarInvalidate struct{}

type DeleteGroup struct {
	GroupID string `json:"groupId"`
}

type DeleteDMConversation struct {
	TargetUser string `json:"targetUser"`
}

type DMConversationDeleted struct {
	WithUser string `json:"withUser"`
}

type MarkGroupRead struct {
	GroupID string `json:"groupId"`
}

// Logout tears down presence ahead of the socket closing.
type Logout struct{}

func (Announce) Kind() Kind              { return KindAnnounce }
func (PresenceSnapshot) Kind() Kind      { return KindPresenceSnapshot }
func (InitialSnapshot) Kind() Kind       { return KindInitialSnapshot }
func (RequestGroupHistory) Kind() Kind   { return KindRequestGroupHistory }
func (GroupHistory) Kind() Kind          { return KindGroupHistory }
func (SendGroupMessage) Kind() Kind      { return KindSendGroupMessage }
func (DeliverGroupMessage) Kind() Kind   { return KindDeliverGroupMessage }
func (RequestDMHistory) Kind() Kind      { return KindRequestDMHistory }
func (DMHistory) Kind() Kind             { return KindDMHistory }
func (SendDM) Kind() Kind                { return KindSendDM }
func (DeliverDM) Kind() Kind             { return KindDeliverDM }
func (CreateGroup) Kind() Kind           { return KindCreateGroup }
func (SidebarInvalidate) Kind() Kind     { return KindSidebarInvalidate }
func (DeleteGroup) Kind() Kind           { return KindDeleteGroup }
func (DeleteDMConversation) Kind() Kind  { return KindDeleteDMConversation }
func (DMConversationDeleted) Kind() Kind { return KindDMConversationDeleted }
func (MarkGroupRead) Kind() Kind         { return KindMarkGroupRead }
func (Logout) Kind() Kind                { return KindLogout }

type envelope struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode wraps the event in its typed envelope.
func Encode(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.Kind(), err)
	}
	return json.Marshal(envelope{Type: e.Kind(), Data: data})
}

// Decode parses an envelope into its typed event. Unknown kinds are an
// error; callers drop the frame.
func Decode(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var e Event
	switch env.Type {
	case KindAnnounce:
		e = &Announce{}
	case KindPresenceSnapshot:
		e = &PresenceSnapshot{}
	case KindInitialSnapshot:
		e = &InitialSnapshot{}
	case KindRequestGroupHistory:
		e = &RequestGroupHistory{}
	case KindGroupHistory:
		e = &GroupHistory{}
	case KindSendGroupMessage:
		e = &SendGroupMessage{}
	case KindDeliverGroupMessage:
		e = &DeliverGroupMessage{}
	case KindRequestDMHistory:
		e = &RequestDMHistory{}
	case KindDMHistory:
		e = &DMHistory{}
	case KindSendDM:
		e = &SendDM{}
	case KindDeliverDM:
		e = &DeliverDM{}
	case KindCreateGroup:
		e = &CreateGroup{}
	case KindSidebarInvalidate:
		e = &SidebarInvalidate{}
	case KindDeleteGroup:
		e = &DeleteGroup{}
	case KindDeleteDMConversation:
		e = &DeleteDMConversation{}
	case KindDMConversationDeleted:
		e = &DMConversationDeleted{}
	case KindMarkGroupRead:
		e = &MarkGroupRead{}
	case KindLogout:
		e = &Logout{}
	default:
		return nil, fmt.Errorf("unknown event kind %q", env.Type)
	}

	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, e); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
	}
	return e, nil
}
