// Package router computes delivery sets for outbound messages and
// pushes them to the open connections of every recipient.
package router

import (
	"context"

	"go.uber.org/zap"

	"securechat/internal/domain"
	"securechat/internal/presence"
	"securechat/internal/protocol"
)

type Router struct {
	presence *presence.Registry
	groups   domain.GroupRepository
	messages domain.MessageRepository
	log      *zap.Logger
}

func New(reg *presence.Registry, groups domain.GroupRepository, messages domain.MessageRepository, log *zap.Logger) *Router {
	return &Router{
		presence: reg,
		groups:   groups,
		messages: messages,
		log:      log,
	}
}

// RouteGroupMessage validates, persists, and fans out a group message.
//
// Rejections are silent: an identity mismatch or a missing membership
// row drops the message without telling the sender, so an unauthorized
// probe learns nothing about who belongs to a group. The drop is
// logged server-side.
func (r *Router) RouteGroupMessage(ctx context.Context, origin presence.Sink, msg *domain.GroupMessage) {
	if msg.Author != origin.Username() {
		r.log.Warn("group message author mismatch",
			zap.String("conn_id", origin.ConnID()),
			zap.String("authenticated", origin.Username()),
			zap.String("claimed", msg.Author))
		return
	}

	group, err := r.groups.GetByID(ctx, msg.GroupID)
	if err != nil {
		r.log.Error("load group", zap.String("group_id", msg.GroupID), zap.Error(err))
		return
	}
	if group == nil {
		r.log.Warn("group message for unknown group",
			zap.String("group_id", msg.GroupID), zap.String("author", msg.Author))
		return
	}

	if !group.OpenMembership {
		ok, err := r.groups.IsMember(ctx, group.ID, msg.Author)
		if err != nil {
			r.log.Error("membership check", zap.String("group_id", group.ID), zap.Error(err))
			return
		}
		if !ok {
			r.log.Warn("group message from non-member",
				zap.String("group_id", group.ID), zap.String("author", msg.Author))
			return
		}
	}

	// Idempotent append: a retried identity is already durable and the
	// fan-out below is harmless to repeat.
	if err := r.messages.AppendGroupMessage(ctx, msg); err != nil {
		r.log.Error("append group message",
			zap.String("message_id", msg.MessageID), zap.Error(err))
		return
	}

	recipients, err := r.deliverySet(ctx, group)
	if err != nil {
		r.log.Error("compute delivery set", zap.String("group_id", group.ID), zap.Error(err))
		return
	}

	out := &protocol.DeliverGroupMessage{GroupMessage: *msg, OriginConnID: origin.ConnID()}
	for username := range recipients {
		for _, sink := range r.presence.Connections(username) {
			// The author already holds the optimistic local copy.
			if sink.ConnID() == origin.ConnID() {
				continue
			}
			if err := sink.Send(out); err != nil {
				// Connection died between the presence read and the push.
				r.log.Debug("push failed", zap.String("conn_id", sink.ConnID()), zap.Error(err))
			}
		}
	}
}

// deliverySet resolves the usernames a group message goes to. Open
// groups reach their declared members plus everyone currently online,
// so a freshly signed-up user whose membership backfill has not landed
// still receives broadcasts. Closed groups reach exactly their members.
func (r *Router) deliverySet(ctx context.Context, group *domain.Group) (map[string]struct{}, error) {
	members, err := r.groups.Members(ctx, group.ID)
	if err != nil {
		return nil, err
	}

	set := make(map[string]struct{}, len(members))
	for _, m := range members {
		set[m] = struct{}{}
	}
	if group.OpenMembership {
		for _, u := range r.presence.Snapshot() {
			set[u] = struct{}{}
		}
	}
	return set, nil
}

// RouteDirectMessage validates, persists, and pushes a direct message
// to every open connection of the receiver.
func (r *Router) RouteDirectMessage(ctx context.Context, origin presence.Sink, msg *domain.DirectMessage) {
	if msg.Sender != origin.Username() {
		r.log.Warn("direct message sender mismatch",
			zap.String("conn_id", origin.ConnID()),
			zap.String("authenticated", origin.Username()),
			zap.String("claimed", msg.Sender))
		return
	}

	if err := r.messages.AppendDirectMessage(ctx, msg); err != nil {
		r.log.Error("append direct message",
			zap.String("message_id", msg.MessageID), zap.Error(err))
		return
	}

	// An offline receiver gets nothing pushed; the durable row is
	// recovered through the history pull on their next connect.
	out := &protocol.DeliverDM{DirectMessage: *msg}
	for _, sink := range r.presence.Connections(msg.Receiver) {
		if err := sink.Send(out); err != nil {
			r.log.Debug("push failed", zap.String("conn_id", sink.ConnID()), zap.Error(err))
		}
	}
}
