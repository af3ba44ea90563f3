package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"securechat/internal/domain"
)

// SyncService assembles the connect-time snapshot, derives unread
// counts, and owns group lifecycle operations.
type SyncService struct {
	users    domain.UserRepository
	groups   domain.GroupRepository
	messages domain.MessageRepository

	now func() time.Time
}

func NewSyncService(users domain.UserRepository, groups domain.GroupRepository, messages domain.MessageRepository) *SyncService {
	return &SyncService{
		users:    users,
		groups:   groups,
		messages: messages,
		now:      time.Now,
	}
}

// Snapshot is everything a freshly announced connection needs: the
// user's groups with unread counts, the user directory, and the
// distinct partners of past direct conversations.
type Snapshot struct {
	Groups   []*domain.GroupSummary
	Users    []string
	Partners []string
}

func (s *SyncService) BuildSnapshot(ctx context.Context, username string) (*Snapshot, error) {
	groups, err := s.groups.GroupsFor(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("groups for %s: %w", username, err)
	}

	summaries := make([]*domain.GroupSummary, 0, len(groups))
	for _, g := range groups {
		unread, err := s.groups.UnreadCount(ctx, g.ID, username)
		if err != nil {
			return nil, fmt.Errorf("unread for %s: %w", g.ID, err)
		}
		summaries = append(summaries, &domain.GroupSummary{Group: *g, UnreadCount: unread})
	}

	users, err := s.users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	usernames := make([]string, 0, len(users))
	for _, u := range users {
		usernames = append(usernames, u.Username)
	}

	partners, err := s.messages.Partners(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("dm partners: %w", err)
	}

	return &Snapshot{Groups: summaries, Users: usernames, Partners: partners}, nil
}

// ComputeUnread returns the per-group unread counts for the user.
func (s *SyncService) ComputeUnread(ctx context.Context, username string) (map[string]int, error) {
	groups, err := s.groups.GroupsFor(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("groups for %s: %w", username, err)
	}
	res := make(map[string]int, len(groups))
	for _, g := range groups {
		unread, err := s.groups.UnreadCount(ctx, g.ID, username)
		if err != nil {
			return nil, fmt.Errorf("unread for %s: %w", g.ID, err)
		}
		res[g.ID] = unread
	}
	return res, nil
}

// MarkRead advances the user's watermark for the group to server now.
// The membership row is created on demand only for open groups, which
// everyone belongs to implicitly; for closed groups the caller must
// already be a member, otherwise marking read would grant membership.
func (s *SyncService) MarkRead(ctx context.Context, groupID, username string) error {
	group, err := s.groups.GetByID(ctx, groupID)
	if err != nil {
		return fmt.Errorf("get group: %w", err)
	}
	if group == nil {
		return domain.ErrNotFound
	}

	if group.OpenMembership {
		if err := s.groups.AddMember(ctx, groupID, username); err != nil {
			return err
		}
	} else {
		ok, err := s.groups.IsMember(ctx, groupID, username)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrForbidden
		}
	}
	return s.groups.MarkRead(ctx, groupID, username, s.now())
}

// CreateGroup inserts the group and one membership row per requested
// member plus the creator, deduplicated, in one transaction.
func (s *SyncService) CreateGroup(ctx context.Context, creator, name, description string, members []string) (*domain.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.ErrInvalidInput
	}

	g := &domain.Group{
		ID:          "group_" + uuid.NewString(),
		Name:        name,
		Description: description,
	}
	if err := s.groups.CreateWithMembers(ctx, g, append([]string{creator}, members...)); err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	return g, nil
}

// DeleteGroup removes the group with its messages and memberships.
// Open-membership groups cannot be deleted.
func (s *SyncService) DeleteGroup(ctx context.Context, groupID string) error {
	return s.groups.Delete(ctx, groupID)
}

// GroupHistory returns the group's message log, gated the same way as
// publishing: open groups are readable by everyone, closed groups only
// by their members.
func (s *SyncService) GroupHistory(ctx context.Context, groupID, username string) ([]*domain.GroupMessage, error) {
	ok, err := s.groups.IsMember(ctx, groupID, username)
	if err != nil {
		return nil, fmt.Errorf("membership check: %w", err)
	}
	if !ok {
		return nil, domain.ErrForbidden
	}
	return s.messages.HistoryForGroup(ctx, groupID)
}

func (s *SyncService) DMHistory(ctx context.Context, userA, userB string) ([]*domain.DirectMessage, error) {
	return s.messages.HistoryBetween(ctx, userA, userB)
}

func (s *SyncService) DeleteDMConversation(ctx context.Context, userA, userB string) error {
	return s.messages.DeletePairConversation(ctx, userA, userB)
}
