package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"securechat/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

// AppendGroupMessage stores the message unless its identity is already
// present. A duplicate identity is reported as success: the sync
// protocol retries at-least-once and duplicates must be absorbed here.
func (r *MessageRepo) AppendGroupMessage(ctx context.Context, m *domain.GroupMessage) error {
	if _, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages (message_id, room_id, username, content, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, m.MessageID, m.GroupID, m.Author, m.Content, m.Timestamp.UTC().UnixMilli()); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *MessageRepo) AppendDirectMessage(ctx context.Context, m *domain.DirectMessage) error {
	if _, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO direct_messages (message_id, sender, receiver, content, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, m.MessageID, m.Sender, m.Receiver, m.Content, m.Timestamp.UTC().UnixMilli()); err != nil {
		return fmt.Errorf("insert direct message: %w", err)
	}
	return nil
}

func (r *MessageRepo) HistoryForGroup(ctx context.Context, groupID string) ([]*domain.GroupMessage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT message_id, room_id, username, content, timestamp
		FROM messages
		WHERE room_id = ?
		ORDER BY timestamp ASC, id ASC
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("group history: %w", err)
	}
	defer rows.Close()

	var res []*domain.GroupMessage
	for rows.Next() {
		m := &domain.GroupMessage{}
		var ts int64
		if err := rows.Scan(&m.MessageID, &m.GroupID, &m.Author, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Timestamp = time.UnixMilli(ts).UTC()
		res = append(res, m)
	}
	return res, rows.Err()
}

// HistoryBetween returns the full conversation for the unordered pair
// {userA, userB}. Both directions are read in one query; the database
// orders the merged set so no post-sort is needed.
func (r *MessageRepo) HistoryBetween(ctx context.Context, userA, userB string) ([]*domain.DirectMessage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT message_id, sender, receiver, content, timestamp
		FROM direct_messages
		WHERE (sender = ? AND receiver = ?) OR (sender = ? AND receiver = ?)
		ORDER BY timestamp ASC, id ASC
	`, userA, userB, userB, userA)
	if err != nil {
		return nil, fmt.Errorf("dm history: %w", err)
	}
	defer rows.Close()

	var res []*domain.DirectMessage
	for rows.Next() {
		m := &domain.DirectMessage{}
		var ts int64
		if err := rows.Scan(&m.MessageID, &m.Sender, &m.Receiver, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("scan direct message: %w", err)
		}
		m.Timestamp = time.UnixMilli(ts).UTC()
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r *MessageRepo) Partners(ctx context.Context, username string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT receiver AS partner FROM direct_messages WHERE sender = ?
		UNION
		SELECT DISTINCT sender AS partner FROM direct_messages WHERE receiver = ?
		ORDER BY partner ASC
	`, username, username)
	if err != nil {
		return nil, fmt.Errorf("dm partners: %w", err)
	}
	defer rows.Close()

	var partners []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan partner: %w", err)
		}
		partners = append(partners, p)
	}
	return partners, rows.Err()
}

func (r *MessageRepo) DeletePairConversation(ctx context.Context, userA, userB string) error {
	if _, err := r.db.ExecContext(ctx, `
		DELETE FROM direct_messages
		WHERE (sender = ? AND receiver = ?) OR (sender = ? AND receiver = ?)
	`, userA, userB, userB, userA); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}
