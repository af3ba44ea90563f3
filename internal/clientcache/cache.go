// Package clientcache is the durable local mirror of conversation
// history. It is keyed by message identity, so the optimistic local
// copy, the live server echo, and a later history replay of the same
// message all collapse into a single stored record.
package clientcache

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"securechat/internal/domain"
)

// Namespace partitions the cache the same way the server partitions
// storage. A message belongs to exactly one namespace for its life.
type Namespace string

const (
	NamespaceGroup Namespace = "group_messages"
	NamespacePair  Namespace = "direct_messages"
)

// Cache is a single-writer local store. One logical client owns one
// cache instance; there is no concurrent-write conflict to resolve.
type Cache struct {
	db *sql.DB
}

// Open opens (and if needed creates) the cache at the given path.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping cache: %w", err)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS group_messages (
			message_id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL,
			username TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS direct_messages (
			message_id TEXT PRIMARY KEY,
			pair_key TEXT NOT NULL,
			sender TEXT NOT NULL,
			receiver TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_cache_room ON group_messages(room_id);`,
		`CREATE INDEX IF NOT EXISTS idx_cache_pair ON direct_messages(pair_key);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init cache schema: %w", err)
		}
	}

	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// pairKey identifies the unordered conversation pair.
func pairKey(userA, userB string) string {
	if userA > userB {
		userA, userB = userB, userA
	}
	return userA + "\x00" + userB
}

// UpsertGroup stores the message unless its identity is already
// present; the first-seen copy wins, duplicates are absorbed.
func (c *Cache) UpsertGroup(ctx context.Context, m *domain.GroupMessage) error {
	if _, err := c.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO group_messages (message_id, room_id, username, content, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, m.MessageID, m.GroupID, m.Author, m.Content, m.Timestamp.UTC().UnixMilli()); err != nil {
		return fmt.Errorf("cache group message: %w", err)
	}
	return nil
}

func (c *Cache) UpsertDirect(ctx context.Context, m *domain.DirectMessage) error {
	if _, err := c.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO direct_messages (message_id, pair_key, sender, receiver, content, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.MessageID, pairKey(m.Sender, m.Receiver), m.Sender, m.Receiver, m.Content, m.Timestamp.UTC().UnixMilli()); err != nil {
		return fmt.Errorf("cache direct message: %w", err)
	}
	return nil
}

// QueryGroup returns the cached history of the group in ascending
// timestamp order. Optimistic inserts, live pushes, and bulk history
// replies interleave on the way in; the sort happens here.
func (c *Cache) QueryGroup(ctx context.Context, groupID string) ([]*domain.GroupMessage, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT message_id, room_id, username, content, timestamp
		FROM group_messages
		WHERE room_id = ?
		ORDER BY timestamp ASC, rowid ASC
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query group cache: %w", err)
	}
	defer rows.Close()

	var res []*domain.GroupMessage
	for rows.Next() {
		m := &domain.GroupMessage{}
		var ts int64
		if err := rows.Scan(&m.MessageID, &m.GroupID, &m.Author, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("scan cached message: %w", err)
		}
		m.Timestamp = time.UnixMilli(ts).UTC()
		res = append(res, m)
	}
	return res, rows.Err()
}

// QueryPair returns the cached conversation for the unordered pair,
// ascending. Argument order is irrelevant.
func (c *Cache) QueryPair(ctx context.Context, userA, userB string) ([]*domain.DirectMessage, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT message_id, sender, receiver, content, timestamp
		FROM direct_messages
		WHERE pair_key = ?
		ORDER BY timestamp ASC, rowid ASC
	`, pairKey(userA, userB))
	if err != nil {
		return nil, fmt.Errorf("query pair cache: %w", err)
	}
	defer rows.Close()

	var res []*domain.DirectMessage
	for rows.Next() {
		m := &domain.DirectMessage{}
		var ts int64
		if err := rows.Scan(&m.MessageID, &m.Sender, &m.Receiver, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("scan cached message: %w", err)
		}
		m.Timestamp = time.UnixMilli(ts).UTC()
		res = append(res, m)
	}
	return res, rows.Err()
}

// ClearPair removes the cached conversation for one pair, mirroring a
// server-side conversation deletion.
func (c *Cache) ClearPair(ctx context.Context, userA, userB string) error {
	if _, err := c.db.ExecContext(ctx, `
		DELETE FROM direct_messages WHERE pair_key = ?
	`, pairKey(userA, userB)); err != nil {
		return fmt.Errorf("clear pair cache: %w", err)
	}
	return nil
}

// ClearNamespace empties one side of the cache.
func (c *Cache) ClearNamespace(ctx context.Context, ns Namespace) error {
	switch ns {
	case NamespaceGroup, NamespacePair:
	default:
		return fmt.Errorf("unknown namespace %q", ns)
	}
	if _, err := c.db.ExecContext(ctx, `DELETE FROM `+string(ns)); err != nil {
		return fmt.Errorf("clear namespace %s: %w", ns, err)
	}
	return nil
}

// ClearAll wipes the cache. Called on logout or credential change so
// no conversation data leaks across sessions.
func (c *Cache) ClearAll(ctx context.Context) error {
	var errs []string
	for _, ns := range []Namespace{NamespaceGroup, NamespacePair} {
		if err := c.ClearNamespace(ctx, ns); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("clear cache: %s", strings.Join(errs, "; "))
	}
	return nil
}
