package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"securechat/internal/domain"
)

type GroupRepo struct {
	db *sql.DB
}

func NewGroupRepo(db *sql.DB) *GroupRepo {
	return &GroupRepo{db: db}
}

var _ domain.GroupRepository = (*GroupRepo)(nil)

func (r *GroupRepo) CreateWithMembers(ctx context.Context, g *domain.Group, members []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO groups (id, name, description, open_membership)
		VALUES (?, ?, ?, ?)
	`, g.ID, g.Name, g.Description, g.OpenMembership); err != nil {
		return fmt.Errorf("insert group: %w", err)
	}

	seen := make(map[string]struct{}, len(members))
	for _, username := range members {
		if _, ok := seen[username]; ok {
			continue
		}
		seen[username] = struct{}{}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO group_members (group_id, username)
			VALUES (?, ?)
		`, g.ID, username); err != nil {
			return fmt.Errorf("insert member: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *GroupRepo) GetByID(ctx context.Context, id string) (*domain.Group, error) {
	g := &domain.Group{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, description, open_membership FROM groups WHERE id = ?
	`, id).Scan(&g.ID, &g.Name, &g.Description, &g.OpenMembership)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get group: %w", err)
	}
	return g, nil
}

func (r *GroupRepo) List(ctx context.Context) ([]*domain.Group, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, description, open_membership
		FROM groups
		ORDER BY open_membership DESC, name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()
	return scanGroups(rows)
}

func (r *GroupRepo) GroupsFor(ctx context.Context, username string) ([]*domain.Group, error) {
	// Explicit memberships plus every open-membership group, deduplicated.
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT g.id, g.name, g.description, g.open_membership
		FROM groups g
		LEFT JOIN group_members gm ON gm.group_id = g.id AND gm.username = ?
		WHERE g.open_membership = 1 OR gm.username IS NOT NULL
		ORDER BY g.open_membership DESC, g.name ASC
	`, username)
	if err != nil {
		return nil, fmt.Errorf("groups for user: %w", err)
	}
	defer rows.Close()
	return scanGroups(rows)
}

func (r *GroupRepo) IsMember(ctx context.Context, groupID, username string) (bool, error) {
	var open bool
	err := r.db.QueryRowContext(ctx, `
		SELECT open_membership FROM groups WHERE id = ?
	`, groupID).Scan(&open)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get group: %w", err)
	}
	if open {
		return true, nil
	}

	var exists int
	err = r.db.QueryRowContext(ctx, `
		SELECT 1 FROM group_members WHERE group_id = ? AND username = ?
	`, groupID, username).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("is member: %w", err)
	}
	return true, nil
}

func (r *GroupRepo) AddMember(ctx context.Context, groupID, username string) error {
	if _, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO group_members (group_id, username)
		VALUES (?, ?)
	`, groupID, username); err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

func (r *GroupRepo) Members(ctx context.Context, groupID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT username FROM group_members WHERE group_id = ? ORDER BY username ASC
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, u)
	}
	return members, rows.Err()
}

func (r *GroupRepo) MarkRead(ctx context.Context, groupID, username string, at time.Time) error {
	// The watermark is monotone: an older timestamp never wins.
	if _, err := r.db.ExecContext(ctx, `
		UPDATE group_members
		SET last_read_at = ?
		WHERE group_id = ? AND username = ?
		AND (last_read_at IS NULL OR last_read_at < ?)
	`, at.UTC().UnixMilli(), groupID, username, at.UTC().UnixMilli()); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

func (r *GroupRepo) UnreadCount(ctx context.Context, groupID, username string) (int, error) {
	var lastRead sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT last_read_at FROM group_members WHERE group_id = ? AND username = ?
	`, groupID, username).Scan(&lastRead)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("get watermark: %w", err)
	}
	// A missing row or null watermark means everything is unread.

	query := `SELECT COUNT(*) FROM messages WHERE room_id = ?`
	args := []any{groupID}
	if lastRead.Valid {
		query += ` AND timestamp > ?`
		args = append(args, lastRead.Int64)
	}

	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

func (r *GroupRepo) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var open bool
	err = tx.QueryRowContext(ctx, `SELECT open_membership FROM groups WHERE id = ?`, id).Scan(&open)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get group: %w", err)
	}
	if open {
		return domain.ErrForbidden
	}

	for _, stmt := range []string{
		`DELETE FROM messages WHERE room_id = ?`,
		`DELETE FROM group_members WHERE group_id = ?`,
		`DELETE FROM groups WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("delete group: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func scanGroups(rows *sql.Rows) ([]*domain.Group, error) {
	var res []*domain.Group
	for rows.Next() {
		g := &domain.Group{}
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.OpenMembership); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		res = append(res, g)
	}
	return res, rows.Err()
}
