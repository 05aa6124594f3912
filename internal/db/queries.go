package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so the same query methods
// run standalone or inside a transaction opened by RunInTx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries is the hand-written data access layer over the courtqueue schema.
type Queries struct {
	db DBTX
}

func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

// --- users ---

// UpsertUser inserts a user keyed by email, refreshing the display name on
// conflict, and returns the stored row.
func (q *Queries) UpsertUser(ctx context.Context, name, email string) (User, error) {
	row := q.db.QueryRowContext(ctx, `
		INSERT INTO users (name, email)
		VALUES (?, ?)
		ON CONFLICT (email) DO UPDATE SET name = excluded.name
		RETURNING id, name, email, avatar, created_at`,
		name, email,
	)
	return scanUser(row)
}

func (q *Queries) GetUser(ctx context.Context, id int64) (User, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, name, email, avatar, created_at
		FROM users WHERE id = ?`, id,
	)
	return scanUser(row)
}

func scanUser(row *sql.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Avatar, &u.CreatedAt)
	return u, err
}

// --- courts ---

func (q *Queries) ListCourts(ctx context.Context) ([]Court, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, name, is_active, created_at
		FROM courts WHERE is_active = 1 ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var courts []Court
	for rows.Next() {
		var c Court
		if err := rows.Scan(&c.ID, &c.Name, &c.IsActive, &c.CreatedAt); err != nil {
			return nil, err
		}
		courts = append(courts, c)
	}
	return courts, rows.Err()
}

func (q *Queries) GetCourt(ctx context.Context, id int64) (Court, error) {
	var c Court
	err := q.db.QueryRowContext(ctx, `
		SELECT id, name, is_active, created_at
		FROM courts WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.IsActive, &c.CreatedAt)
	return c, err
}

// SeedCourt inserts a court with a fixed id if it does not exist yet.
func (q *Queries) SeedCourt(ctx context.Context, id int64, name string) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO courts (id, name) VALUES (?, ?)`,
		id, name,
	)
	return err
}

// --- court sessions ---

const sessionColumns = `id, court_id, user_id, user_name, started_at, expires_at, status`

// GetActiveSession returns the court's active session regardless of whether
// its deadline has passed. Callers compare expires_at against the clock.
func (q *Queries) GetActiveSession(ctx context.Context, courtID int64) (Session, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM court_sessions
		WHERE court_id = ? AND status = 'active'
		ORDER BY id DESC LIMIT 1`,
		courtID,
	)
	return scanSession(row)
}

// GetActiveSessionForUsers returns any active session occupied by one of the
// given users, across all courts.
func (q *Queries) GetActiveSessionForUsers(ctx context.Context, userIDs []int64) (Session, error) {
	if len(userIDs) == 0 {
		return Session{}, sql.ErrNoRows
	}
	query := fmt.Sprintf(`
		SELECT `+sessionColumns+`
		FROM court_sessions
		WHERE status = 'active' AND user_id IN (%s)
		LIMIT 1`, placeholders(len(userIDs)))
	row := q.db.QueryRowContext(ctx, query, int64Args(userIDs)...)
	return scanSession(row)
}

func (q *Queries) CreateSession(ctx context.Context, courtID, userID int64, userName string, startedAt, expiresAt time.Time) (Session, error) {
	row := q.db.QueryRowContext(ctx, `
		INSERT INTO court_sessions (court_id, user_id, user_name, started_at, expires_at, status)
		VALUES (?, ?, ?, ?, ?, 'active')
		RETURNING `+sessionColumns,
		courtID, userID, userName, startedAt, expiresAt,
	)
	return scanSession(row)
}

// CompleteSession flips an active session to completed and reports whether
// this caller won the transition. A zero count means a concurrent caller
// already completed the session.
func (q *Queries) CompleteSession(ctx context.Context, id int64) (int64, error) {
	result, err := q.db.ExecContext(ctx, `
		UPDATE court_sessions SET status = 'completed'
		WHERE id = ? AND status = 'active'`,
		id,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ListExpiredSessions returns active sessions whose deadline has passed.
func (q *Queries) ListExpiredSessions(ctx context.Context, now time.Time) ([]Session, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM court_sessions
		WHERE status = 'active' AND expires_at <= ?
		ORDER BY expires_at`,
		now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

func scanSession(row *sql.Row) (Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.CourtID, &s.UserID, &s.UserName, &s.StartedAt, &s.ExpiresAt, &s.Status)
	return s, err
}

func collectSessions(rows *sql.Rows) ([]Session, error) {
	var sessions []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.CourtID, &s.UserID, &s.UserName, &s.StartedAt, &s.ExpiresAt, &s.Status); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// --- queue entries ---

const queueColumns = `id, court_id, user_id, user_name, queue_position, status, created_at`

func (q *Queries) ListQueue(ctx context.Context, courtID int64) ([]QueueEntry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+queueColumns+`
		FROM reservations
		WHERE court_id = ? AND status = 'reserved'
		ORDER BY queue_position`,
		courtID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectQueueEntries(rows)
}

func (q *Queries) GetQueueEntry(ctx context.Context, id int64) (QueueEntry, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+queueColumns+`
		FROM reservations WHERE id = ?`, id,
	)
	return scanQueueEntry(row)
}

// PeekQueueHead returns the reserved entry with the lowest position.
func (q *Queries) PeekQueueHead(ctx context.Context, courtID int64) (QueueEntry, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+queueColumns+`
		FROM reservations
		WHERE court_id = ? AND status = 'reserved'
		ORDER BY queue_position LIMIT 1`,
		courtID,
	)
	return scanQueueEntry(row)
}

func (q *Queries) NextQueuePosition(ctx context.Context, courtID int64) (int64, error) {
	var next int64
	err := q.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(queue_position), 0) + 1
		FROM reservations
		WHERE court_id = ? AND status = 'reserved'`,
		courtID,
	).Scan(&next)
	return next, err
}

func (q *Queries) CreateQueueEntry(ctx context.Context, courtID, userID int64, userName string, position int64) (QueueEntry, error) {
	row := q.db.QueryRowContext(ctx, `
		INSERT INTO reservations (court_id, user_id, user_name, queue_position, status)
		VALUES (?, ?, ?, ?, 'reserved')
		RETURNING `+queueColumns,
		courtID, userID, userName, position,
	)
	return scanQueueEntry(row)
}

// DeleteQueueEntry removes an entry and reports how many rows were deleted,
// so callers can treat an already-deleted entry as a no-op.
func (q *Queries) DeleteQueueEntry(ctx context.Context, id int64) (int64, error) {
	result, err := q.db.ExecContext(ctx, `
		DELETE FROM reservations WHERE id = ?`, id,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ListQueueAfterPosition returns reserved entries behind the given position
// in ascending order, the order in which they must be renumbered to keep the
// (court_id, queue_position) uniqueness constraint satisfied row by row.
func (q *Queries) ListQueueAfterPosition(ctx context.Context, courtID, position int64) ([]QueueEntry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+queueColumns+`
		FROM reservations
		WHERE court_id = ? AND status = 'reserved' AND queue_position > ?
		ORDER BY queue_position`,
		courtID, position,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectQueueEntries(rows)
}

func (q *Queries) SetQueuePosition(ctx context.Context, id, position int64) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE reservations SET queue_position = ? WHERE id = ?`,
		position, id,
	)
	return err
}

// GetReservedEntryForUsers returns any reserved entry held by one of the
// given users, across all courts.
func (q *Queries) GetReservedEntryForUsers(ctx context.Context, userIDs []int64) (QueueEntry, error) {
	if len(userIDs) == 0 {
		return QueueEntry{}, sql.ErrNoRows
	}
	query := fmt.Sprintf(`
		SELECT `+queueColumns+`
		FROM reservations
		WHERE status = 'reserved' AND user_id IN (%s)
		LIMIT 1`, placeholders(len(userIDs)))
	row := q.db.QueryRowContext(ctx, query, int64Args(userIDs)...)
	return scanQueueEntry(row)
}

func (q *Queries) CountQueue(ctx context.Context, courtID int64) (int64, error) {
	var count int64
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM reservations
		WHERE court_id = ? AND status = 'reserved'`,
		courtID,
	).Scan(&count)
	return count, err
}

func scanQueueEntry(row *sql.Row) (QueueEntry, error) {
	var e QueueEntry
	err := row.Scan(&e.ID, &e.CourtID, &e.UserID, &e.UserName, &e.Position, &e.Status, &e.CreatedAt)
	return e, err
}

func collectQueueEntries(rows *sql.Rows) ([]QueueEntry, error) {
	var entries []QueueEntry
	for rows.Next() {
		var e QueueEntry
		if err := rows.Scan(&e.ID, &e.CourtID, &e.UserID, &e.UserName, &e.Position, &e.Status, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- groups ---

func (q *Queries) CreateGroup(ctx context.Context, joinCode string) (Group, error) {
	row := q.db.QueryRowContext(ctx, `
		INSERT INTO groups (join_code) VALUES (?)
		RETURNING id, join_code, created_at`,
		joinCode,
	)
	return scanGroup(row)
}

func (q *Queries) GetGroupByCode(ctx context.Context, joinCode string) (Group, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, join_code, created_at
		FROM groups WHERE join_code = ?`, joinCode,
	)
	return scanGroup(row)
}

// GetGroupForUser returns the group the user belongs to, if any.
func (q *Queries) GetGroupForUser(ctx context.Context, userID int64) (Group, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT g.id, g.join_code, g.created_at
		FROM groups g
		JOIN group_members gm ON gm.group_id = g.id
		WHERE gm.user_id = ?`,
		userID,
	)
	return scanGroup(row)
}

func (q *Queries) DeleteGroup(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM groups WHERE id = ?`, id)
	return err
}

func (q *Queries) AddGroupMember(ctx context.Context, groupID, userID int64) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO group_members (group_id, user_id) VALUES (?, ?)`,
		groupID, userID,
	)
	return err
}

func (q *Queries) RemoveGroupMember(ctx context.Context, groupID, userID int64) (int64, error) {
	result, err := q.db.ExecContext(ctx, `
		DELETE FROM group_members WHERE group_id = ? AND user_id = ?`,
		groupID, userID,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (q *Queries) CountGroupMembers(ctx context.Context, groupID int64) (int64, error) {
	var count int64
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM group_members WHERE group_id = ?`,
		groupID,
	).Scan(&count)
	return count, err
}

func (q *Queries) ListGroupMemberIDs(ctx context.Context, groupID int64) ([]int64, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT user_id FROM group_members WHERE group_id = ? ORDER BY joined_at`,
		groupID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (q *Queries) ListGroupMembers(ctx context.Context, groupID int64) ([]GroupMemberDetail, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT u.id, u.name, u.email, u.avatar, gm.joined_at
		FROM group_members gm
		JOIN users u ON u.id = gm.user_id
		WHERE gm.group_id = ?
		ORDER BY gm.joined_at`,
		groupID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []GroupMemberDetail
	for rows.Next() {
		var m GroupMemberDetail
		if err := rows.Scan(&m.UserID, &m.Name, &m.Email, &m.Avatar, &m.JoinedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func scanGroup(row *sql.Row) (Group, error) {
	var g Group
	err := row.Scan(&g.ID, &g.JoinCode, &g.CreatedAt)
	return g, err
}

// --- helpers ---

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
