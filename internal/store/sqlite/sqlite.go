// Package sqlite implements store.Store on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mikeiscool1/vitchat.xyz/internal/snowflake"
	"github.com/mikeiscool1/vitchat.xyz/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id               INTEGER PRIMARY KEY,
	username         TEXT NOT NULL,
	password_hash    TEXT NOT NULL,
	admin            BOOLEAN NOT NULL DEFAULT 0,
	state            TEXT NOT NULL DEFAULT 'waitlist',
	suspended_until  DATETIME,
	suspended_reason TEXT,
	created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username ON users(username COLLATE NOCASE);

CREATE TABLE IF NOT EXISTS messages (
	id        INTEGER PRIMARY KEY,
	author_id INTEGER NOT NULL,
	content   TEXT NOT NULL,
	FOREIGN KEY (author_id) REFERENCES users(id)
);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and applies the schema.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// NewWithSetup opens the database and runs a setup function before the
// schema check. Useful for tests seeding fixture rows.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	st, err := New(dbPath)
	if err != nil {
		return nil, err
	}
	if setup != nil {
		if err := setup(st.db); err != nil {
			st.db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}
	return st, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for fixtures and one-off maintenance,
// like promoting the first admin.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// ==== UserStore implementation ====

const userColumns = "id, username, password_hash, admin, state, suspended_until, suspended_reason, created_at"

func scanUser(row interface{ Scan(...any) error }) (*store.User, error) {
	var (
		u     store.User
		id    int64
		until sql.NullTime
		why   sql.NullString
	)
	if err := row.Scan(&id, &u.Username, &u.PasswordHash, &u.Admin, &u.State, &until, &why, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	u.ID = snowflake.ID(id)
	if until.Valid {
		t := until.Time
		u.SuspendedUntil = &t
	}
	if why.Valid {
		r := why.String
		u.SuspendedReason = &r
	}
	return &u, nil
}

// CreateUser inserts a new account.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *store.User) error {
	query := `
		INSERT INTO users (id, username, password_hash, admin, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	if user.State == "" {
		user.State = store.UserStateWaitlist
	}
	_, err := s.db.ExecContext(ctx, query,
		int64(user.ID), user.Username, user.PasswordHash, user.Admin, user.State, user.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id snowflake.ID) (*store.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	user, err := scanUser(s.db.QueryRowContext(ctx, query, int64(id)))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("select user by id: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username, case-insensitively.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = ? COLLATE NOCASE`
	user, err := scanUser(s.db.QueryRowContext(ctx, query, username))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("select user by username: %w", err)
	}
	return user, nil
}

// ListUsers returns accounts ordered by username.
func (s *SQLiteStore) ListUsers(ctx context.Context, includeWaitlist bool) ([]*store.User, error) {
	query := `SELECT ` + userColumns + ` FROM users`
	if !includeWaitlist {
		query += ` WHERE state != 'waitlist'`
	}
	query += ` ORDER BY username COLLATE NOCASE ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("select users: %w", err)
	}
	defer rows.Close()

	var users []*store.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// UpdateUsername changes a user's name.
func (s *SQLiteStore) UpdateUsername(ctx context.Context, id snowflake.ID, username string) error {
	return s.updateOne(ctx, `UPDATE users SET username = ? WHERE id = ?`, username, int64(id))
}

// UpdatePasswordHash replaces a user's password hash.
func (s *SQLiteStore) UpdatePasswordHash(ctx context.Context, id snowflake.ID, hash string) error {
	return s.updateOne(ctx, `UPDATE users SET password_hash = ? WHERE id = ?`, hash, int64(id))
}

// SetUserState moves an account between states.
func (s *SQLiteStore) SetUserState(ctx context.Context, id snowflake.ID, state store.UserState, until *time.Time, reason *string) error {
	query := `UPDATE users SET state = ?, suspended_until = ?, suspended_reason = ? WHERE id = ?`
	var (
		nullUntil  sql.NullTime
		nullReason sql.NullString
	)
	if until != nil {
		nullUntil = sql.NullTime{Time: *until, Valid: true}
	}
	if reason != nil {
		nullReason = sql.NullString{String: *reason, Valid: true}
	}
	return s.updateOne(ctx, query, state, nullUntil, nullReason, int64(id))
}

// ==== MessageStore implementation ====

// SaveMessage inserts a message with its pre-generated snowflake ID.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	query := `INSERT INTO messages (id, author_id, content) VALUES (?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, int64(msg.ID), int64(msg.AuthorID), msg.Content); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id snowflake.ID) (*store.Message, error) {
	query := `SELECT id, author_id, content FROM messages WHERE id = ?`

	var (
		msg      store.Message
		msgID    int64
		authorID int64
	)
	err := s.db.QueryRowContext(ctx, query, int64(id)).Scan(&msgID, &authorID, &msg.Content)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("select message: %w", err)
	}
	msg.ID = snowflake.ID(msgID)
	msg.AuthorID = snowflake.ID(authorID)
	return &msg, nil
}

// UpdateMessage replaces a message's content.
func (s *SQLiteStore) UpdateMessage(ctx context.Context, id snowflake.ID, content string) error {
	return s.updateOne(ctx, `UPDATE messages SET content = ? WHERE id = ?`, content, int64(id))
}

// DeleteMessage removes a message.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id snowflake.ID) error {
	return s.updateOne(ctx, `DELETE FROM messages WHERE id = ?`, int64(id))
}

// ListMessages returns up to limit messages in (after, before), ascending.
// The inner query selects the newest candidates, the outer pass restores
// chronological order.
func (s *SQLiteStore) ListMessages(ctx context.Context, after, before snowflake.ID, limit int) ([]*store.Message, error) {
	query := `
		SELECT id, author_id, content FROM (
			SELECT id, author_id, content
			FROM messages
			WHERE id > ? AND id < ?
			ORDER BY id DESC
			LIMIT ?
		)
		ORDER BY id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, int64(after), int64(before), limit)
	if err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		var (
			msg      store.Message
			msgID    int64
			authorID int64
		)
		if err := rows.Scan(&msgID, &authorID, &msg.Content); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.ID = snowflake.ID(msgID)
		msg.AuthorID = snowflake.ID(authorID)
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

func (s *SQLiteStore) updateOne(ctx context.Context, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("exec: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}
