package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"modernc.org/sqlite"
)

// unicodeLower replaces SQLite's lower(), which only folds ASCII.
const unicodeLower = "unicode_lower"

func init() {
	sqlite.MustRegisterDeterministicScalarFunction(unicodeLower, 1, func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
		switch v := args[0].(type) {
		case string:
			return strings.ToLower(v), nil
		case []byte:
			return strings.ToLower(string(v)), nil
		default:
			return v, nil
		}
	})
}

// SQLite is the default single-file backend.
type SQLite struct {
	db *sql.DB
	mu sync.Mutex
}

func NewSQLite(dbPath string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id INTEGER NOT NULL DEFAULT 0,
			chat_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL DEFAULT 0,
			username TEXT NOT NULL DEFAULT '',
			full_name TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL DEFAULT '',
			ts INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat_ts ON messages(chat_id, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat_user ON messages(chat_id, user_id)`,
		`CREATE TABLE IF NOT EXISTS chat_memory (
			chat_id INTEGER PRIMARY KEY,
			memory TEXT NOT NULL DEFAULT '',
			updated_at INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS chat_info (
			chat_id INTEGER PRIMARY KEY,
			added_on INTEGER NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLite) InsertMessage(ctx context.Context, msg Message) error {
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (message_id, chat_id, user_id, username, full_name, text, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, msg.MessageID, msg.ChatID, msg.UserID, msg.Username, msg.FullName, msg.Text, ts.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *SQLite) QueryMessages(ctx context.Context, chatID int64, q Query) ([]Message, error) {
	query, args := buildMessageQuery(sqliteDialect, chatID, q)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	result := make([]Message, 0)
	for rows.Next() {
		var (
			m  Message
			ts int64
		)
		if err := rows.Scan(&m.MessageID, &m.ChatID, &m.UserID, &m.Username, &m.FullName, &m.Text, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Timestamp = time.Unix(0, ts).UTC()
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return result, nil
}

func (s *SQLite) GetMemory(ctx context.Context, chatID int64) (string, error) {
	return getMemory(ctx, s.db, chatID)
}

func (s *SQLite) SetMemory(ctx context.Context, chatID int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setMemory(ctx, s.db, chatID, text)
}

// UpdateMemory serializes writers in-process and runs the read-modify-write in
// one transaction.
func (s *SQLite) UpdateMemory(ctx context.Context, chatID int64, fn func(current string) string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin memory tx: %w", err)
	}
	defer tx.Rollback()

	current, err := getMemory(ctx, tx, chatID)
	if err != nil {
		return err
	}
	if err := setMemory(ctx, tx, chatID, fn(current)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit memory tx: %w", err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func getMemory(ctx context.Context, q queryer, chatID int64) (string, error) {
	var memory string
	err := q.QueryRowContext(ctx, `SELECT memory FROM chat_memory WHERE chat_id = ?`, chatID).Scan(&memory)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get memory: %w", err)
	}
	return memory, nil
}

func setMemory(ctx context.Context, q queryer, chatID int64, text string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO chat_memory (chat_id, memory, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET memory = excluded.memory, updated_at = excluded.updated_at
	`, chatID, text, time.Now().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("set memory: %w", err)
	}
	return nil
}

func (s *SQLite) MarkAdded(ctx context.Context, chatID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_info (chat_id, added_on) VALUES (?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET added_on = excluded.added_on
	`, chatID, at.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("mark chat added: %w", err)
	}
	return nil
}

func (s *SQLite) ChatInfo(ctx context.Context, chatID int64) (ChatInfo, error) {
	var addedOn int64
	err := s.db.QueryRowContext(ctx, `SELECT added_on FROM chat_info WHERE chat_id = ?`, chatID).Scan(&addedOn)
	if errors.Is(err, sql.ErrNoRows) {
		return ChatInfo{}, ErrNotFound
	}
	if err != nil {
		return ChatInfo{}, fmt.Errorf("get chat info: %w", err)
	}
	return ChatInfo{ChatID: chatID, AddedOn: time.Unix(0, addedOn).UTC()}, nil
}

func (s *SQLite) Chats(ctx context.Context) ([]ChatInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chat_id, added_on FROM chat_info ORDER BY added_on ASC`)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	result := make([]ChatInfo, 0)
	for rows.Next() {
		var (
			info    ChatInfo
			addedOn int64
		)
		if err := rows.Scan(&info.ChatID, &addedOn); err != nil {
			return nil, fmt.Errorf("scan chat info: %w", err)
		}
		info.AddedOn = time.Unix(0, addedOn).UTC()
		result = append(result, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chats: %w", err)
	}
	return result, nil
}

func (s *SQLite) CountMessages(ctx context.Context, chatID int64) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE chat_id = ?`, chatID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

func (s *SQLite) UserActivity(ctx context.Context, chatID int64) ([]UserActivity, error) {
	rows, err := s.db.QueryContext(ctx, userActivitySQL("?"), chatID)
	if err != nil {
		return nil, fmt.Errorf("user activity: %w", err)
	}
	defer rows.Close()
	return scanUserActivity(rows)
}

// userActivitySQL groups one chat's messages by user, busiest first.
func userActivitySQL(ph string) string {
	return `SELECT user_id, MAX(username), MAX(full_name), COUNT(*) AS n
		FROM messages
		WHERE chat_id = ` + ph + `
		GROUP BY user_id
		ORDER BY n DESC, user_id ASC`
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanUserActivity(rows rowScanner) ([]UserActivity, error) {
	result := make([]UserActivity, 0)
	for rows.Next() {
		var u UserActivity
		if err := rows.Scan(&u.UserID, &u.Username, &u.FullName, &u.Count); err != nil {
			return nil, fmt.Errorf("scan user activity: %w", err)
		}
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user activity: %w", err)
	}
	return result, nil
}
