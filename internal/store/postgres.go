package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

func initPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			message_id BIGINT NOT NULL DEFAULT 0,
			chat_id BIGINT NOT NULL,
			user_id BIGINT NOT NULL DEFAULT 0,
			username TEXT NOT NULL DEFAULT '',
			full_name TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL DEFAULT '',
			ts TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat_ts ON messages (chat_id, ts DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat_user ON messages (chat_id, user_id);`,
		`CREATE TABLE IF NOT EXISTS chat_memory (
			chat_id BIGINT PRIMARY KEY,
			memory TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS chat_info (
			chat_id BIGINT PRIMARY KEY,
			added_on TIMESTAMPTZ NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init postgres schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}

func (s *Postgres) InsertMessage(ctx context.Context, msg Message) error {
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (message_id, chat_id, user_id, username, full_name, text, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, msg.MessageID, msg.ChatID, msg.UserID, msg.Username, msg.FullName, msg.Text, ts.UTC())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *Postgres) QueryMessages(ctx context.Context, chatID int64, q Query) ([]Message, error) {
	query, args := buildMessageQuery(postgresDialect, chatID, q)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	result := make([]Message, 0)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.MessageID, &m.ChatID, &m.UserID, &m.Username, &m.FullName, &m.Text, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Timestamp = m.Timestamp.UTC()
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return result, nil
}

func (s *Postgres) GetMemory(ctx context.Context, chatID int64) (string, error) {
	var memory string
	err := s.pool.QueryRow(ctx, `SELECT memory FROM chat_memory WHERE chat_id = $1`, chatID).Scan(&memory)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get memory: %w", err)
	}
	return memory, nil
}

func (s *Postgres) SetMemory(ctx context.Context, chatID int64, text string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chat_memory (chat_id, memory, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (chat_id) DO UPDATE SET memory = EXCLUDED.memory, updated_at = EXCLUDED.updated_at
	`, chatID, text)
	if err != nil {
		return fmt.Errorf("set memory: %w", err)
	}
	return nil
}

// UpdateMemory creates the row if needed and holds its lock for the duration of
// the read-modify-write.
func (s *Postgres) UpdateMemory(ctx context.Context, chatID int64, fn func(current string) string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin memory tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `INSERT INTO chat_memory (chat_id) VALUES ($1) ON CONFLICT (chat_id) DO NOTHING`, chatID); err != nil {
		return fmt.Errorf("ensure memory row: %w", err)
	}
	var current string
	if err := tx.QueryRow(ctx, `SELECT memory FROM chat_memory WHERE chat_id = $1 FOR UPDATE`, chatID).Scan(&current); err != nil {
		return fmt.Errorf("lock memory: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE chat_memory SET memory = $2, updated_at = now() WHERE chat_id = $1`, chatID, fn(current)); err != nil {
		return fmt.Errorf("update memory: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit memory tx: %w", err)
	}
	return nil
}

func (s *Postgres) MarkAdded(ctx context.Context, chatID int64, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chat_info (chat_id, added_on) VALUES ($1, $2)
		ON CONFLICT (chat_id) DO UPDATE SET added_on = EXCLUDED.added_on
	`, chatID, at.UTC())
	if err != nil {
		return fmt.Errorf("mark chat added: %w", err)
	}
	return nil
}

func (s *Postgres) ChatInfo(ctx context.Context, chatID int64) (ChatInfo, error) {
	info := ChatInfo{ChatID: chatID}
	err := s.pool.QueryRow(ctx, `SELECT added_on FROM chat_info WHERE chat_id = $1`, chatID).Scan(&info.AddedOn)
	if errors.Is(err, pgx.ErrNoRows) {
		return ChatInfo{}, ErrNotFound
	}
	if err != nil {
		return ChatInfo{}, fmt.Errorf("get chat info: %w", err)
	}
	info.AddedOn = info.AddedOn.UTC()
	return info, nil
}

func (s *Postgres) Chats(ctx context.Context) ([]ChatInfo, error) {
	rows, err := s.pool.Query(ctx, `SELECT chat_id, added_on FROM chat_info ORDER BY added_on ASC`)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	result := make([]ChatInfo, 0)
	for rows.Next() {
		var info ChatInfo
		if err := rows.Scan(&info.ChatID, &info.AddedOn); err != nil {
			return nil, fmt.Errorf("scan chat info: %w", err)
		}
		info.AddedOn = info.AddedOn.UTC()
		result = append(result, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chats: %w", err)
	}
	return result, nil
}

func (s *Postgres) CountMessages(ctx context.Context, chatID int64) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE chat_id = $1`, chatID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

func (s *Postgres) UserActivity(ctx context.Context, chatID int64) ([]UserActivity, error) {
	rows, err := s.pool.Query(ctx, userActivitySQL("$1"), chatID)
	if err != nil {
		return nil, fmt.Errorf("user activity: %w", err)
	}
	defer rows.Close()
	return scanUserActivity(rows)
}
