package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// MaxWindow caps the number of records any message query returns.
const MaxWindow = 100

var ErrNotFound = errors.New("store: not found")

// Message is one logged chat message. Records are append-only.
type Message struct {
	MessageID int
	ChatID    int64
	UserID    int64
	Username  string
	FullName  string
	Text      string
	Timestamp time.Time
}

type Order int

const (
	OldestFirst Order = iota
	NewestFirst
)

// Query filters the messages of one chat. The chat itself is never part of the
// filter; every store method takes it as a separate argument.
type Query struct {
	Since time.Time // inclusive, zero means unbounded
	Until time.Time // exclusive, zero means unbounded

	// Username matches records written by that username or mentioning @Username.
	Username string
	// Name matches full name or text, case-insensitive substring.
	Name string

	Order Order
	Limit int
}

// EffectiveLimit clamps Limit to [1, MaxWindow]. Zero means MaxWindow.
func (q Query) EffectiveLimit() int {
	if q.Limit <= 0 || q.Limit > MaxWindow {
		return MaxWindow
	}
	return q.Limit
}

type MessageStore interface {
	InsertMessage(ctx context.Context, msg Message) error
	QueryMessages(ctx context.Context, chatID int64, q Query) ([]Message, error)
}

type MemoryStore interface {
	// GetMemory returns "" when the chat has no memory yet.
	GetMemory(ctx context.Context, chatID int64) (string, error)
	SetMemory(ctx context.Context, chatID int64, text string) error
}

// MemoryUpdater is implemented by stores that can run a read-modify-write of a
// chat's memory atomically.
type MemoryUpdater interface {
	UpdateMemory(ctx context.Context, chatID int64, fn func(current string) string) error
}

type ChatInfo struct {
	ChatID  int64
	AddedOn time.Time
}

type ChatInfoStore interface {
	MarkAdded(ctx context.Context, chatID int64, at time.Time) error
	// ChatInfo returns ErrNotFound for unknown chats.
	ChatInfo(ctx context.Context, chatID int64) (ChatInfo, error)
	Chats(ctx context.Context) ([]ChatInfo, error)
}

type UserActivity struct {
	UserID   int64
	Username string
	FullName string
	Count    int
}

// DisplayName is @username, else the full name, else "Unknown".
func (u UserActivity) DisplayName() string {
	if u.Username != "" {
		return "@" + u.Username
	}
	if strings.TrimSpace(u.FullName) != "" {
		return u.FullName
	}
	return "Unknown"
}

type StatsStore interface {
	CountMessages(ctx context.Context, chatID int64) (int, error)
	// UserActivity is sorted by Count descending.
	UserActivity(ctx context.Context, chatID int64) ([]UserActivity, error)
}

// Store is the full persistence surface used by the bot.
type Store interface {
	MessageStore
	MemoryStore
	ChatInfoStore
	StatsStore
	Close() error
}

// escapeLike escapes the LIKE wildcards in s using backslash.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
