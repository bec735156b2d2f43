package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/stellarlinkco/chatkeeper/internal/store"
)

// DefaultMaxWords is the rolling memory cap per chat.
const DefaultMaxWords = 50

// ChatMemory is a per-chat rolling text buffer capped at a fixed word count.
// The oldest words are dropped first.
type ChatMemory struct {
	store    store.MemoryStore
	maxWords int
}

func NewChatMemory(s store.MemoryStore, maxWords int) *ChatMemory {
	if maxWords <= 0 {
		maxWords = DefaultMaxWords
	}
	return &ChatMemory{store: s, maxWords: maxWords}
}

// Get returns the chat's memory, or "" if nothing was remembered yet.
func (m *ChatMemory) Get(ctx context.Context, chatID int64) (string, error) {
	text, err := m.store.GetMemory(ctx, chatID)
	if err != nil {
		return "", fmt.Errorf("chat memory %d: %w", chatID, err)
	}
	return text, nil
}

// Append adds newText after the current memory and keeps the last maxWords
// whitespace-separated words.
func (m *ChatMemory) Append(ctx context.Context, chatID int64, newText string) error {
	if u, ok := m.store.(store.MemoryUpdater); ok {
		err := u.UpdateMemory(ctx, chatID, func(current string) string {
			return Trim(current+" "+newText, m.maxWords)
		})
		if err != nil {
			return fmt.Errorf("append chat memory %d: %w", chatID, err)
		}
		return nil
	}

	current, err := m.store.GetMemory(ctx, chatID)
	if err != nil {
		return fmt.Errorf("append chat memory %d: %w", chatID, err)
	}
	if err := m.store.SetMemory(ctx, chatID, Trim(current+" "+newText, m.maxWords)); err != nil {
		return fmt.Errorf("append chat memory %d: %w", chatID, err)
	}
	return nil
}

// Trim keeps the last n whitespace-separated words of text joined by single spaces.
func Trim(text string, n int) string {
	words := strings.Fields(text)
	if len(words) > n {
		words = words[len(words)-n:]
	}
	return strings.Join(words, " ")
}
