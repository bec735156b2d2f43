// Package assistant builds language-model prompts from a chat's rolling memory
// or from windows of its stored messages.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/stellarlinkco/chatkeeper/internal/llm"
	"github.com/stellarlinkco/chatkeeper/internal/memory"
	"github.com/stellarlinkco/chatkeeper/internal/store"
)

// Fallback replaces any answer the completion backend failed to produce.
const Fallback = "I'm sorry, but I'm currently unable to process that request."

var (
	ErrEmptyPrompt   = errors.New("empty prompt")
	ErrNotEnoughInfo = errors.New("not enough messages")
	ErrUserNotFound  = errors.New("user not found")
)

const (
	helpfulSystem  = "You are a helpful assistant."
	informalSystem = "You are an AI assistant that communicates in informal English language."

	topicQuestion   = "Question:\nIdentify the main topics discussed in the following conversation."
	summaryTemplate = "Provide a bullet point summary of the following messages from today:\n\n%s"
	profileTemplate = "Based on the following messages, summarize who %s is and what is known about them:\n\n%s"
	jokeTemplate    = "Write a humorous comment or joke about the following message:\n\n%s"
)

type Options struct {
	// Location decides where a calendar day starts for Summary. Defaults to UTC.
	Location *time.Location
	// WindowSize caps context windows; values outside [1, store.MaxWindow] mean store.MaxWindow.
	WindowSize int
}

type Assembler struct {
	memory   *memory.ChatMemory
	messages store.MessageStore
	llm      llm.Completer
	loc      *time.Location
	window   int
}

func New(mem *memory.ChatMemory, messages store.MessageStore, completer llm.Completer, opts Options) *Assembler {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	window := opts.WindowSize
	if window <= 0 || window > store.MaxWindow {
		window = store.MaxWindow
	}
	return &Assembler{
		memory:   mem,
		messages: messages,
		llm:      completer,
		loc:      loc,
		window:   window,
	}
}

// Ask answers prompt using the chat's rolling memory as context.
func (a *Assembler) Ask(ctx context.Context, chatID int64, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", ErrEmptyPrompt
	}
	mem, err := a.memory.Get(ctx, chatID)
	if err != nil {
		return "", err
	}
	answer, _ := a.complete(ctx, chatID, llm.Prompt{
		Op:          "ask",
		System:      helpfulSystem,
		Context:     "Memory: " + mem,
		Question:    "Question: " + prompt,
		MaxTokens:   150,
		Temperature: 0.7,
	})
	return answer, nil
}

// Topic lists the main topics of the chat's latest messages.
func (a *Assembler) Topic(ctx context.Context, chatID int64) (string, error) {
	msgs, err := a.messages.QueryMessages(ctx, chatID, store.Query{Order: store.NewestFirst, Limit: a.window})
	if err != nil {
		return "", fmt.Errorf("load topic window: %w", err)
	}
	reverse(msgs)
	window := joinTexts(msgs)
	if window == "" {
		return "", ErrNotEnoughInfo
	}
	answer, ok := a.complete(ctx, chatID, llm.Prompt{
		Op:          "topic",
		System:      informalSystem,
		Context:     "Context:\n" + window,
		Question:    topicQuestion,
		MaxTokens:   150,
		Temperature: 0.7,
	})
	if !ok {
		return answer, nil
	}
	return "Main topics:\n" + answer, nil
}

// Summary summarizes the messages of the calendar day containing now.
func (a *Assembler) Summary(ctx context.Context, chatID int64, now time.Time) (string, error) {
	since, until := DayBounds(now, a.loc)
	msgs, err := a.messages.QueryMessages(ctx, chatID, store.Query{
		Since: since,
		Until: until,
		Order: store.NewestFirst,
		Limit: a.window,
	})
	if err != nil {
		return "", fmt.Errorf("load summary window: %w", err)
	}
	window := joinTexts(msgs)
	if window == "" {
		return "", ErrNotEnoughInfo
	}
	answer, _ := a.complete(ctx, chatID, llm.Prompt{
		Op:          "summary",
		System:      helpfulSystem,
		Question:    fmt.Sprintf(summaryTemplate, window),
		MaxTokens:   200,
		Temperature: 0.7,
	})
	return answer, nil
}

// Profile describes a chat member. "@name" matches the username or mentions of
// it; anything else matches full names and text, case-insensitively.
func (a *Assembler) Profile(ctx context.Context, chatID int64, name string) (string, error) {
	name = strings.TrimSpace(name)
	q := store.Query{Order: store.NewestFirst, Limit: a.window}
	display := name
	if strings.HasPrefix(name, "@") {
		q.Username = strings.TrimPrefix(name, "@")
		display = "@" + q.Username
	} else {
		q.Name = name
	}
	if q.Username == "" && q.Name == "" {
		return "", ErrEmptyPrompt
	}

	msgs, err := a.messages.QueryMessages(ctx, chatID, q)
	if err != nil {
		return "", fmt.Errorf("load profile window: %w", err)
	}
	window := joinTexts(msgs)
	if window == "" {
		return "", ErrUserNotFound
	}
	answer, _ := a.complete(ctx, chatID, llm.Prompt{
		Op:          "profile",
		System:      helpfulSystem,
		Question:    fmt.Sprintf(profileTemplate, display, window),
		MaxTokens:   150,
		Temperature: 0.7,
	})
	return answer, nil
}

// Joke asks for a humorous comment on text. Unlike the other operations it
// returns the completion error, since a failed joke is never shown.
func (a *Assembler) Joke(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyPrompt
	}
	out, err := a.llm.Complete(ctx, llm.Prompt{
		Op:          "joke",
		Question:    fmt.Sprintf(jokeTemplate, text),
		MaxTokens:   50,
		Temperature: 0.9,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// complete reports false when the answer is Fallback.
func (a *Assembler) complete(ctx context.Context, chatID int64, p llm.Prompt) (string, bool) {
	out, err := a.llm.Complete(ctx, p)
	if err != nil {
		log.WithFields(log.Fields{"op": p.Op, "chat_id": chatID}).Errorf("[assistant] completion failed: %v", err)
		return Fallback, false
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return Fallback, false
	}
	return out, true
}

// DayBounds returns the UTC instants where the calendar day containing now
// starts and ends in loc.
func DayBounds(now time.Time, loc *time.Location) (time.Time, time.Time) {
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start.UTC(), start.AddDate(0, 0, 1).UTC()
}

func joinTexts(msgs []store.Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if strings.TrimSpace(m.Text) != "" {
			lines = append(lines, m.Text)
		}
	}
	return strings.Join(lines, "\n")
}

func reverse(msgs []store.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
