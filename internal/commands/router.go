// Package commands turns inbound chat events into replies. It knows nothing
// about the transport; channels translate to and from the bus types.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/stellarlinkco/chatkeeper/internal/assistant"
	"github.com/stellarlinkco/chatkeeper/internal/bus"
	"github.com/stellarlinkco/chatkeeper/internal/chart"
	"github.com/stellarlinkco/chatkeeper/internal/cron"
	"github.com/stellarlinkco/chatkeeper/internal/store"
)

type Assistant interface {
	Ask(ctx context.Context, chatID int64, prompt string) (string, error)
	Topic(ctx context.Context, chatID int64) (string, error)
	Summary(ctx context.Context, chatID int64, now time.Time) (string, error)
	Profile(ctx context.Context, chatID int64, name string) (string, error)
	Joke(ctx context.Context, text string) (string, error)
}

type Memory interface {
	Append(ctx context.Context, chatID int64, text string) error
}

// Storage is the part of the store the router reads and writes directly.
type Storage interface {
	store.MessageStore
	store.ChatInfoStore
	store.StatsStore
}

type Scheduler interface {
	AddJob(name string, schedule cron.Schedule, payload cron.Payload) (*cron.CronJob, error)
	JobsForChat(chatID int64) []cron.CronJob
	RemoveJob(id string) bool
}

type Metrics interface {
	ObserveMessage()
	ObserveCommand(command string)
}

type Options struct {
	AboutText        string
	SupportText      string
	DailySummaryCron string
	// Now defaults to time.Now.
	Now func() time.Time
}

type Router struct {
	assistant Assistant
	memory    Memory
	store     Storage
	scheduler Scheduler
	metrics   Metrics
	joke      Chance
	opts      Options
}

func NewRouter(a Assistant, mem Memory, s Storage, joke Chance, opts Options) *Router {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if joke == nil {
		joke = Always(false)
	}
	return &Router{assistant: a, memory: mem, store: s, joke: joke, opts: opts}
}

// SetScheduler enables the reminder and daily summary jobs created when the
// bot joins a chat.
func (r *Router) SetScheduler(s Scheduler) { r.scheduler = s }

func (r *Router) SetMetrics(m Metrics) { r.metrics = m }

// Handle processes one inbound event and returns the messages to send back.
func (r *Router) Handle(ctx context.Context, msg bus.InboundMessage) []bus.OutboundMessage {
	switch msg.Kind {
	case bus.EventMessage:
		return r.handleMessage(ctx, msg)
	case bus.EventCommand:
		return r.handleCommand(ctx, msg)
	case bus.EventCallback:
		return r.handleCallback(msg)
	case bus.EventMembership:
		r.handleMembership(ctx, msg)
		return nil
	default:
		log.Printf("[commands] ignoring event kind %q", msg.Kind)
		return nil
	}
}

func (r *Router) handleMessage(ctx context.Context, msg bus.InboundMessage) []bus.OutboundMessage {
	if strings.TrimSpace(msg.Text) == "" {
		return nil
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = r.opts.Now()
	}
	rec := store.Message{
		MessageID: msg.MessageID,
		ChatID:    msg.ChatID,
		UserID:    msg.UserID,
		Username:  msg.Username,
		FullName:  msg.FullName,
		Text:      msg.Text,
		Timestamp: ts.UTC(),
	}
	if err := r.store.InsertMessage(ctx, rec); err != nil {
		log.WithFields(log.Fields{"chat_id": msg.ChatID, "message_id": msg.MessageID}).
			Errorf("[commands] store message: %v", err)
	} else if r.metrics != nil {
		r.metrics.ObserveMessage()
	}

	if !r.joke.Hit() {
		return nil
	}
	joke, err := r.assistant.Joke(ctx, msg.Text)
	if err != nil || joke == "" {
		if err != nil {
			log.Printf("[commands] joke for chat %d failed: %v", msg.ChatID, err)
		}
		return nil
	}
	return []bus.OutboundMessage{{Channel: msg.Channel, ChatID: msg.ChatID, Text: joke, ReplyTo: msg.MessageID}}
}

func (r *Router) handleCommand(ctx context.Context, msg bus.InboundMessage) []bus.OutboundMessage {
	name := strings.ToLower(msg.Command)
	if i := strings.Index(name, "@"); i >= 0 {
		name = name[:i]
	}
	arg := strings.TrimSpace(strings.Join(msg.Args, " "))

	var out []bus.OutboundMessage
	label := name
	switch name {
	case "start":
		out = r.text(msg, welcomeText, bus.Button{Text: startButton, Data: startData})
	case "help":
		out = r.text(msg, helpText, bus.Button{Text: helpButton, Data: helpData})
		out[0].ParseMode = markdown
	case "ask":
		out = r.reply(msg, func() (string, error) { return r.assistant.Ask(ctx, msg.ChatID, arg) })
	case "remember":
		out = r.text(msg, r.remember(ctx, msg.ChatID, arg))
	case "topic":
		out = r.reply(msg, func() (string, error) { return r.assistant.Topic(ctx, msg.ChatID) })
	case "summary":
		out = r.reply(msg, func() (string, error) { return r.assistant.Summary(ctx, msg.ChatID, r.opts.Now()) })
	case "profile":
		if len(msg.Args) != 1 {
			out = r.text(msg, profileUsage)
			break
		}
		out = r.reply(msg, func() (string, error) { return r.assistant.Profile(ctx, msg.ChatID, msg.Args[0]) })
	case "stats":
		out = r.stats(ctx, msg)
	case "activity":
		out = r.activity(ctx, msg)
	default:
		label = "unknown"
		out = r.text(msg, unknownText)
	}
	if r.metrics != nil {
		r.metrics.ObserveCommand(label)
	}
	return out
}

func (r *Router) remember(ctx context.Context, chatID int64, text string) string {
	if text == "" {
		return rememberUsage
	}
	if err := r.memory.Append(ctx, chatID, text); err != nil {
		log.Errorf("[commands] remember for chat %d: %v", chatID, err)
		return storageFailure
	}
	return notedText
}

// reply runs an assistant call and maps its sentinel errors to user-facing text.
func (r *Router) reply(msg bus.InboundMessage, call func() (string, error)) []bus.OutboundMessage {
	answer, err := call()
	switch {
	case err == nil:
		return r.text(msg, answer)
	case errors.Is(err, assistant.ErrEmptyPrompt):
		return r.text(msg, emptyPrompt)
	case errors.Is(err, assistant.ErrNotEnoughInfo):
		return r.text(msg, notEnoughInfo)
	case errors.Is(err, assistant.ErrUserNotFound):
		return r.text(msg, userNotFound)
	default:
		log.WithFields(log.Fields{"chat_id": msg.ChatID, "command": msg.Command}).
			Errorf("[commands] command failed: %v", err)
		return r.text(msg, storageFailure)
	}
}

func (r *Router) stats(ctx context.Context, msg bus.InboundMessage) []bus.OutboundMessage {
	total, err := r.store.CountMessages(ctx, msg.ChatID)
	if err != nil {
		log.Errorf("[commands] count messages for chat %d: %v", msg.ChatID, err)
		return r.text(msg, storageFailure)
	}
	activity, err := r.store.UserActivity(ctx, msg.ChatID)
	if err != nil {
		log.Errorf("[commands] user activity for chat %d: %v", msg.ChatID, err)
		return r.text(msg, storageFailure)
	}
	out := r.text(msg, FormatStats(total, activity))
	out[0].ParseMode = markdown
	return out
}

// FormatStats renders the /stats reply.
func FormatStats(total int, activity []store.UserActivity) string {
	var sb strings.Builder
	sb.WriteString("📊 *Chat Statistics:*\n\n")
	fmt.Fprintf(&sb, "Total messages: %d\n\n", total)
	sb.WriteString("*User Activity:*\n")
	for _, u := range activity {
		fmt.Fprintf(&sb, "%s: %d messages\n", u.DisplayName(), u.Count)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (r *Router) activity(ctx context.Context, msg bus.InboundMessage) []bus.OutboundMessage {
	activity, err := r.store.UserActivity(ctx, msg.ChatID)
	if err != nil {
		log.Errorf("[commands] user activity for chat %d: %v", msg.ChatID, err)
		return r.text(msg, storageFailure)
	}
	png, err := chart.ActivityPie(chart.ActivityTitle, activity)
	if errors.Is(err, chart.ErrNoData) {
		return r.text(msg, noActivityText)
	}
	if err != nil {
		log.Errorf("[commands] render activity chart: %v", err)
		return r.text(msg, storageFailure)
	}
	return []bus.OutboundMessage{{
		Channel:   msg.Channel,
		ChatID:    msg.ChatID,
		Photo:     png,
		PhotoName: "activity.png",
	}}
}

func (r *Router) handleCallback(msg bus.InboundMessage) []bus.OutboundMessage {
	return []bus.OutboundMessage{{
		Channel:       msg.Channel,
		ChatID:        msg.ChatID,
		Text:          r.opts.AboutText,
		EditMessageID: msg.MessageID,
		CallbackID:    msg.CallbackID,
	}}
}

func (r *Router) text(msg bus.InboundMessage, text string, buttons ...bus.Button) []bus.OutboundMessage {
	return []bus.OutboundMessage{{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Text:    text,
		Buttons: buttons,
	}}
}
