package commands

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/stellarlinkco/chatkeeper/internal/bus"
	"github.com/stellarlinkco/chatkeeper/internal/cron"
)

const (
	weekReminder  = 7 * 24 * time.Hour
	monthReminder = 30 * 24 * time.Hour
)

type plannedJob struct {
	name     string
	schedule cron.Schedule
	payload  cron.Payload
}

func weekJobName(chatID int64) string    { return fmt.Sprintf("support-week:%d", chatID) }
func monthJobName(chatID int64) string   { return fmt.Sprintf("support-month:%d", chatID) }
func summaryJobName(chatID int64) string { return fmt.Sprintf("daily-summary:%d", chatID) }

// handleMembership reacts to the bot being added to or removed from a chat.
// Status changes within membership are ignored.
func (r *Router) handleMembership(ctx context.Context, msg bus.InboundMessage) {
	switch {
	case !msg.WasMember && msg.IsMember:
		r.handleAdded(ctx, msg)
	case msg.WasMember && !msg.IsMember:
		r.handleRemoved(msg)
	}
}

// handleRemoved drops every job scheduled for the chat.
func (r *Router) handleRemoved(msg bus.InboundMessage) {
	log.WithField("chat_id", msg.ChatID).Printf("[commands] removed from chat")
	if r.scheduler == nil {
		return
	}
	for _, job := range r.scheduler.JobsForChat(msg.ChatID) {
		if r.scheduler.RemoveJob(job.ID) {
			log.Printf("[commands] removed job %s (%s)", job.Name, job.ID)
		}
	}
}

func (r *Router) handleAdded(ctx context.Context, msg bus.InboundMessage) {
	now := r.opts.Now()
	if err := r.store.MarkAdded(ctx, msg.ChatID, now.UTC()); err != nil {
		log.Errorf("[commands] mark chat %d added: %v", msg.ChatID, err)
	}
	log.WithField("chat_id", msg.ChatID).Printf("[commands] added to chat")

	if r.scheduler == nil {
		return
	}
	existing := make(map[string]bool)
	for _, job := range r.scheduler.JobsForChat(msg.ChatID) {
		existing[job.Name] = true
	}

	text := func(s string) cron.Payload {
		return cron.Payload{Kind: cron.PayloadMessage, Channel: msg.Channel, ChatID: msg.ChatID, Text: s}
	}
	jobs := []plannedJob{
		{weekJobName(msg.ChatID), cron.At(now.Add(weekReminder)), text(r.opts.SupportText)},
		{monthJobName(msg.ChatID), cron.At(now.Add(monthReminder)), text(monthPrefix + r.opts.SupportText)},
	}
	if r.opts.DailySummaryCron != "" {
		jobs = append(jobs, plannedJob{
			summaryJobName(msg.ChatID),
			cron.Cron(r.opts.DailySummaryCron),
			cron.Payload{Kind: cron.PayloadSummary, Channel: msg.Channel, ChatID: msg.ChatID},
		})
	}

	for _, j := range jobs {
		if existing[j.name] {
			continue
		}
		if _, err := r.scheduler.AddJob(j.name, j.schedule, j.payload); err != nil {
			log.Errorf("[commands] schedule %s: %v", j.name, err)
		}
	}
}
