package cron

import (
	"time"

	"github.com/google/uuid"
)

const (
	KindCron  = "cron"  // robfig expression with a seconds field
	KindEvery = "every" // fixed interval
	KindAt    = "at"    // one shot
)

const (
	PayloadMessage = "message" // deliver Text to the chat
	PayloadSummary = "summary" // post the chat's daily summary
)

type Schedule struct {
	Kind    string `json:"kind"`
	Expr    string `json:"expr,omitempty"`
	EveryMs int64  `json:"everyMs,omitempty"`
	AtMs    int64  `json:"atMs,omitempty"`
}

func Cron(expr string) Schedule { return Schedule{Kind: KindCron, Expr: expr} }

func Every(d time.Duration) Schedule { return Schedule{Kind: KindEvery, EveryMs: d.Milliseconds()} }

func At(t time.Time) Schedule { return Schedule{Kind: KindAt, AtMs: t.UnixMilli()} }

// Payload says what a job does when it fires, and for which chat.
type Payload struct {
	Kind    string `json:"kind"`
	Channel string `json:"channel,omitempty"`
	ChatID  int64  `json:"chatId"`
	Text    string `json:"text,omitempty"`
}

type JobState struct {
	LastRunAtMs int64  `json:"lastRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"`
	LastError   string `json:"lastError,omitempty"`
}

type CronJob struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Enabled        bool     `json:"enabled"`
	Schedule       Schedule `json:"schedule"`
	Payload        Payload  `json:"payload"`
	State          JobState `json:"state"`
	DeleteAfterRun bool     `json:"deleteAfterRun,omitempty"`
	CreatedAtMs    int64    `json:"createdAtMs"`
}

// NewCronJob returns an enabled job. One-shot jobs are removed after they run.
func NewCronJob(name string, schedule Schedule, payload Payload) CronJob {
	return CronJob{
		ID:             uuid.NewString(),
		Name:           name,
		Enabled:        true,
		Schedule:       schedule,
		Payload:        payload,
		DeleteAfterRun: schedule.Kind == KindAt,
		CreatedAtMs:    time.Now().UnixMilli(),
	}
}
