package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Prompt is one completion request: an optional system message, and a user
// message built from Context and Question.
type Prompt struct {
	// Op names the caller for logs and metrics ("ask", "topic", ...).
	Op          string
	System      string
	Context     string
	Question    string
	MaxTokens   int
	Temperature float64
}

// UserContent joins the non-empty Context and Question with a blank line.
func (p Prompt) UserContent() string {
	parts := make([]string, 0, 2)
	if strings.TrimSpace(p.Context) != "" {
		parts = append(parts, p.Context)
	}
	if strings.TrimSpace(p.Question) != "" {
		parts = append(parts, p.Question)
	}
	return strings.Join(parts, "\n\n")
}

// Completer sends a prompt to a language model. Failures are *ServiceError.
type Completer interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

// ServiceError reports a network, quota or API failure of the completion backend.
type ServiceError struct {
	Op  string
	Err error
}

func (e *ServiceError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("completion failed: %v", e.Err)
	}
	return fmt.Sprintf("completion %s failed: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

func serviceError(op string, err error) error {
	return &ServiceError{Op: op, Err: err}
}

// Observer is notified after every completion.
type Observer interface {
	ObserveCompletion(op string, took time.Duration, err error)
}

type observed struct {
	next Completer
	obs  Observer
}

// WithObserver reports the latency and outcome of each call on c to obs.
func WithObserver(c Completer, obs Observer) Completer {
	if obs == nil {
		return c
	}
	return &observed{next: c, obs: obs}
}

func (o *observed) Complete(ctx context.Context, p Prompt) (string, error) {
	start := time.Now()
	out, err := o.next.Complete(ctx, p)
	o.obs.ObserveCompletion(p.Op, time.Since(start), err)
	return out, err
}
