package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/stellarlinkco/chatkeeper/internal/assistant"
	"github.com/stellarlinkco/chatkeeper/internal/bus"
	"github.com/stellarlinkco/chatkeeper/internal/channel"
	"github.com/stellarlinkco/chatkeeper/internal/commands"
	"github.com/stellarlinkco/chatkeeper/internal/config"
	"github.com/stellarlinkco/chatkeeper/internal/cron"
	"github.com/stellarlinkco/chatkeeper/internal/observability"
)

const (
	defaultChannel = "telegram"
	jobTimeout     = 2 * time.Minute
	drainTimeout   = 10 * time.Second
)

// Options for creating a Gateway
type Options struct {
	CompleterFactory CompleterFactory
	StoreFactory     StoreFactory
	// Chance overrides the joke probability from the config.
	Chance     commands.Chance
	SignalChan chan os.Signal // for testing signal handling
}

type Gateway struct {
	cfg        *config.Config
	bus        *bus.MessageBus
	services   *Services
	router     *commands.Router
	channels   *channel.ChannelManager
	cron       *cron.Service
	metrics    *observability.Metrics
	http       *observability.Server
	signalChan chan os.Signal // for testing
	inflight   sync.WaitGroup
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{
		cfg:        cfg,
		bus:        bus.NewMessageBus(config.DefaultBufSize),
		metrics:    observability.NewMetrics("chatkeeper"),
		signalChan: opts.SignalChan,
	}

	services, err := OpenServices(context.Background(), cfg, opts.StoreFactory, opts.CompleterFactory, g.metrics)
	if err != nil {
		return nil, err
	}
	g.services = services

	chance := opts.Chance
	if chance == nil {
		chance = commands.Probability(cfg.Bot.JokeProbability)
	}
	g.router = commands.NewRouter(services.Assistant, services.Memory, services.Store, chance, commands.Options{
		AboutText:        cfg.Bot.AboutText,
		SupportText:      cfg.Bot.SupportText,
		DailySummaryCron: cfg.Bot.DailySummaryCron,
	})
	g.router.SetMetrics(g.metrics)

	g.cron = cron.NewService(JobsPath())
	g.cron.OnJob = g.runJob
	g.router.SetScheduler(g.cron)

	chMgr, err := channel.NewChannelManager(cfg.Telegram, g.bus)
	if err != nil {
		_ = services.Close()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	if cfg.Gateway.Port > 0 {
		g.http = observability.NewServer(cfg.Gateway.Host, cfg.Gateway.Port, g.metrics)
	}

	return g, nil
}

// runJob delivers a scheduled job to its chat.
func (g *Gateway) runJob(job cron.CronJob) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	var text string
	switch job.Payload.Kind {
	case cron.PayloadMessage:
		text = job.Payload.Text
	case cron.PayloadSummary:
		summary, err := g.services.Assistant.Summary(ctx, job.Payload.ChatID, time.Now())
		if errors.Is(err, assistant.ErrNotEnoughInfo) {
			return "no messages today", nil
		}
		if err != nil {
			return "", err
		}
		text = summary
	default:
		return "", fmt.Errorf("unknown payload kind %q", job.Payload.Kind)
	}

	if text == "" {
		return "", nil
	}
	channelName := job.Payload.Channel
	if channelName == "" {
		channelName = defaultChannel
	}
	select {
	case g.bus.Outbound <- bus.OutboundMessage{Channel: channelName, ChatID: job.Payload.ChatID, Text: text}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return text, nil
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if g.http != nil {
		if err := g.http.Start(); err != nil {
			_ = g.Shutdown()
			return fmt.Errorf("start http server: %w", err)
		}
	}

	if err := g.channels.StartAll(ctx); err != nil {
		_ = g.Shutdown()
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	if err := g.cron.Start(ctx); err != nil {
		log.Printf("[gateway] cron start warning: %v", err)
	}

	go g.processLoop(ctx)

	log.Printf("[gateway] running with %s store", g.cfg.Store.Driver)

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Printf("[gateway] shutting down...")
	cancel()
	return g.Shutdown()
}

// processLoop handles each inbound event in its own goroutine.
func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			g.inflight.Add(1)
			go func(msg bus.InboundMessage) {
				defer g.inflight.Done()
				g.handle(ctx, msg)
			}(msg)
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) handle(ctx context.Context, msg bus.InboundMessage) {
	log.WithFields(log.Fields{"channel": msg.Channel, "chat_id": msg.ChatID, "kind": msg.Kind}).
		Debugf("[gateway] inbound: %s", truncate(msg.Text, 80))

	for _, out := range g.router.Handle(ctx, msg) {
		if out.Channel == "" {
			out.Channel = msg.Channel
		}
		select {
		case g.bus.Outbound <- out:
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) Shutdown() error {
	g.cron.Stop()
	_ = g.channels.StopAll()

	done := make(chan struct{})
	go func() {
		g.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainTimeout):
		log.Printf("[gateway] timed out waiting for in-flight handlers")
	}

	if g.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := g.http.Shutdown(ctx); err != nil {
			log.Printf("[gateway] http shutdown warning: %v", err)
		}
		cancel()
	}
	if err := g.services.Close(); err != nil {
		log.Printf("[gateway] close store warning: %v", err)
	}
	log.Printf("[gateway] shutdown complete")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
