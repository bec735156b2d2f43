package gateway

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/stellarlinkco/chatkeeper/internal/assistant"
	"github.com/stellarlinkco/chatkeeper/internal/config"
	"github.com/stellarlinkco/chatkeeper/internal/llm"
	"github.com/stellarlinkco/chatkeeper/internal/memory"
	"github.com/stellarlinkco/chatkeeper/internal/store"
)

// CompleterFactory creates the completion backend (allows mocking in tests)
type CompleterFactory func(cfg *config.Config) (llm.Completer, error)

// StoreFactory opens the persistence backend (allows mocking in tests)
type StoreFactory func(ctx context.Context, cfg *config.Config) (store.Store, error)

// JobsPath is where the scheduler persists its jobs.
func JobsPath() string {
	return filepath.Join(config.DataDir(), "cron", "jobs.json")
}

func DefaultStoreFactory(ctx context.Context, cfg *config.Config) (store.Store, error) {
	return store.Open(ctx, cfg.Store.Driver, cfg.StoreDSN(), cfg.Store.Database)
}

// Services are the chat-facing components shared by the gateway and the CLI.
type Services struct {
	Store     store.Store
	Memory    *memory.ChatMemory
	Assistant *assistant.Assembler
}

// OpenServices opens the store and builds memory and the context assembler on
// top of it. obs may be nil.
func OpenServices(ctx context.Context, cfg *config.Config, stores StoreFactory, completers CompleterFactory, obs llm.Observer) (*Services, error) {
	if stores == nil {
		stores = DefaultStoreFactory
	}
	if completers == nil {
		completers = llm.NewCompleter
	}

	loc, err := cfg.Bot.Location()
	if err != nil {
		return nil, err
	}

	completer, err := completers(cfg)
	if err != nil {
		return nil, fmt.Errorf("create completer: %w", err)
	}

	st, err := stores(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	mem := memory.NewChatMemory(st, cfg.Bot.MemoryWords)
	return &Services{
		Store:  st,
		Memory: mem,
		Assistant: assistant.New(mem, st, llm.WithObserver(completer, obs), assistant.Options{
			Location:   loc,
			WindowSize: cfg.Bot.WindowSize,
		}),
	}, nil
}

func (s *Services) Close() error {
	return s.Store.Close()
}
