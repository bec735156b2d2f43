package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/cexll/agentsdk-go/pkg/model"
)

// ModelCompleter runs prompts through an agentsdk-go model provider.
type ModelCompleter struct {
	provider  model.Provider
	modelName string
}

func NewModelCompleter(provider model.Provider, modelName string) *ModelCompleter {
	return &ModelCompleter{provider: provider, modelName: modelName}
}

func (c *ModelCompleter) Complete(ctx context.Context, p Prompt) (string, error) {
	mdl, err := c.provider.Model(ctx)
	if err != nil {
		return "", serviceError(p.Op, fmt.Errorf("resolve model: %w", err))
	}

	temperature := p.Temperature
	resp, err := mdl.Complete(ctx, model.Request{
		Messages:    []model.Message{{Role: "user", Content: p.UserContent()}},
		System:      p.System,
		Model:       c.modelName,
		MaxTokens:   p.MaxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		return "", serviceError(p.Op, err)
	}
	if resp == nil {
		return "", serviceError(p.Op, fmt.Errorf("empty response"))
	}
	content := strings.TrimSpace(resp.Message.TextContent())
	if content == "" {
		return "", serviceError(p.Op, fmt.Errorf("empty content in response"))
	}
	return content, nil
}
