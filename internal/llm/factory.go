package llm

import (
	"fmt"

	"github.com/cexll/agentsdk-go/pkg/model"
	"github.com/stellarlinkco/chatkeeper/internal/config"
)

// NewCompleter picks the backend named by cfg.Provider.Type.
func NewCompleter(cfg *config.Config) (Completer, error) {
	switch cfg.Provider.Type {
	case config.ProviderCompatible:
		if cfg.Provider.BaseURL == "" {
			return nil, fmt.Errorf("provider %q requires baseUrl", cfg.Provider.Type)
		}
		fallthrough
	case config.ProviderOpenAI, "":
		return NewModelCompleter(&model.OpenAIProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Model.Name,
			MaxTokens: cfg.Model.MaxTokens,
		}, cfg.Model.Name), nil
	case config.ProviderAnthropic:
		return NewModelCompleter(&model.AnthropicProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Model.Name,
			MaxTokens: cfg.Model.MaxTokens,
		}, cfg.Model.Name), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Provider.Type)
	}
}
