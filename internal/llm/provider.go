package llm

import (
	"context"
	"fmt"

	"podpipe/internal/config"
)

// NewFromConfig builds the configured reasoner wrapped in a TracedClient
func NewFromConfig(ctx context.Context, cfg config.Reasoner) (*TracedClient, error) {
	switch cfg.Provider {
	case "gemini":
		client, err := NewClient(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model, cfg.Gemini.BaseURL)
		if err != nil {
			return nil, err
		}
		return NewTracedClient(client, "gemini"), nil
	case "groq", "":
		client, err := NewGroqClient(cfg.Groq.APIKey, cfg.Groq.Model, cfg.Groq.BaseURL, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		return NewTracedClient(client, "groq"), nil
	default:
		return nil, fmt.Errorf("unknown reasoner provider: %s", cfg.Provider)
	}
}
