package llm

import (
	"context"
	"log/slog"
	"time"

	"podpipe/internal/logger"
	"podpipe/internal/metrics"
)

// TracedClient wraps a TextGenerator with latency metrics and debug logging
type TracedClient struct {
	client   TextGenerator
	provider string
	log      *slog.Logger
}

// NewTracedClient wraps client, labelling metrics with provider
func NewTracedClient(client TextGenerator, provider string) *TracedClient {
	return &TracedClient{
		client:   client,
		provider: provider,
		log:      logger.Get().With("component", "reasoner", "provider", provider),
	}
}

// GetUnderlyingClient returns the wrapped client
func (tc *TracedClient) GetUnderlyingClient() TextGenerator {
	return tc.client
}

// GetModelName returns the wrapped client's model
func (tc *TracedClient) GetModelName() string {
	return tc.client.GetModelName()
}

// GenerateText generates text with tracing
func (tc *TracedClient) GenerateText(ctx context.Context, prompt string, options TextGenerationOptions) (string, error) {
	startTime := time.Now()
	result, err := tc.client.GenerateText(ctx, prompt, options)
	elapsed := time.Since(startTime)

	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RecordExternalCall(tc.provider, status, elapsed.Seconds())
	metrics.EstimatedTokens.WithLabelValues(tc.provider).Add(float64(estimateTokens(prompt, result)))

	model := options.Model
	if model == "" {
		model = tc.client.GetModelName()
	}
	tc.log.Debug("Reasoner call finished",
		"model", model,
		"status", status,
		"prompt_chars", len(prompt),
		"latency_ms", elapsed.Milliseconds())

	return result, err
}

// estimateTokens roughly estimates token count (1 token ≈ 4 characters)
func estimateTokens(prompt, completion string) int {
	return (len(prompt) + len(completion)) / 4
}
