// Package summarize turns episode transcripts into structured summaries
// using a reasoner, with a local extractor when the reasoner fails.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"podpipe/internal/core"
	"podpipe/internal/llm"
	"podpipe/internal/logger"
	"podpipe/internal/metrics"
)

// FallbackModel is recorded as the model of locally extracted summaries
const FallbackModel = "local-extractor"

// LLMClient defines the interface for LLM operations
type LLMClient interface {
	GenerateText(ctx context.Context, prompt string, options llm.TextGenerationOptions) (string, error)
	GetModelName() string
}

// Store is the storage the stage needs
type Store interface {
	GetEpisode(ctx context.Context, id int64) (*core.Episode, error)
	GetTranscript(ctx context.Context, episodeID int64) (*core.Transcript, error)
	GetSummary(ctx context.Context, episodeID int64) (*core.Summary, error)
	WriteSummary(ctx context.Context, episodeID int64, s core.Summary) error
	UpdateStatus(ctx context.Context, id int64, status core.Status, reason string) error
}

// Options configures the summarizer behavior
type Options struct {
	Temperature   float32
	MaxTokens     int32
	MaxInputChars int

	// Retry settings
	MaxRetries int
	RetryDelay time.Duration

	// Timeout bounds a single reasoner call
	Timeout time.Duration
}

// DefaultOptions returns sensible defaults
func DefaultOptions() Options {
	return Options{
		Temperature:   0.2,
		MaxTokens:     4000,
		MaxInputChars: 500000,
		MaxRetries:    2,
		RetryDelay:    2 * time.Second,
		Timeout:       2 * time.Minute,
	}
}

// Result describes one stage invocation
type Result struct {
	EpisodeID int64
	Skipped   bool
	Fallback  bool
	Truncated bool
	Summary   *core.Summary
}

// Summarizer is the summarization stage
type Summarizer struct {
	store     Store
	llmClient LLMClient
	options   Options
	log       *slog.Logger
}

// NewSummarizer creates the stage. A nil llmClient always uses the local extractor.
func NewSummarizer(store Store, llmClient LLMClient, options Options) *Summarizer {
	if options.MaxRetries < 0 {
		options.MaxRetries = 0
	}
	return &Summarizer{
		store:     store,
		llmClient: llmClient,
		options:   options,
		log:       logger.Get().With("stage", "summarize"),
	}
}

// Run summarizes a transcribed episode and moves it to processed. A processed
// episode with a stored summary is returned as is. Reasoner failures never
// fail the episode; storage errors are returned.
func (s *Summarizer) Run(ctx context.Context, episodeID int64) (*Result, error) {
	result := &Result{EpisodeID: episodeID}
	log := s.log.With("episode_id", episodeID)

	ep, err := s.store.GetEpisode(ctx, episodeID)
	if err != nil {
		return nil, err
	}

	switch ep.Status {
	case core.StatusProcessed:
		existing, err := s.store.GetSummary(ctx, episodeID)
		if err == nil {
			result.Skipped = true
			result.Summary = existing
			return result, nil
		}
		if !errors.Is(err, core.ErrNotFound) {
			return nil, err
		}
		log.Warn("Processed episode has no summary, regenerating")
	case core.StatusTranscribed:
	default:
		return nil, fmt.Errorf("%w: episode %d is %s", core.ErrInvalidTransition, episodeID, ep.Status)
	}

	transcript, err := s.store.GetTranscript(ctx, episodeID)
	if errors.Is(err, core.ErrNotFound) {
		return nil, fmt.Errorf("%w: episode %d", core.ErrNoTranscript, episodeID)
	} else if err != nil {
		return nil, err
	}

	text, truncated := AssembleText(transcript, s.options.MaxInputChars)
	if truncated {
		log.Warn("Transcript truncated for summarization", "max_chars", s.options.MaxInputChars)
	}
	result.Truncated = truncated

	summary := core.Summary{EpisodeID: episodeID}
	structured, err := s.generate(ctx, ep.Title, text)
	if err != nil {
		log.Warn("Reasoner summary unusable, using local extractor", "error", err)
		metrics.SummaryFallbacks.Inc()
		structured = ExtractFallback(text)
		summary.Source = core.SummarySourceFallback
		summary.Model = FallbackModel
		result.Fallback = true
	} else {
		summary.Source = core.SummarySourceLLM
		summary.Model = s.llmClient.GetModelName()
	}
	summary.Synopsis = structured.Synopsis
	summary.Topics = structured.KeyTopics
	summary.Themes = structured.Themes
	summary.Quotes = structured.Quotes
	summary.Organizations = structured.Organizations

	if err := s.store.WriteSummary(ctx, episodeID, summary); err != nil {
		return nil, err
	}
	if ep.Status == core.StatusTranscribed {
		if err := s.store.UpdateStatus(ctx, episodeID, core.StatusProcessed, ""); err != nil {
			return nil, err
		}
	}

	stored, err := s.store.GetSummary(ctx, episodeID)
	if err != nil {
		return nil, err
	}
	result.Summary = stored
	log.Info("Episode summarized", "source", summary.Source, "topics", len(summary.Topics))
	return result, nil
}

// generate asks the reasoner for a structured summary, retrying with a
// linear delay. The returned error wraps core.ErrSummarization.
func (s *Summarizer) generate(ctx context.Context, title, text string) (*StructuredSummary, error) {
	if s.llmClient == nil {
		return nil, fmt.Errorf("%w: no reasoner configured", core.ErrSummarization)
	}
	if text == "" {
		return nil, fmt.Errorf("%w: transcript is empty", core.ErrSummarization)
	}

	prompt := BuildSummaryPrompt(title, text)
	options := llm.TextGenerationOptions{
		MaxTokens:      s.options.MaxTokens,
		Temperature:    s.options.Temperature,
		ResponseSchema: CreateSummarySchema(),
	}

	var lastErr error
	for attempt := 0; attempt <= s.options.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v (last error: %v)", core.ErrSummarization, ctx.Err(), lastErr)
			case <-time.After(s.options.RetryDelay * time.Duration(attempt)):
			}
		}

		structured, err := s.attempt(ctx, prompt, options)
		if err == nil {
			return structured, nil
		}
		lastErr = err
		s.log.Debug("Summary attempt failed", "attempt", attempt+1, "error", err)
	}

	return nil, fmt.Errorf("%w after %d attempts: %v", core.ErrSummarization, s.options.MaxRetries+1, lastErr)
}

func (s *Summarizer) attempt(ctx context.Context, prompt string, options llm.TextGenerationOptions) (*StructuredSummary, error) {
	callCtx := ctx
	if s.options.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.options.Timeout)
		defer cancel()
	}

	response, err := s.llmClient.GenerateText(callCtx, prompt, options)
	if err != nil {
		return nil, err
	}
	return ParseSummaryResponse(response)
}
