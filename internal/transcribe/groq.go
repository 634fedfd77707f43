// Package transcribe turns downloaded episode audio into timestamped
// transcripts through a speech-to-text service.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"podpipe/internal/core"
	"podpipe/internal/logger"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://api.groq.com/openai/v1"

// ChunkTranscript is the speech-to-text output for one audio file.
// Segment times are relative to the start of that file.
type ChunkTranscript struct {
	Segments []core.Segment
	Text     string
	Language string
	Duration float64
}

// SpeechToText transcribes a single audio file. Errors are
// *core.TranscriptionError so callers can tell retryable from permanent.
type SpeechToText interface {
	Transcribe(ctx context.Context, audioPath string) (*ChunkTranscript, error)
	Model() string
}

// ClientConfig configures the Groq Whisper client
type ClientConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	Language          string
	RequestsPerMinute int
	Timeout           time.Duration
}

// GroqClient calls the OpenAI-compatible audio transcription endpoint
type GroqClient struct {
	cfg     ClientConfig
	api     *openai.Client
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewGroqClient creates a client paced at cfg.RequestsPerMinute
func NewGroqClient(cfg ClientConfig) *GroqClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-large-v3-turbo"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	apiCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	apiCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &GroqClient{
		cfg:     cfg,
		api:     openai.NewClientWithConfig(apiCfg),
		limiter: rate.NewLimiter(limit, 1),
		log:     logger.Get().With("component", "stt"),
	}
}

func (c *GroqClient) Model() string { return c.cfg.Model }

// Transcribe uploads audioPath and returns its segments
func (c *GroqClient) Transcribe(ctx context.Context, audioPath string) (*ChunkTranscript, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, core.NewRetryable("rate limiter wait aborted", err)
	}
	if _, err := os.Stat(audioPath); err != nil {
		return nil, core.NewPermanent("cannot open audio", err)
	}

	start := time.Now()
	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.cfg.Model,
		FilePath: audioPath,
		Format:   openai.AudioResponseFormatVerboseJSON,
		Language: c.cfg.Language,
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{
			openai.TranscriptionTimestampGranularitySegment,
		},
	})
	if err != nil {
		return nil, classifyError(err)
	}

	out := &ChunkTranscript{
		Text:     strings.TrimSpace(resp.Text),
		Language: resp.Language,
		Duration: resp.Duration,
	}
	for i, seg := range resp.Segments {
		out.Segments = append(out.Segments, core.Segment{
			Index: i,
			Start: seg.Start,
			End:   seg.End,
			Text:  strings.TrimSpace(seg.Text),
		})
	}

	c.log.Debug("Transcribed chunk", "path", audioPath, "segments", len(out.Segments), "elapsed", time.Since(start))
	return out, nil
}

// classifyError sorts client errors into retryable and permanent
func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := ""
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return classifyStatus(reqErr.HTTPStatusCode, msg)
	}
	return classifyTransportError(err)
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return core.NewRetryable("request cancelled", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return core.NewRetryable("request timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return core.NewRetryable("network error", err)
	}
	return core.NewRetryable("request failed", err)
}

// classifyStatus maps an HTTP failure to a retryable or permanent error
func classifyStatus(status int, msg string) error {
	msg = strings.TrimSpace(msg)
	if len(msg) > 300 {
		msg = msg[:300]
	}
	err := fmt.Errorf("status %d: %s", status, msg)

	switch {
	case status == http.StatusTooManyRequests:
		return core.NewRetryable("rate limited", err)
	case status == http.StatusRequestTimeout:
		return core.NewRetryable("request timed out", err)
	case status >= 500:
		return core.NewRetryable("service unavailable", err)
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return core.NewPermanent("authentication failed", err)
	case status == http.StatusRequestEntityTooLarge:
		return core.NewPermanent("audio too large", err)
	case status == http.StatusUnsupportedMediaType, status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return core.NewPermanent("invalid audio", err)
	default:
		return core.NewPermanent("request rejected", err)
	}
}
