package pipeline

import (
	"context"

	"podpipe/internal/core"
	"podpipe/internal/summarize"
	"podpipe/internal/transcribe"
)

// FeedParser fetches and parses a feed into episode descriptors
type FeedParser interface {
	Parse(ctx context.Context, url string) (*core.ParsedFeed, error)
}

// AudioFetcher downloads episode audio and converts it to the working format
type AudioFetcher interface {
	Download(ctx context.Context, url, dest string) (string, error)
	Normalize(ctx context.Context, path string) (string, error)
	NormalizedPath(path string) string
	Format() string
}

// DurationProber measures audio files
type DurationProber interface {
	Duration(ctx context.Context, path string) (float64, error)
}

// Transcriber runs the transcription stage for one episode
type Transcriber interface {
	Run(ctx context.Context, episodeID int64) (*transcribe.Result, error)
}

// Summarizer runs the summarization stage for one episode
type Summarizer interface {
	Run(ctx context.Context, episodeID int64) (*summarize.Result, error)
}
