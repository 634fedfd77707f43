package handlers

import (
	"context"
	"fmt"

	"podpipe/internal/audio"
	"podpipe/internal/config"
	"podpipe/internal/core"
	"podpipe/internal/feeds"
	"podpipe/internal/llm"
	"podpipe/internal/logger"
	"podpipe/internal/persistence"
	"podpipe/internal/pipeline"
	"podpipe/internal/store"
	"podpipe/internal/summarize"
	"podpipe/internal/topics"
	"podpipe/internal/transcribe"
)

// openBackend connects to the configured storage backend
func openBackend(ctx context.Context, cfg *config.Config) (persistence.Backend, error) {
	switch cfg.Database.Driver {
	case "postgres":
		pool := persistence.PoolOptions{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		}
		pg, err := persistence.NewPostgresStore(ctx, cfg.Database.URL, cfg.Database.Schema, pool)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return pg, nil
	default:
		s, err := store.NewStore(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		return s, nil
	}
}

func audioOptions(cfg *config.Config) audio.Options {
	return audio.Options{
		FFmpegPath:      cfg.Audio.FFmpegPath,
		FFprobePath:     cfg.Audio.FFprobePath,
		Format:          cfg.Audio.Format,
		SampleRate:      cfg.Audio.SampleRate,
		UserAgent:       cfg.Feeds.UserAgent,
		DownloadTimeout: cfg.Audio.DownloadTimeout,
		ConvertTimeout:  cfg.Audio.ConvertTimeout,
	}
}

// newSummarizer wires the reasoner when a key is configured and otherwise
// runs the local extractor only
func newSummarizer(ctx context.Context, cfg *config.Config, backend persistence.Backend) *summarize.Summarizer {
	options := summarize.Options{
		Temperature:   cfg.Reasoner.Temperature,
		MaxTokens:     cfg.Reasoner.MaxTokens,
		MaxInputChars: cfg.Reasoner.MaxInputChars,
		MaxRetries:    cfg.Reasoner.MaxRetries,
		RetryDelay:    cfg.Reasoner.RetryDelay,
		Timeout:       cfg.Reasoner.Timeout,
	}

	client := newReasoner(ctx, cfg)
	if client == nil {
		return summarize.NewSummarizer(backend, nil, options)
	}
	return summarize.NewSummarizer(backend, client, options)
}

func newReasoner(ctx context.Context, cfg *config.Config) *llm.TracedClient {
	if err := cfg.RequireReasonerKey(); err != nil {
		logger.Warn("Reasoner disabled, using local extraction", "reason", err.Error())
		return nil
	}
	client, err := llm.NewFromConfig(ctx, cfg.Reasoner)
	if err != nil {
		logger.Warn("Reasoner disabled, using local extraction", "error", err)
		return nil
	}
	return client
}

// newPipeline wires every stage. requireSTT is false for commands that
// never reach the speech-to-text service.
func newPipeline(ctx context.Context, cfg *config.Config, backend persistence.Backend, requireSTT bool) (*pipeline.Pipeline, error) {
	if requireSTT {
		if err := cfg.RequireTranscriptionKey(); err != nil {
			return nil, err
		}
	}

	runner := audio.NewExecRunner()
	opts := audioOptions(cfg)
	fetcher := audio.NewFetcher(opts, runner)
	prober := audio.NewProber(opts.FFprobePath, runner)
	splitter := audio.NewSplitter(opts.FFmpegPath, runner)

	parser := feeds.NewFeedManager(cfg.Feeds.UserAgent, cfg.Feeds.Timeout)
	downloader := pipeline.NewDownloader(backend, parser, fetcher, prober, cfg.Audio.Directory)

	stt := transcribe.NewGroqClient(transcribe.ClientConfig{
		APIKey:            cfg.Transcription.APIKey,
		BaseURL:           cfg.Transcription.BaseURL,
		Model:             cfg.Transcription.Model,
		Language:          cfg.Transcription.Language,
		RequestsPerMinute: cfg.Transcription.RequestsPerMinute,
		Timeout:           cfg.Transcription.Timeout,
	})
	stage := transcribe.NewStage(backend, stt, prober, splitter, transcribe.Config{
		MaxUploadBytes: cfg.Transcription.MaxUploadBytes,
		ChunkDuration:  cfg.Transcription.ChunkDuration,
		ChunkOverlap:   cfg.Transcription.ChunkOverlap,
		ChunkDirectory: cfg.Transcription.ChunkDirectory,
	})

	return pipeline.New(backend, downloader, stage, newSummarizer(ctx, cfg, backend), pipeline.Config{
		Workers:      cfg.Pipeline.Workers,
		ClaimTTL:     cfg.Pipeline.ClaimTTL,
		MaxAttempts:  cfg.Pipeline.MaxAttempts,
		BaseDelay:    cfg.Pipeline.BaseDelay,
		MaxDelay:     cfg.Pipeline.MaxDelay,
		StageTimeout: cfg.Pipeline.StageTimeout,
	}), nil
}

// newAnalyzer wires topic analysis with the Redis cache when configured.
// The returned close func releases the cache connection.
func newAnalyzer(ctx context.Context, cfg *config.Config, backend persistence.Backend) (*topics.Analyzer, func()) {
	closeFn := func() {}

	var cache topics.Cache
	if cfg.Redis.URL != "" {
		rc, err := topics.NewRedisCacheWithURL(cfg.Redis.URL)
		if err != nil {
			logger.Warn("Topic cache disabled", "error", err)
		} else if err := rc.Ping(ctx); err != nil {
			logger.Warn("Topic cache unreachable, continuing without it", "error", err)
			_ = rc.Close()
		} else {
			cache = rc
			closeFn = func() { _ = rc.Close() }
		}
	}

	options := topics.Options{
		MaxSummaries: cfg.Topics.MaxSummaries,
		MaxClusters:  cfg.Topics.MaxClusters,
		CacheTTL:     cfg.Topics.CacheTTL,
		Temperature:  cfg.Reasoner.TopicTemperature,
		MaxTokens:    cfg.Reasoner.MaxTokens,
	}

	client := newReasoner(ctx, cfg)
	if client == nil {
		return topics.NewAnalyzer(backend, nil, cache, options), closeFn
	}
	return topics.NewAnalyzer(backend, client, cache, options), closeFn
}

// feedsToProcess merges configured feeds with feeds registered through
// `feed add`. Configured entries win on URL conflicts.
func feedsToProcess(ctx context.Context, cfg *config.Config, backend persistence.Backend) ([]core.FeedDescriptor, error) {
	seen := make(map[string]bool)
	var out []core.FeedDescriptor
	for _, f := range cfg.FeedList {
		if seen[f.URL] {
			continue
		}
		seen[f.URL] = true
		out = append(out, f)
	}

	podcasts, err := backend.ListPodcasts(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range podcasts {
		if seen[p.FeedURL] {
			continue
		}
		seen[p.FeedURL] = true
		out = append(out, core.FeedDescriptor{Name: p.Title, URL: p.FeedURL, Category: p.Category})
	}
	return out, nil
}
