// Package pipeline sequences the download, transcription and summarization
// stages per episode and across batches.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"podpipe/internal/core"
	"podpipe/internal/logger"
	"podpipe/internal/metrics"
	"podpipe/internal/persistence"
	"podpipe/internal/retry"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Stage names used in reports, logs and metrics
const (
	StageDownload   = "download"
	StageTranscribe = "transcribe"
	StageSummarize  = "summarize"
)

// ErrEpisodeBusy is returned when another worker holds the episode claim
var ErrEpisodeBusy = core.ErrEpisodeBusy

// Config holds orchestrator tuning
type Config struct {
	Workers      int
	ClaimTTL     time.Duration
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	StageTimeout time.Duration
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Workers:      2,
		ClaimTTL:     30 * time.Minute,
		MaxAttempts:  3,
		BaseDelay:    5 * time.Second,
		MaxDelay:     time.Minute,
		StageTimeout: 20 * time.Minute,
	}
}

// DownloadReport aggregates DownloadFeed results in feed order
type DownloadReport struct {
	Feeds       []DownloadResult
	NewEpisodes int
	Existing    int
	Failures    int
	Skipped     int
	Duration    time.Duration
}

// EpisodeError records a per-episode stage failure
type EpisodeError struct {
	EpisodeID int64
	Stage     string
	Retryable bool
	Err       error
}

func (e EpisodeError) Error() string {
	return fmt.Sprintf("episode %d %s: %v", e.EpisodeID, e.Stage, e.Err)
}

// StageReport counts outcomes of one stage over a batch
type StageReport struct {
	Stage     string
	Succeeded int
	Failed    int
	Skipped   int
	Retryable int
	Fallbacks int
	Errors    []EpisodeError
}

// BatchReport is the result of RunBatch
type BatchReport struct {
	Transcription StageReport
	Summarization StageReport
	Cancelled     bool
	Duration      time.Duration
}

// RunReport is the result of Run
type RunReport struct {
	Download *DownloadReport
	Batch    *BatchReport
}

// EpisodeReport is the result of ProcessEpisode
type EpisodeReport struct {
	EpisodeID   int64
	Transcribed bool
	Summarized  bool
	Fallback    bool
	FinalStatus core.Status
}

// Outcome is the result of running a stage on one episode
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
	OutcomeRetryable Outcome = "retryable"
	OutcomeFallback  Outcome = "fallback"
)

// Pipeline orchestrates the stages. It holds no state besides its
// collaborators; all episode state lives in the store.
type Pipeline struct {
	store       persistence.Backend
	downloader  *Downloader
	transcriber Transcriber
	summarizer  Summarizer
	config      Config
	retrier     *retry.Retrier
	log         *slog.Logger

	now      func() time.Time
	newToken func() string
}

// New creates a Pipeline. downloader may be nil for batch-only use.
func New(store persistence.Backend, downloader *Downloader, transcriber Transcriber, summarizer Summarizer, config Config) *Pipeline {
	defaults := DefaultConfig()
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.ClaimTTL <= 0 {
		config.ClaimTTL = defaults.ClaimTTL
	}
	if config.StageTimeout <= 0 {
		config.StageTimeout = defaults.StageTimeout
	}

	log := logger.Get().With("component", "pipeline")
	retryConfig := retry.RetryConfig{
		MaxAttempts:   config.MaxAttempts,
		BaseDelay:     config.BaseDelay,
		MaxDelay:      config.MaxDelay,
		BackoffFactor: 2,
		JitterFactor:  0.2,
	}

	return &Pipeline{
		store:       store,
		downloader:  downloader,
		transcriber: transcriber,
		summarizer:  summarizer,
		config:      config,
		retrier:     retry.NewRetrier(retryConfig, core.IsRetryable, log),
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
		newToken:    uuid.NewString,
	}
}

// workers is the pool size; backends with a single writer lock get one worker
func (p *Pipeline) workers() int {
	if !p.store.SupportsConcurrentWriters() {
		return 1
	}
	return p.config.Workers
}

// Download fetches new episodes from every feed through a bounded pool.
// Feeds that are unavailable are reported and skipped.
func (p *Pipeline) Download(ctx context.Context, feeds []core.FeedDescriptor, maxEpisodes int) (*DownloadReport, error) {
	if p.downloader == nil {
		return nil, fmt.Errorf("pipeline has no downloader configured")
	}
	start := time.Now()
	results := make([]*DownloadResult, len(feeds))
	errs := make([]error, len(feeds))

	var g errgroup.Group
	g.SetLimit(p.workers())
	for i, feed := range feeds {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			results[i], errs[i] = p.downloader.DownloadFeed(ctx, feed, maxEpisodes)
			return nil
		})
	}
	_ = g.Wait()

	report := &DownloadReport{Duration: time.Since(start)}
	for _, res := range results {
		if res == nil {
			continue
		}
		report.Feeds = append(report.Feeds, *res)
		report.NewEpisodes += len(res.NewEpisodeIDs)
		report.Existing += res.Existing
		report.Failures += len(res.Failures)
		if res.Skipped {
			report.Skipped++
		}
	}
	metrics.RecordStage(StageDownload, "completed", report.Duration.Seconds())

	p.log.Info("Download finished",
		"feeds", len(report.Feeds),
		"new", report.NewEpisodes,
		"existing", report.Existing,
		"failures", report.Failures,
		"skipped_feeds", report.Skipped)

	if err := errors.Join(errs...); err != nil {
		return report, fmt.Errorf("failed to download feeds: %w", err)
	}
	return report, nil
}

// RunBatch transcribes every downloaded episode, then summarizes every
// transcribed one. Per-episode failures are reported, not returned.
func (p *Pipeline) RunBatch(ctx context.Context) (*BatchReport, error) {
	start := time.Now()
	report := &BatchReport{}

	transcription, err := p.TranscribeAll(ctx)
	if err != nil {
		return nil, err
	}
	report.Transcription = *transcription

	summarization, err := p.SummarizeAll(ctx)
	if err != nil {
		return nil, err
	}
	report.Summarization = *summarization

	report.Cancelled = ctx.Err() != nil
	report.Duration = time.Since(start)
	p.log.Info("Batch finished",
		"transcribed", report.Transcription.Succeeded,
		"transcribe_failed", report.Transcription.Failed,
		"transcribe_retryable", report.Transcription.Retryable,
		"summarized", report.Summarization.Succeeded,
		"cancelled", report.Cancelled,
		"elapsed", report.Duration)
	return report, nil
}

// TranscribeAll runs the transcription stage over every downloaded episode
func (p *Pipeline) TranscribeAll(ctx context.Context) (*StageReport, error) {
	episodes, err := p.store.EpisodesByStatus(ctx, core.StatusDownloaded)
	if err != nil {
		return nil, err
	}
	report := p.runStage(ctx, StageTranscribe, core.StatusDownloaded, episodes, p.transcribe)
	return &report, nil
}

// SummarizeAll runs the summarization stage over every transcribed episode
func (p *Pipeline) SummarizeAll(ctx context.Context) (*StageReport, error) {
	if ctx.Err() != nil {
		return &StageReport{Stage: StageSummarize}, nil
	}
	episodes, err := p.store.EpisodesByStatus(ctx, core.StatusTranscribed)
	if err != nil {
		return nil, err
	}
	report := p.runStage(ctx, StageSummarize, core.StatusTranscribed, episodes, p.summarize)
	return &report, nil
}

// Run downloads new episodes and processes the batch
func (p *Pipeline) Run(ctx context.Context, feeds []core.FeedDescriptor, maxEpisodes int) (*RunReport, error) {
	download, err := p.Download(ctx, feeds, maxEpisodes)
	if err != nil {
		return &RunReport{Download: download}, err
	}
	batch, err := p.RunBatch(ctx)
	return &RunReport{Download: download, Batch: batch}, err
}

// TranscribeEpisode claims and transcribes a single episode. An episode
// already past transcription is skipped.
func (p *Pipeline) TranscribeEpisode(ctx context.Context, id int64) (Outcome, error) {
	return p.runEpisode(ctx, StageTranscribe, id, p.transcribe)
}

// SummarizeEpisode claims and summarizes a single episode. A processed
// episode is claimed too so a missing summary can be regenerated.
func (p *Pipeline) SummarizeEpisode(ctx context.Context, id int64) (Outcome, error) {
	return p.runEpisode(ctx, StageSummarize, id, p.summarize)
}

func (p *Pipeline) runEpisode(ctx context.Context, stage string, id int64, fn stageFunc) (Outcome, error) {
	ep, err := p.store.GetEpisode(ctx, id)
	if err != nil {
		return OutcomeFailed, err
	}
	if run, out, err := gate(stage, id, ep.Status); !run {
		return out, err
	}
	return p.claimAndRun(ctx, stage, ep.Status, id, fn)
}

// gate decides whether stage should claim an episode in status. When it
// should not, out and err are what the caller reports instead.
func gate(stage string, id int64, status core.Status) (run bool, out Outcome, err error) {
	switch stage {
	case StageTranscribe:
		switch status {
		case core.StatusDownloaded:
			return true, "", nil
		case core.StatusTranscribed, core.StatusProcessed:
			return false, OutcomeSkipped, nil
		}
	case StageSummarize:
		switch status {
		case core.StatusTranscribed, core.StatusProcessed:
			return true, "", nil
		}
	}
	return false, OutcomeSkipped, fmt.Errorf("%w: cannot %s episode %d in status %s", core.ErrInvalidTransition, stage, id, status)
}

// ProcessEpisode runs the remaining stages of one episode in order
func (p *Pipeline) ProcessEpisode(ctx context.Context, id int64) (*EpisodeReport, error) {
	report := &EpisodeReport{EpisodeID: id}

	ep, err := p.store.GetEpisode(ctx, id)
	if err != nil {
		return nil, err
	}

	switch ep.Status {
	case core.StatusFailed:
		return nil, fmt.Errorf("%w: episode %d is failed (%s); use reprocess", core.ErrInvalidTransition, id, ep.ErrorReason)
	case core.StatusDownloaded:
		out, err := p.TranscribeEpisode(ctx, id)
		if err != nil {
			return nil, err
		}
		report.Transcribed = out == OutcomeSucceeded
	}

	out, err := p.SummarizeEpisode(ctx, id)
	if err != nil {
		return nil, err
	}
	report.Summarized = out == OutcomeSucceeded || out == OutcomeFallback
	report.Fallback = out == OutcomeFallback

	ep, err = p.store.GetEpisode(ctx, id)
	if err != nil {
		return nil, err
	}
	report.FinalStatus = ep.Status
	return report, nil
}

// ForceReprocess moves an episode back to from and processes it again.
// from is core.StatusDownloaded (new transcript and summary) or
// core.StatusTranscribed (new summary only). This is the only operation
// that moves an episode backward.
func (p *Pipeline) ForceReprocess(ctx context.Context, id int64, from core.Status) (*EpisodeReport, error) {
	if from != core.StatusDownloaded && from != core.StatusTranscribed {
		return nil, fmt.Errorf("%w: cannot reprocess from %s", core.ErrInvalidTransition, from)
	}
	if err := p.store.ResetStatus(ctx, id, from, p.now().Add(-p.config.ClaimTTL)); err != nil {
		return nil, err
	}
	p.log.Info("Episode reset for reprocessing", "episode_id", id, "from", from)
	return p.ProcessEpisode(ctx, id)
}

type stageFunc func(ctx context.Context, id int64) (Outcome, error)

// runStage fans episodes out to the worker pool. A cancelled ctx stops new
// work from starting; running episodes finish on their own.
func (p *Pipeline) runStage(ctx context.Context, stage string, expected core.Status, episodes []core.Episode, fn stageFunc) StageReport {
	report := StageReport{Stage: stage}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(p.workers())
	for _, ep := range episodes {
		if ctx.Err() != nil {
			p.log.Info("Batch cancelled, not starting more episodes", "stage", stage)
			break
		}
		g.Go(func() error {
			// the slot may free up only after cancellation
			if ctx.Err() != nil {
				return nil
			}
			out, err := p.claimAndRun(ctx, stage, expected, ep.ID, fn)
			if errors.Is(err, ErrEpisodeBusy) {
				out, err = OutcomeSkipped, nil
			}

			mu.Lock()
			defer mu.Unlock()
			switch out {
			case OutcomeSucceeded:
				report.Succeeded++
			case OutcomeFallback:
				report.Succeeded++
				report.Fallbacks++
			case OutcomeSkipped:
				report.Skipped++
			case OutcomeRetryable:
				report.Retryable++
			default:
				report.Failed++
			}
			if err != nil {
				report.Errors = append(report.Errors, EpisodeError{
					EpisodeID: ep.ID,
					Stage:     stage,
					Retryable: out == OutcomeRetryable,
					Err:       err,
				})
			}
			return nil
		})
	}
	_ = g.Wait()
	return report
}

// claimAndRun owns the episode for the duration of fn. The stage runs on a
// context detached from ctx so cancellation never aborts it mid-call. The
// claim is renewed while fn runs and every store write fn makes is checked
// against it, so a worker whose claim was taken over cannot commit results.
func (p *Pipeline) claimAndRun(ctx context.Context, stage string, expected core.Status, id int64, fn stageFunc) (Outcome, error) {
	work := context.WithoutCancel(ctx)
	log := p.log.With("stage", stage, "episode_id", id)

	token := p.newToken()
	claimed, err := p.store.ClaimEpisode(work, id, expected, token, p.now().Add(-p.config.ClaimTTL))
	if err != nil {
		return OutcomeFailed, err
	}
	if !claimed {
		ep, err := p.store.GetEpisode(work, id)
		if err != nil {
			return OutcomeFailed, err
		}
		if ep.Status != expected {
			log.Debug("Episode moved on before claim", "expected", expected, "status", ep.Status)
			if run, out, err := gate(stage, id, ep.Status); !run {
				return out, err
			}
			return OutcomeSkipped, nil
		}
		log.Debug("Episode claimed elsewhere", "expected", expected)
		metrics.ClaimConflicts.WithLabelValues(stage).Inc()
		return OutcomeSkipped, ErrEpisodeBusy
	}
	defer func() {
		if err := p.store.ReleaseEpisode(work, id, token); err != nil {
			logger.Error("Failed to release episode claim", err, "episode_id", id)
		}
	}()

	stop := p.holdClaim(work, id, token, log)
	start := time.Now()
	out, err := fn(persistence.WithClaim(ctx, token), id)
	stop()

	if errors.Is(err, core.ErrClaimLost) {
		log.Warn("Claim taken over while the stage ran, result discarded")
		out = OutcomeSkipped
	}
	metrics.RecordStage(stage, string(out), time.Since(start).Seconds())
	return out, err
}

// holdClaim renews the claim every third of the claim TTL until stop is
// called or the claim is found taken over.
func (p *Pipeline) holdClaim(ctx context.Context, id int64, token string, log *slog.Logger) (stop func()) {
	interval := p.config.ClaimTTL / 3
	if interval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				held, err := p.store.RenewClaim(ctx, id, token)
				if err != nil {
					log.Warn("Failed to renew claim", "error", err)
					continue
				}
				if !held {
					log.Warn("Claim no longer held, stopping renewal")
					return
				}
			}
		}
	}()

	return func() {
		close(done)
		wg.Wait()
	}
}

// transcribe retries retryable failures with backoff. Waits between
// attempts stop when ctx is cancelled; each attempt itself is detached.
func (p *Pipeline) transcribe(ctx context.Context, id int64) (Outcome, error) {
	work := context.WithoutCancel(ctx)
	skipped := false

	err := p.retrier.Do(ctx, func(context.Context) error {
		callCtx, cancel := context.WithTimeout(work, p.config.StageTimeout)
		defer cancel()
		res, err := p.transcriber.Run(callCtx, id)
		if err != nil {
			return err
		}
		skipped = res.Skipped
		return nil
	})

	switch {
	case err == nil && skipped:
		return OutcomeSkipped, nil
	case err == nil:
		return OutcomeSucceeded, nil
	case core.IsRetryable(err):
		return OutcomeRetryable, err
	default:
		return OutcomeFailed, err
	}
}

func (p *Pipeline) summarize(ctx context.Context, id int64) (Outcome, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.config.StageTimeout)
	defer cancel()

	res, err := p.summarizer.Run(callCtx, id)
	switch {
	case err != nil:
		return OutcomeFailed, err
	case res.Skipped:
		return OutcomeSkipped, nil
	case res.Fallback:
		return OutcomeFallback, nil
	default:
		return OutcomeSucceeded, nil
	}
}
