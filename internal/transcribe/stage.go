package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"podpipe/internal/audio"
	"podpipe/internal/core"
	"podpipe/internal/logger"
)

// segmentTolerance absorbs rounding when comparing segment boundaries
const segmentTolerance = 0.01

// Store is the storage the stage needs
type Store interface {
	GetEpisode(ctx context.Context, id int64) (*core.Episode, error)
	GetTranscript(ctx context.Context, episodeID int64) (*core.Transcript, error)
	WriteTranscript(ctx context.Context, episodeID int64, t core.Transcript) error
	UpdateStatus(ctx context.Context, id int64, status core.Status, reason string) error
}

// DurationProber measures audio files
type DurationProber interface {
	Duration(ctx context.Context, path string) (float64, error)
}

// Splitter cuts an audio file into chunk files
type Splitter interface {
	Split(ctx context.Context, path string, spans []audio.Span, dir string) ([]string, error)
}

// Config controls chunking
type Config struct {
	MaxUploadBytes int64
	ChunkDuration  time.Duration
	ChunkOverlap   time.Duration
	ChunkDirectory string
}

// Result describes one stage invocation
type Result struct {
	EpisodeID int64
	Skipped   bool
	// Recovered is set when a stored transcript only needed its status advanced
	Recovered bool
	Chunks    int
	Segments  int
	Duration  time.Duration
}

// Stage runs transcription for one episode at a time
type Stage struct {
	store    Store
	stt      SpeechToText
	prober   DurationProber
	splitter Splitter
	cfg      Config
	log      *slog.Logger
}

// NewStage wires the transcription stage
func NewStage(store Store, stt SpeechToText, prober DurationProber, splitter Splitter, cfg Config) *Stage {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 80 << 20
	}
	if cfg.ChunkDuration <= 0 {
		cfg.ChunkDuration = 30 * time.Minute
	}
	if cfg.ChunkDirectory == "" {
		cfg.ChunkDirectory = filepath.Join(os.TempDir(), "podpipe-chunks")
	}
	return &Stage{
		store:    store,
		stt:      stt,
		prober:   prober,
		splitter: splitter,
		cfg:      cfg,
		log:      logger.Get().With("stage", "transcribe"),
	}
}

// Run transcribes an episode in status downloaded. Episodes already past
// this stage are skipped without calling the speech-to-text service.
func (s *Stage) Run(ctx context.Context, episodeID int64) (*Result, error) {
	start := time.Now()
	result := &Result{EpisodeID: episodeID}
	log := s.log.With("episode_id", episodeID)

	ep, err := s.store.GetEpisode(ctx, episodeID)
	if err != nil {
		return nil, err
	}

	switch ep.Status {
	case core.StatusTranscribed, core.StatusProcessed:
		result.Skipped = true
		return result, nil
	case core.StatusFailed:
		return nil, fmt.Errorf("%w: episode %d is failed", core.ErrInvalidTransition, episodeID)
	}

	// a transcript written before a crash only needs the status update
	if _, err := s.store.GetTranscript(ctx, episodeID); err == nil {
		if err := s.store.UpdateStatus(ctx, episodeID, core.StatusTranscribed, ""); err != nil {
			return nil, err
		}
		log.Info("Recovered stored transcript")
		result.Recovered = true
		return result, nil
	} else if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	transcript, chunks, err := s.transcribe(ctx, ep)
	if err != nil {
		return nil, s.fail(ctx, ep, err)
	}

	if err := s.store.WriteTranscript(ctx, episodeID, *transcript); err != nil {
		return nil, err
	}
	if err := s.store.UpdateStatus(ctx, episodeID, core.StatusTranscribed, ""); err != nil {
		return nil, err
	}

	result.Chunks = chunks
	result.Segments = len(transcript.Segments)
	result.Duration = time.Since(start)
	log.Info("Episode transcribed", "chunks", chunks, "segments", result.Segments, "elapsed", result.Duration)
	return result, nil
}

// fail marks permanent failures on the episode and passes retryable ones through
func (s *Stage) fail(ctx context.Context, ep *core.Episode, err error) error {
	var te *core.TranscriptionError
	if !errors.As(err, &te) {
		if core.IsRetryable(err) {
			te = core.NewRetryable("timeout", err)
		} else {
			te = core.NewRetryable("unexpected error", err)
		}
	}
	if te.Retryable {
		s.log.Warn("Transcription failed, will retry later", "episode_id", ep.ID, "error", te)
		return te
	}

	if err := s.store.UpdateStatus(ctx, ep.ID, core.StatusFailed, te.Error()); err != nil {
		logger.Error("Failed to mark episode failed", err, "episode_id", ep.ID)
	}
	s.log.Error("Transcription failed permanently", "episode_id", ep.ID, "error", te)
	return te
}

func (s *Stage) transcribe(ctx context.Context, ep *core.Episode) (*core.Transcript, int, error) {
	if ep.AudioPath == "" {
		return nil, 0, core.NewPermanent("episode has no audio file", nil)
	}
	info, err := os.Stat(ep.AudioPath)
	if err != nil {
		return nil, 0, core.NewPermanent("audio file missing", err)
	}
	if info.Size() == 0 {
		return nil, 0, core.NewPermanent("audio file is empty", nil)
	}

	duration := ep.DurationSeconds
	if duration <= 0 && s.prober != nil {
		if d, err := s.prober.Duration(ctx, ep.AudioPath); err == nil {
			duration = d
		} else {
			s.log.Warn("Could not probe duration", "episode_id", ep.ID, "error", err)
		}
	}

	spans := audio.PlanChunks(duration, info.Size(), s.cfg.MaxUploadBytes, s.cfg.ChunkDuration, s.cfg.ChunkOverlap)
	paths := []string{ep.AudioPath}
	var chunkDir string
	if len(spans) > 1 {
		if s.splitter == nil {
			return nil, 0, core.NewPermanent("audio exceeds upload limit and no splitter is configured", nil)
		}
		chunkDir = filepath.Join(s.cfg.ChunkDirectory, s.chunkSlug(ep))
		defer func() {
			if err := os.RemoveAll(chunkDir); err != nil {
				s.log.Warn("Failed to remove chunk directory", "dir", chunkDir, "error", err)
			}
		}()
		paths, err = s.splitter.Split(ctx, ep.AudioPath, spans, chunkDir)
		if err != nil {
			// a split cut short by the stage deadline can succeed on a later attempt
			if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				return nil, 0, core.NewRetryable("audio split timed out", err)
			}
			return nil, 0, core.NewPermanent("failed to split audio", err)
		}
		s.log.Info("Split audio into chunks", "episode_id", ep.ID, "chunks", len(paths), "dir", chunkDir)
	}

	parts := make([]*ChunkTranscript, 0, len(paths))
	for i, path := range paths {
		ct, err := s.stt.Transcribe(ctx, path)
		if err != nil {
			return nil, 0, err
		}
		s.log.Debug("Chunk transcribed", "episode_id", ep.ID, "chunk", i+1, "of", len(paths))
		parts = append(parts, ct)
	}

	transcript := MergeChunks(spans, parts)
	transcript.EpisodeID = ep.ID
	transcript.Model = s.stt.Model()
	return transcript, len(paths), nil
}

func (s *Stage) chunkSlug(ep *core.Episode) string {
	base := strings.TrimSuffix(filepath.Base(ep.AudioPath), filepath.Ext(ep.AudioPath))
	if slug := audio.Slug(base, audio.DefaultSlugLength); slug != "" {
		return slug
	}
	return fmt.Sprintf("episode-%d", ep.ID)
}

// MergeChunks shifts each chunk's segments by its span start and drops
// segments that start before the last kept segment ends, so timestamps
// are monotonic across the whole episode.
func MergeChunks(spans []audio.Span, parts []*ChunkTranscript) *core.Transcript {
	t := &core.Transcript{ChunkCount: len(parts)}
	lastEnd := 0.0
	var texts []string

	for i, part := range parts {
		if part == nil {
			continue
		}
		if t.Language == "" {
			t.Language = part.Language
		}
		offset := 0.0
		if i < len(spans) {
			offset = spans[i].Start
		}

		if len(part.Segments) == 0 && part.Text != "" {
			texts = append(texts, part.Text)
		}
		for _, seg := range part.Segments {
			abs := core.Segment{Start: seg.Start + offset, End: seg.End + offset, Text: seg.Text}
			if len(t.Segments) > 0 && abs.Start+segmentTolerance < lastEnd {
				continue
			}
			if abs.End < abs.Start {
				abs.End = abs.Start
			}
			abs.Index = len(t.Segments)
			t.Segments = append(t.Segments, abs)
			lastEnd = abs.End
			if abs.Text != "" {
				texts = append(texts, abs.Text)
			}
		}
	}

	t.FullText = strings.Join(texts, " ")
	return t
}
