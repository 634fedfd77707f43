package audio

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// sizeHeadroom keeps estimated chunk sizes below the upload limit
const sizeHeadroom = 0.95

// Span is one planned chunk of an audio file, in seconds from the start
type Span struct {
	Index int
	Start float64
	End   float64
}

// Duration of the span in seconds
func (s Span) Duration() float64 { return s.End - s.Start }

// PlanChunks splits a file into fixed-duration spans when sizeBytes exceeds
// maxBytes. The chunk length starts at chunkDuration and shrinks until the
// estimated chunk size fits. Consecutive spans overlap by overlap.
// An unknown duration (<= 0) is estimated at one megabyte per minute.
func PlanChunks(duration float64, sizeBytes, maxBytes int64, chunkDuration, overlap time.Duration) []Span {
	if maxBytes <= 0 || sizeBytes <= maxBytes {
		return []Span{{Index: 0, Start: 0, End: math.Max(duration, 0)}}
	}
	if duration <= 0 {
		duration = float64(sizeBytes) / float64(1<<20) * 60
	}

	chunk := chunkDuration.Seconds()
	if chunk <= 0 {
		chunk = 30 * 60
	}
	bytesPerSecond := float64(sizeBytes) / duration
	if limit := float64(maxBytes) * sizeHeadroom; chunk*bytesPerSecond > limit {
		chunk = math.Max(1, math.Floor(limit/bytesPerSecond))
	}

	step := overlap.Seconds()
	if step < 0 || step >= chunk {
		step = 0
	}

	var spans []Span
	for start := 0.0; start < duration; {
		end := math.Min(start+chunk, duration)
		spans = append(spans, Span{Index: len(spans), Start: start, End: end})
		if end >= duration {
			break
		}
		start = end - step
	}
	return spans
}

// Splitter cuts audio files into chunk files with ffmpeg stream copy
type Splitter struct {
	ffmpegPath string
	runner     Runner
	timeout    time.Duration
}

// NewSplitter creates a splitter. A nil runner uses os/exec.
func NewSplitter(ffmpegPath string, runner Runner) *Splitter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if runner == nil {
		runner = NewExecRunner()
	}
	return &Splitter{ffmpegPath: ffmpegPath, runner: runner, timeout: 5 * time.Minute}
}

// ChunkPath names the file holding span i inside dir
func ChunkPath(dir string, i int, ext string) string {
	return filepath.Join(dir, fmt.Sprintf("chunk_%04d%s", i, ext))
}

// Split writes one file per span into dir and returns their paths in order
func (s *Splitter) Split(ctx context.Context, path string, spans []Span, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create chunk directory: %w", err)
	}

	ext := filepath.Ext(path)
	paths := make([]string, 0, len(spans))
	for _, span := range spans {
		out := ChunkPath(dir, span.Index, ext)
		args := []string{
			"-y",
			"-i", path,
			"-ss", strconv.FormatFloat(span.Start, 'f', 3, 64),
			"-t", strconv.FormatFloat(span.Duration(), 'f', 3, 64),
			"-acodec", "copy",
			"-loglevel", "error",
			out,
		}

		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		_, err := s.runner.RunWithOutput(callCtx, s.ffmpegPath, args)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("failed to cut chunk %d at %.1fs: %w", span.Index, span.Start, err)
		}
		paths = append(paths, out)
	}
	return paths, nil
}
