// Package audio downloads episode audio and wraps the ffmpeg/ffprobe tools
// used to normalize, measure and split it.
package audio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"podpipe/internal/core"
	"podpipe/internal/logger"
)

// Options configures the audio tools
type Options struct {
	FFmpegPath      string
	FFprobePath     string
	Format          string // wav or mp3
	SampleRate      int
	UserAgent       string
	DownloadTimeout time.Duration
	ConvertTimeout  time.Duration
}

func (o Options) withDefaults() Options {
	if o.FFmpegPath == "" {
		o.FFmpegPath = "ffmpeg"
	}
	if o.FFprobePath == "" {
		o.FFprobePath = "ffprobe"
	}
	if o.Format == "" {
		o.Format = "wav"
	}
	if o.SampleRate <= 0 {
		o.SampleRate = 16000
	}
	if o.DownloadTimeout <= 0 {
		o.DownloadTimeout = 30 * time.Minute
	}
	if o.ConvertTimeout <= 0 {
		o.ConvertTimeout = 30 * time.Minute
	}
	return o
}

// Fetcher downloads enclosures and normalizes them for speech-to-text
type Fetcher struct {
	opts   Options
	client *http.Client
	runner Runner
	log    *slog.Logger
}

// NewFetcher creates a fetcher. A nil runner uses os/exec.
func NewFetcher(opts Options, runner Runner) *Fetcher {
	opts = opts.withDefaults()
	if runner == nil {
		runner = NewExecRunner()
	}
	return &Fetcher{
		opts:   opts,
		client: &http.Client{Timeout: opts.DownloadTimeout},
		runner: runner,
		log:    logger.Get(),
	}
}

// Format is the extension of normalized files
func (f *Fetcher) Format() string { return f.opts.Format }

// Download streams url to dest. The file only appears at dest once the body
// has been fully written.
func (f *Fetcher) Download(ctx context.Context, url, dest string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", fmt.Errorf("%w: failed to create directory: %v", core.ErrDownloadFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: invalid url %q: %v", core.ErrDownloadFailed, url, err)
	}
	if f.opts.UserAgent != "" {
		req.Header.Set("User-Agent", f.opts.UserAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrDownloadFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: server returned status %d", core.ErrDownloadFailed, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".partial-*")
	if err != nil {
		return "", fmt.Errorf("%w: failed to create temp file: %v", core.ErrDownloadFailed, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	written, err := io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("%w: failed to write audio: %v", core.ErrDownloadFailed, err)
	}
	if written == 0 {
		return "", fmt.Errorf("%w: empty response body", core.ErrDownloadFailed)
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("%w: failed to move audio into place: %v", core.ErrDownloadFailed, err)
	}

	f.log.Debug("Downloaded audio", "url", url, "path", dest, "bytes", written)
	return dest, nil
}

// NormalizedPath is where Normalize writes the converted copy of path
func (f *Fetcher) NormalizedPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + "." + f.opts.Format
}

// Normalize converts path to mono at the configured sample rate with
// loudness normalization, removes the source and returns the new path.
func (f *Fetcher) Normalize(ctx context.Context, path string) (string, error) {
	out := f.NormalizedPath(path)
	if out == path {
		return "", fmt.Errorf("%w: source already has the target extension: %s", core.ErrDownloadFailed, path)
	}

	ctx, cancel := context.WithTimeout(ctx, f.opts.ConvertTimeout)
	defer cancel()

	codec := "pcm_s16le"
	if f.opts.Format == "mp3" {
		codec = "libmp3lame"
	}
	args := []string{
		"-y",
		"-i", path,
		"-ar", strconv.Itoa(f.opts.SampleRate),
		"-ac", "1",
		"-c:a", codec,
		"-af", "loudnorm",
		"-loglevel", "error",
		out,
	}
	if _, err := f.runner.RunWithOutput(ctx, f.opts.FFmpegPath, args); err != nil {
		_ = os.Remove(out)
		return "", fmt.Errorf("%w: normalize failed: %v", core.ErrDownloadFailed, err)
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		f.log.Warn("Failed to remove raw download", "path", path, "error", err)
	}
	return out, nil
}

// Prober reads media metadata with ffprobe
type Prober struct {
	path   string
	runner Runner
}

// NewProber creates a prober. A nil runner uses os/exec.
func NewProber(ffprobePath string, runner Runner) *Prober {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if runner == nil {
		runner = NewExecRunner()
	}
	return &Prober{path: ffprobePath, runner: runner}
}

// Duration returns the media duration in seconds
func (p *Prober) Duration(ctx context.Context, path string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	out, err := p.runner.RunWithOutput(ctx, p.path, []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to probe duration: %w", err)
	}

	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %q: %w", strings.TrimSpace(string(out)), err)
	}
	return d, nil
}
