package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"podpipe/internal/audio"
	"podpipe/internal/core"
	"podpipe/internal/logger"
	"podpipe/internal/metrics"
	"podpipe/internal/persistence"
)

const urlHashLength = 10

// DownloadFailure is one feed entry that could not be saved
type DownloadFailure struct {
	URL   string
	Title string
	Err   error
}

// DownloadResult is the outcome of downloading one feed
type DownloadResult struct {
	Feed          core.FeedDescriptor
	PodcastID     int64
	NewEpisodeIDs []int64
	Existing      int
	Failures      []DownloadFailure
	Skipped       bool
	SkipReason    string
}

// Downloader registers new feed entries and stores their audio
type Downloader struct {
	store    persistence.Backend
	parser   FeedParser
	fetcher  AudioFetcher
	prober   DurationProber
	audioDir string
	log      *slog.Logger
}

// NewDownloader creates a Downloader writing audio under audioDir
func NewDownloader(store persistence.Backend, parser FeedParser, fetcher AudioFetcher, prober DurationProber, audioDir string) *Downloader {
	return &Downloader{
		store:    store,
		parser:   parser,
		fetcher:  fetcher,
		prober:   prober,
		audioDir: audioDir,
		log:      logger.Get().With("stage", "download"),
	}
}

// DownloadFeed saves up to maxEpisodes new episodes from the newest
// maxEpisodes entries of feed. An unavailable feed is reported as skipped;
// per-episode failures are collected and do not stop the feed. Only
// storage errors are returned.
func (d *Downloader) DownloadFeed(ctx context.Context, feed core.FeedDescriptor, maxEpisodes int) (*DownloadResult, error) {
	result := &DownloadResult{Feed: feed}
	log := d.log.With("feed", feed.URL)

	parsed, err := d.parser.Parse(ctx, feed.URL)
	if err != nil {
		log.Warn("Skipping feed", "error", err)
		result.Skipped = true
		result.SkipReason = err.Error()
		return result, nil
	}

	title := feed.Name
	if title == "" {
		title = parsed.Title
	}
	podcastID, err := d.store.UpsertPodcast(ctx, feed.URL, title, feed.Category)
	if err != nil {
		return result, err
	}
	result.PodcastID = podcastID

	entries := parsed.Episodes
	if maxEpisodes > 0 && len(entries) > maxEpisodes {
		entries = entries[:maxEpisodes]
	}

	for _, entry := range entries {
		if maxEpisodes > 0 && len(result.NewEpisodeIDs) >= maxEpisodes {
			break
		}
		if ctx.Err() != nil {
			log.Info("Download cancelled", "saved", len(result.NewEpisodeIDs))
			break
		}

		exists, err := d.store.EpisodeExists(ctx, entry.EnclosureURL)
		if err != nil {
			return result, err
		}
		if exists {
			result.Existing++
			metrics.EpisodesDownloaded.WithLabelValues("existing").Inc()
			continue
		}

		id, err := d.saveEpisode(ctx, podcastID, title, feed.URL, entry)
		switch {
		case errors.Is(err, core.ErrDuplicateEpisode):
			result.Existing++
			metrics.EpisodesDownloaded.WithLabelValues("existing").Inc()
		case errors.Is(err, core.ErrDownloadFailed):
			log.Warn("Episode download failed", "url", entry.EnclosureURL, "error", err)
			result.Failures = append(result.Failures, DownloadFailure{URL: entry.EnclosureURL, Title: entry.Title, Err: err})
			metrics.EpisodesDownloaded.WithLabelValues("failed").Inc()
		case err != nil:
			return result, err
		default:
			log.Info("Episode downloaded", "episode_id", id, "title", entry.Title)
			result.NewEpisodeIDs = append(result.NewEpisodeIDs, id)
			metrics.EpisodesDownloaded.WithLabelValues("new").Inc()
		}
	}

	return result, nil
}

// EpisodePath is the content-addressed location of an episode's audio:
// <dir>/<podcast-slug>/<episode-slug>-<url-hash>.<format>
func EpisodePath(dir, podcastTitle, feedURL, episodeTitle, enclosureURL, format string) string {
	podcastSlug := audio.Slug(podcastTitle, audio.DefaultSlugLength)
	if podcastSlug == "" {
		podcastSlug = "podcast-" + audio.URLHash(feedURL, urlHashLength)
	}
	episodeSlug := audio.Slug(episodeTitle, audio.DefaultSlugLength)
	if episodeSlug == "" {
		episodeSlug = "episode"
	}
	name := fmt.Sprintf("%s-%s.%s", episodeSlug, audio.URLHash(enclosureURL, urlHashLength), format)
	return filepath.Join(dir, podcastSlug, name)
}

func (d *Downloader) saveEpisode(ctx context.Context, podcastID int64, podcastTitle, feedURL string, entry core.EpisodeDescriptor) (int64, error) {
	path := EpisodePath(d.audioDir, podcastTitle, feedURL, entry.Title, entry.EnclosureURL, d.fetcher.Format())

	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		d.log.Debug("Audio already on disk, skipping download", "path", path)
	} else {
		raw := path[:len(path)-len(filepath.Ext(path))] + ".download"
		raw, err = d.fetcher.Download(ctx, entry.EnclosureURL, raw)
		if err != nil {
			return 0, err
		}
		normalized, err := d.fetcher.Normalize(ctx, raw)
		if err != nil {
			_ = os.Remove(raw)
			return 0, err
		}
		path = normalized
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", core.ErrDownloadFailed, err)
	}

	var duration float64
	if d.prober != nil {
		if duration, err = d.prober.Duration(ctx, path); err != nil {
			d.log.Warn("Could not probe duration", "path", path, "error", err)
			duration = 0
		}
	}

	return d.store.CreateEpisode(ctx, core.NewEpisode{
		PodcastID:       podcastID,
		Title:           entry.Title,
		Description:     entry.Description,
		PublishDate:     entry.PublishDate,
		SourceURL:       entry.EnclosureURL,
		AudioPath:       path,
		DurationSeconds: duration,
		FileSizeBytes:   info.Size(),
	})
}
