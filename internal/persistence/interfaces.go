package persistence

import (
	"context"
	"time"

	"podpipe/internal/core"
)

// Backend is the storage contract shared by the embedded and networked stores.
// Every implementation must return identical results for the same sequence
// of calls, apart from Stats.StorageBytes.
type Backend interface {
	// Kind returns "sqlite" or "postgres".
	Kind() string
	// SupportsConcurrentWriters reports whether independent writers may
	// operate in parallel without contention on a single lock.
	SupportsConcurrentWriters() bool
	Ping(ctx context.Context) error
	Close() error

	PodcastRepository
	EpisodeRepository
	ContentRepository

	Stats(ctx context.Context) (*core.Stats, error)
}

// PodcastRepository manages feeds.
type PodcastRepository interface {
	UpsertPodcast(ctx context.Context, feedURL, title, category string) (int64, error)
	PodcastByURL(ctx context.Context, feedURL string) (*core.Podcast, error)
	ListPodcasts(ctx context.Context) ([]core.Podcast, error)
	// DeletePodcastEpisodes removes every episode of a podcast with its
	// transcripts and summaries in one transaction.
	DeletePodcastEpisodes(ctx context.Context, podcastID int64) (int64, error)
}

// EpisodeRepository manages episode identity and status.
// UpdateStatus, WriteTranscript and WriteSummary fail with core.ErrClaimLost
// when ctx carries a claim (see WithClaim) the episode no longer holds.
type EpisodeRepository interface {
	EpisodeExists(ctx context.Context, sourceURL string) (bool, error)
	CreateEpisode(ctx context.Context, ep core.NewEpisode) (int64, error)
	GetEpisode(ctx context.Context, id int64) (*core.Episode, error)
	EpisodesByStatus(ctx context.Context, status core.Status) ([]core.Episode, error)
	// UpdateStatus persists a forward transition atomically and rejects
	// anything else with core.ErrInvalidTransition.
	UpdateStatus(ctx context.Context, id int64, status core.Status, reason string) error
	// ResetStatus is the force-reprocess path. It moves an episode back to
	// target and drops the content that depends on later stages. A claim
	// taken at or after staleBefore makes it fail with core.ErrEpisodeBusy.
	ResetStatus(ctx context.Context, id int64, target core.Status, staleBefore time.Time) error
	// ClaimEpisode marks the episode as owned by token when it is in the
	// expected status and unclaimed, or its claim is older than staleBefore.
	ClaimEpisode(ctx context.Context, id int64, expected core.Status, token string, staleBefore time.Time) (bool, error)
	// RenewClaim refreshes claimed_at while token still holds the claim.
	RenewClaim(ctx context.Context, id int64, token string) (bool, error)
	ReleaseEpisode(ctx context.Context, id int64, token string) error
}

// ContentRepository stores stage outputs.
type ContentRepository interface {
	// WriteTranscript replaces the transcript and invalidates any summary.
	WriteTranscript(ctx context.Context, episodeID int64, t core.Transcript) error
	GetTranscript(ctx context.Context, episodeID int64) (*core.Transcript, error)
	WriteSummary(ctx context.Context, episodeID int64, s core.Summary) error
	GetSummary(ctx context.Context, episodeID int64) (*core.Summary, error)
	ListSummaries(ctx context.Context, limit int) ([]core.EpisodeSummary, error)
}
