// Package store provides the embedded SQLite storage backend.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"podpipe/internal/core"
	"podpipe/internal/persistence"

	"github.com/mattn/go-sqlite3"
)

var _ persistence.Backend = (*Store)(nil)

// Store is the single-process SQLite backend. SQLite allows one writer at a
// time, so every mutation goes through mu.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// NewStore opens (or creates) the SQLite database at dbPath
func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on&_txlock=immediate", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{
		db:   db,
		path: dbPath,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return store, nil
}

// initialize creates the necessary tables
func (s *Store) initialize() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS podcasts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			feed_url TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS episodes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			podcast_id INTEGER NOT NULL REFERENCES podcasts (id),
			title TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			publish_date DATETIME,
			source_url TEXT NOT NULL UNIQUE,
			audio_path TEXT,
			duration_seconds REAL NOT NULL DEFAULT 0,
			file_size_bytes INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			error_reason TEXT,
			claim_token TEXT,
			claimed_at DATETIME,
			created_at DATETIME NOT NULL,
			status_changed_at DATETIME NOT NULL,
			processed_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_episodes_status ON episodes (status)`,
		`CREATE INDEX IF NOT EXISTS idx_episodes_podcast ON episodes (podcast_id)`,
		`CREATE TABLE IF NOT EXISTS transcripts (
			episode_id INTEGER PRIMARY KEY REFERENCES episodes (id) ON DELETE CASCADE,
			full_text TEXT NOT NULL,
			language TEXT NOT NULL DEFAULT '',
			chunk_count INTEGER NOT NULL DEFAULT 1,
			model TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS transcript_segments (
			episode_id INTEGER NOT NULL REFERENCES transcripts (episode_id) ON DELETE CASCADE,
			idx INTEGER NOT NULL,
			start_seconds REAL NOT NULL,
			end_seconds REAL NOT NULL,
			text TEXT NOT NULL,
			PRIMARY KEY (episode_id, idx)
		)`,
		`CREATE TABLE IF NOT EXISTS summaries (
			episode_id INTEGER PRIMARY KEY REFERENCES episodes (id) ON DELETE CASCADE,
			synopsis TEXT NOT NULL,
			topics TEXT NOT NULL,
			themes TEXT NOT NULL,
			quotes TEXT NOT NULL,
			organizations TEXT NOT NULL,
			source TEXT NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return nil
}

// Kind identifies the backend
func (s *Store) Kind() string { return "sqlite" }

// SupportsConcurrentWriters is false: writes are serialized by the store
func (s *Store) SupportsConcurrentWriters() bool { return false }

// Ping verifies the database handle
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn in a transaction while holding the write lock
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func now() time.Time { return time.Now().UTC() }

// UpsertPodcast returns the id for feedURL, creating the podcast on first sight
func (s *Store) UpsertPodcast(ctx context.Context, feedURL, title, category string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := now()
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO podcasts (feed_url, title, category, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (feed_url) DO UPDATE SET
			title = CASE WHEN excluded.title <> '' THEN excluded.title ELSE podcasts.title END,
			category = CASE WHEN excluded.category <> '' THEN excluded.category ELSE podcasts.category END,
			updated_at = excluded.updated_at
		RETURNING id`,
		feedURL, title, category, ts, ts,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert podcast: %w", err)
	}
	return id, nil
}

// PodcastByURL looks up a podcast by feed URL
func (s *Store) PodcastByURL(ctx context.Context, feedURL string) (*core.Podcast, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, feed_url, category, created_at, updated_at
		FROM podcasts WHERE feed_url = ?`, feedURL)

	var p core.Podcast
	err := row.Scan(&p.ID, &p.Title, &p.FeedURL, &p.Category, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get podcast: %w", err)
	}
	return &p, nil
}

// ListPodcasts returns all podcasts ordered by id
func (s *Store) ListPodcasts(ctx context.Context) ([]core.Podcast, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, feed_url, category, created_at, updated_at
		FROM podcasts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list podcasts: %w", err)
	}
	defer rows.Close()

	var podcasts []core.Podcast
	for rows.Next() {
		var p core.Podcast
		if err := rows.Scan(&p.ID, &p.Title, &p.FeedURL, &p.Category, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan podcast: %w", err)
		}
		podcasts = append(podcasts, p)
	}
	return podcasts, rows.Err()
}

// DeletePodcastEpisodes removes a podcast's episodes and their content atomically
func (s *Store) DeletePodcastEpisodes(ctx context.Context, podcastID int64) (int64, error) {
	var deleted int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		sub := `(SELECT id FROM episodes WHERE podcast_id = ?)`
		for _, stmt := range []string{
			`DELETE FROM transcript_segments WHERE episode_id IN ` + sub,
			`DELETE FROM transcripts WHERE episode_id IN ` + sub,
			`DELETE FROM summaries WHERE episode_id IN ` + sub,
		} {
			if _, err := tx.ExecContext(ctx, stmt, podcastID); err != nil {
				return fmt.Errorf("failed to delete episode content: %w", err)
			}
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM episodes WHERE podcast_id = ?`, podcastID)
		if err != nil {
			return fmt.Errorf("failed to delete episodes: %w", err)
		}
		deleted, err = res.RowsAffected()
		return err
	})
	return deleted, err
}

// EpisodeExists reports whether sourceURL is already registered
func (s *Store) EpisodeExists(ctx context.Context, sourceURL string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM episodes WHERE source_url = ?)`, sourceURL).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check episode: %w", err)
	}
	return exists, nil
}

// CreateEpisode registers a downloaded episode
func (s *Store) CreateEpisode(ctx context.Context, ep core.NewEpisode) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO episodes (podcast_id, title, description, publish_date, source_url, audio_path,
			duration_seconds, file_size_bytes, status, created_at, status_changed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ep.PodcastID, ep.Title, ep.Description, nullTime(ep.PublishDate), ep.SourceURL,
		nullString(ep.AudioPath), ep.DurationSeconds, ep.FileSizeBytes,
		string(core.StatusDownloaded), ts, ts,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return 0, fmt.Errorf("%w: %s", core.ErrDuplicateEpisode, ep.SourceURL)
		}
		return 0, fmt.Errorf("failed to create episode: %w", err)
	}
	return res.LastInsertId()
}

const episodeColumns = `id, podcast_id, title, description, publish_date, source_url, audio_path,
	duration_seconds, file_size_bytes, status, error_reason, claim_token, claimed_at,
	created_at, status_changed_at, processed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEpisode(row rowScanner) (*core.Episode, error) {
	var (
		ep                                 core.Episode
		status                             string
		publish, claimedAt, processedAt    sql.NullTime
		audioPath, errorReason, claimToken sql.NullString
	)
	err := row.Scan(&ep.ID, &ep.PodcastID, &ep.Title, &ep.Description, &publish, &ep.SourceURL, &audioPath,
		&ep.DurationSeconds, &ep.FileSizeBytes, &status, &errorReason, &claimToken, &claimedAt,
		&ep.CreatedAt, &ep.StatusChangedAt, &processedAt)
	if err != nil {
		return nil, err
	}
	ep.Status = core.Status(status)
	ep.AudioPath = audioPath.String
	ep.ErrorReason = errorReason.String
	ep.ClaimToken = claimToken.String
	ep.PublishDate = timePtr(publish)
	ep.ClaimedAt = timePtr(claimedAt)
	ep.ProcessedAt = timePtr(processedAt)
	return &ep, nil
}

// GetEpisode returns one episode
func (s *Store) GetEpisode(ctx context.Context, id int64) (*core.Episode, error) {
	ep, err := scanEpisode(s.db.QueryRowContext(ctx,
		`SELECT `+episodeColumns+` FROM episodes WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get episode: %w", err)
	}
	return ep, nil
}

// EpisodesByStatus lists episodes in a status ordered by id
func (s *Store) EpisodesByStatus(ctx context.Context, status core.Status) ([]core.Episode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+episodeColumns+` FROM episodes WHERE status = ? ORDER BY id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list episodes: %w", err)
	}
	defer rows.Close()

	var episodes []core.Episode
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan episode: %w", err)
		}
		episodes = append(episodes, *ep)
	}
	return episodes, rows.Err()
}

func currentStatus(ctx context.Context, tx *sql.Tx, id int64) (core.Status, error) {
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM episodes WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", core.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read status: %w", err)
	}
	return core.Status(status), nil
}

// guardClaim rejects the write when ctx carries a claim the episode no longer holds
func guardClaim(ctx context.Context, tx *sql.Tx, id int64) error {
	if _, ok := persistence.ClaimToken(ctx); !ok {
		return nil
	}
	var held sql.NullString
	err := tx.QueryRowContext(ctx, `SELECT claim_token FROM episodes WHERE id = ?`, id).Scan(&held)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read claim: %w", err)
	}
	return persistence.CheckClaim(ctx, id, held)
}

// UpdateStatus persists a forward transition
func (s *Store) UpdateStatus(ctx context.Context, id int64, status core.Status, reason string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := currentStatus(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := guardClaim(ctx, tx, id); err != nil {
			return err
		}
		if err := core.CheckTransition(current, status); err != nil {
			return err
		}

		ts := now()
		var processedAt, errorReason any
		if status == core.StatusProcessed {
			processedAt = ts
		}
		if status == core.StatusFailed {
			errorReason = reason
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE episodes SET status = ?, status_changed_at = ?,
				processed_at = COALESCE(?, processed_at), error_reason = ?
			WHERE id = ?`,
			string(status), ts, processedAt, errorReason, id)
		if err != nil {
			return fmt.Errorf("failed to update status: %w", err)
		}
		return nil
	})
}

// ResetStatus moves an episode back for a forced reprocess
func (s *Store) ResetStatus(ctx context.Context, id int64, target core.Status, staleBefore time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := currentStatus(ctx, tx, id)
		if err != nil {
			return err
		}
		if !core.CanReset(current, target) {
			return fmt.Errorf("%w: cannot reset %s to %s", core.ErrInvalidTransition, current, target)
		}

		var busy bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM episodes WHERE id = ? AND claim_token IS NOT NULL AND claimed_at >= ?)`,
			id, staleBefore.UTC()).Scan(&busy); err != nil {
			return fmt.Errorf("failed to check claim: %w", err)
		}
		if busy {
			return fmt.Errorf("%w: episode %d", core.ErrEpisodeBusy, id)
		}

		if target == core.StatusTranscribed {
			var has bool
			if err := tx.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM transcripts WHERE episode_id = ?)`, id).Scan(&has); err != nil {
				return fmt.Errorf("failed to check transcript: %w", err)
			}
			if !has {
				return core.ErrNoTranscript
			}
		}

		stmts := []string{`DELETE FROM summaries WHERE episode_id = ?`}
		if target == core.StatusDownloaded {
			stmts = append(stmts,
				`DELETE FROM transcript_segments WHERE episode_id = ?`,
				`DELETE FROM transcripts WHERE episode_id = ?`)
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				return fmt.Errorf("failed to drop dependent content: %w", err)
			}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE episodes SET status = ?, status_changed_at = ?, processed_at = NULL,
				error_reason = NULL, claim_token = NULL, claimed_at = NULL
			WHERE id = ?`, string(target), now(), id)
		if err != nil {
			return fmt.Errorf("failed to reset status: %w", err)
		}
		return nil
	})
}

// ClaimEpisode is a test-and-set on status and claim columns
func (s *Store) ClaimEpisode(ctx context.Context, id int64, expected core.Status, token string, staleBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE episodes SET claim_token = ?, claimed_at = ?
		WHERE id = ? AND status = ? AND (claim_token IS NULL OR claimed_at < ?)`,
		token, now(), id, string(expected), staleBefore.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to claim episode: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim episode: %w", err)
	}
	return n == 1, nil
}

// RenewClaim moves claimed_at forward while token holds the claim
func (s *Store) RenewClaim(ctx context.Context, id int64, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE episodes SET claimed_at = ? WHERE id = ? AND claim_token = ?`, now(), id, token)
	if err != nil {
		return false, fmt.Errorf("failed to renew claim: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to renew claim: %w", err)
	}
	return n == 1, nil
}

// ReleaseEpisode clears a claim held by token
func (s *Store) ReleaseEpisode(ctx context.Context, id int64, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE episodes SET claim_token = NULL, claimed_at = NULL WHERE id = ? AND claim_token = ?`, id, token)
	if err != nil {
		return fmt.Errorf("failed to release episode: %w", err)
	}
	return nil
}

// WriteTranscript replaces the transcript and drops any dependent summary
func (s *Store) WriteTranscript(ctx context.Context, episodeID int64, t core.Transcript) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := currentStatus(ctx, tx, episodeID); err != nil {
			return err
		}
		if err := guardClaim(ctx, tx, episodeID); err != nil {
			return err
		}
		for _, stmt := range []string{
			`DELETE FROM summaries WHERE episode_id = ?`,
			`DELETE FROM transcript_segments WHERE episode_id = ?`,
			`DELETE FROM transcripts WHERE episode_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, episodeID); err != nil {
				return fmt.Errorf("failed to clear transcript: %w", err)
			}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO transcripts (episode_id, full_text, language, chunk_count, model, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			episodeID, t.FullText, t.Language, t.ChunkCount, t.Model, now())
		if err != nil {
			return fmt.Errorf("failed to insert transcript: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO transcript_segments (episode_id, idx, start_seconds, end_seconds, text)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare segment insert: %w", err)
		}
		defer stmt.Close()

		for i, seg := range t.Segments {
			if _, err := stmt.ExecContext(ctx, episodeID, i, seg.Start, seg.End, seg.Text); err != nil {
				return fmt.Errorf("failed to insert segment %d: %w", i, err)
			}
		}
		return nil
	})
}

// GetTranscript returns the transcript with ordered segments
func (s *Store) GetTranscript(ctx context.Context, episodeID int64) (*core.Transcript, error) {
	t := core.Transcript{EpisodeID: episodeID}
	err := s.db.QueryRowContext(ctx, `
		SELECT full_text, language, chunk_count, model, created_at
		FROM transcripts WHERE episode_id = ?`, episodeID,
	).Scan(&t.FullText, &t.Language, &t.ChunkCount, &t.Model, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transcript: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, start_seconds, end_seconds, text
		FROM transcript_segments WHERE episode_id = ? ORDER BY idx`, episodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to get segments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var seg core.Segment
		if err := rows.Scan(&seg.Index, &seg.Start, &seg.End, &seg.Text); err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}
		t.Segments = append(t.Segments, seg)
	}
	return &t, rows.Err()
}

// WriteSummary stores or replaces the summary of a transcribed episode
func (s *Store) WriteSummary(ctx context.Context, episodeID int64, sum core.Summary) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := guardClaim(ctx, tx, episodeID); err != nil {
			return err
		}
		var has bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM transcripts WHERE episode_id = ?)`, episodeID).Scan(&has); err != nil {
			return fmt.Errorf("failed to check transcript: %w", err)
		}
		if !has {
			return core.ErrNoTranscript
		}

		topics, themes, quotes, orgs := persistence.EncodeList(sum.Topics), persistence.EncodeList(sum.Themes), persistence.EncodeList(sum.Quotes), persistence.EncodeList(sum.Organizations)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO summaries (episode_id, synopsis, topics, themes, quotes, organizations, source, model, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (episode_id) DO UPDATE SET
				synopsis = excluded.synopsis, topics = excluded.topics, themes = excluded.themes,
				quotes = excluded.quotes, organizations = excluded.organizations,
				source = excluded.source, model = excluded.model, created_at = excluded.created_at`,
			episodeID, sum.Synopsis, topics, themes, quotes, orgs, sum.Source, sum.Model, now())
		if err != nil {
			return fmt.Errorf("failed to write summary: %w", err)
		}
		return nil
	})
}

const summaryColumns = `s.episode_id, s.synopsis, s.topics, s.themes, s.quotes, s.organizations, s.source, s.model, s.created_at`

func scanSummary(row rowScanner, extra ...any) (*core.Summary, error) {
	var (
		sum                          core.Summary
		topics, themes, quotes, orgs string
	)
	dest := append([]any{&sum.EpisodeID, &sum.Synopsis, &topics, &themes, &quotes, &orgs, &sum.Source, &sum.Model, &sum.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	sum.Topics = persistence.DecodeList(topics)
	sum.Themes = persistence.DecodeList(themes)
	sum.Quotes = persistence.DecodeList(quotes)
	sum.Organizations = persistence.DecodeList(orgs)
	return &sum, nil
}

// GetSummary returns the summary of an episode
func (s *Store) GetSummary(ctx context.Context, episodeID int64) (*core.Summary, error) {
	sum, err := scanSummary(s.db.QueryRowContext(ctx,
		`SELECT `+summaryColumns+` FROM summaries s WHERE s.episode_id = ?`, episodeID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get summary: %w", err)
	}
	return sum, nil
}

// ListSummaries returns the newest summaries with their titles
func (s *Store) ListSummaries(ctx context.Context, limit int) ([]core.EpisodeSummary, error) {
	if limit <= 0 {
		limit = math.MaxInt32
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+summaryColumns+`, e.title, p.title
		FROM summaries s
		JOIN episodes e ON e.id = s.episode_id
		JOIN podcasts p ON p.id = e.podcast_id
		ORDER BY s.created_at DESC, s.episode_id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list summaries: %w", err)
	}
	defer rows.Close()

	var out []core.EpisodeSummary
	for rows.Next() {
		var es core.EpisodeSummary
		sum, err := scanSummary(rows, &es.EpisodeTitle, &es.PodcastTitle)
		if err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		es.EpisodeID = sum.EpisodeID
		es.Summary = *sum
		out = append(out, es)
	}
	return out, rows.Err()
}

// Stats returns counts per status and feed plus the database size on disk
func (s *Store) Stats(ctx context.Context) (*core.Stats, error) {
	stats := core.NewStats()

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM episodes GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count statuses: %w", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		stats.ByStatus[core.Status(status)] = n
		stats.Episodes += n
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT CASE WHEN p.title <> '' THEN p.title ELSE p.feed_url END, COUNT(e.id)
		FROM podcasts p LEFT JOIN episodes e ON e.podcast_id = p.id
		GROUP BY p.id ORDER BY p.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to count feeds: %w", err)
	}
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan feed count: %w", err)
		}
		stats.ByFeed[name] += n
		stats.Podcasts++
	}
	rows.Close()

	counts := map[string]*int{
		"SELECT COUNT(*) FROM transcripts": &stats.Transcripts,
		"SELECT COUNT(*) FROM summaries":   &stats.Summaries,
	}
	for query, target := range counts {
		if err := s.db.QueryRowContext(ctx, query).Scan(target); err != nil {
			return nil, fmt.Errorf("failed to get count: %w", err)
		}
	}

	for _, suffix := range []string{"", "-wal"} {
		if fileInfo, err := os.Stat(s.path + suffix); err == nil {
			stats.StorageBytes += fileInfo.Size()
		}
	}

	return stats, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
