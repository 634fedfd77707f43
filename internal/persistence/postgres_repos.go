package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"podpipe/internal/core"
)

type rowScanner interface {
	Scan(dest ...any) error
}

const episodeColumns = `id, podcast_id, title, description, publish_date, source_url, audio_path,
	duration_seconds, file_size_bytes, status, error_reason, claim_token, claimed_at,
	created_at, status_changed_at, processed_at`

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
	ep.PublishDate = utcPtr(publish)
	ep.ClaimedAt = utcPtr(claimedAt)
	ep.ProcessedAt = utcPtr(processedAt)
	ep.CreatedAt = ep.CreatedAt.UTC()
	ep.StatusChangedAt = ep.StatusChangedAt.UTC()
	return &ep, nil
}

func utcPtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

// EpisodeExists reports whether sourceURL is already registered
func (p *PostgresStore) EpisodeExists(ctx context.Context, sourceURL string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+p.table("episodes")+` WHERE source_url = $1)`, sourceURL).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check episode: %w", err)
	}
	return exists, nil
}

// CreateEpisode registers a downloaded episode
func (p *PostgresStore) CreateEpisode(ctx context.Context, ep core.NewEpisode) (int64, error) {
	ts := now()
	var id int64
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO `+p.table("episodes")+` (podcast_id, title, description, publish_date, source_url, audio_path,
			duration_seconds, file_size_bytes, status, created_at, status_changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		RETURNING id`,
		ep.PodcastID, ep.Title, ep.Description, nullTime(ep.PublishDate), ep.SourceURL,
		nullString(ep.AudioPath), ep.DurationSeconds, ep.FileSizeBytes,
		string(core.StatusDownloaded), ts,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %s", core.ErrDuplicateEpisode, ep.SourceURL)
		}
		return 0, fmt.Errorf("failed to create episode: %w", err)
	}
	return id, nil
}

// GetEpisode returns one episode
func (p *PostgresStore) GetEpisode(ctx context.Context, id int64) (*core.Episode, error) {
	ep, err := scanEpisode(p.db.QueryRowContext(ctx,
		`SELECT `+episodeColumns+` FROM `+p.table("episodes")+` WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get episode: %w", err)
	}
	return ep, nil
}

// EpisodesByStatus lists episodes in a status ordered by id
func (p *PostgresStore) EpisodesByStatus(ctx context.Context, status core.Status) ([]core.Episode, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+episodeColumns+` FROM `+p.table("episodes")+` WHERE status = $1 ORDER BY id`, string(status))
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

// lockStatus reads the status and holds a row lock until the transaction ends
func (p *PostgresStore) lockStatus(ctx context.Context, tx *sql.Tx, id int64) (core.Status, error) {
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM `+p.table("episodes")+` WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", core.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read status: %w", err)
	}
	return core.Status(status), nil
}

// guardClaim locks the row and rejects the write when ctx carries a claim
// the episode no longer holds
func (p *PostgresStore) guardClaim(ctx context.Context, tx *sql.Tx, id int64) error {
	if _, ok := ClaimToken(ctx); !ok {
		return nil
	}
	var held sql.NullString
	err := tx.QueryRowContext(ctx,
		`SELECT claim_token FROM `+p.table("episodes")+` WHERE id = $1 FOR UPDATE`, id).Scan(&held)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read claim: %w", err)
	}
	return CheckClaim(ctx, id, held)
}

func (p *PostgresStore) hasTranscript(ctx context.Context, tx *sql.Tx, id int64) (bool, error) {
	var has bool
	err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+p.table("transcripts")+` WHERE episode_id = $1)`, id).Scan(&has)
	if err != nil {
		return false, fmt.Errorf("failed to check transcript: %w", err)
	}
	return has, nil
}

// UpdateStatus persists a forward transition
func (p *PostgresStore) UpdateStatus(ctx context.Context, id int64, status core.Status, reason string) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		current, err := p.lockStatus(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := p.guardClaim(ctx, tx, id); err != nil {
			return err
		}
		if err := core.CheckTransition(current, status); err != nil {
			return err
		}

		ts := now()
		var processedAt sql.NullTime
		var errorReason sql.NullString
		if status == core.StatusProcessed {
			processedAt = sql.NullTime{Time: ts, Valid: true}
		}
		if status == core.StatusFailed {
			errorReason = sql.NullString{String: reason, Valid: true}
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE `+p.table("episodes")+` SET status = $1, status_changed_at = $2,
				processed_at = COALESCE($3, processed_at), error_reason = $4
			WHERE id = $5`,
			string(status), ts, processedAt, errorReason, id)
		if err != nil {
			return fmt.Errorf("failed to update status: %w", err)
		}
		return nil
	})
}

// ResetStatus moves an episode back for a forced reprocess
func (p *PostgresStore) ResetStatus(ctx context.Context, id int64, target core.Status, staleBefore time.Time) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		current, err := p.lockStatus(ctx, tx, id)
		if err != nil {
			return err
		}
		if !core.CanReset(current, target) {
			return fmt.Errorf("%w: cannot reset %s to %s", core.ErrInvalidTransition, current, target)
		}

		var busy bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM `+p.table("episodes")+` WHERE id = $1 AND claim_token IS NOT NULL AND claimed_at >= $2)`,
			id, staleBefore.UTC()).Scan(&busy); err != nil {
			return fmt.Errorf("failed to check claim: %w", err)
		}
		if busy {
			return fmt.Errorf("%w: episode %d", core.ErrEpisodeBusy, id)
		}

		if target == core.StatusTranscribed {
			has, err := p.hasTranscript(ctx, tx, id)
			if err != nil {
				return err
			}
			if !has {
				return core.ErrNoTranscript
			}
		}

		tables := []string{"summaries"}
		if target == core.StatusDownloaded {
			tables = append(tables, "transcript_segments", "transcripts")
		}
		for _, name := range tables {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+p.table(name)+` WHERE episode_id = $1`, id); err != nil {
				return fmt.Errorf("failed to drop dependent content: %w", err)
			}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE `+p.table("episodes")+` SET status = $1, status_changed_at = $2, processed_at = NULL,
				error_reason = NULL, claim_token = NULL, claimed_at = NULL
			WHERE id = $3`, string(target), now(), id)
		if err != nil {
			return fmt.Errorf("failed to reset status: %w", err)
		}
		return nil
	})
}

// ClaimEpisode is a conditional update; the row lock makes concurrent
// claimants re-evaluate the predicate, so at most one wins.
func (p *PostgresStore) ClaimEpisode(ctx context.Context, id int64, expected core.Status, token string, staleBefore time.Time) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE `+p.table("episodes")+` SET claim_token = $1, claimed_at = $2
		WHERE id = $3 AND status = $4 AND (claim_token IS NULL OR claimed_at < $5)`,
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
func (p *PostgresStore) RenewClaim(ctx context.Context, id int64, token string) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE `+p.table("episodes")+` SET claimed_at = $1 WHERE id = $2 AND claim_token = $3`,
		now(), id, token)
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
func (p *PostgresStore) ReleaseEpisode(ctx context.Context, id int64, token string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE `+p.table("episodes")+` SET claim_token = NULL, claimed_at = NULL WHERE id = $1 AND claim_token = $2`,
		id, token)
	if err != nil {
		return fmt.Errorf("failed to release episode: %w", err)
	}
	return nil
}

// WriteTranscript replaces the transcript and drops any dependent summary
func (p *PostgresStore) WriteTranscript(ctx context.Context, episodeID int64, t core.Transcript) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := p.lockStatus(ctx, tx, episodeID); err != nil {
			return err
		}
		if err := p.guardClaim(ctx, tx, episodeID); err != nil {
			return err
		}
		for _, name := range []string{"summaries", "transcript_segments", "transcripts"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+p.table(name)+` WHERE episode_id = $1`, episodeID); err != nil {
				return fmt.Errorf("failed to clear transcript: %w", err)
			}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO `+p.table("transcripts")+` (episode_id, full_text, language, chunk_count, model, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			episodeID, t.FullText, t.Language, t.ChunkCount, t.Model, now())
		if err != nil {
			return fmt.Errorf("failed to insert transcript: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO `+p.table("transcript_segments")+` (episode_id, idx, start_seconds, end_seconds, text)
			VALUES ($1, $2, $3, $4, $5)`)
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
func (p *PostgresStore) GetTranscript(ctx context.Context, episodeID int64) (*core.Transcript, error) {
	t := core.Transcript{EpisodeID: episodeID}
	err := p.db.QueryRowContext(ctx, `
		SELECT full_text, language, chunk_count, model, created_at
		FROM `+p.table("transcripts")+` WHERE episode_id = $1`, episodeID,
	).Scan(&t.FullText, &t.Language, &t.ChunkCount, &t.Model, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transcript: %w", err)
	}
	t.CreatedAt = t.CreatedAt.UTC()

	rows, err := p.db.QueryContext(ctx, `
		SELECT idx, start_seconds, end_seconds, text
		FROM `+p.table("transcript_segments")+` WHERE episode_id = $1 ORDER BY idx`, episodeID)
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
func (p *PostgresStore) WriteSummary(ctx context.Context, episodeID int64, sum core.Summary) error {
	return p.withTx(ctx, func(tx *sql.Tx) error {
		if err := p.guardClaim(ctx, tx, episodeID); err != nil {
			return err
		}
		has, err := p.hasTranscript(ctx, tx, episodeID)
		if err != nil {
			return err
		}
		if !has {
			return core.ErrNoTranscript
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO `+p.table("summaries")+` (episode_id, synopsis, topics, themes, quotes, organizations, source, model, created_at)
			VALUES ($1, $2, $3::jsonb, $4::jsonb, $5::jsonb, $6::jsonb, $7, $8, $9)
			ON CONFLICT (episode_id) DO UPDATE SET
				synopsis = EXCLUDED.synopsis, topics = EXCLUDED.topics, themes = EXCLUDED.themes,
				quotes = EXCLUDED.quotes, organizations = EXCLUDED.organizations,
				source = EXCLUDED.source, model = EXCLUDED.model, created_at = EXCLUDED.created_at`,
			episodeID, sum.Synopsis, EncodeList(sum.Topics), EncodeList(sum.Themes), EncodeList(sum.Quotes),
			EncodeList(sum.Organizations), sum.Source, sum.Model, now())
		if err != nil {
			return fmt.Errorf("failed to write summary: %w", err)
		}
		return nil
	})
}

const summaryColumns = `s.episode_id, s.synopsis, s.topics::text, s.themes::text, s.quotes::text, s.organizations::text, s.source, s.model, s.created_at`

func scanSummary(row rowScanner, extra ...any) (*core.Summary, error) {
	var (
		sum                          core.Summary
		topics, themes, quotes, orgs string
	)
	dest := append([]any{&sum.EpisodeID, &sum.Synopsis, &topics, &themes, &quotes, &orgs, &sum.Source, &sum.Model, &sum.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	sum.Topics = DecodeList(topics)
	sum.Themes = DecodeList(themes)
	sum.Quotes = DecodeList(quotes)
	sum.Organizations = DecodeList(orgs)
	sum.CreatedAt = sum.CreatedAt.UTC()
	return &sum, nil
}

// GetSummary returns the summary of an episode
func (p *PostgresStore) GetSummary(ctx context.Context, episodeID int64) (*core.Summary, error) {
	sum, err := scanSummary(p.db.QueryRowContext(ctx,
		`SELECT `+summaryColumns+` FROM `+p.table("summaries")+` s WHERE s.episode_id = $1`, episodeID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get summary: %w", err)
	}
	return sum, nil
}

// ListSummaries returns the newest summaries with their titles
func (p *PostgresStore) ListSummaries(ctx context.Context, limit int) ([]core.EpisodeSummary, error) {
	if limit <= 0 {
		limit = math.MaxInt32
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+summaryColumns+`, e.title, pc.title
		FROM `+p.table("summaries")+` s
		JOIN `+p.table("episodes")+` e ON e.id = s.episode_id
		JOIN `+p.table("podcasts")+` pc ON pc.id = e.podcast_id
		ORDER BY s.created_at DESC, s.episode_id DESC
		LIMIT $1`, limit)
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
