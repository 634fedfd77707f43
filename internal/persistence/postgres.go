// Package persistence defines the storage contract and its PostgreSQL
// implementation.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"podpipe/internal/core"

	"github.com/lib/pq"
)

var _ Backend = (*PostgresStore)(nil)

// PoolOptions tunes the connection pool
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultPoolOptions mirrors the defaults of the database config section
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{MaxOpenConns: 25, MaxIdleConns: 5, ConnMaxLifetime: 5 * time.Minute}
}

// PostgresStore implements Backend on PostgreSQL. All tables live in one
// schema so several deployments can share a database.
type PostgresStore struct {
	db     *sql.DB
	schema string
}

// NewPostgresStore opens the database, ensures the schema exists and applies
// pending migrations
func NewPostgresStore(ctx context.Context, connectionString, schema string, pool PoolOptions) (*PostgresStore, error) {
	if schema == "" {
		schema = "public"
	}

	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{db: db, schema: schema}
	if err := NewMigrationManager(store).Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (p *PostgresStore) quotedSchema() string { return pq.QuoteIdentifier(p.schema) }

// table returns the schema-qualified name of a table
func (p *PostgresStore) table(name string) string {
	return p.quotedSchema() + "." + pq.QuoteIdentifier(name)
}

// Schema returns the namespace this store writes to
func (p *PostgresStore) Schema() string { return p.schema }

// Migrations exposes the migration manager bound to this store
func (p *PostgresStore) Migrations() *MigrationManager { return NewMigrationManager(p) }

func (p *PostgresStore) Kind() string                    { return "postgres" }
func (p *PostgresStore) SupportsConcurrentWriters() bool { return true }

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}

// DropSchema removes the schema and everything in it. Used by tests.
func (p *PostgresStore) DropSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `DROP SCHEMA IF EXISTS `+p.quotedSchema()+` CASCADE`)
	return err
}

func (p *PostgresStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
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

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func now() time.Time { return time.Now().UTC() }

// UpsertPodcast returns the id for feedURL, creating the podcast on first sight
func (p *PostgresStore) UpsertPodcast(ctx context.Context, feedURL, title, category string) (int64, error) {
	ts := now()
	var id int64
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO `+p.table("podcasts")+` AS pc (feed_url, title, category, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (feed_url) DO UPDATE SET
			title = CASE WHEN EXCLUDED.title <> '' THEN EXCLUDED.title ELSE pc.title END,
			category = CASE WHEN EXCLUDED.category <> '' THEN EXCLUDED.category ELSE pc.category END,
			updated_at = EXCLUDED.updated_at
		RETURNING id`,
		feedURL, title, category, ts,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert podcast: %w", err)
	}
	return id, nil
}

func scanPodcast(row rowScanner) (*core.Podcast, error) {
	var pc core.Podcast
	if err := row.Scan(&pc.ID, &pc.Title, &pc.FeedURL, &pc.Category, &pc.CreatedAt, &pc.UpdatedAt); err != nil {
		return nil, err
	}
	pc.CreatedAt = pc.CreatedAt.UTC()
	pc.UpdatedAt = pc.UpdatedAt.UTC()
	return &pc, nil
}

// PodcastByURL looks up a podcast by feed URL
func (p *PostgresStore) PodcastByURL(ctx context.Context, feedURL string) (*core.Podcast, error) {
	pc, err := scanPodcast(p.db.QueryRowContext(ctx, `
		SELECT id, title, feed_url, category, created_at, updated_at
		FROM `+p.table("podcasts")+` WHERE feed_url = $1`, feedURL))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get podcast: %w", err)
	}
	return pc, nil
}

// ListPodcasts returns all podcasts ordered by id
func (p *PostgresStore) ListPodcasts(ctx context.Context) ([]core.Podcast, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, title, feed_url, category, created_at, updated_at
		FROM `+p.table("podcasts")+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list podcasts: %w", err)
	}
	defer rows.Close()

	var podcasts []core.Podcast
	for rows.Next() {
		pc, err := scanPodcast(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan podcast: %w", err)
		}
		podcasts = append(podcasts, *pc)
	}
	return podcasts, rows.Err()
}

// DeletePodcastEpisodes removes a podcast's episodes and their content atomically
func (p *PostgresStore) DeletePodcastEpisodes(ctx context.Context, podcastID int64) (int64, error) {
	var deleted int64
	err := p.withTx(ctx, func(tx *sql.Tx) error {
		sub := `(SELECT id FROM ` + p.table("episodes") + ` WHERE podcast_id = $1)`
		for _, name := range []string{"transcript_segments", "transcripts", "summaries"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+p.table(name)+` WHERE episode_id IN `+sub, podcastID); err != nil {
				return fmt.Errorf("failed to delete episode content: %w", err)
			}
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM `+p.table("episodes")+` WHERE podcast_id = $1`, podcastID)
		if err != nil {
			return fmt.Errorf("failed to delete episodes: %w", err)
		}
		deleted, err = res.RowsAffected()
		return err
	})
	return deleted, err
}

// Stats returns counts per status and feed plus the on-disk size of the schema
func (p *PostgresStore) Stats(ctx context.Context) (*core.Stats, error) {
	stats := core.NewStats()

	rows, err := p.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM `+p.table("episodes")+` GROUP BY status`)
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

	rows, err = p.db.QueryContext(ctx, `
		SELECT CASE WHEN pc.title <> '' THEN pc.title ELSE pc.feed_url END, COUNT(e.id)
		FROM `+p.table("podcasts")+` pc LEFT JOIN `+p.table("episodes")+` e ON e.podcast_id = pc.id
		GROUP BY pc.id ORDER BY pc.id`)
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
		"transcripts": &stats.Transcripts,
		"summaries":   &stats.Summaries,
	}
	for name, target := range counts {
		if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+p.table(name)).Scan(target); err != nil {
			return nil, fmt.Errorf("failed to get count: %w", err)
		}
	}

	err = p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(pg_total_relation_size(c.oid)), 0)
		FROM pg_class c JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relkind = 'r'`, p.schema).Scan(&stats.StorageBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to get storage size: %w", err)
	}

	return stats, nil
}
