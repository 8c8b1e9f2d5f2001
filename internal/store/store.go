package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Store manages the PostgreSQL connection holding the run ledger.
type Store struct {
	conn *pgx.Conn
}

// Run is one pipeline execution against one video.
type Run struct {
	ID         int64
	VideoID    string
	VideoPath  string
	Algorithm  string
	Detector   string
	Source     string // "detect" or "metadata": where the face map came from
	Frames     int
	Regions    int
	Embedded   int
	Skipped    int
	Verified   bool
	MatchFrame string
	Output     string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the necessary tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS videos (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			first_seen TIMESTAMPTZ DEFAULT NOW(),
			last_seen TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS runs (
			id BIGSERIAL PRIMARY KEY,
			video_id TEXT NOT NULL REFERENCES videos(id) ON DELETE CASCADE,
			algorithm TEXT NOT NULL,
			detector TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL,
			frames INT NOT NULL DEFAULT 0,
			regions INT NOT NULL DEFAULT 0,
			embedded INT NOT NULL DEFAULT 0,
			skipped INT NOT NULL DEFAULT 0,
			verified BOOLEAN NOT NULL DEFAULT FALSE,
			match_frame TEXT NOT NULL DEFAULT '',
			output_path TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS runs_video_id_idx ON runs (video_id);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// EnsureVideo registers the video in the database. If it exists, it updates the path and timestamp.
func (s *Store) EnsureVideo(ctx context.Context, videoID, path string) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO videos (id, path, first_seen, last_seen)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET last_seen = NOW(), path = EXCLUDED.path
	`, videoID, path)
	return err
}

// RecordRun appends a run to the ledger and returns its ID. The video is
// registered first when it is not known yet.
func (s *Store) RecordRun(ctx context.Context, r Run) (int64, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO videos (id, path) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET last_seen = NOW()
	`, r.VideoID, r.VideoPath); err != nil {
		return 0, err
	}

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO runs (video_id, algorithm, detector, source, frames, regions, embedded, skipped,
			verified, match_frame, output_path, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`, r.VideoID, r.Algorithm, r.Detector, r.Source, r.Frames, r.Regions, r.Embedded, r.Skipped,
		r.Verified, r.MatchFrame, r.Output, r.Error, r.StartedAt, r.FinishedAt).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, tx.Commit(ctx)
}

// ListRuns returns the most recent runs first. An empty videoID lists every
// video; limit <= 0 means no limit.
func (s *Store) ListRuns(ctx context.Context, videoID string, limit int) ([]Run, error) {
	query := `
		SELECT r.id, r.video_id, v.path, r.algorithm, r.detector, r.source, r.frames, r.regions,
			r.embedded, r.skipped, r.verified, r.match_frame, r.output_path, r.error,
			r.started_at, r.finished_at
		FROM runs r JOIN videos v ON v.id = r.video_id
		WHERE ($1 = '' OR r.video_id = $1)
		ORDER BY r.started_at DESC, r.id DESC`
	args := []any{videoID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.VideoID, &r.VideoPath, &r.Algorithm, &r.Detector, &r.Source,
			&r.Frames, &r.Regions, &r.Embedded, &r.Skipped, &r.Verified, &r.MatchFrame, &r.Output,
			&r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS runs CASCADE;
		DROP TABLE IF EXISTS videos CASCADE;
	`)
	return err
}
