// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/samplr/internal/metrics"
	"github.com/ManuGH/samplr/internal/persistence/sqlite"
	"github.com/ManuGH/samplr/internal/sample"
	"github.com/google/uuid"
)

var migrations = []string{
	`
	CREATE TABLE samples (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		source_url TEXT NOT NULL DEFAULT '',
		audio_path TEXT,
		waveform_path TEXT,
		thumbnail_path TEXT,
		visibility TEXT NOT NULL DEFAULT 'private' CHECK(visibility IN ('private', 'public')),
		processing_state TEXT NOT NULL DEFAULT 'pending'
			CHECK(processing_state IN ('pending', 'transcoding', 'waveform_generating', 'published', 'failed')),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK(visibility = 'private' OR (
			processing_state = 'published' AND audio_path IS NOT NULL AND waveform_path IS NOT NULL))
	);

	CREATE INDEX idx_samples_owner ON samples(owner_id);
	CREATE INDEX idx_samples_state ON samples(processing_state);

	CREATE TABLE tags (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	);

	CREATE TABLE sample_tags (
		sample_id TEXT NOT NULL REFERENCES samples(id) ON DELETE CASCADE,
		tag_id INTEGER NOT NULL REFERENCES tags(id),
		PRIMARY KEY (sample_id, tag_id)
	);
	`,
}

// SQLiteStore is the durable Store.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens the database at path and migrates the schema.
func OpenSQLite(ctx context.Context, path string, cfg sqlite.Config) (*SQLiteStore, error) {
	db, err := sqlite.Open(path, cfg)
	if err != nil {
		return nil, err
	}
	if err := sqlite.Migrate(ctx, db, migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func (s *SQLiteStore) Create(ctx context.Context, in NewSample) (*sample.Sample, error) {
	now := s.now().UTC()
	smp := sample.New(uuid.NewString(), in.OwnerID, in.Name, now)
	smp.Description = in.Description
	smp.SourceURL = in.SourceURL

	const q = `
	INSERT INTO samples (id, owner_id, name, description, source_url, visibility, processing_state, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	ts := now.Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx, q, smp.ID, smp.OwnerID, smp.Name, smp.Description, smp.SourceURL,
		string(smp.Visibility), string(smp.State), ts, ts); err != nil {
		return nil, fmt.Errorf("store: insert sample: %w", err)
	}
	return smp, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*sample.Sample, error) {
	const q = `
	SELECT id, owner_id, name, description, source_url, audio_path, waveform_path, thumbnail_path,
		visibility, processing_state, created_at, updated_at
	FROM samples
	WHERE id = ?
	`
	var (
		smp                    sample.Sample
		audio, waveform, thumb sql.NullString
		visibility, state      string
		createdStr, updatedStr string
	)
	err := s.db.QueryRowContext(ctx, q, id).Scan(&smp.ID, &smp.OwnerID, &smp.Name, &smp.Description, &smp.SourceURL,
		&audio, &waveform, &thumb, &visibility, &state, &createdStr, &updatedStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get sample: %w", err)
	}
	smp.AudioPath = audio.String
	smp.WaveformPath = waveform.String
	smp.ThumbnailPath = thumb.String
	smp.Visibility = sample.Visibility(visibility)
	smp.State = sample.State(state)
	if smp.CreatedAt, err = time.Parse(time.RFC3339Nano, createdStr); err != nil {
		return nil, fmt.Errorf("store: parse created_at: %w", err)
	}
	if smp.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedStr); err != nil {
		return nil, fmt.Errorf("store: parse updated_at: %w", err)
	}

	if smp.Tags, err = s.tags(ctx, id); err != nil {
		return nil, err
	}
	return &smp, nil
}

func (s *SQLiteStore) tags(ctx context.Context, id string) ([]string, error) {
	const q = `
	SELECT t.name FROM sample_tags st
	JOIN tags t ON t.id = st.tag_id
	WHERE st.sample_id = ?
	ORDER BY t.name
	`
	rows, err := s.db.QueryContext(ctx, q, id)
	if err != nil {
		return nil, fmt.Errorf("store: query tags: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tags := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("store: scan tag: %w", err)
		}
		tags = append(tags, name)
	}
	return tags, rows.Err()
}

func (s *SQLiteStore) UpdateArtifact(ctx context.Context, id string, artifact sample.Artifact, path string) error {
	if err := checkArtifact(artifact, path); err != nil {
		return err
	}
	column := "audio_path"
	if artifact == sample.ArtifactWaveform {
		column = "waveform_path"
	}
	// column is one of two constants
	q := `UPDATE samples SET ` + column + ` = ?, updated_at = ?
	WHERE id = ? AND processing_state NOT IN ('published', 'failed')`

	res, err := s.db.ExecContext(ctx, q, path, s.timestamp(), id)
	if err != nil {
		return fmt.Errorf("store: update %s: %w", column, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.missOrTerminal(ctx, id)
	}
	return nil
}

func (s *SQLiteStore) missOrTerminal(ctx context.Context, id string) error {
	var state string
	err := s.db.QueryRowContext(ctx, `SELECT processing_state FROM samples WHERE id = ?`, id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store: read state: %w", err)
	}
	return ErrTerminal
}

func (s *SQLiteStore) Transition(ctx context.Context, id string, from, to sample.State) (bool, error) {
	if err := checkTransition(from, to); err != nil {
		return false, err
	}
	visibility := sample.VisibilityPrivate
	if to == sample.StatePublished {
		visibility = sample.VisibilityPublic
	}

	const q = `
	UPDATE samples
	SET processing_state = ?, visibility = ?, updated_at = ?
	WHERE id = ? AND processing_state = ?
		AND (? <> 'published' OR (audio_path IS NOT NULL AND waveform_path IS NOT NULL))
	`
	res, err := s.db.ExecContext(ctx, q, string(to), string(visibility), s.timestamp(), id, string(from), string(to))
	if err != nil {
		return false, fmt.Errorf("store: transition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: transition rows: %w", err)
	}
	if n == 0 {
		if _, err := s.GetArtifacts(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	metrics.IncStateTransition(string(from), string(to))
	return true, nil
}

func (s *SQLiteStore) GetArtifacts(ctx context.Context, id string) (sample.Artifacts, error) {
	var audio, waveform sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT audio_path, waveform_path FROM samples WHERE id = ?`, id).
		Scan(&audio, &waveform)
	if errors.Is(err, sql.ErrNoRows) {
		return sample.Artifacts{}, ErrNotFound
	}
	if err != nil {
		return sample.Artifacts{}, fmt.Errorf("store: get artifacts: %w", err)
	}
	return sample.Artifacts{AudioPath: audio.String, WaveformPath: waveform.String}, nil
}

func (s *SQLiteStore) SetThumbnail(ctx context.Context, id, path string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE samples SET thumbnail_path = ?, updated_at = ? WHERE id = ?`,
		nullable(path), s.timestamp(), id)
	if err != nil {
		return fmt.Errorf("store: set thumbnail: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) AttachTags(ctx context.Context, id string, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM samples WHERE id = ?`, id).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("store: check sample: %w", err)
	}

	for _, name := range tags {
		if name == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO tags (name) VALUES (?)`, name); err != nil {
			return fmt.Errorf("store: upsert tag %q: %w", name, err)
		}
		const link = `
		INSERT OR IGNORE INTO sample_tags (sample_id, tag_id)
		SELECT ?, id FROM tags WHERE name = ?
		`
		if _, err := tx.ExecContext(ctx, link, id, name); err != nil {
			return fmt.Errorf("store: link tag %q: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit tags: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
