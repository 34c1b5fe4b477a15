package source

/*
Responsibilities

- CRUD over the sources table: a source is a named crawl target with a
  base URL and arbitrary JSON metadata (seed URLs, per-source headers,
  scraper selection — see internal/config)
- Rename: since every other table references a source by its stable id,
  never by name, a rename is a single-row update with no cascade
*/

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("source: not found")

type Source struct {
	ID            string
	Kind          string
	Name          string
	BaseURL       string
	Metadata      map[string]any
	CreatedAt     time.Time
	LastScrapedAt *time.Time
}

type Repository struct {
	db *sql.DB
}

func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new source, generating its id.
func (r *Repository) Create(ctx context.Context, s Source) (Source, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Kind == "" {
		s.Kind = "custom"
	}
	meta, err := json.Marshal(s.Metadata)
	if err != nil {
		return Source{}, err
	}
	s.CreatedAt = time.Now().UTC()

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sources (id, kind, name, base_url, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.Kind, s.Name, s.BaseURL, string(meta), s.CreatedAt.Format(time.RFC3339Nano))
	return s, err
}

// Get fetches a source by id.
func (r *Repository) Get(ctx context.Context, id string) (Source, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, kind, name, base_url, metadata, created_at, last_scraped_at FROM sources WHERE id = ?`, id)
	return scanSource(row)
}

// List returns every source, ordered by name.
func (r *Repository) List(ctx context.Context) ([]Source, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, kind, name, base_url, metadata, created_at, last_scraped_at FROM sources ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		s, err := scanSourceRows(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

// Rename updates a source's display name in place. Every other table
// references the source by its stable id, so no cascade is needed.
func (r *Repository) Rename(ctx context.Context, id, newName string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE sources SET name = ? WHERE id = ?`, newName, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// MarkScraped stamps last_scraped_at with now.
func (r *Repository) MarkScraped(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE sources SET last_scraped_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), id)
	return err
}

// Delete removes a source row. Frontier/document rows referencing it are
// left for the caller to reap or retain per retention policy.
func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row *sql.Row) (Source, error) {
	return scanAny(row)
}

func scanSourceRows(rows *sql.Rows) (Source, error) {
	return scanAny(rows)
}

func scanAny(scanner rowScanner) (Source, error) {
	var s Source
	var metadataJSON string
	var createdAt string
	var lastScrapedAt sql.NullString

	err := scanner.Scan(&s.ID, &s.Kind, &s.Name, &s.BaseURL, &metadataJSON, &createdAt, &lastScrapedAt)
	if err == sql.ErrNoRows {
		return Source{}, ErrNotFound
	}
	if err != nil {
		return Source{}, err
	}

	if metadataJSON != "" {
		if err := json.Unmarshal([]byte(metadataJSON), &s.Metadata); err != nil {
			return Source{}, err
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		s.CreatedAt = t
	}
	if lastScrapedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, lastScrapedAt.String); err == nil {
			s.LastScrapedAt = &t
		}
	}
	return s, nil
}
