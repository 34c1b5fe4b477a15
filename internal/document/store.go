package document

/*
Responsibilities

- Hash a fetched body and place it under a content-addressed path
- Deduplicate: two fetches that produce the same bytes share one file and
  one document_versions row; only a new hash gets a new row
- Serve stored bytes back out with a browser-safe MIME type, refusing any
  path that would escape the store root

Two writers racing to save the same content_hash must both succeed: the
file write is idempotent (same path, same bytes) and the DB insert is
guarded by the document_id+content_hash unique index, so a duplicate
insert is simply ignored.
*/

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rohmanhakim/crawlcore/pkg/hashutil"
)

// Store is the content-addressed, versioned document store. Files live
// under root; rows live in the documents/document_versions tables of db.
type Store struct {
	db   *sql.DB
	root string
}

func New(db *sql.DB, root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve document store root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create document store root: %w", err)
	}
	return &Store{db: db, root: abs}, nil
}

// PutParams describes a freshly fetched body to be saved.
type PutParams struct {
	SourceID  string
	SourceURL string
	Title     string
	MimeType  string
	Body      []byte
}

// PutResult reports whether a new version was actually written, or the
// body matched a version already on file for this document.
type PutResult struct {
	DocumentID  string
	ContentHash string
	VersionID   string
	IsNewVersion bool
}

// Put upserts the Document for sourceURL and, if body's hash is new for
// that document, writes a new Version. Calling Put twice with identical
// bytes is a no-op on the second call beyond refreshing documents.updated_at.
func (s *Store) Put(ctx context.Context, p PutParams) (PutResult, error) {
	contentHash, err := hashutil.HashBytes(p.Body, hashutil.HashAlgoSHA256)
	if err != nil {
		return PutResult{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return PutResult{}, err
	}
	defer tx.Rollback()

	docID, err := s.upsertDocument(ctx, tx, p)
	if err != nil {
		return PutResult{}, err
	}

	var existingVersionID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM document_versions WHERE document_id = ? AND content_hash = ?`,
		docID, contentHash).Scan(&existingVersionID)
	if err != nil && err != sql.ErrNoRows {
		return PutResult{}, err
	}
	if err == nil {
		if err := tx.Commit(); err != nil {
			return PutResult{}, err
		}
		return PutResult{DocumentID: docID, ContentHash: contentHash, VersionID: existingVersionID, IsNewVersion: false}, nil
	}

	relPath := contentPath(contentHash, p.SourceURL, p.Title, p.MimeType)
	if err := s.writeContentFile(relPath, p.Body); err != nil {
		return PutResult{}, err
	}

	versionID := uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO document_versions
			(id, document_id, content_hash, file_path, file_size, mime_type, acquired_at, source_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id, content_hash) DO NOTHING`,
		versionID, docID, contentHash, relPath, len(p.Body), p.MimeType, time.Now().UTC().Format(time.RFC3339Nano), p.SourceURL)
	if err != nil {
		return PutResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return PutResult{}, err
	}
	return PutResult{DocumentID: docID, ContentHash: contentHash, VersionID: versionID, IsNewVersion: true}, nil
}

func (s *Store) upsertDocument(ctx context.Context, tx *sql.Tx, p PutParams) (string, error) {
	var docID string
	err := tx.QueryRowContext(ctx, `SELECT id FROM documents WHERE source_id = ? AND source_url = ?`, p.SourceID, p.SourceURL).Scan(&docID)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	if err == sql.ErrNoRows {
		docID = uuid.NewString()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents (id, source_id, title, source_url, mime_type, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, 'active', ?, ?)`,
			docID, p.SourceID, p.Title, p.SourceURL, p.MimeType, now, now)
		return docID, err
	}
	if err != nil {
		return "", err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE documents SET title = ?, mime_type = ?, updated_at = ? WHERE id = ?`,
		p.Title, p.MimeType, now, docID)
	return docID, err
}

// writeContentFile writes body to relPath under the store root, treating
// an already-existing file of the same size as success rather than an
// error — two fetchers racing to save identical bytes must both succeed.
func (s *Store) writeContentFile(relPath string, body []byte) error {
	absPath := filepath.Join(s.root, relPath)
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return fmt.Errorf("create content directory: %w", err)
	}

	if info, err := os.Stat(absPath); err == nil {
		if info.Size() == int64(len(body)) {
			return nil
		}
	}

	tmp := absPath + ".tmp-" + uuid.NewString()
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("write content file: %w", err)
	}
	_, werr := f.Write(body)
	if werr == nil {
		werr = f.Sync()
	}
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(tmp)
		return fmt.Errorf("write content file: %w", werr)
	}
	if err := os.Rename(tmp, absPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("finalize content file: %w", err)
	}
	return nil
}

// ErrNotFound is returned by Serve when no file exists at the requested path.
var ErrNotFound = errors.New("document: not found")

// ErrInvalidPath is returned by Serve when relPath attempts to escape the
// store root.
var ErrInvalidPath = errors.New("document: invalid path")

// Serve reads the content-addressed file at relPath, rewriting any
// HTML/SVG/XML mime type to text/plain so stored scraped content can never
// execute as a script in a browser that renders the response.
func (s *Store) Serve(relPath, mimeType string) ([]byte, string, error) {
	if strings.Contains(relPath, "..") || strings.HasPrefix(relPath, "/") {
		return nil, "", ErrInvalidPath
	}

	absPath := filepath.Join(s.root, relPath)
	canonicalRoot, err := filepath.EvalSymlinks(s.root)
	if err != nil {
		return nil, "", fmt.Errorf("resolve store root: %w", err)
	}
	canonicalFile, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", ErrNotFound
		}
		return nil, "", err
	}
	if !strings.HasPrefix(canonicalFile, canonicalRoot+string(filepath.Separator)) && canonicalFile != canonicalRoot {
		return nil, "", ErrInvalidPath
	}

	content, err := os.ReadFile(canonicalFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", ErrNotFound
		}
		return nil, "", err
	}

	return content, safeMimeType(mimeType), nil
}

// safeMimeType neutralizes markup/script-bearing MIME types that could
// trigger stored XSS if rendered directly by a browser.
func safeMimeType(mimeType string) string {
	lower := strings.ToLower(mimeType)
	switch {
	case strings.HasPrefix(lower, "text/html"),
		strings.HasPrefix(lower, "application/xhtml"),
		strings.HasPrefix(lower, "image/svg"),
		strings.HasPrefix(lower, "text/xml"),
		strings.HasPrefix(lower, "application/xml"):
		return "text/plain; charset=utf-8"
	case mimeType == "":
		return "application/octet-stream"
	default:
		return mimeType
	}
}

// Exists reports whether contentHash has already been stored, for
// dedup-aware importers.
func (s *Store) Exists(ctx context.Context, contentHash string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM document_versions WHERE content_hash = ?`, contentHash).Scan(&count)
	return count > 0, err
}

// AllHashes returns every distinct content_hash on file, for fast
// in-memory dedup checks during bulk imports.
func (s *Store) AllHashes(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT content_hash FROM document_versions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hashes := make(map[string]struct{})
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes[h] = struct{}{}
	}
	return hashes, rows.Err()
}

// URLsForSource lists every distinct source_url Documented for sourceID,
// ordered for stable pagination.
func (s *Store) URLsForSource(ctx context.Context, sourceID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_url FROM documents WHERE source_id = ? ORDER BY source_url`, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls, rows.Err()
}

// Versions returns every Version recorded for documentID, oldest first.
func (s *Store) Versions(ctx context.Context, documentID string) ([]Version, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, content_hash, file_path, file_size, mime_type, acquired_at, source_url
		FROM document_versions WHERE document_id = ? ORDER BY acquired_at ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []Version
	for rows.Next() {
		var v Version
		var acquiredAt string
		if err := rows.Scan(&v.ID, &v.DocumentID, &v.ContentHash, &v.FilePath, &v.FileSize, &v.MimeType, &acquiredAt, &v.SourceURL); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, acquiredAt); err == nil {
			v.AcquiredAt = t
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// contentPath computes the <hash[:2]>/<basename>-<hash[:8]>.<ext> layout.
// The basename comes from the URL path, or from title when the path has none.
func contentPath(contentHash, sourceURL, title, mimeType string) string {
	base := "content"
	ext := extensionFor(mimeType)

	if u, err := url.Parse(sourceURL); err == nil {
		name := filepath.Base(u.Path)
		name = strings.TrimSuffix(name, filepath.Ext(name))
		if name != "" && name != "." && name != "/" {
			base = sanitizeBasename(name)
		}
	}
	if base == "content" && strings.TrimSpace(title) != "" {
		base = sanitizeBasename(title)
	}

	return filepath.Join(contentHash[:2], fmt.Sprintf("%s-%s%s", base, contentHash[:8], ext))
}

func sanitizeBasename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	result := b.String()
	if result == "" {
		return "content"
	}
	if len(result) > 64 {
		result = result[:64]
	}
	return result
}

func extensionFor(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0])) {
	case "text/html", "application/xhtml+xml":
		return ".html"
	case "application/pdf":
		return ".pdf"
	case "text/plain":
		return ".txt"
	case "application/json":
		return ".json"
	case "text/xml", "application/xml":
		return ".xml"
	default:
		return ".bin"
	}
}
