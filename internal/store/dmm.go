package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ProvenanceRecord is a row of the dmm table: the provenance-ID to post
// mapping, keyed uniquely by content hash.
type ProvenanceRecord struct {
	ProvenanceID string
	PostID       string
	ContentHash  string
	CreatedAt    string
}

// ErrContentHashExists is returned by CreateProvenanceRecord when another
// row already carries the same ContentHash — the unique-constraint
// violation IngestDecider relies on as its duplicate-detection signal
// (spec §4.5/§4.6).
var ErrContentHashExists = errors.New("store: content hash already claimed")

// GetProvenanceByID retrieves a provenance record by its 16-hex ProvenanceId.
func (s *Store) GetProvenanceByID(provenanceID string) (*ProvenanceRecord, error) {
	r := &ProvenanceRecord{}
	err := s.reader.QueryRow(`
		SELECT dmm_id, video_id, hash_value, created_at
		FROM dmm WHERE dmm_id = ?`, provenanceID,
	).Scan(&r.ProvenanceID, &r.PostID, &r.ContentHash, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get provenance by id: %w", err)
	}
	return r, nil
}

// GetProvenanceByContentHash retrieves a provenance record by content hash.
func (s *Store) GetProvenanceByContentHash(contentHash string) (*ProvenanceRecord, error) {
	r := &ProvenanceRecord{}
	err := s.reader.QueryRow(`
		SELECT dmm_id, video_id, hash_value, created_at
		FROM dmm WHERE hash_value = ?`, contentHash,
	).Scan(&r.ProvenanceID, &r.PostID, &r.ContentHash, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get provenance by content hash: %w", err)
	}
	return r, nil
}

// CreateProvenanceRecord inserts a new dmm row with a bare INSERT (no
// ON CONFLICT clause). The uniqueness violation here is not smoothed
// over — it IS the signal IngestDecider's duplicate/theft classification depends on.
func (s *Store) CreateProvenanceRecord(r *ProvenanceRecord) error {
	r.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	_, err := s.writer.Exec(`
		INSERT INTO dmm (dmm_id, video_id, hash_value, created_at)
		VALUES (?, ?, ?, ?)`,
		r.ProvenanceID, r.PostID, r.ContentHash, r.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrContentHashExists
		}
		return fmt.Errorf("store: create provenance record: %w", err)
	}
	return nil
}

// DeleteProvenanceRecord removes a dmm row by provenance ID. Used by
// IngestDecider's compensating rollback (it is a no-op if the insert that
// would have created the row never committed).
func (s *Store) DeleteProvenanceRecord(provenanceID string) error {
	_, err := s.writer.Exec(`DELETE FROM dmm WHERE dmm_id = ?`, provenanceID)
	if err != nil {
		return fmt.Errorf("store: delete provenance record: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint
// failure. modernc.org/sqlite does not export a typed sentinel for this,
// so detection is by message substring.
func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
