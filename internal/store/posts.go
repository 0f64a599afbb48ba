package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// MediaType enumerates the two post media kinds the pipeline handles.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

// Post is the persisted subset of the posts table.
type Post struct {
	ID         string
	UserID     string
	MediaURL   string
	Caption    string
	MediaType  MediaType
	CreatedAt  string
}

// GetPost retrieves a post by id.
func (s *Store) GetPost(id string) (*Post, error) {
	p := &Post{}
	err := s.reader.QueryRow(`
		SELECT id, user_id, media_url, caption, media_type, created_at
		FROM posts WHERE id = ?`, id,
	).Scan(&p.ID, &p.UserID, &p.MediaURL, &p.Caption, &p.MediaType, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get post: %w", err)
	}
	return p, nil
}

// CreatePost inserts a new post row.
func (s *Store) CreatePost(p *Post) error {
	p.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	_, err := s.writer.Exec(`
		INSERT INTO posts (id, user_id, media_url, caption, media_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.MediaURL, p.Caption, p.MediaType, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: create post: %w", err)
	}
	return nil
}

// DeletePost removes a post row. Used by IngestDecider's compensating
// rollback when a provenance insert fails the content_hash uniqueness check.
func (s *Store) DeletePost(id string) error {
	_, err := s.writer.Exec(`DELETE FROM posts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete post: %w", err)
	}
	return nil
}
