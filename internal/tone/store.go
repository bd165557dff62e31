package tone

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// Post is a piece of authored content with the caption as generated and as finally used.
type Post struct {
	ID              string
	UserID          string
	Platform        string
	OriginalCaption string
	CurrentCaption  string
	CreatedAt       time.Time
}

// Revision is one ordered edit of a post caption.
type Revision struct {
	ID             string
	PostID         string
	RevisionNumber int
	Caption        string
	CreatedAt      time.Time
}

// Comment is free-text feedback attached to a post.
type Comment struct {
	ID        string
	PostID    string
	UserID    string
	Body      string
	CreatedAt time.Time
}

// Store is the read-only content history the engine analyses.
type Store interface {
	ListPosts(ctx context.Context, userID string, start, end time.Time) ([]Post, error)
	ListRevisions(ctx context.Context, postIDs []string) ([]Revision, error)
	ListComments(ctx context.Context, postIDs []string) ([]Comment, error)
}

// PostgresStore reads content history from the content_post* tables.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) ListPosts(ctx context.Context, userID string, start, end time.Time) ([]Post, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, COALESCE(platform, ''), COALESCE(original_caption, ''),
		       COALESCE(current_caption, ''), created_at
		FROM public.content_posts
		WHERE user_id = $1 AND created_at >= $2 AND created_at <= $3
		ORDER BY created_at ASC, id ASC
	`, userID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Post
	for rows.Next() {
		var p Post
		if err := rows.Scan(&p.ID, &p.UserID, &p.Platform, &p.OriginalCaption, &p.CurrentCaption, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListRevisions(ctx context.Context, postIDs []string) ([]Revision, error) {
	if len(postIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, post_id, revision_number, COALESCE(caption, ''), created_at
		FROM public.content_post_revisions
		WHERE post_id = ANY($1)
		ORDER BY post_id ASC, revision_number ASC
	`, pq.Array(postIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Revision
	for rows.Next() {
		var r Revision
		if err := rows.Scan(&r.ID, &r.PostID, &r.RevisionNumber, &r.Caption, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListComments(ctx context.Context, postIDs []string) ([]Comment, error) {
	if len(postIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, post_id, COALESCE(user_id, ''), COALESCE(body, ''), created_at
		FROM public.content_post_comments
		WHERE post_id = ANY($1)
		ORDER BY created_at ASC, id ASC
	`, pq.Array(postIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Comment
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.PostID, &c.UserID, &c.Body, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
