package notifications

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/PortNumber53/agency-portal/backend/internal/models"
)

const (
	TypeMeetingReminder    = "meeting_reminder"
	TypeMeetingRescheduled = "meeting_rescheduled"
	TypeMeetingCancelled   = "meeting_cancelled"
	TypeCalendarSyncFailed = "calendar_sync_failed"
)

var ErrNotFound = errors.New("notifications: not found")

// Store persists notifications in public.notifications. OnCreate, when set, is called after every
// successful insert so the UI can be pushed a badge update.
type Store struct {
	db       *sql.DB
	now      func() time.Time
	OnCreate func(n models.Notification)
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Create inserts a notification and returns its id.
func (s *Store) Create(ctx context.Context, userID, typ, title string, body, url *string) (string, error) {
	n := models.Notification{
		ID:        "n_" + uuid.NewString(),
		UserID:    userID,
		Type:      typ,
		Title:     title,
		Body:      body,
		URL:       url,
		CreatedAt: s.now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO public.notifications (id, user_id, type, title, body, url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, n.ID, n.UserID, n.Type, n.Title, n.Body, n.URL, n.CreatedAt)
	if err != nil {
		log.Printf("[Notifications][Create] insert error userId=%s type=%s err=%v", userID, typ, err)
		return "", fmt.Errorf("insert notification: %w", err)
	}
	log.Printf("[Notifications][Create] ok userId=%s id=%s type=%s", userID, n.ID, typ)
	if s.OnCreate != nil {
		s.OnCreate(n)
	}
	return n.ID, nil
}

// CreateOnce inserts only if there is no unread notification with the same (type, url), so a
// retried job does not notify twice.
func (s *Store) CreateOnce(ctx context.Context, userID, typ, title string, body, url *string) (string, error) {
	if url != nil && strings.TrimSpace(*url) != "" {
		var existingID string
		err := s.db.QueryRowContext(ctx, `
			SELECT id
			  FROM public.notifications
			 WHERE user_id = $1
			   AND type = $2
			   AND url = $3
			   AND read_at IS NULL
			 ORDER BY created_at DESC
			 LIMIT 1
		`, userID, typ, strings.TrimSpace(*url)).Scan(&existingID)
		if err == nil && existingID != "" {
			log.Printf("[Notifications][Create] skip_duplicate userId=%s type=%s existingId=%s", userID, typ, existingID)
			return existingID, nil
		}
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("lookup notification: %w", err)
		}
	}
	return s.Create(ctx, userID, typ, title, body, url)
}

// ListForUser returns newest first.
func (s *Store) ListForUser(ctx context.Context, userID string, limit int, onlyUnread bool) ([]models.Notification, error) {
	q := `
		SELECT id, user_id, type, title, body, url, created_at, read_at
		FROM public.notifications
		WHERE user_id = $1
	`
	if onlyUnread {
		q += " AND read_at IS NULL"
	}
	q += " ORDER BY created_at DESC LIMIT $2"

	rows, err := s.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Notification{}
	for rows.Next() {
		var n models.Notification
		var title, body, url sql.NullString
		var readAt sql.NullTime
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &title, &body, &url, &n.CreatedAt, &readAt); err != nil {
			return nil, err
		}
		n.Title = title.String
		if body.Valid {
			b := body.String
			n.Body = &b
		}
		if url.Valid {
			u := url.String
			n.URL = &u
		}
		if readAt.Valid {
			t := readAt.Time
			n.ReadAt = &t
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkRead is idempotent; it keeps the first read time.
func (s *Store) MarkRead(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE public.notifications
		   SET read_at = COALESCE(read_at, NOW())
		 WHERE user_id = $1 AND id = $2
	`, userID, id)
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

// DeleteReadBefore removes read notifications older than cutoff.
func (s *Store) DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM public.notifications
		WHERE read_at IS NOT NULL
		AND read_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
