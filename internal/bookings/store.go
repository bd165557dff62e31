package bookings

import (
	"context"
	"database/sql"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const columns = `id, user_id, title, COALESCE(description, ''), starts_at, duration_minutes, timezone,
	COALESCE(attendee_name, ''), COALESCE(attendee_email, ''), COALESCE(meeting_url, ''), COALESCE(notes, ''),
	status, COALESCE(calendar_event_id, ''), COALESCE(calendar_event_link, ''), COALESCE(calendar_sync_status, ''),
	COALESCE(calendar_sync_error, ''), calendar_synced_at, created_at, updated_at, cancelled_at`

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*Booking, error) {
	var b Booking
	var synced, cancelled sql.NullTime
	if err := s.Scan(&b.ID, &b.UserID, &b.Title, &b.Description, &b.StartsAt, &b.DurationMinutes, &b.Timezone,
		&b.AttendeeName, &b.AttendeeEmail, &b.MeetingURL, &b.Notes,
		&b.Status, &b.CalendarEventID, &b.CalendarEventLink, &b.CalendarSyncStatus,
		&b.CalendarSyncError, &synced, &b.CreatedAt, &b.UpdatedAt, &cancelled); err != nil {
		return nil, err
	}
	if synced.Valid {
		b.CalendarSyncedAt = &synced.Time
	}
	if cancelled.Valid {
		b.CancelledAt = &cancelled.Time
	}
	return &b, nil
}

func (s *PostgresStore) Create(ctx context.Context, b *Booking) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO public.bookings (
			id, user_id, title, description, starts_at, duration_minutes, timezone,
			attendee_name, attendee_email, meeting_url, notes, status, calendar_sync_status, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,'pending',$13,$13)
	`, b.ID, b.UserID, b.Title, b.Description, b.StartsAt, b.DurationMinutes, b.Timezone,
		b.AttendeeName, b.AttendeeEmail, b.MeetingURL, b.Notes, b.Status, b.CreatedAt)
	if err == nil {
		b.CalendarSyncStatus = "pending"
	}
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Booking, error) {
	b, err := scan(s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM public.bookings WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return b, err
}

func (s *PostgresStore) ListForUser(ctx context.Context, userID string) ([]Booking, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+columns+` FROM public.bookings WHERE user_id = $1 ORDER BY starts_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Booking{}
	for rows.Next() {
		b, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Cancel(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE public.bookings SET status = 'cancelled', cancelled_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'confirmed'
	`, id, at)
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
