// Package bookings stores one-off consultation bookings and mirrors them to the calendar.
package bookings

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
)

const (
	CodeValidation    = "VALIDATION_ERROR"
	CodeNotFound      = "BOOKING_NOT_FOUND"
	CodeInvalidStatus = "INVALID_STATUS"
	CodeDatabase      = "DATABASE_ERROR"
)

// Booking is a single consultation slot.
type Booking struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	Title              string     `json:"title"`
	Description        string     `json:"description,omitempty"`
	StartsAt           time.Time  `json:"starts_at"`
	DurationMinutes    int        `json:"duration_minutes"`
	Timezone           string     `json:"timezone"`
	AttendeeName       string     `json:"attendee_name,omitempty"`
	AttendeeEmail      string     `json:"attendee_email,omitempty"`
	MeetingURL         string     `json:"meeting_url,omitempty"`
	Notes              string     `json:"notes,omitempty"`
	Status             string     `json:"status"`
	CalendarEventID    string     `json:"calendar_event_id,omitempty"`
	CalendarEventLink  string     `json:"calendar_event_link,omitempty"`
	CalendarSyncStatus string     `json:"calendar_sync_status,omitempty"`
	CalendarSyncError  string     `json:"calendar_sync_error,omitempty"`
	CalendarSyncedAt   *time.Time `json:"calendar_synced_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
}

// Form is the create payload.
type Form struct {
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	StartsAt        time.Time `json:"starts_at"`
	DurationMinutes int       `json:"duration_minutes"`
	Timezone        string    `json:"timezone"`
	AttendeeName    string    `json:"attendee_name"`
	AttendeeEmail   string    `json:"attendee_email"`
	MeetingURL      string    `json:"meeting_url"`
	Notes           string    `json:"notes"`
}

type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// ErrNotFound is returned by stores for a missing row.
var ErrNotFound = errors.New("bookings: not found")

// CalendarSyncer mirrors bookings. Implementations record the outcome on the booking row.
type CalendarSyncer interface {
	SyncBooking(ctx context.Context, b *Booking) (eventID string, err error)
	RemoveBooking(ctx context.Context, b *Booking) error
}

type Store interface {
	Create(ctx context.Context, b *Booking) error
	Get(ctx context.Context, id string) (*Booking, error)
	ListForUser(ctx context.Context, userID string) ([]Booking, error)
	Cancel(ctx context.Context, id string, at time.Time) error
}

type Service struct {
	store    Store
	calendar CalendarSyncer
	now      func() time.Time
}

func NewService(store Store, cal CalendarSyncer) *Service {
	return &Service{store: store, calendar: cal, now: time.Now}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateBooking writes the booking and then mirrors it to the calendar. A calendar failure is
// logged and leaves the booking in place.
func (s *Service) CreateBooking(ctx context.Context, userID string, f Form) (*Booking, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, &Error{Code: CodeValidation, Message: "userId is required"}
	}
	now := s.now().UTC()
	b := &Booking{
		ID:              uuid.NewString(),
		UserID:          userID,
		Title:           strings.TrimSpace(f.Title),
		Description:     strings.TrimSpace(f.Description),
		StartsAt:        f.StartsAt.UTC(),
		DurationMinutes: f.DurationMinutes,
		Timezone:        strings.TrimSpace(f.Timezone),
		AttendeeName:    strings.TrimSpace(f.AttendeeName),
		AttendeeEmail:   strings.TrimSpace(f.AttendeeEmail),
		MeetingURL:      strings.TrimSpace(f.MeetingURL),
		Notes:           f.Notes,
		Status:          StatusConfirmed,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if b.Title == "" {
		b.Title = "Consultation"
	}
	if b.DurationMinutes == 0 {
		b.DurationMinutes = 30
	}
	if b.Timezone == "" {
		b.Timezone = "UTC"
	}
	if err := validate(b, now); err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, b); err != nil {
		return nil, &Error{Code: CodeDatabase, Message: "create booking failed", Err: err}
	}
	log.Printf("[Bookings] created id=%s userId=%s startsAt=%s", b.ID, userID, b.StartsAt.Format(time.RFC3339))

	if s.calendar != nil {
		if _, err := s.calendar.SyncBooking(ctx, b); err != nil {
			log.Printf("[Bookings] calendar sync failed id=%s err=%v", b.ID, err)
		}
	}
	return b, nil
}

func validate(b *Booking, now time.Time) error {
	if b.StartsAt.IsZero() {
		return &Error{Code: CodeValidation, Message: "starts_at is required"}
	}
	if !b.StartsAt.After(now) {
		return &Error{Code: CodeValidation, Message: "starts_at must be in the future"}
	}
	if b.DurationMinutes < 15 || b.DurationMinutes > 480 {
		return &Error{Code: CodeValidation, Message: "duration_minutes must be between 15 and 480"}
	}
	if _, err := time.LoadLocation(b.Timezone); err != nil {
		return &Error{Code: CodeValidation, Message: "unknown timezone " + b.Timezone}
	}
	if b.AttendeeEmail != "" {
		if _, err := mail.ParseAddress(b.AttendeeEmail); err != nil {
			return &Error{Code: CodeValidation, Message: "attendee_email is not a valid address"}
		}
	}
	return nil
}

// GetBooking hides other users' bookings behind BOOKING_NOT_FOUND.
func (s *Service) GetBooking(ctx context.Context, userID, id string) (*Booking, error) {
	b, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) || (err == nil && b.UserID != userID) {
		return nil, &Error{Code: CodeNotFound, Message: "booking not found"}
	}
	if err != nil {
		return nil, &Error{Code: CodeDatabase, Message: "load booking failed", Err: err}
	}
	return b, nil
}

func (s *Service) ListBookingsForUser(ctx context.Context, userID string) ([]Booking, error) {
	out, err := s.store.ListForUser(ctx, userID)
	if err != nil {
		return nil, &Error{Code: CodeDatabase, Message: "list bookings failed", Err: err}
	}
	return out, nil
}

// CancelBooking marks the booking cancelled and deletes its calendar event best-effort.
func (s *Service) CancelBooking(ctx context.Context, userID, id string) (*Booking, error) {
	b, err := s.GetBooking(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if b.Status != StatusConfirmed {
		return nil, &Error{Code: CodeInvalidStatus, Message: "booking is already " + b.Status}
	}
	now := s.now().UTC()
	if err := s.store.Cancel(ctx, b.ID, now); err != nil {
		return nil, &Error{Code: CodeDatabase, Message: "cancel booking failed", Err: err}
	}
	b.Status = StatusCancelled
	b.CancelledAt = &now
	b.UpdatedAt = now
	log.Printf("[Bookings] cancelled id=%s userId=%s", b.ID, userID)

	if s.calendar != nil && b.CalendarEventID != "" {
		if err := s.calendar.RemoveBooking(ctx, b); err != nil {
			log.Printf("[Bookings] calendar delete failed id=%s eventId=%s err=%v", b.ID, b.CalendarEventID, err)
		}
	}
	return b, nil
}
