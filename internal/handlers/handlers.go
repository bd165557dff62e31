package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/PortNumber53/agency-portal/backend/internal/bookings"
	"github.com/PortNumber53/agency-portal/backend/internal/calendar"
	"github.com/PortNumber53/agency-portal/backend/internal/meetings"
	"github.com/PortNumber53/agency-portal/backend/internal/models"
	"github.com/PortNumber53/agency-portal/backend/internal/tone"
)

// ToneAnalyzer is implemented by *tone.Engine.
type ToneAnalyzer interface {
	GetUserToneProfile(ctx context.Context, userID string, start, end *time.Time) tone.ToneProfileResponse
	GetBatchToneProfiles(ctx context.Context, userIDs []string, start, end *time.Time) tone.BatchResponse
	GetToneProfileSummary(ctx context.Context, userID string) tone.SummaryResponse
	GetClaudeTrainingPrompt(ctx context.Context, userID string) tone.TrainingPromptResponse
}

// MeetingScheduler is implemented by *meetings.Service.
type MeetingScheduler interface {
	TierPolicy(ctx context.Context) meetings.TierPolicy
	LookaheadMonths() int
	CreateRecurringMeeting(ctx context.Context, userID, tier string, form meetings.MeetingForm) (*meetings.RecurringMeeting, []meetings.MeetingInstance, error)
	GetMyRecurringMeetings(ctx context.Context, userID string) ([]meetings.RecurringMeeting, error)
	UpdateRecurringMeeting(ctx context.Context, userID, tier, meetingID string, u meetings.MeetingUpdate) (*meetings.RecurringMeeting, error)
	CancelRecurringMeeting(ctx context.Context, userID, meetingID string) (*meetings.RecurringMeeting, []meetings.MeetingInstance, error)
	RescheduleInstance(ctx context.Context, userID, instanceID, newDate, newTime, reason string) (*meetings.MeetingInstance, error)
	UpdateMeetingInstance(ctx context.Context, userID, instanceID string, u meetings.InstanceUpdate) (*meetings.MeetingInstance, error)
	GetMeetingInstances(ctx context.Context, userID string, f meetings.InstanceFilter) ([]meetings.MeetingInstance, error)
	GetAllRecurringMeetings(ctx context.Context, activeOnly bool) ([]meetings.RecurringMeeting, error)
	GetAllUpcomingMeetings(ctx context.Context, limit int) ([]meetings.UpcomingMeeting, error)
	BulkGenerateInstances(ctx context.Context, monthsAhead int) (meetings.BulkGenerateResult, error)
	MarkMeetingCompleted(ctx context.Context, instanceID string, notes *string) (*meetings.MeetingInstance, error)
	MarkNoShow(ctx context.Context, instanceID string, notes *string) (*meetings.MeetingInstance, error)
	GetMeetingsNeedingReminders(ctx context.Context) (meetings.ReminderCandidates, error)
	MarkReminderSent(ctx context.Context, instanceID string, kind meetings.ReminderType) error
}

// BookingService is implemented by *bookings.Service.
type BookingService interface {
	CreateBooking(ctx context.Context, userID string, f bookings.Form) (*bookings.Booking, error)
	GetBooking(ctx context.Context, userID, id string) (*bookings.Booking, error)
	ListBookingsForUser(ctx context.Context, userID string) ([]bookings.Booking, error)
	CancelBooking(ctx context.Context, userID, id string) (*bookings.Booking, error)
}

// CalendarConnector is implemented by *calendar.Client.
type CalendarConnector interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, userID, code string) (*oauth2.Token, error)
	Status(ctx context.Context, userID string) (calendar.ConnectionStatus, error)
	Init(ctx context.Context, userID string) error
	Disconnect(ctx context.Context, userID string) error
}

// NotificationStore is implemented by *notifications.Store.
type NotificationStore interface {
	Create(ctx context.Context, userID, typ, title string, body, url *string) (string, error)
	ListForUser(ctx context.Context, userID string, limit int, onlyUnread bool) ([]models.Notification, error)
	MarkRead(ctx context.Context, userID, id string) error
}

type Handler struct {
	db            *sql.DB
	rt            *realtimeHub
	tone          ToneAnalyzer
	meetings      MeetingScheduler
	bookings      BookingService
	calendar      CalendarConnector
	notifications NotificationStore
	stateSecret   []byte
	wsSecret      string
	authRequired  bool
	now           func() time.Time
}

// Deps are the services behind the HTTP surface. Calendar may be nil when no provider is configured.
type Deps struct {
	Tone          ToneAnalyzer
	Meetings      MeetingScheduler
	Bookings      BookingService
	Calendar      CalendarConnector
	Notifications NotificationStore
	StateSecret   string
	WSSecret      string
}

func New(db *sql.DB, d Deps) *Handler {
	return &Handler{
		db:            db,
		rt:            newRealtimeHub(),
		tone:          d.Tone,
		meetings:      d.Meetings,
		bookings:      d.Bookings,
		calendar:      d.Calendar,
		notifications: d.Notifications,
		stateSecret:   []byte(d.StateSecret),
		wsSecret:      strings.TrimSpace(d.WSSecret),
		now:           time.Now,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			log.Printf("[Health] db ping failed err=%v", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ok": false})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Settings holding credentials are never readable or writable over HTTP.
var privateSettingKeys = map[string]bool{
	calendar.SettingsKey: true,
}

func (h *Handler) GetUserSetting(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	settingKey := pathVar(r, "key")
	if privateSettingKeys[settingKey] {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "setting not found")
		return
	}

	var raw []byte
	err := h.db.QueryRowContext(r.Context(), `SELECT value FROM public.user_settings WHERE user_id = $1 AND key = $2`, userID, settingKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "setting not found")
		return
	}
	if err != nil {
		log.Printf("[UserSettings][Get] query error userId=%s key=%s err=%v", userID, settingKey, err)
		writeError(w, http.StatusInternalServerError, "DATABASE_ERROR", "failed to load setting")
		return
	}
	writeData(w, http.StatusOK, models.UserSetting{Key: settingKey, Value: json.RawMessage(raw)})
}

func (h *Handler) UpsertUserSetting(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	settingKey := pathVar(r, "key")
	if settingKey == "" || privateSettingKeys[settingKey] {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "setting key is not writable")
		return
	}

	var body struct {
		Value json.RawMessage `json:"value"`
	}
	if err := decodeJSON(r, &body); err != nil || len(body.Value) == 0 {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "body must be {\"value\": ...}")
		return
	}

	_, err := h.db.ExecContext(r.Context(), `
		INSERT INTO public.user_settings (user_id, key, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, userID, settingKey, []byte(body.Value))
	if err != nil {
		log.Printf("[UserSettings][Upsert] DB upsert error userId=%s key=%s err=%v", userID, settingKey, err)
		writeError(w, http.StatusInternalServerError, "DATABASE_ERROR", "failed to save setting")
		return
	}
	log.Printf("[UserSettings][Upsert] success userId=%s key=%s", userID, settingKey)
	writeData(w, http.StatusOK, models.UserSetting{Key: settingKey, Value: body.Value})
}

func (h *Handler) GetUserSettings(w http.ResponseWriter, r *http.Request) {
	userID := pathVar(r, "userId")
	rows, err := h.db.QueryContext(r.Context(), `SELECT key, value FROM public.user_settings WHERE user_id = $1 ORDER BY key`, userID)
	if err != nil {
		log.Printf("[UserSettings][GetAll] query error userId=%s err=%v", userID, err)
		writeError(w, http.StatusInternalServerError, "DATABASE_ERROR", "failed to load settings")
		return
	}
	defer rows.Close()

	out := []models.UserSetting{}
	for rows.Next() {
		var s models.UserSetting
		var raw []byte
		if err := rows.Scan(&s.Key, &raw); err != nil {
			log.Printf("[UserSettings][GetAll] scan error userId=%s err=%v", userID, err)
			writeError(w, http.StatusInternalServerError, "DATABASE_ERROR", "failed to load settings")
			return
		}
		if privateSettingKeys[s.Key] {
			continue
		}
		s.Value = json.RawMessage(raw)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		writeError(w, http.StatusInternalServerError, "DATABASE_ERROR", "failed to load settings")
		return
	}
	writeData(w, http.StatusOK, out)
}

// writeDomainError maps a typed error from any service to its HTTP status. Unknown errors are
// logged and reported without detail.
func writeDomainError(w http.ResponseWriter, op string, err error) {
	var (
		me *meetings.Error
		be *bookings.Error
		ce *calendar.Error
	)
	switch {
	case errors.As(err, &me):
		writeError(w, meetingStatus(me.Code), me.Code, me.Message)
		if me.Code == meetings.CodeDatabase {
			log.Printf("[%s] database error err=%v", op, err)
		}
	case errors.As(err, &be):
		writeError(w, bookingStatus(be.Code), be.Code, be.Message)
		if be.Code == bookings.CodeDatabase {
			log.Printf("[%s] database error err=%v", op, err)
		}
	case errors.As(err, &ce):
		log.Printf("[%s] calendar error code=%s err=%v", op, ce.Code, err)
		writeError(w, calendarStatus(ce.Code), ce.Code, ce.Message)
	default:
		log.Printf("[%s] unexpected error err=%v", op, err)
		writeError(w, http.StatusInternalServerError, "UNKNOWN_ERROR", "internal server error")
	}
}

func meetingStatus(code string) int {
	switch code {
	case meetings.CodeValidation:
		return http.StatusBadRequest
	case meetings.CodeInvalidTier, meetings.CodeFrequencyNotAllowed:
		return http.StatusForbidden
	case meetings.CodeMeetingNotFound, meetings.CodeInstanceNotFound:
		return http.StatusNotFound
	case meetings.CodeAlreadyExists, meetings.CodeDateConflict, meetings.CodeInvalidStatus:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func bookingStatus(code string) int {
	switch code {
	case bookings.CodeValidation:
		return http.StatusBadRequest
	case bookings.CodeNotFound:
		return http.StatusNotFound
	case bookings.CodeInvalidStatus:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func calendarStatus(code string) int {
	switch code {
	case calendar.CodeNotConnected, calendar.CodeTokenExpired, calendar.CodeInvalidToken:
		return http.StatusConflict
	case calendar.CodeRateLimited, calendar.CodeQuotaExceeded:
		return http.StatusTooManyRequests
	case calendar.CodeNotFound:
		return http.StatusNotFound
	}
	return http.StatusBadGateway
}

func toneStatus(code string) int {
	switch code {
	case tone.CodeInvalidUserID, tone.CodeInvalidStartDate, tone.CodeInvalidEndDate, tone.CodeInvalidDateRange:
		return http.StatusBadRequest
	case tone.CodeInsufficientData, tone.CodeNoPostsFound:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
