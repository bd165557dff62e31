package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/oauth2"

	"github.com/PortNumber53/agency-portal/backend/internal/bookings"
	"github.com/PortNumber53/agency-portal/backend/internal/calendar"
	"github.com/PortNumber53/agency-portal/backend/internal/meetings"
	"github.com/PortNumber53/agency-portal/backend/internal/middleware"
	"github.com/PortNumber53/agency-portal/backend/internal/models"
	"github.com/PortNumber53/agency-portal/backend/internal/notifications"
	"github.com/PortNumber53/agency-portal/backend/internal/tone"
)

type fakeTone struct {
	profile    tone.ToneProfileResponse
	batchIDs   []string
	start, end *time.Time
}

func (f *fakeTone) GetUserToneProfile(ctx context.Context, userID string, start, end *time.Time) tone.ToneProfileResponse {
	f.start, f.end = start, end
	return f.profile
}

func (f *fakeTone) GetBatchToneProfiles(ctx context.Context, userIDs []string, start, end *time.Time) tone.BatchResponse {
	f.batchIDs = userIDs
	return tone.BatchResponse{Total: len(userIDs), Successful: len(userIDs)}
}

func (f *fakeTone) GetToneProfileSummary(ctx context.Context, userID string) tone.SummaryResponse {
	return tone.SummaryResponse{Success: true, Data: &tone.ToneProfileSummary{UserID: userID}}
}

func (f *fakeTone) GetClaudeTrainingPrompt(ctx context.Context, userID string) tone.TrainingPromptResponse {
	return tone.TrainingPromptResponse{Success: true, Data: &tone.TrainingPrompt{UserID: userID, Prompt: "# Voice of " + userID}}
}

// fakeMeetings returns err when set, otherwise canned values, and records what it was called with.
type fakeMeetings struct {
	err       error
	rule      *meetings.RecurringMeeting
	instances []meetings.MeetingInstance
	instance  *meetings.MeetingInstance

	gotTier   string
	gotUser   string
	gotFilter meetings.InstanceFilter
	gotMonths int
	gotNotes  *string
	gotResch  []string
	gotKind   meetings.ReminderType
}

func (f *fakeMeetings) TierPolicy(ctx context.Context) meetings.TierPolicy {
	return meetings.DefaultTierPolicy()
}

func (f *fakeMeetings) LookaheadMonths() int { return 6 }

func (f *fakeMeetings) CreateRecurringMeeting(ctx context.Context, userID, tier string, form meetings.MeetingForm) (*meetings.RecurringMeeting, []meetings.MeetingInstance, error) {
	f.gotUser, f.gotTier = userID, tier
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.rule, f.instances, nil
}

func (f *fakeMeetings) GetMyRecurringMeetings(ctx context.Context, userID string) ([]meetings.RecurringMeeting, error) {
	f.gotUser = userID
	if f.err != nil || f.rule == nil {
		return nil, f.err
	}
	return []meetings.RecurringMeeting{*f.rule}, nil
}

func (f *fakeMeetings) UpdateRecurringMeeting(ctx context.Context, userID, tier, meetingID string, u meetings.MeetingUpdate) (*meetings.RecurringMeeting, error) {
	f.gotUser, f.gotTier = userID, tier
	return f.rule, f.err
}

func (f *fakeMeetings) CancelRecurringMeeting(ctx context.Context, userID, meetingID string) (*meetings.RecurringMeeting, []meetings.MeetingInstance, error) {
	f.gotUser = userID
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.rule, f.instances, nil
}

func (f *fakeMeetings) RescheduleInstance(ctx context.Context, userID, instanceID, newDate, newTime, reason string) (*meetings.MeetingInstance, error) {
	f.gotUser = userID
	f.gotResch = []string{instanceID, newDate, newTime, reason}
	return f.instance, f.err
}

func (f *fakeMeetings) UpdateMeetingInstance(ctx context.Context, userID, instanceID string, u meetings.InstanceUpdate) (*meetings.MeetingInstance, error) {
	f.gotUser = userID
	return f.instance, f.err
}

func (f *fakeMeetings) GetMeetingInstances(ctx context.Context, userID string, flt meetings.InstanceFilter) ([]meetings.MeetingInstance, error) {
	f.gotUser, f.gotFilter = userID, flt
	return f.instances, f.err
}

func (f *fakeMeetings) GetAllRecurringMeetings(ctx context.Context, activeOnly bool) ([]meetings.RecurringMeeting, error) {
	return nil, f.err
}

func (f *fakeMeetings) GetAllUpcomingMeetings(ctx context.Context, limit int) ([]meetings.UpcomingMeeting, error) {
	return nil, f.err
}

func (f *fakeMeetings) BulkGenerateInstances(ctx context.Context, monthsAhead int) (meetings.BulkGenerateResult, error) {
	f.gotMonths = monthsAhead
	return meetings.BulkGenerateResult{RulesProcessed: 1, InstancesCreated: 4}, f.err
}

func (f *fakeMeetings) MarkMeetingCompleted(ctx context.Context, instanceID string, notes *string) (*meetings.MeetingInstance, error) {
	f.gotNotes = notes
	return f.instance, f.err
}

func (f *fakeMeetings) MarkNoShow(ctx context.Context, instanceID string, notes *string) (*meetings.MeetingInstance, error) {
	f.gotNotes = notes
	return f.instance, f.err
}

func (f *fakeMeetings) GetMeetingsNeedingReminders(ctx context.Context) (meetings.ReminderCandidates, error) {
	return meetings.ReminderCandidates{}, f.err
}

func (f *fakeMeetings) MarkReminderSent(ctx context.Context, instanceID string, kind meetings.ReminderType) error {
	f.gotKind = kind
	return f.err
}

type fakeBookings struct {
	err     error
	booking *bookings.Booking
}

func (f *fakeBookings) CreateBooking(ctx context.Context, userID string, form bookings.Form) (*bookings.Booking, error) {
	return f.booking, f.err
}

func (f *fakeBookings) GetBooking(ctx context.Context, userID, id string) (*bookings.Booking, error) {
	return f.booking, f.err
}

func (f *fakeBookings) ListBookingsForUser(ctx context.Context, userID string) ([]bookings.Booking, error) {
	return nil, f.err
}

func (f *fakeBookings) CancelBooking(ctx context.Context, userID, id string) (*bookings.Booking, error) {
	return f.booking, f.err
}

type fakeCalendar struct {
	exchangedUser, exchangedCode string
	disconnected                 string
	initialized                  []string
	err                          error
	initErr                      error
}

func (f *fakeCalendar) AuthCodeURL(state string) string {
	return "https://accounts.example.com/o/oauth2/auth?state=" + state
}

func (f *fakeCalendar) Exchange(ctx context.Context, userID, code string) (*oauth2.Token, error) {
	f.exchangedUser, f.exchangedCode = userID, code
	if f.err != nil {
		return nil, f.err
	}
	return &oauth2.Token{AccessToken: "at", RefreshToken: "rt"}, nil
}

func (f *fakeCalendar) Status(ctx context.Context, userID string) (calendar.ConnectionStatus, error) {
	return calendar.ConnectionStatus{Connected: true, HasRefreshToken: true}, f.err
}

func (f *fakeCalendar) Init(ctx context.Context, userID string) error {
	f.initialized = append(f.initialized, userID)
	return f.initErr
}

func (f *fakeCalendar) Disconnect(ctx context.Context, userID string) error {
	f.disconnected = userID
	return f.err
}

type fakeNotes struct {
	mu      sync.Mutex
	created []models.Notification
	list    []models.Notification
	err     error
	onRead  error
}

func (f *fakeNotes) Create(ctx context.Context, userID, typ, title string, body, url *string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, models.Notification{UserID: userID, Type: typ, Title: title, Body: body, URL: url})
	return "n_1", f.err
}

func (f *fakeNotes) ListForUser(ctx context.Context, userID string, limit int, onlyUnread bool) ([]models.Notification, error) {
	return f.list, f.err
}

func (f *fakeNotes) MarkRead(ctx context.Context, userID, id string) error {
	return f.onRead
}

var (
	_ ToneAnalyzer      = (*tone.Engine)(nil)
	_ MeetingScheduler  = (*meetings.Service)(nil)
	_ BookingService    = (*bookings.Service)(nil)
	_ CalendarConnector = (*calendar.Client)(nil)
	_ NotificationStore = (*notifications.Store)(nil)
)

type testEnv struct {
	h        *Handler
	router   *mux.Router
	tone     *fakeTone
	meetings *fakeMeetings
	bookings *fakeBookings
	calendar *fakeCalendar
	notes    *fakeNotes
}

const testStateSecret = "state-secret"

var fixedNow = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T, auth *middleware.Authenticator) *testEnv {
	t.Helper()
	env := &testEnv{
		tone:     &fakeTone{},
		meetings: &fakeMeetings{},
		bookings: &fakeBookings{},
		calendar: &fakeCalendar{},
		notes:    &fakeNotes{},
	}
	env.h = New(nil, Deps{
		Tone:          env.tone,
		Meetings:      env.meetings,
		Bookings:      env.bookings,
		Calendar:      env.calendar,
		Notifications: env.notes,
		StateSecret:   testStateSecret,
	})
	env.h.now = func() time.Time { return fixedNow }
	if auth == nil {
		auth = middleware.NewAuthenticator("")
	}
	env.router = mux.NewRouter()
	env.router.Use(auth.Middleware)
	RegisterRoutes(env.h, env.router, auth)
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string, mods ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for _, m := range mods {
		m(req)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func withTier(tier string) func(*http.Request) {
	return func(r *http.Request) {
		*r = *r.WithContext(middleware.WithTier(r.Context(), tier))
	}
}

func bearer(tok string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *apiError       `json:"error"`
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v body=%s", err, rr.Body.String())
	}
	return env
}

func expectError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d body=%s", status, rr.Code, rr.Body.String())
	}
	env := decodeEnvelope(t, rr)
	if env.Success || env.Error == nil || env.Error.Code != code {
		t.Fatalf("expected error code %s, got %s", code, rr.Body.String())
	}
}
