package meetings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Store persists rules and instances.
type Store interface {
	CreateRule(ctx context.Context, rule *RecurringMeeting) error
	GetRule(ctx context.Context, id string) (*RecurringMeeting, error)
	GetActiveRuleForUser(ctx context.Context, userID string) (*RecurringMeeting, error)
	ListRulesForUser(ctx context.Context, userID string) ([]RecurringMeeting, error)
	ListRules(ctx context.Context, activeOnly bool) ([]RecurringMeeting, error)
	UpdateRule(ctx context.Context, rule *RecurringMeeting) error
	DeactivateRule(ctx context.Context, id string, at time.Time) error
	SetRuleCalendarEventIDs(ctx context.Context, id string, eventIDs []string) error

	// TakenDates returns the scheduled and original dates of the rule's non-cancelled instances.
	TakenDates(ctx context.Context, ruleID string) (map[string]bool, error)
	InsertInstances(ctx context.Context, instances []MeetingInstance) ([]MeetingInstance, error)
	GetInstance(ctx context.Context, id string) (*MeetingInstance, error)
	ListInstances(ctx context.Context, f InstanceFilter) ([]MeetingInstance, error)
	UpdateInstance(ctx context.Context, inst *MeetingInstance) error
	CancelFutureInstances(ctx context.Context, ruleID string, after time.Time) ([]MeetingInstance, error)
	ListUpcoming(ctx context.Context, limit int) ([]UpcomingMeeting, error)
	InstancesDueForReminder(ctx context.Context, kind ReminderType, now, horizon time.Time) ([]MeetingInstance, error)
	MarkReminderSent(ctx context.Context, id string, kind ReminderType) error

	LoadTierPolicy(ctx context.Context) (TierPolicy, error)
}

// PostgresStore implements Store on recurring_meetings / generated_meeting_instances.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const ruleColumns = `id, user_id, title, COALESCE(description, ''), recurrence_frequency,
	day_of_week, day_of_month, week_of_month, to_char(preferred_time, 'HH24:MI'), timezone,
	duration_minutes, start_date::text, end_date::text, is_active, COALESCE(calendar_event_ids, '{}'),
	COALESCE(attendee_email, ''), COALESCE(meeting_url, ''), COALESCE(notes, ''),
	created_at, updated_at, cancelled_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(s rowScanner) (*RecurringMeeting, error) {
	var r RecurringMeeting
	var dow, dom, wom sql.NullInt64
	var end sql.NullString
	var cancelled sql.NullTime
	var ids pq.StringArray
	err := s.Scan(&r.ID, &r.UserID, &r.Title, &r.Description, &r.Frequency,
		&dow, &dom, &wom, &r.PreferredTime, &r.Timezone,
		&r.DurationMinutes, &r.StartDate, &end, &r.IsActive, &ids,
		&r.AttendeeEmail, &r.MeetingURL, &r.Notes,
		&r.CreatedAt, &r.UpdatedAt, &cancelled)
	if err != nil {
		return nil, err
	}
	r.DayOfWeek = nullIntPtr(dow)
	r.DayOfMonth = nullIntPtr(dom)
	r.WeekOfMonth = nullIntPtr(wom)
	if end.Valid {
		r.EndDate = &end.String
	}
	if cancelled.Valid {
		r.CancelledAt = &cancelled.Time
	}
	r.CalendarEventIDs = []string(ids)
	if r.CalendarEventIDs == nil {
		r.CalendarEventIDs = []string{}
	}
	return &r, nil
}

func nullIntPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func intArg(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func strArg(p *string) any {
	if p == nil || *p == "" {
		return nil
	}
	return *p
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func (s *PostgresStore) CreateRule(ctx context.Context, r *RecurringMeeting) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO public.recurring_meetings (
			id, user_id, title, description, recurrence_frequency, day_of_week, day_of_month, week_of_month,
			preferred_time, timezone, duration_minutes, start_date, end_date, is_active, calendar_event_ids,
			attendee_email, meeting_url, notes, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9::time,$10,$11,$12::date,$13::date,$14,$15,$16,$17,$18,$19,$19)
	`, r.ID, r.UserID, r.Title, r.Description, string(r.Frequency), intArg(r.DayOfWeek), intArg(r.DayOfMonth), intArg(r.WeekOfMonth),
		r.PreferredTime, r.Timezone, r.DurationMinutes, r.StartDate, strArg(r.EndDate), r.IsActive, pq.Array(r.CalendarEventIDs),
		r.AttendeeEmail, r.MeetingURL, r.Notes, r.CreatedAt)
	if isUniqueViolation(err) {
		return ErrActiveExists
	}
	return err
}

func (s *PostgresStore) GetRule(ctx context.Context, id string) (*RecurringMeeting, error) {
	r, err := scanRule(s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM public.recurring_meetings WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return r, err
}

func (s *PostgresStore) GetActiveRuleForUser(ctx context.Context, userID string) (*RecurringMeeting, error) {
	r, err := scanRule(s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM public.recurring_meetings WHERE user_id = $1 AND is_active = true LIMIT 1`, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

func (s *PostgresStore) queryRules(ctx context.Context, q string, args ...any) ([]RecurringMeeting, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []RecurringMeeting{}
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListRulesForUser(ctx context.Context, userID string) ([]RecurringMeeting, error) {
	return s.queryRules(ctx, `SELECT `+ruleColumns+` FROM public.recurring_meetings WHERE user_id = $1 ORDER BY is_active DESC, created_at DESC`, userID)
}

func (s *PostgresStore) ListRules(ctx context.Context, activeOnly bool) ([]RecurringMeeting, error) {
	q := `SELECT ` + ruleColumns + ` FROM public.recurring_meetings`
	if activeOnly {
		q += ` WHERE is_active = true`
	}
	q += ` ORDER BY created_at ASC, id ASC`
	return s.queryRules(ctx, q)
}

func (s *PostgresStore) UpdateRule(ctx context.Context, r *RecurringMeeting) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE public.recurring_meetings
		SET title = $2, description = $3, recurrence_frequency = $4, day_of_week = $5, day_of_month = $6,
		    week_of_month = $7, preferred_time = $8::time, timezone = $9, duration_minutes = $10,
		    start_date = $11::date, end_date = $12::date, attendee_email = $13, meeting_url = $14, notes = $15,
		    updated_at = $16
		WHERE id = $1
	`, r.ID, r.Title, r.Description, string(r.Frequency), intArg(r.DayOfWeek), intArg(r.DayOfMonth),
		intArg(r.WeekOfMonth), r.PreferredTime, r.Timezone, r.DurationMinutes,
		r.StartDate, strArg(r.EndDate), r.AttendeeEmail, r.MeetingURL, r.Notes, r.UpdatedAt)
	return requireRow(res, err)
}

func (s *PostgresStore) DeactivateRule(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE public.recurring_meetings SET is_active = false, cancelled_at = $2, updated_at = $2 WHERE id = $1
	`, id, at)
	return requireRow(res, err)
}

func (s *PostgresStore) SetRuleCalendarEventIDs(ctx context.Context, id string, eventIDs []string) error {
	if eventIDs == nil {
		eventIDs = []string{}
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE public.recurring_meetings SET calendar_event_ids = $2, updated_at = NOW() WHERE id = $1
	`, id, pq.Array(eventIDs))
	return err
}

func requireRow(res sql.Result, err error) error {
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

const instanceColumns = `id, recurring_meeting_id, user_id, scheduled_date::text, to_char(scheduled_time, 'HH24:MI'),
	scheduled_at, duration_minutes, status, original_date::text, to_char(original_time, 'HH24:MI'),
	COALESCE(reschedule_reason, ''), COALESCE(calendar_event_id, ''), COALESCE(calendar_event_link, ''),
	COALESCE(calendar_sync_status, ''), COALESCE(calendar_sync_error, ''), calendar_synced_at,
	reminder_24h_sent, reminder_1h_sent, COALESCE(notes, ''), completed_at, created_at, updated_at`

func scanInstance(s rowScanner) (*MeetingInstance, error) {
	var m MeetingInstance
	var origDate, origTime sql.NullString
	var syncedAt, completedAt sql.NullTime
	err := s.Scan(&m.ID, &m.RecurringMeetingID, &m.UserID, &m.ScheduledDate, &m.ScheduledTime,
		&m.ScheduledAt, &m.DurationMinutes, &m.Status, &origDate, &origTime,
		&m.RescheduleReason, &m.CalendarEventID, &m.CalendarEventLink,
		&m.CalendarSyncStatus, &m.CalendarSyncError, &syncedAt,
		&m.Reminder24hSent, &m.Reminder1hSent, &m.Notes, &completedAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if origDate.Valid {
		m.OriginalDate = &origDate.String
	}
	if origTime.Valid {
		m.OriginalTime = &origTime.String
	}
	if syncedAt.Valid {
		m.CalendarSyncedAt = &syncedAt.Time
	}
	if completedAt.Valid {
		m.CompletedAt = &completedAt.Time
	}
	return &m, nil
}

func (s *PostgresStore) queryInstances(ctx context.Context, q string, args ...any) ([]MeetingInstance, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []MeetingInstance{}
	for rows.Next() {
		m, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) TakenDates(ctx context.Context, ruleID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT scheduled_date::text, original_date::text
		FROM public.generated_meeting_instances
		WHERE recurring_meeting_id = $1 AND status <> 'cancelled'
	`, ruleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]bool{}
	for rows.Next() {
		var d string
		var orig sql.NullString
		if err := rows.Scan(&d, &orig); err != nil {
			return nil, err
		}
		out[d] = true
		if orig.Valid {
			out[orig.String] = true
		}
	}
	return out, rows.Err()
}

// InsertInstances skips rows that collide with an open instance on the same date and returns
// only the rows actually written.
func (s *PostgresStore) InsertInstances(ctx context.Context, instances []MeetingInstance) ([]MeetingInstance, error) {
	out := []MeetingInstance{}
	for _, m := range instances {
		var id string
		err := s.db.QueryRowContext(ctx, `
			INSERT INTO public.generated_meeting_instances (
				id, recurring_meeting_id, user_id, scheduled_date, scheduled_time, scheduled_at,
				duration_minutes, status, created_at, updated_at
			) VALUES ($1,$2,$3,$4::date,$5::time,$6,$7,$8,$9,$9)
			ON CONFLICT (recurring_meeting_id, scheduled_date) WHERE status <> 'cancelled' DO NOTHING
			RETURNING id
		`, m.ID, m.RecurringMeetingID, m.UserID, m.ScheduledDate, m.ScheduledTime, m.ScheduledAt,
			m.DurationMinutes, string(m.Status), m.CreatedAt).Scan(&id)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return out, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *PostgresStore) GetInstance(ctx context.Context, id string) (*MeetingInstance, error) {
	m, err := scanInstance(s.db.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM public.generated_meeting_instances WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return m, err
}

func (s *PostgresStore) ListInstances(ctx context.Context, f InstanceFilter) ([]MeetingInstance, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.RecurringMeetingID != "" {
		add("recurring_meeting_id = $%d", f.RecurringMeetingID)
	}
	if f.From != nil {
		add("scheduled_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("scheduled_at <= $%d", *f.To)
	}
	if len(f.Statuses) > 0 {
		st := make([]string, 0, len(f.Statuses))
		for _, s := range f.Statuses {
			st = append(st, string(s))
		}
		add("status = ANY($%d)", pq.Array(st))
	}
	if f.CalendarUnsynced {
		add("COALESCE(calendar_sync_status, '') = ANY($%d)", pq.Array([]string{"", "pending", CalendarSyncFailed}))
	}
	q := `SELECT ` + instanceColumns + ` FROM public.generated_meeting_instances`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY scheduled_at ASC, id ASC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	return s.queryInstances(ctx, q, args...)
}

// UpdateInstance writes the scheduling fields. Calendar columns belong to the calendar syncer.
func (s *PostgresStore) UpdateInstance(ctx context.Context, m *MeetingInstance) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE public.generated_meeting_instances
		SET scheduled_date = $2::date, scheduled_time = $3::time, scheduled_at = $4, status = $5,
		    original_date = $6::date, original_time = $7::time, reschedule_reason = $8, notes = $9,
		    completed_at = $10, reminder_24h_sent = $11, reminder_1h_sent = $12, updated_at = $13
		WHERE id = $1
	`, m.ID, m.ScheduledDate, m.ScheduledTime, m.ScheduledAt, string(m.Status),
		strArg(m.OriginalDate), strArg(m.OriginalTime), m.RescheduleReason, m.Notes,
		m.CompletedAt, m.Reminder24hSent, m.Reminder1hSent, m.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrSlotTaken
	}
	return requireRow(res, err)
}

func (s *PostgresStore) CancelFutureInstances(ctx context.Context, ruleID string, after time.Time) ([]MeetingInstance, error) {
	return s.queryInstances(ctx, `
		UPDATE public.generated_meeting_instances
		SET status = 'cancelled', updated_at = NOW()
		WHERE recurring_meeting_id = $1 AND scheduled_at > $2 AND status IN ('scheduled', 'rescheduled')
		RETURNING `+instanceColumns, ruleID, after)
}

func (s *PostgresStore) ListUpcoming(ctx context.Context, limit int) ([]UpcomingMeeting, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT instance_id, recurring_meeting_id, user_id, COALESCE(user_email, ''), COALESCE(user_name, ''),
		       title, recurrence_frequency, scheduled_date::text, to_char(scheduled_time, 'HH24:MI'), scheduled_at,
		       status, COALESCE(meeting_url, ''), COALESCE(calendar_event_link, '')
		FROM public.upcoming_meetings_view
		ORDER BY scheduled_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []UpcomingMeeting{}
	for rows.Next() {
		var u UpcomingMeeting
		if err := rows.Scan(&u.InstanceID, &u.RecurringMeetingID, &u.UserID, &u.UserEmail, &u.UserName,
			&u.Title, &u.Frequency, &u.ScheduledDate, &u.ScheduledTime, &u.ScheduledAt,
			&u.Status, &u.MeetingURL, &u.CalendarEventLink); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func reminderColumn(kind ReminderType) (string, error) {
	switch kind {
	case Reminder24h:
		return "reminder_24h_sent", nil
	case Reminder1h:
		return "reminder_1h_sent", nil
	}
	return "", newError(CodeValidation, "reminder type must be 24h or 1h")
}

func (s *PostgresStore) InstancesDueForReminder(ctx context.Context, kind ReminderType, now, horizon time.Time) ([]MeetingInstance, error) {
	col, err := reminderColumn(kind)
	if err != nil {
		return nil, err
	}
	return s.queryInstances(ctx, `
		SELECT `+instanceColumns+`
		FROM public.generated_meeting_instances
		WHERE status IN ('scheduled', 'rescheduled') AND `+col+` = false
		  AND scheduled_at > $1 AND scheduled_at <= $2
		ORDER BY scheduled_at ASC, id ASC
	`, now, horizon)
}

func (s *PostgresStore) MarkReminderSent(ctx context.Context, id string, kind ReminderType) error {
	col, err := reminderColumn(kind)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE public.generated_meeting_instances SET `+col+` = true, updated_at = NOW() WHERE id = $1`, id)
	return requireRow(res, err)
}

// LoadTierPolicy reads allowed frequencies from subscription_plans. An empty result means the
// table has not been seeded.
func (s *PostgresStore) LoadTierPolicy(ctx context.Context) (TierPolicy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(allowed_meeting_frequencies, '{}')
		FROM public.subscription_plans
		WHERE is_active = true
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := TierPolicy{}
	for rows.Next() {
		var id string
		var freqs pq.StringArray
		if err := rows.Scan(&id, &freqs); err != nil {
			return nil, err
		}
		list := make([]Frequency, 0, len(freqs))
		for _, f := range freqs {
			list = append(list, Frequency(f))
		}
		out[strings.ToLower(id)] = list
	}
	return out, rows.Err()
}
