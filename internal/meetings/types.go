package meetings

import "time"

type Frequency string

const (
	FrequencyWeekly   Frequency = "weekly"
	FrequencyBiWeekly Frequency = "bi-weekly"
	FrequencyMonthly  Frequency = "monthly"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyWeekly, FrequencyBiWeekly, FrequencyMonthly:
		return true
	}
	return false
}

type Status string

const (
	StatusScheduled   Status = "scheduled"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusRescheduled Status = "rescheduled"
	StatusNoShow      Status = "no-show"
)

// Open reports whether the instance still represents a meeting that will happen.
func (s Status) Open() bool {
	return s == StatusScheduled || s == StatusRescheduled
}

type ReminderType string

const (
	Reminder24h ReminderType = "24h"
	Reminder1h  ReminderType = "1h"
)

// LastWeekOfMonth selects the final occurrence of a weekday in the month.
const LastWeekOfMonth = -1

// Date and time-of-day layouts used for rule anchors and instance slots.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// RecurringMeeting is the recurrence rule. At most one rule per user is active.
type RecurringMeeting struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	Frequency        Frequency  `json:"recurrence_frequency"`
	DayOfWeek        *int       `json:"day_of_week,omitempty"`
	DayOfMonth       *int       `json:"day_of_month,omitempty"`
	WeekOfMonth      *int       `json:"week_of_month,omitempty"`
	PreferredTime    string     `json:"preferred_time"`
	Timezone         string     `json:"timezone"`
	DurationMinutes  int        `json:"duration_minutes"`
	StartDate        string     `json:"start_date"`
	EndDate          *string    `json:"end_date,omitempty"`
	IsActive         bool       `json:"is_active"`
	CalendarEventIDs []string   `json:"calendar_event_ids"`
	AttendeeEmail    string     `json:"attendee_email,omitempty"`
	MeetingURL       string     `json:"meeting_url,omitempty"`
	Notes            string     `json:"notes,omitempty"`
	Schedule         string     `json:"schedule_label,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	CancelledAt      *time.Time `json:"cancelled_at,omitempty"`
}

// MeetingInstance is one concrete occurrence of a rule. Instances are never deleted; they move
// through statuses instead.
type MeetingInstance struct {
	ID                 string     `json:"id"`
	RecurringMeetingID string     `json:"recurring_meeting_id"`
	UserID             string     `json:"user_id"`
	ScheduledDate      string     `json:"scheduled_date"`
	ScheduledTime      string     `json:"scheduled_time"`
	ScheduledAt        time.Time  `json:"scheduled_at"`
	DurationMinutes    int        `json:"duration_minutes"`
	Status             Status     `json:"status"`
	OriginalDate       *string    `json:"original_date,omitempty"`
	OriginalTime       *string    `json:"original_time,omitempty"`
	RescheduleReason   string     `json:"reschedule_reason,omitempty"`
	CalendarEventID    string     `json:"calendar_event_id,omitempty"`
	CalendarEventLink  string     `json:"calendar_event_link,omitempty"`
	CalendarSyncStatus string     `json:"calendar_sync_status,omitempty"`
	CalendarSyncError  string     `json:"calendar_sync_error,omitempty"`
	CalendarSyncedAt   *time.Time `json:"calendar_synced_at,omitempty"`
	Reminder24hSent    bool       `json:"reminder_24h_sent"`
	Reminder1hSent     bool       `json:"reminder_1h_sent"`
	Notes              string     `json:"notes,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// UpcomingMeeting is a row of upcoming_meetings_view: an open instance joined with its rule and user.
type UpcomingMeeting struct {
	InstanceID         string    `json:"instance_id"`
	RecurringMeetingID string    `json:"recurring_meeting_id"`
	UserID             string    `json:"user_id"`
	UserEmail          string    `json:"user_email"`
	UserName           string    `json:"user_name"`
	Title              string    `json:"title"`
	Frequency          Frequency `json:"recurrence_frequency"`
	ScheduledDate      string    `json:"scheduled_date"`
	ScheduledTime      string    `json:"scheduled_time"`
	ScheduledAt        time.Time `json:"scheduled_at"`
	Status             Status    `json:"status"`
	MeetingURL         string    `json:"meeting_url,omitempty"`
	CalendarEventLink  string    `json:"calendar_event_link,omitempty"`
}

// MeetingForm is the payload for creating a rule.
type MeetingForm struct {
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Frequency       Frequency `json:"recurrence_frequency"`
	DayOfWeek       *int      `json:"day_of_week"`
	DayOfMonth      *int      `json:"day_of_month"`
	WeekOfMonth     *int      `json:"week_of_month"`
	PreferredTime   string    `json:"preferred_time"`
	Timezone        string    `json:"timezone"`
	DurationMinutes int       `json:"duration_minutes"`
	StartDate       string    `json:"start_date"`
	EndDate         *string   `json:"end_date"`
	AttendeeEmail   string    `json:"attendee_email"`
	MeetingURL      string    `json:"meeting_url"`
	Notes           string    `json:"notes"`
}

// MeetingUpdate carries only the fields being changed.
type MeetingUpdate struct {
	Title           *string    `json:"title"`
	Description     *string    `json:"description"`
	Frequency       *Frequency `json:"recurrence_frequency"`
	DayOfWeek       *int       `json:"day_of_week"`
	DayOfMonth      *int       `json:"day_of_month"`
	WeekOfMonth     *int       `json:"week_of_month"`
	PreferredTime   *string    `json:"preferred_time"`
	Timezone        *string    `json:"timezone"`
	DurationMinutes *int       `json:"duration_minutes"`
	StartDate       *string    `json:"start_date"`
	EndDate         *string    `json:"end_date"`
	AttendeeEmail   *string    `json:"attendee_email"`
	MeetingURL      *string    `json:"meeting_url"`
	Notes           *string    `json:"notes"`
}

// InstanceUpdate changes notes and/or status of one instance.
type InstanceUpdate struct {
	Notes  *string `json:"notes"`
	Status *Status `json:"status"`
}

type InstanceFilter struct {
	UserID             string
	RecurringMeetingID string
	From               *time.Time
	To                 *time.Time
	Statuses           []Status
	// CalendarUnsynced keeps instances never synced or whose last sync failed.
	CalendarUnsynced   bool
	Limit              int
}

// ReminderCandidates are the two independent reminder sets.
type ReminderCandidates struct {
	Due24h []MeetingInstance `json:"due_24h"`
	Due1h  []MeetingInstance `json:"due_1h"`
}

type BulkGenerateResult struct {
	RulesProcessed   int               `json:"rules_processed"`
	InstancesCreated int               `json:"instances_created"`
	CalendarQueued   int               `json:"calendar_queued"`
	Failures         map[string]string `json:"failures,omitempty"`
}
