package meetings

import (
	"context"
	"errors"
	"log"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PortNumber53/agency-portal/backend/internal/metrics"
)

// DefaultLookaheadMonths is how far ahead instances are generated.
const DefaultLookaheadMonths = 6

// DefaultCalendarSyncTimeout bounds one background calendar batch.
const DefaultCalendarSyncTimeout = 10 * time.Minute

// CalendarSyncFailed is the calendar_sync_status of an instance whose last sync attempt failed.
const CalendarSyncFailed = "failed"

const (
	defaultDurationMinutes = 30
	defaultTitle           = "Strategy Session"
)

// CalendarSyncer mirrors instances to an external calendar. Implementations record the outcome
// on the instance row themselves; callers treat failures as non-fatal. Prepare is called once
// before a batch for the owning user.
type CalendarSyncer interface {
	Prepare(ctx context.Context, userID string) error
	SyncInstance(ctx context.Context, rule *RecurringMeeting, inst *MeetingInstance) (eventID string, err error)
	RemoveInstance(ctx context.Context, rule *RecurringMeeting, inst *MeetingInstance) error
}

type Service struct {
	store       Store
	calendar    CalendarSyncer
	now         func() time.Time
	lookahead   int
	defaults    TierPolicy
	syncTimeout time.Duration

	// pending tracks background calendar batches; eventIDsMu serializes rule event id updates.
	pending    sync.WaitGroup
	eventIDsMu sync.Mutex
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLookaheadMonths(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.lookahead = n
		}
	}
}

func WithCalendarSyncTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.syncTimeout = d
		}
	}
}

func WithTierPolicy(p TierPolicy) Option {
	return func(s *Service) {
		if len(p) > 0 {
			s.defaults = p
		}
	}
}

// NewService wires a scheduler. cal may be nil when calendar sync is not configured.
func NewService(store Store, cal CalendarSyncer, opts ...Option) *Service {
	s := &Service{
		store:       store,
		calendar:    cal,
		now:         time.Now,
		lookahead:   DefaultLookaheadMonths,
		defaults:    DefaultTierPolicy(),
		syncTimeout: DefaultCalendarSyncTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Wait blocks until the calendar batches started so far have finished.
func (s *Service) Wait() { s.pending.Wait() }

// LookaheadMonths is the configured generation window.
func (s *Service) LookaheadMonths() int { return s.lookahead }

// TierPolicy prefers the seeded subscription_plans table and falls back to the defaults.
func (s *Service) TierPolicy(ctx context.Context) TierPolicy {
	p, err := s.store.LoadTierPolicy(ctx)
	if err != nil {
		log.Printf("[Meetings] tier policy load failed, using defaults err=%v", err)
		return s.defaults
	}
	if len(p) == 0 {
		return s.defaults
	}
	return p
}

// CreateRecurringMeeting validates tier, frequency and uniqueness, persists the rule, generates
// instances for the look-ahead window and mirrors them to the calendar in the background.
func (s *Service) CreateRecurringMeeting(ctx context.Context, userID, tier string, form MeetingForm) (*RecurringMeeting, []MeetingInstance, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, nil, newError(CodeValidation, "userId is required")
	}
	if err := s.TierPolicy(ctx).checkTier(tier, form.Frequency); err != nil {
		return nil, nil, err
	}
	existing, err := s.store.GetActiveRuleForUser(ctx, userID)
	if err != nil {
		return nil, nil, dbError("load active meeting", err)
	}
	if existing != nil {
		return nil, nil, newError(CodeAlreadyExists, "you already have an active recurring meeting")
	}

	now := s.now().UTC()
	rule := &RecurringMeeting{
		ID:               uuid.NewString(),
		UserID:           userID,
		Title:            strings.TrimSpace(form.Title),
		Description:      strings.TrimSpace(form.Description),
		Frequency:        form.Frequency,
		DayOfWeek:        form.DayOfWeek,
		DayOfMonth:       form.DayOfMonth,
		WeekOfMonth:      form.WeekOfMonth,
		PreferredTime:    strings.TrimSpace(form.PreferredTime),
		Timezone:         strings.TrimSpace(form.Timezone),
		DurationMinutes:  form.DurationMinutes,
		StartDate:        strings.TrimSpace(form.StartDate),
		EndDate:          form.EndDate,
		IsActive:         true,
		CalendarEventIDs: []string{},
		AttendeeEmail:    strings.TrimSpace(form.AttendeeEmail),
		MeetingURL:       strings.TrimSpace(form.MeetingURL),
		Notes:            form.Notes,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if rule.Title == "" {
		rule.Title = defaultTitle
	}
	if rule.DurationMinutes == 0 {
		rule.DurationMinutes = defaultDurationMinutes
	}
	if rule.Timezone == "" {
		rule.Timezone = "UTC"
	}
	if rule.StartDate == "" {
		rule.StartDate = now.Format(DateLayout)
	}
	if err := validateRule(rule); err != nil {
		return nil, nil, err
	}

	if err := s.store.CreateRule(ctx, rule); err != nil {
		if errors.Is(err, ErrActiveExists) {
			return nil, nil, newError(CodeAlreadyExists, "you already have an active recurring meeting")
		}
		return nil, nil, dbError("create recurring meeting", err)
	}
	log.Printf("[Meetings] created rule id=%s userId=%s frequency=%s", rule.ID, userID, rule.Frequency)

	instances, err := s.generate(ctx, rule, s.lookahead)
	if err != nil {
		return rule, nil, err
	}
	batch := append([]MeetingInstance(nil), instances...)
	s.inBackground(ctx, rule, func(ctx context.Context, rule *RecurringMeeting) {
		s.syncInstances(ctx, rule, batch)
	})
	rule.Schedule = FormatMeetingSchedule(*rule)
	return rule, instances, nil
}

// GenerateMeetingInstances expands the rule and inserts instances for dates that do not already
// have an open instance. Calling it twice creates nothing the second time.
func (s *Service) GenerateMeetingInstances(ctx context.Context, ruleID string, monthsAhead int) ([]MeetingInstance, error) {
	rule, err := s.getRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if !rule.IsActive {
		return []MeetingInstance{}, nil
	}
	return s.generate(ctx, rule, monthsAhead)
}

func (s *Service) generate(ctx context.Context, rule *RecurringMeeting, monthsAhead int) ([]MeetingInstance, error) {
	now := s.now()
	occs, err := ExpandRule(*rule, now, monthsAhead)
	if err != nil {
		return nil, err
	}
	taken, err := s.store.TakenDates(ctx, rule.ID)
	if err != nil {
		return nil, dbError("load existing instances", err)
	}
	var pending []MeetingInstance
	for _, o := range occs {
		if taken[o.Date] || !o.At.After(now) {
			continue
		}
		pending = append(pending, MeetingInstance{
			ID:                 uuid.NewString(),
			RecurringMeetingID: rule.ID,
			UserID:             rule.UserID,
			ScheduledDate:      o.Date,
			ScheduledTime:      o.Time,
			ScheduledAt:        o.At.UTC(),
			DurationMinutes:    rule.DurationMinutes,
			Status:             StatusScheduled,
			CreatedAt:          now.UTC(),
			UpdatedAt:          now.UTC(),
		})
	}
	if len(pending) == 0 {
		return []MeetingInstance{}, nil
	}
	inserted, err := s.store.InsertInstances(ctx, pending)
	if err != nil {
		return nil, dbError("insert instances", err)
	}
	metrics.MeetingInstancesGenerated.Add(float64(len(inserted)))
	log.Printf("[Meetings] generated instances ruleId=%s count=%d", rule.ID, len(inserted))
	return inserted, nil
}

// inBackground runs one calendar batch after the request has returned. The batch keeps ctx's
// values but not its cancellation and is bounded by the sync timeout.
func (s *Service) inBackground(ctx context.Context, rule *RecurringMeeting, fn func(ctx context.Context, rule *RecurringMeeting)) {
	if s.calendar == nil {
		return
	}
	r := *rule
	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.syncTimeout)
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		defer cancel()
		fn(bg, &r)
	}()
}

// syncInstances mirrors instances to the calendar and records the owned event ids. Failures are
// logged only; the instance row keeps the failed status so the nightly run retries it.
func (s *Service) syncInstances(ctx context.Context, rule *RecurringMeeting, instances []MeetingInstance) {
	if s.calendar == nil || len(instances) == 0 {
		return
	}
	if err := s.calendar.Prepare(ctx, rule.UserID); err != nil {
		log.Printf("[Meetings] calendar session not ready userId=%s err=%v", rule.UserID, err)
	}
	var added []string
	failed := 0
	for i := range instances {
		eventID, err := s.calendar.SyncInstance(ctx, rule, &instances[i])
		if err != nil {
			failed++
			log.Printf("[Meetings] calendar sync failed instanceId=%s err=%v", instances[i].ID, err)
			continue
		}
		if eventID != "" {
			added = append(added, eventID)
		}
	}
	log.Printf("[Meetings] calendar batch ruleId=%s synced=%d failed=%d", rule.ID, len(added), failed)
	if len(added) == 0 {
		return
	}
	if err := s.saveEventIDs(ctx, rule, added, nil); err != nil {
		log.Printf("[Meetings] save calendar event ids failed ruleId=%s err=%v", rule.ID, err)
	}
}

func (s *Service) removeFromCalendar(ctx context.Context, rule *RecurringMeeting, instances []MeetingInstance) {
	if s.calendar == nil {
		return
	}
	removed := map[string]bool{}
	for i := range instances {
		if instances[i].CalendarEventID == "" {
			continue
		}
		if err := s.calendar.RemoveInstance(ctx, rule, &instances[i]); err != nil {
			log.Printf("[Meetings] calendar delete failed instanceId=%s eventId=%s err=%v", instances[i].ID, instances[i].CalendarEventID, err)
			continue
		}
		removed[instances[i].CalendarEventID] = true
	}
	if len(removed) == 0 {
		return
	}
	if err := s.saveEventIDs(ctx, rule, nil, removed); err != nil {
		log.Printf("[Meetings] save calendar event ids failed ruleId=%s err=%v", rule.ID, err)
	}
}

// saveEventIDs merges add into, and drops drop from, the stored event ids of rule. The stored list
// is re-read so concurrent batches for the same rule do not overwrite each other.
func (s *Service) saveEventIDs(ctx context.Context, rule *RecurringMeeting, add []string, drop map[string]bool) error {
	s.eventIDsMu.Lock()
	defer s.eventIDsMu.Unlock()
	// the batch may have used its whole budget; the write gets its own
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	cur, err := s.store.GetRule(ctx, rule.ID)
	if err != nil {
		return err
	}
	ids := []string{}
	seen := map[string]bool{}
	keep := func(id string) {
		if id == "" || seen[id] || drop[id] {
			return
		}
		seen[id] = true
		ids = append(ids, id)
	}
	for _, id := range cur.CalendarEventIDs {
		keep(id)
	}
	for _, id := range add {
		keep(id)
	}
	if err := s.store.SetRuleCalendarEventIDs(ctx, rule.ID, ids); err != nil {
		return err
	}
	rule.CalendarEventIDs = ids
	return nil
}

func (s *Service) getRule(ctx context.Context, id string) (*RecurringMeeting, error) {
	rule, err := s.store.GetRule(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, newError(CodeMeetingNotFound, "recurring meeting not found")
	}
	if err != nil {
		return nil, dbError("load recurring meeting", err)
	}
	return rule, nil
}

// getOwnedRule hides other users' rules behind MEETING_NOT_FOUND.
func (s *Service) getOwnedRule(ctx context.Context, userID, id string) (*RecurringMeeting, error) {
	rule, err := s.getRule(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule.UserID != userID {
		return nil, newError(CodeMeetingNotFound, "recurring meeting not found")
	}
	return rule, nil
}

func (s *Service) getInstance(ctx context.Context, id string) (*MeetingInstance, error) {
	inst, err := s.store.GetInstance(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, newError(CodeInstanceNotFound, "meeting instance not found")
	}
	if err != nil {
		return nil, dbError("load meeting instance", err)
	}
	return inst, nil
}

func (s *Service) getOwnedInstance(ctx context.Context, userID, id string) (*MeetingInstance, error) {
	inst, err := s.getInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst.UserID != userID {
		return nil, newError(CodeInstanceNotFound, "meeting instance not found")
	}
	return inst, nil
}

// GetMyRecurringMeetings lists the user's rules, active first.
func (s *Service) GetMyRecurringMeetings(ctx context.Context, userID string) ([]RecurringMeeting, error) {
	rules, err := s.store.ListRulesForUser(ctx, userID)
	if err != nil {
		return nil, dbError("list recurring meetings", err)
	}
	for i := range rules {
		rules[i].Schedule = FormatMeetingSchedule(rules[i])
	}
	return rules, nil
}

// UpdateRecurringMeeting applies changes. When an anchor (frequency, day selectors, time,
// timezone or date range) changes, open future instances are cancelled and regenerated.
func (s *Service) UpdateRecurringMeeting(ctx context.Context, userID, tier, meetingID string, u MeetingUpdate) (*RecurringMeeting, error) {
	rule, err := s.getOwnedRule(ctx, userID, meetingID)
	if err != nil {
		return nil, err
	}
	if !rule.IsActive {
		return nil, newError(CodeInvalidStatus, "cancelled meetings cannot be edited")
	}
	before := *rule
	applyUpdate(rule, u)
	if rule.Frequency != before.Frequency {
		if err := s.TierPolicy(ctx).checkTier(tier, rule.Frequency); err != nil {
			return nil, err
		}
	}
	if err := validateRule(rule); err != nil {
		return nil, err
	}
	rule.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateRule(ctx, rule); err != nil {
		return nil, dbError("update recurring meeting", err)
	}

	if anchorsChanged(before, *rule) {
		cancelled, err := s.store.CancelFutureInstances(ctx, rule.ID, s.now())
		if err != nil {
			return nil, dbError("cancel future instances", err)
		}
		log.Printf("[Meetings] anchors changed ruleId=%s cancelled=%d", rule.ID, len(cancelled))
		fresh, err := s.generate(ctx, rule, s.lookahead)
		if err != nil {
			return nil, err
		}
		s.inBackground(ctx, rule, func(ctx context.Context, rule *RecurringMeeting) {
			s.removeFromCalendar(ctx, rule, cancelled)
			s.syncInstances(ctx, rule, fresh)
		})
	}
	rule.Schedule = FormatMeetingSchedule(*rule)
	return rule, nil
}

func applyUpdate(r *RecurringMeeting, u MeetingUpdate) {
	if u.Title != nil {
		r.Title = strings.TrimSpace(*u.Title)
	}
	if u.Description != nil {
		r.Description = strings.TrimSpace(*u.Description)
	}
	if u.Frequency != nil {
		r.Frequency = *u.Frequency
		if r.Frequency != FrequencyMonthly {
			r.DayOfMonth, r.WeekOfMonth = nil, nil
		}
	}
	if u.DayOfWeek != nil {
		r.DayOfWeek = u.DayOfWeek
	}
	if u.DayOfMonth != nil {
		r.DayOfMonth, r.WeekOfMonth = u.DayOfMonth, nil
	}
	if u.WeekOfMonth != nil {
		r.WeekOfMonth, r.DayOfMonth = u.WeekOfMonth, nil
	}
	if r.Frequency == FrequencyMonthly && r.DayOfMonth != nil {
		r.DayOfWeek = nil
	}
	if u.PreferredTime != nil {
		r.PreferredTime = strings.TrimSpace(*u.PreferredTime)
	}
	if u.Timezone != nil {
		r.Timezone = strings.TrimSpace(*u.Timezone)
	}
	if u.DurationMinutes != nil {
		r.DurationMinutes = *u.DurationMinutes
	}
	if u.StartDate != nil {
		r.StartDate = strings.TrimSpace(*u.StartDate)
	}
	if u.EndDate != nil {
		if strings.TrimSpace(*u.EndDate) == "" {
			r.EndDate = nil
		} else {
			v := strings.TrimSpace(*u.EndDate)
			r.EndDate = &v
		}
	}
	if u.AttendeeEmail != nil {
		r.AttendeeEmail = strings.TrimSpace(*u.AttendeeEmail)
	}
	if u.MeetingURL != nil {
		r.MeetingURL = strings.TrimSpace(*u.MeetingURL)
	}
	if u.Notes != nil {
		r.Notes = *u.Notes
	}
}

func anchorsChanged(a, b RecurringMeeting) bool {
	return a.Frequency != b.Frequency ||
		!sameInt(a.DayOfWeek, b.DayOfWeek) ||
		!sameInt(a.DayOfMonth, b.DayOfMonth) ||
		!sameInt(a.WeekOfMonth, b.WeekOfMonth) ||
		a.PreferredTime != b.PreferredTime ||
		a.Timezone != b.Timezone ||
		a.StartDate != b.StartDate ||
		!sameStr(a.EndDate, b.EndDate)
}

func sameInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func sameStr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// CancelRecurringMeeting deactivates the rule, cancels its future instances and deletes their
// calendar events best-effort in the background.
func (s *Service) CancelRecurringMeeting(ctx context.Context, userID, meetingID string) (*RecurringMeeting, []MeetingInstance, error) {
	rule, err := s.getOwnedRule(ctx, userID, meetingID)
	if err != nil {
		return nil, nil, err
	}
	if !rule.IsActive {
		return rule, []MeetingInstance{}, nil
	}
	now := s.now().UTC()
	if err := s.store.DeactivateRule(ctx, rule.ID, now); err != nil {
		return nil, nil, dbError("deactivate recurring meeting", err)
	}
	rule.IsActive = false
	rule.CancelledAt = &now
	cancelled, err := s.store.CancelFutureInstances(ctx, rule.ID, now)
	if err != nil {
		return nil, nil, dbError("cancel future instances", err)
	}
	batch := append([]MeetingInstance(nil), cancelled...)
	s.inBackground(ctx, rule, func(ctx context.Context, rule *RecurringMeeting) {
		s.removeFromCalendar(ctx, rule, batch)
	})
	log.Printf("[Meetings] cancelled rule id=%s userId=%s instances=%d", rule.ID, userID, len(cancelled))
	return rule, cancelled, nil
}

// RescheduleInstance moves an instance. The first reschedule records the original slot; later
// ones leave it untouched.
func (s *Service) RescheduleInstance(ctx context.Context, userID, instanceID, newDate, newTime, reason string) (*MeetingInstance, error) {
	inst, err := s.getOwnedInstance(ctx, userID, instanceID)
	if err != nil {
		return nil, err
	}
	if !inst.Status.Open() {
		return nil, newError(CodeInvalidStatus, "only scheduled meetings can be rescheduled")
	}
	rule, err := s.getRule(ctx, inst.RecurringMeetingID)
	if err != nil {
		return nil, err
	}
	at, err := slotTime(rule.Timezone, newDate, newTime)
	if err != nil {
		return nil, err
	}
	if !at.After(s.now()) {
		return nil, newError(CodeValidation, "new time must be in the future")
	}

	if inst.OriginalDate == nil {
		d, t := inst.ScheduledDate, inst.ScheduledTime
		inst.OriginalDate, inst.OriginalTime = &d, &t
	}
	inst.ScheduledDate = strings.TrimSpace(newDate)
	inst.ScheduledTime = strings.TrimSpace(newTime)
	inst.ScheduledAt = at.UTC()
	inst.Status = StatusRescheduled
	inst.RescheduleReason = strings.TrimSpace(reason)
	inst.Reminder24hSent, inst.Reminder1hSent = false, false
	inst.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateInstance(ctx, inst); err != nil {
		if errors.Is(err, ErrSlotTaken) {
			return nil, newError(CodeDateConflict, "another meeting is already scheduled on that date")
		}
		return nil, dbError("reschedule instance", err)
	}
	log.Printf("[Meetings] rescheduled instanceId=%s to=%s %s", inst.ID, inst.ScheduledDate, inst.ScheduledTime)

	if s.calendar != nil {
		if _, err := s.calendar.SyncInstance(ctx, rule, inst); err != nil {
			log.Printf("[Meetings] calendar update failed instanceId=%s err=%v", inst.ID, err)
		}
	}
	return inst, nil
}

func slotTime(tz, date, clock string) (time.Time, error) {
	loc, err := loadLocation(tz)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.ParseInLocation(DateLayout+" "+TimeLayout, strings.TrimSpace(date)+" "+strings.TrimSpace(clock), loc)
	if err != nil {
		return time.Time{}, newError(CodeValidation, "date must be YYYY-MM-DD and time HH:MM")
	}
	return t, nil
}

// UpdateMeetingInstance changes notes and/or moves the instance to completed, cancelled or no-show.
func (s *Service) UpdateMeetingInstance(ctx context.Context, userID, instanceID string, u InstanceUpdate) (*MeetingInstance, error) {
	inst, err := s.getOwnedInstance(ctx, userID, instanceID)
	if err != nil {
		return nil, err
	}
	return s.applyInstanceUpdate(ctx, inst, u)
}

func (s *Service) applyInstanceUpdate(ctx context.Context, inst *MeetingInstance, u InstanceUpdate) (*MeetingInstance, error) {
	now := s.now().UTC()
	cancelled := false
	if u.Status != nil && *u.Status != inst.Status {
		switch *u.Status {
		case StatusCompleted, StatusNoShow, StatusCancelled:
		default:
			return nil, newError(CodeInvalidStatus, "status must be completed, no-show or cancelled")
		}
		if !inst.Status.Open() {
			return nil, newError(CodeInvalidStatus, "meeting is already "+string(inst.Status))
		}
		inst.Status = *u.Status
		if inst.Status == StatusCompleted {
			inst.CompletedAt = &now
		}
		cancelled = inst.Status == StatusCancelled
	}
	if u.Notes != nil {
		inst.Notes = *u.Notes
	}
	inst.UpdatedAt = now
	if err := s.store.UpdateInstance(ctx, inst); err != nil {
		return nil, dbError("update instance", err)
	}
	if cancelled && inst.CalendarEventID != "" {
		if rule, err := s.getRule(ctx, inst.RecurringMeetingID); err == nil {
			s.removeFromCalendar(ctx, rule, []MeetingInstance{*inst})
		}
	}
	return inst, nil
}

// GetMeetingInstances lists the user's instances, optionally for one rule and a time range.
func (s *Service) GetMeetingInstances(ctx context.Context, userID string, f InstanceFilter) ([]MeetingInstance, error) {
	f.UserID = userID
	out, err := s.store.ListInstances(ctx, f)
	if err != nil {
		return nil, dbError("list instances", err)
	}
	return out, nil
}

// GetAllRecurringMeetings is admin scope.
func (s *Service) GetAllRecurringMeetings(ctx context.Context, activeOnly bool) ([]RecurringMeeting, error) {
	rules, err := s.store.ListRules(ctx, activeOnly)
	if err != nil {
		return nil, dbError("list recurring meetings", err)
	}
	for i := range rules {
		rules[i].Schedule = FormatMeetingSchedule(rules[i])
	}
	return rules, nil
}

// GetAllUpcomingMeetings is admin scope.
func (s *Service) GetAllUpcomingMeetings(ctx context.Context, limit int) ([]UpcomingMeeting, error) {
	out, err := s.store.ListUpcoming(ctx, limit)
	if err != nil {
		return nil, dbError("list upcoming meetings", err)
	}
	return out, nil
}

// BulkGenerateInstances tops up every active rule and queues a calendar batch for its future
// instances that are not yet synced, which retries earlier failures. One rule failing does not
// stop the rest.
func (s *Service) BulkGenerateInstances(ctx context.Context, monthsAhead int) (BulkGenerateResult, error) {
	if monthsAhead <= 0 {
		monthsAhead = s.lookahead
	}
	rules, err := s.store.ListRules(ctx, true)
	if err != nil {
		return BulkGenerateResult{}, dbError("list active rules", err)
	}
	res := BulkGenerateResult{Failures: map[string]string{}}
	for i := range rules {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		rule := &rules[i]
		res.RulesProcessed++
		created, err := s.generate(ctx, rule, monthsAhead)
		if err != nil {
			res.Failures[rule.ID] = err.Error()
			log.Printf("[Meetings] bulk generate failed ruleId=%s err=%v", rule.ID, err)
			continue
		}
		res.InstancesCreated += len(created)
		res.CalendarQueued += s.queueUnsynced(ctx, rule)
	}
	log.Printf("[Meetings] bulk generate rules=%d created=%d calendarQueued=%d failures=%d", res.RulesProcessed, res.InstancesCreated, res.CalendarQueued, len(res.Failures))
	return res, nil
}

// queueUnsynced starts a background batch for the rule's open future instances that have never
// been synced or whose last attempt failed. It returns how many were queued.
func (s *Service) queueUnsynced(ctx context.Context, rule *RecurringMeeting) int {
	if s.calendar == nil {
		return 0
	}
	from := s.now()
	list, err := s.store.ListInstances(ctx, InstanceFilter{
		RecurringMeetingID: rule.ID,
		From:               &from,
		Statuses:           []Status{StatusScheduled, StatusRescheduled},
		CalendarUnsynced:   true,
	})
	if err != nil {
		log.Printf("[Meetings] list unsynced instances failed ruleId=%s err=%v", rule.ID, err)
		return 0
	}
	if len(list) == 0 {
		return 0
	}
	s.inBackground(ctx, rule, func(ctx context.Context, rule *RecurringMeeting) {
		s.syncInstances(ctx, rule, list)
	})
	return len(list)
}

// MarkMeetingCompleted is admin scope.
func (s *Service) MarkMeetingCompleted(ctx context.Context, instanceID string, notes *string) (*MeetingInstance, error) {
	inst, err := s.getInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	st := StatusCompleted
	return s.applyInstanceUpdate(ctx, inst, InstanceUpdate{Status: &st, Notes: notes})
}

// MarkNoShow is admin scope.
func (s *Service) MarkNoShow(ctx context.Context, instanceID string, notes *string) (*MeetingInstance, error) {
	inst, err := s.getInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	st := StatusNoShow
	return s.applyInstanceUpdate(ctx, inst, InstanceUpdate{Status: &st, Notes: notes})
}

// GetMeetingsNeedingReminders returns open instances starting within 24 hours that have not had
// the 24h reminder, and those within 1 hour without the 1h reminder. Nothing is sent here.
func (s *Service) GetMeetingsNeedingReminders(ctx context.Context) (ReminderCandidates, error) {
	now := s.now()
	day, err := s.store.InstancesDueForReminder(ctx, Reminder24h, now, now.Add(24*time.Hour))
	if err != nil {
		return ReminderCandidates{}, dbError("load 24h reminders", err)
	}
	hour, err := s.store.InstancesDueForReminder(ctx, Reminder1h, now, now.Add(time.Hour))
	if err != nil {
		return ReminderCandidates{}, dbError("load 1h reminders", err)
	}
	return ReminderCandidates{Due24h: day, Due1h: hour}, nil
}

// MarkReminderSent records that a reminder of kind went out for the instance.
func (s *Service) MarkReminderSent(ctx context.Context, instanceID string, kind ReminderType) error {
	if kind != Reminder24h && kind != Reminder1h {
		return newError(CodeValidation, "reminder type must be 24h or 1h")
	}
	err := s.store.MarkReminderSent(ctx, instanceID, kind)
	if errors.Is(err, ErrNotFound) {
		return newError(CodeInstanceNotFound, "meeting instance not found")
	}
	if err != nil {
		return dbError("mark reminder sent", err)
	}
	return nil
}

func validateRule(r *RecurringMeeting) error {
	if err := validateAnchors(*r); err != nil {
		return err
	}
	if _, err := time.Parse(TimeLayout, r.PreferredTime); err != nil {
		return newError(CodeValidation, "preferred_time must be HH:MM")
	}
	if _, err := loadLocation(r.Timezone); err != nil {
		return err
	}
	if r.DurationMinutes < 15 || r.DurationMinutes > 480 {
		return newError(CodeValidation, "duration_minutes must be between 15 and 480")
	}
	start, err := time.Parse(DateLayout, r.StartDate)
	if err != nil {
		return newError(CodeValidation, "start_date must be YYYY-MM-DD")
	}
	if r.EndDate != nil && *r.EndDate != "" {
		end, err := time.Parse(DateLayout, *r.EndDate)
		if err != nil {
			return newError(CodeValidation, "end_date must be YYYY-MM-DD")
		}
		if end.Before(start) {
			return newError(CodeValidation, "end_date must not be before start_date")
		}
	}
	if r.AttendeeEmail != "" {
		if _, err := mail.ParseAddress(r.AttendeeEmail); err != nil {
			return newError(CodeValidation, "attendee_email is not a valid address")
		}
	}
	return nil
}
