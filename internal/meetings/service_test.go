package meetings

import (
	"context"
	"errors"
	"testing"
	"time"
)

var testNow = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

func newTestService(store *memStore, cal CalendarSyncer) *Service {
	return NewService(store, cal, WithClock(func() time.Time { return testNow }))
}

func tuesdayForm(freq Frequency) MeetingForm {
	return MeetingForm{
		Title:           "Monthly review",
		Frequency:       freq,
		DayOfWeek:       intp(int(time.Tuesday)),
		PreferredTime:   "15:00",
		Timezone:        "UTC",
		DurationMinutes: 45,
		StartDate:       "2024-01-01",
	}
}

func monthlyForm() MeetingForm {
	return MeetingForm{
		Frequency:     FrequencyMonthly,
		DayOfMonth:    intp(15),
		PreferredTime: "10:00",
		Timezone:      "UTC",
		StartDate:     "2024-01-01",
	}
}

func TestCreateRecurringMeeting_TierChecks(t *testing.T) {
	svc := newTestService(newMemStore(), nil)
	ctx := context.Background()

	_, _, err := svc.CreateRecurringMeeting(ctx, "u1", "growth", tuesdayForm(FrequencyWeekly))
	if CodeOf(err) != CodeFrequencyNotAllowed {
		t.Fatalf("expected FREQUENCY_NOT_ALLOWED, got %v", err)
	}
	_, _, err = svc.CreateRecurringMeeting(ctx, "u1", "starter", monthlyForm())
	if CodeOf(err) != CodeInvalidTier {
		t.Fatalf("expected INVALID_TIER for starter, got %v", err)
	}
	_, _, err = svc.CreateRecurringMeeting(ctx, "u1", "platinum", monthlyForm())
	if CodeOf(err) != CodeInvalidTier {
		t.Fatalf("expected INVALID_TIER for unknown tier, got %v", err)
	}
	rule, instances, err := svc.CreateRecurringMeeting(ctx, "u1", "growth", monthlyForm())
	if err != nil {
		t.Fatalf("growth monthly: %v", err)
	}
	if rule.Title != defaultTitle || rule.DurationMinutes != defaultDurationMinutes {
		t.Fatalf("expected defaults applied, got %+v", rule)
	}
	if rule.Schedule != "Monthly on the 15th at 10:00 AM" {
		t.Fatalf("unexpected schedule label %q", rule.Schedule)
	}
	// Jan 15 through Jun 15 inside the six month window.
	if len(instances) != 6 {
		t.Fatalf("expected 6 instances, got %d", len(instances))
	}
}

func TestCreateRecurringMeeting_TierPolicyFromTable(t *testing.T) {
	store := newMemStore()
	store.policy = TierPolicy{"growth": {FrequencyWeekly}}
	svc := newTestService(store, nil)
	if _, _, err := svc.CreateRecurringMeeting(context.Background(), "u1", "growth", tuesdayForm(FrequencyWeekly)); err != nil {
		t.Fatalf("expected seeded policy to allow weekly, got %v", err)
	}

	store2 := newMemStore()
	store2.policyErr = errors.New("relation does not exist")
	svc2 := newTestService(store2, nil)
	if _, _, err := svc2.CreateRecurringMeeting(context.Background(), "u1", "growth", tuesdayForm(FrequencyWeekly)); CodeOf(err) != CodeFrequencyNotAllowed {
		t.Fatalf("expected default policy fallback, got %v", err)
	}
}

func TestCreateRecurringMeeting_AlreadyExists(t *testing.T) {
	svc := newTestService(newMemStore(), nil)
	ctx := context.Background()
	if _, _, err := svc.CreateRecurringMeeting(ctx, "u1", "enterprise", tuesdayForm(FrequencyWeekly)); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, _, err := svc.CreateRecurringMeeting(ctx, "u1", "enterprise", tuesdayForm(FrequencyBiWeekly))
	if CodeOf(err) != CodeAlreadyExists {
		t.Fatalf("expected ALREADY_EXISTS, got %v", err)
	}
	if _, _, err := svc.CreateRecurringMeeting(ctx, "u2", "enterprise", tuesdayForm(FrequencyWeekly)); err != nil {
		t.Fatalf("other user should be unaffected: %v", err)
	}
}

// raceStore hides the active rule from the pre-check so the write-time constraint is exercised.
type raceStore struct{ *memStore }

func (r raceStore) GetActiveRuleForUser(ctx context.Context, userID string) (*RecurringMeeting, error) {
	return nil, nil
}

func TestCreateRecurringMeeting_UniqueConstraintMapsToAlreadyExists(t *testing.T) {
	mem := newMemStore()
	svc := NewService(raceStore{mem}, nil, WithClock(func() time.Time { return testNow }))
	ctx := context.Background()
	if _, _, err := svc.CreateRecurringMeeting(ctx, "u1", "pro", monthlyForm()); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, _, err := svc.CreateRecurringMeeting(ctx, "u1", "pro", monthlyForm()); CodeOf(err) != CodeAlreadyExists {
		t.Fatalf("expected ALREADY_EXISTS from constraint, got %v", err)
	}
}

func TestGenerateMeetingInstances_Idempotent(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, nil)
	ctx := context.Background()
	rule, created, err := svc.CreateRecurringMeeting(ctx, "u1", "enterprise", tuesdayForm(FrequencyWeekly))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// Tuesdays from 2024-01-02 to 2024-06-25.
	if len(created) != 26 {
		t.Fatalf("expected 26 instances, got %d", len(created))
	}
	again, err := svc.GenerateMeetingInstances(ctx, rule.ID, DefaultLookaheadMonths)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected no new instances, got %d", len(again))
	}
	seen := map[string]bool{}
	for _, in := range store.openInstances(rule.ID) {
		if seen[in.ScheduledDate] {
			t.Fatalf("duplicate open instance on %s", in.ScheduledDate)
		}
		seen[in.ScheduledDate] = true
	}
	if len(seen) != 26 {
		t.Fatalf("expected 26 open instances, got %d", len(seen))
	}

	more, err := svc.GenerateMeetingInstances(ctx, rule.ID, 7)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if len(more) != 5 {
		t.Fatalf("expected 5 July Tuesdays when extending, got %d", len(more))
	}
}

func TestGenerateMeetingInstances_UnknownRule(t *testing.T) {
	svc := newTestService(newMemStore(), nil)
	if _, err := svc.GenerateMeetingInstances(context.Background(), "missing", 6); CodeOf(err) != CodeMeetingNotFound {
		t.Fatalf("expected MEETING_NOT_FOUND, got %v", err)
	}
}

func TestRescheduleInstance_PreservesFirstOriginal(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, nil)
	ctx := context.Background()
	rule, created, err := svc.CreateRecurringMeeting(ctx, "u1", "enterprise", tuesdayForm(FrequencyWeekly))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	first := created[0]
	if first.ScheduledDate != "2024-01-02" || first.ScheduledTime != "15:00" {
		t.Fatalf("unexpected first instance %+v", first)
	}

	moved, err := svc.RescheduleInstance(ctx, "u1", first.ID, "2024-01-03", "11:00", "client travelling")
	if err != nil {
		t.Fatalf("first reschedule: %v", err)
	}
	if moved.Status != StatusRescheduled || *moved.OriginalDate != "2024-01-02" || *moved.OriginalTime != "15:00" {
		t.Fatalf("unexpected after first reschedule: %+v", moved)
	}

	moved, err = svc.RescheduleInstance(ctx, "u1", first.ID, "2024-01-04", "16:30", "")
	if err != nil {
		t.Fatalf("second reschedule: %v", err)
	}
	if *moved.OriginalDate != "2024-01-02" || *moved.OriginalTime != "15:00" {
		t.Fatalf("original slot overwritten: %v %v", *moved.OriginalDate, *moved.OriginalTime)
	}
	if moved.ScheduledDate != "2024-01-04" || moved.ScheduledTime != "16:30" {
		t.Fatalf("unexpected scheduled slot %s %s", moved.ScheduledDate, moved.ScheduledTime)
	}

	// Regenerating must not recreate the vacated original date.
	again, err := svc.GenerateMeetingInstances(ctx, rule.ID, DefaultLookaheadMonths)
	if err != nil || len(again) != 0 {
		t.Fatalf("expected no regeneration, got %d (%v)", len(again), err)
	}

	if _, err := svc.RescheduleInstance(ctx, "u1", "nope", "2024-01-04", "10:00", ""); CodeOf(err) != CodeInstanceNotFound {
		t.Fatalf("expected INSTANCE_NOT_FOUND, got %v", err)
	}
	if _, err := svc.RescheduleInstance(ctx, "someone-else", first.ID, "2024-01-05", "10:00", ""); CodeOf(err) != CodeInstanceNotFound {
		t.Fatalf("expected INSTANCE_NOT_FOUND for other user, got %v", err)
	}
	if _, err := svc.RescheduleInstance(ctx, "u1", created[1].ID, "2024-01-04", "10:00", ""); CodeOf(err) != CodeDateConflict {
		t.Fatalf("expected DATE_CONFLICT, got %v", err)
	}
}

func TestCreateRecurringMeeting_CalendarFailureIsNotFatal(t *testing.T) {
	store := newMemStore()
	cal := &fakeCalendar{fail: true, store: store}
	svc := newTestService(store, cal)
	rule, created, err := svc.CreateRecurringMeeting(context.Background(), "u1", "pro", monthlyForm())
	if err != nil {
		t.Fatalf("expected success despite calendar failure, got %v", err)
	}
	svc.Wait()
	stored, err := store.GetRule(context.Background(), rule.ID)
	if err != nil {
		t.Fatalf("rule should exist: %v", err)
	}
	if len(created) == 0 {
		t.Fatalf("instances should exist")
	}
	if len(stored.CalendarEventIDs) != 0 {
		t.Fatalf("no events should be recorded, got %v", stored.CalendarEventIDs)
	}
	for _, in := range created {
		got, _ := store.GetInstance(context.Background(), in.ID)
		if got.CalendarSyncStatus != CalendarSyncFailed || got.CalendarSyncError == "" {
			t.Fatalf("instance %s should carry the failure, got %q %q", in.ID, got.CalendarSyncStatus, got.CalendarSyncError)
		}
	}
}

func TestCreateRecurringMeeting_RecordsCalendarEvents(t *testing.T) {
	store := newMemStore()
	cal := &fakeCalendar{}
	svc := newTestService(store, cal)
	rule, created, err := svc.CreateRecurringMeeting(context.Background(), "u1", "pro", monthlyForm())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	svc.Wait()
	if len(cal.syncedIDs()) != len(created) {
		t.Fatalf("expected %d synced events, got %d", len(created), len(cal.syncedIDs()))
	}
	if len(cal.prepared) != 1 || cal.prepared[0] != "u1" {
		t.Fatalf("expected one session prepare for the owner, got %v", cal.prepared)
	}
	stored, _ := store.GetRule(context.Background(), rule.ID)
	if len(stored.CalendarEventIDs) != len(created) {
		t.Fatalf("event ids not persisted: %v", stored.CalendarEventIDs)
	}
}

func TestCreateRecurringMeeting_CalendarSyncOutlivesRequest(t *testing.T) {
	store := newMemStore()
	cal := &fakeCalendar{delay: 5 * time.Millisecond, store: store}
	svc := newTestService(store, cal)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	rule, created, err := svc.CreateRecurringMeeting(ctx, "u1", "enterprise", tuesdayForm(FrequencyWeekly))
	// the request is over as soon as the handler returns
	cancel()
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(created) < 20 {
		t.Fatalf("expected about six months of weekly instances, got %d", len(created))
	}
	svc.Wait()

	if got := len(cal.syncedIDs()); got != len(created) {
		t.Fatalf("expected all %d instances synced after the request ended, got %d", len(created), got)
	}
	stored, _ := store.GetRule(context.Background(), rule.ID)
	if len(stored.CalendarEventIDs) != len(created) {
		t.Fatalf("expected %d event ids, got %d", len(created), len(stored.CalendarEventIDs))
	}
}

func TestCreateRecurringMeeting_CalendarSyncIsBounded(t *testing.T) {
	store := newMemStore()
	cal := &fakeCalendar{delay: time.Hour, store: store}
	svc := NewService(store, cal, WithClock(func() time.Time { return testNow }), WithCalendarSyncTimeout(20*time.Millisecond))

	start := time.Now()
	_, created, err := svc.CreateRecurringMeeting(context.Background(), "u1", "pro", monthlyForm())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("create must not wait for the calendar")
	}
	svc.Wait()
	for _, in := range created {
		got, _ := store.GetInstance(context.Background(), in.ID)
		if got.CalendarSyncStatus != CalendarSyncFailed {
			t.Fatalf("timed out sync should be recorded as failed, got %q", got.CalendarSyncStatus)
		}
	}
}

func TestCancelRecurringMeeting(t *testing.T) {
	store := newMemStore()
	cal := &fakeCalendar{}
	svc := newTestService(store, cal)
	ctx := context.Background()
	rule, created, err := svc.CreateRecurringMeeting(ctx, "u1", "pro", monthlyForm())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	svc.Wait()
	store.instances[created[0].ID].CalendarEventID = "evt-" + created[0].ID

	if _, _, err := svc.CancelRecurringMeeting(ctx, "intruder", rule.ID); CodeOf(err) != CodeMeetingNotFound {
		t.Fatalf("expected MEETING_NOT_FOUND for other user, got %v", err)
	}
	got, cancelled, err := svc.CancelRecurringMeeting(ctx, "u1", rule.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	svc.Wait()
	if got.IsActive || len(cancelled) != len(created) {
		t.Fatalf("expected inactive rule and %d cancelled, got active=%v cancelled=%d", len(created), got.IsActive, len(cancelled))
	}
	if len(store.openInstances(rule.ID)) != 0 {
		t.Fatalf("expected no open instances")
	}
	if len(store.instances) != len(created) {
		t.Fatalf("instances must not be deleted")
	}
	if len(cal.removed) != 1 || cal.removed[0] != created[0].ID {
		t.Fatalf("expected calendar delete for the synced instance, got %v", cal.removed)
	}
	if _, _, err := svc.CreateRecurringMeeting(ctx, "u1", "pro", monthlyForm()); err != nil {
		t.Fatalf("new rule after cancel should be allowed: %v", err)
	}
}

func TestUpdateRecurringMeeting_AnchorChangeRegenerates(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, nil)
	ctx := context.Background()
	rule, created, err := svc.CreateRecurringMeeting(ctx, "u1", "pro", monthlyForm())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	title := "Quarterly planning"
	updated, err := svc.UpdateRecurringMeeting(ctx, "u1", "pro", rule.ID, MeetingUpdate{Title: &title})
	if err != nil {
		t.Fatalf("title update: %v", err)
	}
	if updated.Title != title || len(store.openInstances(rule.ID)) != len(created) {
		t.Fatalf("title change should not regenerate")
	}

	day := 20
	updated, err = svc.UpdateRecurringMeeting(ctx, "u1", "pro", rule.ID, MeetingUpdate{DayOfMonth: &day})
	if err != nil {
		t.Fatalf("anchor update: %v", err)
	}
	open := store.openInstances(rule.ID)
	if len(open) != 6 {
		t.Fatalf("expected 6 regenerated instances, got %d", len(open))
	}
	for _, in := range open {
		if in.ScheduledDate[8:] != "20" {
			t.Fatalf("expected instances on the 20th, got %s", in.ScheduledDate)
		}
	}
	if len(store.instances) != 12 {
		t.Fatalf("expected old instances kept as cancelled, got %d rows", len(store.instances))
	}
	if updated.Schedule != "Monthly on the 20th at 10:00 AM" {
		t.Fatalf("unexpected schedule %q", updated.Schedule)
	}

	weekly := FrequencyWeekly
	dow := 2
	if _, err := svc.UpdateRecurringMeeting(ctx, "u1", "pro", rule.ID, MeetingUpdate{Frequency: &weekly, DayOfWeek: &dow}); CodeOf(err) != CodeFrequencyNotAllowed {
		t.Fatalf("expected FREQUENCY_NOT_ALLOWED on update, got %v", err)
	}
}

func TestInstanceStatusTransitions(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, nil)
	ctx := context.Background()
	_, created, err := svc.CreateRecurringMeeting(ctx, "u1", "pro", monthlyForm())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	notes := "Went well"
	done, err := svc.MarkMeetingCompleted(ctx, created[0].ID, &notes)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != StatusCompleted || done.CompletedAt == nil || done.Notes != notes {
		t.Fatalf("unexpected completed instance %+v", done)
	}
	if _, err := svc.RescheduleInstance(ctx, "u1", created[0].ID, "2024-02-01", "10:00", ""); CodeOf(err) != CodeInvalidStatus {
		t.Fatalf("expected INVALID_STATUS rescheduling completed meeting, got %v", err)
	}
	noShow, err := svc.MarkNoShow(ctx, created[1].ID, nil)
	if err != nil || noShow.Status != StatusNoShow {
		t.Fatalf("no-show: %v %+v", err, noShow)
	}
	bad := StatusScheduled
	if _, err := svc.UpdateMeetingInstance(ctx, "u1", created[2].ID, InstanceUpdate{Status: &bad}); err != nil {
		t.Fatalf("same status should be a no-op, got %v", err)
	}
	bad = Status("archived")
	if _, err := svc.UpdateMeetingInstance(ctx, "u1", created[2].ID, InstanceUpdate{Status: &bad}); CodeOf(err) != CodeInvalidStatus {
		t.Fatalf("expected INVALID_STATUS, got %v", err)
	}
	n := "bring Q1 numbers"
	upd, err := svc.UpdateMeetingInstance(ctx, "u1", created[2].ID, InstanceUpdate{Notes: &n})
	if err != nil || upd.Notes != n {
		t.Fatalf("notes update: %v %+v", err, upd)
	}
}

func TestReminderSweep(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, nil)
	ctx := context.Background()
	if _, _, err := svc.CreateRecurringMeeting(ctx, "u1", "enterprise", tuesdayForm(FrequencyWeekly)); err != nil {
		t.Fatalf("create: %v", err)
	}
	// testNow is Monday 08:00; the first meeting is Tuesday 15:00 (31h away).
	later := testNow.Add(9 * time.Hour)
	svc.now = func() time.Time { return later }
	got, err := svc.GetMeetingsNeedingReminders(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(got.Due24h) != 1 || len(got.Due1h) != 0 {
		t.Fatalf("expected one 24h candidate, got %d/%d", len(got.Due24h), len(got.Due1h))
	}
	id := got.Due24h[0].ID
	if err := svc.MarkReminderSent(ctx, id, Reminder24h); err != nil {
		t.Fatalf("mark: %v", err)
	}

	svc.now = func() time.Time { return time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC) }
	got, _ = svc.GetMeetingsNeedingReminders(ctx)
	if len(got.Due24h) != 0 || len(got.Due1h) != 1 || got.Due1h[0].ID != id {
		t.Fatalf("expected only the 1h candidate, got %+v", got)
	}
	if err := svc.MarkReminderSent(ctx, id, ReminderType("weekly")); CodeOf(err) != CodeValidation {
		t.Fatalf("expected VALIDATION_ERROR for unknown type, got %v", err)
	}
	if err := svc.MarkReminderSent(ctx, "missing", Reminder1h); CodeOf(err) != CodeInstanceNotFound {
		t.Fatalf("expected INSTANCE_NOT_FOUND, got %v", err)
	}
}

func TestBulkGenerateInstances(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, nil)
	ctx := context.Background()
	if _, _, err := svc.CreateRecurringMeeting(ctx, "u1", "pro", monthlyForm()); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := svc.CreateRecurringMeeting(ctx, "u2", "enterprise", tuesdayForm(FrequencyWeekly)); err != nil {
		t.Fatalf("create: %v", err)
	}
	res, err := svc.BulkGenerateInstances(ctx, 7)
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	// One more monthly (Jul 15) and five more Tuesdays in July.
	if res.RulesProcessed != 2 || res.InstancesCreated != 6 || len(res.Failures) != 0 {
		t.Fatalf("unexpected bulk result %+v", res)
	}
}

func TestBulkGenerateInstances_RetriesFailedCalendarSync(t *testing.T) {
	store := newMemStore()
	cal := &fakeCalendar{fail: true, store: store}
	svc := newTestService(store, cal)
	ctx := context.Background()
	rule, created, err := svc.CreateRecurringMeeting(ctx, "u1", "pro", monthlyForm())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	svc.Wait()
	if len(cal.syncedIDs()) != 0 {
		t.Fatalf("nothing should sync while the provider is down")
	}

	cal.setFail(false)
	res, err := svc.BulkGenerateInstances(ctx, 0)
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	svc.Wait()
	if res.CalendarQueued != len(created) {
		t.Fatalf("expected %d failed instances queued, got %+v", len(created), res)
	}
	if len(cal.syncedIDs()) != len(created) {
		t.Fatalf("expected the failed instances to be retried, got %v", cal.syncedIDs())
	}
	stored, _ := store.GetRule(ctx, rule.ID)
	if len(stored.CalendarEventIDs) != len(created) {
		t.Fatalf("expected event ids after retry, got %v", stored.CalendarEventIDs)
	}

	// synced instances are not queued again
	res, err = svc.BulkGenerateInstances(ctx, 0)
	if err != nil || res.CalendarQueued != 0 {
		t.Fatalf("expected nothing left to retry, got %+v %v", res, err)
	}
}
