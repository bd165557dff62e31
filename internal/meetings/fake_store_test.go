package meetings

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// memStore is an in-memory Store used by service tests.
type memStore struct {
	mu        sync.Mutex
	rules     map[string]*RecurringMeeting
	instances map[string]*MeetingInstance
	policy    TierPolicy
	policyErr error
	reminded  map[string][]ReminderType
}

func newMemStore() *memStore {
	return &memStore{
		rules:     map[string]*RecurringMeeting{},
		instances: map[string]*MeetingInstance{},
		reminded:  map[string][]ReminderType{},
	}
}

func (m *memStore) CreateRule(ctx context.Context, r *RecurringMeeting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.rules {
		if x.UserID == r.UserID && x.IsActive && r.IsActive {
			return ErrActiveExists
		}
	}
	cp := *r
	m.rules[r.ID] = &cp
	return nil
}

func (m *memStore) GetRule(ctx context.Context, id string) (*RecurringMeeting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) GetActiveRuleForUser(ctx context.Context, userID string) (*RecurringMeeting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rules {
		if r.UserID == userID && r.IsActive {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) ListRulesForUser(ctx context.Context, userID string) ([]RecurringMeeting, error) {
	all, _ := m.ListRules(ctx, false)
	out := []RecurringMeeting{}
	for _, r := range all {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) ListRules(ctx context.Context, activeOnly bool) ([]RecurringMeeting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []RecurringMeeting{}
	for _, r := range m.rules {
		if activeOnly && !r.IsActive {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) UpdateRule(ctx context.Context, r *RecurringMeeting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[r.ID]; !ok {
		return ErrNotFound
	}
	cp := *r
	m.rules[r.ID] = &cp
	return nil
}

func (m *memStore) DeactivateRule(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok {
		return ErrNotFound
	}
	r.IsActive = false
	r.CancelledAt = &at
	return nil
}

func (m *memStore) SetRuleCalendarEventIDs(ctx context.Context, id string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rules[id]; ok {
		r.CalendarEventIDs = append([]string{}, ids...)
	}
	return nil
}

func (m *memStore) TakenDates(ctx context.Context, ruleID string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]bool{}
	for _, in := range m.instances {
		if in.RecurringMeetingID != ruleID || in.Status == StatusCancelled {
			continue
		}
		out[in.ScheduledDate] = true
		if in.OriginalDate != nil {
			out[*in.OriginalDate] = true
		}
	}
	return out, nil
}

func (m *memStore) InsertInstances(ctx context.Context, list []MeetingInstance) ([]MeetingInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []MeetingInstance{}
	for _, in := range list {
		clash := false
		for _, x := range m.instances {
			if x.RecurringMeetingID == in.RecurringMeetingID && x.ScheduledDate == in.ScheduledDate && x.Status != StatusCancelled {
				clash = true
				break
			}
		}
		if clash {
			continue
		}
		cp := in
		m.instances[in.ID] = &cp
		out = append(out, in)
	}
	return out, nil
}

func (m *memStore) GetInstance(ctx context.Context, id string) (*MeetingInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.instances[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *in
	return &cp, nil
}

func (m *memStore) ListInstances(ctx context.Context, f InstanceFilter) ([]MeetingInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []MeetingInstance{}
	for _, in := range m.instances {
		if f.UserID != "" && in.UserID != f.UserID {
			continue
		}
		if f.RecurringMeetingID != "" && in.RecurringMeetingID != f.RecurringMeetingID {
			continue
		}
		if f.From != nil && in.ScheduledAt.Before(*f.From) {
			continue
		}
		if f.To != nil && in.ScheduledAt.After(*f.To) {
			continue
		}
		if f.CalendarUnsynced {
			switch in.CalendarSyncStatus {
			case "", "pending", CalendarSyncFailed:
			default:
				continue
			}
		}
		if len(f.Statuses) > 0 {
			match := false
			for _, s := range f.Statuses {
				match = match || s == in.Status
			}
			if !match {
				continue
			}
		}
		out = append(out, *in)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memStore) UpdateInstance(ctx context.Context, in *MeetingInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.instances[in.ID]
	if !ok {
		return ErrNotFound
	}
	if in.Status != StatusCancelled {
		for _, x := range m.instances {
			if x.ID != in.ID && x.RecurringMeetingID == in.RecurringMeetingID && x.ScheduledDate == in.ScheduledDate && x.Status != StatusCancelled {
				return ErrSlotTaken
			}
		}
	}
	cp := *in
	cp.CalendarEventID, cp.CalendarEventLink = cur.CalendarEventID, cur.CalendarEventLink
	cp.CalendarSyncStatus, cp.CalendarSyncError = cur.CalendarSyncStatus, cur.CalendarSyncError
	m.instances[in.ID] = &cp
	return nil
}

func (m *memStore) CancelFutureInstances(ctx context.Context, ruleID string, after time.Time) ([]MeetingInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []MeetingInstance{}
	for _, in := range m.instances {
		if in.RecurringMeetingID == ruleID && in.ScheduledAt.After(after) && in.Status.Open() {
			in.Status = StatusCancelled
			out = append(out, *in)
		}
	}
	return out, nil
}

func (m *memStore) ListUpcoming(ctx context.Context, limit int) ([]UpcomingMeeting, error) {
	return []UpcomingMeeting{}, nil
}

func (m *memStore) InstancesDueForReminder(ctx context.Context, kind ReminderType, now, horizon time.Time) ([]MeetingInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []MeetingInstance{}
	for _, in := range m.instances {
		sent := in.Reminder24hSent
		if kind == Reminder1h {
			sent = in.Reminder1hSent
		}
		if in.Status.Open() && !sent && in.ScheduledAt.After(now) && !in.ScheduledAt.After(horizon) {
			out = append(out, *in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (m *memStore) MarkReminderSent(ctx context.Context, id string, kind ReminderType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.instances[id]
	if !ok {
		return ErrNotFound
	}
	if kind == Reminder24h {
		in.Reminder24hSent = true
	} else {
		in.Reminder1hSent = true
	}
	m.reminded[id] = append(m.reminded[id], kind)
	return nil
}

func (m *memStore) LoadTierPolicy(ctx context.Context) (TierPolicy, error) {
	return m.policy, m.policyErr
}

func (m *memStore) openInstances(ruleID string) []MeetingInstance {
	list, _ := m.ListInstances(context.Background(), InstanceFilter{RecurringMeetingID: ruleID, Statuses: []Status{StatusScheduled, StatusRescheduled}})
	return list
}

// fakeCalendar records calls and optionally fails every sync. When store is set it writes the
// sync outcome onto the instance the way the calendar syncer writes the row.
type fakeCalendar struct {
	mu       sync.Mutex
	synced   []string
	removed  []string
	prepared []string
	fail     bool
	delay    time.Duration
	store    *memStore
}

func (c *fakeCalendar) Prepare(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prepared = append(c.prepared, userID)
	return nil
}

func (c *fakeCalendar) SyncInstance(ctx context.Context, rule *RecurringMeeting, inst *MeetingInstance) (string, error) {
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			c.record(inst.ID, CalendarSyncFailed, ctx.Err().Error(), "")
			return "", ctx.Err()
		}
	}
	c.mu.Lock()
	fail := c.fail
	c.mu.Unlock()
	if fail {
		c.record(inst.ID, CalendarSyncFailed, "calendar provider unavailable", "")
		return "", errors.New("calendar provider unavailable")
	}
	c.mu.Lock()
	c.synced = append(c.synced, inst.ID)
	c.mu.Unlock()
	c.record(inst.ID, "synced", "", "evt-"+inst.ID)
	return "evt-" + inst.ID, nil
}

func (c *fakeCalendar) RemoveInstance(ctx context.Context, rule *RecurringMeeting, inst *MeetingInstance) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removed = append(c.removed, inst.ID)
	return nil
}

func (c *fakeCalendar) setFail(v bool) {
	c.mu.Lock()
	c.fail = v
	c.mu.Unlock()
}

func (c *fakeCalendar) syncedIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.synced...)
}

func (c *fakeCalendar) record(id, status, msg, eventID string) {
	if c.store == nil {
		return
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if in, ok := c.store.instances[id]; ok {
		in.CalendarSyncStatus, in.CalendarSyncError = status, msg
		if eventID != "" {
			in.CalendarEventID = eventID
		}
	}
}
