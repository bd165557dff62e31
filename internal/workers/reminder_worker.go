package workers

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/PortNumber53/agency-portal/backend/internal/meetings"
	"github.com/PortNumber53/agency-portal/backend/internal/metrics"
	"github.com/PortNumber53/agency-portal/backend/internal/notifications"
)

// ReminderSource is the slice of the scheduler the reminder worker needs.
type ReminderSource interface {
	GetMeetingsNeedingReminders(ctx context.Context) (meetings.ReminderCandidates, error)
	MarkReminderSent(ctx context.Context, instanceID string, kind meetings.ReminderType) error
}

type Notifier interface {
	CreateOnce(ctx context.Context, userID, typ, title string, body, url *string) (string, error)
}

// ReminderWorker turns due reminders into in-app notifications. A reminder is marked sent only
// after its notification is stored, so a failed sweep retries on the next tick.
type ReminderWorker struct {
	Meetings ReminderSource
	Notifier Notifier
	Interval time.Duration // default 5m
}

func (w *ReminderWorker) Start(ctx context.Context) {
	if w.Interval <= 0 {
		w.Interval = 5 * time.Minute
	}
	log.Printf("[ReminderWorker] started (interval=%s)", w.Interval)

	w.Sweep(ctx)
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("[ReminderWorker] stopped")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep delivers every due reminder once and returns how many were sent.
func (w *ReminderWorker) Sweep(ctx context.Context) int {
	due, err := w.Meetings.GetMeetingsNeedingReminders(ctx)
	if err != nil {
		log.Printf("[ReminderWorker] load candidates failed err=%v", err)
		return 0
	}
	sent := 0
	for _, inst := range due.Due24h {
		if w.deliver(ctx, inst, meetings.Reminder24h) {
			sent++
		}
	}
	for _, inst := range due.Due1h {
		if w.deliver(ctx, inst, meetings.Reminder1h) {
			sent++
		}
	}
	if sent > 0 {
		log.Printf("[ReminderWorker] sent=%d due24h=%d due1h=%d", sent, len(due.Due24h), len(due.Due1h))
	}
	return sent
}

func (w *ReminderWorker) deliver(ctx context.Context, inst meetings.MeetingInstance, kind meetings.ReminderType) bool {
	title, body := reminderText(inst, kind)
	url := fmt.Sprintf("/meetings/instances/%s?reminder=%s", inst.ID, kind)
	if _, err := w.Notifier.CreateOnce(ctx, inst.UserID, notifications.TypeMeetingReminder, title, &body, &url); err != nil {
		log.Printf("[ReminderWorker] notify failed instanceId=%s type=%s err=%v", inst.ID, kind, err)
		return false
	}
	if err := w.Meetings.MarkReminderSent(ctx, inst.ID, kind); err != nil {
		log.Printf("[ReminderWorker] mark sent failed instanceId=%s type=%s err=%v", inst.ID, kind, err)
		return false
	}
	metrics.RemindersSent.WithLabelValues(string(kind)).Inc()
	return true
}

func reminderText(inst meetings.MeetingInstance, kind meetings.ReminderType) (title, body string) {
	title = "Meeting in 24 hours"
	if kind == meetings.Reminder1h {
		title = "Meeting in 1 hour"
	}
	body = fmt.Sprintf("Your meeting is scheduled for %s at %s.", inst.ScheduledDate, meetings.TimeLabel(inst.ScheduledTime))
	if inst.Status == meetings.StatusRescheduled && inst.OriginalDate != nil {
		body += fmt.Sprintf(" It was moved from %s.", *inst.OriginalDate)
	}
	return title, body
}
