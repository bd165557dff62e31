package calendar

import (
	"context"
	"database/sql"
	"log"
	"time"

	"github.com/google/uuid"
	gcal "google.golang.org/api/calendar/v3"

	"github.com/PortNumber53/agency-portal/backend/internal/bookings"
	"github.com/PortNumber53/agency-portal/backend/internal/meetings"
)

// Sync status values written to the owning row.
const (
	SyncPending      = "pending"
	SyncSynced       = "synced"
	SyncFailed       = "failed"
	SyncDeleted      = "deleted"
	SyncNotConnected = "not_connected"
)

// owner identifies the row whose calendar_* columns record a sync outcome.
type owner struct {
	kind  string
	table string
	id    string
}

func instanceOwner(id string) owner {
	return owner{kind: "meeting_instance", table: "public.generated_meeting_instances", id: id}
}

func bookingOwner(id string) owner {
	return owner{kind: "booking", table: "public.bookings", id: id}
}

// Syncer mirrors meeting instances and bookings to the provider and records every attempt: the
// owning row gets the latest status and calendar_sync_log keeps the history.
type Syncer struct {
	client *Client
	db     *sql.DB
	// account, when set, owns the calendar all events are written to. Otherwise each user's own
	// connected calendar is used.
	account string
	now     func() time.Time
}

func NewSyncer(client *Client, db *sql.DB, account string) *Syncer {
	return &Syncer{client: client, db: db, account: account, now: time.Now}
}

func (s *Syncer) accountFor(userID string) string {
	if s.account != "" {
		return s.account
	}
	return userID
}

type syncResult struct {
	eventID  string
	link     string
	status   string
	errMsg   string
	syncedAt *time.Time
}

// upsert creates the event, or updates it when eventID is known. An update of an event that
// disappeared upstream falls back to create.
func (s *Syncer) upsert(ctx context.Context, account string, o owner, eventID string, ev *gcal.Event) (syncResult, error) {
	op := "create"
	var out *gcal.Event
	var err error
	if eventID != "" {
		op = "update"
		out, err = s.client.UpdateEvent(ctx, account, eventID, ev)
		if CodeOf(err) == CodeNotFound {
			op = "create"
			out, err = s.client.CreateEvent(ctx, account, ev)
		}
	} else {
		out, err = s.client.CreateEvent(ctx, account, ev)
	}
	if err != nil {
		status := SyncFailed
		if CodeOf(err) == CodeNotConnected {
			status = SyncNotConnected
		}
		res := syncResult{eventID: eventID, status: status, errMsg: err.Error()}
		s.recordFailure(ctx, o, op, res)
		return res, err
	}
	now := s.now().UTC()
	res := syncResult{eventID: out.Id, link: out.HtmlLink, status: SyncSynced, syncedAt: &now}
	s.recordSuccess(ctx, o, op, res)
	return res, nil
}

func (s *Syncer) remove(ctx context.Context, account string, o owner, eventID string) error {
	if eventID == "" {
		return nil
	}
	if err := s.client.DeleteEvent(ctx, account, eventID); err != nil {
		s.recordFailure(ctx, o, "delete", syncResult{eventID: eventID, status: SyncFailed, errMsg: err.Error()})
		return err
	}
	s.exec(ctx, o, `UPDATE `+o.table+` SET calendar_sync_status = $2, calendar_sync_error = NULL, updated_at = NOW() WHERE id = $1`, o.id, SyncDeleted)
	s.logOperation(ctx, o, "delete", "success", eventID, "")
	return nil
}

func (s *Syncer) recordSuccess(ctx context.Context, o owner, op string, r syncResult) {
	s.exec(ctx, o, `
		UPDATE `+o.table+`
		SET calendar_event_id = $2, calendar_event_link = $3, calendar_sync_status = $4,
		    calendar_sync_error = NULL, calendar_synced_at = $5, updated_at = NOW()
		WHERE id = $1
	`, o.id, r.eventID, r.link, r.status, r.syncedAt)
	s.logOperation(ctx, o, op, "success", r.eventID, "")
	log.Printf("[Calendar] synced %s=%s op=%s eventId=%s", o.kind, o.id, op, r.eventID)
}

func (s *Syncer) recordFailure(ctx context.Context, o owner, op string, r syncResult) {
	s.exec(ctx, o, `
		UPDATE `+o.table+`
		SET calendar_sync_status = $2, calendar_sync_error = $3, updated_at = NOW()
		WHERE id = $1
	`, o.id, r.status, r.errMsg)
	s.logOperation(ctx, o, op, r.status, r.eventID, r.errMsg)
	log.Printf("[Calendar] sync failed %s=%s op=%s status=%s err=%s", o.kind, o.id, op, r.status, r.errMsg)
}

func (s *Syncer) exec(ctx context.Context, o owner, q string, args ...any) {
	if s.db == nil {
		return
	}
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		log.Printf("[Calendar] record sync status failed %s=%s err=%v", o.kind, o.id, err)
	}
}

func (s *Syncer) logOperation(ctx context.Context, o owner, op, status, eventID, msg string) {
	if s.db == nil {
		return
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO public.calendar_sync_log (id, owner_type, owner_id, operation, status, event_id, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8)
	`, uuid.NewString(), o.kind, o.id, op, status, eventID, msg, s.now().UTC())
	if err != nil {
		log.Printf("[Calendar] write sync log failed %s=%s err=%v", o.kind, o.id, err)
	}
}

// Prepare implements meetings.CalendarSyncer. It refreshes the calendar owner's token up front
// when it expires within five minutes so a batch does not stall on a refresh midway.
func (s *Syncer) Prepare(ctx context.Context, userID string) error {
	account := s.accountFor(userID)
	if err := s.client.Init(ctx, account); err != nil {
		log.Printf("[Calendar] prepare failed account=%s err=%v", account, err)
		return err
	}
	return nil
}

// SyncInstance implements meetings.CalendarSyncer.
func (s *Syncer) SyncInstance(ctx context.Context, rule *meetings.RecurringMeeting, inst *meetings.MeetingInstance) (string, error) {
	res, err := s.upsert(ctx, s.accountFor(rule.UserID), instanceOwner(inst.ID), inst.CalendarEventID, MeetingEvent(rule, inst))
	inst.CalendarSyncStatus, inst.CalendarSyncError = res.status, res.errMsg
	if err != nil {
		return "", err
	}
	inst.CalendarEventID, inst.CalendarEventLink, inst.CalendarSyncedAt = res.eventID, res.link, res.syncedAt
	return res.eventID, nil
}

// RemoveInstance implements meetings.CalendarSyncer.
func (s *Syncer) RemoveInstance(ctx context.Context, rule *meetings.RecurringMeeting, inst *meetings.MeetingInstance) error {
	if err := s.remove(ctx, s.accountFor(rule.UserID), instanceOwner(inst.ID), inst.CalendarEventID); err != nil {
		return err
	}
	inst.CalendarSyncStatus = SyncDeleted
	return nil
}

// SyncBooking implements bookings.CalendarSyncer.
func (s *Syncer) SyncBooking(ctx context.Context, b *bookings.Booking) (string, error) {
	res, err := s.upsert(ctx, s.accountFor(b.UserID), bookingOwner(b.ID), b.CalendarEventID, BookingEvent(b))
	b.CalendarSyncStatus, b.CalendarSyncError = res.status, res.errMsg
	if err != nil {
		return "", err
	}
	b.CalendarEventID, b.CalendarEventLink, b.CalendarSyncedAt = res.eventID, res.link, res.syncedAt
	return res.eventID, nil
}

// RemoveBooking implements bookings.CalendarSyncer.
func (s *Syncer) RemoveBooking(ctx context.Context, b *bookings.Booking) error {
	if err := s.remove(ctx, s.accountFor(b.UserID), bookingOwner(b.ID), b.CalendarEventID); err != nil {
		return err
	}
	b.CalendarSyncStatus = SyncDeleted
	return nil
}

var (
	_ meetings.CalendarSyncer = (*Syncer)(nil)
	_ bookings.CalendarSyncer = (*Syncer)(nil)
)
