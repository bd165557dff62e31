package workers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/PortNumber53/agency-portal/backend/internal/meetings"
	"github.com/PortNumber53/agency-portal/backend/internal/metrics"
)

type fakeSource struct {
	due     meetings.ReminderCandidates
	loadErr error
	markErr map[string]error
	marked  []string
}

func (f *fakeSource) GetMeetingsNeedingReminders(ctx context.Context) (meetings.ReminderCandidates, error) {
	return f.due, f.loadErr
}

func (f *fakeSource) MarkReminderSent(ctx context.Context, id string, kind meetings.ReminderType) error {
	if err := f.markErr[id]; err != nil {
		return err
	}
	f.marked = append(f.marked, id+"/"+string(kind))
	return nil
}

type sentNote struct {
	userID, typ, title, body, url string
}

type fakeNotifier struct {
	mu   sync.Mutex
	fail map[string]bool
	sent []sentNote
}

func (f *fakeNotifier) CreateOnce(ctx context.Context, userID, typ, title string, body, url *string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[*url] {
		return "", errors.New("insert failed")
	}
	f.sent = append(f.sent, sentNote{userID, typ, title, *body, *url})
	return "n", nil
}

func instance(id, date, clock string) meetings.MeetingInstance {
	return meetings.MeetingInstance{ID: id, UserID: "u1", ScheduledDate: date, ScheduledTime: clock, Status: meetings.StatusScheduled}
}

func TestReminderWorker_Sweep(t *testing.T) {
	orig := "2024-01-01"
	moved := instance("i2", "2024-01-03", "09:30")
	moved.Status = meetings.StatusRescheduled
	moved.OriginalDate = &orig

	src := &fakeSource{due: meetings.ReminderCandidates{
		Due24h: []meetings.MeetingInstance{instance("i1", "2024-01-02", "15:00"), moved},
		Due1h:  []meetings.MeetingInstance{instance("i1", "2024-01-02", "15:00")},
	}}
	n := &fakeNotifier{}
	w := &ReminderWorker{Meetings: src, Notifier: n}

	before1h := testutil.ToFloat64(metrics.RemindersSent.WithLabelValues("1h"))
	if sent := w.Sweep(context.Background()); sent != 3 {
		t.Fatalf("expected 3 reminders, got %d", sent)
	}
	if got := testutil.ToFloat64(metrics.RemindersSent.WithLabelValues("1h")) - before1h; got != 1 {
		t.Fatalf("expected 1h counter +1, got %v", got)
	}
	want := []string{"i1/24h", "i2/24h", "i1/1h"}
	if strings.Join(src.marked, ",") != strings.Join(want, ",") {
		t.Fatalf("marked %v, want %v", src.marked, want)
	}
	if n.sent[0].title != "Meeting in 24 hours" || n.sent[0].body != "Your meeting is scheduled for 2024-01-02 at 3:00 PM." {
		t.Fatalf("unexpected first notification %+v", n.sent[0])
	}
	if !strings.Contains(n.sent[1].body, "moved from 2024-01-01") {
		t.Fatalf("rescheduled reminder should mention the original date: %q", n.sent[1].body)
	}
	if n.sent[2].title != "Meeting in 1 hour" || n.sent[2].url != "/meetings/instances/i1?reminder=1h" {
		t.Fatalf("unexpected 1h notification %+v", n.sent[2])
	}
}

func TestReminderWorker_FailuresAreNotMarked(t *testing.T) {
	src := &fakeSource{
		due: meetings.ReminderCandidates{
			Due24h: []meetings.MeetingInstance{instance("i1", "2024-01-02", "15:00"), instance("i2", "2024-01-02", "16:00")},
		},
		markErr: map[string]error{"i2": errors.New("db down")},
	}
	n := &fakeNotifier{fail: map[string]bool{"/meetings/instances/i1?reminder=24h": true}}
	w := &ReminderWorker{Meetings: src, Notifier: n}

	if sent := w.Sweep(context.Background()); sent != 0 {
		t.Fatalf("expected nothing sent, got %d", sent)
	}
	if len(src.marked) != 0 {
		t.Fatalf("i1 must stay unmarked when the notification failed, got %v", src.marked)
	}

	src.loadErr = errors.New("boom")
	if sent := w.Sweep(context.Background()); sent != 0 {
		t.Fatalf("load error should send nothing")
	}
}

func TestReminderWorker_StartStops(t *testing.T) {
	src := &fakeSource{}
	w := &ReminderWorker{Meetings: src, Notifier: &fakeNotifier{}, Interval: time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("worker did not stop")
	}
}

type fakePurger struct {
	cutoff time.Time
	n      int64
	err    error
}

func (f *fakePurger) DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.n, f.err
}

func TestNotificationCleanup(t *testing.T) {
	now := time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)
	p := &fakePurger{n: 3}
	w := &NotificationCleanupWorker{Store: p, Retention: 48 * time.Hour, Now: func() time.Time { return now }}
	if got := w.cleanup(context.Background()); got != 3 {
		t.Fatalf("expected 3 deleted, got %d", got)
	}
	if !p.cutoff.Equal(now.Add(-48 * time.Hour)) {
		t.Fatalf("unexpected cutoff %s", p.cutoff)
	}
	p.err = errors.New("boom")
	if got := w.cleanup(context.Background()); got != 0 {
		t.Fatalf("error should report 0, got %d", got)
	}
}

type fakeGenerator struct {
	months int
	calls  int
}

func (f *fakeGenerator) BulkGenerateInstances(ctx context.Context, monthsAhead int) (meetings.BulkGenerateResult, error) {
	f.calls++
	f.months = monthsAhead
	return meetings.BulkGenerateResult{RulesProcessed: 2, InstancesCreated: 5}, nil
}

func TestGenerationWorker(t *testing.T) {
	if _, err := NewGenerationWorker(&fakeGenerator{}, "not a cron", "UTC", 6); err == nil {
		t.Fatalf("expected schedule error")
	}
	if _, err := NewGenerationWorker(&fakeGenerator{}, "0 3 * * *", "Nowhere/Zone", 6); err == nil {
		t.Fatalf("expected timezone error")
	}

	g := &fakeGenerator{}
	w, err := NewGenerationWorker(g, "0 3 * * *", "Australia/Sydney", 6)
	if err != nil {
		t.Fatalf("NewGenerationWorker: %v", err)
	}
	next := w.Next()
	syd, _ := time.LoadLocation("Australia/Sydney")
	if local := next.In(syd); local.Hour() != 3 || local.Minute() != 0 {
		t.Fatalf("next run should be 03:00 Sydney, got %s", local)
	}
	res := w.RunOnce(context.Background())
	if g.calls != 1 || g.months != 6 || res.InstancesCreated != 5 {
		t.Fatalf("unexpected run: calls=%d months=%d res=%+v", g.calls, g.months, res)
	}
}

// blockingGenerator holds the job open until its context ends.
type blockingGenerator struct {
	started chan struct{}
	once    sync.Once
}

func (b *blockingGenerator) BulkGenerateInstances(ctx context.Context, monthsAhead int) (meetings.BulkGenerateResult, error) {
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	return meetings.BulkGenerateResult{}, ctx.Err()
}

func TestGenerationWorker_ShutdownCancelsRunningJob(t *testing.T) {
	g := &blockingGenerator{started: make(chan struct{})}
	w, err := NewGenerationWorker(g, "@every 1s", "UTC", 6)
	if err != nil {
		t.Fatalf("NewGenerationWorker: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	select {
	case <-g.started:
	case <-time.After(5 * time.Second):
		t.Fatalf("scheduled job never ran")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Start should return promptly once its context is cancelled")
	}
}
