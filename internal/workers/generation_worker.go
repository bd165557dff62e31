package workers

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/PortNumber53/agency-portal/backend/internal/meetings"
)

type BulkGenerator interface {
	BulkGenerateInstances(ctx context.Context, monthsAhead int) (meetings.BulkGenerateResult, error)
}

// GenerationWorker tops up the instance window of every active rule on a cron schedule.
type GenerationWorker struct {
	cron        *cron.Cron
	gen         BulkGenerator
	monthsAhead int
	timeout     time.Duration

	mu   sync.Mutex
	base context.Context
}

// NewGenerationWorker validates schedule (standard 5-field cron) in timezone.
func NewGenerationWorker(gen BulkGenerator, schedule, timezone string, monthsAhead int) (*GenerationWorker, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", timezone, err)
	}
	w := &GenerationWorker{
		cron:        cron.New(cron.WithLocation(loc)),
		gen:         gen,
		monthsAhead: monthsAhead,
		timeout:     30 * time.Minute,
	}
	if _, err := w.cron.AddFunc(schedule, func() { w.RunOnce(w.jobContext()) }); err != nil {
		return nil, fmt.Errorf("invalid generation schedule %q: %w", schedule, err)
	}
	return w, nil
}

// Start runs the schedule until ctx is cancelled. Scheduled jobs run under ctx, so a job in
// flight is cancelled too and Start returns once it has wound down.
func (w *GenerationWorker) Start(ctx context.Context) {
	w.mu.Lock()
	w.base = ctx
	w.mu.Unlock()
	log.Printf("[GenerationWorker] started next=%s", w.Next().Format(time.RFC3339))
	w.cron.Start()
	<-ctx.Done()
	<-w.cron.Stop().Done()
	log.Printf("[GenerationWorker] stopped")
}

func (w *GenerationWorker) jobContext() context.Context {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.base == nil {
		return context.Background()
	}
	return w.base
}

// Next is the next scheduled run, or the zero time before Start.
func (w *GenerationWorker) Next() time.Time {
	entries := w.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	if !entries[0].Next.IsZero() {
		return entries[0].Next
	}
	return entries[0].Schedule.Next(time.Now())
}

func (w *GenerationWorker) RunOnce(ctx context.Context) meetings.BulkGenerateResult {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	start := time.Now()
	res, err := w.gen.BulkGenerateInstances(ctx, w.monthsAhead)
	if err != nil {
		log.Printf("[GenerationWorker] bulk generation failed err=%v", err)
		return res
	}
	log.Printf("[GenerationWorker] rules=%d created=%d failures=%d took=%s",
		res.RulesProcessed, res.InstancesCreated, len(res.Failures), time.Since(start))
	return res
}
