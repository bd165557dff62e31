package workers

import (
	"context"
	"log"
	"time"
)

// ReadNotificationPurger deletes read notifications older than a cutoff.
type ReadNotificationPurger interface {
	DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// NotificationCleanupWorker removes read notifications older than the configured retention period.
type NotificationCleanupWorker struct {
	Store     ReadNotificationPurger
	Retention time.Duration // default 24h
	Interval  time.Duration // default 1h
	Now       func() time.Time
}

// Start runs the cleanup loop until ctx is cancelled.
func (w *NotificationCleanupWorker) Start(ctx context.Context) {
	if w.Retention <= 0 {
		w.Retention = 24 * time.Hour
	}
	if w.Interval <= 0 {
		w.Interval = time.Hour
	}
	if w.Now == nil {
		w.Now = time.Now
	}

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	log.Printf("[NotificationCleanupWorker] started (retention=%s, interval=%s)", w.Retention, w.Interval)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[NotificationCleanupWorker] stopped")
			return
		case <-ticker.C:
			w.cleanup(ctx)
		}
	}
}

func (w *NotificationCleanupWorker) cleanup(ctx context.Context) int64 {
	deleted, err := w.Store.DeleteReadBefore(ctx, w.Now().Add(-w.Retention))
	if err != nil {
		log.Printf("[NotificationCleanupWorker] error: %v", err)
		return 0
	}
	if deleted > 0 {
		log.Printf("[NotificationCleanupWorker] deleted %d old read notifications", deleted)
	}
	return deleted
}
