package calendar

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig throttles calls to the calendar provider from this process.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	DailyRequestsMax  int64 // 0 means unlimited
}

// DefaultRateLimit stays well under the provider's per-user quota.
func DefaultRateLimit() RateLimitConfig {
	return RateLimitConfig{RequestsPerSecond: 5, Burst: 5}
}

func (c RateLimitConfig) limiter() *rate.Limiter {
	def := DefaultRateLimit()
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = def.RequestsPerSecond
	}
	if c.Burst <= 0 {
		c.Burst = def.Burst
	}
	return rate.NewLimiter(rate.Limit(c.RequestsPerSecond), c.Burst)
}

// ConsumeRequests records add calls against today's usage row. ok is false when dailyMax would
// be exceeded.
func ConsumeRequests(ctx context.Context, db *sql.DB, add int64, dailyMax int64) (ok bool, used int64, err error) {
	if add <= 0 || db == nil {
		return true, 0, nil
	}
	day := time.Now().UTC().Format("2006-01-02")
	id := fmt.Sprintf("google_calendar:%s", day)
	var newUsed int64
	err = db.QueryRowContext(ctx, `
		INSERT INTO public.calendar_api_usage (id, provider, day, requests_used, last_updated_at)
		VALUES ($1, 'google_calendar', $2::date, $3, NOW())
		ON CONFLICT (provider, day) DO UPDATE SET
		  requests_used = public.calendar_api_usage.requests_used + EXCLUDED.requests_used,
		  last_updated_at = NOW()
		RETURNING requests_used
	`, id, day, add).Scan(&newUsed)
	if err != nil {
		return false, 0, err
	}
	if dailyMax > 0 && newUsed > dailyMax {
		return false, newUsed, nil
	}
	return true, newUsed, nil
}
