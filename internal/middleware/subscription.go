package middleware

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strings"
)

// DefaultTier applies to users without an active subscription.
const DefaultTier = "starter"

type tierKey struct{}

// TierResolver looks up the subscription tier of the user named in the request path and stores
// it on the request context.
type TierResolver struct {
	DB *sql.DB
}

func NewTierResolver(db *sql.DB) *TierResolver {
	return &TierResolver{DB: db}
}

// Middleware resolves the tier for routes scoped by /user/{userId}. Lookup failures fall back to
// the default tier so the domain layer produces the tier error, not the middleware.
func (tr *TierResolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tr.shouldSkip(r) {
			next.ServeHTTP(w, r)
			return
		}
		userID := UserIDFromPath(r.URL.Path)
		if userID == "" {
			next.ServeHTTP(w, r)
			return
		}
		tier, err := tr.Lookup(r.Context(), userID)
		if err != nil {
			log.Printf("[Tier] lookup failed userId=%s err=%v", userID, err)
			tier = DefaultTier
		}
		next.ServeHTTP(w, r.WithContext(WithTier(r.Context(), tier)))
	})
}

// Only the scheduler needs a tier.
func (tr *TierResolver) shouldSkip(r *http.Request) bool {
	return !strings.HasPrefix(r.URL.Path, "/api/meetings/")
}

// Lookup returns the active plan id of the user, or DefaultTier.
func (tr *TierResolver) Lookup(ctx context.Context, userID string) (string, error) {
	if tr == nil || tr.DB == nil {
		return DefaultTier, nil
	}
	var planID string
	err := tr.DB.QueryRowContext(ctx, `
		SELECT COALESCE(plan_id, 'starter') AS plan_id
		FROM public.subscriptions
		WHERE user_id = $1 AND status = 'active'
		ORDER BY created_at DESC
		LIMIT 1
	`, userID).Scan(&planID)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultTier, nil
	}
	if err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(planID)), nil
}

func WithTier(ctx context.Context, tier string) context.Context {
	return context.WithValue(ctx, tierKey{}, tier)
}

// TierFrom returns the resolved tier, or DefaultTier when the middleware did not run.
func TierFrom(ctx context.Context) string {
	if t, ok := ctx.Value(tierKey{}).(string); ok && t != "" {
		return t
	}
	return DefaultTier
}

// UserIDFromPath extracts the segment following "user" in paths like /api/x/user/{userId}.
func UserIDFromPath(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "user" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}
