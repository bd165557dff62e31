package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/PortNumber53/agency-portal/backend/internal/logging"
)

const RoleAdmin = "admin"

// InternalWSSecretHeader lets a trusted backend open an events socket for any user. The handler
// compares it against the configured secret.
const InternalWSSecretHeader = "X-Internal-WS-Secret"

// Claims are issued by the identity provider. Subject carries the user id.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) IsAdmin() bool { return c != nil && c.Role == RoleAdmin }

type claimsKey struct{}

// WithClaims attaches verified claims to ctx.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}

// Authenticator verifies HS256 bearer tokens. With an empty secret every request passes, which
// is how local development runs.
type Authenticator struct {
	secret []byte
	now    func() time.Time
	public []string
	// sockets may carry the token in ?token= and scope the user with ?userId=, since browsers
	// cannot set headers on a WebSocket handshake.
	sockets []string
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{
		secret:  []byte(secret),
		now:     time.Now,
		public:  []string{"/health", "/metrics", "/api/calendar/callback"},
		sockets: []string{"/api/events/"},
	}
}

func (a *Authenticator) Enabled() bool { return a != nil && len(a.secret) > 0 }

// IssueToken signs a token for userID. Used by tooling and tests.
func (a *Authenticator) IssueToken(userID, role string, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) parse(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

func matchPath(list []string, path string) bool {
	for _, p := range list {
		if path == p || (strings.HasSuffix(p, "/") && strings.HasPrefix(path, p)) {
			return true
		}
	}
	return false
}

func (a *Authenticator) isPublic(path string) bool { return matchPath(a.public, path) }

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if header == "" || len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

// Middleware authenticates the caller and keeps /user/{userId} routes, and the userId of an
// events socket, scoped to that user. Admins may act on any user.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() || a.isPublic(r.URL.Path) || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		lg := logging.FromContext(r.Context())
		socket := matchPath(a.sockets, r.URL.Path)

		raw, ok := bearerToken(r)
		if !ok && socket {
			if r.Header.Get(InternalWSSecretHeader) != "" {
				next.ServeHTTP(w, r)
				return
			}
			raw = strings.TrimSpace(r.URL.Query().Get("token"))
			ok = raw != ""
		}
		if !ok {
			lg.Warn("missing or malformed authorization header", zap.String("path", r.URL.Path))
			denyJSON(w, http.StatusUnauthorized, "missing authorization token")
			return
		}
		claims, err := a.parse(raw)
		if err != nil {
			lg.Warn("invalid bearer token", zap.Error(err))
			denyJSON(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		uid := UserIDFromPath(r.URL.Path)
		if uid == "" && socket {
			uid = strings.TrimSpace(r.URL.Query().Get("userId"))
		}
		if uid != "" && uid != claims.Subject && !claims.IsAdmin() {
			lg.Warn("user scope mismatch", zap.String("subject", claims.Subject), zap.String("path_user", uid))
			denyJSON(w, http.StatusForbidden, "forbidden")
			return
		}
		ctx := WithClaims(r.Context(), claims)
		ctx = logging.WithContext(ctx, lg.With(zap.String("user_id", claims.Subject)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin guards admin routes. It must run after Middleware.
func (a *Authenticator) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		claims, ok := ClaimsFrom(r.Context())
		if !ok || !claims.IsAdmin() {
			denyJSON(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func denyJSON(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
