package calendar

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/PortNumber53/agency-portal/backend/internal/metrics"
)

const (
	// initMargin is applied when a caller prepares a session with Init.
	initMargin = 5 * time.Minute
	// callMargin is applied immediately before each provider call.
	callMargin = 2 * time.Minute
)

// Config carries OAuth client credentials and provider endpoints.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	CalendarID   string
	// APIEndpoint and TokenURL override the provider defaults (used against fakes).
	APIEndpoint string
	AuthURL     string
	TokenURL    string
	RateLimit   RateLimitConfig
}

// Enabled reports whether OAuth credentials are configured.
func (c Config) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Client is the single authenticated path to the calendar provider. Tokens are cached per user
// and refreshed ahead of expiry.
type Client struct {
	oauth      *oauth2.Config
	tokens     TokenStore
	calendarID string
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
	backoff    []time.Duration
	now        func() time.Time
	usageDB    *sql.DB
	dailyMax   int64

	mu    sync.Mutex
	cache map[string]*oauth2.Token
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithBackoff(steps []time.Duration) ClientOption {
	return func(c *Client) { c.backoff = steps }
}

func WithClientClock(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

// WithDailyQuota enables request accounting in calendar_api_usage.
func WithDailyQuota(db *sql.DB, max int64) ClientOption {
	return func(c *Client) {
		c.usageDB = db
		c.dailyMax = max
	}
}

func NewClient(cfg Config, tokens TokenStore, opts ...ClientOption) *Client {
	endpoint := google.Endpoint
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	calID := cfg.CalendarID
	if calID == "" {
		calID = "primary"
	}
	c := &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{gcal.CalendarEventsScope},
		},
		tokens:     tokens,
		calendarID: calID,
		endpoint:   cfg.APIEndpoint,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		limiter:    cfg.RateLimit.limiter(),
		backoff:    DefaultBackoff,
		now:        time.Now,
		cache:      map[string]*oauth2.Token{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// AuthCodeURL is the provider consent URL; offline access yields a refresh token.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// Exchange trades an authorization code for tokens and persists them for userID.
func (c *Client) Exchange(ctx context.Context, userID, code string) (*oauth2.Token, error) {
	tok, err := c.oauth.Exchange(c.oauthContext(ctx), code)
	if err != nil {
		return nil, classify(err)
	}
	if tok.RefreshToken == "" {
		if prev, err := c.tokens.Load(ctx, userID); err == nil {
			tok.RefreshToken = prev.RefreshToken
		}
	}
	if err := c.tokens.Save(ctx, userID, tok); err != nil {
		return nil, fmt.Errorf("save calendar token: %w", err)
	}
	c.remember(userID, tok)
	log.Printf("[Calendar] connected userId=%s expiresAt=%s refresh=%v", userID, tok.Expiry.UTC().Format(time.RFC3339), tok.RefreshToken != "")
	return tok, nil
}

// ConnectionStatus describes the stored credentials without exposing them.
type ConnectionStatus struct {
	Connected       bool       `json:"connected"`
	HasRefreshToken bool       `json:"hasRefreshToken"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`

	// Ready is false when the stored token could not be refreshed.
	Ready      bool   `json:"ready"`
	ReadyError string `json:"readyError,omitempty"`
}

func (c *Client) Status(ctx context.Context, userID string) (ConnectionStatus, error) {
	tok, err := c.tokens.Load(ctx, userID)
	if errors.Is(err, ErrNoToken) {
		return ConnectionStatus{}, nil
	}
	if err != nil {
		return ConnectionStatus{}, err
	}
	st := ConnectionStatus{Connected: true, HasRefreshToken: tok.RefreshToken != ""}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.UTC()
		st.ExpiresAt = &exp
	}
	return st, nil
}

// Disconnect forgets the user's tokens.
func (c *Client) Disconnect(ctx context.Context, userID string) error {
	c.forget(userID)
	return c.tokens.Delete(ctx, userID)
}

// Init makes sure a token valid for at least five more minutes is cached for userID.
func (c *Client) Init(ctx context.Context, userID string) error {
	_, err := c.validToken(ctx, userID, initMargin)
	return err
}

func (c *Client) remember(userID string, tok *oauth2.Token) {
	c.mu.Lock()
	c.cache[userID] = tok
	c.mu.Unlock()
}

func (c *Client) forget(userID string) {
	c.mu.Lock()
	delete(c.cache, userID)
	c.mu.Unlock()
}

func (c *Client) validToken(ctx context.Context, userID string, margin time.Duration) (*oauth2.Token, error) {
	c.mu.Lock()
	tok := c.cache[userID]
	c.mu.Unlock()
	if tok == nil {
		loaded, err := c.tokens.Load(ctx, userID)
		if errors.Is(err, ErrNoToken) {
			return nil, &Error{Code: CodeNotConnected, Message: "calendar is not connected"}
		}
		if err != nil {
			return nil, fmt.Errorf("load calendar token: %w", err)
		}
		tok = loaded
	}
	if tok.AccessToken != "" && (tok.Expiry.IsZero() || tok.Expiry.After(c.now().Add(margin))) {
		c.remember(userID, tok)
		return tok, nil
	}
	return c.refresh(ctx, userID, tok)
}

func (c *Client) refresh(ctx context.Context, userID string, tok *oauth2.Token) (*oauth2.Token, error) {
	if tok.RefreshToken == "" {
		c.forget(userID)
		metrics.CalendarTokenRefreshes.WithLabelValues("missing").Inc()
		return nil, &Error{Code: CodeTokenExpired, Message: "access token expired and no refresh token is stored; reconnect the calendar"}
	}
	src := c.oauth.TokenSource(c.oauthContext(ctx), &oauth2.Token{RefreshToken: tok.RefreshToken})
	fresh, err := src.Token()
	if err != nil {
		metrics.CalendarTokenRefreshes.WithLabelValues("failed").Inc()
		cerr := classify(err)
		if CodeOf(cerr) == CodeInvalidToken {
			c.forget(userID)
		}
		log.Printf("[Calendar] token refresh failed userId=%s err=%v", userID, cerr)
		return nil, cerr
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = tok.RefreshToken
	}
	if err := c.tokens.Save(ctx, userID, fresh); err != nil {
		log.Printf("[Calendar] save refreshed token failed userId=%s err=%v", userID, err)
	}
	c.remember(userID, fresh)
	metrics.CalendarTokenRefreshes.WithLabelValues("success").Inc()
	log.Printf("[Calendar] token refreshed userId=%s expiresAt=%s", userID, fresh.Expiry.UTC().Format(time.RFC3339))
	return fresh, nil
}

func (c *Client) service(ctx context.Context, tok *oauth2.Token) (*gcal.Service, error) {
	hc := &http.Client{
		Transport: &oauth2.Transport{Source: oauth2.StaticTokenSource(tok), Base: c.httpClient.Transport},
		Timeout:   c.httpClient.Timeout,
	}
	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}
	return gcal.NewService(ctx, opts...)
}

// do runs one provider call for userID: rate limit, quota, fresh bearer token, error
// classification.
func (c *Client) do(ctx context.Context, userID, op string, fn func(ctx context.Context, svc *gcal.Service) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if c.usageDB != nil && c.dailyMax > 0 {
		ok, used, err := ConsumeRequests(ctx, c.usageDB, 1, c.dailyMax)
		if err != nil {
			log.Printf("[Calendar] quota check failed op=%s err=%v", op, err)
		} else if !ok {
			metrics.RecordCalendarSync(op, "quota_exceeded")
			return &Error{Code: CodeQuotaExceeded, Message: fmt.Sprintf("daily calendar quota reached used=%d", used)}
		}
	}
	tok, err := c.validToken(ctx, userID, callMargin)
	if err != nil {
		metrics.RecordCalendarSync(op, "auth_failed")
		return err
	}
	svc, err := c.service(ctx, tok)
	if err != nil {
		return classify(err)
	}
	err = classify(fn(ctx, svc))
	if CodeOf(err) == CodeInvalidToken {
		c.forget(userID)
	}
	if err != nil {
		metrics.RecordCalendarSync(op, "failed")
		return err
	}
	metrics.RecordCalendarSync(op, "success")
	return nil
}

// CreateEvent inserts ev into the configured calendar.
func (c *Client) CreateEvent(ctx context.Context, userID string, ev *gcal.Event) (*gcal.Event, error) {
	var out *gcal.Event
	err := WithRetry(ctx, "create_event", c.backoff, func(ctx context.Context) error {
		return c.do(ctx, userID, "create_event", func(ctx context.Context, svc *gcal.Service) error {
			created, err := svc.Events.Insert(c.calendarID, ev).SendUpdates("all").Context(ctx).Do()
			if err != nil {
				return err
			}
			out = created
			return nil
		})
	})
	return out, err
}

// UpdateEvent replaces the event's payload.
func (c *Client) UpdateEvent(ctx context.Context, userID, eventID string, ev *gcal.Event) (*gcal.Event, error) {
	var out *gcal.Event
	err := WithRetry(ctx, "update_event", c.backoff, func(ctx context.Context) error {
		return c.do(ctx, userID, "update_event", func(ctx context.Context, svc *gcal.Service) error {
			updated, err := svc.Events.Update(c.calendarID, eventID, ev).SendUpdates("all").Context(ctx).Do()
			if err != nil {
				return err
			}
			out = updated
			return nil
		})
	})
	return out, err
}

// DeleteEvent removes the event. An event that is already gone counts as deleted.
func (c *Client) DeleteEvent(ctx context.Context, userID, eventID string) error {
	err := WithRetry(ctx, "delete_event", c.backoff, func(ctx context.Context) error {
		return c.do(ctx, userID, "delete_event", func(ctx context.Context, svc *gcal.Service) error {
			return svc.Events.Delete(c.calendarID, eventID).SendUpdates("all").Context(ctx).Do()
		})
	})
	if CodeOf(err) == CodeNotFound {
		return nil
	}
	return err
}

// GetEvent reads an event; reads are not retried.
func (c *Client) GetEvent(ctx context.Context, userID, eventID string) (*gcal.Event, error) {
	var out *gcal.Event
	err := c.do(ctx, userID, "get_event", func(ctx context.Context, svc *gcal.Service) error {
		ev, err := svc.Events.Get(c.calendarID, eventID).Context(ctx).Do()
		if err != nil {
			return err
		}
		out = ev
		return nil
	})
	return out, err
}
