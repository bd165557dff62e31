package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process configuration assembled from the environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Log       LogConfig
	Auth      AuthConfig
	Calendar  CalendarConfig
	Meetings  MeetingsConfig
	Workers   WorkersConfig
	Tone      ToneConfig
	WSSecret  string
	Migration string
}

type ServerConfig struct {
	Port           string
	Env            string
	AllowedOrigins []string
}

type DatabaseConfig struct {
	URL string
}

type LogConfig struct {
	Level string
}

// AuthConfig configures bearer token verification. An empty secret disables auth.
type AuthConfig struct {
	JWTSecret string
	StateKey  string
}

type CalendarConfig struct {
	ClientID      string
	ClientSecret  string
	RedirectURL   string
	APIEndpoint   string
	CalendarID    string
	RPS           float64
	Burst         int
	DailyMax      int64
	AccountUserID string
}

type MeetingsConfig struct {
	LookaheadMonths int
}

type WorkersConfig struct {
	ReminderEnabled        bool
	ReminderInterval       time.Duration
	GenerationSchedule     string
	GenerationTimezone     string
	NotificationRetention  time.Duration
	NotificationCleanEvery time.Duration
}

type ToneConfig struct {
	PatternThreshold float64
}

// LoadDotEnv reads .env when present. Missing files are not an error.
func LoadDotEnv(files ...string) {
	_ = godotenv.Load(files...)
}

// Load builds a Config from getenv (usually os.Getenv).
func Load(getenv func(string) string) (*Config, error) {
	e := env{get: getenv}
	cfg := &Config{
		Server: ServerConfig{
			Port:           e.str("PORT", "18911"),
			Env:            e.str("APP_ENV", "development"),
			AllowedOrigins: e.list("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{URL: e.str("DATABASE_URL", "")},
		Log:      LogConfig{Level: e.str("LOG_LEVEL", "info")},
		Auth: AuthConfig{
			JWTSecret: e.str("AUTH_JWT_SECRET", ""),
			StateKey:  e.str("CALENDAR_STATE_SECRET", ""),
		},
		Calendar: CalendarConfig{
			ClientID:      e.str("GOOGLE_CLIENT_ID", ""),
			ClientSecret:  e.str("GOOGLE_CLIENT_SECRET", ""),
			RedirectURL:   e.str("GOOGLE_REDIRECT_URL", ""),
			APIEndpoint:   e.str("CALENDAR_API_ENDPOINT", ""),
			CalendarID:    e.str("CALENDAR_ID", "primary"),
			RPS:           e.float("CALENDAR_RPS", 5),
			Burst:         e.int("CALENDAR_BURST", 5),
			DailyMax:      int64(e.int("CALENDAR_DAILY_MAX", 0)),
			AccountUserID: e.str("CALENDAR_ACCOUNT_USER_ID", ""),
		},
		Meetings: MeetingsConfig{LookaheadMonths: e.int("MEETING_LOOKAHEAD_MONTHS", 6)},
		Workers: WorkersConfig{
			ReminderEnabled:        e.bool("REMINDER_WORKER_ENABLED", true),
			ReminderInterval:       time.Duration(e.int("REMINDER_INTERVAL_SECONDS", 300)) * time.Second,
			GenerationSchedule:     e.str("INSTANCE_GENERATION_SCHEDULE", "0 3 * * *"),
			GenerationTimezone:     e.str("INSTANCE_GENERATION_TIMEZONE", "UTC"),
			NotificationRetention:  time.Duration(e.int("NOTIFICATION_RETENTION_HOURS", 24)) * time.Hour,
			NotificationCleanEvery: time.Hour,
		},
		Tone:      ToneConfig{PatternThreshold: e.float("TONE_PATTERN_THRESHOLD", 0.6)},
		WSSecret:  e.str("INTERNAL_WS_SECRET", ""),
		Migration: e.str("MIGRATIONS_PATH", "file://db/migrations"),
	}
	if e.err != nil {
		return nil, e.err
	}
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	if cfg.Auth.StateKey == "" {
		cfg.Auth.StateKey = cfg.Auth.JWTSecret
	}
	if cfg.Meetings.LookaheadMonths <= 0 {
		return nil, fmt.Errorf("MEETING_LOOKAHEAD_MONTHS must be positive, got %d", cfg.Meetings.LookaheadMonths)
	}
	if cfg.Workers.ReminderInterval <= 0 {
		return nil, fmt.Errorf("REMINDER_INTERVAL_SECONDS must be positive")
	}
	if t := cfg.Tone.PatternThreshold; t <= 0 || t > 1 {
		return nil, fmt.Errorf("TONE_PATTERN_THRESHOLD must be in (0,1], got %v", t)
	}
	if _, err := time.LoadLocation(cfg.Workers.GenerationTimezone); err != nil {
		return nil, fmt.Errorf("INSTANCE_GENERATION_TIMEZONE: %w", err)
	}
	return cfg, nil
}

// IsProduction reports whether APP_ENV selects production logging.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Env, "production")
}

// CalendarEnabled reports whether OAuth client credentials are configured.
func (c *Config) CalendarEnabled() bool {
	return c.Calendar.ClientID != "" && c.Calendar.ClientSecret != ""
}

// env collects the first parse error so Load can report it once.
type env struct {
	get func(string) string
	err error
}

func (e *env) str(key, def string) string {
	if v := strings.TrimSpace(e.get(key)); v != "" {
		return v
	}
	return def
}

func (e *env) list(key string, def []string) []string {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (e *env) int(key string, def int) int {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return n
}

func (e *env) float(key string, def float64) float64 {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return f
}

func (e *env) bool(key string, def bool) bool {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return b
}

func (e *env) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("%s: %w", key, err)
	}
}
