package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func mapEnv(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(mapEnv(map[string]string{"DATABASE_URL": "postgres://localhost/agency"}))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "18911" {
		t.Fatalf("expected default port 18911, got %q", cfg.Server.Port)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "*" {
		t.Fatalf("unexpected origins %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Meetings.LookaheadMonths != 6 {
		t.Fatalf("expected 6 month lookahead, got %d", cfg.Meetings.LookaheadMonths)
	}
	if cfg.Workers.ReminderInterval != 300*time.Second || !cfg.Workers.ReminderEnabled {
		t.Fatalf("unexpected reminder settings %+v", cfg.Workers)
	}
	if cfg.Workers.GenerationSchedule != "0 3 * * *" {
		t.Fatalf("unexpected schedule %q", cfg.Workers.GenerationSchedule)
	}
	if cfg.Tone.PatternThreshold != 0.6 {
		t.Fatalf("unexpected threshold %v", cfg.Tone.PatternThreshold)
	}
	if cfg.Calendar.CalendarID != "primary" || cfg.CalendarEnabled() {
		t.Fatalf("calendar should default to primary and be disabled: %+v", cfg.Calendar)
	}
	if cfg.IsProduction() {
		t.Fatalf("development is the default env")
	}
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := Load(mapEnv(map[string]string{
		"DATABASE_URL":                 "postgres://db/agency",
		"PORT":                         "9000",
		"APP_ENV":                      "production",
		"CORS_ALLOWED_ORIGINS":         "https://a.example, https://b.example,",
		"AUTH_JWT_SECRET":              "jwt",
		"GOOGLE_CLIENT_ID":             "cid",
		"GOOGLE_CLIENT_SECRET":         "cs",
		"CALENDAR_RPS":                 "2.5",
		"MEETING_LOOKAHEAD_MONTHS":     "3",
		"REMINDER_WORKER_ENABLED":      "false",
		"REMINDER_INTERVAL_SECONDS":    "60",
		"INSTANCE_GENERATION_TIMEZONE": "Australia/Sydney",
		"TONE_PATTERN_THRESHOLD":       "0.8",
	}))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "9000" || !cfg.IsProduction() {
		t.Fatalf("unexpected server config %+v", cfg.Server)
	}
	if strings.Join(cfg.Server.AllowedOrigins, "|") != "https://a.example|https://b.example" {
		t.Fatalf("unexpected origins %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Auth.StateKey != "jwt" {
		t.Fatalf("state key should fall back to the JWT secret, got %q", cfg.Auth.StateKey)
	}
	if !cfg.CalendarEnabled() || cfg.Calendar.RPS != 2.5 {
		t.Fatalf("unexpected calendar config %+v", cfg.Calendar)
	}
	if cfg.Meetings.LookaheadMonths != 3 || cfg.Workers.ReminderEnabled || cfg.Workers.ReminderInterval != time.Minute {
		t.Fatalf("unexpected worker config %+v %+v", cfg.Meetings, cfg.Workers)
	}
	if cfg.Tone.PatternThreshold != 0.8 {
		t.Fatalf("unexpected threshold %v", cfg.Tone.PatternThreshold)
	}
}

func TestLoad_Errors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing db", map[string]string{}, "DATABASE_URL"},
		{"bad int", map[string]string{"DATABASE_URL": "x", "MEETING_LOOKAHEAD_MONTHS": "six"}, "MEETING_LOOKAHEAD_MONTHS"},
		{"zero lookahead", map[string]string{"DATABASE_URL": "x", "MEETING_LOOKAHEAD_MONTHS": "0"}, "MEETING_LOOKAHEAD_MONTHS"},
		{"bad bool", map[string]string{"DATABASE_URL": "x", "REMINDER_WORKER_ENABLED": "maybe"}, "REMINDER_WORKER_ENABLED"},
		{"threshold", map[string]string{"DATABASE_URL": "x", "TONE_PATTERN_THRESHOLD": "1.5"}, "TONE_PATTERN_THRESHOLD"},
		{"timezone", map[string]string{"DATABASE_URL": "x", "INSTANCE_GENERATION_TIMEZONE": "Mars/Base"}, "INSTANCE_GENERATION_TIMEZONE"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Load(mapEnv(c.env))
			if err == nil || !strings.Contains(err.Error(), c.want) {
				t.Fatalf("expected error mentioning %s, got %v", c.want, err)
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("AGENCY_TEST_DOTENV=loaded\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("AGENCY_TEST_DOTENV", "")
	_ = os.Unsetenv("AGENCY_TEST_DOTENV")

	LoadDotEnv(path)
	if got := os.Getenv("AGENCY_TEST_DOTENV"); got != "loaded" {
		t.Fatalf("expected dotenv value, got %q", got)
	}
	LoadDotEnv(filepath.Join(dir, "missing.env"))
}
