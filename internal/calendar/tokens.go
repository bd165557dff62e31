package calendar

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// SettingsKey is the user_settings key holding the calendar OAuth token.
const SettingsKey = "google_calendar_oauth"

// ErrNoToken means the user never connected a calendar (or disconnected it).
var ErrNoToken = errors.New("calendar: no stored token")

// TokenStore persists OAuth tokens per user.
type TokenStore interface {
	Load(ctx context.Context, userID string) (*oauth2.Token, error)
	Save(ctx context.Context, userID string, tok *oauth2.Token) error
	Delete(ctx context.Context, userID string) error
}

// storedToken is the JSON shape kept in user_settings.value.
type storedToken struct {
	AccessToken  string `json:"accessToken"`
	TokenType    string `json:"tokenType"`
	ExpiresAt    string `json:"expiresAt"`
	RefreshToken string `json:"refreshToken"`
	Scope        string `json:"scope,omitempty"`
}

func encodeToken(tok *oauth2.Token) ([]byte, error) {
	st := storedToken{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
	}
	if !tok.Expiry.IsZero() {
		st.ExpiresAt = tok.Expiry.UTC().Format(time.RFC3339)
	}
	if s, ok := tok.Extra("scope").(string); ok {
		st.Scope = s
	}
	return json.Marshal(st)
}

func decodeToken(raw []byte) (*oauth2.Token, error) {
	var st storedToken
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, err
	}
	if st.AccessToken == "" && st.RefreshToken == "" {
		return nil, ErrNoToken
	}
	tok := &oauth2.Token{AccessToken: st.AccessToken, TokenType: st.TokenType, RefreshToken: st.RefreshToken}
	if strings.TrimSpace(st.ExpiresAt) != "" {
		if t, err := time.Parse(time.RFC3339, st.ExpiresAt); err == nil {
			tok.Expiry = t
		}
	}
	return tok, nil
}

// PostgresTokenStore keeps tokens in public.user_settings.
type PostgresTokenStore struct {
	db *sql.DB
}

func NewPostgresTokenStore(db *sql.DB) *PostgresTokenStore {
	return &PostgresTokenStore{db: db}
}

func (s *PostgresTokenStore) Load(ctx context.Context, userID string) (*oauth2.Token, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM public.user_settings WHERE user_id = $1 AND key = $2 AND value IS NOT NULL`, userID, SettingsKey).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, ErrNoToken
	}
	return decodeToken(raw)
}

func (s *PostgresTokenStore) Save(ctx context.Context, userID string, tok *oauth2.Token) error {
	raw, err := encodeToken(tok)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO public.user_settings (user_id, key, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, userID, SettingsKey, raw)
	return err
}

func (s *PostgresTokenStore) Delete(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM public.user_settings WHERE user_id = $1 AND key = $2`, userID, SettingsKey)
	return err
}
