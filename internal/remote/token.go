package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// Credentials are the persisted session tokens.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	UserID       string
	ExpiresAt    time.Time
}

// CredentialStore loads and persists session tokens. The settings service
// implements it.
type CredentialStore interface {
	LoadCredentials() (Credentials, error)
	SaveAccessToken(token string, expiresAt time.Time) error
}

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	RefreshAccessToken(ctx context.Context, refreshToken, userID string) (*oauth2.Token, error)
}

// refreshTimeout bounds a token refresh triggered from a request.
const refreshTimeout = 15 * time.Second

type tokenSource struct {
	mu        sync.Mutex
	store     CredentialStore
	refresher Refresher
}

// NewTokenSource returns a token source that reads the access token from
// store and refreshes it through refresher once it expires. A refreshed
// token is saved back to store.
//
// A missing session yields ErrUnauthorized so callers can prompt for
// login.
func NewTokenSource(store CredentialStore, refresher Refresher) oauth2.TokenSource {
	return &tokenSource{store: store, refresher: refresher}
}

func (s *tokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	creds, err := s.store.LoadCredentials()
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	if creds.AccessToken == "" {
		return nil, unauthorized("token", "not logged in")
	}

	tok := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: creds.RefreshToken,
		Expiry:       creds.ExpiresAt,
	}
	if tok.Valid() {
		return tok, nil
	}
	if creds.RefreshToken == "" || s.refresher == nil {
		return nil, unauthorized("token", "session expired, log in again")
	}

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	fresh, err := s.refresher.RefreshAccessToken(ctx, creds.RefreshToken, creds.UserID)
	if err != nil {
		if errors.Is(err, ErrServerRejected) && !errors.Is(err, ErrUnauthorized) {
			return nil, unauthorized("token", "session expired, log in again")
		}
		return nil, err
	}
	if err := s.store.SaveAccessToken(fresh.AccessToken, fresh.Expiry); err != nil {
		return nil, fmt.Errorf("failed to save refreshed token: %w", err)
	}
	return fresh, nil
}
