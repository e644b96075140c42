// Package settings owns the user's persistent app settings: the AuthInfo
// of the logged-in session and whether first-run initialization happened.
//
// Settings live in a small TOML file, separate from the agenda database,
// so logging out never touches local agenda data. A Service is created
// once by the caller and passed to whoever needs it:
//
//	svc, err := settings.Open(settings.DefaultPath())
//	if err != nil {
//	    return err
//	}
//	defer svc.Close()
//
// Every mutation is written through to disk atomically (temp file plus
// rename) with 0600 permissions, since the file holds tokens.
package settings

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/taskyapp/tasky/internal/remote"
)

// ErrClosed is returned by operations on a closed Service.
var ErrClosed = errors.New("settings closed")

// ErrNotLoggedIn is returned when an operation needs AuthInfo and none is
// stored.
var ErrNotLoggedIn = errors.New("not logged in")

// AuthInfo is the session of the logged-in user.
type AuthInfo struct {
	AccessToken  string    `toml:"access_token"`
	RefreshToken string    `toml:"refresh_token"`
	ExpiresAt    time.Time `toml:"expires_at"`
	UserID       string    `toml:"user_id"`
	Username     string    `toml:"username"`
	Email        string    `toml:"email"`
}

// Valid reports whether the AuthInfo carries a usable session.
func (a AuthInfo) Valid() bool {
	return a.AccessToken != "" && a.RefreshToken != "" && a.UserID != ""
}

// fileData is the on-disk layout.
type fileData struct {
	Initialized bool      `toml:"initialized"`
	Auth        *AuthInfo `toml:"auth,omitempty"`
}

// Service reads and writes the settings file.
type Service struct {
	mu     sync.RWMutex
	path   string
	data   fileData
	closed bool
}

// DefaultPath returns the settings file under the user config directory,
// falling back to the working directory.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "tasky-settings.toml"
	}
	return filepath.Join(dir, "tasky", "settings.toml")
}

// Open loads the settings file at path. A missing file yields empty,
// uninitialized settings; it is created by Init or the first save.
func Open(path string) (*Service, error) {
	if path == "" {
		return nil, fmt.Errorf("settings path cannot be empty")
	}
	s := &Service{path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the settings file path.
func (s *Service) Path() string {
	return s.path
}

// Init marks first-run initialization as done and creates the file if
// needed. It is idempotent.
func (s *Service) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.data.Initialized {
		if _, err := os.Stat(s.path); err == nil {
			return nil
		}
	}
	s.data.Initialized = true
	return s.save()
}

// Initialized reports whether Init has run.
func (s *Service) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Initialized
}

// Close releases the Service. Further operations fail with ErrClosed.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Reload re-reads the file, picking up changes made by another process.
func (s *Service) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.loadLocked()
}

// AuthInfo returns the stored session. The boolean is false when nobody
// is logged in.
func (s *Service) AuthInfo() (AuthInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data.Auth == nil {
		return AuthInfo{}, false
	}
	return *s.data.Auth, true
}

// SaveAuthInfo stores the session of a successful login.
func (s *Service) SaveAuthInfo(info AuthInfo) error {
	if !info.Valid() {
		return fmt.Errorf("incomplete auth info for user %q", info.UserID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.data.Auth = &info
	s.data.Initialized = true
	return s.save()
}

// ClearAuthInfo forgets the session. Clearing when logged out is a no-op.
func (s *Service) ClearAuthInfo() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.data.Auth == nil {
		return nil
	}
	s.data.Auth = nil
	return s.save()
}

// LoadCredentials implements remote.CredentialStore. With nobody logged
// in it returns empty credentials, which the token source reports as
// unauthorized.
func (s *Service) LoadCredentials() (remote.Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return remote.Credentials{}, ErrClosed
	}
	if s.data.Auth == nil {
		return remote.Credentials{}, nil
	}
	a := s.data.Auth
	return remote.Credentials{
		AccessToken:  a.AccessToken,
		RefreshToken: a.RefreshToken,
		UserID:       a.UserID,
		ExpiresAt:    a.ExpiresAt,
	}, nil
}

// SaveAccessToken implements remote.CredentialStore.
func (s *Service) SaveAccessToken(token string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.data.Auth == nil {
		return ErrNotLoggedIn
	}
	s.data.Auth.AccessToken = token
	s.data.Auth.ExpiresAt = expiresAt
	return s.save()
}

func (s *Service) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Service) loadLocked() error {
	var data fileData
	_, err := toml.DecodeFile(s.path, &data)
	if errors.Is(err, os.ErrNotExist) {
		s.data = fileData{}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read settings %s: %w", s.path, err)
	}
	s.data = data
	return nil
}

// save writes the file atomically. Callers hold s.mu.
func (s *Service) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(s.data); err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".settings-*.toml")
	if err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to set settings permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace settings: %w", err)
	}
	return nil
}
