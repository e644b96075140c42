package settings

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func testPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "tasky", "settings.toml")
}

func testAuth() AuthInfo {
	return AuthInfo{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
		UserID:       "u-1",
		Username:     "Ana Lopez",
		Email:        "ana@example.com",
	}
}

func TestOpen_MissingFile(t *testing.T) {
	svc, err := Open(testPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer svc.Close()

	if svc.Initialized() {
		t.Error("fresh settings should not be initialized")
	}
	if _, ok := svc.AuthInfo(); ok {
		t.Error("fresh settings should have no auth info")
	}
}

func TestInit(t *testing.T) {
	path := testPath(t)
	svc, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Init(); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	if err := svc.Init(); err != nil {
		t.Fatalf("second Init() failed: %v", err)
	}
	if !svc.Initialized() {
		t.Error("Initialized() = false after Init()")
	}
	svc.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reopened.Initialized() {
		t.Error("initialized flag not persisted")
	}
}

func TestAuthInfoRoundTrip(t *testing.T) {
	path := testPath(t)
	svc, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.SaveAuthInfo(testAuth()); err != nil {
		t.Fatalf("SaveAuthInfo() failed: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := reopened.AuthInfo()
	if !ok {
		t.Fatal("AuthInfo() missing after reopen")
	}
	if diff := cmp.Diff(testAuth(), got); diff != "" {
		t.Errorf("AuthInfo() mismatch (-want +got):\n%s", diff)
	}

	if runtime.GOOS != "windows" {
		fi, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if perm := fi.Mode().Perm(); perm != 0o600 {
			t.Errorf("settings permissions = %o, want 600", perm)
		}
	}
}

func TestSaveAuthInfo_Incomplete(t *testing.T) {
	svc, err := Open(testPath(t))
	if err != nil {
		t.Fatal(err)
	}
	info := testAuth()
	info.RefreshToken = ""
	if err := svc.SaveAuthInfo(info); err == nil {
		t.Error("SaveAuthInfo() with missing refresh token should fail")
	}
}

func TestClearAuthInfo(t *testing.T) {
	path := testPath(t)
	svc, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.ClearAuthInfo(); err != nil {
		t.Fatalf("ClearAuthInfo() when logged out failed: %v", err)
	}
	if err := svc.SaveAuthInfo(testAuth()); err != nil {
		t.Fatal(err)
	}
	if err := svc.ClearAuthInfo(); err != nil {
		t.Fatalf("ClearAuthInfo() failed: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := reopened.AuthInfo(); ok {
		t.Error("auth info survived logout")
	}
	if !reopened.Initialized() {
		t.Error("logout should keep the initialized flag")
	}
}

func TestCredentialStore(t *testing.T) {
	svc, err := Open(testPath(t))
	if err != nil {
		t.Fatal(err)
	}

	creds, err := svc.LoadCredentials()
	if err != nil {
		t.Fatalf("LoadCredentials() failed: %v", err)
	}
	if creds.AccessToken != "" {
		t.Errorf("LoadCredentials() = %+v, want empty when logged out", creds)
	}
	if err := svc.SaveAccessToken("x", time.Now()); !errors.Is(err, ErrNotLoggedIn) {
		t.Errorf("SaveAccessToken() error = %v, want ErrNotLoggedIn", err)
	}

	if err := svc.SaveAuthInfo(testAuth()); err != nil {
		t.Fatal(err)
	}
	exp := time.Date(2026, 3, 14, 13, 0, 0, 0, time.UTC)
	if err := svc.SaveAccessToken("fresh", exp); err != nil {
		t.Fatalf("SaveAccessToken() failed: %v", err)
	}
	creds, err = svc.LoadCredentials()
	if err != nil {
		t.Fatal(err)
	}
	if creds.AccessToken != "fresh" || !creds.ExpiresAt.Equal(exp) || creds.RefreshToken != "refresh" {
		t.Errorf("LoadCredentials() = %+v", creds)
	}
}

func TestReload(t *testing.T) {
	path := testPath(t)
	a, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := a.SaveAuthInfo(testAuth()); err != nil {
		t.Fatal(err)
	}
	if _, ok := b.AuthInfo(); ok {
		t.Fatal("second service saw the change before Reload()")
	}
	if err := b.Reload(); err != nil {
		t.Fatalf("Reload() failed: %v", err)
	}
	if _, ok := b.AuthInfo(); !ok {
		t.Error("Reload() did not pick up the login")
	}
}

func TestClosed(t *testing.T) {
	svc, err := Open(testPath(t))
	if err != nil {
		t.Fatal(err)
	}
	svc.Close()

	if err := svc.Init(); !errors.Is(err, ErrClosed) {
		t.Errorf("Init() error = %v, want ErrClosed", err)
	}
	if err := svc.SaveAuthInfo(testAuth()); !errors.Is(err, ErrClosed) {
		t.Errorf("SaveAuthInfo() error = %v, want ErrClosed", err)
	}
	if _, err := svc.LoadCredentials(); !errors.Is(err, ErrClosed) {
		t.Errorf("LoadCredentials() error = %v, want ErrClosed", err)
	}
}

func TestOpen_Corrupt(t *testing.T) {
	path := testPath(t)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("initialized = [not toml"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Error("Open() of a corrupt file should fail")
	}
}
