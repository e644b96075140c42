package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/taskyapp/tasky/internal/remote/fakeapi"
)

const testAPIKey = "test-api-key"

// setupCLI starts a fake API and writes a config pointing at it and at
// a temporary store. It returns the config path.
func setupCLI(t *testing.T) string {
	t.Helper()
	api := fakeapi.New(fakeapi.Options{APIKey: testAPIKey})
	api.AddUser("Ana Lopez", "ana@example.com", "Secret1234")
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))

	cfg := "api:\n" +
		"  base_url: " + srv.URL + "/\n" +
		"  key: " + testAPIKey + "\n" +
		"store:\n  path: " + filepath.Join(dir, "tasky.db") + "\n" +
		"settings:\n  path: " + filepath.Join(dir, "settings.toml") + "\n" +
		"sync:\n  timezone: UTC\n"
	path := filepath.Join(dir, "tasky.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// resetFlags restores every flag to its default, since commands are
// package-level and keep flag values between executions.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func runCLI(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(append([]string{"--config", cfgPath, "--no-color"}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	_ = closeApp()
	return out.String(), err
}

func mustRun(t *testing.T, cfgPath string, args ...string) string {
	t.Helper()
	out, err := runCLI(t, cfgPath, args...)
	if err != nil {
		t.Fatalf("tasky %s failed: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func agendaJSON(t *testing.T, cfgPath, day string) dayView {
	t.Helper()
	out := mustRun(t, cfgPath, "agenda", day, "--format", "json")
	var v dayView
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("agenda output is not JSON: %v\n%s", err, out)
	}
	return v
}

func TestCLI_OfflineFirstFlow(t *testing.T) {
	cfg := setupCLI(t)

	if _, err := runCLI(t, cfg, "whoami"); err == nil {
		t.Fatal("whoami before login should fail")
	}
	if out := mustRun(t, cfg, "login", "--email", "ana@example.com", "--password", "Secret1234"); !strings.Contains(out, "Logged in as Ana Lopez") {
		t.Errorf("login output = %q", out)
	}
	if out := mustRun(t, cfg, "whoami"); !strings.Contains(out, "Ana Lopez <ana@example.com>") {
		t.Errorf("whoami output = %q", out)
	}

	mustRun(t, cfg, "task", "add", "Buy", "milk", "--date", "2026-03-14", "--at", "08:00", "--remind", "15m")

	day := agendaJSON(t, cfg, "2026-03-14")
	if len(day.Items) != 1 {
		t.Fatalf("agenda has %d items, want 1", len(day.Items))
	}
	task := day.Items[0]
	if task.Title != "Buy milk" || task.Sync != "pending" || task.RemindAt == nil {
		t.Errorf("new task = %+v", task)
	}

	if out := mustRun(t, cfg, "sync", "2026-03-14"); !strings.Contains(out, "pushed 1 created") {
		t.Errorf("sync output = %q", out)
	}
	if got := agendaJSON(t, cfg, "2026-03-14").Items[0].Sync; got != "synced" {
		t.Errorf("after sync, task sync state = %q", got)
	}

	if out := mustRun(t, cfg, "task", "done", task.ID[:8]); !strings.Contains(out, "marked done") {
		t.Errorf("task done output = %q", out)
	}

	var st statusView
	if err := json.Unmarshal([]byte(mustRun(t, cfg, "status", "--json")), &st); err != nil {
		t.Fatal(err)
	}
	if st.Tasks != 1 || st.Pending != 1 || st.LastSync.IsZero() {
		t.Errorf("status = %+v, want 1 task with 1 pending change", st)
	}

	ics := mustRun(t, cfg, "export", "2026-03-14")
	for _, want := range []string{"BEGIN:VTODO", "SUMMARY:Buy milk", "STATUS:COMPLETED", "BEGIN:VALARM"} {
		if !strings.Contains(ics, want) {
			t.Errorf("export missing %q:\n%s", want, ics)
		}
	}

	if _, err := runCLI(t, cfg, "task", "rm", task.ID); err == nil {
		t.Error("task rm without --yes should fail outside a terminal")
	}
	mustRun(t, cfg, "task", "rm", task.ID, "--yes")
	if out := mustRun(t, cfg, "sync", "2026-03-14"); !strings.Contains(out, "0 created, 0 updated, 1 deleted") {
		t.Errorf("sync after delete = %q", out)
	}
	if n := len(agendaJSON(t, cfg, "2026-03-14").Items); n != 0 {
		t.Errorf("agenda after delete has %d items", n)
	}

	if out := mustRun(t, cfg, "logout"); !strings.Contains(out, "Logged out") {
		t.Errorf("logout output = %q", out)
	}
	if _, err := runCLI(t, cfg, "whoami"); err == nil {
		t.Error("whoami after logout should fail")
	}
}

func TestCLI_LoginValidation(t *testing.T) {
	cfg := setupCLI(t)

	if _, err := runCLI(t, cfg, "login", "--email", "not-an-email", "--password", "x"); err == nil {
		t.Error("login with an invalid email should fail")
	}
	if _, err := runCLI(t, cfg, "login", "--email", "ana@example.com", "--password", "Wrong12345"); err == nil {
		t.Error("login with a wrong password should fail")
	}
	if _, err := runCLI(t, cfg, "register", "--name", "Al", "--email", "al@example.com", "--password", "weak"); err == nil {
		t.Error("register with invalid fields should fail")
	}
	out := mustRun(t, cfg, "register", "--name", "Bo Berg", "--email", "bo@example.com", "--password", "Secret1234")
	if !strings.Contains(out, "Account created") {
		t.Errorf("register output = %q", out)
	}
	mustRun(t, cfg, "login", "--email", "bo@example.com", "--password", "Secret1234")
}

func TestCLI_ConfigShowMasksKey(t *testing.T) {
	cfg := setupCLI(t)

	out := mustRun(t, cfg, "config", "show")
	if strings.Contains(out, testAPIKey) {
		t.Errorf("config show leaks the API key:\n%s", out)
	}
	if !strings.Contains(out, "timezone: UTC") {
		t.Errorf("config show output:\n%s", out)
	}
	if out := mustRun(t, cfg, "config", "show", "--secrets"); !strings.Contains(out, testAPIKey) {
		t.Errorf("config show --secrets hides the key:\n%s", out)
	}
}

func TestCLI_UnknownFormat(t *testing.T) {
	cfg := setupCLI(t)
	mustRun(t, cfg, "login", "--email", "ana@example.com", "--password", "Secret1234")
	if _, err := runCLI(t, cfg, "agenda", "--format", "xml"); err == nil {
		t.Error("agenda --format xml should fail")
	}
}
