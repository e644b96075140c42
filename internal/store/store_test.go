package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/taskyapp/tasky/internal/agenda"
)

// testDBPath returns a temporary path for test databases
func testDBPath(t *testing.T) string {
	tmpDir := t.TempDir()
	return filepath.Join(tmpDir, "test.db")
}

// newTestStore opens a store with the schema initialized.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := OpenAndInit(context.Background(), testDBPath(t))
	if err != nil {
		t.Fatalf("OpenAndInit() failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

var day = time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

func newTask(id string, at time.Time) *agenda.Task {
	return &agenda.Task{Base: agenda.Base{ID: id, Title: "task " + id, Time: at}}
}

func newEvent(id string, at time.Time) *agenda.Event {
	return &agenda.Event{
		Base:               agenda.Base{ID: id, Title: "event " + id, Time: at, RemindAt: at.Add(-10 * time.Minute)},
		To:                 at.Add(time.Hour),
		Host:               "host-1",
		IsUserEventCreator: true,
		IsGoing:            true,
		Attendees: []agenda.Attendee{
			{UserID: "u1", Email: "ana@example.com", FullName: "Ana Lopez", EventID: id, IsGoing: true, RemindAt: at.Add(-10 * time.Minute)},
		},
		Photos:           []agenda.Photo{{Key: "p1", URL: "https://cdn.example.com/p1.jpg"}},
		DeletedPhotoKeys: []string{"old"},
	}
}

func TestInitSchema_Tables(t *testing.T) {
	st := newTestStore(t)

	for _, table := range []string{"tasks", "events", "reminders", "sync_meta", "conflicts"} {
		var count int
		query := `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`
		if err := st.conn.QueryRow(query, table).Scan(&count); err != nil {
			t.Fatalf("Failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("Table %s does not exist", table)
		}
	}

	// Second call must be a no-op.
	if err := st.InitSchema(context.Background()); err != nil {
		t.Errorf("Second InitSchema() failed: %v", err)
	}
}

func TestUpsertGetByID_RoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	at := day.Add(9 * time.Hour)
	items := []agenda.Item{
		newTask("t1", at),
		newEvent("e1", at.Add(time.Hour)),
		&agenda.Reminder{Base: agenda.Base{ID: "r1", Title: "call", Description: "mom", Time: at, RemindAt: at.Add(-time.Hour)}},
	}

	for _, item := range items {
		if err := st.Upsert(ctx, item); err != nil {
			t.Fatalf("Upsert(%s) failed: %v", item.Header().ID, err)
		}
		got, err := st.GetByID(ctx, item.Header().ID)
		if err != nil {
			t.Fatalf("GetByID(%s) failed: %v", item.Header().ID, err)
		}
		if diff := cmp.Diff(item, got); diff != "" {
			t.Errorf("GetByID(%s) mismatch (-want +got):\n%s", item.Header().ID, diff)
		}
	}
}

func TestUpsert_StampsUpdatedAt(t *testing.T) {
	st := newTestStore(t)
	task := newTask("t1", day.Add(time.Hour))

	if err := st.Upsert(context.Background(), task); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	if task.UpdatedAt.IsZero() {
		t.Error("UpdatedAt was not stamped")
	}
}

func TestUpsert_Update(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	task := newTask("t1", day.Add(time.Hour))
	if err := st.Upsert(ctx, task); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	task.Title = "renamed"
	task.IsDone = true
	task.Touch()
	if err := st.Upsert(ctx, task); err != nil {
		t.Fatalf("second Upsert() failed: %v", err)
	}

	got, err := st.GetByID(ctx, "t1")
	if err != nil {
		t.Fatalf("GetByID() failed: %v", err)
	}
	gotTask := got.(*agenda.Task)
	if gotTask.Title != "renamed" || !gotTask.IsDone {
		t.Errorf("GetByID() = %+v, want renamed and done", gotTask)
	}

	all, err := st.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll() failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("GetAll() returned %d items, want 1", len(all))
	}
}

func TestUpsert_Invalid(t *testing.T) {
	st := newTestStore(t)

	err := st.Upsert(context.Background(), &agenda.Task{Base: agenda.Base{ID: "t1", Time: day}})
	if !errors.Is(err, agenda.ErrInvalid) {
		t.Errorf("Upsert() error = %v, want ErrInvalid", err)
	}
}

func TestUpsert_KindConflict(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.Upsert(ctx, newTask("shared", day.Add(time.Hour))); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
	err := st.Upsert(ctx, newEvent("shared", day.Add(time.Hour)))
	if !errors.Is(err, ErrKindConflict) {
		t.Errorf("Upsert() error = %v, want ErrKindConflict", err)
	}
}

func TestGetByID_NotFound(t *testing.T) {
	st := newTestStore(t)

	_, err := st.GetByID(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() error = %v, want ErrNotFound", err)
	}
}

func TestMarkDeleted_HidesUntilPurged(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	at := day.Add(10 * time.Hour)
	for _, id := range []string{"t1", "t2"} {
		if err := st.Upsert(ctx, newTask(id, at)); err != nil {
			t.Fatalf("Upsert(%s) failed: %v", id, err)
		}
	}

	if err := st.MarkDeleted(ctx, "t1"); err != nil {
		t.Fatalf("MarkDeleted() failed: %v", err)
	}

	dayItems, err := st.GetForDay(ctx, day)
	if err != nil {
		t.Fatalf("GetForDay() failed: %v", err)
	}
	if len(dayItems) != 1 || dayItems[0].Header().ID != "t2" {
		t.Errorf("GetForDay() = %v, want only t2", ids(dayItems))
	}

	all, err := st.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll() failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("GetAll() returned %d items, want 1", len(all))
	}

	if _, err := st.GetByID(ctx, "t1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID(deleted) error = %v, want ErrNotFound", err)
	}

	deleted, err := st.ListDeletedIDs(ctx)
	if err != nil {
		t.Fatalf("ListDeletedIDs() failed: %v", err)
	}
	if diff := cmp.Diff([]string{"t1"}, deleted); diff != "" {
		t.Errorf("ListDeletedIDs() mismatch (-want +got):\n%s", diff)
	}

	n, err := st.Purge(ctx, deleted)
	if err != nil {
		t.Fatalf("Purge() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Purge() removed %d rows, want 1", n)
	}

	deleted, err = st.ListDeletedIDs(ctx)
	if err != nil {
		t.Fatalf("ListDeletedIDs() failed: %v", err)
	}
	if len(deleted) != 0 {
		t.Errorf("ListDeletedIDs() after purge = %v, want empty", deleted)
	}
}

func TestMarkDeleted_NotFound(t *testing.T) {
	st := newTestStore(t)

	if err := st.MarkDeleted(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkDeleted() error = %v, want ErrNotFound", err)
	}
}

func TestListDeleted_Kinds(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	at := day.Add(time.Hour)
	if err := st.Upsert(ctx, newTask("t1", at)); err != nil {
		t.Fatal(err)
	}
	if err := st.Upsert(ctx, newEvent("e1", at)); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"t1", "e1"} {
		if err := st.MarkDeleted(ctx, id); err != nil {
			t.Fatalf("MarkDeleted(%s) failed: %v", id, err)
		}
	}

	refs, err := st.ListDeleted(ctx)
	if err != nil {
		t.Fatalf("ListDeleted() failed: %v", err)
	}
	want := []agenda.Ref{{ID: "e1", Kind: agenda.KindEvent}, {ID: "t1", Kind: agenda.KindTask}}
	if diff := cmp.Diff(want, refs); diff != "" {
		t.Errorf("ListDeleted() mismatch (-want +got):\n%s", diff)
	}
}

func TestGetForDay_Boundaries(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		id     string
		at     time.Time
		inside bool
	}{
		{"start", day, true},
		{"last-second", day.Add(agenda.DaySeconds*time.Second - time.Second), true},
		{"next-day", day.Add(agenda.DaySeconds * time.Second), false},
		{"before", day.Add(-time.Second), false},
	}

	for _, tt := range tests {
		if err := st.Upsert(ctx, newTask(tt.id, tt.at)); err != nil {
			t.Fatalf("Upsert(%s) failed: %v", tt.id, err)
		}
	}

	got, err := st.GetForDay(ctx, day.Add(15*time.Hour))
	if err != nil {
		t.Fatalf("GetForDay() failed: %v", err)
	}
	found := make(map[string]bool)
	for _, item := range got {
		found[item.Header().ID] = true
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if found[tt.id] != tt.inside {
				t.Errorf("item at %s in day = %v, want %v", tt.at, found[tt.id], tt.inside)
			}
		})
	}
}

func TestGetForDay_UsesDayLocation(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata not available: %v", err)
	}
	st := newTestStore(t)
	ctx := context.Background()

	// 02:00 UTC on the 15th is still the 14th in New York.
	if err := st.Upsert(ctx, newTask("late", day.Add(26*time.Hour))); err != nil {
		t.Fatal(err)
	}

	got, err := st.GetForDay(ctx, time.Date(2026, 3, 14, 12, 0, 0, 0, loc))
	if err != nil {
		t.Fatalf("GetForDay() failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("GetForDay() = %v, want [late]", ids(got))
	}
}

func TestList_Filter(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	at := day.Add(8 * time.Hour)
	fixtures := []agenda.Item{
		newTask("t1", at.Add(2*time.Hour)),
		newEvent("e1", at),
		&agenda.Reminder{Base: agenda.Base{ID: "r1", Title: "r", Time: at.Add(time.Hour)}},
	}
	for _, it := range fixtures {
		if err := st.Upsert(ctx, it); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all ordered by time", Filter{}, []string{"e1", "r1", "t1"}},
		{"kind", Filter{Kind: agenda.KindTask}, []string{"t1"}},
		{"from", Filter{From: at.Add(time.Hour)}, []string{"r1", "t1"}},
		{"to exclusive", Filter{To: at.Add(time.Hour)}, []string{"e1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := st.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, ids(got)); diff != "" {
				t.Errorf("List() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPendingAndMarkSynced(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	task := newTask("t1", day.Add(time.Hour))
	if err := st.Upsert(ctx, task); err != nil {
		t.Fatal(err)
	}

	pending, err := st.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending() failed: %v", err)
	}
	if len(pending) != 1 || !pending[0].PendingCreate() {
		t.Fatalf("Pending() = %+v, want one pending create", pending)
	}

	ok, err := st.MarkSynced(ctx, pending[0].Item)
	if err != nil {
		t.Fatalf("MarkSynced() failed: %v", err)
	}
	if !ok {
		t.Fatal("MarkSynced() did not apply")
	}

	pending, err = st.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending() failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("Pending() after sync = %d items, want 0", len(pending))
	}

	rec, err := st.GetRecord(ctx, "t1")
	if err != nil {
		t.Fatalf("GetRecord() failed: %v", err)
	}
	if rec.Dirty || !rec.RemoteKnown {
		t.Errorf("record = %+v, want clean and remote-known", rec)
	}

	// An edit keeps remote_known and makes the row an update.
	task.Title = "edited"
	task.Touch()
	if err := st.Upsert(ctx, task); err != nil {
		t.Fatal(err)
	}
	rec, err = st.GetRecord(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Dirty || rec.PendingCreate() {
		t.Errorf("record after edit = %+v, want dirty update", rec)
	}
}

func TestMarkSynced_SkipsConcurrentEdit(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	task := newTask("t1", day.Add(time.Hour))
	task.UpdatedAt = day
	if err := st.Upsert(ctx, task); err != nil {
		t.Fatal(err)
	}
	pushed := task.Clone()

	task.Title = "edited during push"
	task.UpdatedAt = day.Add(time.Minute)
	if err := st.Upsert(ctx, task); err != nil {
		t.Fatal(err)
	}

	ok, err := st.MarkSynced(ctx, pushed)
	if err != nil {
		t.Fatalf("MarkSynced() failed: %v", err)
	}
	if ok {
		t.Error("MarkSynced() applied to a newer local version")
	}

	pending, err := st.Pending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Errorf("Pending() = %d items, want 1", len(pending))
	}

	// the server holds the pushed version, so it becomes the sync base
	rec, err := st.GetRecord(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if !rec.RemoteKnown || !rec.SyncedAt.Equal(day) {
		t.Errorf("record = remote_known %v synced_at %v, want true and %v", rec.RemoteKnown, rec.SyncedAt, day)
	}
	if rec.RemoteChanged(pushed) {
		t.Error("RemoteChanged(pushed version) = true")
	}
}

func TestSyncBase(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	task := newTask("t1", day.Add(time.Hour))
	task.UpdatedAt = day
	if err := st.Upsert(ctx, task); err != nil {
		t.Fatal(err)
	}
	rec, err := st.GetRecord(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if !rec.SyncedAt.IsZero() || !rec.RemoteChanged(task) {
		t.Errorf("unsynced record: synced_at %v, RemoteChanged %v", rec.SyncedAt, rec.RemoteChanged(task))
	}

	if ok, err := st.MarkSynced(ctx, task); err != nil || !ok {
		t.Fatalf("MarkSynced() = %v, %v", ok, err)
	}

	// local edits keep the base
	edited := task.Clone().(*agenda.Task)
	edited.Title = "edited"
	edited.UpdatedAt = day.Add(time.Hour)
	if err := st.Upsert(ctx, edited); err != nil {
		t.Fatal(err)
	}
	rec, err = st.GetRecord(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if !rec.SyncedAt.Equal(day) {
		t.Errorf("SyncedAt after edit = %v, want %v", rec.SyncedAt, day)
	}
	if rec.RemoteChanged(task) {
		t.Error("RemoteChanged(base version) = true")
	}

	newer := task.Clone().(*agenda.Task)
	newer.UpdatedAt = day.Add(2 * time.Hour)
	if !rec.RemoteChanged(newer) {
		t.Error("RemoteChanged(newer server version) = false")
	}
	if err := st.ApplyRemote(ctx, newer); err != nil {
		t.Fatal(err)
	}
	rec, err = st.GetRecord(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if !rec.SyncedAt.Equal(newer.UpdatedAt) {
		t.Errorf("SyncedAt after ApplyRemote = %v, want %v", rec.SyncedAt, newer.UpdatedAt)
	}
}

func TestMarkRejected_ExcludedUntilEdited(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	task := newTask("t1", day.Add(time.Hour))
	if err := st.Upsert(ctx, task); err != nil {
		t.Fatal(err)
	}
	ok, err := st.MarkRejected(ctx, task, "title too long")
	if err != nil || !ok {
		t.Fatalf("MarkRejected() = %v, %v", ok, err)
	}

	pending, err := st.Pending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("Pending() = %d items, want 0 while rejected", len(pending))
	}
	rec, err := st.GetRecord(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Rejected != "title too long" {
		t.Errorf("Rejected = %q, want server message", rec.Rejected)
	}

	task.Title = "short"
	task.Touch()
	if err := st.Upsert(ctx, task); err != nil {
		t.Fatal(err)
	}
	pending, err = st.Pending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Errorf("Pending() after edit = %d items, want 1", len(pending))
	}
}

func TestApplyRemote(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	remote := newEvent("e1", day.Add(time.Hour))
	remote.UpdatedAt = day
	if err := st.ApplyRemote(ctx, remote); err != nil {
		t.Fatalf("ApplyRemote() failed: %v", err)
	}

	rec, err := st.GetRecord(ctx, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Dirty || !rec.RemoteKnown {
		t.Errorf("record = %+v, want clean and remote-known", rec)
	}
	if diff := cmp.Diff(agenda.Item(remote), rec.Item); diff != "" {
		t.Errorf("stored item mismatch (-want +got):\n%s", diff)
	}
}

func TestClearDay_KeepsPendingChanges(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	at := day.Add(time.Hour)
	clean := newTask("clean", at)
	clean.UpdatedAt = day
	if err := st.ApplyRemote(ctx, clean); err != nil {
		t.Fatal(err)
	}
	if err := st.Upsert(ctx, newTask("dirty", at)); err != nil {
		t.Fatal(err)
	}
	other := newTask("other-day", at.Add(48*time.Hour))
	other.UpdatedAt = day
	if err := st.ApplyRemote(ctx, other); err != nil {
		t.Fatal(err)
	}

	n, err := st.ClearDay(ctx, day)
	if err != nil {
		t.Fatalf("ClearDay() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("ClearDay() removed %d rows, want 1", n)
	}

	all, err := st.GetAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"dirty", "other-day"}, ids(all)); diff != "" {
		t.Errorf("GetAll() mismatch (-want +got):\n%s", diff)
	}
}

func TestWatermark(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	wm, err := st.Watermark(ctx)
	if err != nil {
		t.Fatalf("Watermark() failed: %v", err)
	}
	if !wm.IsZero() {
		t.Errorf("Watermark() = %v, want zero", wm)
	}

	want := time.Date(2026, 3, 14, 9, 30, 0, 123e6, time.UTC)
	if err := st.SetWatermark(ctx, want); err != nil {
		t.Fatalf("SetWatermark() failed: %v", err)
	}
	wm, err = st.Watermark(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !wm.Equal(want) {
		t.Errorf("Watermark() = %v, want %v", wm, want)
	}
}

func TestConflictLog(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	local := newTask("t1", day.Add(time.Hour))
	local.UpdatedAt = day.Add(time.Minute)
	remote := newTask("t1", day.Add(time.Hour))
	remote.Title = "server title"
	remote.UpdatedAt = day.Add(2 * time.Minute)

	if err := st.LogConflict(ctx, Conflict{Resolution: ResolutionRemoteWon, Local: local, Remote: remote}); err != nil {
		t.Fatalf("LogConflict() failed: %v", err)
	}

	got, err := st.Conflicts(ctx, 10)
	if err != nil {
		t.Fatalf("Conflicts() failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Conflicts() returned %d entries, want 1", len(got))
	}
	c := got[0]
	if c.ItemID != "t1" || c.Kind != agenda.KindTask || c.Resolution != ResolutionRemoteWon {
		t.Errorf("conflict = %+v", c)
	}
	if !c.RemoteUpdatedAt.Equal(remote.UpdatedAt) {
		t.Errorf("RemoteUpdatedAt = %v, want %v", c.RemoteUpdatedAt, remote.UpdatedAt)
	}
	if c.Remote.Header().Title != "server title" {
		t.Errorf("Remote title = %q", c.Remote.Header().Title)
	}
}

func TestCount(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	at := day.Add(time.Hour)
	if err := st.Upsert(ctx, newTask("t1", at)); err != nil {
		t.Fatal(err)
	}
	if err := st.Upsert(ctx, newTask("t2", at)); err != nil {
		t.Fatal(err)
	}
	if err := st.Upsert(ctx, newEvent("e1", at)); err != nil {
		t.Fatal(err)
	}
	if err := st.MarkDeleted(ctx, "t2"); err != nil {
		t.Fatal(err)
	}

	c, err := st.Count(ctx)
	if err != nil {
		t.Fatalf("Count() failed: %v", err)
	}
	want := Counts{Tasks: 1, Events: 1, Deleted: 1, Pending: 2}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("Count() mismatch (-want +got):\n%s", diff)
	}
}

func TestUpsert_ConcurrentWriters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			task := newTask("shared", day.Add(time.Hour))
			task.Title = fmt.Sprintf("writer %d", i)
			errs <- st.Upsert(ctx, task)
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Upsert() failed: %v", err)
		}
	}
	if n := st.locks.size(); n != 0 {
		t.Errorf("lock table has %d entries after writers finished, want 0", n)
	}
}

func ids(items []agenda.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Header().ID
	}
	return out
}
