package reconcile

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/taskyapp/tasky/internal/agenda"
	"github.com/taskyapp/tasky/internal/remote"
	"github.com/taskyapp/tasky/internal/store"
)

var (
	testDay = time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	t0      = testDay.Add(-24 * time.Hour)
	t1      = t0.Add(time.Hour)
	t2      = t0.Add(2 * time.Hour)
)

var (
	errOffline  = &remote.Error{Op: "test", Err: errors.New("connection refused")}
	errRejected = &remote.Error{Op: "test", Status: http.StatusBadRequest, Message: "title too long"}
	errMissing  = &remote.Error{Op: "test", Status: http.StatusNotFound}
)

// fakeGateway is an in-memory server. Failures are injected per item id.
type fakeGateway struct {
	mu       sync.Mutex
	items    map[string]agenda.Item
	fail     map[string]error
	pushErr  error
	fetchErr error
	block    chan struct{} // when set, FetchAgenda waits on it
	entered  chan struct{} // signaled when FetchAgenda starts waiting
	pushes   int
	fetches  int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{items: make(map[string]agenda.Item), fail: make(map[string]error)}
}

func (g *fakeGateway) put(item agenda.Item) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c := item.Clone()
	agenda.Normalize(c)
	g.items[c.Header().ID] = c
}

func (g *fakeGateway) get(id string) (agenda.Item, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	it, ok := g.items[id]
	return it, ok
}

func (g *fakeGateway) PushBatch(ctx context.Context, b remote.Batch) (*remote.PushResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pushes++
	if g.pushErr != nil {
		return nil, g.pushErr
	}

	res := &remote.PushResult{}
	for _, ref := range b.Deletes {
		err := g.fail[ref.ID]
		if err == nil {
			delete(g.items, ref.ID)
		}
		res.Outcomes = append(res.Outcomes, remote.Outcome{Op: remote.OpDelete, Ref: ref, Err: err})
	}
	for _, it := range b.Creates {
		res.Outcomes = append(res.Outcomes, g.apply(remote.OpCreate, it))
	}
	for _, it := range b.Updates {
		res.Outcomes = append(res.Outcomes, g.apply(remote.OpUpdate, it))
	}
	return res, nil
}

func (g *fakeGateway) apply(op remote.Op, it agenda.Item) remote.Outcome {
	id := it.Header().ID
	err := g.fail[id]
	if err == nil && op == remote.OpUpdate {
		if _, ok := g.items[id]; !ok {
			err = errMissing
		}
	}
	if err == nil {
		g.items[id] = it.Clone()
	}
	return remote.Outcome{Op: op, Ref: agenda.RefOf(it), Item: it, Err: err}
}

func (g *fakeGateway) FetchAgenda(ctx context.Context, loc *time.Location, at time.Time) ([]agenda.Item, error) {
	g.mu.Lock()
	block, entered := g.block, g.entered
	g.mu.Unlock()
	if block != nil {
		if entered != nil {
			entered <- struct{}{}
		}
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetches++
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	var out []agenda.Item
	for _, it := range g.items {
		if agenda.InDay(it, at, loc) {
			out = append(out, it.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Header().ID < out[j].Header().ID })
	return out, nil
}

// newTestStore opens a store with the schema initialized.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.OpenAndInit(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenAndInit() failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestReconciler(st *store.Store, gw Gateway) Reconciler {
	return New(st, gw, Options{
		Logger: log.New(io.Discard, "", 0),
		Now:    func() time.Time { return testDay.Add(12 * time.Hour) },
	})
}

func task(id string, hour int, updated time.Time) *agenda.Task {
	return &agenda.Task{Base: agenda.Base{
		ID:        id,
		Title:     "task " + id,
		Time:      testDay.Add(time.Duration(hour) * time.Hour),
		UpdatedAt: updated,
	}}
}

// synced stores item as a clean, remote-known row and on the server.
func synced(t *testing.T, st *store.Store, gw *fakeGateway, item agenda.Item) {
	t.Helper()
	if err := st.ApplyRemote(context.Background(), item); err != nil {
		t.Fatalf("ApplyRemote() failed: %v", err)
	}
	gw.put(item)
}

func upsert(t *testing.T, st *store.Store, item agenda.Item) {
	t.Helper()
	if err := st.Upsert(context.Background(), item); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}
}

func record(t *testing.T, st *store.Store, id string) store.Record {
	t.Helper()
	rec, err := st.GetRecord(context.Background(), id)
	if err != nil {
		t.Fatalf("GetRecord(%s) failed: %v", id, err)
	}
	return rec
}

func run(t *testing.T, r Reconciler) *Result {
	t.Helper()
	res, err := r.Run(context.Background(), Request{Day: testDay, Location: time.UTC})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	return res
}

func TestRun_PushesLocalChanges(t *testing.T) {
	st := newTestStore(t)
	gw := newFakeGateway()
	r := newTestReconciler(st, gw)

	synced(t, st, gw, task("old", 8, t0))
	upsert(t, st, task("new", 9, t1))
	edited := task("old", 8, t2)
	edited.Title = "edited"
	upsert(t, st, edited)

	res := run(t, r)
	if res.Created != 1 || res.Updated != 1 {
		t.Errorf("Created=%d Updated=%d, want 1 and 1", res.Created, res.Updated)
	}

	for _, id := range []string{"new", "old"} {
		rec := record(t, st, id)
		if rec.Dirty || !rec.RemoteKnown {
			t.Errorf("%s: Dirty=%v RemoteKnown=%v, want clean and remote-known", id, rec.Dirty, rec.RemoteKnown)
		}
	}
	got, ok := gw.get("old")
	if !ok || got.Header().Title != "edited" {
		t.Errorf("server copy = %+v, want edited title", got)
	}
}

func TestRun_Idempotent(t *testing.T) {
	st := newTestStore(t)
	gw := newFakeGateway()
	r := newTestReconciler(st, gw)

	synced(t, st, gw, task("a", 8, t0))
	gw.put(task("b", 10, t1))
	upsert(t, st, task("c", 11, t1))
	if err := st.MarkDeleted(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}

	first := run(t, r)
	if first.Mutations() == 0 {
		t.Fatal("first run made no mutations")
	}

	second := run(t, r)
	if n := second.Mutations(); n != 0 {
		t.Errorf("second run Mutations() = %d, want 0 (%s)", n, second)
	}
	if second.Conflicts != 0 {
		t.Errorf("second run Conflicts = %d, want 0", second.Conflicts)
	}
}

func TestRun_RemoteNewerOverwritesClean(t *testing.T) {
	st := newTestStore(t)
	gw := newFakeGateway()
	r := newTestReconciler(st, gw)

	synced(t, st, gw, task("t", 8, t0))
	newer := task("t", 9, t2)
	newer.Title = "moved by another device"
	newer.IsDone = true
	gw.put(newer)

	res := run(t, r)
	if res.Overwritten != 1 {
		t.Errorf("Overwritten = %d, want 1", res.Overwritten)
	}

	got, err := st.GetByID(context.Background(), "t")
	if err != nil {
		t.Fatal(err)
	}
	if !agenda.SameContent(got, newer) || !got.Header().UpdatedAt.Equal(t2) {
		t.Errorf("local = %+v, want %+v", got, newer)
	}
}

func TestRun_RemoteNewerWinsOverPendingEdit(t *testing.T) {
	st := newTestStore(t)
	gw := newFakeGateway()
	r := newTestReconciler(st, gw)

	synced(t, st, gw, task("t", 8, t0))
	local := task("t", 8, t1)
	local.Title = "local edit"
	upsert(t, st, local)

	remoteCopy := task("t", 8, t2)
	remoteCopy.Title = "remote edit"
	gw.put(remoteCopy)
	gw.fail["t"] = errOffline // the update stays queued

	res := run(t, r)
	if res.Failed != 1 {
		t.Errorf("Failed = %d, want 1", res.Failed)
	}
	if res.Conflicts != 1 {
		t.Errorf("Conflicts = %d, want 1", res.Conflicts)
	}

	rec := record(t, st, "t")
	if rec.Item.Header().Title != "remote edit" || rec.Dirty {
		t.Errorf("local = %q dirty=%v, want remote edit and clean", rec.Item.Header().Title, rec.Dirty)
	}

	conflicts, err := st.Conflicts(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(conflicts) != 1 || conflicts[0].Resolution != store.ResolutionRemoteWon {
		t.Fatalf("Conflicts() = %+v, want one remote_won entry", conflicts)
	}
	if conflicts[0].Local.Header().Title != "local edit" {
		t.Errorf("logged local = %q, want 'local edit'", conflicts[0].Local.Header().Title)
	}
}

func TestRun_LocalNewerIsKept(t *testing.T) {
	st := newTestStore(t)
	gw := newFakeGateway()
	r := newTestReconciler(st, gw)

	synced(t, st, gw, task("t", 8, t0))
	local := task("t", 8, t2)
	local.Title = "local edit"
	upsert(t, st, local)
	older := task("t", 8, t1)
	older.Title = "older remote edit"
	gw.put(older)
	gw.fail["t"] = errOffline

	res := run(t, r)
	if res.Conflicts != 1 {
		t.Errorf("Conflicts = %d, want 1", res.Conflicts)
	}
	rec := record(t, st, "t")
	if rec.Item.Header().Title != "local edit" || !rec.Dirty {
		t.Errorf("local = %q dirty=%v, want local edit still queued", rec.Item.Header().Title, rec.Dirty)
	}
}

func TestRun_RetryableFailureIsNotAConflict(t *testing.T) {
	st := newTestStore(t)
	gw := newFakeGateway()
	r := newTestReconciler(st, gw)

	synced(t, st, gw, task("x", 8, t0))
	local := task("x", 8, t1)
	local.Title = "local edit"
	upsert(t, st, local)
	gw.fail["x"] = &remote.Error{Op: "test", Status: http.StatusServiceUnavailable, Message: "try later"}

	for i := 0; i < 3; i++ {
		res := run(t, r)
		if res.Failed != 1 || res.Conflicts != 0 {
			t.Errorf("cycle %d: Failed = %d, Conflicts = %d, want 1 and 0", i, res.Failed, res.Conflicts)
		}
	}

	conflicts, err := st.Conflicts(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(conflicts) != 0 {
		t.Errorf("Conflicts() = %+v, want none", conflicts)
	}
	rec := record(t, st, "x")
	if rec.Item.Header().Title != "local edit" || !rec.Dirty {
		t.Errorf("local = %q dirty=%v, want local edit still queued", rec.Item.Header().Title, rec.Dirty)
	}

	delete(gw.fail, "x")
	res := run(t, r)
	if res.Updated != 1 || res.Conflicts != 0 {
		t.Errorf("after recovery: Updated = %d, Conflicts = %d", res.Updated, res.Conflicts)
	}
	if got, _ := gw.get("x"); got.Header().Title != "local edit" {
		t.Errorf("server copy = %q, want local edit", got.Header().Title)
	}
}

func TestRun_OneFailureInBatch(t *testing.T) {
	st := newTestStore(t)
	gw := newFakeGateway()
	r := newTestReconciler(st, gw)
	ctx := context.Background()

	synced(t, st, gw, task("gone", 7, t0))
	synced(t, st, gw, task("bad", 9, t0))
	if err := st.MarkDeleted(ctx, "gone"); err != nil {
		t.Fatal(err)
	}
	upsert(t, st, task("fresh", 8, t1))
	bad := task("bad", 9, t1)
	bad.Title = "refused"
	upsert(t, st, bad)
	gw.fail["bad"] = errRejected

	res := run(t, r)

	if res.Purged != 1 {
		t.Errorf("Purged = %d, want 1", res.Purged)
	}
	if res.Created != 1 {
		t.Errorf("Created = %d, want 1", res.Created)
	}
	if len(res.Rejected) != 1 || res.Rejected[0].Ref.ID != "bad" {
		t.Fatalf("Rejected = %+v, want [bad]", res.Rejected)
	}
	if res.Rejected[0].Message != "title too long" {
		t.Errorf("Rejected message = %q", res.Rejected[0].Message)
	}

	if _, err := st.GetRecord(ctx, "gone"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("confirmed delete still stored: %v", err)
	}
	if rec := record(t, st, "fresh"); rec.Dirty || !rec.RemoteKnown {
		t.Errorf("fresh not synced: %+v", rec)
	}
	rec := record(t, st, "bad")
	if !rec.IsRejected() || rec.Item.Header().Title != "refused" {
		t.Errorf("bad = %+v, want rejected local version", rec)
	}

	pending, err := st.Pending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("Pending() = %d items, want 0 (rejected rows wait for an edit)", len(pending))
	}
}

func TestRun_NetworkUnavailable(t *testing.T) {
	st := newTestStore(t)
	gw := newFakeGateway()
	r := newTestReconciler(st, gw)
	ctx := context.Background()

	synced(t, st, gw, task("gone", 7, t0))
	if err := st.MarkDeleted(ctx, "gone"); err != nil {
		t.Fatal(err)
	}
	upsert(t, st, task("new", 8, t1))
	gw.pushErr = errOffline
	gw.fetchErr = errOffline

	before, err := st.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}

	res, err := r.Run(ctx, Request{Day: testDay, Location: time.UTC})
	if !remote.IsRetryable(err) {
		t.Fatalf("Run() error = %v, want network error", err)
	}
	if res.Mutations() != 0 {
		t.Errorf("Mutations() = %d, want 0", res.Mutations())
	}
	if gw.fetches != 0 {
		t.Error("pull attempted after push failed")
	}

	after, err := st.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if before != after {
		t.Errorf("Count() = %+v, want unchanged %+v", after, before)
	}
	wm, err := st.Watermark(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !wm.IsZero() {
		t.Errorf("Watermark() = %v, want zero after failed run", wm)
	}
}

func TestRun_AdvancesWatermark(t *testing.T) {
	st := newTestStore(t)
	r := newTestReconciler(st, newFakeGateway())

	res := run(t, r)
	wm, err := st.Watermark(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !wm.Equal(res.Started) {
		t.Errorf("Watermark() = %v, want %v", wm, res.Started)
	}
}

func TestRun_RemovedUpstream(t *testing.T) {
	st := newTestStore(t)
	gw := newFakeGateway()
	r := newTestReconciler(st, gw)
	ctx := context.Background()

	if err := st.ApplyRemote(ctx, task("dropped", 8, t0)); err != nil {
		t.Fatal(err)
	}
	if err := st.ApplyRemote(ctx, task("tomorrow", 24+8, t0)); err != nil {
		t.Fatal(err)
	}
	upsert(t, st, task("unsent", 9, t1))
	gw.fail["unsent"] = errOffline

	res := run(t, r)
	if res.RemovedUpstream != 1 {
		t.Errorf("RemovedUpstream = %d, want 1", res.RemovedUpstream)
	}
	if _, err := st.GetRecord(ctx, "dropped"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("dropped still stored: %v", err)
	}
	// other days and pending creates are left alone
	record(t, st, "tomorrow")
	if rec := record(t, st, "unsent"); !rec.Dirty {
		t.Error("unsent lost its pending create")
	}
}

func TestRun_SoftDeletedNotResurrected(t *testing.T) {
	st := newTestStore(t)
	gw := newFakeGateway()
	r := newTestReconciler(st, gw)
	ctx := context.Background()

	synced(t, st, gw, task("t", 8, t0))
	if err := st.MarkDeleted(ctx, "t"); err != nil {
		t.Fatal(err)
	}
	gw.fail["t"] = errOffline

	res := run(t, r)
	if res.Failed != 1 {
		t.Errorf("Failed = %d, want 1", res.Failed)
	}
	if _, err := st.GetByID(ctx, "t"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetByID() error = %v, want item to stay hidden", err)
	}
	ids, err := st.ListDeletedIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "t" {
		t.Errorf("ListDeletedIDs() = %v, want [t]", ids)
	}
}

func TestRun_UpdateOfRemotelyDeletedItem(t *testing.T) {
	st := newTestStore(t)
	gw := newFakeGateway()
	r := newTestReconciler(st, gw)
	ctx := context.Background()

	if err := st.ApplyRemote(ctx, task("t", 8, t0)); err != nil {
		t.Fatal(err)
	}
	upsert(t, st, task("t", 8, t1))

	res := run(t, r)
	if res.Purged != 1 {
		t.Errorf("Purged = %d, want 1", res.Purged)
	}
	if _, err := st.GetRecord(ctx, "t"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetRecord() error = %v, want ErrNotFound", err)
	}
}

func TestRun_RefusedDeleteRestoresServerCopy(t *testing.T) {
	st := newTestStore(t)
	gw := newFakeGateway()
	r := newTestReconciler(st, gw)
	ctx := context.Background()

	synced(t, st, gw, task("t", 8, t0))
	if err := st.MarkDeleted(ctx, "t"); err != nil {
		t.Fatal(err)
	}
	gw.fail["t"] = &remote.Error{Op: "delete event", Status: http.StatusForbidden}

	res := run(t, r)
	if len(res.Rejected) != 1 {
		t.Errorf("Rejected = %+v, want one entry", res.Rejected)
	}
	rec := record(t, st, "t")
	if rec.Item.Header().Deleted || rec.Dirty {
		t.Errorf("record = %+v, want the server copy back", rec)
	}
}

func TestRun_UnauthorizedStopsCycle(t *testing.T) {
	st := newTestStore(t)
	gw := newFakeGateway()
	r := newTestReconciler(st, gw)

	upsert(t, st, task("t", 8, t1))
	gw.fail["t"] = &remote.Error{Op: "create task", Status: http.StatusUnauthorized}

	_, err := r.Run(context.Background(), Request{Day: testDay, Location: time.UTC})
	if !errors.Is(err, remote.ErrUnauthorized) {
		t.Fatalf("Run() error = %v, want ErrUnauthorized", err)
	}
	if rec := record(t, st, "t"); rec.IsRejected() || !rec.Dirty {
		t.Errorf("record = %+v, want change still queued", rec)
	}
}

func TestRun_InFlight(t *testing.T) {
	st := newTestStore(t)
	gw := newFakeGateway()
	gw.block = make(chan struct{})
	gw.entered = make(chan struct{}, 1)
	r := newTestReconciler(st, gw)

	done := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background(), Request{Day: testDay, Location: time.UTC})
		done <- err
	}()

	<-gw.entered
	if _, err := r.Run(context.Background(), Request{Day: testDay, Location: time.UTC}); !errors.Is(err, ErrInFlight) {
		t.Fatalf("overlapping Run() error = %v, want ErrInFlight", err)
	}

	close(gw.block)
	if err := <-done; err != nil {
		t.Fatalf("first Run() failed: %v", err)
	}
	gw.mu.Lock()
	gw.block = nil
	gw.mu.Unlock()
	if _, err := r.Run(context.Background(), Request{Day: testDay, Location: time.UTC}); err != nil {
		t.Errorf("Run() after completion failed: %v", err)
	}
}
