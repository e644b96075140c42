package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"

	"github.com/taskyapp/tasky/internal/agenda"
	"github.com/taskyapp/tasky/internal/remote"
	"github.com/taskyapp/tasky/internal/store"
)

// ErrInFlight is returned by Run when another cycle is running.
var ErrInFlight = errors.New("reconciliation already in progress")

// Gateway is the part of the remote client the reconciler needs.
// *remote.Client implements it.
type Gateway interface {
	PushBatch(ctx context.Context, b remote.Batch) (*remote.PushResult, error)
	FetchAgenda(ctx context.Context, loc *time.Location, at time.Time) ([]agenda.Item, error)
}

// Reconciler synchronizes the local store with the server.
type Reconciler interface {
	// Run performs one cycle for the day containing req.Day.
	//
	// Per-item failures are logged and counted and do not fail the run.
	// An error is returned when the server cannot be reached before
	// anything was confirmed, when the pull fails, when the session is
	// no longer authorized, or when the local store fails outside of a
	// single item. The returned Result is non-nil whenever the push
	// phase ran, even if err is set.
	Run(ctx context.Context, req Request) (*Result, error)
}

// Request selects the day to pull.
type Request struct {
	// Day is any instant within the day (zero = now)
	Day time.Time
	// Location sets the day boundaries (nil = local time)
	Location *time.Location
}

// Options configures a Reconciler.
type Options struct {
	// Logger receives progress lines (default: stderr with "[sync] " prefix)
	Logger *log.Logger
	// Now is the clock used for the watermark (default: time.Now)
	Now func() time.Time
}

// RejectedItem is a change the server refused.
type RejectedItem struct {
	Op      remote.Op
	Ref     agenda.Ref
	Message string
}

// Result summarizes one cycle.
type Result struct {
	Started  time.Time
	Finished time.Time

	// Push phase
	Purged   int // confirmed deletes removed locally
	Created  int
	Updated  int
	Failed   int // changes left queued (network or local failures)
	Rejected []RejectedItem

	// Pull phase
	Inserted        int
	Overwritten     int
	RemovedUpstream int
	Conflicts       int
}

// Mutations returns the number of local store changes the cycle made.
func (r *Result) Mutations() int {
	return r.Purged + r.Created + r.Updated + len(r.Rejected) +
		r.Inserted + r.Overwritten + r.RemovedUpstream
}

// Duration returns how long the cycle took.
func (r *Result) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

func (r *Result) String() string {
	return fmt.Sprintf("pushed: created=%d updated=%d purged=%d failed=%d rejected=%d; pulled: inserted=%d overwritten=%d removed=%d; conflicts=%d",
		r.Created, r.Updated, r.Purged, r.Failed, len(r.Rejected),
		r.Inserted, r.Overwritten, r.RemovedUpstream, r.Conflicts)
}

// reconciler implements Reconciler.
type reconciler struct {
	store   *store.Store
	gateway Gateway
	logger  *log.Logger
	now     func() time.Time
	running atomic.Bool
}

// New creates a Reconciler. The store must have its schema initialized.
//
// Example:
//
//	st, err := store.OpenAndInit(ctx, "tasky.db")
//	if err != nil {
//	    return err
//	}
//	r := reconcile.New(st, client, reconcile.Options{})
//	res, err := r.Run(ctx, reconcile.Request{Day: time.Now()})
func New(st *store.Store, gw Gateway, opts Options) Reconciler {
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &reconciler{
		store:   st,
		gateway: gw,
		logger:  opts.Logger,
		now:     opts.Now,
	}
}

// Run implements Reconciler.Run.
func (r *reconciler) Run(ctx context.Context, req Request) (*Result, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrInFlight
	}
	defer r.running.Store(false)

	loc := req.Location
	if loc == nil {
		loc = time.Local
	}
	res := &Result{Started: r.now().UTC()}
	day := req.Day
	if day.IsZero() {
		day = res.Started
	}

	if err := r.push(ctx, res); err != nil {
		res.Finished = r.now().UTC()
		return res, err
	}
	if err := r.pull(ctx, res, day, loc); err != nil {
		res.Finished = r.now().UTC()
		return res, err
	}

	if err := r.store.SetWatermark(ctx, res.Started); err != nil {
		res.Finished = r.now().UTC()
		return res, fmt.Errorf("failed to advance watermark: %w", err)
	}

	res.Finished = r.now().UTC()
	r.logger.Printf("Reconciliation complete in %v: %s", res.Duration().Round(time.Millisecond), res)
	return res, nil
}

// collect builds the push batch from the local queue.
func (r *reconciler) collect(ctx context.Context) (remote.Batch, error) {
	var b remote.Batch

	deletes, err := r.store.ListDeleted(ctx)
	if err != nil {
		return b, fmt.Errorf("failed to list deleted items: %w", err)
	}
	b.Deletes = deletes

	pending, err := r.store.Pending(ctx)
	if err != nil {
		return b, fmt.Errorf("failed to list pending items: %w", err)
	}
	for _, rec := range pending {
		if rec.PendingCreate() {
			b.Creates = append(b.Creates, rec.Item)
		} else {
			b.Updates = append(b.Updates, rec.Item)
		}
	}
	return b, nil
}

func (r *reconciler) push(ctx context.Context, res *Result) error {
	b, err := r.collect(ctx)
	if err != nil {
		return err
	}
	if b.Empty() {
		return nil
	}
	r.logger.Printf("Pushing %d deletes, %d creates, %d updates",
		len(b.Deletes), len(b.Creates), len(b.Updates))

	pr, err := r.gateway.PushBatch(ctx, b)
	if err != nil {
		res.Failed += len(b.Deletes) + len(b.Creates) + len(b.Updates)
		return fmt.Errorf("failed to push changes: %w", err)
	}

	var (
		purge        []string
		unauthorized error
	)
	for _, o := range pr.Outcomes {
		if errors.Is(o.Err, remote.ErrUnauthorized) {
			unauthorized = o.Err
			res.Failed++
			continue
		}
		switch o.Op {
		case remote.OpDelete:
			r.applyDelete(res, o, &purge)
		default:
			if err := r.applyChange(ctx, res, o, &purge); err != nil {
				r.logger.Printf("Failed to record %s of %s: %v", o.Op, o.Ref.ID, err)
				res.Failed++
			}
		}
	}

	if len(purge) > 0 {
		n, err := r.store.Purge(ctx, purge)
		if err != nil {
			return fmt.Errorf("failed to purge confirmed deletes: %w", err)
		}
		res.Purged += n
	}

	if unauthorized != nil {
		return fmt.Errorf("push not authorized: %w", unauthorized)
	}
	return nil
}

// applyDelete queues confirmed and refused deletions for purging. A
// refused deletion drops the local tombstone so the next pull restores
// the server's copy.
func (r *reconciler) applyDelete(res *Result, o remote.Outcome, purge *[]string) {
	switch {
	case o.Err == nil:
		*purge = append(*purge, o.Ref.ID)
	case remote.IsRetryable(o.Err):
		r.logger.Printf("Delete of %s %s left queued: %v", o.Ref.Kind, o.Ref.ID, o.Err)
		res.Failed++
	case errors.Is(o.Err, remote.ErrServerRejected):
		r.logger.Printf("Delete of %s %s refused: %v", o.Ref.Kind, o.Ref.ID, o.Err)
		res.Rejected = append(res.Rejected, RejectedItem{Op: o.Op, Ref: o.Ref, Message: remote.Message(o.Err)})
		*purge = append(*purge, o.Ref.ID)
	default:
		r.logger.Printf("Delete of %s %s failed: %v", o.Ref.Kind, o.Ref.ID, o.Err)
		res.Failed++
	}
}

func (r *reconciler) applyChange(ctx context.Context, res *Result, o remote.Outcome, purge *[]string) error {
	switch {
	case o.Err == nil:
		ok, err := r.store.MarkSynced(ctx, o.Item)
		if err != nil {
			return err
		}
		if !ok {
			r.logger.Printf("%s %s changed during push, keeping it queued", o.Ref.Kind, o.Ref.ID)
			return nil
		}
		if o.Op == remote.OpCreate {
			res.Created++
		} else {
			res.Updated++
		}

	case o.Op == remote.OpUpdate && remote.IsNotFound(o.Err):
		r.logger.Printf("%s %s was deleted on the server, removing it", o.Ref.Kind, o.Ref.ID)
		err := r.store.LogConflict(ctx, store.Conflict{
			Resolution: store.ResolutionRemoteWon,
			Local:      o.Item,
		})
		if err != nil {
			return err
		}
		res.Conflicts++
		*purge = append(*purge, o.Ref.ID)

	case remote.IsRetryable(o.Err):
		r.logger.Printf("%s of %s %s left queued: %v", o.Op, o.Ref.Kind, o.Ref.ID, o.Err)
		res.Failed++

	case errors.Is(o.Err, remote.ErrServerRejected), errors.Is(o.Err, remote.ErrNotFound):
		msg := remote.Message(o.Err)
		ok, err := r.store.MarkRejected(ctx, o.Item, msg)
		if err != nil {
			return err
		}
		if !ok {
			// edited since, so the new version gets its own chance
			return nil
		}
		r.logger.Printf("%s of %s %s rejected: %s", o.Op, o.Ref.Kind, o.Ref.ID, msg)
		res.Rejected = append(res.Rejected, RejectedItem{Op: o.Op, Ref: o.Ref, Message: msg})

	default:
		// local failures such as an unreadable photo
		r.logger.Printf("%s of %s %s failed: %v", o.Op, o.Ref.Kind, o.Ref.ID, o.Err)
		res.Failed++
	}
	return nil
}

func (r *reconciler) pull(ctx context.Context, res *Result, day time.Time, loc *time.Location) error {
	items, err := r.gateway.FetchAgenda(ctx, loc, day)
	if err != nil {
		return fmt.Errorf("failed to fetch agenda: %w", err)
	}

	seen := make(map[string]bool, len(items))
	for _, item := range items {
		seen[item.Header().ID] = true
		if err := r.merge(ctx, res, item); err != nil {
			r.logger.Printf("Failed to merge %s %s: %v", item.Kind(), item.Header().ID, err)
			res.Failed++
		}
	}

	start, end := agenda.DayRange(day, loc)
	local, err := r.store.Records(ctx, store.Filter{From: start, To: end})
	if err != nil {
		return fmt.Errorf("failed to read local day: %w", err)
	}
	var gone []string
	for _, rec := range local {
		id := rec.Item.Header().ID
		if seen[id] || rec.PendingCreate() {
			continue
		}
		if rec.Dirty {
			err := r.store.LogConflict(ctx, store.Conflict{
				Resolution: store.ResolutionRemoteWon,
				Local:      rec.Item,
			})
			if err != nil {
				r.logger.Printf("Failed to log conflict for %s: %v", id, err)
			}
			res.Conflicts++
		}
		gone = append(gone, id)
	}
	if len(gone) > 0 {
		n, err := r.store.Purge(ctx, gone)
		if err != nil {
			return fmt.Errorf("failed to remove items deleted upstream: %w", err)
		}
		res.RemovedUpstream += n
		r.logger.Printf("Removed %d items deleted on the server", n)
	}
	return nil
}

// merge applies one server item using last write wins.
func (r *reconciler) merge(ctx context.Context, res *Result, remoteItem agenda.Item) error {
	id := remoteItem.Header().ID

	rec, err := r.store.GetRecord(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		if err := r.store.ApplyRemote(ctx, remoteItem); err != nil {
			return err
		}
		res.Inserted++
		return nil
	}
	if err != nil {
		return err
	}
	local := rec.Item

	switch {
	case local.Header().Deleted:
		// deletion still queued; never resurrect
		return nil

	case local.Kind() != remoteItem.Kind():
		if err := r.store.ApplyRemote(ctx, remoteItem); err != nil {
			return err
		}
		res.Overwritten++
		return nil

	case rec.Dirty:
		if agenda.SameContent(local, remoteItem) {
			if agenda.NewerThan(local, remoteItem) {
				return nil
			}
			if err := r.store.ApplyRemote(ctx, remoteItem); err != nil {
				return err
			}
			res.Overwritten++
			return nil
		}
		if !rec.RemoteChanged(remoteItem) {
			// the server still holds the version this edit started from
			return nil
		}
		if rec.IsRejected() && !agenda.NewerThan(remoteItem, local) {
			// already reported when the push was refused
			return nil
		}
		resolution := store.ResolutionLocalKept
		if agenda.NewerThan(remoteItem, local) {
			resolution = store.ResolutionRemoteWon
		}
		err := r.store.LogConflict(ctx, store.Conflict{
			Resolution: resolution,
			Local:      local,
			Remote:     remoteItem,
		})
		if err != nil {
			return err
		}
		res.Conflicts++
		r.logger.Printf("Conflict on %s %s: %s", local.Kind(), id, resolution)
		if resolution == store.ResolutionLocalKept {
			return nil
		}
		if err := r.store.ApplyRemote(ctx, remoteItem); err != nil {
			return err
		}
		res.Overwritten++
		return nil

	default:
		if rec.RemoteKnown && agenda.SameContent(local, remoteItem) &&
			local.Header().UpdatedAt.Equal(remoteItem.Header().UpdatedAt) {
			return nil
		}
		if err := r.store.ApplyRemote(ctx, remoteItem); err != nil {
			return err
		}
		res.Overwritten++
		return nil
	}
}
