package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/taskyapp/tasky/internal/agenda"
)

// Record is a stored item together with its sync bookkeeping.
type Record struct {
	Item agenda.Item

	// Dirty is set by local changes and cleared once the server accepts
	// them.
	Dirty bool

	// RemoteKnown is set once the server has confirmed the id. Rows that
	// are dirty but not remote-known are pending creates.
	RemoteKnown bool

	// Rejected holds the server's message for a refused push, empty
	// otherwise. Rejected rows are not pushed again until edited.
	Rejected string

	// SyncedAt is the UpdatedAt of the last version both sides agreed on:
	// the last pulled server version or the last accepted push. Zero when
	// the item was never synced.
	SyncedAt time.Time
}

// PendingCreate reports whether the server has never seen this item.
func (r Record) PendingCreate() bool {
	return !r.RemoteKnown
}

// RemoteChanged reports whether remote differs from the version this row
// was last synced at. Without a sync base every remote version counts as
// changed.
func (r Record) RemoteChanged(remote agenda.Item) bool {
	if r.SyncedAt.IsZero() {
		return true
	}
	return millis(remote.Header().UpdatedAt) != millis(r.SyncedAt)
}

// IsRejected reports whether the last push of this item was refused.
func (r Record) IsRejected() bool {
	return r.Rejected != ""
}

// Filter selects items for List and Records.
type Filter struct {
	// Kind restricts results to one variant (empty = all kinds)
	Kind agenda.Kind
	// From is the inclusive lower bound on Time (zero = unbounded)
	From time.Time
	// To is the exclusive upper bound on Time (zero = unbounded)
	To time.Time
	// IncludeDeleted also returns soft-deleted rows
	IncludeDeleted bool
}

// Upsert inserts or replaces an item as a local change.
//
// The row is marked dirty so the reconciler pushes it, and any previous
// server rejection is cleared. UpdatedAt is stamped with the current time
// when it is zero; times are normalized in place to their stored
// precision. An id already used by another kind fails with
// ErrKindConflict.
func (s *Store) Upsert(ctx context.Context, item agenda.Item) error {
	if item.Header().UpdatedAt.IsZero() {
		item.Header().Touch()
	}
	agenda.Normalize(item)
	if err := item.Validate(); err != nil {
		return fmt.Errorf("invalid %s: %w", item.Kind(), err)
	}

	unlock := s.locks.Lock(item.Header().ID)
	defer unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := checkKind(ctx, tx, item); err != nil {
			return err
		}
		return upsertRow(ctx, tx, item, rowState{dirty: true}, "remote_known", "synced_at")
	})
}

// GetByID returns the visible item with the given id.
func (s *Store) GetByID(ctx context.Context, id string) (agenda.Item, error) {
	rec, err := s.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Item.Header().Deleted {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return rec.Item, nil
}

// GetRecord returns the row for id whether or not it is soft-deleted.
func (s *Store) GetRecord(ctx context.Context, id string) (Record, error) {
	for _, t := range tableList {
		row := s.conn.QueryRowContext(ctx, t.selectSQL()+" WHERE id = ?", id)
		rec, err := scanRecord(t, row)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return Record{}, fmt.Errorf("failed to get %s %s: %w", t.kind, id, err)
		}
		return rec, nil
	}
	return Record{}, fmt.Errorf("%s: %w", id, ErrNotFound)
}

// GetAll returns every visible item ordered by time.
func (s *Store) GetAll(ctx context.Context) ([]agenda.Item, error) {
	return s.List(ctx, Filter{})
}

// List returns items matching the filter ordered by time, then id.
func (s *Store) List(ctx context.Context, f Filter) ([]agenda.Item, error) {
	recs, err := s.Records(ctx, f)
	if err != nil {
		return nil, err
	}
	items := make([]agenda.Item, 0, len(recs))
	for _, r := range recs {
		items = append(items, r.Item)
	}
	return items, nil
}

// GetForDay returns the visible items whose time falls in the half-open
// range [startOfDay, startOfDay+86400s). The day is taken in day's own
// location.
func (s *Store) GetForDay(ctx context.Context, day time.Time) ([]agenda.Item, error) {
	start, end := agenda.DayRange(day, nil)
	return s.List(ctx, Filter{From: start, To: end})
}

// Records returns items matching the filter along with their bookkeeping.
func (s *Store) Records(ctx context.Context, f Filter) ([]Record, error) {
	var conditions []string
	var args []any

	if !f.IncludeDeleted {
		conditions = append(conditions, "isDeleted = 0")
	}
	if !f.From.IsZero() {
		conditions = append(conditions, "time >= ?")
		args = append(args, f.From.Unix())
	}
	if !f.To.IsZero() {
		conditions = append(conditions, "time < ?")
		args = append(args, f.To.Unix())
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var out []Record
	for _, t := range tableList {
		if f.Kind != "" && f.Kind != t.kind {
			continue
		}
		recs, err := s.queryRecords(ctx, t, t.selectSQL()+where, args...)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}

	sortRecords(out)
	return out, nil
}

// MarkDeleted soft-deletes the item: the row stays until the server
// confirms the deletion and Purge removes it.
func (s *Store) MarkDeleted(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	now := time.Now().UTC().UnixMilli()
	for _, t := range tableList {
		query := `UPDATE ` + t.name + ` SET isDeleted = 1, dirty = 1, rejected = NULL, updated_at = ?
		WHERE id = ? AND isDeleted = 0`
		res, err := s.conn.ExecContext(ctx, query, now, id)
		if err != nil {
			return fmt.Errorf("failed to mark %s deleted: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
	}
	return fmt.Errorf("%s: %w", id, ErrNotFound)
}

// Purge physically removes rows. Missing ids are ignored. Returns the
// number of rows removed.
func (s *Store) Purge(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	var removed int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, t := range tableList {
			query := `DELETE FROM ` + t.name + ` WHERE id IN (` + placeholders(len(ids)) + `)`
			res, err := tx.ExecContext(ctx, query, args...)
			if err != nil {
				return fmt.Errorf("failed to purge %s: %w", t.name, err)
			}
			n, _ := res.RowsAffected()
			removed += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(removed), nil
}

// ListDeletedIDs returns the ids of soft-deleted rows awaiting remote
// confirmation.
func (s *Store) ListDeletedIDs(ctx context.Context) ([]string, error) {
	refs, err := s.ListDeleted(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(refs))
	for i, r := range refs {
		ids[i] = r.ID
	}
	return ids, nil
}

// ListDeleted returns the soft-deleted rows as references, in push order.
func (s *Store) ListDeleted(ctx context.Context) ([]agenda.Ref, error) {
	var refs []agenda.Ref
	for _, t := range tableList {
		rows, err := s.conn.QueryContext(ctx, `SELECT id FROM `+t.name+` WHERE isDeleted = 1 ORDER BY id`)
		if err != nil {
			return nil, fmt.Errorf("failed to list deleted %s: %w", t.name, err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("failed to scan deleted id: %w", err)
			}
			refs = append(refs, agenda.Ref{ID: id, Kind: t.kind})
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, fmt.Errorf("error iterating deleted %s: %w", t.name, err)
		}
	}
	return refs, nil
}

// ClearDay drops the visible, clean rows of a day so the next pull
// repopulates it. Pending local changes and soft-deleted rows survive.
func (s *Store) ClearDay(ctx context.Context, day time.Time) (int, error) {
	start, end := agenda.DayRange(day, nil)

	var removed int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, t := range tableList {
			query := `DELETE FROM ` + t.name + `
			WHERE isDeleted = 0 AND dirty = 0 AND time >= ? AND time < ?`
			res, err := tx.ExecContext(ctx, query, start.Unix(), end.Unix())
			if err != nil {
				return fmt.Errorf("failed to clear %s: %w", t.name, err)
			}
			n, _ := res.RowsAffected()
			removed += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(removed), nil
}

func (s *Store) queryRecords(ctx context.Context, t table, query string, args ...any) ([]Record, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", t.name, err)
	}
	defer rows.Close()
	return scanRecords(t, rows)
}

// withTx runs fn in a transaction, committing on success.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// checkKind fails when the item's id exists in another kind's table.
func checkKind(ctx context.Context, tx *sql.Tx, item agenda.Item) error {
	id := item.Header().ID
	for _, t := range tableList {
		if t.kind == item.Kind() {
			continue
		}
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM `+t.name+` WHERE id = ?`, id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to check id %s: %w", id, err)
		}
		return fmt.Errorf("%s is a %s: %w", id, t.kind, ErrKindConflict)
	}
	return nil
}

func upsertRow(ctx context.Context, tx *sql.Tx, item agenda.Item, st rowState, keep ...string) error {
	t, err := tableFor(item.Kind())
	if err != nil {
		return err
	}
	args, err := rowValues(item, st)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, t.upsertSQL(keep...), args...); err != nil {
		return fmt.Errorf("failed to upsert %s %s: %w", item.Kind(), item.Header().ID, err)
	}
	return nil
}

func sortRecords(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i].Item.Header(), recs[j].Item.Header()
		if !a.Time.Equal(b.Time) {
			return a.Time.Before(b.Time)
		}
		return a.ID < b.ID
	})
}
