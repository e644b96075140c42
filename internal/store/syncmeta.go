package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/taskyapp/tasky/internal/agenda"
)

const watermarkKey = "watermark"

// Pending returns the items with local changes that should be pushed:
// dirty, not soft-deleted and not rejected. Oldest changes come first.
func (s *Store) Pending(ctx context.Context) ([]Record, error) {
	var out []Record
	for _, t := range tableList {
		query := t.selectSQL() + ` WHERE dirty = 1 AND isDeleted = 0 AND rejected IS NULL ORDER BY updated_at, id`
		recs, err := s.queryRecords(ctx, t, query)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

// ApplyRemote stores the server's version of an item. The row becomes
// clean and remote-known. A row with the same id under another kind is
// replaced, since the server is authoritative for ids it hands out.
func (s *Store) ApplyRemote(ctx context.Context, item agenda.Item) error {
	item = item.Clone()
	agenda.Normalize(item)
	item.Header().Deleted = false

	unlock := s.locks.Lock(item.Header().ID)
	defer unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, t := range tableList {
			if t.kind == item.Kind() {
				continue
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+t.name+` WHERE id = ?`, item.Header().ID); err != nil {
				return fmt.Errorf("failed to replace %s: %w", item.Header().ID, err)
			}
		}
		return upsertRow(ctx, tx, item, rowState{
			remoteKnown: true,
			syncedAt:    millisToNull(item.Header().UpdatedAt),
		})
	})
}

// MarkSynced records that the server accepted item. The row is only
// cleaned when it still carries item's UpdatedAt, so an edit made while
// the push was in flight stays dirty; its sync base still moves to the
// pushed version. Reports whether the row was cleaned.
func (s *Store) MarkSynced(ctx context.Context, item agenda.Item) (bool, error) {
	at := millis(item.Header().UpdatedAt)
	ok, err := s.settle(ctx, item, `dirty = 0, remote_known = 1, rejected = NULL, synced_at = ?`, at)
	if err != nil || ok {
		return ok, err
	}

	t, err := tableFor(item.Kind())
	if err != nil {
		return false, err
	}
	unlock := s.locks.Lock(item.Header().ID)
	defer unlock()
	_, err = s.conn.ExecContext(ctx,
		`UPDATE `+t.name+` SET remote_known = 1, synced_at = ? WHERE id = ?`, at, item.Header().ID)
	if err != nil {
		return false, fmt.Errorf("failed to record sync base of %s: %w", item.Header().ID, err)
	}
	return false, nil
}

// MarkRejected records the server's refusal of item. Like MarkSynced it
// only applies to the version that was pushed.
func (s *Store) MarkRejected(ctx context.Context, item agenda.Item, msg string) (bool, error) {
	if msg == "" {
		msg = "rejected by server"
	}
	return s.settle(ctx, item, `rejected = ?`, msg)
}

func (s *Store) settle(ctx context.Context, item agenda.Item, set string, setArgs ...any) (bool, error) {
	t, err := tableFor(item.Kind())
	if err != nil {
		return false, err
	}
	b := item.Header()

	unlock := s.locks.Lock(b.ID)
	defer unlock()

	query := `UPDATE ` + t.name + ` SET ` + set + ` WHERE id = ? AND updated_at = ? AND isDeleted = 0`
	args := append(setArgs, b.ID, millis(b.UpdatedAt))
	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to settle %s %s: %w", item.Kind(), b.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to settle %s %s: %w", item.Kind(), b.ID, err)
	}
	return n > 0, nil
}

// Watermark returns the start time of the last successful reconciliation,
// or the zero time if there was none. It is informational: what to push
// is decided by the dirty flag, not by comparing against it.
func (s *Store) Watermark(ctx context.Context) (time.Time, error) {
	var value string
	err := s.conn.QueryRowContext(ctx, `SELECT value FROM sync_meta WHERE key = ?`, watermarkKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read watermark: %w", err)
	}
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid watermark %q: %w", value, err)
	}
	return fromMillis(ms), nil
}

// SetWatermark stores the watermark.
func (s *Store) SetWatermark(ctx context.Context, t time.Time) error {
	query := `INSERT INTO sync_meta (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := s.conn.ExecContext(ctx, query, watermarkKey, strconv.FormatInt(millis(t), 10)); err != nil {
		return fmt.Errorf("failed to write watermark: %w", err)
	}
	return nil
}

// Resolution names the outcome of a last-write-wins decision.
type Resolution string

const (
	// ResolutionRemoteWon means the local version was overwritten.
	ResolutionRemoteWon Resolution = "remote_won"
	// ResolutionLocalKept means the remote version was ignored.
	ResolutionLocalKept Resolution = "local_kept"
)

// Conflict is an entry of the conflict log.
type Conflict struct {
	Seq             int64
	ItemID          string
	Kind            agenda.Kind
	Resolution      Resolution
	LocalUpdatedAt  time.Time
	RemoteUpdatedAt time.Time
	Local           agenda.Item
	Remote          agenda.Item
	DetectedAt      time.Time
}

// LogConflict appends an entry to the conflict log. ItemID, Kind and the
// timestamps are filled from Local and Remote when unset.
func (s *Store) LogConflict(ctx context.Context, c Conflict) error {
	for _, it := range []agenda.Item{c.Local, c.Remote} {
		if it == nil {
			continue
		}
		if c.ItemID == "" {
			c.ItemID = it.Header().ID
		}
		if c.Kind == "" {
			c.Kind = it.Kind()
		}
	}
	if c.Local != nil && c.LocalUpdatedAt.IsZero() {
		c.LocalUpdatedAt = c.Local.Header().UpdatedAt
	}
	if c.Remote != nil && c.RemoteUpdatedAt.IsZero() {
		c.RemoteUpdatedAt = c.Remote.Header().UpdatedAt
	}
	if c.DetectedAt.IsZero() {
		c.DetectedAt = time.Now().UTC()
	}

	local, err := marshalNullable(c.Local)
	if err != nil {
		return err
	}
	remote, err := marshalNullable(c.Remote)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO conflicts (
		item_id, kind, resolution, local_updated_at, remote_updated_at,
		local_item, remote_item, detected_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.conn.ExecContext(ctx, query,
		c.ItemID,
		string(c.Kind),
		string(c.Resolution),
		millis(c.LocalUpdatedAt),
		millis(c.RemoteUpdatedAt),
		local,
		remote,
		millis(c.DetectedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to log conflict for %s: %w", c.ItemID, err)
	}
	return nil
}

// Conflicts returns the most recent conflict log entries, newest first.
// A limit of 0 returns all entries.
func (s *Store) Conflicts(ctx context.Context, limit int) ([]Conflict, error) {
	query := `
	SELECT seq, item_id, kind, resolution, local_updated_at, remote_updated_at,
	       local_item, remote_item, detected_at
	FROM conflicts
	ORDER BY seq DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflicts: %w", err)
	}
	defer rows.Close()

	var out []Conflict
	for rows.Next() {
		var c Conflict
		var kind, resolution string
		var localAt, remoteAt, detectedAt int64
		var local, remote sql.NullString
		if err := rows.Scan(&c.Seq, &c.ItemID, &kind, &resolution, &localAt, &remoteAt, &local, &remote, &detectedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		c.Kind = agenda.Kind(kind)
		c.Resolution = Resolution(resolution)
		c.LocalUpdatedAt = fromMillis(localAt)
		c.RemoteUpdatedAt = fromMillis(remoteAt)
		c.DetectedAt = fromMillis(detectedAt)
		if c.Local, err = unmarshalNullable(local); err != nil {
			return nil, err
		}
		if c.Remote, err = unmarshalNullable(remote); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conflicts: %w", err)
	}
	return out, nil
}

func marshalNullable(item agenda.Item) (sql.NullString, error) {
	if item == nil {
		return sql.NullString{}, nil
	}
	data, err := agenda.Marshal(item)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalNullable(ns sql.NullString) (agenda.Item, error) {
	if !ns.Valid {
		return nil, nil
	}
	return agenda.Unmarshal([]byte(ns.String))
}
