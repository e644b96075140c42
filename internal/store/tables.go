package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/taskyapp/tasky/internal/agenda"
)

// table describes the per-kind table layout. Every table shares
// commonColumns; extra holds the variant columns in scan order.
type table struct {
	kind  agenda.Kind
	name  string
	extra []string
}

var commonColumns = []string{
	"id", "title", "description", "time", "remind_at", "updated_at",
	"isDeleted", "dirty", "remote_known", "rejected", "synced_at",
}

// tableList is in push order: events, tasks, reminders.
var tableList = []table{
	{
		kind: agenda.KindEvent,
		name: "events",
		extra: []string{
			"to_time", "host", "is_creator", "is_going",
			"attendees", "photos", "deleted_photo_keys",
		},
	},
	{kind: agenda.KindTask, name: "tasks", extra: []string{"is_done"}},
	{kind: agenda.KindReminder, name: "reminders"},
}

func tableFor(kind agenda.Kind) (table, error) {
	for _, t := range tableList {
		if t.kind == kind {
			return t, nil
		}
	}
	return table{}, fmt.Errorf("unknown item kind %q", kind)
}

func (t table) columns() []string {
	cols := append([]string(nil), commonColumns...)
	return append(cols, t.extra...)
}

func (t table) selectSQL() string {
	return "SELECT " + strings.Join(t.columns(), ", ") + " FROM " + t.name
}

// upsertSQL builds an INSERT ... ON CONFLICT statement. Columns named in
// keep retain their stored value when the row already exists.
func (t table) upsertSQL(keep ...string) string {
	cols := t.columns()
	var sets []string
	for _, c := range cols[1:] {
		if slices.Contains(keep, c) {
			continue
		}
		sets = append(sets, c+" = excluded."+c)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(id) DO UPDATE SET %s",
		t.name,
		strings.Join(cols, ", "),
		placeholders(len(cols)),
		strings.Join(sets, ", "),
	)
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// rowState is the sync bookkeeping stored next to an item.
type rowState struct {
	dirty       bool
	remoteKnown bool
	rejected    sql.NullString
	syncedAt    sql.NullInt64
}

// rowValues returns the column values of an item in t.columns() order.
func rowValues(item agenda.Item, st rowState) ([]any, error) {
	b := item.Header()
	args := []any{
		b.ID,
		b.Title,
		b.Description,
		b.Time.Unix(),
		secondsToNull(b.RemindAt),
		millis(b.UpdatedAt),
		boolInt(b.Deleted),
		boolInt(st.dirty),
		boolInt(st.remoteKnown),
		st.rejected,
		st.syncedAt,
	}

	switch it := item.(type) {
	case *agenda.Task:
		args = append(args, boolInt(it.IsDone))
	case *agenda.Event:
		attendees, err := jsonColumn(it.Attendees)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal attendees: %w", err)
		}
		photos, err := jsonColumn(it.Photos)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal photos: %w", err)
		}
		keys, err := jsonColumn(it.DeletedPhotoKeys)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal deleted photo keys: %w", err)
		}
		args = append(args,
			it.To.Unix(),
			it.Host,
			boolInt(it.IsUserEventCreator),
			boolInt(it.IsGoing),
			attendees,
			photos,
			keys,
		)
	}
	return args, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanRecord reads one row of t. Scan errors are returned unwrapped so
// callers can test for sql.ErrNoRows.
func scanRecord(t table, row scanner) (Record, error) {
	item, err := agenda.New(t.kind)
	if err != nil {
		return Record{}, err
	}
	b := item.Header()

	var (
		timeSec           int64
		remindAt          sql.NullInt64
		updatedMs         int64
		deleted, dirty    int
		known             int
		rejected          sql.NullString
		syncedAt          sql.NullInt64
		isDone            int
		toSec             int64
		creator, going    int
		attendees, photos sql.NullString
		deletedKeys       sql.NullString
	)

	dest := []any{
		&b.ID, &b.Title, &b.Description, &timeSec, &remindAt, &updatedMs,
		&deleted, &dirty, &known, &rejected, &syncedAt,
	}
	event, _ := item.(*agenda.Event)
	switch it := item.(type) {
	case *agenda.Task:
		dest = append(dest, &isDone)
	case *agenda.Event:
		dest = append(dest, &toSec, &it.Host, &creator, &going, &attendees, &photos, &deletedKeys)
	}

	if err := row.Scan(dest...); err != nil {
		return Record{}, err
	}

	b.Time = time.Unix(timeSec, 0).UTC()
	b.RemindAt = nullToSeconds(remindAt)
	b.UpdatedAt = fromMillis(updatedMs)
	b.Deleted = deleted != 0

	if task, ok := item.(*agenda.Task); ok {
		task.IsDone = isDone != 0
	}
	if event != nil {
		event.To = time.Unix(toSec, 0).UTC()
		event.IsUserEventCreator = creator != 0
		event.IsGoing = going != 0
		if err := parseJSONColumn(attendees, &event.Attendees); err != nil {
			return Record{}, fmt.Errorf("failed to unmarshal attendees of %s: %w", b.ID, err)
		}
		if err := parseJSONColumn(photos, &event.Photos); err != nil {
			return Record{}, fmt.Errorf("failed to unmarshal photos of %s: %w", b.ID, err)
		}
		if err := parseJSONColumn(deletedKeys, &event.DeletedPhotoKeys); err != nil {
			return Record{}, fmt.Errorf("failed to unmarshal deleted photo keys of %s: %w", b.ID, err)
		}
	}

	return Record{
		Item:        item,
		Dirty:       dirty != 0,
		RemoteKnown: known != 0,
		Rejected:    rejected.String,
		SyncedAt:    nullToMillis(syncedAt),
	}, nil
}

func scanRecords(t table, rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(t, rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", t.name, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", t.name, err)
	}
	return out, nil
}

func jsonColumn[T any](v []T) (sql.NullString, error) {
	if len(v) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func parseJSONColumn[T any](ns sql.NullString, dst *[]T) error {
	if !ns.Valid || ns.String == "" || ns.String == "null" {
		*dst = nil
		return nil
	}
	return json.Unmarshal([]byte(ns.String), dst)
}

func secondsToNull(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func nullToSeconds(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return time.Unix(n.Int64, 0).UTC()
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func millisToNull(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: millis(t), Valid: true}
}

func nullToMillis(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return fromMillis(n.Int64)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
