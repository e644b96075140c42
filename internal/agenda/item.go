package agenda

import (
	"fmt"
	"net/mail"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Kind identifies an agenda item variant.
type Kind string

const (
	KindTask     Kind = "task"
	KindEvent    Kind = "event"
	KindReminder Kind = "reminder"
)

// Kinds lists every variant in push order.
var Kinds = []Kind{KindEvent, KindTask, KindReminder}

// Valid reports whether k names a known variant.
func (k Kind) Valid() bool {
	switch k {
	case KindTask, KindEvent, KindReminder:
		return true
	}
	return false
}

// ParseKind converts a string to a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown item kind %q", s)
	}
	return k, nil
}

// Item is the common interface of Task, Event and Reminder.
type Item interface {
	// Header returns the shared fields. Mutations through the pointer
	// change the item.
	Header() *Base

	// Kind returns the variant.
	Kind() Kind

	// Validate checks field invariants before an item is stored or sent.
	Validate() error

	// Clone returns a deep copy.
	Clone() Item

	isItem()
}

// Base holds the fields shared by every agenda item.
type Base struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Time        time.Time `json:"time"`
	RemindAt    time.Time `json:"remindAt"`
	UpdatedAt   time.Time `json:"updatedAt,omitempty"`
	Deleted     bool      `json:"deleted,omitempty"`
}

// Header implements Item.
func (b *Base) Header() *Base { return b }

// RemindOffset is how long before Time the reminder fires.
func (b *Base) RemindOffset() time.Duration {
	if b.RemindAt.IsZero() {
		return 0
	}
	return b.Time.Sub(b.RemindAt)
}

// Touch stamps the item as modified now.
func (b *Base) Touch() {
	b.UpdatedAt = time.Now().UTC().Truncate(time.Millisecond)
}

func (b *Base) validate() error {
	if b.ID == "" {
		return invalid("id", "is required")
	}
	if b.Title == "" {
		return invalid("title", "is required")
	}
	if len(b.Title) > 500 {
		return invalid("title", fmt.Sprintf("must be 500 characters or less (got %d)", len(b.Title)))
	}
	if b.Time.IsZero() {
		return invalid("time", "is required")
	}
	if !b.RemindAt.IsZero() && b.RemindAt.After(b.Time) {
		return invalid("remindAt", "must not be after the item time")
	}
	return nil
}

// Task is a to-do item.
type Task struct {
	Base
	IsDone bool `json:"isDone"`
}

func (*Task) Kind() Kind { return KindTask }
func (*Task) isItem()    {}

// Validate implements Item.
func (t *Task) Validate() error { return t.Base.validate() }

// Clone implements Item.
func (t *Task) Clone() Item {
	c := *t
	return &c
}

// Reminder is a point-in-time notification.
type Reminder struct {
	Base
}

func (*Reminder) Kind() Kind { return KindReminder }
func (*Reminder) isItem()    {}

// Validate implements Item.
func (r *Reminder) Validate() error { return r.Base.validate() }

// Clone implements Item.
func (r *Reminder) Clone() Item {
	c := *r
	return &c
}

// Event spans Time (from) to To and may have attendees and photos.
type Event struct {
	Base
	To                 time.Time  `json:"to"`
	Host               string     `json:"host,omitempty"`
	IsUserEventCreator bool       `json:"isUserEventCreator"`
	IsGoing            bool       `json:"isGoing"`
	Attendees          []Attendee `json:"attendees,omitempty"`
	Photos             []Photo    `json:"photos,omitempty"`
	DeletedPhotoKeys   []string   `json:"deletedPhotoKeys,omitempty"`
}

func (*Event) Kind() Kind { return KindEvent }
func (*Event) isItem()    {}

// From is an alias for Time.
func (e *Event) From() time.Time { return e.Time }

// Validate implements Item.
func (e *Event) Validate() error {
	if err := e.Base.validate(); err != nil {
		return err
	}
	if e.To.IsZero() {
		return invalid("to", "is required")
	}
	if e.To.Before(e.Time) {
		return invalid("to", "must not be before from")
	}
	for _, a := range e.Attendees {
		if _, err := mail.ParseAddress(a.Email); err != nil {
			return invalid("attendees", fmt.Sprintf("invalid email %q", a.Email))
		}
	}
	for _, p := range e.Photos {
		if p.Key == "" {
			return invalid("photos", "photo key is required")
		}
		if p.URL == "" && p.LocalPath == "" {
			return invalid("photos", fmt.Sprintf("photo %s has neither url nor local path", p.Key))
		}
	}
	return nil
}

// Clone implements Item.
func (e *Event) Clone() Item {
	c := *e
	c.Attendees = append([]Attendee(nil), e.Attendees...)
	c.Photos = append([]Photo(nil), e.Photos...)
	c.DeletedPhotoKeys = append([]string(nil), e.DeletedPhotoKeys...)
	return &c
}

// LocalPhotos returns photos that still need to be uploaded.
func (e *Event) LocalPhotos() []Photo {
	var out []Photo
	for _, p := range e.Photos {
		if p.IsLocal() {
			out = append(out, p)
		}
	}
	return out
}

// Attendee is a participant of an event.
type Attendee struct {
	UserID   string    `json:"userId"`
	Email    string    `json:"email"`
	FullName string    `json:"fullName"`
	EventID  string    `json:"eventId,omitempty"`
	IsGoing  bool      `json:"isGoing"`
	RemindAt time.Time `json:"remindAt"`
}

// Photo is an event attachment. Remote photos carry a URL; local photos
// carry a device path and exist only until they are uploaded.
type Photo struct {
	Key       string `json:"key"`
	URL       string `json:"url,omitempty"`
	LocalPath string `json:"localPath,omitempty"`
}

// IsLocal reports whether the photo has not been uploaded yet.
func (p Photo) IsLocal() bool { return p.URL == "" && p.LocalPath != "" }

// NewID returns a fresh item identifier.
func NewID() string {
	return uuid.NewString()
}

// Normalize truncates times to the precision they are stored with:
// seconds for schedule times, milliseconds for UpdatedAt. All times are
// converted to UTC.
func Normalize(item Item) {
	b := item.Header()
	b.Time = toSeconds(b.Time)
	b.RemindAt = toSeconds(b.RemindAt)
	if !b.UpdatedAt.IsZero() {
		b.UpdatedAt = b.UpdatedAt.UTC().Truncate(time.Millisecond)
	}
	if e, ok := item.(*Event); ok {
		e.To = toSeconds(e.To)
		for i := range e.Attendees {
			e.Attendees[i].RemindAt = toSeconds(e.Attendees[i].RemindAt)
		}
	}
}

func toSeconds(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC().Truncate(time.Second)
}

// SameContent reports whether two items carry the same user-visible data.
// UpdatedAt and the soft-delete flag are ignored.
func SameContent(a, b Item) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind() != b.Kind() {
		return false
	}
	ca, cb := a.Clone(), b.Clone()
	Normalize(ca)
	Normalize(cb)
	for _, c := range []Item{ca, cb} {
		h := c.Header()
		h.UpdatedAt = time.Time{}
		h.Deleted = false
		if e, ok := c.(*Event); ok {
			// nil and empty slices are the same content
			if len(e.Attendees) == 0 {
				e.Attendees = nil
			}
			if len(e.Photos) == 0 {
				e.Photos = nil
			}
			if len(e.DeletedPhotoKeys) == 0 {
				e.DeletedPhotoKeys = nil
			}
		}
	}
	return reflect.DeepEqual(ca, cb)
}

// NewerThan reports whether a was modified after b.
func NewerThan(a, b Item) bool {
	return a.Header().UpdatedAt.After(b.Header().UpdatedAt)
}

// Ref identifies an item without carrying its payload.
type Ref struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`
}

// RefOf returns the reference of an item.
func RefOf(item Item) Ref {
	return Ref{ID: item.Header().ID, Kind: item.Kind()}
}
