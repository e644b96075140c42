package export

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/emersion/go-ical"

	"github.com/taskyapp/tasky/internal/agenda"
)

var day = time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

func decode(t *testing.T, items []agenda.Item) *ical.Calendar {
	t.Helper()
	var buf bytes.Buffer
	if err := Write(&buf, items, day); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	cal, err := ical.NewDecoder(&buf).Decode()
	if err != nil {
		t.Fatalf("Failed to decode exported calendar: %v\n%s", err, buf.String())
	}
	return cal
}

func find(t *testing.T, cal *ical.Calendar, id string) *ical.Component {
	t.Helper()
	for _, c := range cal.Children {
		if p := c.Props.Get(ical.PropUID); p != nil && p.Value == UID(id) {
			return c
		}
	}
	t.Fatalf("no component with UID %s", UID(id))
	return nil
}

func dateTime(t *testing.T, c *ical.Component, name string) time.Time {
	t.Helper()
	p := c.Props.Get(name)
	if p == nil {
		t.Fatalf("%s has no %s", c.Name, name)
	}
	v, err := p.DateTime(time.UTC)
	if err != nil {
		t.Fatalf("Failed to parse %s: %v", name, err)
	}
	return v
}

func TestWrite_Kinds(t *testing.T) {
	ev := &agenda.Event{
		Base: agenda.Base{
			ID:          "e1",
			Title:       "Planning",
			Description: "Quarterly planning",
			Time:        day.Add(9 * time.Hour),
			RemindAt:    day.Add(8*time.Hour + 45*time.Minute),
		},
		To: day.Add(10 * time.Hour),
		Attendees: []agenda.Attendee{
			{Email: "ana@example.com", FullName: "Ana Lopez", IsGoing: true},
			{Email: "bo@example.com"},
		},
		Photos: []agenda.Photo{
			{Key: "p1", URL: "https://cdn.example.com/p1.jpg"},
			{Key: "p2", LocalPath: "/tmp/p2.jpg"},
		},
	}
	task := &agenda.Task{Base: agenda.Base{ID: "t1", Title: "Buy milk", Time: day.Add(17 * time.Hour)}, IsDone: true}
	rem := &agenda.Reminder{Base: agenda.Base{ID: "r1", Title: "Call mom", Time: day.Add(18 * time.Hour)}}
	gone := &agenda.Task{Base: agenda.Base{ID: "t2", Title: "Gone", Time: day, Deleted: true}}

	cal := decode(t, []agenda.Item{ev, task, rem, gone})

	if n := len(cal.Children); n != 3 {
		t.Fatalf("exported %d components, want 3 (deleted item skipped)", n)
	}
	if p := cal.Props.Get(ical.PropProductID); p == nil || p.Value != ProductID {
		t.Errorf("PRODID = %v", p)
	}

	vevent := find(t, cal, "e1")
	if vevent.Name != ical.CompEvent {
		t.Errorf("event component = %s", vevent.Name)
	}
	if got := dateTime(t, vevent, ical.PropDateTimeStart); !got.Equal(ev.Time) {
		t.Errorf("DTSTART = %v, want %v", got, ev.Time)
	}
	if got := dateTime(t, vevent, ical.PropDateTimeEnd); !got.Equal(ev.To) {
		t.Errorf("DTEND = %v, want %v", got, ev.To)
	}
	attendees := vevent.Props.Values(ical.PropAttendee)
	if len(attendees) != 2 {
		t.Fatalf("ATTENDEE count = %d, want 2", len(attendees))
	}
	if attendees[0].Value != "mailto:ana@example.com" || attendees[0].Params.Get(ical.ParamParticipationStatus) != "ACCEPTED" {
		t.Errorf("first attendee = %+v", attendees[0])
	}
	if attendees[0].Params.Get(ical.ParamCommonName) != "Ana Lopez" {
		t.Errorf("first attendee CN = %q", attendees[0].Params.Get(ical.ParamCommonName))
	}
	if attach := vevent.Props.Values("ATTACH"); len(attach) != 1 {
		t.Errorf("ATTACH count = %d, want only the uploaded photo", len(attach))
	}
	if len(vevent.Children) != 1 || vevent.Children[0].Name != ical.CompAlarm {
		t.Fatalf("event alarms = %v", vevent.Children)
	}
	if got := dateTime(t, vevent.Children[0], ical.PropTrigger); !got.Equal(ev.RemindAt) {
		t.Errorf("TRIGGER = %v, want %v", got, ev.RemindAt)
	}

	vtodo := find(t, cal, "t1")
	if vtodo.Name != ical.CompToDo {
		t.Errorf("task component = %s", vtodo.Name)
	}
	if p := vtodo.Props.Get(ical.PropStatus); p == nil || p.Value != "COMPLETED" {
		t.Errorf("STATUS = %v", p)
	}
	if got := dateTime(t, vtodo, ical.PropDue); !got.Equal(task.Time) {
		t.Errorf("DUE = %v", got)
	}

	vrem := find(t, cal, "r1")
	if p := vrem.Props.Get(ical.PropCategories); p == nil || p.Value != "REMINDER" {
		t.Errorf("CATEGORIES = %v", p)
	}
	if len(vrem.Children) != 0 {
		t.Errorf("reminder without RemindAt has alarms: %v", vrem.Children)
	}
}

func TestWrite_OnlyDeletedIsEmpty(t *testing.T) {
	task := &agenda.Task{Base: agenda.Base{ID: "t1", Title: "Gone", Time: day, Deleted: true}}
	var buf bytes.Buffer
	if err := Write(&buf, []agenda.Item{task}, day); !errors.Is(err, ErrEmpty) {
		t.Errorf("Write() error = %v, want ErrEmpty", err)
	}
	if buf.Len() != 0 {
		t.Errorf("Write() wrote %q", buf.String())
	}
}
