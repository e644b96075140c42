// Package export writes agenda items as an iCalendar (RFC 5545) file.
//
// Events become VEVENTs, tasks become VTODOs and reminders become
// zero-length VEVENTs. An item's RemindAt becomes a VALARM. Deleted items
// are skipped.
package export

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.com/taskyapp/tasky/internal/agenda"
)

// ErrEmpty is returned by Write when there is nothing to export. A
// calendar needs at least one component.
var ErrEmpty = errors.New("nothing to export")

// ProductID identifies tasky in exported calendars.
const ProductID = "-//tasky//agenda//EN"

// uidDomain scopes item ids so UIDs stay globally unique.
const uidDomain = "tasky"

// Calendar builds a VCALENDAR from items. now stamps DTSTAMP.
func Calendar(items []agenda.Item, now time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, ProductID)

	for _, item := range items {
		if item.Header().Deleted {
			continue
		}
		cal.Children = append(cal.Children, component(item, now))
	}
	return cal
}

// Write encodes items as an .ics stream.
func Write(w io.Writer, items []agenda.Item, now time.Time) error {
	cal := Calendar(items, now)
	if len(cal.Children) == 0 {
		return ErrEmpty
	}
	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("failed to encode calendar: %w", err)
	}
	return nil
}

// UID returns the iCalendar UID of an item id.
func UID(id string) string {
	return id + "@" + uidDomain
}

func component(item agenda.Item, now time.Time) *ical.Component {
	h := item.Header()

	var c *ical.Component
	switch it := item.(type) {
	case *agenda.Event:
		c = ical.NewComponent(ical.CompEvent)
		c.Props.SetDateTime(ical.PropDateTimeStart, it.Time.UTC())
		c.Props.SetDateTime(ical.PropDateTimeEnd, it.To.UTC())
		for _, a := range it.Attendees {
			c.Props.Add(attendee(a))
		}
		for _, p := range it.Photos {
			if p.URL == "" {
				continue
			}
			attach := ical.NewProp("ATTACH")
			attach.Value = p.URL
			c.Props.Add(attach)
		}
	case *agenda.Task:
		c = ical.NewComponent(ical.CompToDo)
		c.Props.SetDateTime(ical.PropDue, it.Time.UTC())
		if it.IsDone {
			c.Props.SetText(ical.PropStatus, "COMPLETED")
		} else {
			c.Props.SetText(ical.PropStatus, "NEEDS-ACTION")
		}
	default:
		c = ical.NewComponent(ical.CompEvent)
		c.Props.SetDateTime(ical.PropDateTimeStart, h.Time.UTC())
		c.Props.SetDateTime(ical.PropDateTimeEnd, h.Time.UTC())
	}

	c.Props.SetText(ical.PropUID, UID(h.ID))
	c.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	c.Props.SetText(ical.PropSummary, h.Title)
	c.Props.SetText(ical.PropCategories, strings.ToUpper(string(item.Kind())))
	if h.Description != "" {
		c.Props.SetText(ical.PropDescription, h.Description)
	}
	if !h.UpdatedAt.IsZero() {
		c.Props.SetDateTime(ical.PropLastModified, h.UpdatedAt.UTC())
	}
	if !h.RemindAt.IsZero() {
		c.Children = append(c.Children, alarm(h))
	}
	return c
}

func attendee(a agenda.Attendee) *ical.Prop {
	p := ical.NewProp(ical.PropAttendee)
	p.Value = "mailto:" + a.Email
	if a.FullName != "" {
		p.Params.Set(ical.ParamCommonName, a.FullName)
	}
	status := "NEEDS-ACTION"
	if a.IsGoing {
		status = "ACCEPTED"
	}
	p.Params.Set(ical.ParamParticipationStatus, status)
	return p
}

func alarm(h *agenda.Base) *ical.Component {
	a := ical.NewComponent(ical.CompAlarm)
	a.Props.SetText(ical.PropAction, "DISPLAY")
	a.Props.SetText(ical.PropDescription, h.Title)

	trigger := ical.NewProp(ical.PropTrigger)
	trigger.SetDateTime(h.RemindAt.UTC())
	a.Props.Set(trigger)
	return a
}
