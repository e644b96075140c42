// Package agenda defines the agenda item types shared by the local store,
// the remote gateway and the reconciler.
//
// # Items
//
// An agenda item is one of three variants, all implementing Item:
//
//   - *Task     - a to-do with a done flag
//   - *Event    - a time range with attendees and photos
//   - *Reminder - a point in time with a notification
//
// Every variant embeds Base, which carries the fields common to all kinds:
// the identifier, title, description, time, remind-at time, modification
// timestamp and the soft-delete flag. Identifiers are UUID strings and are
// unique across all three variants.
//
// Type switches are the intended way to reach variant payloads:
//
//	switch it := item.(type) {
//	case *agenda.Task:
//	    fmt.Println(it.IsDone)
//	case *agenda.Event:
//	    fmt.Println(it.To.Sub(it.Time))
//	case *agenda.Reminder:
//	    fmt.Println(it.RemindOffset())
//	}
//
// # Days
//
// Items are bucketed into days by their Time. A day is the half-open range
// [startOfDay, startOfDay+24h) where startOfDay is midnight in the caller's
// location, converted to UTC. DayRange and InDay implement this rule; the
// store uses the same bounds for its day queries.
//
// # Encoding
//
// Marshal and Unmarshal encode a single item inside a kind envelope so the
// variant survives a round trip through JSON:
//
//	{"kind": "task", "item": {"id": "...", "title": "...", ...}}
package agenda
