package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/taskyapp/tasky/internal/agenda"
	"github.com/taskyapp/tasky/internal/agendaview"
	"github.com/taskyapp/tasky/internal/reconcile"
	"github.com/taskyapp/tasky/internal/store"
)

// Mark is the sync state shown next to an item.
type Mark int

const (
	MarkSynced Mark = iota
	MarkPending
	MarkRejected
)

// MarkOf derives the mark of a stored record.
func MarkOf(rec store.Record) Mark {
	switch {
	case rec.IsRejected():
		return MarkRejected
	case rec.Dirty:
		return MarkPending
	default:
		return MarkSynced
	}
}

// Renderer formats agenda data for one output.
type Renderer struct {
	styles Styles
	loc    *time.Location
}

// NewRenderer creates a Renderer that writes times in loc.
func NewRenderer(w io.Writer, loc *time.Location, opts Options) *Renderer {
	if loc == nil {
		loc = time.Local
	}
	return &Renderer{styles: NewStyles(w, opts), loc: loc}
}

// Accent renders s in the accent color.
func (r *Renderer) Accent(s string) string { return r.styles.Accent.Render(s) }

// Pass renders a success message.
func (r *Renderer) Pass(s string) string { return r.styles.Pass.Render(s) }

// Warn renders a warning.
func (r *Renderer) Warn(s string) string { return r.styles.Warn.Render(s) }

// Fail renders an error.
func (r *Renderer) Fail(s string) string { return r.styles.Fail.Render(s) }

// Muted renders secondary text.
func (r *Renderer) Muted(s string) string { return r.styles.Muted.Render(s) }

// WeekStrip renders the seven days of the strip with the selected day
// in brackets.
func (r *Renderer) WeekStrip(st agendaview.State) string {
	days := st.Days()
	cells := make([]string, len(days))
	for i, d := range days {
		label := d.In(r.loc).Format("Mon 2")
		if i == st.SelectedDayIndex {
			cells[i] = r.styles.Selected.Render("[" + label + "]")
		} else {
			cells[i] = " " + label + " "
		}
	}
	return strings.Join(cells, " ")
}

// Agenda renders the selected day of st. marks flags items that are not
// yet synced; missing entries are shown as synced.
func (r *Renderer) Agenda(st agendaview.State, marks map[string]Mark) string {
	var b strings.Builder
	b.WriteString(r.WeekStrip(st))
	b.WriteString("\n\n")
	b.WriteString(r.styles.Header.Render(st.SelectedDay().In(r.loc).Format("Monday, 2 January 2006")))
	b.WriteString("\n")

	if len(st.Items) == 0 {
		b.WriteString(r.Muted("  Nothing planned."))
		b.WriteString("\n")
		return b.String()
	}
	for _, item := range st.Items {
		b.WriteString(r.Item(item, marks[item.Header().ID]))
		b.WriteString("\n")
	}
	return b.String()
}

// Item renders one agenda line.
func (r *Renderer) Item(item agenda.Item, mark Mark) string {
	h := item.Header()

	flag := " "
	switch mark {
	case MarkPending:
		flag = r.Warn("*")
	case MarkRejected:
		flag = r.Fail("!")
	}

	title := h.Title
	var marker, extra string
	switch it := item.(type) {
	case *agenda.Task:
		marker = "[ ]"
		if it.IsDone {
			marker = "[x]"
			title = r.styles.Done.Render(title)
		}
	case *agenda.Reminder:
		marker = "(!)"
	case *agenda.Event:
		marker = "<E>"
		if n := len(it.Attendees); n > 0 {
			extra = r.Muted(fmt.Sprintf(" (%d %s)", n, plural(n, "attendee", "attendees")))
		}
	}

	return fmt.Sprintf("%s %-11s %s %s%s  %s", flag, r.when(item), marker, title, extra, r.Muted(shortID(h.ID)))
}

func (r *Renderer) when(item agenda.Item) string {
	from := item.Header().Time.In(r.loc)
	ev, ok := item.(*agenda.Event)
	if !ok {
		return from.Format("15:04")
	}
	to := ev.To.In(r.loc)
	if agenda.StartOfDay(from, r.loc).Equal(agenda.StartOfDay(to, r.loc)) {
		return from.Format("15:04") + "-" + to.Format("15:04")
	}
	return from.Format("15:04") + "-" + to.Format("Jan 2")
}

// SyncResult summarizes a reconciliation cycle.
func (r *Renderer) SyncResult(res *reconcile.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s pushed %d created, %d updated, %d deleted",
		r.Pass("✓"), res.Created, res.Updated, res.Purged)
	if res.Failed > 0 {
		fmt.Fprintf(&b, ", %s", r.Warn(fmt.Sprintf("%d failed", res.Failed)))
	}
	fmt.Fprintf(&b, "\n%s pulled %d new, %d changed, %d removed",
		r.Pass("✓"), res.Inserted, res.Overwritten, res.RemovedUpstream)
	if res.Conflicts > 0 {
		fmt.Fprintf(&b, "\n%s %d %s resolved by last write (see 'tasky conflicts')",
			r.Warn("!"), res.Conflicts, plural(res.Conflicts, "conflict", "conflicts"))
	}
	for _, rej := range res.Rejected {
		fmt.Fprintf(&b, "\n%s %s %s %s refused: %s",
			r.Fail("✗"), rej.Op, rej.Ref.Kind, shortID(rej.Ref.ID), rej.Message)
	}
	b.WriteString("\n")
	b.WriteString(r.Muted(fmt.Sprintf("  took %v", res.Duration().Round(time.Millisecond))))
	return b.String()
}

// Conflicts renders the conflict log, newest first.
func (r *Renderer) Conflicts(cs []store.Conflict) string {
	if len(cs) == 0 {
		return r.Muted("No conflicts recorded.")
	}
	var b strings.Builder
	for i, c := range cs {
		if i > 0 {
			b.WriteString("\n")
		}
		res := r.Warn(string(c.Resolution))
		if c.Resolution == store.ResolutionRemoteWon {
			res = r.Fail(string(c.Resolution))
		}
		fmt.Fprintf(&b, "%s  %-8s %s  %s  local %s  remote %s",
			r.Muted(c.DetectedAt.In(r.loc).Format("2006-01-02 15:04:05")),
			c.Kind, shortID(c.ItemID), res,
			stamp(c.LocalUpdatedAt, r.loc), stamp(c.RemoteUpdatedAt, r.loc))
		if title := conflictTitle(c); title != "" {
			fmt.Fprintf(&b, "  %q", title)
		}
	}
	return b.String()
}

func conflictTitle(c store.Conflict) string {
	for _, it := range []agenda.Item{c.Local, c.Remote} {
		if it != nil {
			return it.Header().Title
		}
	}
	return ""
}

func stamp(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(loc).Format("15:04:05")
}

// shortID abbreviates a UUID for display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
