package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/taskyapp/tasky/internal/agenda"
	"github.com/taskyapp/tasky/internal/agendaview"
	"github.com/taskyapp/tasky/internal/store"
	"github.com/taskyapp/tasky/internal/ui"
)

// itemView is the json/yaml shape of an agenda line.
type itemView struct {
	ID          string     `json:"id" yaml:"id"`
	Kind        string     `json:"kind" yaml:"kind"`
	Title       string     `json:"title" yaml:"title"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Time        time.Time  `json:"time" yaml:"time"`
	To          *time.Time `json:"to,omitempty" yaml:"to,omitempty"`
	RemindAt    *time.Time `json:"remind_at,omitempty" yaml:"remind_at,omitempty"`
	Done        *bool      `json:"done,omitempty" yaml:"done,omitempty"`
	Attendees   []string   `json:"attendees,omitempty" yaml:"attendees,omitempty"`
	Sync        string     `json:"sync" yaml:"sync"`
	Rejected    string     `json:"rejected,omitempty" yaml:"rejected,omitempty"`
}

type dayView struct {
	Day   string     `json:"day" yaml:"day"`
	Items []itemView `json:"items" yaml:"items"`
}

func newItemView(item agenda.Item, rec store.Record, loc *time.Location) itemView {
	h := item.Header()
	v := itemView{
		ID:          h.ID,
		Kind:        string(item.Kind()),
		Title:       h.Title,
		Description: h.Description,
		Time:        h.Time.In(loc),
		Sync:        "synced",
		Rejected:    rec.Rejected,
	}
	switch ui.MarkOf(rec) {
	case ui.MarkPending:
		v.Sync = "pending"
	case ui.MarkRejected:
		v.Sync = "rejected"
	}
	if !h.RemindAt.IsZero() {
		r := h.RemindAt.In(loc)
		v.RemindAt = &r
	}
	switch it := item.(type) {
	case *agenda.Task:
		done := it.IsDone
		v.Done = &done
	case *agenda.Event:
		to := it.To.In(loc)
		v.To = &to
		for _, att := range it.Attendees {
			v.Attendees = append(v.Attendees, att.Email)
		}
	}
	return v
}

// syncRecords returns the records of the given items keyed by id.
func syncRecords(ctx context.Context, st *store.Store, items []agenda.Item) (map[string]store.Record, error) {
	recs := make(map[string]store.Record, len(items))
	for _, it := range items {
		rec, err := st.GetRecord(ctx, it.Header().ID)
		if err != nil {
			return nil, err
		}
		recs[it.Header().ID] = rec
	}
	return recs, nil
}

var agendaCmd = &cobra.Command{
	Use:     "agenda [date]",
	GroupID: "agenda",
	Short:   "Show the agenda of a day",
	Long: `Show the agenda of a day. The date may be 2026-03-14 or natural
language such as "tomorrow" or "next friday"; the default is today.

Lines marked * are waiting to be synced, lines marked ! were refused by the
server.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := current
		ctx := cmd.Context()
		format, _ := cmd.Flags().GetString("format")
		refresh, _ := cmd.Flags().GetBool("refresh")

		var arg string
		if len(args) == 1 {
			arg = args[0]
		}
		day, err := parseDay(arg, time.Now(), a.loc)
		if err != nil {
			return err
		}

		m, err := a.Model(ctx)
		if err != nil {
			return err
		}
		if arg != "" {
			if err := m.SetWeekStart(ctx, day); err != nil {
				return err
			}
		}
		if refresh {
			if _, err := m.Refresh(ctx); err != nil {
				return err
			}
			a.drainToasts(m)
		}

		st := m.State()
		recs, err := syncRecords(ctx, a.store, st.Items)
		if err != nil {
			return err
		}
		return printAgenda(a, st, recs, format)
	},
}

func printAgenda(a *app, st agendaview.State, recs map[string]store.Record, format string) error {
	switch format {
	case "text":
		marks := make(map[string]ui.Mark, len(recs))
		for id, rec := range recs {
			marks[id] = ui.MarkOf(rec)
		}
		a.printf("%s", a.ui.Agenda(st, marks))
		return nil
	case "json", "yaml":
		v := dayView{Day: st.SelectedDay().In(a.loc).Format("2006-01-02"), Items: []itemView{}}
		for _, it := range st.Items {
			v.Items = append(v.Items, newItemView(it, recs[it.Header().ID], a.loc))
		}
		if format == "json" {
			enc := json.NewEncoder(a.out)
			enc.SetIndent("", "  ")
			return enc.Encode(v)
		}
		enc := yaml.NewEncoder(a.out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q (want text, json or yaml)", format)
	}
}

func init() {
	agendaCmd.Flags().StringP("format", "f", "text", "Output format: text, json or yaml")
	agendaCmd.Flags().BoolP("refresh", "r", false, "Sync the day before showing it")
	rootCmd.AddCommand(agendaCmd)
}
