package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/taskyapp/tasky/internal/agenda"
	"github.com/taskyapp/tasky/internal/agendaview"
	"github.com/taskyapp/tasky/internal/store"
)

// resolveItem finds the item whose id starts with prefix. kind narrows
// the search when set.
func resolveItem(ctx context.Context, st *store.Store, prefix string, kind agenda.Kind) (agenda.Item, error) {
	if item, err := st.GetByID(ctx, prefix); err == nil {
		if kind != "" && item.Kind() != kind {
			return nil, fmt.Errorf("%s is a %s, not a %s", prefix, item.Kind(), kind)
		}
		return item, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	items, err := st.List(ctx, store.Filter{Kind: kind})
	if err != nil {
		return nil, err
	}
	var matches []agenda.Item
	for _, it := range items {
		if strings.HasPrefix(it.Header().ID, prefix) {
			matches = append(matches, it)
		}
	}
	switch len(matches) {
	case 0:
		what := "item"
		if kind != "" {
			what = string(kind)
		}
		return nil, fmt.Errorf("no %s matches %q", what, prefix)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%q is ambiguous (%d matches), use more of the id", prefix, len(matches))
	}
}

// timing holds the flags shared by every add/edit command.
type timing struct {
	date   string
	at     string
	desc   string
	remind time.Duration
}

func addTimingFlags(cmd *cobra.Command, atFlag, atDefault string) {
	cmd.Flags().StringP("date", "d", "", "Day: 2026-03-14, \"tomorrow\", ... (default: today)")
	cmd.Flags().String(atFlag, atDefault, "Time of day, HH:MM")
	cmd.Flags().String("desc", "", "Description")
	cmd.Flags().Duration("remind", 0, "Remind this long before, e.g. 15m (0 = no reminder)")
}

func readTiming(cmd *cobra.Command, atFlag string) timing {
	var t timing
	t.date, _ = cmd.Flags().GetString("date")
	t.at, _ = cmd.Flags().GetString(atFlag)
	t.desc, _ = cmd.Flags().GetString("desc")
	t.remind, _ = cmd.Flags().GetDuration("remind")
	return t
}

// apply sets the time fields of b from the flags that were given. base
// supplies the day when --date is absent.
func (t timing) apply(cmd *cobra.Command, atFlag string, b *agenda.Base, base time.Time, loc *time.Location) error {
	day := agenda.StartOfDay(base, loc)
	if cmd.Flags().Changed("date") || base.IsZero() {
		d, err := parseDay(t.date, time.Now(), loc)
		if err != nil {
			return err
		}
		day = d
	}

	clock := base.In(loc).Sub(agenda.StartOfDay(base, loc))
	if cmd.Flags().Changed(atFlag) || base.IsZero() {
		c, err := parseClock(t.at)
		if err != nil {
			return err
		}
		clock = c
	}

	offset := b.RemindOffset()
	b.Time = at(day, clock, loc)
	if cmd.Flags().Changed("remind") {
		offset = t.remind
	}
	b.RemindAt = time.Time{}
	if offset > 0 {
		b.RemindAt = b.Time.Add(-offset)
	}
	if cmd.Flags().Changed("desc") {
		b.Description = t.desc
	}
	return nil
}

// save stores item through the view model and reports it.
func save(ctx context.Context, a *app, item agenda.Item, verb string) error {
	m, err := a.Model(ctx)
	if err != nil {
		return err
	}
	if err := m.Save(ctx, item); err != nil {
		return err
	}
	m.Events().Drain()
	h := item.Header()
	a.printf("%s %s %s %s %s\n", a.ui.Pass("✓"), verb, item.Kind(), a.ui.Accent(h.ID), h.Title)
	a.printf("%s\n", a.ui.Muted("  pending, pushed on the next 'tasky sync'"))
	return nil
}

// remove deletes an item after confirmation.
func remove(cmd *cobra.Command, kind agenda.Kind, prefix string) error {
	a := current
	ctx := cmd.Context()
	st, err := a.Store(ctx)
	if err != nil {
		return err
	}
	item, err := resolveItem(ctx, st, prefix, kind)
	if err != nil {
		return err
	}
	m, err := a.Model(ctx)
	if err != nil {
		return err
	}
	if err := m.RequestDelete(ctx, item.Header().ID); err != nil {
		return err
	}
	m.Events().Drain()

	yes, _ := cmd.Flags().GetBool("yes")
	if !yes {
		if !interactive() {
			m.CancelDelete()
			return fmt.Errorf("refusing to delete without --yes when not running in a terminal")
		}
		err := huh.NewConfirm().
			Title(fmt.Sprintf("Delete %s %q?", kind, item.Header().Title)).
			Value(&yes).
			Run()
		if err != nil {
			return err
		}
	}
	if !yes {
		m.CancelDelete()
		a.printf("Cancelled.\n")
		return nil
	}
	if err := m.ConfirmDelete(ctx); err != nil {
		return err
	}
	for _, ev := range m.Events().Drain() {
		if ev.Kind == agendaview.ShowToast {
			a.printf("%s %s\n", a.ui.Pass("✓"), ev.Message)
		}
	}
	return nil
}

func newRemoveCmd(kind agenda.Kind) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <id>",
		Short: fmt.Sprintf("Delete a %s", kind),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return remove(cmd, kind, args[0])
		},
	}
	cmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	return cmd
}

var taskCmd = &cobra.Command{
	Use:     "task",
	GroupID: "agenda",
	Short:   "Add, edit, complete and delete tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add a task",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := current
		t := &agenda.Task{Base: agenda.Base{Title: strings.Join(args, " ")}}
		if err := readTiming(cmd, "at").apply(cmd, "at", &t.Base, time.Time{}, a.loc); err != nil {
			return err
		}
		return save(cmd.Context(), a, t, "Created")
	},
}

var taskEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Edit a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return edit(cmd, agenda.KindTask, args[0], "at")
	},
}

var taskDoneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Toggle a task's done flag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := current
		ctx := cmd.Context()
		st, err := a.Store(ctx)
		if err != nil {
			return err
		}
		item, err := resolveItem(ctx, st, args[0], agenda.KindTask)
		if err != nil {
			return err
		}
		m, err := a.Model(ctx)
		if err != nil {
			return err
		}
		if err := m.ToggleDone(ctx, item.Header().ID); err != nil {
			return err
		}
		state := "not done"
		if !item.(*agenda.Task).IsDone {
			state = "done"
		}
		a.printf("%s %s marked %s\n", a.ui.Pass("✓"), item.Header().Title, state)
		return nil
	},
}

// edit applies title and timing flags to an existing item.
func edit(cmd *cobra.Command, kind agenda.Kind, prefix, atFlag string) error {
	a := current
	ctx := cmd.Context()
	st, err := a.Store(ctx)
	if err != nil {
		return err
	}
	item, err := resolveItem(ctx, st, prefix, kind)
	if err != nil {
		return err
	}
	h := item.Header()
	if title, _ := cmd.Flags().GetString("title"); cmd.Flags().Changed("title") {
		h.Title = title
	}
	if err := readTiming(cmd, atFlag).apply(cmd, atFlag, h, h.Time, a.loc); err != nil {
		return err
	}
	return save(ctx, a, item, "Updated")
}

var reminderCmd = &cobra.Command{
	Use:     "reminder",
	GroupID: "agenda",
	Short:   "Add, edit and delete reminders",
}

var reminderAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add a reminder",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := current
		r := &agenda.Reminder{Base: agenda.Base{Title: strings.Join(args, " ")}}
		if err := readTiming(cmd, "at").apply(cmd, "at", &r.Base, time.Time{}, a.loc); err != nil {
			return err
		}
		return save(cmd.Context(), a, r, "Created")
	},
}

var reminderEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Edit a reminder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return edit(cmd, agenda.KindReminder, args[0], "at")
	},
}

func init() {
	for _, c := range []*cobra.Command{taskAddCmd, reminderAddCmd} {
		addTimingFlags(c, "at", "09:00")
	}
	for _, c := range []*cobra.Command{taskEditCmd, reminderEditCmd} {
		addTimingFlags(c, "at", "09:00")
		c.Flags().String("title", "", "New title")
	}

	taskCmd.AddCommand(taskAddCmd, taskEditCmd, taskDoneCmd, newRemoveCmd(agenda.KindTask))
	reminderCmd.AddCommand(reminderAddCmd, reminderEditCmd, newRemoveCmd(agenda.KindReminder))
	rootCmd.AddCommand(taskCmd, reminderCmd)
}
