package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskyapp/tasky/internal/agenda"
	"github.com/taskyapp/tasky/internal/remote"
)

var eventCmd = &cobra.Command{
	Use:     "event",
	GroupID: "agenda",
	Short:   "Add, edit and delete events, manage attendees",
}

// lookupAttendees resolves emails to Tasky users. It needs the server.
func lookupAttendees(ctx context.Context, a *app, emails []string) ([]agenda.Attendee, error) {
	if len(emails) == 0 {
		return nil, nil
	}
	c, err := a.Client()
	if err != nil {
		return nil, err
	}
	var out []agenda.Attendee
	for _, email := range emails {
		att, ok, err := c.GetAttendee(ctx, email)
		if err != nil {
			if remote.IsRetryable(err) {
				return nil, fmt.Errorf("looking up attendees needs a connection: %w", err)
			}
			return nil, fmt.Errorf("failed to look up %s: %w", email, err)
		}
		if !ok {
			return nil, fmt.Errorf("no Tasky user with email %s", email)
		}
		out = append(out, *att)
	}
	return out, nil
}

// addAttendees merges found attendees into e, skipping known emails.
func addAttendees(e *agenda.Event, atts []agenda.Attendee) {
	for _, att := range atts {
		known := slices.ContainsFunc(e.Attendees, func(x agenda.Attendee) bool {
			return strings.EqualFold(x.Email, att.Email)
		})
		if known {
			continue
		}
		att.EventID = e.ID
		e.Attendees = append(e.Attendees, att)
	}
}

// localPhotos turns file paths into photos awaiting upload.
func localPhotos(paths []string) ([]agenda.Photo, error) {
	var out []agenda.Photo
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(abs); err != nil {
			return nil, fmt.Errorf("photo %s: %w", p, err)
		}
		out = append(out, agenda.Photo{Key: agenda.NewID(), LocalPath: abs})
	}
	return out, nil
}

// removePhoto drops a photo by key. Uploaded photos are also listed in
// DeletedPhotoKeys so the server removes them.
func removePhoto(e *agenda.Event, key string) error {
	i := slices.IndexFunc(e.Photos, func(p agenda.Photo) bool { return p.Key == key })
	if i < 0 {
		return fmt.Errorf("event has no photo %s", key)
	}
	if !e.Photos[i].IsLocal() {
		e.DeletedPhotoKeys = append(e.DeletedPhotoKeys, key)
	}
	e.Photos = slices.Delete(e.Photos, i, i+1)
	return nil
}

var eventAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add an event",
	Long: `Add an event. Attendees are looked up on the server by email, so
adding attendees needs a connection; everything else works offline.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := current
		ctx := cmd.Context()
		info, err := a.requireLogin()
		if err != nil {
			return err
		}

		e := &agenda.Event{
			Base:               agenda.Base{ID: agenda.NewID(), Title: strings.Join(args, " ")},
			Host:               info.UserID,
			IsUserEventCreator: true,
			IsGoing:            true,
		}
		if err := readTiming(cmd, "from").apply(cmd, "from", &e.Base, time.Time{}, a.loc); err != nil {
			return err
		}
		toFlag, _ := cmd.Flags().GetString("to")
		to, err := parseClock(toFlag)
		if err != nil {
			return err
		}
		e.To = at(e.Time, to, a.loc)

		emails, _ := cmd.Flags().GetStringSlice("attendee")
		atts, err := lookupAttendees(ctx, a, emails)
		if err != nil {
			return err
		}
		addAttendees(e, atts)

		paths, _ := cmd.Flags().GetStringSlice("photo")
		if e.Photos, err = localPhotos(paths); err != nil {
			return err
		}
		return save(ctx, a, e, "Created")
	},
}

var eventEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Edit an event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := current
		ctx := cmd.Context()
		st, err := a.Store(ctx)
		if err != nil {
			return err
		}
		item, err := resolveItem(ctx, st, args[0], agenda.KindEvent)
		if err != nil {
			return err
		}
		e := item.(*agenda.Event)

		length := e.To.Sub(e.Time)
		if title, _ := cmd.Flags().GetString("title"); cmd.Flags().Changed("title") {
			e.Title = title
		}
		if err := readTiming(cmd, "from").apply(cmd, "from", &e.Base, e.Time, a.loc); err != nil {
			return err
		}
		e.To = e.Time.Add(length)
		if cmd.Flags().Changed("to") {
			toFlag, _ := cmd.Flags().GetString("to")
			to, err := parseClock(toFlag)
			if err != nil {
				return err
			}
			e.To = at(e.Time, to, a.loc)
		}

		paths, _ := cmd.Flags().GetStringSlice("photo")
		added, err := localPhotos(paths)
		if err != nil {
			return err
		}
		e.Photos = append(e.Photos, added...)
		keys, _ := cmd.Flags().GetStringSlice("remove-photo")
		for _, key := range keys {
			if err := removePhoto(e, key); err != nil {
				return err
			}
		}
		return save(ctx, a, e, "Updated")
	},
}

var eventAttendeeCmd = &cobra.Command{
	Use:   "attendee <event-id> <email>",
	Short: "Add or remove an attendee",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := current
		ctx := cmd.Context()
		st, err := a.Store(ctx)
		if err != nil {
			return err
		}
		item, err := resolveItem(ctx, st, args[0], agenda.KindEvent)
		if err != nil {
			return err
		}
		e := item.(*agenda.Event)
		email := args[1]

		if rm, _ := cmd.Flags().GetBool("remove"); rm {
			n := len(e.Attendees)
			e.Attendees = slices.DeleteFunc(e.Attendees, func(x agenda.Attendee) bool {
				return strings.EqualFold(x.Email, email)
			})
			if len(e.Attendees) == n {
				return fmt.Errorf("%s is not an attendee", email)
			}
			return save(ctx, a, e, "Updated")
		}

		atts, err := lookupAttendees(ctx, a, []string{email})
		if err != nil {
			return err
		}
		addAttendees(e, atts)
		return save(ctx, a, e, "Updated")
	},
}

var eventLeaveCmd = &cobra.Command{
	Use:   "leave <event-id>",
	Short: "Leave an event you were invited to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := current
		ctx := cmd.Context()
		st, err := a.Store(ctx)
		if err != nil {
			return err
		}
		item, err := resolveItem(ctx, st, args[0], agenda.KindEvent)
		if err != nil {
			return err
		}
		e := item.(*agenda.Event)
		if e.IsUserEventCreator {
			return fmt.Errorf("you host %q; delete it instead", e.Title)
		}
		c, err := a.Client()
		if err != nil {
			return err
		}
		if err := c.LeaveEvent(ctx, e.ID); err != nil {
			return fmt.Errorf("failed to leave event: %w", err)
		}
		if _, err := st.Purge(ctx, []string{e.ID}); err != nil {
			return err
		}
		a.printf("%s Left %s\n", a.ui.Pass("✓"), e.Title)
		return nil
	},
}

func init() {
	addTimingFlags(eventAddCmd, "from", "09:00")
	eventAddCmd.Flags().String("to", "10:00", "End time, HH:MM")
	eventAddCmd.Flags().StringSlice("attendee", nil, "Attendee email (repeatable)")
	eventAddCmd.Flags().StringSlice("photo", nil, "Photo file to attach (repeatable)")

	addTimingFlags(eventEditCmd, "from", "09:00")
	eventEditCmd.Flags().String("title", "", "New title")
	eventEditCmd.Flags().String("to", "10:00", "End time, HH:MM")
	eventEditCmd.Flags().StringSlice("photo", nil, "Photo file to attach (repeatable)")
	eventEditCmd.Flags().StringSlice("remove-photo", nil, "Key of a photo to remove (repeatable)")

	eventAttendeeCmd.Flags().Bool("remove", false, "Remove the attendee instead")

	eventCmd.AddCommand(eventAddCmd, eventEditCmd, eventAttendeeCmd, eventLeaveCmd, newRemoveCmd(agenda.KindEvent))
	rootCmd.AddCommand(eventCmd)
}
