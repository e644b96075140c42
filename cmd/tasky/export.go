package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskyapp/tasky/internal/agenda"
	"github.com/taskyapp/tasky/internal/export"
	"github.com/taskyapp/tasky/internal/store"
)

var exportCmd = &cobra.Command{
	Use:     "export [date]",
	GroupID: "agenda",
	Short:   "Export the agenda as iCalendar (.ics)",
	Long: `Export agenda items as an iCalendar file that calendar apps can
import. By default the day's items are written to stdout; --days widens the
range and --all exports everything stored locally.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := current
		ctx := cmd.Context()
		st, err := a.Store(ctx)
		if err != nil {
			return err
		}

		var items []agenda.Item
		if all, _ := cmd.Flags().GetBool("all"); all {
			items, err = st.GetAll(ctx)
		} else {
			var arg string
			if len(args) == 1 {
				arg = args[0]
			}
			day, perr := parseDay(arg, time.Now(), a.loc)
			if perr != nil {
				return perr
			}
			days, _ := cmd.Flags().GetInt("days")
			if days < 1 {
				return fmt.Errorf("--days must be at least 1")
			}
			items, err = st.List(ctx, store.Filter{From: day, To: day.AddDate(0, 0, days)})
		}
		if err != nil {
			return err
		}
		if !hasLive(items) {
			return export.ErrEmpty
		}

		path, _ := cmd.Flags().GetString("output")
		if path == "" || path == "-" {
			return export.Write(a.out, items, time.Now())
		}

		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		if err := export.Write(f, items, time.Now()); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d items to %s\n", len(items), path)
		return nil
	},
}

func hasLive(items []agenda.Item) bool {
	for _, it := range items {
		if !it.Header().Deleted {
			return true
		}
	}
	return false
}

func init() {
	exportCmd.Flags().StringP("output", "o", "", "Output file (default: stdout)")
	exportCmd.Flags().Int("days", 1, "Number of days to export")
	exportCmd.Flags().Bool("all", false, "Export all stored items")
	rootCmd.AddCommand(exportCmd)
}
