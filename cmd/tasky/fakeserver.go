package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/taskyapp/tasky/internal/remote/fakeapi"
	"github.com/taskyapp/tasky/internal/validation"
)

var fakeServerCmd = &cobra.Command{
	Use:     "fake-server",
	GroupID: "advanced",
	Short:   "Run an in-memory Tasky API for local development",
	Long: `Run an in-memory implementation of the Tasky API. Data is lost on
exit. Point api.base_url at it to try tasky without an account:

  tasky fake-server --user "Ana Lopez:ana@example.com:Secret1234"
  TASKY_API_BASE_URL=http://127.0.0.1:8080/ tasky login --email ana@example.com`,
	Annotations: map[string]string{annotationLogStderr: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		a := current
		addr, _ := cmd.Flags().GetString("addr")
		users, _ := cmd.Flags().GetStringArray("user")

		srv := fakeapi.New(fakeapi.Options{
			APIKey:    a.cfg.API.Key,
			AccessLog: verbose,
		})
		for _, u := range users {
			parts := strings.SplitN(u, ":", 3)
			if len(parts) != 3 {
				return fmt.Errorf("invalid --user %q, want \"Full Name:email:password\"", u)
			}
			if err := validation.Registration(parts[0], parts[1], parts[2]); err != nil {
				return fmt.Errorf("invalid --user %q: %w", u, err)
			}
			srv.AddUser(parts[0], parts[1], parts[2])
		}

		logger := a.logger("fake-api")
		logger.Printf("Listening on %s with %d users", addr, len(users))
		return srv.Run(addr)
	},
}

func init() {
	fakeServerCmd.Flags().String("addr", "127.0.0.1:8080", "Listen address")
	fakeServerCmd.Flags().StringArray("user", nil, "Seed user as \"Full Name:email:password\" (repeatable)")
	rootCmd.AddCommand(fakeServerCmd)
}
