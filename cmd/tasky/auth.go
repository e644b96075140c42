package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/taskyapp/tasky/internal/settings"
	"github.com/taskyapp/tasky/internal/validation"
)

// interactive reports whether prompts can be shown.
func interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// requireInput fails with a hint when a value is missing and no prompt
// can be shown.
func requireInput(flag, value string) error {
	if value == "" {
		return fmt.Errorf("--%s is required when not running in a terminal", flag)
	}
	return nil
}

func passwordInput(title string, value *string) *huh.Input {
	return huh.NewInput().
		Title(title).
		EchoMode(huh.EchoModePassword).
		Value(value)
}

var registerCmd = &cobra.Command{
	Use:     "register",
	GroupID: "account",
	Short:   "Create a Tasky account",
	Long: `Create a Tasky account. Without flags the details are asked for
interactively. Passwords need at least 9 characters with an upper case
letter, a lower case letter and a digit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := current
		name, _ := cmd.Flags().GetString("name")
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")

		if (name == "" || email == "" || password == "") && interactive() {
			var confirm string
			form := huh.NewForm(huh.NewGroup(
				huh.NewInput().Title("Full name").Value(&name).Validate(validation.FullName),
				huh.NewInput().Title("Email").Value(&email).Validate(validation.Email),
				passwordInput("Password", &password).Validate(validation.Password),
				passwordInput("Repeat password", &confirm).Validate(func(s string) error {
					if s != password {
						return errors.New("passwords do not match")
					}
					return nil
				}),
			))
			if err := form.Run(); err != nil {
				return err
			}
		}
		for _, f := range []struct{ flag, v string }{{"name", name}, {"email", email}, {"password", password}} {
			if err := requireInput(f.flag, f.v); err != nil {
				return err
			}
		}
		if err := validation.Registration(name, email, password); err != nil {
			return err
		}

		c, err := a.Client()
		if err != nil {
			return err
		}
		if err := c.Register(cmd.Context(), name, email, password); err != nil {
			return fmt.Errorf("registration failed: %w", err)
		}
		a.printf("%s Account created for %s. Run 'tasky login' to sign in.\n", a.ui.Pass("✓"), email)
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:     "login",
	GroupID: "account",
	Short:   "Sign in and store the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := current
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")

		if (email == "" || password == "") && interactive() {
			form := huh.NewForm(huh.NewGroup(
				huh.NewInput().Title("Email").Value(&email).Validate(validation.Email),
				passwordInput("Password", &password),
			))
			if err := form.Run(); err != nil {
				return err
			}
		}
		if err := requireInput("email", email); err != nil {
			return err
		}
		if err := requireInput("password", password); err != nil {
			return err
		}
		if err := validation.Email(email); err != nil {
			return err
		}

		c, err := a.Client()
		if err != nil {
			return err
		}
		res, err := c.Login(cmd.Context(), email, password)
		if err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		s, err := a.Settings()
		if err != nil {
			return err
		}
		err = s.SaveAuthInfo(settings.AuthInfo{
			AccessToken:  res.AccessToken,
			RefreshToken: res.RefreshToken,
			ExpiresAt:    res.ExpiresAt,
			UserID:       res.UserID,
			Username:     res.FullName,
			Email:        email,
		})
		if err != nil {
			return fmt.Errorf("failed to save session: %w", err)
		}
		a.printf("%s Logged in as %s\n", a.ui.Pass("✓"), res.FullName)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	GroupID: "account",
	Short:   "End the session",
	Long: `End the session on the server and forget it locally. Local agenda
data is kept.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := current
		if _, err := a.requireLogin(); err != nil {
			if errors.Is(err, settings.ErrNotLoggedIn) {
				a.printf("Not logged in.\n")
				return nil
			}
			return err
		}
		m, err := a.Model(cmd.Context())
		if err != nil {
			return err
		}
		if err := m.Logout(cmd.Context()); err != nil {
			return err
		}
		a.printf("%s Logged out\n", a.ui.Pass("✓"))
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:     "whoami",
	GroupID: "account",
	Short:   "Show the logged-in user",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := current
		info, err := a.requireLogin()
		if err != nil {
			return err
		}
		a.printf("%s <%s>\n", info.Username, info.Email)
		a.printf("%s\n", a.ui.Muted(fmt.Sprintf("user %s, token expires %s", info.UserID, info.ExpiresAt.In(a.loc).Format("2006-01-02 15:04"))))

		if check, _ := cmd.Flags().GetBool("check"); check {
			c, err := a.Client()
			if err != nil {
				return err
			}
			if err := c.Authenticate(cmd.Context()); err != nil {
				return fmt.Errorf("session check failed: %w", err)
			}
			a.printf("%s Session is valid\n", a.ui.Pass("✓"))
		}
		return nil
	},
}

func init() {
	registerCmd.Flags().String("name", "", "Full name")
	registerCmd.Flags().String("email", "", "Email address")
	registerCmd.Flags().String("password", "", "Password")

	loginCmd.Flags().String("email", "", "Email address")
	loginCmd.Flags().String("password", "", "Password")

	whoamiCmd.Flags().Bool("check", false, "Verify the session with the server")

	rootCmd.AddCommand(registerCmd, loginCmd, logoutCmd, whoamiCmd)
}
