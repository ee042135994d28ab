package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/aromachat/authsync"
	"github.com/aromachat/authsync/domain"
	"github.com/aromachat/authsync/gotrue"
)

var loginEmail string

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with email and password and persist the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		manager.Start(ctx)

		email := loginEmail
		if email == "" {
			var err error
			email, err = promptLine("Enter email: ")
			if err != nil {
				return err
			}
		}
		password, err := promptPassword("Enter password: ")
		if err != nil {
			return err
		}

		sess, err := manager.SignInWithPassword(ctx, email, password)
		if err != nil {
			if gotrue.Transient(err) {
				return fmt.Errorf("temporary problem signing in, try again: %w", err)
			}
			return fmt.Errorf("login failed: %w", err)
		}
		fmt.Printf("Signed in as %s (ID: %s)\n", sess.User.Email, sess.Identity())

		snap := waitForGate(ctx, 10*time.Second, settled)
		switch {
		case snap.State == authsync.StateAuthenticated:
			fmt.Printf("Profile loaded: %s\n", snap.User.DisplayName)
		case snap.ProfileErr != nil:
			fmt.Fprintf(os.Stderr, "Signed in, but the profile could not be loaded: %v\n", snap.ProfileErr)
		}
		return nil
	},
}

var (
	signupEmail string
	signupName  string
)

var signupCmd = &cobra.Command{
	Use:   "signup",
	Short: "Register a new AromaChat account",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		manager.Start(ctx)

		email := signupEmail
		if email == "" {
			var err error
			email, err = promptLine("Enter email: ")
			if err != nil {
				return err
			}
		}
		password, err := promptPassword("Choose password: ")
		if err != nil {
			return err
		}
		confirm, err := promptPassword("Repeat password: ")
		if err != nil {
			return err
		}
		if password != confirm {
			return fmt.Errorf("passwords do not match")
		}

		params := domain.SignUpParams{Email: email, Password: password}
		if signupName != "" {
			params.Metadata = map[string]any{"display_name": signupName}
		}

		result, err := manager.SignUp(ctx, params)
		if err != nil {
			return fmt.Errorf("signup failed: %w", err)
		}

		if result.Session == nil {
			fmt.Printf("Account created for %s. Check your inbox to confirm the address, then run 'aromactl login'.\n", result.User.Email)
			return nil
		}
		fmt.Printf("Account created and signed in as %s (ID: %s)\n", result.User.Email, result.User.ID)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and clear the persisted session",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		manager.Start(ctx)

		snap := waitForGate(ctx, 10*time.Second, func(g authsync.GateSnapshot) bool {
			return g.State != authsync.StateUnknown
		})
		if snap.State == authsync.StateSignedOut {
			fmt.Println("Not signed in.")
			return nil
		}

		if err := manager.SignOut(ctx); err != nil {
			return fmt.Errorf("logout failed: %w", err)
		}

		waitForGate(ctx, 5*time.Second, func(g authsync.GateSnapshot) bool {
			return g.State == authsync.StateSignedOut
		})
		fmt.Println("Signed out. Local session and caches cleared.")
		return nil
	},
}

func promptLine(prompt string) (string, error) {
	fmt.Print(prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(bytePassword), nil
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "email to sign in with (prompted when omitted)")
	signupCmd.Flags().StringVar(&signupEmail, "email", "", "email to register (prompted when omitted)")
	signupCmd.Flags().StringVar(&signupName, "display-name", "", "initial display name stored with the account")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(signupCmd)
	rootCmd.AddCommand(logoutCmd)
}
