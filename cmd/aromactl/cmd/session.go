package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aromachat/authsync"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the current authentication state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		manager.Start(ctx)

		snap := waitForGate(ctx, 10*time.Second, settled)

		switch snap.State {
		case authsync.StateSignedOut:
			fmt.Println("State:    SIGNED_OUT")
			if snap.SessionErr != nil {
				fmt.Printf("Error:    %v\n", snap.SessionErr)
			}

		case authsync.StateAuthenticated:
			fmt.Println("State:    AUTHENTICATED")
			fmt.Printf("Identity: %s\n", snap.User.Identity)
			fmt.Printf("Email:    %s\n", snap.User.Email)
			fmt.Printf("Name:     %s\n", snap.User.DisplayName)
			fmt.Printf("Expires:  %s\n", snap.Session.ExpiresAt.Format(time.RFC3339))

		case authsync.StateSessionOnly:
			fmt.Println("State:    SESSION_ONLY")
			fmt.Printf("Identity: %s\n", snap.Session.Identity())
			if snap.Session.User != nil {
				fmt.Printf("Email:    %s\n", snap.Session.User.Email)
			}
			fmt.Printf("Expires:  %s\n", snap.Session.ExpiresAt.Format(time.RFC3339))
			if snap.ProfileErr != nil {
				fmt.Printf("Profile:  unavailable (%v)\n", snap.ProfileErr)
			} else {
				fmt.Println("Profile:  still loading")
			}

		default:
			fmt.Println("State:    UNKNOWN")
			fmt.Println("The session slot did not resolve in time.")
			if snap.SessionErr != nil {
				fmt.Printf("Error:    %v\n", snap.SessionErr)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(whoamiCmd)
}
