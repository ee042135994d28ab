package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aromachat/authsync"
	"github.com/aromachat/authsync/domain"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Inspect and edit the signed-in user's profile",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the synced profile of the signed-in user",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		manager.Start(ctx)

		snap := waitForGate(ctx, 10*time.Second, settled)
		if snap.State == authsync.StateSignedOut || snap.State == authsync.StateUnknown {
			return fmt.Errorf("not signed in; run 'aromactl login' first")
		}
		if snap.User == nil {
			return fmt.Errorf("profile unavailable: %v", snap.ProfileErr)
		}

		printProfile(snap.User.Profile)
		return nil
	},
}

var (
	setDisplayName string
	setBio         string
	setAvatarURL   string
	setInterests   []string
)

var profileSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update profile fields; unspecified flags are left untouched",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		manager.Start(ctx)

		snap := waitForGate(ctx, 10*time.Second, func(g authsync.GateSnapshot) bool {
			return g.State != authsync.StateUnknown
		})
		if snap.State == authsync.StateSignedOut {
			return fmt.Errorf("not signed in; run 'aromactl login' first")
		}

		var patch domain.ProfilePatch
		if cmd.Flags().Changed("display-name") {
			patch.DisplayName = &setDisplayName
		}
		if cmd.Flags().Changed("bio") {
			patch.Bio = &setBio
		}
		if cmd.Flags().Changed("avatar-url") {
			patch.AvatarURL = &setAvatarURL
		}
		if cmd.Flags().Changed("interests") {
			patch.Interests = setInterests
		}
		if patch.IsZero() {
			return fmt.Errorf("nothing to update; pass at least one field flag")
		}

		rec, err := manager.UpdateProfile(ctx, patch)
		if err != nil {
			return fmt.Errorf("profile update failed and was rolled back: %w", err)
		}

		fmt.Println("Profile updated.")
		printProfile(rec)
		return nil
	},
}

var profileRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refetch the profile from the store, bypassing the cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		manager.Start(ctx)

		snap := waitForGate(ctx, 10*time.Second, func(g authsync.GateSnapshot) bool {
			return g.State != authsync.StateUnknown
		})
		if snap.State == authsync.StateSignedOut {
			return fmt.Errorf("not signed in; run 'aromactl login' first")
		}

		manager.RefreshProfile(ctx)
		prof := waitForProfile(ctx, 10*time.Second)
		if prof.Err != nil {
			return fmt.Errorf("profile refresh failed: %w", prof.Err)
		}
		if prof.Record == nil {
			return fmt.Errorf("profile refresh did not resolve in time")
		}
		printProfile(prof.Record)
		return nil
	},
}

func printProfile(rec *domain.ProfileRecord) {
	fmt.Printf("Identity:  %s\n", rec.Identity)
	fmt.Printf("Name:      %s\n", rec.DisplayName)
	if rec.Bio != "" {
		fmt.Printf("Bio:       %s\n", rec.Bio)
	}
	if rec.AvatarURL != "" {
		fmt.Printf("Avatar:    %s\n", rec.AvatarURL)
	}
	if len(rec.Interests) > 0 {
		fmt.Printf("Interests: %s\n", strings.Join(rec.Interests, ", "))
	}
	fmt.Printf("Notify:    digest=%t mentions=%t news=%t\n",
		rec.NotifyPrefs.EmailDigest, rec.NotifyPrefs.ChatMentions, rec.NotifyPrefs.ProductNews)
	if !rec.UpdatedAt.IsZero() {
		fmt.Printf("Updated:   %s\n", rec.UpdatedAt.Format(time.RFC3339))
	}
}

func init() {
	profileSetCmd.Flags().StringVar(&setDisplayName, "display-name", "", "display name shown in chat")
	profileSetCmd.Flags().StringVar(&setBio, "bio", "", "short bio")
	profileSetCmd.Flags().StringVar(&setAvatarURL, "avatar-url", "", "avatar image URL")
	profileSetCmd.Flags().StringSliceVar(&setInterests, "interests", nil, "comma-separated interests")

	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileSetCmd)
	profileCmd.AddCommand(profileRefreshCmd)
	rootCmd.AddCommand(profileCmd)
}
