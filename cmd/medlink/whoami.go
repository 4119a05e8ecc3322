package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(whoamiCmd)
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the authenticated profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, s := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		profile, err := client.Users().GetByID(ctx, s.UserID)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("ID:       %s\n", profile.ID)
		fmt.Printf("Name:     %s\n", profile.Name)
		if profile.Role != "" {
			fmt.Printf("Role:     %s\n", profile.Role)
		}
		fmt.Printf("Verified: %v\n", profile.Verified)
		return nil
	},
}
