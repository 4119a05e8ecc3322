package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(searchCmd)
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search people and institutions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := args[0]
		client, _ := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		people, err := client.Users().SearchPeople(ctx, query)
		if err != nil {
			return fmt.Errorf("person search failed: %w", err)
		}
		institutions, err := client.Users().SearchInstitutions(ctx, query)
		if err != nil {
			return fmt.Errorf("institution search failed: %w", err)
		}

		results := append(people, institutions...)
		if len(results) == 0 {
			fmt.Println("No results found.")
			return nil
		}
		for _, r := range results {
			name := r.Name
			if r.Verified {
				name += " ✓"
			}
			fmt.Printf("[%s] %s (%s)\n", r.Kind, name, r.ID)
		}
		return nil
	},
}
