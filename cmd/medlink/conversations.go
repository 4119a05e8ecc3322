package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	medlink "github.com/medlink-network/medlink-go"
	"github.com/spf13/cobra"
)

var conversationsJSON bool

func init() {
	conversationsCmd.Flags().BoolVar(&conversationsJSON, "json", false, "Output raw JSON")
	rootCmd.AddCommand(conversationsCmd)
}

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List conversations, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, s := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		store := medlink.NewChatStore(client, nil, medlink.ChatStoreOptions{SelfID: s.UserID})
		if err := store.FetchConversations(ctx); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		rows := store.Rows(ctx)
		if conversationsJSON {
			data, err := json.MarshalIndent(rows, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		if len(rows) == 0 {
			fmt.Println("No conversations found.")
			return nil
		}
		for _, row := range rows {
			marker := " "
			if row.Unread {
				marker = "*"
			}
			name := row.PartnerName
			if row.Verified {
				name += " ✓"
			}
			fmt.Printf("%s [%s] %s: %s\n", marker, row.Label, name, row.LastMessage)
		}
		return nil
	},
}
