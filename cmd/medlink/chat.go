package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	medlink "github.com/medlink-network/medlink-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat [user-id]",
	Short: "Interactive realtime chat session",
	Args:  cobra.MaximumNArgs(1),
	Long: `Open a realtime chat session. Commands inside the session:

  /list             list conversations, most recent first
  /search <query>   search people and institutions
  /open <user-id>   open the conversation with a user
  /who              show who is online
  /quit             leave the session

Anything else is sent as a message to the open conversation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, s := getClient()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rt := client.Realtime().Connect(&medlink.RealtimeConfig{
			Token:         client.Token(),
			AutoReconnect: true,
		})
		store := medlink.NewChatStore(client, rt, medlink.ChatStoreOptions{SelfID: s.UserID})
		store.Bind()
		defer store.Close()

		searcher := medlink.NewSearcher(client, store, medlink.SearcherOptions{})
		defer searcher.Close()
		searcher.OnResults(func(query string, results []medlink.SearchResult) {
			if len(results) == 0 {
				fmt.Printf("\rNo results for %q.\n> ", query)
				return
			}
			fmt.Printf("\rResults for %q:\n", query)
			for _, r := range results {
				fmt.Printf("  [%s] %s (%s)\n", r.Kind, r.Name, r.ID)
			}
			fmt.Print("> ")
		})

		rt.OnMessageNew(func(m medlink.Message) {
			if m.SenderID == s.UserID {
				return
			}
			fmt.Printf("\r[%s] %s: %s\n> ", m.Timestamp, m.SenderID, m.Content)
		})
		rt.OnStatusChanged(func(p medlink.StatusChangedPayload) {
			state := "offline"
			if p.IsOnline {
				state = "online"
			}
			fmt.Printf("\r-- %s is now %s\n> ", p.UserID, state)
		})
		rt.OnDisconnected(func(reason string) {
			fmt.Printf("\r-- disconnected: %s\n> ", reason)
		})
		rt.OnReconnecting(func(attempt int, delay time.Duration) {
			fmt.Printf("\r-- reconnecting (attempt %d, in %s)\n> ", attempt, delay)
		})

		dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		err := rt.Dial(dialCtx, s.UserID)
		cancel()
		if err != nil {
			return fmt.Errorf("realtime connect failed: %w", err)
		}
		defer rt.Disconnect()

		go store.StartPolling(ctx)

		fmt.Printf("Connected as %s. Type /open <user-id> to start, /quit to leave.\n", s.UserID)
		if len(args) == 1 {
			runChatCommand(ctx, "/open "+args[0], store, searcher)
		}

		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				fmt.Print("> ")
				continue
			}
			if strings.HasPrefix(line, "/") {
				if done := runChatCommand(ctx, line, store, searcher); done {
					return nil
				}
				fmt.Print("> ")
				continue
			}

			sel := store.Selected()
			if sel == nil {
				fmt.Println("No open conversation. Use /open <user-id> first.")
				fmt.Print("> ")
				continue
			}
			if _, err := store.SendMessage(ctx, sel.PartnerID, line, nil); err != nil {
				fmt.Printf("send failed: %v\n", err)
			}
			fmt.Print("> ")
		}
		return scanner.Err()
	},
}

// runChatCommand handles a /-prefixed session command. Returns true when the
// session should end.
func runChatCommand(ctx context.Context, line string, store *medlink.ChatStore, searcher *medlink.Searcher) bool {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit":
		return true

	case "/list":
		rows := store.Rows(ctx)
		if len(rows) == 0 {
			fmt.Println("No conversations found.")
			return false
		}
		for _, row := range rows {
			marker := " "
			if row.Unread {
				marker = "*"
			}
			fmt.Printf("%s [%s] %s (%s): %s\n", marker, row.Label, row.PartnerName, row.PartnerID, row.LastMessage)
		}

	case "/search":
		if arg == "" {
			fmt.Println("Usage: /search <query>")
			return false
		}
		searcher.Query(ctx, arg)

	case "/open":
		if arg == "" {
			fmt.Println("Usage: /open <user-id>")
			return false
		}
		store.Select(medlink.SelectedConversation{
			PartnerID: arg,
			Name:      arg,
			Online:    store.IsOnline(arg),
		})
		fetchCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		err := store.FetchMessages(fetchCtx, arg, &medlink.PaginationOptions{Limit: 50})
		cancel()
		if err != nil {
			fmt.Printf("history fetch failed: %v\n", err)
			return false
		}
		key := medlink.ConversationKey(store.SelfID(), arg)
		for _, m := range store.Messages(key) {
			fmt.Printf("[%s] %s: %s\n", m.Timestamp, m.SenderID, m.Content)
		}
		fmt.Printf("Opened conversation with %s.\n", arg)

	case "/who":
		online := store.OnlineUsers()
		if len(online) == 0 {
			fmt.Println("Nobody is known to be online.")
			return false
		}
		for _, id := range online {
			fmt.Println(id)
		}

	default:
		fmt.Printf("Unknown command %s\n", cmd)
	}
	return false
}
