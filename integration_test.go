//go:build integration

package medlink_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	medlink "github.com/medlink-network/medlink-go"
)

// helpers ---------------------------------------------------------------

func sessionToken(t *testing.T) string {
	t.Helper()
	tok := os.Getenv("MEDLINK_TOKEN_TEST")
	if tok == "" {
		t.Fatal("MEDLINK_TOKEN_TEST environment variable is required")
	}
	return tok
}

func selfID(t *testing.T) string {
	t.Helper()
	id := os.Getenv("MEDLINK_USER_ID_TEST")
	if id == "" {
		t.Fatal("MEDLINK_USER_ID_TEST environment variable is required")
	}
	return id
}

func testBaseURL() string {
	if v := os.Getenv("MEDLINK_BASE_URL_TEST"); v != "" {
		return v
	}
	return "" // empty means use default (production)
}

func newClient(t *testing.T) *medlink.Client {
	t.Helper()
	if base := testBaseURL(); base != "" {
		return medlink.NewClient(sessionToken(t), medlink.WithBaseURL(base))
	}
	return medlink.NewClient(sessionToken(t))
}

// =======================================================================
// Group 1: REST collaborators
// =======================================================================

func TestIntegration_Users_GetByID(t *testing.T) {
	client := newClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	me := selfID(t)
	profile, err := client.Users().GetByID(ctx, me)
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if profile.ID != me {
		t.Errorf("expected id=%s, got %s", me, profile.ID)
	}
	t.Logf("GetByID — id=%s name=%s verified=%v", profile.ID, profile.Name, profile.Verified)
}

func TestIntegration_Search_BothIndexes(t *testing.T) {
	client := newClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	people, err := client.Users().SearchPeople(ctx, "dr")
	if err != nil {
		t.Fatalf("SearchPeople returned error: %v", err)
	}
	t.Logf("SearchPeople — count=%d", len(people))

	insts, err := client.Users().SearchInstitutions(ctx, "hospital")
	if err != nil {
		t.Fatalf("SearchInstitutions returned error: %v", err)
	}
	t.Logf("SearchInstitutions — count=%d", len(insts))
}

func TestIntegration_Conversations_List(t *testing.T) {
	client := newClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	summaries, err := client.Conversations().List(ctx, selfID(t))
	if err != nil {
		t.Fatalf("Conversations.List returned error: %v", err)
	}
	t.Logf("Conversations.List — count=%d", len(summaries))

	for _, s := range summaries {
		if len(s.Participants) != 2 {
			t.Errorf("summary %s has %d participants, expected 2", s.ID, len(s.Participants))
		}
	}
}

func TestIntegration_Messages_History(t *testing.T) {
	client := newClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	me := selfID(t)
	summaries, err := client.Conversations().List(ctx, me)
	if err != nil {
		t.Fatalf("Conversations.List returned error: %v", err)
	}
	if len(summaries) == 0 {
		t.Skip("no conversations to fetch history for")
	}

	other := summaries[0].Participants[0]
	if other == me {
		other = summaries[0].Participants[1]
	}

	msgs, err := client.Messages().History(ctx, me, other, &medlink.PaginationOptions{Limit: 50})
	if err != nil {
		t.Fatalf("Messages.History returned error: %v", err)
	}
	t.Logf("Messages.History — other=%s count=%d", other, len(msgs))
}

// =======================================================================
// Group 2: Realtime lifecycle
// =======================================================================

func TestIntegration_Realtime_FullLifecycle(t *testing.T) {
	client := newClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	me := selfID(t)

	rt := client.Realtime().Connect(&medlink.RealtimeConfig{
		Token:         client.Token(),
		AutoReconnect: false,
	})

	joinedCh := make(chan medlink.JoinedPayload, 1)
	rt.OnJoined(func(p medlink.JoinedPayload) {
		joinedCh <- p
	})

	store := medlink.NewChatStore(client, rt, medlink.ChatStoreOptions{SelfID: me})
	store.Bind()
	defer store.Close()

	// Connect + join announce
	if err := rt.Dial(ctx, me); err != nil {
		t.Fatalf("Dial error: %v", err)
	}
	if !rt.Connected() {
		t.Fatal("expected connected state after dial")
	}

	select {
	case ack := <-joinedCh:
		t.Logf("joined — userId=%s", ack.UserID)
	case <-time.After(10 * time.Second):
		t.Log("joined ack timeout (non-fatal — server may not acknowledge)")
	}

	// Optimistic send against a real counterpart, when one is configured
	if other := os.Getenv("MEDLINK_PEER_ID_TEST"); other != "" {
		m, err := store.SendMessage(ctx, other, fmt.Sprintf("integration ping %d", time.Now().UnixNano()), nil)
		if err != nil {
			t.Fatalf("SendMessage error: %v", err)
		}
		t.Logf("SendMessage — tempId=%s sending=%v", m.TempID, m.Sending)

		key := medlink.ConversationKey(me, other)
		deadline := time.Now().Add(15 * time.Second)
		confirmed := false
		for time.Now().Before(deadline) {
			list := store.Messages(key)
			if len(list) > 0 && !list[len(list)-1].Sending {
				confirmed = true
				break
			}
			time.Sleep(200 * time.Millisecond)
		}
		if confirmed {
			t.Log("send confirmed — provisional upgraded to server record")
		} else {
			t.Log("confirmation timeout (non-fatal — provisional retained)")
		}
	} else {
		t.Log("MEDLINK_PEER_ID_TEST not set, skipping optimistic send")
	}

	// Disconnect
	if err := rt.Disconnect(); err != nil {
		t.Logf("Disconnect error: %v", err)
	}
	if rt.Connected() {
		t.Error("expected disconnected state after Disconnect")
	}
	t.Log("Disconnect — ok")
}
