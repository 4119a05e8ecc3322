package medlink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// fixedClock returns a deterministic "now" for label bucketing tests:
// Wednesday, 2024-06-12 15:00 UTC.
func fixedClock() time.Time {
	return time.Date(2024, 6, 12, 15, 0, 0, 0, time.UTC)
}

func summaryTestServer(t *testing.T, summaries []ConversationSummary, profiles map[string]Profile) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/conversations":
			data, _ := json.Marshal(summaries)
			json.NewEncoder(w).Encode(Result{OK: true, Data: data})
		case strings.HasPrefix(r.URL.Path, "/api/users/"):
			id := strings.TrimPrefix(r.URL.Path, "/api/users/")
			p, ok := profiles[id]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				json.NewEncoder(w).Encode(Result{OK: false, Error: &APIError{Code: "NOT_FOUND", Message: "no such user"}})
				return
			}
			data, _ := json.Marshal(p)
			json.NewEncoder(w).Encode(Result{OK: true, Data: data})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestRowsSortedByLastActivityDescending(t *testing.T) {
	now := fixedClock()
	yesterday := now.Add(-24 * time.Hour).Format(time.RFC3339)
	today := now.Add(-2 * time.Hour).Format(time.RFC3339)

	srv := summaryTestServer(t, []ConversationSummary{
		{ID: "c-old", Participants: []string{"u1", "u2"}, LastMessage: "yesterday msg", LastMessageAt: yesterday, LastSender: "u2"},
		{ID: "c-new", Participants: []string{"u1", "u3"}, LastMessage: "today msg", LastMessageAt: today, LastSender: "u1"},
	}, map[string]Profile{
		"u2": {ID: "u2", Name: "Dr. Patel", Verified: true},
		"u3": {ID: "u3", Name: "St. Mary Hospital"},
	})
	defer srv.Close()

	client := NewClient("tok", WithBaseURL(srv.URL), WithLogger(testLogger()))
	store := NewChatStore(client, nil, ChatStoreOptions{SelfID: "u1", Logger: testLogger(), Clock: fixedClock})

	if err := store.FetchConversations(context.Background()); err != nil {
		t.Fatalf("fetch conversations: %v", err)
	}
	rows := store.Rows(context.Background())
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].ID != "c-new" || rows[1].ID != "c-old" {
		t.Errorf("rows not sorted by last activity desc: %s, %s", rows[0].ID, rows[1].ID)
	}
}

func TestRowsResolveCounterpart(t *testing.T) {
	now := fixedClock()
	srv := summaryTestServer(t, []ConversationSummary{
		{ID: "c1", Participants: []string{"u2", "u1"}, LastMessage: "hi", LastMessageAt: now.Format(time.RFC3339), LastSender: "u2"},
	}, map[string]Profile{
		"u2": {ID: "u2", Name: "Dr. Patel", Avatar: "a.png", Verified: true},
	})
	defer srv.Close()

	client := NewClient("tok", WithBaseURL(srv.URL), WithLogger(testLogger()))
	store := NewChatStore(client, nil, ChatStoreOptions{SelfID: "u1", Logger: testLogger(), Clock: fixedClock})
	store.FetchConversations(context.Background())

	rows := store.Rows(context.Background())
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	row := rows[0]
	if row.PartnerID != "u2" {
		t.Errorf("counterpart should be u2 regardless of pair order, got %q", row.PartnerID)
	}
	if row.PartnerName != "Dr. Patel" || !row.Verified || row.Avatar != "a.png" {
		t.Errorf("profile fields not applied: %+v", row)
	}
	if !row.Unread {
		t.Error("last sender is the counterpart, row should be unread")
	}
}

func TestRowsLookupFailureFallsBackToRawID(t *testing.T) {
	now := fixedClock()
	srv := summaryTestServer(t, []ConversationSummary{
		{ID: "c1", Participants: []string{"u1", "gone-user"}, LastMessage: "hi", LastMessageAt: now.Format(time.RFC3339), LastSender: "u1"},
	}, map[string]Profile{})
	defer srv.Close()

	client := NewClient("tok", WithBaseURL(srv.URL), WithLogger(testLogger()))
	store := NewChatStore(client, nil, ChatStoreOptions{SelfID: "u1", Logger: testLogger(), Clock: fixedClock})
	store.FetchConversations(context.Background())

	rows := store.Rows(context.Background())
	if len(rows) != 1 {
		t.Fatalf("lookup failure must not drop the row, got %d rows", len(rows))
	}
	if rows[0].PartnerName != "gone-user" {
		t.Errorf("expected raw id fallback, got %q", rows[0].PartnerName)
	}
	if rows[0].Unread {
		t.Error("self was last sender, row should not be unread")
	}
}

func TestFormatLastActivity(t *testing.T) {
	now := fixedClock() // Wednesday 2024-06-12 15:00 UTC

	t.Run("today shows time of day", func(t *testing.T) {
		ts := now.Add(-3 * time.Hour).Format(time.RFC3339)
		if got := formatLastActivity(now, ts); got != "12:00 PM" {
			t.Errorf("expected 12:00 PM, got %q", got)
		}
	})

	t.Run("within a week shows weekday", func(t *testing.T) {
		ts := now.Add(-2 * 24 * time.Hour).Format(time.RFC3339) // Monday
		if got := formatLastActivity(now, ts); got != "Monday" {
			t.Errorf("expected Monday, got %q", got)
		}
	})

	t.Run("older shows month and day", func(t *testing.T) {
		ts := time.Date(2024, 1, 5, 9, 0, 0, 0, time.UTC).Format(time.RFC3339)
		if got := formatLastActivity(now, ts); got != "Jan 5" {
			t.Errorf("expected Jan 5, got %q", got)
		}
	})

	t.Run("unparseable passes through", func(t *testing.T) {
		if got := formatLastActivity(now, "whenever"); got != "whenever" {
			t.Errorf("expected passthrough, got %q", got)
		}
	})
}

func TestCounterpart(t *testing.T) {
	if got := counterpart([]string{"u1", "u2"}, "u1"); got != "u2" {
		t.Errorf("expected u2, got %q", got)
	}
	if got := counterpart([]string{"u2", "u1"}, "u1"); got != "u2" {
		t.Errorf("expected u2, got %q", got)
	}
	if got := counterpart([]string{"u1"}, "u1"); got != "u1" {
		t.Errorf("malformed record should fall back, got %q", got)
	}
	if got := counterpart(nil, "u1"); got != "" {
		t.Errorf("empty participants should yield empty, got %q", got)
	}
}
