package medlink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func searchTestServer(t *testing.T, calls *int32, queries *atomic.Value) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		switch r.URL.Path {
		case "/api/search/users":
			atomic.AddInt32(calls, 1)
			if queries != nil {
				queries.Store(q)
			}
			data, _ := json.Marshal([]Profile{{ID: "u-sara", Name: "Dr. Sara Novak", Verified: true}})
			json.NewEncoder(w).Encode(Result{OK: true, Data: data})
		case "/api/search/institutions":
			atomic.AddInt32(calls, 1)
			data, _ := json.Marshal([]Profile{{ID: "h-sarajevo", Name: "Sarajevo General Hospital"}})
			json.NewEncoder(w).Encode(Result{OK: true, Data: data})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newTestSearcher(t *testing.T, baseURL string) (*Searcher, *ChatStore) {
	t.Helper()
	client := NewClient("tok", WithBaseURL(baseURL), WithLogger(testLogger()))
	store := NewChatStore(client, nil, ChatStoreOptions{SelfID: "u1", Logger: testLogger()})
	sr := NewSearcher(client, store, SearcherOptions{
		Debounce: 10 * time.Millisecond,
		Logger:   testLogger(),
	})
	return sr, store
}

func waitForResults(t *testing.T, ch <-chan []SearchResult) []SearchResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for search results")
		return nil
	}
}

func TestSearchMergesPeopleAndInstitutions(t *testing.T) {
	var calls int32
	srv := searchTestServer(t, &calls, nil)
	defer srv.Close()

	sr, _ := newTestSearcher(t, srv.URL)
	defer sr.Close()

	got := make(chan []SearchResult, 1)
	sr.OnResults(func(query string, results []SearchResult) {
		got <- results
	})

	sr.Query(context.Background(), "sar")
	results := waitForResults(t, got)

	if len(results) != 2 {
		t.Fatalf("expected merged person+institution results, got %d", len(results))
	}
	if results[0].Kind != "person" || results[1].Kind != "institution" {
		t.Errorf("unexpected result kinds: %s, %s", results[0].Kind, results[1].Kind)
	}
	if sr.Results()[0].ID != "u-sara" {
		t.Errorf("results not cached on searcher")
	}
}

func TestShortQueryTriggersNoNetworkCall(t *testing.T) {
	var calls int32
	srv := searchTestServer(t, &calls, nil)
	defer srv.Close()

	sr, _ := newTestSearcher(t, srv.URL)
	defer sr.Close()

	sr.Query(context.Background(), "s")
	time.Sleep(50 * time.Millisecond) // well past the debounce window

	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Errorf("1-char query must not hit the network, saw %d calls", n)
	}
	if len(sr.Results()) != 0 {
		t.Error("1-char query must clear results")
	}
}

func TestDebounceDropsSupersededQueries(t *testing.T) {
	var calls int32
	var lastQuery atomic.Value
	srv := searchTestServer(t, &calls, &lastQuery)
	defer srv.Close()

	sr, _ := newTestSearcher(t, srv.URL)
	defer sr.Close()

	got := make(chan []SearchResult, 4)
	sr.OnResults(func(query string, results []SearchResult) {
		got <- results
	})

	// Rapid keystrokes: only the last query should fire.
	sr.Query(context.Background(), "sa")
	sr.Query(context.Background(), "sar")
	sr.Query(context.Background(), "sarah")
	waitForResults(t, got)

	if q, _ := lastQuery.Load().(string); q != "sarah" {
		t.Errorf("expected only the final query to fire, person index saw %q", q)
	}
	// One query, two indexes.
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("expected 2 index calls for one settled query, saw %d", n)
	}
}

func TestShortQueryCancelsPending(t *testing.T) {
	var calls int32
	srv := searchTestServer(t, &calls, nil)
	defer srv.Close()

	sr, _ := newTestSearcher(t, srv.URL)
	defer sr.Close()

	sr.Query(context.Background(), "sar")
	sr.Query(context.Background(), "s") // backspaced below the minimum
	time.Sleep(50 * time.Millisecond)

	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Errorf("pending query should be cancelled by a short query, saw %d calls", n)
	}
}

func TestSelectResultMaterializesConversation(t *testing.T) {
	srv := searchTestServer(t, new(int32), nil)
	defer srv.Close()

	sr, store := newTestSearcher(t, srv.URL)
	defer sr.Close()

	store.applyStatus(StatusChangedPayload{UserID: "u-sara", IsOnline: true})

	sr.SelectResult(SearchResult{
		Profile: Profile{ID: "u-sara", Name: "Dr. Sara Novak", Avatar: "s.png", Verified: true},
		Kind:    "person",
	})

	sel := store.Selected()
	if sel == nil {
		t.Fatal("selection not set")
	}
	if sel.PartnerID != "u-sara" || sel.Name != "Dr. Sara Novak" || !sel.Verified {
		t.Errorf("selection fields wrong: %+v", sel)
	}
	if !sel.Online {
		t.Error("selection should reflect current presence")
	}
}
