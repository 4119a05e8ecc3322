package medlink

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// ============================================================================
// Search-to-start-conversation
// ============================================================================

const (
	// DefaultSearchDebounce is the keystroke settle window before a query
	// fires.
	DefaultSearchDebounce = 300 * time.Millisecond
	// minQueryLength is the minimum number of characters before any
	// network call is made.
	minQueryLength = 2
)

// SearcherOptions configures a Searcher.
type SearcherOptions struct {
	Debounce time.Duration
	Logger   *slog.Logger
}

// Searcher runs a debounced dual search against the person and institution
// indexes and merges the results into a single panel. Only the last
// keystroke's query after the debounce window fires; results from
// superseded queries are dropped.
type Searcher struct {
	client   *Client
	store    *ChatStore
	debounce time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	timer     *time.Timer
	gen       uint64
	results   []SearchResult
	onResults []func(query string, results []SearchResult)
}

// NewSearcher creates a searcher bound to the store whose selection it
// materializes.
func NewSearcher(client *Client, store *ChatStore, opts SearcherOptions) *Searcher {
	if opts.Debounce == 0 {
		opts.Debounce = DefaultSearchDebounce
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Searcher{
		client:   client,
		store:    store,
		debounce: opts.Debounce,
		logger:   opts.Logger,
	}
}

// OnResults registers a handler invoked with each fresh result set.
func (sr *Searcher) OnResults(h func(query string, results []SearchResult)) {
	sr.mu.Lock()
	sr.onResults = append(sr.onResults, h)
	sr.mu.Unlock()
}

// Query feeds a keystroke's worth of input. Queries shorter than two
// characters clear the panel and trigger no network call; anything longer
// is executed after the debounce window, superseding any pending query.
func (sr *Searcher) Query(ctx context.Context, query string) {
	query = strings.TrimSpace(query)

	sr.mu.Lock()
	sr.gen++
	gen := sr.gen
	if sr.timer != nil {
		sr.timer.Stop()
		sr.timer = nil
	}
	if utf8.RuneCountInString(query) < minQueryLength {
		sr.results = nil
		sr.mu.Unlock()
		return
	}
	sr.timer = time.AfterFunc(sr.debounce, func() {
		sr.run(ctx, gen, query)
	})
	sr.mu.Unlock()
}

// Results returns a copy of the current result set.
func (sr *Searcher) Results() []SearchResult {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return append([]SearchResult(nil), sr.results...)
}

// SelectResult materializes the selected conversation from a search result's
// fields. No conversation-creation call is made; the first successful send
// creates the conversation server-side.
func (sr *Searcher) SelectResult(r SearchResult) {
	sr.store.Select(SelectedConversation{
		PartnerID: r.ID,
		Name:      r.Name,
		Avatar:    r.Avatar,
		Verified:  r.Verified,
		Online:    sr.store.IsOnline(r.ID),
	})
}

// Close cancels any pending query.
func (sr *Searcher) Close() {
	sr.mu.Lock()
	if sr.timer != nil {
		sr.timer.Stop()
		sr.timer = nil
	}
	sr.mu.Unlock()
}

func (sr *Searcher) run(ctx context.Context, gen uint64, query string) {
	var merged []SearchResult

	people, err := sr.client.Users().SearchPeople(ctx, query)
	if err != nil {
		sr.logger.Warn("person search failed", "query", query, "error", err)
	} else {
		merged = append(merged, people...)
	}

	institutions, err := sr.client.Users().SearchInstitutions(ctx, query)
	if err != nil {
		sr.logger.Warn("institution search failed", "query", query, "error", err)
	} else {
		merged = append(merged, institutions...)
	}

	sr.mu.Lock()
	if gen != sr.gen {
		// A newer keystroke superseded this query while it was in flight.
		sr.mu.Unlock()
		return
	}
	sr.results = merged
	handlers := append([]func(string, []SearchResult){}, sr.onResults...)
	sr.mu.Unlock()

	for _, h := range handlers {
		h(query, append([]SearchResult(nil), merged...))
	}
}
