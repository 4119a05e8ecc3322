package medlink

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Conversation key
// ============================================================================

// ConversationKey derives the canonical key for a participant pair. The pair
// is sorted lexicographically before joining, so both participants compute
// the same key regardless of who initiated the conversation. Message lists
// are only ever addressed by this key, never by a directional pair.
func ConversationKey(a, b string) string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return a + "_" + b
}

// ============================================================================
// ChatStore
// ============================================================================

// ChatStoreOptions configures a ChatStore.
type ChatStoreOptions struct {
	// SelfID is the authenticated session identity. Required.
	SelfID string
	// PollInterval is the conversation summary refresh cadence.
	// Defaults to 30s.
	PollInterval time.Duration
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// Clock is overridable for tests. Defaults to time.Now.
	Clock func() time.Time
}

// ChatStore is the single authoritative cache for per-conversation message
// lists, the presence set, and the conversation summary list. One instance
// is constructed per authenticated session and passed to consumers; it is
// torn down with Clear on logout.
//
// All mutations replace slices rather than editing them in place, so
// readers holding a previously returned slice never observe a concurrent
// write.
type ChatStore struct {
	client *Client
	rt     *RealtimeClient
	selfID string
	logger *slog.Logger
	clock  func() time.Time

	mu        sync.RWMutex
	messages  map[string][]Message
	online    map[string]struct{}
	summaries []ConversationSummary
	selected  *SelectedConversation

	pollInterval time.Duration
	stopCh       chan struct{}
	stopOnce     sync.Once
}

// NewChatStore creates a session store bound to the REST client and the
// realtime connection. rt may be nil when realtime delivery is not needed
// (e.g. history-only views or tests).
func NewChatStore(client *Client, rt *RealtimeClient, opts ChatStoreOptions) *ChatStore {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 30 * time.Second
	}
	return &ChatStore{
		client:       client,
		rt:           rt,
		selfID:       opts.SelfID,
		logger:       opts.Logger,
		clock:        opts.Clock,
		messages:     make(map[string][]Message),
		online:       make(map[string]struct{}),
		pollInterval: opts.PollInterval,
		stopCh:       make(chan struct{}),
	}
}

// SelfID returns the session identity the store was constructed with.
func (s *ChatStore) SelfID() string { return s.selfID }

// Bind wires the realtime connection's events into store mutations:
// new_message appends, message_sent reconciles, user_status_changed
// mutates the presence set, and a transport disconnect clears it.
func (s *ChatStore) Bind() {
	if s.rt == nil {
		return
	}
	s.rt.OnMessageNew(s.AppendMessage)
	s.rt.OnMessageSent(s.Reconcile)
	s.rt.OnStatusChanged(s.applyStatus)
	s.rt.OnDisconnected(func(string) { s.clearPresence() })
}

// ============================================================================
// Message cache
// ============================================================================

// SetMessages replaces the full message list for a conversation key, used
// after a history fetch. The history endpoint returns chronological order
// and the store does not re-sort.
func (s *ChatStore) SetMessages(key string, msgs []Message) {
	list := append([]Message(nil), msgs...)
	s.mu.Lock()
	s.messages[key] = list
	s.mu.Unlock()
}

// Messages returns a copy of the message list for a conversation key.
func (s *ChatStore) Messages(key string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Message(nil), s.messages[key]...)
}

// AppendMessage computes the conversation key from the message's
// participant pair and appends, creating the list on demand. This is the
// only path by which messages that did not originate from this client
// enter the cache.
func (s *ChatStore) AppendMessage(m Message) {
	key := ConversationKey(m.SenderID, m.RecipientID)
	s.mu.Lock()
	s.messages[key] = append(append([]Message(nil), s.messages[key]...), m)
	s.mu.Unlock()
}

// SendMessage optimistically appends a provisional record and emits the
// send intent over the transport. It returns the provisional message; the
// eventual message_sent confirmation upgrades it in place via Reconcile.
//
// The provisional record carries a client-generated TempID. Servers that do
// not echo the TempID in confirmations are reconciled by recency, which is
// only exact while at most one send is outstanding across the session.
func (s *ChatStore) SendMessage(ctx context.Context, recipientID, content string, replyTo *string) (Message, error) {
	if strings.TrimSpace(content) == "" {
		return Message{}, fmt.Errorf("empty message content")
	}
	if s.rt == nil || !s.rt.Connected() {
		s.logger.Error("send rejected: realtime connection not open", "recipient", recipientID)
		return Message{}, fmt.Errorf("not connected")
	}

	m := Message{
		Content:     content,
		SenderID:    s.selfID,
		RecipientID: recipientID,
		Timestamp:   s.clock().UTC().Format(time.RFC3339Nano),
		ReplyTo:     replyTo,
		TempID:      uuid.NewString(),
		Sending:     true,
	}
	s.AppendMessage(m)

	if err := s.rt.SendMessage(ctx, SendIntent{
		RecipientID: recipientID,
		Content:     content,
		ReplyTo:     replyTo,
		TempID:      m.TempID,
	}); err != nil {
		// Best-effort delivery: the provisional record stays Sending=true,
		// matching the confirmation-never-arrived case.
		s.logger.Error("send intent failed", "recipient", recipientID, "error", err)
		return m, nil
	}
	return m, nil
}

// Reconcile matches a delivery confirmation to an outstanding provisional
// message and upgrades it to confirmed state: server ID and timestamp set,
// Sending and TempID cleared. A confirmation with no matching provisional
// message is silently a no-op.
func (s *ChatStore) Reconcile(p MessageSentPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, idx := s.locateProvisional(p.TempID)
	if key == "" {
		s.logger.Debug("confirmation with no outstanding provisional message", "messageId", p.MessageID)
		return
	}

	list := append([]Message(nil), s.messages[key]...)
	m := list[idx]
	m.ID = p.MessageID
	m.Timestamp = p.Timestamp
	m.Sending = false
	m.TempID = ""
	list[idx] = m
	s.messages[key] = list
}

// locateProvisional finds the provisional message a confirmation refers to.
// Exact TempID match wins when the server echoes it; otherwise the most
// recent provisional message across all conversations is taken, each list
// scanned from the end. Callers must hold s.mu.
func (s *ChatStore) locateProvisional(tempID string) (string, int) {
	if tempID != "" {
		for key, list := range s.messages {
			for i := len(list) - 1; i >= 0; i-- {
				if list[i].TempID == tempID && list[i].Provisional() {
					return key, i
				}
			}
		}
		return "", -1
	}

	bestKey, bestIdx, bestTS := "", -1, ""
	for key, list := range s.messages {
		for i := len(list) - 1; i >= 0; i-- {
			if list[i].Provisional() {
				if list[i].Timestamp >= bestTS {
					bestKey, bestIdx, bestTS = key, i, list[i].Timestamp
				}
				break
			}
		}
	}
	return bestKey, bestIdx
}

// FetchMessages retrieves a page of history for the conversation with
// otherID and replaces the cached list. A fetch failure leaves the prior
// list untouched.
func (s *ChatStore) FetchMessages(ctx context.Context, otherID string, opts *PaginationOptions) error {
	msgs, err := s.client.Messages().History(ctx, s.selfID, otherID, opts)
	if err != nil {
		s.logger.Error("message history fetch failed", "other", otherID, "error", err)
		return err
	}
	s.SetMessages(ConversationKey(s.selfID, otherID), msgs)
	return nil
}

// ============================================================================
// Conversation summaries
// ============================================================================

// FetchConversations replaces the in-memory summary list wholesale. A fetch
// failure is logged and the previous summaries are retained.
func (s *ChatStore) FetchConversations(ctx context.Context) error {
	summaries, err := s.client.Conversations().List(ctx, s.selfID)
	if err != nil {
		s.logger.Error("conversation summary fetch failed", "error", err)
		return err
	}
	s.mu.Lock()
	s.summaries = summaries
	s.mu.Unlock()
	return nil
}

// Summaries returns a copy of the cached conversation summary list.
func (s *ChatStore) Summaries() []ConversationSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ConversationSummary(nil), s.summaries...)
}

// ============================================================================
// Presence
// ============================================================================

func (s *ChatStore) applyStatus(p StatusChangedPayload) {
	s.mu.Lock()
	if p.IsOnline {
		s.online[p.UserID] = struct{}{}
	} else {
		delete(s.online, p.UserID)
	}
	s.mu.Unlock()
}

// IsOnline reports whether an identity is currently known to be online.
func (s *ChatStore) IsOnline(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.online[id]
	return ok
}

// OnlineUsers returns the identities currently in the presence set, sorted.
func (s *ChatStore) OnlineUsers() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.online))
	for id := range s.online {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (s *ChatStore) clearPresence() {
	s.mu.Lock()
	s.online = make(map[string]struct{})
	s.mu.Unlock()
}

// ============================================================================
// Selected conversation
// ============================================================================

// Select sets the currently open chat partner.
func (s *ChatStore) Select(sc SelectedConversation) {
	s.mu.Lock()
	sel := sc
	s.selected = &sel
	s.mu.Unlock()
}

// Selected returns the currently open chat partner, or nil.
func (s *ChatStore) Selected() *SelectedConversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selected == nil {
		return nil
	}
	sel := *s.selected
	return &sel
}

// ============================================================================
// Teardown
// ============================================================================

// Clear wipes the message cache, presence set, summaries, and selection.
// Called on logout/disconnect; the store is not reusable across sessions.
func (s *ChatStore) Clear() {
	s.mu.Lock()
	s.messages = make(map[string][]Message)
	s.online = make(map[string]struct{})
	s.summaries = nil
	s.selected = nil
	s.mu.Unlock()
}

// Close stops the background summary poller, if started.
func (s *ChatStore) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}
