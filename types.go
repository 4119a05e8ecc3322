package medlink

import "encoding/json"

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an error reported by the MedLink API.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// Result is the generic API response envelope.
type Result struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// Decode unmarshals the Data field into the provided type.
func (r *Result) Decode(v interface{}) error {
	if r.Data == nil {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// ============================================================================
// Messaging Types
// ============================================================================

// Message is a single chat message.
//
// A message is in exactly one of two states: provisional (TempID set,
// Sending true, no server ID yet) or confirmed (ID set, TempID empty,
// Sending false). A provisional message transitions to confirmed at most
// once, during reconciliation of a delivery confirmation.
type Message struct {
	ID          string  `json:"id,omitempty"`
	Content     string  `json:"content"`
	SenderID    string  `json:"senderId"`
	RecipientID string  `json:"recipientId"`
	Timestamp   string  `json:"timestamp"`
	ReplyTo     *string `json:"replyTo,omitempty"`

	// Transient fields, only meaningful while a send is outstanding.
	TempID  string `json:"tempId,omitempty"`
	Sending bool   `json:"sending,omitempty"`
}

// Provisional reports whether the message is still awaiting server
// confirmation.
func (m *Message) Provisional() bool {
	return m.Sending && m.ID == ""
}

// ConversationSummary is the server-side aggregate for one conversation,
// refreshed in bulk rather than pushed incrementally.
type ConversationSummary struct {
	ID            string   `json:"id"`
	Participants  []string `json:"participants"`
	LastMessage   string   `json:"lastMessage"`
	LastMessageAt string   `json:"lastMessageAt"`
	LastSender    string   `json:"lastSender"`
}

// Profile is the identity-lookup record for a user or institution.
type Profile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar,omitempty"`
	Role     string `json:"role,omitempty"`
	Verified bool   `json:"verified,omitempty"`
}

// SearchResult is one row of a merged people/institution search.
type SearchResult struct {
	Profile
	Kind string `json:"kind"` // "person" or "institution"
}

// SelectedConversation is the ephemeral "currently open chat partner"
// record. It exists only in memory and is set by explicit user action.
type SelectedConversation struct {
	PartnerID string
	Name      string
	Avatar    string
	Verified  bool
	Online    bool
}

// ConversationRow is a display-ready conversation summary: the counterpart
// resolved to a profile, the last-activity timestamp bucketed into a
// contextual label, and an unread approximation.
type ConversationRow struct {
	ID          string
	PartnerID   string
	PartnerName string
	Avatar      string
	Verified    bool
	LastMessage string
	Label       string
	Unread      bool
	Online      bool

	lastMessageAt string
}

// PaginationOptions controls message-history paging.
type PaginationOptions struct {
	Limit  int
	Offset int
}
