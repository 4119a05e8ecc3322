package medlink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Event Payload Types
// ============================================================================

// Outbound event names.
const (
	eventJoin        = "join"
	eventSendMessage = "send_message"
)

// Inbound event names.
const (
	eventNewMessage    = "new_message"
	eventMessageSent   = "message_sent"
	eventStatusChanged = "user_status_changed"
	eventJoined        = "joined"
	eventTyping        = "typing"
	eventError         = "error"
)

// MessageSentPayload is the delivery confirmation for a locally-originated
// message. TempID is echoed back by servers that support exact
// reconciliation; older servers omit it.
type MessageSentPayload struct {
	MessageID string `json:"messageId"`
	TempID    string `json:"tempId,omitempty"`
	Timestamp string `json:"timestamp"`
	Delivered bool   `json:"delivered"`
}

// StatusChangedPayload is sent when a user's online status changes.
type StatusChangedPayload struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

// JoinedPayload acknowledges a join announce. Informational only.
type JoinedPayload struct {
	UserID string `json:"userId"`
}

// TypingPayload is sent when a chat partner starts or stops typing.
type TypingPayload struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// RealtimeErrorPayload is sent when a server-side error occurs.
type RealtimeErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Envelope is the wire format for all realtime events in both directions.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SendIntent is the outbound send_message payload.
type SendIntent struct {
	RecipientID string  `json:"recipientId"`
	Content     string  `json:"content"`
	ReplyTo     *string `json:"replyTo,omitempty"`
	TempID      string  `json:"tempId,omitempty"`
}

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures the realtime connection.
type RealtimeConfig struct {
	Token                string
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
	HTTPClient           *http.Client
	Logger               *slog.Logger
}

func (c *RealtimeConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// RealtimeState represents the connection state.
type RealtimeState string

const (
	StateDisconnected RealtimeState = "disconnected"
	StateConnecting   RealtimeState = "connecting"
	StateConnected    RealtimeState = "connected"
	StateReconnecting RealtimeState = "reconnecting"
)

// ============================================================================
// Event Dispatcher
// ============================================================================

type eventDispatcher struct {
	mu             sync.RWMutex
	onMessageNew   []func(Message)
	onMessageSent  []func(MessageSentPayload)
	onStatus       []func(StatusChangedPayload)
	onJoined       []func(JoinedPayload)
	onTyping       []func(TypingPayload)
	onError        []func(RealtimeErrorPayload)
	onConnected    []func()
	onDisconnected []func(reason string)
	onReconnecting []func(attempt int, delay time.Duration)
}

func newEventDispatcher() *eventDispatcher {
	return &eventDispatcher{}
}

func (d *eventDispatcher) dispatch(env Envelope) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	switch env.Event {
	case eventNewMessage:
		var m Message
		if json.Unmarshal(env.Payload, &m) == nil {
			for _, h := range d.onMessageNew {
				h(m)
			}
		}
	case eventMessageSent:
		var p MessageSentPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onMessageSent {
				h(p)
			}
		}
	case eventStatusChanged:
		var p StatusChangedPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onStatus {
				h(p)
			}
		}
	case eventJoined:
		var p JoinedPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onJoined {
				h(p)
			}
		}
	case eventTyping:
		var p TypingPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onTyping {
				h(p)
			}
		}
	case eventError:
		var p RealtimeErrorPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onError {
				h(p)
			}
		}
	}
}

func (d *eventDispatcher) emitConnected() {
	d.mu.RLock()
	handlers := append([]func(){}, d.onConnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h()
	}
}

func (d *eventDispatcher) emitDisconnected(reason string) {
	d.mu.RLock()
	handlers := append([]func(string){}, d.onDisconnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(reason)
	}
}

func (d *eventDispatcher) emitReconnecting(attempt int, delay time.Duration) {
	d.mu.RLock()
	handlers := append([]func(int, time.Duration){}, d.onReconnecting...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(attempt, delay)
	}
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *RealtimeConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// ============================================================================
// RealtimeClient
// ============================================================================

// RealtimeClient owns the single persistent bidirectional connection for an
// authenticated session. It translates low-level transport events into
// handler calls and carries the session credential on two redundant
// channels (query parameter and Authorization header) so the handshake
// survives differing transport negotiation paths.
type RealtimeClient struct {
	baseURL          string
	config           *RealtimeConfig
	conn             *websocket.Conn
	mu               sync.Mutex
	state            RealtimeState
	identity         string
	intentionalClose bool
	dispatcher       *eventDispatcher
	recon            *reconnector
	cancelFn         context.CancelFunc
	logger           *slog.Logger
}

// OnMessageNew registers a handler for inbound messages.
func (rt *RealtimeClient) OnMessageNew(h func(Message)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onMessageNew = append(rt.dispatcher.onMessageNew, h)
	rt.dispatcher.mu.Unlock()
}

// OnMessageSent registers a handler for delivery confirmations.
func (rt *RealtimeClient) OnMessageSent(h func(MessageSentPayload)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onMessageSent = append(rt.dispatcher.onMessageSent, h)
	rt.dispatcher.mu.Unlock()
}

// OnStatusChanged registers a handler for presence changes.
func (rt *RealtimeClient) OnStatusChanged(h func(StatusChangedPayload)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onStatus = append(rt.dispatcher.onStatus, h)
	rt.dispatcher.mu.Unlock()
}

// OnJoined registers a handler for join acknowledgments.
func (rt *RealtimeClient) OnJoined(h func(JoinedPayload)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onJoined = append(rt.dispatcher.onJoined, h)
	rt.dispatcher.mu.Unlock()
}

// OnTyping registers a handler for typing indicators.
func (rt *RealtimeClient) OnTyping(h func(TypingPayload)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onTyping = append(rt.dispatcher.onTyping, h)
	rt.dispatcher.mu.Unlock()
}

// OnError registers a handler for server-reported errors.
func (rt *RealtimeClient) OnError(h func(RealtimeErrorPayload)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onError = append(rt.dispatcher.onError, h)
	rt.dispatcher.mu.Unlock()
}

// OnConnected registers a handler for the connected meta-event.
func (rt *RealtimeClient) OnConnected(h func()) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onConnected = append(rt.dispatcher.onConnected, h)
	rt.dispatcher.mu.Unlock()
}

// OnDisconnected registers a handler for the disconnected meta-event.
func (rt *RealtimeClient) OnDisconnected(h func(reason string)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onDisconnected = append(rt.dispatcher.onDisconnected, h)
	rt.dispatcher.mu.Unlock()
}

// OnReconnecting registers a handler for the reconnecting meta-event.
func (rt *RealtimeClient) OnReconnecting(h func(attempt int, delay time.Duration)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onReconnecting = append(rt.dispatcher.onReconnecting, h)
	rt.dispatcher.mu.Unlock()
}

// State returns the current connection state.
func (rt *RealtimeClient) State() RealtimeState {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.state
}

// Connected reports whether the transport is currently usable. The UI
// consumes this as its connected/disconnected indicator.
func (rt *RealtimeClient) Connected() bool {
	return rt.State() == StateConnected
}

// Dial establishes the websocket connection for identity and announces
// presence. It is a no-op when a connection is already open or opening.
func (rt *RealtimeClient) Dial(ctx context.Context, identity string) error {
	rt.mu.Lock()
	if rt.state == StateConnected || rt.state == StateConnecting {
		rt.mu.Unlock()
		return nil
	}
	rt.state = StateConnecting
	rt.identity = identity
	rt.intentionalClose = false
	rt.mu.Unlock()

	wsURL := strings.Replace(rt.baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/ws?token=" + rt.config.Token

	header := http.Header{}
	header.Set("Authorization", "Bearer "+rt.config.Token)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPClient: rt.config.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		rt.mu.Lock()
		rt.state = StateDisconnected
		rt.mu.Unlock()
		return fmt.Errorf("websocket dial: %w", err)
	}

	rt.mu.Lock()
	rt.conn = conn
	rt.state = StateConnected
	rt.mu.Unlock()
	rt.recon.markConnected()

	// Announce presence before anything else so the server marks this
	// identity online and starts routing its messages here.
	if err := rt.send(ctx, eventJoin, map[string]string{"userId": identity}); err != nil {
		conn.Close(websocket.StatusInternalError, "join failed")
		rt.mu.Lock()
		rt.state = StateDisconnected
		rt.conn = nil
		rt.mu.Unlock()
		return fmt.Errorf("join announce: %w", err)
	}

	rt.dispatcher.emitConnected()

	connCtx, cancel := context.WithCancel(context.Background())
	rt.mu.Lock()
	rt.cancelFn = cancel
	rt.mu.Unlock()

	go rt.readLoop(connCtx)
	go rt.heartbeatLoop(connCtx)

	return nil
}

// Disconnect gracefully closes the connection. Idempotent.
func (rt *RealtimeClient) Disconnect() error {
	rt.mu.Lock()
	rt.intentionalClose = true
	if rt.cancelFn != nil {
		rt.cancelFn()
		rt.cancelFn = nil
	}
	conn := rt.conn
	rt.conn = nil
	alreadyClosed := rt.state == StateDisconnected
	rt.state = StateDisconnected
	rt.mu.Unlock()

	if conn != nil {
		err := conn.Close(websocket.StatusNormalClosure, "client disconnect")
		rt.dispatcher.emitDisconnected("client disconnect")
		return err
	}
	if !alreadyClosed {
		rt.dispatcher.emitDisconnected("client disconnect")
	}
	return nil
}

// SendMessage emits a send intent over the transport. It returns
// immediately after the frame is written; delivery confirmation arrives
// later as a message_sent event.
func (rt *RealtimeClient) SendMessage(ctx context.Context, intent SendIntent) error {
	return rt.send(ctx, eventSendMessage, intent)
}

func (rt *RealtimeClient) send(ctx context.Context, event string, payload interface{}) error {
	rt.mu.Lock()
	conn := rt.conn
	rt.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(Envelope{Event: event, Payload: raw})
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (rt *RealtimeClient) readLoop(ctx context.Context) {
	for {
		rt.mu.Lock()
		conn := rt.conn
		rt.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			rt.mu.Lock()
			intentional := rt.intentionalClose
			rt.mu.Unlock()
			if intentional {
				return
			}

			rt.mu.Lock()
			rt.state = StateDisconnected
			rt.conn = nil
			rt.mu.Unlock()

			rt.logger.Warn("realtime connection lost", "error", err)
			rt.dispatcher.emitDisconnected(err.Error())

			if rt.config.AutoReconnect && rt.recon.shouldReconnect() {
				rt.scheduleReconnect()
			}
			return
		}

		var env Envelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		if env.Event == eventError {
			rt.logger.Error("realtime server error", "payload", string(env.Payload))
		}
		rt.dispatcher.dispatch(env)
	}
}

func (rt *RealtimeClient) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(rt.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rt.mu.Lock()
			conn := rt.conn
			connected := rt.state == StateConnected
			rt.mu.Unlock()
			if !connected || conn == nil {
				return
			}

			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

func (rt *RealtimeClient) scheduleReconnect() {
	delay := rt.recon.nextDelay()
	rt.mu.Lock()
	rt.state = StateReconnecting
	identity := rt.identity
	rt.mu.Unlock()

	rt.dispatcher.emitReconnecting(rt.recon.attempt, delay)

	time.Sleep(delay)

	rt.mu.Lock()
	if rt.intentionalClose {
		rt.mu.Unlock()
		return
	}
	rt.state = StateDisconnected
	rt.mu.Unlock()

	if err := rt.Dial(context.Background(), identity); err != nil {
		if rt.config.AutoReconnect && rt.recon.shouldReconnect() {
			rt.scheduleReconnect()
		} else {
			rt.mu.Lock()
			rt.state = StateDisconnected
			rt.mu.Unlock()
		}
	}
}

// ============================================================================
// RealtimeFactory
// ============================================================================

// RealtimeFactory builds realtime clients bound to the API base URL.
type RealtimeFactory struct{ client *Client }

// WSUrl returns the websocket URL for the given token.
func (r *RealtimeFactory) WSUrl(token string) string {
	base := strings.Replace(r.client.baseURL, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	if token != "" {
		return base + "/ws?token=" + token
	}
	return base + "/ws"
}

// Connect creates a realtime client. Call Dial to establish the connection.
func (r *RealtimeFactory) Connect(config *RealtimeConfig) *RealtimeClient {
	cfg := *config
	if cfg.Token == "" {
		cfg.Token = r.client.token
	}
	if cfg.Logger == nil {
		cfg.Logger = r.client.logger
	}
	cfg.defaults()
	return &RealtimeClient{
		baseURL:    r.client.baseURL,
		config:     &cfg,
		state:      StateDisconnected,
		dispatcher: newEventDispatcher(),
		recon:      newReconnector(&cfg),
		logger:     cfg.Logger,
	}
}
