package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"qrguard/internal/models"
	"qrguard/internal/utils"
	"qrguard/pkg/logger"

	"github.com/gorilla/websocket"
)

// Event is the wire envelope shared with the server hub.
type Event struct {
	Type      string                 `json:"type"`
	ChatID    string                 `json:"chat_id,omitempty"`
	Timestamp int64                  `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// EventHandler receives every decoded server event after the timeline has
// been reconciled.
type EventHandler func(event Event)

// Config wires a Client to one deployment.
type Config struct {
	// BaseURL is the REST root, e.g. "http://localhost:8080/api/v1".
	BaseURL string
	// SocketURL is the websocket endpoint, e.g. "ws://localhost:8080/ws".
	SocketURL string
	// SessionToken identifies this participant on both transports.
	SessionToken string
	// SenderRole is stamped on optimistic sends.
	SenderRole models.SenderRole
	// HTTPClient is used for snapshot fetches. Defaults to a 10s-timeout client.
	HTTPClient *http.Client
}

const (
	dialTimeout  = 10 * time.Second
	writeTimeout = 10 * time.Second
	pruneEvery   = time.Second
)

// Client keeps one websocket connection, an owned Timeline per joined chat,
// and resynchronizes from the REST snapshot after a reconnect. Events that
// slip past the socket while it is down are recovered by Resync, never by
// replay.
type Client struct {
	cfg  Config
	log  *logger.Logger
	http *http.Client

	mu        sync.Mutex
	conn      *websocket.Conn
	timelines map[string]*Timeline
	handler   EventHandler

	done      chan struct{}
	doneOnce  sync.Once
	pruneOnce sync.Once
}

func New(cfg Config, log *logger.Logger) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		cfg:       cfg,
		log:       log,
		http:      httpClient,
		timelines: make(map[string]*Timeline),
		done:      make(chan struct{}),
	}
}

// OnEvent registers the callback invoked for every server event. Must be
// set before Connect.
func (c *Client) OnEvent(handler EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Connect dials the socket and starts the read and prune loops.
func (c *Client) Connect(ctx context.Context) error {
	endpoint, err := url.Parse(c.cfg.SocketURL)
	if err != nil {
		return fmt.Errorf("parse socket url: %w", err)
	}
	query := endpoint.Query()
	query.Set("session", c.cfg.SessionToken)
	endpoint.RawQuery = query.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.SocketURL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)
	c.startPruneLoop()

	return nil
}

// startPruneLoop runs the prune loop exactly once for the client's
// lifetime; reconnects reuse it instead of stacking another goroutine.
func (c *Client) startPruneLoop() {
	c.pruneOnce.Do(func() {
		go c.pruneLoop()
	})
}

// JoinChat subscribes to a chat's broadcasts and fetches the authoritative
// snapshot so the local timeline starts consistent.
func (c *Client) JoinChat(ctx context.Context, chatID string) error {
	c.timelineFor(chatID)

	if err := c.sendEvent(Event{Type: "join-chat", ChatID: chatID}); err != nil {
		return err
	}
	return c.Resync(ctx, chatID)
}

// Send appends an optimistic provisional entry and emits send-message. The
// returned message carries the temporary local id until the canonical echo
// replaces it.
func (c *Client) Send(chatID, content string, language models.MessageLanguage, isPredefined bool) (models.Message, error) {
	tl := c.timelineFor(chatID)
	msg := tl.AppendProvisional(c.cfg.SenderRole, content, language, isPredefined, c.cfg.SessionToken, time.Now())

	err := c.sendEvent(Event{
		Type:   "send-message",
		ChatID: chatID,
		Data: map[string]interface{}{
			"sender_role":   string(c.cfg.SenderRole),
			"content":       content,
			"language":      string(language),
			"is_predefined": isPredefined,
		},
	})
	return msg, err
}

// RequestMobile asks the owner to share their number.
func (c *Client) RequestMobile(chatID string) error {
	return c.sendEvent(Event{Type: "request-mobile", ChatID: chatID})
}

// RespondMobile relays the owner's accept or decline without touching the
// chat record.
func (c *Client) RespondMobile(chatID string, approved bool) error {
	return c.sendEvent(Event{
		Type:   "respond-mobile",
		ChatID: chatID,
		Data:   map[string]interface{}{"approved": approved},
	})
}

// ApproveMobile shares the owner's number with the requester.
func (c *Client) ApproveMobile(chatID, mobileNumber string) error {
	return c.sendEvent(Event{
		Type:   "approve-mobile",
		ChatID: chatID,
		Data:   map[string]interface{}{"mobile_number": mobileNumber},
	})
}

// EndChat closes the conversation for both sides.
func (c *Client) EndChat(chatID string) error {
	return c.sendEvent(Event{Type: "end-chat", ChatID: chatID})
}

// Messages returns the reconciled view for a chat.
func (c *Client) Messages(chatID string) []models.Message {
	return c.timelineFor(chatID).Messages()
}

// Resync replaces the local timeline with the server snapshot. Called on
// join and after every reconnect; local state is discarded wholesale.
func (c *Client) Resync(ctx context.Context, chatID string) error {
	snapshot, err := c.fetchChat(ctx, chatID)
	if err != nil {
		return err
	}
	c.timelineFor(chatID).Reset(snapshot.Messages)
	return nil
}

// Reconnect dials again and resubscribes every joined chat, resyncing each
// timeline from the snapshot.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	chatIDs := make([]string, 0, len(c.timelines))
	for chatID := range c.timelines {
		chatIDs = append(chatIDs, chatID)
	}
	c.mu.Unlock()

	if err := c.Connect(ctx); err != nil {
		return err
	}
	for _, chatID := range chatIDs {
		if err := c.JoinChat(ctx, chatID); err != nil {
			return err
		}
	}
	return nil
}

// Close tears down the connection and stops the background loops.
func (c *Client) Close() error {
	c.doneOnce.Do(func() { close(c.done) })

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.log.WithError(err).Warn("Socket read failed; awaiting reconnect")
			}
			return
		}

		// The server may coalesce queued events into one frame, newline
		// separated.
		for _, line := range bytes.Split(raw, []byte{'\n'}) {
			if len(line) == 0 {
				continue
			}
			var event Event
			if err := json.Unmarshal(line, &event); err != nil {
				c.log.WithError(err).Warn("Dropping malformed server event")
				continue
			}
			c.dispatch(event)
		}
	}
}

func (c *Client) dispatch(event Event) {
	if event.Type == "receive-message" && event.ChatID != "" {
		if msg, ok := decodeMessage(event.Data); ok {
			c.timelineFor(event.ChatID).ApplyCanonical(msg, time.Now())
		}
	}

	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()
	if handler != nil {
		handler(event)
	}
}

func (c *Client) pruneLoop() {
	ticker := time.NewTicker(pruneEvery)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case now := <-ticker.C:
			c.mu.Lock()
			timelines := make([]*Timeline, 0, len(c.timelines))
			for _, tl := range c.timelines {
				timelines = append(timelines, tl)
			}
			c.mu.Unlock()

			for _, tl := range timelines {
				for _, failed := range tl.PruneStale(now) {
					c.log.WithField("message_id", failed.ID).Warn("Send unconfirmed; dropped provisional message")
				}
			}
		}
	}
}

func (c *Client) timelineFor(chatID string) *Timeline {
	c.mu.Lock()
	defer c.mu.Unlock()

	tl, ok := c.timelines[chatID]
	if !ok {
		tl = NewTimeline()
		c.timelines[chatID] = tl
	}
	return tl
}

func (c *Client) sendEvent(event Event) error {
	event.Timestamp = time.Now().UnixMilli()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", event.Type, err)
	}
	return nil
}

type chatEnvelope struct {
	Status string `json:"status"`
	Data   struct {
		Chat models.Chat `json:"chat"`
	} `json:"data"`
}

func (c *Client) fetchChat(ctx context.Context, chatID string) (*models.Chat, error) {
	endpoint := fmt.Sprintf("%s/chats/%s", c.cfg.BaseURL, url.PathEscape(chatID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Session-ID", c.cfg.SessionToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch chat %s: %w", chatID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch chat %s: unexpected status %d", chatID, resp.StatusCode)
	}

	var envelope chatEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode chat %s: %w", chatID, err)
	}
	return &envelope.Data.Chat, nil
}

// decodeMessage rebuilds a canonical message from a broadcast payload.
func decodeMessage(data map[string]interface{}) (models.Message, bool) {
	if data == nil {
		return models.Message{}, false
	}

	msg := models.Message{
		ID:           stringField(data, "id"),
		SenderRole:   models.SenderRole(stringField(data, "sender_role")),
		Content:      stringField(data, "content"),
		Language:     models.MessageLanguage(stringField(data, "language")),
		SessionToken: stringField(data, "session_token"),
	}
	if predefined, ok := data["is_predefined"].(bool); ok {
		msg.IsPredefined = predefined
	}
	if raw := stringField(data, "timestamp"); raw != "" {
		if ts, err := utils.ParseTimeISO(raw); err == nil {
			msg.Timestamp = ts
		}
	}

	if msg.Content == "" || !models.ValidSenderRole(msg.SenderRole) {
		return models.Message{}, false
	}
	return msg, true
}

func stringField(data map[string]interface{}, key string) string {
	value, _ := data[key].(string)
	return value
}
