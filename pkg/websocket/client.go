package websocket

import (
	"context"
	"encoding/json"
	"time"

	"qrguard/internal/models"
	"qrguard/internal/services"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	// Upper bound on handling one inbound event. Mutations run against the
	// store, so an unresponsive store must not wedge the read pump forever.
	eventTimeout = 10 * time.Second
)

// Client is one connected browser tab. The read pump handles one event at
// a time per connection; mutating events run through the same ChatService
// as the REST handlers.
type Client struct {
	hub          *Hub
	conn         *websocket.Conn
	send         chan []byte
	SessionToken string
	rooms        map[string]bool
	chats        services.ChatService
}

func NewClient(hub *Hub, conn *websocket.Conn, sessionToken string, chats services.ChatService) *Client {
	return &Client{
		hub:          hub,
		conn:         conn,
		send:         make(chan []byte, 256),
		SessionToken: sessionToken,
		rooms:        make(map[string]bool),
		chats:        chats,
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.WithError(err).Warn("WebSocket read error")
			}
			break
		}

		c.handleEvent(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Drain anything already queued into the same frame
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleEvent(raw []byte) {
	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		c.replyError("malformed event")
		return
	}

	if event.ChatID == "" {
		c.replyError("chat_id is required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	switch event.Type {
	case "join-chat":
		c.hub.JoinChat(c, event.ChatID)

	case "leave-chat":
		c.hub.LeaveChat(c, event.ChatID)

	case "send-message":
		input := &services.SendMessageInput{
			SenderRole:   models.SenderRole(stringField(event.Data, "sender_role")),
			Content:      stringField(event.Data, "content"),
			Language:     models.MessageLanguage(stringField(event.Data, "language")),
			IsPredefined: boolField(event.Data, "is_predefined"),
			SessionToken: c.SessionToken,
		}
		if _, err := c.chats.SendMessage(ctx, event.ChatID, input); err != nil {
			c.replyError(err.Error())
		}

	case "request-mobile":
		if err := c.chats.RequestMobile(ctx, event.ChatID); err != nil {
			c.replyError(err.Error())
		}

	case "respond-mobile":
		// Pure relay: the owner's accept/decline answer carries no record
		// mutation of its own, approval follows separately.
		c.hub.SendToRoom(event.ChatID, Event{
			Type:      services.EventMobileResponded,
			ChatID:    event.ChatID,
			Timestamp: getCurrentTimestamp(),
			Data:      event.Data,
		})

	case "approve-mobile":
		if err := c.chats.ApproveMobile(ctx, event.ChatID, stringField(event.Data, "mobile_number")); err != nil {
			c.replyError(err.Error())
		}

	case "chat-approved":
		if _, err := c.chats.OwnerJoin(ctx, event.ChatID, stringField(event.Data, "owner_name")); err != nil {
			c.replyError(err.Error())
		}

	case "end-chat":
		if err := c.chats.EndChat(ctx, event.ChatID); err != nil {
			c.replyError(err.Error())
		}

	default:
		c.replyError("unknown event type: " + event.Type)
	}
}

// replyError goes to this client only; fanout never carries user-visible
// errors. Routed through the hub so a concurrently evicted client is
// dropped instead of written to.
func (c *Client) replyError(message string) {
	data, _ := json.Marshal(Event{
		Type:      "error",
		Timestamp: getCurrentTimestamp(),
		Data:      map[string]interface{}{"message": message},
	})

	c.hub.trySend(c, data)
}

func stringField(data map[string]interface{}, key string) string {
	if data == nil {
		return ""
	}
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func boolField(data map[string]interface{}, key string) bool {
	if data == nil {
		return false
	}
	if v, ok := data[key].(bool); ok {
		return v
	}
	return false
}
