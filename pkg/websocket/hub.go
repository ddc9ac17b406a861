package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"qrguard/pkg/logger"
)

// Event is the wire frame for both directions of the socket. ChatID scopes
// room-bound events; Data carries the event payload.
type Event struct {
	Type      string                 `json:"type"`
	ChatID    string                 `json:"chat_id,omitempty"`
	Timestamp int64                  `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Hub is the room registry: one room per chat id, holding the channels of
// every currently-connected client. Membership is ephemeral and rebuilt
// from each client's join after reconnect; it is never durable truth.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	rooms      map[string]map[*Client]bool
	mutex      sync.RWMutex
	done       chan struct{}
	closeOnce  sync.Once
	logger     *logger.Logger
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		rooms:      make(map[string]map[*Client]bool),
		done:       make(chan struct{}),
		logger:     log,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case <-h.done:
			h.closeAllClients()
			return
		}
	}
}

// Close tears the hub down: the run loop exits and every connected client's
// send channel is closed, which ends its write pump.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
	})
}

func (h *Hub) registerClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.clients[client] = true
	h.logger.WithField("session_token", client.SessionToken).Debug("Client registered")
}

func (h *Hub) unregisterClient(client *Client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, ok := h.clients[client]; ok {
		h.evictClient(client)
		h.logger.WithField("session_token", client.SessionToken).Debug("Client unregistered")
	}
}

// evictClient is the single teardown path: the client leaves every room it
// joined before its channel is closed, so no room is ever left holding a
// closed channel. Caller must hold h.mutex. Idempotent.
func (h *Hub) evictClient(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)

	for chatID := range client.rooms {
		if room, exists := h.rooms[chatID]; exists {
			delete(room, client)
			if len(room) == 0 {
				delete(h.rooms, chatID)
			}
		}
	}

	close(client.send)
}

func (h *Hub) closeAllClients() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.rooms = make(map[string]map[*Client]bool)
}

// JoinChat adds the client to the chat's room. Idempotent; does not touch
// the chat record.
func (h *Hub) JoinChat(client *Client, chatID string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.rooms[chatID] == nil {
		h.rooms[chatID] = make(map[*Client]bool)
	}
	h.rooms[chatID][client] = true
	client.rooms[chatID] = true
}

func (h *Hub) LeaveChat(client *Client, chatID string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if room, exists := h.rooms[chatID]; exists {
		delete(room, client)
		delete(client.rooms, chatID)

		if len(room) == 0 {
			delete(h.rooms, chatID)
		}
	}
}

// SendToRoom delivers the event to every channel currently in the room,
// including the sender's. A client whose buffer is full is dropped rather
// than allowed to stall the fanout.
func (h *Hub) SendToRoom(chatID string, event Event) {
	// Full lock: evicting a slow client mutates the maps.
	h.mutex.Lock()
	defer h.mutex.Unlock()

	room, exists := h.rooms[chatID]
	if !exists {
		return
	}

	data, _ := json.Marshal(event)
	for client := range room {
		select {
		case client.send <- data:
		default:
			h.evictClient(client)
		}
	}
}

// trySend queues data for one client if it is still registered, dropping it
// otherwise. Membership check and send happen under the lock, so the channel
// cannot be closed out from under the send.
func (h *Hub) trySend(client *Client, data []byte) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	select {
	case client.send <- data:
	default:
	}
}

// RoomSize reports how many channels are currently in a chat's room.
func (h *Hub) RoomSize(chatID string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.rooms[chatID])
}

func getCurrentTimestamp() int64 {
	return time.Now().UnixMilli()
}
