package websocket

import (
	"encoding/json"
	"testing"

	"qrguard/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Format: "text", Output: "stdout"})
	require.NoError(t, err)
	return log
}

func newRoomClient(hub *Hub) *Client {
	return NewClient(hub, nil, "token-"+string(rune('a'+len(hub.clients))), nil)
}

func drainEvent(t *testing.T, client *Client) Event {
	t.Helper()
	select {
	case raw := <-client.send:
		var event Event
		require.NoError(t, json.Unmarshal(raw, &event))
		return event
	default:
		t.Fatal("expected a queued event")
		return Event{}
	}
}

func TestSendToRoomIncludesSender(t *testing.T) {
	hub := NewHub(testLogger(t))

	sender := newRoomClient(hub)
	peer := newRoomClient(hub)
	outsider := newRoomClient(hub)
	for _, c := range []*Client{sender, peer, outsider} {
		hub.registerClient(c)
	}

	hub.JoinChat(sender, "chat-1")
	hub.JoinChat(peer, "chat-1")
	hub.JoinChat(outsider, "chat-2")

	hub.SendToRoom("chat-1", Event{Type: "receive-message", ChatID: "chat-1"})

	// Fanout covers the whole room, the sender's channel included; the
	// sender reconciles its own echo rather than being excluded.
	for _, c := range []*Client{sender, peer} {
		event := drainEvent(t, c)
		assert.Equal(t, "receive-message", event.Type)
		assert.Equal(t, "chat-1", event.ChatID)
	}
	assert.Empty(t, outsider.send)
}

func TestJoinChatIsIdempotent(t *testing.T) {
	hub := NewHub(testLogger(t))
	client := newRoomClient(hub)
	hub.registerClient(client)

	hub.JoinChat(client, "chat-1")
	hub.JoinChat(client, "chat-1")
	assert.Equal(t, 1, hub.RoomSize("chat-1"))

	hub.SendToRoom("chat-1", Event{Type: "receive-message", ChatID: "chat-1"})
	drainEvent(t, client)
	assert.Empty(t, client.send)
}

func TestLeaveChatRemovesMembershipOnly(t *testing.T) {
	hub := NewHub(testLogger(t))
	client := newRoomClient(hub)
	hub.registerClient(client)

	hub.JoinChat(client, "chat-1")
	hub.JoinChat(client, "chat-2")

	hub.LeaveChat(client, "chat-1")
	assert.Equal(t, 0, hub.RoomSize("chat-1"))
	assert.Equal(t, 1, hub.RoomSize("chat-2"))

	hub.SendToRoom("chat-1", Event{Type: "receive-message", ChatID: "chat-1"})
	assert.Empty(t, client.send)
}

func TestUnregisterClearsEveryRoom(t *testing.T) {
	hub := NewHub(testLogger(t))
	client := newRoomClient(hub)
	peer := newRoomClient(hub)
	hub.registerClient(client)
	hub.registerClient(peer)

	hub.JoinChat(client, "chat-1")
	hub.JoinChat(peer, "chat-1")
	hub.JoinChat(client, "chat-2")

	hub.unregisterClient(client)

	assert.Equal(t, 1, hub.RoomSize("chat-1"))
	assert.Equal(t, 0, hub.RoomSize("chat-2"))

	// The channel was closed as part of teardown.
	_, open := <-client.send
	assert.False(t, open)
}

func TestSendToRoomEvictsFullClient(t *testing.T) {
	hub := NewHub(testLogger(t))

	slow := NewClient(hub, nil, "slow", nil)
	slow.send = make(chan []byte) // no buffer; every send would block
	hub.registerClient(slow)
	hub.JoinChat(slow, "chat-1")

	hub.SendToRoom("chat-1", Event{Type: "receive-message", ChatID: "chat-1"})

	assert.Equal(t, 0, hub.RoomSize("chat-1"))
	_, open := <-slow.send
	assert.False(t, open)
}

func TestEvictionClearsEveryRoomMembership(t *testing.T) {
	hub := NewHub(testLogger(t))

	slow := NewClient(hub, nil, "slow", nil)
	slow.send = make(chan []byte) // no buffer; every send would block
	peer := NewClient(hub, nil, "peer", nil)
	hub.registerClient(slow)
	hub.registerClient(peer)

	hub.JoinChat(slow, "chat-1")
	hub.JoinChat(slow, "chat-2")
	hub.JoinChat(peer, "chat-2")

	// Evicted out of chat-1; the closed channel must not linger in chat-2.
	hub.SendToRoom("chat-1", Event{Type: "receive-message", ChatID: "chat-1"})
	assert.Equal(t, 0, hub.RoomSize("chat-1"))
	assert.Equal(t, 1, hub.RoomSize("chat-2"))

	// Broadcasting to the other room must deliver to the healthy peer and
	// not touch the closed channel.
	hub.SendToRoom("chat-2", Event{Type: "receive-message", ChatID: "chat-2"})
	event := drainEvent(t, peer)
	assert.Equal(t, "chat-2", event.ChatID)
}

func TestUnregisterAfterEvictionIsANoOp(t *testing.T) {
	hub := NewHub(testLogger(t))

	slow := NewClient(hub, nil, "slow", nil)
	slow.send = make(chan []byte)
	hub.registerClient(slow)
	hub.JoinChat(slow, "chat-1")
	hub.JoinChat(slow, "chat-2")

	hub.SendToRoom("chat-1", Event{Type: "receive-message", ChatID: "chat-1"})

	// The evicted client's read pump still reports back through unregister;
	// the second teardown must not close the channel again.
	hub.unregisterClient(slow)

	assert.Equal(t, 0, hub.RoomSize("chat-1"))
	assert.Equal(t, 0, hub.RoomSize("chat-2"))
}

func TestReplyErrorToEvictedClientIsDropped(t *testing.T) {
	hub := NewHub(testLogger(t))

	slow := NewClient(hub, nil, "slow", nil)
	slow.send = make(chan []byte)
	hub.registerClient(slow)
	hub.JoinChat(slow, "chat-1")

	hub.SendToRoom("chat-1", Event{Type: "receive-message", ChatID: "chat-1"})

	// Must not write to the closed channel.
	slow.replyError("too slow")
}
