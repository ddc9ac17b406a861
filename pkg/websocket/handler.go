package websocket

import (
	"net/http"

	"qrguard/internal/config"
	"qrguard/internal/services"
	"qrguard/internal/utils"
	"qrguard/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Handler owns the hub and upgrades HTTP requests into hub clients. It also
// implements services.EventBroadcaster, so the lifecycle manager can fan
// committed events out without knowing about sockets.
type Handler struct {
	hub      *Hub
	chats    services.ChatService
	logger   *logger.Logger
	upgrader websocket.Upgrader
}

func NewHandler(cfg *config.WebSocketConfig, log *logger.Logger) *Handler {
	hub := NewHub(log)
	go hub.Run()

	readBuffer, writeBuffer := 1024, 1024
	if cfg != nil {
		readBuffer = cfg.ReadBufferSize
		writeBuffer = cfg.WriteBufferSize
	}

	return &Handler{
		hub:    hub,
		logger: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  readBuffer,
			WriteBufferSize: writeBuffer,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(cfg, r.Header.Get("Origin"))
			},
		},
	}
}

// AttachChatService breaks the construction cycle: the service needs the
// handler for broadcasts, the handler needs the service for inbound events.
func (h *Handler) AttachChatService(chats services.ChatService) {
	h.chats = chats
}

func (h *Handler) HandleWebSocket(c *gin.Context) {
	sessionToken := c.Query("session")
	if sessionToken == "" {
		sessionToken = c.GetHeader("X-Session-ID")
	}
	if sessionToken == "" {
		// Anonymous tab that has not claimed a role yet; still allowed to
		// watch, so mint a throwaway token.
		sessionToken = utils.GenerateSessionToken()
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	client := NewClient(h.hub, conn, sessionToken, h.chats)
	h.hub.register <- client

	go client.writePump()
	go client.readPump()
}

// BroadcastToChat implements services.EventBroadcaster.
func (h *Handler) BroadcastToChat(chatID string, event string, data map[string]interface{}) {
	h.hub.SendToRoom(chatID, Event{
		Type:      event,
		ChatID:    chatID,
		Timestamp: getCurrentTimestamp(),
		Data:      data,
	})
}

func (h *Handler) GetHub() *Hub {
	return h.hub
}

func (h *Handler) Close() {
	h.hub.Close()
}

func originAllowed(cfg *config.WebSocketConfig, origin string) bool {
	if cfg == nil || len(cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
