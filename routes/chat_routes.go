package routes

import (
	handlers "qrguard/internal/handlers/shared"

	"github.com/gin-gonic/gin"
)

// SetupChatRoutes mounts the chat lifecycle REST surface. Route shapes
// mirror the socket events; both run through the same chat service.
func SetupChatRoutes(r *gin.RouterGroup, chatHandler *handlers.ChatHandler) {
	chats := r.Group("/chats")
	{
		chats.POST("/create", chatHandler.CreateChat)
		chats.POST("/approve/:chatId", chatHandler.ApproveChat)
		chats.POST("/request-mobile/:chatId", chatHandler.RequestMobile)
		chats.POST("/approve-mobile/:chatId", chatHandler.ApproveMobile)
		chats.POST("/end-chat/:chatId", chatHandler.EndChat)
		chats.POST("/:chatId/message", chatHandler.SendMessage)
		chats.GET("/:chatId", chatHandler.GetChat)
	}

	vehicles := r.Group("/vehicles")
	{
		vehicles.GET("/:vehicleNumber/chats", chatHandler.GetVehicleChats)
	}
}
