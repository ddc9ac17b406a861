package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"qrguard/internal/models"
	"qrguard/internal/services"
	"qrguard/internal/utils"

	"github.com/gin-gonic/gin"
)

type ChatHandler struct {
	chatService services.ChatService
}

func NewChatHandler(chatService services.ChatService) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
	}
}

type createChatRequest struct {
	VehicleNumber string `json:"vehicle_number" binding:"required" validate:"required,vehicle_number"`
}

type ownerJoinRequest struct {
	OwnerName string `json:"owner_name"`
}

type approveMobileRequest struct {
	MobileNumber string `json:"mobile_number" binding:"required" validate:"required,mobile_number"`
}

type sendMessageRequest struct {
	SenderRole   string `json:"sender_role" binding:"required"`
	Content      string `json:"content" binding:"required"`
	Language     string `json:"language" validate:"language_code"`
	IsPredefined bool   `json:"is_predefined"`
	SessionToken string `json:"session_token" binding:"required"`
}

// CreateChat starts a chat for a vehicle, or joins the vehicle's existing
// active chat.
func (h *ChatHandler) CreateChat(c *gin.Context) {
	var request createChatRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.BadRequestResponse(c, "Vehicle number is required")
		return
	}
	if err := utils.ValidateStruct(&request); err != nil {
		utils.BadRequestResponse(c, "Invalid vehicle number")
		return
	}

	result, err := h.chatService.CreateOrJoinChat(c.Request.Context(), request.VehicleNumber)
	if err != nil {
		h.serviceError(c, err)
		return
	}

	if result.IsExisting {
		utils.SuccessResponse(c, "Joined existing chat", result)
		return
	}
	utils.CreatedResponse(c, "Chat created successfully", result)
}

// GetChat returns the full authoritative snapshot.
func (h *ChatHandler) GetChat(c *gin.Context) {
	chatID := c.Param("chatId")

	chat, err := h.chatService.GetChat(c.Request.Context(), chatID)
	if err != nil {
		h.serviceError(c, err)
		return
	}

	utils.SuccessResponse(c, "Chat retrieved successfully", gin.H{
		"chat":       chat,
		"expires_in": utils.FormatDuration(chat.RemainingTTL(time.Now())),
	})
}

// ApproveChat is the owner join/rejoin entry point. The route name is kept
// from the approval-gated flow the clients already speak.
func (h *ChatHandler) ApproveChat(c *gin.Context) {
	chatID := c.Param("chatId")

	var request ownerJoinRequest
	if err := c.ShouldBindJSON(&request); err != nil && err.Error() != "EOF" {
		utils.BadRequestResponse(c, "Invalid request body")
		return
	}

	result, err := h.chatService.OwnerJoin(c.Request.Context(), chatID, request.OwnerName)
	if err != nil {
		h.serviceError(c, err)
		return
	}

	utils.SuccessResponse(c, "Chat approved successfully", result)
}

func (h *ChatHandler) RequestMobile(c *gin.Context) {
	chatID := c.Param("chatId")

	if err := h.chatService.RequestMobile(c.Request.Context(), chatID); err != nil {
		h.serviceError(c, err)
		return
	}

	utils.SuccessResponse(c, "Mobile number request sent", nil)
}

func (h *ChatHandler) ApproveMobile(c *gin.Context) {
	chatID := c.Param("chatId")

	var request approveMobileRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.BadRequestResponse(c, "Valid 10-digit mobile number is required")
		return
	}
	if err := utils.ValidateStruct(&request); err != nil {
		utils.BadRequestResponse(c, "Valid 10-digit mobile number is required")
		return
	}

	if err := h.chatService.ApproveMobile(c.Request.Context(), chatID, request.MobileNumber); err != nil {
		h.serviceError(c, err)
		return
	}

	utils.SuccessResponse(c, "Mobile number approved and shared", nil)
}

func (h *ChatHandler) EndChat(c *gin.Context) {
	chatID := c.Param("chatId")

	if err := h.chatService.EndChat(c.Request.Context(), chatID); err != nil {
		h.serviceError(c, err)
		return
	}

	utils.SuccessResponse(c, "Chat ended successfully", nil)
}

// SendMessage is the REST fallback for clients without a live socket; the
// canonical message still reaches connected clients via the room broadcast.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	chatID := c.Param("chatId")

	var request sendMessageRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		utils.BadRequestResponse(c, "Content, sender role and session token are required")
		return
	}
	if err := utils.ValidateStruct(&request); err != nil {
		utils.BadRequestResponse(c, "Unsupported language code")
		return
	}

	message, err := h.chatService.SendMessage(c.Request.Context(), chatID, &services.SendMessageInput{
		SenderRole:   models.SenderRole(request.SenderRole),
		Content:      request.Content,
		Language:     models.MessageLanguage(request.Language),
		IsPredefined: request.IsPredefined,
		SessionToken: request.SessionToken,
	})
	if err != nil {
		h.serviceError(c, err)
		return
	}

	utils.SuccessResponse(c, "Message sent successfully", gin.H{"message_data": message})
}

// GetVehicleChats returns recent chats for a vehicle, newest first.
func (h *ChatHandler) GetVehicleChats(c *gin.Context) {
	vehicleNumber := c.Param("vehicleNumber")

	limit := utils.DefaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	chats, err := h.chatService.GetVehicleChats(c.Request.Context(), vehicleNumber, limit)
	if err != nil {
		h.serviceError(c, err)
		return
	}

	utils.SuccessResponse(c, "Vehicle chats retrieved successfully", gin.H{"chats": chats})
}

// serviceError maps the service taxonomy onto HTTP. "Not found / expired"
// and "temporarily unreachable, retrying" stay distinguishable for clients.
func (h *ChatHandler) serviceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		utils.NotFoundResponse(c, "Chat")
	case errors.Is(err, services.ErrValidationFailed):
		utils.ErrorResponse(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, services.ErrInvalidState):
		utils.ErrorResponse(c, http.StatusBadRequest, "INVALID_STATE", utils.ErrChatNotActive)
	case errors.Is(err, services.ErrTransientIO):
		utils.ServiceUnavailableResponse(c)
	default:
		utils.InternalServerErrorResponse(c)
	}
}
