package services

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"qrguard/internal/config"
	"qrguard/internal/models"
	"qrguard/internal/repositories/interfaces"
	"qrguard/internal/utils"
	"qrguard/pkg/logger"

	"github.com/google/uuid"
)

// Socket event names shared by the REST and websocket surfaces.
const (
	EventMessageReceived = "receive-message"
	EventChatApproved    = "chat-approved"
	EventMobileRequested = "mobile-requested"
	EventMobileResponded = "mobile-responded"
	EventMobileApproved  = "mobile-approved"
	EventChatEnded       = "chat-ended"
	EventChatExpired     = "chat-expired"
)

// EventBroadcaster fans a committed event out to every channel in a chat's
// room, including the one that triggered it. Broadcasts are best effort;
// the durable record is already correct when one is attempted.
type EventBroadcaster interface {
	BroadcastToChat(chatID string, event string, data map[string]interface{})
}

type CreateOrJoinResult struct {
	ChatID       string `json:"chat_id"`
	SessionToken string `json:"session_token"`
	IsExisting   bool   `json:"is_existing"`
}

type OwnerJoinResult struct {
	SessionToken  string `json:"session_token"`
	IsOwnerJoined bool   `json:"is_owner_joined"`
	IsRejoin      bool   `json:"is_rejoin"`
}

type SendMessageInput struct {
	SenderRole   models.SenderRole      `json:"sender_role"`
	Content      string                 `json:"content"`
	Language     models.MessageLanguage `json:"language"`
	IsPredefined bool                   `json:"is_predefined"`
	SessionToken string                 `json:"session_token"`
}

type ChatService interface {
	// CreateOrJoinChat starts a conversation for a vehicle, or attaches the
	// reporter to the vehicle's existing active chat.
	CreateOrJoinChat(ctx context.Context, vehicleNumber string) (*CreateOrJoinResult, error)

	// GetChat returns the full authoritative snapshot, lazily expiring the
	// chat if its deadline has passed.
	GetChat(ctx context.Context, chatID string) (*models.Chat, error)

	// OwnerJoin lets the vehicle owner join or rejoin. Idempotent on
	// IsOwnerJoined; every call mints a fresh owner session token.
	OwnerJoin(ctx context.Context, chatID string, ownerName string) (*OwnerJoinResult, error)

	RequestMobile(ctx context.Context, chatID string) error
	ApproveMobile(ctx context.Context, chatID string, mobileNumber string) error
	SendMessage(ctx context.Context, chatID string, input *SendMessageInput) (*models.Message, error)
	EndChat(ctx context.Context, chatID string) error

	// GetVehicleChats returns recent chats for a vehicle, newest first.
	GetVehicleChats(ctx context.Context, vehicleNumber string, limit int) ([]*models.Chat, error)

	// ExpireOverdueChats transitions every time-expired active chat to
	// expired and broadcasts the event. Returns how many were expired.
	ExpireOverdueChats(ctx context.Context, now time.Time) (int, error)
}

type chatService struct {
	chatRepo    interfaces.ChatRepository
	cache       CacheService
	broadcaster EventBroadcaster
	logger      *logger.Logger
	ttlWindow   time.Duration

	// Same-chat mutations are serialized on a striped lock; different
	// chats proceed in parallel.
	locks [64]sync.Mutex
}

func NewChatService(
	cfg *config.ChatConfig,
	chatRepo interfaces.ChatRepository,
	cache CacheService,
	broadcaster EventBroadcaster,
	log *logger.Logger,
) ChatService {
	ttl := utils.DefaultChatTTL
	if cfg != nil && cfg.TTLWindow > 0 {
		ttl = cfg.TTLWindow
	}

	return &chatService{
		chatRepo:    chatRepo,
		cache:       cache,
		broadcaster: broadcaster,
		logger:      log,
		ttlWindow:   ttl,
	}
}

func (s *chatService) CreateOrJoinChat(ctx context.Context, vehicleNumber string) (*CreateOrJoinResult, error) {
	vehicleKey := utils.NormalizeVehicleNumber(vehicleNumber)
	if vehicleKey == "" {
		return nil, validationError("vehicle number is required")
	}
	if !utils.IsValidVehicleNumber(vehicleKey) {
		return nil, validationError("invalid vehicle number %q", vehicleKey)
	}

	unlockVehicle := s.lockVehicle(ctx, vehicleKey)
	defer unlockVehicle()

	now := time.Now()

	existing, err := s.chatRepo.FindActiveChatByVehicle(ctx, vehicleKey, now)
	if err == nil {
		return s.joinExistingChat(ctx, existing, now)
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	sessionToken := utils.GenerateSessionToken()
	chat := &models.Chat{
		ChatID:        uuid.NewString(),
		VehicleNumber: vehicleKey,
		Status:        models.ChatStatusActive,
		Requester: models.Requester{
			SessionToken: sessionToken,
		},
		Messages:  []models.Message{},
		CreatedAt: now,
	}
	chat.Touch(now, s.ttlWindow)

	err = s.chatRepo.CreateChat(ctx, chat)
	if errors.Is(err, ErrDuplicateActiveChat) {
		// Lost the insert race; the other reporter's chat is the one to
		// join.
		existing, lookupErr := s.chatRepo.FindActiveChatByVehicle(ctx, vehicleKey, now)
		if lookupErr != nil {
			return nil, lookupErr
		}
		return s.joinExistingChat(ctx, existing, now)
	}
	if err != nil {
		return nil, err
	}

	s.logger.WithChatID(chat.ChatID).WithVehicleNumber(vehicleKey).Info("Chat created")

	return &CreateOrJoinResult{
		ChatID:       chat.ChatID,
		SessionToken: sessionToken,
		IsExisting:   false,
	}, nil
}

func (s *chatService) joinExistingChat(ctx context.Context, chat *models.Chat, now time.Time) (*CreateOrJoinResult, error) {
	sessionToken := utils.GenerateSessionToken()

	var msg models.Message
	err := s.withChat(ctx, chat.ChatID, func(chat *models.Chat) error {
		if err := s.ensureActiveNotExpired(ctx, chat, now); err != nil {
			return err
		}
		chat.Requester.SessionToken = sessionToken
		msg = s.appendSystemMessage(chat, utils.SystemMsgReporterJoined, now)
		chat.Touch(now, s.ttlWindow)
		return nil
	}, func(chat *models.Chat) {
		s.broadcastMessage(chat.ChatID, &msg)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithChatID(chat.ChatID).WithVehicleNumber(chat.VehicleNumber).Info("Reporter joined existing chat")

	return &CreateOrJoinResult{
		ChatID:       chat.ChatID,
		SessionToken: sessionToken,
		IsExisting:   true,
	}, nil
}

func (s *chatService) GetChat(ctx context.Context, chatID string) (*models.Chat, error) {
	chat, err := s.chatRepo.GetChatByID(ctx, chatID)
	if err != nil {
		return nil, err
	}

	// Lazy expiry on read keeps snapshots honest even between sweeps.
	if chat.Status == models.ChatStatusActive && chat.IsExpired(time.Now()) {
		if expErr := s.expireChat(ctx, chatID); expErr == nil {
			return s.chatRepo.GetChatByID(ctx, chatID)
		}
		chat.Status = models.ChatStatusExpired
	}

	return chat, nil
}

func (s *chatService) OwnerJoin(ctx context.Context, chatID string, ownerName string) (*OwnerJoinResult, error) {
	now := time.Now()
	sessionToken := utils.GenerateSessionToken()

	var (
		isRejoin bool
		msg      models.Message
	)
	err := s.withChat(ctx, chatID, func(chat *models.Chat) error {
		if err := s.ensureActiveNotExpired(ctx, chat, now); err != nil {
			return err
		}

		isRejoin = chat.IsOwnerJoined

		joinedAt := now
		chat.Owner = models.Owner{
			SessionToken: sessionToken,
			Name:         ownerName,
			JoinedAt:     &joinedAt,
		}
		chat.IsOwnerJoined = true

		text := utils.SystemMsgOwnerJoined
		if isRejoin {
			text = utils.SystemMsgOwnerRejoined
		}
		msg = s.appendSystemMessage(chat, text, now)
		chat.Touch(now, s.ttlWindow)
		return nil
	}, func(chat *models.Chat) {
		s.broadcaster.BroadcastToChat(chat.ChatID, EventChatApproved, map[string]interface{}{
			"chat_id":         chat.ChatID,
			"owner_name":      ownerName,
			"session_token":   sessionToken,
			"is_rejoin":       isRejoin,
			"is_owner_joined": true,
		})
		s.broadcastMessage(chat.ChatID, &msg)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithChatID(chatID).WithField("is_rejoin", isRejoin).Info("Owner joined chat")

	return &OwnerJoinResult{
		SessionToken:  sessionToken,
		IsOwnerJoined: true,
		IsRejoin:      isRejoin,
	}, nil
}

func (s *chatService) RequestMobile(ctx context.Context, chatID string) error {
	now := time.Now()

	err := s.withChat(ctx, chatID, func(chat *models.Chat) error {
		if err := s.ensureActiveNotExpired(ctx, chat, now); err != nil {
			return err
		}
		chat.Requester.MobileRequested = true
		chat.Touch(now, s.ttlWindow)
		return nil
	}, func(chat *models.Chat) {
		s.broadcaster.BroadcastToChat(chat.ChatID, EventMobileRequested, map[string]interface{}{
			"chat_id": chat.ChatID,
		})
	})
	if err != nil {
		return err
	}

	s.logger.WithChatID(chatID).Info("Mobile number requested")
	return nil
}

func (s *chatService) ApproveMobile(ctx context.Context, chatID string, mobileNumber string) error {
	// Validated before the record is touched. A prior request is
	// deliberately not required: the owner may share proactively.
	if !utils.IsValidMobileNumber(mobileNumber) {
		return validationError("valid 10-digit mobile number is required")
	}

	now := time.Now()

	err := s.withChat(ctx, chatID, func(chat *models.Chat) error {
		if err := s.ensureActiveNotExpired(ctx, chat, now); err != nil {
			return err
		}
		chat.Requester.MobileNumber = mobileNumber
		chat.Requester.MobileApproved = true
		chat.Touch(now, s.ttlWindow)
		return nil
	}, func(chat *models.Chat) {
		s.broadcaster.BroadcastToChat(chat.ChatID, EventMobileApproved, map[string]interface{}{
			"chat_id":       chat.ChatID,
			"mobile_number": mobileNumber,
		})
	})
	if err != nil {
		return err
	}

	s.logger.WithChatID(chatID).Info("Mobile number approved and shared")
	return nil
}

func (s *chatService) SendMessage(ctx context.Context, chatID string, input *SendMessageInput) (*models.Message, error) {
	if input == nil {
		return nil, validationError("message payload is required")
	}
	if !models.ValidSenderRole(input.SenderRole) {
		return nil, validationError("invalid sender role %q", input.SenderRole)
	}
	content := utils.SanitizeMessageContent(input.Content)
	if content == "" {
		return nil, validationError("message content is required")
	}
	if len(content) > utils.MaxMessageLength {
		return nil, validationError("message content exceeds %d characters", utils.MaxMessageLength)
	}

	now := time.Now()

	var msg models.Message
	err := s.withChat(ctx, chatID, func(chat *models.Chat) error {
		if err := s.ensureActiveNotExpired(ctx, chat, now); err != nil {
			return err
		}

		// The id and timestamp are assigned here, at commit, so the
		// persisted order is the broadcast order.
		msg = models.Message{
			ID:           uuid.NewString(),
			SenderRole:   input.SenderRole,
			Content:      content,
			Language:     models.NormalizeLanguage(input.Language),
			IsPredefined: input.IsPredefined,
			SessionToken: input.SessionToken,
			Timestamp:    now,
		}
		chat.Messages = append(chat.Messages, msg)
		chat.Touch(now, s.ttlWindow)
		return nil
	}, func(chat *models.Chat) {
		s.broadcastMessage(chat.ChatID, &msg)
	})
	if err != nil {
		return nil, err
	}

	return &msg, nil
}

func (s *chatService) EndChat(ctx context.Context, chatID string) error {
	now := time.Now()

	var msg models.Message
	err := s.withChat(ctx, chatID, func(chat *models.Chat) error {
		if err := s.ensureActiveNotExpired(ctx, chat, now); err != nil {
			return err
		}
		msg = s.appendSystemMessage(chat, utils.SystemMsgChatEnded, now)
		chat.Status = models.ChatStatusCompleted
		chat.LastActivity = now
		return nil
	}, func(chat *models.Chat) {
		s.broadcastMessage(chat.ChatID, &msg)
		s.broadcaster.BroadcastToChat(chat.ChatID, EventChatEnded, map[string]interface{}{
			"chat_id": chat.ChatID,
		})
	})
	if err != nil {
		return err
	}

	s.logger.WithChatID(chatID).Info("Chat ended")
	return nil
}

func (s *chatService) GetVehicleChats(ctx context.Context, vehicleNumber string, limit int) ([]*models.Chat, error) {
	vehicleKey := utils.NormalizeVehicleNumber(vehicleNumber)
	if vehicleKey == "" {
		return nil, validationError("vehicle number is required")
	}
	if limit <= 0 || limit > utils.MaxHistoryLimit {
		limit = utils.DefaultHistoryLimit
	}

	return s.chatRepo.GetChatsByVehicle(ctx, vehicleKey, limit)
}

func (s *chatService) ExpireOverdueChats(ctx context.Context, now time.Time) (int, error) {
	overdue, err := s.chatRepo.FindExpiredActiveChats(ctx, now, 100)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, chat := range overdue {
		if err := s.expireChat(ctx, chat.ChatID); err != nil {
			if errors.Is(err, ErrInvalidState) || errors.Is(err, ErrNotFound) {
				// Already ended or expired by someone else.
				continue
			}
			return expired, err
		}
		expired++
	}

	return expired, nil
}

// expireChat transitions one active, overdue chat to expired.
func (s *chatService) expireChat(ctx context.Context, chatID string) error {
	err := s.withChat(ctx, chatID, func(chat *models.Chat) error {
		if chat.Status != models.ChatStatusActive {
			return ErrInvalidState
		}
		if !chat.IsExpired(time.Now()) {
			// Activity arrived between the sweep's scan and this lock.
			return ErrInvalidState
		}
		chat.Status = models.ChatStatusExpired
		return nil
	}, func(chat *models.Chat) {
		s.broadcaster.BroadcastToChat(chat.ChatID, EventChatExpired, map[string]interface{}{
			"chat_id": chat.ChatID,
		})
	})
	if err != nil {
		return err
	}

	s.logger.WithChatID(chatID).Info("Chat expired")
	return nil
}

// ensureActiveNotExpired is the single liveness guard every mutating
// operation runs first. An apparently-active chat whose deadline has passed
// fails exactly like an ended one, and is persisted as expired on the way
// out.
func (s *chatService) ensureActiveNotExpired(ctx context.Context, chat *models.Chat, now time.Time) error {
	if chat.Status != models.ChatStatusActive {
		return ErrInvalidState
	}
	if chat.IsExpired(now) {
		chat.Status = models.ChatStatusExpired
		if err := s.chatRepo.ReplaceChat(ctx, chat); err == nil {
			s.broadcaster.BroadcastToChat(chat.ChatID, EventChatExpired, map[string]interface{}{
				"chat_id": chat.ChatID,
			})
		}
		return ErrInvalidState
	}
	return nil
}

// withChat loads the chat, applies mutate, commits via versioned replace,
// and only then runs broadcast. All of it happens under the chat's stripe
// lock, so broadcast order equals commit order. Validation errors abort
// before any write.
func (s *chatService) withChat(ctx context.Context, chatID string, mutate func(*models.Chat) error, broadcast func(*models.Chat)) error {
	lock := s.lockFor(chatID)
	lock.Lock()
	defer lock.Unlock()

	for attempt := 0; attempt < 3; attempt++ {
		chat, err := s.chatRepo.GetChatByID(ctx, chatID)
		if err != nil {
			return err
		}

		if err := mutate(chat); err != nil {
			return err
		}

		err = s.chatRepo.ReplaceChat(ctx, chat)
		if errors.Is(err, ErrVersionConflict) {
			// Another process committed first; reload and retry.
			continue
		}
		if err != nil {
			return err
		}

		if broadcast != nil {
			broadcast(chat)
		}
		return nil
	}

	return ErrVersionConflict
}

func (s *chatService) appendSystemMessage(chat *models.Chat, text string, now time.Time) models.Message {
	msg := models.Message{
		ID:           uuid.NewString(),
		SenderRole:   models.SenderRoleSystem,
		Content:      text,
		Language:     models.LanguageEnglish,
		SessionToken: "system",
		Timestamp:    now,
	}
	chat.Messages = append(chat.Messages, msg)
	return msg
}

func (s *chatService) broadcastMessage(chatID string, msg *models.Message) {
	s.broadcaster.BroadcastToChat(chatID, EventMessageReceived, map[string]interface{}{
		"chat_id":       chatID,
		"id":            msg.ID,
		"sender_role":   string(msg.SenderRole),
		"content":       msg.Content,
		"language":      string(msg.Language),
		"is_predefined": msg.IsPredefined,
		"session_token": msg.SessionToken,
		"timestamp":     utils.FormatTimeISO(msg.Timestamp),
	})
}

func (s *chatService) lockFor(chatID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(chatID))
	return &s.locks[h.Sum32()%uint32(len(s.locks))]
}

// lockVehicle takes a short-lived distributed guard around the
// lookup-then-insert window of create-or-join. Best effort: the partial
// unique index is the real integrity constraint, this just avoids burning
// an insert on the common race.
func (s *chatService) lockVehicle(ctx context.Context, vehicleKey string) func() {
	if s.cache == nil {
		return func() {}
	}

	key := "lock:vehicle:" + vehicleKey
	for attempt := 0; attempt < 3; attempt++ {
		ok, err := s.cache.SetNX(ctx, key, 1, 5*time.Second)
		if err != nil || ok {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	return func() {
		s.cache.Delete(ctx, key)
	}
}
