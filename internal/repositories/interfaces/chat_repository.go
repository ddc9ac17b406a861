package interfaces

import (
	"context"
	"time"

	"qrguard/internal/models"
)

// ChatRepository owns the durable chat documents. Implementations must make
// ReplaceChat atomic on (chat_id, version) so the service layer's
// single-writer discipline holds even across processes.
type ChatRepository interface {
	// CreateChat inserts a new chat document. Returns
	// services.ErrDuplicateActiveChat if the vehicle already holds an
	// active chat.
	CreateChat(ctx context.Context, chat *models.Chat) error

	// GetChatByID fetches one chat by its opaque id.
	GetChatByID(ctx context.Context, chatID string) (*models.Chat, error)

	// FindActiveChatByVehicle returns the most recently created chat for
	// the vehicle that is active and unexpired at now, or ErrNotFound.
	// More than one logical match is a data-integrity warning, not a valid
	// steady state; only the newest is returned.
	FindActiveChatByVehicle(ctx context.Context, vehicleNumber string, now time.Time) (*models.Chat, error)

	// ReplaceChat writes the full document if the stored version still
	// matches chat.Version, then increments the version. Returns
	// services.ErrVersionConflict when the match fails.
	ReplaceChat(ctx context.Context, chat *models.Chat) error

	// FindExpiredActiveChats lists chats still marked active whose
	// expires_at has passed, for the watchdog sweep.
	FindExpiredActiveChats(ctx context.Context, now time.Time, limit int) ([]*models.Chat, error)

	// GetChatsByVehicle returns recent chats for a vehicle, newest first.
	GetChatsByVehicle(ctx context.Context, vehicleNumber string, limit int) ([]*models.Chat, error)
}
