package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"qrguard/internal/models"
	"qrguard/internal/repositories/interfaces"
	"qrguard/internal/services"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const chatCacheTTL = 5 * time.Minute

type chatRepository struct {
	chatsCollection *mongo.Collection
	cache           services.CacheService
}

func NewChatRepository(db *mongo.Database, cache services.CacheService) interfaces.ChatRepository {
	return &chatRepository{
		chatsCollection: db.Collection("chats"),
		cache:           cache,
	}
}

func (r *chatRepository) CreateChat(ctx context.Context, chat *models.Chat) error {
	_, err := r.chatsCollection.InsertOne(ctx, chat)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return services.ErrDuplicateActiveChat
		}
		return fmt.Errorf("%w: failed to create chat: %v", services.ErrTransientIO, err)
	}

	r.cacheChat(ctx, chat)

	return nil
}

func (r *chatRepository) GetChatByID(ctx context.Context, chatID string) (*models.Chat, error) {
	// Try cache first
	if chat := r.getChatFromCache(ctx, chatID); chat != nil {
		return chat, nil
	}

	var chat models.Chat
	err := r.chatsCollection.FindOne(ctx, bson.M{"chat_id": chatID}).Decode(&chat)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, services.ErrNotFound
		}
		return nil, fmt.Errorf("%w: failed to get chat: %v", services.ErrTransientIO, err)
	}

	r.cacheChat(ctx, &chat)

	return &chat, nil
}

func (r *chatRepository) FindActiveChatByVehicle(ctx context.Context, vehicleNumber string, now time.Time) (*models.Chat, error) {
	filter := bson.M{
		"vehicle_number": vehicleNumber,
		"status":         models.ChatStatusActive,
		"expires_at":     bson.M{"$gt": now},
	}

	// Newest first: if the integrity constraint ever let two through, the
	// most recent one wins.
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})

	var chat models.Chat
	err := r.chatsCollection.FindOne(ctx, filter, opts).Decode(&chat)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, services.ErrNotFound
		}
		return nil, fmt.Errorf("%w: failed to find active chat for vehicle: %v", services.ErrTransientIO, err)
	}

	return &chat, nil
}

func (r *chatRepository) ReplaceChat(ctx context.Context, chat *models.Chat) error {
	filter := bson.M{
		"chat_id": chat.ChatID,
		"version": chat.Version,
	}

	updated := *chat
	updated.Version = chat.Version + 1

	result, err := r.chatsCollection.ReplaceOne(ctx, filter, &updated)
	if err != nil {
		return fmt.Errorf("%w: failed to replace chat: %v", services.ErrTransientIO, err)
	}

	if result.MatchedCount == 0 {
		// Either the chat vanished or another writer got there first. Drop
		// the cached copy so the caller's retry reloads from the store.
		r.invalidateChatCache(ctx, chat.ChatID)

		exists, countErr := r.chatExists(ctx, chat.ChatID)
		if countErr != nil {
			return countErr
		}
		if !exists {
			return services.ErrNotFound
		}
		return services.ErrVersionConflict
	}

	chat.Version = updated.Version
	r.cacheChat(ctx, chat)

	return nil
}

func (r *chatRepository) FindExpiredActiveChats(ctx context.Context, now time.Time, limit int) ([]*models.Chat, error) {
	filter := bson.M{
		"status":     models.ChatStatusActive,
		"expires_at": bson.M{"$lte": now},
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "expires_at", Value: 1}}).
		SetLimit(int64(limit))

	return r.findChatsWithFilter(ctx, filter, opts)
}

func (r *chatRepository) GetChatsByVehicle(ctx context.Context, vehicleNumber string, limit int) ([]*models.Chat, error) {
	filter := bson.M{"vehicle_number": vehicleNumber}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))

	return r.findChatsWithFilter(ctx, filter, opts)
}

// Helper methods
func (r *chatRepository) findChatsWithFilter(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*models.Chat, error) {
	cursor, err := r.chatsCollection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to find chats: %v", services.ErrTransientIO, err)
	}
	defer cursor.Close(ctx)

	var chats []*models.Chat
	for cursor.Next(ctx) {
		var chat models.Chat
		if err := cursor.Decode(&chat); err != nil {
			return nil, fmt.Errorf("%w: failed to decode chat: %v", services.ErrTransientIO, err)
		}
		chats = append(chats, &chat)
	}

	return chats, nil
}

func (r *chatRepository) chatExists(ctx context.Context, chatID string) (bool, error) {
	count, err := r.chatsCollection.CountDocuments(ctx, bson.M{"chat_id": chatID})
	if err != nil {
		return false, fmt.Errorf("%w: failed to check chat existence: %v", services.ErrTransientIO, err)
	}
	return count > 0, nil
}

// Cache operations
func (r *chatRepository) cacheChat(ctx context.Context, chat *models.Chat) {
	if r.cache != nil {
		cacheKey := fmt.Sprintf("chat:%s", chat.ChatID)
		r.cache.Set(ctx, cacheKey, chat, chatCacheTTL)
	}
}

func (r *chatRepository) invalidateChatCache(ctx context.Context, chatID string) {
	if r.cache != nil {
		r.cache.Delete(ctx, fmt.Sprintf("chat:%s", chatID))
	}
}

func (r *chatRepository) getChatFromCache(ctx context.Context, chatID string) *models.Chat {
	if r.cache == nil {
		return nil
	}

	cacheKey := fmt.Sprintf("chat:%s", chatID)
	var chat models.Chat
	err := r.cache.Get(ctx, cacheKey, &chat)
	if err != nil {
		return nil
	}

	return &chat
}
