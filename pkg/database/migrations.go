package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureChatIndexes creates the indexes the chat collection depends on:
//
//   - unique chat_id: the only lookup key for a chat
//   - partial unique (vehicle_number, status=active): closes the
//     lookup-then-insert race so one vehicle never holds two live chats
//   - expires_at TTL with a retention delay: terminal documents stay
//     queryable for history, then the store reclaims them
func EnsureChatIndexes(ctx context.Context, db *mongo.Database, retention time.Duration) error {
	chats := db.Collection("chats")

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "chat_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("chat_id_unique"),
		},
		{
			Keys: bson.D{{Key: "vehicle_number", Value: 1}, {Key: "status", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetName("vehicle_active_unique").
				SetPartialFilterExpression(bson.M{"status": "active"}),
		},
		{
			Keys:    bson.D{{Key: "vehicle_number", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("vehicle_history"),
		},
		{
			Keys: bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().
				SetName("expires_at_ttl").
				SetExpireAfterSeconds(int32(retention.Seconds())),
		},
	}

	_, err := chats.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create chat indexes: %w", err)
	}

	return nil
}
