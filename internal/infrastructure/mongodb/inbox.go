package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const processedMessagesCollection = "processed_messages"

// ProcessedMessage is one settled queue message
type ProcessedMessage struct {
	ID            primitive.ObjectID `bson:"_id,omitempty"`
	MessageID     string             `bson:"messageId"`
	ConsumerGroup string             `bson:"consumerGroup"`
	Disposition   string             `bson:"disposition"`
	Reason        string             `bson:"reason,omitempty"`
	ProcessedAt   time.Time          `bson:"processedAt"`
	ExpiresAt     time.Time          `bson:"expiresAt"` // TTL index
}

// Inbox records settled message ids per consumer group.
type Inbox struct {
	collection    *mongo.Collection
	consumerGroup string
	ttl           time.Duration
	now           func() time.Time
}

// NewInbox creates an inbox for one consumer group. Entries expire after ttl.
func NewInbox(db *mongo.Database, consumerGroup string, ttl time.Duration) *Inbox {
	return &Inbox{
		collection:    db.Collection(processedMessagesCollection),
		consumerGroup: consumerGroup,
		ttl:           ttl,
		now:           time.Now,
	}
}

// IsProcessed checks if a message has already been settled
func (i *Inbox) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	filter := bson.M{
		"messageId":     messageID,
		"consumerGroup": i.consumerGroup,
	}

	count, err := i.collection.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to query inbox: %w", err)
	}
	return count > 0, nil
}

// MarkProcessed records a settled message. Recording the same message twice
// is not an error.
func (i *Inbox) MarkProcessed(ctx context.Context, messageID, disposition, reason string) error {
	now := i.now().UTC()
	_, err := i.collection.InsertOne(ctx, &ProcessedMessage{
		MessageID:     messageID,
		ConsumerGroup: i.consumerGroup,
		Disposition:   disposition,
		Reason:        reason,
		ProcessedAt:   now,
		ExpiresAt:     now.Add(i.ttl),
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("failed to record processed message: %w", err)
	}
	return nil
}

// EnsureIndexes ensures that all required indexes are created
func (i *Inbox) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "messageId", Value: 1},
				{Key: "consumerGroup", Value: 1},
			},
			Options: options.Index().SetUnique(true).SetName("idx_msg_group"),
		},
		{
			Keys: bson.D{
				{Key: "expiresAt", Value: 1},
			},
			Options: options.Index().SetExpireAfterSeconds(0).SetName("idx_ttl"),
		},
	}

	if _, err := i.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create inbox indexes: %w", err)
	}
	return nil
}
