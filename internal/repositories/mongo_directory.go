package repositories

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"chat-realtime/internal/models"
)

const (
	chatsCollection       = "chats"
	friendshipsCollection = "friendships"
)

// MongoDirectory reads chats and friendships from the document store.
type MongoDirectory struct {
	db *mongo.Database
}

// NewMongoDirectory constructs a MongoDirectory.
func NewMongoDirectory(db *mongo.Database) *MongoDirectory {
	return &MongoDirectory{db: db}
}

// ChatParticipants returns the participant ids of a chat.
func (r *MongoDirectory) ChatParticipants(ctx context.Context, chatID string) ([]string, error) {
	var doc struct {
		Participants []any `bson:"participants"`
	}
	opts := options.FindOne().SetProjection(bson.M{"participants": 1})
	err := r.db.Collection(chatsCollection).FindOne(ctx, bson.M{"_id": docID(chatID)}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrChatNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find chat %s: %w", chatID, err)
	}

	ids := make([]string, 0, len(doc.Participants))
	for _, p := range doc.Participants {
		if id := idString(p); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// FriendIDs returns the users with an accepted friendship with userID.
func (r *MongoDirectory) FriendIDs(ctx context.Context, userID string) ([]string, error) {
	id := docID(userID)
	filter := bson.M{
		"status": models.FriendshipAccepted,
		"$or": bson.A{
			bson.M{"requester": id},
			bson.M{"recipient": id},
		},
	}
	cursor, err := r.db.Collection(friendshipsCollection).Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("find friendships of %s: %w", userID, err)
	}
	defer cursor.Close(ctx)

	var docs []struct {
		Requester any `bson:"requester"`
		Recipient any `bson:"recipient"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode friendships of %s: %w", userID, err)
	}

	friends := make([]string, 0, len(docs))
	for _, d := range docs {
		other := idString(d.Requester)
		if other == userID {
			other = idString(d.Recipient)
		}
		if other != "" && other != userID {
			friends = append(friends, other)
		}
	}
	return friends, nil
}

// docID matches documents keyed by ObjectID as well as by plain string.
func docID(id string) any {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return oid
	}
	return id
}

func idString(v any) string {
	switch id := v.(type) {
	case primitive.ObjectID:
		return id.Hex()
	case string:
		return id
	default:
		return ""
	}
}
