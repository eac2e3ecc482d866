package identity

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

var ErrUserNotFound = errors.New("user not found")

// Resolver maps usernames to stable user IDs. Collaborator grants are
// entered by username in the UI but stored by ID.
type Resolver interface {
	ResolveUsername(ctx context.Context, username string) (string, error)
}

type mongoResolver struct {
	collection *mongo.Collection
}

func NewMongoResolver(db *mongo.Database) Resolver {
	return &mongoResolver{
		collection: db.Collection("users"),
	}
}

func (m *mongoResolver) ResolveUsername(ctx context.Context, username string) (string, error) {
	var user struct {
		ID string `bson:"_id"`
	}

	filter := bson.M{"username": username}
	err := m.collection.FindOne(ctx, filter).Decode(&user)

	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("failed to resolve username: %w", err)
	}

	return user.ID, nil
}
