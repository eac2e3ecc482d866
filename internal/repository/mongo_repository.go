package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/omer3110/livecart-service/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	ErrCartNotFound  = errors.New("cart not found")
	ErrGrantNotFound = errors.New("grant not found")
)

const (
	cartsCollection  = "carts"
	grantsCollection = "collaborator_grants"
)

// EnsureIndexes creates the indexes this service relies on: at most one
// grant per cart/user pair. Runs once at connect time.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "cart_id", Value: 1}, {Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}

	_, err := db.Collection(grantsCollection).Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create grant indexes: %w", err)
	}

	return nil
}

type mongoCartRepository struct {
	collection *mongo.Collection
}

func NewMongoCartRepository(db *mongo.Database) CartRepository {
	return &mongoCartRepository{
		collection: db.Collection(cartsCollection),
	}
}

func (m *mongoCartRepository) GetCart(ctx context.Context, cartID string) (*domain.CartSnapshot, error) {
	var snapshot domain.CartSnapshot

	filter := bson.M{"_id": cartID}
	err := m.collection.FindOne(ctx, filter).Decode(&snapshot)

	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	return &snapshot, nil
}

// PersistCart upserts the snapshot. The update timestamp is stamped on
// a copy; the caller's snapshot stays exactly as published.
func (m *mongoCartRepository) PersistCart(ctx context.Context, snapshot *domain.CartSnapshot) error {
	doc := snapshot.Clone()
	doc.UpdatedAt = time.Now()

	filter := bson.M{"_id": doc.CartID}
	update := bson.M{"$set": doc}
	opts := options.Update().SetUpsert(true)

	_, err := m.collection.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		return fmt.Errorf("failed to persist cart: %w", err)
	}

	return nil
}

func (m *mongoCartRepository) ListCartIDsByOwner(ctx context.Context, ownerID string) ([]string, error) {
	filter := bson.M{"owner_id": ownerID}
	opts := options.Find().SetProjection(bson.M{"_id": 1})

	cursor, err := m.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list carts: %w", err)
	}
	defer cursor.Close(ctx)

	var ids []string
	for cursor.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode cart id: %w", err)
		}
		ids = append(ids, doc.ID)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error listing carts: %w", err)
	}

	return ids, nil
}

type mongoGrantRepository struct {
	collection *mongo.Collection
}

func NewMongoGrantRepository(db *mongo.Database) GrantRepository {
	return &mongoGrantRepository{
		collection: db.Collection(grantsCollection),
	}
}

func (m *mongoGrantRepository) CreateGrant(ctx context.Context, grant *domain.CollaboratorGrant) error {
	if grant.GrantedAt.IsZero() {
		grant.GrantedAt = time.Now()
	}

	// A re-grant after revocation replaces the old record.
	filter := bson.M{"cart_id": grant.CartID, "user_id": grant.UserID}
	update := bson.M{"$set": bson.M{
		"cart_id":    grant.CartID,
		"user_id":    grant.UserID,
		"username":   grant.Username,
		"granted_by": grant.GrantedBy,
		"granted_at": grant.GrantedAt,
		"revoked_at": nil,
	}}
	opts := options.Update().SetUpsert(true)

	_, err := m.collection.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		return fmt.Errorf("failed to create grant: %w", err)
	}

	return nil
}

func (m *mongoGrantRepository) GetGrant(ctx context.Context, cartID, userID string) (*domain.CollaboratorGrant, error) {
	var grant domain.CollaboratorGrant

	filter := bson.M{"cart_id": cartID, "user_id": userID}
	err := m.collection.FindOne(ctx, filter).Decode(&grant)

	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrGrantNotFound
		}
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}

	return &grant, nil
}

func (m *mongoGrantRepository) RevokeGrant(ctx context.Context, cartID, userID string) error {
	filter := bson.M{"cart_id": cartID, "user_id": userID, "revoked_at": nil}
	update := bson.M{"$set": bson.M{"revoked_at": time.Now()}}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to revoke grant: %w", err)
	}

	if result.MatchedCount == 0 {
		return ErrGrantNotFound
	}

	return nil
}

func (m *mongoGrantRepository) ListGrants(ctx context.Context, cartID string) ([]domain.CollaboratorGrant, error) {
	filter := bson.M{"cart_id": cartID, "revoked_at": nil}

	cursor, err := m.collection.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	defer cursor.Close(ctx)

	var grants []domain.CollaboratorGrant
	if err := cursor.All(ctx, &grants); err != nil {
		return nil, fmt.Errorf("failed to decode grants: %w", err)
	}

	return grants, nil
}
