package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	usersCollection         = "users"
	conversationsCollection = "conversations"

	// mongoConnectTimeout bounds server selection during startup.
	mongoConnectTimeout = 5 * time.Second

	// mongoMaxPoolSize caps concurrent connections to the cluster.
	mongoMaxPoolSize = 10
)

// MongoStore implements Store on top of MongoDB.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	logger *slog.Logger
}

// NewMongoStore connects to MongoDB, pings the deployment and ensures the
// indexes the queries rely on.
func NewMongoStore(ctx context.Context, uri, database string, logger *slog.Logger) (*MongoStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(mongoMaxPoolSize).
		SetServerSelectionTimeout(mongoConnectTimeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	s := &MongoStore{
		client: client,
		db:     client.Database(database),
		logger: logger,
	}

	if err := s.ensureIndexes(ctx); err != nil {
		// Index creation can fail on restricted deployments; queries still
		// work without them, just slower.
		logger.Warn("could not create MongoDB indexes", "error", err)
	}

	logger.Info("connected to MongoDB", "database", database)
	return s, nil
}

// ensureIndexes creates the indexes used by user lookups and conversation
// listing.
func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(usersCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("users email index: %w", err)
	}

	_, err = s.db.Collection(conversationsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "user_id", Value: 1},
			{Key: "updated_at", Value: -1},
		},
	})
	if err != nil {
		return fmt.Errorf("conversations user_id index: %w", err)
	}

	return nil
}

// UpsertUser creates or replaces the user record keyed by Google subject ID.
func (s *MongoStore) UpsertUser(ctx context.Context, user *User) error {
	if user == nil || user.ID == "" {
		return fmt.Errorf("user with Google subject ID is required")
	}

	now := time.Now().UTC()
	user.UpdatedAt = now

	update := bson.M{
		"$set": bson.M{
			"email":         user.Email,
			"name":          user.Name,
			"picture":       user.Picture,
			"access_token":  user.AccessToken,
			"refresh_token": user.RefreshToken,
			"token_expiry":  user.TokenExpiry,
			"updated_at":    user.UpdatedAt,
		},
		"$setOnInsert": bson.M{
			"created_at": now,
		},
	}

	_, err := s.db.Collection(usersCollection).UpdateByID(ctx, user.ID, update,
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}

	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	return nil
}

// GetUser returns the user by Google subject ID.
func (s *MongoStore) GetUser(ctx context.Context, id string) (*User, error) {
	var user User
	err := s.db.Collection(usersCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &user, nil
}

// UpdateTokens persists a refreshed access token and its expiry.
func (s *MongoStore) UpdateTokens(ctx context.Context, id, accessToken string, expiry time.Time) error {
	res, err := s.db.Collection(usersCollection).UpdateByID(ctx, id, bson.M{
		"$set": bson.M{
			"access_token": accessToken,
			"token_expiry": expiry,
			"updated_at":   time.Now().UTC(),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to update tokens: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// GetConversation returns the conversation by ID, scoped to the user.
func (s *MongoStore) GetConversation(ctx context.Context, userID, id string) (*Conversation, error) {
	var conv Conversation
	err := s.db.Collection(conversationsCollection).
		FindOne(ctx, bson.M{"_id": id, "user_id": userID}).
		Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return &conv, nil
}

// SaveConversation inserts or replaces the conversation.
func (s *MongoStore) SaveConversation(ctx context.Context, conv *Conversation) error {
	if conv == nil || conv.ID == "" {
		return fmt.Errorf("conversation with ID is required")
	}

	conv.UpdatedAt = time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = conv.UpdatedAt
	}

	_, err := s.db.Collection(conversationsCollection).ReplaceOne(ctx,
		bson.M{"_id": conv.ID},
		conv,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

// ListConversations returns the user's conversations, most recent first.
func (s *MongoStore) ListConversations(ctx context.Context, userID string, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = 20
	}

	cursor, err := s.db.Collection(conversationsCollection).Find(ctx,
		bson.M{"user_id": userID},
		options.Find().
			SetSort(bson.D{{Key: "updated_at", Value: -1}}).
			SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer cursor.Close(ctx)

	var convs []*Conversation
	if err := cursor.All(ctx, &convs); err != nil {
		return nil, fmt.Errorf("failed to decode conversations: %w", err)
	}
	return convs, nil
}

// Ping verifies connectivity to the deployment.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects from MongoDB.
func (s *MongoStore) Close(ctx context.Context) error {
	s.logger.Info("closing MongoDB connection")
	return s.client.Disconnect(ctx)
}
