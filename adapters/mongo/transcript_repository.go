package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/chkda/transcription-service/domain/entities"
)

// TranscriptRepository archives transcripts in a MongoDB collection
type TranscriptRepository struct {
	collection *mongo.Collection
}

// NewTranscriptRepository creates a new MongoDB transcript repository
func NewTranscriptRepository(db *mongo.Database) *TranscriptRepository {
	return &TranscriptRepository{
		collection: db.Collection("transcripts"),
	}
}

// EnsureIndexes creates the indexes used by listing and purging
func (r *TranscriptRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "sequence", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create transcript indexes: %w", err)
	}
	return nil
}

func (r *TranscriptRepository) Save(ctx context.Context, record *entities.TranscriptRecord) error {
	if record == nil {
		return errors.New("record cannot be nil")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	if _, err := r.collection.InsertOne(ctx, record); err != nil {
		return fmt.Errorf("failed to save transcript: %w", err)
	}
	return nil
}

func (r *TranscriptRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]*entities.TranscriptRecord, error) {
	if sessionID == "" {
		return nil, errors.New("session ID cannot be empty")
	}

	opts := options.Find().SetSort(bson.M{"sequence": 1})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctx, bson.M{"session_id": sessionID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find transcripts for session %s: %w", sessionID, err)
	}
	defer cursor.Close(ctx)

	var records []*entities.TranscriptRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode transcripts: %w", err)
	}
	return records, nil
}

func (r *TranscriptRepository) Purge(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.collection.DeleteMany(ctx, bson.M{"created_at": bson.M{"$lt": before}})
	if err != nil {
		return 0, fmt.Errorf("failed to purge transcripts: %w", err)
	}
	return result.DeletedCount, nil
}
