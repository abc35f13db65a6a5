package mongo

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cardbridge-reconciler/internal/domain/audit"
)

const (
	// AuditCollectionName is the name of the audit collection in MongoDB
	AuditCollectionName = "corrective_audit"
)

// AuditRepository implements the audit.Repository interface for MongoDB
type AuditRepository struct {
	db     *mongo.Database
	logger *slog.Logger
}

// NewAuditRepository creates a new MongoDB audit repository
func NewAuditRepository(logger *slog.Logger, db *mongo.Database) audit.Repository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Create stores a new audit entry. Entries are append-only; every corrective
// operation attempt writes exactly one, whatever its outcome.
func (r *AuditRepository) Create(ctx context.Context, entry *audit.Entry) error {
	collection := r.db.Collection(AuditCollectionName)

	_, err := collection.InsertOne(ctx, entry)
	if err != nil {
		r.logger.Error("Failed to create audit entry",
			"txn_id", entry.TxnID,
			"operation", string(entry.Operation),
			"error", err)
		return fmt.Errorf("failed to create audit entry: %w", err)
	}

	return nil
}

// GetByTxnID retrieves paginated audit entries for a transaction.
// Results are sorted by creation time in descending order (newest first).
func (r *AuditRepository) GetByTxnID(ctx context.Context, txnID string, limit, offset int) ([]*audit.Entry, error) {
	collection := r.db.Collection(AuditCollectionName)

	filter := bson.M{"txn_id": txnID}
	opts := options.Find().
		SetSort(bson.M{"created_at": -1}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		r.logger.Error("Failed to get audit entries",
			"txn_id", txnID,
			"error", err)
		return nil, fmt.Errorf("failed to get audit entries: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []*audit.Entry
	if err := cursor.All(ctx, &entries); err != nil {
		r.logger.Error("Failed to decode audit entries",
			"txn_id", txnID,
			"error", err)
		return nil, fmt.Errorf("failed to decode audit entries: %w", err)
	}

	return entries, nil
}

// CountByTxnID counts the total number of audit entries for a transaction
func (r *AuditRepository) CountByTxnID(ctx context.Context, txnID string) (int64, error) {
	collection := r.db.Collection(AuditCollectionName)

	filter := bson.M{"txn_id": txnID}
	count, err := collection.CountDocuments(ctx, filter)
	if err != nil {
		r.logger.Error("Failed to count audit entries",
			"txn_id", txnID,
			"error", err)
		return 0, fmt.Errorf("failed to count audit entries: %w", err)
	}

	return count, nil
}
