package repository

import (
	"context"
	"fmt"
	appointmentserrors "medislot/internal/appointments/errors"
	"medislot/pkg/config"
	mongotx "medislot/pkg/db/mongo"
	"medislot/pkg/model"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const LockCollectionName = "Booking_locks"

// BookingLockRepository stores advisory per-provider booking locks.
type BookingLockRepository interface {
	Acquire(ctx context.Context, lock *model.BookingLock) error
	Release(ctx context.Context, lockID string, owner string) error
}

type mongoBookingLockRepository struct {
	cfg        *config.Config
	collection *mongo.Collection
}

func NewBookingLockRepository(cfg *config.Config) BookingLockRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoBookingLockRepository{
		cfg:        cfg,
		collection: db.Collection(LockCollectionName),
	}
}

// Acquire inserts the lock, or takes over a lock whose expiry has passed but
// which the TTL monitor has not removed yet. A live lock yields ErrLockHeld.
func (r *mongoBookingLockRepository) Acquire(ctx context.Context, lock *model.BookingLock) error {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	now := time.Now().UTC()
	lock.CreatedAt = now

	_, err := r.collection.InsertOne(ctx, lock)
	if err == nil {
		return nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("failed to acquire booking lock: %w", err)
	}

	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": lock.ID, "expires_at": bson.M{"$lte": now}},
		bson.M{"$set": bson.M{
			"owner":      lock.Owner,
			"expires_at": lock.ExpiresAt,
			"created_at": now,
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to take over expired booking lock: %w", err)
	}
	if result.MatchedCount == 0 {
		return appointmentserrors.ErrLockHeld
	}
	return nil
}

// Release deletes the lock only if owner still holds it.
func (r *mongoBookingLockRepository) Release(ctx context.Context, lockID string, owner string) error {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	_, err := r.collection.DeleteOne(ctx, bson.M{"_id": lockID, "owner": owner})
	if err != nil {
		return fmt.Errorf("failed to release booking lock: %w", err)
	}
	return nil
}
