package mongo

import (
	"context"
	"fmt"
	appointmentsrepo "medislot/internal/appointments/repository"
	availabilityrepo "medislot/internal/availability/repository"
	"medislot/internal/migrations/mongo/validators"
	"medislot/pkg/identity"
	"medislot/pkg/logger"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SlotIndexName is the unique index that stops two live appointments from
// sharing a provider start time.
const SlotIndexName = "provider_slot_unique"

var (
	slotIndexOptions      = options.Index().SetName(SlotIndexName).SetUnique(true).SetPartialFilterExpression(bson.M{"holds_slot": true})
	referenceIndexOptions = options.Index().SetUnique(true).SetPartialFilterExpression(bson.M{"payment_reference": bson.M{"$exists": true}})
)

var (
	AppointmentsIndexes = []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "provider_id", Value: 1}, {Key: "scheduled_at", Value: 1}},
			Options: slotIndexOptions,
		},
		{Keys: bson.D{
			{Key: "provider_id", Value: 1},
			{Key: "holds_slot", Value: 1},
			{Key: "scheduled_at", Value: 1},
		}},
		{
			Keys:    bson.D{{Key: "payment_reference", Value: 1}},
			Options: referenceIndexOptions,
		},
		{Keys: bson.D{{Key: "patient_id", Value: 1}, {Key: "scheduled_at", Value: -1}}},
		{Keys: bson.D{{Key: "provider_id", Value: 1}, {Key: "scheduled_at", Value: -1}}},
	}

	AvailabilityRulesIndexes = []mongo.IndexModel{
		{Keys: bson.D{
			{Key: "provider_id", Value: 1},
			{Key: "active", Value: 1},
			{Key: "day_of_week", Value: 1},
			{Key: "start_time", Value: 1},
		}},
	}

	BookingLocksIndexes = []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	}

	ProfilesIndexes = []mongo.IndexModel{
		{Keys: bson.D{{Key: "role", Value: 1}, {Key: "active", Value: 1}}},
	}
)

type collectionDef struct {
	Indexes   []mongo.IndexModel
	Validator bson.M
}

// collections lists every collection the services read or write.
func collections() map[string]collectionDef {
	return map[string]collectionDef{
		appointmentsrepo.CollectionName: {
			Indexes:   AppointmentsIndexes,
			Validator: validators.AppointmentValidator,
		},
		appointmentsrepo.LockCollectionName: {
			Indexes:   BookingLocksIndexes,
			Validator: validators.BookingLockValidator,
		},
		availabilityrepo.CollectionName: {
			Indexes:   AvailabilityRulesIndexes,
			Validator: validators.AvailabilityRuleValidator,
		},
		identity.CollectionName: {
			Indexes:   ProfilesIndexes,
			Validator: validators.ProfileValidator,
		},
	}
}

func RunMigration(ctx context.Context, client *mongo.Client, dbName string, log *logger.Logger) error {
	db := client.Database(dbName)
	log.Info("Running Mongo migrations", "database", dbName)

	for name, def := range collections() {
		if err := ensureCollection(ctx, db, name, def.Validator, log); err != nil {
			return fmt.Errorf("failed to ensure collection %s: %w", name, err)
		}
		if err := ensureIndexes(ctx, db, name, def.Indexes, log); err != nil {
			return fmt.Errorf("failed to ensure indexes for %s: %w", name, err)
		}
	}

	log.Info("All migrations applied")
	return nil
}

func ensureCollection(ctx context.Context, db *mongo.Database, name string, validator bson.M, log *logger.Logger) error {
	existing, err := db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: name}})
	if err != nil {
		return err
	}

	if len(existing) == 0 {
		log.Info("Creating collection", "collection", name)
		opts := options.CreateCollection().SetValidator(validator)
		if err := db.CreateCollection(ctx, name, opts); err != nil {
			return fmt.Errorf("failed creating %s: %w", name, err)
		}
		return nil
	}

	log.Info("Collection exists, updating validator", "collection", name)
	command := bson.D{
		{Key: "collMod", Value: name},
		{Key: "validator", Value: validator},
	}
	if err := db.RunCommand(ctx, command).Err(); err != nil {
		log.Warn("Failed updating validator", "collection", name, "error", err)
	}
	return nil
}

func ensureIndexes(ctx context.Context, db *mongo.Database, name string, models []mongo.IndexModel, log *logger.Logger) error {
	_, err := db.Collection(name).Indexes().CreateMany(ctx, models)
	if err != nil {
		return err
	}
	log.Info("Ensured indexes", "collection", name, "count", len(models))
	return nil
}
