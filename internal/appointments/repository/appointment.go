package repository

import (
	"context"
	"errors"
	"fmt"
	appointmentserrors "medislot/internal/appointments/errors"
	"medislot/pkg/config"
	mongotx "medislot/pkg/db/mongo"
	"medislot/pkg/model"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	CollectionName = "Appointments"
)

type AppointmentRepository interface {
	Create(ctx context.Context, appointment *model.Appointment) error
	FindByID(ctx context.Context, id string) (*model.Appointment, error)
	FindByPaymentReference(ctx context.Context, reference string) (*model.Appointment, error)
	FindActiveByProviderBetween(ctx context.Context, providerID string, from, to time.Time) ([]*model.Appointment, error)
	ListForActor(ctx context.Context, actor model.Actor, limit int, offset int64) ([]*model.Appointment, error)
	CountForActor(ctx context.Context, actor model.Actor) (int64, error)
	SetPaymentReference(ctx context.Context, id string, reference string) (*model.Appointment, error)
	CompareAndSet(ctx context.Context, id string, expect model.StateExpectation, next model.AppointmentState) (*model.Appointment, error)
	AttachRoom(ctx context.Context, id string, roomReference string, joinURL string) (*model.Appointment, error)
	ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error
}

type mongoAppointmentRepository struct {
	cfg        *config.Config
	collection *mongo.Collection
	txManager  mongotx.TransactionManager
}

func NewMongoAppointmentRepository(cfg *config.Config) AppointmentRepository {
	db := cfg.Client.Mongo.Database(cfg.MongoDatabaseName)
	return &mongoAppointmentRepository{
		cfg:        cfg,
		collection: db.Collection(CollectionName),
		txManager:  mongotx.NewTransactionManager(cfg.Client.Mongo),
	}
}

// Create inserts a new appointment. A unique-index violation on the provider's
// instant is reported as ErrSlotTaken.
func (r *mongoAppointmentRepository) Create(ctx context.Context, appointment *model.Appointment) error {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Millisecond)
	appointment.CreatedAt = now
	appointment.UpdatedAt = now
	appointment.HoldsSlot = appointment.Status != model.StatusCancelled

	result, err := r.collection.InsertOne(ctx, appointment)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return appointmentserrors.ErrSlotTaken
		}
		return fmt.Errorf("failed to create appointment: %w", err)
	}

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		appointment.ID = oid.Hex()
	}
	return nil
}

func (r *mongoAppointmentRepository) FindByID(ctx context.Context, id string) (*model.Appointment, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", appointmentserrors.ErrInvalidID, id)
	}

	return r.findOne(ctx, bson.M{"_id": objectID})
}

func (r *mongoAppointmentRepository) FindByPaymentReference(ctx context.Context, reference string) (*model.Appointment, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	if reference == "" {
		return nil, appointmentserrors.ErrNotFound
	}
	return r.findOne(ctx, bson.M{"payment_reference": reference})
}

// FindActiveByProviderBetween returns the provider's slot-holding appointments
// starting in [from, to), oldest first.
func (r *mongoAppointmentRepository) FindActiveByProviderBetween(ctx context.Context, providerID string, from, to time.Time) ([]*model.Appointment, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	filter := bson.M{
		"provider_id":  providerID,
		"holds_slot":   true,
		"scheduled_at": bson.M{"$gte": from.UTC(), "$lt": to.UTC()},
	}
	opts := options.Find().SetSort(bson.D{{Key: "scheduled_at", Value: 1}})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find provider appointments: %w", err)
	}
	defer cursor.Close(ctx)

	var appointments []*model.Appointment
	if err = cursor.All(ctx, &appointments); err != nil {
		return nil, fmt.Errorf("failed to decode appointments: %w", err)
	}
	return appointments, nil
}

func (r *mongoAppointmentRepository) ListForActor(ctx context.Context, actor model.Actor, limit int, offset int64) ([]*model.Appointment, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "scheduled_at", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(offset)

	cursor, err := r.collection.Find(ctx, actorFilter(actor), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list appointments: %w", err)
	}
	defer cursor.Close(ctx)

	var appointments []*model.Appointment
	if err = cursor.All(ctx, &appointments); err != nil {
		return nil, fmt.Errorf("failed to decode appointments: %w", err)
	}
	return appointments, nil
}

func (r *mongoAppointmentRepository) CountForActor(ctx context.Context, actor model.Actor) (int64, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	count, err := r.collection.CountDocuments(ctx, actorFilter(actor))
	if err != nil {
		return 0, fmt.Errorf("failed to count appointments: %w", err)
	}
	return count, nil
}

// SetPaymentReference stores the checkout reference on a scheduled, unpaid
// appointment that has none yet.
func (r *mongoAppointmentRepository) SetPaymentReference(ctx context.Context, id string, reference string) (*model.Appointment, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", appointmentserrors.ErrInvalidID, id)
	}

	filter := bson.M{
		"_id":               objectID,
		"status":            model.StatusScheduled,
		"payment_status":    model.PaymentPending,
		"payment_reference": bson.M{"$exists": false},
	}
	update := bson.M{"$set": bson.M{
		"payment_reference": reference,
		"updated_at":        time.Now().UTC().Truncate(time.Millisecond),
	}}

	return r.guardedUpdate(ctx, objectID, filter, update)
}

// CompareAndSet applies next only if the appointment still matches expect.
// Cancelling releases the provider's instant for new bookings.
func (r *mongoAppointmentRepository) CompareAndSet(ctx context.Context, id string, expect model.StateExpectation, next model.AppointmentState) (*model.Appointment, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", appointmentserrors.ErrInvalidID, id)
	}

	filter := bson.M{"_id": objectID}
	if len(expect.Statuses) > 0 {
		filter["status"] = bson.M{"$in": expect.Statuses}
	}
	if len(expect.PaymentStatuses) > 0 {
		filter["payment_status"] = bson.M{"$in": expect.PaymentStatuses}
	}

	set := bson.M{"updated_at": time.Now().UTC().Truncate(time.Millisecond)}
	if next.Status != "" {
		set["status"] = next.Status
		set["holds_slot"] = next.Status != model.StatusCancelled
	}
	if next.PaymentStatus != "" {
		set["payment_status"] = next.PaymentStatus
	}
	if next.CancelledBy != "" {
		set["cancelled_by"] = next.CancelledBy
	}
	if next.ConfirmedAt != nil {
		set["confirmed_at"] = next.ConfirmedAt.UTC()
	}
	if next.CancelledAt != nil {
		set["cancelled_at"] = next.CancelledAt.UTC()
	}

	return r.guardedUpdate(ctx, objectID, filter, bson.M{"$set": set})
}

// AttachRoom records the consultation room once. A second attach reports
// ErrRoomAlreadyAttached and leaves the first room in place.
func (r *mongoAppointmentRepository) AttachRoom(ctx context.Context, id string, roomReference string, joinURL string) (*model.Appointment, error) {
	ctx, cancel := mongotx.WithTimeout(ctx, r.cfg.WriteTimeout)
	defer cancel()

	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", appointmentserrors.ErrInvalidID, id)
	}

	filter := bson.M{
		"_id":            objectID,
		"room_reference": bson.M{"$exists": false},
	}
	update := bson.M{"$set": bson.M{
		"room_reference": roomReference,
		"join_url":       joinURL,
		"updated_at":     time.Now().UTC().Truncate(time.Millisecond),
	}}

	updated, err := r.guardedUpdate(ctx, objectID, filter, update)
	if errors.Is(err, appointmentserrors.ErrStateChanged) {
		return nil, appointmentserrors.ErrRoomAlreadyAttached
	}
	return updated, err
}

func (r *mongoAppointmentRepository) ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error {
	return r.txManager.ExecuteTransaction(ctx, fn)
}

func (r *mongoAppointmentRepository) findOne(ctx context.Context, filter bson.M) (*model.Appointment, error) {
	var appointment model.Appointment
	err := r.collection.FindOne(ctx, filter).Decode(&appointment)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, appointmentserrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find appointment: %w", err)
	}
	return &appointment, nil
}

// guardedUpdate runs a filtered FindOneAndUpdate and tells a missing document
// apart from one whose state no longer matches the filter.
func (r *mongoAppointmentRepository) guardedUpdate(ctx context.Context, objectID primitive.ObjectID, filter, update bson.M) (*model.Appointment, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated model.Appointment
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&updated)
	if err == nil {
		return &updated, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to update appointment: %w", err)
	}

	count, countErr := r.collection.CountDocuments(ctx, bson.M{"_id": objectID})
	if countErr != nil {
		return nil, fmt.Errorf("failed to check appointment existence: %w", countErr)
	}
	if count == 0 {
		return nil, appointmentserrors.ErrNotFound
	}
	return nil, appointmentserrors.ErrStateChanged
}

func actorFilter(actor model.Actor) bson.M {
	switch actor.Role {
	case model.RoleAdmin:
		return bson.M{}
	case model.RoleProvider:
		return bson.M{"provider_id": actor.ID}
	default:
		return bson.M{"patient_id": actor.ID}
	}
}
