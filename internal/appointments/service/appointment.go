package service

import (
	"context"
	"errors"
	appointmentserrors "medislot/internal/appointments/errors"
	"medislot/internal/appointments/repository"
	"medislot/internal/appointments/validator"
	"medislot/internal/slots"
	"medislot/pkg/config"
	apperrors "medislot/pkg/errors"
	"medislot/pkg/gateway"
	"medislot/pkg/identity"
	"medislot/pkg/metrics"
	"medislot/pkg/model"
	"medislot/pkg/video"
	"sync"
	"time"
)

// RuleSource supplies a provider's active weekly availability rules.
type RuleSource interface {
	ActiveRules(ctx context.Context, providerID string) ([]model.AvailabilityRule, error)
}

// Notifier delivers a notification without reporting failures back.
type Notifier interface {
	Send(ctx context.Context, userID string, kind model.NotificationKind, payload map[string]any)
}

// SlotListing is the bookable grid of one provider for one local day.
type SlotListing struct {
	ProviderID      string       `json:"provider_id"`
	Date            string       `json:"date"`
	TimeZone        string       `json:"time_zone"`
	DurationMinutes int          `json:"duration_minutes"`
	BufferMinutes   int          `json:"buffer_minutes"`
	Slots           []slots.Slot `json:"slots"`
}

type AppointmentService interface {
	AvailableSlots(ctx context.Context, providerID string, date string, durationMinutes int) (*SlotListing, error)
	CreateBooking(ctx context.Context, actor model.Actor, req *model.BookingRequest) (*model.Appointment, error)
	AnnounceBooking(ctx context.Context, appointment *model.Appointment)
	Get(ctx context.Context, actor model.Actor, id string) (*model.Appointment, error)
	ListForActor(ctx context.Context, actor model.Actor, limit int, offset int64) ([]*model.Appointment, int64, error)
	Cancel(ctx context.Context, actor model.Actor, id string) (*model.Appointment, error)
	Waive(ctx context.Context, actor model.Actor, id string) (*model.Appointment, error)
	ConfirmPayment(ctx context.Context, id string, gatewayReference string) (*model.Appointment, bool, error)
	StartSession(ctx context.Context, id string) (*model.Appointment, error)
	CompleteSession(ctx context.Context, id string) (*model.Appointment, error)
	Join(ctx context.Context, actor model.Actor, id string) (*model.JoinInfo, error)
	EnsureRoom(ctx context.Context, appointment *model.Appointment) (*model.Appointment, error)
}

type appointmentService struct {
	repo        repository.AppointmentRepository
	lockRepo    repository.BookingLockRepository
	rules       RuleSource
	directory   identity.Directory
	gateway     gateway.Gateway
	provisioner video.Provisioner
	notifier    Notifier
	metrics     *metrics.SchedulingMetrics
	validator   *validator.BookingValidator
	cfg         *config.Config
	now         func() time.Time
}

func NewAppointmentService(
	repo repository.AppointmentRepository,
	lockRepo repository.BookingLockRepository,
	rules RuleSource,
	directory identity.Directory,
	gw gateway.Gateway,
	provisioner video.Provisioner,
	notifier Notifier,
	m *metrics.SchedulingMetrics,
	validator *validator.BookingValidator,
	cfg *config.Config,
) AppointmentService {
	return &appointmentService{
		repo:        repo,
		lockRepo:    lockRepo,
		rules:       rules,
		directory:   directory,
		gateway:     gw,
		provisioner: provisioner,
		notifier:    notifier,
		metrics:     m,
		validator:   validator,
		cfg:         cfg,
		now:         time.Now,
	}
}

func (s *appointmentService) Get(ctx context.Context, actor model.Actor, id string) (*model.Appointment, error) {
	appointment, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !appointment.IsParticipant(actor.ID) {
		return nil, apperrors.Forbidden("You are not a participant of this appointment")
	}
	return appointment, nil
}

func (s *appointmentService) ListForActor(ctx context.Context, actor model.Actor, limit int, offset int64) ([]*model.Appointment, int64, error) {
	var count int64
	var appointments []*model.Appointment
	var errCount, errFind error
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		var err error
		count, err = s.repo.CountForActor(ctx, actor)
		if err != nil {
			s.cfg.Log.Error("Failed to count appointments", "actor_id", actor.ID, "error", err)
			errCount = apperrors.Internal("Failed to count appointments", err)
		}
	}()

	go func() {
		defer wg.Done()
		var err error
		appointments, err = s.repo.ListForActor(ctx, actor, limit, offset)
		if err != nil {
			s.cfg.Log.Error("Failed to list appointments",
				"actor_id", actor.ID,
				"limit", limit,
				"offset", offset,
				"error", err,
			)
			errFind = apperrors.Internal("Failed to retrieve appointments", err)
		}
	}()

	wg.Wait()
	if errCount != nil {
		return nil, 0, errCount
	}
	if errFind != nil {
		return nil, 0, errFind
	}
	return appointments, count, nil
}

// --- Helpers ---

func (s *appointmentService) find(ctx context.Context, id string) (*model.Appointment, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("Appointment ID cannot be empty")
	}

	appointment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, s.mapRepoError(err, id, "Failed to retrieve appointment")
	}
	return appointment, nil
}

func (s *appointmentService) mapRepoError(err error, id string, message string) error {
	switch {
	case errors.Is(err, appointmentserrors.ErrNotFound):
		return apperrors.NotFoundWithID("Appointment", id)
	case errors.Is(err, appointmentserrors.ErrInvalidID):
		return apperrors.InvalidInput("Invalid appointment ID format")
	case apperrors.IsAppError(err):
		return err
	default:
		return apperrors.Internal(message, err)
	}
}

func (s *appointmentService) notify(ctx context.Context, userID string, kind model.NotificationKind, appointment *model.Appointment, extra map[string]any) {
	if s.notifier == nil {
		return
	}
	payload := map[string]any{
		"appointment_id": appointment.ID,
		"provider_id":    appointment.ProviderID,
		"patient_id":     appointment.PatientID,
		"scheduled_at":   appointment.ScheduledAt,
		"status":         appointment.Status,
		"payment_status": appointment.PaymentStatus,
	}
	for k, v := range extra {
		payload[k] = v
	}
	s.notifier.Send(ctx, userID, kind, payload)
}
