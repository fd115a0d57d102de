package service

import (
	"context"
	"errors"
	appointmentserrors "medislot/internal/appointments/errors"
	"medislot/pkg/config"
	apperrors "medislot/pkg/errors"
	"medislot/pkg/gateway"
	"medislot/pkg/identity"
	"medislot/pkg/metrics"
	"medislot/pkg/model"
	"medislot/pkg/retry"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Outcome is the result of one reconciliation attempt. It doubles as the
// error code handed back to the payer on the failure redirect.
type Outcome string

const (
	OutcomeConfirmed        Outcome = "confirmed"
	OutcomeAlreadyConfirmed Outcome = "already_confirmed"
	OutcomeNotVerified      Outcome = "not_verified"
	OutcomeNotFound         Outcome = "not_found"
	OutcomeCancelled        Outcome = "appointment_cancelled"
	OutcomeAmountMismatch   Outcome = "amount_mismatch"
	OutcomeInvalidReference Outcome = "invalid_reference"
	OutcomeGatewayError     Outcome = "gateway_error"
	OutcomeError            Outcome = "internal_error"
)

// Result reports what reconciliation did. It is never an error: every
// failure maps to an outcome the caller can redirect on.
type Result struct {
	Outcome       Outcome `json:"outcome"`
	Reference     string  `json:"reference"`
	AppointmentID string  `json:"appointment_id,omitempty"`
}

func (r Result) Succeeded() bool {
	return r.Outcome == OutcomeConfirmed || r.Outcome == OutcomeAlreadyConfirmed
}

// Retryable reports whether the gateway should deliver the event again.
func (r Result) Retryable() bool {
	return r.Outcome == OutcomeGatewayError || r.Outcome == OutcomeError
}

// AppointmentStore is the slice of the appointment repository payments need.
type AppointmentStore interface {
	FindByID(ctx context.Context, id string) (*model.Appointment, error)
	FindByPaymentReference(ctx context.Context, reference string) (*model.Appointment, error)
	SetPaymentReference(ctx context.Context, id string, reference string) (*model.Appointment, error)
}

// Confirmer applies a verified payment to the appointment state machine.
type Confirmer interface {
	ConfirmPayment(ctx context.Context, id string, gatewayReference string) (*model.Appointment, bool, error)
}

type Notifier interface {
	Send(ctx context.Context, userID string, kind model.NotificationKind, payload map[string]any)
}

type PaymentService interface {
	Initiate(ctx context.Context, actor model.Actor, appointmentID string) (*model.PaymentInitiation, error)
	Reconcile(ctx context.Context, reference string) Result
}

type paymentService struct {
	store     AppointmentStore
	confirmer Confirmer
	directory identity.Directory
	gateway   gateway.Gateway
	notifier  Notifier
	metrics   *metrics.SchedulingMetrics
	cfg       *config.Config
}

func NewPaymentService(
	store AppointmentStore,
	confirmer Confirmer,
	directory identity.Directory,
	gw gateway.Gateway,
	notifier Notifier,
	m *metrics.SchedulingMetrics,
	cfg *config.Config,
) PaymentService {
	return &paymentService{
		store:     store,
		confirmer: confirmer,
		directory: directory,
		gateway:   gw,
		notifier:  notifier,
		metrics:   m,
		cfg:       cfg,
	}
}

// Initiate opens a checkout for an unpaid appointment. The reference is
// generated once and stored before the gateway is called, so a second
// attempt reuses it and reconciliation can always find the appointment.
func (s *paymentService) Initiate(ctx context.Context, actor model.Actor, appointmentID string) (*model.PaymentInitiation, error) {
	appointment, err := s.find(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appointment.PatientID != actor.ID {
		return nil, apperrors.Validation("Only the patient who booked can pay for this appointment", map[string]any{"appointment_id": appointmentID})
	}
	if err := payable(appointment); err != nil {
		return nil, err
	}

	reference, err := s.ensureReference(ctx, appointment)
	if err != nil {
		return nil, err
	}

	var email string
	if profile, err := s.directory.GetProfile(ctx, appointment.PatientID); err == nil {
		email = profile.Email
	} else {
		s.cfg.Log.Warn("Failed to load payer profile, initializing without contact", "patient_id", appointment.PatientID, "error", err)
	}

	amountMinor := gateway.ToMinor(appointment.Amount, s.cfg.PaymentMinorUnitFactor)
	checkout, err := s.gateway.Initialize(ctx, gateway.InitializeRequest{
		Reference:   reference,
		AmountMinor: amountMinor,
		Currency:    appointment.Currency,
		Email:       email,
		CallbackURL: s.cfg.PaymentCallbackURL,
		Metadata: map[string]string{
			"appointment_id": appointment.ID,
			"patient_id":     appointment.PatientID,
		},
	})
	s.metrics.ObserveGatewayCall("initialize", err)
	if err != nil {
		s.cfg.Log.Error("Payment initialization failed", "appointment_id", appointment.ID, "reference", reference, "error", err)
		return nil, apperrors.Gateway("Failed to initialize payment. Please try again.", err)
	}

	s.cfg.Log.Info("Payment initialized",
		"appointment_id", appointment.ID,
		"reference", reference,
		"amount_minor", amountMinor,
		"currency", appointment.Currency,
	)
	return &model.PaymentInitiation{
		AppointmentID: appointment.ID,
		Reference:     reference,
		RedirectURL:   checkout.AuthorizationURL,
		Amount:        appointment.Amount,
		Currency:      appointment.Currency,
	}, nil
}

// Reconcile confirms a payment with the gateway itself and applies it to the
// appointment at most once. The caller's claim that a payment happened is
// never trusted on its own.
func (s *paymentService) Reconcile(ctx context.Context, reference string) Result {
	result := s.reconcile(ctx, strings.TrimSpace(reference))
	s.metrics.ObserveReconciliation(string(result.Outcome))
	return result
}

func (s *paymentService) reconcile(ctx context.Context, reference string) Result {
	result := Result{Reference: reference}
	if reference == "" {
		result.Outcome = OutcomeInvalidReference
		return result
	}

	verification, err := s.verify(ctx, reference)
	if err != nil {
		s.cfg.Log.Warn("Payment verification failed", "reference", reference, "error", err)
		result.Outcome = OutcomeGatewayError
		return result
	}
	if !verification.Success {
		s.cfg.Log.Info("Payment not successful at gateway", "reference", reference, "status", verification.Status)
		result.Outcome = OutcomeNotVerified
		return result
	}

	appointment, err := s.store.FindByPaymentReference(ctx, reference)
	if err != nil {
		if errors.Is(err, appointmentserrors.ErrNotFound) {
			s.cfg.Log.Warn("Verified payment has no appointment", "reference", reference)
			result.Outcome = OutcomeNotFound
			return result
		}
		s.cfg.Log.Error("Failed to look up appointment by payment reference", "reference", reference, "error", err)
		result.Outcome = OutcomeError
		return result
	}
	result.AppointmentID = appointment.ID

	switch {
	case appointment.PaymentStatus.SettlesAccess():
		result.Outcome = OutcomeAlreadyConfirmed
		return result
	case appointment.Status == model.StatusCancelled:
		s.cfg.Log.Warn("Payment verified for a cancelled appointment", "appointment_id", appointment.ID, "reference", reference)
		result.Outcome = OutcomeCancelled
		return result
	}

	expected := gateway.ToMinor(appointment.Amount, s.cfg.PaymentMinorUnitFactor)
	if verification.AmountMinor != expected || (verification.Currency != "" && !strings.EqualFold(verification.Currency, appointment.Currency)) {
		s.cfg.Log.Error("Verified payment does not match appointment fee",
			"appointment_id", appointment.ID,
			"reference", reference,
			"expected_minor", expected,
			"paid_minor", verification.AmountMinor,
			"currency", verification.Currency,
		)
		result.Outcome = OutcomeAmountMismatch
		return result
	}

	updated, changed, err := s.confirmer.ConfirmPayment(ctx, appointment.ID, reference)
	if err != nil {
		if errors.Is(err, appointmentserrors.ErrCancelled) {
			result.Outcome = OutcomeCancelled
			return result
		}
		s.cfg.Log.Error("Failed to confirm payment", "appointment_id", appointment.ID, "reference", reference, "error", err)
		result.Outcome = OutcomeError
		return result
	}
	if !changed {
		result.Outcome = OutcomeAlreadyConfirmed
		return result
	}

	payload := map[string]any{
		"appointment_id": updated.ID,
		"scheduled_at":   updated.ScheduledAt,
		"amount":         updated.Amount,
		"currency":       updated.Currency,
		"reference":      reference,
	}
	if updated.JoinURL != "" {
		payload["join_url"] = updated.JoinURL
	}
	if s.notifier != nil {
		s.notifier.Send(ctx, updated.PatientID, model.NotifyPaymentConfirmed, payload)
		s.notifier.Send(ctx, updated.ProviderID, model.NotifyPaymentConfirmed, payload)
	}

	result.Outcome = OutcomeConfirmed
	return result
}

// verify asks the gateway once more on a transport failure. Each call is
// bounded by the gateway timeout.
func (s *paymentService) verify(ctx context.Context, reference string) (*gateway.Verification, error) {
	var verification *gateway.Verification
	err := retry.DoWithLog(ctx, retry.Once(), func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
		defer cancel()

		v, err := s.gateway.Verify(callCtx, reference)
		s.metrics.ObserveGatewayCall("verify", err)
		if err != nil {
			if !gateway.Transient(err) {
				return retry.Permanent(err)
			}
			return err
		}
		verification = v
		return nil
	}, func(attempt int, err error, next time.Duration) {
		s.cfg.Log.Warn("Payment verification failed, retrying", "reference", reference, "attempt", attempt, "retry_in", next, "error", err)
	})
	if err != nil {
		return nil, err
	}
	return verification, nil
}

// --- Helpers ---

func payable(appointment *model.Appointment) error {
	switch {
	case appointment.Status == model.StatusCancelled:
		return apperrors.Conflict("Appointment is cancelled")
	case appointment.PaymentStatus != model.PaymentPending:
		return apperrors.Conflict("Payment is already settled")
	case appointment.Status != model.StatusScheduled:
		return apperrors.Conflict("Appointment can no longer be paid")
	}
	return nil
}

func (s *paymentService) ensureReference(ctx context.Context, appointment *model.Appointment) (string, error) {
	if appointment.HasPaymentReference() {
		return *appointment.PaymentReference, nil
	}

	updated, err := s.store.SetPaymentReference(ctx, appointment.ID, uuid.NewString())
	if err == nil {
		return *updated.PaymentReference, nil
	}
	if !errors.Is(err, appointmentserrors.ErrStateChanged) {
		return "", s.mapRepoError(err, appointment.ID, "Failed to store payment reference")
	}

	// A concurrent initiation may have stored its reference first.
	current, findErr := s.find(ctx, appointment.ID)
	if findErr != nil {
		return "", findErr
	}
	if err := payable(current); err != nil {
		return "", err
	}
	if current.HasPaymentReference() {
		return *current.PaymentReference, nil
	}
	return "", apperrors.Conflict("Appointment changed while starting payment. Please retry.")
}

func (s *paymentService) find(ctx context.Context, id string) (*model.Appointment, error) {
	if id == "" {
		return nil, apperrors.InvalidInput("Appointment ID cannot be empty")
	}
	appointment, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, s.mapRepoError(err, id, "Failed to retrieve appointment")
	}
	return appointment, nil
}

func (s *paymentService) mapRepoError(err error, id string, message string) error {
	switch {
	case errors.Is(err, appointmentserrors.ErrNotFound):
		return apperrors.NotFoundWithID("Appointment", id)
	case errors.Is(err, appointmentserrors.ErrInvalidID):
		return apperrors.InvalidInput("Invalid appointment ID format")
	default:
		s.cfg.Log.Error(message, "id", id, "error", err)
		return apperrors.Internal(message, err)
	}
}
