// Package sessions applies video platform lifecycle events to appointments.
package sessions

import (
	"context"
	"errors"
	appointmentserrors "medislot/internal/appointments/errors"
	apperrors "medislot/pkg/errors"
	"medislot/pkg/kafka"
	"medislot/pkg/logger"
	"medislot/pkg/model"
)

// Lifecycle is the part of the appointment state machine driven by the video platform.
type Lifecycle interface {
	StartSession(ctx context.Context, id string) (*model.Appointment, error)
	CompleteSession(ctx context.Context, id string) (*model.Appointment, error)
}

type EventHandler struct {
	appointments Lifecycle
	log          *logger.Logger
}

func NewEventHandler(appointments Lifecycle, log *logger.Logger) *EventHandler {
	return &EventHandler{
		appointments: appointments,
		log:          log,
	}
}

// Handle is a kafka.MessageHandler. Events are replayed safely: a transition
// that already happened is a no-op.
func (h *EventHandler) Handle(ctx context.Context, msg kafka.Message) error {
	var event model.SessionEvent
	if err := msg.DecodeValue(&event); err != nil {
		return err
	}
	if event.AppointmentID == "" {
		return kafka.NewPermanentError("session event without appointment id", kafka.ErrInvalidMessage)
	}

	log := h.log.With(
		"event_id", msg.GetEventID(),
		"event_type", event.Type,
		"appointment_id", event.AppointmentID,
	)

	var (
		appointment *model.Appointment
		err         error
	)
	switch event.Type {
	case model.SessionStarted:
		appointment, err = h.appointments.StartSession(ctx, event.AppointmentID)
	case model.SessionEnded:
		appointment, err = h.complete(ctx, event.AppointmentID)
	default:
		log.Warn("Ignoring unknown session event")
		return nil
	}
	if err != nil {
		return classify(err)
	}

	log.Info("Session event applied", "status", appointment.Status)
	return nil
}

// complete finishes a session. When the start event never arrived the
// appointment is still confirmed, so it is walked through in_progress first.
func (h *EventHandler) complete(ctx context.Context, id string) (*model.Appointment, error) {
	appointment, err := h.appointments.CompleteSession(ctx, id)
	if err == nil || !errors.Is(err, appointmentserrors.ErrIllegalTransition) {
		return appointment, err
	}
	if _, startErr := h.appointments.StartSession(ctx, id); startErr != nil {
		return nil, err
	}
	return h.appointments.CompleteSession(ctx, id)
}

// classify tells the consumer which failures deserve another delivery.
// A cancelled, completed or unpaid appointment will never accept the event,
// so those go straight to the dead letter topic. Other conflicts come from
// concurrent writes and are retried against a fresh read.
func classify(err error) error {
	switch {
	case errors.Is(err, appointmentserrors.ErrIllegalTransition),
		errors.Is(err, appointmentserrors.ErrUnpaid):
		return kafka.NewPermanentError("session event does not apply to appointment", err)
	case apperrors.HasCode(err, apperrors.CodeNotFound),
		apperrors.HasCode(err, apperrors.CodeInvalidInput),
		apperrors.HasCode(err, apperrors.CodeValidation):
		return kafka.NewPermanentError("session event rejected", err)
	default:
		return kafka.NewTransientError("session event not applied", err)
	}
}
