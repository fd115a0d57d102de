package service

import (
	"context"
	"errors"
	appointmentserrors "medislot/internal/appointments/errors"
	apperrors "medislot/pkg/errors"
	"medislot/pkg/gateway"
	"medislot/pkg/model"
	"medislot/pkg/retry"
	"net/http"
	"time"
)

const (
	roomOpensBefore    = 15 * time.Minute
	roomClosesAfter    = time.Hour
	maxConfirmAttempts = 3
)

var liveStatuses = []model.AppointmentStatus{
	model.StatusScheduled,
	model.StatusConfirmed,
	model.StatusInProgress,
}

// ConfirmPayment marks a verified payment as paid and confirms the appointment.
// The boolean is false when the payment was already settled, in which case
// nothing was written. A cancelled appointment is never revived.
func (s *appointmentService) ConfirmPayment(ctx context.Context, id string, gatewayReference string) (*model.Appointment, bool, error) {
	appointment, err := s.find(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if appointment.HasPaymentReference() && *appointment.PaymentReference != gatewayReference {
		return nil, false, apperrors.Conflict("Payment reference does not belong to this appointment")
	}

	for attempt := 0; attempt < maxConfirmAttempts; attempt++ {
		switch {
		case appointment.Status == model.StatusCancelled:
			return appointment, false, cancelledError()
		case appointment.PaymentStatus.SettlesAccess():
			return appointment, false, nil
		case appointment.PaymentStatus != model.PaymentPending:
			return appointment, false, apperrors.Conflict("Payment can no longer be confirmed")
		}

		now := s.now().UTC()
		next := model.AppointmentState{PaymentStatus: model.PaymentPaid}
		if appointment.Status == model.StatusScheduled {
			next.Status = model.StatusConfirmed
			next.ConfirmedAt = &now
		}

		updated, err := s.repo.CompareAndSet(ctx, id, model.StateExpectation{
			Statuses:        []model.AppointmentStatus{appointment.Status},
			PaymentStatuses: []model.PaymentStatus{model.PaymentPending},
		}, next)
		if err == nil {
			s.cfg.Log.Info("Payment confirmed", "id", id, "reference", gatewayReference, "status", updated.Status)
			if withRoom, roomErr := s.EnsureRoom(ctx, updated); roomErr != nil {
				s.cfg.Log.Warn("Room provisioning failed after payment, will retry on join", "id", id, "error", roomErr)
			} else {
				updated = withRoom
			}
			return updated, true, nil
		}
		if !errors.Is(err, appointmentserrors.ErrStateChanged) {
			return nil, false, s.mapRepoError(err, id, "Failed to confirm payment")
		}

		// Someone moved the appointment between our read and write. Re-read and decide again.
		appointment, err = s.find(ctx, id)
		if err != nil {
			return nil, false, err
		}
	}
	return nil, false, apperrors.Conflict("Appointment kept changing while confirming payment")
}

// Cancel cancels a patient's appointment, refunding first when it is paid and
// far enough away. A failed refund aborts the cancellation with state untouched.
func (s *appointmentService) Cancel(ctx context.Context, actor model.Actor, id string) (*model.Appointment, error) {
	appointment, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if appointment.PatientID != actor.ID {
		return nil, apperrors.Validation("Only the patient who booked can cancel this appointment", map[string]any{"appointment_id": id})
	}
	if appointment.Status == model.StatusCancelled {
		return nil, apperrors.Conflict("Appointment is already cancelled")
	}
	if !model.CanTransition(appointment.Status, model.StatusCancelled) {
		return nil, apperrors.Conflict("Appointment can no longer be cancelled")
	}

	now := s.now()
	refunded := false
	if s.refundOwed(appointment, now) {
		if err := s.refund(ctx, appointment); err != nil {
			return nil, err
		}
		refunded = true
	}

	cancelledAt := now.UTC()
	next := model.AppointmentState{
		Status:      model.StatusCancelled,
		CancelledBy: actor.ID,
		CancelledAt: &cancelledAt,
	}
	if refunded {
		next.PaymentStatus = model.PaymentRefunded
	}

	updated, err := s.repo.CompareAndSet(ctx, id, model.StateExpectation{
		Statuses:        liveStatuses,
		PaymentStatuses: []model.PaymentStatus{appointment.PaymentStatus},
	}, next)
	if err != nil {
		if refunded {
			s.cfg.Log.Error("Refund issued but cancellation was not recorded",
				"id", id,
				"reference", *appointment.PaymentReference,
				"error", err,
			)
		}
		if errors.Is(err, appointmentserrors.ErrStateChanged) {
			if current, findErr := s.find(ctx, id); findErr == nil && current.Status == model.StatusCancelled {
				return nil, apperrors.Conflict("Appointment is already cancelled")
			}
			return nil, apperrors.Conflict("Appointment changed while cancelling. Please retry.")
		}
		return nil, s.mapRepoError(err, id, "Failed to cancel appointment")
	}

	s.metrics.ObserveCancellation(string(actor.Role), refunded)
	s.cfg.Log.Info("Appointment cancelled", "id", id, "cancelled_by", actor.ID, "refunded", refunded)

	extra := map[string]any{"refunded": refunded}
	s.notify(ctx, updated.ProviderID, model.NotifyAppointmentCancel, updated, extra)
	if s.cfg.ObserverUserID != "" {
		s.notify(ctx, s.cfg.ObserverUserID, model.NotifyObserverCancelled, updated, extra)
	}
	if refunded {
		s.notify(ctx, updated.PatientID, model.NotifyRefundIssued, updated, map[string]any{
			"amount":   updated.Amount,
			"currency": updated.Currency,
		})
	}
	return updated, nil
}

// Waive settles an unpaid appointment without a payment. Admins only.
func (s *appointmentService) Waive(ctx context.Context, actor model.Actor, id string) (*model.Appointment, error) {
	if !actor.IsAdmin() {
		return nil, apperrors.Forbidden("Only administrators can waive payments")
	}

	appointment, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if appointment.Status == model.StatusCancelled {
		return nil, apperrors.Conflict("Appointment is cancelled")
	}
	if appointment.PaymentStatus != model.PaymentPending {
		return nil, apperrors.Conflict("Payment is already settled")
	}

	now := s.now().UTC()
	next := model.AppointmentState{PaymentStatus: model.PaymentWaived}
	if appointment.Status == model.StatusScheduled {
		next.Status = model.StatusConfirmed
		next.ConfirmedAt = &now
	}

	updated, err := s.repo.CompareAndSet(ctx, id, model.StateExpectation{
		Statuses:        []model.AppointmentStatus{appointment.Status},
		PaymentStatuses: []model.PaymentStatus{model.PaymentPending},
	}, next)
	if err != nil {
		if errors.Is(err, appointmentserrors.ErrStateChanged) {
			return nil, apperrors.Conflict("Appointment changed while waiving. Please retry.")
		}
		return nil, s.mapRepoError(err, id, "Failed to waive payment")
	}

	s.cfg.Log.Info("Payment waived", "id", id, "admin_id", actor.ID)
	if withRoom, roomErr := s.EnsureRoom(ctx, updated); roomErr != nil {
		s.cfg.Log.Warn("Room provisioning failed after waiver, will retry on join", "id", id, "error", roomErr)
	} else {
		updated = withRoom
	}

	s.notify(ctx, updated.PatientID, model.NotifyPaymentConfirmed, updated, map[string]any{"waived": true})
	s.notify(ctx, updated.ProviderID, model.NotifyPaymentConfirmed, updated, map[string]any{"waived": true})
	return updated, nil
}

func (s *appointmentService) StartSession(ctx context.Context, id string) (*model.Appointment, error) {
	return s.advance(ctx, id, model.StatusInProgress)
}

func (s *appointmentService) CompleteSession(ctx context.Context, id string) (*model.Appointment, error) {
	return s.advance(ctx, id, model.StatusCompleted)
}

// Join hands a participant the room of a settled, live appointment,
// creating the room on first use.
func (s *appointmentService) Join(ctx context.Context, actor model.Actor, id string) (*model.JoinInfo, error) {
	appointment, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !appointment.IsParticipant(actor.ID) {
		return nil, apperrors.Forbidden("You are not a participant of this appointment")
	}
	if !appointment.PaymentStatus.SettlesAccess() {
		return nil, apperrors.Forbidden("Payment has not been settled for this appointment")
	}
	if appointment.Status != model.StatusConfirmed && appointment.Status != model.StatusInProgress {
		return nil, apperrors.Conflict("Consultation room is not open for this appointment")
	}

	appointment, err = s.EnsureRoom(ctx, appointment)
	if err != nil {
		if apperrors.IsAppError(err) {
			return nil, err
		}
		return nil, apperrors.Gateway("Failed to provision consultation room", err)
	}

	return &model.JoinInfo{
		AppointmentID: appointment.ID,
		RoomReference: *appointment.RoomReference,
		JoinURL:       appointment.JoinURL,
	}, nil
}

// EnsureRoom provisions the consultation room unless one is already attached.
// The room is named after the appointment, so a repeated call after a lost
// response resolves to the same room.
func (s *appointmentService) EnsureRoom(ctx context.Context, appointment *model.Appointment) (*model.Appointment, error) {
	if appointment.HasRoom() {
		return appointment, nil
	}
	if appointment.Status == model.StatusCancelled || appointment.Status == model.StatusCompleted {
		return appointment, nil
	}
	if s.provisioner == nil {
		return nil, errors.New("no room provisioner configured")
	}

	notBefore := appointment.ScheduledAt.Add(-roomOpensBefore)
	expiresAt := appointment.EndsAt().Add(roomClosesAfter)

	var room *roomResult
	err := retry.DoWithLog(ctx, retry.Once(), func(ctx context.Context) error {
		created, err := s.provisioner.CreateRoom(ctx, appointment.ID, notBefore, expiresAt)
		if err != nil {
			return err
		}
		room = &roomResult{reference: created.Reference, joinURL: created.JoinURL}
		return nil
	}, func(attempt int, err error, next time.Duration) {
		s.cfg.Log.Warn("Room provisioning failed, retrying", "id", appointment.ID, "attempt", attempt, "error", err)
	})
	s.metrics.ObserveRoom(err)
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.AttachRoom(ctx, appointment.ID, room.reference, room.joinURL)
	if err != nil {
		if errors.Is(err, appointmentserrors.ErrRoomAlreadyAttached) {
			return s.find(ctx, appointment.ID)
		}
		return nil, s.mapRepoError(err, appointment.ID, "Failed to record consultation room")
	}

	s.cfg.Log.Info("Consultation room attached", "id", appointment.ID, "room", room.reference)
	s.notify(ctx, updated.PatientID, model.NotifyRoomReady, updated, map[string]any{"join_url": updated.JoinURL})
	s.notify(ctx, updated.ProviderID, model.NotifyRoomReady, updated, map[string]any{"join_url": updated.JoinURL})
	return updated, nil
}

// --- Helpers ---

type roomResult struct {
	reference string
	joinURL   string
}

func cancelledError() error {
	return apperrors.Wrap(appointmentserrors.ErrCancelled, apperrors.CodeConflict, "Appointment was cancelled", http.StatusConflict)
}

func (s *appointmentService) refundOwed(appointment *model.Appointment, now time.Time) bool {
	return appointment.ScheduledAt.Sub(now) >= s.cfg.RefundWindow &&
		appointment.PaymentStatus == model.PaymentPaid &&
		appointment.HasPaymentReference()
}

// refund calls the gateway exactly once. The idempotency key lets a user
// retry a failed cancellation without risking a second refund.
func (s *appointmentService) refund(ctx context.Context, appointment *model.Appointment) error {
	reference := *appointment.PaymentReference
	result, err := s.gateway.Refund(ctx, gateway.RefundRequest{
		Reference:      reference,
		AmountMinor:    gateway.ToMinor(appointment.Amount, s.cfg.PaymentMinorUnitFactor),
		IdempotencyKey: "refund-" + reference,
	})
	s.metrics.ObserveGatewayCall("refund", err)
	if err != nil {
		s.metrics.ObserveRefund("error")
		s.cfg.Log.Error("Refund failed, cancellation aborted", "id", appointment.ID, "reference", reference, "error", err)
		return apperrors.Gateway("Refund failed, the appointment was not cancelled. Please try again.", err)
	}

	s.metrics.ObserveRefund("ok")
	s.cfg.Log.Info("Refund issued", "id", appointment.ID, "reference", reference, "refund_id", result.ID, "status", result.Status)
	return nil
}

// advance moves a live session forward. Replaying a transition that already
// happened returns the appointment unchanged.
func (s *appointmentService) advance(ctx context.Context, id string, to model.AppointmentStatus) (*model.Appointment, error) {
	appointment, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if appointment.Status == to {
		return appointment, nil
	}
	if !model.CanTransition(appointment.Status, to) {
		return nil, apperrors.Wrap(appointmentserrors.ErrIllegalTransition, apperrors.CodeConflict,
			"Appointment cannot move from "+string(appointment.Status)+" to "+string(to), http.StatusConflict)
	}
	if !appointment.PaymentStatus.SettlesAccess() {
		return nil, apperrors.Wrap(appointmentserrors.ErrUnpaid, apperrors.CodeConflict,
			"Payment has not been settled for this appointment", http.StatusConflict)
	}

	updated, err := s.repo.CompareAndSet(ctx, id, model.StateExpectation{
		Statuses:        []model.AppointmentStatus{appointment.Status},
		PaymentStatuses: []model.PaymentStatus{model.PaymentPaid, model.PaymentWaived},
	}, model.AppointmentState{Status: to})
	if err != nil {
		if errors.Is(err, appointmentserrors.ErrStateChanged) {
			return nil, apperrors.Conflict("Appointment changed concurrently. Please retry.")
		}
		return nil, s.mapRepoError(err, id, "Failed to update appointment status")
	}

	s.cfg.Log.Info("Appointment status advanced", "id", id, "from", appointment.Status, "to", to)
	return updated, nil
}
