package service

import (
	"context"
	"errors"
	"fmt"
	appointmentserrors "medislot/internal/appointments/errors"
	"medislot/internal/slots"
	mongotx "medislot/pkg/db/mongo"
	apperrors "medislot/pkg/errors"
	"medislot/pkg/identity"
	"medislot/pkg/model"
	"medislot/pkg/retry"
	"medislot/pkg/sanitizer"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	minDurationMinutes = 5
	maxDurationMinutes = 480
)

func (s *appointmentService) AvailableSlots(ctx context.Context, providerID string, date string, durationMinutes int) (*SlotListing, error) {
	providerID = sanitizer.NormalizeID(providerID)
	if providerID == "" {
		return nil, apperrors.InvalidInput("Provider ID cannot be empty")
	}

	profile, err := s.providerProfile(ctx, providerID)
	if err != nil {
		return nil, err
	}

	loc := identity.Location(profile, s.cfg.DefaultTimezone)
	day, err := slots.ParseDay(date, loc)
	if err != nil {
		return nil, apperrors.InvalidInput("date must be in YYYY-MM-DD format")
	}

	duration := s.durationFor(profile, durationMinutes)
	if duration < minDurationMinutes || duration > maxDurationMinutes {
		return nil, apperrors.InvalidInput(fmt.Sprintf("duration must be between %d and %d minutes", minDurationMinutes, maxDurationMinutes))
	}

	rules, err := s.rulesFor(ctx, providerID, day)
	if err != nil {
		return nil, err
	}

	from, to := day.Window()
	existing, err := s.repo.FindActiveByProviderBetween(ctx, providerID, from, to)
	if err != nil {
		s.cfg.Log.Error("Failed to load provider appointments", "provider_id", providerID, "error", err)
		return nil, apperrors.Internal("Failed to load existing appointments", err)
	}

	now := s.now()
	computed := slots.Compute(day, rules, duration, s.cfg.SlotBufferMinutes, slots.BookedFrom(existing))
	open := make([]slots.Slot, 0, len(computed))
	for _, slot := range computed {
		if slot.At.After(now) {
			open = append(open, slot)
		}
	}

	return &SlotListing{
		ProviderID:      providerID,
		Date:            day.String(),
		TimeZone:        loc.String(),
		DurationMinutes: duration,
		BufferMinutes:   s.cfg.SlotBufferMinutes,
		Slots:           open,
	}, nil
}

// CreateBooking validates the request against the provider's grid, then
// re-checks the calendar under the provider lock and inserts the appointment
// inside one transaction. The unique index on the provider's instant backs
// the check for identical starts.
func (s *appointmentService) CreateBooking(ctx context.Context, actor model.Actor, req *model.BookingRequest) (*model.Appointment, error) {
	s.sanitize(req)
	if err := s.validator.Validate(req, s.now()); err != nil {
		s.cfg.Log.Warn("Booking validation failed", "error", err)
		return nil, apperrors.Validation("Booking validation failed", map[string]any{"error": err.Error()})
	}
	if actor.ID != req.PatientID {
		return nil, apperrors.Validation("You can only book appointments for yourself", map[string]any{"patient_id": req.PatientID})
	}

	profile, err := s.providerProfile(ctx, req.ProviderID)
	if err != nil {
		return nil, err
	}

	duration := s.durationFor(profile, req.DurationMinutes)
	loc := identity.Location(profile, s.cfg.DefaultTimezone)
	day := slots.DayOf(req.ScheduledAt, loc)
	minute := day.MinuteOf(req.ScheduledAt)

	rules, err := s.rulesFor(ctx, req.ProviderID, day)
	if err != nil {
		return nil, err
	}
	if !slots.Offers(day, rules, duration, minute) {
		s.metrics.ObserveBooking("unavailable")
		return nil, apperrors.SlotUnavailable("Requested start time is not offered by the provider", map[string]any{
			"date":  day.String(),
			"start": slots.FormatClock(minute),
		})
	}

	appointment := &model.Appointment{
		PatientID:       req.PatientID,
		ProviderID:      req.ProviderID,
		ScheduledAt:     req.ScheduledAt.UTC(),
		DurationMinutes: duration,
		Status:          model.StatusScheduled,
		PaymentStatus:   model.PaymentPending,
		Amount:          profile.ConsultationFee,
		Currency:        s.currencyFor(profile),
		Reason:          req.Reason,
	}

	release, err := s.acquireProviderLock(ctx, req.ProviderID)
	if err != nil {
		return nil, err
	}
	defer release()

	err = s.repo.ExecuteTransaction(ctx, func(sessCtx mongo.SessionContext) error {
		from, to := day.Window()
		existing, err := s.repo.FindActiveByProviderBetween(sessCtx, req.ProviderID, from, to)
		if err != nil {
			return apperrors.Internal("Failed to check existing appointments", err)
		}
		if slots.Blocked(day, minute, duration, s.cfg.SlotBufferMinutes, slots.BookedFrom(existing)) {
			return slotTaken()
		}

		if err := s.repo.Create(sessCtx, appointment); err != nil {
			if errors.Is(err, appointmentserrors.ErrSlotTaken) {
				return slotTaken()
			}
			return apperrors.Internal("Failed to create appointment", err)
		}
		return nil
	})
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeConflict) {
			s.metrics.ObserveBooking("conflict")
			s.cfg.Log.Info("Booking lost to an overlapping appointment",
				"provider_id", req.ProviderID,
				"scheduled_at", req.ScheduledAt,
			)
			return nil, err
		}
		if mongo.IsDuplicateKeyError(err) || mongotx.IsWriteConflict(err) {
			s.metrics.ObserveBooking("conflict")
			return nil, slotTaken()
		}
		s.metrics.ObserveBooking("error")
		s.cfg.Log.Error("Failed to create appointment", "provider_id", req.ProviderID, "error", err)
		return nil, apperrors.AsAppError(err)
	}

	s.metrics.ObserveBooking("created")
	s.cfg.Log.Info("Appointment booked",
		"id", appointment.ID,
		"provider_id", appointment.ProviderID,
		"patient_id", appointment.PatientID,
		"scheduled_at", appointment.ScheduledAt,
		"duration_minutes", appointment.DurationMinutes,
	)
	return appointment, nil
}

// AnnounceBooking tells both parties about a committed booking.
func (s *appointmentService) AnnounceBooking(ctx context.Context, appointment *model.Appointment) {
	s.notify(ctx, appointment.PatientID, model.NotifyBookingCreated, appointment, nil)
	s.notify(ctx, appointment.ProviderID, model.NotifyBookingCreated, appointment, nil)
}

// --- Helpers ---

func slotTaken() error {
	return apperrors.Conflict("The requested time overlaps an existing appointment. Please pick another slot.")
}

func (s *appointmentService) sanitize(req *model.BookingRequest) {
	req.PatientID = sanitizer.NormalizeID(req.PatientID)
	req.ProviderID = sanitizer.NormalizeID(req.ProviderID)
	req.Reason = sanitizer.NormalizeFreeText(req.Reason)
}

func (s *appointmentService) providerProfile(ctx context.Context, providerID string) (*model.Profile, error) {
	profile, err := s.directory.GetProfile(ctx, providerID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, apperrors.Validation("Provider does not exist", map[string]any{"provider_id": providerID})
		}
		return nil, apperrors.Internal("Failed to resolve provider", err)
	}
	if profile.Role != model.RoleProvider {
		return nil, apperrors.Validation("Target user is not a provider", map[string]any{"provider_id": providerID})
	}
	return profile, nil
}

// rulesFor returns the provider's active rules. With no rules at all the
// provider offers nothing, unless unrestricted availability is switched on.
func (s *appointmentService) rulesFor(ctx context.Context, providerID string, day slots.Day) ([]model.AvailabilityRule, error) {
	rules, err := s.rules.ActiveRules(ctx, providerID)
	if err != nil {
		return nil, apperrors.AsAppError(err)
	}
	if len(rules) > 0 {
		return rules, nil
	}
	if !s.cfg.AllowUnrestrictedAvailability {
		return nil, nil
	}

	s.cfg.Log.Warn("Provider has no availability rules, treating the whole day as open", "provider_id", providerID)
	return []model.AvailabilityRule{{
		ProviderID: providerID,
		DayOfWeek:  int(day.Weekday()),
		StartTime:  "00:00",
		EndTime:    "23:59",
		Active:     true,
	}}, nil
}

func (s *appointmentService) durationFor(profile *model.Profile, requested int) int {
	if requested > 0 {
		return requested
	}
	if profile != nil && profile.ConsultationMinutes > 0 {
		return profile.ConsultationMinutes
	}
	return s.cfg.DefaultConsultationMinutes
}

func (s *appointmentService) currencyFor(profile *model.Profile) string {
	if profile.Currency != "" {
		return strings.ToUpper(profile.Currency)
	}
	return strings.ToUpper(s.cfg.PaymentCurrency)
}

// acquireProviderLock takes the provider's advisory booking lock, retrying
// briefly while another booking for the same provider is in flight.
func (s *appointmentService) acquireProviderLock(ctx context.Context, providerID string) (func(), error) {
	lock := &model.BookingLock{
		ID:    "booking_lock_" + providerID,
		Owner: uuid.NewString(),
	}

	policy := retry.Config{
		MaxAttempts:   5,
		InitialDelay:  25 * time.Millisecond,
		MaxDelay:      200 * time.Millisecond,
		BackoffFactor: 2,
	}
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		lock.ExpiresAt = s.now().Add(s.cfg.BookingLockTTL).UTC()
		err := s.lockRepo.Acquire(ctx, lock)
		if err != nil && !errors.Is(err, appointmentserrors.ErrLockHeld) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, appointmentserrors.ErrLockHeld) {
			s.metrics.ObserveBooking("conflict")
			return nil, apperrors.Conflict("Another booking for this provider is in progress. Please try again.")
		}
		return nil, apperrors.Internal("Failed to acquire booking lock", err)
	}

	return func() {
		// The caller's context may already be done; the lock must still go.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.WriteTimeout)
		defer cancel()
		if err := s.lockRepo.Release(releaseCtx, lock.ID, lock.Owner); err != nil {
			s.cfg.Log.Warn("Failed to release booking lock", "lock_id", lock.ID, "error", err)
		}
	}, nil
}
