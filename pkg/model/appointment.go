package model

import (
	"time"
)

type AppointmentStatus string

const (
	StatusScheduled  AppointmentStatus = "scheduled"
	StatusConfirmed  AppointmentStatus = "confirmed"
	StatusInProgress AppointmentStatus = "in_progress"
	StatusCompleted  AppointmentStatus = "completed"
	StatusCancelled  AppointmentStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
	PaymentWaived   PaymentStatus = "waived"
)

var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusScheduled:  {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether the lifecycle allows moving from one status to another.
func CanTransition(from, to AppointmentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SettlesAccess reports whether the payment status unlocks the consultation room.
func (p PaymentStatus) SettlesAccess() bool {
	return p == PaymentPaid || p == PaymentWaived
}

type Appointment struct {
	ID               string            `json:"id,omitempty" bson:"_id,omitempty" validate:"omitempty,mongodb"`
	PatientID        string            `json:"patient_id" bson:"patient_id" validate:"required"`
	ProviderID       string            `json:"provider_id" bson:"provider_id" validate:"required"`
	ScheduledAt      time.Time         `json:"scheduled_at" bson:"scheduled_at" validate:"required"`
	DurationMinutes  int               `json:"duration_minutes" bson:"duration_minutes" validate:"required,min=5,max=480"`
	Status           AppointmentStatus `json:"status" bson:"status" validate:"required,oneof=scheduled confirmed in_progress completed cancelled"`
	PaymentStatus    PaymentStatus     `json:"payment_status" bson:"payment_status" validate:"required,oneof=pending paid refunded waived"`
	Amount           float64           `json:"amount" bson:"amount" validate:"min=0"`
	Currency         string            `json:"currency" bson:"currency" validate:"required,len=3"`
	PaymentReference *string           `json:"payment_reference,omitempty" bson:"payment_reference,omitempty"`
	RoomReference    *string           `json:"room_reference,omitempty" bson:"room_reference,omitempty"`
	JoinURL          string            `json:"join_url,omitempty" bson:"join_url,omitempty"`
	Reason           string            `json:"reason,omitempty" bson:"reason,omitempty" validate:"omitempty,max=500"`
	HoldsSlot        bool              `json:"-" bson:"holds_slot"`
	CancelledBy      string            `json:"cancelled_by,omitempty" bson:"cancelled_by,omitempty"`
	CreatedAt        time.Time         `json:"created_at" bson:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at" bson:"updated_at"`
	ConfirmedAt      *time.Time        `json:"confirmed_at,omitempty" bson:"confirmed_at,omitempty"`
	CancelledAt      *time.Time        `json:"cancelled_at,omitempty" bson:"cancelled_at,omitempty"`
}

// EndsAt is the end of the consultation itself, without the buffer.
func (a *Appointment) EndsAt() time.Time {
	return a.ScheduledAt.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

func (a *Appointment) IsParticipant(actorID string) bool {
	return actorID != "" && (a.PatientID == actorID || a.ProviderID == actorID)
}

func (a *Appointment) HasRoom() bool {
	return a.RoomReference != nil && *a.RoomReference != ""
}

func (a *Appointment) HasPaymentReference() bool {
	return a.PaymentReference != nil && *a.PaymentReference != ""
}

// BookingRequest is the inbound shape of a create-booking call.
type BookingRequest struct {
	PatientID       string    `json:"patient_id" validate:"required,min=1,max=64"`
	ProviderID      string    `json:"provider_id" validate:"required,min=1,max=64"`
	ScheduledAt     time.Time `json:"scheduled_at" validate:"required"`
	DurationMinutes int       `json:"duration_minutes" validate:"omitempty,min=5,max=480"`
	Reason          string    `json:"reason,omitempty" validate:"omitempty,max=500"`
}

// AppointmentState is the target of a guarded state change. Nil fields are left untouched.
type AppointmentState struct {
	Status        AppointmentStatus
	PaymentStatus PaymentStatus
	CancelledBy   string
	ConfirmedAt   *time.Time
	CancelledAt   *time.Time
}

// StateExpectation narrows a guarded write to documents still in one of the listed states.
// Empty slices match any value.
type StateExpectation struct {
	Statuses        []AppointmentStatus
	PaymentStatuses []PaymentStatus
}
