package model

import "time"

type NotificationKind string

const (
	NotifyBookingCreated    NotificationKind = "booking_created"
	NotifyPaymentConfirmed  NotificationKind = "payment_confirmed"
	NotifyAppointmentCancel NotificationKind = "appointment_cancelled"
	NotifyRefundIssued      NotificationKind = "refund_issued"
	NotifyRoomReady         NotificationKind = "room_ready"
	NotifyObserverCancelled NotificationKind = "observer_appointment_cancelled"
)

// Notification is the payload published for the notification dispatcher.
type Notification struct {
	UserID     string           `json:"user_id"`
	Kind       NotificationKind `json:"kind"`
	Payload    map[string]any   `json:"payload,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

type SessionEventType string

const (
	SessionStarted SessionEventType = "session.started"
	SessionEnded   SessionEventType = "session.ended"
)

// SessionEvent is emitted by the video platform when a consultation room changes state.
type SessionEvent struct {
	Type          SessionEventType `json:"type"`
	AppointmentID string           `json:"appointment_id"`
	RoomReference string           `json:"room_reference,omitempty"`
	OccurredAt    time.Time        `json:"occurred_at"`
}
