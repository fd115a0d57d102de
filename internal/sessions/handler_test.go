package sessions

import (
	"context"
	"errors"
	appointmentserrors "medislot/internal/appointments/errors"
	apperrors "medislot/pkg/errors"
	"medislot/pkg/kafka"
	"medislot/pkg/logger"
	"medislot/pkg/model"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubLifecycle follows the real transition rules on a single appointment.
type stubLifecycle struct {
	status model.AppointmentStatus
	unpaid bool
	err    error
	calls  []string
}

func (s *stubLifecycle) StartSession(_ context.Context, id string) (*model.Appointment, error) {
	s.calls = append(s.calls, "start")
	return s.advance(id, model.StatusInProgress)
}

func (s *stubLifecycle) CompleteSession(_ context.Context, id string) (*model.Appointment, error) {
	s.calls = append(s.calls, "complete")
	return s.advance(id, model.StatusCompleted)
}

func (s *stubLifecycle) advance(id string, to model.AppointmentStatus) (*model.Appointment, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.status != to {
		if !model.CanTransition(s.status, to) {
			return nil, apperrors.Wrap(appointmentserrors.ErrIllegalTransition, apperrors.CodeConflict, "cannot move", http.StatusConflict)
		}
		if s.unpaid {
			return nil, apperrors.Wrap(appointmentserrors.ErrUnpaid, apperrors.CodeConflict, "unpaid", http.StatusConflict)
		}
		s.status = to
	}
	return &model.Appointment{ID: id, Status: s.status}, nil
}

func sessionMessage(t *testing.T, eventType model.SessionEventType, appointmentID string) kafka.Message {
	t.Helper()
	msg, err := kafka.NewMessage().
		WithKey("appt-1").
		WithValue(model.SessionEvent{Type: eventType, AppointmentID: appointmentID, OccurredAt: time.Now()}).
		WithEventType(string(eventType)).
		Build()
	require.NoError(t, err)
	return msg
}

func TestHandle_Transitions(t *testing.T) {
	tests := []struct {
		name      string
		from      model.AppointmentStatus
		event     model.SessionEventType
		want      model.AppointmentStatus
		wantCalls []string
	}{
		{"start", model.StatusConfirmed, model.SessionStarted, model.StatusInProgress, []string{"start"}},
		{"replayed start", model.StatusInProgress, model.SessionStarted, model.StatusInProgress, []string{"start"}},
		{"end", model.StatusInProgress, model.SessionEnded, model.StatusCompleted, []string{"complete"}},
		{"end without start", model.StatusConfirmed, model.SessionEnded, model.StatusCompleted, []string{"complete", "start", "complete"}},
		{"replayed end", model.StatusCompleted, model.SessionEnded, model.StatusCompleted, []string{"complete"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lifecycle := &stubLifecycle{status: tt.from}
			handler := NewEventHandler(lifecycle, logger.Discard())

			err := handler.Handle(context.Background(), sessionMessage(t, tt.event, "appt-1"))

			require.NoError(t, err)
			assert.Equal(t, tt.want, lifecycle.status)
			assert.Equal(t, tt.wantCalls, lifecycle.calls)
		})
	}
}

func TestHandle_ErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want kafka.ErrorType
	}{
		{"unknown appointment", apperrors.NotFoundWithID("Appointment", "appt-1"), kafka.ErrorTypePermanent},
		{"bad id", apperrors.InvalidInput("Invalid appointment ID format"), kafka.ErrorTypePermanent},
		{"database down", apperrors.Internal("db", errors.New("no reachable servers")), kafka.ErrorTypeTransient},
		{"concurrent write", apperrors.Conflict("changed concurrently"), kafka.ErrorTypeTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewEventHandler(&stubLifecycle{status: model.StatusConfirmed, err: tt.err}, logger.Discard())

			err := handler.Handle(context.Background(), sessionMessage(t, model.SessionStarted, "appt-1"))

			require.Error(t, err)
			assert.Equal(t, tt.want, kafka.ClassifyError(err))
		})
	}
}

func TestHandle_EventsForClosedAppointmentsAreNotRetried(t *testing.T) {
	tests := []struct {
		name      string
		status    model.AppointmentStatus
		unpaid    bool
		event     model.SessionEventType
		wantCalls []string
	}{
		{"start after cancel", model.StatusCancelled, false, model.SessionStarted, []string{"start"}},
		{"end after cancel", model.StatusCancelled, false, model.SessionEnded, []string{"complete", "start"}},
		{"start after completion", model.StatusCompleted, false, model.SessionStarted, []string{"start"}},
		{"start before payment", model.StatusConfirmed, true, model.SessionStarted, []string{"start"}},
		{"end before payment", model.StatusInProgress, true, model.SessionEnded, []string{"complete"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lifecycle := &stubLifecycle{status: tt.status, unpaid: tt.unpaid}
			handler := NewEventHandler(lifecycle, logger.Discard())

			err := handler.Handle(context.Background(), sessionMessage(t, tt.event, "appt-1"))

			require.Error(t, err)
			assert.Equal(t, kafka.ErrorTypePermanent, kafka.ClassifyError(err))
			assert.Equal(t, tt.status, lifecycle.status)
			assert.Equal(t, tt.wantCalls, lifecycle.calls)
		})
	}
}

func TestHandle_BadMessages(t *testing.T) {
	lifecycle := &stubLifecycle{status: model.StatusConfirmed}
	handler := NewEventHandler(lifecycle, logger.Discard())

	err := handler.Handle(context.Background(), kafka.Message{Key: "k", Value: []byte("{not json")})
	assert.Equal(t, kafka.ErrorTypePermanent, kafka.ClassifyError(err))

	err = handler.Handle(context.Background(), sessionMessage(t, model.SessionStarted, ""))
	assert.Equal(t, kafka.ErrorTypePermanent, kafka.ClassifyError(err))

	err = handler.Handle(context.Background(), sessionMessage(t, "session.paused", "appt-1"))
	assert.NoError(t, err, "unknown events are acknowledged")
	assert.Empty(t, lifecycle.calls)
}
