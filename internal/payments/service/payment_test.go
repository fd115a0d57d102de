package service

import (
	"context"
	"errors"
	"fmt"
	appointmentserrors "medislot/internal/appointments/errors"
	"medislot/pkg/config"
	apperrors "medislot/pkg/errors"
	"medislot/pkg/gateway"
	"medislot/pkg/identity"
	"medislot/pkg/logger"
	"medislot/pkg/model"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu       sync.Mutex
	items    map[string]*model.Appointment
	setErr   error
	onSetRef func(a *model.Appointment)
}

func (s *fakeStore) FindByID(_ context.Context, id string) (*model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.items[id]
	if !ok {
		return nil, appointmentserrors.ErrNotFound
	}
	c := *a
	return &c, nil
}

func (s *fakeStore) FindByPaymentReference(_ context.Context, reference string) (*model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.items {
		if a.HasPaymentReference() && *a.PaymentReference == reference {
			c := *a
			return &c, nil
		}
	}
	return nil, appointmentserrors.ErrNotFound
}

func (s *fakeStore) SetPaymentReference(_ context.Context, id string, reference string) (*model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.items[id]
	if !ok {
		return nil, appointmentserrors.ErrNotFound
	}
	if s.onSetRef != nil {
		s.onSetRef(a)
	}
	if s.setErr != nil {
		return nil, s.setErr
	}
	a.PaymentReference = &reference
	c := *a
	return &c, nil
}

// fakeConfirmer applies confirmations to the store like the state machine does.
type fakeConfirmer struct {
	store *fakeStore
	calls int
	err   error
}

func (c *fakeConfirmer) ConfirmPayment(_ context.Context, id string, _ string) (*model.Appointment, bool, error) {
	c.calls++
	if c.err != nil {
		return nil, false, c.err
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	a := c.store.items[id]
	if a.PaymentStatus.SettlesAccess() {
		copied := *a
		return &copied, false, nil
	}
	a.PaymentStatus = model.PaymentPaid
	a.Status = model.StatusConfirmed
	copied := *a
	return &copied, true, nil
}

type fakeGateway struct {
	gateway.Webhooks

	verifyCalls int
	verifyFunc  func(reference string) (*gateway.Verification, error)
	initialized []gateway.InitializeRequest
	initErr     error
}

func (g *fakeGateway) Initialize(_ context.Context, req gateway.InitializeRequest) (*gateway.Checkout, error) {
	g.initialized = append(g.initialized, req)
	if g.initErr != nil {
		return nil, g.initErr
	}
	return &gateway.Checkout{Reference: req.Reference, AuthorizationURL: "https://pay.test/" + req.Reference}, nil
}

func (g *fakeGateway) Verify(_ context.Context, reference string) (*gateway.Verification, error) {
	g.verifyCalls++
	return g.verifyFunc(reference)
}

func (g *fakeGateway) Refund(context.Context, gateway.RefundRequest) (*gateway.Refund, error) {
	return nil, errors.New("not used")
}

type fakeDirectory map[string]*model.Profile

func (d fakeDirectory) GetProfile(_ context.Context, id string) (*model.Profile, error) {
	if p, ok := d[id]; ok {
		return p, nil
	}
	return nil, identity.ErrNotFound
}

func (d fakeDirectory) GetActor(ctx context.Context, id string) (model.Actor, error) {
	p, err := d.GetProfile(ctx, id)
	if err != nil {
		return model.Actor{}, err
	}
	return p.Actor(), nil
}

type countingNotifier struct {
	sent []string
}

func (n *countingNotifier) Send(_ context.Context, userID string, kind model.NotificationKind, _ map[string]any) {
	n.sent = append(n.sent, fmt.Sprintf("%s:%s", userID, kind))
}

const appointmentID = "65a0000000000000000000aa"

var patient = model.Actor{ID: "patient-1", Role: model.RolePatient}

type paymentEnv struct {
	svc       PaymentService
	store     *fakeStore
	confirmer *fakeConfirmer
	gateway   *fakeGateway
	notifier  *countingNotifier
}

func newPaymentEnv(t *testing.T, mutate func(a *model.Appointment)) *paymentEnv {
	t.Helper()
	appointment := &model.Appointment{
		ID:              appointmentID,
		PatientID:       patient.ID,
		ProviderID:      "doctor-1",
		ScheduledAt:     time.Date(2024, 1, 8, 10, 0, 0, 0, time.UTC),
		DurationMinutes: 45,
		Status:          model.StatusScheduled,
		PaymentStatus:   model.PaymentPending,
		Amount:          50,
		Currency:        "USD",
	}
	if mutate != nil {
		mutate(appointment)
	}

	store := &fakeStore{items: map[string]*model.Appointment{appointmentID: appointment}}
	env := &paymentEnv{
		store:     store,
		confirmer: &fakeConfirmer{store: store},
		gateway: &fakeGateway{verifyFunc: func(reference string) (*gateway.Verification, error) {
			return &gateway.Verification{Reference: reference, Success: true, Status: "success", AmountMinor: 5000, Currency: "usd"}, nil
		}},
		notifier: &countingNotifier{},
	}
	cfg := &config.Config{
		Log:                    logger.Discard(),
		PaymentMinorUnitFactor: 100,
		PaymentCallbackURL:     "https://api.test/payments/callback",
		GatewayTimeout:         time.Second,
	}
	directory := fakeDirectory{patient.ID: {ID: patient.ID, Role: model.RolePatient, Email: "pat@example.com"}}

	env.svc = NewPaymentService(store, env.confirmer, directory, env.gateway, env.notifier, nil, cfg)
	return env
}

func withReference(ref string) func(a *model.Appointment) {
	return func(a *model.Appointment) { a.PaymentReference = &ref }
}

func TestReconcile_ConfirmsVerifiedPayment(t *testing.T) {
	env := newPaymentEnv(t, withReference("ref-x"))

	result := env.svc.Reconcile(context.Background(), " ref-x ")

	assert.Equal(t, OutcomeConfirmed, result.Outcome)
	assert.Equal(t, appointmentID, result.AppointmentID)
	assert.True(t, result.Succeeded())
	assert.Equal(t, 1, env.confirmer.calls)
	assert.ElementsMatch(t, []string{"patient-1:payment_confirmed", "doctor-1:payment_confirmed"}, env.notifier.sent)
}

func TestReconcile_SecondCallHasNoSideEffects(t *testing.T) {
	env := newPaymentEnv(t, withReference("ref-x"))

	first := env.svc.Reconcile(context.Background(), "ref-x")
	require.Equal(t, OutcomeConfirmed, first.Outcome)

	second := env.svc.Reconcile(context.Background(), "ref-x")

	assert.Equal(t, OutcomeAlreadyConfirmed, second.Outcome)
	assert.True(t, second.Succeeded())
	assert.Equal(t, 1, env.confirmer.calls, "no second state transition")
	assert.Len(t, env.notifier.sent, 2, "no second notification")
}

func TestReconcile_FailedVerificationLeavesAppointmentPending(t *testing.T) {
	env := newPaymentEnv(t, withReference("ref-x"))
	env.gateway.verifyFunc = func(reference string) (*gateway.Verification, error) {
		return &gateway.Verification{Reference: reference, Success: false, Status: "failed"}, nil
	}

	result := env.svc.Reconcile(context.Background(), "ref-x")

	assert.Equal(t, OutcomeNotVerified, result.Outcome)
	assert.False(t, result.Succeeded())
	assert.False(t, result.Retryable())
	assert.Zero(t, env.confirmer.calls)

	stored, err := env.store.FindByID(context.Background(), appointmentID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusScheduled, stored.Status)
	assert.Equal(t, model.PaymentPending, stored.PaymentStatus)
}

func TestReconcile_Outcomes(t *testing.T) {
	tests := []struct {
		name      string
		reference string
		mutate    func(a *model.Appointment)
		setup     func(env *paymentEnv)
		want      Outcome
	}{
		{
			name:      "empty reference",
			reference: "  ",
			want:      OutcomeInvalidReference,
		},
		{
			name:      "unknown reference",
			reference: "ref-unknown",
			mutate:    withReference("ref-x"),
			want:      OutcomeNotFound,
		},
		{
			name:      "cancelled appointment",
			reference: "ref-x",
			mutate: func(a *model.Appointment) {
				withReference("ref-x")(a)
				a.Status = model.StatusCancelled
			},
			want: OutcomeCancelled,
		},
		{
			name:      "waived appointment",
			reference: "ref-x",
			mutate: func(a *model.Appointment) {
				withReference("ref-x")(a)
				a.PaymentStatus = model.PaymentWaived
			},
			want: OutcomeAlreadyConfirmed,
		},
		{
			name:      "short payment",
			reference: "ref-x",
			mutate:    withReference("ref-x"),
			setup: func(env *paymentEnv) {
				env.gateway.verifyFunc = func(reference string) (*gateway.Verification, error) {
					return &gateway.Verification{Reference: reference, Success: true, AmountMinor: 4999}, nil
				}
			},
			want: OutcomeAmountMismatch,
		},
		{
			name:      "wrong currency",
			reference: "ref-x",
			mutate:    withReference("ref-x"),
			setup: func(env *paymentEnv) {
				env.gateway.verifyFunc = func(reference string) (*gateway.Verification, error) {
					return &gateway.Verification{Reference: reference, Success: true, AmountMinor: 5000, Currency: "NGN"}, nil
				}
			},
			want: OutcomeAmountMismatch,
		},
		{
			name:      "cancelled during confirmation",
			reference: "ref-x",
			mutate:    withReference("ref-x"),
			setup: func(env *paymentEnv) {
				env.confirmer.err = apperrors.Wrap(appointmentserrors.ErrCancelled, apperrors.CodeConflict, "Appointment was cancelled", 409)
			},
			want: OutcomeCancelled,
		},
		{
			name:      "persistence failure",
			reference: "ref-x",
			mutate:    withReference("ref-x"),
			setup: func(env *paymentEnv) {
				env.confirmer.err = apperrors.Internal("db down", errors.New("timeout"))
			},
			want: OutcomeError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newPaymentEnv(t, tt.mutate)
			if tt.setup != nil {
				tt.setup(env)
			}

			result := env.svc.Reconcile(context.Background(), tt.reference)

			assert.Equal(t, tt.want, result.Outcome)
			assert.Empty(t, env.notifier.sent)
		})
	}
}

func TestReconcile_VerificationRetry(t *testing.T) {
	t.Run("transport failure is retried once", func(t *testing.T) {
		env := newPaymentEnv(t, withReference("ref-x"))
		env.gateway.verifyFunc = func(string) (*gateway.Verification, error) {
			return nil, fmt.Errorf("verify: %w", gateway.ErrUnavailable)
		}

		result := env.svc.Reconcile(context.Background(), "ref-x")

		assert.Equal(t, OutcomeGatewayError, result.Outcome)
		assert.True(t, result.Retryable())
		assert.Equal(t, 2, env.gateway.verifyCalls)
	})

	t.Run("recovers on the second attempt", func(t *testing.T) {
		env := newPaymentEnv(t, withReference("ref-x"))
		env.gateway.verifyFunc = func(reference string) (*gateway.Verification, error) {
			if env.gateway.verifyCalls == 1 {
				return nil, gateway.ErrUnavailable
			}
			return &gateway.Verification{Reference: reference, Success: true, AmountMinor: 5000}, nil
		}

		result := env.svc.Reconcile(context.Background(), "ref-x")

		assert.Equal(t, OutcomeConfirmed, result.Outcome)
		assert.Equal(t, 2, env.gateway.verifyCalls)
	})

	t.Run("rejection is not retried", func(t *testing.T) {
		env := newPaymentEnv(t, withReference("ref-x"))
		env.gateway.verifyFunc = func(string) (*gateway.Verification, error) {
			return nil, errors.New("verify: 400 invalid key")
		}

		result := env.svc.Reconcile(context.Background(), "ref-x")

		assert.Equal(t, OutcomeGatewayError, result.Outcome)
		assert.Equal(t, 1, env.gateway.verifyCalls)
	})
}

func TestInitiate_StoresReferenceAndReusesIt(t *testing.T) {
	env := newPaymentEnv(t, nil)
	ctx := context.Background()

	first, err := env.svc.Initiate(ctx, patient, appointmentID)
	require.NoError(t, err)
	require.NotEmpty(t, first.Reference)
	assert.Equal(t, "https://pay.test/"+first.Reference, first.RedirectURL)

	require.Len(t, env.gateway.initialized, 1)
	req := env.gateway.initialized[0]
	assert.Equal(t, int64(5000), req.AmountMinor)
	assert.Equal(t, "USD", req.Currency)
	assert.Equal(t, "pat@example.com", req.Email)
	assert.Equal(t, appointmentID, req.Metadata["appointment_id"])

	second, err := env.svc.Initiate(ctx, patient, appointmentID)
	require.NoError(t, err)
	assert.Equal(t, first.Reference, second.Reference)
}

func TestInitiate_ConcurrentReferenceWins(t *testing.T) {
	env := newPaymentEnv(t, nil)
	env.store.setErr = appointmentserrors.ErrStateChanged
	env.store.onSetRef = func(a *model.Appointment) {
		ref := "ref-from-other-request"
		a.PaymentReference = &ref
	}

	initiation, err := env.svc.Initiate(context.Background(), patient, appointmentID)

	require.NoError(t, err)
	assert.Equal(t, "ref-from-other-request", initiation.Reference)
}

func TestInitiate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		actor  model.Actor
		id     string
		mutate func(a *model.Appointment)
		code   string
	}{
		{name: "someone else", actor: model.Actor{ID: "patient-2", Role: model.RolePatient}, id: appointmentID, code: apperrors.CodeValidation},
		{name: "unknown appointment", actor: patient, id: "65a0000000000000000000bb", code: apperrors.CodeNotFound},
		{name: "already paid", actor: patient, id: appointmentID, mutate: func(a *model.Appointment) { a.PaymentStatus = model.PaymentPaid }, code: apperrors.CodeConflict},
		{name: "cancelled", actor: patient, id: appointmentID, mutate: func(a *model.Appointment) { a.Status = model.StatusCancelled }, code: apperrors.CodeConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newPaymentEnv(t, tt.mutate)

			_, err := env.svc.Initiate(context.Background(), tt.actor, tt.id)

			require.Error(t, err)
			assert.True(t, apperrors.HasCode(err, tt.code), "got %v", err)
			assert.Empty(t, env.gateway.initialized)
		})
	}
}

func TestInitiate_GatewayFailureSurfaces(t *testing.T) {
	env := newPaymentEnv(t, nil)
	env.gateway.initErr = gateway.ErrUnavailable

	_, err := env.svc.Initiate(context.Background(), patient, appointmentID)

	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeGateway))
	assert.Len(t, env.gateway.initialized, 1, "initialization is not retried")
}
