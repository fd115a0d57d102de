package service

import (
	"context"
	"errors"
	appointmentserrors "medislot/internal/appointments/errors"
	"medislot/internal/appointments/validator"
	"medislot/pkg/config"
	mongotx "medislot/pkg/db/mongo"
	apperrors "medislot/pkg/errors"
	"medislot/pkg/gateway"
	"medislot/pkg/identity"
	"medislot/pkg/logger"
	"medislot/pkg/model"
	"medislot/pkg/video"
	"slices"
	"sync"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// memoryRepository mimics the Mongo repository, including the unique index
// on a provider's slot-holding instant and compare-and-set writes.
type memoryRepository struct {
	mu    sync.Mutex
	items map[string]*model.Appointment

	// staleReads makes FindActiveByProviderBetween return nothing, as if the
	// read happened before a concurrent insert.
	staleReads bool
	casErr     error
	createErr  error
	txErr      error
	casCalls   int
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{items: map[string]*model.Appointment{}}
}

func clone(a *model.Appointment) *model.Appointment {
	c := *a
	return &c
}

func (r *memoryRepository) put(a *model.Appointment) *model.Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == "" {
		a.ID = primitive.NewObjectID().Hex()
	}
	a.HoldsSlot = a.Status != model.StatusCancelled
	r.items[a.ID] = clone(a)
	return a
}

func (r *memoryRepository) get(id string) *model.Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.items[id]; ok {
		return clone(a)
	}
	return nil
}

func (r *memoryRepository) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

func (r *memoryRepository) Create(_ context.Context, a *model.Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	for _, existing := range r.items {
		if existing.HoldsSlot && existing.ProviderID == a.ProviderID && existing.ScheduledAt.Equal(a.ScheduledAt) {
			return appointmentserrors.ErrSlotTaken
		}
	}
	a.ID = primitive.NewObjectID().Hex()
	a.HoldsSlot = true
	a.CreatedAt = time.Now().UTC()
	a.UpdatedAt = a.CreatedAt
	r.items[a.ID] = clone(a)
	return nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (*model.Appointment, error) {
	if _, err := primitive.ObjectIDFromHex(id); err != nil {
		return nil, appointmentserrors.ErrInvalidID
	}
	if a := r.get(id); a != nil {
		return a, nil
	}
	return nil, appointmentserrors.ErrNotFound
}

func (r *memoryRepository) FindByPaymentReference(_ context.Context, reference string) (*model.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.items {
		if a.HasPaymentReference() && *a.PaymentReference == reference {
			return clone(a), nil
		}
	}
	return nil, appointmentserrors.ErrNotFound
}

func (r *memoryRepository) FindActiveByProviderBetween(_ context.Context, providerID string, from, to time.Time) ([]*model.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.staleReads {
		return nil, nil
	}
	var out []*model.Appointment
	for _, a := range r.items {
		if a.HoldsSlot && a.ProviderID == providerID && !a.ScheduledAt.Before(from) && a.ScheduledAt.Before(to) {
			out = append(out, clone(a))
		}
	}
	return out, nil
}

func (r *memoryRepository) ListForActor(_ context.Context, actor model.Actor, limit int, offset int64) ([]*model.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Appointment
	for _, a := range r.items {
		if actor.IsAdmin() || a.IsParticipant(actor.ID) {
			out = append(out, clone(a))
		}
	}
	return out, nil
}

func (r *memoryRepository) CountForActor(ctx context.Context, actor model.Actor) (int64, error) {
	list, _ := r.ListForActor(ctx, actor, 0, 0)
	return int64(len(list)), nil
}

func (r *memoryRepository) SetPaymentReference(_ context.Context, id string, reference string) (*model.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[id]
	if !ok {
		return nil, appointmentserrors.ErrNotFound
	}
	if a.Status != model.StatusScheduled || a.PaymentStatus != model.PaymentPending || a.HasPaymentReference() {
		return nil, appointmentserrors.ErrStateChanged
	}
	a.PaymentReference = &reference
	return clone(a), nil
}

func (r *memoryRepository) CompareAndSet(_ context.Context, id string, expect model.StateExpectation, next model.AppointmentState) (*model.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.casCalls++
	if r.casErr != nil {
		return nil, r.casErr
	}
	a, ok := r.items[id]
	if !ok {
		return nil, appointmentserrors.ErrNotFound
	}
	if len(expect.Statuses) > 0 && !slices.Contains(expect.Statuses, a.Status) {
		return nil, appointmentserrors.ErrStateChanged
	}
	if len(expect.PaymentStatuses) > 0 && !slices.Contains(expect.PaymentStatuses, a.PaymentStatus) {
		return nil, appointmentserrors.ErrStateChanged
	}
	if next.Status != "" {
		a.Status = next.Status
		a.HoldsSlot = next.Status != model.StatusCancelled
	}
	if next.PaymentStatus != "" {
		a.PaymentStatus = next.PaymentStatus
	}
	if next.CancelledBy != "" {
		a.CancelledBy = next.CancelledBy
	}
	if next.ConfirmedAt != nil {
		a.ConfirmedAt = next.ConfirmedAt
	}
	if next.CancelledAt != nil {
		a.CancelledAt = next.CancelledAt
	}
	return clone(a), nil
}

func (r *memoryRepository) AttachRoom(_ context.Context, id string, roomReference string, joinURL string) (*model.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.items[id]
	if !ok {
		return nil, appointmentserrors.ErrNotFound
	}
	if a.HasRoom() {
		return nil, appointmentserrors.ErrRoomAlreadyAttached
	}
	a.RoomReference = &roomReference
	a.JoinURL = joinURL
	return clone(a), nil
}

func (r *memoryRepository) ExecuteTransaction(ctx context.Context, fn mongotx.TransactionFunc) error {
	if r.txErr != nil {
		return r.txErr
	}
	return fn(mongo.NewSessionContext(ctx, nil))
}

// memoryLocks behaves like the lock collection: one live holder per id.
type memoryLocks struct {
	mu         sync.Mutex
	held       map[string]string
	acquired   int
	alwaysHeld bool
}

func newMemoryLocks() *memoryLocks {
	return &memoryLocks{held: map[string]string{}}
}

func (l *memoryLocks) Acquire(_ context.Context, lock *model.BookingLock) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.alwaysHeld {
		return appointmentserrors.ErrLockHeld
	}
	if _, ok := l.held[lock.ID]; ok {
		return appointmentserrors.ErrLockHeld
	}
	l.held[lock.ID] = lock.Owner
	l.acquired++
	return nil
}

func (l *memoryLocks) Release(_ context.Context, lockID string, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[lockID] == owner {
		delete(l.held, lockID)
	}
	return nil
}

func (l *memoryLocks) heldCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}

// noLocks lets every caller through, leaving the unique index as the only guard.
type noLocks struct{}

func (noLocks) Acquire(context.Context, *model.BookingLock) error { return nil }
func (noLocks) Release(context.Context, string, string) error     { return nil }

type staticRules map[string][]model.AvailabilityRule

func (r staticRules) ActiveRules(_ context.Context, providerID string) ([]model.AvailabilityRule, error) {
	return r[providerID], nil
}

type fakeDirectory map[string]*model.Profile

func (d fakeDirectory) GetProfile(_ context.Context, id string) (*model.Profile, error) {
	p, ok := d[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return p, nil
}

func (d fakeDirectory) GetActor(ctx context.Context, id string) (model.Actor, error) {
	p, err := d.GetProfile(ctx, id)
	if err != nil {
		return model.Actor{}, err
	}
	return p.Actor(), nil
}

// Mock gateway for testing
type mockGateway struct {
	gateway.Webhooks

	mu         sync.Mutex
	refundFunc func(ctx context.Context, req gateway.RefundRequest) (*gateway.Refund, error)
	refunds    []gateway.RefundRequest
}

func (g *mockGateway) Initialize(context.Context, gateway.InitializeRequest) (*gateway.Checkout, error) {
	return nil, errors.New("not used")
}

func (g *mockGateway) Verify(context.Context, string) (*gateway.Verification, error) {
	return nil, errors.New("not used")
}

func (g *mockGateway) Refund(ctx context.Context, req gateway.RefundRequest) (*gateway.Refund, error) {
	g.mu.Lock()
	g.refunds = append(g.refunds, req)
	g.mu.Unlock()
	if g.refundFunc != nil {
		return g.refundFunc(ctx, req)
	}
	return &gateway.Refund{ID: "rf_1", Status: "pending"}, nil
}

type fakeProvisioner struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (p *fakeProvisioner) CreateRoom(_ context.Context, name string, _, _ time.Time) (*video.Room, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &video.Room{Reference: name, JoinURL: "https://video.test/" + name}, nil
}

type sentNotification struct {
	userID string
	kind   model.NotificationKind
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *recordingNotifier) Send(_ context.Context, userID string, kind model.NotificationKind, _ map[string]any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{userID: userID, kind: kind})
}

func (n *recordingNotifier) kinds(userID string) []model.NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []model.NotificationKind
	for _, s := range n.sent {
		if s.userID == userID {
			out = append(out, s.kind)
		}
	}
	return out
}

func (n *recordingNotifier) total() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

var (
	patient  = model.Actor{ID: "patient-1", Role: model.RolePatient}
	stranger = model.Actor{ID: "patient-2", Role: model.RolePatient}
	doctor   = model.Actor{ID: "doctor-1", Role: model.RoleProvider}
	admin    = model.Actor{ID: "admin-1", Role: model.RoleAdmin}

	// Sunday noon; the provider works Mondays.
	fixedNow = time.Date(2024, 1, 7, 12, 0, 0, 0, time.UTC)
	monday   = time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
)

func at(hour, minute int) time.Time {
	return monday.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

type testEnv struct {
	svc         *appointmentService
	repo        *memoryRepository
	locks       *memoryLocks
	gateway     *mockGateway
	provisioner *fakeProvisioner
	notifier    *recordingNotifier
	cfg         *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.Config{
		Log:                        logger.Discard(),
		DefaultTimezone:            "UTC",
		SlotBufferMinutes:          15,
		DefaultConsultationMinutes: 30,
		RefundWindow:               12 * time.Hour,
		BookingLockTTL:             10 * time.Second,
		ObserverUserID:             "observers",
		PaymentCurrency:            "NGN",
		PaymentMinorUnitFactor:     100,
		WriteTimeout:               time.Second,
	}
	env := &testEnv{
		repo:        newMemoryRepository(),
		locks:       newMemoryLocks(),
		gateway:     &mockGateway{},
		provisioner: &fakeProvisioner{},
		notifier:    &recordingNotifier{},
		cfg:         cfg,
	}
	directory := fakeDirectory{
		doctor.ID:  {ID: doctor.ID, Role: model.RoleProvider, TimeZone: "UTC", ConsultationFee: 50, Currency: "usd", ConsultationMinutes: 45, Active: true},
		patient.ID: {ID: patient.ID, Role: model.RolePatient, Active: true},
	}
	rules := staticRules{
		doctor.ID: {{ProviderID: doctor.ID, DayOfWeek: int(time.Monday), StartTime: "09:00", EndTime: "17:00", Active: true}},
	}

	env.svc = NewAppointmentService(
		env.repo,
		env.locks,
		rules,
		directory,
		env.gateway,
		env.provisioner,
		env.notifier,
		nil,
		validator.NewBookingValidator(cfg.Log),
		cfg,
	).(*appointmentService)
	env.svc.now = func() time.Time { return fixedNow }
	return env
}

func (e *testEnv) withNow(now time.Time) {
	e.svc.now = func() time.Time { return now }
}

func (e *testEnv) seed(mutate func(a *model.Appointment)) *model.Appointment {
	a := &model.Appointment{
		PatientID:       patient.ID,
		ProviderID:      doctor.ID,
		ScheduledAt:     at(10, 0),
		DurationMinutes: 45,
		Status:          model.StatusScheduled,
		PaymentStatus:   model.PaymentPending,
		Amount:          50,
		Currency:        "USD",
	}
	if mutate != nil {
		mutate(a)
	}
	return e.repo.put(a)
}

func paidWithReference(ref string) func(a *model.Appointment) {
	return func(a *model.Appointment) {
		a.Status = model.StatusConfirmed
		a.PaymentStatus = model.PaymentPaid
		a.PaymentReference = &ref
	}
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	if !apperrors.HasCode(err, code) {
		t.Fatalf("expected %s error, got %v", code, err)
	}
}
