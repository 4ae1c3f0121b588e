package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/lifelink-engine/internal/domain"
	"github.com/kursadbilgin/lifelink-engine/internal/lock"
	"github.com/kursadbilgin/lifelink-engine/internal/provider"
	"github.com/kursadbilgin/lifelink-engine/internal/queue"
	"github.com/kursadbilgin/lifelink-engine/internal/ratelimit"
	"github.com/kursadbilgin/lifelink-engine/internal/repository"
	"github.com/kursadbilgin/lifelink-engine/internal/repository/memory"
	"go.uber.org/zap"
)

var (
	baseTime       = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	hospitalLoc    = domain.Location{Latitude: 12.9716, Longitude: 77.5946}
	kmPerLatDegree = 111.19492664455873
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: baseTime}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// donorNorth places an approved O+ donor km kilometres north of the hospital.
func donorNorth(id string, km float64) domain.Donor {
	return domain.Donor{
		ID:             id,
		Name:           "Donor " + id,
		Phone:          "+9055500" + id,
		BloodType:      domain.BloodTypeOPos,
		Location:       domain.Location{Latitude: hospitalLoc.Latitude + km/kmPerLatDegree, Longitude: hospitalLoc.Longitude},
		ApprovalStatus: domain.ApprovalApproved,
		CreatedAt:      baseTime.Add(-365 * 24 * time.Hour),
		UpdatedAt:      baseTime.Add(-365 * 24 * time.Hour),
	}
}

func criticalInput() SubmitInput {
	return SubmitInput{
		BloodType:   "O+",
		Latitude:    hospitalLoc.Latitude,
		Longitude:   hospitalLoc.Longitude,
		Urgency:     "critical",
		PatientName: "R. Kumar",
		Hospital:    "City General",
	}
}

type fakeProvider struct {
	mu     sync.Mutex
	sent   []provider.Message
	sendFn func(ctx context.Context, msg provider.Message) (*provider.ProviderResponse, error)
}

func (f *fakeProvider) Send(ctx context.Context, msg provider.Message) (*provider.ProviderResponse, error) {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()

	if f.sendFn != nil {
		return f.sendFn(ctx, msg)
	}
	return &provider.ProviderResponse{StatusCode: 202}, nil
}

func (f *fakeProvider) Sent() []provider.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.Message(nil), f.sent...)
}

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, channel domain.Channel) (bool, error)
	waitFn  func(ctx context.Context, channel domain.Channel) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, channel domain.Channel) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, channel)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, channel domain.Channel) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, channel)
	}
	return nil
}

var _ ratelimit.RateLimiter = (*fakeRateLimiter)(nil)

type fakePublisher struct {
	mu        sync.Mutex
	published []queue.Message
	publishFn func(ctx context.Context, queueName string, msg queue.Message) error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.Message) error {
	if f.publishFn != nil {
		if err := f.publishFn(ctx, queueName, msg); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, msg)
	return nil
}

func (f *fakePublisher) Close() error {
	return nil
}

func (f *fakePublisher) Published() []queue.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]queue.Message(nil), f.published...)
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.ResponseHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.ResponseHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	return nil
}

func (f *fakeConsumer) Close() error {
	return nil
}

type fakeRecorder struct {
	recordFn func(ctx context.Context, notificationID string, outcome domain.Outcome, latency time.Duration) (*ControllerResult, error)
}

func (f *fakeRecorder) RecordResponse(ctx context.Context, notificationID string, outcome domain.Outcome, latency time.Duration) (*ControllerResult, error) {
	if f.recordFn != nil {
		return f.recordFn(ctx, notificationID, outcome, latency)
	}
	return &ControllerResult{Outcome: OutcomeAccepted}, nil
}

var errConnectionReset = errors.New("connection reset by peer")

// flakyStore fails the next failures transactions before delegating.
type flakyStore struct {
	repository.Store
	mu       sync.Mutex
	failures int
	calls    int
}

func (s *flakyStore) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	s.mu.Lock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return errConnectionReset
	}
	s.mu.Unlock()
	return s.Store.WithinTx(ctx, fn)
}

func (s *flakyStore) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
}

type harness struct {
	store    *memory.Store
	flaky    *flakyStore
	provider *fakeProvider
	clock    *testClock
	svc      *MatchService
}

func newHarness(t *testing.T, opts Options, donors ...domain.Donor) *harness {
	t.Helper()

	store := memory.NewStore()
	ctx := context.Background()
	for i := range donors {
		if err := store.Donors().Create(ctx, &donors[i]); err != nil {
			t.Fatalf("create donor %s: %v", donors[i].ID, err)
		}
	}

	h := &harness{
		store:    store,
		flaky:    &flakyStore{Store: store},
		provider: &fakeProvider{},
		clock:    newTestClock(),
	}

	dispatcher, err := NewDispatcher(h.provider, &fakeRateLimiter{}, nil, time.Second, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	svc, err := NewMatchService(h.flaky, lock.NewLocalLocker(), dispatcher, opts, zap.NewNop())
	if err != nil {
		t.Fatalf("NewMatchService() error = %v", err)
	}
	svc.now = h.clock.Now
	svc.randIntn = func(int) int { return 0 }
	svc.sleep = func(context.Context, time.Duration) error { return nil }
	h.svc = svc
	return h
}

func (h *harness) notifications(t *testing.T, requestID string) []domain.Notification {
	t.Helper()
	list, err := h.store.Notifications().ListByRequest(context.Background(), requestID)
	if err != nil {
		t.Fatalf("ListByRequest() error = %v", err)
	}
	return list
}

func (h *harness) request(t *testing.T, requestID string) *domain.Request {
	t.Helper()
	req, err := h.store.Requests().GetByID(context.Background(), requestID)
	if err != nil {
		t.Fatalf("GetByID(%s) error = %v", requestID, err)
	}
	return req
}

func (h *harness) donor(t *testing.T, donorID string) *domain.Donor {
	t.Helper()
	d, err := h.store.Donors().GetByID(context.Background(), donorID)
	if err != nil {
		t.Fatalf("GetByID(%s) error = %v", donorID, err)
	}
	return d
}

func (h *harness) pattern(t *testing.T, donorID string) *domain.DonorPattern {
	t.Helper()
	p, err := h.store.Patterns().Get(context.Background(), donorID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		t.Fatalf("Patterns().Get(%s) error = %v", donorID, err)
	}
	return p
}

func (h *harness) submit(t *testing.T, in SubmitInput) *ControllerResult {
	t.Helper()
	result, err := h.svc.SubmitRequest(context.Background(), in)
	if err != nil {
		t.Fatalf("SubmitRequest() error = %v", err)
	}
	return result
}

func (h *harness) respond(t *testing.T, notificationID string, outcome domain.Outcome) *ControllerResult {
	t.Helper()
	result, err := h.svc.RecordResponse(context.Background(), notificationID, outcome, 90*time.Second)
	if err != nil {
		t.Fatalf("RecordResponse(%s, %s) error = %v", notificationID, outcome, err)
	}
	return result
}

func statesEqual(got, want []domain.RequestState) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// hookLocker calls onAcquire before every acquisition attempt.
type hookLocker struct {
	lock.Locker
	onAcquire func(key string)
}

func (l *hookLocker) Acquire(ctx context.Context, key string) (func(), error) {
	if l.onAcquire != nil {
		l.onAcquire(key)
	}
	return l.Locker.Acquire(ctx, key)
}

// createHookStore calls afterCreate once the transaction that created a
// request has committed.
type createHookStore struct {
	repository.Store
	afterCreate func(requestID string)
}

func (s *createHookStore) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	var created string
	err := s.Store.WithinTx(ctx, func(tx repository.Store) error {
		return fn(&createRecordingTx{Store: tx, created: &created})
	})
	if err == nil && created != "" && s.afterCreate != nil {
		s.afterCreate(created)
	}
	return err
}

type createRecordingTx struct {
	repository.Store
	created *string
}

func (tx *createRecordingTx) Requests() repository.RequestRepository {
	return &createRecordingRequests{RequestRepository: tx.Store.Requests(), created: tx.created}
}

type createRecordingRequests struct {
	repository.RequestRepository
	created *string
}

func (r *createRecordingRequests) Create(ctx context.Context, req *domain.Request) error {
	if err := r.RequestRepository.Create(ctx, req); err != nil {
		return err
	}
	*r.created = req.ID
	return nil
}
