// Package memory provides an in-process repository.Store used by tests and
// single-node development runs.
package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/kursadbilgin/lifelink-engine/internal/domain"
	"github.com/kursadbilgin/lifelink-engine/internal/repository"
)

type state struct {
	donors        map[string]domain.Donor
	requests      map[string]domain.Request
	notifications map[string]domain.Notification
	patterns      map[string]domain.DonorPattern
	escalations   map[string]domain.EscalationLog
}

func newState() *state {
	return &state{
		donors:        make(map[string]domain.Donor),
		requests:      make(map[string]domain.Request),
		notifications: make(map[string]domain.Notification),
		patterns:      make(map[string]domain.DonorPattern),
		escalations:   make(map[string]domain.EscalationLog),
	}
}

func (s *state) clone() *state {
	return &state{
		donors:        maps.Clone(s.donors),
		requests:      maps.Clone(s.requests),
		notifications: maps.Clone(s.notifications),
		patterns:      maps.Clone(s.patterns),
		escalations:   maps.Clone(s.escalations),
	}
}

// Store keeps all records in maps guarded by one mutex. WithinTx holds the
// mutex for the whole callback and works on a copy that replaces the live
// state only when the callback succeeds, so callbacks must use the tx
// argument rather than the outer store.
type Store struct {
	mu *sync.Mutex
	st *state
	// parent is set on nested transaction views.
	parent *Store
}

func NewStore() *Store {
	return &Store{mu: &sync.Mutex{}, st: newState()}
}

func (s *Store) lock() func() {
	if s.parent != nil || s.mu == nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) Donors() repository.DonorRepository {
	return &donorRepo{store: s}
}

func (s *Store) Requests() repository.RequestRepository {
	return &requestRepo{store: s}
}

func (s *Store) Notifications() repository.NotificationRepository {
	return &notificationRepo{store: s}
}

func (s *Store) Patterns() repository.PatternRepository {
	return &patternRepo{store: s}
}

func (s *Store) Escalations() repository.EscalationRepository {
	return &escalationRepo{store: s}
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	unlock := s.lock()
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	view := &Store{st: s.st.clone(), parent: s}
	if err := fn(view); err != nil {
		return err
	}
	s.st = view.st
	return nil
}

type donorRepo struct {
	store *Store
}

func (r *donorRepo) Create(_ context.Context, d *domain.Donor) error {
	defer r.store.lock()()
	if _, ok := r.store.st.donors[d.ID]; ok {
		return domain.ErrConflict
	}
	r.store.st.donors[d.ID] = *d
	return nil
}

func (r *donorRepo) GetByID(_ context.Context, id string) (*domain.Donor, error) {
	defer r.store.lock()()
	d, ok := r.store.st.donors[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &d, nil
}

func (r *donorRepo) ListByBloodType(_ context.Context, bloodType domain.BloodType, status domain.ApprovalStatus) ([]domain.Donor, error) {
	defer r.store.lock()()
	donors := make([]domain.Donor, 0)
	for _, d := range r.store.st.donors {
		if d.BloodType == bloodType && d.ApprovalStatus == status {
			donors = append(donors, d)
		}
	}
	sort.Slice(donors, func(i, j int) bool { return donors[i].ID < donors[j].ID })
	return donors, nil
}

func (r *donorRepo) Update(_ context.Context, d *domain.Donor) error {
	defer r.store.lock()()
	current, ok := r.store.st.donors[d.ID]
	if !ok {
		return domain.ErrNotFound
	}
	current.ApprovalStatus = d.ApprovalStatus
	current.Donations = d.Donations
	current.Points = d.Points
	current.LastDonation = d.LastDonation
	current.UpdatedAt = d.UpdatedAt
	r.store.st.donors[d.ID] = current
	return nil
}

type requestRepo struct {
	store *Store
}

func (r *requestRepo) Create(_ context.Context, req *domain.Request) error {
	defer r.store.lock()()
	if _, ok := r.store.st.requests[req.ID]; ok {
		return domain.ErrConflict
	}
	r.store.st.requests[req.ID] = *req
	return nil
}

func (r *requestRepo) GetByID(_ context.Context, id string) (*domain.Request, error) {
	defer r.store.lock()()
	req, ok := r.store.st.requests[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &req, nil
}

// GetForUpdate relies on WithinTx holding the store mutex.
func (r *requestRepo) GetForUpdate(ctx context.Context, id string) (*domain.Request, error) {
	return r.GetByID(ctx, id)
}

func (r *requestRepo) ListPending(_ context.Context, limit int) ([]domain.Request, error) {
	defer r.store.lock()()
	if limit < 1 {
		limit = 100
	}
	pending := make([]domain.Request, 0)
	for _, req := range r.store.st.requests {
		if req.State.IsPending() {
			pending = append(pending, req)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if !pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].CreatedAt.Before(pending[j].CreatedAt)
		}
		return pending[i].ID < pending[j].ID
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (r *requestRepo) Update(_ context.Context, req *domain.Request) error {
	defer r.store.lock()()
	current, ok := r.store.st.requests[req.ID]
	if !ok {
		return domain.ErrNotFound
	}
	current.State = req.State
	current.MatchedDonorID = req.MatchedDonorID
	current.Reason = req.Reason
	current.AcceptedAt = req.AcceptedAt
	current.EscalatedAt = req.EscalatedAt
	current.CompletedAt = req.CompletedAt
	current.CancelledAt = req.CancelledAt
	current.UpdatedAt = req.UpdatedAt
	r.store.st.requests[req.ID] = current
	return nil
}

type notificationRepo struct {
	store *Store
}

func (r *notificationRepo) Create(_ context.Context, n *domain.Notification) error {
	defer r.store.lock()()
	if _, ok := r.store.st.notifications[n.ID]; ok {
		return domain.ErrConflict
	}
	r.store.st.notifications[n.ID] = *n
	return nil
}

func (r *notificationRepo) GetByID(_ context.Context, id string) (*domain.Notification, error) {
	defer r.store.lock()()
	n, ok := r.store.st.notifications[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &n, nil
}

func (r *notificationRepo) ListByRequest(_ context.Context, requestID string) ([]domain.Notification, error) {
	defer r.store.lock()()
	out := make([]domain.Notification, 0)
	for _, n := range r.store.st.notifications {
		if n.RequestID == requestID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Attempt < out[j].Attempt
	})
	return out, nil
}

func (r *notificationRepo) Resolve(_ context.Context, id string, res repository.Resolution) (bool, error) {
	defer r.store.lock()()
	n, ok := r.store.st.notifications[id]
	if !ok || n.State != domain.NotificationSent {
		return false, nil
	}
	n.State = res.State
	n.ResponseLatency = res.ResponseLatency
	n.SendError = res.SendError
	respondedAt := res.RespondedAt
	n.RespondedAt = &respondedAt
	r.store.st.notifications[id] = n
	return true, nil
}

func (r *notificationRepo) ListOverdue(_ context.Context, now time.Time, limit int) ([]domain.Notification, error) {
	defer r.store.lock()()
	if limit < 1 {
		limit = 100
	}
	out := make([]domain.Notification, 0)
	for _, n := range r.store.st.notifications {
		if n.IsOverdue(now) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].ExpiresAt.Before(out[j].ExpiresAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type patternRepo struct {
	store *Store
}

func (r *patternRepo) Get(_ context.Context, donorID string) (*domain.DonorPattern, error) {
	defer r.store.lock()()
	p, ok := r.store.st.patterns[donorID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (r *patternRepo) ListByDonorIDs(_ context.Context, donorIDs []string) (map[string]domain.DonorPattern, error) {
	defer r.store.lock()()
	out := make(map[string]domain.DonorPattern, len(donorIDs))
	for _, id := range donorIDs {
		if p, ok := r.store.st.patterns[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (r *patternRepo) Upsert(_ context.Context, p *domain.DonorPattern) error {
	defer r.store.lock()()
	r.store.st.patterns[p.DonorID] = *p
	return nil
}

type escalationRepo struct {
	store *Store
}

func (r *escalationRepo) Create(_ context.Context, e *domain.EscalationLog) error {
	defer r.store.lock()()
	if _, ok := r.store.st.escalations[e.ID]; ok {
		return domain.ErrConflict
	}
	r.store.st.escalations[e.ID] = *e
	return nil
}

func (r *escalationRepo) ListSince(_ context.Context, since time.Time) ([]domain.EscalationLog, error) {
	defer r.store.lock()()
	out := make([]domain.EscalationLog, 0)
	for _, e := range r.store.st.escalations {
		if !e.CreatedAt.Before(since) {
			out = append(out, e)
		}
	}
	sortEscalations(out)
	return out, nil
}

func (r *escalationRepo) ListPendingHandoff(_ context.Context, limit int) ([]domain.EscalationLog, error) {
	defer r.store.lock()()
	if limit < 1 {
		limit = 100
	}
	out := make([]domain.EscalationLog, 0)
	for _, e := range r.store.st.escalations {
		if e.Action == domain.ActionEscalateBloodBank && e.HandedOffAt == nil {
			out = append(out, e)
		}
	}
	sortEscalations(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *escalationRepo) MarkHandedOff(_ context.Context, id string, at time.Time) error {
	defer r.store.lock()()
	e, ok := r.store.st.escalations[id]
	if !ok {
		return domain.ErrNotFound
	}
	e.HandedOffAt = &at
	r.store.st.escalations[id] = e
	return nil
}

func (r *escalationRepo) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	defer r.store.lock()()
	var deleted int64
	for id, e := range r.store.st.escalations {
		if e.CreatedAt.Before(cutoff) {
			delete(r.store.st.escalations, id)
			deleted++
		}
	}
	return deleted, nil
}

func sortEscalations(logs []domain.EscalationLog) {
	sort.Slice(logs, func(i, j int) bool {
		if !logs[i].CreatedAt.Equal(logs[j].CreatedAt) {
			return logs[i].CreatedAt.Before(logs[j].CreatedAt)
		}
		return logs[i].ID < logs[j].ID
	})
}
