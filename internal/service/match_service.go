package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/lifelink-engine/internal/domain"
	"github.com/kursadbilgin/lifelink-engine/internal/lock"
	"github.com/kursadbilgin/lifelink-engine/internal/matching"
	"github.com/kursadbilgin/lifelink-engine/internal/observability"
	"github.com/kursadbilgin/lifelink-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultCooldownDays            = 90
	defaultFirstResponseTimeout    = 15 * time.Minute
	defaultFollowupResponseTimeout = 10 * time.Minute
	defaultMaxAutonomousAttempts   = 3
	defaultCompletionRewardPoints  = 10
	defaultStoreRetryAttempts      = 3
	defaultSweepRequestTimeout     = 30 * time.Second
	defaultSweepLimit              = 500
	maxStatsDays                   = 365
)

// Options tunes the matching controller. Zero values fall back to defaults.
type Options struct {
	Cooldown                time.Duration
	RankingMode             matching.Mode
	FirstResponseTimeout    time.Duration
	FollowupResponseTimeout time.Duration
	MaxAutonomousAttempts   int
	TimeoutMode             matching.TimeoutMode
	Location                *time.Location
	CompletionRewardPoints  int
	StoreRetryAttempts      int
	SweepRequestTimeout     time.Duration
	SweepLimit              int
}

func (o Options) withDefaults() Options {
	if o.Cooldown <= 0 {
		o.Cooldown = defaultCooldownDays * 24 * time.Hour
	}
	if !o.RankingMode.IsValid() {
		o.RankingMode = matching.ModeWeighted
	}
	if o.FirstResponseTimeout <= 0 {
		o.FirstResponseTimeout = defaultFirstResponseTimeout
	}
	if o.FollowupResponseTimeout <= 0 {
		o.FollowupResponseTimeout = defaultFollowupResponseTimeout
	}
	if o.MaxAutonomousAttempts <= 0 {
		o.MaxAutonomousAttempts = defaultMaxAutonomousAttempts
	}
	if !o.TimeoutMode.IsValid() {
		o.TimeoutMode = matching.TimeoutModeDecline
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.CompletionRewardPoints <= 0 {
		o.CompletionRewardPoints = defaultCompletionRewardPoints
	}
	if o.StoreRetryAttempts <= 0 {
		o.StoreRetryAttempts = defaultStoreRetryAttempts
	}
	if o.SweepRequestTimeout <= 0 {
		o.SweepRequestTimeout = defaultSweepRequestTimeout
	}
	if o.SweepLimit <= 0 {
		o.SweepLimit = defaultSweepLimit
	}
	return o
}

// ControllerOutcome summarizes what a controller operation did.
type ControllerOutcome string

const (
	// OutcomeAwaitingResponse means at least one donor notification is pending.
	OutcomeAwaitingResponse ControllerOutcome = "AWAITING_RESPONSE"
	OutcomeAccepted         ControllerOutcome = "ACCEPTED"
	OutcomeExhausted        ControllerOutcome = "EXHAUSTED"
	OutcomeEscalated        ControllerOutcome = "ESCALATED"
	OutcomeCompleted        ControllerOutcome = "COMPLETED"
	// OutcomeRecorded means a decline was stored for a request that no longer dispatches.
	OutcomeRecorded ControllerOutcome = "RECORDED"
	// OutcomeDuplicate means the same response was already applied.
	OutcomeDuplicate       ControllerOutcome = "DUPLICATE"
	OutcomeAlreadyResolved ControllerOutcome = "ALREADY_RESOLVED"
	OutcomeAlreadyMatched  ControllerOutcome = "ALREADY_MATCHED"
	OutcomeRequestClosed   ControllerOutcome = "REQUEST_CLOSED"
)

// ControllerResult reports a request transition. Path lists the states the
// request went through during the call, ending with State.
type ControllerResult struct {
	Outcome        ControllerOutcome
	RequestID      string
	State          domain.RequestState
	Path           []domain.RequestState
	NotificationID string
	DonorID        string
	MatchedDonorID *string
	Reason         string
}

// SubmitInput is a validated-at-boundary blood request.
type SubmitInput struct {
	BloodType   string
	Latitude    float64
	Longitude   float64
	Urgency     string
	PatientName string
	Hospital    string
	SourceText  *string
}

// EscalationStat counts sweep decisions of one action on one day.
type EscalationStat struct {
	Day    string
	Action domain.EscalationActionType
	Count  int
}

// MatchService is the retry/escalation controller. Every transition holds
// the request lock and runs inside one store transaction.
type MatchService struct {
	store      repository.Store
	locker     lock.Locker
	dispatcher *Dispatcher
	learner    *PatternLearner
	ranker     *matching.Ranker
	handoff    *HandoffScanner
	opts       Options
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
	randIntn   func(n int) int
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewMatchService(
	store repository.Store,
	locker lock.Locker,
	dispatcher *Dispatcher,
	opts Options,
	logger *zap.Logger,
) (*MatchService, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()

	return &MatchService{
		store:      store,
		locker:     locker,
		dispatcher: dispatcher,
		learner:    NewPatternLearner(opts.TimeoutMode, opts.Location),
		ranker:     matching.NewRanker(opts.RankingMode),
		opts:       opts,
		logger:     logger,
		now:        time.Now,
		randIntn:   rand.Intn,
		sleep:      sleepContext,
	}, nil
}

func (s *MatchService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
	s.dispatcher.SetMetrics(metrics)
}

// SetHandoff enables publishing escalated requests right after commit.
// Without it, escalation logs stay pending for a HandoffScanner.
func (s *MatchService) SetHandoff(handoff *HandoffScanner) {
	if s == nil {
		return
	}
	s.handoff = handoff
}

// SubmitRequest validates in, persists the request and notifies the best
// ranked eligible donor.
func (s *MatchService) SubmitRequest(ctx context.Context, in SubmitInput) (*ControllerResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := s.newRequest(in)
	if err != nil {
		return nil, err
	}

	// Held from creation through the first dispatch so a sweep never sees
	// the request before its first notification.
	release, err := s.locker.Acquire(ctx, lock.RequestKey(req.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock request: %w", err)
	}
	defer release()

	if err := s.inTx(ctx, "create request", func(tx repository.Store) error {
		return tx.Requests().Create(ctx, req)
	}); err != nil {
		return nil, err
	}
	s.metrics.IncRequestSubmitted(req.Urgency.String())

	result, _, err := s.advance(ctx, req.ID, []domain.RequestState{domain.RequestStateFiltering, domain.RequestStateRanked}, nil)
	if err != nil {
		return nil, err
	}

	observability.RequestLogger(s.logger, ctx, req.ID).Info("blood request submitted",
		zap.String("bloodType", req.BloodType.String()),
		zap.String("urgency", req.Urgency.String()),
		zap.String("outcome", string(result.Outcome)),
	)
	return result, nil
}

// RecordResponse applies a donor answer to a notification. Repeating the
// same answer is a no-op reported as OutcomeDuplicate.
func (s *MatchService) RecordResponse(
	ctx context.Context,
	notificationID string,
	outcome domain.Outcome,
	latency time.Duration,
) (*ControllerResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	notificationID = strings.TrimSpace(notificationID)
	if notificationID == "" {
		return nil, fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}
	if !outcome.IsValid() {
		return nil, fmt.Errorf("%w: invalid outcome %q", domain.ErrValidation, outcome)
	}
	if latency < 0 {
		return nil, fmt.Errorf("%w: latency must not be negative", domain.ErrValidation)
	}

	var requestID string
	if err := s.inTx(ctx, "load notification", func(tx repository.Store) error {
		n, err := tx.Notifications().GetByID(ctx, notificationID)
		if err != nil {
			return err
		}
		requestID = n.RequestID
		return nil
	}); err != nil {
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, lock.RequestKey(requestID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock request: %w", err)
	}
	defer release()

	var (
		result   *ControllerResult
		retry    bool
		resolved bool
	)
	err = s.inTx(ctx, "record response", func(tx repository.Store) error {
		result, retry, resolved = nil, false, false

		n, err := tx.Notifications().GetByID(ctx, notificationID)
		if err != nil {
			return err
		}
		req, err := tx.Requests().GetForUpdate(ctx, n.RequestID)
		if err != nil {
			return err
		}

		if n.State != domain.NotificationSent {
			result = resultFor(req, OutcomeAlreadyResolved)
			if n.State == outcome.State() {
				result.Outcome = OutcomeDuplicate
			}
			result.NotificationID = n.ID
			result.DonorID = n.DonorID
			return nil
		}

		if outcome == domain.OutcomeAccepted && !req.State.IsPending() {
			result = resultFor(req, OutcomeRequestClosed)
			if req.State == domain.RequestStateAccepted || req.State == domain.RequestStateCompleted {
				result.Outcome = OutcomeAlreadyMatched
			}
			result.NotificationID = n.ID
			result.DonorID = n.DonorID
			return nil
		}

		now := s.now().UTC()
		ok, err := tx.Notifications().Resolve(ctx, n.ID, repository.Resolution{
			State:           outcome.State(),
			ResponseLatency: &latency,
			RespondedAt:     now,
		})
		if err != nil {
			return err
		}
		if !ok {
			result = resultFor(req, OutcomeAlreadyResolved)
			return nil
		}
		resolved = true

		if _, err := s.learner.ObserveResponse(ctx, tx.Patterns(), n.DonorID, outcome == domain.OutcomeAccepted, latency, now); err != nil {
			return err
		}

		switch {
		case outcome == domain.OutcomeAccepted:
			donorID := n.DonorID
			req.State = domain.RequestStateAccepted
			req.MatchedDonorID = &donorID
			req.AcceptedAt = &now
			req.Reason = "donor accepted"
			req.UpdatedAt = now
			if err := tx.Requests().Update(ctx, req); err != nil {
				return err
			}
			result = resultFor(req, OutcomeAccepted)
			result.Path = []domain.RequestState{domain.RequestStateAwaitingResponse, domain.RequestStateAccepted}
		case req.State.IsPending():
			retry = true
		default:
			result = resultFor(req, OutcomeRecorded)
		}
		result = withNotification(result, n)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if resolved {
		s.metrics.IncDonorResponse(outcome.String())
	}
	log := observability.RequestLogger(s.logger, ctx, requestID).With(
		zap.String("notificationId", notificationID),
		zap.String("outcome", outcome.String()),
	)

	if !retry {
		if result.Outcome == OutcomeAccepted {
			s.metrics.IncRequestTransition(domain.RequestStateAccepted.String())
			log.Info("donor accepted request", zap.String("donorId", result.DonorID))
		}
		return result, nil
	}

	log.Info("donor declined, retrying with remaining pool")
	next, _, err := s.advance(ctx, requestID, []domain.RequestState{domain.RequestStateRetrying}, nil)
	if err != nil {
		return nil, err
	}
	return next, nil
}

// CancelRequest withdraws a pending request. Pending notifications are left
// to expire.
func (s *MatchService) CancelRequest(ctx context.Context, requestID string, reason string) (*domain.Request, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return nil, fmt.Errorf("%w: request id is required", domain.ErrValidation)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "cancelled by requester"
	}

	release, err := s.locker.Acquire(ctx, lock.RequestKey(requestID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock request: %w", err)
	}
	defer release()

	var (
		cancelled *domain.Request
		changed   bool
	)
	err = s.inTx(ctx, "cancel request", func(tx repository.Store) error {
		changed = false
		req, err := tx.Requests().GetForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		cancelled = req
		if req.State == domain.RequestStateCancelled {
			return nil
		}
		if !req.State.IsPending() {
			return fmt.Errorf("%w: request is %s", domain.ErrConflict, req.State)
		}

		now := s.now().UTC()
		req.State = domain.RequestStateCancelled
		req.CancelledAt = &now
		req.Reason = reason
		req.UpdatedAt = now
		changed = true
		return tx.Requests().Update(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.metrics.IncRequestTransition(domain.RequestStateCancelled.String())
		observability.RequestLogger(s.logger, ctx, requestID).Info("blood request cancelled", zap.String("reason", reason))
	}
	return cancelled, nil
}

// VerifyCompletion confirms the matched donor donated. The donor is rewarded
// once; repeated calls return the completed request unchanged.
func (s *MatchService) VerifyCompletion(ctx context.Context, requestID string) (*ControllerResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return nil, fmt.Errorf("%w: request id is required", domain.ErrValidation)
	}

	release, err := s.locker.Acquire(ctx, lock.RequestKey(requestID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock request: %w", err)
	}
	defer release()

	var (
		result  *ControllerResult
		awarded bool
	)
	err = s.inTx(ctx, "verify completion", func(tx repository.Store) error {
		awarded = false
		req, err := tx.Requests().GetForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if req.State == domain.RequestStateCompleted {
			result = resultFor(req, OutcomeCompleted)
			return nil
		}
		if req.State != domain.RequestStateAccepted || req.MatchedDonorID == nil {
			return fmt.Errorf("%w: request is %s, only accepted requests can be verified", domain.ErrConflict, req.State)
		}

		donor, err := tx.Donors().GetByID(ctx, *req.MatchedDonorID)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		donor.Donations++
		donor.Points += s.opts.CompletionRewardPoints
		if donor.LastDonation == nil || now.After(*donor.LastDonation) {
			donor.LastDonation = &now
		}
		donor.UpdatedAt = now
		if err := tx.Donors().Update(ctx, donor); err != nil {
			return err
		}

		req.State = domain.RequestStateCompleted
		req.CompletedAt = &now
		req.Reason = "donation verified"
		req.UpdatedAt = now
		if err := tx.Requests().Update(ctx, req); err != nil {
			return err
		}

		awarded = true
		result = resultFor(req, OutcomeCompleted)
		result.Path = []domain.RequestState{domain.RequestStateAccepted, domain.RequestStateCompleted}
		result.DonorID = donor.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	if awarded {
		s.metrics.IncRequestTransition(domain.RequestStateCompleted.String())
		observability.RequestLogger(s.logger, ctx, requestID).Info("donation verified",
			zap.String("donorId", result.DonorID),
			zap.Int("points", s.opts.CompletionRewardPoints),
		)
	}
	return result, nil
}

func (s *MatchService) GetRequest(ctx context.Context, requestID string) (*domain.Request, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return nil, fmt.Errorf("%w: request id is required", domain.ErrValidation)
	}

	var req *domain.Request
	err := s.inTx(ctx, "get request", func(tx repository.Store) error {
		var err error
		req, err = tx.Requests().GetByID(ctx, requestID)
		return err
	})
	return req, err
}

// ListNotifications returns the contact history of a request in contact order.
func (s *MatchService) ListNotifications(ctx context.Context, requestID string) ([]domain.Notification, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return nil, fmt.Errorf("%w: request id is required", domain.ErrValidation)
	}

	var notifications []domain.Notification
	err := s.inTx(ctx, "list notifications", func(tx repository.Store) error {
		if _, err := tx.Requests().GetByID(ctx, requestID); err != nil {
			return err
		}
		var err error
		notifications, err = tx.Notifications().ListByRequest(ctx, requestID)
		return err
	})
	return notifications, err
}

// EscalationStats counts sweep decisions per day and action over the last
// days days, in the deployment timezone.
func (s *MatchService) EscalationStats(ctx context.Context, days int) ([]EscalationStat, error) {
	if days < 1 || days > maxStatsDays {
		return nil, fmt.Errorf("%w: days must be between 1 and %d", domain.ErrValidation, maxStatsDays)
	}

	since := s.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	var logs []domain.EscalationLog
	if err := s.inTx(ctx, "escalation stats", func(tx repository.Store) error {
		var err error
		logs, err = tx.Escalations().ListSince(ctx, since)
		return err
	}); err != nil {
		return nil, err
	}

	type key struct {
		day    string
		action domain.EscalationActionType
	}
	counts := make(map[key]int)
	for _, l := range logs {
		counts[key{day: l.CreatedAt.In(s.opts.Location).Format(time.DateOnly), action: l.Action}]++
	}

	stats := make([]EscalationStat, 0, len(counts))
	for k, count := range counts {
		stats = append(stats, EscalationStat{Day: k.day, Action: k.action, Count: count})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Day != stats[j].Day {
			return stats[i].Day < stats[j].Day
		}
		return stats[i].Action < stats[j].Action
	})
	return stats, nil
}

func (s *MatchService) newRequest(in SubmitInput) (*domain.Request, error) {
	bloodType, err := domain.ParseBloodTypeFromString(in.BloodType)
	if err != nil {
		return nil, err
	}
	urgency, err := domain.ParseUrgencyFromString(in.Urgency)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	req := &domain.Request{
		ID:          uuid.NewString(),
		BloodType:   bloodType,
		Location:    domain.Location{Latitude: in.Latitude, Longitude: in.Longitude},
		PatientName: strings.TrimSpace(in.PatientName),
		Hospital:    strings.TrimSpace(in.Hospital),
		Urgency:     urgency,
		State:       domain.RequestStateFiltering,
		SourceText:  normalizeOptionalString(in.SourceText),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

func resultFor(req *domain.Request, outcome ControllerOutcome) *ControllerResult {
	return &ControllerResult{
		Outcome:        outcome,
		RequestID:      req.ID,
		State:          req.State,
		Path:           []domain.RequestState{req.State},
		MatchedDonorID: req.MatchedDonorID,
		Reason:         req.Reason,
	}
}

func withNotification(result *ControllerResult, n *domain.Notification) *ControllerResult {
	if result == nil {
		return nil
	}
	result.NotificationID = n.ID
	result.DonorID = n.DonorID
	return result
}

func normalizeOptionalString(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func isDomainError(err error) bool {
	return errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrConflict) ||
		errors.Is(err, domain.ErrStorage)
}
