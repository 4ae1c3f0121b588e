package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/lifelink-engine/internal/domain"
	"github.com/kursadbilgin/lifelink-engine/internal/lock"
	"github.com/kursadbilgin/lifelink-engine/internal/observability"
	"github.com/kursadbilgin/lifelink-engine/internal/repository"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	expandSearchAfter = 10 * time.Minute
	secondRetryAfter  = 20 * time.Minute
	escalateAfter     = 30 * time.Minute
)

// EscalationAction is one autonomous decision taken by a sweep.
type EscalationAction struct {
	LogID          string
	RequestID      string
	Action         domain.EscalationActionType
	Reason         string
	NotificationID string
	DonorID        string
	At             time.Time
}

type sweepPlan struct {
	expired    int
	tag        *escalationTag
	escalation *domain.EscalationLog
	contacted  int
}

// RunEscalationSweep expires overdue notifications and applies the time
// based escalation policy to every pending request. A failing request does
// not stop the sweep; all failures are returned together.
func (s *MatchService) RunEscalationSweep(ctx context.Context) ([]EscalationAction, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	start := s.now()
	defer func() {
		s.metrics.ObserveSweepDuration(s.now().Sub(start))
	}()
	now := start.UTC()

	var (
		pending []domain.Request
		overdue []domain.Notification
	)
	if err := s.inTx(ctx, "load sweep candidates", func(tx repository.Store) error {
		var err error
		if pending, err = tx.Requests().ListPending(ctx, s.opts.SweepLimit); err != nil {
			return err
		}
		overdue, err = tx.Notifications().ListOverdue(ctx, now, s.opts.SweepLimit)
		return err
	}); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(pending)+len(overdue))
	requestIDs := make([]string, 0, len(pending)+len(overdue))
	for _, req := range pending {
		if _, ok := seen[req.ID]; !ok {
			seen[req.ID] = struct{}{}
			requestIDs = append(requestIDs, req.ID)
		}
	}
	for _, n := range overdue {
		if _, ok := seen[n.RequestID]; !ok {
			seen[n.RequestID] = struct{}{}
			requestIDs = append(requestIDs, n.RequestID)
		}
	}

	actions := make([]EscalationAction, 0)
	var errs error
	for _, requestID := range requestIDs {
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}

		requestCtx, cancel := context.WithTimeout(ctx, s.opts.SweepRequestTimeout)
		taken, err := s.sweepRequest(requestCtx, requestID, now)
		cancel()

		actions = append(actions, taken...)
		if err != nil {
			s.logger.Error("escalation sweep failed for request",
				zap.String("requestId", requestID),
				zap.Error(err),
			)
			errs = multierr.Append(errs, fmt.Errorf("sweep request %s: %w", requestID, err))
		}
	}

	s.logger.Info("escalation sweep finished",
		zap.Int("requests", len(requestIDs)),
		zap.Int("actions", len(actions)),
		zap.Int("failures", len(multierr.Errors(errs))),
	)
	return actions, errs
}

func (s *MatchService) sweepRequest(ctx context.Context, requestID string, now time.Time) ([]EscalationAction, error) {
	release, err := s.locker.Acquire(ctx, lock.RequestKey(requestID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock request: %w", err)
	}
	defer release()

	var plan sweepPlan
	err = s.inTx(ctx, "sweep request", func(tx repository.Store) error {
		plan = sweepPlan{}

		req, err := tx.Requests().GetForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		history, err := tx.Notifications().ListByRequest(ctx, requestID)
		if err != nil {
			return err
		}

		for i := range history {
			n := &history[i]
			if !n.IsOverdue(now) {
				continue
			}
			ok, err := tx.Notifications().Resolve(ctx, n.ID, repository.Resolution{
				State:       domain.NotificationExpired,
				RespondedAt: now,
			})
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			n.State = domain.NotificationExpired
			plan.expired++

			// Closed requests only let their notifications lapse.
			if req.State.IsPending() {
				if _, _, err := s.learner.ObserveTimeout(ctx, tx.Patterns(), n.DonorID, now); err != nil {
					return err
				}
			}
		}

		if !req.State.IsPending() {
			return nil
		}

		delivered, outstanding, accepted := 0, 0, 0
		for i := range history {
			if history[i].Delivered() {
				delivered++
			}
			switch history[i].State {
			case domain.NotificationSent:
				outstanding++
			case domain.NotificationAccepted:
				accepted++
			}
		}
		plan.contacted = delivered

		elapsed := now.Sub(req.CreatedAt)
		limit := s.opts.MaxAutonomousAttempts
		switch {
		case delivered < limit && plan.expired > 0:
			plan.tag = &escalationTag{action: domain.ActionTimeoutRetry, reason: "notification expired without response"}
		case delivered < limit && outstanding == 0:
			plan.tag = &escalationTag{action: domain.ActionTimeoutRetry, reason: "no pending notification, resuming search"}
		case elapsed >= escalateAfter && delivered >= limit && accepted == 0:
			reason := fmt.Sprintf("no donor accepted after %d contacts in %d minutes", delivered, int(elapsed.Minutes()))
			req.State = domain.RequestStateEscalated
			req.EscalatedAt = &now
			req.Reason = reason
			req.UpdatedAt = now
			if err := tx.Requests().Update(ctx, req); err != nil {
				return err
			}
			entry, err := s.logEscalation(ctx, tx, req.ID, domain.ActionEscalateBloodBank, reason, now, map[string]any{
				"contacted":      delivered,
				"elapsedMinutes": int(elapsed.Minutes()),
			})
			if err != nil {
				return err
			}
			plan.escalation = entry
		case elapsed >= secondRetryAfter && delivered == 2:
			plan.tag = &escalationTag{action: domain.ActionExpandSearch, reason: "no acceptance 20 minutes after request, contacting another donor"}
		case elapsed >= expandSearchAfter && delivered == 1:
			plan.tag = &escalationTag{action: domain.ActionExpandSearch, reason: "no acceptance 10 minutes after request, expanding search"}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i := 0; i < plan.expired; i++ {
		s.metrics.IncDonorResponse(domain.NotificationExpired.String())
	}
	log := observability.RequestLogger(s.logger, ctx, requestID)

	if plan.escalation != nil {
		s.recordLogMetrics([]domain.EscalationLog{*plan.escalation})
		log.Warn("request escalated to blood bank",
			zap.Int("contacted", plan.contacted),
			zap.String("reason", plan.escalation.Reason),
		)
		if s.handoff != nil {
			if err := s.handoff.Publish(ctx, *plan.escalation); err != nil {
				log.Error("blood bank handoff failed, leaving it for the handoff scanner", zap.Error(err))
			}
		}
		return []EscalationAction{actionFromLog(*plan.escalation, nil)}, nil
	}

	if plan.tag == nil {
		return nil, nil
	}

	result, logs, err := s.advance(ctx, requestID, []domain.RequestState{domain.RequestStateRetrying}, plan.tag)
	actions := make([]EscalationAction, 0, len(logs))
	for _, l := range logs {
		actions = append(actions, actionFromLog(l, result))
	}
	if err != nil {
		return actions, err
	}

	log.Info("escalation sweep acted on request",
		zap.String("action", plan.tag.action.String()),
		zap.String("outcome", string(result.Outcome)),
		zap.Int("expired", plan.expired),
	)
	return actions, nil
}

func actionFromLog(l domain.EscalationLog, result *ControllerResult) EscalationAction {
	action := EscalationAction{
		LogID:     l.ID,
		RequestID: l.RequestID,
		Action:    l.Action,
		Reason:    l.Reason,
		At:        l.CreatedAt,
	}
	if result != nil && l.Action != domain.ActionExhausted {
		action.NotificationID = result.NotificationID
		action.DonorID = result.DonorID
	}
	return action
}

// Sweeper runs the escalation sweep on a fixed interval until its context
// ends.
type Sweeper struct {
	engine   escalationSweeper
	logger   *zap.Logger
	interval time.Duration
}

type escalationSweeper interface {
	RunEscalationSweep(ctx context.Context) ([]EscalationAction, error)
}

const defaultSweepInterval = 300 * time.Second

func NewSweeper(engine escalationSweeper, interval time.Duration, logger *zap.Logger) (*Sweeper, error) {
	if engine == nil {
		return nil, fmt.Errorf("escalation engine is required")
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Sweeper{
		engine:   engine,
		logger:   logger,
		interval: interval,
	}, nil
}

func (s *Sweeper) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run once up front so overdue requests do not wait for the first tick.
	if err := s.runOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("escalation sweeper initial run failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.runOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("escalation sweep failed", zap.Error(err))
			}
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) error {
	_, err := s.engine.RunEscalationSweep(ctx)
	return err
}
