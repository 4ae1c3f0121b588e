package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/lifelink-engine/internal/domain"
	"github.com/kursadbilgin/lifelink-engine/internal/matching"
	"github.com/kursadbilgin/lifelink-engine/internal/observability"
	"github.com/kursadbilgin/lifelink-engine/internal/provider"
	"github.com/kursadbilgin/lifelink-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	baseStoreRetryDelay       = 50 * time.Millisecond
	maxStoreRetryDelay        = 2 * time.Second
	maxStoreRetryJitterMillis = 25
)

// escalationTag marks a dispatch taken autonomously by the sweep.
type escalationTag struct {
	action domain.EscalationActionType
	reason string
}

type pendingSend struct {
	donor        domain.Donor
	notification domain.Notification
}

// advance moves a pending request to its next durable state: it notifies the
// best remaining donor, waits on outstanding notifications, or exhausts the
// request. The caller must hold the request lock.
//
// Each notification is committed together with the AWAITING_RESPONSE state
// before the send. A failed send resolves that notification as a decline and
// the loop moves on to the next donor.
func (s *MatchService) advance(
	ctx context.Context,
	requestID string,
	path []domain.RequestState,
	tag *escalationTag,
) (*ControllerResult, []domain.EscalationLog, error) {
	path = append([]domain.RequestState(nil), path...)
	var logs []domain.EscalationLog

	for {
		var (
			result  *ControllerResult
			send    *pendingSend
			created []domain.EscalationLog
		)
		err := s.inTx(ctx, "advance request", func(tx repository.Store) error {
			result, send, created = nil, nil, nil

			req, err := tx.Requests().GetForUpdate(ctx, requestID)
			if err != nil {
				return err
			}
			if !req.State.IsPending() {
				result = resultFor(req, closedOutcome(req.State))
				return nil
			}

			history, err := tx.Notifications().ListByRequest(ctx, requestID)
			if err != nil {
				return err
			}
			contacted := make(map[string]struct{}, len(history))
			delivered, outstanding := 0, 0
			for i := range history {
				contacted[history[i].DonorID] = struct{}{}
				if history[i].Delivered() {
					delivered++
				}
				if history[i].State == domain.NotificationSent {
					outstanding++
				}
			}

			now := s.now().UTC()
			if delivered >= s.opts.MaxAutonomousAttempts {
				result, err = s.await(ctx, tx, req, now, "attempt limit reached, awaiting escalation")
				return err
			}

			donors, err := tx.Donors().ListByBloodType(ctx, req.BloodType, domain.ApprovalApproved)
			if err != nil {
				return err
			}
			eligible := matching.FilterEligible(donors, req.BloodType, s.opts.Cooldown, now)
			remaining := matching.ExcludeContacted(eligible, contacted)

			if len(remaining) == 0 {
				if outstanding > 0 {
					result, err = s.await(ctx, tx, req, now, "no remaining eligible donors, awaiting pending responses")
					return err
				}
				reason := "no remaining eligible donors"
				if len(history) == 0 {
					reason = "no eligible donors"
				}
				entry, err := s.exhaust(ctx, tx, req, now, reason, delivered)
				if err != nil {
					return err
				}
				created = append(created, *entry)
				result = resultFor(req, OutcomeExhausted)
				return nil
			}

			ids := make([]string, len(remaining))
			for i := range remaining {
				ids[i] = remaining[i].ID
			}
			patterns, err := tx.Patterns().ListByDonorIDs(ctx, ids)
			if err != nil {
				return err
			}

			ranked := s.ranker.Rank(remaining, patterns, req.Urgency, req.Location, now.In(s.opts.Location).Hour())
			head := ranked[0]

			attempt := len(history) + 1
			timeout := s.opts.FollowupResponseTimeout
			if attempt == 1 {
				timeout = s.opts.FirstResponseTimeout
			}
			n := domain.Notification{
				ID:        uuid.NewString(),
				RequestID: req.ID,
				DonorID:   head.Donor.ID,
				Attempt:   attempt,
				Channel:   head.Donor.PreferredChannel(),
				Message:   s.dispatcher.Compose(head.Donor, *req, head),
				State:     domain.NotificationSent,
				ExpiresAt: now.Add(timeout),
				CreatedAt: now,
			}
			if err := tx.Notifications().Create(ctx, &n); err != nil {
				return err
			}

			req.State = domain.RequestStateAwaitingResponse
			req.Reason = "awaiting donor response"
			req.UpdatedAt = now
			if err := tx.Requests().Update(ctx, req); err != nil {
				return err
			}

			if tag != nil {
				entry, err := s.logEscalation(ctx, tx, req.ID, tag.action, tag.reason, now, map[string]any{
					"notificationId": n.ID,
					"donorId":        n.DonorID,
					"attempt":        n.Attempt,
					"contacted":      delivered,
					"distanceKm":     head.DistanceKM,
				})
				if err != nil {
					return err
				}
				created = append(created, *entry)
			}

			send = &pendingSend{donor: head.Donor, notification: n}
			result = withNotification(resultFor(req, OutcomeAwaitingResponse), &n)
			return nil
		})
		if err != nil {
			return nil, logs, err
		}

		logs = append(logs, created...)
		s.recordLogMetrics(created)
		if len(created) > 0 {
			tag = nil
		}

		if send == nil {
			result.Path = appendState(path, result.State)
			return result, logs, nil
		}

		sendErr := s.dispatcher.Dispatch(ctx, send.donor, send.notification)
		if sendErr == nil {
			result.Path = appendState(path, domain.RequestStateAwaitingResponse)
			return result, logs, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			// The committed notification expires through the sweep.
			return nil, logs, fmt.Errorf("dispatch interrupted: %w", ctxErr)
		}

		observability.RequestLogger(s.logger, ctx, requestID).Warn("notification send failed, treating as decline",
			zap.String("notificationId", send.notification.ID),
			zap.String("donorId", send.donor.ID),
			zap.Bool("transient", provider.IsTransient(sendErr)),
			zap.Error(sendErr),
		)

		failure := provider.FailureReason(sendErr)
		if err := s.inTx(ctx, "record send failure", func(tx repository.Store) error {
			_, err := tx.Notifications().Resolve(ctx, send.notification.ID, repository.Resolution{
				State:       domain.NotificationDeclined,
				SendError:   &failure,
				RespondedAt: s.now().UTC(),
			})
			return err
		}); err != nil {
			return nil, logs, err
		}

		path = appendState(path, domain.RequestStateAwaitingResponse)
		path = appendState(path, domain.RequestStateRetrying)
	}
}

func (s *MatchService) await(
	ctx context.Context,
	tx repository.Store,
	req *domain.Request,
	now time.Time,
	reason string,
) (*ControllerResult, error) {
	if req.State != domain.RequestStateAwaitingResponse || req.Reason != reason {
		req.State = domain.RequestStateAwaitingResponse
		req.Reason = reason
		req.UpdatedAt = now
		if err := tx.Requests().Update(ctx, req); err != nil {
			return nil, err
		}
	}
	return resultFor(req, OutcomeAwaitingResponse), nil
}

func (s *MatchService) exhaust(
	ctx context.Context,
	tx repository.Store,
	req *domain.Request,
	now time.Time,
	reason string,
	contacted int,
) (*domain.EscalationLog, error) {
	req.State = domain.RequestStateExhausted
	req.Reason = reason
	req.UpdatedAt = now
	if err := tx.Requests().Update(ctx, req); err != nil {
		return nil, err
	}
	return s.logEscalation(ctx, tx, req.ID, domain.ActionExhausted, reason, now, map[string]any{
		"contacted": contacted,
	})
}

func (s *MatchService) logEscalation(
	ctx context.Context,
	tx repository.Store,
	requestID string,
	action domain.EscalationActionType,
	reason string,
	now time.Time,
	detail map[string]any,
) (*domain.EscalationLog, error) {
	raw, err := json.Marshal(detail)
	if err != nil {
		return nil, fmt.Errorf("failed to encode escalation detail: %w", err)
	}

	entry := &domain.EscalationLog{
		ID:        uuid.NewString(),
		RequestID: requestID,
		Action:    action,
		Reason:    reason,
		Detail:    raw,
		CreatedAt: now,
	}
	if err := tx.Escalations().Create(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *MatchService) recordLogMetrics(logs []domain.EscalationLog) {
	for _, l := range logs {
		s.metrics.IncEscalationAction(l.Action.String())
		switch l.Action {
		case domain.ActionExhausted:
			s.metrics.IncRequestTransition(domain.RequestStateExhausted.String())
		case domain.ActionEscalateBloodBank:
			s.metrics.IncRequestTransition(domain.RequestStateEscalated.String())
		}
	}
}

// inTx runs fn in a store transaction, retrying the whole transaction with
// backoff on storage failures. Domain errors are returned as is.
func (s *MatchService) inTx(ctx context.Context, op string, fn func(tx repository.Store) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var err error
	for attempt := 1; ; attempt++ {
		err = s.store.WithinTx(ctx, fn)
		if err == nil || !isRetryableStoreError(ctx, err) {
			return err
		}
		if attempt >= s.opts.StoreRetryAttempts {
			break
		}

		delay := s.computeRetryDelay(attempt)
		s.metrics.IncStorageRetry()
		s.logger.Warn("storage transaction failed, retrying",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if waitErr := s.sleep(ctx, delay); waitErr != nil {
			return fmt.Errorf("%w: %s: %w", domain.ErrStorage, op, err)
		}
	}

	return fmt.Errorf("%w: %s failed after %d attempts: %w", domain.ErrStorage, op, s.opts.StoreRetryAttempts, err)
}

func (s *MatchService) computeRetryDelay(attemptNumber int) time.Duration {
	if attemptNumber < 1 {
		attemptNumber = 1
	}

	delay := baseStoreRetryDelay
	for i := 1; i < attemptNumber; i++ {
		delay *= 2
		if delay >= maxStoreRetryDelay {
			delay = maxStoreRetryDelay
			break
		}
	}

	jitterMillis := 0
	if s.randIntn != nil {
		jitterMillis = s.randIntn(maxStoreRetryJitterMillis + 1)
	}

	return delay + time.Duration(jitterMillis)*time.Millisecond
}

func isRetryableStoreError(ctx context.Context, err error) bool {
	if isDomainError(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return ctx.Err() == nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func closedOutcome(state domain.RequestState) ControllerOutcome {
	switch state {
	case domain.RequestStateAccepted, domain.RequestStateCompleted:
		return OutcomeAlreadyMatched
	case domain.RequestStateExhausted:
		return OutcomeExhausted
	case domain.RequestStateEscalated:
		return OutcomeEscalated
	}
	return OutcomeRequestClosed
}

func appendState(path []domain.RequestState, state domain.RequestState) []domain.RequestState {
	if len(path) > 0 && path[len(path)-1] == state {
		return path
	}
	return append(path, state)
}
