package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/lifelink-engine/internal/domain"
	"github.com/kursadbilgin/lifelink-engine/internal/observability"
	"github.com/kursadbilgin/lifelink-engine/internal/queue"
	"github.com/kursadbilgin/lifelink-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultHandoffScanInterval = 30 * time.Second
	defaultHandoffScanLimit    = 100
)

// HandoffScanner publishes escalated requests to the blood-bank queue and
// periodically republishes handoffs that failed to go out.
type HandoffScanner struct {
	store     repository.Store
	publisher queue.Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics
	interval  time.Duration
	limit     int
	now       func() time.Time
}

func NewHandoffScanner(
	store repository.Store,
	publisher queue.Publisher,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*HandoffScanner, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = defaultHandoffScanInterval
	}
	if limit <= 0 {
		limit = defaultHandoffScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HandoffScanner{
		store:     store,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		limit:     limit,
		now:       time.Now,
	}, nil
}

func (s *HandoffScanner) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *HandoffScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.scanPending(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("handoff scanner initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scanPending(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("handoff scanner scan failed", zap.Error(err))
			}
		}
	}
}

// Publish sends entry to the blood-bank queue and marks it handed off.
func (s *HandoffScanner) Publish(ctx context.Context, entry domain.EscalationLog) error {
	if entry.Action != domain.ActionEscalateBloodBank {
		return fmt.Errorf("%w: escalation %s is not a blood bank handoff", domain.ErrValidation, entry.ID)
	}

	req, err := s.store.Requests().GetByID(ctx, entry.RequestID)
	if err != nil {
		return fmt.Errorf("failed to load escalated request: %w", err)
	}
	history, err := s.store.Notifications().ListByRequest(ctx, entry.RequestID)
	if err != nil {
		return fmt.Errorf("failed to load contact history: %w", err)
	}
	contacted := 0
	for i := range history {
		if history[i].Delivered() {
			contacted++
		}
	}

	correlationID, ok := observability.CorrelationIDFromContext(ctx)
	if !ok {
		correlationID = req.ID
	}

	msg := queue.EscalationMessage{
		EscalationID:  entry.ID,
		RequestID:     req.ID,
		CorrelationID: correlationID,
		BloodType:     req.BloodType,
		Urgency:       req.Urgency,
		PatientName:   req.PatientName,
		Hospital:      req.Hospital,
		Latitude:      req.Location.Latitude,
		Longitude:     req.Location.Longitude,
		Contacted:     contacted,
		Reason:        entry.Reason,
	}
	if err := s.publisher.Publish(ctx, queue.EscalationQueue, msg); err != nil {
		s.metrics.IncHandoff(false)
		return fmt.Errorf("failed to publish handoff: %w", err)
	}
	s.metrics.IncHandoff(true)

	if err := s.store.Escalations().MarkHandedOff(ctx, entry.ID, s.now().UTC()); err != nil {
		return fmt.Errorf("failed to mark handoff as published: %w", err)
	}

	observability.RequestLogger(s.logger, ctx, req.ID).Info("request handed off to blood bank",
		zap.String("escalationId", entry.ID),
		zap.Int("contacted", contacted),
	)
	return nil
}

func (s *HandoffScanner) scanPending(ctx context.Context) error {
	pending, err := s.store.Escalations().ListPendingHandoff(ctx, s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch pending handoffs: %w", err)
	}

	for i := range pending {
		entry := pending[i]
		if err := s.Publish(ctx, entry); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error("failed to republish blood bank handoff",
				zap.String("escalationId", entry.ID),
				zap.String("requestId", entry.RequestID),
				zap.Error(err),
			)
			continue
		}
	}

	return nil
}
