package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kursadbilgin/lifelink-engine/internal/domain"
	"github.com/kursadbilgin/lifelink-engine/internal/observability"
	"github.com/kursadbilgin/lifelink-engine/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// ResponseRecorder applies donor answers. MatchService implements it.
type ResponseRecorder interface {
	RecordResponse(ctx context.Context, notificationID string, outcome domain.Outcome, latency time.Duration) (*ControllerResult, error)
}

// ResponseWorker applies donor replies relayed by inbound SMS and email
// gateways over the response queue.
type ResponseWorker struct {
	recorder    ResponseRecorder
	consumer    queue.Consumer
	logger      *zap.Logger
	concurrency int
}

func NewResponseWorker(
	recorder ResponseRecorder,
	consumer queue.Consumer,
	concurrency int,
	logger *zap.Logger,
) (*ResponseWorker, error) {
	if recorder == nil {
		return nil, fmt.Errorf("response recorder is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ResponseWorker{
		recorder:    recorder,
		consumer:    consumer,
		logger:      logger,
		concurrency: concurrency,
	}, nil
}

// Start consumes the response queue until context cancellation.
func (w *ResponseWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("response worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queue.ResponseQueue),
			)

			err := w.consumer.Consume(groupCtx, queue.ResponseQueue, w.processMessage)
			if err != nil {
				w.logger.Error("response worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("response worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (w *ResponseWorker) processMessage(ctx context.Context, msg queue.ResponseMessage) error {
	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}
	logger := observability.WithContextLogger(w.logger, ctx).With(zap.String("notificationId", msg.NotificationID))

	latency := time.Duration(math.Round(msg.LatencySeconds * float64(time.Second)))
	result, err := w.recorder.RecordResponse(ctx, msg.NotificationID, msg.Outcome, latency)
	if err != nil {
		// Nothing a redelivery could fix.
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrValidation) {
			logger.Warn("dropping donor response", zap.Error(err))
			return nil
		}
		return fmt.Errorf("failed to record donor response: %w", err)
	}

	logger.Info("donor response applied",
		zap.String("requestId", result.RequestID),
		zap.String("outcome", string(result.Outcome)),
		zap.String("state", result.State.String()),
	)
	return nil
}
