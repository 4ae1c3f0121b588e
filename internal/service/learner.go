package service

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/lifelink-engine/internal/domain"
	"github.com/kursadbilgin/lifelink-engine/internal/matching"
	"github.com/kursadbilgin/lifelink-engine/internal/repository"
)

// PatternLearner persists donor pattern updates. It runs inside the
// caller's transaction so an update lands with the resolution that caused it.
type PatternLearner struct {
	timeoutMode matching.TimeoutMode
	location    *time.Location
}

func NewPatternLearner(timeoutMode matching.TimeoutMode, location *time.Location) *PatternLearner {
	if !timeoutMode.IsValid() {
		timeoutMode = matching.TimeoutModeDecline
	}
	if location == nil {
		location = time.UTC
	}
	return &PatternLearner{timeoutMode: timeoutMode, location: location}
}

func (l *PatternLearner) ObserveResponse(
	ctx context.Context,
	patterns repository.PatternRepository,
	donorID string,
	accepted bool,
	latency time.Duration,
	at time.Time,
) (domain.DonorPattern, error) {
	prev, err := l.load(ctx, patterns, donorID)
	if err != nil {
		return domain.DonorPattern{}, err
	}

	next := matching.NextPattern(prev, donorID, matching.Observation{
		Accepted: accepted,
		Latency:  latency,
		Hour:     at.In(l.location).Hour(),
		At:       at,
	})
	if err := patterns.Upsert(ctx, &next); err != nil {
		return domain.DonorPattern{}, err
	}
	return next, nil
}

// ObserveTimeout applies an unanswered notification. It reports false when
// the timeout mode leaves patterns untouched.
func (l *PatternLearner) ObserveTimeout(
	ctx context.Context,
	patterns repository.PatternRepository,
	donorID string,
	at time.Time,
) (domain.DonorPattern, bool, error) {
	if l.timeoutMode == matching.TimeoutModeIgnore {
		return domain.DonorPattern{}, false, nil
	}

	prev, err := l.load(ctx, patterns, donorID)
	if err != nil {
		return domain.DonorPattern{}, false, err
	}

	next, ok := matching.NextPatternOnTimeout(prev, donorID, l.timeoutMode, matching.Observation{
		Hour: at.In(l.location).Hour(),
		At:   at,
	})
	if !ok {
		return domain.DonorPattern{}, false, nil
	}
	if err := patterns.Upsert(ctx, &next); err != nil {
		return domain.DonorPattern{}, false, err
	}
	return next, true, nil
}

func (l *PatternLearner) load(ctx context.Context, patterns repository.PatternRepository, donorID string) (*domain.DonorPattern, error) {
	prev, err := patterns.Get(ctx, donorID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return prev, err
}
