package matching

import (
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/lifelink-engine/internal/domain"
)

const (
	rateRetain    = 0.8
	latencyRetain = 0.7

	// WeakTimeoutRetain is the rate smoothing used when timeouts count as a weak negative.
	WeakTimeoutRetain = 0.9

	windowEarliestHour = 9
	windowLatestHour   = 21
)

// TimeoutMode controls how an unanswered notification feeds the learner.
type TimeoutMode string

const (
	TimeoutModeDecline TimeoutMode = "decline"
	TimeoutModeWeak    TimeoutMode = "weak"
	TimeoutModeIgnore  TimeoutMode = "ignore"
)

func (m TimeoutMode) IsValid() bool {
	switch m {
	case TimeoutModeDecline, TimeoutModeWeak, TimeoutModeIgnore:
		return true
	}
	return false
}

func ParseTimeoutModeFromString(s string) (TimeoutMode, error) {
	m := TimeoutMode(strings.ToLower(strings.TrimSpace(s)))
	if !m.IsValid() {
		return "", fmt.Errorf("%w: invalid timeout pattern mode %q", domain.ErrValidation, s)
	}
	return m, nil
}

// Observation is one observed donor response.
type Observation struct {
	Accepted bool
	Latency  time.Duration
	Hour     int
	At       time.Time
}

// PreferredWindowAround returns the ±1 hour band around hour, clamped to [9, 21].
func PreferredWindowAround(hour int) domain.HourWindow {
	return domain.HourWindow{
		StartHour: max(windowEarliestHour, hour-1),
		EndHour:   min(windowLatestHour, hour+1),
	}
}

// NextPattern folds obs into prev. A nil prev initializes a new pattern.
func NextPattern(prev *domain.DonorPattern, donorID string, obs Observation) domain.DonorPattern {
	outcome := 0.0
	if obs.Accepted {
		outcome = 1.0
	}
	latency := obs.Latency.Seconds()
	if latency < 0 {
		latency = 0
	}

	if prev == nil {
		return domain.DonorPattern{
			DonorID:         donorID,
			ResponseRate:    outcome,
			AvgResponseTime: latency,
			PreferredWindow: PreferredWindowAround(obs.Hour),
			Observations:    1,
			UpdatedAt:       obs.At,
		}
	}

	return domain.DonorPattern{
		DonorID:         donorID,
		ResponseRate:    rateRetain*prev.ResponseRate + (1-rateRetain)*outcome,
		AvgResponseTime: latencyRetain*prev.AvgResponseTime + (1-latencyRetain)*latency,
		PreferredWindow: PreferredWindowAround(obs.Hour),
		Observations:    prev.Observations + 1,
		UpdatedAt:       obs.At,
	}
}

// NextPatternOnTimeout applies an unanswered notification. ok is false when
// mode ignores timeouts. A timeout only moves the response rate of an
// existing pattern since no response time was observed.
func NextPatternOnTimeout(prev *domain.DonorPattern, donorID string, mode TimeoutMode, obs Observation) (domain.DonorPattern, bool) {
	if mode == TimeoutModeIgnore {
		return domain.DonorPattern{}, false
	}
	obs.Accepted = false
	if prev == nil {
		return NextPattern(nil, donorID, obs), true
	}

	retain := rateRetain
	if mode == TimeoutModeWeak {
		retain = WeakTimeoutRetain
	}
	next := *prev
	next.DonorID = donorID
	next.ResponseRate = retain * prev.ResponseRate
	next.Observations = prev.Observations + 1
	next.UpdatedAt = obs.At
	return next, true
}
