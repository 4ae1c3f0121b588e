package matching

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/kursadbilgin/lifelink-engine/internal/domain"
	"github.com/kursadbilgin/lifelink-engine/internal/geo"
)

const (
	// MaxScoredDistanceKM is the distance at which the distance score reaches zero.
	MaxScoredDistanceKM = 50.0
	// HistorySaturation is the donation count at which the history score saturates.
	HistorySaturation = 10.0

	defaultAvailability = 0.5
	inWindowFactor      = 1.2
	outOfWindowFactor   = 0.7
)

// Mode selects how eligible donors are ordered.
type Mode string

const (
	ModeWeighted Mode = "weighted"
	ModeSimple   Mode = "simple"
)

func (m Mode) IsValid() bool {
	return m == ModeWeighted || m == ModeSimple
}

func ParseModeFromString(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if !m.IsValid() {
		return "", fmt.Errorf("%w: invalid ranking mode %q", domain.ErrValidation, s)
	}
	return m, nil
}

// Weights are the urgency-dependent coefficients of the total score.
type Weights struct {
	Distance     float64
	Availability float64
	History      float64
}

func WeightsFor(u domain.Urgency) Weights {
	switch u {
	case domain.UrgencyCritical:
		return Weights{Distance: 0.6, Availability: 0.3, History: 0.1}
	case domain.UrgencyHigh:
		return Weights{Distance: 0.5, Availability: 0.3, History: 0.2}
	default:
		return Weights{Distance: 0.4, Availability: 0.4, History: 0.2}
	}
}

// Candidate is an eligible donor annotated with its ranking inputs.
type Candidate struct {
	Donor             domain.Donor
	DistanceKM        float64
	DistanceScore     float64
	AvailabilityScore float64
	HistoryScore      float64
	TotalScore        float64
}

type Ranker struct {
	mode Mode
}

func NewRanker(mode Mode) *Ranker {
	if !mode.IsValid() {
		mode = ModeWeighted
	}
	return &Ranker{mode: mode}
}

func (r *Ranker) Mode() Mode {
	return r.mode
}

// Rank orders donors for a request at location. hour is the current hour
// of day in the deployment timezone and drives the preferred window check.
// Weighted mode sorts by total score desc, then distance asc, then donor id.
// Simple mode sorts by distance asc, then donor id.
func (r *Ranker) Rank(
	donors []domain.Donor,
	patterns map[string]domain.DonorPattern,
	urgency domain.Urgency,
	location domain.Location,
	hour int,
) []Candidate {
	weights := WeightsFor(urgency)
	candidates := make([]Candidate, 0, len(donors))
	for _, d := range donors {
		distance := geo.Between(location, d.Location)
		if math.IsNaN(distance) {
			distance = math.Inf(1)
		}

		c := Candidate{Donor: d, DistanceKM: distance}
		if r.mode == ModeWeighted {
			var pattern *domain.DonorPattern
			if p, ok := patterns[d.ID]; ok {
				pattern = &p
			}
			c.DistanceScore = DistanceScore(distance)
			c.AvailabilityScore = AvailabilityScore(pattern, hour)
			c.HistoryScore = HistoryScore(d.Donations)
			c.TotalScore = weights.Distance*c.DistanceScore +
				weights.Availability*c.AvailabilityScore +
				weights.History*c.HistoryScore
		}
		candidates = append(candidates, c)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if r.mode == ModeWeighted && a.TotalScore != b.TotalScore {
			return a.TotalScore > b.TotalScore
		}
		if a.DistanceKM != b.DistanceKM {
			return a.DistanceKM < b.DistanceKM
		}
		return a.Donor.ID < b.Donor.ID
	})

	return candidates
}

func DistanceScore(distanceKM float64) float64 {
	return math.Max(0, 1-distanceKM/MaxScoredDistanceKM)
}

// AvailabilityScore is neutral when no pattern has been learned yet.
func AvailabilityScore(pattern *domain.DonorPattern, hour int) float64 {
	if pattern == nil {
		return defaultAvailability
	}
	factor := outOfWindowFactor
	if pattern.PreferredWindow.Contains(hour) {
		factor = inWindowFactor
	}
	return clamp01(pattern.ResponseRate * factor)
}

func HistoryScore(donations int) float64 {
	if donations <= 0 {
		return 0
	}
	return math.Min(float64(donations)/HistorySaturation, 1)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
