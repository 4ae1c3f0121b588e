package matching

import (
	"time"

	"github.com/kursadbilgin/lifelink-engine/internal/domain"
)

// DefaultCooldown is the minimum gap between two donations.
const DefaultCooldown = 90 * 24 * time.Hour

// IsEligible reports whether donor may be matched to a request for bloodType at now.
func IsEligible(donor domain.Donor, bloodType domain.BloodType, cooldown time.Duration, now time.Time) bool {
	if donor.ApprovalStatus != domain.ApprovalApproved {
		return false
	}
	if donor.BloodType != bloodType {
		return false
	}
	if donor.LastDonation == nil {
		return true
	}
	return now.Sub(*donor.LastDonation) >= cooldown
}

// FilterEligible keeps the donors allowed to donate now, preserving input order.
func FilterEligible(donors []domain.Donor, bloodType domain.BloodType, cooldown time.Duration, now time.Time) []domain.Donor {
	eligible := make([]domain.Donor, 0, len(donors))
	for _, d := range donors {
		if IsEligible(d, bloodType, cooldown, now) {
			eligible = append(eligible, d)
		}
	}
	return eligible
}

// ExcludeContacted drops donors already notified for the request.
func ExcludeContacted(donors []domain.Donor, contacted map[string]struct{}) []domain.Donor {
	if len(contacted) == 0 {
		return donors
	}
	remaining := make([]domain.Donor, 0, len(donors))
	for _, d := range donors {
		if _, ok := contacted[d.ID]; ok {
			continue
		}
		remaining = append(remaining, d)
	}
	return remaining
}
