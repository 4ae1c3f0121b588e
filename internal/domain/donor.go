package domain

import (
	"fmt"
	"strings"
	"time"
)

// ApprovalStatus is set by the external approval flow.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

func (s ApprovalStatus) String() string { return string(s) }

func (s ApprovalStatus) IsValid() bool {
	switch s {
	case ApprovalPending, ApprovalApproved, ApprovalRejected:
		return true
	}
	return false
}

// Donor is a registered blood donor.
type Donor struct {
	ID             string
	Name           string
	Email          string
	Phone          string
	BloodType      BloodType
	Location       Location
	Donations      int
	Points         int
	LastDonation   *time.Time
	ApprovalStatus ApprovalStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (d *Donor) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("%w: donor id is required", ErrValidation)
	}
	if !d.BloodType.IsValid() {
		return fmt.Errorf("%w: invalid blood type %q", ErrValidation, d.BloodType)
	}
	if !d.ApprovalStatus.IsValid() {
		return fmt.Errorf("%w: invalid approval status %q", ErrValidation, d.ApprovalStatus)
	}
	if strings.TrimSpace(d.Email) == "" && strings.TrimSpace(d.Phone) == "" {
		return fmt.Errorf("%w: donor needs an email or phone", ErrValidation)
	}
	return d.Location.Validate()
}

// PreferredChannel picks SMS when a phone number is known.
func (d *Donor) PreferredChannel() Channel {
	if strings.TrimSpace(d.Phone) != "" {
		return ChannelSMS
	}
	return ChannelEmail
}

// ContactAddress returns the recipient for the preferred channel.
func (d *Donor) ContactAddress() string {
	if d.PreferredChannel() == ChannelSMS {
		return strings.TrimSpace(d.Phone)
	}
	return strings.TrimSpace(d.Email)
}
