package domain

import (
	"fmt"
	"strings"
)

// BloodType is one of the eight ABO/Rh combinations.
type BloodType string

const (
	BloodTypeAPos  BloodType = "A+"
	BloodTypeANeg  BloodType = "A-"
	BloodTypeBPos  BloodType = "B+"
	BloodTypeBNeg  BloodType = "B-"
	BloodTypeABPos BloodType = "AB+"
	BloodTypeABNeg BloodType = "AB-"
	BloodTypeOPos  BloodType = "O+"
	BloodTypeONeg  BloodType = "O-"
)

func (b BloodType) String() string { return string(b) }

func (b BloodType) IsValid() bool {
	switch b {
	case BloodTypeAPos, BloodTypeANeg, BloodTypeBPos, BloodTypeBNeg,
		BloodTypeABPos, BloodTypeABNeg, BloodTypeOPos, BloodTypeONeg:
		return true
	}
	return false
}

func ParseBloodTypeFromString(s string) (BloodType, error) {
	bt := BloodType(strings.ToUpper(strings.ReplaceAll(s, " ", "")))
	if !bt.IsValid() {
		return "", fmt.Errorf("%w: invalid blood type %q", ErrValidation, s)
	}
	return bt, nil
}

// Urgency is the requester-declared severity of a request.
type Urgency string

const (
	UrgencyCritical Urgency = "CRITICAL"
	UrgencyHigh     Urgency = "HIGH"
	UrgencyMedium   Urgency = "MEDIUM"
	UrgencyLow      Urgency = "LOW"
)

func (u Urgency) String() string { return string(u) }

func (u Urgency) IsValid() bool {
	switch u {
	case UrgencyCritical, UrgencyHigh, UrgencyMedium, UrgencyLow:
		return true
	}
	return false
}

// ParseUrgencyFromString defaults an empty value to MEDIUM.
func ParseUrgencyFromString(s string) (Urgency, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return UrgencyMedium, nil
	}
	u := Urgency(strings.ToUpper(trimmed))
	if !u.IsValid() {
		return "", fmt.Errorf("%w: invalid urgency %q", ErrValidation, s)
	}
	return u, nil
}

// Channel is the delivery channel used to reach a donor.
type Channel string

const (
	ChannelSMS   Channel = "SMS"
	ChannelEmail Channel = "EMAIL"
)

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelSMS, ChannelEmail:
		return true
	}
	return false
}
