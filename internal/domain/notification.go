package domain

import (
	"fmt"
	"strings"
	"time"
)

// NotificationState is the response state of one donor contact.
type NotificationState string

const (
	NotificationSent     NotificationState = "SENT"
	NotificationAccepted NotificationState = "ACCEPTED"
	NotificationDeclined NotificationState = "DECLINED"
	NotificationExpired  NotificationState = "EXPIRED"
)

func (s NotificationState) String() string { return string(s) }

func (s NotificationState) IsValid() bool {
	switch s {
	case NotificationSent, NotificationAccepted, NotificationDeclined, NotificationExpired:
		return true
	}
	return false
}

// Outcome is a donor's answer to a notification.
type Outcome string

const (
	OutcomeAccepted Outcome = "ACCEPTED"
	OutcomeDeclined Outcome = "DECLINED"
)

func (o Outcome) String() string { return string(o) }

func (o Outcome) IsValid() bool {
	return o == OutcomeAccepted || o == OutcomeDeclined
}

// State maps an outcome to the notification state it resolves to.
func (o Outcome) State() NotificationState {
	if o == OutcomeAccepted {
		return NotificationAccepted
	}
	return NotificationDeclined
}

func ParseOutcomeFromString(s string) (Outcome, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	switch normalized {
	case "ACCEPT":
		normalized = string(OutcomeAccepted)
	case "DECLINE":
		normalized = string(OutcomeDeclined)
	}
	o := Outcome(normalized)
	if !o.IsValid() {
		return "", fmt.Errorf("%w: invalid outcome %q", ErrValidation, s)
	}
	return o, nil
}

// Notification records one contact of a donor for a request.
// It is resolved once and immutable afterwards.
type Notification struct {
	ID              string
	RequestID       string
	DonorID         string
	Attempt         int
	Channel         Channel
	Message         string
	State           NotificationState
	ResponseLatency *time.Duration
	SendError       *string
	ExpiresAt       time.Time
	RespondedAt     *time.Time
	CreatedAt       time.Time
}

// Delivered reports whether the send collaborator accepted the message.
func (n *Notification) Delivered() bool {
	return n.SendError == nil
}

// IsOverdue reports whether a pending notification passed its response deadline.
func (n *Notification) IsOverdue(now time.Time) bool {
	return n.State == NotificationSent && !now.Before(n.ExpiresAt)
}
