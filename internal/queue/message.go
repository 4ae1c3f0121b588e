package queue

import (
	"fmt"
	"math"
	"strings"

	"github.com/kursadbilgin/lifelink-engine/internal/domain"
)

// EscalationMessage hands an escalated request to the blood-bank channel.
type EscalationMessage struct {
	EscalationID  string           `json:"escalationId"`
	RequestID     string           `json:"requestId"`
	CorrelationID string           `json:"correlationId,omitempty"`
	BloodType     domain.BloodType `json:"bloodType"`
	Urgency       domain.Urgency   `json:"urgency"`
	PatientName   string           `json:"patientName"`
	Hospital      string           `json:"hospital"`
	Latitude      float64          `json:"latitude"`
	Longitude     float64          `json:"longitude"`
	Contacted     int              `json:"contacted"`
	Reason        string           `json:"reason"`
}

func (m EscalationMessage) Validate() error {
	if strings.TrimSpace(m.EscalationID) == "" {
		return fmt.Errorf("escalationId is required")
	}
	if strings.TrimSpace(m.RequestID) == "" {
		return fmt.Errorf("requestId is required")
	}
	if !m.BloodType.IsValid() {
		return fmt.Errorf("invalid blood type %q", m.BloodType)
	}
	if !m.Urgency.IsValid() {
		return fmt.Errorf("invalid urgency %q", m.Urgency)
	}
	return nil
}

func (m EscalationMessage) MessageID() string   { return m.EscalationID }
func (m EscalationMessage) Correlation() string { return m.CorrelationID }
func (m EscalationMessage) Priority() uint8     { return PriorityValue(m.Urgency) }

// ResponseMessage is a donor reply relayed by an inbound gateway.
type ResponseMessage struct {
	NotificationID string         `json:"notificationId"`
	CorrelationID  string         `json:"correlationId,omitempty"`
	Outcome        domain.Outcome `json:"outcome"`
	LatencySeconds float64        `json:"latencySeconds"`
}

func (m ResponseMessage) Validate() error {
	if strings.TrimSpace(m.NotificationID) == "" {
		return fmt.Errorf("notificationId is required")
	}
	if !m.Outcome.IsValid() {
		return fmt.Errorf("invalid outcome %q", m.Outcome)
	}
	if math.IsNaN(m.LatencySeconds) || math.IsInf(m.LatencySeconds, 0) || m.LatencySeconds < 0 {
		return fmt.Errorf("latencySeconds must be a non-negative number")
	}
	return nil
}

func (m ResponseMessage) MessageID() string   { return m.NotificationID }
func (m ResponseMessage) Correlation() string { return m.CorrelationID }
func (m ResponseMessage) Priority() uint8     { return 0 }
