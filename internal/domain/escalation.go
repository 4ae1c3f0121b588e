package domain

import (
	"encoding/json"
	"time"
)

// EscalationActionType names a decision taken by the escalation sweep.
type EscalationActionType string

const (
	ActionExpandSearch      EscalationActionType = "EXPAND_SEARCH"
	ActionTimeoutRetry      EscalationActionType = "TIMEOUT_RETRY"
	ActionEscalateBloodBank EscalationActionType = "ESCALATE_BLOOD_BANK"
	ActionExhausted         EscalationActionType = "EXHAUSTED"
)

func (a EscalationActionType) String() string { return string(a) }

// EscalationLog is the audit entry for an autonomous sweep decision.
type EscalationLog struct {
	ID          string
	RequestID   string
	Action      EscalationActionType
	Reason      string
	Detail      json.RawMessage
	HandedOffAt *time.Time
	CreatedAt   time.Time
}
