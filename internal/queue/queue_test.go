package queue

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/kursadbilgin/lifelink-engine/internal/domain"
)

func TestQueueNames(t *testing.T) {
	work := WorkQueueNames()
	if len(work) != 2 {
		t.Fatalf("WorkQueueNames len = %d, want 2", len(work))
	}

	expected := map[string]struct{}{
		"escalation.bloodbank": {},
		"donor.responses":      {},
	}
	for _, name := range work {
		if _, ok := expected[name]; !ok {
			t.Fatalf("unexpected queue name: %s", name)
		}
	}

	expectedDLQ := map[string]struct{}{
		"dlq.escalation.bloodbank": {},
		"dlq.donor.responses":      {},
	}
	for _, name := range DLQNames() {
		if _, ok := expectedDLQ[name]; !ok {
			t.Fatalf("unexpected dlq name: %s", name)
		}
	}

	// Callers must not be able to mutate the declared topology.
	work[0] = "mutated"
	if WorkQueueNames()[0] == "mutated" {
		t.Fatal("WorkQueueNames returned the shared slice")
	}
}

func TestQueueArguments(t *testing.T) {
	byName := make(map[string]queueSpec, len(workQueues))
	for _, q := range workQueues {
		byName[q.name] = q
	}

	escalation := byName[EscalationQueue].arguments(dlxExchangeName)
	if escalation["x-max-priority"] != int32(4) {
		t.Fatalf("escalation x-max-priority = %v, want 4", escalation["x-max-priority"])
	}
	if _, ok := escalation["x-message-ttl"]; ok {
		t.Fatal("escalation queue must not expire handoffs")
	}
	if escalation["x-dead-letter-routing-key"] != EscalationQueue {
		t.Fatalf("escalation dead-letter key = %v", escalation["x-dead-letter-routing-key"])
	}

	responses := byName[ResponseQueue].arguments(dlxExchangeName)
	if _, ok := responses["x-max-priority"]; ok {
		t.Fatal("response queue must be a plain queue")
	}
	if responses["x-message-ttl"] != int64(86400000) {
		t.Fatalf("response x-message-ttl = %v, want 86400000", responses["x-message-ttl"])
	}
	if responses["x-dead-letter-exchange"] != "lifelink.dlx" {
		t.Fatalf("response dead-letter exchange = %v", responses["x-dead-letter-exchange"])
	}
}

func TestPriorityValue(t *testing.T) {
	tests := []struct {
		name    string
		urgency domain.Urgency
		want    uint8
	}{
		{name: "critical", urgency: domain.UrgencyCritical, want: 4},
		{name: "high", urgency: domain.UrgencyHigh, want: 3},
		{name: "medium", urgency: domain.UrgencyMedium, want: 2},
		{name: "low", urgency: domain.UrgencyLow, want: 1},
		{name: "invalid", urgency: domain.Urgency("invalid"), want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PriorityValue(tt.urgency); got != tt.want {
				t.Fatalf("PriorityValue(%q) = %d, want %d", tt.urgency, got, tt.want)
			}
		})
	}
}

func TestEscalationMessageValidate(t *testing.T) {
	msg := EscalationMessage{
		EscalationID: "e1",
		RequestID:    "r1",
		BloodType:    domain.BloodTypeONeg,
		Urgency:      domain.UrgencyCritical,
		Hospital:     "City General",
		Contacted:    3,
	}
	if err := msg.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
	if msg.Priority() != 4 || msg.MessageID() != "e1" {
		t.Fatalf("Priority()/MessageID() = %d/%s", msg.Priority(), msg.MessageID())
	}

	msg.RequestID = ""
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for empty request id")
	}

	msg.RequestID = "r1"
	msg.BloodType = "Q+"
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for invalid blood type")
	}
}

func TestResponseMessageValidate(t *testing.T) {
	msg := ResponseMessage{NotificationID: "n1", Outcome: domain.OutcomeAccepted, LatencySeconds: 30}
	if err := msg.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}

	msg.Outcome = "MAYBE"
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for invalid outcome")
	}

	msg.Outcome = domain.OutcomeDeclined
	msg.LatencySeconds = math.NaN()
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for NaN latency")
	}

	msg.LatencySeconds = -1
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for negative latency")
	}
}

func TestResponseMessageJSON(t *testing.T) {
	var msg ResponseMessage
	body := `{"notificationId":"n1","outcome":"DECLINED","latencySeconds":12.5}`
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if msg.NotificationID != "n1" || msg.Outcome != domain.OutcomeDeclined || msg.LatencySeconds != 12.5 {
		t.Fatalf("decoded message = %+v", msg)
	}
}
