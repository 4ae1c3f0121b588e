package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/lifelink-engine/internal/domain"
)

const (
	// EscalationQueue carries blood-bank handoffs for escalated requests.
	EscalationQueue = "escalation.bloodbank"
	// ResponseQueue carries donor replies from SMS and email gateways.
	ResponseQueue = "donor.responses"
)

// Message is a broker payload.
type Message interface {
	Validate() error
	MessageID() string
	Correlation() string
	Priority() uint8
}

// Publisher publishes messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg Message) error
	Close() error
}

// ResponseHandler handles a consumed donor response.
type ResponseHandler func(ctx context.Context, msg ResponseMessage) error

// Consumer consumes donor responses from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler ResponseHandler) error
	Close() error
}

// queueSpec describes how a work queue is declared.
type queueSpec struct {
	name string
	// maxPriority is the x-max-priority argument; zero declares a plain queue.
	maxPriority int32
	// messageTTL dead-letters messages nobody consumed in time; zero disables it.
	messageTTL time.Duration
}

// Unconsumed donor replies expire into the dead-letter queue after a day.
var workQueues = []queueSpec{
	{name: EscalationQueue, maxPriority: 4},
	{name: ResponseQueue, messageTTL: 24 * time.Hour},
}

func (q queueSpec) arguments(deadLetterExchange string) map[string]any {
	args := map[string]any{
		"x-dead-letter-exchange":    deadLetterExchange,
		"x-dead-letter-routing-key": q.name,
	}
	if q.maxPriority > 0 {
		args["x-max-priority"] = q.maxPriority
	}
	if q.messageTTL > 0 {
		args["x-message-ttl"] = q.messageTTL.Milliseconds()
	}
	return args
}

// DLQName returns the dead-letter queue name for a work queue, e.g. dlq.donor.responses.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

// WorkQueueNames returns all work queues.
func WorkQueueNames() []string {
	names := make([]string, 0, len(workQueues))
	for _, q := range workQueues {
		names = append(names, q.name)
	}
	return names
}

// DLQNames returns all dead-letter queues.
func DLQNames() []string {
	queues := make([]string, 0, len(workQueues))
	for _, q := range workQueues {
		queues = append(queues, DLQName(q.name))
	}
	return queues
}

// PriorityValue maps request urgency to RabbitMQ message priority.
func PriorityValue(urgency domain.Urgency) uint8 {
	switch urgency {
	case domain.UrgencyCritical:
		return 4
	case domain.UrgencyHigh:
		return 3
	case domain.UrgencyMedium:
		return 2
	case domain.UrgencyLow:
		return 1
	default:
		return 0
	}
}
