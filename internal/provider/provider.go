package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/lifelink-engine/internal/domain"
)

// Provider is the outbound donor notification port. Send is called at most
// once per notification.
type Provider interface {
	Send(ctx context.Context, msg Message) (*ProviderResponse, error)
}

// Message is one composed donor notification.
type Message struct {
	NotificationID string
	RequestID      string
	DonorID        string
	Channel        domain.Channel
	Recipient      string
	Content        string
}

func (m Message) Validate() error {
	if !m.Channel.IsValid() {
		return fmt.Errorf("%w: invalid channel %q", domain.ErrValidation, m.Channel)
	}
	if strings.TrimSpace(m.Recipient) == "" {
		return fmt.Errorf("%w: recipient is required", domain.ErrValidation)
	}
	if strings.TrimSpace(m.Content) == "" {
		return fmt.Errorf("%w: content is required", domain.ErrValidation)
	}
	return nil
}

// ProviderResponse stores provider call metadata for logging.
type ProviderResponse struct {
	StatusCode int
	Body       string
	MessageID  string
}
