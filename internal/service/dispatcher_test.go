package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kursadbilgin/lifelink-engine/internal/domain"
	"github.com/kursadbilgin/lifelink-engine/internal/matching"
	"github.com/kursadbilgin/lifelink-engine/internal/provider"
	"go.uber.org/zap"
)

func TestTemplateComposerWording(t *testing.T) {
	t.Parallel()

	composer, err := NewTemplateComposer("")
	if err != nil {
		t.Fatalf("NewTemplateComposer() error = %v", err)
	}

	donor := donorNorth("d1", 3)
	tests := []struct {
		urgency domain.Urgency
		prefix  string
	}{
		{urgency: domain.UrgencyCritical, prefix: "URGENT: Donor d1"},
		{urgency: domain.UrgencyHigh, prefix: "Priority request: Donor d1"},
		{urgency: domain.UrgencyLow, prefix: "Hello Donor d1"},
	}
	for _, tt := range tests {
		req := domain.Request{
			BloodType:   domain.BloodTypeOPos,
			Urgency:     tt.urgency,
			PatientName: "R. Kumar",
			Hospital:    "City General",
		}
		got := composer.Compose(donor, req, matching.Candidate{Donor: donor, DistanceKM: 3.04})
		if !strings.HasPrefix(got, tt.prefix) {
			t.Fatalf("Compose(%s) = %q, want prefix %q", tt.urgency, got, tt.prefix)
		}
		if !strings.Contains(got, "City General needs O+ blood for R. Kumar") || !strings.Contains(got, "3.0 km") {
			t.Fatalf("Compose(%s) = %q, missing request details", tt.urgency, got)
		}
	}
}

func TestNewTemplateComposerRejectsBadTemplate(t *testing.T) {
	t.Parallel()

	if _, err := NewTemplateComposer("{{.Opening"); err == nil {
		t.Fatal("NewTemplateComposer() error = nil, want parse error")
	}
}

func TestDispatchSendsOneMessage(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{}
	d, err := NewDispatcher(p, &fakeRateLimiter{}, ComposerFunc(func(domain.Donor, domain.Request, matching.Candidate) string {
		return "custom"
	}), time.Second, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}

	donor := donorNorth("d1", 1)
	donor.Phone = ""
	donor.Email = "d1@example.org"
	n := domain.Notification{
		ID:        "n1",
		RequestID: "r1",
		DonorID:   donor.ID,
		Attempt:   1,
		Channel:   donor.PreferredChannel(),
		Message:   d.Compose(donor, domain.Request{}, matching.Candidate{}),
	}
	if err := d.Dispatch(context.Background(), donor, n); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	sent := p.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(sent))
	}
	want := provider.Message{
		NotificationID: "n1",
		RequestID:      "r1",
		DonorID:        "d1",
		Channel:        domain.ChannelEmail,
		Recipient:      "d1@example.org",
		Content:        "custom",
	}
	if sent[0] != want {
		t.Fatalf("sent message = %+v, want %+v", sent[0], want)
	}
}

func TestDispatchDoesNotRetry(t *testing.T) {
	t.Parallel()

	sendErr := &provider.ProviderError{StatusCode: 503, Transient: true, Message: "unavailable"}
	p := &fakeProvider{sendFn: func(context.Context, provider.Message) (*provider.ProviderResponse, error) {
		return nil, sendErr
	}}
	d, err := NewDispatcher(p, nil, nil, time.Second, nil)
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}

	donor := donorNorth("d1", 1)
	err = d.Dispatch(context.Background(), donor, domain.Notification{ID: "n1", RequestID: "r1", Channel: domain.ChannelSMS})
	if !errors.Is(err, sendErr) {
		t.Fatalf("Dispatch() error = %v, want provider error", err)
	}
	if len(p.Sent()) != 1 {
		t.Fatalf("provider calls = %d, want exactly 1", len(p.Sent()))
	}
}

func TestDispatchStopsWhenRateLimiterFails(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{}
	limiter := &fakeRateLimiter{waitFn: func(ctx context.Context, channel domain.Channel) error {
		return context.DeadlineExceeded
	}}
	d, err := NewDispatcher(p, limiter, nil, time.Second, zap.NewNop())
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}

	err = d.Dispatch(context.Background(), donorNorth("d1", 1), domain.Notification{ID: "n1", Channel: domain.ChannelSMS})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Dispatch() error = %v, want rate limiter error", err)
	}
	if len(p.Sent()) != 0 {
		t.Fatal("provider should not be called when the limiter fails")
	}
}

func TestNewDispatcherRequiresProvider(t *testing.T) {
	t.Parallel()

	if _, err := NewDispatcher(nil, nil, nil, 0, nil); err == nil {
		t.Fatal("NewDispatcher(nil) error = nil, want error")
	}
}
