package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "cancelled", err: context.Canceled, want: false},
		{name: "transient provider error", err: &ProviderError{StatusCode: 503, Transient: true}, want: true},
		{name: "wrapped permanent provider error", err: fmt.Errorf("send: %w", &ProviderError{StatusCode: 400}), want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := IsTransient(tt.err); got != tt.want {
				t.Fatalf("IsTransient() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFailureReason(t *testing.T) {
	t.Parallel()

	if got := FailureReason(nil); got != "" {
		t.Fatalf("FailureReason(nil) = %q, want empty", got)
	}

	got := FailureReason(&ProviderError{StatusCode: 503, Message: "gateway down", Transient: true})
	if got != "transient: provider error: status=503: gateway down" {
		t.Fatalf("FailureReason() = %q", got)
	}

	long := FailureReason(errors.New(strings.Repeat("x", 2*maxFailureReasonLength)))
	if !strings.HasPrefix(long, "permanent: ") {
		t.Fatalf("FailureReason() = %q, want permanent prefix", long[:20])
	}
	if len(long) != len("permanent: ")+maxFailureReasonLength {
		t.Fatalf("FailureReason() length = %d, want truncated", len(long))
	}
}
