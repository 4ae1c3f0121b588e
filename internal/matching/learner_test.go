package matching

import (
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/lifelink-engine/internal/domain"
)

func TestNextPatternRoundTrip(t *testing.T) {
	t.Parallel()

	first := NextPattern(nil, "d1", Observation{Accepted: true, Latency: 120 * time.Second, Hour: 14, At: testNow})
	assertClose(t, "first ResponseRate", first.ResponseRate, 1.0)
	assertClose(t, "first AvgResponseTime", first.AvgResponseTime, 120)
	if first.PreferredWindow != (domain.HourWindow{StartHour: 13, EndHour: 15}) {
		t.Fatalf("first PreferredWindow = %+v, want 13-15", first.PreferredWindow)
	}
	if first.Observations != 1 {
		t.Fatalf("first Observations = %d, want 1", first.Observations)
	}

	second := NextPattern(&first, "d1", Observation{Accepted: false, Latency: 20 * time.Second, Hour: 20, At: testNow})
	assertClose(t, "second ResponseRate", second.ResponseRate, 0.8)
	assertClose(t, "second AvgResponseTime", second.AvgResponseTime, 0.7*120+0.3*20)
	if second.PreferredWindow != (domain.HourWindow{StartHour: 19, EndHour: 21}) {
		t.Fatalf("second PreferredWindow = %+v, want 19-21", second.PreferredWindow)
	}
	if second.Observations != 2 {
		t.Fatalf("second Observations = %d, want 2", second.Observations)
	}
}

func TestNextPatternFirstDecline(t *testing.T) {
	t.Parallel()

	p := NextPattern(nil, "d1", Observation{Accepted: false, Latency: time.Minute, Hour: 10, At: testNow})
	assertClose(t, "ResponseRate", p.ResponseRate, 0)
}

func TestPreferredWindowAroundClamps(t *testing.T) {
	t.Parallel()

	tests := []struct {
		hour int
		want domain.HourWindow
	}{
		{hour: 12, want: domain.HourWindow{StartHour: 11, EndHour: 13}},
		{hour: 9, want: domain.HourWindow{StartHour: 9, EndHour: 10}},
		{hour: 21, want: domain.HourWindow{StartHour: 20, EndHour: 21}},
		{hour: 2, want: domain.HourWindow{StartHour: 9, EndHour: 3}},
		{hour: 23, want: domain.HourWindow{StartHour: 22, EndHour: 21}},
	}

	for _, tt := range tests {
		if got := PreferredWindowAround(tt.hour); got != tt.want {
			t.Fatalf("PreferredWindowAround(%d) = %+v, want %+v", tt.hour, got, tt.want)
		}
	}
}

func TestNextPatternOnTimeout(t *testing.T) {
	t.Parallel()

	prev := domain.DonorPattern{
		DonorID:         "d1",
		ResponseRate:    1,
		AvgResponseTime: 60,
		PreferredWindow: domain.HourWindow{StartHour: 10, EndHour: 12},
		Observations:    3,
	}
	obs := Observation{Latency: 15 * time.Minute, Hour: 18, At: testNow}

	decline, ok := NextPatternOnTimeout(&prev, "d1", TimeoutModeDecline, obs)
	if !ok {
		t.Fatal("decline mode should update the pattern")
	}
	assertClose(t, "decline ResponseRate", decline.ResponseRate, 0.8)
	assertClose(t, "decline AvgResponseTime", decline.AvgResponseTime, 60)
	if decline.PreferredWindow != prev.PreferredWindow {
		t.Fatalf("timeout moved the preferred window to %+v", decline.PreferredWindow)
	}
	if decline.Observations != 4 {
		t.Fatalf("Observations = %d, want 4", decline.Observations)
	}

	weak, ok := NextPatternOnTimeout(&prev, "d1", TimeoutModeWeak, obs)
	if !ok {
		t.Fatal("weak mode should update the pattern")
	}
	assertClose(t, "weak ResponseRate", weak.ResponseRate, 0.9)

	if _, ok := NextPatternOnTimeout(&prev, "d1", TimeoutModeIgnore, obs); ok {
		t.Fatal("ignore mode should not update the pattern")
	}

	fresh, ok := NextPatternOnTimeout(nil, "d2", TimeoutModeWeak, obs)
	if !ok || fresh.ResponseRate != 0 || fresh.DonorID != "d2" {
		t.Fatalf("first timeout pattern = %+v, want zero rate for d2", fresh)
	}
}

func TestParseTimeoutModeFromString(t *testing.T) {
	t.Parallel()

	got, err := ParseTimeoutModeFromString(" Weak ")
	if err != nil || got != TimeoutModeWeak {
		t.Fatalf("ParseTimeoutModeFromString() = %s, %v", got, err)
	}
	if _, err := ParseTimeoutModeFromString("soft"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("ParseTimeoutModeFromString() error = %v, want ErrValidation", err)
	}
}
