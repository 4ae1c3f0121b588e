package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kursadbilgin/lifelink-engine/internal/domain"
	"github.com/kursadbilgin/lifelink-engine/internal/matching"
	"github.com/kursadbilgin/lifelink-engine/internal/provider"
)

func TestSubmitRequestSkipsDonorInCooldown(t *testing.T) {
	t.Parallel()

	near := donorNorth("d1", 5)
	far := donorNorth("d2", 40)
	donated := baseTime.Add(-70 * 24 * time.Hour)
	far.LastDonation = &donated

	h := newHarness(t, Options{}, near, far)
	result := h.submit(t, criticalInput())

	if result.Outcome != OutcomeAwaitingResponse {
		t.Fatalf("outcome = %s, want %s", result.Outcome, OutcomeAwaitingResponse)
	}
	if result.DonorID != "d1" {
		t.Fatalf("notified donor = %s, want d1", result.DonorID)
	}
	wantPath := []domain.RequestState{
		domain.RequestStateFiltering,
		domain.RequestStateRanked,
		domain.RequestStateAwaitingResponse,
	}
	if !statesEqual(result.Path, wantPath) {
		t.Fatalf("path = %v, want %v", result.Path, wantPath)
	}

	sent := h.provider.Sent()
	if len(sent) != 1 || sent[0].DonorID != "d1" {
		t.Fatalf("sent = %+v, want one message to d1", sent)
	}
	if sent[0].Channel != domain.ChannelSMS || sent[0].Recipient != near.Phone {
		t.Fatalf("message routed to %s/%s, want SMS to %s", sent[0].Channel, sent[0].Recipient, near.Phone)
	}

	notifications := h.notifications(t, result.RequestID)
	if len(notifications) != 1 {
		t.Fatalf("notifications = %d, want 1", len(notifications))
	}
	n := notifications[0]
	if n.State != domain.NotificationSent || n.Attempt != 1 {
		t.Fatalf("notification = %+v, want SENT attempt 1", n)
	}
	if !n.ExpiresAt.Equal(baseTime.Add(15 * time.Minute)) {
		t.Fatalf("expires at = %s, want first response deadline", n.ExpiresAt)
	}
	if got := h.request(t, result.RequestID).State; got != domain.RequestStateAwaitingResponse {
		t.Fatalf("request state = %s, want AWAITING_RESPONSE", got)
	}
}

func TestSubmitRequestHoldsLockThroughFirstDispatch(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{}, donorNorth("d1", 1), donorNorth("d2", 2), donorNorth("d3", 3))

	type sweepResult struct {
		actions []EscalationAction
		err     error
	}
	var (
		armed     atomic.Bool
		attempted = make(chan struct{}, 1)
		swept     = make(chan sweepResult, 1)
	)
	h.svc.locker = &hookLocker{
		Locker: h.svc.locker,
		onAcquire: func(string) {
			if armed.Load() {
				select {
				case attempted <- struct{}{}:
				default:
				}
			}
		},
	}
	h.svc.store = &createHookStore{
		Store: h.svc.store,
		afterCreate: func(string) {
			if !armed.CompareAndSwap(false, true) {
				return
			}
			// A sweep starting right after the request is saved must wait for
			// the first dispatch.
			go func() {
				actions, err := h.svc.RunEscalationSweep(context.Background())
				swept <- sweepResult{actions: actions, err: err}
			}()
			select {
			case <-attempted:
			case <-time.After(2 * time.Second):
			}
		},
	}

	result := h.submit(t, criticalInput())
	if result.DonorID != "d1" {
		t.Fatalf("notified donor = %s, want d1", result.DonorID)
	}

	var got sweepResult
	select {
	case got = <-swept:
	case <-time.After(5 * time.Second):
		t.Fatal("sweep did not finish")
	}
	if got.err != nil {
		t.Fatalf("RunEscalationSweep() error = %v", got.err)
	}
	if len(got.actions) != 0 {
		t.Fatalf("sweep actions = %+v, want none at submission time", got.actions)
	}

	notifications := h.notifications(t, result.RequestID)
	if len(notifications) != 1 {
		t.Fatalf("notifications = %d, want 1", len(notifications))
	}
	if notifications[0].DonorID != "d1" || notifications[0].Attempt != 1 {
		t.Fatalf("notification = %+v, want attempt 1 to d1", notifications[0])
	}
	if sent := h.provider.Sent(); len(sent) != 1 {
		t.Fatalf("sent = %d messages, want 1", len(sent))
	}
}

func TestSubmitRequestWithoutEligibleDonorsExhausts(t *testing.T) {
	t.Parallel()

	rejected := donorNorth("d1", 2)
	rejected.ApprovalStatus = domain.ApprovalRejected
	otherType := donorNorth("d2", 3)
	otherType.BloodType = domain.BloodTypeABNeg

	h := newHarness(t, Options{}, rejected, otherType)
	result := h.submit(t, criticalInput())

	if result.Outcome != OutcomeExhausted || result.State != domain.RequestStateExhausted {
		t.Fatalf("result = %+v, want EXHAUSTED", result)
	}
	if result.Reason != "no eligible donors" {
		t.Fatalf("reason = %q, want no eligible donors", result.Reason)
	}
	if len(h.provider.Sent()) != 0 {
		t.Fatal("no notification should be sent")
	}

	logs, err := h.store.Escalations().ListSince(context.Background(), baseTime.Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListSince() error = %v", err)
	}
	if len(logs) != 1 || logs[0].Action != domain.ActionExhausted {
		t.Fatalf("escalation logs = %+v, want one EXHAUSTED entry", logs)
	}
}

func TestSubmitRequestRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(in *SubmitInput)
	}{
		{name: "blood type", mutate: func(in *SubmitInput) { in.BloodType = "Q+" }},
		{name: "latitude", mutate: func(in *SubmitInput) { in.Latitude = 100 }},
		{name: "nan longitude", mutate: func(in *SubmitInput) { in.Longitude = math.NaN() }},
		{name: "urgency", mutate: func(in *SubmitInput) { in.Urgency = "whenever" }},
		{name: "hospital", mutate: func(in *SubmitInput) { in.Hospital = " " }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, Options{}, donorNorth("d1", 1))
			in := criticalInput()
			tt.mutate(&in)

			_, err := h.svc.SubmitRequest(context.Background(), in)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("SubmitRequest() error = %v, want ErrValidation", err)
			}

			pending, err := h.store.Requests().ListPending(context.Background(), 10)
			if err != nil {
				t.Fatalf("ListPending() error = %v", err)
			}
			if len(pending) != 0 {
				t.Fatalf("pending requests = %d, want 0", len(pending))
			}
		})
	}
}

func TestRecordResponseAcceptIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{}, donorNorth("d1", 1), donorNorth("d2", 2))
	submitted := h.submit(t, criticalInput())

	first := h.respond(t, submitted.NotificationID, domain.OutcomeAccepted)
	if first.Outcome != OutcomeAccepted || first.State != domain.RequestStateAccepted {
		t.Fatalf("first response = %+v, want ACCEPTED", first)
	}
	if first.MatchedDonorID == nil || *first.MatchedDonorID != "d1" {
		t.Fatalf("matched donor = %v, want d1", first.MatchedDonorID)
	}

	second := h.respond(t, submitted.NotificationID, domain.OutcomeAccepted)
	if second.Outcome != OutcomeDuplicate {
		t.Fatalf("second response outcome = %s, want %s", second.Outcome, OutcomeDuplicate)
	}

	conflicting := h.respond(t, submitted.NotificationID, domain.OutcomeDeclined)
	if conflicting.Outcome != OutcomeAlreadyResolved {
		t.Fatalf("conflicting response outcome = %s, want %s", conflicting.Outcome, OutcomeAlreadyResolved)
	}

	p := h.pattern(t, "d1")
	if p == nil || p.Observations != 1 || p.ResponseRate != 1.0 {
		t.Fatalf("pattern = %+v, want a single accepted observation", p)
	}
	if len(h.provider.Sent()) != 1 {
		t.Fatalf("sent = %d, want 1", len(h.provider.Sent()))
	}
}

func TestRecordResponseDeclineRetriesRemainingPool(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{}, donorNorth("d1", 1), donorNorth("d2", 2), donorNorth("d3", 3))
	submitted := h.submit(t, criticalInput())

	h.clock.Advance(2 * time.Minute)
	result := h.respond(t, submitted.NotificationID, domain.OutcomeDeclined)

	if result.Outcome != OutcomeAwaitingResponse || result.DonorID != "d2" {
		t.Fatalf("result = %+v, want d2 notified", result)
	}
	wantPath := []domain.RequestState{domain.RequestStateRetrying, domain.RequestStateAwaitingResponse}
	if !statesEqual(result.Path, wantPath) {
		t.Fatalf("path = %v, want %v", result.Path, wantPath)
	}

	notifications := h.notifications(t, submitted.RequestID)
	if len(notifications) != 2 {
		t.Fatalf("notifications = %d, want 2", len(notifications))
	}
	if notifications[0].State != domain.NotificationDeclined {
		t.Fatalf("first notification state = %s, want DECLINED", notifications[0].State)
	}
	second := notifications[1]
	if second.Attempt != 2 || !second.ExpiresAt.Equal(h.clock.Now().Add(10*time.Minute)) {
		t.Fatalf("second notification = %+v, want attempt 2 with follow-up deadline", second)
	}
}

func TestRecordResponseDeclineOfLastDonorExhausts(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{}, donorNorth("d1", 1))
	submitted := h.submit(t, criticalInput())

	result := h.respond(t, submitted.NotificationID, domain.OutcomeDeclined)
	if result.Outcome != OutcomeExhausted {
		t.Fatalf("outcome = %s, want EXHAUSTED", result.Outcome)
	}
	if result.Reason != "no remaining eligible donors" {
		t.Fatalf("reason = %q", result.Reason)
	}
}

func TestPatternLearnerRoundTrip(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{}, donorNorth("d1", 1))

	first := h.submit(t, criticalInput())
	h.respond(t, first.NotificationID, domain.OutcomeAccepted)
	if p := h.pattern(t, "d1"); p == nil || p.ResponseRate != 1.0 {
		t.Fatalf("pattern after accept = %+v, want rate 1.0", p)
	}

	second := h.submit(t, criticalInput())
	if second.DonorID != "d1" {
		t.Fatalf("second request notified %s, want d1", second.DonorID)
	}
	h.respond(t, second.NotificationID, domain.OutcomeDeclined)

	p := h.pattern(t, "d1")
	if p == nil || math.Abs(p.ResponseRate-0.8) > 1e-9 {
		t.Fatalf("pattern after decline = %+v, want rate 0.8", p)
	}
	if p.Observations != 2 {
		t.Fatalf("observations = %d, want 2", p.Observations)
	}
}

func TestConcurrentAcceptsFirstWriterWins(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{}, donorNorth("d1", 1), donorNorth("d2", 2), donorNorth("d3", 3))
	submitted := h.submit(t, criticalInput())

	h.clock.Advance(11 * time.Minute)
	if _, err := h.svc.RunEscalationSweep(context.Background()); err != nil {
		t.Fatalf("RunEscalationSweep() error = %v", err)
	}
	notifications := h.notifications(t, submitted.RequestID)
	if len(notifications) != 2 {
		t.Fatalf("notifications = %d, want 2 pending", len(notifications))
	}

	results := make([]*ControllerResult, len(notifications))
	errs := make([]error, len(notifications))
	var wg sync.WaitGroup
	for i := range notifications {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.svc.RecordResponse(context.Background(), notifications[i].ID, domain.OutcomeAccepted, time.Minute)
		}(i)
	}
	wg.Wait()

	winner := ""
	accepted, conflicts := 0, 0
	for i, result := range results {
		if errs[i] != nil {
			t.Fatalf("RecordResponse() error = %v", errs[i])
		}
		switch result.Outcome {
		case OutcomeAccepted:
			accepted++
			winner = notifications[i].DonorID
		case OutcomeAlreadyMatched:
			conflicts++
		default:
			t.Fatalf("unexpected outcome %s", result.Outcome)
		}
	}
	if accepted != 1 || conflicts != 1 {
		t.Fatalf("accepted = %d conflicts = %d, want 1 and 1", accepted, conflicts)
	}

	req := h.request(t, submitted.RequestID)
	if req.State != domain.RequestStateAccepted || req.MatchedDonorID == nil || *req.MatchedDonorID != winner {
		t.Fatalf("request = %+v, want ACCEPTED by %s", req, winner)
	}
}

func TestSendFailureIsTreatedAsDecline(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{}, donorNorth("d1", 1), donorNorth("d2", 2))
	h.provider.sendFn = func(ctx context.Context, msg provider.Message) (*provider.ProviderResponse, error) {
		if msg.DonorID == "d1" {
			return nil, errors.New("gateway unavailable")
		}
		return &provider.ProviderResponse{StatusCode: 202}, nil
	}

	result := h.submit(t, criticalInput())
	if result.Outcome != OutcomeAwaitingResponse || result.DonorID != "d2" {
		t.Fatalf("result = %+v, want d2 notified after d1 failed", result)
	}
	wantPath := []domain.RequestState{
		domain.RequestStateFiltering,
		domain.RequestStateRanked,
		domain.RequestStateAwaitingResponse,
		domain.RequestStateRetrying,
		domain.RequestStateAwaitingResponse,
	}
	if !statesEqual(result.Path, wantPath) {
		t.Fatalf("path = %v, want %v", result.Path, wantPath)
	}

	notifications := h.notifications(t, result.RequestID)
	if len(notifications) != 2 {
		t.Fatalf("notifications = %d, want 2", len(notifications))
	}
	failed := notifications[0]
	if failed.State != domain.NotificationDeclined || failed.SendError == nil {
		t.Fatalf("failed notification = %+v, want DECLINED with send error", failed)
	}
	if h.pattern(t, "d1") != nil {
		t.Fatal("a send failure should not update the donor pattern")
	}
}

func TestAllSendsFailingExhaustsRequest(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{}, donorNorth("d1", 1), donorNorth("d2", 2))
	h.provider.sendFn = func(ctx context.Context, msg provider.Message) (*provider.ProviderResponse, error) {
		return nil, errors.New("gateway unavailable")
	}

	result := h.submit(t, criticalInput())
	if result.Outcome != OutcomeExhausted {
		t.Fatalf("outcome = %s, want EXHAUSTED", result.Outcome)
	}
	if len(h.provider.Sent()) != 2 {
		t.Fatalf("send attempts = %d, want 2", len(h.provider.Sent()))
	}
}

func TestCancelRequest(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{}, donorNorth("d1", 1), donorNorth("d2", 2))
	submitted := h.submit(t, criticalInput())

	cancelled, err := h.svc.CancelRequest(context.Background(), submitted.RequestID, "")
	if err != nil {
		t.Fatalf("CancelRequest() error = %v", err)
	}
	if cancelled.State != domain.RequestStateCancelled || cancelled.CancelledAt == nil {
		t.Fatalf("cancelled = %+v, want CANCELLED", cancelled)
	}

	again, err := h.svc.CancelRequest(context.Background(), submitted.RequestID, "")
	if err != nil || again.State != domain.RequestStateCancelled {
		t.Fatalf("second CancelRequest() = %+v, %v, want idempotent", again, err)
	}

	accept, err := h.svc.RecordResponse(context.Background(), submitted.NotificationID, domain.OutcomeAccepted, time.Minute)
	if err != nil {
		t.Fatalf("RecordResponse() error = %v", err)
	}
	if accept.Outcome != OutcomeRequestClosed {
		t.Fatalf("accept on cancelled request = %s, want %s", accept.Outcome, OutcomeRequestClosed)
	}

	decline := h.respond(t, submitted.NotificationID, domain.OutcomeDeclined)
	if decline.Outcome != OutcomeRecorded {
		t.Fatalf("decline on cancelled request = %s, want %s", decline.Outcome, OutcomeRecorded)
	}
	if len(h.provider.Sent()) != 1 {
		t.Fatalf("sent = %d, want no dispatch after cancellation", len(h.provider.Sent()))
	}
}

func TestCancelRequestRejectsClosedRequest(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{}, donorNorth("d1", 1))
	submitted := h.submit(t, criticalInput())
	h.respond(t, submitted.NotificationID, domain.OutcomeAccepted)

	_, err := h.svc.CancelRequest(context.Background(), submitted.RequestID, "no longer needed")
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("CancelRequest() error = %v, want ErrConflict", err)
	}

	_, err = h.svc.CancelRequest(context.Background(), "missing", "")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("CancelRequest(missing) error = %v, want ErrNotFound", err)
	}
}

func TestVerifyCompletionAwardsDonorOnce(t *testing.T) {
	t.Parallel()

	donor := donorNorth("d1", 1)
	donor.Donations = 4
	donor.Points = 40
	h := newHarness(t, Options{}, donor)

	submitted := h.submit(t, criticalInput())
	if _, err := h.svc.VerifyCompletion(context.Background(), submitted.RequestID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("VerifyCompletion() on pending request error = %v, want ErrConflict", err)
	}

	h.respond(t, submitted.NotificationID, domain.OutcomeAccepted)
	h.clock.Advance(3 * time.Hour)

	result, err := h.svc.VerifyCompletion(context.Background(), submitted.RequestID)
	if err != nil {
		t.Fatalf("VerifyCompletion() error = %v", err)
	}
	if result.Outcome != OutcomeCompleted || result.State != domain.RequestStateCompleted {
		t.Fatalf("result = %+v, want COMPLETED", result)
	}

	if _, err := h.svc.VerifyCompletion(context.Background(), submitted.RequestID); err != nil {
		t.Fatalf("second VerifyCompletion() error = %v", err)
	}

	d := h.donor(t, "d1")
	if d.Donations != 5 || d.Points != 50 {
		t.Fatalf("donor donations/points = %d/%d, want 5/50", d.Donations, d.Points)
	}
	if d.LastDonation == nil || !d.LastDonation.Equal(h.clock.Now()) {
		t.Fatalf("last donation = %v, want %s", d.LastDonation, h.clock.Now())
	}

	// The donor is inside the cooldown window now.
	next := h.submit(t, criticalInput())
	if next.Outcome != OutcomeExhausted {
		t.Fatalf("next request outcome = %s, want EXHAUSTED during cooldown", next.Outcome)
	}
}

func TestVerifyCompletionKeepsLaterLastDonation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{}, donorNorth("d1", 1))
	submitted := h.submit(t, criticalInput())
	h.respond(t, submitted.NotificationID, domain.OutcomeAccepted)

	// A donation recorded elsewhere after this one must not move backwards.
	later := baseTime.Add(48 * time.Hour)
	d := h.donor(t, "d1")
	d.LastDonation = &later
	if err := h.store.Donors().Update(context.Background(), d); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if _, err := h.svc.VerifyCompletion(context.Background(), submitted.RequestID); err != nil {
		t.Fatalf("VerifyCompletion() error = %v", err)
	}
	if got := h.donor(t, "d1").LastDonation; got == nil || !got.Equal(later) {
		t.Fatalf("last donation = %v, want %s", got, later)
	}
}

func TestStorageFailuresAreRetried(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{StoreRetryAttempts: 3}, donorNorth("d1", 1))
	h.flaky.FailNext(2)

	result := h.submit(t, criticalInput())
	if result.Outcome != OutcomeAwaitingResponse {
		t.Fatalf("outcome = %s, want AWAITING_RESPONSE", result.Outcome)
	}
}

func TestStorageFailuresSurfaceAfterRetries(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{StoreRetryAttempts: 3}, donorNorth("d1", 1))
	submitted := h.submit(t, criticalInput())

	h.flaky.FailNext(10)
	_, err := h.svc.RecordResponse(context.Background(), submitted.NotificationID, domain.OutcomeAccepted, time.Minute)
	if !errors.Is(err, domain.ErrStorage) || !errors.Is(err, errConnectionReset) {
		t.Fatalf("RecordResponse() error = %v, want ErrStorage wrapping the store error", err)
	}
	h.flaky.FailNext(0)

	req := h.request(t, submitted.RequestID)
	if req.State != domain.RequestStateAwaitingResponse {
		t.Fatalf("request state = %s, want unchanged AWAITING_RESPONSE", req.State)
	}
	if got := h.notifications(t, submitted.RequestID)[0].State; got != domain.NotificationSent {
		t.Fatalf("notification state = %s, want unchanged SENT", got)
	}
}

func TestRecordResponseValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{})
	ctx := context.Background()

	if _, err := h.svc.RecordResponse(ctx, " ", domain.OutcomeAccepted, 0); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("empty id error = %v, want ErrValidation", err)
	}
	if _, err := h.svc.RecordResponse(ctx, "n1", domain.Outcome("MAYBE"), 0); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("bad outcome error = %v, want ErrValidation", err)
	}
	if _, err := h.svc.RecordResponse(ctx, "n1", domain.OutcomeDeclined, -time.Second); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("negative latency error = %v, want ErrValidation", err)
	}
	if _, err := h.svc.RecordResponse(ctx, "missing", domain.OutcomeDeclined, 0); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown notification error = %v, want ErrNotFound", err)
	}
}

func TestListNotificationsAndGetRequest(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{}, donorNorth("d1", 1), donorNorth("d2", 2))
	submitted := h.submit(t, criticalInput())
	h.respond(t, submitted.NotificationID, domain.OutcomeDeclined)

	req, err := h.svc.GetRequest(context.Background(), submitted.RequestID)
	if err != nil {
		t.Fatalf("GetRequest() error = %v", err)
	}
	if req.State.Status() != "pending" {
		t.Fatalf("status = %s, want pending", req.State.Status())
	}

	list, err := h.svc.ListNotifications(context.Background(), submitted.RequestID)
	if err != nil {
		t.Fatalf("ListNotifications() error = %v", err)
	}
	if len(list) != 2 || list[0].DonorID != "d1" || list[1].DonorID != "d2" {
		t.Fatalf("notifications = %+v, want d1 then d2", list)
	}

	if _, err := h.svc.ListNotifications(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ListNotifications(missing) error = %v, want ErrNotFound", err)
	}
}

func TestEscalationStats(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{})
	h.submit(t, criticalInput())
	h.submit(t, criticalInput())

	stats, err := h.svc.EscalationStats(context.Background(), 7)
	if err != nil {
		t.Fatalf("EscalationStats() error = %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("stats = %+v, want one bucket", stats)
	}
	if stats[0].Day != "2026-03-02" || stats[0].Action != domain.ActionExhausted || stats[0].Count != 2 {
		t.Fatalf("stats[0] = %+v, want 2 EXHAUSTED on 2026-03-02", stats[0])
	}

	if _, err := h.svc.EscalationStats(context.Background(), 0); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("EscalationStats(0) error = %v, want ErrValidation", err)
	}
}

func TestSimpleRankingModeNotifiesNearestDonor(t *testing.T) {
	t.Parallel()

	veteran := donorNorth("d1", 8)
	veteran.Donations = 10
	h := newHarness(t, Options{RankingMode: matching.ModeSimple}, veteran, donorNorth("d2", 6))

	result := h.submit(t, SubmitInput{
		BloodType:   "O+",
		Latitude:    hospitalLoc.Latitude,
		Longitude:   hospitalLoc.Longitude,
		Urgency:     "low",
		PatientName: "A. Rao",
		Hospital:    "City General",
	})
	if result.DonorID != "d2" {
		t.Fatalf("notified donor = %s, want nearest d2", result.DonorID)
	}
}

func TestComputeRetryDelay(t *testing.T) {
	t.Parallel()

	svc := &MatchService{randIntn: func(int) int { return 0 }}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 50 * time.Millisecond},
		{attempt: 1, want: 50 * time.Millisecond},
		{attempt: 2, want: 100 * time.Millisecond},
		{attempt: 4, want: 400 * time.Millisecond},
		{attempt: 20, want: maxStoreRetryDelay},
	}
	for _, tt := range tests {
		if got := svc.computeRetryDelay(tt.attempt); got != tt.want {
			t.Fatalf("computeRetryDelay(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}
