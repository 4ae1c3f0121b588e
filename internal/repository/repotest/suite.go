// Package repotest holds behaviour checks shared by every repository.Store
// implementation.
package repotest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/lifelink-engine/internal/domain"
	"github.com/kursadbilgin/lifelink-engine/internal/repository"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) repository.Store

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// Run exercises store behaviour the matching engine relies on.
func Run(t *testing.T, newStore Factory) {
	t.Run("donors", func(t *testing.T) { testDonors(t, newStore(t)) })
	t.Run("requests", func(t *testing.T) { testRequests(t, newStore(t)) })
	t.Run("notifications", func(t *testing.T) { testNotifications(t, newStore(t)) })
	t.Run("patterns", func(t *testing.T) { testPatterns(t, newStore(t)) })
	t.Run("escalations", func(t *testing.T) { testEscalations(t, newStore(t)) })
	t.Run("transaction rollback", func(t *testing.T) { testRollback(t, newStore(t)) })
}

func Donor(id string, bt domain.BloodType, status domain.ApprovalStatus) *domain.Donor {
	return &domain.Donor{
		ID:             id,
		Name:           "Donor " + id,
		Email:          id + "@example.com",
		BloodType:      bt,
		ApprovalStatus: status,
		Location:       domain.Location{Latitude: 12.97, Longitude: 77.59},
		CreatedAt:      base,
		UpdatedAt:      base,
	}
}

func Request(id string, createdAt time.Time) *domain.Request {
	return &domain.Request{
		ID:          id,
		BloodType:   domain.BloodTypeOPos,
		Location:    domain.Location{Latitude: 12.97, Longitude: 77.59},
		PatientName: "Patient " + id,
		Hospital:    "City General",
		Urgency:     domain.UrgencyHigh,
		State:       domain.RequestStateAwaitingResponse,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
}

func testDonors(t *testing.T, store repository.Store) {
	ctx := context.Background()
	repo := store.Donors()

	require.NoError(t, repo.Create(ctx, Donor("d2", domain.BloodTypeOPos, domain.ApprovalApproved)))
	require.NoError(t, repo.Create(ctx, Donor("d1", domain.BloodTypeOPos, domain.ApprovalApproved)))
	require.NoError(t, repo.Create(ctx, Donor("d3", domain.BloodTypeOPos, domain.ApprovalPending)))
	require.NoError(t, repo.Create(ctx, Donor("d4", domain.BloodTypeANeg, domain.ApprovalApproved)))

	donors, err := repo.ListByBloodType(ctx, domain.BloodTypeOPos, domain.ApprovalApproved)
	require.NoError(t, err)
	require.Len(t, donors, 2)
	require.Equal(t, "d1", donors[0].ID)
	require.Equal(t, "d2", donors[1].ID)

	got, err := repo.GetByID(ctx, "d1")
	require.NoError(t, err)
	require.Nil(t, got.LastDonation)

	donated := base.Add(time.Hour)
	got.Donations = 3
	got.Points = 30
	got.LastDonation = &donated
	got.UpdatedAt = donated
	require.NoError(t, repo.Update(ctx, got))

	got, err = repo.GetByID(ctx, "d1")
	require.NoError(t, err)
	require.Equal(t, 3, got.Donations)
	require.Equal(t, 30, got.Points)
	require.NotNil(t, got.LastDonation)
	require.True(t, got.LastDonation.Equal(donated))

	_, err = repo.GetByID(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	err = repo.Update(ctx, Donor("missing", domain.BloodTypeOPos, domain.ApprovalApproved))
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func testRequests(t *testing.T, store repository.Store) {
	ctx := context.Background()
	repo := store.Requests()

	older := Request(uuid.NewString(), base)
	newer := Request(uuid.NewString(), base.Add(time.Minute))
	done := Request(uuid.NewString(), base.Add(-time.Minute))
	done.State = domain.RequestStateCompleted
	source := "need O+ at City General"
	newer.SourceText = &source

	require.NoError(t, repo.Create(ctx, newer))
	require.NoError(t, repo.Create(ctx, older))
	require.NoError(t, repo.Create(ctx, done))

	pending, err := repo.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, older.ID, pending[0].ID)
	require.Equal(t, newer.ID, pending[1].ID)

	limited, err := repo.ListPending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	err = store.WithinTx(ctx, func(tx repository.Store) error {
		locked, err := tx.Requests().GetForUpdate(ctx, older.ID)
		if err != nil {
			return err
		}
		donor := "d1"
		accepted := base.Add(2 * time.Minute)
		locked.State = domain.RequestStateAccepted
		locked.MatchedDonorID = &donor
		locked.AcceptedAt = &accepted
		locked.UpdatedAt = accepted
		return tx.Requests().Update(ctx, locked)
	})
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, older.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RequestStateAccepted, got.State)
	require.NotNil(t, got.MatchedDonorID)
	require.Equal(t, "d1", *got.MatchedDonorID)

	got, err = repo.GetByID(ctx, newer.ID)
	require.NoError(t, err)
	require.NotNil(t, got.SourceText)
	require.Equal(t, source, *got.SourceText)

	_, err = repo.GetForUpdate(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func testNotifications(t *testing.T, store repository.Store) {
	ctx := context.Background()
	repo := store.Notifications()
	requestID := uuid.NewString()

	first := &domain.Notification{
		ID:        uuid.NewString(),
		RequestID: requestID,
		DonorID:   "d1",
		Attempt:   1,
		Channel:   domain.ChannelSMS,
		Message:   "hello",
		State:     domain.NotificationSent,
		ExpiresAt: base.Add(15 * time.Minute),
		CreatedAt: base,
	}
	second := &domain.Notification{
		ID:        uuid.NewString(),
		RequestID: requestID,
		DonorID:   "d2",
		Attempt:   2,
		Channel:   domain.ChannelEmail,
		Message:   "hello again",
		State:     domain.NotificationSent,
		ExpiresAt: base.Add(20 * time.Minute),
		CreatedAt: base.Add(10 * time.Minute),
	}
	require.NoError(t, repo.Create(ctx, second))
	require.NoError(t, repo.Create(ctx, first))

	listed, err := repo.ListByRequest(ctx, requestID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	require.Equal(t, first.ID, listed[0].ID)
	require.Equal(t, second.ID, listed[1].ID)

	overdue, err := repo.ListOverdue(ctx, base.Add(16*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	require.Equal(t, first.ID, overdue[0].ID)

	latency := 42 * time.Second
	ok, err := repo.Resolve(ctx, first.ID, repository.Resolution{
		State:           domain.NotificationAccepted,
		ResponseLatency: &latency,
		RespondedAt:     base.Add(time.Minute),
	})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.Resolve(ctx, first.ID, repository.Resolution{
		State:       domain.NotificationDeclined,
		RespondedAt: base.Add(2 * time.Minute),
	})
	require.NoError(t, err)
	require.False(t, ok, "a resolved notification must not change again")

	got, err := repo.GetByID(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, domain.NotificationAccepted, got.State)
	require.NotNil(t, got.ResponseLatency)
	require.Equal(t, latency, *got.ResponseLatency)
	require.NotNil(t, got.RespondedAt)

	sendErr := "gateway unavailable"
	ok, err = repo.Resolve(ctx, second.ID, repository.Resolution{
		State:       domain.NotificationDeclined,
		SendError:   &sendErr,
		RespondedAt: base.Add(10 * time.Minute),
	})
	require.NoError(t, err)
	require.True(t, ok)

	got, err = repo.GetByID(ctx, second.ID)
	require.NoError(t, err)
	require.False(t, got.Delivered())

	overdue, err = repo.ListOverdue(ctx, base.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Empty(t, overdue)

	ok, err = repo.Resolve(ctx, "missing", repository.Resolution{State: domain.NotificationExpired, RespondedAt: base})
	require.NoError(t, err)
	require.False(t, ok)
}

func testPatterns(t *testing.T, store repository.Store) {
	ctx := context.Background()
	repo := store.Patterns()

	_, err := repo.Get(ctx, "d1")
	require.ErrorIs(t, err, domain.ErrNotFound)

	p := &domain.DonorPattern{
		DonorID:         "d1",
		ResponseRate:    1,
		AvgResponseTime: 30,
		PreferredWindow: domain.HourWindow{StartHour: 9, EndHour: 11},
		Observations:    1,
		UpdatedAt:       base,
	}
	require.NoError(t, repo.Upsert(ctx, p))

	p.ResponseRate = 0.8
	p.Observations = 2
	p.PreferredWindow = domain.HourWindow{StartHour: 13, EndHour: 15}
	p.UpdatedAt = base.Add(time.Hour)
	require.NoError(t, repo.Upsert(ctx, p))

	got, err := repo.Get(ctx, "d1")
	require.NoError(t, err)
	require.InDelta(t, 0.8, got.ResponseRate, 1e-9)
	require.Equal(t, 2, got.Observations)
	require.Equal(t, domain.HourWindow{StartHour: 13, EndHour: 15}, got.PreferredWindow)

	byID, err := repo.ListByDonorIDs(ctx, []string{"d1", "d2"})
	require.NoError(t, err)
	require.Len(t, byID, 1)
	require.Contains(t, byID, "d1")

	empty, err := repo.ListByDonorIDs(ctx, nil)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func testEscalations(t *testing.T, store repository.Store) {
	ctx := context.Background()
	repo := store.Escalations()

	detail, err := json.Marshal(map[string]any{"contacted": 3})
	require.NoError(t, err)

	old := &domain.EscalationLog{
		ID:        uuid.NewString(),
		RequestID: "r1",
		Action:    domain.ActionExpandSearch,
		Reason:    "no response after 10 minutes",
		CreatedAt: base.Add(-48 * time.Hour),
	}
	handoff := &domain.EscalationLog{
		ID:        uuid.NewString(),
		RequestID: "r2",
		Action:    domain.ActionEscalateBloodBank,
		Reason:    "3 donors contacted without acceptance",
		Detail:    detail,
		CreatedAt: base,
	}
	require.NoError(t, repo.Create(ctx, old))
	require.NoError(t, repo.Create(ctx, handoff))

	since, err := repo.ListSince(ctx, base.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, since, 1)
	require.Equal(t, handoff.ID, since[0].ID)
	require.JSONEq(t, `{"contacted":3}`, string(since[0].Detail))

	pending, err := repo.ListPendingHandoff(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, repo.MarkHandedOff(ctx, handoff.ID, base.Add(time.Minute)))
	pending, err = repo.ListPendingHandoff(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)
	require.ErrorIs(t, repo.MarkHandedOff(ctx, "missing", base), domain.ErrNotFound)

	deleted, err := repo.DeleteOlderThan(ctx, base.Add(-24*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)

	remaining, err := repo.ListSince(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
}

func testRollback(t *testing.T, store repository.Store) {
	ctx := context.Background()
	req := Request(uuid.NewString(), base)
	require.NoError(t, store.Requests().Create(ctx, req))

	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(tx repository.Store) error {
		locked, err := tx.Requests().GetForUpdate(ctx, req.ID)
		if err != nil {
			return err
		}
		locked.State = domain.RequestStateEscalated
		if err := tx.Requests().Update(ctx, locked); err != nil {
			return err
		}
		if err := tx.Notifications().Create(ctx, &domain.Notification{
			ID:        uuid.NewString(),
			RequestID: req.ID,
			DonorID:   "d9",
			Attempt:   1,
			Channel:   domain.ChannelSMS,
			Message:   "rolled back",
			State:     domain.NotificationSent,
			ExpiresAt: base.Add(time.Minute),
			CreatedAt: base,
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := store.Requests().GetByID(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RequestStateAwaitingResponse, got.State)

	notifications, err := store.Notifications().ListByRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Empty(t, notifications)
}
