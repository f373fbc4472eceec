package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/slotbook/internal/domain"
)

func TestEnqueueSideEffects_UniquePerBookingStep(t *testing.T) {
	db := newTestDB(t, &domain.SideEffect{})
	ctx := context.Background()
	now := time.Now().UTC()

	rows, err := EnqueueSideEffects(ctx, db, "b1", domain.ConfirmationSteps, now)
	if err != nil {
		t.Fatalf("EnqueueSideEffects: %v", err)
	}
	if len(rows) != len(domain.ConfirmationSteps) {
		t.Fatalf("expected %d rows, got %d", len(domain.ConfirmationSteps), len(rows))
	}
	for _, r := range rows {
		if r.Status != domain.SideEffectPending || r.Attempts != 0 {
			t.Fatalf("unexpected row: %+v", r)
		}
	}

	if _, err := EnqueueSideEffects(ctx, db, "b1", []domain.SideEffectStep{domain.StepCalendarSync}, now); err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	empty, err := EnqueueSideEffects(ctx, db, "b2", nil, now)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected no rows, got %v err=%v", empty, err)
	}
}

func TestRecordSideEffectAttempt_AndRetryableListing(t *testing.T) {
	db := newTestDB(t, &domain.SideEffect{})
	ctx := context.Background()
	now := time.Date(2030, 3, 1, 12, 0, 0, 0, time.UTC)

	rows, err := EnqueueSideEffects(ctx, db, "b1", []domain.SideEffectStep{domain.StepCalendarSync, domain.StepNotifyRequester}, now)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := RecordSideEffectAttempt(ctx, db, rows[0].ID, errors.New("provider down"), now.Add(time.Minute), now); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if err := RecordSideEffectAttempt(ctx, db, rows[1].ID, nil, time.Time{}, now); err != nil {
		t.Fatalf("record success: %v", err)
	}

	// Not yet due.
	due, err := ListRetryableSideEffects(ctx, db, now, 5, 10)
	if err != nil || len(due) != 0 {
		t.Fatalf("expected nothing due, got %v err=%v", due, err)
	}

	due, err = ListRetryableSideEffects(ctx, db, now.Add(time.Minute), 5, 10)
	if err != nil || len(due) != 1 || due[0].Step != domain.StepCalendarSync {
		t.Fatalf("expected calendar step due, got %+v err=%v", due, err)
	}
	if due[0].Attempts != 1 || due[0].LastError != "provider down" {
		t.Fatalf("unexpected attempt bookkeeping: %+v", due[0])
	}

	// Exhausted steps are no longer retried.
	due, _ = ListRetryableSideEffects(ctx, db, now.Add(time.Minute), 1, 10)
	if len(due) != 0 {
		t.Fatalf("expected exhausted step to be skipped, got %+v", due)
	}

	all, err := ListSideEffects(ctx, db, "b1")
	if err != nil || len(all) != 2 {
		t.Fatalf("ListSideEffects: %v err=%v", all, err)
	}

	if err := RecordSideEffectAttempt(ctx, db, "missing", nil, now, now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClaimSideEffect_SingleWinnerAndLeaseExpiry(t *testing.T) {
	db := newTestDB(t, &domain.SideEffect{})
	ctx := context.Background()
	now := time.Date(2030, 3, 1, 12, 0, 0, 0, time.UTC)
	lease := 30 * time.Second

	rows, err := EnqueueSideEffects(ctx, db, "b1", []domain.SideEffectStep{domain.StepNotifyRequester}, now)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	id := rows[0].ID

	ok, err := ClaimSideEffect(ctx, db, id, now, lease)
	if err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	if ok, _ := ClaimSideEffect(ctx, db, id, now, lease); ok {
		t.Fatalf("second claim must lose while the lease is live")
	}
	if due, _ := ListRetryableSideEffects(ctx, db, now, 5, 10); len(due) != 0 {
		t.Fatalf("claimed row must not be listed, got %+v", due)
	}

	// A worker that never recorded its attempt leaves the row reclaimable.
	expired := now.Add(lease)
	due, err := ListRetryableSideEffects(ctx, db, expired, 5, 10)
	if err != nil || len(due) != 1 || due[0].Status != domain.SideEffectRunning {
		t.Fatalf("expected the expired claim to be due, got %+v err=%v", due, err)
	}
	if ok, _ := ClaimSideEffect(ctx, db, id, expired, lease); !ok {
		t.Fatalf("expired claim must be reclaimable")
	}

	if err := RecordSideEffectAttempt(ctx, db, id, nil, time.Time{}, expired); err != nil {
		t.Fatalf("record: %v", err)
	}
	if ok, _ := ClaimSideEffect(ctx, db, id, expired.Add(time.Hour), lease); ok {
		t.Fatalf("done rows must never be claimed")
	}
}

func TestClaimSideEffect_FailedRowWaitsForBackoff(t *testing.T) {
	db := newTestDB(t, &domain.SideEffect{})
	ctx := context.Background()
	now := time.Date(2030, 3, 1, 12, 0, 0, 0, time.UTC)

	rows, _ := EnqueueSideEffects(ctx, db, "b1", []domain.SideEffectStep{domain.StepCalendarSync}, now)
	if err := RecordSideEffectAttempt(ctx, db, rows[0].ID, errors.New("timeout"), now.Add(time.Minute), now); err != nil {
		t.Fatalf("record: %v", err)
	}
	if ok, _ := ClaimSideEffect(ctx, db, rows[0].ID, now, time.Minute); ok {
		t.Fatalf("failed row claimed before its retry time")
	}
	if ok, _ := ClaimSideEffect(ctx, db, rows[0].ID, now.Add(time.Minute), time.Minute); !ok {
		t.Fatalf("failed row must be claimable once due")
	}
}
