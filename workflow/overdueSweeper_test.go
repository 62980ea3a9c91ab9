package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MJMV25/veterinar-backend/models"
)

// NOTE: These tests are intentionally DB-free. They validate the sweep
// semantics (idempotence, per-invoice failure isolation) against an in-memory
// ledger; full DB integration tests belong in an environment that can run
// MySQL + Redis.

type fakeLedger struct {
	invoices map[int]*models.Invoice
	failIds  map[int]bool
	markErr  error
}

func newFakeLedger(now time.Time, ids ...int) *fakeLedger {
	l := &fakeLedger{invoices: map[int]*models.Invoice{}, failIds: map[int]bool{}}
	for _, id := range ids {
		l.invoices[id] = &models.Invoice{
			ID:            id,
			InvoiceStatus: models.InvoiceStatusSent,
			PaymentStatus: models.PaymentStatusPending,
			DueDate:       now.AddDate(0, 0, -3),
		}
	}
	return l
}

func (l *fakeLedger) selectIds(_ context.Context, now time.Time) ([]int, error) {
	var ids []int
	for id, inv := range l.invoices {
		if inv.IsOverdue(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (l *fakeLedger) mark(_ context.Context, invoiceId int, now time.Time) (bool, error) {
	if l.failIds[invoiceId] {
		return false, l.markErr
	}
	inv := l.invoices[invoiceId]
	if inv == nil || !inv.IsOverdue(now) {
		return false, nil
	}
	inv.InvoiceStatus = models.InvoiceStatusOverdue
	return true, nil
}

func newTestSweeper(l *fakeLedger, now time.Time) *OverdueSweeper {
	s := NewOverdueSweeper(nil, nil)
	s.Now = func() time.Time { return now }
	s.selectIds = l.selectIds
	s.mark = l.mark
	return s
}

func TestSweepOnce_MarksAllCandidates(t *testing.T) {
	now := time.Date(2026, 8, 29, 2, 0, 0, 0, time.UTC)
	ledger := newFakeLedger(now, 1, 2, 3)
	s := newTestSweeper(ledger, now)

	count, err := s.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if count != 3 {
		t.Fatalf("marked %d invoices, want 3", count)
	}
	for id, inv := range ledger.invoices {
		if inv.InvoiceStatus != models.InvoiceStatusOverdue {
			t.Errorf("invoice %d status = %s, want Overdue", id, inv.InvoiceStatus)
		}
	}
}

func TestSweepOnce_SecondRunIsNoop(t *testing.T) {
	now := time.Date(2026, 8, 29, 2, 0, 0, 0, time.UTC)
	ledger := newFakeLedger(now, 1, 2)
	s := newTestSweeper(ledger, now)

	if count, _ := s.SweepOnce(context.Background()); count != 2 {
		t.Fatalf("first sweep marked %d, want 2", count)
	}
	count, err := s.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("second sweep marked %d, want 0", count)
	}
}

func TestSweepOnce_OneFailureDoesNotAbortOthers(t *testing.T) {
	now := time.Date(2026, 8, 29, 2, 0, 0, 0, time.UTC)
	ledger := newFakeLedger(now, 1, 2, 3)
	ledger.failIds[2] = true
	ledger.markErr = errors.New("lock timeout")
	s := newTestSweeper(ledger, now)

	count, err := s.SweepOnce(context.Background())
	if err == nil {
		t.Fatal("expected the failing invoice's error to surface")
	}
	if count != 2 {
		t.Fatalf("marked %d invoices, want 2", count)
	}
	if ledger.invoices[2].InvoiceStatus != models.InvoiceStatusSent {
		t.Fatalf("failing invoice moved to %s, want Sent", ledger.invoices[2].InvoiceStatus)
	}
}

func TestSweepOnce_SkipsInvoiceSettledAfterSelection(t *testing.T) {
	now := time.Date(2026, 8, 29, 2, 0, 0, 0, time.UTC)
	ledger := newFakeLedger(now, 1)
	s := newTestSweeper(ledger, now)

	// Payment lands between selection and marking: the re-check under the
	// posting lock must win.
	baseSelect := s.selectIds
	s.selectIds = func(ctx context.Context, at time.Time) ([]int, error) {
		ids, err := baseSelect(ctx, at)
		ledger.invoices[1].PaymentStatus = models.PaymentStatusPaid
		return ids, err
	}

	count, err := s.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("marked %d invoices, want 0", count)
	}
	if ledger.invoices[1].InvoiceStatus != models.InvoiceStatusSent {
		t.Fatalf("settled invoice moved to %s, want Sent", ledger.invoices[1].InvoiceStatus)
	}
}
