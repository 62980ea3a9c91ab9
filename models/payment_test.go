package models

import (
	"errors"
	"sync"
	"testing"

	"github.com/MJMV25/veterinar-backend/utils"
)

func TestValidateRecordPaymentAmount(t *testing.T) {
	cases := []struct {
		name    string
		amount  string
		netPaid string
		wantErr bool
	}{
		{"positive amount", "50.00", "0", false},
		{"zero amount", "0", "0", true},
		{"adjustment within collected", "-30.00", "50.00", false},
		{"adjustment equal to collected", "-50.00", "50.00", false},
		{"adjustment exceeds collected", "-50.01", "50.00", true},
		{"adjustment with nothing collected", "-0.01", "0", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateRecordPaymentAmount(dec(tc.amount), dec(tc.netPaid))
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected validation error, got nil")
				}
				var validationErr *utils.ValidationError
				if !errors.As(err, &validationErr) {
					t.Fatalf("expected ValidationError, got %T: %v", err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
		})
	}
}

// NOTE: Replay semantics below are validated DB-free against an in-memory
// registry mirroring BeginIdempotency/MarkIdempotencySucceeded; the DB-backed
// path needs a MySQL integration environment.

type fakeIntakeRegistry struct {
	mu     sync.Mutex
	keys   map[string]*IdempotencyKey
	nextId int
}

func newFakeIntakeRegistry() *fakeIntakeRegistry {
	return &fakeIntakeRegistry{keys: map[string]*IdempotencyKey{}}
}

// record mirrors RecordPayment's idempotent intake: begin, create once, mark
// succeeded with the created row's id, and on replay return that id.
func (r *fakeIntakeRegistry) record(handlerName, messageId string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := handlerName + "|" + messageId
	if existing, ok := r.keys[id]; ok {
		switch existing.Status {
		case IdempotencyStatusSucceeded:
			return *existing.ResultId, nil
		case IdempotencyStatusStarted:
			return 0, ErrIdempotencyInProgress
		}
	}
	r.keys[id] = &IdempotencyKey{HandlerName: handlerName, MessageId: messageId, Status: IdempotencyStatusStarted}

	r.nextId++
	resultId := r.nextId
	r.keys[id].Status = IdempotencyStatusSucceeded
	r.keys[id].ResultId = &resultId
	return resultId, nil
}

func TestIdempotentIntake_ReplayReturnsFirstRow(t *testing.T) {
	reg := newFakeIntakeRegistry()

	first, err := reg.record(recordPaymentHandlerName, "client-key-1")
	if err != nil {
		t.Fatalf("first intake failed: %v", err)
	}
	replay, err := reg.record(recordPaymentHandlerName, "client-key-1")
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if replay != first {
		t.Fatalf("replay produced row %d, want the first row %d", replay, first)
	}

	other, err := reg.record(recordPaymentHandlerName, "client-key-2")
	if err != nil {
		t.Fatalf("distinct key failed: %v", err)
	}
	if other == first {
		t.Fatal("distinct keys must produce distinct rows")
	}
}

func TestIdempotentIntake_DistinctHandlersDoNotCollide(t *testing.T) {
	reg := newFakeIntakeRegistry()

	a, _ := reg.record("RecordPayment", "shared-key")
	b, _ := reg.record("RefundPayment", "shared-key")
	if a == b {
		t.Fatal("same key under different handlers must not dedupe")
	}
}
