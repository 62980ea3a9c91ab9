package models

import (
	"errors"
	"testing"
	"time"

	"github.com/MJMV25/veterinar-backend/utils"
	"github.com/shopspring/decimal"
)

// NOTE: These tests are intentionally DB-free. They validate the monetary
// derivation chain and the lifecycle rules on in-memory entities; full
// DB integration tests belong in an environment that can run MySQL.

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func item(qty int, unitPrice string) InvoiceItem {
	it := InvoiceItem{
		Description: "consultation",
		Quantity:    qty,
		UnitPrice:   dec(unitPrice),
	}
	it.CalculateLineTotal()
	return it
}

func TestCalculateTotals_StandardInvoice(t *testing.T) {
	inv := Invoice{
		TaxPercentage: dec("19.00"),
		Items:         []InvoiceItem{item(2, "50.00")},
	}
	inv.CalculateTotals()

	if !inv.Subtotal.Equal(dec("100")) {
		t.Fatalf("subtotal = %s, want 100", inv.Subtotal)
	}
	if !inv.DiscountAmount.IsZero() {
		t.Fatalf("discount = %s, want 0", inv.DiscountAmount)
	}
	if !inv.TaxAmount.Equal(dec("19")) {
		t.Fatalf("tax = %s, want 19", inv.TaxAmount)
	}
	if !inv.TotalAmount.Equal(dec("119")) {
		t.Fatalf("total = %s, want 119", inv.TotalAmount)
	}
	if !inv.BalanceDue.Equal(dec("119")) {
		t.Fatalf("balance = %s, want 119", inv.BalanceDue)
	}
	if inv.PaymentStatus != PaymentStatusPending {
		t.Fatalf("payment status = %s, want Pending", inv.PaymentStatus)
	}
}

func TestCalculateTotals_DiscountComesOffBeforeTax(t *testing.T) {
	inv := Invoice{
		DiscountPercentage: dec("10.00"),
		TaxPercentage:      dec("19.00"),
		Items:              []InvoiceItem{item(2, "50.00")},
	}
	inv.CalculateTotals()

	if !inv.DiscountAmount.Equal(dec("10")) {
		t.Fatalf("discount = %s, want 10", inv.DiscountAmount)
	}
	// Tax on the discounted base of 90, not on 100.
	if !inv.TaxAmount.Equal(dec("17.1")) {
		t.Fatalf("tax = %s, want 17.10", inv.TaxAmount)
	}
	if !inv.TotalAmount.Equal(dec("107.1")) {
		t.Fatalf("total = %s, want 107.10", inv.TotalAmount)
	}
}

func TestCalculateTotals_EmptyInvoiceStaysPending(t *testing.T) {
	inv := Invoice{TaxPercentage: dec("19.00")}
	inv.CalculateTotals()

	if !inv.TotalAmount.IsZero() {
		t.Fatalf("total = %s, want 0", inv.TotalAmount)
	}
	if inv.PaymentStatus != PaymentStatusPending {
		t.Fatalf("payment status = %s, want Pending for an untouched zero-total invoice", inv.PaymentStatus)
	}
}

func TestCalculateTotals_OverpaymentKeepsNegativeBalance(t *testing.T) {
	inv := Invoice{
		TaxPercentage: dec("19.00"),
		PaidAmount:    dec("150.00"),
		Items:         []InvoiceItem{item(2, "50.00")},
	}
	inv.CalculateTotals()

	if !inv.BalanceDue.Equal(dec("-31")) {
		t.Fatalf("balance = %s, want -31", inv.BalanceDue)
	}
	if inv.PaymentStatus != PaymentStatusPaid {
		t.Fatalf("payment status = %s, want Paid", inv.PaymentStatus)
	}
}

func TestDerivePaymentStatus(t *testing.T) {
	cases := []struct {
		name    string
		total   string
		paid    string
		balance string
		want    PaymentStatus
	}{
		{"nothing paid", "119", "0", "119", PaymentStatusPending},
		{"partially paid", "119", "50", "69", PaymentStatusPartial},
		{"exactly settled", "119", "119", "0", PaymentStatusPaid},
		{"overpaid", "119", "150", "-31", PaymentStatusPaid},
		{"zero total untouched", "0", "0", "0", PaymentStatusPending},
		{"refunded back to zero", "119", "0", "119", PaymentStatusPending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := derivePaymentStatus(dec(tc.total), dec(tc.paid), dec(tc.balance))
			if got != tc.want {
				t.Fatalf("derivePaymentStatus(%s, %s, %s) = %s, want %s", tc.total, tc.paid, tc.balance, got, tc.want)
			}
		})
	}
}

func TestCalculateLineTotal(t *testing.T) {
	it := InvoiceItem{Quantity: 3, UnitPrice: dec("19.99")}
	it.CalculateLineTotal()
	if !it.Total.Equal(dec("59.97")) {
		t.Fatalf("total = %s, want 59.97", it.Total)
	}

	it.DiscountPercentage = dec("10.00")
	it.CalculateLineTotal()
	if !it.DiscountAmount.Equal(dec("6")) {
		t.Fatalf("line discount = %s, want 6.00", it.DiscountAmount)
	}
	if !it.Total.Equal(dec("53.97")) {
		t.Fatalf("discounted total = %s, want 53.97", it.Total)
	}
}

func TestNewInvoiceItemValidation(t *testing.T) {
	var validationErr *utils.ValidationError

	cases := []struct {
		name  string
		input NewInvoiceItem
	}{
		{"zero quantity", NewInvoiceItem{Description: "x", Quantity: 0, UnitPrice: dec("10")}},
		{"negative quantity", NewInvoiceItem{Description: "x", Quantity: -1, UnitPrice: dec("10")}},
		{"negative unit price", NewInvoiceItem{Description: "x", Quantity: 1, UnitPrice: dec("-0.01")}},
		{"discount above 100", NewInvoiceItem{Description: "x", Quantity: 1, UnitPrice: dec("10"), DiscountPercentage: dec("100.01")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.input.validate()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !errors.As(err, &validationErr) {
				t.Fatalf("expected ValidationError, got %T: %v", err, err)
			}
		})
	}

	ok := NewInvoiceItem{Description: "x", Quantity: 1, UnitPrice: dec("0")}
	if err := ok.validate(); err != nil {
		t.Fatalf("zero unit price should be valid, got %v", err)
	}
}

func TestValidateStatusTransition_Totality(t *testing.T) {
	all := []InvoiceStatus{
		InvoiceStatusDraft, InvoiceStatusSent, InvoiceStatusPaid,
		InvoiceStatusOverdue, InvoiceStatusCancelled,
	}
	allowed := map[InvoiceStatus]map[InvoiceStatus]bool{
		InvoiceStatusDraft:   {InvoiceStatusSent: true, InvoiceStatusCancelled: true},
		InvoiceStatusSent:    {InvoiceStatusPaid: true, InvoiceStatusOverdue: true, InvoiceStatusCancelled: true},
		InvoiceStatusOverdue: {InvoiceStatusPaid: true, InvoiceStatusCancelled: true},
	}

	for _, from := range all {
		for _, to := range all {
			err := ValidateStatusTransition(from, to)
			if allowed[from][to] {
				if err != nil {
					t.Errorf("%s -> %s should be legal, got %v", from, to, err)
				}
				continue
			}
			if err == nil {
				t.Errorf("%s -> %s should be rejected", from, to)
				continue
			}
			var illegal *utils.IllegalStateError
			if !errors.As(err, &illegal) {
				t.Errorf("%s -> %s: expected IllegalStateError, got %T", from, to, err)
			}
		}
	}
}

func TestEnsureEditable(t *testing.T) {
	editable := []InvoiceStatus{InvoiceStatusDraft, InvoiceStatusSent, InvoiceStatusOverdue}
	for _, status := range editable {
		inv := Invoice{InvoiceStatus: status}
		if err := inv.ensureEditable(); err != nil {
			t.Errorf("%s invoice should accept financial edits, got %v", status, err)
		}
	}

	frozen := []InvoiceStatus{InvoiceStatusPaid, InvoiceStatusCancelled}
	for _, status := range frozen {
		inv := Invoice{
			InvoiceStatus: status,
			TaxPercentage: dec("19.00"),
			Items:         []InvoiceItem{item(2, "50.00")},
		}
		inv.CalculateTotals()
		before := inv

		err := inv.ensureEditable()
		if err == nil {
			t.Errorf("%s invoice should reject financial edits", status)
			continue
		}
		var illegal *utils.IllegalStateError
		if !errors.As(err, &illegal) {
			t.Errorf("%s invoice: expected IllegalStateError, got %T", status, err)
		}
		// The rejection must leave the invoice untouched.
		if !inv.TotalAmount.Equal(before.TotalAmount) || len(inv.Items) != len(before.Items) {
			t.Errorf("%s invoice mutated by a rejected edit", status)
		}
	}
}

func TestInvoiceCacheKey(t *testing.T) {
	if got := InvoiceCacheKey(42); got != "Invoice:42" {
		t.Fatalf("cache key = %q, want Invoice:42", got)
	}
}

func TestCalculateDueDate(t *testing.T) {
	issue := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	got := calculateDueDate(issue, nil)
	if want := issue.AddDate(0, 0, 30); !got.Equal(want) {
		t.Fatalf("default due date = %s, want %s", got, want)
	}

	explicit := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	if got := calculateDueDate(issue, &explicit); !got.Equal(explicit) {
		t.Fatalf("explicit due date = %s, want %s", got, explicit)
	}
}

func TestIsOverdue(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	past := now.AddDate(0, 0, -1)
	future := now.AddDate(0, 0, 1)

	cases := []struct {
		name string
		inv  Invoice
		want bool
	}{
		{"sent past due unpaid", Invoice{InvoiceStatus: InvoiceStatusSent, DueDate: past, PaymentStatus: PaymentStatusPending}, true},
		{"sent past due partial", Invoice{InvoiceStatus: InvoiceStatusSent, DueDate: past, PaymentStatus: PaymentStatusPartial}, true},
		{"sent not yet due", Invoice{InvoiceStatus: InvoiceStatusSent, DueDate: future, PaymentStatus: PaymentStatusPending}, false},
		{"sent past due but settled", Invoice{InvoiceStatus: InvoiceStatusSent, DueDate: past, PaymentStatus: PaymentStatusPaid}, false},
		{"draft past due", Invoice{InvoiceStatus: InvoiceStatusDraft, DueDate: past, PaymentStatus: PaymentStatusPending}, false},
		{"already overdue", Invoice{InvoiceStatus: InvoiceStatusOverdue, DueDate: past, PaymentStatus: PaymentStatusPending}, false},
		{"cancelled past due", Invoice{InvoiceStatus: InvoiceStatusCancelled, DueDate: past, PaymentStatus: PaymentStatusPending}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.inv.IsOverdue(now); got != tc.want {
				t.Fatalf("IsOverdue = %v, want %v", got, tc.want)
			}
		})
	}
}
