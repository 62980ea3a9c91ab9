package models

import (
	"regexp"
	"testing"
	"time"
)

func paidPayment(amount string) Payment {
	return Payment{Amount: dec(amount), PaymentStatus: PaymentStatusPaid}
}

func TestRecomputePaidAmount_OnlyPaidRowsCount(t *testing.T) {
	payments := []Payment{
		paidPayment("50.00"),
		{Amount: dec("30.00"), PaymentStatus: PaymentStatusPending},
		{Amount: dec("20.00"), PaymentStatus: PaymentStatusFailed},
	}
	if got := RecomputePaidAmount(payments); !got.Equal(dec("50")) {
		t.Fatalf("paid amount = %s, want 50", got)
	}
}

func TestRecomputePaidAmount_FullSettlement(t *testing.T) {
	inv := Invoice{
		TaxPercentage: dec("19.00"),
		Items:         []InvoiceItem{item(2, "50.00")},
	}
	inv.PaidAmount = RecomputePaidAmount([]Payment{paidPayment("119.00")})
	inv.CalculateTotals()

	if !inv.BalanceDue.IsZero() {
		t.Fatalf("balance = %s, want 0", inv.BalanceDue)
	}
	if inv.PaymentStatus != PaymentStatusPaid {
		t.Fatalf("payment status = %s, want Paid", inv.PaymentStatus)
	}
}

func TestRecomputePaidAmount_RefundReopensInvoice(t *testing.T) {
	inv := Invoice{
		TaxPercentage: dec("19.00"),
		Items:         []InvoiceItem{item(2, "50.00")},
	}

	// Collect 50 of the 119 total.
	inv.PaidAmount = RecomputePaidAmount([]Payment{paidPayment("50.00")})
	inv.CalculateTotals()
	if inv.PaymentStatus != PaymentStatusPartial {
		t.Fatalf("payment status = %s, want Partial", inv.PaymentStatus)
	}
	if !inv.BalanceDue.Equal(dec("69")) {
		t.Fatalf("balance = %s, want 69", inv.BalanceDue)
	}

	// Refund 20: the negative ledger row subtracts naturally.
	inv.PaidAmount = RecomputePaidAmount([]Payment{
		paidPayment("50.00"),
		paidPayment("-20.00"),
	})
	inv.CalculateTotals()

	if !inv.PaidAmount.Equal(dec("30")) {
		t.Fatalf("paid amount = %s, want 30", inv.PaidAmount)
	}
	if !inv.BalanceDue.Equal(dec("89")) {
		t.Fatalf("balance = %s, want 89", inv.BalanceDue)
	}
	if inv.PaymentStatus != PaymentStatusPartial {
		t.Fatalf("payment status = %s, want Partial", inv.PaymentStatus)
	}
}

func TestRecomputePaidAmount_FullRefundBackToPending(t *testing.T) {
	inv := Invoice{
		TaxPercentage: dec("19.00"),
		Items:         []InvoiceItem{item(2, "50.00")},
	}
	inv.PaidAmount = RecomputePaidAmount([]Payment{
		paidPayment("119.00"),
		paidPayment("-119.00"),
	})
	inv.CalculateTotals()

	if !inv.PaidAmount.IsZero() {
		t.Fatalf("paid amount = %s, want 0", inv.PaidAmount)
	}
	if inv.PaymentStatus != PaymentStatusPending {
		t.Fatalf("payment status = %s, want Pending", inv.PaymentStatus)
	}
}

func TestNewDocumentNumberFormat(t *testing.T) {
	now := time.Date(2026, 8, 29, 10, 30, 0, 0, time.UTC)

	invoiceRe := regexp.MustCompile(`^VET-20260829-\d{5}$`)
	paymentRe := regexp.MustCompile(`^PAY-20260829-\d{5}$`)

	for i := 0; i < 100; i++ {
		if n := NewInvoiceNumber(now); !invoiceRe.MatchString(n) {
			t.Fatalf("invoice number %q does not match %s", n, invoiceRe)
		}
		if n := NewPaymentNumber(now); !paymentRe.MatchString(n) {
			t.Fatalf("payment number %q does not match %s", n, paymentRe)
		}
	}
}
