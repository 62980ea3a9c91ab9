package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RecomputePaidAmount folds the ledger: only rows whose status is Paid count,
// refund rows carry a negative amount and subtract naturally. Pending and
// Failed rows never move the invoice.
func RecomputePaidAmount(payments []Payment) decimal.Decimal {
	paid := decimal.Zero
	for _, p := range payments {
		if p.PaymentStatus == PaymentStatusPaid {
			paid = paid.Add(p.Amount)
		}
	}
	return paid.Round(2)
}

// ReconcileInvoice re-derives an invoice's settlement state from its payment
// ledger inside the caller's posting transaction. It is the single writer of
// paid_amount: the field is never incremented in place, always recomputed from
// the ledger so replays and deletions converge to the same state.
//
// Side effects on settlement flips:
//   - open -> settled: stamps payment_date and, where the lifecycle table
//     allows it, advances the invoice to Paid
//   - settled -> open (refund or payment deletion): clears payment_date; a
//     terminal Paid lifecycle status is left alone
func ReconcileInvoice(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, invoiceId int) (*Invoice, error) {
	var invoice Invoice
	if err := tx.Preload("Items").First(&invoice, invoiceId).Error; err != nil {
		return nil, err
	}

	var payments []Payment
	if err := tx.Where("invoice_id = ?", invoiceId).Find(&payments).Error; err != nil {
		return nil, err
	}

	wasSettled := invoice.PaymentStatus == PaymentStatusPaid

	invoice.PaidAmount = RecomputePaidAmount(payments)
	invoice.CalculateTotals()

	settled := invoice.PaymentStatus == PaymentStatusPaid
	if settled && !wasSettled {
		now := time.Now().UTC()
		invoice.PaymentDate = &now
		if CanTransition(invoice.InvoiceStatus, InvoiceStatusPaid) {
			invoice.InvoiceStatus = InvoiceStatusPaid
		}
	}
	if !settled && wasSettled {
		invoice.PaymentDate = nil
	}

	if err := tx.Omit("Items").Save(&invoice).Error; err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"invoice_id":     invoice.ID,
		"invoice_number": invoice.InvoiceNumber,
		"paid_amount":    invoice.PaidAmount.String(),
		"balance_due":    invoice.BalanceDue.String(),
		"payment_status": invoice.PaymentStatus,
	}).Debug("invoice reconciled")

	return &invoice, nil
}
