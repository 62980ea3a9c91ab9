package models

import (
	"context"
	"time"

	"github.com/MJMV25/veterinar-backend/config"
	"github.com/MJMV25/veterinar-backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Payment is one ledger row against an invoice. Refunds are separate rows with
// a negative amount, not mutations of the original row, so the ledger stays
// append-only and the invoice's paid amount is always a plain sum.
type Payment struct {
	ID            int             `gorm:"primary_key" json:"id"`
	PaymentNumber string          `gorm:"size:255;uniqueIndex;not null" json:"payment_number"`
	InvoiceId     int             `gorm:"index;not null" json:"invoice_id" binding:"required"`
	Amount        decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	PaymentMethod PaymentMethod   `gorm:"type:enum('Cash','Credit Card','Debit Card','Bank Transfer','Check','Digital Wallet','Other');not null" json:"payment_method"`
	PaymentStatus PaymentStatus   `gorm:"type:enum('Pending','Partial','Paid','Refunded','Failed');not null" json:"payment_status"`

	// ReferenceNumber carries the external reference; for refund rows it is
	// REFUND-<original payment number>.
	ReferenceNumber string `gorm:"size:255" json:"reference_number"`
	TransactionId   string `gorm:"size:255" json:"transaction_id"`
	Notes           string `gorm:"type:text;default:null" json:"notes"`

	// RefundedPaymentId links a refund row back to the payment it reverses.
	RefundedPaymentId int `gorm:"index;default:null" json:"refunded_payment_id"`

	PaymentDate *time.Time `json:"payment_date"`
	ProcessedBy int        `gorm:"default:null" json:"processed_by"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewPayment struct {
	InvoiceId       int             `json:"invoice_id" validate:"required"`
	Amount          decimal.Decimal `json:"amount"`
	PaymentMethod   PaymentMethod   `json:"payment_method" validate:"required"`
	ReferenceNumber string          `json:"reference_number"`
	TransactionId   string          `json:"transaction_id"`
	Notes           string          `json:"notes"`
	PaymentDate     *time.Time      `json:"payment_date"`
	// IdempotencyKey makes client retries of the same intake replay-safe:
	// a second call with the same key returns the first call's row.
	IdempotencyKey string `json:"idempotency_key"`
}

const recordPaymentHandlerName = "RecordPayment"

// validateRecordPaymentAmount checks the ledger-level amount rules for a new
// row: nonzero, and a negative amount (manual adjustment) must not exceed what
// has actually been collected so far. The invoice's lifecycle status is
// deliberately not consulted: the ledger accepts rows against any existing
// invoice, Cancelled included.
func validateRecordPaymentAmount(amount decimal.Decimal, netPaid decimal.Decimal) error {
	if amount.IsZero() {
		return utils.NewValidationError("amount", "must not be zero")
	}
	if amount.IsNegative() && amount.Neg().GreaterThan(netPaid) {
		return utils.NewValidationError("amount", "adjustment exceeds the amount collected so far")
	}
	return nil
}

// RecordPayment appends a Pending ledger row against an invoice. Pending rows
// do not move the invoice's paid amount until processed.
func RecordPayment(ctx context.Context, input *NewPayment) (*Payment, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if input.Amount.IsZero() {
		return nil, utils.NewValidationError("amount", "must not be zero")
	}
	if _, ok := paymentMethodNames[string(input.PaymentMethod)]; !ok {
		return nil, utils.NewValidationError("payment_method", "unknown payment method")
	}

	logger := config.GetLogger()
	userId, _ := utils.GetUserIdFromContext(ctx)
	now := time.Now().UTC()

	// The idempotency row commits before the posting work so a crashed or
	// failed attempt leaves a durable STARTED/FAILED marker for the retry.
	if input.IdempotencyKey != "" {
		db := config.GetDB()
		var skip bool
		var prior *IdempotencyKey
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var beginErr error
			skip, prior, beginErr = BeginIdempotency(tx, recordPaymentHandlerName, input.IdempotencyKey)
			return beginErr
		})
		if err != nil {
			return nil, err
		}
		if skip {
			if prior.ResultId == nil {
				return nil, utils.NewConflictError("payment", 0)
			}
			return GetPayment(ctx, *prior.ResultId)
		}
	}

	var payment Payment
	err := WithInvoicePostingLock(ctx, input.InvoiceId, func(tx *gorm.DB) error {
		var invoice Invoice
		if err := tx.First(&invoice, input.InvoiceId).Error; err != nil {
			return utils.NewNotFoundError("invoice", input.InvoiceId)
		}
		netPaid := decimal.Zero
		if input.Amount.IsNegative() {
			var payments []Payment
			if err := tx.Where("invoice_id = ?", input.InvoiceId).Find(&payments).Error; err != nil {
				return err
			}
			netPaid = RecomputePaidAmount(payments)
		}
		if err := validateRecordPaymentAmount(input.Amount, netPaid); err != nil {
			return err
		}

		payment = Payment{
			InvoiceId:       input.InvoiceId,
			Amount:          utils.RoundMoney(input.Amount),
			PaymentMethod:   input.PaymentMethod,
			PaymentStatus:   PaymentStatusPending,
			ReferenceNumber: input.ReferenceNumber,
			TransactionId:   input.TransactionId,
			Notes:           input.Notes,
			PaymentDate:     input.PaymentDate,
			ProcessedBy:     userId,
		}
		for attempt := 1; ; attempt++ {
			payment.PaymentNumber = NewPaymentNumber(now)
			err := tx.Create(&payment).Error
			if err == nil {
				break
			}
			if utils.IsDuplicateKeyErr(err) && attempt < DocumentNumberMaxAttempts {
				continue
			}
			return err
		}
		if input.IdempotencyKey != "" {
			if err := MarkIdempotencySucceeded(tx, recordPaymentHandlerName, input.IdempotencyKey, payment.ID); err != nil {
				return err
			}
		}
		return PublishBillingEvent(ctx, tx, BillingReferenceTypePayment, payment.ID, BillingEventActionCreate, payment, nil)
	})
	if err != nil {
		if input.IdempotencyKey != "" {
			_ = MarkIdempotencyFailed(config.GetDB().WithContext(ctx), recordPaymentHandlerName, input.IdempotencyKey, err)
		}
		config.LogError(logger, "payment", "RecordPayment", "record", input, err)
		return nil, err
	}
	return &payment, nil
}

// ProcessPayment marks a Pending payment as Paid, stamps its payment date and
// reconciles the invoice in the same transaction. With the over-payment
// guardrail enabled, a payment that would push the invoice past its total is
// rejected before any state changes.
func ProcessPayment(ctx context.Context, paymentId int) (*Payment, error) {
	logger := config.GetLogger()

	var payment Payment
	db := config.GetDB()
	if err := db.WithContext(ctx).First(&payment, paymentId).Error; err != nil {
		return nil, utils.NewNotFoundError("payment", paymentId)
	}

	err := WithInvoicePostingLock(ctx, payment.InvoiceId, func(tx *gorm.DB) error {
		if err := tx.First(&payment, paymentId).Error; err != nil {
			return utils.NewNotFoundError("payment", paymentId)
		}
		if payment.PaymentStatus != PaymentStatusPending {
			return utils.NewIllegalStateError("only pending payments can be processed")
		}

		if config.RejectOverpayment() && payment.Amount.GreaterThan(decimal.Zero) {
			var invoice Invoice
			if err := tx.First(&invoice, payment.InvoiceId).Error; err != nil {
				return err
			}
			var payments []Payment
			if err := tx.Where("invoice_id = ?", payment.InvoiceId).Find(&payments).Error; err != nil {
				return err
			}
			netPaid := RecomputePaidAmount(payments)
			if netPaid.Add(payment.Amount).GreaterThan(invoice.TotalAmount) {
				return utils.NewValidationError("amount", "payment exceeds the invoice balance")
			}
		}

		payment.PaymentStatus = PaymentStatusPaid
		if payment.PaymentDate == nil {
			now := time.Now().UTC()
			payment.PaymentDate = &now
		}
		if err := tx.Save(&payment).Error; err != nil {
			return err
		}
		if _, err := ReconcileInvoice(ctx, tx, logger, payment.InvoiceId); err != nil {
			return err
		}
		return PublishBillingEvent(ctx, tx, BillingReferenceTypePayment, payment.ID, BillingEventActionReconciled, payment, nil)
	})
	if err != nil {
		config.LogError(logger, "payment", "ProcessPayment", "process", paymentId, err)
		return nil, err
	}
	return &payment, nil
}

// MarkPaymentFailed flags a Pending payment whose collection did not go
// through. Failed rows stay in the ledger for audit but never count toward
// the invoice.
func MarkPaymentFailed(ctx context.Context, paymentId int, reason string) (*Payment, error) {
	logger := config.GetLogger()

	var payment Payment
	db := config.GetDB()
	if err := db.WithContext(ctx).First(&payment, paymentId).Error; err != nil {
		return nil, utils.NewNotFoundError("payment", paymentId)
	}

	err := WithInvoicePostingLock(ctx, payment.InvoiceId, func(tx *gorm.DB) error {
		if err := tx.First(&payment, paymentId).Error; err != nil {
			return utils.NewNotFoundError("payment", paymentId)
		}
		if payment.PaymentStatus != PaymentStatusPending {
			return utils.NewIllegalStateError("only pending payments can be marked failed")
		}
		payment.PaymentStatus = PaymentStatusFailed
		if reason != "" {
			payment.Notes = reason
		}
		if err := tx.Save(&payment).Error; err != nil {
			return err
		}
		return PublishBillingEvent(ctx, tx, BillingReferenceTypePayment, payment.ID, BillingEventActionUpdate, payment, nil)
	})
	if err != nil {
		config.LogError(logger, "payment", "MarkPaymentFailed", "fail", paymentId, err)
		return nil, err
	}
	return &payment, nil
}

type RefundInput struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

// RefundPayment reverses collected money by appending a negative Paid row
// linked to the originating payment. The check is narrow: the refund may not
// exceed the originating payment's own amount, regardless of what else was
// collected on the invoice. The original row is left untouched.
func RefundPayment(ctx context.Context, paymentId int, input *RefundInput) (*Payment, error) {
	logger := config.GetLogger()

	if !input.Amount.GreaterThan(decimal.Zero) {
		return nil, utils.NewValidationError("amount", "refund amount must be positive")
	}

	var original Payment
	db := config.GetDB()
	if err := db.WithContext(ctx).First(&original, paymentId).Error; err != nil {
		return nil, utils.NewNotFoundError("payment", paymentId)
	}

	now := time.Now().UTC()
	var refund Payment
	err := WithInvoicePostingLock(ctx, original.InvoiceId, func(tx *gorm.DB) error {
		if err := tx.First(&original, paymentId).Error; err != nil {
			return utils.NewNotFoundError("payment", paymentId)
		}
		if original.PaymentStatus != PaymentStatusPaid {
			return utils.NewIllegalStateError("only paid payments can be refunded")
		}
		if original.Amount.LessThanOrEqual(decimal.Zero) {
			return utils.NewIllegalStateError("a refund row cannot be refunded")
		}

		var refundedSoFar decimal.Decimal
		var priorRefunds []Payment
		if err := tx.Where("refunded_payment_id = ?", original.ID).Find(&priorRefunds).Error; err != nil {
			return err
		}
		for _, r := range priorRefunds {
			if r.PaymentStatus == PaymentStatusPaid {
				refundedSoFar = refundedSoFar.Add(r.Amount.Neg())
			}
		}
		if refundedSoFar.Add(input.Amount).GreaterThan(original.Amount) {
			return utils.NewValidationError("amount", "refund exceeds the original payment amount")
		}

		userId, _ := utils.GetUserIdFromContext(ctx)
		refund = Payment{
			InvoiceId:         original.InvoiceId,
			Amount:            utils.RoundMoney(input.Amount).Neg(),
			PaymentMethod:     original.PaymentMethod,
			PaymentStatus:     PaymentStatusPaid,
			ReferenceNumber:   "REFUND-" + original.PaymentNumber,
			Notes:             input.Reason,
			RefundedPaymentId: original.ID,
			PaymentDate:       &now,
			ProcessedBy:       userId,
		}
		for attempt := 1; ; attempt++ {
			refund.PaymentNumber = NewPaymentNumber(now)
			err := tx.Create(&refund).Error
			if err == nil {
				break
			}
			if utils.IsDuplicateKeyErr(err) && attempt < DocumentNumberMaxAttempts {
				continue
			}
			return err
		}
		if _, err := ReconcileInvoice(ctx, tx, logger, original.InvoiceId); err != nil {
			return err
		}
		return PublishBillingEvent(ctx, tx, BillingReferenceTypePayment, refund.ID, BillingEventActionCreate, refund, original)
	})
	if err != nil {
		config.LogError(logger, "payment", "RefundPayment", "refund", paymentId, err)
		return nil, err
	}
	return &refund, nil
}

// DeletePayment removes a ledger row that has not been collected. A Paid row
// is immutable history: correct it with a refund, not a deletion.
func DeletePayment(ctx context.Context, paymentId int) (*Payment, error) {
	logger := config.GetLogger()

	var payment Payment
	db := config.GetDB()
	if err := db.WithContext(ctx).First(&payment, paymentId).Error; err != nil {
		return nil, utils.NewNotFoundError("payment", paymentId)
	}

	err := WithInvoicePostingLock(ctx, payment.InvoiceId, func(tx *gorm.DB) error {
		if err := tx.First(&payment, paymentId).Error; err != nil {
			return utils.NewNotFoundError("payment", paymentId)
		}
		if payment.PaymentStatus == PaymentStatusPaid {
			return utils.NewIllegalStateError("cannot delete a paid payment, issue a refund instead")
		}
		if err := tx.Delete(&payment).Error; err != nil {
			return err
		}
		if _, err := ReconcileInvoice(ctx, tx, logger, payment.InvoiceId); err != nil {
			return err
		}
		return PublishBillingEvent(ctx, tx, BillingReferenceTypePayment, payment.ID, BillingEventActionDelete, nil, payment)
	})
	if err != nil {
		config.LogError(logger, "payment", "DeletePayment", "delete", paymentId, err)
		return nil, err
	}
	return &payment, nil
}

func GetPayment(ctx context.Context, paymentId int) (*Payment, error) {
	payment, err := utils.FetchModel[Payment](ctx, paymentId)
	if err != nil {
		return nil, utils.NewNotFoundError("payment", paymentId)
	}
	return payment, nil
}

func GetPaymentByNumber(ctx context.Context, paymentNumber string) (*Payment, error) {
	db := config.GetDB()
	var payment Payment
	err := db.WithContext(ctx).Where("payment_number = ?", paymentNumber).First(&payment).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &payment, nil
}

func GetInvoicePayments(ctx context.Context, invoiceId int) ([]*Payment, error) {
	if err := utils.ValidateResourceId[Invoice](ctx, invoiceId); err != nil {
		return nil, utils.NewNotFoundError("invoice", invoiceId)
	}
	db := config.GetDB()
	var results []*Payment
	err := db.WithContext(ctx).Where("invoice_id = ?", invoiceId).Order("created_at ASC").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

type PaymentFilter struct {
	InvoiceId     *int
	PaymentStatus *PaymentStatus
	PaymentMethod *PaymentMethod
	StartDate     *time.Time
	EndDate       *time.Time
}

func GetPayments(ctx context.Context, filter PaymentFilter) ([]*Payment, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx)
	if filter.InvoiceId != nil && *filter.InvoiceId > 0 {
		dbCtx = dbCtx.Where("invoice_id = ?", *filter.InvoiceId)
	}
	if filter.PaymentStatus != nil {
		dbCtx = dbCtx.Where("payment_status = ?", *filter.PaymentStatus)
	}
	if filter.PaymentMethod != nil {
		dbCtx = dbCtx.Where("payment_method = ?", *filter.PaymentMethod)
	}
	if filter.StartDate != nil && filter.EndDate != nil {
		dbCtx = dbCtx.Where("created_at BETWEEN ? AND ?", *filter.StartDate, *filter.EndDate)
	}
	var results []*Payment
	if err := dbCtx.Order("created_at DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
