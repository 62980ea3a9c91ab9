package models

import (
	"context"
	"fmt"
	"time"

	"github.com/MJMV25/veterinar-backend/config"
	"github.com/MJMV25/veterinar-backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DefaultTaxPercentage is the flat consumption-tax rate (IVA) applied after
// discount when the caller does not supply one.
var DefaultTaxPercentage = decimal.NewFromFloat(19.00)

const defaultDueDays = 30

type Invoice struct {
	ID            int           `gorm:"primary_key" json:"id"`
	InvoiceNumber string        `gorm:"size:255;uniqueIndex;not null" json:"invoice_number"`
	ClientId      int           `gorm:"index;not null" json:"client_id" binding:"required"`
	ClientName    string        `gorm:"size:255" json:"client_name"`
	ClientEmail   string        `gorm:"size:255" json:"client_email"`
	ClientPhone   string        `gorm:"size:50" json:"client_phone"`
	ClientAddress string        `gorm:"size:255" json:"client_address"`
	PetId         int           `gorm:"index;default:null" json:"pet_id"`
	PetName       string        `gorm:"size:255" json:"pet_name"`
	AppointmentId int           `gorm:"index;default:null" json:"appointment_id"`
	InvoiceStatus InvoiceStatus `gorm:"type:enum('Draft','Sent','Paid','Overdue','Cancelled');not null" json:"invoice_status"`
	PaymentStatus PaymentStatus `gorm:"type:enum('Pending','Partial','Paid','Refunded','Failed');not null" json:"payment_status"`

	Subtotal       decimal.Decimal `gorm:"type:decimal(10,2);default:0" json:"subtotal"`
	DiscountAmount decimal.Decimal `gorm:"type:decimal(10,2);default:0" json:"discount_amount"`
	TaxAmount      decimal.Decimal `gorm:"type:decimal(10,2);default:0" json:"tax_amount"`
	TotalAmount    decimal.Decimal `gorm:"type:decimal(10,2);default:0" json:"total_amount"`
	PaidAmount     decimal.Decimal `gorm:"type:decimal(10,2);default:0" json:"paid_amount"`
	// BalanceDue keeps its raw value (negative on over-payment) so a credit
	// balance stays detectable; display clamping is the caller's concern.
	BalanceDue decimal.Decimal `gorm:"type:decimal(10,2);default:0" json:"balance_due"`

	DiscountPercentage decimal.Decimal `gorm:"type:decimal(5,2);default:0" json:"discount_percentage"`
	TaxPercentage      decimal.Decimal `gorm:"type:decimal(5,2);default:0" json:"tax_percentage"`

	Notes           string `gorm:"type:text;default:null" json:"notes"`
	TermsConditions string `gorm:"type:text;default:null" json:"terms_conditions"`

	IssueDate   time.Time  `gorm:"not null" json:"issue_date"`
	DueDate     time.Time  `gorm:"not null" json:"due_date"`
	PaymentDate *time.Time `json:"payment_date"`

	Items []InvoiceItem `gorm:"foreignKey:InvoiceId" json:"items"`

	CreatedBy int       `gorm:"default:null" json:"created_by"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewInvoice struct {
	ClientId           int              `json:"client_id" validate:"required"`
	ClientName         string           `json:"client_name"`
	ClientEmail        string           `json:"client_email"`
	ClientPhone        string           `json:"client_phone"`
	ClientAddress      string           `json:"client_address"`
	PetId              int              `json:"pet_id"`
	PetName            string           `json:"pet_name"`
	AppointmentId      int              `json:"appointment_id"`
	Notes              string           `json:"notes"`
	TermsConditions    string           `json:"terms_conditions"`
	IssueDate          *time.Time       `json:"issue_date"`
	DueDate            *time.Time       `json:"due_date"`
	DiscountPercentage decimal.Decimal  `json:"discount_percentage"`
	TaxPercentage      *decimal.Decimal `json:"tax_percentage"`
	Items              []NewInvoiceItem `json:"items" validate:"dive"`
}

type InvoiceItem struct {
	ID                 int             `gorm:"primary_key" json:"id"`
	InvoiceId          int             `gorm:"index;not null" json:"invoice_id"`
	ServiceType        ServiceType     `gorm:"type:enum('Consultation','Vaccination','Surgery','Emergency','Laboratory','Imaging','Hospitalization','Grooming','Medication','Supplies','Other');default:'Other'" json:"service_type"`
	Description        string          `gorm:"size:255;not null" json:"description"`
	Quantity           int             `gorm:"not null;default:1" json:"quantity"`
	UnitPrice          decimal.Decimal `gorm:"type:decimal(10,2);default:0" json:"unit_price"`
	DiscountPercentage decimal.Decimal `gorm:"type:decimal(5,2);default:0" json:"discount_percentage"`
	DiscountAmount     decimal.Decimal `gorm:"type:decimal(10,2);default:0" json:"discount_amount"`
	Total              decimal.Decimal `gorm:"type:decimal(10,2);default:0" json:"total"`
	ServiceId          int             `gorm:"default:null" json:"service_id"`
	ProductId          int             `gorm:"default:null" json:"product_id"`
	VeterinarianId     int             `gorm:"default:null" json:"veterinarian_id"`
	VeterinarianName   string          `gorm:"size:255" json:"veterinarian_name"`
	ServiceDate        *time.Time      `json:"service_date"`
	Notes              string          `gorm:"size:255" json:"notes"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewInvoiceItem struct {
	ItemId             int             `json:"item_id"`
	ServiceType        ServiceType     `json:"service_type"`
	Description        string          `json:"description" validate:"required"`
	Quantity           int             `json:"quantity"`
	UnitPrice          decimal.Decimal `json:"unit_price"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	ServiceId          int             `json:"service_id"`
	ProductId          int             `json:"product_id"`
	VeterinarianId     int             `json:"veterinarian_id"`
	VeterinarianName   string          `json:"veterinarian_name"`
	ServiceDate        *time.Time      `json:"service_date"`
	Notes              string          `json:"notes"`
}

func (input NewInvoiceItem) validate() error {
	if input.Quantity < 1 {
		return utils.NewValidationError("quantity", "must be at least 1")
	}
	if input.UnitPrice.IsNegative() {
		return utils.NewValidationError("unit_price", "must not be negative")
	}
	if input.DiscountPercentage.IsNegative() || input.DiscountPercentage.GreaterThan(decimal.NewFromInt(100)) {
		return utils.NewValidationError("discount_percentage", "must be between 0 and 100")
	}
	return nil
}

// CalculateLineTotal recomputes the line's discount amount and total:
// total = quantity*unitPrice - discount. Runs synchronously on every field
// change so a stale total is never observable after a successful write.
func (item *InvoiceItem) CalculateLineTotal() {
	lineAmount := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
	if item.DiscountPercentage.GreaterThan(decimal.Zero) {
		item.DiscountAmount = utils.ApplyPercentage(lineAmount, item.DiscountPercentage)
	} else {
		item.DiscountAmount = decimal.Zero
	}
	item.Total = utils.RoundMoney(lineAmount.Sub(item.DiscountAmount))
}

func derivePaymentStatus(totalAmount, paidAmount, balanceDue decimal.Decimal) PaymentStatus {
	// An untouched zero-total invoice is Pending, not settled.
	if totalAmount.IsZero() && paidAmount.IsZero() {
		return PaymentStatusPending
	}
	if balanceDue.LessThanOrEqual(decimal.Zero) {
		return PaymentStatusPaid
	}
	if paidAmount.GreaterThan(decimal.Zero) {
		return PaymentStatusPartial
	}
	return PaymentStatusPending
}

// CalculateTotals derives the invoice's six monetary fields and its settlement
// state from the current item list, rates and paid amount. Order matters: the
// discount comes off the subtotal first, tax is computed on the discounted
// base, never on the raw subtotal.
func (inv *Invoice) CalculateTotals() {
	subtotal := decimal.Zero
	for _, item := range inv.Items {
		subtotal = subtotal.Add(item.Total)
	}
	inv.Subtotal = utils.RoundMoney(subtotal)
	inv.DiscountAmount = utils.ApplyPercentage(inv.Subtotal, inv.DiscountPercentage)
	discountedBase := inv.Subtotal.Sub(inv.DiscountAmount)
	inv.TaxAmount = utils.ApplyPercentage(discountedBase, inv.TaxPercentage)
	inv.TotalAmount = discountedBase.Add(inv.TaxAmount)
	inv.BalanceDue = inv.TotalAmount.Sub(inv.PaidAmount)
	inv.PaymentStatus = derivePaymentStatus(inv.TotalAmount, inv.PaidAmount, inv.BalanceDue)
}

var invoiceStatusTransitions = map[InvoiceStatus]map[InvoiceStatus]bool{
	InvoiceStatusDraft:     {InvoiceStatusSent: true, InvoiceStatusCancelled: true},
	InvoiceStatusSent:      {InvoiceStatusPaid: true, InvoiceStatusOverdue: true, InvoiceStatusCancelled: true},
	InvoiceStatusOverdue:   {InvoiceStatusPaid: true, InvoiceStatusCancelled: true},
	InvoiceStatusPaid:      {},
	InvoiceStatusCancelled: {},
}

// ValidateStatusTransition enforces the lifecycle table. Paid and Cancelled
// are terminal.
func ValidateStatusTransition(current, requested InvoiceStatus) error {
	if allowed := invoiceStatusTransitions[current]; allowed[requested] {
		return nil
	}
	return utils.NewIllegalTransitionError(string(current), string(requested))
}

// CanTransition reports whether the lifecycle table permits current -> requested.
func CanTransition(current, requested InvoiceStatus) bool {
	return invoiceStatusTransitions[current][requested]
}

// ensureEditable rejects financial edits on settled or cancelled invoices.
func (inv *Invoice) ensureEditable() error {
	switch inv.InvoiceStatus {
	case InvoiceStatusPaid:
		return utils.NewIllegalStateError("cannot modify a paid invoice")
	case InvoiceStatusCancelled:
		return utils.NewIllegalStateError("cannot modify a cancelled invoice")
	}
	return nil
}

func calculateDueDate(issueDate time.Time, dueDate *time.Time) time.Time {
	if dueDate != nil {
		return *dueDate
	}
	return issueDate.AddDate(0, 0, defaultDueDays)
}

func CreateInvoice(ctx context.Context, input *NewInvoice) (*Invoice, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	for _, item := range input.Items {
		if err := item.validate(); err != nil {
			return nil, err
		}
	}
	if input.DiscountPercentage.IsNegative() || input.DiscountPercentage.GreaterThan(decimal.NewFromInt(100)) {
		return nil, utils.NewValidationError("discount_percentage", "must be between 0 and 100")
	}

	now := time.Now().UTC()
	issueDate := now
	if input.IssueDate != nil {
		issueDate = *input.IssueDate
	}

	taxPercentage := DefaultTaxPercentage
	if input.TaxPercentage != nil {
		taxPercentage = *input.TaxPercentage
	}

	var items []InvoiceItem
	for _, itemInput := range input.Items {
		item := InvoiceItem{
			ServiceType:        itemInput.ServiceType,
			Description:        itemInput.Description,
			Quantity:           itemInput.Quantity,
			UnitPrice:          itemInput.UnitPrice,
			DiscountPercentage: itemInput.DiscountPercentage,
			ServiceId:          itemInput.ServiceId,
			ProductId:          itemInput.ProductId,
			VeterinarianId:     itemInput.VeterinarianId,
			VeterinarianName:   itemInput.VeterinarianName,
			ServiceDate:        itemInput.ServiceDate,
			Notes:              itemInput.Notes,
		}
		item.CalculateLineTotal()
		items = append(items, item)
	}

	userId, _ := utils.GetUserIdFromContext(ctx)

	invoice := Invoice{
		ClientId:           input.ClientId,
		ClientName:         input.ClientName,
		ClientEmail:        input.ClientEmail,
		ClientPhone:        input.ClientPhone,
		ClientAddress:      input.ClientAddress,
		PetId:              input.PetId,
		PetName:            input.PetName,
		AppointmentId:      input.AppointmentId,
		InvoiceStatus:      InvoiceStatusDraft,
		Notes:              input.Notes,
		TermsConditions:    input.TermsConditions,
		IssueDate:          issueDate,
		DueDate:            calculateDueDate(issueDate, input.DueDate),
		DiscountPercentage: input.DiscountPercentage,
		TaxPercentage:      taxPercentage,
		Items:              items,
		CreatedBy:          userId,
	}
	invoice.CalculateTotals()

	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for attempt := 1; ; attempt++ {
			invoice.InvoiceNumber = NewInvoiceNumber(now)
			err := tx.Create(&invoice).Error
			if err == nil {
				break
			}
			if utils.IsDuplicateKeyErr(err) && attempt < DocumentNumberMaxAttempts {
				continue
			}
			return err
		}
		return PublishBillingEvent(ctx, tx, BillingReferenceTypeInvoice, invoice.ID, BillingEventActionCreate, invoice, nil)
	})
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

// UpdateInvoice updates client metadata, dates, notes and the two rate fields,
// then recalculates. Items are managed through AddOrUpdateLineItem/RemoveLineItem.
func UpdateInvoice(ctx context.Context, invoiceId int, input *NewInvoice) (*Invoice, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if input.DiscountPercentage.IsNegative() || input.DiscountPercentage.GreaterThan(decimal.NewFromInt(100)) {
		return nil, utils.NewValidationError("discount_percentage", "must be between 0 and 100")
	}

	var invoice Invoice
	err := WithInvoicePostingLock(ctx, invoiceId, func(tx *gorm.DB) error {
		if err := tx.Preload("Items").First(&invoice, invoiceId).Error; err != nil {
			return utils.NewNotFoundError("invoice", invoiceId)
		}
		if err := invoice.ensureEditable(); err != nil {
			return err
		}
		oldInvoice := invoice

		invoice.ClientName = input.ClientName
		invoice.ClientEmail = input.ClientEmail
		invoice.ClientPhone = input.ClientPhone
		invoice.ClientAddress = input.ClientAddress
		invoice.PetName = input.PetName
		invoice.Notes = input.Notes
		invoice.TermsConditions = input.TermsConditions
		if input.DueDate != nil {
			invoice.DueDate = *input.DueDate
		}
		invoice.DiscountPercentage = input.DiscountPercentage
		if input.TaxPercentage != nil {
			invoice.TaxPercentage = *input.TaxPercentage
		}
		invoice.CalculateTotals()

		if err := tx.Omit("Items").Save(&invoice).Error; err != nil {
			return err
		}
		return PublishBillingEvent(ctx, tx, BillingReferenceTypeInvoice, invoice.ID, BillingEventActionUpdate, invoice, oldInvoice)
	})
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

// AddOrUpdateLineItem upserts one line (ItemId zero means create), recomputes
// the line total and the invoice totals in the same transaction. A paid or
// cancelled invoice rejects the edit with no partial write.
func AddOrUpdateLineItem(ctx context.Context, invoiceId int, input *NewInvoiceItem) (*Invoice, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	var invoice Invoice
	err := WithInvoicePostingLock(ctx, invoiceId, func(tx *gorm.DB) error {
		if err := tx.First(&invoice, invoiceId).Error; err != nil {
			return utils.NewNotFoundError("invoice", invoiceId)
		}
		if err := invoice.ensureEditable(); err != nil {
			return err
		}

		var item InvoiceItem
		if input.ItemId > 0 {
			if err := tx.Where("invoice_id = ?", invoiceId).First(&item, input.ItemId).Error; err != nil {
				return utils.NewNotFoundError("invoice item", input.ItemId)
			}
		} else {
			item.InvoiceId = invoiceId
		}
		item.ServiceType = input.ServiceType
		item.Description = input.Description
		item.Quantity = input.Quantity
		item.UnitPrice = input.UnitPrice
		item.DiscountPercentage = input.DiscountPercentage
		item.ServiceId = input.ServiceId
		item.ProductId = input.ProductId
		item.VeterinarianId = input.VeterinarianId
		item.VeterinarianName = input.VeterinarianName
		item.ServiceDate = input.ServiceDate
		item.Notes = input.Notes
		item.CalculateLineTotal()

		if err := tx.Save(&item).Error; err != nil {
			return err
		}
		if err := tx.Where("invoice_id = ?", invoiceId).Order("id ASC").Find(&invoice.Items).Error; err != nil {
			return err
		}
		invoice.CalculateTotals()
		if err := tx.Omit("Items").Save(&invoice).Error; err != nil {
			return err
		}
		return PublishBillingEvent(ctx, tx, BillingReferenceTypeInvoice, invoice.ID, BillingEventActionUpdate, invoice, nil)
	})
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

func RemoveLineItem(ctx context.Context, invoiceId int, itemId int) (*Invoice, error) {
	var invoice Invoice
	err := WithInvoicePostingLock(ctx, invoiceId, func(tx *gorm.DB) error {
		if err := tx.First(&invoice, invoiceId).Error; err != nil {
			return utils.NewNotFoundError("invoice", invoiceId)
		}
		if err := invoice.ensureEditable(); err != nil {
			return err
		}
		var item InvoiceItem
		if err := tx.Where("invoice_id = ?", invoiceId).First(&item, itemId).Error; err != nil {
			return utils.NewNotFoundError("invoice item", itemId)
		}
		if err := tx.Delete(&item).Error; err != nil {
			return err
		}
		if err := tx.Where("invoice_id = ?", invoiceId).Order("id ASC").Find(&invoice.Items).Error; err != nil {
			return err
		}
		invoice.CalculateTotals()
		if err := tx.Omit("Items").Save(&invoice).Error; err != nil {
			return err
		}
		return PublishBillingEvent(ctx, tx, BillingReferenceTypeInvoice, invoice.ID, BillingEventActionUpdate, invoice, nil)
	})
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

// ApplyDiscount sets the invoice-level discount percentage and recalculates.
func ApplyDiscount(ctx context.Context, invoiceId int, discountPercentage decimal.Decimal) (*Invoice, error) {
	if discountPercentage.IsNegative() || discountPercentage.GreaterThan(decimal.NewFromInt(100)) {
		return nil, utils.NewValidationError("discount_percentage", "must be between 0 and 100")
	}

	var invoice Invoice
	err := WithInvoicePostingLock(ctx, invoiceId, func(tx *gorm.DB) error {
		if err := tx.Preload("Items").First(&invoice, invoiceId).Error; err != nil {
			return utils.NewNotFoundError("invoice", invoiceId)
		}
		if err := invoice.ensureEditable(); err != nil {
			return err
		}
		invoice.DiscountPercentage = discountPercentage
		invoice.CalculateTotals()
		if err := tx.Omit("Items").Save(&invoice).Error; err != nil {
			return err
		}
		return PublishBillingEvent(ctx, tx, BillingReferenceTypeInvoice, invoice.ID, BillingEventActionUpdate, invoice, nil)
	})
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

// ChangeInvoiceStatus applies one lifecycle transition. Entering Sent stamps
// the issue date if unset. An illegal transition fails with no state change.
func ChangeInvoiceStatus(ctx context.Context, invoiceId int, newStatus InvoiceStatus) (*Invoice, error) {
	var invoice Invoice
	err := WithInvoicePostingLock(ctx, invoiceId, func(tx *gorm.DB) error {
		if err := tx.First(&invoice, invoiceId).Error; err != nil {
			return utils.NewNotFoundError("invoice", invoiceId)
		}
		oldStatus := invoice.InvoiceStatus
		if err := ValidateStatusTransition(oldStatus, newStatus); err != nil {
			return err
		}
		invoice.InvoiceStatus = newStatus
		if newStatus == InvoiceStatusSent && invoice.IssueDate.IsZero() {
			invoice.IssueDate = time.Now().UTC()
		}
		if err := tx.Omit("Items").Save(&invoice).Error; err != nil {
			return err
		}
		return PublishBillingEvent(ctx, tx, BillingReferenceTypeInvoice, invoice.ID, BillingEventActionStatusChange, invoice, oldStatus)
	})
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

// DeleteInvoice removes a draft invoice and its items. An invoice with any
// attached payment cannot be deleted, whatever the payment's status.
func DeleteInvoice(ctx context.Context, invoiceId int) (*Invoice, error) {
	var invoice Invoice
	err := WithInvoicePostingLock(ctx, invoiceId, func(tx *gorm.DB) error {
		if err := tx.Preload("Items").First(&invoice, invoiceId).Error; err != nil {
			return utils.NewNotFoundError("invoice", invoiceId)
		}
		if invoice.InvoiceStatus != InvoiceStatusDraft {
			return utils.NewIllegalStateError("cannot delete invoice that is not in Draft status")
		}
		var paymentCount int64
		if err := tx.Model(&Payment{}).Where("invoice_id = ?", invoiceId).Count(&paymentCount).Error; err != nil {
			return err
		}
		if paymentCount > 0 {
			return utils.NewIllegalStateError("cannot delete invoice with associated payments")
		}
		if err := tx.Where("invoice_id = ?", invoiceId).Delete(&InvoiceItem{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&invoice).Error; err != nil {
			return err
		}
		return PublishBillingEvent(ctx, tx, BillingReferenceTypeInvoice, invoice.ID, BillingEventActionDelete, nil, invoice)
	})
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

const invoiceCacheTTL = 10 * time.Minute

// InvoiceCacheKey names the Redis snapshot of one invoice. Every mutation
// path runs through WithInvoicePostingLock, which drops the key after commit,
// so a cached snapshot can be stale by at most the TTL when Redis and MySQL
// disagree about availability.
func InvoiceCacheKey(invoiceId int) string {
	return fmt.Sprintf("Invoice:%d", invoiceId)
}

func GetInvoice(ctx context.Context, invoiceId int) (*Invoice, error) {
	var cached Invoice
	if hit, err := config.GetRedisObject(InvoiceCacheKey(invoiceId), &cached); err == nil && hit {
		return &cached, nil
	}
	invoice, err := utils.FetchModel[Invoice](ctx, invoiceId, "Items")
	if err != nil {
		return nil, utils.NewNotFoundError("invoice", invoiceId)
	}
	_ = config.SetRedisObject(InvoiceCacheKey(invoiceId), invoice, invoiceCacheTTL)
	return invoice, nil
}

func GetInvoiceByNumber(ctx context.Context, invoiceNumber string) (*Invoice, error) {
	db := config.GetDB()
	var invoice Invoice
	err := db.WithContext(ctx).Preload("Items").Where("invoice_number = ?", invoiceNumber).First(&invoice).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &invoice, nil
}

type InvoiceFilter struct {
	ClientId      *int
	InvoiceStatus *InvoiceStatus
	PaymentStatus *PaymentStatus
	Number        *string
	StartDate     *time.Time
	EndDate       *time.Time
}

func GetInvoices(ctx context.Context, filter InvoiceFilter) ([]*Invoice, error) {
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Preload("Items")
	if filter.ClientId != nil && *filter.ClientId > 0 {
		dbCtx = dbCtx.Where("client_id = ?", *filter.ClientId)
	}
	if filter.InvoiceStatus != nil {
		dbCtx = dbCtx.Where("invoice_status = ?", *filter.InvoiceStatus)
	}
	if filter.PaymentStatus != nil {
		dbCtx = dbCtx.Where("payment_status = ?", *filter.PaymentStatus)
	}
	if filter.Number != nil && *filter.Number != "" {
		dbCtx = dbCtx.Where("invoice_number LIKE ?", "%"+*filter.Number+"%")
	}
	if filter.StartDate != nil && filter.EndDate != nil {
		dbCtx = dbCtx.Where("issue_date BETWEEN ? AND ?", *filter.StartDate, *filter.EndDate)
	}
	var results []*Invoice
	if err := dbCtx.Order("created_at DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// IsOverdue reports whether the invoice should be flagged by the overdue
// sweep: issued (Sent), past due and not settled. Draft, Paid, Cancelled and
// already-Overdue invoices are never candidates.
func (inv *Invoice) IsOverdue(now time.Time) bool {
	return inv.InvoiceStatus == InvoiceStatusSent &&
		inv.DueDate.Before(now) &&
		inv.PaymentStatus != PaymentStatusPaid
}

// MarkInvoiceOverdue re-checks the overdue predicate under the posting lock
// and applies the Sent -> Overdue transition. Returns false when the invoice
// no longer qualifies (paid or cancelled since selection), which is not an
// error: the sweep is idempotent.
func MarkInvoiceOverdue(ctx context.Context, invoiceId int, now time.Time) (bool, error) {
	marked := false
	err := WithInvoicePostingLock(ctx, invoiceId, func(tx *gorm.DB) error {
		var invoice Invoice
		if err := tx.First(&invoice, invoiceId).Error; err != nil {
			return utils.NewNotFoundError("invoice", invoiceId)
		}
		if !invoice.IsOverdue(now) {
			return nil
		}
		oldStatus := invoice.InvoiceStatus
		invoice.InvoiceStatus = InvoiceStatusOverdue
		if err := tx.Omit("Items").Save(&invoice).Error; err != nil {
			return err
		}
		marked = true
		return PublishBillingEvent(ctx, tx, BillingReferenceTypeInvoice, invoice.ID, BillingEventActionStatusChange, invoice, oldStatus)
	})
	return marked, err
}

// OverdueInvoiceIds returns ids of Sent invoices past their due date whose
// settlement is still open. The sweeper iterates this list outside any lock.
func OverdueInvoiceIds(ctx context.Context, now time.Time) ([]int, error) {
	db := config.GetDB()
	var ids []int
	err := db.WithContext(ctx).Model(&Invoice{}).
		Where("due_date < ?", now).
		Where("payment_status <> ?", PaymentStatusPaid).
		Where("invoice_status = ?", InvoiceStatusSent).
		Order("id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
