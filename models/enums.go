package models

import (
	"errors"
	"strconv"
)

/* Invoice lifecycle status */

type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "Draft"
	InvoiceStatusSent      InvoiceStatus = "Sent"
	InvoiceStatusPaid      InvoiceStatus = "Paid"
	InvoiceStatusOverdue   InvoiceStatus = "Overdue"
	InvoiceStatusCancelled InvoiceStatus = "Cancelled"
)

var invoiceStatusNames = map[string]InvoiceStatus{
	"Draft":     InvoiceStatusDraft,
	"Sent":      InvoiceStatusSent,
	"Paid":      InvoiceStatusPaid,
	"Overdue":   InvoiceStatusOverdue,
	"Cancelled": InvoiceStatusCancelled,
}

func (s InvoiceStatus) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(string(s))), nil
}

func (s *InvoiceStatus) UnmarshalJSON(b []byte) error {
	str, err := strconv.Unquote(string(b))
	if err != nil {
		return errors.New("invoice status must be string")
	}
	v, ok := invoiceStatusNames[str]
	if !ok {
		return errors.New("invalid invoice status")
	}
	*s = v
	return nil
}

/* Settlement state, tracked independently of the lifecycle status */

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "Pending"
	PaymentStatusPartial  PaymentStatus = "Partial"
	PaymentStatusPaid     PaymentStatus = "Paid"
	PaymentStatusRefunded PaymentStatus = "Refunded"
	PaymentStatusFailed   PaymentStatus = "Failed"
)

var paymentStatusNames = map[string]PaymentStatus{
	"Pending":  PaymentStatusPending,
	"Partial":  PaymentStatusPartial,
	"Paid":     PaymentStatusPaid,
	"Refunded": PaymentStatusRefunded,
	"Failed":   PaymentStatusFailed,
}

func (s PaymentStatus) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(string(s))), nil
}

func (s *PaymentStatus) UnmarshalJSON(b []byte) error {
	str, err := strconv.Unquote(string(b))
	if err != nil {
		return errors.New("payment status must be string")
	}
	v, ok := paymentStatusNames[str]
	if !ok {
		return errors.New("invalid payment status")
	}
	*s = v
	return nil
}

type PaymentMethod string

const (
	PaymentMethodCash          PaymentMethod = "Cash"
	PaymentMethodCreditCard    PaymentMethod = "Credit Card"
	PaymentMethodDebitCard     PaymentMethod = "Debit Card"
	PaymentMethodBankTransfer  PaymentMethod = "Bank Transfer"
	PaymentMethodCheck         PaymentMethod = "Check"
	PaymentMethodDigitalWallet PaymentMethod = "Digital Wallet"
	PaymentMethodOther         PaymentMethod = "Other"
)

var paymentMethodNames = map[string]PaymentMethod{
	"Cash":           PaymentMethodCash,
	"Credit Card":    PaymentMethodCreditCard,
	"Debit Card":     PaymentMethodDebitCard,
	"Bank Transfer":  PaymentMethodBankTransfer,
	"Check":          PaymentMethodCheck,
	"Digital Wallet": PaymentMethodDigitalWallet,
	"Other":          PaymentMethodOther,
}

func (m PaymentMethod) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(string(m))), nil
}

func (m *PaymentMethod) UnmarshalJSON(b []byte) error {
	str, err := strconv.Unquote(string(b))
	if err != nil {
		return errors.New("payment method must be string")
	}
	v, ok := paymentMethodNames[str]
	if !ok {
		return errors.New("invalid payment method")
	}
	*m = v
	return nil
}

type ServiceType string

const (
	ServiceTypeConsultation    ServiceType = "Consultation"
	ServiceTypeVaccination     ServiceType = "Vaccination"
	ServiceTypeSurgery         ServiceType = "Surgery"
	ServiceTypeEmergency       ServiceType = "Emergency"
	ServiceTypeLaboratory      ServiceType = "Laboratory"
	ServiceTypeImaging         ServiceType = "Imaging"
	ServiceTypeHospitalization ServiceType = "Hospitalization"
	ServiceTypeGrooming        ServiceType = "Grooming"
	ServiceTypeMedication      ServiceType = "Medication"
	ServiceTypeSupplies        ServiceType = "Supplies"
	ServiceTypeOther           ServiceType = "Other"
)

/* Outbox */

type BillingReferenceType string

const (
	BillingReferenceTypeInvoice BillingReferenceType = "INVOICE"
	BillingReferenceTypePayment BillingReferenceType = "PAYMENT"
)

type BillingEventAction string

const (
	BillingEventActionCreate       BillingEventAction = "CREATE"
	BillingEventActionUpdate       BillingEventAction = "UPDATE"
	BillingEventActionDelete       BillingEventAction = "DELETE"
	BillingEventActionStatusChange BillingEventAction = "STATUS_CHANGE"
	BillingEventActionReconciled   BillingEventAction = "RECONCILED"
)

const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)
