package models

import (
	"fmt"
	"math/rand"
	"time"
)

const (
	InvoiceNumberPrefix = "VET"
	PaymentNumberPrefix = "PAY"

	// Suffixes are random, not collision-free: creation sites retry on a
	// duplicate-key insert up to this many times before giving up.
	DocumentNumberMaxAttempts = 5
)

// NewDocumentNumber generates a human-readable document number of the shape
// PREFIX-YYYYMMDD-NNNNN with a randomized 5-digit suffix. Uniqueness is
// enforced by the DB constraint on the number column; a collision is a
// retryable condition, not a fatal error. A number is assigned once at first
// persistence and never regenerated.
func NewDocumentNumber(prefix string, now time.Time) string {
	return fmt.Sprintf("%s-%s-%05d", prefix, now.Format("20060102"), rand.Intn(99999)+1)
}

func NewInvoiceNumber(now time.Time) string {
	return NewDocumentNumber(InvoiceNumberPrefix, now)
}

func NewPaymentNumber(now time.Time) string {
	return NewDocumentNumber(PaymentNumberPrefix, now)
}
