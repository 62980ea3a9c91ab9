package config

import (
	"os"
	"strings"
)

// RejectOverpayment enables strict settlement guardrails: processing a payment
// that would push an invoice's paid amount above its total fails instead of
// leaving a credit balance.
//
// The default (off) tracks over-payment as a negative balance due, matching the
// historical behavior of the billing service.
//
// Set via env:
// - BILLING_REJECT_OVERPAYMENT=true
func RejectOverpayment() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("BILLING_REJECT_OVERPAYMENT")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
