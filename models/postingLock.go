package models

import (
	"context"
	"fmt"

	"github.com/MJMV25/veterinar-backend/config"
	"github.com/MJMV25/veterinar-backend/utils"
	"gorm.io/gorm"
)

const invoiceLockTimeoutSeconds = 10
const invoiceTxMaxAttempts = 3

// AcquireInvoicePostingLock serializes monetary read-modify-writes per invoice
// across instances using MySQL advisory locks.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the same
// connection that will run the posting transaction.
func AcquireInvoicePostingLock(conn *gorm.DB, invoiceId int) error {
	lockName := fmt.Sprintf("invoice:%d", invoiceId)
	var ok int
	if err := conn.Raw("SELECT GET_LOCK(?, ?)", lockName, invoiceLockTimeoutSeconds).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return utils.NewConflictError("invoice", invoiceId)
	}
	return nil
}

func ReleaseInvoicePostingLock(conn *gorm.DB, invoiceId int) {
	lockName := fmt.Sprintf("invoice:%d", invoiceId)
	var _ok int
	_ = conn.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}

// WithInvoicePostingLock pins one pooled connection, takes the invoice's
// advisory lock on it, and runs fn inside a transaction on that connection.
// The lock is released after commit/rollback, so no other writer can observe
// the invoice's monetary fields mid-update. Deadlocks and lock wait timeouts
// are retried a bounded number of times before surfacing.
func WithInvoicePostingLock(ctx context.Context, invoiceId int, fn func(tx *gorm.DB) error) error {
	db := config.GetDB()
	var err error
	for attempt := 1; attempt <= invoiceTxMaxAttempts; attempt++ {
		err = db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
			if lockErr := AcquireInvoicePostingLock(conn, invoiceId); lockErr != nil {
				return lockErr
			}
			defer ReleaseInvoicePostingLock(conn, invoiceId)
			return conn.Transaction(func(tx *gorm.DB) error {
				return fn(tx)
			})
		})
		if err == nil {
			// Drop the cached snapshot after commit so readers never see
			// pre-mutation monetary fields.
			_ = config.RemoveRedisKey(InvoiceCacheKey(invoiceId))
			return nil
		}
		if !utils.IsLockErr(err) {
			return err
		}
	}
	if utils.IsLockErr(err) {
		return utils.NewConflictError("invoice", invoiceId)
	}
	return err
}
