package models

import (
	"errors"
	"time"

	"github.com/MJMV25/veterinar-backend/utils"
	"gorm.io/gorm"
)

var ErrIdempotencyInProgress = errors.New("idempotency in progress")

const idempotencyStaleAfter = 5 * time.Minute

// BeginIdempotency inserts STARTED inside the caller's transaction. If a
// SUCCEEDED row exists, returns it with skip=true meaning "replay, reuse the
// recorded result". A rolled-back transaction takes the STARTED row with it,
// so a failed first attempt leaves no residue.
func BeginIdempotency(tx *gorm.DB, handlerName, messageId string) (skip bool, prior *IdempotencyKey, err error) {
	key := IdempotencyKey{
		HandlerName: handlerName,
		MessageId:   messageId,
		Status:      IdempotencyStatusStarted,
	}
	if err := tx.Create(&key).Error; err == nil {
		return false, nil, nil
	} else if !utils.IsDuplicateKeyErr(err) {
		return false, nil, err
	}

	var existing IdempotencyKey
	if err := tx.Where("handler_name = ? AND message_id = ?", handlerName, messageId).
		First(&existing).Error; err != nil {
		return false, nil, err
	}

	switch existing.Status {
	case IdempotencyStatusSucceeded:
		return true, &existing, nil
	case IdempotencyStatusStarted:
		// If another worker is currently processing, ask the caller to retry.
		// If it's stale, reuse the same row (set STARTED again).
		if time.Since(existing.UpdatedAt) < idempotencyStaleAfter {
			return false, nil, ErrIdempotencyInProgress
		}
		return false, nil, tx.Model(&IdempotencyKey{}).
			Where("id = ?", existing.ID).
			Updates(map[string]interface{}{"status": IdempotencyStatusStarted, "last_error": nil}).Error
	default:
		return false, nil, tx.Model(&IdempotencyKey{}).
			Where("id = ?", existing.ID).
			Updates(map[string]interface{}{"status": IdempotencyStatusStarted, "last_error": nil}).Error
	}
}

// MarkIdempotencySucceeded records the produced row's id so replays can
// return it.
func MarkIdempotencySucceeded(tx *gorm.DB, handlerName, messageId string, resultId int) error {
	return tx.Model(&IdempotencyKey{}).
		Where("handler_name = ? AND message_id = ?", handlerName, messageId).
		Updates(map[string]interface{}{"status": IdempotencyStatusSucceeded, "result_id": &resultId, "last_error": nil}).Error
}

func MarkIdempotencyFailed(tx *gorm.DB, handlerName, messageId string, err error) error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return tx.Model(&IdempotencyKey{}).
		Where("handler_name = ? AND message_id = ?", handlerName, messageId).
		Updates(map[string]interface{}{"status": IdempotencyStatusFailed, "last_error": &msg}).Error
}
