package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/MJMV25/veterinar-backend/config"
	"github.com/MJMV25/veterinar-backend/utils"
	"gorm.io/gorm"
)

// BillingEventRecord is the transactional outbox row for billing events.
// It is written in the same transaction as the state change it describes;
// the dispatcher publishes it to Pub/Sub after commit.
type BillingEventRecord struct {
	ID            int                  `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	EventTime     time.Time            `gorm:"index;not null" json:"event_time"`
	ReferenceId   int                  `json:"reference_id"`
	ReferenceType BillingReferenceType `gorm:"type:enum('INVOICE','PAYMENT')" json:"reference_type"`
	Action        BillingEventAction   `gorm:"type:enum('CREATE','UPDATE','DELETE','STATUS_CHANGE','RECONCILED')" json:"action"`
	OldObj        []byte               `gorm:"type:blob" json:"old_obj"`
	NewObj        []byte               `gorm:"type:blob" json:"new_obj"`

	// Publish metadata (publish happens after commit via dispatcher).
	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`

	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func ConvertToBillingEvent(record BillingEventRecord) config.BillingEvent {
	return config.BillingEvent{
		ID:            record.ID,
		EventTime:     record.EventTime,
		ReferenceId:   record.ReferenceId,
		ReferenceType: string(record.ReferenceType),
		Action:        string(record.Action),
		OldObj:        record.OldObj,
		NewObj:        record.NewObj,
		CorrelationId: record.CorrelationId,
	}
}

// PublishBillingEvent appends an outbox row inside the caller's transaction.
// newObj/oldObj snapshots are marshaled as-is; either may be nil.
func PublishBillingEvent(ctx context.Context, tx *gorm.DB, referenceType BillingReferenceType, referenceId int, action BillingEventAction, newObj any, oldObj any) error {
	var newBytes, oldBytes []byte
	var err error
	if newObj != nil {
		if newBytes, err = json.Marshal(newObj); err != nil {
			return err
		}
	}
	if oldObj != nil {
		if oldBytes, err = json.Marshal(oldObj); err != nil {
			return err
		}
	}

	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)

	record := BillingEventRecord{
		EventTime:     time.Now().UTC(),
		ReferenceId:   referenceId,
		ReferenceType: referenceType,
		Action:        action,
		OldObj:        oldBytes,
		NewObj:        newBytes,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationId,
	}
	return tx.Create(&record).Error
}
