package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/MJMV25/veterinar-backend/config"
	"github.com/MJMV25/veterinar-backend/models"
	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const overdueSweepLockKey = "billing:overdue-sweep"

// OverdueSweeper periodically flags Sent invoices whose due date has passed.
// Selection happens outside any lock; each candidate is re-checked under its
// own posting lock, so a concurrent payment that settles the invoice between
// selection and marking wins. One invoice failing never aborts the sweep.
type OverdueSweeper struct {
	DB       *gorm.DB
	Logger   *logrus.Logger
	Interval time.Duration

	// Now is swappable for tests.
	Now func() time.Time

	// selectIds and mark default to the DB-backed implementations; tests
	// install in-memory fakes.
	selectIds func(ctx context.Context, now time.Time) ([]int, error)
	mark      func(ctx context.Context, invoiceId int, now time.Time) (bool, error)
}

func NewOverdueSweeper(db *gorm.DB, logger *logrus.Logger) *OverdueSweeper {
	return &OverdueSweeper{
		DB:        db,
		Logger:    logger,
		Interval:  24 * time.Hour,
		Now:       func() time.Time { return time.Now().UTC() },
		selectIds: models.OverdueInvoiceIds,
		mark:      models.MarkInvoiceOverdue,
	}
}

func (s *OverdueSweeper) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		s.sweepWithLeadership(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.Interval):
		}
	}
}

// sweepWithLeadership takes a best-effort distributed lock so only one
// instance runs the sweep per cycle. Losing the election is silent; a
// missing Redis client degrades to every instance sweeping, which is safe
// because marking is idempotent.
func (s *OverdueSweeper) sweepWithLeadership(ctx context.Context) {
	if locker := config.GetRedisLock(); locker != nil {
		lock, err := locker.Obtain(ctx, overdueSweepLockKey, 10*time.Minute, nil)
		if err != nil {
			if !errors.Is(err, redislock.ErrNotObtained) && s.Logger != nil {
				s.Logger.WithField("field", "OverdueSweeper").Warn("sweep leadership lock error: " + err.Error())
			}
			return
		}
		defer lock.Release(ctx)
	}

	count, err := s.SweepOnce(ctx)
	if s.Logger != nil {
		entry := s.Logger.WithFields(logrus.Fields{
			"field":          "OverdueSweeper",
			"marked_overdue": count,
		})
		if err != nil {
			entry.Error("overdue sweep finished with errors: " + err.Error())
		} else {
			entry.Info("overdue sweep finished")
		}
	}
}

// SweepOnce marks every qualifying invoice Overdue and returns how many
// flipped. Failures are collected per invoice; the last one is returned after
// the full list has been attempted.
func (s *OverdueSweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.Now()
	ids, err := s.selectIds(ctx, now)
	if err != nil {
		return 0, err
	}

	var marked int
	var lastErr error
	for _, id := range ids {
		ok, err := s.mark(ctx, id, now)
		if err != nil {
			lastErr = err
			if s.Logger != nil {
				s.Logger.WithFields(logrus.Fields{
					"field":      "OverdueSweeper",
					"invoice_id": id,
				}).Error("failed to mark invoice overdue: " + err.Error())
			}
			continue
		}
		if ok {
			marked++
		}
	}
	return marked, lastErr
}
