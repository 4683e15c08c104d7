package service

import (
	"context"
	"fmt"
	"time"

	"medsales/internal/model"
	"medsales/internal/repository"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ExpirySweeper marks batches whose expiry date has passed as Expired. Each batch goes through the
// ledger so the status change is a recorded movement.
type ExpirySweeper struct {
	batchRepo repository.InventoryRepository
	auditRepo repository.AuditRepository
	txManager repository.TransactionManager
	ledger    *Ledger
	events    EventPublisher
	cron      *cron.Cron
	logger    *logrus.Logger
	now       func() time.Time
	isRunning bool
}

func NewExpirySweeper(
	batchRepo repository.InventoryRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	ledger *Ledger,
	events EventPublisher,
	logger *logrus.Logger,
) *ExpirySweeper {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ExpirySweeper{
		batchRepo: batchRepo,
		auditRepo: auditRepo,
		txManager: txManager,
		ledger:    ledger,
		events:    publisherOrNop(events),
		cron:      cron.New(),
		logger:    logger,
		now:       time.Now,
	}
}

// Start schedules the sweep. An empty spec leaves the sweeper idle.
func (s *ExpirySweeper) Start(spec string) error {
	if s.isRunning {
		return fmt.Errorf("expiry sweeper already running")
	}
	if spec == "" {
		s.logger.Info("expiry sweep disabled")
		return nil
	}
	if _, err := s.cron.AddFunc(spec, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			s.logger.WithError(err).Error("expiry sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid expiry sweep schedule %q: %w", spec, err)
	}
	s.cron.Start()
	s.isRunning = true
	s.logger.WithField("schedule", spec).Info("expiry sweeper started")
	return nil
}

// Stop waits for a running sweep to finish.
func (s *ExpirySweeper) Stop() {
	if !s.isRunning {
		return
	}
	<-s.cron.Stop().Done()
	s.isRunning = false
	s.logger.Info("expiry sweeper stopped")
}

// Sweep expires every stocked batch past its expiry date and returns how many were changed.
// Batches are handled in one transaction so a failure leaves nothing half applied.
func (s *ExpirySweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	candidates, err := s.batchRepo.ListAll(ctx, repository.InventoryFilter{ExpiringBefore: &now})
	if err != nil {
		return 0, dbError(err, "", "list expiring batches")
	}

	var expired []BatchResponse
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		expired = expired[:0]
		var ids []string
		for _, c := range candidates {
			if c.Status != model.BatchAvailable && c.Status != model.BatchReserved {
				continue
			}
			batch, err := s.batchRepo.FindByIDForUpdate(txCtx, c.ID)
			if err != nil {
				return dbError(err, "", "lock inventory batch")
			}
			if batch.Status != model.BatchAvailable && batch.Status != model.BatchReserved ||
				batch.ExpiryDate == nil || !batch.ExpiryDate.Before(now) {
				continue
			}
			if _, err := s.ledger.Apply(txCtx, batch, Movement{
				Type:   model.TxExpired,
				Status: model.BatchExpired,
				Notes:  fmt.Sprintf("Expired on %s", batch.ExpiryDate.Format("2006-01-02")),
			}); err != nil {
				return err
			}
			expired = append(expired, toBatchResponse(*batch))
			ids = append(ids, batch.ID.String())
		}
		if len(ids) == 0 {
			return nil
		}
		return writeAudit(txCtx, s.auditRepo, uuid.Nil, model.AuditExpireBatches, "", "expiry sweep", map[string]interface{}{
			"inventory_ids": ids,
			"count":         len(ids),
		})
	})
	if err != nil {
		return 0, err
	}

	if len(expired) > 0 {
		s.logger.WithField("count", len(expired)).Info("expired inventory batches")
		s.events.Publish(EventInventoryUpdated, expired)
	}
	return len(expired), nil
}
