package service

import (
	"context"
	"errors"
	"time"

	"medsales/internal/metrics"
	"medsales/internal/model"
	"medsales/internal/repository"
	"medsales/pkg/apperr"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Movement describes one change to a batch. Delta is signed; zero means the quantity is untouched.
type Movement struct {
	Type         model.TransactionType
	Delta        int
	Status       model.BatchStatus // optional new status
	LocationFrom string
	LocationTo   string
	Reference    model.Reference
	Notes        string
	Actor        uuid.UUID
}

// Ledger is the only path that changes batch quantity or status. Each call mutates one
// batch and appends exactly one transaction row, inside the caller's database transaction.
type Ledger struct {
	batches repository.InventoryRepository
	txs     repository.InventoryTxRepository
	metrics *metrics.Metrics
}

func NewLedger(batches repository.InventoryRepository, txs repository.InventoryTxRepository, m *metrics.Metrics) *Ledger {
	return &Ledger{batches: batches, txs: txs, metrics: m}
}

var errOutsideTx = errors.New("ledger movement outside a transaction")

// Apply mutates a batch that the caller has locked with a ...ForUpdate lookup.
func (l *Ledger) Apply(ctx context.Context, batch *model.ProductInventory, m Movement) (*model.ProductInventoryTransaction, error) {
	if !repository.InTx(ctx) {
		return nil, apperr.Infrastructure(errOutsideTx, "failed to update inventory")
	}

	after := batch.Quantity + m.Delta
	if after < 0 {
		return nil, apperr.InsufficientInventory(
			"Insufficient quantity in batch %s. Available: %d, requested: %d",
			batch.BatchNumber, batch.Quantity, -m.Delta)
	}

	batch.Quantity = after
	switch {
	case m.Status != "":
		batch.Status = m.Status
	case m.Delta < 0 && after == 0:
		batch.Status = model.BatchUsed
	case m.Delta > 0 && batch.Status == model.BatchUsed:
		batch.Status = model.BatchAvailable
	}
	if m.LocationTo != "" && m.Delta == 0 {
		// whole-batch relocation
		batch.Location = m.LocationTo
	}
	batch.UpdatedBy = actorPtr(m.Actor)

	if err := l.batches.Save(ctx, batch); err != nil {
		return nil, dbError(err, "", "update inventory batch")
	}
	return l.record(ctx, batch, m)
}

// Open creates a new batch holding m.Delta units and records its first ledger row.
func (l *Ledger) Open(ctx context.Context, batch *model.ProductInventory, m Movement) (*model.ProductInventoryTransaction, error) {
	if !repository.InTx(ctx) {
		return nil, apperr.Infrastructure(errOutsideTx, "failed to create inventory batch")
	}
	if m.Delta <= 0 {
		return nil, apperr.Validation("Quantity must be greater than zero")
	}

	batch.Quantity = m.Delta
	if batch.Status == "" {
		batch.Status = model.BatchAvailable
	}
	if batch.ReceivedDate == nil {
		now := time.Now().UTC()
		batch.ReceivedDate = &now
	}
	batch.UpdatedBy = actorPtr(m.Actor)

	if err := l.batches.Create(ctx, batch); err != nil {
		return nil, dbError(err, "", "create inventory batch")
	}
	return l.record(ctx, batch, m)
}

func (l *Ledger) record(ctx context.Context, batch *model.ProductInventory, m Movement) (*model.ProductInventoryTransaction, error) {
	quantity := m.Delta
	if quantity < 0 {
		quantity = -quantity
	}
	if quantity == 0 {
		// status changes and relocations cover the whole batch
		quantity = batch.Quantity
	}

	entry := &model.ProductInventoryTransaction{
		ProductID:       batch.ProductID,
		InventoryID:     batch.ID,
		TransactionType: m.Type,
		Quantity:        quantity,
		QuantityDelta:   m.Delta,
		QuantityAfter:   batch.Quantity,
		BatchNumber:     batch.BatchNumber,
		LocationFrom:    m.LocationFrom,
		LocationTo:      m.LocationTo,
		Reference:       m.Reference,
		Notes:           m.Notes,
		CreatedBy:       actorPtr(m.Actor),
	}
	if err := l.txs.Create(ctx, entry); err != nil {
		return nil, dbError(err, "", "record inventory transaction")
	}
	l.metrics.LedgerEntry(string(m.Type), quantity)
	return entry, nil
}

// Consume takes quantity units of product for usage. A named batch must be Available and
// large enough; otherwise the Available batch with the earliest expiry that can cover the
// quantity is used.
func (l *Ledger) Consume(ctx context.Context, product *model.Product, quantity int, batchNumber string, ref model.Reference, actor uuid.UUID, notes string) (*model.ProductInventory, *model.ProductInventoryTransaction, error) {
	if quantity <= 0 {
		return nil, nil, apperr.Validation("Quantity for %s must be greater than zero", product.Name)
	}

	var (
		batch *model.ProductInventory
		err   error
	)
	if batchNumber != "" {
		batch, err = l.batches.FindBatchForUpdate(ctx, product.ID, batchNumber)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, apperr.NotFound("Batch %s not found for product %s", batchNumber, product.Name)
		}
		if err != nil {
			return nil, nil, dbError(err, "", "lock inventory batch")
		}
		if batch.Status != model.BatchAvailable {
			return nil, nil, apperr.InsufficientInventory("Batch %s of %s is not available (status %s)", batchNumber, product.Name, batch.Status)
		}
		if batch.Quantity < quantity {
			return nil, nil, apperr.InsufficientInventory(
				"Insufficient quantity in batch %s for %s. Available: %d, requested: %d",
				batchNumber, product.Name, batch.Quantity, quantity)
		}
	} else {
		batch, err = l.batches.FindFIFOForUpdate(ctx, product.ID, quantity)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, apperr.NoAvailableInventory("No available inventory for %s with quantity %d", product.Name, quantity)
		}
		if err != nil {
			return nil, nil, dbError(err, "", "lock inventory batch")
		}
	}

	entry, err := l.Apply(ctx, batch, Movement{
		Type:         model.TxUsed,
		Delta:        -quantity,
		LocationFrom: batch.Location,
		Reference:    ref,
		Notes:        notes,
		Actor:        actor,
	})
	if err != nil {
		return nil, nil, err
	}
	return batch, entry, nil
}
