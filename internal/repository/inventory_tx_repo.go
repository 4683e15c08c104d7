package repository

import (
	"context"
	"time"

	"medsales/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TransactionFilter narrows ledger queries. Zero fields are ignored.
type TransactionFilter struct {
	ProductID   *uuid.UUID
	InventoryID *uuid.UUID
	Type        model.TransactionType
	Reference   model.Reference
	From        *time.Time
	To          *time.Time
}

func (f TransactionFilter) apply(db *gorm.DB) *gorm.DB {
	if f.ProductID != nil {
		db = db.Where("product_id = ?", *f.ProductID)
	}
	if f.InventoryID != nil {
		db = db.Where("inventory_id = ?", *f.InventoryID)
	}
	if f.Type != "" {
		db = db.Where("transaction_type = ?", f.Type)
	}
	if f.Reference.Kind != "" {
		db = db.Where("reference_type = ?", f.Reference.Kind)
	}
	if f.Reference.ID != nil {
		db = db.Where("reference_id = ?", *f.Reference.ID)
	}
	if f.From != nil {
		db = db.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		db = db.Where("created_at < ?", *f.To)
	}
	return db
}

// InventoryTxRepository is append-only: there is no update or delete.
type InventoryTxRepository interface {
	Create(ctx context.Context, tx *model.ProductInventoryTransaction) error
	List(ctx context.Context, filter TransactionFilter, page, limit int) ([]model.ProductInventoryTransaction, int64, error)
	ListAll(ctx context.Context, filter TransactionFilter) ([]model.ProductInventoryTransaction, error)
	SumDelta(ctx context.Context, inventoryID uuid.UUID) (int64, error)
}

type inventoryTxRepository struct {
	db *gorm.DB
}

func NewInventoryTxRepository(db *gorm.DB) InventoryTxRepository {
	return &inventoryTxRepository{db: db}
}

func (r *inventoryTxRepository) Create(ctx context.Context, tx *model.ProductInventoryTransaction) error {
	return GetDB(ctx, r.db).Create(tx).Error
}

func (r *inventoryTxRepository) List(ctx context.Context, filter TransactionFilter, page, limit int) ([]model.ProductInventoryTransaction, int64, error) {
	var txs []model.ProductInventoryTransaction
	var total int64

	db := filter.apply(GetDB(ctx, r.db).Model(&model.ProductInventoryTransaction{}))
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := db.Order("created_at desc").Offset(offset).Limit(limit).Find(&txs).Error; err != nil {
		return nil, 0, err
	}
	return txs, total, nil
}

func (r *inventoryTxRepository) ListAll(ctx context.Context, filter TransactionFilter) ([]model.ProductInventoryTransaction, error) {
	var txs []model.ProductInventoryTransaction
	err := filter.apply(GetDB(ctx, r.db).Model(&model.ProductInventoryTransaction{})).
		Order("created_at asc").Find(&txs).Error
	return txs, err
}

// SumDelta folds the ledger of one batch; it equals the batch quantity when the ledger is intact.
func (r *inventoryTxRepository) SumDelta(ctx context.Context, inventoryID uuid.UUID) (int64, error) {
	var sum int64
	err := GetDB(ctx, r.db).Model(&model.ProductInventoryTransaction{}).
		Where("inventory_id = ?", inventoryID).
		Select("COALESCE(SUM(quantity_delta), 0)").
		Scan(&sum).Error
	return sum, err
}
