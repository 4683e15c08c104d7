package repository

import (
	"context"
	"time"

	"medsales/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InventoryFilter narrows batch listings. Zero fields are ignored.
type InventoryFilter struct {
	ProductID      *uuid.UUID
	Status         model.BatchStatus
	Location       string
	BatchNumber    string
	ExpiringBefore *time.Time
}

func (f InventoryFilter) apply(db *gorm.DB) *gorm.DB {
	if f.ProductID != nil {
		db = db.Where("product_id = ?", *f.ProductID)
	}
	if f.Status != "" {
		db = db.Where("status = ?", f.Status)
	}
	if f.Location != "" {
		db = db.Where("location = ?", f.Location)
	}
	if f.BatchNumber != "" {
		db = db.Where("batch_number = ?", f.BatchNumber)
	}
	if f.ExpiringBefore != nil {
		db = db.Where("expiry_date IS NOT NULL AND expiry_date < ?", *f.ExpiringBefore)
	}
	return db
}

// expiry ascending with undated batches last, identical on every dialect
const fifoOrder = "CASE WHEN expiry_date IS NULL THEN 1 ELSE 0 END, expiry_date ASC, created_at ASC"

type InventoryRepository interface {
	Create(ctx context.Context, batch *model.ProductInventory) error
	Save(ctx context.Context, batch *model.ProductInventory) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.ProductInventory, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.ProductInventory, error)
	FindBatchForUpdate(ctx context.Context, productID uuid.UUID, batchNumber string) (*model.ProductInventory, error)
	FindBatchAtLocationForUpdate(ctx context.Context, productID uuid.UUID, batchNumber, location string) (*model.ProductInventory, error)
	FindFIFOForUpdate(ctx context.Context, productID uuid.UUID, quantity int) (*model.ProductInventory, error)
	List(ctx context.Context, filter InventoryFilter, page, limit int) ([]model.ProductInventory, int64, error)
	ListAll(ctx context.Context, filter InventoryFilter) ([]model.ProductInventory, error)
}

type inventoryRepository struct {
	db *gorm.DB
}

func NewInventoryRepository(db *gorm.DB) InventoryRepository {
	return &inventoryRepository{db: db}
}

func (r *inventoryRepository) Create(ctx context.Context, batch *model.ProductInventory) error {
	return GetDB(ctx, r.db).Omit("Product").Create(batch).Error
}

func (r *inventoryRepository) Save(ctx context.Context, batch *model.ProductInventory) error {
	return GetDB(ctx, r.db).Omit("Product").Save(batch).Error
}

func (r *inventoryRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.ProductInventory, error) {
	var batch model.ProductInventory
	if err := GetDB(ctx, r.db).Preload("Product").First(&batch, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &batch, nil
}

func (r *inventoryRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.ProductInventory, error) {
	var batch model.ProductInventory
	if err := GetDB(ctx, r.db).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).First(&batch).Error; err != nil {
		return nil, err
	}
	return &batch, nil
}

// FindBatchForUpdate locks the named batch of a product, preferring an Available row when
// the same batch number is held at several locations.
func (r *inventoryRepository) FindBatchForUpdate(ctx context.Context, productID uuid.UUID, batchNumber string) (*model.ProductInventory, error) {
	var batch model.ProductInventory
	err := GetDB(ctx, r.db).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("product_id = ? AND batch_number = ?", productID, batchNumber).
		Order("CASE WHEN status = 'Available' THEN 0 ELSE 1 END, quantity DESC").
		First(&batch).Error
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func (r *inventoryRepository) FindBatchAtLocationForUpdate(ctx context.Context, productID uuid.UUID, batchNumber, location string) (*model.ProductInventory, error) {
	var batch model.ProductInventory
	err := GetDB(ctx, r.db).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("product_id = ? AND batch_number = ? AND location = ?", productID, batchNumber, location).
		First(&batch).Error
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

// FindFIFOForUpdate locks the Available batch with the earliest expiry that can cover quantity.
func (r *inventoryRepository) FindFIFOForUpdate(ctx context.Context, productID uuid.UUID, quantity int) (*model.ProductInventory, error) {
	var batch model.ProductInventory
	err := GetDB(ctx, r.db).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("product_id = ? AND status = ? AND quantity >= ?", productID, model.BatchAvailable, quantity).
		Order(fifoOrder).
		First(&batch).Error
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func (r *inventoryRepository) List(ctx context.Context, filter InventoryFilter, page, limit int) ([]model.ProductInventory, int64, error) {
	var batches []model.ProductInventory
	var total int64

	db := filter.apply(GetDB(ctx, r.db).Model(&model.ProductInventory{}))
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := db.Preload("Product").Order(fifoOrder).Offset(offset).Limit(limit).Find(&batches).Error; err != nil {
		return nil, 0, err
	}
	return batches, total, nil
}

func (r *inventoryRepository) ListAll(ctx context.Context, filter InventoryFilter) ([]model.ProductInventory, error) {
	var batches []model.ProductInventory
	err := filter.apply(GetDB(ctx, r.db).Model(&model.ProductInventory{})).
		Preload("Product").Order(fifoOrder).Find(&batches).Error
	return batches, err
}
