package repository

import (
	"context"
	"time"

	"medsales/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UsageFilter struct {
	CaseID    *uuid.UUID
	ProductID *uuid.UUID
}

type UsageRepository interface {
	Create(ctx context.Context, usage *model.ProductUsage) error
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.ProductUsage, error)
	Delete(ctx context.Context, id uuid.UUID) error
	UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error
	FindUsedBetween(ctx context.Context, from, to time.Time) ([]model.ProductUsage, error)
	CountByCase(ctx context.Context, caseID uuid.UUID) (int64, error)
	List(ctx context.Context, filter UsageFilter, page, limit int) ([]model.ProductUsage, int64, error)
}

type usageRepository struct {
	db *gorm.DB
}

func NewUsageRepository(db *gorm.DB) UsageRepository {
	return &usageRepository{db: db}
}

func (r *usageRepository) Create(ctx context.Context, usage *model.ProductUsage) error {
	return GetDB(ctx, r.db).Create(usage).Error
}

func (r *usageRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.ProductUsage, error) {
	var usage model.ProductUsage
	if err := GetDB(ctx, r.db).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).First(&usage).Error; err != nil {
		return nil, err
	}
	return &usage, nil
}

func (r *usageRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return GetDB(ctx, r.db).Where("id = ?", id).Delete(&model.ProductUsage{}).Error
}

func (r *usageRepository) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error {
	return GetDB(ctx, r.db).Model(&model.ProductUsage{}).Where("id = ?", id).Updates(fields).Error
}

// FindUsedBetween returns usage with used_date in [from, to], product preloaded.
func (r *usageRepository) FindUsedBetween(ctx context.Context, from, to time.Time) ([]model.ProductUsage, error) {
	var usages []model.ProductUsage
	err := GetDB(ctx, r.db).Preload("Product").
		Where("used_date >= ? AND used_date <= ?", from, to).
		Order("used_date asc").Find(&usages).Error
	return usages, err
}

func (r *usageRepository) CountByCase(ctx context.Context, caseID uuid.UUID) (int64, error) {
	var count int64
	err := GetDB(ctx, r.db).Model(&model.ProductUsage{}).Where("case_id = ?", caseID).Count(&count).Error
	return count, err
}

func (r *usageRepository) List(ctx context.Context, filter UsageFilter, page, limit int) ([]model.ProductUsage, int64, error) {
	var usages []model.ProductUsage
	var total int64

	db := GetDB(ctx, r.db).Model(&model.ProductUsage{})
	if filter.CaseID != nil {
		db = db.Where("case_id = ?", *filter.CaseID)
	}
	if filter.ProductID != nil {
		db = db.Where("product_id = ?", *filter.ProductID)
	}
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := db.Order("used_date desc").Offset(offset).Limit(limit).Find(&usages).Error; err != nil {
		return nil, 0, err
	}
	return usages, total, nil
}
