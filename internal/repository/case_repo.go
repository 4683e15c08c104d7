package repository

import (
	"context"
	"time"

	"medsales/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CaseFilter struct {
	Status     model.CaseStatus
	HospitalID *uuid.UUID
	DoctorID   *uuid.UUID
	CreatedBy  *uuid.UUID
	From       *time.Time // surgery date, inclusive
	To         *time.Time // surgery date, exclusive
	Search     string     // case number or patient name
}

func (f CaseFilter) apply(db *gorm.DB) *gorm.DB {
	if f.Status != "" {
		db = db.Where("status = ?", f.Status)
	}
	if f.HospitalID != nil {
		db = db.Where("hospital_id = ?", *f.HospitalID)
	}
	if f.DoctorID != nil {
		db = db.Where("doctor_id = ?", *f.DoctorID)
	}
	if f.CreatedBy != nil {
		db = db.Where("created_by = ?", *f.CreatedBy)
	}
	if f.From != nil {
		db = db.Where("surgery_date >= ?", *f.From)
	}
	if f.To != nil {
		db = db.Where("surgery_date < ?", *f.To)
	}
	if f.Search != "" {
		like := "%" + lower(f.Search) + "%"
		db = db.Where("LOWER(case_number) LIKE ? OR LOWER(patient_name) LIKE ?", like, like)
	}
	return db
}

type CaseRepository interface {
	Create(ctx context.Context, c *model.Case) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Case, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Case, error)
	NumberExists(ctx context.Context, number string) (bool, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.CaseStatus) error
	UpdateTotals(ctx context.Context, c *model.Case) error
	UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error
	List(ctx context.Context, filter CaseFilter, page, limit int) ([]model.Case, int64, error)
	DeleteWithChildren(ctx context.Context, id uuid.UUID) error

	CreateProduct(ctx context.Context, cp *model.CaseProduct) error
	FindProduct(ctx context.Context, id uuid.UUID) (*model.CaseProduct, error)
	DeleteProduct(ctx context.Context, id uuid.UUID) error
	CreateNote(ctx context.Context, note *model.CaseNote) error
	ListNotes(ctx context.Context, caseID uuid.UUID) ([]model.CaseNote, error)
	CreateHistory(ctx context.Context, h *model.CaseStatusHistory) error
	ListHistory(ctx context.Context, caseID uuid.UUID) ([]model.CaseStatusHistory, error)
	CreateDocument(ctx context.Context, doc *model.CaseDocument) error
	ListDocuments(ctx context.Context, caseID uuid.UUID) ([]model.CaseDocument, error)
	CreateFollowup(ctx context.Context, f *model.CaseFollowup) error
	ListFollowups(ctx context.Context, caseID uuid.UUID) ([]model.CaseFollowup, error)
}

type caseRepository struct {
	db *gorm.DB
}

func NewCaseRepository(db *gorm.DB) CaseRepository {
	return &caseRepository{db: db}
}

func (r *caseRepository) Create(ctx context.Context, c *model.Case) error {
	return GetDB(ctx, r.db).Omit(clause.Associations).Create(c).Error
}

func (r *caseRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Case, error) {
	var c model.Case
	err := GetDB(ctx, r.db).
		Preload("Products", func(db *gorm.DB) *gorm.DB { return db.Order("created_at asc") }).
		Preload("Products.Product").
		Preload("Products.Usage").
		First(&c, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *caseRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.Case, error) {
	var c model.Case
	if err := GetDB(ctx, r.db).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *caseRepository) NumberExists(ctx context.Context, number string) (bool, error) {
	var count int64
	err := GetDB(ctx, r.db).Model(&model.Case{}).Where("case_number = ?", number).Count(&count).Error
	return count > 0, err
}

func (r *caseRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.CaseStatus) error {
	return GetDB(ctx, r.db).Model(&model.Case{}).Where("id = ?", id).Update("status", status).Error
}

func (r *caseRepository) UpdateTotals(ctx context.Context, c *model.Case) error {
	return GetDB(ctx, r.db).Model(&model.Case{}).Where("id = ?", c.ID).
		Updates(map[string]interface{}{"dp_value": c.DPValue, "selling_price": c.SellingPrice}).Error
}

func (r *caseRepository) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error {
	return GetDB(ctx, r.db).Model(&model.Case{}).Where("id = ?", id).Updates(fields).Error
}

func (r *caseRepository) List(ctx context.Context, filter CaseFilter, page, limit int) ([]model.Case, int64, error) {
	var cases []model.Case
	var total int64

	db := filter.apply(GetDB(ctx, r.db).Model(&model.Case{}))
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := db.Order("surgery_date desc").Offset(offset).Limit(limit).Find(&cases).Error; err != nil {
		return nil, 0, err
	}
	return cases, total, nil
}

// DeleteWithChildren removes the case and every row it owns. Callers run it inside a transaction.
func (r *caseRepository) DeleteWithChildren(ctx context.Context, id uuid.UUID) error {
	db := GetDB(ctx, r.db)
	children := []interface{}{
		&model.CaseNote{},
		&model.CaseStatusHistory{},
		&model.CaseDocument{},
		&model.CaseFollowup{},
		&model.ProductUsage{},
		&model.CaseProduct{},
	}
	for _, child := range children {
		if err := db.Where("case_id = ?", id).Delete(child).Error; err != nil {
			return err
		}
	}
	return db.Where("id = ?", id).Delete(&model.Case{}).Error
}

func (r *caseRepository) CreateProduct(ctx context.Context, cp *model.CaseProduct) error {
	return GetDB(ctx, r.db).Omit(clause.Associations).Create(cp).Error
}

func (r *caseRepository) FindProduct(ctx context.Context, id uuid.UUID) (*model.CaseProduct, error) {
	var cp model.CaseProduct
	if err := GetDB(ctx, r.db).Preload("Usage").First(&cp, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &cp, nil
}

func (r *caseRepository) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	return GetDB(ctx, r.db).Where("id = ?", id).Delete(&model.CaseProduct{}).Error
}

func (r *caseRepository) CreateNote(ctx context.Context, note *model.CaseNote) error {
	return GetDB(ctx, r.db).Create(note).Error
}

func (r *caseRepository) ListNotes(ctx context.Context, caseID uuid.UUID) ([]model.CaseNote, error) {
	var notes []model.CaseNote
	err := GetDB(ctx, r.db).Where("case_id = ?", caseID).Order("created_at desc").Find(&notes).Error
	return notes, err
}

func (r *caseRepository) CreateHistory(ctx context.Context, h *model.CaseStatusHistory) error {
	return GetDB(ctx, r.db).Create(h).Error
}

func (r *caseRepository) ListHistory(ctx context.Context, caseID uuid.UUID) ([]model.CaseStatusHistory, error) {
	var history []model.CaseStatusHistory
	err := GetDB(ctx, r.db).Where("case_id = ?", caseID).Order("created_at asc").Find(&history).Error
	return history, err
}

func (r *caseRepository) CreateDocument(ctx context.Context, doc *model.CaseDocument) error {
	return GetDB(ctx, r.db).Create(doc).Error
}

func (r *caseRepository) ListDocuments(ctx context.Context, caseID uuid.UUID) ([]model.CaseDocument, error) {
	var docs []model.CaseDocument
	err := GetDB(ctx, r.db).Where("case_id = ?", caseID).Order("created_at desc").Find(&docs).Error
	return docs, err
}

func (r *caseRepository) CreateFollowup(ctx context.Context, f *model.CaseFollowup) error {
	return GetDB(ctx, r.db).Create(f).Error
}

func (r *caseRepository) ListFollowups(ctx context.Context, caseID uuid.UUID) ([]model.CaseFollowup, error) {
	var followups []model.CaseFollowup
	err := GetDB(ctx, r.db).Where("case_id = ?", caseID).Order("followup_date asc").Find(&followups).Error
	return followups, err
}
