package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type CaseStatus string

const (
	CaseStatusPending   CaseStatus = "Pending"
	CaseStatusActive    CaseStatus = "Active"
	CaseStatusCompleted CaseStatus = "Completed"
	CaseStatusCancelled CaseStatus = "Cancelled"
)

var caseTransitions = map[CaseStatus][]CaseStatus{
	CaseStatusPending: {CaseStatusActive, CaseStatusCancelled},
	CaseStatusActive:  {CaseStatusCompleted, CaseStatusCancelled},
}

func (s CaseStatus) Valid() bool {
	switch s {
	case CaseStatusPending, CaseStatusActive, CaseStatusCompleted, CaseStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s CaseStatus) CanTransitionTo(next CaseStatus) bool {
	for _, v := range caseTransitions[s] {
		if v == next {
			return true
		}
	}
	return false
}

// Case is a surgical case. Hospital, doctor, principle and category are owned by other services
// and only referenced by id here.
type Case struct {
	ID            uuid.UUID       `gorm:"type:char(36);primaryKey" json:"id"`
	CaseNumber    string          `gorm:"type:varchar(30);uniqueIndex;not null" json:"case_number"`
	PatientName   string          `gorm:"type:varchar(100);not null" json:"patient_name"`
	PatientAge    *int            `json:"patient_age,omitempty"`
	PatientGender string          `gorm:"type:varchar(10)" json:"patient_gender,omitempty"`
	SurgeryDate   time.Time       `gorm:"not null" json:"surgery_date"`
	HospitalID    uuid.UUID       `gorm:"type:char(36);not null;index" json:"hospital_id"`
	DoctorID      uuid.UUID       `gorm:"type:char(36);not null;index" json:"doctor_id"`
	PrincipleID   uuid.UUID       `gorm:"type:char(36);not null;index" json:"principle_id"`
	CategoryID    uuid.UUID       `gorm:"type:char(36);not null;index" json:"category_id"`
	SubcategoryID *uuid.UUID      `gorm:"type:char(36)" json:"subcategory_id,omitempty"`
	DPValue       decimal.Decimal `gorm:"type:decimal(12,2)" json:"dp_value"`
	SellingPrice  decimal.Decimal `gorm:"type:decimal(12,2)" json:"selling_price"`
	Status        CaseStatus      `gorm:"type:varchar(20);not null;default:'Pending';index" json:"status"`
	Notes         string          `gorm:"type:text" json:"notes,omitempty"`
	CreatedBy     *uuid.UUID      `gorm:"type:char(36)" json:"created_by"`
	Products      []CaseProduct   `gorm:"foreignKey:CaseID" json:"products,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (c *Case) BeforeCreate(tx *gorm.DB) error {
	ensureID(&c.ID)
	if c.Status == "" {
		c.Status = CaseStatusPending
	}
	return nil
}

func (c *Case) Profit() decimal.Decimal {
	if c.SellingPrice.IsZero() || c.DPValue.IsZero() {
		return decimal.Zero
	}
	return c.SellingPrice.Sub(c.DPValue)
}

// CaseProduct is one product line of a case. Lines taken from inventory carry the consumed batch.
type CaseProduct struct {
	ID                uuid.UUID       `gorm:"type:char(36);primaryKey" json:"id"`
	CaseID            uuid.UUID       `gorm:"type:char(36);not null;index" json:"case_id"`
	ProductID         uuid.UUID       `gorm:"type:char(36);not null;index" json:"product_id"`
	Product           *Product        `gorm:"foreignKey:ProductID" json:"product,omitempty"`
	Quantity          int             `gorm:"type:int;not null" json:"quantity"`
	UnitPrice         decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"unit_price"`
	DPValue           decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"dp_value"`
	TotalAmount       decimal.Decimal `gorm:"type:decimal(14,2)" json:"total_amount"`
	BatchNumber       string          `gorm:"type:varchar(50)" json:"batch_number,omitempty"`
	UsedFromInventory bool            `json:"used_from_inventory"`
	InventoryID       *uuid.UUID      `gorm:"type:char(36)" json:"inventory_id,omitempty"`
	Usage             *ProductUsage   `gorm:"foreignKey:CaseProductID" json:"usage,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (cp *CaseProduct) BeforeCreate(tx *gorm.DB) error {
	ensureID(&cp.ID)
	cp.TotalAmount = cp.UnitPrice.Mul(decimal.NewFromInt(int64(cp.Quantity)))
	return nil
}

func (cp *CaseProduct) Profit() decimal.Decimal {
	return cp.UnitPrice.Sub(cp.DPValue).Mul(decimal.NewFromInt(int64(cp.Quantity)))
}

// ProductUsage records stock consumed by a case. It keeps enough of the batch to recreate it on reversal.
type ProductUsage struct {
	ID            uuid.UUID       `gorm:"type:char(36);primaryKey" json:"id"`
	ProductID     uuid.UUID       `gorm:"type:char(36);not null;index" json:"product_id"`
	Product       *Product        `gorm:"foreignKey:ProductID" json:"product,omitempty"`
	CaseID        uuid.UUID       `gorm:"type:char(36);not null;index" json:"case_id"`
	CaseProductID *uuid.UUID      `gorm:"type:char(36);index" json:"case_product_id"`
	InventoryID   *uuid.UUID      `gorm:"type:char(36);index" json:"inventory_id"`
	Quantity      int             `gorm:"type:int;not null" json:"quantity"`
	BatchNumber   string          `gorm:"type:varchar(50)" json:"batch_number"`
	Location      string          `gorm:"type:varchar(100)" json:"location"`
	ExpiryDate    *time.Time      `json:"expiry_date,omitempty"`
	UsedDate      time.Time       `gorm:"not null;index" json:"used_date"`
	DPValue       decimal.Decimal `gorm:"type:decimal(12,2)" json:"dp_value"`
	SellingPrice  decimal.Decimal `gorm:"type:decimal(12,2)" json:"selling_price"`
	Notes         string          `gorm:"type:text" json:"notes,omitempty"`
	CreatedBy     *uuid.UUID      `gorm:"type:char(36)" json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (u *ProductUsage) BeforeCreate(tx *gorm.DB) error {
	ensureID(&u.ID)
	return nil
}

type CaseNote struct {
	ID        uuid.UUID  `gorm:"type:char(36);primaryKey" json:"id"`
	CaseID    uuid.UUID  `gorm:"type:char(36);not null;index" json:"case_id"`
	NoteText  string     `gorm:"type:text;not null" json:"note_text"`
	CreatedBy *uuid.UUID `gorm:"type:char(36)" json:"created_by"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (n *CaseNote) BeforeCreate(tx *gorm.DB) error {
	ensureID(&n.ID)
	return nil
}

// CaseStatusHistory logs every status change. PreviousStatus is empty for the creation entry.
type CaseStatusHistory struct {
	ID             uuid.UUID  `gorm:"type:char(36);primaryKey" json:"id"`
	CaseID         uuid.UUID  `gorm:"type:char(36);not null;index" json:"case_id"`
	PreviousStatus CaseStatus `gorm:"type:varchar(20)" json:"previous_status,omitempty"`
	NewStatus      CaseStatus `gorm:"type:varchar(20);not null" json:"new_status"`
	Notes          string     `gorm:"type:text" json:"notes,omitempty"`
	ChangedBy      *uuid.UUID `gorm:"type:char(36)" json:"changed_by"`
	CreatedAt      time.Time  `gorm:"index" json:"created_at"`
}

func (h *CaseStatusHistory) BeforeCreate(tx *gorm.DB) error {
	ensureID(&h.ID)
	return nil
}

type CaseDocument struct {
	ID           uuid.UUID  `gorm:"type:char(36);primaryKey" json:"id"`
	CaseID       uuid.UUID  `gorm:"type:char(36);not null;index" json:"case_id"`
	DocumentName string     `gorm:"type:varchar(255);not null" json:"document_name"`
	DocumentType string     `gorm:"type:varchar(100)" json:"document_type,omitempty"`
	FilePath     string     `gorm:"type:varchar(500);not null" json:"file_path"`
	UploadedBy   *uuid.UUID `gorm:"type:char(36)" json:"uploaded_by"`
	CreatedAt    time.Time  `json:"created_at"`
}

func (d *CaseDocument) BeforeCreate(tx *gorm.DB) error {
	ensureID(&d.ID)
	return nil
}

type FollowupStatus string

const (
	FollowupPending   FollowupStatus = "Pending"
	FollowupCompleted FollowupStatus = "Completed"
	FollowupCancelled FollowupStatus = "Cancelled"
)

type CaseFollowup struct {
	ID           uuid.UUID      `gorm:"type:char(36);primaryKey" json:"id"`
	CaseID       uuid.UUID      `gorm:"type:char(36);not null;index" json:"case_id"`
	FollowupDate time.Time      `gorm:"not null;index" json:"followup_date"`
	Description  string         `gorm:"type:text" json:"description"`
	Status       FollowupStatus `gorm:"type:varchar(20);not null;default:'Pending';index" json:"status"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	CompletedBy  *uuid.UUID     `gorm:"type:char(36)" json:"completed_by,omitempty"`
	CreatedBy    *uuid.UUID     `gorm:"type:char(36)" json:"created_by"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (f *CaseFollowup) BeforeCreate(tx *gorm.DB) error {
	ensureID(&f.ID)
	if f.Status == "" {
		f.Status = FollowupPending
	}
	return nil
}
