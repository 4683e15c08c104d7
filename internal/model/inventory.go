package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Product is the catalogue item that inventory batches and case lines point to
type Product struct {
	ID          uuid.UUID       `gorm:"type:char(36);primaryKey" json:"id"`
	ProductCode string          `gorm:"type:varchar(100);uniqueIndex;not null" json:"product_code"`
	Name        string          `gorm:"type:varchar(255);not null" json:"name"`
	PrincipleID *uuid.UUID      `gorm:"type:char(36);index" json:"principle_id"`
	DPValue     decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"dp_value"`
	MRP         decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"mrp"`
	Description string          `gorm:"type:text" json:"description"`
	IsActive    bool            `gorm:"default:true" json:"is_active"`
	CreatedBy   *uuid.UUID      `gorm:"type:char(36)" json:"created_by"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	DeletedAt   gorm.DeletedAt  `gorm:"index" json:"-"`
}

func (p *Product) BeforeCreate(tx *gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

type BatchStatus string

const (
	BatchAvailable BatchStatus = "Available"
	BatchReserved  BatchStatus = "Reserved"
	BatchUsed      BatchStatus = "Used"
	BatchExpired   BatchStatus = "Expired"
	BatchDamaged   BatchStatus = "Damaged"
)

var BatchStatuses = []BatchStatus{BatchAvailable, BatchReserved, BatchUsed, BatchExpired, BatchDamaged}

func (s BatchStatus) Valid() bool {
	for _, v := range BatchStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// DefaultReturnLocation is where a batch is recreated when returned stock has nowhere else to go.
const DefaultReturnLocation = "Storage"

// ProductInventory is one stock batch of a product at a location.
// Quantity only changes through the ledger so the transaction log always explains it.
type ProductInventory struct {
	ID           uuid.UUID       `gorm:"type:char(36);primaryKey" json:"id"`
	ProductID    uuid.UUID       `gorm:"type:char(36);not null;index" json:"product_id"`
	Product      *Product        `gorm:"foreignKey:ProductID" json:"product,omitempty"`
	BatchNumber  string          `gorm:"type:varchar(50);index" json:"batch_number"`
	Location     string          `gorm:"type:varchar(100);index" json:"location"`
	Quantity     int             `gorm:"type:int;not null;default:0" json:"quantity"`
	DPValue      decimal.Decimal `gorm:"type:decimal(12,2)" json:"dp_value"`
	ExpiryDate   *time.Time      `gorm:"index" json:"expiry_date"`
	ReceivedDate *time.Time      `json:"received_date"`
	Status       BatchStatus     `gorm:"type:varchar(20);not null;default:'Available';index" json:"status"`
	UpdatedBy    *uuid.UUID      `gorm:"type:char(36)" json:"updated_by"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (pi *ProductInventory) BeforeCreate(tx *gorm.DB) error {
	ensureID(&pi.ID)
	if pi.Status == "" {
		pi.Status = BatchAvailable
	}
	return nil
}

// Consumable reports whether q units can be taken from the batch right now.
func (pi *ProductInventory) Consumable(q int) bool {
	return pi.Status == BatchAvailable && pi.Quantity >= q
}

type TransactionType string

const (
	TxInitialStock  TransactionType = "Initial Stock"
	TxStockIncrease TransactionType = "Stock Increase"
	TxStockDecrease TransactionType = "Stock Decrease"
	TxTransfer      TransactionType = "Transfer"
	TxUsed          TransactionType = "Used"
	TxExpired       TransactionType = "Expired"
	TxDamaged       TransactionType = "Damaged"
	TxReturned      TransactionType = "Returned"
	TxStatusChange  TransactionType = "Status Change"
)

// TransactionTypeForStatus is the ledger entry written when a batch moves into status.
func TransactionTypeForStatus(status BatchStatus) TransactionType {
	switch status {
	case BatchUsed:
		return TxUsed
	case BatchExpired:
		return TxExpired
	case BatchDamaged:
		return TxDamaged
	default:
		return TxStatusChange
	}
}

type ReferenceKind string

const (
	RefCase       ReferenceKind = "case"
	RefTransfer   ReferenceKind = "transfer"
	RefAdjustment ReferenceKind = "adjustment"
	RefReceipt    ReferenceKind = "receipt"
)

// Reference names the external event that drove a ledger entry. The zero value means none.
type Reference struct {
	Kind ReferenceKind `gorm:"column:reference_type;type:varchar(20);index:idx_inventory_tx_reference" json:"reference_type,omitempty"`
	ID   *uuid.UUID    `gorm:"column:reference_id;type:char(36);index:idx_inventory_tx_reference" json:"reference_id,omitempty"`
}

func CaseRef(id uuid.UUID) Reference     { return Reference{Kind: RefCase, ID: &id} }
func TransferRef(id uuid.UUID) Reference { return Reference{Kind: RefTransfer, ID: &id} }
func AdjustmentRef() Reference           { return Reference{Kind: RefAdjustment} }
func ReceiptRef() Reference              { return Reference{Kind: RefReceipt} }

func (r Reference) IsZero() bool { return r.Kind == "" }

// ProductInventoryTransaction is an append-only ledger row. QuantityDelta is signed;
// folding the deltas of one batch yields its quantity.
type ProductInventoryTransaction struct {
	ID              uuid.UUID       `gorm:"type:char(36);primaryKey" json:"id"`
	ProductID       uuid.UUID       `gorm:"type:char(36);not null;index" json:"product_id"`
	InventoryID     uuid.UUID       `gorm:"type:char(36);not null;index" json:"inventory_id"`
	TransactionType TransactionType `gorm:"type:varchar(30);not null;index" json:"transaction_type"`
	Quantity        int             `gorm:"type:int;not null" json:"quantity"`
	QuantityDelta   int             `gorm:"type:int;not null" json:"quantity_delta"`
	QuantityAfter   int             `gorm:"type:int;not null" json:"quantity_after"`
	BatchNumber     string          `gorm:"type:varchar(50)" json:"batch_number"`
	LocationFrom    string          `gorm:"type:varchar(100)" json:"location_from,omitempty"`
	LocationTo      string          `gorm:"type:varchar(100)" json:"location_to,omitempty"`
	Reference       Reference       `gorm:"embedded" json:"reference"`
	Notes           string          `gorm:"type:text" json:"notes"`
	CreatedBy       *uuid.UUID      `gorm:"type:char(36)" json:"created_by"`
	CreatedAt       time.Time       `gorm:"index" json:"created_at"`
}

func (t *ProductInventoryTransaction) BeforeCreate(tx *gorm.DB) error {
	ensureID(&t.ID)
	return nil
}
