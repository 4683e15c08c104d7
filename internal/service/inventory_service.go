package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"medsales/internal/model"
	"medsales/internal/report"
	"medsales/internal/repository"
	"medsales/pkg/apperr"
	"medsales/pkg/pagination"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DTOs
type CreateProductRequest struct {
	ProductCode string          `json:"product_code" binding:"required,max=100"`
	Name        string          `json:"name" binding:"required"`
	PrincipleID string          `json:"principle_id" binding:"omitempty,uuid"`
	DPValue     decimal.Decimal `json:"dp_value"`
	MRP         decimal.Decimal `json:"mrp"`
	Description string          `json:"description"`
}

type AddInventoryRequest struct {
	ProductID    string           `json:"product_id" binding:"required,uuid"`
	BatchNumber  string           `json:"batch_number" binding:"required,max=50"`
	Location     string           `json:"location" binding:"required,max=100"`
	Quantity     int              `json:"quantity" binding:"required,gt=0"`
	DPValue      *decimal.Decimal `json:"dp_value"`
	ExpiryDate   *time.Time       `json:"expiry_date"`
	ReceivedDate *time.Time       `json:"received_date"`
	Notes        string           `json:"notes"`
}

type StockChangeRequest struct {
	Quantity int    `json:"quantity" binding:"required,gt=0"`
	Notes    string `json:"notes"`
}

type SetQuantityRequest struct {
	Quantity *int   `json:"quantity" binding:"required,gte=0"`
	Notes    string `json:"notes"`
}

// TransferRequest moves the whole batch when Quantity is zero or equal to the batch quantity.
type TransferRequest struct {
	ToLocation string `json:"to_location" binding:"required,max=100"`
	Quantity   int    `json:"quantity" binding:"gte=0"`
	Notes      string `json:"notes"`
}

type ChangeStatusRequest struct {
	Status string `json:"status" binding:"required,batch_status"`
	Notes  string `json:"notes"`
}

type ConsumeRequest struct {
	ProductID   string `json:"product_id" binding:"required,uuid"`
	Quantity    int    `json:"quantity" binding:"required,gt=0"`
	BatchNumber string `json:"batch_number"`
	Notes       string `json:"notes"`
}

type BatchListRequest struct {
	ProductID          string `form:"product_id"`
	Status             string `form:"status"`
	Location           string `form:"location"`
	BatchNumber        string `form:"batch_number"`
	ExpiringWithinDays int    `form:"expiring_within_days"`
	Page               int    `form:"page"`
	Limit              int    `form:"limit"`
}

type TransactionListRequest struct {
	ProductID     string     `form:"product_id"`
	InventoryID   string     `form:"inventory_id"`
	Type          string     `form:"transaction_type"`
	ReferenceType string     `form:"reference_type"`
	ReferenceID   string     `form:"reference_id"`
	From          *time.Time `form:"from" time_format:"2006-01-02"`
	To            *time.Time `form:"to" time_format:"2006-01-02"`
	Page          int        `form:"page"`
	Limit         int        `form:"limit"`
}

type ProductResponse struct {
	ID          string          `json:"id"`
	ProductCode string          `json:"product_code"`
	Name        string          `json:"name"`
	PrincipleID *string         `json:"principle_id"`
	DPValue     decimal.Decimal `json:"dp_value"`
	MRP         decimal.Decimal `json:"mrp"`
	Description string          `json:"description"`
	IsActive    bool            `json:"is_active"`
}

type BatchResponse struct {
	ID           string          `json:"id"`
	ProductID    string          `json:"product_id"`
	ProductName  string          `json:"product_name,omitempty"`
	BatchNumber  string          `json:"batch_number"`
	Location     string          `json:"location"`
	Quantity     int             `json:"quantity"`
	DPValue      decimal.Decimal `json:"dp_value"`
	ExpiryDate   *time.Time      `json:"expiry_date"`
	ReceivedDate *time.Time      `json:"received_date"`
	Status       string          `json:"status"`
}

// MovementResponse echoes the batch after a mutation together with the ledger row it produced.
type MovementResponse struct {
	Batch       BatchResponse                       `json:"batch"`
	Transaction *model.ProductInventoryTransaction  `json:"transaction"`
	Related     []model.ProductInventoryTransaction `json:"related,omitempty"`
}

type InventorySummary struct {
	ProductID      string          `json:"product_id"`
	ProductName    string          `json:"product_name"`
	ProductCode    string          `json:"product_code"`
	TotalQuantity  int             `json:"total_quantity"`
	BatchCount     int             `json:"batch_count"`
	EarliestExpiry *time.Time      `json:"earliest_expiry"`
	ExpiryStatus   string          `json:"expiry_status"`
	InventoryValue decimal.Decimal `json:"inventory_value"`
}

const (
	ExpiryWarning  = "Warning"
	ExpiryMonitor  = "Monitor"
	ExpiryGood     = "Good"
	ExpiryNoExpiry = "No Expiry"

	warningWindow = 90 * 24 * time.Hour
	monitorWindow = 180 * 24 * time.Hour
)

// ExpiryStatusAt classifies the earliest expiry date of a product's stock.
func ExpiryStatusAt(earliest *time.Time, now time.Time) string {
	switch {
	case earliest == nil:
		return ExpiryNoExpiry
	case earliest.Before(now.Add(warningWindow)):
		return ExpiryWarning
	case earliest.Before(now.Add(monitorWindow)):
		return ExpiryMonitor
	default:
		return ExpiryGood
	}
}

// Websocket payload
const EventInventoryUpdated = "inventory_updated"

type InventoryService interface {
	CreateProduct(ctx context.Context, actor uuid.UUID, req CreateProductRequest) (*ProductResponse, error)
	GetProduct(ctx context.Context, id string) (*ProductResponse, error)
	ListProducts(ctx context.Context, page, limit int, search string) ([]ProductResponse, int64, error)

	AddInventory(ctx context.Context, actor uuid.UUID, req AddInventoryRequest) (*MovementResponse, error)
	GetBatch(ctx context.Context, id string) (*BatchResponse, error)
	IncreaseStock(ctx context.Context, actor uuid.UUID, id string, req StockChangeRequest) (*MovementResponse, error)
	DecreaseStock(ctx context.Context, actor uuid.UUID, id string, req StockChangeRequest) (*MovementResponse, error)
	AdjustQuantity(ctx context.Context, actor uuid.UUID, id string, req SetQuantityRequest) (*MovementResponse, error)
	Transfer(ctx context.Context, actor uuid.UUID, id string, req TransferRequest) (*MovementResponse, error)
	ChangeStatus(ctx context.Context, actor uuid.UUID, id string, req ChangeStatusRequest) (*MovementResponse, error)
	Consume(ctx context.Context, actor uuid.UUID, req ConsumeRequest) (*MovementResponse, error)

	ListBatches(ctx context.Context, req BatchListRequest) ([]BatchResponse, int64, error)
	ListTransactions(ctx context.Context, req TransactionListRequest) ([]model.ProductInventoryTransaction, int64, error)
	Summary(ctx context.Context) ([]InventorySummary, error)
	ExportTransactions(ctx context.Context, req TransactionListRequest) ([]byte, error)
}

type inventoryService struct {
	productRepo repository.ProductRepository
	batchRepo   repository.InventoryRepository
	txRepo      repository.InventoryTxRepository
	auditRepo   repository.AuditRepository
	txManager   repository.TransactionManager
	ledger      *Ledger
	events      EventPublisher
	now         func() time.Time
}

func NewInventoryService(
	productRepo repository.ProductRepository,
	batchRepo repository.InventoryRepository,
	txRepo repository.InventoryTxRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	ledger *Ledger,
	events EventPublisher,
) InventoryService {
	return &inventoryService{
		productRepo: productRepo,
		batchRepo:   batchRepo,
		txRepo:      txRepo,
		auditRepo:   auditRepo,
		txManager:   txManager,
		ledger:      ledger,
		events:      publisherOrNop(events),
		now:         time.Now,
	}
}

// --- Products ---

func (s *inventoryService) CreateProduct(ctx context.Context, actor uuid.UUID, req CreateProductRequest) (*ProductResponse, error) {
	if req.DPValue.IsNegative() || req.MRP.IsNegative() {
		return nil, apperr.Validation("Prices cannot be negative")
	}

	product := model.Product{
		ProductCode: strings.TrimSpace(req.ProductCode),
		Name:        req.Name,
		DPValue:     req.DPValue,
		MRP:         req.MRP,
		Description: req.Description,
		IsActive:    true,
		CreatedBy:   actorPtr(actor),
	}
	if req.PrincipleID != "" {
		pid, err := parseID(req.PrincipleID, "principle")
		if err != nil {
			return nil, err
		}
		product.PrincipleID = &pid
	}

	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if _, err := s.productRepo.FindByCode(txCtx, product.ProductCode); err == nil {
			return apperr.Conflict("Product code %s already exists", product.ProductCode)
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return dbError(err, "", "check product code")
		}

		if err := s.productRepo.Create(txCtx, &product); err != nil {
			return dbError(err, "", "create product")
		}
		return writeAudit(txCtx, s.auditRepo, actor, model.AuditCreateProduct, product.ID.String(), product.Name, req)
	})
	if err != nil {
		return nil, err
	}

	resp := toProductResponse(product)
	return &resp, nil
}

func (s *inventoryService) GetProduct(ctx context.Context, id string) (*ProductResponse, error) {
	product, err := s.findProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := toProductResponse(*product)
	return &resp, nil
}

func (s *inventoryService) findProduct(ctx context.Context, id string) (*model.Product, error) {
	pid, err := parseID(id, "product")
	if err != nil {
		return nil, err
	}
	product, err := s.productRepo.FindByID(ctx, pid)
	if err != nil {
		return nil, dbError(err, fmt.Sprintf("Product not found with id of %s", id), "fetch product")
	}
	return product, nil
}

func (s *inventoryService) ListProducts(ctx context.Context, page, limit int, search string) ([]ProductResponse, int64, error) {
	page, limit = pageOf(page, limit, pagination.DefaultLimit)
	products, total, err := s.productRepo.List(ctx, page, limit, search)
	if err != nil {
		return nil, 0, dbError(err, "", "fetch products")
	}

	res := make([]ProductResponse, 0, len(products))
	for _, p := range products {
		res = append(res, toProductResponse(p))
	}
	return res, total, nil
}

// --- Batches ---

// AddInventory receives stock. A batch already held at the same location is topped up;
// otherwise a new batch is opened with an Initial Stock entry.
func (s *inventoryService) AddInventory(ctx context.Context, actor uuid.UUID, req AddInventoryRequest) (*MovementResponse, error) {
	var (
		batch *model.ProductInventory
		entry *model.ProductInventoryTransaction
	)

	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		product, err := s.findProduct(txCtx, req.ProductID)
		if err != nil {
			return err
		}

		notes := req.Notes
		if notes == "" {
			notes = "Inventory added"
		}

		existing, err := s.batchRepo.FindBatchAtLocationForUpdate(txCtx, product.ID, req.BatchNumber, req.Location)
		switch {
		case err == nil:
			batch = existing
			entry, err = s.ledger.Apply(txCtx, batch, Movement{
				Type:       model.TxStockIncrease,
				Delta:      req.Quantity,
				LocationTo: batch.Location,
				Reference:  model.ReceiptRef(),
				Notes:      notes,
				Actor:      actor,
			})
		case errors.Is(err, gorm.ErrRecordNotFound):
			dp := product.DPValue
			if req.DPValue != nil {
				dp = *req.DPValue
			}
			batch = &model.ProductInventory{
				ProductID:    product.ID,
				BatchNumber:  req.BatchNumber,
				Location:     req.Location,
				DPValue:      dp,
				ExpiryDate:   req.ExpiryDate,
				ReceivedDate: req.ReceivedDate,
			}
			entry, err = s.ledger.Open(txCtx, batch, Movement{
				Type:       model.TxInitialStock,
				Delta:      req.Quantity,
				LocationTo: req.Location,
				Reference:  model.ReceiptRef(),
				Notes:      notes,
				Actor:      actor,
			})
		default:
			return dbError(err, "", "lock inventory batch")
		}
		if err != nil {
			return err
		}
		batch.Product = product
		return writeAudit(txCtx, s.auditRepo, actor, model.AuditAdjustInventory, batch.ID.String(), product.Name, req)
	})
	if err != nil {
		return nil, err
	}

	return s.finish(batch, entry), nil
}

func (s *inventoryService) GetBatch(ctx context.Context, id string) (*BatchResponse, error) {
	bid, err := parseID(id, "inventory")
	if err != nil {
		return nil, err
	}
	batch, err := s.batchRepo.FindByID(ctx, bid)
	if err != nil {
		return nil, dbError(err, fmt.Sprintf("Inventory item not found with id of %s", id), "fetch inventory")
	}
	resp := toBatchResponse(*batch)
	return &resp, nil
}

// mutateBatch locks the batch, runs fn and audits, all in one unit of work.
func (s *inventoryService) mutateBatch(
	ctx context.Context,
	actor uuid.UUID,
	id string,
	action string,
	details interface{},
	fn func(txCtx context.Context, batch *model.ProductInventory) (*model.ProductInventoryTransaction, error),
) (*MovementResponse, error) {
	bid, err := parseID(id, "inventory")
	if err != nil {
		return nil, err
	}

	var (
		batch *model.ProductInventory
		entry *model.ProductInventoryTransaction
	)
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		batch, err = s.batchRepo.FindByIDForUpdate(txCtx, bid)
		if err != nil {
			return dbError(err, fmt.Sprintf("Inventory item not found with id of %s", id), "lock inventory batch")
		}
		entry, err = fn(txCtx, batch)
		if err != nil {
			return err
		}
		return writeAudit(txCtx, s.auditRepo, actor, action, batch.ID.String(), batch.BatchNumber, details)
	})
	if err != nil {
		return nil, err
	}

	return s.finish(batch, entry), nil
}

func (s *inventoryService) IncreaseStock(ctx context.Context, actor uuid.UUID, id string, req StockChangeRequest) (*MovementResponse, error) {
	if req.Quantity <= 0 {
		return nil, apperr.Validation("Quantity must be greater than zero")
	}
	return s.mutateBatch(ctx, actor, id, model.AuditAdjustInventory, req, func(txCtx context.Context, batch *model.ProductInventory) (*model.ProductInventoryTransaction, error) {
		return s.ledger.Apply(txCtx, batch, Movement{
			Type:       model.TxStockIncrease,
			Delta:      req.Quantity,
			LocationTo: batch.Location,
			Reference:  model.AdjustmentRef(),
			Notes:      notesOr(req.Notes, fmt.Sprintf("Quantity increased by %d", req.Quantity)),
			Actor:      actor,
		})
	})
}

func (s *inventoryService) DecreaseStock(ctx context.Context, actor uuid.UUID, id string, req StockChangeRequest) (*MovementResponse, error) {
	if req.Quantity <= 0 {
		return nil, apperr.Validation("Quantity must be greater than zero")
	}
	return s.mutateBatch(ctx, actor, id, model.AuditAdjustInventory, req, func(txCtx context.Context, batch *model.ProductInventory) (*model.ProductInventoryTransaction, error) {
		return s.ledger.Apply(txCtx, batch, Movement{
			Type:         model.TxStockDecrease,
			Delta:        -req.Quantity,
			LocationFrom: batch.Location,
			Reference:    model.AdjustmentRef(),
			Notes:        notesOr(req.Notes, fmt.Sprintf("Quantity decreased by %d", req.Quantity)),
			Actor:        actor,
		})
	})
}

// AdjustQuantity sets an absolute quantity (a stock count) and logs the difference.
func (s *inventoryService) AdjustQuantity(ctx context.Context, actor uuid.UUID, id string, req SetQuantityRequest) (*MovementResponse, error) {
	if req.Quantity == nil || *req.Quantity < 0 {
		return nil, apperr.Validation("Quantity must be zero or greater")
	}
	target := *req.Quantity

	return s.mutateBatch(ctx, actor, id, model.AuditAdjustInventory, req, func(txCtx context.Context, batch *model.ProductInventory) (*model.ProductInventoryTransaction, error) {
		delta := target - batch.Quantity
		if delta == 0 {
			return nil, apperr.Conflict("Batch %s already holds %d units", batch.BatchNumber, target)
		}
		m := Movement{
			Delta:     delta,
			Reference: model.AdjustmentRef(),
			Notes:     notesOr(req.Notes, fmt.Sprintf("Quantity updated from %d to %d", batch.Quantity, target)),
			Actor:     actor,
		}
		if delta > 0 {
			m.Type = model.TxStockIncrease
			m.LocationTo = batch.Location
		} else {
			m.Type = model.TxStockDecrease
			m.LocationFrom = batch.Location
		}
		return s.ledger.Apply(txCtx, batch, m)
	})
}

// Transfer relocates stock. A whole batch with no twin at the destination is moved in place.
// Otherwise the source is debited and the batch of the same number at the destination is
// credited, opened if needed; both rows share a transfer reference.
func (s *inventoryService) Transfer(ctx context.Context, actor uuid.UUID, id string, req TransferRequest) (*MovementResponse, error) {
	var related []model.ProductInventoryTransaction

	resp, err := s.mutateBatch(ctx, actor, id, model.AuditTransferInventory, req, func(txCtx context.Context, batch *model.ProductInventory) (*model.ProductInventoryTransaction, error) {
		if req.ToLocation == batch.Location {
			return nil, apperr.Validation("Batch %s is already at %s", batch.BatchNumber, req.ToLocation)
		}
		if batch.Status != model.BatchAvailable && batch.Status != model.BatchReserved {
			return nil, apperr.Validation("Cannot transfer a batch with status %s", batch.Status)
		}
		if req.Quantity > batch.Quantity {
			return nil, apperr.InsufficientInventory(
				"Insufficient quantity in batch %s. Available: %d, requested: %d",
				batch.BatchNumber, batch.Quantity, req.Quantity)
		}

		ref := model.TransferRef(uuid.New())
		from := batch.Location
		notes := notesOr(req.Notes, fmt.Sprintf("Location transferred from %s to %s", from, req.ToLocation))
		quantity := req.Quantity
		if quantity == 0 {
			quantity = batch.Quantity
		}

		dest, err := s.batchRepo.FindBatchAtLocationForUpdate(txCtx, batch.ProductID, batch.BatchNumber, req.ToLocation)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, dbError(err, "", "lock destination batch")
		}

		if quantity == batch.Quantity && dest == nil {
			// the whole batch moves; no row at the destination to merge into
			return s.ledger.Apply(txCtx, batch, Movement{
				Type:         model.TxTransfer,
				LocationFrom: from,
				LocationTo:   req.ToLocation,
				Reference:    ref,
				Notes:        notes,
				Actor:        actor,
			})
		}
		if quantity == 0 {
			return nil, apperr.Validation("Batch %s is empty and %s already holds it", batch.BatchNumber, req.ToLocation)
		}

		out, err := s.ledger.Apply(txCtx, batch, Movement{
			Type:         model.TxTransfer,
			Delta:        -quantity,
			LocationFrom: from,
			LocationTo:   req.ToLocation,
			Reference:    ref,
			Notes:        notes,
			Actor:        actor,
		})
		if err != nil {
			return nil, err
		}

		in := Movement{
			Type:         model.TxTransfer,
			Delta:        quantity,
			LocationFrom: from,
			LocationTo:   req.ToLocation,
			Reference:    ref,
			Notes:        notes,
			Actor:        actor,
		}
		var credit *model.ProductInventoryTransaction
		if dest != nil {
			credit, err = s.ledger.Apply(txCtx, dest, in)
		} else {
			dest = &model.ProductInventory{
				ProductID:    batch.ProductID,
				BatchNumber:  batch.BatchNumber,
				Location:     req.ToLocation,
				DPValue:      batch.DPValue,
				ExpiryDate:   batch.ExpiryDate,
				ReceivedDate: batch.ReceivedDate,
				Status:       batch.Status,
			}
			credit, err = s.ledger.Open(txCtx, dest, in)
		}
		if err != nil {
			return nil, err
		}
		related = append(related, *credit)
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	resp.Related = related
	return resp, nil
}

func (s *inventoryService) ChangeStatus(ctx context.Context, actor uuid.UUID, id string, req ChangeStatusRequest) (*MovementResponse, error) {
	status := model.BatchStatus(req.Status)
	if !status.Valid() {
		return nil, apperr.Validation("Invalid status: %s", req.Status)
	}

	return s.mutateBatch(ctx, actor, id, model.AuditAdjustInventory, req, func(txCtx context.Context, batch *model.ProductInventory) (*model.ProductInventoryTransaction, error) {
		if batch.Status == status {
			return nil, apperr.Conflict("Inventory is already marked as %s", status)
		}
		if status == model.BatchAvailable && batch.Quantity == 0 {
			return nil, apperr.Validation("Cannot mark an empty batch as Available")
		}
		return s.ledger.Apply(txCtx, batch, Movement{
			Type:         model.TransactionTypeForStatus(status),
			Status:       status,
			LocationFrom: batch.Location,
			Notes:        notesOr(req.Notes, fmt.Sprintf("Status changed from %s to %s", batch.Status, status)),
			Actor:        actor,
		})
	})
}

func (s *inventoryService) Consume(ctx context.Context, actor uuid.UUID, req ConsumeRequest) (*MovementResponse, error) {
	var (
		batch *model.ProductInventory
		entry *model.ProductInventoryTransaction
	)
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		product, err := s.findProduct(txCtx, req.ProductID)
		if err != nil {
			return err
		}
		batch, entry, err = s.ledger.Consume(txCtx, product, req.Quantity, req.BatchNumber, model.AdjustmentRef(), actor, notesOr(req.Notes, "Consumed from inventory"))
		if err != nil {
			return err
		}
		batch.Product = product
		return writeAudit(txCtx, s.auditRepo, actor, model.AuditAdjustInventory, batch.ID.String(), product.Name, req)
	})
	if err != nil {
		return nil, err
	}
	return s.finish(batch, entry), nil
}

func (s *inventoryService) finish(batch *model.ProductInventory, entry *model.ProductInventoryTransaction) *MovementResponse {
	resp := &MovementResponse{Batch: toBatchResponse(*batch), Transaction: entry}
	s.events.Publish(EventInventoryUpdated, resp)
	return resp
}

// --- Queries ---

func (s *inventoryService) ListBatches(ctx context.Context, req BatchListRequest) ([]BatchResponse, int64, error) {
	page, limit := pageOf(req.Page, req.Limit, pagination.LedgerLimit)
	filter := repository.InventoryFilter{
		Status:      model.BatchStatus(req.Status),
		Location:    req.Location,
		BatchNumber: req.BatchNumber,
	}
	if req.ProductID != "" {
		pid, err := parseID(req.ProductID, "product")
		if err != nil {
			return nil, 0, err
		}
		filter.ProductID = &pid
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, apperr.Validation("Invalid status: %s", req.Status)
	}
	if req.ExpiringWithinDays > 0 {
		before := s.now().AddDate(0, 0, req.ExpiringWithinDays)
		filter.ExpiringBefore = &before
	}

	batches, total, err := s.batchRepo.List(ctx, filter, page, limit)
	if err != nil {
		return nil, 0, dbError(err, "", "fetch inventory")
	}

	res := make([]BatchResponse, 0, len(batches))
	for _, b := range batches {
		res = append(res, toBatchResponse(b))
	}
	return res, total, nil
}

func (s *inventoryService) transactionFilter(req TransactionListRequest) (repository.TransactionFilter, error) {
	filter := repository.TransactionFilter{
		Type: model.TransactionType(req.Type),
		From: req.From,
		To:   req.To,
	}
	if req.ProductID != "" {
		id, err := parseID(req.ProductID, "product")
		if err != nil {
			return filter, err
		}
		filter.ProductID = &id
	}
	if req.InventoryID != "" {
		id, err := parseID(req.InventoryID, "inventory")
		if err != nil {
			return filter, err
		}
		filter.InventoryID = &id
	}
	filter.Reference.Kind = model.ReferenceKind(req.ReferenceType)
	if req.ReferenceID != "" {
		id, err := parseID(req.ReferenceID, "reference")
		if err != nil {
			return filter, err
		}
		filter.Reference.ID = &id
	}
	return filter, nil
}

func (s *inventoryService) ListTransactions(ctx context.Context, req TransactionListRequest) ([]model.ProductInventoryTransaction, int64, error) {
	filter, err := s.transactionFilter(req)
	if err != nil {
		return nil, 0, err
	}
	page, limit := pageOf(req.Page, req.Limit, pagination.LedgerLimit)

	txs, total, err := s.txRepo.List(ctx, filter, page, limit)
	if err != nil {
		return nil, 0, dbError(err, "", "fetch inventory transactions")
	}
	return txs, total, nil
}

// Summary aggregates Available stock of active products, sorted by product name.
func (s *inventoryService) Summary(ctx context.Context) ([]InventorySummary, error) {
	batches, err := s.batchRepo.ListAll(ctx, repository.InventoryFilter{Status: model.BatchAvailable})
	if err != nil {
		return nil, dbError(err, "", "fetch inventory")
	}

	type acc struct {
		summary InventorySummary
		batches map[string]bool
	}
	byProduct := make(map[uuid.UUID]*acc)
	for _, b := range batches {
		if b.Product == nil || !b.Product.IsActive {
			continue
		}
		a, ok := byProduct[b.ProductID]
		if !ok {
			a = &acc{
				summary: InventorySummary{
					ProductID:      b.ProductID.String(),
					ProductName:    b.Product.Name,
					ProductCode:    b.Product.ProductCode,
					InventoryValue: decimal.Zero,
				},
				batches: make(map[string]bool),
			}
			byProduct[b.ProductID] = a
		}
		a.summary.TotalQuantity += b.Quantity
		a.batches[b.BatchNumber] = true
		a.summary.InventoryValue = a.summary.InventoryValue.Add(b.DPValue.Mul(decimal.NewFromInt(int64(b.Quantity))))
		if b.ExpiryDate != nil && (a.summary.EarliestExpiry == nil || b.ExpiryDate.Before(*a.summary.EarliestExpiry)) {
			exp := *b.ExpiryDate
			a.summary.EarliestExpiry = &exp
		}
	}

	now := s.now()
	res := make([]InventorySummary, 0, len(byProduct))
	for _, a := range byProduct {
		a.summary.BatchCount = len(a.batches)
		a.summary.ExpiryStatus = ExpiryStatusAt(a.summary.EarliestExpiry, now)
		res = append(res, a.summary)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ProductName < res[j].ProductName })
	return res, nil
}

func (s *inventoryService) ExportTransactions(ctx context.Context, req TransactionListRequest) ([]byte, error) {
	filter, err := s.transactionFilter(req)
	if err != nil {
		return nil, err
	}
	txs, err := s.txRepo.ListAll(ctx, filter)
	if err != nil {
		return nil, dbError(err, "", "fetch inventory transactions")
	}
	data, err := report.LedgerWorkbook(txs)
	if err != nil {
		return nil, apperr.Infrastructure(err, "failed to build ledger export")
	}
	return data, nil
}

// --- Helpers ---

func notesOr(notes, fallback string) string {
	if strings.TrimSpace(notes) == "" {
		return fallback
	}
	return notes
}

func toProductResponse(p model.Product) ProductResponse {
	resp := ProductResponse{
		ID:          p.ID.String(),
		ProductCode: p.ProductCode,
		Name:        p.Name,
		DPValue:     p.DPValue,
		MRP:         p.MRP,
		Description: p.Description,
		IsActive:    p.IsActive,
	}
	if p.PrincipleID != nil {
		id := p.PrincipleID.String()
		resp.PrincipleID = &id
	}
	return resp
}

func toBatchResponse(b model.ProductInventory) BatchResponse {
	resp := BatchResponse{
		ID:           b.ID.String(),
		ProductID:    b.ProductID.String(),
		BatchNumber:  b.BatchNumber,
		Location:     b.Location,
		Quantity:     b.Quantity,
		DPValue:      b.DPValue,
		ExpiryDate:   b.ExpiryDate,
		ReceivedDate: b.ReceivedDate,
		Status:       string(b.Status),
	}
	if b.Product != nil {
		resp.ProductName = b.Product.Name
	}
	return resp
}
