package service

import (
	"bytes"
	"testing"
	"time"

	"medsales/internal/model"
	"medsales/pkg/apperr"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestCreateProductRejectsDuplicateCode(t *testing.T) {
	e := newEnv(t)
	_, err := e.inventory.CreateProduct(bg, uuid.Nil, CreateProductRequest{ProductCode: "P-1", Name: "Stent"})
	require.NoError(t, err)

	_, err = e.inventory.CreateProduct(bg, uuid.Nil, CreateProductRequest{ProductCode: "P-1", Name: "Other"})
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestAddInventoryOpensThenTopsUpBatch(t *testing.T) {
	e := newEnv(t)
	p := e.product(t, "P-1", 100)

	first := e.stock(t, p, "B-1", "Storage", 10, nil)
	assert.Equal(t, 10, first.Quantity)
	assert.Equal(t, "100", first.DPValue.String())

	second := e.stock(t, p, "B-1", "Storage", 5, nil)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 15, second.Quantity)

	other := e.stock(t, p, "B-1", "Ward 3", 2, nil)
	assert.NotEqual(t, first.ID, other.ID)

	txs, _, err := e.inventory.ListTransactions(bg, TransactionListRequest{InventoryID: first.ID})
	require.NoError(t, err)
	require.Len(t, txs, 2)
	types := []model.TransactionType{txs[0].TransactionType, txs[1].TransactionType}
	assert.ElementsMatch(t, []model.TransactionType{model.TxInitialStock, model.TxStockIncrease}, types)
	e.requireLedgerFolds(t, first.ID)
	e.requireLedgerFolds(t, other.ID)
	assert.Contains(t, e.events.names(), EventInventoryUpdated)
}

func TestAddInventoryUnknownProduct(t *testing.T) {
	e := newEnv(t)
	_, err := e.inventory.AddInventory(bg, uuid.Nil, AddInventoryRequest{
		ProductID: uuid.NewString(), BatchNumber: "B", Location: "Storage", Quantity: 1,
	})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDecreaseBelowZeroLeavesBatchUntouched(t *testing.T) {
	e := newEnv(t)
	b := e.stock(t, e.product(t, "P-1", 10), "B-1", "Storage", 3, nil)

	_, err := e.inventory.DecreaseStock(bg, uuid.Nil, b.ID, StockChangeRequest{Quantity: 4})
	assert.ErrorIs(t, err, apperr.ErrInsufficientInventory)

	assert.Equal(t, 3, e.batch(t, b.ID).Quantity)
	assert.Equal(t, int64(1), e.count(t, &model.ProductInventoryTransaction{}, "inventory_id = ?", b.ID))
	assert.Equal(t, int64(1), e.count(t, &model.AuditLog{}))
}

func TestDecreaseToZeroMarksUsedAndIncreaseRevives(t *testing.T) {
	e := newEnv(t)
	b := e.stock(t, e.product(t, "P-1", 10), "B-1", "Storage", 3, nil)

	resp, err := e.inventory.DecreaseStock(bg, uuid.Nil, b.ID, StockChangeRequest{Quantity: 3})
	require.NoError(t, err)
	assert.Equal(t, string(model.BatchUsed), resp.Batch.Status)
	assert.Equal(t, -3, resp.Transaction.QuantityDelta)
	assert.Equal(t, 0, resp.Transaction.QuantityAfter)

	resp, err = e.inventory.IncreaseStock(bg, uuid.Nil, b.ID, StockChangeRequest{Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, string(model.BatchAvailable), resp.Batch.Status)
	assert.Equal(t, 2, resp.Batch.Quantity)
	e.requireLedgerFolds(t, b.ID)
}

func TestAdjustQuantityLogsDifference(t *testing.T) {
	e := newEnv(t)
	b := e.stock(t, e.product(t, "P-1", 10), "B-1", "Storage", 10, nil)

	resp, err := e.inventory.AdjustQuantity(bg, uuid.Nil, b.ID, SetQuantityRequest{Quantity: ptr(7)})
	require.NoError(t, err)
	assert.Equal(t, model.TxStockDecrease, resp.Transaction.TransactionType)
	assert.Equal(t, 3, resp.Transaction.Quantity)

	_, err = e.inventory.AdjustQuantity(bg, uuid.Nil, b.ID, SetQuantityRequest{Quantity: ptr(7)})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = e.inventory.AdjustQuantity(bg, uuid.Nil, b.ID, SetQuantityRequest{Quantity: ptr(-1)})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	e.requireLedgerFolds(t, b.ID)
}

func TestTransferWholeBatchRelocates(t *testing.T) {
	e := newEnv(t)
	b := e.stock(t, e.product(t, "P-1", 10), "B-1", "Storage", 8, nil)

	resp, err := e.inventory.Transfer(bg, uuid.Nil, b.ID, TransferRequest{ToLocation: "OT-2"})
	require.NoError(t, err)
	assert.Equal(t, b.ID, resp.Batch.ID)
	assert.Equal(t, "OT-2", resp.Batch.Location)
	assert.Equal(t, 8, resp.Batch.Quantity)
	assert.Equal(t, 0, resp.Transaction.QuantityDelta)
	assert.Equal(t, 8, resp.Transaction.Quantity)
	assert.Equal(t, "Storage", resp.Transaction.LocationFrom)
	assert.Empty(t, resp.Related)
	e.requireLedgerFolds(t, b.ID)

	var audit model.AuditLog
	require.NoError(t, e.db.Where("action = ?", model.AuditTransferInventory).First(&audit).Error)
	assert.Equal(t, b.ID, audit.EntityID)
}

func TestTransferPartialSplitsBatch(t *testing.T) {
	e := newEnv(t)
	expiry := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	b := e.stock(t, e.product(t, "P-1", 10), "B-1", "Storage", 8, &expiry)

	resp, err := e.inventory.Transfer(bg, uuid.Nil, b.ID, TransferRequest{ToLocation: "OT-2", Quantity: 3})
	require.NoError(t, err)
	assert.Equal(t, 5, resp.Batch.Quantity)
	assert.Equal(t, "Storage", resp.Batch.Location)
	require.Len(t, resp.Related, 1)

	credit := resp.Related[0]
	assert.Equal(t, 3, credit.QuantityDelta)
	assert.Equal(t, resp.Transaction.Reference, credit.Reference)
	assert.Equal(t, model.RefTransfer, credit.Reference.Kind)

	dest := e.batch(t, credit.InventoryID.String())
	assert.Equal(t, "OT-2", dest.Location)
	assert.Equal(t, 3, dest.Quantity)
	require.NotNil(t, dest.ExpiryDate)
	assert.True(t, dest.ExpiryDate.Equal(expiry))

	// a second transfer credits the same destination batch
	_, err = e.inventory.Transfer(bg, uuid.Nil, b.ID, TransferRequest{ToLocation: "OT-2", Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, e.batch(t, dest.ID.String()).Quantity)

	e.requireLedgerFolds(t, b.ID)
	e.requireLedgerFolds(t, dest.ID.String())
}

func TestTransferWholeBatchMergesIntoDestination(t *testing.T) {
	e := newEnv(t)
	b := e.stock(t, e.product(t, "P-1", 10), "B-1", "Storage", 8, nil)
	resp, err := e.inventory.Transfer(bg, uuid.Nil, b.ID, TransferRequest{ToLocation: "OT-2", Quantity: 3})
	require.NoError(t, err)
	destID := resp.Related[0].InventoryID.String()

	resp, err = e.inventory.Transfer(bg, uuid.Nil, b.ID, TransferRequest{ToLocation: "OT-2"})
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Batch.Quantity)
	assert.Equal(t, "Storage", resp.Batch.Location)
	assert.Equal(t, string(model.BatchUsed), resp.Batch.Status)
	require.Len(t, resp.Related, 1)
	assert.Equal(t, 5, resp.Related[0].QuantityDelta)

	assert.Equal(t, 8, e.batch(t, destID).Quantity)
	assert.Equal(t, int64(1), e.count(t, &model.ProductInventory{}, "batch_number = ? AND location = ?", "B-1", "OT-2"))
	e.requireLedgerFolds(t, b.ID)
	e.requireLedgerFolds(t, destID)
}

func TestTransferValidation(t *testing.T) {
	e := newEnv(t)
	b := e.stock(t, e.product(t, "P-1", 10), "B-1", "Storage", 2, nil)

	_, err := e.inventory.Transfer(bg, uuid.Nil, b.ID, TransferRequest{ToLocation: "Storage"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = e.inventory.Transfer(bg, uuid.Nil, b.ID, TransferRequest{ToLocation: "OT", Quantity: 5})
	assert.ErrorIs(t, err, apperr.ErrInsufficientInventory)

	_, err = e.inventory.ChangeStatus(bg, uuid.Nil, b.ID, ChangeStatusRequest{Status: "Damaged"})
	require.NoError(t, err)
	_, err = e.inventory.Transfer(bg, uuid.Nil, b.ID, TransferRequest{ToLocation: "OT"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestChangeStatus(t *testing.T) {
	e := newEnv(t)
	b := e.stock(t, e.product(t, "P-1", 10), "B-1", "Storage", 4, nil)

	resp, err := e.inventory.ChangeStatus(bg, uuid.Nil, b.ID, ChangeStatusRequest{Status: "Expired"})
	require.NoError(t, err)
	assert.Equal(t, model.TxExpired, resp.Transaction.TransactionType)
	assert.Equal(t, 0, resp.Transaction.QuantityDelta)
	assert.Equal(t, 4, resp.Batch.Quantity)

	_, err = e.inventory.ChangeStatus(bg, uuid.Nil, b.ID, ChangeStatusRequest{Status: "Expired"})
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "Inventory is already marked as Expired", appErr.Message)

	_, err = e.inventory.ChangeStatus(bg, uuid.Nil, b.ID, ChangeStatusRequest{Status: "Lost"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	e.requireLedgerFolds(t, b.ID)
}

func TestConsumeFIFOPrefersEarliestExpiry(t *testing.T) {
	e := newEnv(t)
	p := e.product(t, "P-1", 10)
	late := time.Date(2028, 1, 1, 0, 0, 0, 0, time.UTC)
	early := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	e.stock(t, p, "LATE", "Storage", 10, &late)
	e.stock(t, p, "NONE", "Storage", 10, nil)
	earlyBatch := e.stock(t, p, "EARLY", "Storage", 10, &early)

	resp, err := e.inventory.Consume(bg, uuid.Nil, ConsumeRequest{ProductID: p.ID.String(), Quantity: 4})
	require.NoError(t, err)
	assert.Equal(t, earlyBatch.ID, resp.Batch.ID)
	assert.Equal(t, 6, resp.Batch.Quantity)
	assert.Equal(t, model.TxUsed, resp.Transaction.TransactionType)
}

func TestConsumeSkipsBatchesThatCannotCover(t *testing.T) {
	e := newEnv(t)
	p := e.product(t, "P-1", 10)
	early := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	e.stock(t, p, "SMALL", "Storage", 2, &early)
	big := e.stock(t, p, "BIG", "Storage", 20, nil)

	resp, err := e.inventory.Consume(bg, uuid.Nil, ConsumeRequest{ProductID: p.ID.String(), Quantity: 5})
	require.NoError(t, err)
	assert.Equal(t, big.ID, resp.Batch.ID)

	_, err = e.inventory.Consume(bg, uuid.Nil, ConsumeRequest{ProductID: p.ID.String(), Quantity: 50})
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindNoAvailableInventory, appErr.Kind)
	assert.Equal(t, "No available inventory for Product P-1 with quantity 50", appErr.Message)
}

func TestConsumeNamedBatch(t *testing.T) {
	e := newEnv(t)
	p := e.product(t, "P-1", 10)
	b := e.stock(t, p, "B-1", "Storage", 3, nil)

	_, err := e.inventory.Consume(bg, uuid.Nil, ConsumeRequest{ProductID: p.ID.String(), Quantity: 1, BatchNumber: "MISSING"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = e.inventory.Consume(bg, uuid.Nil, ConsumeRequest{ProductID: p.ID.String(), Quantity: 4, BatchNumber: "B-1"})
	assert.ErrorIs(t, err, apperr.ErrInsufficientInventory)

	resp, err := e.inventory.Consume(bg, uuid.Nil, ConsumeRequest{ProductID: p.ID.String(), Quantity: 3, BatchNumber: "B-1"})
	require.NoError(t, err)
	assert.Equal(t, b.ID, resp.Batch.ID)
	assert.Equal(t, string(model.BatchUsed), resp.Batch.Status)
}

func TestSummaryAggregatesAvailableStock(t *testing.T) {
	e := newEnv(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e.inventory.(*inventoryService).now = func() time.Time { return now }

	alpha := e.product(t, "A", 10)
	beta := e.product(t, "B", 5)
	soon := now.AddDate(0, 1, 0)
	later := now.AddDate(0, 5, 0)
	e.stock(t, alpha, "A-1", "Storage", 4, &later)
	e.stock(t, alpha, "A-2", "Storage", 6, &soon)
	damaged := e.stock(t, beta, "B-1", "Storage", 3, nil)
	e.stock(t, beta, "B-2", "Storage", 2, nil)
	_, err := e.inventory.ChangeStatus(bg, uuid.Nil, damaged.ID, ChangeStatusRequest{Status: "Damaged"})
	require.NoError(t, err)

	summary, err := e.inventory.Summary(bg)
	require.NoError(t, err)
	require.Len(t, summary, 2)

	assert.Equal(t, "Product A", summary[0].ProductName)
	assert.Equal(t, 10, summary[0].TotalQuantity)
	assert.Equal(t, 2, summary[0].BatchCount)
	assert.Equal(t, ExpiryWarning, summary[0].ExpiryStatus)
	assert.True(t, summary[0].InventoryValue.Equal(decimal.NewFromInt(100)))

	assert.Equal(t, 2, summary[1].TotalQuantity)
	assert.Equal(t, ExpiryNoExpiry, summary[1].ExpiryStatus)
}

func TestExpiryStatusAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	at := func(days int) *time.Time { d := now.AddDate(0, 0, days); return &d }

	assert.Equal(t, ExpiryNoExpiry, ExpiryStatusAt(nil, now))
	assert.Equal(t, ExpiryWarning, ExpiryStatusAt(at(-1), now))
	assert.Equal(t, ExpiryWarning, ExpiryStatusAt(at(89), now))
	assert.Equal(t, ExpiryMonitor, ExpiryStatusAt(at(120), now))
	assert.Equal(t, ExpiryGood, ExpiryStatusAt(at(200), now))
}

func TestListBatchesFilters(t *testing.T) {
	e := newEnv(t)
	p := e.product(t, "P-1", 10)
	e.stock(t, p, "B-1", "Storage", 1, nil)
	e.stock(t, p, "B-2", "Ward", 1, nil)

	got, total, err := e.inventory.ListBatches(bg, BatchListRequest{Location: "Ward"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "B-2", got[0].BatchNumber)

	_, _, err = e.inventory.ListBatches(bg, BatchListRequest{Status: "Sold"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestExportTransactions(t *testing.T) {
	e := newEnv(t)
	p := e.product(t, "P-1", 10)
	b := e.stock(t, p, "B-1", "Storage", 5, nil)
	_, err := e.inventory.DecreaseStock(bg, uuid.Nil, b.ID, StockChangeRequest{Quantity: 2})
	require.NoError(t, err)

	data, err := e.inventory.ExportTransactions(bg, TransactionListRequest{ProductID: p.ID.String()})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Ledger")
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}
