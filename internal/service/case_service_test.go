package service

import (
	"testing"
	"time"

	"medsales/internal/model"
	"medsales/pkg/apperr"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCaseNumberFormat(t *testing.T) {
	n := NewCaseNumber(time.Date(2026, 4, 5, 23, 0, 0, 0, time.UTC))
	assert.Regexp(t, `^CASE-20260405-[0-9A-Z]{5}$`, n)
}

func TestCreateCaseConsumesStockAndRecordsUsage(t *testing.T) {
	e := newEnv(t)
	actor := e.user(t, "rep")
	p := e.product(t, "P-1", 100)
	b := e.stock(t, p, "B-1", "Storage", 5, nil)

	c, err := e.cases.CreateCase(bg, actor.ID, e.caseRequest(CaseProductRequest{
		ProductID: p.ID.String(),
		Quantity:  2,
		UnitPrice: decimal.NewFromInt(150),
	}))
	require.NoError(t, err)

	assert.Equal(t, model.CaseStatusPending, c.Status)
	assert.Regexp(t, `^CASE-\d{8}-[0-9A-Z]{5}$`, c.CaseNumber)
	require.Len(t, c.Products, 1)
	line := c.Products[0]
	assert.True(t, line.UsedFromInventory)
	assert.Equal(t, "B-1", line.BatchNumber)
	require.NotNil(t, line.InventoryID)
	assert.Equal(t, b.ID, line.InventoryID.String())

	assert.True(t, c.DPValue.Equal(decimal.NewFromInt(200)), c.DPValue.String())
	assert.True(t, c.SellingPrice.Equal(decimal.NewFromInt(300)), c.SellingPrice.String())

	assert.Equal(t, 3, e.batch(t, b.ID).Quantity)
	e.requireLedgerFolds(t, b.ID)

	var usage model.ProductUsage
	require.NoError(t, e.db.First(&usage, "case_id = ?", c.ID).Error)
	assert.Equal(t, 2, usage.Quantity)
	assert.Equal(t, line.ID, *usage.CaseProductID)

	var entry model.ProductInventoryTransaction
	require.NoError(t, e.db.Where("transaction_type = ?", model.TxUsed).First(&entry).Error)
	assert.Equal(t, model.CaseRef(c.ID), entry.Reference)
	assert.Equal(t, "Used in case "+c.CaseNumber, entry.Notes)
	assert.Equal(t, actor.ID, *entry.CreatedBy)

	history, err := e.cases.History(bg, c.ID.String())
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "Case created", history[0].Notes)

	assert.Contains(t, e.events.names(), EventCaseUpdated)
}

func TestCreateCaseKeepsExplicitTotals(t *testing.T) {
	e := newEnv(t)
	p := e.product(t, "P-1", 100)
	e.stock(t, p, "B-1", "Storage", 5, nil)

	req := e.caseRequest(CaseProductRequest{ProductID: p.ID.String(), Quantity: 1, UnitPrice: decimal.NewFromInt(150)})
	req.DPValue = ptr(decimal.NewFromInt(1000))
	req.SellingPrice = ptr(decimal.NewFromInt(2000))
	c, err := e.cases.CreateCase(bg, uuid.Nil, req)
	require.NoError(t, err)
	assert.True(t, c.DPValue.Equal(decimal.NewFromInt(1000)))
	assert.True(t, c.SellingPrice.Equal(decimal.NewFromInt(2000)))
}

func TestCreateCaseWithoutStockIsAtomic(t *testing.T) {
	e := newEnv(t)
	stocked := e.product(t, "P-1", 100)
	empty := e.product(t, "P-2", 100)
	b := e.stock(t, stocked, "B-1", "Storage", 5, nil)

	_, err := e.cases.CreateCase(bg, uuid.Nil, e.caseRequest(
		CaseProductRequest{ProductID: stocked.ID.String(), Quantity: 2},
		CaseProductRequest{ProductID: empty.ID.String(), Quantity: 1},
	))
	assert.ErrorIs(t, err, apperr.ErrNoAvailableInventory)

	assert.Equal(t, 5, e.batch(t, b.ID).Quantity)
	assert.Zero(t, e.count(t, &model.Case{}))
	assert.Zero(t, e.count(t, &model.CaseProduct{}))
	assert.Zero(t, e.count(t, &model.ProductUsage{}))
	assert.Zero(t, e.count(t, &model.CaseStatusHistory{}))
	assert.Equal(t, int64(1), e.count(t, &model.ProductInventoryTransaction{}))
	e.requireLedgerFolds(t, b.ID)
}

func TestCreateCaseLineNotFromInventory(t *testing.T) {
	e := newEnv(t)
	p := e.product(t, "P-1", 100)

	c, err := e.cases.CreateCase(bg, uuid.Nil, e.caseRequest(CaseProductRequest{
		ProductID:         p.ID.String(),
		UsedFromInventory: ptr(false),
	}))
	require.NoError(t, err)
	require.Len(t, c.Products, 1)
	assert.Equal(t, 1, c.Products[0].Quantity)
	assert.Nil(t, c.Products[0].InventoryID)
	assert.Zero(t, e.count(t, &model.ProductUsage{}))
}

func TestCreateCaseRejectsTerminalInitialStatus(t *testing.T) {
	e := newEnv(t)
	req := e.caseRequest()
	req.Status = string(model.CaseStatusCompleted)
	_, err := e.cases.CreateCase(bg, uuid.Nil, req)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	req.Status = string(model.CaseStatusActive)
	c, err := e.cases.CreateCase(bg, uuid.Nil, req)
	require.NoError(t, err)
	assert.Equal(t, model.CaseStatusActive, c.Status)
}

func TestCreateCaseDuplicateNumber(t *testing.T) {
	e := newEnv(t)
	req := e.caseRequest()
	req.CaseNumber = "CASE-FIXED"
	_, err := e.cases.CreateCase(bg, uuid.Nil, req)
	require.NoError(t, err)

	_, err = e.cases.CreateCase(bg, uuid.Nil, req)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestCaseNumberRetriesOnCollision(t *testing.T) {
	e := newEnv(t)
	svc := e.cases.(*caseService)
	numbers := []string{"CASE-A", "CASE-A", "CASE-B"}
	svc.newNumber = func(time.Time) string {
		n := numbers[0]
		numbers = numbers[1:]
		return n
	}

	first, err := e.cases.CreateCase(bg, uuid.Nil, e.caseRequest())
	require.NoError(t, err)
	second, err := e.cases.CreateCase(bg, uuid.Nil, e.caseRequest())
	require.NoError(t, err)
	assert.Equal(t, "CASE-A", first.CaseNumber)
	assert.Equal(t, "CASE-B", second.CaseNumber)
}

func TestUpdateStatusFollowsWorkflow(t *testing.T) {
	e := newEnv(t)
	c, err := e.cases.CreateCase(bg, uuid.Nil, e.caseRequest())
	require.NoError(t, err)
	id := c.ID.String()

	_, err = e.cases.UpdateStatus(bg, uuid.Nil, id, UpdateCaseStatusRequest{Status: "Completed"})
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindConflict, appErr.Kind)
	assert.Equal(t, "Cannot change case status from Pending to Completed", appErr.Message)

	c, err = e.cases.UpdateStatus(bg, uuid.Nil, id, UpdateCaseStatusRequest{Status: "Active"})
	require.NoError(t, err)
	assert.Equal(t, model.CaseStatusActive, c.Status)

	// same status is a no-op without history
	_, err = e.cases.UpdateStatus(bg, uuid.Nil, id, UpdateCaseStatusRequest{Status: "Active"})
	require.NoError(t, err)

	c, err = e.cases.UpdateStatus(bg, uuid.Nil, id, UpdateCaseStatusRequest{Status: "Completed"})
	require.NoError(t, err)
	assert.Equal(t, model.CaseStatusCompleted, c.Status)

	_, err = e.cases.UpdateStatus(bg, uuid.Nil, id, UpdateCaseStatusRequest{Status: "Active"})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	history, err := e.cases.History(bg, id)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestAddCaseProduct(t *testing.T) {
	e := newEnv(t)
	p := e.product(t, "P-1", 10)
	b := e.stock(t, p, "B-1", "Storage", 4, nil)
	c, err := e.cases.CreateCase(bg, uuid.Nil, e.caseRequest())
	require.NoError(t, err)

	c, err = e.cases.AddCaseProduct(bg, uuid.Nil, c.ID.String(), CaseProductRequest{ProductID: p.ID.String(), Quantity: 3, BatchNumber: "B-1"})
	require.NoError(t, err)
	assert.Len(t, c.Products, 1)
	assert.Equal(t, 1, e.batch(t, b.ID).Quantity)

	_, err = e.cases.UpdateStatus(bg, uuid.Nil, c.ID.String(), UpdateCaseStatusRequest{Status: "Cancelled"})
	require.NoError(t, err)
	_, err = e.cases.AddCaseProduct(bg, uuid.Nil, c.ID.String(), CaseProductRequest{ProductID: p.ID.String(), Quantity: 1})
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Equal(t, 1, e.batch(t, b.ID).Quantity)
}

func TestDeleteCaseWithoutUsageRemovesIt(t *testing.T) {
	e := newEnv(t)
	p := e.product(t, "P-1", 10)
	c, err := e.cases.CreateCase(bg, uuid.Nil, e.caseRequest(CaseProductRequest{ProductID: p.ID.String(), UsedFromInventory: ptr(false)}))
	require.NoError(t, err)
	_, err = e.cases.AddNote(bg, uuid.Nil, c.ID.String(), AddNoteRequest{NoteText: "call back"})
	require.NoError(t, err)

	res, err := e.cases.DeleteCase(bg, uuid.Nil, c.ID.String(), DeleteCaseRequest{})
	require.NoError(t, err)
	assert.True(t, res.Deleted)
	assert.Nil(t, res.Case)

	_, err = e.cases.GetCase(bg, c.ID.String())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Zero(t, e.count(t, &model.CaseProduct{}))
	assert.Zero(t, e.count(t, &model.CaseNote{}))
	assert.Zero(t, e.count(t, &model.CaseStatusHistory{}))
}

func TestDeleteCaseWithUsageCancelsIt(t *testing.T) {
	e := newEnv(t)
	p := e.product(t, "P-1", 10)
	b := e.stock(t, p, "B-1", "Storage", 4, nil)
	c, err := e.cases.CreateCase(bg, uuid.Nil, e.caseRequest(CaseProductRequest{ProductID: p.ID.String(), Quantity: 2}))
	require.NoError(t, err)

	res, err := e.cases.DeleteCase(bg, uuid.Nil, c.ID.String(), DeleteCaseRequest{Reason: "surgery postponed"})
	require.NoError(t, err)
	assert.False(t, res.Deleted)
	assert.True(t, res.Cancelled)
	require.NotNil(t, res.Case)
	assert.Equal(t, model.CaseStatusCancelled, res.Case.Status)

	// stock stays consumed, the ledger still points at a live case
	assert.Equal(t, 2, e.batch(t, b.ID).Quantity)
	assert.Equal(t, int64(1), e.count(t, &model.ProductUsage{}))

	again, err := e.cases.DeleteCase(bg, uuid.Nil, c.ID.String(), DeleteCaseRequest{})
	require.NoError(t, err)
	assert.True(t, again.Cancelled)

	history, err := e.cases.History(bg, c.ID.String())
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestCaseChildren(t *testing.T) {
	e := newEnv(t)
	c, err := e.cases.CreateCase(bg, uuid.Nil, e.caseRequest())
	require.NoError(t, err)
	id := c.ID.String()

	_, err = e.cases.AddDocument(bg, uuid.Nil, id, AddDocumentRequest{DocumentName: "consent.pdf", FilePath: "/docs/consent.pdf"})
	require.NoError(t, err)
	_, err = e.cases.AddFollowup(bg, uuid.Nil, id, AddFollowupRequest{FollowupDate: time.Now().AddDate(0, 0, 7), Description: "review"})
	require.NoError(t, err)

	docs, err := e.cases.ListDocuments(bg, id)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
	followups, err := e.cases.ListFollowups(bg, id)
	require.NoError(t, err)
	assert.Len(t, followups, 1)

	_, err = e.cases.AddNote(bg, uuid.Nil, uuid.NewString(), AddNoteRequest{NoteText: "x"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestListCasesFilters(t *testing.T) {
	e := newEnv(t)
	_, err := e.cases.CreateCase(bg, uuid.Nil, e.caseRequest())
	require.NoError(t, err)
	active := e.caseRequest()
	active.Status = "Active"
	_, err = e.cases.CreateCase(bg, uuid.Nil, active)
	require.NoError(t, err)

	got, total, err := e.cases.ListCases(bg, CaseListRequest{Status: "Active"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, model.CaseStatusActive, got[0].Status)

	_, _, err = e.cases.ListCases(bg, CaseListRequest{Status: "Archived"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestUpdateCase(t *testing.T) {
	e := newEnv(t)
	actor := e.user(t, "rep")
	c, err := e.cases.CreateCase(bg, actor.ID, e.caseRequest())
	require.NoError(t, err)
	id := c.ID.String()

	_, err = e.cases.UpdateCase(bg, actor.ID, id, UpdateCaseRequest{PatientName: ptr("John Roe"), Status: "Completed"})
	assert.ErrorIs(t, err, apperr.ErrConflict)
	got, err := e.cases.GetCase(bg, id)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", got.PatientName)

	hospital := uuid.New()
	got, err = e.cases.UpdateCase(bg, actor.ID, id, UpdateCaseRequest{
		PatientName:  ptr("John Roe"),
		HospitalID:   ptr(hospital.String()),
		SellingPrice: ptr(decimal.NewFromInt(900)),
		Status:       "Active",
		StatusNote:   "patient admitted",
		Note:         "bring spare screws",
	})
	require.NoError(t, err)
	assert.Equal(t, "John Roe", got.PatientName)
	assert.Equal(t, hospital, got.HospitalID)
	assert.True(t, got.SellingPrice.Equal(decimal.NewFromInt(900)))
	assert.Equal(t, model.CaseStatusActive, got.Status)

	history, err := e.cases.History(bg, id)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "patient admitted", history[1].Notes)
	assert.Equal(t, model.CaseStatusPending, history[1].PreviousStatus)

	notes, err := e.cases.ListNotes(bg, id)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "bring spare screws", notes[0].NoteText)
	assert.Equal(t, int64(1), e.count(t, &model.AuditLog{}, "action = ?", model.AuditUpdateCase))

	_, err = e.cases.UpdateCase(bg, actor.ID, id, UpdateCaseRequest{PatientName: ptr("  ")})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = e.cases.UpdateCase(bg, actor.ID, id, UpdateCaseRequest{DoctorID: ptr("nope")})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestRemoveCaseProductReturnsStock(t *testing.T) {
	e := newEnv(t)
	usage, b := e.usedCase(t, 4)
	require.NotNil(t, usage.CaseProductID)

	c, err := e.cases.RemoveCaseProduct(bg, uuid.Nil, usage.CaseID.String(), usage.CaseProductID.String())
	require.NoError(t, err)
	assert.Empty(t, c.Products)
	assert.Equal(t, 10, e.batch(t, b.ID).Quantity)
	e.requireLedgerFolds(t, b.ID)
	assert.Zero(t, e.count(t, &model.ProductUsage{}))
	assert.Equal(t, int64(1), e.count(t, &model.AuditLog{}, "action = ?", model.AuditReverseUsage))
}

func TestRemoveCaseProductWithoutUsage(t *testing.T) {
	e := newEnv(t)
	p := e.product(t, "P-1", 10)
	c, err := e.cases.CreateCase(bg, uuid.Nil, e.caseRequest(CaseProductRequest{ProductID: p.ID.String(), UsedFromInventory: ptr(false)}))
	require.NoError(t, err)
	line := c.Products[0].ID.String()

	other, err := e.cases.CreateCase(bg, uuid.Nil, e.caseRequest())
	require.NoError(t, err)
	_, err = e.cases.RemoveCaseProduct(bg, uuid.Nil, other.ID.String(), line)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	c, err = e.cases.RemoveCaseProduct(bg, uuid.Nil, c.ID.String(), line)
	require.NoError(t, err)
	assert.Empty(t, c.Products)
	assert.Zero(t, e.count(t, &model.ProductInventoryTransaction{}))
}

func TestCreateCaseUnknownBatchIsBadRequest(t *testing.T) {
	e := newEnv(t)
	p := e.product(t, "P-1", 10)
	e.stock(t, p, "B-1", "Storage", 4, nil)

	_, err := e.cases.CreateCase(bg, uuid.Nil, e.caseRequest(CaseProductRequest{ProductID: p.ID.String(), Quantity: 1, BatchNumber: "B-9"}))
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindValidation, appErr.Kind)
	assert.Equal(t, "Batch B-9 not found for product Product P-1 (line 1)", appErr.Message)
	assert.Zero(t, e.count(t, &model.Case{}))
}
