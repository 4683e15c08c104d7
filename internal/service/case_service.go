package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"medsales/internal/metrics"
	"medsales/internal/model"
	"medsales/internal/repository"
	"medsales/pkg/apperr"
	"medsales/pkg/pagination"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DTOs
type CaseProductRequest struct {
	ProductID         string           `json:"product" binding:"required,uuid"`
	Quantity          int              `json:"quantity" binding:"gte=0"`
	UnitPrice         decimal.Decimal  `json:"unit_price"`
	DPValue           *decimal.Decimal `json:"dp_value"`
	BatchNumber       string           `json:"batch_number"`
	UsedFromInventory *bool            `json:"used_from_inventory"`
}

// usesInventory defaults to true.
func (r CaseProductRequest) usesInventory() bool {
	return r.UsedFromInventory == nil || *r.UsedFromInventory
}

type CreateCaseRequest struct {
	CaseNumber    string               `json:"case_number" binding:"max=30"`
	PatientName   string               `json:"patient_name" binding:"required,max=100"`
	PatientAge    *int                 `json:"patient_age" binding:"omitempty,gte=0,lte=150"`
	PatientGender string               `json:"patient_gender" binding:"omitempty,oneof=Male Female Other"`
	SurgeryDate   time.Time            `json:"surgery_date" binding:"required"`
	HospitalID    string               `json:"hospital" binding:"required,uuid"`
	DoctorID      string               `json:"doctor" binding:"required,uuid"`
	PrincipleID   string               `json:"principle" binding:"required,uuid"`
	CategoryID    string               `json:"category" binding:"required,uuid"`
	SubcategoryID string               `json:"subcategory" binding:"omitempty,uuid"`
	DPValue       *decimal.Decimal     `json:"dp_value"`
	SellingPrice  *decimal.Decimal     `json:"selling_price"`
	Status        string               `json:"status" binding:"omitempty,case_status"`
	Notes         string               `json:"notes"`
	Products      []CaseProductRequest `json:"products" binding:"dive"`
	Note          string               `json:"note"`
}

type UpdateCaseStatusRequest struct {
	Status string `json:"status" binding:"required,case_status"`
	Notes  string `json:"notes"`
}

// UpdateCaseRequest edits a case. Nil fields are left alone; a status change goes through the
// same transitions as UpdateStatus and Note adds a case note.
type UpdateCaseRequest struct {
	PatientName   *string          `json:"patient_name" binding:"omitempty,min=1,max=100"`
	PatientAge    *int             `json:"patient_age" binding:"omitempty,gte=0,lte=150"`
	PatientGender *string          `json:"patient_gender" binding:"omitempty,oneof=Male Female Other"`
	SurgeryDate   *time.Time       `json:"surgery_date"`
	HospitalID    *string          `json:"hospital" binding:"omitempty,uuid"`
	DoctorID      *string          `json:"doctor" binding:"omitempty,uuid"`
	PrincipleID   *string          `json:"principle" binding:"omitempty,uuid"`
	CategoryID    *string          `json:"category" binding:"omitempty,uuid"`
	SubcategoryID *string          `json:"subcategory" binding:"omitempty,uuid"`
	DPValue       *decimal.Decimal `json:"dp_value"`
	SellingPrice  *decimal.Decimal `json:"selling_price"`
	Notes         *string          `json:"notes"`
	Status        string           `json:"status" binding:"omitempty,case_status"`
	StatusNote    string           `json:"status_note"`
	Note          string           `json:"note"`
}

type DeleteCaseRequest struct {
	Reason string `json:"reason"`
}

type AddNoteRequest struct {
	NoteText string `json:"note_text" binding:"required"`
}

type AddDocumentRequest struct {
	DocumentName string `json:"document_name" binding:"required,max=255"`
	DocumentType string `json:"document_type" binding:"max=100"`
	FilePath     string `json:"file_path" binding:"required,max=500"`
}

type AddFollowupRequest struct {
	FollowupDate time.Time `json:"followup_date" binding:"required"`
	Description  string    `json:"description"`
}

type CaseListRequest struct {
	Status     string     `form:"status"`
	HospitalID string     `form:"hospital"`
	DoctorID   string     `form:"doctor"`
	From       *time.Time `form:"from" time_format:"2006-01-02"`
	To         *time.Time `form:"to" time_format:"2006-01-02"`
	Search     string     `form:"search"`
	Page       int        `form:"page"`
	Limit      int        `form:"limit"`
}

// DeleteCaseResult tells whether the case was removed or cancelled in place.
type DeleteCaseResult struct {
	Deleted   bool        `json:"deleted"`
	Cancelled bool        `json:"cancelled"`
	Case      *model.Case `json:"case,omitempty"`
}

const EventCaseUpdated = "case_updated"

type CaseService interface {
	CreateCase(ctx context.Context, actor uuid.UUID, req CreateCaseRequest) (*model.Case, error)
	GetCase(ctx context.Context, id string) (*model.Case, error)
	ListCases(ctx context.Context, req CaseListRequest) ([]model.Case, int64, error)
	UpdateCase(ctx context.Context, actor uuid.UUID, id string, req UpdateCaseRequest) (*model.Case, error)
	AddCaseProduct(ctx context.Context, actor uuid.UUID, id string, req CaseProductRequest) (*model.Case, error)
	RemoveCaseProduct(ctx context.Context, actor uuid.UUID, id, caseProductID string) (*model.Case, error)
	UpdateStatus(ctx context.Context, actor uuid.UUID, id string, req UpdateCaseStatusRequest) (*model.Case, error)
	DeleteCase(ctx context.Context, actor uuid.UUID, id string, req DeleteCaseRequest) (*DeleteCaseResult, error)

	AddNote(ctx context.Context, actor uuid.UUID, id string, req AddNoteRequest) (*model.CaseNote, error)
	ListNotes(ctx context.Context, id string) ([]model.CaseNote, error)
	AddDocument(ctx context.Context, actor uuid.UUID, id string, req AddDocumentRequest) (*model.CaseDocument, error)
	ListDocuments(ctx context.Context, id string) ([]model.CaseDocument, error)
	AddFollowup(ctx context.Context, actor uuid.UUID, id string, req AddFollowupRequest) (*model.CaseFollowup, error)
	ListFollowups(ctx context.Context, id string) ([]model.CaseFollowup, error)
	History(ctx context.Context, id string) ([]model.CaseStatusHistory, error)
}

type caseService struct {
	caseRepo    repository.CaseRepository
	productRepo repository.ProductRepository
	usageRepo   repository.UsageRepository
	auditRepo   repository.AuditRepository
	txManager   repository.TransactionManager
	ledger      *Ledger
	usage       UsageService
	metrics     *metrics.Metrics
	events      EventPublisher
	now         func() time.Time
	newNumber   func(time.Time) string
}

func NewCaseService(
	caseRepo repository.CaseRepository,
	productRepo repository.ProductRepository,
	usageRepo repository.UsageRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	ledger *Ledger,
	usage UsageService,
	m *metrics.Metrics,
	events EventPublisher,
) CaseService {
	return &caseService{
		caseRepo:    caseRepo,
		productRepo: productRepo,
		usageRepo:   usageRepo,
		auditRepo:   auditRepo,
		txManager:   txManager,
		ledger:      ledger,
		usage:       usage,
		metrics:     m,
		events:      publisherOrNop(events),
		now:         time.Now,
		newNumber:   NewCaseNumber,
	}
}

const (
	caseNumberAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	caseNumberAttempts = 5
)

// NewCaseNumber returns CASE-YYYYMMDD-XXXXX with a random base-36 suffix.
func NewCaseNumber(t time.Time) string {
	var b strings.Builder
	b.WriteString("CASE-")
	b.WriteString(t.UTC().Format("20060102"))
	b.WriteByte('-')
	for i := 0; i < 5; i++ {
		b.WriteByte(caseNumberAlphabet[rand.IntN(len(caseNumberAlphabet))])
	}
	return b.String()
}

// CreateCase stores the case, its lines, the stock each inventory-backed line consumes, the
// initial history entry and the optional note as one unit of work.
func (s *caseService) CreateCase(ctx context.Context, actor uuid.UUID, req CreateCaseRequest) (result *model.Case, err error) {
	defer func() { s.metrics.CaseOutcome("create", err) }()

	c, err := s.newCase(actor, req)
	if err != nil {
		return nil, err
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.assignNumber(txCtx, c, req.CaseNumber); err != nil {
			return err
		}
		if err := s.caseRepo.Create(txCtx, c); err != nil {
			return dbError(err, "", "create case")
		}

		var dpTotal, sellTotal decimal.Decimal
		for i, line := range req.Products {
			cp, err := s.addLine(txCtx, actor, c, i+1, line)
			if err != nil {
				return err
			}
			dpTotal = dpTotal.Add(cp.DPValue.Mul(decimal.NewFromInt(int64(cp.Quantity))))
			sellTotal = sellTotal.Add(cp.TotalAmount)
		}
		if req.DPValue == nil && req.SellingPrice == nil && len(req.Products) > 0 {
			// totals derived from the lines
			c.DPValue, c.SellingPrice = dpTotal, sellTotal
			if err := s.caseRepo.UpdateTotals(txCtx, c); err != nil {
				return dbError(err, "", "update case totals")
			}
		}

		if strings.TrimSpace(req.Note) != "" {
			note := &model.CaseNote{CaseID: c.ID, NoteText: req.Note, CreatedBy: actorPtr(actor)}
			if err := s.caseRepo.CreateNote(txCtx, note); err != nil {
				return dbError(err, "", "create case note")
			}
		}

		history := &model.CaseStatusHistory{
			CaseID:    c.ID,
			NewStatus: c.Status,
			Notes:     "Case created",
			ChangedBy: actorPtr(actor),
		}
		if err := s.caseRepo.CreateHistory(txCtx, history); err != nil {
			return dbError(err, "", "create case history")
		}
		return writeAudit(txCtx, s.auditRepo, actor, model.AuditCreateCase, c.ID.String(), c.CaseNumber, map[string]interface{}{
			"case_number": c.CaseNumber,
			"products":    len(req.Products),
		})
	})
	if err != nil {
		return nil, err
	}

	full, err := s.GetCase(ctx, c.ID.String())
	if err != nil {
		return nil, err
	}
	s.events.Publish(EventCaseUpdated, full)
	return full, nil
}

func (s *caseService) newCase(actor uuid.UUID, req CreateCaseRequest) (*model.Case, error) {
	status := model.CaseStatusPending
	if req.Status != "" {
		status = model.CaseStatus(req.Status)
		if status != model.CaseStatusPending && status != model.CaseStatusActive {
			return nil, apperr.Validation("A new case must be Pending or Active, got %s", req.Status)
		}
	}

	ids := make([]uuid.UUID, 4)
	for i, raw := range []struct{ value, what string }{
		{req.HospitalID, "hospital"},
		{req.DoctorID, "doctor"},
		{req.PrincipleID, "principle"},
		{req.CategoryID, "category"},
	} {
		id, err := parseID(raw.value, raw.what)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}

	c := &model.Case{
		PatientName:   req.PatientName,
		PatientAge:    req.PatientAge,
		PatientGender: req.PatientGender,
		SurgeryDate:   req.SurgeryDate,
		HospitalID:    ids[0],
		DoctorID:      ids[1],
		PrincipleID:   ids[2],
		CategoryID:    ids[3],
		Status:        status,
		Notes:         req.Notes,
		CreatedBy:     actorPtr(actor),
	}
	if req.SubcategoryID != "" {
		id, err := parseID(req.SubcategoryID, "subcategory")
		if err != nil {
			return nil, err
		}
		c.SubcategoryID = &id
	}
	if req.DPValue != nil {
		c.DPValue = *req.DPValue
	}
	if req.SellingPrice != nil {
		c.SellingPrice = *req.SellingPrice
	}
	return c, nil
}

// assignNumber uses the requested number or generates one, retrying on collision.
func (s *caseService) assignNumber(ctx context.Context, c *model.Case, requested string) error {
	if requested != "" {
		exists, err := s.caseRepo.NumberExists(ctx, requested)
		if err != nil {
			return dbError(err, "", "check case number")
		}
		if exists {
			return apperr.Conflict("Case number %s already exists", requested)
		}
		c.CaseNumber = requested
		return nil
	}

	for i := 0; i < caseNumberAttempts; i++ {
		number := s.newNumber(s.now())
		exists, err := s.caseRepo.NumberExists(ctx, number)
		if err != nil {
			return dbError(err, "", "check case number")
		}
		if !exists {
			c.CaseNumber = number
			return nil
		}
	}
	return apperr.Conflict("Could not generate a unique case number, please retry")
}

// addLine writes one case product. Inventory-backed lines consume stock and record usage;
// errors name the product and its position in the request.
func (s *caseService) addLine(ctx context.Context, actor uuid.UUID, c *model.Case, pos int, line CaseProductRequest) (*model.CaseProduct, error) {
	productID, err := parseID(line.ProductID, "product")
	if err != nil {
		return nil, err
	}
	product, err := s.productRepo.FindByID(ctx, productID)
	if err != nil {
		return nil, dbError(err, fmt.Sprintf("Product not found with id of %s (line %d)", line.ProductID, pos), "fetch product")
	}

	quantity := line.Quantity
	if quantity == 0 {
		quantity = 1
	}
	if line.UnitPrice.IsNegative() {
		return nil, apperr.Validation("Unit price for %s cannot be negative", product.Name)
	}

	cp := &model.CaseProduct{
		CaseID:            c.ID,
		ProductID:         product.ID,
		Quantity:          quantity,
		UnitPrice:         line.UnitPrice,
		DPValue:           product.DPValue,
		BatchNumber:       line.BatchNumber,
		UsedFromInventory: line.usesInventory(),
	}
	if line.DPValue != nil {
		cp.DPValue = *line.DPValue
	}

	if !cp.UsedFromInventory {
		if err := s.caseRepo.CreateProduct(ctx, cp); err != nil {
			return nil, dbError(err, "", "create case product")
		}
		return cp, nil
	}

	batch, _, err := s.ledger.Consume(ctx, product, quantity, line.BatchNumber, model.CaseRef(c.ID), actor,
		fmt.Sprintf("Used in case %s", c.CaseNumber))
	if errors.Is(err, apperr.ErrNotFound) {
		// the batch is part of the request, so an unknown one is a bad line
		return nil, apperr.Validation("Batch %s not found for product %s (line %d)", line.BatchNumber, product.Name, pos)
	}
	if err != nil {
		return nil, err
	}

	cp.BatchNumber = batch.BatchNumber
	cp.InventoryID = &batch.ID
	if line.DPValue == nil && !batch.DPValue.IsZero() {
		cp.DPValue = batch.DPValue
	}
	if err := s.caseRepo.CreateProduct(ctx, cp); err != nil {
		return nil, dbError(err, "", "create case product")
	}

	usage := &model.ProductUsage{
		ProductID:     product.ID,
		CaseID:        c.ID,
		CaseProductID: &cp.ID,
		InventoryID:   &batch.ID,
		Quantity:      quantity,
		BatchNumber:   batch.BatchNumber,
		Location:      batch.Location,
		ExpiryDate:    batch.ExpiryDate,
		UsedDate:      c.SurgeryDate,
		DPValue:       cp.DPValue,
		SellingPrice:  cp.UnitPrice,
		CreatedBy:     actorPtr(actor),
	}
	if usage.UsedDate.IsZero() {
		usage.UsedDate = s.now().UTC()
	}
	if err := s.usageRepo.Create(ctx, usage); err != nil {
		return nil, dbError(err, "", "record product usage")
	}
	cp.Usage = usage
	return cp, nil
}

func (s *caseService) GetCase(ctx context.Context, id string) (*model.Case, error) {
	caseID, err := parseID(id, "case")
	if err != nil {
		return nil, err
	}
	c, err := s.caseRepo.FindByID(ctx, caseID)
	if err != nil {
		return nil, dbError(err, fmt.Sprintf("Case not found with id of %s", id), "fetch case")
	}
	return c, nil
}

func (s *caseService) lockCase(ctx context.Context, id string) (*model.Case, error) {
	caseID, err := parseID(id, "case")
	if err != nil {
		return nil, err
	}
	c, err := s.caseRepo.FindByIDForUpdate(ctx, caseID)
	if err != nil {
		return nil, dbError(err, fmt.Sprintf("Case not found with id of %s", id), "lock case")
	}
	return c, nil
}

func (s *caseService) ListCases(ctx context.Context, req CaseListRequest) ([]model.Case, int64, error) {
	page, limit := pageOf(req.Page, req.Limit, pagination.LedgerLimit)
	filter := repository.CaseFilter{
		Status: model.CaseStatus(req.Status),
		From:   req.From,
		To:     req.To,
		Search: req.Search,
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, apperr.Validation("Invalid case status: %s", req.Status)
	}
	if req.HospitalID != "" {
		id, err := parseID(req.HospitalID, "hospital")
		if err != nil {
			return nil, 0, err
		}
		filter.HospitalID = &id
	}
	if req.DoctorID != "" {
		id, err := parseID(req.DoctorID, "doctor")
		if err != nil {
			return nil, 0, err
		}
		filter.DoctorID = &id
	}

	cases, total, err := s.caseRepo.List(ctx, filter, page, limit)
	if err != nil {
		return nil, 0, dbError(err, "", "fetch cases")
	}
	return cases, total, nil
}

func (s *caseService) AddCaseProduct(ctx context.Context, actor uuid.UUID, id string, req CaseProductRequest) (result *model.Case, err error) {
	defer func() { s.metrics.CaseOutcome("add_product", err) }()

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		c, err := s.lockCase(txCtx, id)
		if err != nil {
			return err
		}
		if c.Status == model.CaseStatusCompleted || c.Status == model.CaseStatusCancelled {
			return apperr.Conflict("Cannot add products to a %s case", c.Status)
		}
		cp, err := s.addLine(txCtx, actor, c, 1, req)
		if err != nil {
			return err
		}
		return writeAudit(txCtx, s.auditRepo, actor, model.AuditUpdateCase, c.ID.String(), c.CaseNumber, map[string]interface{}{
			"case_product_id": cp.ID.String(),
			"product_id":      cp.ProductID.String(),
			"quantity":        cp.Quantity,
		})
	})
	if err != nil {
		return nil, err
	}

	full, err := s.GetCase(ctx, id)
	if err != nil {
		return nil, err
	}
	s.events.Publish(EventCaseUpdated, full)
	return full, nil
}

// RemoveCaseProduct drops one line from a case. A line that consumed stock is reversed through
// the usage service, so its quantity goes back to inventory under the same reversal window.
func (s *caseService) RemoveCaseProduct(ctx context.Context, actor uuid.UUID, id, caseProductID string) (result *model.Case, err error) {
	defer func() { s.metrics.CaseOutcome("remove_product", err) }()

	lineID, err := parseID(caseProductID, "case product")
	if err != nil {
		return nil, err
	}
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		c, err := s.lockCase(txCtx, id)
		if err != nil {
			return err
		}
		if c.Status == model.CaseStatusCompleted || c.Status == model.CaseStatusCancelled {
			return apperr.Conflict("Cannot remove products from a %s case", c.Status)
		}
		cp, err := s.caseRepo.FindProduct(txCtx, lineID)
		if err != nil || cp.CaseID != c.ID {
			return dbError(notFoundOr(err), fmt.Sprintf("Case product %s not found in case %s", caseProductID, id), "fetch case product")
		}

		if cp.Usage != nil {
			if _, err := s.usage.DeleteUsage(txCtx, actor, cp.Usage.ID.String()); err != nil {
				return err
			}
		} else if err := s.caseRepo.DeleteProduct(txCtx, cp.ID); err != nil {
			return dbError(err, "", "delete case product")
		}

		return writeAudit(txCtx, s.auditRepo, actor, model.AuditUpdateCase, c.ID.String(), c.CaseNumber, map[string]interface{}{
			"removed_case_product_id": cp.ID.String(),
			"product_id":              cp.ProductID.String(),
			"quantity":                cp.Quantity,
			"returned":                cp.Usage != nil,
		})
	})
	if err != nil {
		return nil, err
	}

	full, err := s.GetCase(ctx, id)
	if err != nil {
		return nil, err
	}
	s.events.Publish(EventCaseUpdated, full)
	return full, nil
}

// notFoundOr maps a nil error (row exists but belongs elsewhere) to gorm.ErrRecordNotFound.
func notFoundOr(err error) error {
	if err == nil {
		return gorm.ErrRecordNotFound
	}
	return err
}

// UpdateCase edits the case fields, then applies the optional status change and note.
func (s *caseService) UpdateCase(ctx context.Context, actor uuid.UUID, id string, req UpdateCaseRequest) (*model.Case, error) {
	fields, err := req.fields()
	if err != nil {
		return nil, err
	}
	next := model.CaseStatus(req.Status)
	if next != "" && !next.Valid() {
		return nil, apperr.Validation("Invalid case status: %s", req.Status)
	}

	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		c, err := s.lockCase(txCtx, id)
		if err != nil {
			return err
		}
		if len(fields) > 0 {
			if err := s.caseRepo.UpdateFields(txCtx, c.ID, fields); err != nil {
				return dbError(err, "", "update case")
			}
		}
		if next != "" && next != c.Status {
			if !c.Status.CanTransitionTo(next) {
				return apperr.Conflict("Cannot change case status from %s to %s", c.Status, next)
			}
			if err := s.setStatus(txCtx, actor, c, next, notesOr(req.StatusNote, "Status updated")); err != nil {
				return err
			}
		}
		if strings.TrimSpace(req.Note) != "" {
			note := &model.CaseNote{CaseID: c.ID, NoteText: req.Note, CreatedBy: actorPtr(actor)}
			if err := s.caseRepo.CreateNote(txCtx, note); err != nil {
				return dbError(err, "", "create case note")
			}
		}

		changed := make([]string, 0, len(fields))
		for k := range fields {
			changed = append(changed, k)
		}
		sort.Strings(changed)
		return writeAudit(txCtx, s.auditRepo, actor, model.AuditUpdateCase, c.ID.String(), c.CaseNumber, map[string]interface{}{
			"fields": changed,
			"status": string(c.Status),
		})
	})
	if err != nil {
		return nil, err
	}

	full, err := s.GetCase(ctx, id)
	if err != nil {
		return nil, err
	}
	s.events.Publish(EventCaseUpdated, full)
	return full, nil
}

// fields returns the column updates the request asks for, keyed by column name.
func (r UpdateCaseRequest) fields() (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if r.PatientName != nil {
		if strings.TrimSpace(*r.PatientName) == "" {
			return nil, apperr.Validation("Patient name cannot be empty")
		}
		out["patient_name"] = *r.PatientName
	}
	if r.PatientAge != nil {
		out["patient_age"] = *r.PatientAge
	}
	if r.PatientGender != nil {
		out["patient_gender"] = *r.PatientGender
	}
	if r.SurgeryDate != nil {
		out["surgery_date"] = *r.SurgeryDate
	}
	for _, ref := range []struct {
		raw    *string
		column string
		what   string
	}{
		{r.HospitalID, "hospital_id", "hospital"},
		{r.DoctorID, "doctor_id", "doctor"},
		{r.PrincipleID, "principle_id", "principle"},
		{r.CategoryID, "category_id", "category"},
	} {
		if ref.raw == nil {
			continue
		}
		id, err := parseID(*ref.raw, ref.what)
		if err != nil {
			return nil, err
		}
		out[ref.column] = id
	}
	if r.SubcategoryID != nil {
		if *r.SubcategoryID == "" {
			out["subcategory_id"] = nil
		} else {
			id, err := parseID(*r.SubcategoryID, "subcategory")
			if err != nil {
				return nil, err
			}
			out["subcategory_id"] = id
		}
	}
	if r.DPValue != nil {
		if r.DPValue.IsNegative() {
			return nil, apperr.Validation("DP value cannot be negative")
		}
		out["dp_value"] = *r.DPValue
	}
	if r.SellingPrice != nil {
		if r.SellingPrice.IsNegative() {
			return nil, apperr.Validation("Selling price cannot be negative")
		}
		out["selling_price"] = *r.SellingPrice
	}
	if r.Notes != nil {
		out["notes"] = *r.Notes
	}
	return out, nil
}

// UpdateStatus moves the case along Pending -> Active -> Completed|Cancelled. Setting the
// current status returns the case unchanged without a history entry.
func (s *caseService) UpdateStatus(ctx context.Context, actor uuid.UUID, id string, req UpdateCaseStatusRequest) (*model.Case, error) {
	next := model.CaseStatus(req.Status)
	if !next.Valid() {
		return nil, apperr.Validation("Invalid case status: %s", req.Status)
	}

	changed := false
	err := s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		c, err := s.lockCase(txCtx, id)
		if err != nil {
			return err
		}
		if c.Status == next {
			return nil
		}
		if !c.Status.CanTransitionTo(next) {
			return apperr.Conflict("Cannot change case status from %s to %s", c.Status, next)
		}
		if err := s.setStatus(txCtx, actor, c, next, notesOr(req.Notes, "Status updated")); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	full, err := s.GetCase(ctx, id)
	if err != nil {
		return nil, err
	}
	if changed {
		s.events.Publish(EventCaseUpdated, full)
	}
	return full, nil
}

func (s *caseService) setStatus(ctx context.Context, actor uuid.UUID, c *model.Case, next model.CaseStatus, notes string) error {
	if err := s.caseRepo.UpdateStatus(ctx, c.ID, next); err != nil {
		return dbError(err, "", "update case status")
	}
	history := &model.CaseStatusHistory{
		CaseID:         c.ID,
		PreviousStatus: c.Status,
		NewStatus:      next,
		Notes:          notes,
		ChangedBy:      actorPtr(actor),
	}
	if err := s.caseRepo.CreateHistory(ctx, history); err != nil {
		return dbError(err, "", "create case history")
	}
	c.Status = next
	return nil
}

// DeleteCase hard-deletes a case that consumed no stock. A case with usage records is
// cancelled instead so the ledger keeps pointing at a live case.
func (s *caseService) DeleteCase(ctx context.Context, actor uuid.UUID, id string, req DeleteCaseRequest) (result *DeleteCaseResult, err error) {
	defer func() { s.metrics.CaseOutcome("delete", err) }()

	result = &DeleteCaseResult{}
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		c, err := s.lockCase(txCtx, id)
		if err != nil {
			return err
		}
		used, err := s.usageRepo.CountByCase(txCtx, c.ID)
		if err != nil {
			return dbError(err, "", "count product usage")
		}

		if used == 0 {
			if err := s.caseRepo.DeleteWithChildren(txCtx, c.ID); err != nil {
				return dbError(err, "", "delete case")
			}
			result.Deleted = true
			return writeAudit(txCtx, s.auditRepo, actor, model.AuditDeleteCase, c.ID.String(), c.CaseNumber, req)
		}

		result.Cancelled = true
		if c.Status == model.CaseStatusCancelled {
			return nil
		}
		reason := notesOr(req.Reason, fmt.Sprintf("Case cancelled instead of deleted: %d products were used from inventory", used))
		if err := s.setStatus(txCtx, actor, c, model.CaseStatusCancelled, reason); err != nil {
			return err
		}
		return writeAudit(txCtx, s.auditRepo, actor, model.AuditCancelCase, c.ID.String(), c.CaseNumber, req)
	})
	if err != nil {
		return nil, err
	}

	if result.Cancelled {
		if result.Case, err = s.GetCase(ctx, id); err != nil {
			return nil, err
		}
		s.events.Publish(EventCaseUpdated, result.Case)
	}
	return result, nil
}

// --- Children ---

func (s *caseService) findCaseID(ctx context.Context, id string) (uuid.UUID, error) {
	c, err := s.GetCase(ctx, id)
	if err != nil {
		return uuid.Nil, err
	}
	return c.ID, nil
}

func (s *caseService) AddNote(ctx context.Context, actor uuid.UUID, id string, req AddNoteRequest) (*model.CaseNote, error) {
	if strings.TrimSpace(req.NoteText) == "" {
		return nil, apperr.Validation("Note text is required")
	}
	caseID, err := s.findCaseID(ctx, id)
	if err != nil {
		return nil, err
	}
	note := &model.CaseNote{CaseID: caseID, NoteText: req.NoteText, CreatedBy: actorPtr(actor)}
	if err := s.caseRepo.CreateNote(ctx, note); err != nil {
		return nil, dbError(err, "", "create case note")
	}
	return note, nil
}

func (s *caseService) ListNotes(ctx context.Context, id string) ([]model.CaseNote, error) {
	caseID, err := s.findCaseID(ctx, id)
	if err != nil {
		return nil, err
	}
	notes, err := s.caseRepo.ListNotes(ctx, caseID)
	if err != nil {
		return nil, dbError(err, "", "fetch case notes")
	}
	return notes, nil
}

func (s *caseService) AddDocument(ctx context.Context, actor uuid.UUID, id string, req AddDocumentRequest) (*model.CaseDocument, error) {
	caseID, err := s.findCaseID(ctx, id)
	if err != nil {
		return nil, err
	}
	doc := &model.CaseDocument{
		CaseID:       caseID,
		DocumentName: req.DocumentName,
		DocumentType: req.DocumentType,
		FilePath:     req.FilePath,
		UploadedBy:   actorPtr(actor),
	}
	if err := s.caseRepo.CreateDocument(ctx, doc); err != nil {
		return nil, dbError(err, "", "create case document")
	}
	return doc, nil
}

func (s *caseService) ListDocuments(ctx context.Context, id string) ([]model.CaseDocument, error) {
	caseID, err := s.findCaseID(ctx, id)
	if err != nil {
		return nil, err
	}
	docs, err := s.caseRepo.ListDocuments(ctx, caseID)
	if err != nil {
		return nil, dbError(err, "", "fetch case documents")
	}
	return docs, nil
}

func (s *caseService) AddFollowup(ctx context.Context, actor uuid.UUID, id string, req AddFollowupRequest) (*model.CaseFollowup, error) {
	caseID, err := s.findCaseID(ctx, id)
	if err != nil {
		return nil, err
	}
	f := &model.CaseFollowup{
		CaseID:       caseID,
		FollowupDate: req.FollowupDate,
		Description:  req.Description,
		CreatedBy:    actorPtr(actor),
	}
	if err := s.caseRepo.CreateFollowup(ctx, f); err != nil {
		return nil, dbError(err, "", "create case followup")
	}
	return f, nil
}

func (s *caseService) ListFollowups(ctx context.Context, id string) ([]model.CaseFollowup, error) {
	caseID, err := s.findCaseID(ctx, id)
	if err != nil {
		return nil, err
	}
	followups, err := s.caseRepo.ListFollowups(ctx, caseID)
	if err != nil {
		return nil, dbError(err, "", "fetch case followups")
	}
	return followups, nil
}

func (s *caseService) History(ctx context.Context, id string) ([]model.CaseStatusHistory, error) {
	caseID, err := s.findCaseID(ctx, id)
	if err != nil {
		return nil, err
	}
	history, err := s.caseRepo.ListHistory(ctx, caseID)
	if err != nil {
		return nil, dbError(err, "", "fetch case history")
	}
	return history, nil
}
