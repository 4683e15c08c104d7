package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"medsales/internal/authz"
	"medsales/internal/model"
	"medsales/internal/repository"
	"medsales/pkg/apperr"
	"medsales/pkg/pagination"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// UsageResource is the permission resource for usage records. Holding manage on it lifts the
// reversal window.
const UsageResource = "product_usage"

type UsageListRequest struct {
	CaseID    string `form:"case"`
	ProductID string `form:"product"`
	Page      int    `form:"page"`
	Limit     int    `form:"limit"`
}

type UsageReversal struct {
	Usage       model.ProductUsage                 `json:"usage"`
	Batch       BatchResponse                      `json:"batch"`
	Transaction *model.ProductInventoryTransaction `json:"transaction"`
	Recreated   bool                               `json:"recreated"`
}

// UpdateUsageRequest changes the commercial side of a usage record only. Quantity and batch
// are fixed once stock has moved; reverse the usage to change them.
type UpdateUsageRequest struct {
	Notes        *string          `json:"notes"`
	SellingPrice *decimal.Decimal `json:"selling_price"`
}

type UsageStatisticsRequest struct {
	StartDate *time.Time `form:"start_date" time_format:"2006-01-02"`
	EndDate   *time.Time `form:"end_date" time_format:"2006-01-02"`
}

// ProductUsageStats aggregates the usage of one product over the requested range.
type ProductUsageStats struct {
	ProductID         uuid.UUID       `json:"product_id"`
	ProductName       string          `json:"product_name"`
	ProductCode       string          `json:"product_code"`
	CaseCount         int             `json:"case_count"`
	TotalQuantityUsed int             `json:"total_quantity_used"`
	TotalRevenue      decimal.Decimal `json:"total_revenue"`
	TotalProfit       decimal.Decimal `json:"total_profit"`
	AvgSellingPrice   decimal.Decimal `json:"avg_selling_price"`
	LastUsedDate      time.Time       `json:"last_used_date"`
}

type UsageSummary struct {
	TotalRevenue  decimal.Decimal `json:"total_revenue"`
	TotalProfit   decimal.Decimal `json:"total_profit"`
	TotalQuantity int             `json:"total_quantity"`
	TotalCases    int             `json:"total_cases"`
	ProfitMargin  decimal.Decimal `json:"profit_margin"`
	StartDate     time.Time       `json:"start_date"`
	EndDate       time.Time       `json:"end_date"`
}

type UsageStatistics struct {
	Products []ProductUsageStats `json:"products"`
	Summary  UsageSummary        `json:"summary"`
}

type UsageService interface {
	DeleteUsage(ctx context.Context, actor uuid.UUID, id string) (*UsageReversal, error)
	UpdateUsage(ctx context.Context, actor uuid.UUID, id string, req UpdateUsageRequest) (*model.ProductUsage, error)
	ListUsage(ctx context.Context, req UsageListRequest) ([]model.ProductUsage, int64, error)
	Statistics(ctx context.Context, req UsageStatisticsRequest) (*UsageStatistics, error)
}

type usageService struct {
	usageRepo  repository.UsageRepository
	batchRepo  repository.InventoryRepository
	caseRepo   repository.CaseRepository
	auditRepo  repository.AuditRepository
	txManager  repository.TransactionManager
	ledger     *Ledger
	authorizer authz.Authorizer
	events     EventPublisher
	window     time.Duration
	now        func() time.Time
}

func NewUsageService(
	usageRepo repository.UsageRepository,
	batchRepo repository.InventoryRepository,
	caseRepo repository.CaseRepository,
	auditRepo repository.AuditRepository,
	txManager repository.TransactionManager,
	ledger *Ledger,
	authorizer authz.Authorizer,
	events EventPublisher,
	window time.Duration,
) UsageService {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &usageService{
		usageRepo:  usageRepo,
		batchRepo:  batchRepo,
		caseRepo:   caseRepo,
		auditRepo:  auditRepo,
		txManager:  txManager,
		ledger:     ledger,
		authorizer: authorizer,
		events:     publisherOrNop(events),
		window:     window,
		now:        time.Now,
	}
}

func (s *usageService) elevated(ctx context.Context, actor uuid.UUID) (bool, error) {
	if s.authorizer == nil || actor == uuid.Nil {
		return false, nil
	}
	d, err := s.authorizer.Authorize(ctx, authz.Request{
		UserID:   actor,
		Resource: UsageResource,
		Action:   model.ActionManage,
	}, nil)
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}

// DeleteUsage undoes a consumption: the quantity goes back to the originating batch, or to a
// recreated batch at the default return location, with a Returned ledger entry. The usage row
// and its case line are removed.
func (s *usageService) DeleteUsage(ctx context.Context, actor uuid.UUID, id string) (*UsageReversal, error) {
	usageID, err := parseID(id, "product usage")
	if err != nil {
		return nil, err
	}

	var out UsageReversal
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		usage, err := s.usageRepo.FindByIDForUpdate(txCtx, usageID)
		if err != nil {
			return dbError(err, fmt.Sprintf("Product usage not found with id of %s", id), "lock product usage")
		}

		if s.now().Sub(usage.CreatedAt) > s.window {
			ok, err := s.elevated(txCtx, actor)
			if err != nil {
				return err
			}
			if !ok {
				return apperr.Forbidden("Product usage can only be deleted within %s of creation", humanWindow(s.window))
			}
		}

		batch, err := s.originBatch(txCtx, usage)
		if err != nil {
			return err
		}

		m := Movement{
			Type:       model.TxReturned,
			Delta:      usage.Quantity,
			Reference:  model.CaseRef(usage.CaseID),
			Notes:      "Returned from deleted product usage",
			Actor:      actor,
			LocationTo: model.DefaultReturnLocation,
		}
		var entry *model.ProductInventoryTransaction
		if batch != nil {
			m.LocationTo = batch.Location
			entry, err = s.ledger.Apply(txCtx, batch, m)
		} else {
			out.Recreated = true
			batch = &model.ProductInventory{
				ProductID:   usage.ProductID,
				BatchNumber: usage.BatchNumber,
				Location:    model.DefaultReturnLocation,
				DPValue:     usage.DPValue,
				ExpiryDate:  usage.ExpiryDate,
			}
			entry, err = s.ledger.Open(txCtx, batch, m)
		}
		if err != nil {
			return err
		}

		if err := s.usageRepo.Delete(txCtx, usage.ID); err != nil {
			return dbError(err, "", "delete product usage")
		}
		if usage.CaseProductID != nil {
			if err := s.caseRepo.DeleteProduct(txCtx, *usage.CaseProductID); err != nil {
				return dbError(err, "", "delete case product")
			}
		}

		out.Usage = *usage
		out.Batch = toBatchResponse(*batch)
		out.Transaction = entry
		return writeAudit(txCtx, s.auditRepo, actor, model.AuditReverseUsage, usage.ID.String(), usage.BatchNumber, map[string]interface{}{
			"case_id":      usage.CaseID.String(),
			"quantity":     usage.Quantity,
			"inventory_id": batch.ID.String(),
			"recreated":    out.Recreated,
		})
	})
	if err != nil {
		return nil, err
	}

	s.events.Publish(EventInventoryUpdated, out)
	return &out, nil
}

// originBatch locks the batch the usage came from, falling back to any batch with the same
// product and number. Nil means it no longer exists.
func (s *usageService) originBatch(ctx context.Context, usage *model.ProductUsage) (*model.ProductInventory, error) {
	if usage.InventoryID != nil {
		batch, err := s.batchRepo.FindByIDForUpdate(ctx, *usage.InventoryID)
		if err == nil {
			return batch, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, dbError(err, "", "lock inventory batch")
		}
	}
	if usage.BatchNumber == "" {
		return nil, nil
	}
	batch, err := s.batchRepo.FindBatchForUpdate(ctx, usage.ProductID, usage.BatchNumber)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError(err, "", "lock inventory batch")
	}
	return batch, nil
}

func (s *usageService) ListUsage(ctx context.Context, req UsageListRequest) ([]model.ProductUsage, int64, error) {
	page, limit := pageOf(req.Page, req.Limit, pagination.LedgerLimit)
	var filter repository.UsageFilter
	if req.CaseID != "" {
		id, err := parseID(req.CaseID, "case")
		if err != nil {
			return nil, 0, err
		}
		filter.CaseID = &id
	}
	if req.ProductID != "" {
		id, err := parseID(req.ProductID, "product")
		if err != nil {
			return nil, 0, err
		}
		filter.ProductID = &id
	}

	usages, total, err := s.usageRepo.List(ctx, filter, page, limit)
	if err != nil {
		return nil, 0, dbError(err, "", "fetch product usage")
	}
	return usages, total, nil
}

func (s *usageService) UpdateUsage(ctx context.Context, actor uuid.UUID, id string, req UpdateUsageRequest) (*model.ProductUsage, error) {
	usageID, err := parseID(id, "product usage")
	if err != nil {
		return nil, err
	}
	fields := map[string]interface{}{}
	if req.Notes != nil {
		fields["notes"] = *req.Notes
	}
	if req.SellingPrice != nil {
		if req.SellingPrice.IsNegative() {
			return nil, apperr.Validation("Selling price cannot be negative")
		}
		fields["selling_price"] = *req.SellingPrice
	}

	var usage *model.ProductUsage
	err = s.txManager.RunInTx(ctx, func(txCtx context.Context) error {
		usage, err = s.usageRepo.FindByIDForUpdate(txCtx, usageID)
		if err != nil {
			return dbError(err, fmt.Sprintf("Product usage not found with id of %s", id), "lock product usage")
		}
		if len(fields) == 0 {
			return nil
		}
		if err := s.usageRepo.UpdateFields(txCtx, usage.ID, fields); err != nil {
			return dbError(err, "", "update product usage")
		}
		if req.Notes != nil {
			usage.Notes = *req.Notes
		}
		if req.SellingPrice != nil {
			usage.SellingPrice = *req.SellingPrice
		}
		return writeAudit(txCtx, s.auditRepo, actor, model.AuditUpdateUsage, usage.ID.String(), usage.BatchNumber, fields)
	})
	if err != nil {
		return nil, err
	}
	return usage, nil
}

// Statistics groups usage by product between start and end, both inclusive by day. The range
// defaults to the month before now. Products are ordered by revenue, highest first.
func (s *usageService) Statistics(ctx context.Context, req UsageStatisticsRequest) (*UsageStatistics, error) {
	now := s.now().UTC()
	end := endOfDay(now)
	if req.EndDate != nil {
		end = endOfDay(req.EndDate.UTC())
	}
	start := now.AddDate(0, -1, 0)
	if req.StartDate != nil {
		start = req.StartDate.UTC()
	}
	if start.After(end) {
		return nil, apperr.Validation("start_date must not be after end_date")
	}

	usages, err := s.usageRepo.FindUsedBetween(ctx, start, end)
	if err != nil {
		return nil, dbError(err, "", "fetch product usage")
	}

	type acc struct {
		stats    ProductUsageStats
		cases    map[uuid.UUID]struct{}
		priceSum decimal.Decimal
		records  int64
	}
	byProduct := map[uuid.UUID]*acc{}
	allCases := map[uuid.UUID]struct{}{}
	out := &UsageStatistics{Products: []ProductUsageStats{}}
	out.Summary.StartDate, out.Summary.EndDate = start, end

	for _, u := range usages {
		a, ok := byProduct[u.ProductID]
		if !ok {
			a = &acc{stats: ProductUsageStats{ProductID: u.ProductID}, cases: map[uuid.UUID]struct{}{}}
			if u.Product != nil {
				a.stats.ProductName, a.stats.ProductCode = u.Product.Name, u.Product.ProductCode
			}
			byProduct[u.ProductID] = a
		}
		qty := decimal.NewFromInt(int64(u.Quantity))
		revenue := u.SellingPrice.Mul(qty)
		profit := u.SellingPrice.Sub(u.DPValue).Mul(qty)

		a.cases[u.CaseID] = struct{}{}
		a.stats.TotalQuantityUsed += u.Quantity
		a.stats.TotalRevenue = a.stats.TotalRevenue.Add(revenue)
		a.stats.TotalProfit = a.stats.TotalProfit.Add(profit)
		a.priceSum = a.priceSum.Add(u.SellingPrice)
		a.records++
		if u.UsedDate.After(a.stats.LastUsedDate) {
			a.stats.LastUsedDate = u.UsedDate
		}

		allCases[u.CaseID] = struct{}{}
		out.Summary.TotalQuantity += u.Quantity
		out.Summary.TotalRevenue = out.Summary.TotalRevenue.Add(revenue)
		out.Summary.TotalProfit = out.Summary.TotalProfit.Add(profit)
	}

	for _, a := range byProduct {
		st := a.stats
		st.AvgSellingPrice = a.priceSum.Div(decimal.NewFromInt(a.records)).Round(2)
		st.CaseCount = len(a.cases)
		out.Products = append(out.Products, st)
	}
	sort.Slice(out.Products, func(i, j int) bool {
		if c := out.Products[i].TotalRevenue.Cmp(out.Products[j].TotalRevenue); c != 0 {
			return c > 0
		}
		return out.Products[i].ProductCode < out.Products[j].ProductCode
	})

	out.Summary.TotalCases = len(allCases)
	if out.Summary.TotalRevenue.IsPositive() {
		out.Summary.ProfitMargin = out.Summary.TotalProfit.Div(out.Summary.TotalRevenue).Mul(decimal.NewFromInt(100)).Round(2)
	}
	return out, nil
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, int(time.Second-time.Nanosecond), t.Location())
}

func humanWindow(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%d hours", int(d/time.Hour))
	}
	return d.String()
}
