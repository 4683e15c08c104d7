package service

import (
	"context"
	"time"

	"medsales/internal/model"
	"medsales/internal/repository"
	"medsales/pkg/pagination"
)

type AuditListRequest struct {
	Action   string     `form:"action"`
	EntityID string     `form:"entity_id"`
	UserID   string     `form:"user_id"`
	From     *time.Time `form:"from" time_format:"2006-01-02"`
	To       *time.Time `form:"to" time_format:"2006-01-02"`
	Page     int        `form:"page"`
	Limit    int        `form:"limit"`
}

type AuditLogResponse struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	Username   string `json:"username"`
	Action     string `json:"action"`
	EntityID   string `json:"entity_id"`
	EntityName string `json:"entity_name"`
	Details    string `json:"details"`
	CreatedAt  string `json:"created_at"`
}

type AuditService interface {
	GetAuditLogs(ctx context.Context, req AuditListRequest) ([]AuditLogResponse, int64, error)
}

type auditService struct {
	repo repository.AuditRepository
}

func NewAuditService(repo repository.AuditRepository) AuditService {
	return &auditService{repo: repo}
}

// GetAuditLogs returns the newest entries first. Rows written by scheduled jobs show as System.
func (s *auditService) GetAuditLogs(ctx context.Context, req AuditListRequest) ([]AuditLogResponse, int64, error) {
	page, limit := pageOf(req.Page, req.Limit, pagination.DefaultLimit)

	filter := repository.AuditFilter{
		Action:   req.Action,
		EntityID: req.EntityID,
		From:     req.From,
		To:       req.To,
	}
	if req.UserID != "" {
		id, err := parseID(req.UserID, "user")
		if err != nil {
			return nil, 0, err
		}
		filter.UserID = &id
	}
	if req.To != nil {
		end := req.To.AddDate(0, 0, 1)
		filter.To = &end
	}

	logs, total, err := s.repo.List(ctx, filter, page, limit)
	if err != nil {
		return nil, 0, dbError(err, "", "load audit logs")
	}

	res := make([]AuditLogResponse, 0, len(logs))
	for _, l := range logs {
		res = append(res, toAuditLogResponse(l))
	}
	return res, total, nil
}

func toAuditLogResponse(l model.AuditLog) AuditLogResponse {
	resp := AuditLogResponse{
		ID:         l.ID.String(),
		Username:   "System",
		Action:     l.Action,
		EntityID:   l.EntityID,
		EntityName: l.EntityName,
		Details:    l.Details,
		CreatedAt:  l.CreatedAt.UTC().Format(time.RFC3339),
	}
	if l.UserID != nil {
		resp.UserID = l.UserID.String()
	}
	if l.User != nil {
		resp.Username = l.User.Username
	}
	return resp
}
