package service

import (
	"context"
	"encoding/json"
	"errors"

	"medsales/internal/model"
	"medsales/internal/repository"
	"medsales/pkg/apperr"
	"medsales/pkg/pagination"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// dbError turns a repository error into an apperr. notFound is used for gorm.ErrRecordNotFound.
func dbError(err error, notFound, op string) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return apperr.NotFound("%s", notFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return apperr.Conflict("Duplicate value: %s", op)
	default:
		return apperr.Infrastructure(err, "failed to "+op)
	}
}

func parseID(raw, what string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.Validation("Invalid %s id '%s'", what, raw)
	}
	return id, nil
}

func parseIDs(raw []string, what string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	seen := make(map[uuid.UUID]bool, len(raw))
	for _, r := range raw {
		id, err := parseID(r, what)
		if err != nil {
			return nil, err
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// actorPtr returns nil for the zero id so automated jobs are recorded without a user.
func actorPtr(actor uuid.UUID) *uuid.UUID {
	if actor == uuid.Nil {
		return nil
	}
	return &actor
}

func pageOf(page, limit, defaultLimit int) (int, int) {
	p := pagination.Normalize(page, limit, defaultLimit)
	return p.Page, p.Limit
}

// EventPublisher pushes realtime notifications to connected clients. Publishing never fails the caller.
type EventPublisher interface {
	Publish(event string, data interface{})
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, interface{}) {}

func publisherOrNop(p EventPublisher) EventPublisher {
	if p == nil {
		return nopPublisher{}
	}
	return p
}

// writeAudit records an audit row in the caller's transaction.
func writeAudit(ctx context.Context, repo repository.AuditRepository, actor uuid.UUID, action, entityID, entityName string, details interface{}) error {
	payload, _ := json.Marshal(details)
	entry := &model.AuditLog{
		UserID:     actorPtr(actor),
		Action:     action,
		EntityID:   entityID,
		EntityName: entityName,
		Details:    string(payload),
	}
	if err := repo.Log(ctx, entry); err != nil {
		return apperr.Infrastructure(err, "failed to write audit log")
	}
	return nil
}

// Invalidator drops memoized authorization decisions.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// invalidate runs after commit. A failure only leaves decisions to age out, so it is logged.
func invalidate(ctx context.Context, cache Invalidator, log *logrus.Logger) {
	if cache == nil {
		return
	}
	if err := cache.Invalidate(ctx); err != nil {
		if log == nil {
			log = logrus.StandardLogger()
		}
		log.WithError(err).Warn("failed to invalidate authorization cache")
	}
}
