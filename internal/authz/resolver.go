// Package authz decides whether a user may perform an action on a resource by combining
// direct user grants with role-derived grants.
package authz

import (
	"context"
	"fmt"
	"time"

	"medsales/internal/metrics"
	"medsales/internal/model"
	"medsales/pkg/apperr"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Request is one authorization question.
type Request struct {
	UserID     uuid.UUID
	Tenant     string
	Resource   string
	Action     model.Action
	ResourceID string                 // optional instance id
	Attributes map[string]interface{} // request context for condition checks
}

func (r Request) normalized() Request {
	if r.Tenant == "" {
		r.Tenant = model.DefaultTenant
	}
	return r
}

// AttributeCheck evaluates a grant's stored conditions against the request.
type AttributeCheck func(ctx context.Context, req Request, conditions map[string]interface{}) (bool, error)

const (
	SourceDirect = "direct"
	SourceRole   = "role"
	SourceDeny   = "deny"
	SourceNone   = "none"
)

// Decision is the resolver's answer. Reason is safe to show clients; Source is for logs and metrics.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Source  string `json:"-"`
}

func allow(source string) Decision {
	return Decision{Allowed: true, Source: source}
}

func deny(req Request, source string) Decision {
	return Decision{Reason: DenyMessage(req.Resource, req.Action), Source: source}
}

// DenyMessage never says which grant or condition failed.
func DenyMessage(resource string, action model.Action) string {
	return fmt.Sprintf("Not authorized to %s on %s", action, resource)
}

// Store loads a user's grants for one tenant. Expired rows may be returned; the resolver filters them.
type Store interface {
	ListUserPermissions(ctx context.Context, userID uuid.UUID, tenant string) ([]model.UserPermission, error)
	ListUserRoles(ctx context.Context, userID uuid.UUID, tenant string) ([]model.UserRole, error)
}

// Authorizer is what middleware and services depend on.
type Authorizer interface {
	Authorize(ctx context.Context, req Request, check AttributeCheck) (Decision, error)
}

type Resolver struct {
	store   Store
	cache   DecisionCache
	metrics *metrics.Metrics
	log     *logrus.Logger
	now     func() time.Time
}

type Option func(*Resolver)

func WithCache(cache DecisionCache) Option {
	return func(r *Resolver) { r.cache = cache }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

func WithLogger(log *logrus.Logger) Option {
	return func(r *Resolver) { r.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

func NewResolver(store Store, opts ...Option) *Resolver {
	r := &Resolver{
		store: store,
		log:   logrus.StandardLogger(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Authorize answers req. Deny is a normal Decision; the error is reserved for datastore and
// condition-evaluation failures and is always an apperr infrastructure error.
func (r *Resolver) Authorize(ctx context.Context, req Request, check AttributeCheck) (Decision, error) {
	req = req.normalized()
	if !req.Action.Valid() || req.Resource == "" {
		return r.record(req, deny(req, SourceNone)), nil
	}

	cacheable := r.cache != nil && check == nil && len(req.Attributes) == 0
	var lookup Cached
	if cacheable {
		var err error
		lookup, err = r.cache.Get(ctx, req)
		switch {
		case err != nil:
			r.log.WithError(err).Warn("authz cache lookup failed")
			r.metrics.AuthzCache("error")
			cacheable = false
		case lookup.Usable(r.now()):
			r.metrics.AuthzCache("hit")
			return r.record(req, lookup.Decision), nil
		default:
			r.metrics.AuthzCache("miss")
		}
	}

	d, until, err := r.resolve(ctx, req, check)
	if err != nil {
		return Decision{}, err
	}

	if cacheable {
		entry := Cached{Decision: d, Generation: lookup.Generation, ValidUntil: until}
		if err := r.cache.Set(ctx, req, entry); err != nil {
			r.log.WithError(err).Warn("authz cache store failed")
		}
	}
	return r.record(req, d), nil
}

func (r *Resolver) record(req Request, d Decision) Decision {
	r.metrics.AuthzDecision(req.Resource, string(req.Action), d.Allowed, d.Source)
	if !d.Allowed {
		r.log.WithFields(logrus.Fields{
			"user_id":     req.UserID,
			"tenant":      req.Tenant,
			"resource":    req.Resource,
			"action":      req.Action,
			"resource_id": req.ResourceID,
			"source":      d.Source,
		}).Debug("authorization denied")
	}
	return d
}

// resolve also returns the earliest expiry among the grants that matched the request, the
// instant after which the decision may change on its own. Zero means none of them expire.
func (r *Resolver) resolve(ctx context.Context, req Request, check AttributeCheck) (Decision, time.Time, error) {
	now := r.now()
	var until time.Time
	bound := func(expiresAt *time.Time) {
		if expiresAt != nil && (until.IsZero() || expiresAt.Before(until)) {
			until = *expiresAt
		}
	}

	direct, err := r.store.ListUserPermissions(ctx, req.UserID, req.Tenant)
	if err != nil {
		return Decision{}, time.Time{}, apperr.Infrastructure(err, "failed to load user permissions")
	}

	var grants []model.UserPermission
	for i := range direct {
		up := direct[i]
		// a dangling permission reference never matches
		if up.HasExpired(now) || up.Permission == nil {
			continue
		}
		if !up.Permission.Matches(req.Resource, req.Action) || !up.AppliesTo(req.ResourceID) {
			continue
		}
		bound(up.ExpiresAt)
		grants = append(grants, up)
	}

	// deny grants win over every allow path
	for i := range grants {
		if !grants[i].Deny {
			continue
		}
		applies, err := r.conditionsHold(ctx, req, check, grants[i].Conditions)
		if err != nil {
			return Decision{}, time.Time{}, err
		}
		if applies {
			return deny(req, SourceDeny), until, nil
		}
	}

	for i := range grants {
		if grants[i].Deny {
			continue
		}
		ok, err := r.conditionsHold(ctx, req, check, grants[i].Conditions)
		if err != nil {
			return Decision{}, time.Time{}, err
		}
		if ok {
			return allow(SourceDirect), until, nil
		}
	}

	roles, err := r.store.ListUserRoles(ctx, req.UserID, req.Tenant)
	if err != nil {
		return Decision{}, time.Time{}, apperr.Infrastructure(err, "failed to load user roles")
	}
	for i := range roles {
		ur := roles[i]
		if ur.HasExpired(now) || ur.Role == nil {
			continue
		}
		if !ur.Role.Grants(req.Resource, req.Action) {
			continue
		}
		bound(ur.ExpiresAt)
		ok, err := r.conditionsHold(ctx, req, check, ur.Attributes)
		if err != nil {
			return Decision{}, time.Time{}, err
		}
		if ok {
			return allow(SourceRole), until, nil
		}
	}

	return deny(req, SourceNone), until, nil
}

// conditionsHold is true for an empty payload or when no check was supplied.
func (r *Resolver) conditionsHold(ctx context.Context, req Request, check AttributeCheck, conditions map[string]interface{}) (bool, error) {
	if len(conditions) == 0 || check == nil {
		return true, nil
	}
	ok, err := check(ctx, req, conditions)
	if err != nil {
		return false, apperr.Infrastructure(err, "failed to evaluate attribute conditions")
	}
	return ok, nil
}
