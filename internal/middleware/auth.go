package middleware

import (
	"net/http"
	"strings"
	"time"

	"medsales/internal/auth"
	"medsales/internal/authz"
	"medsales/internal/model"
	"medsales/pkg/apperr"
	"medsales/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	accessTokenCookie = "access_token"
	userIDKey         = "userID"
)

// CookieConfig controls how the access token cookie is written.
type CookieConfig struct {
	Secure   bool
	SameSite http.SameSite
}

// CookieConfigFor returns the cookie policy for a gin mode.
// Release builds are served cross-origin, so the cookie must be Secure with SameSite=None.
func CookieConfigFor(mode string) CookieConfig {
	if mode == gin.ReleaseMode {
		return CookieConfig{Secure: true, SameSite: http.SameSiteNoneMode}
	}
	return CookieConfig{SameSite: http.SameSiteLaxMode}
}

// SetTokenCookie stores the access token as an HttpOnly cookie that expires with the token.
func SetTokenCookie(c *gin.Context, cfg CookieConfig, token string, expiresAt time.Time) {
	maxAge := int(time.Until(expiresAt).Seconds())
	if maxAge < 0 {
		maxAge = 0
	}
	c.SetSameSite(cfg.SameSite)
	c.SetCookie(accessTokenCookie, token, maxAge, "/", "", cfg.Secure, true)
}

func ClearTokenCookie(c *gin.Context, cfg CookieConfig) {
	c.SetSameSite(cfg.SameSite)
	c.SetCookie(accessTokenCookie, "", -1, "/", "", cfg.Secure, true)
}

// bearerToken reads the cookie first and falls back to the Authorization header.
func bearerToken(c *gin.Context) (string, string) {
	if token, err := c.Cookie(accessTokenCookie); err == nil && token != "" {
		return token, ""
	}
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", "Authorization is missing"
	}
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", "Invalid authorization format. Expected 'Bearer <token>'"
	}
	return parts[1], ""
}

// Authenticate rejects requests without a valid token, or whose user was deleted or
// deactivated, and stores the caller's id on the context.
func Authenticate(verifier *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, problem := bearerToken(c)
		if problem != "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, problem))
			return
		}
		userID, err := verifier.Verify(c.Request.Context(), raw)
		if err != nil {
			status := apperr.HTTPStatus(err)
			if status >= http.StatusInternalServerError {
				_ = c.Error(err)
			}
			c.AbortWithStatusJSON(status, response.Error(status, apperr.PublicMessage(err)))
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// UserID returns the authenticated caller, or uuid.Nil outside Authenticate.
func UserID(c *gin.Context) uuid.UUID {
	if v, ok := c.Get(userIDKey); ok {
		if id, ok := v.(uuid.UUID); ok {
			return id
		}
	}
	return uuid.Nil
}

type permissionOptions struct {
	resourceParam string
	check         authz.AttributeCheck
	log           *logrus.Logger
}

type PermissionOption func(*permissionOptions)

// WithResourceParam scopes the check to the instance named by the route parameter.
func WithResourceParam(param string) PermissionOption {
	return func(o *permissionOptions) { o.resourceParam = param }
}

// WithAttributeCheck replaces authz.MatchConditions. A nil check treats every condition
// payload as satisfied, which also lets the resolver serve the decision from its cache.
func WithAttributeCheck(check authz.AttributeCheck) PermissionOption {
	return func(o *permissionOptions) { o.check = check }
}

func WithDenyLogger(log *logrus.Logger) PermissionOption {
	return func(o *permissionOptions) { o.log = log }
}

// RequirePermission must run after Authenticate. Denials answer 403 with the generic message only.
func RequirePermission(authorizer authz.Authorizer, resource string, action model.Action, opts ...PermissionOption) gin.HandlerFunc {
	o := permissionOptions{check: authz.MatchConditions, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	return func(c *gin.Context) {
		userID := UserID(c)
		if userID == uuid.Nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authorization is missing"))
			return
		}

		req := authz.Request{
			UserID:   userID,
			Tenant:   c.GetHeader("X-Tenant"),
			Resource: resource,
			Action:   action,
		}
		if o.resourceParam != "" {
			req.ResourceID = c.Param(o.resourceParam)
		}

		d, err := authorizer.Authorize(c.Request.Context(), req, o.check)
		if err != nil {
			o.log.WithError(err).WithField("path", c.FullPath()).Error("authorization failed")
			c.AbortWithStatusJSON(apperr.HTTPStatus(err), response.Error(apperr.HTTPStatus(err), apperr.PublicMessage(err)))
			return
		}
		if !d.Allowed {
			c.AbortWithStatusJSON(http.StatusForbidden, response.Error(http.StatusForbidden, d.Reason))
			return
		}
		c.Next()
	}
}
