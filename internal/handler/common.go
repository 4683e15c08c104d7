package handler

import (
	"net/http"

	"medsales/internal/auth"
	"medsales/internal/authz"
	"medsales/internal/middleware"
	"medsales/internal/model"
	"medsales/pkg/apperr"
	"medsales/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Guard bundles what every protected route needs.
type Guard struct {
	verifier   *auth.Verifier
	authorizer authz.Authorizer
	log        *logrus.Logger
}

func NewGuard(verifier *auth.Verifier, authorizer authz.Authorizer, log *logrus.Logger) *Guard {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Guard{verifier: verifier, authorizer: authorizer, log: log}
}

func (g *Guard) Authenticate() gin.HandlerFunc {
	return middleware.Authenticate(g.verifier)
}

func (g *Guard) Require(resource string, action model.Action, opts ...middleware.PermissionOption) gin.HandlerFunc {
	opts = append([]middleware.PermissionOption{middleware.WithDenyLogger(g.log)}, opts...)
	return middleware.RequirePermission(g.authorizer, resource, action, opts...)
}

// respondError writes the error envelope. Infrastructure errors are attached to the context so
// the request logger records the cause; clients only see the public message.
func respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, response.Error(status, apperr.PublicMessage(err)))
}

func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return false
	}
	return true
}

func bindQuery(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindQuery(req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid query parameters: "+err.Error()))
		return false
	}
	return true
}

func page(items interface{}, total int64, p, limit int) response.Page {
	return response.Page{Items: items, Total: total, Page: p, Limit: limit}
}
