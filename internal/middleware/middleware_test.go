package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"medsales/internal/auth"
	"medsales/internal/authz"
	"medsales/internal/model"
	"medsales/pkg/apperr"
	"medsales/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubAuthorizer struct {
	decision authz.Decision
	err      error
	got      authz.Request
	check    authz.AttributeCheck
}

func (s *stubAuthorizer) Authorize(_ context.Context, req authz.Request, check authz.AttributeCheck) (authz.Decision, error) {
	s.got = req
	s.check = check
	return s.decision, s.err
}

type stubUsers struct {
	users map[uuid.UUID]*model.User
	err   error
}

func (s stubUsers) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func activeUsers(ids ...uuid.UUID) stubUsers {
	s := stubUsers{users: map[uuid.UUID]*model.User{}}
	for _, id := range ids {
		s.users[id] = &model.User{ID: id, IsActive: true}
	}
	return s
}

func decode(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	t.Helper()
	var body response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func newRouter(verifier *auth.Verifier, handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	chain := append([]gin.HandlerFunc{Authenticate(verifier)}, handlers...)
	chain = append(chain, func(c *gin.Context) {
		c.JSON(http.StatusOK, response.Success(http.StatusOK, UserID(c).String()))
	})
	r.GET("/cases/:id", chain...)
	return r
}

func TestAuthenticate(t *testing.T) {
	tokens := auth.NewTokens("secret", time.Hour)
	user := uuid.New()
	token, _, err := tokens.Issue(user)
	require.NoError(t, err)
	inactive, deleted := uuid.New(), uuid.New()
	inactiveToken, _, err := tokens.Issue(inactive)
	require.NoError(t, err)
	deletedToken, _, err := tokens.Issue(deleted)
	require.NoError(t, err)

	users := activeUsers(user)
	users.users[inactive] = &model.User{ID: inactive}
	r := newRouter(auth.NewVerifier(tokens, users))

	tests := []struct {
		name   string
		setup  func(*http.Request)
		status int
		error  string
	}{
		{"missing", func(*http.Request) {}, http.StatusUnauthorized, "Authorization is missing"},
		{"malformed header", func(r *http.Request) { r.Header.Set("Authorization", "Token abc") }, http.StatusUnauthorized, "Invalid authorization format. Expected 'Bearer <token>'"},
		{"bad token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer abc") }, http.StatusUnauthorized, "Invalid or expired token"},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, http.StatusOK, ""},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "access_token", Value: token}) }, http.StatusOK, ""},
		{"deactivated user", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+inactiveToken) }, http.StatusUnauthorized, "Your account is not active. Please contact admin."},
		{"deleted user", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+deletedToken) }, http.StatusUnauthorized, "User no longer exists"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/cases/1", nil)
			tt.setup(req)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			body := decode(t, w)
			if tt.error != "" {
				assert.Equal(t, tt.error, body.Error)
				return
			}
			assert.Equal(t, user.String(), body.Data)
		})
	}
}

func TestAuthenticateUserStoreFailure(t *testing.T) {
	tokens := auth.NewTokens("secret", time.Hour)
	token, _, err := tokens.Issue(uuid.New())
	require.NoError(t, err)
	r := newRouter(auth.NewVerifier(tokens, stubUsers{err: errors.New("db down")}))

	req := httptest.NewRequest(http.MethodGet, "/cases/1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Internal server error", decode(t, w).Error)
}

func TestRequirePermission(t *testing.T) {
	tokens := auth.NewTokens("secret", time.Hour)
	user := uuid.New()
	token, _, err := tokens.Issue(user)
	require.NoError(t, err)
	verifier := auth.NewVerifier(tokens, activeUsers(user))

	call := func(a authz.Authorizer, opts ...PermissionOption) *httptest.ResponseRecorder {
		r := newRouter(verifier, RequirePermission(a, "cases", model.ActionUpdate, opts...))
		req := httptest.NewRequest(http.MethodGet, "/cases/c-1", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-Tenant", "clinic-b")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	t.Run("allow", func(t *testing.T) {
		a := &stubAuthorizer{decision: authz.Decision{Allowed: true}}
		w := call(a, WithResourceParam("id"))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, authz.Request{UserID: user, Tenant: "clinic-b", Resource: "cases", Action: model.ActionUpdate, ResourceID: "c-1"}, a.got)
		assert.NotNil(t, a.check)
	})

	t.Run("deny uses the generic message", func(t *testing.T) {
		a := &stubAuthorizer{decision: authz.Decision{Reason: authz.DenyMessage("cases", model.ActionUpdate)}}
		w := call(a, WithAttributeCheck(nil))
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "Not authorized to update on cases", decode(t, w).Error)
		assert.Nil(t, a.check)
		assert.Empty(t, a.got.ResourceID)
	})

	t.Run("infrastructure failure", func(t *testing.T) {
		log, hook := test.NewNullLogger()
		a := &stubAuthorizer{err: apperr.Infrastructure(errors.New("db down"), "failed to load user roles")}
		w := call(a, WithDenyLogger(log))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "Internal server error", decode(t, w).Error)
		require.Len(t, hook.Entries, 1)
		assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	})
}

func TestRequirePermissionWithoutAuthenticate(t *testing.T) {
	r := gin.New()
	r.GET("/", RequirePermission(&stubAuthorizer{}, "cases", model.ActionRead))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRecoveryAndRequestLogger(t *testing.T) {
	log, hook := test.NewNullLogger()
	r := gin.New()
	r.Use(RequestLogger(log), Recovery(log))
	r.GET("/boom", func(*gin.Context) { panic("boom") })
	r.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Internal server error", decode(t, w).Error)
	require.Len(t, hook.Entries, 2)
	assert.Equal(t, "panic recovered", hook.Entries[0].Message)
	assert.Equal(t, 500, hook.Entries[1].Data["status"])

	hook.Reset()
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestTokenCookie(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	SetTokenCookie(c, CookieConfigFor(gin.ReleaseMode), "tok", time.Now().Add(time.Hour))

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "access_token", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.True(t, cookies[0].Secure)
	assert.Equal(t, http.SameSiteNoneMode, cookies[0].SameSite)
}

type validated struct {
	Action string `binding:"required,perm_action"`
	Status string `binding:"omitempty,batch_status"`
	Case   string `binding:"omitempty,case_status"`
}

func TestRegisterValidators(t *testing.T) {
	require.NoError(t, RegisterValidators())
	r := gin.New()
	r.GET("/", func(c *gin.Context) {
		var v validated
		if err := c.ShouldBindQuery(&v); err != nil {
			c.Status(http.StatusBadRequest)
			return
		}
		c.Status(http.StatusOK)
	})

	for query, status := range map[string]int{
		"?Action=manage":              http.StatusOK,
		"?Action=approve":             http.StatusBadRequest,
		"?Action=read&Status=Damaged": http.StatusOK,
		"?Action=read&Status=Lost":    http.StatusBadRequest,
		"?Action=read&Case=Completed": http.StatusOK,
		"?Action=read&Case=Archived":  http.StatusBadRequest,
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/"+query, nil))
		assert.Equal(t, status, w.Code, query)
	}
}
