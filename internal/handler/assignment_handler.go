package handler

import (
	"net/http"

	"medsales/internal/middleware"
	"medsales/internal/model"
	"medsales/internal/service"
	"medsales/pkg/apperr"
	"medsales/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AssignmentHandler manages a user's roles and direct grants under /users/:id.
type AssignmentHandler struct {
	assignmentService service.AssignmentService
	guard             *Guard
}

func NewAssignmentHandler(assignmentService service.AssignmentService, guard *Guard) *AssignmentHandler {
	return &AssignmentHandler{assignmentService: assignmentService, guard: guard}
}

func (h *AssignmentHandler) RegisterRoutes(router *gin.RouterGroup) {
	users := router.Group("/users/:id", h.guard.Authenticate())
	{
		users.GET("/roles", h.guard.Require(usersResource, model.ActionRead), h.ListRoles)
		users.POST("/roles", h.guard.Require(rolesResource, model.ActionManage), h.AssignRole)
		users.DELETE("/roles/:roleId", h.guard.Require(rolesResource, model.ActionManage), h.RemoveRole)

		users.GET("/permissions", h.guard.Require(usersResource, model.ActionRead), h.ListPermissions)
		users.POST("/permissions", h.guard.Require(permissionsResource, model.ActionManage), h.AssignPermission)
		users.DELETE("/permissions/:permissionId", h.guard.Require(permissionsResource, model.ActionManage), h.RemovePermission)

		users.GET("/effective-permissions", h.guard.Require(usersResource, model.ActionRead), h.EffectivePermissions)
	}
}

// AssignRole upserts the assignment keyed by user, role and tenant
// @Summary      Assign role to user
// @Tags         assignments
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                     true  "User ID"
// @Param        payload  body      service.AssignRoleRequest  true  "Assignment"
// @Success      200      {object}  response.Response{data=service.UserRoleResponse}
// @Failure      404      {object}  response.Response
// @Router       /api/users/{id}/roles [post]
func (h *AssignmentHandler) AssignRole(c *gin.Context) {
	var req service.AssignRoleRequest
	if !bindJSON(c, &req) {
		return
	}
	ur, err := h.assignmentService.AssignRole(c.Request.Context(), middleware.UserID(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, ur))
}

func (h *AssignmentHandler) RemoveRole(c *gin.Context) {
	err := h.assignmentService.RemoveRole(c.Request.Context(), middleware.UserID(c), c.Param("id"), c.Param("roleId"), c.Query("tenant"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, "Role removed from user"))
}

func (h *AssignmentHandler) ListRoles(c *gin.Context) {
	roles, err := h.assignmentService.ListUserRoles(c.Request.Context(), c.Param("id"), c.Query("tenant"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, roles))
}

// AssignPermission upserts a direct grant, optionally scoped to one resource instance
// @Summary      Grant permission to user
// @Tags         assignments
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                           true  "User ID"
// @Param        payload  body      service.AssignPermissionRequest  true  "Grant"
// @Success      200      {object}  response.Response{data=service.UserPermissionResponse}
// @Failure      404      {object}  response.Response
// @Router       /api/users/{id}/permissions [post]
func (h *AssignmentHandler) AssignPermission(c *gin.Context) {
	var req service.AssignPermissionRequest
	if !bindJSON(c, &req) {
		return
	}
	up, err := h.assignmentService.AssignPermission(c.Request.Context(), middleware.UserID(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, up))
}

// RemovePermission deletes every scope of the grant unless resource_id is given
// @Summary      Revoke permission from user
// @Tags         assignments
// @Produce      json
// @Security     BearerAuth
// @Param        id            path      string  true   "User ID"
// @Param        permissionId  path      string  true   "Permission ID"
// @Param        resource_id   query     string  false  "Only this scope; empty string for the unscoped grant"
// @Success      200           {object}  response.Response
// @Failure      404           {object}  response.Response
// @Router       /api/users/{id}/permissions/{permissionId} [delete]
func (h *AssignmentHandler) RemovePermission(c *gin.Context) {
	var resourceID *string
	if v, ok := c.GetQuery("resource_id"); ok {
		resourceID = &v
	}
	err := h.assignmentService.RemovePermission(c.Request.Context(), middleware.UserID(c), c.Param("id"), c.Param("permissionId"), resourceID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, "Permission removed from user"))
}

func (h *AssignmentHandler) ListPermissions(c *gin.Context) {
	perms, err := h.assignmentService.ListUserPermissions(c.Request.Context(), c.Param("id"), c.Query("tenant"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, perms))
}

func (h *AssignmentHandler) EffectivePermissions(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apperr.Validation("Invalid user id '%s'", c.Param("id")))
		return
	}
	perms, err := h.assignmentService.EffectivePermissions(c.Request.Context(), userID, c.Query("tenant"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, perms))
}
