package handler

import (
	"net/http"

	"medsales/internal/middleware"
	"medsales/internal/model"
	"medsales/internal/service"
	"medsales/pkg/pagination"
	"medsales/pkg/response"

	"github.com/gin-gonic/gin"
)

const (
	rolesResource       = "roles"
	permissionsResource = "permissions"
)

type RoleHandler struct {
	roleService       service.RoleService
	assignmentService service.AssignmentService
	guard             *Guard
}

func NewRoleHandler(roleService service.RoleService, assignmentService service.AssignmentService, guard *Guard) *RoleHandler {
	return &RoleHandler{roleService: roleService, assignmentService: assignmentService, guard: guard}
}

func (h *RoleHandler) RegisterRoutes(router *gin.RouterGroup) {
	roles := router.Group("/roles", h.guard.Authenticate())
	{
		roles.GET("", h.guard.Require(rolesResource, model.ActionRead), h.ListRoles)
		roles.GET("/:id", h.guard.Require(rolesResource, model.ActionRead), h.GetRole)
		roles.GET("/:id/users", h.guard.Require(rolesResource, model.ActionRead), h.UsersInRole)
		roles.POST("", h.guard.Require(rolesResource, model.ActionCreate), h.CreateRole)
		roles.PUT("/:id", h.guard.Require(rolesResource, model.ActionUpdate), h.UpdateRole)
		roles.DELETE("/:id", h.guard.Require(rolesResource, model.ActionDelete), h.DeleteRole)
		roles.POST("/:id/permissions", h.guard.Require(rolesResource, model.ActionUpdate), h.AddPermissions)
		roles.PUT("/:id/permissions", h.guard.Require(rolesResource, model.ActionUpdate), h.ReplacePermissions)
		roles.DELETE("/:id/permissions", h.guard.Require(rolesResource, model.ActionUpdate), h.RemovePermissions)
	}

	perms := router.Group("/permissions", h.guard.Authenticate())
	{
		perms.GET("", h.guard.Require(permissionsResource, model.ActionRead), h.ListPermissions)
		perms.GET("/resources", h.guard.Require(permissionsResource, model.ActionRead), h.ListResources)
		perms.GET("/:id", h.guard.Require(permissionsResource, model.ActionRead), h.GetPermission)
		perms.GET("/:id/roles", h.guard.Require(permissionsResource, model.ActionRead), h.RolesForPermission)
		perms.POST("", h.guard.Require(permissionsResource, model.ActionCreate), h.CreatePermission)
		perms.PUT("/:id", h.guard.Require(permissionsResource, model.ActionUpdate), h.UpdatePermission)
		perms.DELETE("/:id", h.guard.Require(permissionsResource, model.ActionDelete), h.DeletePermission)
	}
}

// ListRoles returns roles with their permissions
// @Summary      List roles
// @Tags         roles
// @Produce      json
// @Security     BearerAuth
// @Param        search  query     string  false  "Filter by name"
// @Param        page    query     int     false  "Page number (default 1)"
// @Param        limit   query     int     false  "Items per page (default 20)"
// @Success      200     {object}  response.Response{data=response.Page}
// @Router       /api/roles [get]
func (h *RoleHandler) ListRoles(c *gin.Context) {
	p := pagination.Parse(c, pagination.CatalogLimit)
	roles, total, err := h.roleService.ListRoles(c.Request.Context(), p.Page, p.Limit, c.Query("search"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, page(roles, total, p.Page, p.Limit)))
}

func (h *RoleHandler) GetRole(c *gin.Context) {
	role, err := h.roleService.GetRole(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, role))
}

func (h *RoleHandler) UsersInRole(c *gin.Context) {
	members, err := h.assignmentService.UsersInRole(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, members))
}

// CreateRole creates a role with an optional initial permission set
// @Summary      Create role
// @Tags         roles
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.CreateRoleRequest  true  "Role"
// @Success      201      {object}  response.Response{data=service.RoleResponse}
// @Failure      404      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/roles [post]
func (h *RoleHandler) CreateRole(c *gin.Context) {
	var req service.CreateRoleRequest
	if !bindJSON(c, &req) {
		return
	}
	role, err := h.roleService.CreateRole(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, role))
}

// UpdateRole edits details and, when permissions is present, replaces the permission set
// @Summary      Update role
// @Tags         roles
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path      string                     true  "Role ID"
// @Param        payload  body      service.UpdateRoleRequest  true  "Changes"
// @Success      200      {object}  response.Response{data=service.RoleResponse}
// @Failure      403      {object}  response.Response
// @Router       /api/roles/{id} [put]
func (h *RoleHandler) UpdateRole(c *gin.Context) {
	var req service.UpdateRoleRequest
	if !bindJSON(c, &req) {
		return
	}
	role, err := h.roleService.UpdateRole(c.Request.Context(), middleware.UserID(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, role))
}

// DeleteRole fails with 403 for system roles and 409 while users hold the role
// @Summary      Delete role
// @Tags         roles
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Role ID"
// @Success      200  {object}  response.Response
// @Failure      403  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /api/roles/{id} [delete]
func (h *RoleHandler) DeleteRole(c *gin.Context) {
	if err := h.roleService.DeleteRole(c.Request.Context(), middleware.UserID(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, "Role deleted successfully"))
}

func (h *RoleHandler) AddPermissions(c *gin.Context) {
	var req service.RolePermissionsRequest
	if !bindJSON(c, &req) {
		return
	}
	role, err := h.roleService.AddPermissions(c.Request.Context(), middleware.UserID(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, role))
}

func (h *RoleHandler) RemovePermissions(c *gin.Context) {
	var req service.RolePermissionsRequest
	if !bindJSON(c, &req) {
		return
	}
	role, err := h.roleService.RemovePermissions(c.Request.Context(), middleware.UserID(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, role))
}

type replacePermissionsRequest struct {
	Permissions []string `json:"permissions" binding:"required"`
}

// ReplacePermissions handles PUT /roles/:id/permissions
func (h *RoleHandler) ReplacePermissions(c *gin.Context) {
	var req replacePermissionsRequest
	if !bindJSON(c, &req) {
		return
	}
	role, err := h.roleService.ReplacePermissions(c.Request.Context(), middleware.UserID(c), c.Param("id"), req.Permissions)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, role))
}

// --- Permissions ---

func (h *RoleHandler) ListPermissions(c *gin.Context) {
	var req service.PermissionListRequest
	if !bindQuery(c, &req) {
		return
	}
	p := pagination.Parse(c, pagination.CatalogLimit)
	req.Page, req.Limit = p.Page, p.Limit

	perms, total, err := h.roleService.ListPermissions(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, page(perms, total, p.Page, p.Limit)))
}

func (h *RoleHandler) ListResources(c *gin.Context) {
	resources, err := h.roleService.ListResources(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, resources))
}

func (h *RoleHandler) GetPermission(c *gin.Context) {
	perm, err := h.roleService.GetPermission(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, perm))
}

func (h *RoleHandler) RolesForPermission(c *gin.Context) {
	roles, err := h.roleService.RolesForPermission(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, roles))
}

// CreatePermission registers a (resource, action) pair
// @Summary      Create permission
// @Tags         permissions
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        payload  body      service.CreatePermissionRequest  true  "Permission"
// @Success      201      {object}  response.Response{data=service.PermissionResponse}
// @Failure      400      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/permissions [post]
func (h *RoleHandler) CreatePermission(c *gin.Context) {
	var req service.CreatePermissionRequest
	if !bindJSON(c, &req) {
		return
	}
	perm, err := h.roleService.CreatePermission(c.Request.Context(), middleware.UserID(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, perm))
}

func (h *RoleHandler) UpdatePermission(c *gin.Context) {
	var req service.UpdatePermissionRequest
	if !bindJSON(c, &req) {
		return
	}
	perm, err := h.roleService.UpdatePermission(c.Request.Context(), middleware.UserID(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, perm))
}

// DeletePermission fails with 403 for system permissions and 409 while referenced
// @Summary      Delete permission
// @Tags         permissions
// @Produce      json
// @Security     BearerAuth
// @Param        id   path      string  true  "Permission ID"
// @Success      200  {object}  response.Response
// @Failure      403  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /api/permissions/{id} [delete]
func (h *RoleHandler) DeletePermission(c *gin.Context) {
	if err := h.roleService.DeletePermission(c.Request.Context(), middleware.UserID(c), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, "Permission deleted successfully"))
}
