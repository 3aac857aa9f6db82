package rbac

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/gatekeeper/internal/platform/httpx"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

// Handler serves the user/role/permission admin endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    Middleware
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service *Service, rbac Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers the routes on r.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAuthority(shared.PermReadUserRolePermission))
		r.Get("/user", h.queryUsers)
		r.Get("/user/{userId}", h.getUser)
		r.Get("/role", h.queryRoles)
		r.Get("/role/{roleId}", h.getRole)
		r.Get("/permission", h.queryPermissions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAuthority(shared.PermWriteUserRolePermission))
		r.Post("/user/{userId}/bind-role", h.bindRoles)
		r.Post("/role/{roleId}/bind-permission", h.bindPermissions)
	})
}

func (h *Handler) queryUsers(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	page, err := shared.ParsePageRequest(values)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	var q UserQuery
	if q.ID, err = int64Param(values, "id"); err == nil {
		q.IDs, err = int64ListParam(values, "ids")
	}
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	q.Username = strings.TrimSpace(values.Get("username"))

	result, err := h.service.PageQueryUsers(r.Context(), q, page)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "userId")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	user, err := h.service.GetUserWithRoles(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) queryRoles(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	page, err := shared.ParsePageRequest(values)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	var q RoleQuery
	if q.ID, err = int64Param(values, "id"); err == nil {
		if q.IDs, err = int64ListParam(values, "ids"); err == nil {
			q.UserID, err = int64Param(values, "userId")
		}
	}
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	q.Name = strings.TrimSpace(values.Get("name"))
	q.Code = strings.TrimSpace(values.Get("code"))

	result, err := h.service.PageQueryRoles(r.Context(), q, page)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "roleId")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	role, err := h.service.GetRoleWithPermissions(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) queryPermissions(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	page, err := shared.ParsePageRequest(values)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	var q PermissionQuery
	if q.ID, err = int64Param(values, "id"); err == nil {
		if q.IDs, err = int64ListParam(values, "ids"); err == nil {
			q.RoleID, err = int64Param(values, "roleId")
		}
	}
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	q.Name = strings.TrimSpace(values.Get("name"))
	q.Code = strings.TrimSpace(values.Get("code"))

	result, err := h.service.PageQueryPermissions(r.Context(), q, page)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) bindRoles(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userId")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	var roleIDs []int64
	if err := httpx.DecodeJSON(r, &roleIDs); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if err := h.service.BindRolesToUser(r.Context(), userID, roleIDs); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	h.logger.Info("roles bound", slog.Int64("user_id", userID), slog.Any("role_ids", roleIDs))
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) bindPermissions(w http.ResponseWriter, r *http.Request) {
	roleID, err := pathID(r, "roleId")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	var permissionIDs []int64
	if err := httpx.DecodeJSON(r, &permissionIDs); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if err := h.service.BindPermissionsToRole(r.Context(), roleID, permissionIDs); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	h.logger.Info("permissions bound", slog.Int64("role_id", roleID), slog.Any("permission_ids", permissionIDs))
	w.WriteHeader(http.StatusOK)
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", shared.ErrValidation, name)
	}
	return id, nil
}

func int64Param(values url.Values, name string) (int64, error) {
	raw := strings.TrimSpace(values.Get(name))
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", shared.ErrValidation, name)
	}
	return id, nil
}

// int64ListParam accepts repeated parameters and comma separated values.
func int64ListParam(values url.Values, name string) ([]int64, error) {
	var ids []int64
	for _, raw := range values[name] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil || id <= 0 {
				return nil, fmt.Errorf("%w: invalid %s", shared.ErrValidation, name)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}
