package accesshttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-access/internal/access"
	"github.com/odyssey-erp/odyssey-access/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// Enqueuer hands invalidations to the background worker.
type Enqueuer interface {
	EnqueueInvalidateUser(ctx context.Context, userID int64) error
	EnqueueInvalidateRole(ctx context.Context, roleID int64) error
	EnqueueInvalidateAll(ctx context.Context) error
}

// Handler exposes the principal's resolved access data and the admin invalidation endpoint.
type Handler struct {
	logger    *slog.Logger
	service   *access.Service
	guard     Middleware
	enqueuer  Enqueuer
	validator *validator.Validate
}

// NewHandler constructs a Handler. enqueuer may be nil, in which case async invalidation
// requests are applied inline.
func NewHandler(logger *slog.Logger, service *access.Service, enqueuer Enqueuer) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		logger:    logger,
		service:   service,
		guard:     Middleware{Service: service, Logger: logger},
		enqueuer:  enqueuer,
		validator: validator.New(),
	}
}

// MountRoutes registers access routes on r.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/access", func(r chi.Router) {
		r.Get("/me/permissions", h.myPermissions)
		r.Get("/me/roles", h.myRoles)
		r.Get("/me/menus", h.myMenus)
		r.Get("/check", h.check)
		r.With(h.guard.RequirePermission("access", "invalidate")).Post("/admin/invalidate", h.invalidate)
	})
}

type permissionsResponse struct {
	UserID      int64               `json:"user_id"`
	Permissions []string            `json:"permissions"`
	Matrix      map[string][]string `json:"matrix"`
}

type rolesResponse struct {
	UserID int64               `json:"user_id"`
	Roles  map[string][]string `json:"roles"`
}

type menuItem struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	Path      string     `json:"path,omitempty"`
	Icon      string     `json:"icon,omitempty"`
	Module    string     `json:"module,omitempty"`
	SortOrder int        `json:"sort_order"`
	Children  []menuItem `json:"children"`
}

type menusResponse struct {
	UserID int64      `json:"user_id"`
	Module string     `json:"module,omitempty"`
	Menus  []menuItem `json:"menus"`
}

type checkQuery struct {
	Resource string `validate:"required,max=128"`
	Action   string `validate:"required,max=64"`
}

type checkResponse struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
	Allowed  bool   `json:"allowed"`
}

type invalidateRequest struct {
	UserIDs []int64 `json:"user_ids" validate:"omitempty,max=1000,dive,gt=0"`
	RoleIDs []int64 `json:"role_ids" validate:"omitempty,max=1000,dive,gt=0"`
	All     bool    `json:"all"`
	Async   bool    `json:"async"`
}

type invalidateResponse struct {
	Users  int      `json:"users"`
	Roles  int      `json:"roles"`
	All    bool     `json:"all"`
	Queued bool     `json:"queued"`
	Errors []string `json:"errors,omitempty"`
}

func (h *Handler) myPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.principal(w, r)
	if !ok {
		return
	}
	set, err := h.service.Permissions(r.Context(), userID)
	if err != nil {
		h.fail(w, "permissions", userID, err)
		return
	}
	matrix, err := h.service.PermissionMatrix(r.Context(), userID)
	if err != nil {
		h.fail(w, "permission matrix", userID, err)
		return
	}
	names := make([]string, 0, set.Len())
	for _, key := range set.Keys() {
		names = append(names, key.String())
	}
	httpx.JSON(w, http.StatusOK, permissionsResponse{UserID: userID, Permissions: names, Matrix: matrix})
}

func (h *Handler) myRoles(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.principal(w, r)
	if !ok {
		return
	}
	roles, err := h.service.RoleMatrix(r.Context(), userID)
	if err != nil {
		h.fail(w, "role matrix", userID, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rolesResponse{UserID: userID, Roles: roles})
}

func (h *Handler) myMenus(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.principal(w, r)
	if !ok {
		return
	}
	forest, err := h.service.VisibleMenus(r.Context(), userID)
	if err != nil {
		h.fail(w, "menus", userID, err)
		return
	}
	module := strings.TrimSpace(r.URL.Query().Get("module"))
	if module != "" {
		forest = forest.FilterModule(module)
	}
	httpx.JSON(w, http.StatusOK, menusResponse{UserID: userID, Module: module, Menus: toMenuItems(forest)})
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.principal(w, r)
	if !ok {
		return
	}
	q := checkQuery{
		Resource: strings.TrimSpace(r.URL.Query().Get("resource")),
		Action:   strings.TrimSpace(r.URL.Query().Get("action")),
	}
	if err := h.validator.Struct(q); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}
	allowed, err := h.service.Check(r.Context(), userID, q.Resource, q.Action)
	if err != nil {
		h.fail(w, "check", userID, err)
		return
	}
	httpx.JSON(w, http.StatusOK, checkResponse{Resource: q.Resource, Action: q.Action, Allowed: allowed})
}

func (h *Handler) invalidate(w http.ResponseWriter, r *http.Request) {
	var req invalidateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationDetail(err))
		return
	}
	if !req.All && len(req.UserIDs) == 0 && len(req.RoleIDs) == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "nothing to invalidate")
		return
	}

	resp := invalidateResponse{Users: len(req.UserIDs), Roles: len(req.RoleIDs), All: req.All}
	if req.Async && h.enqueuer != nil {
		resp.Queued = true
		resp.Errors = h.enqueue(r.Context(), req)
		status := http.StatusAccepted
		if len(resp.Errors) > 0 {
			status = http.StatusServiceUnavailable
		}
		httpx.JSON(w, status, resp)
		return
	}

	ctx := r.Context()
	record := func(err error) {
		if err != nil {
			resp.Errors = append(resp.Errors, err.Error())
		}
	}
	if req.All {
		record(h.service.InvalidateAll(ctx))
	} else {
		for _, roleID := range req.RoleIDs {
			record(h.service.InvalidateRole(ctx, roleID))
		}
		for _, userID := range req.UserIDs {
			record(h.service.Invalidate(ctx, userID))
		}
	}
	if len(resp.Errors) > 0 {
		h.logger.Warn("invalidation broadcast incomplete", slog.Any("errors", resp.Errors))
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) enqueue(ctx context.Context, req invalidateRequest) []string {
	var errs []string
	record := func(err error) {
		if err != nil {
			h.logger.Error("enqueue invalidation", slog.Any("error", err))
			errs = append(errs, err.Error())
		}
	}
	if req.All {
		record(h.enqueuer.EnqueueInvalidateAll(ctx))
		return errs
	}
	for _, roleID := range req.RoleIDs {
		record(h.enqueuer.EnqueueInvalidateRole(ctx, roleID))
	}
	for _, userID := range req.UserIDs {
		record(h.enqueuer.EnqueueInvalidateUser(ctx, userID))
	}
	return errs
}

func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := shared.UserIDFromContext(r.Context())
	if !ok {
		unauthenticated(w)
		return 0, false
	}
	return userID, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, userID int64, err error) {
	h.logger.Error("access "+op, slog.Int64("user_id", userID), slog.Any("error", err))
	switch {
	case errors.Is(err, access.ErrNotFound):
		httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrNotFound, err))
	case errors.Is(err, access.ErrInvalidArgument):
		httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrValidation, err))
	default:
		httpx.RespondError(w, httpx.ErrUnavailable)
	}
}

func toMenuItems(nodes access.Forest) []menuItem {
	items := make([]menuItem, 0, len(nodes))
	for _, n := range nodes {
		items = append(items, menuItem{
			ID:        n.ID,
			Name:      n.Name,
			Path:      n.Path,
			Icon:      n.Icon,
			Module:    n.Module,
			SortOrder: n.SortOrder,
			Children:  toMenuItems(access.Forest(n.Children)),
		})
	}
	return items
}

func validationDetail(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
