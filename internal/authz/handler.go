package authz

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/gatehouse-io/gatehouse/internal/platform/httpx"
	"github.com/gatehouse-io/gatehouse/internal/requestctx"
)

// WarmupFunc enqueues a permission cache warmup run. Injected by the binary
// so the handler stays decoupled from the queue client.
type WarmupFunc func(ctx context.Context, maxTargets int) error

// Handler wires the administrative HTTP surface: role and group management,
// role synchronisation, one-off permission probes, and cache warmup
// triggering. Every route carries an explicit requirement enforced by the
// gate.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	resolver  *Resolver
	gate      *Gate
	warmup    WarmupFunc
	validator *validator.Validate
}

// NewHandler constructs a Handler instance. warmup may be nil when no queue
// is deployed.
func NewHandler(logger *slog.Logger, service *Service, resolver *Resolver, gate *Gate, warmup WarmupFunc) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		resolver:  resolver,
		gate:      gate,
		warmup:    warmup,
		validator: validator.New(),
	}
}

// MountRoutes registers admin routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.gate.Require(Require(PermRolesView))).Get("/roles", h.listRoles)
	r.With(h.gate.Require(Require(PermRolesEdit))).Post("/roles", h.createRole)
	r.With(h.gate.Require(Require(PermRolesEdit))).Put("/roles/{roleID}/permissions", h.setRolePermissions)
	r.With(h.gate.Require(Require(PermRolesEdit))).Put("/roles/{roleID}/scopes", h.setRoleScopes)
	r.With(h.gate.Require(Require(PermPermissionsView))).Get("/permissions", h.listPermissions)
	r.With(h.gate.Require(Require(PermGroupsEdit))).Post("/groups", h.createGroup)
	r.With(h.gate.Require(Require(PermAssignmentsEdit))).Put("/principals/{principalID}/scopes/{scopeID}/roles", h.syncRoles)
	r.With(h.gate.Require(Require(PermAccessProbe))).Post("/probe", h.probe)
	r.With(h.gate.Require(Require(PermSystemAdmin))).Post("/warmup", h.triggerWarmup)
}

type roleResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.respondServiceError(w, "list roles", err)
		return
	}
	out := make([]roleResponse, 0, len(roles))
	for _, role := range roles {
		out = append(out, roleResponse{ID: role.ID, Name: role.Name, Description: role.Description})
	}
	httpx.JSON(w, http.StatusOK, out)
}

type createRoleRequest struct {
	Name        string `json:"name" validate:"required,min=2,max=64"`
	Description string `json:"description" validate:"max=255"`
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	role, err := h.service.CreateRole(r.Context(), req.Name, req.Description)
	if err != nil {
		h.respondServiceError(w, "create role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, roleResponse{ID: role.ID, Name: role.Name, Description: role.Description})
}

type idListRequest struct {
	IDs []int64 `json:"ids" validate:"required,dive,gt=0"`
}

func (h *Handler) setRolePermissions(w http.ResponseWriter, r *http.Request) {
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	var req idListRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	if err := h.service.SetRolePermissions(r.Context(), roleID, req.IDs); err != nil {
		h.respondServiceError(w, "set role permissions", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setRoleScopes(w http.ResponseWriter, r *http.Request) {
	roleID, ok := h.pathID(w, r, "roleID")
	if !ok {
		return
	}
	var req idListRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	if err := h.service.SetRoleScopes(r.Context(), roleID, req.IDs); err != nil {
		h.respondServiceError(w, "set role scopes", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type permissionResponse struct {
	ID          int64  `json:"id"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.respondServiceError(w, "list permissions", err)
		return
	}
	out := make([]permissionResponse, 0, len(perms))
	for _, p := range perms {
		out = append(out, permissionResponse{ID: p.ID, Code: p.Code, Description: p.Description})
	}
	httpx.JSON(w, http.StatusOK, out)
}

type createGroupRequest struct {
	Name string `json:"name" validate:"required,min=2,max=128"`
}

type groupResponse struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Status  string `json:"status"`
	ScopeID int64  `json:"scope_id"`
}

func (h *Handler) createGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	group, err := h.service.CreateGroup(r.Context(), req.Name)
	if err != nil {
		h.respondServiceError(w, "create group", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, groupResponse{ID: group.ID, Name: group.Name, Status: group.Status, ScopeID: group.ScopeID})
}

type syncRolesRequest struct {
	RoleIDs               []int64 `json:"role_ids" validate:"dive,gt=0"`
	BypassScopeValidation bool    `json:"bypass_scope_validation"`
}

func (h *Handler) syncRoles(w http.ResponseWriter, r *http.Request) {
	principalID, ok := h.pathID(w, r, "principalID")
	if !ok {
		return
	}
	scopeID, ok := h.pathID(w, r, "scopeID")
	if !ok {
		return
	}
	var req syncRolesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	actor, err := h.currentActor(r)
	if err != nil {
		RespondDenied(w, err)
		return
	}
	opts := SyncOptions{BypassScopeValidation: req.BypassScopeValidation}
	if err := h.service.SyncRoles(r.Context(), actor, principalID, scopeID, req.RoleIDs, opts); err != nil {
		h.respondServiceError(w, "sync roles", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type probeRequest struct {
	PrincipalID int64    `json:"principal_id" validate:"required,gt=0"`
	ScopeID     int64    `json:"scope_id" validate:"gte=0"`
	Permissions []string `json:"permissions" validate:"required,min=1,dive,required"`
}

type probeResponse struct {
	Allowed bool `json:"allowed"`
}

// probe performs a one-off permission check outside the gate, for
// administrative tooling.
func (h *Handler) probe(w http.ResponseWriter, r *http.Request) {
	var req probeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	allowed, err := h.resolver.UserHasPermissions(r.Context(), req.PrincipalID, req.ScopeID, req.Permissions)
	if err != nil {
		h.respondServiceError(w, "probe permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, probeResponse{Allowed: allowed})
}

type warmupRequest struct {
	MaxTargets int `json:"max_targets" validate:"gte=0"`
}

// triggerWarmup enqueues a permission cache warmup run.
func (h *Handler) triggerWarmup(w http.ResponseWriter, r *http.Request) {
	if h.warmup == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "no queue configured")
		return
	}
	var req warmupRequest
	if err := httpx.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	if err := h.warmup(r.Context(), req.MaxTargets); err != nil {
		h.logger.Error("enqueue warmup", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// currentActor resolves the calling principal into an Actor, checking the
// system administrator grant in the global scope.
func (h *Handler) currentActor(r *http.Request) (Actor, error) {
	principalID, ok := requestctx.PrincipalID(r.Context())
	if !ok {
		return Actor{}, ErrAuthenticationRequired
	}
	admin, err := h.resolver.UserHasPermissions(r.Context(), principalID, GlobalScopeID, []string{PermSystemAdmin})
	if err != nil {
		return Actor{}, err
	}
	return Actor{ID: principalID, SystemAdmin: admin}, nil
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid "+name)
		return 0, false
	}
	return id, true
}

func (h *Handler) respondServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrInvalidRoleScope):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	case errors.Is(err, ErrScopeRequired):
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicate):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrPermissionDenied):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
	case errors.Is(err, ErrStorageUnavailable):
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "")
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
