package authz

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse-io/gatehouse/internal/requestctx"
)

type adminFixture struct {
	router  *chi.Mux
	repo    *memRepo
	warmups []int
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	resolver, repo, cache := newTestResolver(t)
	gate := NewGate(resolver, nil, nil)
	f := &adminFixture{repo: repo}
	warmup := func(ctx context.Context, maxTargets int) error {
		f.warmups = append(f.warmups, maxTargets)
		return nil
	}
	handler := NewHandler(nil, NewService(repo, cache, nil), resolver, gate, warmup)
	f.router = chi.NewRouter()
	handler.MountRoutes(f.router)
	return f
}

func (f *adminFixture) seedAdmin(principalID int64) {
	role := f.repo.seedRole("sysadmin", CorePermissions())
	f.repo.seedAssignment(principalID, GlobalScopeID, role)
}

func (f *adminFixture) do(t *testing.T, method, path string, body any, principalID int64) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	ctx := requestctx.With(context.Background())
	if principalID > 0 {
		requestctx.SetPrincipalID(ctx, principalID)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req.WithContext(ctx))
	return rr
}

func TestAdminRoutesRequireAuthentication(t *testing.T) {
	f := newAdminFixture(t)

	require.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/roles", nil, 0).Code)
	require.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, "/probe", nil, 0).Code)
}

func TestAdminRoutesRequirePermission(t *testing.T) {
	f := newAdminFixture(t)
	viewer := f.repo.seedRole("viewer", []string{PermRolesView})
	f.repo.seedAssignment(9, GlobalScopeID, viewer)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/roles", nil, 9).Code)
	require.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/roles", map[string]string{"name": "editor"}, 9).Code)
}

func TestCreateRole(t *testing.T) {
	f := newAdminFixture(t)
	f.seedAdmin(1)

	rr := f.do(t, http.MethodPost, "/roles", map[string]string{"name": "editor", "description": "content editors"}, 1)
	require.Equal(t, http.StatusCreated, rr.Code)

	var role roleResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &role))
	require.Equal(t, "editor", role.Name)
	require.NotZero(t, role.ID)

	require.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/roles", map[string]string{"name": "editor"}, 1).Code)
	require.Equal(t, http.StatusUnprocessableEntity, f.do(t, http.MethodPost, "/roles", map[string]string{"name": "x"}, 1).Code)
}

func TestSetRolePermissionsRoute(t *testing.T) {
	f := newAdminFixture(t)
	f.seedAdmin(1)
	roleID := f.repo.seedRole("editor", nil)
	perm, err := f.repo.EnsurePermission(context.Background(), "post.write", "")
	require.NoError(t, err)

	rr := f.do(t, http.MethodPut, "/roles/"+strconv.FormatInt(roleID, 10)+"/permissions", map[string][]int64{"ids": {perm.ID}}, 1)
	require.Equal(t, http.StatusNoContent, rr.Code)

	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodPut, "/roles/99999/permissions", map[string][]int64{"ids": {perm.ID}}, 1).Code)
	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPut, "/roles/abc/permissions", nil, 1).Code)
}

func TestSyncRolesRoute(t *testing.T) {
	f := newAdminFixture(t)
	f.seedAdmin(1)
	f.repo.seedScope(42)
	editor := f.repo.seedRole("editor", []string{"post.write"}, 42)

	rr := f.do(t, http.MethodPut, "/principals/7/scopes/42/roles", map[string]any{"role_ids": []int64{editor}}, 1)
	require.Equal(t, http.StatusNoContent, rr.Code)

	// Ineligible scope surfaces as a validation failure.
	f.repo.seedScope(99)
	rr = f.do(t, http.MethodPut, "/principals/7/scopes/99/roles", map[string]any{"role_ids": []int64{editor}}, 1)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestSyncRolesBypassNeedsSystemAdmin(t *testing.T) {
	f := newAdminFixture(t)
	assigner := f.repo.seedRole("assigner", []string{PermAssignmentsEdit})
	f.repo.seedAssignment(9, GlobalScopeID, assigner)
	f.repo.seedScope(42)
	editor := f.repo.seedRole("editor", []string{"post.write"}, 99)

	body := map[string]any{"role_ids": []int64{editor}, "bypass_scope_validation": true}
	require.Equal(t, http.StatusForbidden, f.do(t, http.MethodPut, "/principals/7/scopes/42/roles", body, 9).Code)

	f.seedAdmin(1)
	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodPut, "/principals/7/scopes/42/roles", body, 1).Code)
}

func TestProbeRoute(t *testing.T) {
	f := newAdminFixture(t)
	f.seedAdmin(1)
	f.repo.seedScope(42)
	editor := f.repo.seedRole("editor", []string{"post.write"}, 42)
	f.repo.seedAssignment(7, 42, editor)

	rr := f.do(t, http.MethodPost, "/probe", map[string]any{
		"principal_id": 7, "scope_id": 42, "permissions": []string{"post.write"},
	}, 1)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp probeResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.True(t, resp.Allowed)

	rr = f.do(t, http.MethodPost, "/probe", map[string]any{
		"principal_id": 7, "scope_id": 42, "permissions": []string{"post.delete"},
	}, 1)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.False(t, resp.Allowed)

	rr = f.do(t, http.MethodPost, "/probe", map[string]any{
		"principal_id": 7, "scope_id": 42, "permissions": []string{},
	}, 1)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestWarmupRoute(t *testing.T) {
	f := newAdminFixture(t)
	f.seedAdmin(1)

	// Requires the system administrator grant, not just any admin perm.
	viewer := f.repo.seedRole("viewer", []string{PermRolesView})
	f.repo.seedAssignment(9, GlobalScopeID, viewer)
	require.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/warmup", nil, 9).Code)

	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/warmup", map[string]int{"max_targets": 250}, 1).Code)
	require.Equal(t, []int{250}, f.warmups)

	// An empty body enqueues with the default bound.
	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/warmup", nil, 1).Code)
	require.Equal(t, []int{250, 0}, f.warmups)
}

func TestCreateGroupRoute(t *testing.T) {
	f := newAdminFixture(t)
	f.seedAdmin(1)

	rr := f.do(t, http.MethodPost, "/groups", map[string]string{"name": "acme"}, 1)
	require.Equal(t, http.StatusCreated, rr.Code)

	var group groupResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &group))
	require.Equal(t, "acme", group.Name)
	require.NotZero(t, group.ScopeID)
	require.NotEqual(t, GlobalScopeID, group.ScopeID)
}
