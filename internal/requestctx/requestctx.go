// Package requestctx carries per-request ambient state: the authenticated
// principal, the selected tenant scope, and the request id. Each inbound
// request gets its own isolated store seeded by Middleware; values set inside
// one request are never visible to another, including from goroutines spawned
// while handling it.
package requestctx

import (
	"context"
	"strconv"
	"sync"
)

type ctxKey struct{}

// store is the per-request key/value bag. Handlers may spawn goroutines that
// read it while the request body is still being processed, so access is
// guarded.
type store struct {
	mu     sync.RWMutex
	values map[string]string
}

// Well-known keys populated by the middleware chain.
const (
	keyRequestID   = "request_id"
	keyPrincipalID = "principal_id"
	keyScopeID     = "scope_id"
)

// With returns a context carrying a fresh, empty store.
func With(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, &store{values: make(map[string]string)})
}

func fromContext(ctx context.Context) *store {
	s, _ := ctx.Value(ctxKey{}).(*store)
	return s
}

// Set stores value under key in the current request's store. Calling Set
// outside a seeded request context is a no-op.
func Set(ctx context.Context, key, value string) {
	s := fromContext(ctx)
	if s == nil {
		return
	}
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
}

// Get reads key from the current request's store. The second return value is
// false when the key is absent or no store has been seeded.
func Get(ctx context.Context, key string) (string, bool) {
	s := fromContext(ctx)
	if s == nil {
		return "", false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// SetRequestID records the correlation id for the current request.
func SetRequestID(ctx context.Context, id string) {
	Set(ctx, keyRequestID, id)
}

// RequestID returns the correlation id for the current request, if any.
func RequestID(ctx context.Context) string {
	v, _ := Get(ctx, keyRequestID)
	return v
}

// SetPrincipalID records the authenticated principal for the current request.
func SetPrincipalID(ctx context.Context, id int64) {
	Set(ctx, keyPrincipalID, strconv.FormatInt(id, 10))
}

// PrincipalID returns the authenticated principal id, if one has been
// resolved for the current request.
func PrincipalID(ctx context.Context) (int64, bool) {
	v, ok := Get(ctx, keyPrincipalID)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// SetScopeID records the tenant scope selected for the current request.
func SetScopeID(ctx context.Context, id int64) {
	Set(ctx, keyScopeID, strconv.FormatInt(id, 10))
}

// ScopeID returns the selected tenant scope id. Absence is legal and means
// the request is evaluated against the global scope only.
func ScopeID(ctx context.Context) (int64, bool) {
	v, ok := Get(ctx, keyScopeID)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
