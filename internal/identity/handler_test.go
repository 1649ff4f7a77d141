package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/gatehouse-io/gatehouse/internal/attempt"
	"github.com/gatehouse-io/gatehouse/internal/requestctx"
	_ "github.com/gatehouse-io/gatehouse/testing"
)

type memAccountRepo struct {
	accounts map[string]*Account
}

func (r *memAccountRepo) FindByEmail(ctx context.Context, email string) (*Account, error) {
	account, ok := r.accounts[email]
	if !ok {
		return nil, ErrNotFound
	}
	return account, nil
}

func seedAccount(t *testing.T, repo *memAccountRepo, email, password, status string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	repo.accounts[email] = &Account{
		ID:           int64(len(repo.accounts) + 1),
		Email:        email,
		PasswordHash: string(hash),
		Status:       status,
	}
}

type loginFixture struct {
	router *chi.Mux
	repo   *memAccountRepo
	tokens *TokenStore
	client *redis.Client
}

func newLoginFixture(t *testing.T) *loginFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	repo := &memAccountRepo{accounts: make(map[string]*Account)}
	tokens := NewTokenStore(client, time.Hour)
	limiter := attempt.NewLimiter(client, attempt.Config{
		MaxAttempts: 3,
		Window:      15 * time.Minute,
		Lockout:     30 * time.Minute,
	}, nil)

	handler := NewHandler(nil, NewService(repo), tokens, limiter)
	router := chi.NewRouter()
	handler.MountRoutes(router)

	return &loginFixture{router: router, repo: repo, tokens: tokens, client: client}
}

func (f *loginFixture) login(t *testing.T, email, password string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(body))
	req.RemoteAddr = "203.0.113.9:51234"
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func TestLoginIssuesToken(t *testing.T) {
	f := newLoginFixture(t)
	seedAccount(t, f.repo, "ana@example.com", "s3cret-pass", StatusActive)

	rr := f.login(t, "ana@example.com", "s3cret-pass")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)

	accountID, ok, err := f.tokens.Lookup(context.Background(), resp.Token)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), accountID)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newLoginFixture(t)
	seedAccount(t, f.repo, "ana@example.com", "s3cret-pass", StatusActive)

	require.Equal(t, http.StatusUnauthorized, f.login(t, "ana@example.com", "wrong-password").Code)
	require.Equal(t, http.StatusUnauthorized, f.login(t, "nobody@example.com", "s3cret-pass").Code)
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	f := newLoginFixture(t)
	seedAccount(t, f.repo, "ana@example.com", "s3cret-pass", StatusPending)

	require.Equal(t, http.StatusUnauthorized, f.login(t, "ana@example.com", "s3cret-pass").Code)
}

func TestLoginLocksAfterRepeatedFailures(t *testing.T) {
	f := newLoginFixture(t)
	seedAccount(t, f.repo, "ana@example.com", "s3cret-pass", StatusActive)

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusUnauthorized, f.login(t, "ana@example.com", "wrong-password").Code)
	}

	// Even a correct password is rejected while locked.
	rr := f.login(t, "ana@example.com", "s3cret-pass")
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.NotEmpty(t, rr.Header().Get("Retry-After"))
}

func TestLoginSuccessResetsFailures(t *testing.T) {
	f := newLoginFixture(t)
	seedAccount(t, f.repo, "ana@example.com", "s3cret-pass", StatusActive)

	require.Equal(t, http.StatusUnauthorized, f.login(t, "ana@example.com", "wrong-password").Code)
	require.Equal(t, http.StatusUnauthorized, f.login(t, "ana@example.com", "wrong-password").Code)
	require.Equal(t, http.StatusOK, f.login(t, "ana@example.com", "s3cret-pass").Code)

	// The counter restarted; two more failures are not enough to lock.
	require.Equal(t, http.StatusUnauthorized, f.login(t, "ana@example.com", "wrong-password").Code)
	require.Equal(t, http.StatusUnauthorized, f.login(t, "ana@example.com", "wrong-password").Code)
	require.Equal(t, http.StatusOK, f.login(t, "ana@example.com", "s3cret-pass").Code)
}

func TestLoginValidatesPayload(t *testing.T) {
	f := newLoginFixture(t)

	rr := f.login(t, "not-an-email", "s3cret-pass")
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = f.login(t, "ana@example.com", "short")
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogoutRevokesToken(t *testing.T) {
	f := newLoginFixture(t)
	seedAccount(t, f.repo, "ana@example.com", "s3cret-pass", StatusActive)

	rr := f.login(t, "ana@example.com", "s3cret-pass")
	require.Equal(t, http.StatusOK, rr.Code)
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.Header.Set("Authorization", "Bearer "+resp.Token)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	_, ok, err := f.tokens.Lookup(context.Background(), resp.Token)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestResolvePrincipalMiddleware(t *testing.T) {
	f := newLoginFixture(t)

	token, _, err := f.tokens.Issue(context.Background(), 42)
	require.NoError(t, err)

	mw := Middleware{Tokens: f.tokens}
	var gotID int64
	var gotOK bool
	handler := mw.ResolvePrincipal(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID, gotOK = requestctx.PrincipalID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(requestctx.With(req.Context()))
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.True(t, gotOK)
	require.Equal(t, int64(42), gotID)

	gotID, gotOK = 0, false
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(requestctx.With(req.Context()))
	req.Header.Set("Authorization", "Bearer not-a-token")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.False(t, gotOK)
	require.Zero(t, gotID)
}
