package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/AfshinJalili/regportal/libs/auth"
	"github.com/AfshinJalili/regportal/libs/logging"
	"github.com/AfshinJalili/regportal/services/auth/internal/rate"
	"github.com/AfshinJalili/regportal/services/auth/internal/security"
	"github.com/AfshinJalili/regportal/services/auth/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type fakeClock struct {
	now time.Time
}

func (f fakeClock) Now() time.Time { return f.now }

type fakeTokenGen struct {
	tokens []string
	idx    int
}

func (f *fakeTokenGen) New() (string, string, error) {
	if f.idx >= len(f.tokens) {
		return "", "", errors.New("no tokens")
	}
	tok := f.tokens[f.idx]
	f.idx++
	hash, err := security.HashRefreshToken(tok)
	return tok, hash, err
}

func tokenHash(t *testing.T, token string) string {
	t.Helper()
	hash, err := security.HashRefreshToken(token)
	require.NoError(t, err)
	return hash
}

type memStore struct {
	mu       sync.Mutex
	users    map[string]*storage.User
	entities map[uuid.UUID][]string
	tokens   map[string]*storage.RefreshToken

	tokenLookups int
}

func newMemStore() *memStore {
	return &memStore{
		users:    map[string]*storage.User{},
		entities: map[uuid.UUID][]string{},
		tokens:   map[string]*storage.RefreshToken{},
	}
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (*storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[email]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return user, nil
}

func (m *memStore) GetUserByID(_ context.Context, id uuid.UUID) (*storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.ID == id {
			return user, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *memStore) UpdatePasswordHash(_ context.Context, id uuid.UUID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.ID == id {
			user.PasswordHash = hash
			return nil
		}
	}
	return storage.ErrNotFound
}

func (m *memStore) ListAdministeredEntities(_ context.Context, userID uuid.UUID) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entities[userID], nil
}

func (m *memStore) GetRefreshTokenByHash(_ context.Context, hash string) (*storage.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokenLookups++
	token, ok := m.tokens[hash]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return token, nil
}

func (m *memStore) CreateRefreshToken(_ context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time, _ string, _ string) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.tokens[tokenHash] = &storage.RefreshToken{ID: id, UserID: userID, TokenHash: tokenHash, ExpiresAt: expiresAt}
	return id, nil
}

func (m *memStore) RotateToken(_ context.Context, oldTokenID uuid.UUID, userID uuid.UUID, newHash string, expiresAt time.Time, _ string, _ string) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var oldToken *storage.RefreshToken
	for _, token := range m.tokens {
		if token.ID == oldTokenID {
			oldToken = token
			break
		}
	}
	if oldToken == nil {
		return uuid.Nil, storage.ErrNotFound
	}
	now := time.Now()
	oldToken.RevokedAt = &now

	id := uuid.New()
	m.tokens[newHash] = &storage.RefreshToken{ID: id, UserID: userID, TokenHash: newHash, ExpiresAt: expiresAt}
	return id, nil
}

func (m *memStore) RevokeTokenByHash(_ context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if token, ok := m.tokens[hash]; ok {
		now := time.Now()
		token.RevokedAt = &now
	}
	return nil
}

func (m *memStore) RevokeAllTokens(_ context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, token := range m.tokens {
		if token.UserID == userID && token.RevokedAt == nil {
			now := time.Now()
			token.RevokedAt = &now
		}
	}
	return nil
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, rate.Attempt, time.Time) (bool, time.Duration, error) {
	return false, 0, errors.New("redis down")
}

func (failingLimiter) Forgive(context.Context, rate.Attempt) error {
	return errors.New("redis down")
}

var fastArgon = security.Argon2Params{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

func addUser(t *testing.T, store *memStore, email, password, role, status string) *storage.User {
	t.Helper()
	hash, err := security.NewPasswords(fastArgon).Hash(password)
	require.NoError(t, err)
	user := &storage.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		DisplayName:  "Jan Kowalski",
		Phone:        "+48 600 000 000",
		NationalID:   "90010112345",
		Role:         role,
		Status:       status,
	}
	store.users[email] = user
	return user
}

func setupHandler(t *testing.T, store *memStore, limiter rate.Limiter, tokens []string, now time.Time) (*AuthHandler, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if limiter == nil {
		limiter = rate.NewMemory(rate.Policy{PerIP: 100, PerAccount: 100, Window: time.Minute})
	}
	metrics := NewMetrics(prometheus.NewRegistry())
	h := NewAuthHandler(store, logging.Discard(), metrics, testSecret, 15*time.Minute, 24*time.Hour, limiter, "portal-auth")
	h.Passwords = security.NewPasswords(fastArgon)
	h.TokenGen = &fakeTokenGen{tokens: tokens}
	h.Clock = fakeClock{now: now}
	router := gin.New()
	h.RegisterRoutes(router)
	return h, router
}

func performRequest(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeAuth(t *testing.T, resp *httptest.ResponseRecorder) authResponse {
	t.Helper()
	var out authResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	return out
}

func TestLoginIssuesTokensWithProfileClaims(t *testing.T) {
	store := newMemStore()
	user := addUser(t, store, "admin@bank-example.pl", "s3cret", auth.RoleEntityAdmin, storage.UserStatusActive)
	store.entities[user.ID] = []string{"ent-1"}

	now := time.Now().UTC()
	h, router := setupHandler(t, store, nil, []string{"prt_refresh-1"}, now)

	resp := performRequest(router, http.MethodPost, "/auth/login", loginRequest{Email: "  Admin@Bank-Example.pl ", Password: "s3cret"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	out := decodeAuth(t, resp)
	assert.Equal(t, "prt_refresh-1", out.RefreshToken)
	assert.Equal(t, "Bearer", out.TokenType)
	assert.Equal(t, int64(900), out.ExpiresIn)
	assert.Contains(t, store.tokens, tokenHash(t, "prt_refresh-1"))

	claims, err := auth.ParseJWT(out.AccessToken, []byte(testSecret))
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), claims.Subject)
	assert.Equal(t, []string{auth.RoleEntityAdmin}, claims.Roles)
	assert.Equal(t, []string{"ent-1"}, claims.Entities)
	assert.Equal(t, "Jan Kowalski", claims.Name)
	assert.Equal(t, "*******2345", claims.NationalIDMasked)
	assert.Equal(t, "portal-auth", claims.Issuer)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.Metrics.LoginAttempts.WithLabelValues("success")))
}

func TestLoginRejections(t *testing.T) {
	store := newMemStore()
	addUser(t, store, "user@example.com", "s3cret", auth.RoleSubmitter, storage.UserStatusActive)
	addUser(t, store, "locked@example.com", "s3cret", auth.RoleSubmitter, "locked")

	cases := []struct {
		name string
		body loginRequest
		code int
	}{
		{name: "missing password", body: loginRequest{Email: "user@example.com"}, code: http.StatusBadRequest},
		{name: "wrong password", body: loginRequest{Email: "user@example.com", Password: "wrong"}, code: http.StatusUnauthorized},
		{name: "unknown user", body: loginRequest{Email: "ghost@example.com", Password: "s3cret"}, code: http.StatusUnauthorized},
		{name: "inactive account", body: loginRequest{Email: "locked@example.com", Password: "s3cret"}, code: http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, router := setupHandler(t, store, nil, []string{"prt_refresh-1"}, time.Now())
			resp := performRequest(router, http.MethodPost, "/auth/login", tc.body)
			assert.Equal(t, tc.code, resp.Code, resp.Body.String())
		})
	}
}

func TestLoginRateLimited(t *testing.T) {
	store := newMemStore()
	addUser(t, store, "user@example.com", "s3cret", auth.RoleSubmitter, storage.UserStatusActive)

	now := time.Now()
	h, router := setupHandler(t, store, rate.NewMemory(rate.Policy{PerIP: 1, PerAccount: 1, Window: time.Minute}), []string{"prt_refresh-1", "prt_refresh-2"}, now)

	first := performRequest(router, http.MethodPost, "/auth/login", loginRequest{Email: "user@example.com", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, first.Code)

	second := performRequest(router, http.MethodPost, "/auth/login", loginRequest{Email: "user@example.com", Password: "s3cret"})
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "60", second.Header().Get("Retry-After"))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.Metrics.LoginAttempts.WithLabelValues("rate_limited")))
}

func TestLoginFailsOpenWhenLimiterErrors(t *testing.T) {
	store := newMemStore()
	addUser(t, store, "user@example.com", "s3cret", auth.RoleSubmitter, storage.UserStatusActive)

	_, router := setupHandler(t, store, failingLimiter{}, []string{"prt_refresh-1"}, time.Now())
	resp := performRequest(router, http.MethodPost, "/auth/login", loginRequest{Email: "user@example.com", Password: "s3cret"})
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestRefreshRotationAndReuse(t *testing.T) {
	store := newMemStore()
	user := addUser(t, store, "user@example.com", "s3cret", auth.RoleSubmitter, storage.UserStatusActive)
	initialHash := tokenHash(t, "prt_refresh-1")
	store.tokens[initialHash] = &storage.RefreshToken{
		ID:        uuid.New(),
		UserID:    user.ID,
		TokenHash: initialHash,
		ExpiresAt: time.Now().Add(time.Hour),
	}

	_, router := setupHandler(t, store, nil, []string{"prt_refresh-2"}, time.Now())

	resp := performRequest(router, http.MethodPost, "/auth/refresh", refreshRequest{RefreshToken: "prt_refresh-1"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	out := decodeAuth(t, resp)
	assert.Equal(t, "prt_refresh-2", out.RefreshToken)
	assert.NotNil(t, store.tokens[initialHash].RevokedAt)

	claims, err := auth.ParseJWT(out.AccessToken, []byte(testSecret))
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), claims.Subject)

	resp = performRequest(router, http.MethodPost, "/auth/refresh", refreshRequest{RefreshToken: "prt_refresh-1"})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.NotNil(t, store.tokens[tokenHash(t, "prt_refresh-2")].RevokedAt, "reuse must revoke the whole chain")
}

func TestRefreshRejectsExpiredAndInactive(t *testing.T) {
	store := newMemStore()
	active := addUser(t, store, "user@example.com", "s3cret", auth.RoleSubmitter, storage.UserStatusActive)
	locked := addUser(t, store, "locked@example.com", "s3cret", auth.RoleSubmitter, "locked")
	now := time.Now()

	expiredHash := tokenHash(t, "prt_expired")
	store.tokens[expiredHash] = &storage.RefreshToken{ID: uuid.New(), UserID: active.ID, TokenHash: expiredHash, ExpiresAt: now.Add(-time.Minute)}
	lockedHash := tokenHash(t, "prt_locked")
	store.tokens[lockedHash] = &storage.RefreshToken{ID: uuid.New(), UserID: locked.ID, TokenHash: lockedHash, ExpiresAt: now.Add(time.Hour)}

	_, router := setupHandler(t, store, nil, []string{"prt_refresh-x"}, now)

	resp := performRequest(router, http.MethodPost, "/auth/refresh", refreshRequest{RefreshToken: "prt_expired"})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.NotNil(t, store.tokens[expiredHash].RevokedAt)

	resp = performRequest(router, http.MethodPost, "/auth/refresh", refreshRequest{RefreshToken: "prt_locked"})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.NotNil(t, store.tokens[lockedHash].RevokedAt)

	resp = performRequest(router, http.MethodPost, "/auth/refresh", refreshRequest{RefreshToken: "prt_unknown"})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestLogoutRevokesToken(t *testing.T) {
	store := newMemStore()
	initialHash := tokenHash(t, "prt_refresh-1")
	store.tokens[initialHash] = &storage.RefreshToken{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		TokenHash: initialHash,
		ExpiresAt: time.Now().Add(time.Hour),
	}

	_, router := setupHandler(t, store, nil, nil, time.Now())

	resp := performRequest(router, http.MethodPost, "/auth/logout", refreshRequest{RefreshToken: "prt_refresh-1"})
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.NotNil(t, store.tokens[initialHash].RevokedAt)

	resp = performRequest(router, http.MethodPost, "/auth/logout", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestLoginUpgradesStalePasswordHash(t *testing.T) {
	store := newMemStore()
	user := addUser(t, store, "user@example.com", "s3cret", auth.RoleSubmitter, storage.UserStatusActive)
	oldHash := user.PasswordHash

	h, router := setupHandler(t, store, nil, []string{"prt_refresh-1", "prt_refresh-2"}, time.Now())
	stronger := fastArgon
	stronger.Iterations = 2
	h.Passwords = security.NewPasswords(stronger)

	resp := performRequest(router, http.MethodPost, "/auth/login", loginRequest{Email: "user@example.com", Password: "s3cret"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	require.NotEqual(t, oldHash, user.PasswordHash)

	match, stale, err := h.Passwords.Verify("s3cret", user.PasswordHash)
	require.NoError(t, err)
	assert.True(t, match)
	assert.False(t, stale)

	resp = performRequest(router, http.MethodPost, "/auth/login", loginRequest{Email: "user@example.com", Password: "s3cret"})
	assert.Equal(t, http.StatusOK, resp.Code, "the upgraded hash keeps working")
}

func TestLoginWrongPasswordKeepsStaleHash(t *testing.T) {
	store := newMemStore()
	user := addUser(t, store, "user@example.com", "s3cret", auth.RoleSubmitter, storage.UserStatusActive)
	oldHash := user.PasswordHash

	h, router := setupHandler(t, store, nil, nil, time.Now())
	stronger := fastArgon
	stronger.Iterations = 2
	h.Passwords = security.NewPasswords(stronger)

	resp := performRequest(router, http.MethodPost, "/auth/login", loginRequest{Email: "user@example.com", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, oldHash, user.PasswordHash)
}

func TestLoginSuccessClearsAccountCounter(t *testing.T) {
	store := newMemStore()
	addUser(t, store, "user@example.com", "s3cret", auth.RoleSubmitter, storage.UserStatusActive)

	limiter := rate.NewMemory(rate.Policy{PerIP: 100, PerAccount: 2, Window: time.Minute})
	_, router := setupHandler(t, store, limiter, []string{"prt_refresh-1"}, time.Now())
	login := func(password string) int {
		return performRequest(router, http.MethodPost, "/auth/login", loginRequest{Email: "user@example.com", Password: password}).Code
	}

	assert.Equal(t, http.StatusUnauthorized, login("wrong"))
	assert.Equal(t, http.StatusOK, login("s3cret"))
	assert.Equal(t, http.StatusUnauthorized, login("wrong"))
	assert.Equal(t, http.StatusUnauthorized, login("wrong"))
	assert.Equal(t, http.StatusTooManyRequests, login("wrong"))
}

func TestMalformedRefreshTokenNeverReachesStore(t *testing.T) {
	store := newMemStore()
	_, router := setupHandler(t, store, nil, nil, time.Now())

	resp := performRequest(router, http.MethodPost, "/auth/refresh", refreshRequest{RefreshToken: "not-a-portal-token"})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Zero(t, store.tokenLookups)

	resp = performRequest(router, http.MethodPost, "/auth/logout", refreshRequest{RefreshToken: "prt_bad token"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}
