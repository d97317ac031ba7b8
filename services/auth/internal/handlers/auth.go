package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/AfshinJalili/regportal/services/auth/internal/rate"
	"github.com/AfshinJalili/regportal/services/auth/internal/security"
	"github.com/AfshinJalili/regportal/services/auth/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type Store interface {
	GetUserByEmail(ctx context.Context, email string) (*storage.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*storage.User, error)
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error
	ListAdministeredEntities(ctx context.Context, userID uuid.UUID) ([]string, error)
	GetRefreshTokenByHash(ctx context.Context, hash string) (*storage.RefreshToken, error)
	CreateRefreshToken(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time, ip string, userAgent string) (uuid.UUID, error)
	RotateToken(ctx context.Context, oldTokenID uuid.UUID, userID uuid.UUID, newHash string, expiresAt time.Time, ip string, userAgent string) (uuid.UUID, error)
	RevokeTokenByHash(ctx context.Context, hash string) error
	RevokeAllTokens(ctx context.Context, userID uuid.UUID) error
}

type AuthHandler struct {
	Store       Store
	Logger      *slog.Logger
	Metrics     *Metrics
	JWTSecret   []byte
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
	RateLimiter rate.Limiter
	Passwords   *security.Passwords
	TokenGen    security.TokenGenerator
	Clock       Clock
	Issuer      string
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type authResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewAuthHandler(store Store, logger *slog.Logger, metrics *Metrics, jwtSecret string, accessTTL, refreshTTL time.Duration, limiter rate.Limiter, issuer string) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		Store:       store,
		Logger:      logger,
		Metrics:     metrics,
		JWTSecret:   []byte(jwtSecret),
		AccessTTL:   accessTTL,
		RefreshTTL:  refreshTTL,
		RateLimiter: limiter,
		Passwords:   security.NewPasswords(security.DefaultArgon2Params()),
		TokenGen:    security.DefaultTokenGenerator{},
		Clock:       systemClock{},
		Issuer:      issuer,
	}
}

func (h *AuthHandler) RegisterRoutes(r *gin.Engine) {
	r.POST("/auth/login", h.Login)
	r.POST("/auth/refresh", h.Refresh)
	r.POST("/auth/logout", h.Logout)
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Email) == "" || req.Password == "" {
		h.Metrics.observeLogin("invalid_request")
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "email and password are required"})
		return
	}

	ctx := c.Request.Context()
	ip := c.ClientIP()
	now := h.Clock.Now()
	attempt := rate.Attempt{IP: ip, Email: req.Email}
	allowed, retryAfter, err := h.RateLimiter.Allow(ctx, attempt, now)
	if err != nil {
		h.Logger.Error("login rate limit check failed", "error", err)
		allowed = true
	}
	if !allowed {
		h.Metrics.observeLogin("rate_limited")
		if retryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(int(retryAfter.Round(time.Second)/time.Second)))
		}
		c.JSON(http.StatusTooManyRequests, errorResponse{Code: "RATE_LIMITED", Message: "too many requests"})
		return
	}

	user, err := h.Store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.Passwords.VerifyUnknown(req.Password)
			h.Metrics.observeLogin("invalid_credentials")
			c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "invalid credentials"})
			return
		}
		h.Logger.Error("login lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "INTERNAL_ERROR", Message: "internal error"})
		return
	}

	match, stale, err := h.Passwords.Verify(req.Password, user.PasswordHash)
	if err != nil {
		h.Logger.Warn("stored password hash unreadable", "user_id", user.ID.String(), "error", err)
	}
	if err != nil || !match {
		h.Metrics.observeLogin("invalid_credentials")
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "invalid credentials"})
		return
	}
	if !user.Active() {
		h.Metrics.observeLogin("inactive")
		c.JSON(http.StatusForbidden, errorResponse{Code: "FORBIDDEN", Message: "account is not active"})
		return
	}
	if stale {
		h.upgradePasswordHash(ctx, user, req.Password)
	}

	access, err := h.issueAccessToken(ctx, user, now)
	if err != nil {
		h.Logger.Error("access token issue failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "INTERNAL_ERROR", Message: "internal error"})
		return
	}

	refreshToken, refreshHash, err := h.TokenGen.New()
	if err != nil {
		h.Logger.Error("refresh token generation failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "INTERNAL_ERROR", Message: "internal error"})
		return
	}

	if _, err := h.Store.CreateRefreshToken(ctx, user.ID, refreshHash, now.Add(h.RefreshTTL), ip, c.Request.UserAgent()); err != nil {
		h.Logger.Error("refresh token insert failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "INTERNAL_ERROR", Message: "internal error"})
		return
	}

	if err := h.RateLimiter.Forgive(ctx, attempt); err != nil {
		h.Logger.Warn("login rate limit reset failed", "error", err)
	}
	h.Metrics.observeLogin("success")
	h.Logger.Info("login succeeded", "user_id", user.ID.String(), "role", user.Role)
	c.JSON(http.StatusOK, h.response(access, refreshToken))
}

func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "invalid payload"})
		return
	}

	providedHash, err := security.HashRefreshToken(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "invalid token"})
		return
	}

	ctx := c.Request.Context()
	token, err := h.Store.GetRefreshTokenByHash(ctx, providedHash)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			h.Logger.Error("refresh token lookup failed", "error", err)
		}
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "invalid token"})
		return
	}

	// A revoked token presented again means it leaked: end every session.
	if token.RevokedAt != nil {
		if err := h.Store.RevokeAllTokens(ctx, token.UserID); err != nil {
			h.Logger.Error("revoke all tokens failed", "user_id", token.UserID.String(), "error", err)
		}
		h.Logger.Warn("refresh token reuse detected", "user_id", token.UserID.String(), "client_ip", c.ClientIP())
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "token reuse detected"})
		return
	}

	now := h.Clock.Now()
	if token.ExpiresAt.Before(now) {
		_ = h.Store.RevokeTokenByHash(ctx, providedHash)
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "token expired"})
		return
	}

	user, err := h.Store.GetUserByID(ctx, token.UserID)
	if err != nil || !user.Active() {
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			h.Logger.Error("refresh user lookup failed", "error", err)
		}
		_ = h.Store.RevokeAllTokens(ctx, token.UserID)
		c.JSON(http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "invalid token"})
		return
	}

	newToken, newHash, err := h.TokenGen.New()
	if err != nil {
		h.Logger.Error("refresh token generation failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "INTERNAL_ERROR", Message: "internal error"})
		return
	}

	if _, err := h.Store.RotateToken(ctx, token.ID, token.UserID, newHash, now.Add(h.RefreshTTL), c.ClientIP(), c.Request.UserAgent()); err != nil {
		h.Logger.Error("token rotation failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "INTERNAL_ERROR", Message: "internal error"})
		return
	}

	access, err := h.issueAccessToken(ctx, user, now)
	if err != nil {
		h.Logger.Error("access token issue failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "INTERNAL_ERROR", Message: "internal error"})
		return
	}

	c.JSON(http.StatusOK, h.response(access, newToken))
}

func (h *AuthHandler) Logout(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "invalid payload"})
		return
	}

	hash, err := security.HashRefreshToken(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Message: "invalid refresh token"})
		return
	}
	if err := h.Store.RevokeTokenByHash(c.Request.Context(), hash); err != nil {
		h.Logger.Error("revoke token failed", "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Code: "INTERNAL_ERROR", Message: "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// issueAccessToken signs a token for user with the entities they currently
// administer, so resource services need no lookup of their own.
func (h *AuthHandler) issueAccessToken(ctx context.Context, user *storage.User, now time.Time) (string, error) {
	entities, err := h.Store.ListAdministeredEntities(ctx, user.ID)
	if err != nil {
		return "", err
	}
	return security.NewAccessToken(security.Subject{
		UserID:     user.ID.String(),
		Roles:      []string{user.Role},
		Entities:   entities,
		Name:       user.DisplayName,
		Email:      user.Email,
		Phone:      user.Phone,
		NationalID: user.NationalID,
	}, h.JWTSecret, h.AccessTTL, now, h.Issuer)
}

func (h *AuthHandler) response(access, refresh string) authResponse {
	return authResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(h.AccessTTL.Seconds()),
	}
}

// upgradePasswordHash stores a hash with the current parameters. Failure only
// costs the upgrade; the login itself goes ahead.
func (h *AuthHandler) upgradePasswordHash(ctx context.Context, user *storage.User, password string) {
	hash, err := h.Passwords.Hash(password)
	if err == nil {
		err = h.Store.UpdatePasswordHash(ctx, user.ID, hash)
	}
	if err != nil {
		h.Logger.Warn("password hash upgrade failed", "user_id", user.ID.String(), "error", err)
		return
	}
	user.PasswordHash = hash
	h.Logger.Info("password hash upgraded", "user_id", user.ID.String())
}
