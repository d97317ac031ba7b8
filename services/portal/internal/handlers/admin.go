package handlers

import (
	"net/http"

	"github.com/AfshinJalili/regportal/libs/auth"
	"github.com/AfshinJalili/regportal/services/portal/internal/policy"
	"github.com/gin-gonic/gin"
)

type checkPasswordRequest struct {
	Password string `json:"password"`
}

type checkPasswordResponse struct {
	Valid      bool     `json:"valid"`
	Violations []string `json:"violations"`
}

func (h *Handler) GetPasswordPolicy(c *gin.Context) {
	c.JSON(http.StatusOK, h.Policy.Get())
}

func (h *Handler) UpdatePasswordPolicy(c *gin.Context) {
	var body policy.PasswordPolicy
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}
	updated := h.Policy.Update(body)
	h.Logger.Info("password policy updated",
		"min_length", updated.MinLength,
		"rotation_days", updated.RotationDays,
		"history_count", updated.HistoryCount,
		"user_id", c.GetString(auth.ContextUserIDKey))
	c.JSON(http.StatusOK, updated)
}

func (h *Handler) CheckPassword(c *gin.Context) {
	var body checkPasswordRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}
	violations := h.Policy.Get().Check(body.Password)
	if violations == nil {
		violations = []string{}
	}
	c.JSON(http.StatusOK, checkPasswordResponse{Valid: len(violations) == 0, Violations: violations})
}
