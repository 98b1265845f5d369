package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vizboard/vizboard-backend/internal/http/response"
	"github.com/vizboard/vizboard-backend/internal/pkg/ctxutil"
	"github.com/vizboard/vizboard-backend/internal/services"
)

type AccountHandler struct {
	admission services.AdmissionService
}

func NewAccountHandler(admission services.AdmissionService) *AccountHandler {
	return &AccountHandler{admission: admission}
}

// GET /api/account/usage
func (h *AccountHandler) GetUsage(c *gin.Context) {
	acct, err := h.admission.Usage(c.Request.Context(), ctxutil.UserID(c.Request.Context()))
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	remaining := acct.TokensLimit - acct.TokensUsed
	if remaining < 0 {
		remaining = 0
	}
	response.RespondOK(c, gin.H{
		"tier":         acct.Tier,
		"tokens_used":  acct.TokensUsed,
		"tokens_limit": acct.TokensLimit,
		"remaining":    remaining,
		"reset_date":   acct.ResetDate.UTC().Format(time.RFC3339),
	})
}
