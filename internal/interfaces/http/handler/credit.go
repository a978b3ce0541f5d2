package handler

import (
	"github.com/gin-gonic/gin"

	"storyforge-api/internal/application/billing"
	"storyforge-api/internal/interfaces/http/dto"
	"storyforge-api/internal/interfaces/http/middleware"
)

// CreditHandler 信用点接口处理器
type CreditHandler struct {
	ledger *billing.Ledger
}

// NewCreditHandler 创建信用点处理器
func NewCreditHandler(ledger *billing.Ledger) *CreditHandler {
	return &CreditHandler{ledger: ledger}
}

// Balance 查询余额
// GET /api/v1/credits
func (h *CreditHandler) Balance(c *gin.Context) {
	userID := middleware.CurrentUserID(c)

	account, err := h.ledger.Balance(c.Request.Context(), userID)
	if err != nil {
		dto.Error(c, err)
		return
	}

	dto.Success(c, gin.H{
		"balance":   account.Balance,
		"reserved":  account.Reserved,
		"available": account.Available(),
	})
}

type topUpRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

// TopUp 充值
// POST /api/v1/credits/topup
func (h *CreditHandler) TopUp(c *gin.Context) {
	var req topUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid top-up request")
		return
	}

	userID := middleware.CurrentUserID(c)
	if err := h.ledger.TopUp(c.Request.Context(), userID, req.Amount); err != nil {
		dto.Error(c, err)
		return
	}

	account, err := h.ledger.Balance(c.Request.Context(), userID)
	if err != nil {
		dto.Error(c, err)
		return
	}
	dto.Success(c, gin.H{
		"balance":   account.Balance,
		"available": account.Available(),
	})
}
