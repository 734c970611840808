package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/blues/tgs/internal/logic"
	"github.com/blues/tgs/internal/scoring"
)

// BackendStats 资金托管后端的状态
type BackendStats func(ctx context.Context) (interface{}, error)

type TreasuryHandler struct {
	totals  func() logic.EscrowTotals
	backend BackendStats
}

func NewTreasuryHandler(totals func() logic.EscrowTotals, backend BackendStats) *TreasuryHandler {
	return &TreasuryHandler{totals: totals, backend: backend}
}

// Stats 资金概况
func (h *TreasuryHandler) Stats(c *gin.Context) {
	resp := TreasuryStatsResponse{Ledger: h.totals()}
	if h.backend != nil {
		stats, err := h.backend(c.Request.Context())
		if err != nil {
			LedgerError(c, err)
			return
		}
		resp.Backend = stats
	}
	SuccessResponse(c, http.StatusOK, "", resp)
}

type ScoringHandler struct {
	gate *scoring.Gate
}

func NewScoringHandler(gate *scoring.Gate) *ScoringHandler {
	return &ScoringHandler{gate: gate}
}

// Models 接受的评分模型
func (h *ScoringHandler) Models(c *gin.Context) {
	SuccessResponse(c, http.StatusOK, "", h.gate.Models())
}

// AddModel 添加评分模型
func (h *ScoringHandler) AddModel(c *gin.Context) {
	var req ModelTagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.gate.AddModel(c.Request.Context(), Caller(c), req.Tag); err != nil {
		LedgerError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, "模型已添加", h.gate.Models())
}

// RemoveModel 移除评分模型
func (h *ScoringHandler) RemoveModel(c *gin.Context) {
	if err := h.gate.RemoveModel(c.Request.Context(), Caller(c), c.Param("tag")); err != nil {
		LedgerError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "模型已移除", h.gate.Models())
}
