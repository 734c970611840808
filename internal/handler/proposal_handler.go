package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/blues/tgs/internal/logic"
	"github.com/blues/tgs/internal/model"
	"github.com/blues/tgs/internal/scoring"
)

// EventReader 提案审计记录查询
type EventReader interface {
	Events(ctx context.Context, proposalID uint64) ([]model.EventModel, error)
}

type ProposalHandler struct {
	ledger *logic.ProposalLedger
	scores *scoring.Gate
	events EventReader
}

func NewProposalHandler(ledger *logic.ProposalLedger, scores *scoring.Gate, events EventReader) *ProposalHandler {
	return &ProposalHandler{ledger: ledger, scores: scores, events: events}
}

func parseID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		ErrorResponse(c, http.StatusBadRequest, "无效的提案ID")
		return 0, false
	}
	return id, true
}

// Submit 提交提案
func (h *ProposalHandler) Submit(c *gin.Context) {
	var req SubmitProposalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	period, err := time.ParseDuration(req.VotingPeriod)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "无效的投票周期")
		return
	}

	p, err := h.ledger.Submit(c.Request.Context(), logic.SubmitInput{
		Proposer:              Caller(c),
		Title:                 req.Title,
		Summary:               req.Summary,
		ContentRef:            req.ContentRef,
		RequestedAmount:       req.RequestedAmount,
		VotingPeriod:          period,
		MilestoneDescriptions: req.Descriptions,
		MilestoneAmounts:      req.Amounts,
		ProposerWeight:        req.ProposerWeight,
	})
	if err != nil {
		LedgerError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, "提案提交成功", p)
}

// List 获取提案列表
func (h *ProposalHandler) List(c *gin.Context) {
	filter := logic.ProposalFilter{
		Status:   logic.ProposalStatus(c.Query("status")),
		Proposer: c.Query("proposer"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		ErrorResponse(c, http.StatusBadRequest, "无效的提案状态")
		return
	}
	SuccessResponse(c, http.StatusOK, "", h.ledger.List(filter))
}

// Get 获取提案详情
func (h *ProposalHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	p, err := h.ledger.Get(id)
	if err != nil {
		LedgerError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "", p)
}

// Vote 投票
func (h *ProposalHandler) Vote(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.ledger.CastVote(c.Request.Context(), id, Caller(c), req.Weight, logic.VoteChoice(req.Choice))
	if err != nil {
		LedgerError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "投票成功", p)
}

// Finalize 结算投票
func (h *ProposalHandler) Finalize(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	p, err := h.ledger.Finalize(c.Request.Context(), id)
	if err != nil {
		LedgerError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "提案已结算", p)
}

// Cancel 取消提案
func (h *ProposalHandler) Cancel(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	p, err := h.ledger.Cancel(c.Request.Context(), Caller(c), id)
	if err != nil {
		LedgerError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "提案已取消", p)
}

// Score 提交AI评分
func (h *ProposalHandler) Score(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req ScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	scoredAt, err := time.Parse(time.RFC3339, req.ScoredAt)
	if err != nil {
		ErrorResponse(c, http.StatusBadRequest, "无效的评分时间")
		return
	}

	p, err := h.scores.Submit(c.Request.Context(), Caller(c), scoring.Score{
		ProposalID:       id,
		Overall:          req.Overall,
		Breakdown:        req.Breakdown,
		JustificationRef: req.JustificationRef,
		ModelTag:         req.ModelTag,
		ScoredAt:         scoredAt,
	})
	if err != nil {
		LedgerError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "评分已记录", p)
}

// Events 提案审计记录
func (h *ProposalHandler) Events(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if _, err := h.ledger.Get(id); err != nil {
		LedgerError(c, err)
		return
	}
	events, err := h.events.Events(c.Request.Context(), id)
	if err != nil {
		LedgerError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "", events)
}
