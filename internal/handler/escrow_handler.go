package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/blues/tgs/internal/logic"
)

type EscrowHandler struct {
	ledger *logic.EscrowLedger
}

func NewEscrowHandler(ledger *logic.EscrowLedger) *EscrowHandler {
	return &EscrowHandler{ledger: ledger}
}

func parseMilestone(c *gin.Context) (uint64, int, bool) {
	id, ok := parseID(c)
	if !ok {
		return 0, 0, false
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		ErrorResponse(c, http.StatusBadRequest, "无效的里程碑序号")
		return 0, 0, false
	}
	return id, index, true
}

// List 托管列表，可按状态过滤
func (h *EscrowHandler) List(c *gin.Context) {
	SuccessResponse(c, http.StatusOK, "", h.ledger.List(logic.EscrowStatus(c.Query("status"))))
}

// Get 获取托管
func (h *EscrowHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	e, err := h.ledger.Get(id)
	if err != nil {
		LedgerError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "", e)
}

// GetMilestone 获取托管里程碑
func (h *EscrowHandler) GetMilestone(c *gin.Context) {
	id, index, ok := parseMilestone(c)
	if !ok {
		return
	}
	m, err := h.ledger.GetMilestone(id, index)
	if err != nil {
		LedgerError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "", m)
}

// SetMilestone 设置里程碑
func (h *EscrowHandler) SetMilestone(c *gin.Context) {
	id, index, ok := parseMilestone(c)
	if !ok {
		return
	}
	var req SetMilestoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	e, err := h.ledger.SetMilestone(c.Request.Context(), Caller(c), id, index, req.Amount, req.Description)
	h.respond(c, e, err, "里程碑已设置")
}

// SubmitEvidence 提交证明
func (h *EscrowHandler) SubmitEvidence(c *gin.Context) {
	id, index, ok := parseMilestone(c)
	if !ok {
		return
	}
	var req EvidenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	e, err := h.ledger.SubmitEvidence(c.Request.Context(), Caller(c), id, index, req.EvidenceRef)
	h.respond(c, e, err, "证明已提交")
}

// Approve 审批里程碑并释放资金
func (h *EscrowHandler) Approve(c *gin.Context) {
	id, index, ok := parseMilestone(c)
	if !ok {
		return
	}
	e, err := h.ledger.ApproveMilestone(c.Request.Context(), Caller(c), id, index)
	h.respond(c, e, err, "里程碑已释放")
}

// Dispute 发起争议
func (h *EscrowHandler) Dispute(c *gin.Context) {
	id, index, ok := parseMilestone(c)
	if !ok {
		return
	}
	var req DisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	e, err := h.ledger.DisputeMilestone(c.Request.Context(), Caller(c), id, index, req.Reason)
	h.respond(c, e, err, "争议已登记")
}

// Resolve 裁决争议
func (h *EscrowHandler) Resolve(c *gin.Context) {
	id, index, ok := parseMilestone(c)
	if !ok {
		return
	}
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	e, err := h.ledger.ResolveDispute(c.Request.Context(), Caller(c), id, index, *req.Approve)
	h.respond(c, e, err, "争议已裁决")
}

// Cancel 取消托管并退回剩余资金
func (h *EscrowHandler) Cancel(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req CancelEscrowRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			ErrorResponse(c, http.StatusBadRequest, err.Error())
			return
		}
	}
	e, err := h.ledger.CancelEscrow(c.Request.Context(), Caller(c), id, req.Reason)
	h.respond(c, e, err, "托管已取消")
}

// Pending 查看待确认的转账
func (h *EscrowHandler) Pending(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	kind, amount, found := h.ledger.PendingTransfer(id)
	if !found {
		ErrorResponse(c, http.StatusNotFound, "没有待确认的转账")
		return
	}
	SuccessResponse(c, http.StatusOK, "", gin.H{"kind": kind, "amount": amount})
}

// ResolvePending 人工确认结果未知的转账
func (h *EscrowHandler) ResolvePending(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req ResolvePendingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	e, err := h.ledger.ResolvePending(c.Request.Context(), Caller(c), id, *req.Landed)
	h.respond(c, e, err, "待确认转账已处理")
}

func (h *EscrowHandler) respond(c *gin.Context, e *logic.Escrow, err error, message string) {
	if err != nil {
		LedgerError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, message, e)
}
