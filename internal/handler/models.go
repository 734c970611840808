package handler

import (
	"github.com/gin-gonic/gin"
)

// CallerKey gin 上下文中的调用方身份
const CallerKey = "caller"

// Caller 当前请求的调用方
func Caller(c *gin.Context) string {
	return c.GetString(CallerKey)
}

// 通用响应结构
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// 提案相关请求

// SubmitProposalRequest 提交提案请求，提案人为调用方
type SubmitProposalRequest struct {
	Title           string   `json:"title" binding:"required"`
	Summary         string   `json:"summary" binding:"required"`
	ContentRef      string   `json:"content_ref" binding:"required"`
	RequestedAmount uint64   `json:"requested_amount" binding:"required"`
	VotingPeriod    string   `json:"voting_period" binding:"required"` // 例如 "72h"
	Descriptions    []string `json:"milestone_descriptions"`
	Amounts         []uint64 `json:"milestone_amounts"`
	ProposerWeight  uint64   `json:"proposer_weight"`
}

// VoteRequest 投票请求，投票人为调用方
type VoteRequest struct {
	Choice string `json:"choice" binding:"required"` // for, against, abstain
	Weight uint64 `json:"weight" binding:"required"`
}

// ScoreRequest 评分预言机提交评分
type ScoreRequest struct {
	Overall          uint8  `json:"overall"`
	Breakdown        []int  `json:"breakdown"`
	JustificationRef string `json:"justification_ref"`
	ModelTag         string `json:"model_tag" binding:"required"`
	ScoredAt         string `json:"scored_at" binding:"required"` // RFC3339
}

// 托管相关请求

// SetMilestoneRequest 设置托管里程碑
type SetMilestoneRequest struct {
	Amount      uint64 `json:"amount" binding:"required"`
	Description string `json:"description"`
}

// EvidenceRequest 提交里程碑证明
type EvidenceRequest struct {
	EvidenceRef string `json:"evidence_ref" binding:"required"`
}

// DisputeRequest 发起争议
type DisputeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// ResolveRequest 裁决争议
type ResolveRequest struct {
	Approve *bool `json:"approve" binding:"required"`
}

// ResolvePendingRequest 人工确认待定转账
type ResolvePendingRequest struct {
	Landed *bool `json:"landed" binding:"required"`
}

// CancelEscrowRequest 取消托管
type CancelEscrowRequest struct {
	Reason string `json:"reason"`
}

// ModelTagRequest 添加评分模型
type ModelTagRequest struct {
	Tag string `json:"tag" binding:"required"`
}

// TreasuryStatsResponse 资金概况
type TreasuryStatsResponse struct {
	Ledger  interface{} `json:"ledger"`
	Backend interface{} `json:"backend,omitempty"`
}
