package model

import (
	"time"
)

// AIScoreModel AI评分记录，每个提案一条
type AIScoreModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ProposalId       uint64    `json:"proposal_id" gorm:"uniqueIndex;not null"`
	Oracle           string    `json:"oracle" gorm:"not null"`
	Overall          uint8     `json:"overall" gorm:"not null"`
	Breakdown        []int     `json:"breakdown" gorm:"serializer:json;type:text"`
	JustificationRef string    `json:"justification_ref"`
	ModelTag         string    `json:"model_tag" gorm:"not null"`
	ScoredAt         time.Time `json:"scored_at" gorm:"not null"`
	Status           string    `json:"status" gorm:"not null;index;default:'pending'"` // pending, forwarded, expired
}

// ScoreStatus 评分处理状态
type ScoreStatus string

const (
	ScoreStatusPending   ScoreStatus = "pending"   // 等待转交账本
	ScoreStatusForwarded ScoreStatus = "forwarded" // 已记录到账本
	ScoreStatusExpired   ScoreStatus = "expired"   // 超过有效期
)

// TableName 自定义表名
func (AIScoreModel) TableName() string {
	return "ai_score"
}

// ModelTagModel 接受的评分模型标识
type ModelTagModel struct {
	Tag       string    `json:"tag" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	AddedBy   string    `json:"added_by"`
}

// TableName 自定义表名
func (ModelTagModel) TableName() string {
	return "model_tag"
}
