package model

import (
	"time"
)

// EventModel 账本审计记录
type EventModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	RecordId       string    `json:"record_id" gorm:"uniqueIndex;not null"`
	EventType      string    `json:"event_type" gorm:"not null;index"`
	ProposalId     uint64    `json:"proposal_id" gorm:"not null;index"`
	Actor          string    `json:"actor"`
	MilestoneIndex int       `json:"milestone_index"`
	Amount         uint64    `json:"amount"`
	Detail         string    `json:"detail" gorm:"type:text"`
	OccurredAt     time.Time `json:"occurred_at" gorm:"not null"`
	Published      bool      `json:"published" gorm:"default:false"` // 是否已推送到消息总线
}

// TableName 自定义表名
func (EventModel) TableName() string {
	return "event"
}
