package model

import (
	"time"
)

// RoleGrantModel 角色授权
type RoleGrantModel struct {
	Id        int64     `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	Identity  string `json:"identity" gorm:"not null;uniqueIndex:idx_identity_role"`
	Role      string `json:"role" gorm:"not null;uniqueIndex:idx_identity_role"`
	GrantedBy string `json:"granted_by"`
}

// TableName 自定义表名
func (RoleGrantModel) TableName() string {
	return "role_grant"
}
