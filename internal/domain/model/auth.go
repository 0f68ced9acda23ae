package model

import (
	"time"
)

// User 用户实体（由上层系统维护，核心只做只读解析）
type User struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenant_id"`
	Name     string   `json:"name"`
	Active   bool     `json:"active"`
	GroupIDs []string `json:"group_ids,omitempty"`
}

// HasAnyGroup 判断用户是否属于给定组中的任意一个
func (u *User) HasAnyGroup(groupIDs []string) bool {
	if len(groupIDs) == 0 {
		return false
	}
	for _, g := range u.GroupIDs {
		for _, other := range groupIDs {
			if g == other {
				return true
			}
		}
	}
	return false
}

// AuthorizationMethod 授权标识到用户的映射
// Identifier 即站点上报的 idTag 值。
type AuthorizationMethod struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	Identifier string    `json:"identifier"`
	UserID     string    `json:"user_id"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}
