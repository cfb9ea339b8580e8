// file: models/user.go
package models

import (
	"time"
)

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

// User 对应 users 表。user_id 是全系统使用的业务主键（字符串），
// name 用于生成对外 URL 里的 userSlug。
type User struct {
	ID           uint32     `gorm:"primarykey"`
	UserID       string     `gorm:"column:user_id;size:255;uniqueIndex;not null"`
	Name         string     `gorm:"size:255"`
	Role         UserRole   `gorm:"size:20;default:'user'"`
	PasswordHash string     `gorm:"column:password_hash;size:255;not null"`
	IPAddress    string     `gorm:"column:ip_address;size:255"`
	LastActivity *time.Time `gorm:"column:last_activity"`
	CreatedAt    time.Time  `gorm:"default:CURRENT_TIMESTAMP"`
}

func (User) TableName() string {
	return "users"
}
