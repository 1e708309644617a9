package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

type UserStatus string

const (
	UserActive UserStatus = "ACTIVE"
	UserFrozen UserStatus = "FROZEN"
)

func (s UserStatus) Valid() bool {
	return s == UserActive || s == UserFrozen
}

// 用户表：链下余额以 wei 记账，永不物理删除
type User struct {
	ID        string     `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	Email     string     `gorm:"column:email;type:varchar(255);uniqueIndex;not null" json:"email"`
	Password  string     `gorm:"column:password;type:varchar(255);not null" json:"-"`
	Role      Role       `gorm:"column:role;type:varchar(16);not null;default:user" json:"role"`
	Status    UserStatus `gorm:"column:status;type:varchar(16);not null;default:ACTIVE" json:"status"`
	Balance   Wei        `gorm:"column:balance;not null;default:0" json:"balance"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (User) TableName() string { return "users" }

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	if u.Status == "" {
		u.Status = UserActive
	}
	return nil
}

// 出金白名单：与链上 PolicyGuard 的 setUserWL 保持一致
type WithdrawalWhitelist struct {
	ID        string    `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	UserID    string    `gorm:"column:user_id;type:varchar(36);not null;uniqueIndex:idx_wl_user_to" json:"user_id"`
	ToAddress string    `gorm:"column:to_address;type:varchar(42);not null;uniqueIndex:idx_wl_user_to" json:"to_address"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (WithdrawalWhitelist) TableName() string { return "withdrawal_whitelist" }

func (w *WithdrawalWhitelist) BeforeCreate(*gorm.DB) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	return nil
}
