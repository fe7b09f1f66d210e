package models

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// 角色常量
const (
	RoleAdministrator = "administrator" // 平台管理员，跨餐厅
	RoleOwner         = "owner"         // 餐厅老板
	RoleKitchen       = "kitchen"       // 后厨
	RoleCashier       = "cashier"       // 收银
	RoleCustomer      = "customer"      // 顾客，全平台通用身份，不属于任何餐厅
)

// User 用户模型
//
// OwnerID 只对餐厅员工（owner/kitchen/cashier）有值。
// 顾客是平台级身份，OwnerID 恒为 nil——任何按顾客推导餐厅归属的查询都是错误的。
type User struct {
	BaseModel
	Username        string     `json:"username" gorm:"unique;not null;size:50;index"`
	PasswordHash    string     `json:"-" gorm:"not null;size:255"`
	Name            string     `json:"name" gorm:"size:100"`
	Phone           *string    `json:"phone" gorm:"size:20"`
	Role            string     `json:"role" gorm:"not null;size:20;index"`
	OwnerID         *uint      `json:"owner_id" gorm:"index"`
	Owner           *Owner     `json:"owner,omitempty" gorm:"foreignKey:OwnerID"`
	Status          string     `json:"status" gorm:"default:'active';size:20"`
	IsPlatformAdmin bool       `json:"is_platform_admin" gorm:"default:false"`
	LastLoginAt     *time.Time `json:"last_login_at"`
}

// TableName 表名
func (u *User) TableName() string {
	return "users"
}

// 用户状态常量
const (
	UserStatusActive   = "active"
	UserStatusInactive = "inactive"
)

// SetPassword 设置密码 - 数据操作方法
func (u *User) SetPassword(password string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hashedPassword)
	return nil
}

// CheckPassword 验证密码 - 数据操作方法
func (u *User) CheckPassword(password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
	return err == nil
}

// IsStaffOf 判断是否为指定餐厅的员工
func (u *User) IsStaffOf(ownerID uint) bool {
	return u.OwnerID != nil && *u.OwnerID == ownerID
}
