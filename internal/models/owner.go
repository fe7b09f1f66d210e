package models

// Owner 餐厅租户模型 - 贫血模型，只包含数据结构
type Owner struct {
	BaseModel
	Name       string `json:"name" gorm:"not null;size:100"`
	Code       string `json:"code" gorm:"unique;not null;size:50;index"`
	Status     string `json:"status" gorm:"default:'active';size:20"`
	TableCount int    `json:"table_count" gorm:"-"` // 餐桌数量，不存储在数据库中
}

// TableName 表名
func (o *Owner) TableName() string {
	return "owners"
}

// 餐厅状态常量
const (
	OwnerStatusActive   = "active"
	OwnerStatusInactive = "inactive"
)
