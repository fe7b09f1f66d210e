package models

// Table 餐桌模型
//
// OccupyingOrderID 是派生缓存：权威事实是活跃订单集合（见 Order.IsOccupying）。
// 写路径由 TableService 的桌级互斥保护，对账任务负责修复漂移。
type Table struct {
	BaseModel
	OwnerID          uint   `json:"owner_id" gorm:"not null;index;uniqueIndex:idx_owner_label"`
	Owner            Owner  `json:"-" gorm:"foreignKey:OwnerID"`
	Label            string `json:"label" gorm:"not null;size:10;uniqueIndex:idx_owner_label"`
	Capacity         int    `json:"capacity" gorm:"default:4"`
	OccupyingOrderID *uint  `json:"occupying_order_id" gorm:"index"`
}

// TableName 表名
func (t *Table) TableName() string {
	return "tables"
}

// IsAvailable 餐桌当前是否空闲
func (t *Table) IsAvailable() bool {
	return t.OccupyingOrderID == nil
}
