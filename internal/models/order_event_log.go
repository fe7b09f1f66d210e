package models

import "gorm.io/datatypes"

// OrderEventLog 订单事件审计日志
//
// 广播本身不落盘，这里只记录已接受的状态变更，供报表和事故排查使用。
type OrderEventLog struct {
	BaseModel
	OrderID uint           `json:"order_id" gorm:"not null;index"`
	OwnerID uint           `json:"owner_id" gorm:"not null;index"`
	Kind    string         `json:"kind" gorm:"not null;size:30"`
	Payload datatypes.JSON `json:"payload"`
}

// TableName 表名
func (l *OrderEventLog) TableName() string {
	return "order_event_logs"
}
