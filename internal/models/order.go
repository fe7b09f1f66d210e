package models

import (
	"time"
)

// 订单状态常量
const (
	OrderStatusPending   = "pending"
	OrderStatusConfirmed = "confirmed"
	OrderStatusPreparing = "preparing"
	OrderStatusReady     = "ready"
	OrderStatusServed    = "served"

	// 取消类终态，任何非终态都可以进入，进入后不再流转
	OrderStatusCancelled       = "cancelled"
	OrderStatusCustomerRefused = "customer_refused"
	OrderStatusKitchenError    = "kitchen_error"
	OrderStatusQualityIssue    = "quality_issue"
	OrderStatusWasted          = "wasted"
)

// 支付状态常量
const (
	PaymentStatusUnpaid  = "unpaid"
	PaymentStatusPartial = "partial"
	PaymentStatusPaid    = "paid"
)

// terminalStatuses 取消类终态集合
var terminalStatuses = map[string]bool{
	OrderStatusCancelled:       true,
	OrderStatusCustomerRefused: true,
	OrderStatusKitchenError:    true,
	OrderStatusQualityIssue:    true,
	OrderStatusWasted:          true,
}

// IsTerminalStatus 判断是否为取消类终态
func IsTerminalStatus(status string) bool {
	return terminalStatuses[status]
}

// Order 订单模型
//
// 订单是餐桌占用的权威事实来源，归属永远走 order -> table -> owner，
// 不从下单顾客推导。订单不做物理删除，终态订单保留用于审计。
type Order struct {
	BaseModel
	OrderNo             string      `json:"order_no" gorm:"unique;not null;size:20;index"`
	TableID             uint        `json:"table_id" gorm:"not null;index"`
	Table               Table       `json:"table" gorm:"foreignKey:TableID"`
	Status              string      `json:"status" gorm:"not null;default:'pending';size:20;index"`
	PaymentStatus       string      `json:"payment_status" gorm:"not null;default:'unpaid';size:20"`
	TotalAmount         float64     `json:"total_amount" gorm:"type:decimal(10,2);not null;default:0"`
	SpecialInstructions string      `json:"special_instructions" gorm:"type:text"`
	CancelReason        string      `json:"cancel_reason" gorm:"type:text"`
	IdempotencyKey      string      `json:"idempotency_key" gorm:"size:64;index:idx_table_idem"`
	PlacedByID          uint        `json:"placed_by_id" gorm:"not null;index"`
	PlacedBy            User        `json:"-" gorm:"foreignKey:PlacedByID"`
	ConfirmedByID       *uint       `json:"confirmed_by_id"`
	LastTransitionAt    time.Time   `json:"last_transition_at" gorm:"not null"`
	Items               []OrderItem `json:"items" gorm:"foreignKey:OrderID"`
}

// TableName 表名
func (o *Order) TableName() string {
	return "orders"
}

// IsOccupying 占用谓词：订单当前是否占用餐桌
//
// 活跃（非取消终态）且未结清的订单占用餐桌。
func (o *Order) IsOccupying() bool {
	return !IsTerminalStatus(o.Status) && o.PaymentStatus != PaymentStatusPaid
}

// CalculateTotal 按快照单价汇总订单金额
func (o *Order) CalculateTotal() float64 {
	var total float64
	for _, item := range o.Items {
		total += item.Subtotal()
	}
	return total
}
