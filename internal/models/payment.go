package models

import "time"

// 支付方式常量
const (
	PaymentMethodCash    = "cash"
	PaymentMethodCard    = "card"
	PaymentMethodDigital = "digital"
	PaymentMethodVoucher = "voucher"
)

// Payment 收银流水
//
// 作废不删除记录，IsVoided 标记保留审计痕迹。
type Payment struct {
	BaseModel
	OrderID       uint       `json:"order_id" gorm:"not null;index"`
	Order         Order      `json:"-" gorm:"foreignKey:OrderID"`
	Amount        float64    `json:"amount" gorm:"type:decimal(10,2);not null"`
	Method        string     `json:"method" gorm:"not null;size:20"`
	ProcessedByID uint       `json:"processed_by_id" gorm:"not null"`
	Reference     string     `json:"reference" gorm:"size:50"`
	Notes         string     `json:"notes" gorm:"type:text"`
	IsVoided      bool       `json:"is_voided" gorm:"default:false"`
	VoidedByID    *uint      `json:"voided_by_id"`
	VoidReason    string     `json:"void_reason" gorm:"type:text"`
	VoidedAt      *time.Time `json:"voided_at"`
}

// TableName 表名
func (p *Payment) TableName() string {
	return "payments"
}
