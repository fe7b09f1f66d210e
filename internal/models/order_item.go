package models

// OrderItem 订单明细
//
// UnitPrice 在下单时快照，后续菜单调价不影响已下订单。
type OrderItem struct {
	BaseModel
	OrderID     uint    `json:"order_id" gorm:"not null;index"`
	ProductRef  string  `json:"product_ref" gorm:"not null;size:50"`
	ProductName string  `json:"product_name" gorm:"not null;size:200"`
	Quantity    int     `json:"quantity" gorm:"not null;default:1"`
	UnitPrice   float64 `json:"unit_price" gorm:"type:decimal(10,2);not null"`
	Notes       string  `json:"notes" gorm:"type:text"`
}

// TableName 表名
func (i *OrderItem) TableName() string {
	return "order_items"
}

// Subtotal 明细小计
func (i *OrderItem) Subtotal() float64 {
	return float64(i.Quantity) * i.UnitPrice
}
