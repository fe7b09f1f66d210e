package client

import (
	"encoding/json"
	"sync"
	"time"

	"dinehub/internal/broker"
)

// OrderView 客户端侧的订单状态投影
type OrderView struct {
	OrderID          uint      `json:"order_id"`
	OrderNo          string    `json:"order_no"`
	TableID          uint      `json:"table_id"`
	Status           string    `json:"status"`
	PaymentStatus    string    `json:"payment_status"`
	TotalAmount      float64   `json:"total_amount"`
	LastTransitionAt time.Time `json:"last_transition_at"`
}

// OrderTracker 把事件流折叠成各订单的最新状态
//
// 事件可能重复投递或乱序到达（重连后刷新与推送交错），
// 以last_transition_at判定新旧：不比当前投影新的一律丢弃，
// 重复应用同一事件不改变结果。
type OrderTracker struct {
	mu     sync.RWMutex
	orders map[uint]OrderView
}

// NewOrderTracker 创建跟踪器
func NewOrderTracker() *OrderTracker {
	return &OrderTracker{orders: make(map[uint]OrderView)}
}

// Apply 应用一条事件，返回投影是否更新
func (t *OrderTracker) Apply(evt broker.Event) bool {
	var view OrderView
	raw, err := json.Marshal(evt.Payload)
	if err != nil {
		return false
	}
	if err := json.Unmarshal(raw, &view); err != nil {
		return false
	}
	if view.OrderID == 0 {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	current, ok := t.orders[view.OrderID]
	if ok && !view.LastTransitionAt.After(current.LastTransitionAt) {
		return false
	}
	t.orders[view.OrderID] = view
	return true
}

// Get 查询某订单的当前投影
func (t *OrderTracker) Get(orderID uint) (OrderView, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	view, ok := t.orders[orderID]
	return view, ok
}

// Snapshot 全部投影的拷贝
func (t *OrderTracker) Snapshot() map[uint]OrderView {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[uint]OrderView, len(t.orders))
	for id, view := range t.orders {
		out[id] = view
	}
	return out
}
