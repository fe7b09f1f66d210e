package client

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// StagedItem 离线暂存的订单明细
type StagedItem struct {
	ProductRef  string  `json:"product_ref"`
	ProductName string  `json:"product_name"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	Notes       string  `json:"notes"`
}

// StagedOrder 离线暂存的待提交订单
//
// 幂等键在入队时生成并固定，重放时原样提交，
// 服务端据此识别重复提交。
type StagedOrder struct {
	IdempotencyKey      string       `json:"idempotency_key"`
	TableID             uint         `json:"table_id"`
	SpecialInstructions string       `json:"special_instructions"`
	Items               []StagedItem `json:"items"`
	StagedAt            time.Time    `json:"staged_at"`
}

// IntakeQueue 离线下单暂存队列
//
// 断网期间点单先入队，连接恢复后按入队顺序逐条重放。
type IntakeQueue struct {
	mu      sync.Mutex
	pending []StagedOrder
}

// NewIntakeQueue 创建暂存队列
func NewIntakeQueue() *IntakeQueue {
	return &IntakeQueue{}
}

// Stage 暂存一笔订单并分配幂等键
func (q *IntakeQueue) Stage(tableID uint, instructions string, items []StagedItem) StagedOrder {
	order := StagedOrder{
		IdempotencyKey:      uuid.New().String(),
		TableID:             tableID,
		SpecialInstructions: instructions,
		Items:               items,
		StagedAt:            time.Now(),
	}

	q.mu.Lock()
	q.pending = append(q.pending, order)
	q.mu.Unlock()
	return order
}

// Len 当前暂存数量
func (q *IntakeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Pending 暂存快照（拷贝）
func (q *IntakeQueue) Pending() []StagedOrder {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]StagedOrder, len(q.pending))
	copy(out, q.pending)
	return out
}

// Replay 按入队顺序逐条提交
//
// 提交成功的出队；遇到第一个失败立即停止，失败及之后的
// 继续留在队列中等待下次重放。返回成功条数和中断错误。
func (q *IntakeQueue) Replay(submit func(StagedOrder) error) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	replayed := 0
	for len(q.pending) > 0 {
		if err := submit(q.pending[0]); err != nil {
			return replayed, err
		}
		q.pending = q.pending[1:]
		replayed++
	}
	return replayed, nil
}
